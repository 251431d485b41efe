package domain

import (
	"strings"
	"time"
)

// SenderClass is the role tag on a message: the initiating player or the
// responding professional.
type SenderClass string

const (
	SenderPlayer       SenderClass = "player"
	SenderProfessional SenderClass = "professional"
)

// Valid reports whether c is one of the two known classes.
func (c SenderClass) Valid() bool {
	return c == SenderPlayer || c == SenderProfessional
}

// Counterpart returns the other side of a conversation.
func (c SenderClass) Counterpart() SenderClass {
	if c == SenderPlayer {
		return SenderProfessional
	}
	return SenderPlayer
}

// Participant is an authenticated caller. Area only matters for professionals.
type Participant struct {
	ID          string      `json:"id"`
	Class       SenderClass `json:"class"`
	DisplayName string      `json:"display_name"`
	Area        string      `json:"area,omitempty"`
}

// NormalizeArea is the stored form of an area: trimmed and lower-cased.
func NormalizeArea(area string) string {
	return strings.ToLower(strings.TrimSpace(area))
}

// Conversation pairs one player with a professional for an area.
type Conversation struct {
	ID               string    `json:"id"`
	PlayerID         string    `json:"player_id"`
	PlayerName       string    `json:"player_name"`
	ProfessionalID   *string   `json:"professional_id,omitempty"`
	ProfessionalName string    `json:"professional_name,omitempty"`
	Area             string    `json:"area"`
	LastMessageAt    time.Time `json:"last_message_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// CounterpartName is the display name of the side opposite to class.
func (c *Conversation) CounterpartName(class SenderClass) string {
	if class == SenderPlayer {
		return c.ProfessionalName
	}
	return c.PlayerName
}

// Assigned reports whether a professional has taken the conversation.
func (c *Conversation) Assigned() bool {
	return c.ProfessionalID != nil && *c.ProfessionalID != ""
}

// Allows reports whether p may read or write the conversation. Players own
// their conversations; professionals see the ones assigned to them and the
// unassigned ones in their area.
func (c *Conversation) Allows(p Participant) bool {
	switch p.Class {
	case SenderPlayer:
		return c.PlayerID == p.ID
	case SenderProfessional:
		if c.Assigned() {
			return *c.ProfessionalID == p.ID
		}
		area := NormalizeArea(p.Area)
		return area != "" && c.Area == area
	default:
		return false
	}
}

// Claim announces that a professional took an unassigned conversation.
type Claim struct {
	ConversationID string `json:"conversation_id"`
	ProfessionalID string `json:"professional_id"`
}

// Message is one entry in a conversation. Only Read ever changes after insert,
// and only from false to true.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderClass    SenderClass `json:"sender_class"`
	SenderID       string      `json:"sender_id"`
	Content        string      `json:"content"`
	Read           bool        `json:"read"`
	CreatedAt      time.Time   `json:"created_at"`
}
