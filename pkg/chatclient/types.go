package chatclient

import (
	"encoding/json"
	"time"
)

// SenderClass tags which side of a conversation wrote a message.
type SenderClass string

const (
	SenderPlayer       SenderClass = "player"
	SenderProfessional SenderClass = "professional"
)

// Message is a stored message row.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderClass    SenderClass `json:"sender_class"`
	SenderID       string      `json:"sender_id"`
	Content        string      `json:"content"`
	Read           bool        `json:"read"`
	CreatedAt      time.Time   `json:"created_at"`
}

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

type ConversationSummary struct {
	Conversation
	CounterpartName string `json:"counterpart_name"`
	UnreadCount     int    `json:"unread_count"`
}

type ConversationPage struct {
	Conversations []ConversationSummary `json:"conversations"`
	Page          int                   `json:"page"`
	PageSize      int                   `json:"page_size"`
	HasMore       bool                  `json:"has_more"`
}

// MessagePage holds messages in chronological order.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
	HasMore  bool      `json:"has_more"`
}

type OpenResult struct {
	Conversation ConversationSummary `json:"conversation"`
	Messages     MessagePage         `json:"messages"`
	MarkedRead   int                 `json:"marked_read"`
}

// Push event kinds.
const (
	EventInserted = "message.inserted"
	EventUpdated  = "message.updated"
	// EventGap precedes the first event delivered after some were dropped
	// because the subscriber fell behind. It carries no message.
	EventGap = "feed.gap"
)

// Event is one row change pushed for a subscribed conversation.
type Event struct {
	Type           string
	ConversationID string
	Message        Message
}

// frame is any server websocket frame. Message is a row for events and a
// text for errors, so it is decoded after looking at Type.
type frame struct {
	Type           string          `json:"type"`
	EventType      string          `json:"event_type,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	SenderClass    SenderClass     `json:"sender_class,omitempty"`
	Success        bool            `json:"success,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	Class          SenderClass     `json:"class,omitempty"`
	Code           string          `json:"code,omitempty"`
	Token          string          `json:"token,omitempty"`
	Message        json.RawMessage `json:"message,omitempty"`
}
