package domain

import "time"

// ArchivedMessage is a message row as carried by the chat-messages topic.
type ArchivedMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderClass    string    `json:"sender_class"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate reports whether the row carries the keys the archive table needs.
func (m *ArchivedMessage) Validate() error {
	switch {
	case m.ID == "":
		return ErrMissingMessageID
	case m.ConversationID == "":
		return ErrMissingConversationID
	case m.CreatedAt.IsZero():
		return ErrMissingCreatedAt
	}
	return nil
}
