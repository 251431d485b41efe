package domain

import "time"

// ConversationModel is the GORM model for the conversations table. The folded
// name columns back the case and accent insensitive counterpart filter.
type ConversationModel struct {
	ID                     string    `gorm:"type:varchar(36);primaryKey"`
	PlayerID               string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_conversations_player_area,priority:1"`
	PlayerName             string    `gorm:"type:varchar(120);not null"`
	PlayerNameFolded       string    `gorm:"type:varchar(120);not null"`
	ProfessionalID         *string   `gorm:"type:varchar(64);index"`
	ProfessionalName       string    `gorm:"type:varchar(120);not null"`
	ProfessionalNameFolded string    `gorm:"type:varchar(120);not null"`
	Area                   string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_conversations_player_area,priority:2"`
	LastMessageAt          time.Time `gorm:"not null;index"`
	CreatedAt              time.Time `gorm:"not null"`
}

func (ConversationModel) TableName() string {
	return "conversations"
}

// ToDomain converts ConversationModel to domain Conversation.
func (m *ConversationModel) ToDomain() *Conversation {
	var professionalID *string
	if m.ProfessionalID != nil {
		id := *m.ProfessionalID
		professionalID = &id
	}
	return &Conversation{
		ID:               m.ID,
		PlayerID:         m.PlayerID,
		PlayerName:       m.PlayerName,
		ProfessionalID:   professionalID,
		ProfessionalName: m.ProfessionalName,
		Area:             m.Area,
		LastMessageAt:    m.LastMessageAt.UTC(),
		CreatedAt:        m.CreatedAt.UTC(),
	}
}

// ConversationToModel converts domain Conversation to ConversationModel.
func ConversationToModel(c *Conversation) *ConversationModel {
	return &ConversationModel{
		ID:                     c.ID,
		PlayerID:               c.PlayerID,
		PlayerName:             c.PlayerName,
		PlayerNameFolded:       FoldName(c.PlayerName),
		ProfessionalID:         c.ProfessionalID,
		ProfessionalName:       c.ProfessionalName,
		ProfessionalNameFolded: FoldName(c.ProfessionalName),
		Area:                   c.Area,
		LastMessageAt:          c.LastMessageAt,
		CreatedAt:              c.CreatedAt,
	}
}

// MessageModel is the GORM model for the messages table.
type MessageModel struct {
	ID             string    `gorm:"type:varchar(36);primaryKey"`
	ConversationID string    `gorm:"type:varchar(36);not null;index:idx_messages_conversation_created,priority:1"`
	SenderClass    string    `gorm:"type:varchar(20);not null"`
	SenderID       string    `gorm:"type:varchar(64);not null"`
	Content        string    `gorm:"type:text;not null"`
	Read           bool      `gorm:"column:is_read;not null"`
	CreatedAt      time.Time `gorm:"not null;index:idx_messages_conversation_created,priority:2"`
}

func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts MessageModel to domain Message.
func (m *MessageModel) ToDomain() *Message {
	return &Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderClass:    SenderClass(m.SenderClass),
		SenderID:       m.SenderID,
		Content:        m.Content,
		Read:           m.Read,
		CreatedAt:      m.CreatedAt.UTC(),
	}
}

// MessageToModel converts domain Message to MessageModel.
func MessageToModel(msg *Message) *MessageModel {
	return &MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderClass:    string(msg.SenderClass),
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		Read:           msg.Read,
		CreatedAt:      msg.CreatedAt,
	}
}
