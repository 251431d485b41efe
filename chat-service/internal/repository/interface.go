package repository

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/club-chat/chat-service/internal/domain"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
)

// ConversationRepository defines the interface for conversation persistence.
type ConversationRepository interface {
	// GetOrCreate returns the conversation for (conv.PlayerID, conv.Area),
	// inserting conv when none exists. created reports whether conv was inserted.
	GetOrCreate(ctx context.Context, conv *domain.Conversation) (result *domain.Conversation, created bool, err error)
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)
	ListForParticipant(ctx context.Context, p domain.Participant, page, pageSize int, filter string) ([]domain.Conversation, bool, error)
	// Touch moves last_message_at forward to at. A non-nil claim assigns an
	// unassigned conversation to that professional; claimed reports whether
	// this call made the assignment.
	Touch(ctx context.Context, id string, at time.Time, claim *domain.Participant) (claimed bool, err error)
}

// MessageRepository defines the interface for message persistence.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	// ListPage returns page (zero-based) of the newest-first ordering, plus
	// whether older messages exist.
	ListPage(ctx context.Context, conversationID string, page, pageSize int) ([]domain.Message, bool, error)
	// MarkRead flips every unread message authored by the reader's counterpart
	// and returns the rows it changed.
	MarkRead(ctx context.Context, conversationID string, reader domain.SenderClass) ([]domain.Message, error)
	CountUnread(ctx context.Context, conversationID string, reader domain.SenderClass) (int, error)
	CountUnreadBatch(ctx context.Context, conversationIDs []string, reader domain.SenderClass) (map[string]int, error)
}
