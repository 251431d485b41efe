package service

import (
	"context"
	"errors"

	"github.com/weiawesome/club-chat/chat-service/internal/domain"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("not a participant of this conversation")
	ErrForbiddenClass       = errors.New("operation not allowed for this participant class")
	ErrInvalidContent       = errors.New("invalid message content")
	ErrInvalidArea          = errors.New("invalid area")
)

// ChatService is the conversation and message flow behind the HTTP and
// websocket surfaces.
type ChatService interface {
	CreateConversation(ctx context.Context, p domain.Participant, area string) (*domain.ConversationSummary, bool, error)
	ListConversations(ctx context.Context, p domain.Participant, page, pageSize int, filter string) (*domain.ConversationPage, error)
	GetConversation(ctx context.Context, p domain.Participant, conversationID string) (*domain.ConversationSummary, error)
	SendMessage(ctx context.Context, p domain.Participant, conversationID, content string) (*domain.Message, error)
	ListMessages(ctx context.Context, p domain.Participant, conversationID string, page, pageSize int) (*domain.MessagePage, error)
	MarkRead(ctx context.Context, p domain.Participant, conversationID string) (int, error)
	UnreadCount(ctx context.Context, p domain.Participant, conversationID string) (int, error)
	OpenConversation(ctx context.Context, p domain.Participant, conversationID string, pageSize int) (*domain.OpenConversationResult, error)
	// AuthorizeSubscription applies the same ownership check as the other
	// operations to a realtime feed subscription.
	AuthorizeSubscription(ctx context.Context, p domain.Participant, conversationID string) error
}
