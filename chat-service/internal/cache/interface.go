package cache

import (
	"context"

	"github.com/weiawesome/club-chat/chat-service/internal/domain"
)

// UnreadCache caches the derived unread count per (conversation, reader class).
//
// Fills are versioned: read Version before counting and pass it to Set. Set
// refuses the write when Invalidate ran in between, so a count taken before a
// mark-read can never be cached after it.
type UnreadCache interface {
	Get(ctx context.Context, conversationID string, reader domain.SenderClass) (int, error)
	Version(ctx context.Context, conversationID string) (int64, error)
	// Set stores count when the conversation is still at version and reports
	// whether it did.
	Set(ctx context.Context, conversationID string, reader domain.SenderClass, count int, version int64) (bool, error)
	// Invalidate drops the cached counts of both participants and bumps the version.
	Invalidate(ctx context.Context, conversationID string) error
}
