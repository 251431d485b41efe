package cassandra

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/weiawesome/club-chat/chat-archive-service/internal/domain"
)

// Schema creates the archive table. Rows are clustered newest first inside a
// conversation partition.
const Schema = `
	CREATE TABLE IF NOT EXISTS messages_by_conversation (
		conversation_id text,
		created_at timestamp,
		message_id text,
		sender_class text,
		sender_id text,
		content text,
		is_read boolean,
		archived_at timestamp,
		PRIMARY KEY ((conversation_id), created_at, message_id)
	) WITH CLUSTERING ORDER BY (created_at DESC, message_id DESC)`

// MessageRepository writes message rows to messages_by_conversation.
type MessageRepository struct {
	session *gocql.Session
	now     func() time.Time
}

func NewMessageRepository(client *Client) *MessageRepository {
	return &MessageRepository{
		session: client.Session(),
		now:     time.Now,
	}
}

// EnsureSchema creates the archive table when it does not exist yet.
func (r *MessageRepository) EnsureSchema(ctx context.Context) error {
	if err := r.session.Query(Schema).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to create archive table: %w", err)
	}
	return nil
}

// SaveInserted stores a new row. is_read is left alone so a late insert
// event cannot undo a read receipt that arrived first.
func (r *MessageRepository) SaveInserted(ctx context.Context, msg *domain.ArchivedMessage) error {
	query := `
		UPDATE messages_by_conversation
		SET sender_class = ?, sender_id = ?, content = ?, archived_at = ?
		WHERE conversation_id = ? AND created_at = ? AND message_id = ?`

	err := r.session.Query(query,
		msg.SenderClass,
		msg.SenderID,
		msg.Content,
		r.now().UTC(),
		msg.ConversationID,
		msg.CreatedAt,
		msg.ID,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to archive message: %w", err)
	}
	return nil
}

// MarkRead records a read receipt. The flag only ever moves to true.
func (r *MessageRepository) MarkRead(ctx context.Context, msg *domain.ArchivedMessage) error {
	if !msg.Read {
		return nil
	}

	query := `
		UPDATE messages_by_conversation
		SET is_read = true
		WHERE conversation_id = ? AND created_at = ? AND message_id = ?`

	err := r.session.Query(query, msg.ConversationID, msg.CreatedAt, msg.ID).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to archive read receipt: %w", err)
	}
	return nil
}
