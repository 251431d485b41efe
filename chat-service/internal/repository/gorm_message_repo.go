package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/weiawesome/club-chat/chat-service/internal/domain"
	"github.com/weiawesome/club-chat/pkg/log"
)

// GormMessageRepository implements MessageRepository using GORM.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a new GORM-based message repository.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

// Create inserts a message row.
func (r *GormMessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	if err := r.db.WithContext(ctx).Create(domain.MessageToModel(msg)).Error; err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldConversationID, msg.ConversationID).Msg("failed to create message in db")
		return err
	}
	return nil
}

// ListPage returns newest-first messages. It fetches one extra row to learn
// whether an older page exists.
func (r *GormMessageRepository) ListPage(ctx context.Context, conversationID string, page, pageSize int) ([]domain.Message, bool, error) {
	if page < 0 {
		page = 0
	}
	if pageSize < 1 {
		pageSize = 20
	}

	var models []domain.MessageModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Order("id DESC").
		Offset(page * pageSize).
		Limit(pageSize + 1).
		Find(&models).Error
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldConversationID, conversationID).Msg("failed to list messages from db")
		return nil, false, err
	}

	hasMore := len(models) > pageSize
	if hasMore {
		models = models[:pageSize]
	}

	msgs := make([]domain.Message, len(models))
	for i := range models {
		msgs[i] = *models[i].ToDomain()
	}
	return msgs, hasMore, nil
}

// MarkRead flips the counterpart's unread messages in one transaction.
func (r *GormMessageRepository) MarkRead(ctx context.Context, conversationID string, reader domain.SenderClass) ([]domain.Message, error) {
	var flipped []domain.MessageModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("conversation_id = ? AND sender_class = ? AND is_read = ?", conversationID, string(reader.Counterpart()), false).
			Order("created_at ASC").
			Order("id ASC").
			Find(&flipped).Error; err != nil {
			return err
		}
		if len(flipped) == 0 {
			return nil
		}

		ids := make([]string, len(flipped))
		for i := range flipped {
			ids[i] = flipped[i].ID
		}
		return tx.Model(&domain.MessageModel{}).
			Where("id IN ? AND is_read = ?", ids, false).
			Update("is_read", true).Error
	})
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldConversationID, conversationID).Msg("failed to mark messages read")
		return nil, err
	}

	msgs := make([]domain.Message, len(flipped))
	for i := range flipped {
		msgs[i] = *flipped[i].ToDomain()
		msgs[i].Read = true
	}
	return msgs, nil
}

// CountUnread counts the counterpart's unread messages.
func (r *GormMessageRepository) CountUnread(ctx context.Context, conversationID string, reader domain.SenderClass) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("conversation_id = ? AND sender_class = ? AND is_read = ?", conversationID, string(reader.Counterpart()), false).
		Count(&count).Error
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldConversationID, conversationID).Msg("failed to count unread messages")
		return 0, err
	}
	return int(count), nil
}

// CountUnreadBatch counts unread messages for several conversations at once.
// Conversations without unread messages are absent from the result.
func (r *GormMessageRepository) CountUnreadBatch(ctx context.Context, conversationIDs []string, reader domain.SenderClass) (map[string]int, error) {
	counts := make(map[string]int, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		ConversationID string
		Unread         int64
	}
	err := r.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Select("conversation_id, COUNT(*) AS unread").
		Where("conversation_id IN ? AND sender_class = ? AND is_read = ?", conversationIDs, string(reader.Counterpart()), false).
		Group("conversation_id").
		Scan(&rows).Error
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Int("conversations", len(conversationIDs)).Msg("failed to count unread messages")
		return nil, err
	}

	for _, row := range rows {
		counts[row.ConversationID] = int(row.Unread)
	}
	return counts, nil
}
