package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/club-chat/chat-service/internal/domain"
	"github.com/weiawesome/club-chat/pkg/log"
)

// GormConversationRepository implements ConversationRepository using GORM.
type GormConversationRepository struct {
	db *gorm.DB
}

// NewGormConversationRepository creates a new GORM-based conversation repository.
func NewGormConversationRepository(db *gorm.DB) *GormConversationRepository {
	return &GormConversationRepository{db: db}
}

// GetOrCreate inserts conv unless (player_id, area) is taken, then reads the row back.
func (r *GormConversationRepository) GetOrCreate(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, bool, error) {
	l := log.Ctx(ctx)

	model := domain.ConversationToModel(conv)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_id"}, {Name: "area"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldUserID, conv.PlayerID).Str(log.FieldArea, conv.Area).Msg("failed to insert conversation")
		return nil, false, result.Error
	}
	created := result.RowsAffected == 1

	var stored domain.ConversationModel
	if err := r.db.WithContext(ctx).
		Where("player_id = ? AND area = ?", conv.PlayerID, conv.Area).
		First(&stored).Error; err != nil {
		l.Error().Err(err).Str(log.FieldUserID, conv.PlayerID).Msg("failed to read back conversation")
		return nil, false, err
	}

	if created {
		l.Debug().Str(log.FieldConversationID, stored.ID).Msg("conversation created in db")
	}
	return stored.ToDomain(), created, nil
}

// GetByID retrieves a conversation by ID.
func (r *GormConversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	var model domain.ConversationModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Str(log.FieldConversationID, id).Msg("failed to get conversation by id")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// ListForParticipant lists the conversations p can see, most recently active first.
// filter matches a substring of the counterpart's display name, ignoring case and accents.
func (r *GormConversationRepository) ListForParticipant(ctx context.Context, p domain.Participant, page, pageSize int, filter string) ([]domain.Conversation, bool, error) {
	l := log.Ctx(ctx)

	if page < 0 {
		page = 0
	}
	if pageSize < 1 {
		pageSize = 20
	}

	query := r.db.WithContext(ctx).Model(&domain.ConversationModel{})
	counterpartColumn := "professional_name_folded"
	switch p.Class {
	case domain.SenderPlayer:
		query = query.Where("player_id = ?", p.ID)
	case domain.SenderProfessional:
		query = query.Where("(professional_id = ? OR (professional_id IS NULL AND area = ?))", p.ID, domain.NormalizeArea(p.Area))
		counterpartColumn = "player_name_folded"
	default:
		return nil, false, nil
	}

	if folded := domain.FoldName(filter); folded != "" {
		query = query.Where(counterpartColumn+" LIKE ? ESCAPE '!'", "%"+escapeLike(folded)+"%")
	}

	var models []domain.ConversationModel
	err := query.
		Order("last_message_at DESC").
		Order("created_at DESC").
		Order("id DESC").
		Offset(page * pageSize).
		Limit(pageSize + 1).
		Find(&models).Error
	if err != nil {
		l.Error().Err(err).Str(log.FieldUserID, p.ID).Msg("failed to list conversations from db")
		return nil, false, err
	}

	hasMore := len(models) > pageSize
	if hasMore {
		models = models[:pageSize]
	}

	convs := make([]domain.Conversation, len(models))
	for i := range models {
		convs[i] = *models[i].ToDomain()
	}
	return convs, hasMore, nil
}

// Touch bumps last_message_at and optionally claims the conversation.
func (r *GormConversationRepository) Touch(ctx context.Context, id string, at time.Time, claim *domain.Participant) (bool, error) {
	l := log.Ctx(ctx)

	result := r.db.WithContext(ctx).Model(&domain.ConversationModel{}).
		Where("id = ? AND last_message_at < ?", id, at).
		Update("last_message_at", at)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldConversationID, id).Msg("failed to touch conversation")
		return false, result.Error
	}

	if claim == nil || claim.Class != domain.SenderProfessional {
		return false, nil
	}

	result = r.db.WithContext(ctx).Model(&domain.ConversationModel{}).
		Where("id = ? AND professional_id IS NULL", id).
		Updates(map[string]interface{}{
			"professional_id":          claim.ID,
			"professional_name":        claim.DisplayName,
			"professional_name_folded": domain.FoldName(claim.DisplayName),
		})
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldConversationID, id).Msg("failed to assign conversation")
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	l.Debug().Str(log.FieldConversationID, id).Str(log.FieldUserID, claim.ID).Msg("conversation assigned to professional")
	return true, nil
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
