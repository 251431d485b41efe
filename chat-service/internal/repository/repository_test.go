package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/weiawesome/club-chat/chat-service/internal/domain"
	"github.com/weiawesome/club-chat/pkg/database"
)

var (
	player = domain.Participant{ID: "player-1", Class: domain.SenderPlayer, DisplayName: "Juan Pérez"}
	pro    = domain.Participant{ID: "pro-1", Class: domain.SenderProfessional, DisplayName: "Ana Gómez", Area: "medical"}
	base   = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.New(&database.Config{Driver: "sqlite", FilePath: ":memory:", LogLevel: "silent", MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, &domain.ConversationModel{}, &domain.MessageModel{}))
	t.Cleanup(func() { database.Close(db) })
	return db
}

func newConversation(id string, p domain.Participant, area string, at time.Time) *domain.Conversation {
	return &domain.Conversation{
		ID:            id,
		PlayerID:      p.ID,
		PlayerName:    p.DisplayName,
		Area:          area,
		LastMessageAt: at,
		CreatedAt:     at,
	}
}

func seedMessage(t *testing.T, repo *GormMessageRepository, convID string, class domain.SenderClass, n int, at time.Time) *domain.Message {
	t.Helper()
	msg := &domain.Message{
		ID:             fmt.Sprintf("%s-m%03d", convID, n),
		ConversationID: convID,
		SenderClass:    class,
		SenderID:       string(class) + "-id",
		Content:        fmt.Sprintf("message %d", n),
		CreatedAt:      at,
	}
	require.NoError(t, repo.Create(context.Background(), msg))
	return msg
}

func TestConversation_GetOrCreateIsIdempotent(t *testing.T) {
	repo := NewGormConversationRepository(newTestDB(t))
	ctx := context.Background()

	first, created, err := repo.GetOrCreate(ctx, newConversation("c1", player, "medical", base))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "c1", first.ID)

	second, created, err := repo.GetOrCreate(ctx, newConversation("c2", player, "medical", base.Add(time.Minute)))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "c1", second.ID)

	other, created, err := repo.GetOrCreate(ctx, newConversation("c3", player, "physio", base))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "c3", other.ID)
}

func TestConversation_GetByIDNotFound(t *testing.T) {
	repo := NewGormConversationRepository(newTestDB(t))

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestConversation_ListOrderAndPaging(t *testing.T) {
	repo := NewGormConversationRepository(newTestDB(t))
	ctx := context.Background()

	areas := []string{"a", "b", "c", "d"}
	for i, area := range areas {
		_, _, err := repo.GetOrCreate(ctx, newConversation("c-"+area, player, area, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	// Activity on the oldest conversation moves it to the top.
	_, err := repo.Touch(ctx, "c-a", base.Add(time.Hour), nil)
	require.NoError(t, err)

	page0, more, err := repo.ListForParticipant(ctx, player, 0, 2, "")
	require.NoError(t, err)
	assert.True(t, more)
	require.Len(t, page0, 2)
	assert.Equal(t, "c-a", page0[0].ID)
	assert.Equal(t, "c-d", page0[1].ID)

	page1, more, err := repo.ListForParticipant(ctx, player, 1, 2, "")
	require.NoError(t, err)
	assert.False(t, more, "exactly full last page must not report more")
	require.Len(t, page1, 2)
	assert.Equal(t, "c-c", page1[0].ID)
	assert.Equal(t, "c-b", page1[1].ID)

	page2, more, err := repo.ListForParticipant(ctx, player, 2, 2, "")
	require.NoError(t, err)
	assert.False(t, more)
	assert.Empty(t, page2)
}

func TestConversation_ListFilterByCounterpartName(t *testing.T) {
	repo := NewGormConversationRepository(newTestDB(t))
	ctx := context.Background()

	juan := domain.Participant{ID: "p-juan", Class: domain.SenderPlayer, DisplayName: "Juan Pérez"}
	ana := domain.Participant{ID: "p-ana", Class: domain.SenderPlayer, DisplayName: "Ana Gómez"}
	_, _, err := repo.GetOrCreate(ctx, newConversation("c-juan", juan, "medical", base))
	require.NoError(t, err)
	_, _, err = repo.GetOrCreate(ctx, newConversation("c-ana", ana, "medical", base))
	require.NoError(t, err)

	got, _, err := repo.ListForParticipant(ctx, pro, 0, 10, "perez")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c-juan", got[0].ID)

	got, _, err = repo.ListForParticipant(ctx, pro, 0, 10, "GÓM")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c-ana", got[0].ID)

	got, _, err = repo.ListForParticipant(ctx, pro, 0, 10, "%")
	require.NoError(t, err)
	assert.Empty(t, got, "wildcards in the filter are literal")
}

func TestConversation_ProfessionalVisibilityAndClaim(t *testing.T) {
	repo := NewGormConversationRepository(newTestDB(t))
	ctx := context.Background()

	_, _, err := repo.GetOrCreate(ctx, newConversation("c-med", player, "medical", base))
	require.NoError(t, err)
	_, _, err = repo.GetOrCreate(ctx, newConversation("c-phy", player, "physio", base))
	require.NoError(t, err)

	got, _, err := repo.ListForParticipant(ctx, pro, 0, 10, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c-med", got[0].ID)

	claimed, err := repo.Touch(ctx, "c-med", base.Add(time.Minute), &pro)
	require.NoError(t, err)
	assert.True(t, claimed)
	other := domain.Participant{ID: "pro-2", Class: domain.SenderProfessional, DisplayName: "Luis", Area: "medical"}
	claimed, err = repo.Touch(ctx, "c-med", base.Add(2*time.Minute), &other)
	require.NoError(t, err)
	assert.False(t, claimed, "an assigned conversation cannot be claimed again")

	conv, err := repo.GetByID(ctx, "c-med")
	require.NoError(t, err)
	require.NotNil(t, conv.ProfessionalID)
	assert.Equal(t, "pro-1", *conv.ProfessionalID, "first responder keeps the conversation")
	assert.Equal(t, "Ana Gómez", conv.ProfessionalName)
	assert.True(t, conv.LastMessageAt.Equal(base.Add(2*time.Minute)))

	got, _, err = repo.ListForParticipant(ctx, other, 0, 10, "")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, _, err = repo.ListForParticipant(ctx, player, 0, 10, "ana")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c-med", got[0].ID)
}

func TestConversation_TouchNeverMovesBackwards(t *testing.T) {
	repo := NewGormConversationRepository(newTestDB(t))
	ctx := context.Background()

	_, _, err := repo.GetOrCreate(ctx, newConversation("c1", player, "medical", base))
	require.NoError(t, err)

	_, err = repo.Touch(ctx, "c1", base.Add(time.Hour), nil)
	require.NoError(t, err)
	_, err = repo.Touch(ctx, "c1", base.Add(time.Minute), nil)
	require.NoError(t, err)

	conv, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, conv.LastMessageAt.Equal(base.Add(time.Hour)))
}

func TestMessage_ListPageNewestFirst(t *testing.T) {
	repo := NewGormMessageRepository(newTestDB(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		seedMessage(t, repo, "c1", domain.SenderPlayer, i, base.Add(time.Duration(i)*time.Second))
	}
	seedMessage(t, repo, "c2", domain.SenderPlayer, 0, base)

	page0, more, err := repo.ListPage(ctx, "c1", 0, 2)
	require.NoError(t, err)
	assert.True(t, more)
	require.Len(t, page0, 2)
	assert.Equal(t, "c1-m004", page0[0].ID)
	assert.Equal(t, "c1-m003", page0[1].ID)

	page2, more, err := repo.ListPage(ctx, "c1", 2, 2)
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, page2, 1)
	assert.Equal(t, "c1-m000", page2[0].ID)
}

func TestMessage_SameTimestampOrderedByID(t *testing.T) {
	repo := NewGormMessageRepository(newTestDB(t))

	seedMessage(t, repo, "c1", domain.SenderPlayer, 1, base)
	seedMessage(t, repo, "c1", domain.SenderPlayer, 2, base)

	got, _, err := repo.ListPage(context.Background(), "c1", 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c1-m002", got[0].ID)
}

func TestMessage_MarkReadOnlyCounterpart(t *testing.T) {
	repo := NewGormMessageRepository(newTestDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seedMessage(t, repo, "c1", domain.SenderProfessional, i, base.Add(time.Duration(i)*time.Second))
	}
	seedMessage(t, repo, "c1", domain.SenderPlayer, 9, base.Add(time.Minute))

	n, err := repo.CountUnread(ctx, "c1", domain.SenderPlayer)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	flipped, err := repo.MarkRead(ctx, "c1", domain.SenderPlayer)
	require.NoError(t, err)
	require.Len(t, flipped, 3)
	for _, m := range flipped {
		assert.True(t, m.Read)
		assert.Equal(t, domain.SenderProfessional, m.SenderClass)
	}

	n, err = repo.CountUnread(ctx, "c1", domain.SenderPlayer)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// The player's own message is still unread for the professional.
	n, err = repo.CountUnread(ctx, "c1", domain.SenderProfessional)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := repo.MarkRead(ctx, "c1", domain.SenderPlayer)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestMessage_CountUnreadBatch(t *testing.T) {
	repo := NewGormMessageRepository(newTestDB(t))
	ctx := context.Background()

	seedMessage(t, repo, "c1", domain.SenderProfessional, 1, base)
	seedMessage(t, repo, "c1", domain.SenderProfessional, 2, base)
	seedMessage(t, repo, "c2", domain.SenderProfessional, 1, base)
	seedMessage(t, repo, "c3", domain.SenderPlayer, 1, base)

	counts, err := repo.CountUnreadBatch(ctx, []string{"c1", "c2", "c3"}, domain.SenderPlayer)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"c1": 2, "c2": 1}, counts)

	empty, err := repo.CountUnreadBatch(ctx, nil, domain.SenderPlayer)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
