package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/club-chat/chat-service/internal/audit"
	"github.com/weiawesome/club-chat/chat-service/internal/cache"
	"github.com/weiawesome/club-chat/chat-service/internal/domain"
	"github.com/weiawesome/club-chat/chat-service/internal/repository"
	"github.com/weiawesome/club-chat/pkg/idgen"
	"github.com/weiawesome/club-chat/pkg/log"
	"github.com/weiawesome/club-chat/pkg/pubsub"
)

// Options tunes validation and paging.
type Options struct {
	MaxContentLength int
	DefaultPageSize  int
	MaxPageSize      int
	DefaultArea      string
	// Areas restricts conversation areas when non-empty.
	Areas []string
}

type chatService struct {
	conversations   repository.ConversationRepository
	messages        repository.MessageRepository
	unread          cache.UnreadCache
	publisher       pubsub.Publisher
	conversationIDs idgen.Generator
	messageIDs      idgen.Generator
	opts            Options
	areas           map[string]struct{}
	sf              singleflight.Group
	now             func() time.Time
}

func NewChatService(
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	unread cache.UnreadCache,
	publisher pubsub.Publisher,
	conversationIDs idgen.Generator,
	messageIDs idgen.Generator,
	opts Options,
) ChatService {
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = 4000
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 20
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 100
	}
	if opts.MaxPageSize < opts.DefaultPageSize {
		opts.MaxPageSize = opts.DefaultPageSize
	}
	if opts.DefaultArea == "" {
		opts.DefaultArea = "general"
	}

	areas := make(map[string]struct{}, len(opts.Areas))
	for _, a := range opts.Areas {
		areas[normalizeArea(a)] = struct{}{}
	}

	return &chatService{
		conversations:   conversations,
		messages:        messages,
		unread:          unread,
		publisher:       publisher,
		conversationIDs: conversationIDs,
		messageIDs:      messageIDs,
		opts:            opts,
		areas:           areas,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// CreateConversation returns the player's conversation for area, creating it
// on first use. created is false when it already existed.
func (s *chatService) CreateConversation(ctx context.Context, p domain.Participant, area string) (*domain.ConversationSummary, bool, error) {
	if p.Class != domain.SenderPlayer {
		return nil, false, ErrForbiddenClass
	}

	area, err := s.validateArea(area)
	if err != nil {
		return nil, false, err
	}

	id, err := s.conversationIDs.Generate()
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate conversation id: %w", err)
	}

	now := s.now()
	conv, created, err := s.conversations.GetOrCreate(ctx, &domain.Conversation{
		ID:            id,
		PlayerID:      p.ID,
		PlayerName:    p.DisplayName,
		Area:          area,
		LastMessageAt: now,
		CreatedAt:     now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}

	unread := 0
	if created {
		audit.Log(ctx, audit.ActionCreateConversation, p.ID, conv.ID, "conversation created")
	} else {
		unread = s.unreadCount(ctx, conv.ID, p.Class)
	}

	summary := conv.ToSummary(p.Class, unread)
	return &summary, created, nil
}

// ListConversations degrades to an empty page when the store fails.
func (s *chatService) ListConversations(ctx context.Context, p domain.Participant, page, pageSize int, filter string) (*domain.ConversationPage, error) {
	if !p.Class.Valid() {
		return nil, ErrForbiddenClass
	}
	page, pageSize = s.normalizePage(page, pageSize)

	result := &domain.ConversationPage{
		Conversations: []domain.ConversationSummary{},
		Page:          page,
		PageSize:      pageSize,
	}

	convs, hasMore, err := s.conversations.ListForParticipant(ctx, p, page, pageSize, filter)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldUserID, p.ID).Msg("listing conversations failed, returning empty page")
		return result, nil
	}

	counts := s.unreadCounts(ctx, convs, p.Class)
	for i := range convs {
		result.Conversations = append(result.Conversations, convs[i].ToSummary(p.Class, counts[convs[i].ID]))
	}
	result.HasMore = hasMore
	return result, nil
}

func (s *chatService) GetConversation(ctx context.Context, p domain.Participant, conversationID string) (*domain.ConversationSummary, error) {
	conv, err := s.authorize(ctx, p, conversationID)
	if err != nil {
		return nil, err
	}

	summary := conv.ToSummary(p.Class, s.unreadCount(ctx, conv.ID, p.Class))
	return &summary, nil
}

// SendMessage appends a message and then bumps the conversation. The two
// writes are not atomic; a failed bump only leaves last_message_at stale.
func (s *chatService) SendMessage(ctx context.Context, p domain.Participant, conversationID, content string) (*domain.Message, error) {
	conv, err := s.authorize(ctx, p, conversationID)
	if err != nil {
		return nil, err
	}

	if err := s.validateContent(content); err != nil {
		return nil, err
	}

	id, err := s.messageIDs.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}

	msg := &domain.Message{
		ID:             id,
		ConversationID: conv.ID,
		SenderClass:    p.Class,
		SenderID:       p.ID,
		Content:        content,
		CreatedAt:      s.now(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	// The row exists now; the follow-up writes must not be cut short by the caller going away.
	bg := context.WithoutCancel(ctx)
	l := log.Ctx(ctx)

	var claim *domain.Participant
	if p.Class == domain.SenderProfessional && !conv.Assigned() {
		claim = &p
	}
	claimed, err := s.conversations.Touch(bg, conv.ID, msg.CreatedAt, claim)
	if err != nil {
		l.Warn().Err(err).Str(log.FieldConversationID, conv.ID).Str(log.FieldMessageID, msg.ID).Msg("message stored but conversation timestamp not updated")
	}

	s.invalidateUnread(bg, conv.ID)
	if claimed {
		s.publishClaim(bg, conv.ID, p.ID)
	}
	s.publish(bg, pubsub.EventMessageInserted, msg)

	audit.Log(ctx, audit.ActionSendMessage, p.ID, conv.ID, "message sent")
	return msg, nil
}

// ListMessages returns a page in chronological order. Access errors propagate;
// store failures degrade to an empty page.
func (s *chatService) ListMessages(ctx context.Context, p domain.Participant, conversationID string, page, pageSize int) (*domain.MessagePage, error) {
	conv, err := s.authorize(ctx, p, conversationID)
	if err != nil {
		return nil, err
	}

	page, pageSize = s.normalizePage(page, pageSize)
	return s.listMessages(ctx, conv.ID, page, pageSize), nil
}

// MarkRead flips the counterpart's unread messages and announces each change.
func (s *chatService) MarkRead(ctx context.Context, p domain.Participant, conversationID string) (int, error) {
	conv, err := s.authorize(ctx, p, conversationID)
	if err != nil {
		return 0, err
	}
	return s.markRead(ctx, p, conv.ID)
}

// UnreadCount degrades to zero when neither cache nor store can answer.
func (s *chatService) UnreadCount(ctx context.Context, p domain.Participant, conversationID string) (int, error) {
	conv, err := s.authorize(ctx, p, conversationID)
	if err != nil {
		return 0, err
	}
	return s.unreadCount(ctx, conv.ID, p.Class), nil
}

// OpenConversation marks the counterpart's messages read and returns the
// newest page. A failed mark-read does not block opening.
func (s *chatService) OpenConversation(ctx context.Context, p domain.Participant, conversationID string, pageSize int) (*domain.OpenConversationResult, error) {
	conv, err := s.authorize(ctx, p, conversationID)
	if err != nil {
		return nil, err
	}

	marked, err := s.markRead(ctx, p, conv.ID)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldConversationID, conv.ID).Msg("mark read on open failed")
	}

	_, pageSize = s.normalizePage(0, pageSize)
	return &domain.OpenConversationResult{
		Conversation: conv.ToSummary(p.Class, s.unreadCount(ctx, conv.ID, p.Class)),
		Messages:     *s.listMessages(ctx, conv.ID, 0, pageSize),
		MarkedRead:   marked,
	}, nil
}

func (s *chatService) AuthorizeSubscription(ctx context.Context, p domain.Participant, conversationID string) error {
	if _, err := s.authorize(ctx, p, conversationID); err != nil {
		return err
	}
	audit.Log(ctx, audit.ActionSubscribe, p.ID, conversationID, "subscribed to conversation feed")
	return nil
}

// authorize loads the conversation and fails closed on anything but a
// successful ownership check.
func (s *chatService) authorize(ctx context.Context, p domain.Participant, conversationID string) (*domain.Conversation, error) {
	if conversationID == "" {
		return nil, ErrConversationNotFound
	}

	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	if !conv.Allows(p) {
		audit.LogWithDetail(ctx, audit.ActionAccessDenied, p.ID, conversationID, string(p.Class), "participant denied access to conversation")
		return nil, ErrNotParticipant
	}
	return conv, nil
}

func (s *chatService) markRead(ctx context.Context, p domain.Participant, conversationID string) (int, error) {
	flipped, err := s.messages.MarkRead(ctx, conversationID, p.Class)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	if len(flipped) == 0 {
		return 0, nil
	}

	bg := context.WithoutCancel(ctx)
	s.invalidateUnread(bg, conversationID)
	for i := range flipped {
		s.publish(bg, pubsub.EventMessageUpdated, &flipped[i])
	}

	audit.Log(ctx, audit.ActionMarkRead, p.ID, conversationID, fmt.Sprintf("%d messages marked read", len(flipped)))
	return len(flipped), nil
}

func (s *chatService) listMessages(ctx context.Context, conversationID string, page, pageSize int) *domain.MessagePage {
	result := &domain.MessagePage{
		Messages: []domain.Message{},
		Page:     page,
		PageSize: pageSize,
	}

	msgs, hasMore, err := s.messages.ListPage(ctx, conversationID, page, pageSize)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldConversationID, conversationID).Msg("listing messages failed, returning empty page")
		return result
	}

	// Store order is newest first.
	for i := len(msgs) - 1; i >= 0; i-- {
		result.Messages = append(result.Messages, msgs[i])
	}
	result.HasMore = hasMore
	return result
}

func (s *chatService) unreadCount(ctx context.Context, conversationID string, reader domain.SenderClass) int {
	l := log.Ctx(ctx)

	if n, err := s.unread.Get(ctx, conversationID, reader); err == nil {
		return n
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		l.Warn().Err(err).Msg("unread cache get error")
	}

	v, err, _ := s.sf.Do(unreadFlightKey(conversationID, reader), func() (interface{}, error) {
		version, verr := s.unread.Version(ctx, conversationID)
		if verr != nil {
			l.Warn().Err(verr).Msg("unread cache version error")
		}

		n, err := s.messages.CountUnread(ctx, conversationID, reader)
		if err != nil {
			return 0, err
		}
		if verr == nil {
			s.fillUnread(ctx, conversationID, reader, n, version)
		}
		return n, nil
	})
	if err != nil {
		l.Error().Err(err).Str(log.FieldConversationID, conversationID).Msg("unread count unavailable, reporting zero")
		return 0
	}
	return v.(int)
}

func (s *chatService) unreadCounts(ctx context.Context, convs []domain.Conversation, reader domain.SenderClass) map[string]int {
	l := log.Ctx(ctx)
	counts := make(map[string]int, len(convs))

	var misses []string
	for i := range convs {
		n, err := s.unread.Get(ctx, convs[i].ID, reader)
		if err == nil {
			counts[convs[i].ID] = n
			continue
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			l.Warn().Err(err).Msg("unread cache get error")
		}
		misses = append(misses, convs[i].ID)
	}
	if len(misses) == 0 {
		return counts
	}

	// Versions are read before counting so an invalidation racing the
	// count keeps its result out of the cache.
	versions := make(map[string]int64, len(misses))
	for _, id := range misses {
		v, err := s.unread.Version(ctx, id)
		if err != nil {
			l.Warn().Err(err).Msg("unread cache version error")
			continue
		}
		versions[id] = v
	}

	fetched, err := s.messages.CountUnreadBatch(ctx, misses, reader)
	if err != nil {
		l.Error().Err(err).Msg("unread counts unavailable, reporting zero")
		return counts
	}
	for _, id := range misses {
		counts[id] = fetched[id]
		if v, ok := versions[id]; ok {
			s.fillUnread(ctx, id, reader, fetched[id], v)
		}
	}
	return counts
}

func (s *chatService) fillUnread(ctx context.Context, conversationID string, reader domain.SenderClass, n int, version int64) {
	stored, err := s.unread.Set(ctx, conversationID, reader, n, version)
	l := log.Ctx(ctx)
	switch {
	case err != nil:
		l.Warn().Err(err).Msg("unread cache set error")
	case !stored:
		l.Debug().Str(log.FieldConversationID, conversationID).Msg("unread count changed while counting, not cached")
	}
}

// invalidateUnread also detaches in-flight counts so later callers do not
// join a count that started before the change.
func (s *chatService) invalidateUnread(ctx context.Context, conversationID string) {
	if err := s.unread.Invalidate(ctx, conversationID); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldConversationID, conversationID).Msg("unread cache invalidate error")
	}
	s.sf.Forget(unreadFlightKey(conversationID, domain.SenderPlayer))
	s.sf.Forget(unreadFlightKey(conversationID, domain.SenderProfessional))
}

func unreadFlightKey(conversationID string, reader domain.SenderClass) string {
	return conversationID + ":" + string(reader)
}

// publish announces a row change. Delivery is best effort; the row is already stored.
func (s *chatService) publish(ctx context.Context, eventType string, msg *domain.Message) {
	l := log.Ctx(ctx)

	event, err := pubsub.NewEvent(eventType, msg.ConversationID, msg)
	if err != nil {
		l.Error().Err(err).Str(log.FieldMessageID, msg.ID).Msg("failed to build message event")
		return
	}
	if err := s.publisher.Publish(ctx, pubsub.ConversationChannel(msg.ConversationID), event); err != nil {
		l.Error().Err(err).Str(log.FieldConversationID, msg.ConversationID).Str(log.FieldMessageID, msg.ID).Str("event_type", eventType).Msg("failed to publish message event")
	}
}

// publishClaim lets every instance drop the realtime subscriptions of the
// professionals who lost access with the claim.
func (s *chatService) publishClaim(ctx context.Context, conversationID, professionalID string) {
	l := log.Ctx(ctx)

	event, err := pubsub.NewEvent(pubsub.EventConversationClaimed, conversationID, domain.Claim{ConversationID: conversationID, ProfessionalID: professionalID})
	if err != nil {
		l.Error().Err(err).Str(log.FieldConversationID, conversationID).Msg("failed to build claim event")
		return
	}
	if err := s.publisher.Publish(ctx, pubsub.ConversationChannel(conversationID), event); err != nil {
		l.Error().Err(err).Str(log.FieldConversationID, conversationID).Str(log.FieldUserID, professionalID).Msg("failed to publish claim event")
	}
}

func (s *chatService) validateContent(content string) error {
	if !utf8.ValidString(content) || strings.TrimSpace(content) == "" {
		return ErrInvalidContent
	}
	if utf8.RuneCountInString(content) > s.opts.MaxContentLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidContent, s.opts.MaxContentLength)
	}
	return nil
}

func (s *chatService) validateArea(area string) (string, error) {
	area = normalizeArea(area)
	if area == "" {
		area = normalizeArea(s.opts.DefaultArea)
	}
	if len(area) > 64 {
		return "", ErrInvalidArea
	}
	if len(s.areas) > 0 {
		if _, ok := s.areas[area]; !ok {
			return "", ErrInvalidArea
		}
	}
	return area, nil
}

func (s *chatService) normalizePage(page, pageSize int) (int, int) {
	if page < 0 {
		page = 0
	}
	if pageSize < 1 {
		pageSize = s.opts.DefaultPageSize
	}
	if pageSize > s.opts.MaxPageSize {
		pageSize = s.opts.MaxPageSize
	}
	return page, pageSize
}

func normalizeArea(area string) string {
	return domain.NormalizeArea(area)
}
