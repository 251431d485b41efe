package chatclient

import (
	"context"
	"strings"
	"sync"

	"github.com/weiawesome/club-chat/pkg/log"
)

// ConversationAPI is the part of the REST client a Session needs.
type ConversationAPI interface {
	OpenConversation(ctx context.Context, conversationID string, pageSize int) (*OpenResult, error)
	ListMessages(ctx context.Context, conversationID string, page, pageSize int) (*MessagePage, error)
	SendMessage(ctx context.Context, conversationID, content string) (*Message, error)
	MarkRead(ctx context.Context, conversationID string) (int, error)
}

// EventFeed delivers pushed row changes per conversation.
type EventFeed interface {
	Subscribe(ctx context.Context, conversationID string, senderClass SenderClass) (<-chan Event, error)
	Unsubscribe(ctx context.Context, conversationID string) error
}

// SessionOptions tunes a Session. Zero values pick the server defaults.
type SessionOptions struct {
	PageSize int
}

// Session is one open conversation view: a timeline kept in sync with the
// server through its own feed subscription.
type Session struct {
	api            ConversationAPI
	feed           EventFeed
	conversationID string
	timeline       *Timeline
	pageSize       int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	nextPage int
	hasMore  bool
	summary  ConversationSummary

	changes chan struct{}
	errs    chan error
}

// OpenSession subscribes to the conversation, then opens it (which marks the
// counterpart's messages read) and loads the newest page. Events that arrive
// while the page loads are merged after it.
func OpenSession(ctx context.Context, api ConversationAPI, feed EventFeed, conversationID string, self SenderClass, opts SessionOptions) (*Session, error) {
	events, err := feed.Subscribe(ctx, conversationID, "")
	if err != nil {
		return nil, err
	}

	result, err := api.OpenConversation(ctx, conversationID, opts.PageSize)
	if err != nil {
		feed.Unsubscribe(context.WithoutCancel(ctx), conversationID)
		return nil, err
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		api:            api,
		feed:           feed,
		conversationID: conversationID,
		timeline:       NewTimeline(conversationID, self),
		pageSize:       opts.PageSize,
		ctx:            sctx,
		cancel:         cancel,
		nextPage:       1,
		hasMore:        result.Messages.HasMore,
		summary:        result.Conversation,
		changes:        make(chan struct{}, 1),
		errs:           make(chan error, 16),
	}
	if result.Messages.PageSize > 0 {
		s.pageSize = result.Messages.PageSize
	}
	s.timeline.Reset(result.Messages.Messages)

	s.wg.Add(1)
	go s.run(events)
	return s, nil
}

func (s *Session) ConversationID() string { return s.conversationID }

func (s *Session) Conversation() ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// Snapshot returns the current timeline.
func (s *Session) Snapshot() []Entry { return s.timeline.Snapshot() }

// Changes signals after every timeline change. Signals coalesce.
func (s *Session) Changes() <-chan struct{} { return s.changes }

// Errors reports failures of background work: sends, mark-read calls,
// events the feed had to drop (ErrEventsDropped) and the feed going away. Errors are dropped when nobody drains the channel.
func (s *Session) Errors() <-chan error { return s.errs }

// Submit shows text immediately as a pending entry and sends it in the background.
func (s *Session) Submit(text string) (Entry, error) {
	if strings.TrimSpace(text) == "" {
		return Entry{}, ErrEmptyMessage
	}
	if s.isClosed() {
		return Entry{}, ErrSessionClosed
	}

	entry, err := s.timeline.AddPending(text)
	if err != nil {
		return Entry{}, err
	}
	s.notify()
	s.send(entry.LocalID, text)
	return entry, nil
}

// Retry resends a failed entry.
func (s *Session) Retry(localID string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	content, ok := s.timeline.Retry(localID)
	if !ok {
		return ErrNotFound
	}
	s.notify()
	s.send(localID, content)
	return nil
}

// LoadOlder prepends the next page of history and reports how many rows were new.
func (s *Session) LoadOlder(ctx context.Context) (int, error) {
	s.mu.Lock()
	page, more := s.nextPage, s.hasMore
	s.mu.Unlock()
	if !more {
		return 0, nil
	}

	result, err := s.api.ListMessages(ctx, s.conversationID, page, s.pageSize)
	if err != nil {
		return 0, err
	}

	added := s.timeline.PrependHistory(result.Messages)

	s.mu.Lock()
	if s.nextPage == page {
		s.nextPage = page + 1
		s.hasMore = result.HasMore
	}
	s.mu.Unlock()

	if added > 0 {
		s.notify()
	}
	return added, nil
}

// HasOlder reports whether LoadOlder can return more history.
func (s *Session) HasOlder() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Close unsubscribes and cancels outstanding work. Results that arrive
// afterwards are discarded.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	err := s.feed.Unsubscribe(context.Background(), s.conversationID)
	s.wg.Wait()
	return err
}

func (s *Session) run(events <-chan Event) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if s.ctx.Err() == nil {
					s.report(ErrFeedClosed)
				}
				return
			}
			s.apply(ev)
		}
	}
}

func (s *Session) apply(ev Event) {
	switch ev.Type {
	case EventInserted:
		if s.timeline.ApplyInserted(ev.Message) {
			s.markRead()
		}
	case EventUpdated:
		if !s.timeline.ApplyUpdated(ev.Message) {
			return
		}
	case EventGap:
		l := log.L()
		l.Warn().Str(log.FieldConversationID, s.conversationID).Msg("feed dropped events, timeline may be stale")
		s.report(ErrEventsDropped)
		return
	default:
		return
	}
	s.notify()
}

func (s *Session) send(localID, content string) {
	s.spawn(func() {
		msg, err := s.api.SendMessage(s.ctx, s.conversationID, content)
		if s.ctx.Err() != nil {
			return
		}
		s.timeline.ResolveSend(localID, msg, err)
		if err != nil {
			l := log.L()
			l.Warn().Err(err).Str(log.FieldConversationID, s.conversationID).Msg("message send failed")
			s.report(err)
		}
		s.notify()
	})
}

// markRead runs without blocking the event loop; failures are reported, not retried.
func (s *Session) markRead() {
	s.spawn(func() {
		if _, err := s.api.MarkRead(s.ctx, s.conversationID); err != nil && s.ctx.Err() == nil {
			l := log.L()
			l.Warn().Err(err).Str(log.FieldConversationID, s.conversationID).Msg("mark read failed")
			s.report(err)
		}
	})
}

// spawn runs fn in a goroutine Close waits for. Nothing starts after Close.
func (s *Session) spawn(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *Session) report(err error) {
	select {
	case s.errs <- err:
	default:
	}
}
