package chatclient

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	calls   *[]string
	open    *OpenResult
	openErr error
	pages   map[int]*MessagePage
	send    func(ctx context.Context, content string) (*Message, error)
	markErr error
	marks   atomic.Int32
}

func (f *fakeAPI) OpenConversation(ctx context.Context, conversationID string, pageSize int) (*OpenResult, error) {
	*f.calls = append(*f.calls, "open")
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.open, nil
}

func (f *fakeAPI) ListMessages(ctx context.Context, conversationID string, page, pageSize int) (*MessagePage, error) {
	if p, ok := f.pages[page]; ok {
		return p, nil
	}
	return &MessagePage{Page: page, PageSize: pageSize}, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, conversationID, content string) (*Message, error) {
	if f.send != nil {
		return f.send(ctx, content)
	}
	m := row("srv-1", SenderPlayer, content, 10)
	return &m, nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, conversationID string) (int, error) {
	f.marks.Add(1)
	return 1, f.markErr
}

type fakeFeed struct {
	calls        *[]string
	events       chan Event
	subErr       error
	unsubscribed atomic.Bool
}

func (f *fakeFeed) Subscribe(ctx context.Context, conversationID string, senderClass SenderClass) (<-chan Event, error) {
	*f.calls = append(*f.calls, "subscribe")
	if f.subErr != nil {
		return nil, f.subErr
	}
	return f.events, nil
}

func (f *fakeFeed) Unsubscribe(ctx context.Context, conversationID string) error {
	f.unsubscribed.Store(true)
	return nil
}

func newSession(t *testing.T, api *fakeAPI) (*Session, *fakeFeed) {
	t.Helper()
	calls := []string{}
	api.calls = &calls
	if api.open == nil {
		api.open = &OpenResult{
			Conversation: ConversationSummary{Conversation: Conversation{ID: "conv-1"}, CounterpartName: "Dra. Rodríguez"},
			Messages: MessagePage{
				Messages: []Message{row("m1", SenderProfessional, "hola", 0), row("m2", SenderPlayer, "buenas", 1)},
				PageSize: 2,
				HasMore:  true,
			},
			MarkedRead: 1,
		}
	}
	feed := &fakeFeed{calls: &calls, events: make(chan Event, 8)}

	s, err := OpenSession(context.Background(), api, feed, "conv-1", SenderPlayer, SessionOptions{PageSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, feed
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

func states(s *Session) []State {
	var out []State
	for _, e := range s.Snapshot() {
		out = append(out, e.State)
	}
	return out
}

func TestSession_OpenSubscribesFirstAndLoadsNewestPage(t *testing.T) {
	api := &fakeAPI{}
	s, _ := newSession(t, api)

	assert.Equal(t, []string{"subscribe", "open"}, *api.calls)
	assert.Equal(t, "Dra. Rodríguez", s.Conversation().CounterpartName)
	assert.Len(t, s.Snapshot(), 2)
	assert.True(t, s.HasOlder())
}

func TestSession_OpenFailureUnsubscribes(t *testing.T) {
	calls := []string{}
	api := &fakeAPI{calls: &calls, openErr: ErrForbidden}
	feed := &fakeFeed{calls: &calls, events: make(chan Event)}

	_, err := OpenSession(context.Background(), api, feed, "conv-1", SenderPlayer, SessionOptions{})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.True(t, feed.unsubscribed.Load())
}

func TestSession_SubmitIsOptimisticAndReconciles(t *testing.T) {
	release := make(chan struct{})
	api := &fakeAPI{}
	api.send = func(ctx context.Context, content string) (*Message, error) {
		<-release
		m := row("m3", SenderPlayer, content, 2)
		return &m, nil
	}
	s, feed := newSession(t, api)

	entry, err := s.Submit("me duele la rodilla")
	require.NoError(t, err)
	assert.Equal(t, StatePending, entry.State)
	assert.Equal(t, []State{StateConfirmed, StateConfirmed, StatePending}, states(s))

	// The push overtakes the HTTP response.
	feed.events <- Event{Type: EventInserted, ConversationID: "conv-1", Message: row("m3", SenderPlayer, "me duele la rodilla", 2)}
	waitFor(t, func() bool { return s.Snapshot()[2].State == StateConfirmed })
	close(release)

	waitFor(t, func() bool { return len(s.Snapshot()) == 3 })
	time.Sleep(20 * time.Millisecond)

	entries := s.Snapshot()
	require.Len(t, entries, 3)
	assert.Equal(t, "m3", entries[2].Message.ID)
	assert.Equal(t, entry.LocalID, entries[2].LocalID)
}

func TestSession_CounterpartPushTriggersMarkReadOnce(t *testing.T) {
	api := &fakeAPI{}
	s, feed := newSession(t, api)

	m := row("m3", SenderProfessional, "¿desde cuándo?", 2)
	feed.events <- Event{Type: EventInserted, ConversationID: "conv-1", Message: m}
	feed.events <- Event{Type: EventInserted, ConversationID: "conv-1", Message: m}

	waitFor(t, func() bool { return len(s.Snapshot()) == 3 })
	waitFor(t, func() bool { return api.marks.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, s.Snapshot(), 3)
	assert.Equal(t, int32(1), api.marks.Load())
}

func TestSession_MarkReadFailureIsReported(t *testing.T) {
	api := &fakeAPI{markErr: errors.New("store unavailable")}
	s, feed := newSession(t, api)

	feed.events <- Event{Type: EventInserted, ConversationID: "conv-1", Message: row("m3", SenderProfessional, "hola", 2)}

	select {
	case err := <-s.Errors():
		assert.EqualError(t, err, "store unavailable")
	case <-time.After(time.Second):
		t.Fatal("mark-read failure was not reported")
	}
	assert.Len(t, s.Snapshot(), 3, "the row is shown even though mark-read failed")
}

func TestSession_FailedSendIsReportedAndRetried(t *testing.T) {
	var attempts atomic.Int32
	api := &fakeAPI{}
	api.send = func(ctx context.Context, content string) (*Message, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("store unavailable")
		}
		m := row("m3", SenderPlayer, content, 2)
		return &m, nil
	}
	s, _ := newSession(t, api)

	entry, err := s.Submit("hola")
	require.NoError(t, err)

	select {
	case err := <-s.Errors():
		assert.EqualError(t, err, "store unavailable")
	case <-time.After(time.Second):
		t.Fatal("send failure was not reported")
	}
	waitFor(t, func() bool { return s.Snapshot()[2].State == StateFailed })

	require.NoError(t, s.Retry(entry.LocalID))
	waitFor(t, func() bool { return s.Snapshot()[2].State == StateConfirmed })
	assert.Equal(t, "m3", s.Snapshot()[2].Message.ID)

	assert.ErrorIs(t, s.Retry("local-unknown"), ErrNotFound)
}

func TestSession_UpdatedEventPropagatesReadReceipt(t *testing.T) {
	api := &fakeAPI{}
	s, feed := newSession(t, api)

	read := row("m2", SenderPlayer, "buenas", 1)
	read.Read = true
	feed.events <- Event{Type: EventUpdated, ConversationID: "conv-1", Message: read}

	select {
	case <-s.Changes():
	case <-time.After(time.Second):
		t.Fatal("no change signalled")
	}
	waitFor(t, func() bool { return s.Snapshot()[1].Message.Read })
}

func TestSession_LoadOlder(t *testing.T) {
	api := &fakeAPI{pages: map[int]*MessagePage{
		1: {Messages: []Message{row("m0", SenderPlayer, "primero", -1), row("m1", SenderProfessional, "hola", 0)}, Page: 1, PageSize: 2},
	}}
	s, _ := newSession(t, api)

	added, err := s.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, "m0", s.Snapshot()[0].Message.ID)
	assert.False(t, s.HasOlder())

	added, err = s.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.Zero(t, added)
}

func TestSession_CloseDiscardsLateResults(t *testing.T) {
	started := make(chan struct{})
	api := &fakeAPI{}
	api.send = func(ctx context.Context, content string) (*Message, error) {
		close(started)
		<-ctx.Done()
		m := row("m3", SenderPlayer, content, 2)
		return &m, nil
	}
	s, feed := newSession(t, api)

	_, err := s.Submit("hola")
	require.NoError(t, err)
	<-started

	require.NoError(t, s.Close())
	assert.True(t, feed.unsubscribed.Load())
	assert.Equal(t, StatePending, s.Snapshot()[2].State)

	_, err = s.Submit("otra")
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.NoError(t, s.Close())
}

func TestSession_FeedLossIsReported(t *testing.T) {
	api := &fakeAPI{}
	s, feed := newSession(t, api)

	close(feed.events)
	select {
	case err := <-s.Errors():
		assert.ErrorIs(t, err, ErrFeedClosed)
	case <-time.After(time.Second):
		t.Fatal("feed loss was not reported")
	}
}

func TestSession_DroppedEventsAreReported(t *testing.T) {
	s, feed := newSession(t, &fakeAPI{})

	feed.events <- Event{Type: EventGap, ConversationID: "conv-1"}
	select {
	case err := <-s.Errors():
		assert.ErrorIs(t, err, ErrEventsDropped)
	case <-time.After(time.Second):
		t.Fatal("dropped events were not reported")
	}
	assert.Len(t, s.Snapshot(), 2)
}

func TestSession_RejectsBlankInput(t *testing.T) {
	s, _ := newSession(t, &fakeAPI{})

	_, err := s.Submit("  \n")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Len(t, s.Snapshot(), 2)
}
