package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weiawesome/club-chat/pkg/log"
)

const (
	feedWriteWait   = 10 * time.Second
	feedAuthTimeout = 10 * time.Second
	feedBufferSize  = 256
)

// Feed is an authenticated websocket connection to the realtime endpoint.
// Each subscribed conversation gets its own event channel, which is closed
// when the subscription ends, including when the server revokes it.
type Feed struct {
	conn   *websocket.Conn
	userID string
	class  SenderClass

	writeMu sync.Mutex

	mu      sync.Mutex
	subs    map[string]chan Event
	gaps    map[string]bool
	pending map[string]chan error
	err     error

	done chan struct{}
}

// DialFeed connects to wsURL and authenticates with token.
func DialFeed(ctx context.Context, wsURL, token string) (*Feed, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("failed to dial feed: %w", err)
	}

	deadline := time.Now().Add(feedAuthTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)

	if err := conn.WriteJSON(frame{Type: "auth", Token: token}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send auth frame: %w", err)
	}

	var res frame
	if err := conn.ReadJSON(&res); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read auth result: %w", err)
	}
	if res.Type != "auth_result" || !res.Success {
		conn.Close()
		return nil, ErrUnauthorized
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})

	f := &Feed{
		conn:    conn,
		userID:  res.UserID,
		class:   res.Class,
		subs:    make(map[string]chan Event),
		gaps:    make(map[string]bool),
		pending: make(map[string]chan error),
		done:    make(chan struct{}),
	}
	go f.readLoop()
	return f, nil
}

// UserID is the participant the token authenticated.
func (f *Feed) UserID() string { return f.userID }

// Class is the participant's sender class.
func (f *Feed) Class() SenderClass { return f.class }

// Subscribe starts delivery for a conversation. A non-empty senderClass
// limits delivery to that side's messages.
func (f *Feed) Subscribe(ctx context.Context, conversationID string, senderClass SenderClass) (<-chan Event, error) {
	ack := make(chan error, 1)
	events := make(chan Event, feedBufferSize)

	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return nil, f.err
	}
	if _, ok := f.subs[conversationID]; ok {
		f.mu.Unlock()
		return nil, fmt.Errorf("already subscribed to %s", conversationID)
	}
	f.subs[conversationID] = events
	f.pending[conversationID] = ack
	f.mu.Unlock()

	err := f.write(frame{Type: "subscribe", ConversationID: conversationID, SenderClass: senderClass})
	if err == nil {
		select {
		case err = <-ack:
		case <-ctx.Done():
			err = ctx.Err()
		case <-f.done:
			err = ErrFeedClosed
		}
	}

	if err != nil {
		f.mu.Lock()
		delete(f.pending, conversationID)
		if ch, ok := f.subs[conversationID]; ok && ch == events {
			delete(f.subs, conversationID)
			close(events)
		}
		f.mu.Unlock()
		return nil, err
	}
	return events, nil
}

// Unsubscribe stops delivery for a conversation and closes its channel.
func (f *Feed) Unsubscribe(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	ch, ok := f.subs[conversationID]
	if ok {
		delete(f.subs, conversationID)
		delete(f.gaps, conversationID)
		close(ch)
	}
	closed := f.err != nil
	f.mu.Unlock()

	if !ok || closed {
		return nil
	}
	return f.write(frame{Type: "unsubscribe", ConversationID: conversationID})
}

// Close ends the connection. Every subscription channel is closed.
func (f *Feed) Close() error {
	f.writeMu.Lock()
	f.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
	f.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	f.writeMu.Unlock()

	err := f.conn.Close()
	<-f.done
	return err
}

// Done is closed when the connection is gone.
func (f *Feed) Done() <-chan struct{} { return f.done }

func (f *Feed) write(v interface{}) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
	if err := f.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func (f *Feed) readLoop() {
	l := log.L()
	var loopErr error

	defer func() {
		f.mu.Lock()
		f.err = ErrFeedClosed
		for id, ch := range f.subs {
			close(ch)
			delete(f.subs, id)
		}
		f.gaps = make(map[string]bool)
		for id, ack := range f.pending {
			ack <- ErrFeedClosed
			delete(f.pending, id)
		}
		f.mu.Unlock()
		close(f.done)

		if loopErr != nil && websocket.IsUnexpectedCloseError(loopErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			l.Warn().Err(loopErr).Msg("chat feed read error")
		}
	}()

	for {
		var fr frame
		if err := f.conn.ReadJSON(&fr); err != nil {
			loopErr = err
			return
		}

		switch fr.Type {
		case "event":
			f.dispatch(fr)
		case "subscribed":
			f.ack(fr.ConversationID, nil)
		case "error":
			var text string
			json.Unmarshal(fr.Message, &text)
			if fr.ConversationID == "" {
				l.Warn().Str("code", fr.Code).Str("message", text).Msg("chat feed error frame")
				continue
			}
			err := frameError(fr.Code, text)
			if !f.ack(fr.ConversationID, err) {
				// Not an answer to Subscribe: the server revoked the subscription.
				l.Info().Err(err).Str(log.FieldConversationID, fr.ConversationID).Msg("chat feed subscription revoked")
				f.drop(fr.ConversationID)
			}
		}
	}
}

func (f *Feed) dispatch(fr frame) {
	var msg Message
	if err := json.Unmarshal(fr.Message, &msg); err != nil {
		l := log.L()
		l.Warn().Err(err).Str(log.FieldConversationID, fr.ConversationID).Msg("invalid event frame")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.subs[fr.ConversationID]
	if !ok {
		return
	}
	if f.gaps[fr.ConversationID] {
		select {
		case ch <- Event{Type: EventGap, ConversationID: fr.ConversationID}:
			delete(f.gaps, fr.ConversationID)
		default:
			return
		}
	}
	select {
	case ch <- Event{Type: fr.EventType, ConversationID: fr.ConversationID, Message: msg}:
	default:
		f.gaps[fr.ConversationID] = true
		l := log.L()
		l.Warn().Str(log.FieldConversationID, fr.ConversationID).Str(log.FieldMessageID, msg.ID).Msg("feed consumer is full, dropping event")
	}
}

func (f *Feed) ack(conversationID string, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	ack, ok := f.pending[conversationID]
	if ok {
		ack <- err
		delete(f.pending, conversationID)
	}
	return ok
}

func (f *Feed) drop(conversationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ch, ok := f.subs[conversationID]; ok {
		delete(f.subs, conversationID)
		delete(f.gaps, conversationID)
		close(ch)
	}
}

func frameError(code, message string) error {
	var sentinel error
	switch code {
	case "UNAUTHORIZED":
		sentinel = ErrUnauthorized
	case "FORBIDDEN":
		sentinel = ErrForbidden
	case "NOT_FOUND":
		sentinel = ErrNotFound
	case "BAD_REQUEST":
		sentinel = ErrBadRequest
	default:
		return fmt.Errorf("chat feed: %s: %s", code, message)
	}
	return fmt.Errorf("%w: %s", sentinel, message)
}
