package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/club-chat/chat-service/internal/domain"
	"github.com/weiawesome/club-chat/pkg/log"
	"github.com/weiawesome/club-chat/pkg/pubsub"
)

var errFeedClosed = errors.New("event feed closed")

// Broadcaster delivers a frame to the local subscribers of a conversation.
type Broadcaster interface {
	BroadcastToConversation(conversationID string, senderClass domain.SenderClass, message interface{}) error
	// RestrictToAssignee drops the subscriptions of every professional other
	// than professionalID and returns how many were dropped.
	RestrictToAssignee(conversationID, professionalID string) int
}

// Relay forwards message events from the bus to the local hub, so a client
// connected to any instance sees rows written through any other.
type Relay struct {
	subscriber pubsub.Subscriber
	hub        Broadcaster
	backoff    time.Duration
	doneCh     chan struct{}
}

func NewRelay(subscriber pubsub.Subscriber, hub Broadcaster) *Relay {
	return &Relay{
		subscriber: subscriber,
		hub:        hub,
		backoff:    2 * time.Second,
		doneCh:     make(chan struct{}),
	}
}

// Done is closed when Run returns.
func (r *Relay) Done() <-chan struct{} { return r.doneCh }

// Run relays events until ctx is done, resubscribing after the feed drops.
func (r *Relay) Run(ctx context.Context) {
	defer close(r.doneCh)
	l := log.L()

	for {
		err := r.runSubscription(ctx)
		if ctx.Err() != nil {
			return
		}
		l.Warn().Err(err).Dur("backoff", r.backoff).Msg("message event subscription lost, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.backoff):
		}
	}
}

func (r *Relay) runSubscription(ctx context.Context) error {
	events, err := r.subscriber.SubscribePattern(ctx, pubsub.PatternConversationMessages)
	if err != nil {
		return err
	}
	defer r.subscriber.Unsubscribe(context.WithoutCancel(ctx), pubsub.PatternConversationMessages)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return errFeedClosed
			}
			r.handleEvent(event)
		}
	}
}

func (r *Relay) handleEvent(event *pubsub.Event) {
	l := log.L()

	switch event.Type {
	case pubsub.EventMessageInserted, pubsub.EventMessageUpdated:
	case pubsub.EventConversationClaimed:
		r.handleClaim(event)
		return
	default:
		l.Debug().Str("event_type", event.Type).Msg("ignoring event")
		return
	}

	var msg domain.Message
	if err := event.UnmarshalPayload(&msg); err != nil {
		l.Warn().Err(err).Str(log.FieldConversationID, event.ConversationID).Msg("invalid message event payload")
		return
	}
	conversationID := msg.ConversationID
	if conversationID == "" {
		conversationID = event.ConversationID
	}
	if conversationID == "" {
		return
	}

	frame := &domain.EventMessage{
		Type:           domain.MsgTypeEvent,
		EventType:      event.Type,
		ConversationID: conversationID,
		Message:        msg,
	}
	if err := r.hub.BroadcastToConversation(conversationID, msg.SenderClass, frame); err != nil {
		l.Error().Err(err).Str(log.FieldConversationID, conversationID).Msg("message event broadcast error")
	}
}

func (r *Relay) handleClaim(event *pubsub.Event) {
	l := log.L()

	var claim domain.Claim
	if err := event.UnmarshalPayload(&claim); err != nil || claim.ProfessionalID == "" {
		l.Warn().Err(err).Str(log.FieldConversationID, event.ConversationID).Msg("invalid claim event payload")
		return
	}
	if claim.ConversationID == "" {
		claim.ConversationID = event.ConversationID
	}

	if n := r.hub.RestrictToAssignee(claim.ConversationID, claim.ProfessionalID); n > 0 {
		l.Info().Str(log.FieldConversationID, claim.ConversationID).Str(log.FieldUserID, claim.ProfessionalID).Int("dropped", n).Msg("conversation claimed, revoked other professionals")
	}
}
