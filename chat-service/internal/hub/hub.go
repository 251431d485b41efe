package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/weiawesome/club-chat/chat-service/internal/config"
	"github.com/weiawesome/club-chat/chat-service/internal/domain"
	"github.com/weiawesome/club-chat/pkg/log"
)

// ErrClientGone is returned when subscribing a client the hub no longer holds.
var ErrClientGone = errors.New("client is no longer connected")

// subscription is one client's interest in a conversation. An empty
// senderClass means every message.
type subscription struct {
	client      *Client
	senderClass domain.SenderClass
}

type Hub struct {
	clients       map[string]*Client                  // clientID -> client
	conversations map[string]map[string]*subscription // conversationID -> clientID -> subscription
	unregister    chan *Client
	broadcast     chan *ConversationMessage
	done          chan struct{}
	mu            sync.RWMutex
	stopped       bool
	config        config.WebSocketConfig
}

// ConversationMessage is an encoded frame for a conversation's subscribers.
type ConversationMessage struct {
	ConversationID string
	SenderClass    domain.SenderClass
	Message        []byte
}

func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:       make(map[string]*Client),
		conversations: make(map[string]map[string]*subscription),
		unregister:    make(chan *Client),
		broadcast:     make(chan *ConversationMessage, 256),
		done:          make(chan struct{}),
		config:        cfg,
	}
}

// Run owns client registration and fan-out until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	l := log.L()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.stopped = true
			for id, client := range h.clients {
				client.shutdown()
				delete(h.clients, id)
			}
			h.conversations = make(map[string]map[string]*subscription)
			h.mu.Unlock()
			return

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for _, convID := range client.Conversations() {
					h.dropSubscriptionLocked(client, convID)
				}
				delete(h.clients, client.ID)
				client.shutdown()
			}
			h.mu.Unlock()
			l.Debug().Str("client_id", client.ID).Msg("client unregistered")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, sub := range h.conversations[msg.ConversationID] {
				if sub.senderClass != "" && sub.senderClass != msg.SenderClass {
					continue
				}
				if !sub.client.enqueue(msg.Message) {
					l.Warn().Str("client_id", sub.client.ID).Str(log.FieldConversationID, msg.ConversationID).Msg("client cannot keep up, disconnecting")
					go h.removeClient(sub.client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds client before returning so a following Subscribe finds it.
// A client registered after the hub stopped is shut down immediately.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		client.shutdown()
		return
	}
	h.clients[client.ID] = client

	l := log.L()
	l.Debug().Str("client_id", client.ID).Msg("client registered")
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribe adds or replaces client's subscription to a conversation. It
// fails with ErrClientGone once the client has been unregistered or closed.
func (h *Hub) Subscribe(client *Client, conversationID string, senderClass domain.SenderClass) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.clients[client.ID]; !ok || cur != client || client.isClosed() {
		return ErrClientGone
	}
	if _, ok := h.conversations[conversationID]; !ok {
		h.conversations[conversationID] = make(map[string]*subscription)
	}
	h.conversations[conversationID][client.ID] = &subscription{client: client, senderClass: senderClass}
	client.track(conversationID, true)

	l := log.L()
	l.Debug().Str("client_id", client.ID).Str(log.FieldConversationID, conversationID).Msg("client subscribed")
	return nil
}

func (h *Hub) Unsubscribe(client *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.dropSubscriptionLocked(client, conversationID)

	l := log.L()
	l.Debug().Str("client_id", client.ID).Str(log.FieldConversationID, conversationID).Msg("client unsubscribed")
}

// BroadcastToConversation encodes message once and queues it for the
// conversation's subscribers whose filter accepts senderClass.
func (h *Hub) BroadcastToConversation(conversationID string, senderClass domain.SenderClass, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- &ConversationMessage{ConversationID: conversationID, SenderClass: senderClass, Message: data}:
	case <-h.done:
	}
	return nil
}

// RestrictToAssignee drops the subscriptions of professionals other than
// professionalID, telling each client with a FORBIDDEN frame. It runs when a
// conversation is claimed and those professionals lose access.
func (h *Hub) RestrictToAssignee(conversationID, professionalID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	revoked := domain.NewErrorMessage(domain.ErrCodeForbidden, "conversation was assigned to another professional")
	revoked.ConversationID = conversationID
	frame, err := json.Marshal(revoked)
	if err != nil {
		return 0
	}

	dropped := 0
	for _, sub := range h.conversations[conversationID] {
		p := sub.client.Session.Participant()
		if p.Class != domain.SenderProfessional || p.ID == professionalID {
			continue
		}
		h.dropSubscriptionLocked(sub.client, conversationID)
		sub.client.enqueue(frame)
		dropped++
	}
	return dropped
}

func (h *Hub) SubscriberCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conversations[conversationID])
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) removeClient(client *Client) {
	h.Unregister(client)
}

func (h *Hub) dropSubscriptionLocked(client *Client, conversationID string) {
	if subs, ok := h.conversations[conversationID]; ok {
		delete(subs, client.ID)
		if len(subs) == 0 {
			delete(h.conversations, conversationID)
		}
	}
	client.track(conversationID, false)
}
