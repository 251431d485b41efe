package hub

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weiawesome/club-chat/chat-service/internal/config"
	"github.com/weiawesome/club-chat/chat-service/internal/domain"
	"github.com/weiawesome/club-chat/pkg/log"
)

const sendBufferSize = 256

// Client is one realtime socket. The hub writes into Send; WritePump drains it.
type Client struct {
	ID      string
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	Session *domain.Session
	config  config.WebSocketConfig

	mu            sync.Mutex
	closed        bool
	conversations map[string]struct{}
}

func NewClient(id string, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	return newClient(id, hub, conn, cfg, sendBufferSize)
}

func newClient(id string, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig, buffer int) *Client {
	return &Client{
		ID:            id,
		Hub:           hub,
		Conn:          conn,
		Send:          make(chan []byte, buffer),
		Session:       domain.NewSession(id),
		config:        cfg,
		conversations: make(map[string]struct{}),
	}
}

// ReadPump feeds inbound frames to handler until the socket fails, then
// unregisters the client.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				l := log.L()
				l.Warn().Err(err).Str("client_id", c.ID).Str(log.FieldUserID, c.Session.Participant().ID).Msg("websocket read error")
			}
			return
		}

		c.Session.UpdateActivity()
		handler(c, data)
	}
}

// WritePump drains Send and keeps the socket alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage queues a frame for this client only. Frames for a closed or
// backed-up client are dropped.
func (c *Client) SendMessage(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if !c.enqueue(data) {
		l := log.L()
		l.Debug().Str("client_id", c.ID).Msg("client unavailable, dropping frame")
	}
	return nil
}

// Conversations lists the conversations the client is subscribed to.
func (c *Client) Conversations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.conversations))
	for id := range c.conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) track(conversationID string, subscribed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if subscribed {
		c.conversations[conversationID] = struct{}{}
	} else {
		delete(c.conversations, conversationID)
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// shutdown closes Send once; WritePump then sends a close frame.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}
