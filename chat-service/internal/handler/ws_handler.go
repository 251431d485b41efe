package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/club-chat/chat-service/internal/audit"
	"github.com/weiawesome/club-chat/chat-service/internal/config"
	"github.com/weiawesome/club-chat/chat-service/internal/domain"
	"github.com/weiawesome/club-chat/chat-service/internal/hub"
	"github.com/weiawesome/club-chat/chat-service/internal/service"
	"github.com/weiawesome/club-chat/pkg/log"
	"github.com/weiawesome/club-chat/pkg/middleware"
)

const requestTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler serves the realtime message feed. A socket must authenticate
// with an auth frame before it can subscribe to conversations.
type WSHandler struct {
	hub       *hub.Hub
	service   service.ChatService
	validator middleware.TokenValidator
	wsCfg     config.WebSocketConfig
}

func NewWSHandler(h *hub.Hub, svc service.ChatService, validator middleware.TokenValidator, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:       h,
		service:   svc,
		validator: validator,
		wsCfg:     wsCfg,
	}
}

func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn, h.wsCfg)
	h.hub.Register(client)

	if h.wsCfg.AuthTimeout > 0 {
		time.AfterFunc(h.wsCfg.AuthTimeout, func() {
			if !client.Session.IsAuthenticated() {
				l := log.L()
				l.Debug().Str("client_id", client.ID).Msg("closing unauthenticated websocket")
				conn.Close()
			}
		})
	}

	go client.WritePump()
	go client.ReadPump(h.handleMessage)
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid message format"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if p := client.Session.Participant(); p.ID != "" {
		ctx = log.WithActor(ctx, p.ID, string(p.Class))
	}

	switch base.Type {
	case domain.MsgTypeAuth:
		var msg domain.AuthMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid auth message"))
			return
		}
		h.handleAuth(ctx, client, msg.Token)

	case domain.MsgTypeSubscribe:
		var msg domain.SubscribeMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid subscribe message"))
			return
		}
		h.handleSubscribe(ctx, client, msg)

	case domain.MsgTypeUnsubscribe:
		var msg domain.UnsubscribeMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid unsubscribe message"))
			return
		}
		h.hub.Unsubscribe(client, msg.ConversationID)
		client.SendMessage(&domain.UnsubscribedMessage{
			Type:           domain.MsgTypeUnsubscribed,
			ConversationID: msg.ConversationID,
		})

	case domain.MsgTypePing:
		client.SendMessage(map[string]string{"type": domain.MsgTypePong})

	default:
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "unknown message type"))
	}
}

func (h *WSHandler) handleAuth(ctx context.Context, client *hub.Client, token string) {
	claims, err := h.validator.ValidateToken(token)
	if err == nil && !domain.SenderClass(claims.Class).Valid() {
		err = errors.New("token carries no participant class")
	}
	if err != nil {
		audit.LogWithDetail(ctx, audit.ActionAuthFailed, "", "", err.Error(), "websocket authentication failed")
		client.SendMessage(&domain.AuthResultMessage{
			Type:    domain.MsgTypeAuthResult,
			Success: false,
			Message: "invalid token",
		})
		return
	}

	p := domain.Participant{
		ID:          claims.UserID,
		Class:       domain.SenderClass(claims.Class),
		DisplayName: claims.DisplayName,
		Area:        domain.NormalizeArea(claims.Area),
	}
	client.Session.Authenticate(p)

	client.SendMessage(&domain.AuthResultMessage{
		Type:    domain.MsgTypeAuthResult,
		Success: true,
		UserID:  p.ID,
		Class:   p.Class,
	})
}

func (h *WSHandler) handleSubscribe(ctx context.Context, client *hub.Client, msg domain.SubscribeMessage) {
	if !client.Session.IsAuthenticated() {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeUnauthorized, "authenticate first"))
		return
	}
	if msg.ConversationID == "" {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "conversation_id is required"))
		return
	}
	if msg.SenderClass != "" && !msg.SenderClass.Valid() {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "unknown sender_class"))
		return
	}

	p := client.Session.Participant()
	if err := h.service.AuthorizeSubscription(ctx, p, msg.ConversationID); err != nil {
		frame := subscribeError(err)
		frame.ConversationID = msg.ConversationID
		if frame.Code == domain.ErrCodeInternalError {
			l := log.L()
			l.Error().Err(err).Str(log.FieldUserID, p.ID).Str(log.FieldConversationID, msg.ConversationID).Msg("subscription check failed")
		}
		client.SendMessage(frame)
		return
	}

	if err := h.hub.Subscribe(client, msg.ConversationID, msg.SenderClass); err != nil {
		l := log.L()
		l.Debug().Err(err).Str("client_id", client.ID).Str(log.FieldConversationID, msg.ConversationID).Msg("subscription refused")
		frame := domain.NewErrorMessage(domain.ErrCodeUnavailable, "connection is closing")
		frame.ConversationID = msg.ConversationID
		client.SendMessage(frame)
		return
	}
	client.SendMessage(&domain.SubscribedMessage{
		Type:           domain.MsgTypeSubscribed,
		ConversationID: msg.ConversationID,
		SenderClass:    msg.SenderClass,
	})
}

func subscribeError(err error) *domain.ErrorMessage {
	switch {
	case errors.Is(err, service.ErrConversationNotFound):
		return domain.NewErrorMessage(domain.ErrCodeNotFound, "conversation not found")
	case errors.Is(err, service.ErrNotParticipant), errors.Is(err, service.ErrForbiddenClass):
		return domain.NewErrorMessage(domain.ErrCodeForbidden, "not a participant of this conversation")
	default:
		return domain.NewErrorMessage(domain.ErrCodeInternalError, "failed to subscribe")
	}
}

func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/chat/ws", h.HandleWebSocket)
}
