package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/club-chat/chat-service/internal/domain"
	"github.com/weiawesome/club-chat/chat-service/internal/service"
	"github.com/weiawesome/club-chat/pkg/log"
	"github.com/weiawesome/club-chat/pkg/middleware"
	"github.com/weiawesome/club-chat/pkg/response"
)

// HTTPHandler serves the conversation and message REST API.
type HTTPHandler struct {
	chatService    service.ChatService
	authMiddleware *middleware.AuthMiddleware
}

func NewHTTPHandler(chatService service.ChatService, authMiddleware *middleware.AuthMiddleware) *HTTPHandler {
	return &HTTPHandler{
		chatService:    chatService,
		authMiddleware: authMiddleware,
	}
}

func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	conversations := api.Group("/conversations")
	conversations.Use(h.authMiddleware.RequireAuth())
	{
		conversations.POST("", h.CreateConversation)
		conversations.GET("", h.ListConversations)
		conversations.GET("/:id", h.GetConversation)
		conversations.GET("/:id/messages", h.ListMessages)
		conversations.POST("/:id/messages", h.SendMessage)
		conversations.POST("/:id/read", h.MarkRead)
		conversations.POST("/:id/open", h.OpenConversation)
		conversations.GET("/:id/unread", h.UnreadCount)
	}

	r.GET("/health", h.HealthCheck)
}

// CreateConversation opens the player's conversation for an area, reusing an
// existing one. An empty body selects the default area.
func (h *HTTPHandler) CreateConversation(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req domain.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		l.Warn().Err(err).Msg("invalid create conversation request")
		response.BadRequest(c, err.Error())
		return
	}

	summary, created, err := h.chatService.CreateConversation(ctx, participant(c), req.Area)
	if err != nil {
		h.writeError(c, err, "failed to create conversation")
		return
	}

	if created {
		response.Created(c, summary)
		return
	}
	response.Success(c, summary)
}

func (h *HTTPHandler) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()

	var req domain.ListConversationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	page, err := h.chatService.ListConversations(ctx, participant(c), req.Page, req.PageSize, req.Query)
	if err != nil {
		h.writeError(c, err, "failed to list conversations")
		return
	}
	response.Success(c, page)
}

func (h *HTTPHandler) GetConversation(c *gin.Context) {
	summary, err := h.chatService.GetConversation(c.Request.Context(), participant(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to get conversation")
		return
	}
	response.Success(c, summary)
}

func (h *HTTPHandler) ListMessages(c *gin.Context) {
	var req domain.ListMessagesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	page, err := h.chatService.ListMessages(c.Request.Context(), participant(c), c.Param("id"), req.Page, req.PageSize)
	if err != nil {
		h.writeError(c, err, "failed to list messages")
		return
	}
	response.Success(c, page)
}

func (h *HTTPHandler) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req domain.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid send message request")
		response.BadRequest(c, err.Error())
		return
	}

	msg, err := h.chatService.SendMessage(ctx, participant(c), c.Param("id"), req.Content)
	if err != nil {
		h.writeError(c, err, "failed to send message")
		return
	}
	response.Created(c, msg)
}

func (h *HTTPHandler) MarkRead(c *gin.Context) {
	updated, err := h.chatService.MarkRead(c.Request.Context(), participant(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to mark messages read")
		return
	}
	response.Success(c, gin.H{"updated": updated})
}

// OpenConversation marks the counterpart's messages read and returns the latest page.
func (h *HTTPHandler) OpenConversation(c *gin.Context) {
	var req domain.ListMessagesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.chatService.OpenConversation(c.Request.Context(), participant(c), c.Param("id"), req.PageSize)
	if err != nil {
		h.writeError(c, err, "failed to open conversation")
		return
	}
	response.Success(c, result)
}

func (h *HTTPHandler) UnreadCount(c *gin.Context) {
	count, err := h.chatService.UnreadCount(c.Request.Context(), participant(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to count unread messages")
		return
	}
	response.Success(c, gin.H{"count": count})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func (h *HTTPHandler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrConversationNotFound):
		response.NotFound(c, "conversation not found")
	case errors.Is(err, service.ErrNotParticipant):
		response.Forbidden(c, "not a participant of this conversation")
	case errors.Is(err, service.ErrForbiddenClass):
		response.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrInvalidContent), errors.Is(err, service.ErrInvalidArea):
		response.BadRequest(c, err.Error())
	default:
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Str(log.FieldConversationID, c.Param("id")).Msg(fallback)
		response.InternalError(c, fallback)
	}
}

func participant(c *gin.Context) domain.Participant {
	p := middleware.GetParticipant(c)
	return domain.Participant{
		ID:          p.ID,
		Class:       domain.SenderClass(p.Class),
		DisplayName: p.DisplayName,
		Area:        domain.NormalizeArea(p.Area),
	}
}
