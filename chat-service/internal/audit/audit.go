package audit

import (
	"context"

	"github.com/weiawesome/club-chat/pkg/log"
)

// Audit actions for chat-service.
const (
	ActionCreateConversation = "chat.create_conversation"
	ActionSendMessage        = "chat.send_message"
	ActionMarkRead           = "chat.mark_read"
	ActionSubscribe          = "chat.subscribe"
	ActionAuthFailed         = "chat.auth_failed"
	ActionAccessDenied       = "chat.access_denied"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, userID, conversationID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(log.FieldConversationID, conversationID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action, userID, conversationID, detail, msg string) {
	l := log.Ctx(ctx)
	l.Warn().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(log.FieldConversationID, conversationID).
		Str(FieldDetail, detail).
		Msg(msg)
}
