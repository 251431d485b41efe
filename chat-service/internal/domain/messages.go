package domain

// WebSocket message types from client.
const (
	MsgTypeAuth        = "auth"
	MsgTypeSubscribe   = "subscribe"
	MsgTypeUnsubscribe = "unsubscribe"
	MsgTypePing        = "ping"
)

// WebSocket message types to client.
const (
	MsgTypeAuthResult   = "auth_result"
	MsgTypeSubscribed   = "subscribed"
	MsgTypeUnsubscribed = "unsubscribed"
	MsgTypeEvent        = "event"
	MsgTypeError        = "error"
	MsgTypePong         = "pong"
)

// Error codes
const (
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeUnavailable   = "UNAVAILABLE"
)

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

type AuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// SubscribeMessage asks for a conversation's feed. A non-empty SenderClass
// limits delivery to messages from that class, which is how an unread badge
// listens for the counterpart only.
type SubscribeMessage struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id"`
	SenderClass    SenderClass `json:"sender_class,omitempty"`
}

type UnsubscribeMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// Server -> Client messages

type AuthResultMessage struct {
	Type    string      `json:"type"`
	Success bool        `json:"success"`
	UserID  string      `json:"user_id,omitempty"`
	Class   SenderClass `json:"class,omitempty"`
	Message string      `json:"message,omitempty"`
}

type SubscribedMessage struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id"`
	SenderClass    SenderClass `json:"sender_class,omitempty"`
}

type UnsubscribedMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// EventMessage carries one inserted or updated message row.
type EventMessage struct {
	Type           string  `json:"type"`
	EventType      string  `json:"event_type"`
	ConversationID string  `json:"conversation_id"`
	Message        Message `json:"message"`
}

type ErrorMessage struct {
	Type           string `json:"type"`
	Code           string `json:"code"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}
