package domain

import "errors"

var (
	ErrMissingMessageID      = errors.New("message id is required")
	ErrMissingConversationID = errors.New("conversation id is required")
	ErrMissingCreatedAt      = errors.New("message timestamp is required")
)
