package chatclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
	ErrBadRequest    = errors.New("bad request")
	ErrEmptyMessage  = errors.New("message is empty")
	ErrFeedClosed    = errors.New("event feed closed")
	ErrSessionClosed = errors.New("session closed")
	ErrEventsDropped = errors.New("feed events dropped")
)

// APIError is a non-2xx answer from the chat API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("chat api: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Is lets callers match API errors against the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrBadRequest:
		return e.StatusCode == http.StatusBadRequest
	}
	return false
}
