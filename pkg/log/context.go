package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// WithActor tags the context's logger with the authenticated participant so
// every line logged below the auth check names who caused it.
func WithActor(ctx context.Context, userID, senderClass string) context.Context {
	if userID == "" {
		return ctx
	}
	l := Ctx(ctx).With().Str(FieldUserID, userID).Str(FieldSenderClass, senderClass).Logger()
	return WithLogger(ctx, l)
}

// Ctx returns the request-scoped logger, or the global one.
func Ctx(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
			return l
		}
	}
	return L()
}
