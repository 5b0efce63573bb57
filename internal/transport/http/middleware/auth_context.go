package middleware

import (
	"context"

	"github.com/baechuer/sofauth/internal/session"
)

type ctxKey string

const ctxSession ctxKey = "session"

// WithSession stores the confirmed session view for downstream handlers.
func WithSession(ctx context.Context, view *session.View) context.Context {
	return context.WithValue(ctx, ctxSession, view)
}

// SessionFromContext returns the session view injected by Auth.
func SessionFromContext(ctx context.Context) (*session.View, bool) {
	v, ok := ctx.Value(ctxSession).(*session.View)
	return v, ok && v != nil
}

// UserIDFromContext is a shortcut for handlers that only need the caller id.
func UserIDFromContext(ctx context.Context) (string, bool) {
	v, ok := SessionFromContext(ctx)
	if !ok {
		return "", false
	}
	return v.ID, v.ID != ""
}
