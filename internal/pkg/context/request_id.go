// Package context carries request-scoped metadata between the transport
// middlewares and the layers that log or echo it. Values live behind an
// unexported key type so other packages cannot collide with them.
package context

import "context"

type key int

const requestIDKey key = iota

// WithRequestID tags ctx with the id the request-id middleware minted or
// adopted from the incoming X-Request-Id header.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID returns the request id, or "" when ctx carries none.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
