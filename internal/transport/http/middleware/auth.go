package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/baechuer/sofauth/internal/domain"
	"github.com/baechuer/sofauth/internal/session"
)

// SessionAuthenticator confirms a raw "key:password" bearer token.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*session.View, error)
}

type WriteErrFunc func(http.ResponseWriter, *http.Request, error)

// Auth verifies Authorization: Bearer <key:password> against the session
// store and injects the session view into the request context.
func Auth(sessions SessionAuthenticator, writeErr WriteErrFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				writeErr(w, r, err)
				return
			}

			view, err := sessions.Authenticate(r.Context(), token)
			if err != nil {
				writeErr(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), view)))
		})
	}
}

// bearerToken pulls the credential out of the Authorization header. An
// absent header is unauthorized; a present but malformed one is an invalid
// session token.
func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", domain.ErrUnauthorized()
	}
	scheme, rest, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", domain.ErrInvalidSessionToken()
	}
	if token := strings.TrimSpace(rest); token != "" {
		return token, nil
	}
	return "", domain.ErrInvalidSessionToken()
}
