// Package strategy adapts the user service to the two credential shapes the
// HTTP layer accepts: local username/password logins and bearer session
// tokens.
package strategy

import (
	"context"
	"strings"

	"github.com/baechuer/sofauth/internal/domain"
	"github.com/baechuer/sofauth/internal/session"
)

// SessionConfirmer is the slice of the user service the bearer strategy
// needs.
type SessionConfirmer interface {
	ConfirmSession(ctx context.Context, key, password string) (*session.View, error)
}

// Bearer authenticates "key:password" access tokens minted at login.
type Bearer struct {
	sessions SessionConfirmer
}

func NewBearer(sessions SessionConfirmer) *Bearer {
	return &Bearer{sessions: sessions}
}

// Authenticate splits the raw token and confirms it against the session
// store. Malformed tokens fail the same way stale ones do.
func (b *Bearer) Authenticate(ctx context.Context, token string) (*session.View, error) {
	key, password, ok := strings.Cut(token, ":")
	if !ok || key == "" || password == "" {
		return nil, domain.ErrInvalidSessionToken()
	}
	return b.sessions.ConfirmSession(ctx, key, password)
}
