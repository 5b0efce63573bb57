// Package user owns the user documents and orchestrates every account
// lifecycle operation against the session store, the db-auth manager and the
// declarative validator.
package user

import (
	"context"

	"github.com/baechuer/sofauth/internal/domain"
)

/*
UserStore
---------
Persistence port for user documents. Implemented by the CouchDB store and the
in-memory store; both enforce revision-checked writes and answer the auth
views (username, email, phone, emailUsername, passwordReset, verifyEmail,
session, plus one view per federated provider).
*/
type UserStore interface {
	Get(ctx context.Context, id string) (*domain.UserDoc, error)
	Put(ctx context.Context, doc *domain.UserDoc) (string, error)
	Delete(ctx context.Context, doc *domain.UserDoc) error
	EnsureViews(ctx context.Context, providers []string) error
	QueryView(ctx context.Context, view, key string, includeDocs bool) ([]domain.ViewRow, error)
	AllDocsRange(ctx context.Context, startKey, endKey string) ([]string, error)
}

/*
Mailer
------
Transactional mail port. Send renders the registered template with data and
delivers it to the recipient. Implementations decide transport (SMTP, noop in
test mode).
*/
type Mailer interface {
	Send(ctx context.Context, template, to string, data map[string]any) error
}

/*
Emitter
-------
Lifecycle event broadcast. Subscribers (audit trail, metrics, broker
forwarding) consume the catalogue in domain/events.go; their failures never
feed back into the calling operation.
*/
type Emitter interface {
	Emit(ctx context.Context, ev domain.Event) error
}
