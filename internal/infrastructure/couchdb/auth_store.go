package couchdb

import (
	"context"
	"net/http"
	"strings"

	kivik "github.com/go-kivik/kivik/v4"

	"github.com/baechuer/sofauth/internal/domain"
)

const authDocPrefix = "org.couchdb.user:"

// authUserDoc is the credential record the server's authentication database
// understands. The server hashes the password field at rest on write.
type authUserDoc struct {
	ID       string   `json:"_id"`
	Rev      string   `json:"_rev,omitempty"`
	Type     string   `json:"type"`
	Name     string   `json:"name"`
	Password string   `json:"password,omitempty"`
	UserID   string   `json:"user_id"`
	Expires  int64    `json:"expires"`
	Roles    []string `json:"roles"`
}

// AuthStore manages session-key credentials in the server's authentication
// database (usually _users).
type AuthStore struct {
	db *kivik.DB
}

func NewAuthStore(client *kivik.Client, authDBName string) *AuthStore {
	return &AuthStore{db: client.DB(authDBName)}
}

func (a *AuthStore) StoreKey(ctx context.Context, userID, key, password string, expiresMS int64, roles []string) error {
	doc := authUserDoc{
		ID:      authDocPrefix + key,
		Type:    "user",
		Name:    key,
		UserID:  userID,
		Expires: expiresMS,
		Roles:   append([]string(nil), roles...),
	}
	doc.Password = password

	_, err := a.db.Put(ctx, doc.ID, doc)
	if err != nil && kivik.HTTPStatus(err) == http.StatusConflict {
		var current struct {
			Rev string `json:"_rev"`
		}
		if gerr := a.db.Get(ctx, doc.ID).ScanDoc(&current); gerr == nil {
			doc.Rev = current.Rev
			_, err = a.db.Put(ctx, doc.ID, doc)
		}
	}
	if err != nil {
		return domain.ErrDBUnavailable(err)
	}
	return nil
}

// RemoveKeys deletes credential docs; unknown keys are skipped.
func (a *AuthStore) RemoveKeys(ctx context.Context, keys []string) error {
	for _, key := range keys {
		docID := authDocPrefix + key
		var current struct {
			Rev string `json:"_rev"`
		}
		if err := a.db.Get(ctx, docID).ScanDoc(&current); err != nil {
			if kivik.HTTPStatus(err) == http.StatusNotFound {
				continue
			}
			return domain.ErrDBUnavailable(err)
		}
		if _, err := a.db.Delete(ctx, docID, current.Rev); err != nil && kivik.HTTPStatus(err) != http.StatusNotFound {
			return domain.ErrDBUnavailable(err)
		}
	}
	return nil
}

// RemoveExpired scans the authentication database and deletes credential docs
// whose expiry passed. Only docs this store created are considered.
func (a *AuthStore) RemoveExpired(ctx context.Context, nowMS int64) (int, error) {
	rs := a.db.AllDocs(ctx, kivik.Param("include_docs", true))
	defer rs.Close()

	removed := 0
	for rs.Next() {
		id, err := rs.ID()
		if err != nil {
			return removed, domain.ErrDBUnavailable(err)
		}
		if !strings.HasPrefix(id, authDocPrefix) {
			continue
		}
		var doc authUserDoc
		if err := rs.ScanDoc(&doc); err != nil {
			return removed, domain.ErrDBUnavailable(err)
		}
		if doc.UserID == "" || doc.Expires == 0 || doc.Expires > nowMS {
			continue
		}
		if _, err := a.db.Delete(ctx, id, doc.Rev); err != nil {
			if kivik.HTTPStatus(err) == http.StatusNotFound {
				continue
			}
			return removed, domain.ErrDBUnavailable(err)
		}
		removed++
	}
	if err := rs.Err(); err != nil {
		return removed, domain.ErrDBUnavailable(err)
	}
	return removed, nil
}
