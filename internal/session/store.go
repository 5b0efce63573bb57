// Package session implements the token and short-lived key store once, over a
// primitive KV adapter, so every backend behaves identically.
package session

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"time"

	"github.com/baechuer/sofauth/internal/domain"
)

// Adapter is the primitive KV contract the backends implement. Get must not
// return entries past their TTL; lazy deletion on read is fine. A miss is
// domain.ErrKeyNotFound.
type Adapter interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
	Quit() error
}

// View is the confirmed-session projection handed to request middleware.
type View struct {
	ID    string   `json:"_id"`
	Roles []string `json:"roles"`
	Key   string   `json:"key"`
}

// Key namespaces. Tokens and named keys share one adapter; the prefixes keep
// an invite code from ever shadowing a session token.
const (
	tokenPrefix = "tk:"
	keyPrefix   = "kv:"
)

type Store struct {
	adapter Adapter
	now     func() time.Time
}

func NewStore(adapter Adapter) *Store {
	return &Store{adapter: adapter, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

// StoreToken persists the record under its key until the token's expiry. An
// already-expired token is dropped instead of stored.
func (s *Store) StoreToken(ctx context.Context, tok *domain.SessionToken) error {
	ttl := time.Duration(tok.Expires-s.now().UnixMilli()) * time.Millisecond
	if ttl <= 0 {
		return s.adapter.Delete(ctx, tokenPrefix+tok.Key)
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return domain.ErrInternal(err)
	}
	return s.adapter.Set(ctx, tokenPrefix+tok.Key, raw, ttl)
}

func (s *Store) FetchToken(ctx context.Context, key string) (*domain.SessionToken, error) {
	raw, err := s.adapter.Get(ctx, tokenPrefix+key)
	if err != nil {
		return nil, err
	}
	var tok domain.SessionToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, domain.ErrInternal(err)
	}
	if tok.Expires <= s.now().UnixMilli() {
		_ = s.adapter.Delete(ctx, tokenPrefix+key)
		return nil, domain.ErrKeyNotFound()
	}
	return &tok, nil
}

func (s *Store) DeleteTokens(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = tokenPrefix + k
	}
	return s.adapter.Delete(ctx, prefixed...)
}

// ConfirmToken authenticates a key/password pair against the stored record.
// Misses, expired records and password mismatches all collapse into the same
// benign error.
func (s *Store) ConfirmToken(ctx context.Context, key, password string) (*View, error) {
	tok, err := s.FetchToken(ctx, key)
	if err != nil {
		return nil, domain.ErrInvalidSessionToken()
	}
	if subtle.ConstantTimeCompare([]byte(tok.Password), []byte(password)) != 1 {
		return nil, domain.ErrInvalidSessionToken()
	}
	return &View{ID: tok.ID, Roles: tok.Roles, Key: tok.Key}, nil
}

// StoreKey stores a named short-lived value (invite codes and the like).
func (s *Store) StoreKey(ctx context.Context, name string, ttl time.Duration, value string) error {
	return s.adapter.Set(ctx, keyPrefix+name, []byte(value), ttl)
}

func (s *Store) GetKey(ctx context.Context, name string) (string, error) {
	raw, err := s.adapter.Get(ctx, keyPrefix+name)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *Store) DeleteKeys(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	prefixed := make([]string, len(names))
	for i, n := range names {
		prefixed[i] = keyPrefix + n
	}
	return s.adapter.Delete(ctx, prefixed...)
}

// Quit releases the backend.
func (s *Store) Quit() error {
	return s.adapter.Quit()
}
