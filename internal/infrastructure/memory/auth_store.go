package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

type storedKey struct {
	userID       string
	passwordHash string
	expires      int64
	roles        []string
}

// AuthStore simulates the database server's credential database. Passwords
// are digested before storage, matching the at-rest behavior of a real
// _users database.
type AuthStore struct {
	mu   sync.RWMutex
	keys map[string]storedKey
}

func NewAuthStore() *AuthStore {
	return &AuthStore{keys: make(map[string]storedKey)}
}

func (a *AuthStore) StoreKey(_ context.Context, userID, key, password string, expiresMS int64, roles []string) error {
	sum := sha256.Sum256([]byte(password))
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys[key] = storedKey{
		userID:       userID,
		passwordHash: hex.EncodeToString(sum[:]),
		expires:      expiresMS,
		roles:        append([]string(nil), roles...),
	}
	return nil
}

// RemoveKeys is idempotent; unknown keys are skipped.
func (a *AuthStore) RemoveKeys(_ context.Context, keys []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, k := range keys {
		delete(a.keys, k)
	}
	return nil
}

func (a *AuthStore) RemoveExpired(_ context.Context, nowMS int64) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	removed := 0
	for k, v := range a.keys {
		if v.expires <= nowMS {
			delete(a.keys, k)
			removed++
		}
	}
	return removed, nil
}

// HasKey reports whether a key is stored, for tests.
func (a *AuthStore) HasKey(key string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.keys[key]
	return ok
}
