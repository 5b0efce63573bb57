package memory

import (
	"context"
	"sync"
	"time"

	"github.com/baechuer/sofauth/internal/domain"
)

type kvEntry struct {
	value     []byte
	expiresAt time.Time
}

// SessionAdapter is the in-process KV backend, the default when no external
// store is configured. Expired entries are dropped lazily on read.
type SessionAdapter struct {
	mu      sync.RWMutex
	entries map[string]kvEntry
	now     func() time.Time
}

func NewSessionAdapter() *SessionAdapter {
	return &SessionAdapter{
		entries: make(map[string]kvEntry),
		now:     time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *SessionAdapter) WithClock(now func() time.Time) *SessionAdapter {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *SessionAdapter) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = kvEntry{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *SessionAdapter) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, domain.ErrKeyNotFound()
	}
	if !e.expiresAt.After(s.now()) {
		delete(s.entries, key)
		return nil, domain.ErrKeyNotFound()
	}
	return e.value, nil
}

// Delete is idempotent; missing keys are not an error.
func (s *SessionAdapter) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

func (s *SessionAdapter) Quit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]kvEntry)
	return nil
}

// Len reports the live entry count, for tests and the janitor log line.
func (s *SessionAdapter) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
