// Package file stores session records as JSON files under a sessions root.
// Suited to single-node deployments without Redis or Postgres.
package file

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/baechuer/sofauth/internal/domain"
)

type record struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SessionAdapter struct {
	fs   afero.Fs
	root string
	now  func() time.Time
}

func NewSessionAdapter(fsys afero.Fs, root string) (*SessionAdapter, error) {
	if err := fsys.MkdirAll(root, 0o700); err != nil {
		return nil, err
	}
	return &SessionAdapter{fs: fsys, root: root, now: time.Now}, nil
}

// WithClock overrides the time source, for tests.
func (s *SessionAdapter) WithClock(now func() time.Time) *SessionAdapter {
	if now != nil {
		s.now = now
	}
	return s
}

// Keys carry namespace prefixes and arbitrary token bytes; encode them so
// every key maps to a flat, safe file name.
func (s *SessionAdapter) path(key string) string {
	name := base64.RawURLEncoding.EncodeToString([]byte(key))
	return filepath.Join(s.root, name+".json")
}

func (s *SessionAdapter) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	raw, err := json.Marshal(record{Value: value, ExpiresAt: s.now().Add(ttl)})
	if err != nil {
		return domain.ErrInternal(err)
	}
	return afero.WriteFile(s.fs, s.path(key), raw, 0o600)
}

func (s *SessionAdapter) Get(_ context.Context, key string) ([]byte, error) {
	raw, err := afero.ReadFile(s.fs, s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrKeyNotFound()
		}
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, domain.ErrInternal(err)
	}
	if !rec.ExpiresAt.After(s.now()) {
		_ = s.fs.Remove(s.path(key))
		return nil, domain.ErrKeyNotFound()
	}
	return rec.Value, nil
}

func (s *SessionAdapter) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		if err := s.fs.Remove(s.path(k)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (s *SessionAdapter) Quit() error { return nil }

// Sweep removes expired records; the janitor calls this periodically since
// files have no native TTL.
func (s *SessionAdapter) Sweep(ctx context.Context) (int, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		full := filepath.Join(s.root, entry.Name())
		raw, err := afero.ReadFile(s.fs, full)
		if err != nil {
			continue
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil || !rec.ExpiresAt.After(s.now()) {
			if s.fs.Remove(full) == nil {
				removed++
			}
		}
	}
	return removed, nil
}
