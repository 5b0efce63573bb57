// Package postgres backs the session KV with a single relational table so
// deployments without Redis can still share sessions across processes.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/baechuer/sofauth/internal/domain"
)

// Open dials Postgres through the pgx stdlib driver and verifies the
// connection before handing it out.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, domain.ErrDBUnavailable(err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, domain.ErrDBUnavailable(err)
	}
	return db, nil
}

type SessionAdapter struct {
	db  *sql.DB
	now func() time.Time
}

func NewSessionAdapter(db *sql.DB) *SessionAdapter {
	return &SessionAdapter{db: db, now: time.Now}
}

// WithClock overrides the time source. Tests only.
func (s *SessionAdapter) WithClock(now func() time.Time) *SessionAdapter {
	s.now = now
	return s
}

// EnsureSchema creates the KV table when it does not exist yet. Idempotent,
// safe to run on every boot.
func (s *SessionAdapter) EnsureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS session_kv (
  key        TEXT PRIMARY KEY,
  value      BYTEA NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return domain.ErrDBUnavailable(err)
	}
	const idx = `CREATE INDEX IF NOT EXISTS session_kv_expires_at_idx ON session_kv (expires_at);`
	if _, err := s.db.ExecContext(ctx, idx); err != nil {
		return domain.ErrDBUnavailable(err)
	}
	return nil
}

func (s *SessionAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	const q = `
INSERT INTO session_kv (key, value, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at;
`
	expiresAt := s.now().Add(ttl)
	if _, err := s.db.ExecContext(ctx, q, key, value, expiresAt); err != nil {
		return domain.ErrDBUnavailable(err)
	}
	return nil
}

func (s *SessionAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	const q = `
SELECT value
FROM session_kv
WHERE key = $1 AND expires_at > $2
LIMIT 1;
`
	var value []byte
	err := s.db.QueryRowContext(ctx, q, key, s.now()).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrKeyNotFound()
		}
		return nil, domain.ErrDBUnavailable(err)
	}
	return value, nil
}

func (s *SessionAdapter) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ErrDBUnavailable(err)
	}
	const q = `DELETE FROM session_kv WHERE key = $1;`
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, q, key); err != nil {
			_ = tx.Rollback()
			return domain.ErrDBUnavailable(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.ErrDBUnavailable(err)
	}
	return nil
}

// Sweep removes rows whose TTL elapsed and reports how many went away.
func (s *SessionAdapter) Sweep(ctx context.Context) (int, error) {
	const q = `DELETE FROM session_kv WHERE expires_at <= $1;`
	res, err := s.db.ExecContext(ctx, q, s.now())
	if err != nil {
		return 0, domain.ErrDBUnavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.ErrDBUnavailable(err)
	}
	return int(n), nil
}

func (s *SessionAdapter) Quit() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
