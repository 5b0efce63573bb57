package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/baechuer/sofauth/internal/domain"
)

// SessionAdapter is the Redis KV backend. TTL handling is native: SET with
// expiry, misses surface as goredis.Nil.
type SessionAdapter struct {
	rdb *goredis.Client
}

func NewSessionAdapter(c *Client) *SessionAdapter {
	var rdb *goredis.Client
	if c != nil {
		rdb = c.rdb
	}
	return &SessionAdapter{rdb: rdb}
}

func (s *SessionAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.rdb == nil {
		return errors.New("redis session adapter not configured")
	}
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *SessionAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	if s.rdb == nil {
		return nil, errors.New("redis session adapter not configured")
	}
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrKeyNotFound()
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *SessionAdapter) Delete(ctx context.Context, keys ...string) error {
	if s.rdb == nil {
		return errors.New("redis session adapter not configured")
	}
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *SessionAdapter) Quit() error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}
