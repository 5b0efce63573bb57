// Package redis wraps the go-redis client behind the session-adapter
// contract.
package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// pingTimeout bounds the bootstrap health probe so a dead Redis fails fast
// and the caller can fall back to the memory adapter.
const pingTimeout = 2 * time.Second

// Client owns the go-redis connection pool shared by the session adapter
// and the rate limiter.
type Client struct {
	rdb *goredis.Client
}

func New(addr, password string, db int) *Client {
	opts := &goredis.Options{Addr: addr, Password: password, DB: db}
	return &Client{rdb: goredis.NewClient(opts)}
}

func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Addr reports the configured server address, mostly for startup logs.
func (c *Client) Addr() string {
	return c.rdb.Options().Addr
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
