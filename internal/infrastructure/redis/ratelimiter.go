package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// fixedWindowScript bumps the per-key counter, stamping the window TTL on
// first touch so INCR and PEXPIRE stay atomic. Returns {count, pttl ms}.
const fixedWindowScript = `
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {c, redis.call("PTTL", KEYS[1])}
`

// FixedWindowLimiter counts hits per key in fixed windows backed by Redis.
// A nil client disables limiting entirely; the middleware fails open.
type FixedWindowLimiter struct {
	rdb *goredis.Client
}

func NewFixedWindowLimiter(c *Client) *FixedWindowLimiter {
	l := &FixedWindowLimiter{}
	if c != nil {
		l.rdb = c.rdb
	}
	return l
}

// Decision is one limiter verdict. Count includes the hit being decided.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration // zero when allowed
	ResetAt    time.Time     // window end, best effort
	Count      int
}

// AllowFixedWindow records a hit against key and reports whether it stays
// within limit for the window. Non-positive limits and a missing client
// both allow everything.
func (l *FixedWindowLimiter) AllowFixedWindow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 || l.rdb == nil {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	ttlms := window.Milliseconds()
	if ttlms <= 0 {
		window = time.Minute
		ttlms = window.Milliseconds()
	}

	res, err := l.rdb.Eval(ctx, fixedWindowScript, []string{key}, ttlms).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit redis eval: %w", err)
	}
	arr, ok := res.([]any)
	if !ok || len(arr) != 2 {
		return Decision{}, fmt.Errorf("ratelimit redis eval: unexpected result %T", res)
	}
	count := int(arr[0].(int64))
	ttl := time.Duration(arr[1].(int64)) * time.Millisecond

	d := Decision{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: max(0, limit-count),
		Count:     count,
		ResetAt:   time.Now().Add(ttl),
	}
	if !d.Allowed {
		d.RetryAfter = ttl
		if d.RetryAfter <= 0 {
			d.RetryAfter = window
		}
	}
	return d, nil
}
