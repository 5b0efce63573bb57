package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/baechuer/sofauth/internal/domain"
	"github.com/baechuer/sofauth/internal/infrastructure/redis"
)

// RateLimiter is the fixed-window decision source; the Redis implementation
// lives in infrastructure.
type RateLimiter interface {
	AllowFixedWindow(ctx context.Context, key string, limit int, window time.Duration) (redis.Decision, error)
}

// FixedWindowConfig names one throttled route and its budget.
type FixedWindowConfig struct {
	RouteKey string
	Limit    int
	Window   time.Duration
}

// RateLimitFixedWindow caps requests per identity and window on sensitive
// routes. A nil limiter or a limiter failure fails open: availability wins
// over throttling, and the account lockout still bounds password guessing.
func RateLimitFixedWindow(limiter RateLimiter, cfg FixedWindowConfig, writeErr WriteErrFunc) func(http.Handler) http.Handler {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.RouteKey == "" {
		cfg.RouteKey = "unknown"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			dec, err := limiter.AllowFixedWindow(r.Context(), limiterKey(cfg, r, time.Now()), cfg.Limit, cfg.Window)
			switch {
			case err != nil:
				next.ServeHTTP(w, r)
			case dec.Allowed:
				next.ServeHTTP(w, r)
			default:
				if dec.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(dec.RetryAfter.Seconds())))
				}
				writeErr(w, r, domain.ErrRateLimited(cfg.RouteKey))
			}
		})
	}
}

// limiterKey buckets hits as rl:<route>:<identity>:<window index>. The index
// rotates the redis key every window, so stale counters age out on their own.
// Identity is the confirmed session's user id when present, the client IP
// otherwise.
func limiterKey(cfg FixedWindowConfig, r *http.Request, now time.Time) string {
	sec := int64(cfg.Window.Seconds())
	if sec <= 0 {
		sec = 60
	}
	identity := "ip:" + ClientIP(r)
	if uid, ok := UserIDFromContext(r.Context()); ok {
		identity = "u:" + uid
	}
	return "rl:" + cfg.RouteKey + ":" + identity + ":" + strconv.FormatInt(now.Unix()/sec, 10)
}

// ClientIP extracts the caller address, honoring X-Forwarded-For. Trust it
// only behind a proxy you control.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	return addr
}
