package ratelimit

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/qurrota/apiserver/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "ratelimit:"

type counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	ExpireNX(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Limiter is a fixed-window request counter stored in Redis.
// A nil client disables limiting.
type Limiter struct {
	client counter
	limit  int
	window time.Duration
	log    *zap.Logger
}

func New(client *redis.Client, limit int, window time.Duration, log *zap.Logger) *Limiter {
	l := &Limiter{limit: limit, window: window, log: log}
	if client != nil {
		l.client = client
	}
	return l
}

// Allow counts one hit against key and reports whether it is within the
// limit. The window starts with the first hit. Every hit sets the TTL if the
// key has none, so a lost EXPIRE is repaired by the next request.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l == nil || l.client == nil || l.limit <= 0 {
		return true, nil
	}
	key = keyPrefix + key
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return true, err
	}
	if err := l.client.ExpireNX(ctx, key, l.window).Err(); err != nil {
		return true, err
	}
	return count <= int64(l.limit), nil
}

// Middleware rejects requests over the limit with 429. Keys combine the
// route name with the client IP. Redis errors let the request through.
// A nil Limiter passes every request.
func (l *Limiter) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := route + ":" + clientIP(r)
			allowed, err := l.Allow(r.Context(), key)
			if err != nil {
				l.log.Error("rate limiter failed", zap.Error(err), zap.String("key", key))
			}
			if !allowed {
				metrics.RecordRateLimited(route)
				l.log.Warn("rate limit exceeded",
					zap.String("key", key),
					zap.Int("limit", l.limit),
					zap.Duration("window", l.window),
				)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"message": "Too many requests, please try again later",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
