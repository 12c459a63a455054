package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig configures the per-client request budget on the API.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// DefaultRateLimitConfig returns sensible defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           false,
		RequestsPerMinute: 60,
	}
}

// Limiter enforces a fixed per-minute request budget per client. With a
// Redis client the window counters are shared across instances; without
// one a local in-process window stands in. A counter failure fails open:
// an unavailable limiter never blocks legitimate traffic.
type Limiter struct {
	redis  *redis.Client
	logger *zap.Logger
	limit  int

	mu      sync.Mutex
	windows map[string]*window

	now func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

const rateLimitWindow = time.Minute

// incrScript bumps the window counter, arming its expiry on first use.
var incrScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// NewLimiter creates a limiter. redisClient may be nil for a purely local
// limiter.
func NewLimiter(redisClient *redis.Client, cfg RateLimitConfig, logger *zap.Logger) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		redis:   redisClient,
		logger:  logger,
		limit:   cfg.RequestsPerMinute,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// allow consumes one request from the client's budget and reports whether
// it fit, how much remains, and when the window resets.
func (l *Limiter) allow(ctx context.Context, clientID string) (bool, int, time.Duration) {
	if l.redis != nil {
		return l.allowRedis(ctx, clientID)
	}
	return l.allowLocal(clientID)
}

func (l *Limiter) allowRedis(ctx context.Context, clientID string) (bool, int, time.Duration) {
	key := fmt.Sprintf("intelstream:ratelimit:%s:minute", clientID)

	count, err := incrScript.Run(ctx, l.redis, []string{key}, rateLimitWindow.Milliseconds()).Int()
	if err != nil {
		l.logger.Warn("rate limit check failed, allowing request", zap.Error(err))
		return true, l.limit, 0
	}

	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	ttl, _ := l.redis.TTL(ctx, key).Result()
	return count <= l.limit, remaining, ttl
}

func (l *Limiter) allowLocal(clientID string) (bool, int, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[clientID]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(rateLimitWindow)}
		l.windows[clientID] = w
	}
	w.count++

	remaining := l.limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return w.count <= l.limit, remaining, w.resetAt.Sub(now)
}

// Middleware applies the budget to every request passing through it.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, remaining, reset := l.allow(r.Context(), clientIP(r))

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			retry := int(reset.Seconds())
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":       "rate_limit_exceeded",
				"retry_after": retry,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port; the router's RealIP middleware has already
// resolved forwarding headers by the time this runs.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
