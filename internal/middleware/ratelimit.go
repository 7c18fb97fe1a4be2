package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"multimodal-agent/internal/cache"
	"multimodal-agent/internal/services/agent"
)

// Limiter decides whether a client may make another request.
type Limiter interface {
	Allow(ctx context.Context, clientIP string) bool
}

// RateLimit rejects requests from clients that exceed limiter with 429.
func RateLimit(limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := getClientIP(r)

			if !limiter.Allow(r.Context(), clientIP) {
				log.Warn().
					Str("client_ip", clientIP).
					Str("url", r.URL.String()).
					Msg("Rate limit exceeded")

				w.Header().Set("Retry-After", "60")
				writeError(w, r, http.StatusTooManyRequests, agent.KindRateLimited, "Rate limit exceeded. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP returns the host part of RemoteAddr. Forwarding headers are
// only honoured through chi's RealIP middleware, which rewrites RemoteAddr.
func getClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// MemoryLimiter is a per-process token bucket per client. Buckets that have
// been idle long enough to refill completely are dropped.
type MemoryLimiter struct {
	requestsPerMinute int
	burstSize         int
	refillWindow      time.Duration
	now               func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientLimit
	lastSweep time.Time
}

type clientLimit struct {
	tokens     int
	lastRefill time.Time
}

func NewMemoryLimiter(requestsPerMinute, burstSize int) *MemoryLimiter {
	refill := time.Minute
	if requestsPerMinute > 0 {
		refill = max(time.Second, time.Duration(float64(burstSize)/float64(requestsPerMinute)*float64(time.Minute)))
	}
	return &MemoryLimiter{
		requestsPerMinute: requestsPerMinute,
		burstSize:         burstSize,
		refillWindow:      refill,
		now:               time.Now,
		clients:           make(map[string]*clientLimit),
	}
}

func (rl *MemoryLimiter) Allow(_ context.Context, clientIP string) bool {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.sweep(now)

	client, exists := rl.clients[clientIP]
	if !exists {
		client = &clientLimit{
			tokens:     rl.burstSize,
			lastRefill: now,
		}
		rl.clients[clientIP] = client
	}

	tokensToAdd := int(now.Sub(client.lastRefill).Minutes() * float64(rl.requestsPerMinute))
	if tokensToAdd > 0 {
		client.tokens = min(client.tokens+tokensToAdd, rl.burstSize)
		client.lastRefill = now
	}

	if client.tokens > 0 {
		client.tokens--
		return true
	}
	return false
}

// sweep drops full-refilled buckets at most once per refill window. A
// dropped client starts again with a full bucket, which it would have had
// anyway.
func (rl *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.refillWindow {
		return
	}
	rl.lastSweep = now
	for ip, client := range rl.clients {
		if now.Sub(client.lastRefill) >= rl.refillWindow {
			delete(rl.clients, ip)
		}
	}
}

// WindowCounter counts hits in an expiring window.
type WindowCounter interface {
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RedisLimiter is a fixed-window limiter shared by every instance that uses
// the same Redis. It fails open when Redis is unavailable.
type RedisLimiter struct {
	counter           WindowCounter
	requestsPerMinute int
	now               func() time.Time
}

func NewRedisLimiter(counter WindowCounter, requestsPerMinute int) *RedisLimiter {
	return &RedisLimiter{
		counter:           counter,
		requestsPerMinute: requestsPerMinute,
		now:               time.Now,
	}
}

func (rl *RedisLimiter) Allow(ctx context.Context, clientIP string) bool {
	count, err := rl.counter.IncrWindow(ctx, cache.RateLimitKey(clientIP, rl.now()), cache.RateLimitWindow)
	if err != nil {
		log.Warn().Err(err).Str("client_ip", clientIP).Msg("Rate limit counter unavailable, allowing request")
		return true
	}
	return count <= int64(rl.requestsPerMinute)
}
