// Per-client rate limiting for player actions.
// One token bucket per client address, kept in memory.
package api

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter allows up to maxRate requests per client per period, refilled
// smoothly.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	period  time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing maxRate requests per period.
// A maxRate of zero or less disables limiting.
func NewRateLimiter(maxRate int, period time.Duration) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Inf,
		burst:   maxRate,
		period:  period,
	}
	if maxRate > 0 {
		rl.limit = rate.Every(period / time.Duration(maxRate))
	}
	return rl
}

func (rl *RateLimiter) get(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[client]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[client] = c
	}
	c.lastSeen = time.Now()
	return c.limiter
}

// Allow consumes one request for client and reports whether it is within limits.
func (rl *RateLimiter) Allow(client string) bool {
	if rl.limit == rate.Inf {
		return true
	}
	return rl.get(client).Allow()
}

// RetryAfter returns the whole seconds until client may send again.
func (rl *RateLimiter) RetryAfter(client string) int {
	if rl.limit == rate.Inf {
		return 0
	}
	r := rl.get(client).Reserve()
	defer r.Cancel()
	return int(math.Ceil(r.Delay().Seconds()))
}

// Sweep forgets clients idle for more than two periods, checking once per
// period until ctx is cancelled.
func (rl *RateLimiter) Sweep(ctx context.Context) {
	t := time.NewTicker(rl.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-2 * rl.period)
	for client, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, client)
		}
	}
}

// RateLimitMiddleware rejects requests over the limit with 429.
func RateLimitMiddleware(rl *RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		if !rl.Allow(client) {
			w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter(client)))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// clientIP prefers the first X-Forwarded-For hop, then the remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
