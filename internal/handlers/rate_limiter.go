package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/maplewick/api/internal/platform/httpx"
)

// clientLimiter hands each client key its own token bucket. The bucket
// holds a full window's budget and refills continuously.
type clientLimiter struct {
	limit rate.Limit
	burst int
	clock func() time.Time

	mu      sync.Mutex
	clients map[string]*rate.Limiter
}

func newRateLimiter(limit int, window time.Duration, clock func() time.Time) *clientLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &clientLimiter{
		limit:   rate.Limit(float64(limit) / window.Seconds()),
		burst:   limit,
		clock:   clock,
		clients: make(map[string]*rate.Limiter),
	}
}

func (l *clientLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}

	l.mu.Lock()
	limiter, ok := l.clients[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.clients[key] = limiter
	}
	l.mu.Unlock()

	return limiter.AllowN(l.clock(), 1)
}

// RateLimitMiddleware rejects callers exceeding limit requests per window,
// keyed by client IP.
func RateLimitMiddleware(limit int, window time.Duration, clock func() time.Time) func(http.Handler) http.Handler {
	limiter := newRateLimiter(limit, window, clock)
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientKey(r)) {
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
