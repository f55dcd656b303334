package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"riskgate/internal/gate"
)

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	RequestsPerMinute int
	BurstSize         int
	// IdleAfter is how long a client may stay quiet before its bucket is dropped.
	IdleAfter time.Duration
}

// Limiter tracks one token bucket per client key.
type Limiter struct {
	cfg     RateLimitConfig
	now     func() time.Time
	mu      sync.Mutex
	clients map[string]*bucket
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// NewLimiter creates a limiter. A non-positive rate disables limiting.
func NewLimiter(cfg RateLimitConfig, now func() time.Time) *Limiter {
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = 2 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{cfg: cfg, now: now, clients: make(map[string]*bucket)}
}

// Enabled reports whether requests are limited at all.
func (l *Limiter) Enabled() bool { return l.cfg.RequestsPerMinute > 0 }

// Allow consumes a token for key.
func (l *Limiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, ok := l.clients[key]
	if !ok {
		l.clients[key] = &bucket{tokens: float64(l.cfg.BurstSize - 1), lastCheck: now}
		return true
	}

	elapsed := now.Sub(state.lastCheck).Seconds()
	state.tokens += elapsed * float64(l.cfg.RequestsPerMinute) / 60.0
	if state.tokens > float64(l.cfg.BurstSize) {
		state.tokens = float64(l.cfg.BurstSize)
	}
	state.lastCheck = now

	if state.tokens >= 1 {
		state.tokens--
		return true
	}
	return false
}

// Prune drops buckets idle for longer than IdleAfter and returns how many were removed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.cfg.IdleAfter)
	removed := 0
	for key, state := range l.clients {
		if state.lastCheck.Before(cutoff) {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// Middleware limits by client IP. Requests carrying the admin secret are exempt.
func (l *Limiter) Middleware(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Enabled() || gate.TokenMatches(c.GetHeader(headerAdminToken), adminToken) {
			c.Next()
			return
		}
		if !l.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			abortError(c, http.StatusTooManyRequests, "too many requests")
			return
		}
		c.Next()
	}
}
