// Package security holds request admission controls for the HTTP API.
package security

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/raaihank/redact/internal/config"
)

// idleTTL is how long a client limiter survives without requests.
const idleTTL = time.Hour

// RateLimiter enforces per-client and global request limits with token
// buckets from golang.org/x/time/rate. Limits are per minute; the burst
// equals the per-minute budget.
type RateLimiter struct {
	enabled   bool
	global    *rate.Limiter
	perClient rate.Limit
	burst     int

	mu      sync.Mutex
	clients map[string]*clientLimiter
	now     func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter from the security config. A global
// budget of zero means no global limit.
func NewRateLimiter(cfg config.SecurityConfig) *RateLimiter {
	rl := &RateLimiter{
		enabled:   cfg.RateLimit.Enabled,
		perClient: perMinute(cfg.RateLimit.RequestsPerMin),
		burst:     max(cfg.RateLimit.RequestsPerMin, 1),
		clients:   make(map[string]*clientLimiter),
		now:       time.Now,
	}
	if cfg.RateLimit.GlobalPerMin > 0 {
		rl.global = rate.NewLimiter(perMinute(cfg.RateLimit.GlobalPerMin), cfg.RateLimit.GlobalPerMin)
	}
	return rl
}

func perMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}

// Allow checks if a request from the given client is allowed.
func (r *RateLimiter) Allow(clientIP string) bool {
	if !r.enabled {
		return true
	}
	if r.global != nil && !r.global.Allow() {
		return false
	}

	r.mu.Lock()
	c, ok := r.clients[clientIP]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(r.perClient, r.burst)}
		r.clients[clientIP] = c
	}
	c.lastSeen = r.now()
	r.mu.Unlock()

	return c.limiter.Allow()
}

// Clients returns the number of tracked clients.
func (r *RateLimiter) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// CleanupOldBuckets drops limiters idle for longer than an hour.
func (r *RateLimiter) CleanupOldBuckets() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idleTTL)
	removed := 0
	for ip, c := range r.clients {
		if c.lastSeen.Before(cutoff) {
			delete(r.clients, ip)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine runs CleanupOldBuckets periodically until ctx is done.
func (r *RateLimiter) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.CleanupOldBuckets()
			}
		}
	}()
}
