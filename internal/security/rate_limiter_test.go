package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/raaihank/redact/internal/config"
)

func limiterConfig(enabled bool, perClient, global int) config.SecurityConfig {
	var cfg config.SecurityConfig
	cfg.RateLimit.Enabled = enabled
	cfg.RateLimit.RequestsPerMin = perClient
	cfg.RateLimit.GlobalPerMin = global
	return cfg
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(limiterConfig(true, 3, 0))

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"), "request %d", i)
	}
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "other clients have their own bucket")
	assert.Equal(t, 2, rl.Clients())
}

func TestRateLimiterGlobal(t *testing.T) {
	rl := NewRateLimiter(limiterConfig(true, 100, 2))

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.False(t, rl.Allow("c"))
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(limiterConfig(false, 1, 1))

	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow("10.0.0.1"))
	}
	assert.Equal(t, 0, rl.Clients())
}

func TestCleanupOldBuckets(t *testing.T) {
	rl := NewRateLimiter(limiterConfig(true, 10, 0))

	now := time.Now()
	rl.now = func() time.Time { return now.Add(-2 * time.Hour) }
	rl.Allow("stale")
	rl.now = func() time.Time { return now }
	rl.Allow("fresh")

	assert.Equal(t, 1, rl.CleanupOldBuckets())
	assert.Equal(t, 1, rl.Clients())
}
