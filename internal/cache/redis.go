// Package cache stores deterministic redaction results in Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/redact/internal/config"
	"github.com/raaihank/redact/internal/logger"
	"github.com/raaihank/redact/internal/privacy"
)

// ResultCache handles Redis-based caching of redaction results. Lookup
// failures are logged and reported as misses.
type ResultCache struct {
	client *redis.Client
	config config.CacheConfig
	logger *logger.Logger

	hits    atomic.Int64
	misses  atomic.Int64
	skipped atomic.Int64
}

// NewResultCache connects to Redis and verifies the connection.
func NewResultCache(cfg config.CacheConfig, log *logger.Logger) (*ResultCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.MaxConnections > 0 {
		opts.PoolSize = cfg.MaxConnections
	}
	opts.MinIdleConns = cfg.MinIdleConns
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "redact"
	}

	c := &ResultCache{
		client: redis.NewClient(opts),
		config: cfg,
		logger: log.WithComponent("cache"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		c.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c.logger.Info("Result cache initialized",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Duration("default_ttl", cfg.DefaultTTL))

	return c, nil
}

// Key builds the cache key for text redacted at level by d.
func (c *ResultCache) Key(d *privacy.Detector, text string, level privacy.Level) string {
	return resultKey(c.config.KeyPrefix, text, level, d.Enabled(), d.Strategy(), d.SubstitutionMode(), d.GetEnabledRules())
}

// Get looks up a result. Synthetic levels are never cached.
func (c *ResultCache) Get(ctx context.Context, key string, level privacy.Level) (*CachedResult, bool) {
	if !level.Deterministic() {
		c.skipped.Add(1)
		return nil, false
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return nil, false
	}
	if err != nil {
		c.misses.Add(1)
		c.logger.Warn("Cache lookup failed", zap.Error(err))
		return nil, false
	}

	var entry CachedResult
	if err := json.Unmarshal(data, &entry); err != nil {
		c.misses.Add(1)
		c.logger.Warn("Dropping corrupted cache entry", zap.Error(err))
		c.client.Del(ctx, key)
		return nil, false
	}

	c.hits.Add(1)
	return &entry, true
}

// Set stores a result with the default TTL. Synthetic levels are ignored.
func (c *ResultCache) Set(ctx context.Context, key string, entry *CachedResult) error {
	if !entry.Level.Deterministic() {
		return nil
	}

	entry.CachedAt = time.Now()
	entry.TTL = int64(c.config.DefaultTTL.Seconds())

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal result for caching: %w", err)
	}

	if err := c.client.Set(ctx, key, data, c.config.DefaultTTL).Err(); err != nil {
		c.logger.Warn("Failed to cache result", zap.Error(err))
		return fmt.Errorf("failed to cache result: %w", err)
	}
	return nil
}

// GetStats returns cache performance statistics
func (c *ResultCache) GetStats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Skipped: c.skipped.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	info, err := c.client.Info(ctx, "memory").Result()
	if err != nil {
		return stats, fmt.Errorf("failed to get Redis info: %w", err)
	}
	stats.MemoryUsage = parseUsedMemory(info)

	if keys, err := c.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}
	return stats, nil
}

// Clear removes every key under the configured prefix.
func (c *ResultCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.config.KeyPrefix+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	const batchSize = 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := c.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	c.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (c *ResultCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// resultKey hashes the text so no PII appears in key names. Results from a
// disabled detector get their own namespace so they never answer for an
// enabled one.
func resultKey(prefix, text string, level privacy.Level, enabled bool, strategy privacy.OverlapStrategy, mode privacy.SubstitutionMode, rules []privacy.Category) string {
	sum := sha256.Sum256([]byte(text))

	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = string(r)
	}

	state := "on"
	if !enabled {
		state = "off"
	}

	return fmt.Sprintf("%s:result:%s:%d:%s:%s:%s:%s",
		prefix, state, level, strategy, mode, strings.Join(names, ","), hex.EncodeToString(sum[:]))
}

func parseUsedMemory(info string) int64 {
	for _, line := range strings.Split(info, "\r\n") {
		if v, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if mem, err := strconv.ParseInt(v, 10, 64); err == nil {
				return mem
			}
		}
	}
	return 0
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	start := 0
	if i := strings.Index(url, "://"); i >= 0 && i < at {
		start = i + 3
	}
	colon := strings.Index(url[start:at], ":")
	if colon < 0 {
		return url
	}
	return url[:start+colon+1] + "***" + url[at:]
}
