package cache

import (
	"time"

	"github.com/raaihank/redact/internal/privacy"
)

// CachedResult is a stored redaction outcome.
type CachedResult struct {
	RedactedText string            `json:"redacted_text"`
	Entities     []privacy.Entity  `json:"entities"`
	Findings     []privacy.Finding `json:"findings"`
	Level        privacy.Level     `json:"level"`
	CachedAt     time.Time         `json:"cached_at"`
	TTL          int64             `json:"ttl"`
}

// FromResult copies the cacheable fields of a ProcessResult.
func FromResult(r privacy.ProcessResult) *CachedResult {
	return &CachedResult{
		RedactedText: r.RedactedText,
		Entities:     r.Entities,
		Findings:     r.Findings,
		Level:        r.Level,
	}
}

// ProcessResult converts the entry back. original is the text the key was
// built from.
func (c *CachedResult) ProcessResult(original string) privacy.ProcessResult {
	return privacy.ProcessResult{
		RedactedText: c.RedactedText,
		Entities:     c.Entities,
		Findings:     c.Findings,
		Level:        c.Level,
		Original:     original,
	}
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Skipped     int64   `json:"skipped"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}
