package audit

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/raaihank/redact/internal/privacy"
)

// Job is one redaction run. It carries counts only, never text.
type Job struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Source      string    `db:"source" json:"source"`
	Level       int       `db:"level" json:"level"`
	Strategy    string    `db:"strategy" json:"strategy"`
	EntityCount int       `db:"entity_count" json:"entity_count"`
	Counts      Counts    `db:"counts" json:"counts"`
	InputChars  int       `db:"input_chars" json:"input_chars"`
	DurationMS  int64     `db:"duration_ms" json:"duration_ms"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// NewJob builds a Job from per-category findings.
func NewJob(source string, level privacy.Level, strategy privacy.OverlapStrategy, findings []privacy.Finding, inputChars int, d time.Duration) *Job {
	counts := make(Counts, len(findings))
	total := 0
	for _, f := range findings {
		counts[string(f.Category)] += f.Count
		total += f.Count
	}
	return &Job{
		ID:          uuid.New(),
		Source:      source,
		Level:       int(level),
		Strategy:    string(strategy),
		EntityCount: total,
		Counts:      counts,
		InputChars:  inputChars,
		DurationMS:  d.Milliseconds(),
	}
}

// Counts maps a category name to the number of entities found. Stored as jsonb.
type Counts map[string]int

// Value implements driver.Valuer.
func (c Counts) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(map[string]int(c))
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Scan implements sql.Scanner.
func (c *Counts) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*c = Counts{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Counts", src)
	}

	m := map[string]int{}
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to decode counts: %w", err)
	}
	*c = m
	return nil
}

// Stats summarizes the job log.
type Stats struct {
	TotalJobs     int64      `db:"total_jobs" json:"total_jobs"`
	TotalEntities int64      `db:"total_entities" json:"total_entities"`
	TotalChars    int64      `db:"total_chars" json:"total_chars"`
	AvgDurationMS float64    `db:"avg_duration_ms" json:"avg_duration_ms"`
	LastJobAt     *time.Time `db:"last_job_at" json:"last_job_at,omitempty"`
}

// Recorder persists jobs.
type Recorder interface {
	Record(ctx context.Context, job *Job) error
}

// Log is a Recorder that can also be queried.
type Log interface {
	Recorder
	Recent(ctx context.Context, limit int) ([]Job, error)
	Stats(ctx context.Context) (*Stats, error)
}

// NopRecorder discards jobs. Used when the audit log is disabled.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(context.Context, *Job) error { return nil }
