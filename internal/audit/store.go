// Package audit keeps a PostgreSQL log of redaction jobs.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/redact/internal/config"
	"github.com/raaihank/redact/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS redaction_jobs (
	id           UUID PRIMARY KEY,
	source       TEXT NOT NULL,
	level        SMALLINT NOT NULL,
	strategy     TEXT NOT NULL,
	entity_count INTEGER NOT NULL DEFAULT 0,
	counts       JSONB NOT NULL DEFAULT '{}'::jsonb,
	input_chars  INTEGER NOT NULL DEFAULT 0,
	duration_ms  BIGINT NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_redaction_jobs_created_at ON redaction_jobs (created_at DESC);`

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// Store writes jobs to PostgreSQL.
type Store struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewStore connects, configures the pool and creates the table if needed.
func NewStore(cfg config.AuditConfig, log *logger.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &Store{
		db:     db,
		logger: log.WithComponent("audit"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit store: %w", err)
	}

	store.logger.Info("Audit store initialized",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return store, nil
}

func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create redaction_jobs: %w", err)
	}
	return nil
}

// Record inserts a job and fills in its ID and creation time.
func (s *Store) Record(ctx context.Context, job *Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	query := `
		INSERT INTO redaction_jobs (id, source, level, strategy, entity_count, counts, input_chars, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query,
		job.ID,
		job.Source,
		job.Level,
		job.Strategy,
		job.EntityCount,
		job.Counts,
		job.InputChars,
		job.DurationMS,
	).Scan(&job.CreatedAt)
	if err != nil {
		s.logger.Error("Failed to record job",
			zap.Error(err),
			zap.String("source", job.Source))
		return fmt.Errorf("failed to record job: %w", err)
	}

	s.logger.Debug("Job recorded",
		zap.String("id", job.ID.String()),
		zap.String("source", job.Source),
		zap.Int("entities", job.EntityCount))
	return nil
}

// Recent returns the newest jobs first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Job, error) {
	limit = clampLimit(limit)

	jobs := []Job{}
	query := `
		SELECT id, source, level, strategy, entity_count, counts, input_chars, duration_ms, created_at
		FROM redaction_jobs
		ORDER BY created_at DESC
		LIMIT $1`
	if err := s.db.SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Stats aggregates the whole job log.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	query := `
		SELECT
			COUNT(*) AS total_jobs,
			COALESCE(SUM(entity_count), 0) AS total_entities,
			COALESCE(SUM(input_chars), 0) AS total_chars,
			COALESCE(AVG(duration_ms), 0) AS avg_duration_ms,
			MAX(created_at) AS last_job_at
		FROM redaction_jobs`
	if err := s.db.GetContext(ctx, stats, query); err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	return stats, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultRecentLimit
	case limit > maxRecentLimit:
		return maxRecentLimit
	default:
		return limit
	}
}

// maskDatabaseURL hides the password in a postgres URL for logging.
func maskDatabaseURL(url string) string {
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
