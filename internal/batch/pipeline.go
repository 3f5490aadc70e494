// Package batch redacts a text column across whole datasets.
package batch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/redact/internal/audit"
	"github.com/raaihank/redact/internal/config"
	"github.com/raaihank/redact/internal/logger"
	"github.com/raaihank/redact/internal/privacy"
)

// Pipeline reads a dataset in batches, redacts one column and writes the
// dataset back out with the redacted column appended.
type Pipeline struct {
	detector *privacy.Detector
	recorder audit.Recorder
	config   config.BatchConfig
	logger   *logger.Logger
	stats    *ProcessingStats
	mu       sync.RWMutex
}

// NewPipeline creates a new batch pipeline. A nil recorder disables job
// recording.
func NewPipeline(detector *privacy.Detector, recorder audit.Recorder, cfg config.BatchConfig, log *logger.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Pipeline{
		detector: detector,
		recorder: recorder,
		config:   cfg,
		logger:   log.WithComponent("batch"),
		stats:    &ProcessingStats{StartTime: time.Now()},
	}
}

// ProcessFile redacts inputPath into outputPath. The format is taken from
// the input extension and the output uses the same format.
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputPath string, opts Options) (*ProcessingResult, error) {
	format := DetectFileFormat(inputPath)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unsupported file format: %s", filepath.Ext(inputPath))
	}

	in, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output: %w", err)
	}

	if opts.Source == "" {
		opts.Source = "batch:" + filepath.Base(inputPath)
	}

	result, err := p.Process(ctx, format, in, out, opts)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close output: %w", cerr)
	}
	if err != nil {
		os.Remove(outputPath)
		return result, err
	}
	return result, nil
}

// Process redacts a dataset read from r and writes it to w.
func (p *Pipeline) Process(ctx context.Context, format FileFormat, r io.Reader, w io.Writer, opts Options) (*ProcessingResult, error) {
	if opts.OutputColumn == "" {
		opts.OutputColumn = "redacted_text"
	}
	if opts.Column == "" {
		opts.Column = "text"
	}

	p.logger.Info("Starting batch pipeline",
		zap.String("format", string(format)),
		zap.String("column", opts.Column),
		zap.Int("level", int(opts.Level)),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount))

	start := time.Now()
	result := &ProcessingResult{Findings: map[privacy.Category]int64{}}
	p.resetStats()

	c, err := newCodec(format, r, w, opts)
	if err != nil {
		return result, fmt.Errorf("%s processing failed: %w", format, err)
	}

	if err := p.processBatches(ctx, c, opts, result); err != nil {
		c.close()
		return result, fmt.Errorf("%s processing failed: %w", format, err)
	}
	if err := c.close(); err != nil {
		return result, fmt.Errorf("%s processing failed: %w", format, err)
	}

	result.Duration = time.Since(start)

	job := audit.NewJob(opts.Source, opts.Level, p.detector.Strategy(), result.FindingList(), int(result.InputChars), result.Duration)
	if err := p.recorder.Record(ctx, job); err != nil {
		p.logger.Warn("Failed to record batch job", zap.Error(err))
	}

	p.logger.Info("Batch pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("entities_found", result.EntitiesFound),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("redaction_time", result.RedactionTime))

	return result, nil
}

func (p *Pipeline) processBatches(ctx context.Context, c codec, opts Options, result *ProcessingResult) error {
	nextReport := int64(p.config.ProgressReport)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		texts, skipped, err := c.readBatch(p.config.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}
		for _, msg := range skipped {
			p.logger.Warn("Skipping unreadable record", zap.String("reason", msg))
			result.ProcessedFailed++
			result.Errors = append(result.Errors, msg)
		}
		if len(texts) == 0 {
			break
		}

		p.mu.Lock()
		p.stats.CurrentBatch++
		p.stats.RecordsRead += int64(len(texts))
		p.mu.Unlock()

		redactStart := time.Now()
		results, err := p.detector.ProcessColumn(ctx, texts, opts.Level, p.config.WorkerCount)
		if err != nil {
			return err
		}
		result.RedactionTime += time.Since(redactStart)

		if err := c.writeBatch(results); err != nil {
			return err
		}

		for i, res := range results {
			result.InputChars += int64(len(texts[i]))
			for _, f := range res.Findings {
				result.Findings[f.Category] += int64(f.Count)
				result.EntitiesFound += int64(f.Count)
			}
		}
		result.TotalRecords += int64(len(texts))
		result.ProcessedOK += int64(len(texts))

		p.mu.Lock()
		p.stats.RecordsWritten += int64(len(texts))
		p.mu.Unlock()

		if nextReport > 0 && result.TotalRecords >= nextReport {
			p.reportProgress(result)
			for nextReport <= result.TotalRecords {
				nextReport += int64(p.config.ProgressReport)
			}
		}
	}

	return nil
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	stats := p.GetStats()
	elapsed := time.Since(stats.StartTime)

	p.logger.Info("Processing progress",
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("records_failed", result.ProcessedFailed),
		zap.Int64("entities_found", result.EntitiesFound),
		zap.Float64("rate_per_sec", stats.ProcessingRate),
		zap.Duration("elapsed", elapsed))
}

func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &ProcessingStats{
		StartTime: time.Now(),
	}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := *p.stats
	if elapsed := time.Since(stats.StartTime).Seconds(); elapsed > 0 {
		stats.ProcessingRate = float64(stats.RecordsWritten) / elapsed
	}
	return &stats
}
