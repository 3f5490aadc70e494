package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/redact/internal/audit"
	"github.com/raaihank/redact/internal/batch"
	"github.com/raaihank/redact/internal/config"
	"github.com/raaihank/redact/internal/extract"
	"github.com/raaihank/redact/internal/logger"
	"github.com/raaihank/redact/internal/privacy"
	"github.com/raaihank/redact/internal/report"
	"github.com/raaihank/redact/internal/server"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Configuration file path")
		inputFile    = flag.String("input", "", "Document (txt, html, pdf, png, jpg) or dataset (csv, jsonl, parquet, xlsx); - reads text from stdin")
		outputFile   = flag.String("out", "", "Output file; .pdf renders a PDF, anything else is text. Datasets default to <name>_redacted<ext>")
		level        = flag.Int("level", 0, "Redaction level 1-4 (0 uses the configured default)")
		column       = flag.String("column", "", "Dataset column or JSON field to redact")
		outputColumn = flag.String("output-column", "", "Dataset column or JSON field receiving redacted text")
		batchSize    = flag.Int("batch-size", 0, "Rows per batch (0 uses the configured value)")
		workers      = flag.Int("workers", 0, "Parallel workers per batch (0 uses the configured value)")
		showStats    = flag.Bool("stats", false, "Show audit log statistics and exit")
		showVersion  = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("redact %s\n", server.Version)
		os.Exit(0)
	}

	if *inputFile == "" && !*showStats {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -input contract.pdf -level 3 -out contract_redacted.pdf\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  echo 'mail john@acme.com' | %s -input - -level 1\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -input leads.csv -column notes -workers 8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -stats\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *batchSize > 0 {
		cfg.Batch.BatchSize = *batchSize
	}
	if *workers > 0 {
		cfg.Batch.WorkerCount = *workers
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	store := openAudit(cfg, log)
	if store != nil {
		defer store.Close()
	}

	if *showStats {
		if err := printStats(ctx, store); err != nil {
			log.Fatal("Failed to show stats", zap.Error(err))
		}
		return
	}

	detector, err := privacy.New(cfg.Privacy, log.WithComponent("privacy"))
	if err != nil {
		log.Fatal("Failed to create privacy detector", zap.Error(err))
	}

	lvl := privacy.Level(*level)
	if lvl == 0 {
		lvl = privacy.Level(cfg.Privacy.DefaultLevel)
	}

	if format := batch.DetectFileFormat(*inputFile); format != batch.FormatUnknown {
		var recorder audit.Recorder = audit.NopRecorder{}
		if store != nil {
			recorder = store
		}
		opts := batch.Options{
			Level:        lvl,
			Column:       firstNonEmpty(*column, defaultColumn(format, cfg)),
			OutputColumn: firstNonEmpty(*outputColumn, defaultOutputColumn(format, cfg)),
		}
		if err := processDataset(ctx, detector, recorder, cfg, *inputFile, *outputFile, opts, log); err != nil {
			log.Fatal("Dataset redaction failed", zap.Error(err))
		}
		return
	}

	if err := processDocument(ctx, detector, store, cfg, *inputFile, *outputFile, lvl, log); err != nil {
		log.Fatal("Document redaction failed", zap.Error(err))
	}
}

// openAudit connects the job log when enabled. A failed connection only
// disables auditing.
func openAudit(cfg *config.Config, log *logger.Logger) *audit.Store {
	if !cfg.Audit.Enabled {
		return nil
	}
	store, err := audit.NewStore(cfg.Audit, log.WithComponent("audit"))
	if err != nil {
		log.Warn("Audit log disabled", zap.Error(err))
		return nil
	}
	return store
}

// Spreadsheets use the configured column names; csv, jsonl and parquet use
// the pipeline defaults.
func defaultColumn(format batch.FileFormat, cfg *config.Config) string {
	if format == batch.FormatXLSX {
		return cfg.Extract.TextColumn
	}
	return ""
}

func defaultOutputColumn(format batch.FileFormat, cfg *config.Config) string {
	if format == batch.FormatXLSX {
		return cfg.Extract.OutputColumn
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func processDataset(ctx context.Context, detector *privacy.Detector, recorder audit.Recorder, cfg *config.Config, input, output string, opts batch.Options, log *logger.Logger) error {
	if output == "" {
		output = batch.OutputPath(input)
	}

	log.Info("Processing dataset",
		zap.String("input", input),
		zap.String("output", output),
		zap.Int("level", int(opts.Level)),
		zap.Int("batch_size", cfg.Batch.BatchSize),
		zap.Int("workers", cfg.Batch.WorkerCount),
	)

	pipeline := batch.NewPipeline(detector, recorder, cfg.Batch, log)
	result, err := pipeline.ProcessFile(ctx, input, output, opts)
	if err != nil {
		return fmt.Errorf("pipeline processing failed: %w", err)
	}

	log.Info("Dataset processing completed",
		zap.String("output", output),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("entities_found", result.EntitiesFound),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("redaction_time", result.RedactionTime),
		zap.Float64("records_per_second", float64(result.TotalRecords)/result.Duration.Seconds()),
	)

	if len(result.Errors) > 0 {
		log.Warn("Processing completed with errors", zap.Strings("errors", result.Errors))
	}

	printFindings(os.Stderr, result.FindingList())
	return nil
}

func processDocument(ctx context.Context, detector *privacy.Detector, store *audit.Store, cfg *config.Config, input, output string, level privacy.Level, log *logger.Logger) error {
	start := time.Now()

	var (
		text string
		name = input
	)
	if input == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		text, name = string(data), "stdin"
	} else {
		f, err := os.Open(input)
		if err != nil {
			return err
		}
		defer f.Close()

		doc, err := extract.NewExtractor(cfg.Extract, log.WithComponent("extract")).Extract(ctx, input, f)
		if err != nil && !errors.Is(err, extract.ErrEngineUnavailable) {
			return err
		}
		if err != nil {
			log.Warn("Extraction engine unavailable, nothing to redact", zap.Error(err))
		}
		for _, w := range doc.Warnings {
			log.Warn("Extraction warning", zap.String("warning", w))
		}
		text = doc.Text
	}

	res := detector.ProcessText(text, level)

	if store != nil {
		job := audit.NewJob("cli:"+filepath.Base(name), level, detector.Strategy(), res.Findings, len(text), time.Since(start))
		if err := store.Record(ctx, job); err != nil {
			log.Warn("Failed to record redaction job", zap.Error(err))
		}
	}

	if err := writeDocument(cfg, output, res.RedactedText); err != nil {
		return err
	}

	log.Info("Document redacted",
		zap.String("input", name),
		zap.Int("level", int(level)),
		zap.Int("entities", res.TotalEntities()),
		zap.Duration("duration", time.Since(start)),
	)
	printFindings(os.Stderr, res.Findings)
	return nil
}

// writeDocument writes to stdout when output is empty.
func writeDocument(cfg *config.Config, output, text string) error {
	if output == "" {
		_, err := fmt.Fprintln(os.Stdout, text)
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(output), ".pdf") {
		if _, err := report.NewPDFRenderer(cfg.Report).Render(f, cfg.Report.Title, text); err != nil {
			return fmt.Errorf("rendering PDF: %w", err)
		}
		return nil
	}
	if _, err := io.WriteString(f, text); err != nil {
		return fmt.Errorf("writing output file: %w", err)
	}
	return nil
}

func printFindings(w io.Writer, findings []privacy.Finding) {
	if len(findings) == 0 {
		fmt.Fprintln(w, "No PII found")
		return
	}
	fmt.Fprintln(w, "Findings:")
	for _, f := range findings {
		fmt.Fprintf(w, "  %-8s %d\n", f.Category, f.Count)
	}
}

// printStats displays the job log summary
func printStats(ctx context.Context, store *audit.Store) error {
	if store == nil {
		return fmt.Errorf("audit log is not enabled")
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get audit stats: %w", err)
	}

	fmt.Printf("\n=== Redaction Job Statistics ===\n")
	fmt.Printf("Total Jobs:         %d\n", stats.TotalJobs)
	fmt.Printf("Total Entities:     %d\n", stats.TotalEntities)
	fmt.Printf("Total Characters:   %d\n", stats.TotalChars)
	fmt.Printf("Avg Duration:       %.2f ms\n", stats.AvgDurationMS)
	if stats.LastJobAt != nil {
		fmt.Printf("Last Job:           %s\n", stats.LastJobAt.Format(time.RFC3339))
	}

	jobs, err := store.Recent(ctx, 10)
	if err != nil {
		return fmt.Errorf("failed to list recent jobs: %w", err)
	}
	if len(jobs) > 0 {
		fmt.Printf("\n=== Recent Jobs ===\n")
		for _, j := range jobs {
			fmt.Printf("%s  %-24s level %d  %d entities\n", j.CreatedAt.Format(time.RFC3339), j.Source, j.Level, j.EntityCount)
		}
	}
	return nil
}
