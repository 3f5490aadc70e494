// Package extract turns uploaded documents into plain text for redaction.
package extract

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/raaihank/redact/internal/config"
	"github.com/raaihank/redact/internal/logger"
)

var (
	// ErrEngineUnavailable means an external extraction tool (pdftotext,
	// tesseract) is not installed. Callers treat it as a warning.
	ErrEngineUnavailable = errors.New("extraction engine unavailable")
	// ErrUnsupportedFormat is returned for file types with no extractor.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrTooLarge is returned when input exceeds the configured size limit.
	ErrTooLarge = errors.New("input exceeds size limit")
)

// Format is the kind of document an upload holds.
type Format string

const (
	FormatText        Format = "text"
	FormatHTML        Format = "html"
	FormatPDF         Format = "pdf"
	FormatImage       Format = "image"
	FormatSpreadsheet Format = "spreadsheet"
	FormatUnknown     Format = "unknown"
)

// DetectFormat maps a file name to a Format by extension.
func DetectFormat(name string) Format {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "txt", "md", "csv":
		return FormatText
	case "html", "htm":
		return FormatHTML
	case "pdf":
		return FormatPDF
	case "png", "jpg", "jpeg":
		return FormatImage
	case "xlsx":
		return FormatSpreadsheet
	default:
		return FormatUnknown
	}
}

// Result is the normalized text of one document.
type Result struct {
	Text     string        `json:"-"`
	Format   Format        `json:"format"`
	Method   string        `json:"method"` // "utf8" | "html-strip" | "pdftotext" | "tesseract"
	Pages    int           `json:"pages"`
	Warnings []string      `json:"warnings,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Extractor converts documents into plain text.
type Extractor struct {
	cfg     config.ExtractConfig
	maxSize int64
	runner  Runner
	logger  *logger.Logger
}

// NewExtractor creates an extractor. Empty tool names fall back to the
// binaries on PATH.
func NewExtractor(cfg config.ExtractConfig, log *logger.Logger) *Extractor {
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 20
	}
	return &Extractor{
		cfg:     cfg,
		maxSize: int64(cfg.MaxUploadMB) * 1024 * 1024,
		runner:  execRunner{logger: log.Logger},
		logger:  log,
	}
}

// WithRunner replaces the command runner, mainly for tests.
func (e *Extractor) WithRunner(r Runner) *Extractor {
	e.runner = r
	return e
}

// MaxSize returns the upload limit in bytes.
func (e *Extractor) MaxSize() int64 {
	return e.maxSize
}

// Extract reads a document and returns its text. name is only used to pick
// the strategy from its extension.
func (e *Extractor) Extract(ctx context.Context, name string, r io.Reader) (Result, error) {
	start := time.Now()
	format := DetectFormat(name)

	data, err := io.ReadAll(io.LimitReader(r, e.maxSize+1))
	if err != nil {
		return Result{Format: format}, fmt.Errorf("reading %s: %w", name, err)
	}
	if int64(len(data)) > e.maxSize {
		return Result{Format: format}, fmt.Errorf("%s: %w (%d bytes)", name, ErrTooLarge, e.maxSize)
	}

	e.logger.Debug("starting extraction",
		zap.String("file", name),
		zap.String("format", string(format)),
		zap.Int("bytes", len(data)),
	)

	var res Result
	switch format {
	case FormatText:
		res = Result{Text: strings.ToValidUTF8(string(data), "�"), Method: "utf8", Pages: 1}
	case FormatHTML:
		res = Result{Text: stripHTML(string(data)), Method: "html-strip", Pages: 1}
	case FormatPDF:
		res, err = e.extractPDF(ctx, data)
	case FormatImage:
		res, err = e.extractImage(ctx, filepath.Ext(name), data)
	default:
		return Result{Format: format}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}

	res.Format = format
	res.Duration = time.Since(start)
	if err != nil {
		return res, err
	}

	e.logger.Debug("extraction complete",
		zap.String("file", name),
		zap.String("method", res.Method),
		zap.Int("pages", res.Pages),
		zap.Int("chars", len(res.Text)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func stripHTML(s string) string {
	return html.UnescapeString(bluemonday.StrictPolicy().Sanitize(s))
}

// extractPDF runs pdftotext and keeps only pages that yield text, each
// followed by a newline.
func (e *Extractor) extractPDF(ctx context.Context, data []byte) (Result, error) {
	path, cleanup, err := writeTemp(data, ".pdf")
	if err != nil {
		return Result{}, err
	}
	defer cleanup()

	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return Result{Method: "pdftotext", Warnings: warnings(errb)}, toolError("pdftotext", err)
	}

	text, pages := joinPages(string(out))
	res := Result{Text: text, Method: "pdftotext", Pages: pages, Warnings: warnings(errb)}
	if text == "" {
		res.Warnings = append(res.Warnings, "pdf has no extractable text layer")
	}
	return res, nil
}

// joinPages splits pdftotext output on form feeds, drops empty pages and
// returns the text plus the number of pages that had content.
func joinPages(out string) (string, int) {
	var b strings.Builder
	pages := 0
	for _, page := range strings.Split(out, "\f") {
		page = strings.TrimRight(page, "\n")
		if strings.TrimSpace(page) == "" {
			continue
		}
		b.WriteString(page)
		b.WriteString("\n")
		pages++
	}
	return b.String(), pages
}

func (e *Extractor) extractImage(ctx context.Context, ext string, data []byte) (Result, error) {
	path, cleanup, err := writeTemp(data, strings.ToLower(ext))
	if err != nil {
		return Result{}, err
	}
	defer cleanup()

	args := []string{path, "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}

	// tesseract <file> stdout -l <lang>
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return Result{Method: "tesseract", Warnings: warnings(errb)}, toolError("tesseract", err)
	}

	return Result{Text: string(out), Method: "tesseract", Pages: 1, Warnings: warnings(errb)}, nil
}

func toolError(tool string, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w: %v", tool, ErrEngineUnavailable, err)
	}
	return fmt.Errorf("%s: %w", tool, err)
}

func warnings(stderr []byte) []string {
	s := strings.TrimSpace(string(stderr))
	if s == "" {
		return nil
	}
	return []string{truncate(s, 1<<10)}
}

func writeTemp(data []byte, ext string) (string, func(), error) {
	f, err := os.CreateTemp("", "redact-*"+ext)
	if err != nil {
		return "", nil, fmt.Errorf("creating temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }

	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("closing temp file: %w", err)
	}
	return f.Name(), cleanup, nil
}
