package batch

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/raaihank/redact/internal/privacy"
)

// ParquetInput is the row shape read from parquet datasets.
type ParquetInput struct {
	Text string `parquet:"text"`
}

// ParquetOutput is the row shape written to parquet datasets.
type ParquetOutput struct {
	Text         string `parquet:"text"`
	RedactedText string `parquet:"redacted_text"`
	EntityCount  int32  `parquet:"entity_count"`
}

// Options selects what to redact in a dataset.
type Options struct {
	Level        privacy.Level
	Column       string // input column or JSON field
	OutputColumn string // appended column or field
	Source       string // label recorded in the audit log
}

// ProcessingResult represents the result of processing a dataset
type ProcessingResult struct {
	TotalRecords    int64                      `json:"total_records"`
	ProcessedOK     int64                      `json:"processed_ok"`
	ProcessedFailed int64                      `json:"processed_failed"`
	EntitiesFound   int64                      `json:"entities_found"`
	InputChars      int64                      `json:"input_chars"`
	Findings        map[privacy.Category]int64 `json:"findings"`
	Duration        time.Duration              `json:"duration"`
	RedactionTime   time.Duration              `json:"redaction_time"`
	Errors          []string                   `json:"errors,omitempty"`
}

// FindingList returns Findings in detection table order.
func (r *ProcessingResult) FindingList() []privacy.Finding {
	var out []privacy.Finding
	for _, c := range privacy.Categories() {
		if n := r.Findings[c]; n > 0 {
			out = append(out, privacy.Finding{Category: c, Count: int(n)})
		}
	}
	return out
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsWritten int64     `json:"records_written"`
	CurrentBatch   int64     `json:"current_batch"`
	ProcessingRate float64   `json:"processing_rate"` // records per second
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "jsonl"
	FormatXLSX    FileFormat = "xlsx"
	FormatUnknown FileFormat = ""
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	case ".xlsx":
		return FormatXLSX
	default:
		return FormatUnknown
	}
}

// OutputPath derives "<name>_redacted<ext>" next to the input.
func OutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_redacted" + ext
}
