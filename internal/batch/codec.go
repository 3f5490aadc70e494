package batch

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/segmentio/parquet-go"

	"github.com/raaihank/redact/internal/privacy"
	"github.com/raaihank/redact/internal/report"
)

// codec streams one dataset format. readBatch returns up to n texts and
// messages for rows it had to skip; an empty batch means end of input.
// writeBatch receives results for the texts of the previous readBatch.
type codec interface {
	readBatch(n int) (texts []string, skipped []string, err error)
	writeBatch(results []privacy.ProcessResult) error
	close() error
}

func newCodec(format FileFormat, r io.Reader, w io.Writer, opts Options) (codec, error) {
	switch format {
	case FormatCSV:
		return newCSVCodec(r, w, opts)
	case FormatJSON:
		return newJSONCodec(r, w, opts), nil
	case FormatParquet:
		return newParquetCodec(r, w)
	case FormatXLSX:
		return newXLSXCodec(r, w, opts)
	default:
		return nil, fmt.Errorf("unsupported file format: %q", format)
	}
}

// csvCodec appends the output column to every record.
type csvCodec struct {
	reader  *csv.Reader
	writer  *csv.Writer
	col     int
	width   int
	pending [][]string
}

func newCSVCodec(r io.Reader, w io.Writer, opts Options) (*csvCodec, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	col := indexOf(header, opts.Column)
	if col < 0 {
		return nil, fmt.Errorf("%w: %q", report.ErrColumnNotFound, opts.Column)
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(append(header, opts.OutputColumn)); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	return &csvCodec{reader: reader, writer: writer, col: col, width: len(header)}, nil
}

func (c *csvCodec) readBatch(n int) ([]string, []string, error) {
	c.pending = c.pending[:0]
	var texts, skipped []string

	for len(texts) < n {
		record, err := c.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			skipped = append(skipped, err.Error())
			continue
		}

		text := ""
		if c.col < len(record) {
			text = record[c.col]
		}
		c.pending = append(c.pending, record)
		texts = append(texts, text)
	}
	return texts, skipped, nil
}

func (c *csvCodec) writeBatch(results []privacy.ProcessResult) error {
	for i, record := range c.pending {
		for len(record) < c.width {
			record = append(record, "")
		}
		if err := c.writer.Write(append(record, results[i].RedactedText)); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	c.writer.Flush()
	return c.writer.Error()
}

func (c *csvCodec) close() error {
	c.writer.Flush()
	return c.writer.Error()
}

// jsonCodec handles one JSON object per line. Lines that do not decode are
// skipped and left out of the output.
type jsonCodec struct {
	scanner *bufio.Scanner
	writer  *bufio.Writer
	field   string
	output  string
	line    int
	pending []map[string]json.RawMessage
}

func newJSONCodec(r io.Reader, w io.Writer, opts Options) *jsonCodec {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &jsonCodec{
		scanner: scanner,
		writer:  bufio.NewWriter(w),
		field:   opts.Column,
		output:  opts.OutputColumn,
	}
}

func (c *jsonCodec) readBatch(n int) ([]string, []string, error) {
	c.pending = c.pending[:0]
	var texts, skipped []string

	for len(texts) < n && c.scanner.Scan() {
		c.line++
		line := bytes.TrimSpace(c.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var record map[string]json.RawMessage
		if err := json.Unmarshal(line, &record); err != nil {
			skipped = append(skipped, fmt.Sprintf("line %d: %v", c.line, err))
			continue
		}

		c.pending = append(c.pending, record)
		texts = append(texts, fieldText(record[c.field]))
	}
	if err := c.scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read JSON lines: %w", err)
	}
	return texts, skipped, nil
}

func (c *jsonCodec) writeBatch(results []privacy.ProcessResult) error {
	enc := json.NewEncoder(c.writer)
	enc.SetEscapeHTML(false)

	for i, record := range c.pending {
		var value bytes.Buffer
		venc := json.NewEncoder(&value)
		venc.SetEscapeHTML(false)
		if err := venc.Encode(results[i].RedactedText); err != nil {
			return err
		}
		record[c.output] = bytes.TrimSpace(value.Bytes())

		if err := enc.Encode(record); err != nil {
			return fmt.Errorf("failed to encode JSON record: %w", err)
		}
	}
	return c.writer.Flush()
}

func (c *jsonCodec) close() error {
	return c.writer.Flush()
}

// fieldText reads a JSON string field. Other values are used in their JSON
// form; a missing field is empty.
func fieldText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// parquetCodec reads ParquetInput rows and writes ParquetOutput rows.
type parquetCodec struct {
	reader  *parquet.Reader
	writer  *parquet.Writer
	pending []string
}

func newParquetCodec(r io.Reader, w io.Writer) (*parquetCodec, error) {
	ra, ok := r.(io.ReaderAt)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read Parquet file: %w", err)
		}
		ra = bytes.NewReader(data)
	}

	return &parquetCodec{
		reader: parquet.NewReader(ra),
		writer: parquet.NewWriter(w, parquet.SchemaOf(ParquetOutput{})),
	}, nil
}

func (c *parquetCodec) readBatch(n int) ([]string, []string, error) {
	c.pending = c.pending[:0]
	var skipped []string

	for len(c.pending) < n {
		var record ParquetInput
		err := c.reader.Read(&record)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, skipped, fmt.Errorf("failed to read Parquet record: %w", err)
		}
		c.pending = append(c.pending, record.Text)
	}
	return append([]string(nil), c.pending...), skipped, nil
}

func (c *parquetCodec) writeBatch(results []privacy.ProcessResult) error {
	for i, text := range c.pending {
		row := ParquetOutput{
			Text:         text,
			RedactedText: results[i].RedactedText,
			EntityCount:  int32(results[i].TotalEntities()),
		}
		if err := c.writer.Write(&row); err != nil {
			return fmt.Errorf("failed to write Parquet record: %w", err)
		}
	}
	return nil
}

func (c *parquetCodec) close() error {
	rerr := c.reader.Close()
	if err := c.writer.Close(); err != nil {
		return fmt.Errorf("failed to close Parquet writer: %w", err)
	}
	return rerr
}

// xlsxCodec loads the whole first sheet, then appends the output column on
// close.
type xlsxCodec struct {
	sheet    *report.Spreadsheet
	out      io.Writer
	output   string
	values   []string
	offset   int
	last     int
	redacted []string
}

func newXLSXCodec(r io.Reader, w io.Writer, opts Options) (*xlsxCodec, error) {
	sheet, err := report.LoadSpreadsheet(r)
	if err != nil {
		return nil, err
	}
	values, err := sheet.Column(opts.Column)
	if err != nil {
		sheet.Close()
		return nil, err
	}
	return &xlsxCodec{
		sheet:    sheet,
		out:      w,
		output:   opts.OutputColumn,
		values:   values,
		redacted: make([]string, 0, len(values)),
	}, nil
}

func (c *xlsxCodec) readBatch(n int) ([]string, []string, error) {
	end := c.offset + n
	if end > len(c.values) {
		end = len(c.values)
	}
	texts := c.values[c.offset:end]
	c.last = len(texts)
	c.offset = end
	return texts, nil, nil
}

func (c *xlsxCodec) writeBatch(results []privacy.ProcessResult) error {
	for i := 0; i < c.last; i++ {
		c.redacted = append(c.redacted, results[i].RedactedText)
	}
	return nil
}

func (c *xlsxCodec) close() error {
	defer c.sheet.Close()
	if len(c.redacted) != len(c.values) {
		return fmt.Errorf("incomplete spreadsheet: %d of %d rows redacted", len(c.redacted), len(c.values))
	}
	if err := c.sheet.AppendColumn(c.output, c.redacted); err != nil {
		return err
	}
	_, err := c.sheet.WriteTo(c.out)
	return err
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}
