// Package report serializes redacted text back into downloadable artifacts.
package report

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ErrColumnNotFound is returned when the requested header is absent.
var ErrColumnNotFound = errors.New("column not found")

// Spreadsheet is the first sheet of an XLSX workbook, header row first.
type Spreadsheet struct {
	file  *excelize.File
	sheet string
	rows  [][]string
}

// LoadSpreadsheet reads a workbook and loads its first sheet.
func LoadSpreadsheet(r io.Reader) (*Spreadsheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}

	sheet := f.GetSheetName(0)
	if sheet == "" {
		f.Close()
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	return &Spreadsheet{file: f, sheet: sheet, rows: rows}, nil
}

// Sheet returns the name of the loaded sheet.
func (s *Spreadsheet) Sheet() string {
	return s.sheet
}

// Header returns the header row.
func (s *Spreadsheet) Header() []string {
	if len(s.rows) == 0 {
		return nil
	}
	return s.rows[0]
}

// DataRows returns the number of rows below the header.
func (s *Spreadsheet) DataRows() int {
	if len(s.rows) == 0 {
		return 0
	}
	return len(s.rows) - 1
}

// Column returns one value per data row for the named header, in row order.
// Missing cells read as empty strings.
func (s *Spreadsheet) Column(name string) ([]string, error) {
	idx := s.columnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}

	values := make([]string, s.DataRows())
	for i, row := range s.rows[1:] {
		if idx < len(row) {
			values[i] = row[idx]
		}
	}
	return values, nil
}

func (s *Spreadsheet) columnIndex(name string) int {
	for i, h := range s.Header() {
		if h == name {
			return i
		}
	}
	return -1
}

// AppendColumn writes a new column after the last header cell. If a column
// named name already exists, its values are overwritten in place.
func (s *Spreadsheet) AppendColumn(name string, values []string) error {
	if len(values) != s.DataRows() {
		return fmt.Errorf("column %q has %d values for %d rows", name, len(values), s.DataRows())
	}

	idx := s.columnIndex(name)
	exists := idx >= 0
	if !exists {
		idx = len(s.Header())
	}
	col := idx + 1

	write := func(row int, v string) error {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return err
		}
		return s.file.SetCellValue(s.sheet, cell, v)
	}

	if !exists {
		if err := write(1, name); err != nil {
			return fmt.Errorf("write header %q: %w", name, err)
		}
	}
	for i, v := range values {
		if err := write(i+2, v); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if len(s.rows) == 0 {
		s.rows = append(s.rows, nil)
	}
	if !exists {
		s.rows[0] = append(s.rows[0], name)
	}
	for i, v := range values {
		row := s.rows[i+1]
		for len(row) <= idx {
			row = append(row, "")
		}
		row[idx] = v
		s.rows[i+1] = row
	}

	_ = s.file.SetColWidth(s.sheet, colName(col), colName(col), 48)
	return nil
}

// WriteTo serializes the workbook.
func (s *Spreadsheet) WriteTo(w io.Writer) (int64, error) {
	n, err := s.file.WriteTo(w)
	if err != nil {
		return n, fmt.Errorf("write workbook: %w", err)
	}
	return n, nil
}

// Close releases the workbook.
func (s *Spreadsheet) Close() error {
	return s.file.Close()
}

func colName(col int) string {
	name, err := excelize.ColumnNumberToName(col)
	if err != nil {
		return "A"
	}
	return name
}
