package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"

	"github.com/raaihank/redact/internal/config"
)

const (
	pageMargin = 10.0 // mm
	ptToMM     = 0.3528
	leading    = 1.4
)

// PDFRenderer lays redacted text out on A4 pages with a monospace font.
type PDFRenderer struct {
	lineChars int
	fontSize  float64
}

// NewPDFRenderer creates a renderer. Zero values fall back to 90 characters
// per line at 10pt.
func NewPDFRenderer(cfg config.ReportConfig) *PDFRenderer {
	r := &PDFRenderer{lineChars: cfg.LineChars, fontSize: cfg.FontSize}
	if r.lineChars <= 0 {
		r.lineChars = 90
	}
	if r.fontSize <= 0 {
		r.fontSize = 10
	}
	return r
}

// Render writes a PDF containing text and returns the number of pages.
func (r *PDFRenderer) Render(w io.Writer, title, text string) (int, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(false, pageMargin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	_, pageHeight := pdf.GetPageSize()
	bottom := pageHeight - pageMargin
	lineHeight := r.fontSize * ptToMM * leading

	pdf.AddPage()
	y := pageMargin

	if title != "" {
		pdf.SetFont("Helvetica", "B", 14)
		y += 14 * ptToMM
		pdf.Text(pageMargin, y, tr(title))
		y += lineHeight
	}

	pdf.SetFont("Courier", "", r.fontSize)
	for _, line := range WrapLines(text, r.lineChars) {
		if y+lineHeight > bottom {
			pdf.AddPage()
			y = pageMargin
		}
		y += lineHeight
		if line != "" {
			pdf.Text(pageMargin, y, tr(line))
		}
	}

	pages := pdf.PageCount()
	if err := pdf.Output(w); err != nil {
		return 0, fmt.Errorf("render pdf: %w", err)
	}
	return pages, nil
}

// WrapLines splits text into lines of at most width characters. Lines break
// at spaces where possible; words longer than width are split.
func WrapLines(text string, width int) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\t", "    ")

	var lines []string
	for _, para := range strings.Split(text, "\n") {
		if strings.TrimSpace(para) == "" {
			lines = append(lines, "")
			continue
		}
		wrapped := wrap.String(wordwrap.String(para, width), width)
		for _, l := range strings.Split(wrapped, "\n") {
			lines = append(lines, strings.TrimRight(l, " "))
		}
	}
	return lines
}
