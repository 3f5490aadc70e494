package extract

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/redact/internal/config"
	"github.com/raaihank/redact/internal/logger"
)

type stubRunner struct {
	stdout string
	stderr string
	err    error

	name string
	args []string
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	s.name = name
	s.args = args
	return []byte(s.stdout), []byte(s.stderr), s.err
}

func newTestExtractor(r Runner) *Extractor {
	cfg := config.ExtractConfig{
		Pdftotext:     "/opt/poppler/pdftotext",
		Tesseract:     "/opt/tess/tesseract",
		TesseractLang: "eng",
		TessdataDir:   "/opt/tess/data",
		MaxUploadMB:   1,
	}
	return NewExtractor(cfg, logger.NewNop()).WithRunner(r)
}

func TestDetectFormat(t *testing.T) {
	tests := map[string]Format{
		"notes.txt":   FormatText,
		"README.MD":   FormatText,
		"page.html":   FormatHTML,
		"scan.PDF":    FormatPDF,
		"photo.jpeg":  FormatImage,
		"photo.png":   FormatImage,
		"book.xlsx":   FormatSpreadsheet,
		"archive.zip": FormatUnknown,
		"noext":       FormatUnknown,
	}
	for name, want := range tests {
		assert.Equal(t, want, DetectFormat(name), name)
	}
}

func TestExtractText(t *testing.T) {
	e := newTestExtractor(&stubRunner{})

	res, err := e.Extract(context.Background(), "a.txt", strings.NewReader("hello john@acme.com"))
	require.NoError(t, err)
	assert.Equal(t, "hello john@acme.com", res.Text)
	assert.Equal(t, FormatText, res.Format)
	assert.Equal(t, "utf8", res.Method)
}

func TestExtractTextInvalidUTF8(t *testing.T) {
	e := newTestExtractor(&stubRunner{})

	res, err := e.Extract(context.Background(), "a.txt", strings.NewReader("ab\xffcd"))
	require.NoError(t, err)
	assert.Equal(t, "ab�cd", res.Text)
}

func TestExtractHTML(t *testing.T) {
	e := newTestExtractor(&stubRunner{})

	res, err := e.Extract(context.Background(), "a.html", strings.NewReader(`<p>Call <b>Anna</b> &amp; co</p><script>x()</script>`))
	require.NoError(t, err)
	assert.Equal(t, "Call Anna & co", res.Text)
}

func TestExtractPDFSkipsEmptyPages(t *testing.T) {
	r := &stubRunner{stdout: "page one\n\f   \n\fpage three\n\f"}
	e := newTestExtractor(r)

	res, err := e.Extract(context.Background(), "doc.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "page one\npage three\n", res.Text)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, "/opt/poppler/pdftotext", r.name)
	assert.Equal(t, []string{"-layout", "-enc", "UTF-8", "-eol", "unix"}, r.args[:5])
	assert.Equal(t, "-", r.args[len(r.args)-1])
}

func TestExtractPDFNoTextLayer(t *testing.T) {
	e := newTestExtractor(&stubRunner{stdout: "\f\f"})

	res, err := e.Extract(context.Background(), "doc.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Contains(t, res.Warnings, "pdf has no extractable text layer")
}

func TestExtractImage(t *testing.T) {
	r := &stubRunner{stdout: "Jane Doe\n9876543210\n"}
	e := newTestExtractor(r)

	res, err := e.Extract(context.Background(), "scan.png", strings.NewReader("\x89PNG"))
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\n9876543210\n", res.Text)
	assert.Equal(t, "/opt/tess/tesseract", r.name)
	assert.Equal(t, "stdout", r.args[1])
	assert.Contains(t, r.args, "--tessdata-dir")
}

func TestExtractMissingEngine(t *testing.T) {
	notFound := &exec.Error{Name: "tesseract", Err: exec.ErrNotFound}
	e := newTestExtractor(&stubRunner{err: notFound})

	res, err := e.Extract(context.Background(), "scan.jpg", strings.NewReader("jpeg"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEngineUnavailable))
	assert.Empty(t, res.Text)
}

func TestExtractToolFailure(t *testing.T) {
	e := newTestExtractor(&stubRunner{err: errors.New("exit status 1"), stderr: "Syntax Error"})

	res, err := e.Extract(context.Background(), "doc.pdf", strings.NewReader("junk"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrEngineUnavailable))
	assert.Equal(t, []string{"Syntax Error"}, res.Warnings)
}

func TestExtractUnsupported(t *testing.T) {
	e := newTestExtractor(&stubRunner{})

	_, err := e.Extract(context.Background(), "a.zip", strings.NewReader("PK"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExtractTooLarge(t *testing.T) {
	e := newTestExtractor(&stubRunner{})

	big := strings.Repeat("a", int(e.MaxSize())+1)
	_, err := e.Extract(context.Background(), "a.txt", strings.NewReader(big))
	assert.ErrorIs(t, err, ErrTooLarge)
}
