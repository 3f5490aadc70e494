package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/redact/internal/audit"
	"github.com/raaihank/redact/internal/cache"
	"github.com/raaihank/redact/internal/extract"
	"github.com/raaihank/redact/internal/privacy"
	"github.com/raaihank/redact/internal/report"
	"github.com/raaihank/redact/internal/websocket"
)

// multipart overhead allowed on top of the document size limit
const formOverhead = 1 << 20

type textRequest struct {
	Text  string `json:"text"`
	Level int    `json:"level"`
}

type redactResponse struct {
	RedactedText string            `json:"redacted_text"`
	Entities     []privacy.Entity  `json:"entities"`
	Findings     []privacy.Finding `json:"findings"`
	Level        privacy.Level     `json:"level"`
	Cached       bool              `json:"cached"`
}

type fileResponse struct {
	redactResponse
	Filename string         `json:"filename"`
	Format   extract.Format `json:"format"`
	Method   string         `json:"method"`
	Pages    int            `json:"pages"`
	Warnings []string       `json:"warnings,omitempty"`
}

type spreadsheetResponse struct {
	Filename string            `json:"filename"`
	Sheet    string            `json:"sheet"`
	Column   string            `json:"column"`
	Rows     []string          `json:"rows"`
	Findings []privacy.Finding `json:"findings"`
	Level    privacy.Level     `json:"level"`
}

type ruleInfo struct {
	Category privacy.Category `json:"category"`
	Priority int              `json:"priority"`
	Enabled  bool             `json:"enabled"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	d := s.detector.Load()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":              "redact",
		"version":           Version,
		"privacy_enabled":   d.Enabled(),
		"default_level":     int(s.defaultLevel()),
		"overlap_strategy":  d.Strategy(),
		"substitution_mode": d.SubstitutionMode(),
		"active_rules":      len(d.GetEnabledRules()),
		"cache_enabled":     s.cache != nil,
		"audit_enabled":     s.audit != nil,
		"websocket_enabled": s.config.WebSocket.Enabled,
		"uptime":            time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	d := s.detector.Load()

	enabled := make(map[privacy.Category]bool)
	for _, c := range d.GetEnabledRules() {
		enabled[c] = true
	}

	rules := d.Rules()
	out := make([]ruleInfo, 0, len(rules))
	for _, rule := range rules {
		out = append(out, ruleInfo{Category: rule.Category, Priority: rule.Priority, Enabled: enabled[rule.Category]})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": out})
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}

	d := s.detector.Load()
	toggle := d.DisableRule
	if *req.Enabled {
		toggle = d.EnableRule
	}
	if err := toggle(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.rulesToggled.Store(true)
	s.handleRules(w, r)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeText(w, r)
	if !ok {
		return
	}

	entities := s.detector.Load().Detect(req.Text)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entities": entities,
		"findings": privacy.Summarize(entities),
	})
}

func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeText(w, r)
	if !ok {
		return
	}

	level := s.resolveLevel(req.Level)
	res, cached := s.redact(r.Context(), "text", req.Text, level)
	writeJSON(w, http.StatusOK, toResponse(res, cached))
}

func (s *Server) decodeText(w http.ResponseWriter, r *http.Request) (textRequest, bool) {
	var req textRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.extractor.MaxSize())
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return req, false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return req, false
	}
	return req, true
}

// handleRedactFile redacts an uploaded document. Spreadsheets are redacted
// per cell of one column; everything else goes through the extractor first.
func (s *Server) handleRedactFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.extractor.MaxSize()+formOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	level := s.defaultLevel()
	if v := r.FormValue("level"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "level must be an integer")
			return
		}
		level = s.resolveLevel(n)
	}

	format := strings.ToLower(r.FormValue("format"))

	if extract.DetectFormat(header.Filename) == extract.FormatSpreadsheet {
		s.redactSpreadsheet(w, r, file, header, level, format)
		return
	}

	log := s.logger.WithRequestID(requestID(r.Context()))
	doc, err := s.extractor.Extract(r.Context(), header.Filename, file)
	switch {
	case err == nil:
	case errors.Is(err, extract.ErrEngineUnavailable):
		log.Warn("Extraction engine unavailable", zap.String("method", doc.Method), zap.Error(err))
		doc.Warnings = append(doc.Warnings, err.Error())
	case errors.Is(err, extract.ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, extract.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	default:
		log.Error("Extraction failed", zap.String("file", header.Filename), zap.Error(err))
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	res, cached := s.redact(r.Context(), "upload:"+string(doc.Format), doc.Text, level)

	switch format {
	case "", "json":
		writeJSON(w, http.StatusOK, fileResponse{
			redactResponse: toResponse(res, cached),
			Filename:       header.Filename,
			Format:         doc.Format,
			Method:         doc.Method,
			Pages:          doc.Pages,
			Warnings:       doc.Warnings,
		})
	case "txt":
		writeAttachment(w, "text/plain; charset=utf-8", redactedName(header.Filename, ".txt"), []byte(res.RedactedText))
	case "pdf":
		s.writePDF(w, header.Filename, res.RedactedText)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported output format %q", format))
	}
}

func (s *Server) redactSpreadsheet(w http.ResponseWriter, r *http.Request, file multipart.File, header *multipart.FileHeader, level privacy.Level, format string) {
	sheet, err := report.LoadSpreadsheet(file)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	defer sheet.Close()

	column := r.FormValue("column")
	if column == "" {
		column = s.config.Extract.TextColumn
	}
	values, err := sheet.Column(column)
	if errors.Is(err, report.ErrColumnNotFound) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	start := time.Now()
	d := s.detector.Load()
	results, err := d.ProcessColumn(r.Context(), values, level, s.config.Batch.WorkerCount)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	redacted := make([]string, len(results))
	for i, res := range results {
		redacted[i] = res.RedactedText
	}
	combined := combineResults(values, results, level)
	s.record(r.Context(), "upload:spreadsheet", d, combined, false, time.Since(start))

	switch format {
	case "", "xlsx":
		if err := sheet.AppendColumn(s.config.Extract.OutputColumn, redacted); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		var buf bytes.Buffer
		if _, err := sheet.WriteTo(&buf); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeAttachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			redactedName(header.Filename, ".xlsx"), buf.Bytes())
	case "json":
		writeJSON(w, http.StatusOK, spreadsheetResponse{
			Filename: header.Filename,
			Sheet:    sheet.Sheet(),
			Column:   column,
			Rows:     redacted,
			Findings: combined.Findings,
			Level:    level,
		})
	case "txt":
		writeAttachment(w, "text/plain; charset=utf-8", redactedName(header.Filename, ".txt"), []byte(strings.Join(redacted, "\n")))
	case "pdf":
		s.writePDF(w, header.Filename, strings.Join(redacted, "\n"))
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported output format %q", format))
	}
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, "audit log is disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	jobs, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list jobs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	stats, err := s.audit.Stats(r.Context())
	if err != nil {
		s.logger.Error("Failed to load job stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "stats": stats})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusNotFound, "result cache is disabled")
		return
	}

	stats, err := s.cache.GetStats(r.Context())
	if err != nil {
		if stats == nil {
			s.logger.Error("Failed to load cache stats", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load cache stats")
			return
		}
		// hit and miss counters are local; only the redis side failed
		s.logger.Warn("Partial cache stats", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusNotFound, "result cache is disabled")
		return
	}

	if err := s.cache.Clear(r.Context()); err != nil {
		s.logger.Error("Failed to clear cache", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// resolveLevel maps 0 to the configured default. Any other value is passed
// through, so out-of-range levels get the fallback replacement.
func (s *Server) resolveLevel(n int) privacy.Level {
	if n == 0 {
		return s.defaultLevel()
	}
	return privacy.Level(n)
}

// redact runs one text through the cache and the detector, then records it.
func (s *Server) redact(ctx context.Context, source, text string, level privacy.Level) (privacy.ProcessResult, bool) {
	start := time.Now()
	d := s.detector.Load()

	// a disabled detector returns the input, which must never be cached
	useCache := s.cache != nil && d.Enabled()

	var key string
	if useCache {
		key = s.cache.Key(d, text, level)
		if entry, ok := s.cache.Get(ctx, key, level); ok {
			res := entry.ProcessResult(text)
			s.record(ctx, source, d, res, true, time.Since(start))
			return res, true
		}
	}

	res := d.ProcessText(text, level)

	if useCache {
		// failures are logged by the cache
		_ = s.cache.Set(ctx, key, cache.FromResult(res))
	}

	s.record(ctx, source, d, res, false, time.Since(start))
	return res, false
}

func (s *Server) record(ctx context.Context, source string, d *privacy.Detector, res privacy.ProcessResult, cached bool, elapsed time.Duration) {
	s.totalRedactions.Add(1)
	id := requestID(ctx)

	if s.audit != nil {
		job := audit.NewJob(source, res.Level, d.Strategy(), res.Findings, len(res.Original), elapsed)
		if err := s.audit.Record(ctx, job); err != nil {
			s.logger.WithRequestID(id).Warn("Failed to record redaction job", zap.Error(err))
		}
	}

	s.wsHub.BroadcastEvent(websocket.NewRedactionEvent(id, source, string(d.Strategy()), res, cached, elapsed))
}

func (s *Server) writePDF(w http.ResponseWriter, filename, text string) {
	var buf bytes.Buffer
	if _, err := s.renderer.Render(&buf, s.config.Report.Title, text); err != nil {
		s.logger.Error("Failed to render PDF", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to render PDF")
		return
	}
	writeAttachment(w, "application/pdf", redactedName(filename, ".pdf"), buf.Bytes())
}

// combineResults merges per-row results into one summary. Original is the
// rows joined so the input size is reported correctly.
func combineResults(values []string, results []privacy.ProcessResult, level privacy.Level) privacy.ProcessResult {
	var entities []privacy.Entity
	for _, res := range results {
		entities = append(entities, res.Entities...)
	}
	return privacy.ProcessResult{
		Entities: entities,
		Findings: privacy.Summarize(entities),
		Level:    level,
		Original: strings.Join(values, "\n"),
	}
}

func toResponse(res privacy.ProcessResult, cached bool) redactResponse {
	entities := res.Entities
	if entities == nil {
		entities = []privacy.Entity{}
	}
	findings := res.Findings
	if findings == nil {
		findings = []privacy.Finding{}
	}
	return redactResponse{
		RedactedText: res.RedactedText,
		Entities:     entities,
		Findings:     findings,
		Level:        res.Level,
		Cached:       cached,
	}
}

func redactedName(filename, ext string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if base == "" || base == "." {
		base = "document"
	}
	return base + "_redacted" + ext
}

// writeJSON encodes v without HTML escaping so tags like <EMAIL_REDACTED>
// survive as written.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.Copy(w, &buf)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
