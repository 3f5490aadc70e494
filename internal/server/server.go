// Package server exposes the detector and redactor over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/redact/internal/audit"
	"github.com/raaihank/redact/internal/cache"
	"github.com/raaihank/redact/internal/config"
	"github.com/raaihank/redact/internal/extract"
	"github.com/raaihank/redact/internal/logger"
	"github.com/raaihank/redact/internal/privacy"
	"github.com/raaihank/redact/internal/report"
	"github.com/raaihank/redact/internal/security"
	"github.com/raaihank/redact/internal/web"
	"github.com/raaihank/redact/internal/websocket"
)

// Version is reported by /info and the -version flag.
var Version = "0.3.0"

const statusInterval = 30 * time.Second

// ResultCache is the subset of the redis cache the server uses.
type ResultCache interface {
	Key(d *privacy.Detector, text string, level privacy.Level) string
	Get(ctx context.Context, key string, level privacy.Level) (*cache.CachedResult, bool)
	Set(ctx context.Context, key string, entry *cache.CachedResult) error
	GetStats(ctx context.Context) (*cache.CacheStats, error)
	Clear(ctx context.Context) error
}

// Server represents the redaction API server
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	detector  atomic.Pointer[privacy.Detector]
	level     atomic.Int64
	extractor *extract.Extractor
	renderer  *report.PDFRenderer
	cache     ResultCache
	audit     audit.Log
	wsHub     *websocket.Hub
	limiter   *security.RateLimiter
	clientIP  *security.ClientIPResolver
	router    *mux.Router
	server    *http.Server

	startedAt       time.Time
	rulesToggled    atomic.Bool
	totalRequests   atomic.Int64
	totalRedactions atomic.Int64
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithCache enables result caching.
func WithCache(c ResultCache) Option {
	return func(s *Server) { s.cache = c }
}

// WithAudit enables the job log and GET /api/v1/jobs.
func WithAudit(l audit.Log) Option {
	return func(s *Server) { s.audit = l }
}

// WithExtractor replaces the default document extractor.
func WithExtractor(e *extract.Extractor) Option {
	return func(s *Server) { s.extractor = e }
}

// New creates a new server instance
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Server, error) {
	detector, err := privacy.New(cfg.Privacy, log.WithComponent("privacy"))
	if err != nil {
		return nil, fmt.Errorf("failed to create privacy detector: %w", err)
	}

	resolver, err := security.NewClientIPResolver(cfg.Security.TrustedProxies)
	if err != nil {
		return nil, err
	}

	server := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		extractor: extract.NewExtractor(cfg.Extract, log.WithComponent("extract")),
		renderer:  report.NewPDFRenderer(cfg.Report),
		wsHub:     websocket.NewHub(cfg.WebSocket, log),
		limiter:   security.NewRateLimiter(cfg.Security),
		clientIP:  resolver,
		router:    mux.NewRouter(),
		startedAt: time.Now(),
	}
	server.detector.Store(detector)
	server.level.Store(int64(cfg.Privacy.DefaultLevel))
	server.wsHub.SetClientIP(resolver.ClientIP)

	for _, opt := range opts {
		opt(server)
	}

	server.setupRoutes()

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	s.router.HandleFunc("/", web.ServeDashboard).Methods("GET")
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods("GET")

	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/rules", s.handleRules).Methods("GET")
	api.HandleFunc("/rules/{name}", s.handleToggleRule).Methods("PUT")
	api.HandleFunc("/detect", s.handleDetect).Methods("POST")
	api.HandleFunc("/redact", s.handleRedact).Methods("POST")
	api.HandleFunc("/redact/file", s.handleRedactFile).Methods("POST")
	api.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	api.HandleFunc("/cache", s.handleCacheStats).Methods("GET")
	api.HandleFunc("/cache", s.handleCacheClear).Methods("DELETE")
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the hub, background routines and the listener. It returns nil
// once Stop has shut the listener down.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting redaction server",
		zap.Int("port", s.config.Server.Port),
		zap.Int("default_level", int(s.level.Load())),
		zap.Bool("cache_enabled", s.cache != nil),
		zap.Bool("audit_enabled", s.audit != nil),
	)

	go s.wsHub.Run(ctx)
	s.limiter.StartCleanupRoutine(ctx)
	go s.broadcastStatus(ctx)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping redaction server")
	return s.server.Shutdown(ctx)
}

// Reload rebuilds the detector from cfg and swaps it in. In-flight requests
// finish with the detector they started with. Rules toggled through the API
// are replaced by the configured set, and cached results are dropped.
func (s *Server) Reload(cfg *config.Config) error {
	detector, err := privacy.New(cfg.Privacy, s.logger.WithComponent("privacy"))
	if err != nil {
		return fmt.Errorf("failed to rebuild privacy detector: %w", err)
	}
	s.detector.Store(detector)
	s.level.Store(int64(cfg.Privacy.DefaultLevel))

	if s.rulesToggled.Swap(false) {
		s.logger.Warn("Runtime rule toggles reset by configuration reload",
			zap.Strings("detectors", cfg.Privacy.Detectors),
		)
	}

	if s.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.cache.Clear(ctx); err != nil {
			s.logger.Warn("Failed to clear result cache after reload", zap.Error(err))
		}
	}

	s.logger.Info("Privacy configuration reloaded",
		zap.Bool("privacy_enabled", detector.Enabled()),
		zap.Int("default_level", cfg.Privacy.DefaultLevel),
		zap.String("overlap_strategy", string(detector.Strategy())),
		zap.Int("enabled_rules", len(detector.GetEnabledRules())),
	)
	return nil
}

func (s *Server) defaultLevel() privacy.Level {
	return privacy.Level(s.level.Load())
}

func (s *Server) broadcastStatus(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.wsHub.BroadcastEvent(websocket.Event{
				Type:      websocket.EventTypeSystemStatus,
				Timestamp: time.Now(),
				Data:      s.status(),
			})
		}
	}
}

func (s *Server) status() websocket.SystemStatusEvent {
	return websocket.SystemStatusEvent{
		Status:           "healthy",
		Uptime:           time.Since(s.startedAt).Round(time.Second).String(),
		TotalRequests:    s.totalRequests.Load(),
		TotalRedactions:  s.totalRedactions.Load(),
		ActiveRules:      len(s.detector.Load().GetEnabledRules()),
		ConnectedClients: int(s.wsHub.GetStats().ActiveConnections),
	}
}
