// Package http implements the internal service API of the unlock gateway:
// health checks, Prometheus metrics, the WebSocket endpoint and the
// API-key protected /internal/v1 routes used by sibling services.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alem-hub/unlock-gateway/config"
	"github.com/alem-hub/unlock-gateway/internal/application/command"
	"github.com/alem-hub/unlock-gateway/internal/domain/notification"
	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
	"github.com/alem-hub/unlock-gateway/internal/domain/unlock"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/messaging"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/scheduler"
	"github.com/alem-hub/unlock-gateway/internal/interface/http/handlers"
	"github.com/alem-hub/unlock-gateway/internal/interface/realtime"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	// ReadTimeout - maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout - maximum duration for writing the response.
	// Does not apply to hijacked WebSocket connections.
	WriteTimeout time.Duration

	// IdleTimeout - maximum duration for idle connections.
	IdleTimeout time.Duration

	// MaxHeaderBytes - maximum size of request headers.
	MaxHeaderBytes int

	// MaxBodyBytes - maximum size of internal API request bodies.
	MaxBodyBytes int64

	// Version is reported by / and the health endpoints.
	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
		MaxBodyBytes:   1 << 20,
		Version:        "v1",
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Scheduler creates unlock schedules.
type Scheduler interface {
	Handle(ctx context.Context, cmd command.ScheduleUnlockCommand) (*unlock.Schedule, error)
}

// Expediter unlocks a schedule ahead of time.
type Expediter interface {
	ExpediteUnlock(ctx context.Context, scheduleID string, unlockType unlock.UnlockType) (*command.UnlockResult, error)
}

// Notifier is the collaborator-facing side of the event dispatcher.
type Notifier interface {
	NotifyModuleUnlock(ctx context.Context, userID, moduleID, moduleTitle string, unlockType unlock.UnlockType) error
	NotifySectionUnlock(ctx context.Context, userID, moduleID, sectionID, sectionTitle string, unlockType unlock.UnlockType) error
	NotifyWaitingPeriodUpdate(ctx context.Context, userID, moduleID, moduleTitle string, remainingHours, totalWaitHours float64) error
	NotifyAchievement(ctx context.Context, userID, achievementID, title, moduleID string, xpEarned *int) error
	NotifyXPEarned(ctx context.Context, userID string, xpAmount int, reason, moduleID string) error
	NotifyGeneric(ctx context.Context, userID string, draft notification.Draft) error
}

// ConnectionStats reports the live socket registry.
type ConnectionStats interface {
	Stats() realtime.RegistryStats
}

// EventStats reports the event bus counters.
type EventStats interface {
	Snapshot() messaging.EventBusMetricsSnapshot
}

// JobRunner exposes the background scheduler.
type JobRunner interface {
	ListJobs() []scheduler.JobInfo
	RunNow(ctx context.Context, jobName string) (*scheduler.JobResult, error)
}

// Dependencies contains all dependencies required by HTTP handlers.
// Nil members disable the routes that need them.
type Dependencies struct {
	Scheduler   Scheduler
	Expediter   Expediter
	Notifier    Notifier
	Publisher   shared.EventPublisher
	Connections ConnectionStats
	Events      EventStats
	Jobs        JobRunner

	// Gateway serves GET /ws.
	Gateway http.Handler

	// Metrics serves GET /metrics.
	Metrics http.Handler

	HealthChecker *handlers.CompositeHealthChecker

	// APIKeys protects /internal/v1. Nil leaves the API open.
	APIKeys *handlers.APIKeyAuth

	Features *config.FeatureFlags

	Logger *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     chi.Router
	logger     *slog.Logger

	// Server state
	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(cfg Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		router: chi.NewRouter(),
		logger: deps.Logger.With("component", "http"),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           cfg.Address(),
		Handler:        s.router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealth) // Kubernetes alias
	r.Get("/ready", s.handleReady)
	r.Get("/live", s.handleLive)

	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// WebSocket
	// ─────────────────────────────────────────────────────────────────────────
	if s.deps.Gateway != nil {
		r.Handle("/ws", s.deps.Gateway)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Internal API v1
	// ─────────────────────────────────────────────────────────────────────────
	r.Route("/internal/v1", func(r chi.Router) {
		if s.deps.APIKeys != nil {
			r.Use(s.deps.APIKeys.Middleware)
		}
		r.Use(handlers.SecurityHeadersMiddleware)
		r.Use(handlers.NoCacheMiddleware)
		r.Use(handlers.RequestSizeLimitMiddleware(s.config.MaxBodyBytes))

		r.Post("/schedules", s.handleCreateSchedule)
		r.Post("/schedules/{id}/expedite", s.handleExpedite)

		r.Route("/notify", func(r chi.Router) {
			r.Post("/module-unlock", s.handleNotifyModuleUnlock)
			r.Post("/section-unlock", s.handleNotifySectionUnlock)
			r.Post("/waiting-period", s.handleNotifyWaitingPeriod)
			r.Post("/achievement", s.handleNotifyAchievement)
			r.Post("/xp", s.handleNotifyXP)
			r.Post("/generic", s.handleNotifyGeneric)
		})

		r.With(s.requireFeature(config.FeatureEventIngest)).Post("/events/{type}", s.handlePublishEvent)

		r.Get("/stats", s.handleStats)
		r.With(s.requireFeature(config.FeatureManualJobs)).Post("/jobs/{name}/run", s.handleRunJob)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// loggingMiddleware logs all HTTP requests.
// chi's wrap writer keeps http.Hijacker so /ws can upgrade.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		if r.URL.Path == "/health" || r.URL.Path == "/live" || r.URL.Path == "/ready" || r.URL.Path == "/metrics" {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// recoveryMiddleware recovers from panics and returns 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
					"path", r.URL.Path,
					"request_id", middleware.GetReqID(r.Context()),
				)
				writeJSONError(w, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireFeature(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.deps.Features.IsEnabled(name) {
				writeJSONError(w, http.StatusNotFound, "feature_disabled", "Feature "+name+" is disabled")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", "address", s.config.Address())

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
// Hijacked WebSocket connections are not tracked here; the registry closes them.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success bool          `json:"success"`
	Data    interface{}   `json:"data,omitempty"`
	Error   *APIError     `json:"error,omitempty"`
	Meta    *ResponseMeta `json:"meta,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	response := JSONResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta: &ResponseMeta{
			Timestamp: time.Now().UTC(),
			Version:   "v1",
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// writeJSONError writes an error JSON response.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	response := JSONResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
		Meta: &ResponseMeta{
			Timestamp: time.Now().UTC(),
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// writeDomainError maps domain error kinds onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var de *shared.DomainError
	msg := err.Error()
	if errors.As(err, &de) && de.Message != "" {
		msg = de.Message
	}

	switch {
	case shared.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, "validation_error", msg)
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", msg)
	case shared.IsInvalidState(err):
		writeJSONError(w, http.StatusConflict, "invalid_state", msg)
	case errors.Is(err, shared.ErrAlreadyExists):
		writeJSONError(w, http.StatusConflict, "already_exists", msg)
	default:
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Request failed")
	}
}

// decodeJSON reads a JSON body, rejecting unknown fields.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return shared.WrapError("http", "decode", shared.ErrInvalidInput, "invalid JSON body", err)
	}
	return nil
}
