// Package api implements the tubeblog HTTP API.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nugget/tubeblog/internal/auth"
	"github.com/nugget/tubeblog/internal/buildinfo"
	"github.com/nugget/tubeblog/internal/config"
	"github.com/nugget/tubeblog/internal/connwatch"
	"github.com/nugget/tubeblog/internal/events"
	"github.com/nugget/tubeblog/internal/failure"
	"github.com/nugget/tubeblog/internal/pipeline"
	"github.com/nugget/tubeblog/internal/store"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Runner turns a video URL into an article.
type Runner interface {
	Run(ctx context.Context, rawURL string) (*pipeline.Article, error)
}

// Config holds the server settings that are not collaborators.
type Config struct {
	Address string
	Port    int

	// Provider and Model label usage records for runs that fail before
	// the generator reports a model.
	Provider string
	Model    string

	Pricing map[string]config.PricingEntry
}

// Server is the HTTP API server.
type Server struct {
	cfg    Config
	store  *store.Store
	auth   *auth.Manager
	runner Runner
	bus    *events.Bus
	health *connwatch.Manager
	logger *slog.Logger
	server *http.Server
}

// NewServer creates a new API server. bus may be nil.
func NewServer(cfg Config, st *store.Store, am *auth.Manager, runner Runner, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		store:  st,
		auth:   am,
		runner: runner,
		bus:    bus,
		logger: logger,
	}
}

// SetHealth attaches the dependency watchers reported by /health.
func (s *Server) SetHealth(m *connwatch.Manager) {
	s.health = m
}

// Handler returns the routed handler with request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)

	// Accounts
	mux.HandleFunc("POST /api/signup", s.handleSignup)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.Handle("GET /api/user", s.auth.Require(http.HandlerFunc(s.handleUserGet)))
	mux.Handle("PATCH /api/user", s.auth.Require(http.HandlerFunc(s.handleUserUpdate)))
	mux.Handle("DELETE /api/user", s.auth.Require(http.HandlerFunc(s.handleUserDelete)))
	mux.Handle("POST /api/change-password", s.auth.Require(http.HandlerFunc(s.handleChangePassword)))

	// Posts
	mux.Handle("POST /api/generate-blog", s.auth.Require(http.HandlerFunc(s.handleGenerateBlog)))
	mux.Handle("GET /api/blogs", s.auth.Require(http.HandlerFunc(s.handleBlogList)))
	mux.Handle("GET /api/blogs/{id}", s.auth.Require(http.HandlerFunc(s.handleBlogGet)))
	mux.Handle("PATCH /api/blogs/{id}", s.auth.Require(http.HandlerFunc(s.handleBlogUpdate)))
	mux.Handle("DELETE /api/blogs/{id}", s.auth.Require(http.HandlerFunc(s.handleBlogDelete)))
	mux.Handle("GET /api/blogs/{id}/html", s.auth.Require(http.HandlerFunc(s.handleBlogHTML)))
	mux.Handle("GET /api/usage", s.auth.Require(http.HandlerFunc(s.handleUsage)))

	// Live events for the signed-in user
	mux.Handle("GET /api/events", s.auth.Require(http.HandlerFunc(s.handleEvents)))

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // generation runs synchronously
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	addr := s.cfg.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.cfg.Port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying writer for WebSocket
// upgrades.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Runtime(), s.logger)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string                    `json:"status"`
	Services []connwatch.ServiceStatus `json:"services,omitempty"`
}

// handleHealth answers 503 only when the store is down. Any other
// unreachable dependency is reported as "degraded" with 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Services: s.health.Status()}
	code := http.StatusOK
	for _, svc := range resp.Services {
		if !svc.Ready {
			resp.Status = "degraded"
		}
	}
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("health check: store unreachable", "error", err)
		resp.Status, code = "unavailable", http.StatusServiceUnavailable
	}
	s.respond(w, code, resp)
}

func (s *Server) respond(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, v, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	s.typedError(w, code, "invalid_request_error", message)
}

func (s *Server) typedError(w http.ResponseWriter, code int, typ, message string) {
	s.respond(w, code, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    typ,
			"code":    code,
		},
	})
}

// pipelineError maps a run failure to an HTTP status. Caller mistakes
// (no URL, transcript over the limit) are 400; the rest are 500.
func (s *Server) pipelineError(w http.ResponseWriter, err error) {
	kind := failure.KindOf(err)
	code := http.StatusInternalServerError
	switch kind {
	case failure.InputMissing, failure.LengthExceeded:
		code = http.StatusBadRequest
	}

	message := err.Error()
	var le *failure.LengthError
	if errors.As(err, &le) {
		message = le.Error()
	}
	s.typedError(w, code, kind.String(), message)
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
