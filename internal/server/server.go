package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mlop-ai/monitor/internal/monitor"
)

// Server is the monitor HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Metrics, Cycles, OpenAPISpec.
type ServerConfig struct {
	// Required dependencies.
	Gate     RunResolver
	Triggers monitor.TriggerStore
	Alerter  Alerter
	DB       Pinger
	Logger   *slog.Logger

	// Optional dependencies (nil = not reported).
	Metrics Pinger
	Cycles  CycleReporter

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	OpenAPISpec []byte
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Gate:                cfg.Gate,
		Triggers:            cfg.Triggers,
		Alerter:             cfg.Alerter,
		DB:                  cfg.DB,
		Metrics:             cfg.Metrics,
		Cycles:              cfg.Cycles,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	mux := http.NewServeMux()

	// Run endpoints (bearer API key, run must belong to the key's org).
	mux.HandleFunc("POST /api/runs/trigger", h.HandleTrigger)
	mux.HandleFunc("POST /api/runs/alert", h.HandleAlert)

	// OpenAPI spec and health (no auth).
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
