package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/t77yq/alert-escalation/internal/alerts"
	"github.com/t77yq/alert-escalation/internal/auth"
	"github.com/t77yq/alert-escalation/internal/monitor"
)

// Config holds the HTTP listener settings
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server wraps the HTTP API server.
type Server struct {
	logger     *zap.Logger
	httpServer *http.Server
}

// StatusSource exposes the latest status snapshot on GET /healthz
type StatusSource interface {
	Last() *monitor.Snapshot
}

// Option configures a Server
type Option func(*handler)

// WithStatus includes the latest snapshot of status in health responses
func WithStatus(status StatusSource) Option {
	return func(h *handler) {
		h.status = status
	}
}

// NewServer builds the HTTP server. gatherer backs GET /metrics and may be nil.
func NewServer(cfg Config, service *alerts.Service, issuer *auth.Issuer, secret []byte, gatherer prometheus.Gatherer, logger *zap.Logger, opts ...Option) *Server {
	logger = logger.Named("api")
	h := &handler{logger: logger, alerts: service, issuer: issuer}
	for _, opt := range opts {
		opt(h)
	}

	return &Server{
		logger: logger,
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      newHandler(h, auth.NewMiddleware(secret), gatherer),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// newHandler wires the routes. Every /alerts route goes through mw.
func newHandler(h *handler, mw *auth.Middleware, gatherer prometheus.Gatherer) http.Handler {
	protected := http.NewServeMux()
	protected.HandleFunc("POST /alerts", h.createAlert)
	protected.HandleFunc("GET /alerts", h.listAlerts)
	protected.HandleFunc("GET /alerts/stats", h.stats)
	protected.HandleFunc("GET /alerts/top-drivers", h.topDrivers)
	protected.HandleFunc("GET /alerts/driver/{driverId}", h.listByDriver)
	protected.HandleFunc("GET /alerts/{id}", h.getAlert)
	protected.HandleFunc("PUT /alerts/{id}/resolve", h.resolveAlert)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", h.login)
	mux.HandleFunc("GET /healthz", h.health)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	securedAlerts := mw.Wrap(protected)
	mux.Handle("/alerts", securedAlerts)
	mux.Handle("/alerts/", securedAlerts)

	return loggingMiddleware(mux, h.logger)
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start boots the API server asynchronously.
func (s *Server) Start() {
	go func() {
		s.logger.Info("API server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server exited", zap.Error(err))
		}
	}()
}

// Shutdown gracefully stops the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
