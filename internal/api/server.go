package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/radio-control/siggen/internal/auth"
	"github.com/radio-control/siggen/internal/config"
)

// Options wires a Server. Nil ports make their routes answer UNAVAILABLE.
type Options struct {
	Controller ControllerPort
	Telemetry  TelemetryPort
	LastConfig LastConfigPort
	Auth       *auth.Middleware
	Metrics    http.Handler
	Logger     *zap.Logger

	Server      config.ServerConfig
	WaveformDir string
}

// Server represents the HTTP API server.
type Server struct {
	httpServer *http.Server
	controller ControllerPort
	telemetry  TelemetryPort
	lastConfig LastConfigPort
	auth       *auth.Middleware
	metrics    http.Handler
	logger     *zap.Logger
	cfg        config.ServerConfig
	waveforms  string
	startTime  time.Time
}

// NewServer creates a new API server.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Auth == nil {
		opts.Auth = auth.NewMiddleware(nil)
	}
	if opts.Server.CommandTimeout <= 0 {
		opts.Server.CommandTimeout = 5 * time.Second
	}

	return &Server{
		controller: opts.Controller,
		telemetry:  opts.Telemetry,
		lastConfig: opts.LastConfig,
		auth:       opts.Auth,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		cfg:        opts.Server,
		waveforms:  opts.WaveformDir,
		startTime:  time.Now(),
	}
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return withLogging(s.logger, mux)
}

// Start serves on addr until Stop. It returns nil after a clean shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.logger.Info("HTTP API listening", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func withLogging(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rw, r)
		log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.code),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
