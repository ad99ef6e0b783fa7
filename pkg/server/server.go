// Package server exposes pack runs over HTTP: a one-shot POST endpoint that
// returns the document and a websocket endpoint that streams progress first.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sourcepack/pkg/archive"
	"sourcepack/pkg/config"
	"sourcepack/pkg/metrics"
)

// Routes.
const (
	PackPath    = "/v1/pack"
	PackWSPath  = "/v1/pack/ws"
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"
)

// BytesHeader carries the document size on POST responses.
const BytesHeader = "X-Sourcepack-Bytes"

// Acquirer downloads a repository archive. *archive.Fetcher implements it.
type Acquirer interface {
	FetchRepo(ctx context.Context, repoURL string) (*archive.Archive, string, error)
}

// Options configure a Server.
type Options struct {
	Workers   int           // concurrent pack runs; <= 0 means one per CPU
	QueueSize int           // runs waiting for a worker
	Defaults  config.Config // base configuration; requests override fields of it
	TempDir   string        // where documents are staged; "" means os.TempDir()

	Acquirer Acquirer            // nil means archive.NewFetcher
	Registry *prometheus.Registry // nil means a fresh registry
	Logger   *zap.Logger
}

// Server serves pack runs.
type Server struct {
	pool     *Pool
	acquirer Acquirer
	defaults config.Config
	tempDir  string
	registry *prometheus.Registry
	metrics  *metrics.Recorder
	upgrader websocket.Upgrader
	router   chi.Router
	logger   *zap.Logger
}

// New builds a Server and starts its worker pool.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	acq := opts.Acquirer
	if acq == nil {
		acq = archive.NewFetcher(logger)
	}

	s := &Server{
		pool:     NewPool(opts.Workers, opts.QueueSize, logger),
		acquirer: acq,
		defaults: opts.Defaults,
		tempDir:  opts.TempDir,
		registry: reg,
		metrics:  metrics.New(metrics.WithRegistry(reg)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get(HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	r.Handle(MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Post(PackPath, s.handlePack)
	r.Get(PackWSPath, s.handlePackWS)
	s.router = r
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.router }

// Close waits for running jobs and stops the worker pool.
func (s *Server) Close() { s.pool.Close() }

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully and stops the pool.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// requestLogger logs one line per request with zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("Handled request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("requestID", middleware.GetReqID(r.Context())),
			)
		})
	}
}
