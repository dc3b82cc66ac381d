// Package http exposes training, the model catalogue and prediction over a
// JSON API, plus the training event stream and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"rbfnet/config"
	"rbfnet/db"
	"rbfnet/monitoring"
	"rbfnet/training"
)

// Catalog is the read/delete side of the persistence store.
type Catalog interface {
	ListTrainings(ctx context.Context) ([]db.TrainingSummary, error)
	LoadTraining(ctx context.Context, id int64) (*db.Training, error)
	DeleteTraining(ctx context.Context, id int64) error
	Export(ctx context.Context, id int64) (*db.ExportDocument, error)
}

// ServerConfig holds listener settings and the training defaults applied
// to requests that leave them out.
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	AllowedOrigins []string
	MaxBodyBytes   int64
	MaxJobs        int
	JobTTL         time.Duration
	Defaults       config.MLConfig
}

// DefaultServerConfig derives settings from config.Default().
func DefaultServerConfig() ServerConfig {
	return ServerConfigFrom(config.Default())
}

// ServerConfigFrom derives the server settings from the application config.
func ServerConfigFrom(cfg *config.Config) ServerConfig {
	return ServerConfig{
		Port:           cfg.HTTP.Port,
		Timeout:        cfg.HTTP.Timeout,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		MaxBodyBytes:   cfg.ML.MaxUploadMB << 20,
		MaxJobs:        cfg.HTTP.MaxJobs,
		JobTTL:         cfg.HTTP.JobTTL,
		Defaults:       cfg.ML,
	}
}

// Deps are the services the handlers call into. Hub and Metrics may be nil.
type Deps struct {
	Catalog   Catalog
	Runner    *training.Runner
	Predictor *training.PredictionService
	Hub       http.Handler
	Metrics   *monitoring.Metrics
	Logger    *zap.Logger
}

// Server is the API server.
type Server struct {
	server  *http.Server
	handler http.Handler
	config  ServerConfig
	deps    Deps
	logger  *zap.Logger
	jobs    *jobStore

	// background trainings outlive their request but not the server
	jobCtx    context.Context
	cancelJob context.CancelFunc
	jobWG     sync.WaitGroup
}

// NewServer wires routes and middleware.
func NewServer(cfg ServerConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	jobCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:    cfg,
		deps:      deps,
		logger:    logger,
		jobs:      newJobStore(cfg.MaxJobs, cfg.JobTTL),
		jobCtx:    jobCtx,
		cancelJob: cancel,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.handler = middleware(cfg, logger)(mux)

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.handler,
		ReadTimeout: cfg.Timeout,
		IdleTimeout: 120 * time.Second,
	}
	return s
}

// middleware is the chain every route runs behind. Recovery sits inside the
// logger so a panic is logged with the request ID and counted as a 500.
func middleware(cfg ServerConfig, logger *zap.Logger) Middleware {
	return Chain(
		LoggerMiddleware(logger),
		RecoveryMiddleware(logger),
		SecurityHeadersMiddleware,
		CORSMiddleware(cfg.AllowedOrigins),
		RequestSizeMiddleware(cfg.MaxBodyBytes),
	)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	s.route(mux, "GET /api/health", http.HandlerFunc(handleHealth))

	s.route(mux, "POST /api/trainings", http.HandlerFunc(s.handleStartTraining))
	s.route(mux, "GET /api/jobs/{id}", http.HandlerFunc(s.handleJob))
	s.route(mux, "GET /api/trainings", http.HandlerFunc(s.handleListTrainings))
	s.route(mux, "GET /api/trainings/{id}", http.HandlerFunc(s.handleGetTraining))
	s.route(mux, "DELETE /api/trainings/{id}", http.HandlerFunc(s.handleDeleteTraining))
	s.route(mux, "GET /api/trainings/{id}/export", http.HandlerFunc(s.handleExportTraining))
	s.route(mux, "POST /api/trainings/{id}/predict", http.HandlerFunc(s.handlePredict))
	s.route(mux, "POST /api/inspect", http.HandlerFunc(s.handleInspect))
	s.route(mux, "POST /api/autoconfig", http.HandlerFunc(s.handleAutoConfig))

	if s.deps.Hub != nil {
		s.route(mux, "GET /api/ws/trainings", s.deps.Hub)
	}
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}
}

func (s *Server) route(mux *http.ServeMux, pattern string, h http.Handler) {
	mux.Handle(pattern, instrument(s.deps.Metrics, pattern, h))
}

// Handler returns the full middleware-wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.String("addr", s.server.Addr),
		zap.String("events", "ws://localhost"+s.server.Addr+"/api/ws/trainings"))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop shuts the listener down, cancels running trainings and waits for them.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	err := s.server.Shutdown(ctx)
	s.cancelJob()

	done := make(chan struct{})
	go func() {
		s.jobWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("trainings still running at shutdown")
	}

	if err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func (s *Server) Addr() string {
	return s.server.Addr
}
