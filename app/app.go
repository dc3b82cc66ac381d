// Package app assembles the server from configuration: logger, store,
// event hub, metrics, prediction service and HTTP API.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rbfnet/config"
	"rbfnet/db"
	rhttp "rbfnet/http"
	"rbfnet/logging"
	"rbfnet/monitoring"
	"rbfnet/training"
)

const shutdownTimeout = 10 * time.Second

// App owns every long-lived component of a running server.
type App struct {
	cfg        *config.Config
	configPath string
	logger     *logging.Logger
	store      *db.Store
	metrics    *monitoring.Metrics
	hub        *monitoring.Hub
	server     *rhttp.Server
}

// New opens the store and wires the server. configPath may be empty, in
// which case the configuration is not watched for changes.
func New(cfg *config.Config, configPath string, logger *logging.Logger) (*App, error) {
	store, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, err
	}

	metrics := monitoring.NewMetrics()
	hub := monitoring.NewHub(logger.Named("hub"), cfg.HTTP.AllowedOrigins, metrics)
	predictor, err := training.NewPredictionService(store, cfg.ML.ModelCacheSize, metrics, logger.Named("predict"))
	if err != nil {
		store.Close()
		return nil, err
	}
	runner := training.NewRunner(logger.Named("training"), store, hub, metrics)

	server := rhttp.NewServer(rhttp.ServerConfigFrom(cfg), rhttp.Deps{
		Catalog:   store,
		Runner:    runner,
		Predictor: predictor,
		Hub:       hub,
		Metrics:   metrics,
		Logger:    logger.Named("http"),
	})

	return &App{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		store:      store,
		metrics:    metrics,
		hub:        hub,
		server:     server,
	}, nil
}

// Run serves until ctx is cancelled, then shuts everything down in reverse
// order of startup.
func (a *App) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)

	if a.configPath != "" {
		go func() {
			if err := config.Watch(ctx, a.configPath, a.logger.Logger, a.reload); err != nil {
				a.logger.Warn("config watch stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		a.logger.Error("server shutdown", zap.Error(err))
	}
	stopHub()
	if err := a.store.Close(); err != nil {
		a.logger.Error("close store", zap.Error(err))
	}
	a.logger.Info("exiting", zap.Any("hub", a.hub.Stats()))
	if serveErr != nil {
		return fmt.Errorf("serve: %w", serveErr)
	}
	return nil
}

// reload applies the parts of a changed configuration that can change
// without a restart. Only the log level qualifies today.
func (a *App) reload(cfg *config.Config) {
	if cfg.Log.Level == a.cfg.Log.Level {
		return
	}
	if err := a.logger.SetLevel(cfg.Log.Level); err != nil {
		a.logger.Warn("ignoring log level from config", zap.String("level", cfg.Log.Level), zap.Error(err))
		return
	}
	a.cfg.Log.Level = cfg.Log.Level
}
