package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/tidegraph/tidegraph/internal/app"
	"github.com/tidegraph/tidegraph/internal/config"
	"github.com/tidegraph/tidegraph/internal/log"
)

// runWorker starts a standalone ingestion worker. It requires the redis
// broker: with the in-process channel broker there is nothing for a
// separate process to consume (the serve command runs its own worker in
// that mode).
func runWorker(logger log.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Broker.Kind != config.BrokerRedis {
		return fmt.Errorf("worker requires the redis broker, got %q (set TIDEGRAPH_BROKER=redis)",
			cfg.Broker.Kind)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting ingest worker", "version", Version, "redis", cfg.Redis.Addr)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	w, err := a.NewWorker()
	if err != nil {
		return fmt.Errorf("creating ingest worker: %w", err)
	}

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("ingest worker: %w", err)
	}

	logger.Info("ingest worker stopped")
	return nil
}
