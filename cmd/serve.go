package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tidegraph/tidegraph/internal/app"
	"github.com/tidegraph/tidegraph/internal/config"
	"github.com/tidegraph/tidegraph/internal/log"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // SSE streaming needs longer timeout
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

// runServe initializes and starts the HTTP API server. With the
// in-process channel broker it also runs an ingest worker, so a single
// binary both serves and indexes; with the redis broker indexing is
// left to `tidegraph worker` processes.
func runServe(logger log.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr, err := parseServeAddr(cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("parsing address: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting HTTP API server", "version", Version)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	if cfg.Broker.Kind == "" || cfg.Broker.Kind == config.BrokerChannel {
		if err := startInProcessWorker(ctx, a, logger); err != nil {
			return err
		}
	}

	apiServer, err := a.NewAPIServer()
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", addr,
		"api", "/api/v1/*",
		"health", "/healthz, /readyz",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}

// startInProcessWorker runs an ingest worker inside the server process.
// The channel broker has no external consumer, so without this the
// upload and crawl tasks the API publishes would sit unconsumed.
func startInProcessWorker(ctx context.Context, a *app.App, logger log.Logger) error {
	w, err := a.NewWorker()
	if err != nil {
		return fmt.Errorf("creating ingest worker: %w", err)
	}

	go func() {
		if runErr := w.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
			logger.Error("ingest worker stopped", "error", runErr)
		}
	}()

	select {
	case <-w.Running():
		logger.Info("in-process ingest worker started")
	case <-time.After(10 * time.Second):
		return errors.New("ingest worker did not start")
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
