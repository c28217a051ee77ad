package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/allisson/relay/internal/app"
	"github.com/allisson/relay/internal/config"
)

// RunWorker runs the dispatch and reconcile loops until SIGINT/SIGTERM. The metrics
// server runs alongside when metrics are enabled.
func RunWorker(ctx context.Context, version string) error {
	cfg := config.Load()

	container := app.NewContainer(cfg)

	logger := container.Logger()
	logger.Info("starting worker", slog.String("version", version))

	defer closeContainer(container, logger)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	worker, err := container.Worker(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize worker: %w", err)
	}

	if cfg.MetricsEnabled {
		metricsServer, err := container.MetricsServer()
		if err != nil {
			return fmt.Errorf("failed to initialize metrics server: %w", err)
		}
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				logger.Error("metrics server error", slog.Any("error", err))
			}
		}()
	}

	if err := worker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker stopped: %w", err)
	}

	logger.Info("worker stopped")
	return nil
}
