package usecase

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/allisson/relay/internal/outbox/domain"
)

// WorkerConfig holds the schedule of the in-process worker.
type WorkerConfig struct {
	DispatchInterval  time.Duration
	ReconcileInterval time.Duration
	BatchSize         int
}

// Worker drives DispatchBatch and ReconcileAll on tickers. It is a convenience for
// deployments without an external scheduler; each tick is an ordinary invocation.
type Worker struct {
	config    WorkerConfig
	dispatch  DispatchUseCase
	reconcile ReconcileUseCase
	logger    *slog.Logger
}

// NewWorker creates a new Worker.
func NewWorker(
	config WorkerConfig,
	dispatch DispatchUseCase,
	reconcile ReconcileUseCase,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		config:    config,
		dispatch:  dispatch,
		reconcile: reconcile,
		logger:    logger,
	}
}

// Start runs both loops until ctx is cancelled and returns ctx.Err().
func (w *Worker) Start(ctx context.Context) error {
	if w.logger != nil {
		w.logger.Info("starting outbox worker",
			slog.Duration("dispatch_interval", w.config.DispatchInterval),
			slog.Duration("reconcile_interval", w.config.ReconcileInterval),
			slog.Int("batch_size", w.config.BatchSize),
		)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.loop(gctx, "dispatch", w.config.DispatchInterval, w.dispatchOnce)
	})
	g.Go(func() error {
		return w.loop(gctx, "reconcile", w.config.ReconcileInterval, w.reconcileOnce)
	})
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if w.logger != nil {
				w.logger.Info("stopping outbox worker loop", slog.String("loop", name))
			}
			return ctx.Err()
		case <-ticker.C:
			if err := fn(ctx); err != nil && ctx.Err() == nil && w.logger != nil {
				w.logger.Error("outbox worker tick failed", slog.String("loop", name), slog.Any("error", err))
			}
		}
	}
}

// maxBatchesPerTick bounds how many consecutive full batches one tick may run.
const maxBatchesPerTick = 20

// dispatchOnce keeps dispatching while batches come back full, so a backlog drains
// without waiting for the next tick.
func (w *Worker) dispatchOnce(ctx context.Context) error {
	for i := 0; i < maxBatchesPerTick; i++ {
		result, err := w.dispatch.DispatchBatch(ctx, domain.DispatchInput{BatchSize: w.config.BatchSize})
		if err != nil {
			return err
		}
		if w.config.BatchSize <= 0 || result.Total < w.config.BatchSize || result.Skipped == result.Total {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

func (w *Worker) reconcileOnce(ctx context.Context) error {
	_, err := w.reconcile.ReconcileAll(ctx)
	return err
}
