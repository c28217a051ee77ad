package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/allisson/relay/internal/errors"
	"github.com/allisson/relay/internal/outbox/domain"
	customValidation "github.com/allisson/relay/internal/validation"
)

// ReconcileConfig holds the reconciler settings.
type ReconcileConfig struct {
	// StaleAfter is how long a queued item may stay untouched before it is re-armed.
	StaleAfter time.Duration
	// LogBatchSize caps the pending downstream log entries examined per pass.
	LogBatchSize int
	// Concurrency bounds how many integrations ReconcileAll processes at once.
	Concurrency int
}

// reconcileUseCase implements ReconcileUseCase.
type reconcileUseCase struct {
	config     ReconcileConfig
	outboxRepo OutboxItemRepository
	runRepo    ReconcileRunRepository
	logRepo    DownstreamLogRepository
	enqueuer   Enqueuer
	policies   *domain.PolicyRegistry
	locker     Locker
	notifier   FailureNotifier
	logger     *slog.Logger
	now        func() time.Time
}

// NewReconcileUseCase creates the reconciler.
func NewReconcileUseCase(
	config ReconcileConfig,
	outboxRepo OutboxItemRepository,
	runRepo ReconcileRunRepository,
	logRepo DownstreamLogRepository,
	enqueuer Enqueuer,
	policies *domain.PolicyRegistry,
	locker Locker,
	notifier FailureNotifier,
	logger *slog.Logger,
) ReconcileUseCase {
	if config.StaleAfter <= 0 {
		config.StaleAfter = 6 * time.Hour
	}
	if config.LogBatchSize <= 0 {
		config.LogBatchSize = 500
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	return &reconcileUseCase{
		config:     config,
		outboxRepo: outboxRepo,
		runRepo:    runRepo,
		logRepo:    logRepo,
		enqueuer:   enqueuer,
		policies:   policies,
		locker:     locker,
		notifier:   notifier,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile runs one drift detection pass for the integration. The pass is always
// bracketed by a ReconcileRun that is created in_progress and finalized exactly once.
func (r *reconcileUseCase) Reconcile(ctx context.Context, integrationID string) (*domain.ReconcileResult, error) {
	if err := validation.Validate(integrationID, validation.Required, customValidation.Identifier); err != nil {
		return nil, apperrors.Wrapf(domain.ErrInvalidRequest, "integration_id: %v", err)
	}

	policy := r.policies.PolicyFor(integrationID)
	run := &domain.ReconcileRun{
		ID:            uuid.Must(uuid.NewV7()),
		IntegrationID: integrationID,
		Strategy:      policy.Strategy,
		Status:        domain.ReconcileRunStatusInProgress,
		StartedAt:     r.now(),
	}
	if err := r.runRepo.Create(ctx, run); err != nil {
		return nil, err
	}

	var (
		checked, fixed int
		notes          string
		passErr        error
	)
	if !policy.Enabled {
		notes = "integration disabled"
	} else {
		checked, fixed, notes, passErr = r.lockedPass(ctx, policy)
	}

	status := domain.ReconcileRunStatusSuccess
	if passErr != nil {
		status = domain.ReconcileRunStatusFailed
		notes = passErr.Error()
	}
	run.Checked = checked
	run.Fixed = fixed
	run.Finish(status, notes, r.now())

	if err := r.runRepo.Finish(context.WithoutCancel(ctx), run); err != nil {
		r.logRun("failed to finalize reconcile run", run, err)
		return nil, errors.Join(passErr, err)
	}

	result := &domain.ReconcileResult{
		RunID:         run.ID,
		IntegrationID: integrationID,
		Success:       passErr == nil,
		Checked:       checked,
		Fixed:         fixed,
		Notes:         notes,
	}

	if passErr != nil {
		r.logRun("reconcile run failed", run, passErr)
		if !apperrors.Is(passErr, domain.ErrReconcileInProgress) {
			r.notifier.NotifyIntegrationFailure(context.WithoutCancel(ctx), domain.IntegrationFailure{
				IntegrationID: integrationID,
				ErrorType:     domain.FailureTypeReconcileFailed,
				ErrorMessage:  passErr.Error(),
				ResourceID:    "reconcile_run:" + run.ID.String(),
				Context: map[string]any{
					"run_id":   run.ID.String(),
					"strategy": string(run.Strategy),
					"checked":  checked,
					"fixed":    fixed,
				},
			})
		}
		return result, passErr
	}

	if r.logger != nil {
		r.logger.Info("reconcile run finished",
			slog.String("run_id", run.ID.String()),
			slog.String("integration_id", integrationID),
			slog.String("strategy", string(run.Strategy)),
			slog.Int("checked", checked),
			slog.Int("fixed", fixed),
		)
	}
	return result, nil
}

// lockedPass runs the strategy while holding the integration's reconcile lock.
func (r *reconcileUseCase) lockedPass(
	ctx context.Context,
	policy domain.IntegrationPolicy,
) (checked, fixed int, notes string, err error) {
	release, acquired, err := r.locker.TryLock(ctx, "relay:reconcile:"+policy.IntegrationID)
	if err != nil {
		return 0, 0, "", apperrors.Wrap(err, "acquire reconcile lock")
	}
	if !acquired {
		return 0, 0, "", domain.ErrReconcileInProgress
	}
	defer func() {
		if relErr := release(context.WithoutCancel(ctx)); relErr != nil && r.logger != nil {
			r.logger.Warn("failed to release reconcile lock",
				slog.String("integration_id", policy.IntegrationID),
				slog.Any("error", relErr),
			)
		}
	}()

	return r.runStrategy(ctx, policy)
}

// runStrategy executes the policy's drift detection. Counters reflect the work done
// before any error. A panic is reported as an error so the run is still finalized.
func (r *reconcileUseCase) runStrategy(
	ctx context.Context,
	policy domain.IntegrationPolicy,
) (checked, fixed int, notes string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("reconcile pass panicked: %v", p)
		}
	}()

	now := r.now()
	queued, err := r.outboxRepo.CountQueued(ctx, policy.IntegrationID)
	if err != nil {
		return 0, 0, "", apperrors.Wrap(err, "count queued items")
	}
	checked = queued

	rearmed, err := r.outboxRepo.RearmStale(ctx, policy.IntegrationID, now.Add(-r.config.StaleAfter), now)
	if err != nil {
		return checked, 0, "", apperrors.Wrap(err, "rearm stale items")
	}
	fixed = rearmed

	if policy.Strategy != domain.ReconcileStrategyLogCrossCheck {
		return checked, fixed, fmt.Sprintf("rearmed %d stale items", rearmed), nil
	}

	entries, err := r.logRepo.ListPending(ctx, policy.IntegrationID, r.config.LogBatchSize)
	if err != nil {
		return checked, fixed, "", apperrors.Wrap(err, "list pending downstream log entries")
	}

	reenqueued := 0
	for _, entry := range entries {
		checked++

		sent, err := r.outboxRepo.HasSent(ctx, policy.IntegrationID, entry.StableResourceID)
		if err != nil {
			return checked, fixed, "", apperrors.Wrap(err, "look up sent item")
		}
		if sent {
			continue
		}

		res, err := r.enqueuer.Enqueue(ctx, domain.EnqueueInput{
			IntegrationID:    policy.IntegrationID,
			Operation:        entry.Operation,
			StableResourceID: entry.StableResourceID,
			Payload:          entry.Payload,
		})
		if err != nil {
			if apperrors.Is(err, apperrors.ErrInvalidInput) {
				if r.logger != nil {
					r.logger.Warn("skipping malformed downstream log entry",
						slog.String("entry_id", entry.ID.String()),
						slog.String("integration_id", policy.IntegrationID),
						slog.Any("error", err),
					)
				}
				continue
			}
			return checked, fixed, "", apperrors.Wrap(err, "re-enqueue lost operation")
		}
		if !res.Existed {
			reenqueued++
			fixed++
		}
	}

	return checked, fixed, fmt.Sprintf("rearmed %d stale items, re-enqueued %d lost operations", rearmed, reenqueued), nil
}

// ReconcileAll reconciles every configured integration, plus any other integration
// that has queued items, with bounded concurrency. It keeps going when one
// integration fails and returns the joined errors.
func (r *reconcileUseCase) ReconcileAll(ctx context.Context) ([]*domain.ReconcileResult, error) {
	var (
		mu   sync.Mutex
		errs []error
	)

	ids := r.policies.IntegrationIDs()
	queuedIDs, err := r.outboxRepo.ListQueuedIntegrationIDs(ctx)
	if err != nil {
		errs = append(errs, apperrors.Wrap(err, "list queued integrations"))
	}
	ids = mergeIntegrationIDs(ids, queuedIDs)
	results := make([]*domain.ReconcileResult, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)

	for i, id := range ids {
		g.Go(func() error {
			result, err := r.Reconcile(gctx, id)
			if result == nil {
				result = &domain.ReconcileResult{IntegrationID: id}
			}
			results[i] = result
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

// mergeIntegrationIDs returns the sorted union of both id lists.
func mergeIntegrationIDs(configured, queued []string) []string {
	seen := make(map[string]bool, len(configured)+len(queued))
	ids := make([]string, 0, len(configured)+len(queued))
	for _, list := range [][]string{configured, queued} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	slices.Sort(ids)
	return ids
}

// ListRuns returns recent reconcile runs, newest first.
func (r *reconcileUseCase) ListRuns(
	ctx context.Context,
	integrationID string,
	offset, limit int,
) ([]*domain.ReconcileRun, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return r.runRepo.List(ctx, integrationID, offset, limit)
}

func (r *reconcileUseCase) logRun(msg string, run *domain.ReconcileRun, err error) {
	if r.logger == nil {
		return
	}
	r.logger.Error(msg,
		slog.String("run_id", run.ID.String()),
		slog.String("integration_id", run.IntegrationID),
		slog.String("strategy", string(run.Strategy)),
		slog.Any("error", err),
	)
}
