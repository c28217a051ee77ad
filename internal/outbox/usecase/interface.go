// Package usecase implements the outbox business logic: idempotent enqueue, batch
// dispatch with retry and dead-lettering, drift reconciliation and failure escalation.
package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/relay/internal/outbox/domain"
)

// OutboxItemRepository defines the persistence operations on outbox items.
type OutboxItemRepository interface {
	// Create stores a new item. It returns domain.ErrDuplicateIdempotencyKey when the key is taken.
	Create(ctx context.Context, item *domain.OutboxItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.OutboxItem, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.OutboxItem, error)
	List(ctx context.Context, filter domain.OutboxItemFilter, offset, limit int) ([]*domain.OutboxItem, error)
	// ListDue returns queued, unleased items with next_attempt_at <= now, oldest due first.
	ListDue(ctx context.Context, filter domain.DueFilter, now time.Time, limit int) ([]*domain.OutboxItem, error)
	// Claim leases the item until leaseUntil if it is still queued, due and at the
	// version that was read. It reports false when another writer got there first.
	Claim(ctx context.Context, item *domain.OutboxItem, now, leaseUntil time.Time) (bool, error)
	// Complete writes the outcome of an attempt if the item is still at claimedVersion.
	// It returns domain.ErrClaimLost otherwise.
	Complete(ctx context.Context, item *domain.OutboxItem, claimedVersion int64) error
	CountQueued(ctx context.Context, integrationID string) (int, error)
	// ListQueuedIntegrationIDs returns every integration id that has queued items,
	// configured or not.
	ListQueuedIntegrationIDs(ctx context.Context) ([]string, error)
	// RearmStale sets next_attempt_at to now on queued, unleased items of the integration
	// last updated before staleBefore, and returns how many it touched.
	RearmStale(ctx context.Context, integrationID string, staleBefore, now time.Time) (int, error)
	// HasSent reports whether a sent item exists for the resource.
	HasSent(ctx context.Context, integrationID, stableResourceID string) (bool, error)
}

// ReconcileRunRepository defines the persistence operations on reconcile audit records.
type ReconcileRunRepository interface {
	Create(ctx context.Context, run *domain.ReconcileRun) error
	// Finish finalizes an in_progress run. It returns domain.ErrReconcileRunFinalized
	// when the run is not in_progress anymore.
	Finish(ctx context.Context, run *domain.ReconcileRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ReconcileRun, error)
	List(ctx context.Context, integrationID string, offset, limit int) ([]*domain.ReconcileRun, error)
}

// DownstreamLogRepository reads integration send logs.
type DownstreamLogRepository interface {
	ListPending(ctx context.Context, integrationID string, limit int) ([]*domain.DownstreamLogEntry, error)
}

// SenderResolver returns the sender registered for an integration.
type SenderResolver interface {
	SenderFor(integrationID string) (domain.Sender, bool)
}

// Locker provides mutual exclusion between workers reconciling the same integration.
type Locker interface {
	// TryLock acquires key without waiting. acquired is false when another holder owns it.
	TryLock(ctx context.Context, key string) (release func(context.Context) error, acquired bool, err error)
}

// Enqueuer records operations in the outbox.
type Enqueuer interface {
	Enqueue(ctx context.Context, input domain.EnqueueInput) (*domain.EnqueueResult, error)
}

// OutboxUseCase defines the caller-facing outbox operations.
type OutboxUseCase interface {
	Enqueuer
	Get(ctx context.Context, id uuid.UUID) (*domain.OutboxItem, error)
	List(ctx context.Context, filter domain.OutboxItemFilter, offset, limit int) ([]*domain.OutboxItem, error)
}

// DispatchUseCase delivers due items.
type DispatchUseCase interface {
	DispatchBatch(ctx context.Context, input domain.DispatchInput) (*domain.DispatchResult, error)
}

// ReconcileUseCase detects and repairs drift per integration.
type ReconcileUseCase interface {
	Reconcile(ctx context.Context, integrationID string) (*domain.ReconcileResult, error)
	// ReconcileAll reconciles every configured integration and every integration with
	// queued items, returning one result per integration, including failed ones.
	ReconcileAll(ctx context.Context) ([]*domain.ReconcileResult, error)
	ListRuns(ctx context.Context, integrationID string, offset, limit int) ([]*domain.ReconcileRun, error)
}

// FailureNotifier escalates terminal and systemic failures. It never returns an error:
// notification problems are logged and swallowed.
type FailureNotifier interface {
	NotifyIntegrationFailure(ctx context.Context, failure domain.IntegrationFailure)
}
