package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Sender delivers outbox items to one integration. Implementations report a provider
// throttle as *RateLimitError and an unrecoverable rejection as *PermanentError; any
// other error is treated as transient.
type Sender interface {
	Send(ctx context.Context, item *OutboxItem) (*DeliveryReceipt, error)
}

// DispatchOutcome is the result of handling one item in a batch.
type DispatchOutcome string

const (
	DispatchOutcomeSent        DispatchOutcome = "sent"
	DispatchOutcomeRetry       DispatchOutcome = "retry"
	DispatchOutcomeRateLimited DispatchOutcome = "rate_limited"
	DispatchOutcomeDeadLetter  DispatchOutcome = "dead_letter"
	// DispatchOutcomeSkipped means the item was not attempted: another dispatcher
	// claimed it first or its integration was throttled earlier in the batch.
	DispatchOutcomeSkipped DispatchOutcome = "skipped"
)

// DispatchInput selects the items of a batch.
type DispatchInput struct {
	// BatchSize caps the number of items selected; zero means the configured default.
	BatchSize int
	// IntegrationID restricts the batch to one integration when set.
	IntegrationID string
}

// DueFilter narrows the selection of due items.
type DueFilter struct {
	// IntegrationID restricts the selection to one integration when set.
	IntegrationID string
	// ExcludeIntegrations lists integrations whose items must not be selected.
	ExcludeIntegrations []string
}

// DispatchItemResult reports what happened to one selected item.
type DispatchItemResult struct {
	OutboxID      uuid.UUID
	IntegrationID string
	Outcome       DispatchOutcome
	AttemptCount  int
	NextAttemptAt *time.Time
	Error         string
}

// DispatchResult summarizes a batch. Failed counts every unsuccessful attempt that was
// not rate limited, dead-lettered items included.
type DispatchResult struct {
	Total        int
	Sent         int
	Failed       int
	RateLimited  int
	DeadLettered int
	Skipped      int
	Items        []DispatchItemResult
}

// Add records one item result and updates the counters.
func (r *DispatchResult) Add(item DispatchItemResult) {
	r.Items = append(r.Items, item)
	switch item.Outcome {
	case DispatchOutcomeSent:
		r.Sent++
	case DispatchOutcomeRetry:
		r.Failed++
	case DispatchOutcomeRateLimited:
		r.RateLimited++
	case DispatchOutcomeDeadLetter:
		r.Failed++
		r.DeadLettered++
	case DispatchOutcomeSkipped:
		r.Skipped++
	}
}

// ReconcileResult is the outcome of one reconciliation pass.
type ReconcileResult struct {
	RunID         uuid.UUID
	IntegrationID string
	Success       bool
	Checked       int
	Fixed         int
	Notes         string
}
