package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ReconcileRunStatus is the state of a reconcile audit record.
type ReconcileRunStatus string

const (
	ReconcileRunStatusInProgress ReconcileRunStatus = "in_progress"
	ReconcileRunStatusSuccess    ReconcileRunStatus = "success"
	ReconcileRunStatusFailed     ReconcileRunStatus = "failed"
)

// ReconcileRun is the audit record of one reconciliation pass. It is created
// in_progress and finalized exactly once.
type ReconcileRun struct {
	ID            uuid.UUID
	IntegrationID string
	Strategy      ReconcileStrategy
	Status        ReconcileRunStatus
	// Checked is the number of items and log entries examined.
	Checked int
	// Fixed is the number of drifted items repaired.
	Fixed      int
	Notes      *string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Finish moves the run to its final status.
func (r *ReconcileRun) Finish(status ReconcileRunStatus, notes string, at time.Time) {
	r.Status = status
	if notes != "" {
		r.Notes = &notes
	}
	r.FinishedAt = &at
}

// DownstreamLogStatus is the state of a downstream send log entry.
type DownstreamLogStatus string

const (
	DownstreamLogStatusPending DownstreamLogStatus = "pending"
	DownstreamLogStatusSent    DownstreamLogStatus = "sent"
	DownstreamLogStatusFailed  DownstreamLogStatus = "failed"
)

// DownstreamLogEntry is a record from an integration's authoritative send log
// (e.g., the email send log) used to detect lost enqueues.
type DownstreamLogEntry struct {
	ID               uuid.UUID
	IntegrationID    string
	Operation        string
	StableResourceID string
	Payload          json.RawMessage
	Status           DownstreamLogStatus
	CreatedAt        time.Time
}

// IntegrationFailure describes a terminal or systemic failure escalated to operators.
type IntegrationFailure struct {
	IntegrationID string
	// Operation is the operation of the failing item, empty for reconciliation failures.
	Operation    string
	ErrorType    string
	ErrorMessage string
	// ResourceID identifies the failing item or run and keys the notification.
	ResourceID string
	Context    map[string]any
}

// Failure types reported to the notifier.
const (
	FailureTypeDeadLetter      = "dead_letter"
	FailureTypeReconcileFailed = "reconcile_failed"
)
