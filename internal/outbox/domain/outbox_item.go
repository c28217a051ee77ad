// Package domain defines the outbox entities, the per-integration delivery policies
// and the outcome types shared by the enqueue, dispatch and reconcile use cases.
//
// An OutboxItem moves through a small state machine:
//
//	queued --(delivered)--------------------> sent         [terminal]
//	queued --(transient failure, budget left)-> queued     (next_attempt_at advanced)
//	queued --(rate limited)-------------------> queued     (next_attempt_at advanced)
//	queued --(retries exhausted or permanent)-> dead_letter [terminal]
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus is the delivery state of an outbox item.
type OutboxStatus string

const (
	OutboxStatusQueued     OutboxStatus = "queued"
	OutboxStatusSent       OutboxStatus = "sent"
	OutboxStatusDeadLetter OutboxStatus = "dead_letter"
)

// IsTerminal reports whether no transition may leave the status.
func (s OutboxStatus) IsTerminal() bool {
	return s == OutboxStatusSent || s == OutboxStatusDeadLetter
}

// IsValid reports whether s is a known status.
func (s OutboxStatus) IsValid() bool {
	switch s {
	case OutboxStatusQueued, OutboxStatusSent, OutboxStatusDeadLetter:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
func (s OutboxStatus) CanTransitionTo(next OutboxStatus) bool {
	return s == OutboxStatusQueued && next.IsValid()
}

// OperationNotify is the operation used for failure notifications. Items carrying it
// are never escalated again when they fail.
const OperationNotify = "notify"

// OutboxItem is one unit of side-effecting work awaiting delivery to an integration.
type OutboxItem struct {
	// ID is the UUIDv7 identifier of the item.
	ID uuid.UUID
	// IntegrationID names the target integration (e.g., "resend", "slack").
	IntegrationID string
	// Operation is the integration-specific action (e.g., "send_email").
	Operation string
	// StableResourceID is the business key the operation acts on.
	StableResourceID string
	// Payload is the operation body as raw JSON.
	Payload json.RawMessage
	// IdempotencyKey is the hex SHA-256 fingerprint of the four fields above.
	IdempotencyKey string
	// Status is the current delivery state.
	Status OutboxStatus
	// AttemptCount is the number of delivery attempts made so far.
	AttemptCount int
	// NextAttemptAt is the earliest time the dispatcher may attempt the item.
	NextAttemptAt time.Time
	// LastError describes the most recent unsuccessful attempt.
	LastError *string
	// ProviderResponse holds the integration's response to the successful attempt.
	ProviderResponse json.RawMessage
	// Version is bumped on every write and guards claim and completion.
	Version int64
	// ClaimedUntil is the end of the lease held by the dispatcher currently delivering the item.
	ClaimedUntil *time.Time
	// SentAt is when the item was delivered.
	SentAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsClaimed reports whether a dispatcher lease on the item is still live at now.
func (i *OutboxItem) IsClaimed(now time.Time) bool {
	return i.ClaimedUntil != nil && i.ClaimedUntil.After(now)
}

// IsDue reports whether the dispatcher may attempt the item at now.
func (i *OutboxItem) IsDue(now time.Time) bool {
	return i.Status == OutboxStatusQueued && !i.NextAttemptAt.After(now) && !i.IsClaimed(now)
}

// OutboxItemFilter narrows administrative listings.
type OutboxItemFilter struct {
	IntegrationID string
	Status        OutboxStatus
}

// EnqueueInput carries the identity and body of an operation to enqueue.
type EnqueueInput struct {
	IntegrationID    string
	Operation        string
	StableResourceID string
	Payload          json.RawMessage
}

// EnqueueResult is the outcome of an enqueue call. Existed is true when an item
// with the same idempotency key was already stored.
type EnqueueResult struct {
	Item    *OutboxItem
	Existed bool
}
