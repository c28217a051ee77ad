package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/allisson/relay/internal/errors"
)

// Outbox-specific error definitions.
var (
	// ErrInvalidRequest indicates a malformed enqueue request.
	ErrInvalidRequest = errors.Wrap(errors.ErrInvalidInput, "invalid outbox request")

	// ErrOutboxItemNotFound indicates the outbox item does not exist.
	ErrOutboxItemNotFound = errors.Wrap(errors.ErrNotFound, "outbox item not found")

	// ErrDuplicateIdempotencyKey indicates another item already owns the idempotency key.
	ErrDuplicateIdempotencyKey = errors.Wrap(errors.ErrConflict, "duplicate idempotency key")

	// ErrClaimLost indicates the item changed after it was claimed, so the attempt outcome was not written.
	ErrClaimLost = errors.Wrap(errors.ErrConflict, "outbox item claim lost")

	// ErrInvalidTransition indicates an attempt outcome the item's state machine does not allow.
	ErrInvalidTransition = errors.Wrap(errors.ErrConflict, "invalid outbox status transition")

	// ErrReconcileRunNotFound indicates the reconcile run does not exist.
	ErrReconcileRunNotFound = errors.Wrap(errors.ErrNotFound, "reconcile run not found")

	// ErrReconcileRunFinalized indicates the reconcile run was already finished.
	ErrReconcileRunFinalized = errors.Wrap(errors.ErrConflict, "reconcile run already finalized")

	// ErrReconcileInProgress indicates another worker is reconciling the same integration.
	ErrReconcileInProgress = errors.Wrap(errors.ErrLocked, "reconciliation already in progress")

	// ErrNoSender indicates no sender is registered for the integration.
	ErrNoSender = errors.Wrap(errors.ErrUnavailable, "no sender registered for integration")
)

// RateLimitError signals that the provider asked the dispatcher to slow down.
// The item stays queued and does not lose its retry budget to dead-lettering.
type RateLimitError struct {
	// RetryAfter is the provider's requested delay, zero when it gave none.
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// PermanentError signals a failure that retrying cannot fix (e.g., the provider
// rejected the request as invalid). The item is dead-lettered immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	if e.Err == nil {
		return "permanent failure"
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

// DeliveryReceipt is what a sender reports for a successful delivery.
type DeliveryReceipt struct {
	// ProviderResponse is stored on the item as provider_response.
	ProviderResponse json.RawMessage
}
