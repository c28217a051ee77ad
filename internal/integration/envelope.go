package integration

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/allisson/relay/internal/outbox/domain"
)

// Envelope is the document delivered to webhook and event-bus integrations.
type Envelope struct {
	ID               uuid.UUID       `json:"id"`
	IntegrationID    string          `json:"integration_id"`
	Operation        string          `json:"operation"`
	StableResourceID string          `json:"stable_resource_id"`
	IdempotencyKey   string          `json:"idempotency_key"`
	Attempt          int             `json:"attempt"`
	Payload          json.RawMessage `json:"payload"`
}

// newEnvelope wraps item for delivery. Attempt is the number of the attempt in progress.
func newEnvelope(item *domain.OutboxItem) Envelope {
	return Envelope{
		ID:               item.ID,
		IntegrationID:    item.IntegrationID,
		Operation:        item.Operation,
		StableResourceID: item.StableResourceID,
		IdempotencyKey:   item.IdempotencyKey,
		Attempt:          item.AttemptCount + 1,
		Payload:          item.Payload,
	}
}
