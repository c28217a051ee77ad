// Package dto provides data transfer objects for HTTP request and response handling.
package dto

import (
	"encoding/json"

	validation "github.com/jellydator/validation"

	"github.com/allisson/relay/internal/outbox/domain"
	customValidation "github.com/allisson/relay/internal/validation"
)

// MaxDispatchBatchSize caps the batch size accepted on the dispatch endpoint.
const MaxDispatchBatchSize = 500

// EnqueueRequest contains the operation to record in the outbox.
type EnqueueRequest struct {
	IntegrationID    string          `json:"integration_id"`
	Operation        string          `json:"operation"`
	StableResourceID string          `json:"stable_resource_id"`
	Payload          json.RawMessage `json:"payload"`
}

// Validate checks if the enqueue request is valid.
func (r *EnqueueRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.IntegrationID,
			validation.Required,
			customValidation.Identifier,
		),
		validation.Field(&r.Operation,
			validation.Required,
			customValidation.Identifier,
		),
		validation.Field(&r.StableResourceID,
			validation.Required,
			customValidation.NotBlank,
			validation.Length(1, 255),
		),
		validation.Field(&r.Payload,
			validation.Required,
			customValidation.JSONDocument,
		),
	)
}

// ToInput converts the request to the use case input.
func (r *EnqueueRequest) ToInput() domain.EnqueueInput {
	return domain.EnqueueInput{
		IntegrationID:    r.IntegrationID,
		Operation:        r.Operation,
		StableResourceID: r.StableResourceID,
		Payload:          r.Payload,
	}
}

// DispatchRequest selects the batch of an on-demand dispatch. Both fields are optional.
type DispatchRequest struct {
	BatchSize     int    `json:"batch_size"`
	IntegrationID string `json:"integration_id"`
}

// Validate checks if the dispatch request is valid.
func (r *DispatchRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.BatchSize, validation.Min(0), validation.Max(MaxDispatchBatchSize)),
		validation.Field(&r.IntegrationID, customValidation.Identifier),
	)
}

// ToInput converts the request to the use case input.
func (r *DispatchRequest) ToInput() domain.DispatchInput {
	return domain.DispatchInput{
		BatchSize:     r.BatchSize,
		IntegrationID: r.IntegrationID,
	}
}
