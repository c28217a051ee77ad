package dto

import (
	"encoding/json"
	"time"

	"github.com/allisson/relay/internal/outbox/domain"
)

// EnqueueResponse is returned by the enqueue endpoint.
type EnqueueResponse struct {
	OutboxID string `json:"outbox_id"`
	Status   string `json:"status"`
	Existed  bool   `json:"existed"`
}

// MapEnqueueResultToResponse converts an enqueue result to an API response.
func MapEnqueueResultToResponse(result *domain.EnqueueResult) EnqueueResponse {
	return EnqueueResponse{
		OutboxID: result.Item.ID.String(),
		Status:   string(result.Item.Status),
		Existed:  result.Existed,
	}
}

// OutboxItemResponse represents an outbox item in admin responses.
type OutboxItemResponse struct {
	ID               string          `json:"id"`
	IntegrationID    string          `json:"integration_id"`
	Operation        string          `json:"operation"`
	StableResourceID string          `json:"stable_resource_id"`
	Payload          json.RawMessage `json:"payload"`
	IdempotencyKey   string          `json:"idempotency_key"`
	Status           string          `json:"status"`
	AttemptCount     int             `json:"attempt_count"`
	NextAttemptAt    time.Time       `json:"next_attempt_at"`
	LastError        *string         `json:"last_error"`
	ProviderResponse json.RawMessage `json:"provider_response"`
	SentAt           *time.Time      `json:"sent_at"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// MapOutboxItemToResponse converts a domain outbox item to an API response.
func MapOutboxItemToResponse(item *domain.OutboxItem) OutboxItemResponse {
	providerResponse := item.ProviderResponse
	if len(providerResponse) == 0 {
		providerResponse = json.RawMessage("null")
	}
	return OutboxItemResponse{
		ID:               item.ID.String(),
		IntegrationID:    item.IntegrationID,
		Operation:        item.Operation,
		StableResourceID: item.StableResourceID,
		Payload:          item.Payload,
		IdempotencyKey:   item.IdempotencyKey,
		Status:           string(item.Status),
		AttemptCount:     item.AttemptCount,
		NextAttemptAt:    item.NextAttemptAt,
		LastError:        item.LastError,
		ProviderResponse: providerResponse,
		SentAt:           item.SentAt,
		CreatedAt:        item.CreatedAt,
		UpdatedAt:        item.UpdatedAt,
	}
}

// ListOutboxItemsResponse represents a page of outbox items.
type ListOutboxItemsResponse struct {
	Data []OutboxItemResponse `json:"data"`
}

// MapOutboxItemsToListResponse converts domain outbox items to a list response.
func MapOutboxItemsToListResponse(items []*domain.OutboxItem) ListOutboxItemsResponse {
	data := make([]OutboxItemResponse, 0, len(items))
	for _, item := range items {
		data = append(data, MapOutboxItemToResponse(item))
	}
	return ListOutboxItemsResponse{Data: data}
}

// DispatchItemResponse reports the outcome of one item of a batch.
type DispatchItemResponse struct {
	OutboxID      string     `json:"outbox_id"`
	IntegrationID string     `json:"integration_id"`
	Outcome       string     `json:"outcome"`
	AttemptCount  int        `json:"attempt_count"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// DispatchResponse summarizes a dispatch batch.
type DispatchResponse struct {
	Total        int                    `json:"total"`
	Sent         int                    `json:"sent"`
	Failed       int                    `json:"failed"`
	RateLimited  int                    `json:"rate_limited"`
	DeadLettered int                    `json:"dead_lettered"`
	Skipped      int                    `json:"skipped"`
	Items        []DispatchItemResponse `json:"items"`
}

// MapDispatchResultToResponse converts a dispatch result to an API response.
func MapDispatchResultToResponse(result *domain.DispatchResult) DispatchResponse {
	items := make([]DispatchItemResponse, 0, len(result.Items))
	for _, item := range result.Items {
		items = append(items, DispatchItemResponse{
			OutboxID:      item.OutboxID.String(),
			IntegrationID: item.IntegrationID,
			Outcome:       string(item.Outcome),
			AttemptCount:  item.AttemptCount,
			NextAttemptAt: item.NextAttemptAt,
			Error:         item.Error,
		})
	}
	return DispatchResponse{
		Total:        result.Total,
		Sent:         result.Sent,
		Failed:       result.Failed,
		RateLimited:  result.RateLimited,
		DeadLettered: result.DeadLettered,
		Skipped:      result.Skipped,
		Items:        items,
	}
}

// ReconcileResponse is returned by the reconcile endpoint.
type ReconcileResponse struct {
	Success       bool   `json:"success"`
	Fixed         int    `json:"fixed"`
	Checked       int    `json:"checked"`
	RunID         string `json:"run_id"`
	IntegrationID string `json:"integration_id"`
	Notes         string `json:"notes,omitempty"`
}

// MapReconcileResultToResponse converts a reconcile result to an API response.
func MapReconcileResultToResponse(result *domain.ReconcileResult) ReconcileResponse {
	return ReconcileResponse{
		Success:       result.Success,
		Fixed:         result.Fixed,
		Checked:       result.Checked,
		RunID:         result.RunID.String(),
		IntegrationID: result.IntegrationID,
		Notes:         result.Notes,
	}
}

// ReconcileRunResponse represents a reconcile audit record.
type ReconcileRunResponse struct {
	ID            string     `json:"id"`
	IntegrationID string     `json:"integration_id"`
	Strategy      string     `json:"strategy"`
	Status        string     `json:"status"`
	Checked       int        `json:"checked"`
	Fixed         int        `json:"fixed"`
	Notes         *string    `json:"notes"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
}

// ListReconcileRunsResponse represents a page of reconcile runs.
type ListReconcileRunsResponse struct {
	Data []ReconcileRunResponse `json:"data"`
}

// MapReconcileRunsToListResponse converts domain reconcile runs to a list response.
func MapReconcileRunsToListResponse(runs []*domain.ReconcileRun) ListReconcileRunsResponse {
	data := make([]ReconcileRunResponse, 0, len(runs))
	for _, run := range runs {
		data = append(data, ReconcileRunResponse{
			ID:            run.ID.String(),
			IntegrationID: run.IntegrationID,
			Strategy:      string(run.Strategy),
			Status:        string(run.Status),
			Checked:       run.Checked,
			Fixed:         run.Fixed,
			Notes:         run.Notes,
			StartedAt:     run.StartedAt,
			FinishedAt:    run.FinishedAt,
		})
	}
	return ListReconcileRunsResponse{Data: data}
}

// PolicyResponse represents the resolved delivery policy of an integration.
// Durations are reported in seconds.
type PolicyResponse struct {
	IntegrationID         string  `json:"integration_id"`
	Configured            bool    `json:"configured"`
	Sender                string  `json:"sender,omitempty"`
	SafeRequestsPerSecond float64 `json:"safe_requests_per_second"`
	MaxRetries            int     `json:"max_retries"`
	BackoffBase           float64 `json:"backoff_base"`
	BackoffUnitSeconds    float64 `json:"backoff_unit_seconds"`
	MaxBackoffSeconds     float64 `json:"max_backoff_seconds"`
	TimeoutSeconds        float64 `json:"timeout_seconds"`
	Enabled               bool    `json:"enabled"`
	ReconcileStrategy     string  `json:"reconcile_strategy"`
}

// MapPolicyToResponse converts a resolved policy to an API response. configured is
// false when the integration fell back to the default policy.
func MapPolicyToResponse(policy domain.IntegrationPolicy, configured bool, sender string) PolicyResponse {
	return PolicyResponse{
		IntegrationID:         policy.IntegrationID,
		Configured:            configured,
		Sender:                sender,
		SafeRequestsPerSecond: policy.SafeRequestsPerSecond,
		MaxRetries:            policy.MaxRetries,
		BackoffBase:           policy.BackoffBase,
		BackoffUnitSeconds:    policy.BackoffUnit.Seconds(),
		MaxBackoffSeconds:     policy.MaxBackoff.Seconds(),
		TimeoutSeconds:        policy.Timeout.Seconds(),
		Enabled:               policy.Enabled,
		ReconcileStrategy:     string(policy.Strategy),
	}
}
