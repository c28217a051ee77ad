package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OutboxMetrics records per-integration delivery and reconciliation outcomes.
type OutboxMetrics interface {
	// RecordDelivery counts one dispatched item by outcome (sent, retry, rate_limited, ...).
	RecordDelivery(ctx context.Context, integrationID, outcome string)
	// RecordDriftFixed adds the number of items a reconcile pass repaired.
	RecordDriftFixed(ctx context.Context, integrationID string, fixed int)
}

// outboxMetrics implements OutboxMetrics with OpenTelemetry counters.
type outboxMetrics struct {
	deliveryCounter metric.Int64Counter
	driftCounter    metric.Int64Counter
}

// NewOutboxMetrics creates "<namespace>_outbox_deliveries_total" and
// "<namespace>_reconcile_drift_fixed_total".
func NewOutboxMetrics(meterProvider metric.MeterProvider, namespace string) (OutboxMetrics, error) {
	meter := meterProvider.Meter(namespace)

	deliveryCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_outbox_deliveries_total", namespace),
		metric.WithDescription("Outbox items handled by the dispatcher, by integration and outcome"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery counter: %w", err)
	}

	driftCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_reconcile_drift_fixed_total", namespace),
		metric.WithDescription("Drifted items repaired by reconciliation, by integration"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create drift counter: %w", err)
	}

	return &outboxMetrics{deliveryCounter: deliveryCounter, driftCounter: driftCounter}, nil
}

// RecordDelivery increments the delivery counter with integration_id and outcome labels.
func (o *outboxMetrics) RecordDelivery(ctx context.Context, integrationID, outcome string) {
	o.deliveryCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("integration_id", integrationID),
		attribute.String("outcome", outcome),
	))
}

// RecordDriftFixed adds fixed to the drift counter. Passes that repaired nothing are not recorded.
func (o *outboxMetrics) RecordDriftFixed(ctx context.Context, integrationID string, fixed int) {
	if fixed <= 0 {
		return
	}
	o.driftCounter.Add(ctx, int64(fixed), metric.WithAttributes(
		attribute.String("integration_id", integrationID),
	))
}

// NoOpOutboxMetrics discards everything. Used when metrics are disabled.
type NoOpOutboxMetrics struct{}

// NewNoOpOutboxMetrics creates a no-op OutboxMetrics implementation.
func NewNoOpOutboxMetrics() OutboxMetrics {
	return &NoOpOutboxMetrics{}
}

// RecordDelivery does nothing when metrics are disabled.
func (n *NoOpOutboxMetrics) RecordDelivery(ctx context.Context, integrationID, outcome string) {}

// RecordDriftFixed does nothing when metrics are disabled.
func (n *NoOpOutboxMetrics) RecordDriftFixed(ctx context.Context, integrationID string, fixed int) {}
