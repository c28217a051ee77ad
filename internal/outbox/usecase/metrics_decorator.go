package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/relay/internal/metrics"
	"github.com/allisson/relay/internal/outbox/domain"
)

const metricsDomain = "outbox"

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// outboxUseCaseWithMetrics decorates OutboxUseCase with metrics instrumentation.
type outboxUseCaseWithMetrics struct {
	next    OutboxUseCase
	metrics metrics.BusinessMetrics
}

// NewOutboxUseCaseWithMetrics wraps an OutboxUseCase with metrics recording.
func NewOutboxUseCaseWithMetrics(useCase OutboxUseCase, m metrics.BusinessMetrics) OutboxUseCase {
	return &outboxUseCaseWithMetrics{next: useCase, metrics: m}
}

func (o *outboxUseCaseWithMetrics) record(ctx context.Context, operation string, start time.Time, status string) {
	o.metrics.RecordOperation(ctx, metricsDomain, operation, status)
	o.metrics.RecordDuration(ctx, metricsDomain, operation, time.Since(start), status)
}

// Enqueue records "enqueue" with status success, existed or error.
func (o *outboxUseCaseWithMetrics) Enqueue(
	ctx context.Context,
	input domain.EnqueueInput,
) (*domain.EnqueueResult, error) {
	start := time.Now()
	result, err := o.next.Enqueue(ctx, input)

	status := statusOf(err)
	if err == nil && result.Existed {
		status = "existed"
	}
	o.record(ctx, "enqueue", start, status)

	return result, err
}

func (o *outboxUseCaseWithMetrics) Get(ctx context.Context, id uuid.UUID) (*domain.OutboxItem, error) {
	start := time.Now()
	item, err := o.next.Get(ctx, id)
	o.record(ctx, "item_get", start, statusOf(err))
	return item, err
}

func (o *outboxUseCaseWithMetrics) List(
	ctx context.Context,
	filter domain.OutboxItemFilter,
	offset, limit int,
) ([]*domain.OutboxItem, error) {
	start := time.Now()
	items, err := o.next.List(ctx, filter, offset, limit)
	o.record(ctx, "item_list", start, statusOf(err))
	return items, err
}

// dispatchUseCaseWithMetrics decorates DispatchUseCase with batch and per-item metrics.
type dispatchUseCaseWithMetrics struct {
	next          DispatchUseCase
	metrics       metrics.BusinessMetrics
	outboxMetrics metrics.OutboxMetrics
}

// NewDispatchUseCaseWithMetrics wraps a DispatchUseCase with metrics recording.
func NewDispatchUseCaseWithMetrics(
	useCase DispatchUseCase,
	m metrics.BusinessMetrics,
	om metrics.OutboxMetrics,
) DispatchUseCase {
	return &dispatchUseCaseWithMetrics{next: useCase, metrics: m, outboxMetrics: om}
}

// DispatchBatch records the batch and one delivery sample per handled item.
func (d *dispatchUseCaseWithMetrics) DispatchBatch(
	ctx context.Context,
	input domain.DispatchInput,
) (*domain.DispatchResult, error) {
	start := time.Now()
	result, err := d.next.DispatchBatch(ctx, input)

	status := statusOf(err)
	d.metrics.RecordOperation(ctx, metricsDomain, "dispatch_batch", status)
	d.metrics.RecordDuration(ctx, metricsDomain, "dispatch_batch", time.Since(start), status)

	if result != nil {
		for _, item := range result.Items {
			d.outboxMetrics.RecordDelivery(ctx, item.IntegrationID, string(item.Outcome))
		}
	}

	return result, err
}

// reconcileUseCaseWithMetrics decorates ReconcileUseCase with metrics instrumentation.
type reconcileUseCaseWithMetrics struct {
	next          ReconcileUseCase
	metrics       metrics.BusinessMetrics
	outboxMetrics metrics.OutboxMetrics
}

// NewReconcileUseCaseWithMetrics wraps a ReconcileUseCase with metrics recording.
func NewReconcileUseCaseWithMetrics(
	useCase ReconcileUseCase,
	m metrics.BusinessMetrics,
	om metrics.OutboxMetrics,
) ReconcileUseCase {
	return &reconcileUseCaseWithMetrics{next: useCase, metrics: m, outboxMetrics: om}
}

func (r *reconcileUseCaseWithMetrics) Reconcile(
	ctx context.Context,
	integrationID string,
) (*domain.ReconcileResult, error) {
	start := time.Now()
	result, err := r.next.Reconcile(ctx, integrationID)

	status := statusOf(err)
	r.metrics.RecordOperation(ctx, metricsDomain, "reconcile", status)
	r.metrics.RecordDuration(ctx, metricsDomain, "reconcile", time.Since(start), status)
	if result != nil {
		r.outboxMetrics.RecordDriftFixed(ctx, result.IntegrationID, result.Fixed)
	}

	return result, err
}

// ReconcileAll calls the wrapped use case directly, so per-integration passes are
// recorded by the wrapped implementation only when it is itself decorated.
func (r *reconcileUseCaseWithMetrics) ReconcileAll(ctx context.Context) ([]*domain.ReconcileResult, error) {
	start := time.Now()
	results, err := r.next.ReconcileAll(ctx)

	status := statusOf(err)
	r.metrics.RecordOperation(ctx, metricsDomain, "reconcile_all", status)
	r.metrics.RecordDuration(ctx, metricsDomain, "reconcile_all", time.Since(start), status)
	for _, result := range results {
		if result != nil {
			r.outboxMetrics.RecordDriftFixed(ctx, result.IntegrationID, result.Fixed)
		}
	}

	return results, err
}

func (r *reconcileUseCaseWithMetrics) ListRuns(
	ctx context.Context,
	integrationID string,
	offset, limit int,
) ([]*domain.ReconcileRun, error) {
	start := time.Now()
	runs, err := r.next.ListRuns(ctx, integrationID, offset, limit)

	status := statusOf(err)
	r.metrics.RecordOperation(ctx, metricsDomain, "reconcile_run_list", status)
	r.metrics.RecordDuration(ctx, metricsDomain, "reconcile_run_list", time.Since(start), status)

	return runs, err
}
