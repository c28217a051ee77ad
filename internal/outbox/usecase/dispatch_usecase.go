package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/allisson/relay/internal/outbox/domain"
)

const tracerName = "github.com/allisson/relay/internal/outbox/usecase"

// leaseMargin is how long a claim outlives the attempt timeout, leaving time to
// write the outcome before another dispatcher may take the item.
const leaseMargin = 30 * time.Second

// DispatchConfig holds the dispatcher settings.
type DispatchConfig struct {
	// DefaultBatchSize is used when a batch request does not set one.
	DefaultBatchSize int
	// MaxBatchSize caps any requested batch size.
	MaxBatchSize int
	// Lease is how long a claimed item stays reserved for this dispatcher. It is
	// extended per item when the integration timeout needs longer.
	Lease time.Duration
}

// dispatchUseCase implements DispatchUseCase.
type dispatchUseCase struct {
	config     DispatchConfig
	outboxRepo OutboxItemRepository
	policies   *domain.PolicyRegistry
	senders    SenderResolver
	notifier   FailureNotifier
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDispatchUseCase creates the dispatcher. Pacing limiters are owned by the returned
// value, so one instance should be shared by every batch run in the process.
func NewDispatchUseCase(
	config DispatchConfig,
	outboxRepo OutboxItemRepository,
	policies *domain.PolicyRegistry,
	senders SenderResolver,
	notifier FailureNotifier,
	logger *slog.Logger,
) DispatchUseCase {
	if config.DefaultBatchSize <= 0 {
		config.DefaultBatchSize = 50
	}
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = 500
	}
	if config.Lease <= 0 {
		config.Lease = 2 * time.Minute
	}
	return &dispatchUseCase{
		config:     config,
		outboxRepo: outboxRepo,
		policies:   policies,
		senders:    senders,
		notifier:   notifier,
		tracer:     otel.Tracer(tracerName),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		limiters:   make(map[string]*rate.Limiter),
	}
}

// DispatchBatch attempts every due item of one batch in next_attempt_at order.
//
// Each item is claimed with a conditional update before its sender is called, so
// concurrent batches never attempt the same item twice. Delivery is at-least-once:
// the sender runs before the outcome is written, and a crash in between leaves the
// item queued for another attempt once its lease expires.
func (d *dispatchUseCase) DispatchBatch(
	ctx context.Context,
	input domain.DispatchInput,
) (*domain.DispatchResult, error) {
	batchSize := input.BatchSize
	if batchSize <= 0 {
		batchSize = d.config.DefaultBatchSize
	}
	if batchSize > d.config.MaxBatchSize {
		batchSize = d.config.MaxBatchSize
	}

	result := &domain.DispatchResult{Items: []domain.DispatchItemResult{}}

	if input.IntegrationID != "" && !d.policies.PolicyFor(input.IntegrationID).Enabled {
		return result, nil
	}

	filter := domain.DueFilter{
		IntegrationID:       input.IntegrationID,
		ExcludeIntegrations: d.policies.DisabledIntegrationIDs(),
	}
	items, err := d.outboxRepo.ListDue(ctx, filter, d.now(), batchSize)
	if err != nil {
		return nil, err
	}
	result.Total = len(items)

	throttled := make(map[string]bool)
	for _, item := range items {
		if throttled[item.IntegrationID] {
			result.Add(skippedResult(item, "integration rate limited earlier in batch"))
			continue
		}

		policy := d.policies.PolicyFor(item.IntegrationID)
		if err := d.limiterFor(policy).Wait(ctx); err != nil {
			return result, err
		}

		itemResult, err := d.dispatchItem(ctx, item, policy)
		if err != nil {
			d.logError("failed to dispatch outbox item", item, err)
			result.Add(skippedResult(item, err.Error()))
			continue
		}

		if itemResult.Outcome == domain.DispatchOutcomeRateLimited {
			throttled[item.IntegrationID] = true
		}
		result.Add(itemResult)
	}

	if d.logger != nil && result.Total > 0 {
		d.logger.Info("dispatch batch finished",
			slog.Int("total", result.Total),
			slog.Int("sent", result.Sent),
			slog.Int("failed", result.Failed),
			slog.Int("rate_limited", result.RateLimited),
			slog.Int("dead_lettered", result.DeadLettered),
			slog.Int("skipped", result.Skipped),
		)
	}

	return result, nil
}

// dispatchItem claims, delivers and records the outcome of one item. A returned error
// means the store failed; delivery failures are part of the result.
func (d *dispatchUseCase) dispatchItem(
	ctx context.Context,
	item *domain.OutboxItem,
	policy domain.IntegrationPolicy,
) (domain.DispatchItemResult, error) {
	ctx, span := d.tracer.Start(ctx, "outbox.dispatch_item", trace.WithAttributes(
		attribute.String("outbox.id", item.ID.String()),
		attribute.String("outbox.integration_id", item.IntegrationID),
		attribute.String("outbox.operation", item.Operation),
		attribute.Int("outbox.attempt_count", item.AttemptCount),
	))
	defer span.End()

	now := d.now()
	claimed, err := d.outboxRepo.Claim(ctx, item, now, now.Add(d.leaseFor(policy)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return domain.DispatchItemResult{}, err
	}
	if !claimed {
		span.SetAttributes(attribute.String("outbox.outcome", string(domain.DispatchOutcomeSkipped)))
		return skippedResult(item, "claimed by another dispatcher"), nil
	}
	claimedVersion := item.Version
	claimedStatus := item.Status

	receipt, sendErr := d.send(ctx, item, policy)
	outcome := applyOutcome(item, policy, receipt, sendErr, d.now())
	if !claimedStatus.CanTransitionTo(item.Status) {
		err := fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, claimedStatus, item.Status)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid transition")
		return domain.DispatchItemResult{}, err
	}

	// The attempt happened, so its outcome is written even if the caller gave up.
	if err := d.outboxRepo.Complete(context.WithoutCancel(ctx), item, claimedVersion); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "complete failed")
		return domain.DispatchItemResult{}, err
	}

	span.SetAttributes(attribute.String("outbox.outcome", string(outcome)))
	if sendErr != nil {
		span.RecordError(sendErr)
		span.SetStatus(codes.Error, string(outcome))
	}

	itemResult := domain.DispatchItemResult{
		OutboxID:      item.ID,
		IntegrationID: item.IntegrationID,
		Outcome:       outcome,
		AttemptCount:  item.AttemptCount,
	}
	if item.Status == domain.OutboxStatusQueued {
		next := item.NextAttemptAt
		itemResult.NextAttemptAt = &next
	}
	if item.LastError != nil && outcome != domain.DispatchOutcomeSent {
		itemResult.Error = *item.LastError
	}

	switch outcome {
	case domain.DispatchOutcomeRetry, domain.DispatchOutcomeRateLimited:
		if d.logger != nil {
			d.logger.Warn("outbox item requeued",
				slog.String("outbox_id", item.ID.String()),
				slog.String("integration_id", item.IntegrationID),
				slog.String("outcome", string(outcome)),
				slog.Int("attempt_count", item.AttemptCount),
				slog.Time("next_attempt_at", item.NextAttemptAt),
				slog.Any("error", sendErr),
			)
		}
	case domain.DispatchOutcomeDeadLetter:
		d.logError("outbox item dead-lettered", item, sendErr)
		d.notifier.NotifyIntegrationFailure(context.WithoutCancel(ctx), domain.IntegrationFailure{
			IntegrationID: item.IntegrationID,
			Operation:     item.Operation,
			ErrorType:     domain.FailureTypeDeadLetter,
			ErrorMessage:  itemResult.Error,
			ResourceID:    "outbox:" + item.ID.String(),
			Context: map[string]any{
				"outbox_id":          item.ID.String(),
				"operation":          item.Operation,
				"stable_resource_id": item.StableResourceID,
				"attempt_count":      item.AttemptCount,
			},
		})
	}

	return itemResult, nil
}

// leaseFor returns the claim duration for one attempt under policy.
func (d *dispatchUseCase) leaseFor(policy domain.IntegrationPolicy) time.Duration {
	lease := d.config.Lease
	if needed := policy.Timeout + leaseMargin; policy.Timeout > 0 && needed > lease {
		lease = needed
	}
	return lease
}

// send calls the integration's sender under the policy timeout.
func (d *dispatchUseCase) send(
	ctx context.Context,
	item *domain.OutboxItem,
	policy domain.IntegrationPolicy,
) (*domain.DeliveryReceipt, error) {
	sender, ok := d.senders.SenderFor(item.IntegrationID)
	if !ok {
		return nil, domain.ErrNoSender
	}

	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}
	return sender.Send(ctx, item)
}

// applyOutcome moves item to the state that follows one attempt. Backoff uses the
// number of attempts made before this one.
func applyOutcome(
	item *domain.OutboxItem,
	policy domain.IntegrationPolicy,
	receipt *domain.DeliveryReceipt,
	sendErr error,
	at time.Time,
) domain.DispatchOutcome {
	previousAttempts := item.AttemptCount
	item.AttemptCount = previousAttempts + 1
	item.ClaimedUntil = nil
	item.UpdatedAt = at

	var rateLimitErr *domain.RateLimitError
	var permanentErr *domain.PermanentError

	switch {
	case sendErr == nil:
		item.Status = domain.OutboxStatusSent
		item.LastError = nil
		item.SentAt = &at
		if receipt != nil {
			item.ProviderResponse = receipt.ProviderResponse
		}
		return domain.DispatchOutcomeSent

	case errors.As(sendErr, &rateLimitErr):
		delay := policy.Backoff(previousAttempts)
		if rateLimitErr.RetryAfter > delay {
			delay = rateLimitErr.RetryAfter
		}
		item.NextAttemptAt = at.Add(delay)
		item.LastError = errorMessage("rate limited", sendErr)
		return domain.DispatchOutcomeRateLimited

	case errors.As(sendErr, &permanentErr):
		item.Status = domain.OutboxStatusDeadLetter
		item.LastError = errorMessage("permanent failure", sendErr)
		return domain.DispatchOutcomeDeadLetter

	case policy.ExhaustsRetries(previousAttempts):
		item.Status = domain.OutboxStatusDeadLetter
		item.LastError = errorMessage("max retries exceeded", sendErr)
		return domain.DispatchOutcomeDeadLetter

	default:
		item.NextAttemptAt = at.Add(policy.Backoff(previousAttempts))
		item.LastError = errorMessage("transient failure", sendErr)
		return domain.DispatchOutcomeRetry
	}
}

func errorMessage(prefix string, err error) *string {
	msg := fmt.Sprintf("%s: %v", prefix, err)
	return &msg
}

func skippedResult(item *domain.OutboxItem, reason string) domain.DispatchItemResult {
	return domain.DispatchItemResult{
		OutboxID:      item.ID,
		IntegrationID: item.IntegrationID,
		Outcome:       domain.DispatchOutcomeSkipped,
		AttemptCount:  item.AttemptCount,
		Error:         reason,
	}
}

// limiterFor returns the pacing limiter of the integration, rebuilding it when the
// policy rate changed.
func (d *dispatchUseCase) limiterFor(policy domain.IntegrationPolicy) *rate.Limiter {
	limit := rate.Inf
	burst := 1
	if policy.SafeRequestsPerSecond > 0 {
		limit = rate.Limit(policy.SafeRequestsPerSecond)
		burst = int(math.Ceil(policy.SafeRequestsPerSecond))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	limiter, ok := d.limiters[policy.IntegrationID]
	if !ok || limiter.Limit() != limit {
		limiter = rate.NewLimiter(limit, burst)
		d.limiters[policy.IntegrationID] = limiter
	}
	return limiter
}

func (d *dispatchUseCase) logError(msg string, item *domain.OutboxItem, err error) {
	if d.logger == nil {
		return
	}
	d.logger.Error(msg,
		slog.String("outbox_id", item.ID.String()),
		slog.String("integration_id", item.IntegrationID),
		slog.String("operation", item.Operation),
		slog.Int("attempt_count", item.AttemptCount),
		slog.Any("error", err),
	)
}
