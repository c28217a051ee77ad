package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"

	apperrors "github.com/allisson/relay/internal/errors"
	"github.com/allisson/relay/internal/outbox/domain"
	customValidation "github.com/allisson/relay/internal/validation"
)

const maxListLimit = 500

// outboxUseCase implements OutboxUseCase.
type outboxUseCase struct {
	outboxRepo OutboxItemRepository
	logger     *slog.Logger
	now        func() time.Time
}

// NewOutboxUseCase creates the enqueue and query use case.
func NewOutboxUseCase(outboxRepo OutboxItemRepository, logger *slog.Logger) OutboxUseCase {
	return &outboxUseCase{
		outboxRepo: outboxRepo,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// validateEnqueueInput checks the four identity fields of an enqueue request.
func validateEnqueueInput(input domain.EnqueueInput) error {
	err := validation.ValidateStruct(&input,
		validation.Field(&input.IntegrationID, validation.Required, customValidation.Identifier),
		validation.Field(&input.Operation, validation.Required, customValidation.Identifier),
		validation.Field(
			&input.StableResourceID,
			validation.Required,
			customValidation.NotBlank,
			validation.Length(1, 255),
		),
		validation.Field(&input.Payload, validation.Required, customValidation.JSONDocument),
	)
	if err != nil {
		return apperrors.Wrap(domain.ErrInvalidRequest, err.Error())
	}
	return nil
}

// Enqueue stores the operation once per idempotency key. Repeated calls with the same
// identity return the stored item with Existed set, whatever its current status.
func (o *outboxUseCase) Enqueue(ctx context.Context, input domain.EnqueueInput) (*domain.EnqueueResult, error) {
	if err := validateEnqueueInput(input); err != nil {
		return nil, err
	}

	key, err := domain.IdempotencyKey(input)
	if err != nil {
		return nil, apperrors.Wrap(domain.ErrInvalidRequest, err.Error())
	}

	existing, err := o.outboxRepo.GetByIdempotencyKey(ctx, key)
	if err == nil {
		return &domain.EnqueueResult{Item: existing, Existed: true}, nil
	}
	if !apperrors.Is(err, domain.ErrOutboxItemNotFound) {
		return nil, err
	}

	payload, err := domain.CanonicalJSON(input.Payload)
	if err != nil {
		return nil, apperrors.Wrap(domain.ErrInvalidRequest, err.Error())
	}

	now := o.now()
	item := &domain.OutboxItem{
		ID:               uuid.Must(uuid.NewV7()),
		IntegrationID:    input.IntegrationID,
		Operation:        input.Operation,
		StableResourceID: input.StableResourceID,
		Payload:          json.RawMessage(payload),
		IdempotencyKey:   key,
		Status:           domain.OutboxStatusQueued,
		AttemptCount:     0,
		NextAttemptAt:    now,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := o.outboxRepo.Create(ctx, item); err != nil {
		if !apperrors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			return nil, err
		}
		// A concurrent enqueue of the same operation won the insert.
		winner, getErr := o.outboxRepo.GetByIdempotencyKey(ctx, key)
		if getErr != nil {
			return nil, getErr
		}
		return &domain.EnqueueResult{Item: winner, Existed: true}, nil
	}

	if o.logger != nil {
		o.logger.Debug("outbox item enqueued",
			slog.String("outbox_id", item.ID.String()),
			slog.String("integration_id", item.IntegrationID),
			slog.String("operation", item.Operation),
		)
	}

	return &domain.EnqueueResult{Item: item, Existed: false}, nil
}

// Get returns one outbox item.
func (o *outboxUseCase) Get(ctx context.Context, id uuid.UUID) (*domain.OutboxItem, error) {
	return o.outboxRepo.GetByID(ctx, id)
}

// List returns outbox items matching filter, newest first.
func (o *outboxUseCase) List(
	ctx context.Context,
	filter domain.OutboxItemFilter,
	offset, limit int,
) ([]*domain.OutboxItem, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, apperrors.Wrapf(domain.ErrInvalidRequest, "unknown status %q", filter.Status)
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return o.outboxRepo.List(ctx, filter, offset, limit)
}
