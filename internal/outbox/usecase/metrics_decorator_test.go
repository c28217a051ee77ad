package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/allisson/relay/internal/metrics"
	"github.com/allisson/relay/internal/outbox/domain"
	outboxMocks "github.com/allisson/relay/internal/outbox/usecase/mocks"
)

// mockBusinessMetrics is a mock implementation of metrics.BusinessMetrics for testing.
type mockBusinessMetrics struct {
	mock.Mock
}

func (m *mockBusinessMetrics) RecordOperation(ctx context.Context, domain, operation, status string) {
	m.Called(ctx, domain, operation, status)
}

func (m *mockBusinessMetrics) RecordDuration(
	ctx context.Context,
	domain, operation string,
	duration time.Duration,
	status string,
) {
	m.Called(ctx, domain, operation, duration, status)
}

// mockOutboxMetrics is a mock implementation of metrics.OutboxMetrics for testing.
type mockOutboxMetrics struct {
	mock.Mock
}

func (m *mockOutboxMetrics) RecordDelivery(ctx context.Context, integrationID, outcome string) {
	m.Called(ctx, integrationID, outcome)
}

func (m *mockOutboxMetrics) RecordDriftFixed(ctx context.Context, integrationID string, fixed int) {
	m.Called(ctx, integrationID, fixed)
}

var (
	_ metrics.BusinessMetrics = (*mockBusinessMetrics)(nil)
	_ metrics.OutboxMetrics   = (*mockOutboxMetrics)(nil)
)

func expectOperation(ctx context.Context, m *mockBusinessMetrics, operation, status string) {
	m.On("RecordOperation", ctx, "outbox", operation, status).Return().Once()
	m.On("RecordDuration", ctx, "outbox", operation, mock.AnythingOfType("time.Duration"), status).Return().Once()
}

func TestOutboxUseCaseWithMetrics(t *testing.T) {
	ctx := context.Background()
	input := enqueueInput(`{"n":1}`)

	t.Run("Enqueue_RecordsSuccess", func(t *testing.T) {
		next := outboxMocks.NewMockOutboxUseCase(t)
		bm := &mockBusinessMetrics{}
		next.On("Enqueue", ctx, input).Return(&domain.EnqueueResult{Item: &domain.OutboxItem{}}, nil).Once()
		expectOperation(ctx, bm, "enqueue", "success")

		_, err := NewOutboxUseCaseWithMetrics(next, bm).Enqueue(ctx, input)
		require.NoError(t, err)
		bm.AssertExpectations(t)
	})

	t.Run("Enqueue_RecordsExisted", func(t *testing.T) {
		next := outboxMocks.NewMockOutboxUseCase(t)
		bm := &mockBusinessMetrics{}
		next.On("Enqueue", ctx, input).
			Return(&domain.EnqueueResult{Item: &domain.OutboxItem{}, Existed: true}, nil).
			Once()
		expectOperation(ctx, bm, "enqueue", "existed")

		result, err := NewOutboxUseCaseWithMetrics(next, bm).Enqueue(ctx, input)
		require.NoError(t, err)
		assert.True(t, result.Existed)
		bm.AssertExpectations(t)
	})

	t.Run("Get_RecordsError", func(t *testing.T) {
		next := outboxMocks.NewMockOutboxUseCase(t)
		bm := &mockBusinessMetrics{}
		id := uuid.Must(uuid.NewV7())
		next.On("Get", ctx, id).Return(nil, domain.ErrOutboxItemNotFound).Once()
		expectOperation(ctx, bm, "item_get", "error")

		item, err := NewOutboxUseCaseWithMetrics(next, bm).Get(ctx, id)
		assert.Nil(t, item)
		assert.ErrorIs(t, err, domain.ErrOutboxItemNotFound)
		bm.AssertExpectations(t)
	})

	t.Run("List_RecordsSuccess", func(t *testing.T) {
		next := outboxMocks.NewMockOutboxUseCase(t)
		bm := &mockBusinessMetrics{}
		filter := domain.OutboxItemFilter{Status: domain.OutboxStatusDeadLetter}
		next.On("List", ctx, filter, 0, 20).Return([]*domain.OutboxItem{}, nil).Once()
		expectOperation(ctx, bm, "item_list", "success")

		_, err := NewOutboxUseCaseWithMetrics(next, bm).List(ctx, filter, 0, 20)
		require.NoError(t, err)
		bm.AssertExpectations(t)
	})
}

func TestDispatchUseCaseWithMetrics(t *testing.T) {
	ctx := context.Background()
	input := domain.DispatchInput{BatchSize: 10}

	t.Run("RecordsEveryItemOutcome", func(t *testing.T) {
		next := outboxMocks.NewMockDispatchUseCase(t)
		bm := &mockBusinessMetrics{}
		om := &mockOutboxMetrics{}
		result := &domain.DispatchResult{
			Total: 2,
			Items: []domain.DispatchItemResult{
				{IntegrationID: "stripe", Outcome: domain.DispatchOutcomeSent},
				{IntegrationID: "slack", Outcome: domain.DispatchOutcomeDeadLetter},
			},
		}
		next.On("DispatchBatch", ctx, input).Return(result, nil).Once()
		expectOperation(ctx, bm, "dispatch_batch", "success")
		om.On("RecordDelivery", ctx, "stripe", "sent").Return().Once()
		om.On("RecordDelivery", ctx, "slack", "dead_letter").Return().Once()

		got, err := NewDispatchUseCaseWithMetrics(next, bm, om).DispatchBatch(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, result, got)
		bm.AssertExpectations(t)
		om.AssertExpectations(t)
	})

	t.Run("RecordsError", func(t *testing.T) {
		next := outboxMocks.NewMockDispatchUseCase(t)
		bm := &mockBusinessMetrics{}
		om := &mockOutboxMetrics{}
		next.On("DispatchBatch", ctx, input).Return(nil, errors.New("list due")).Once()
		expectOperation(ctx, bm, "dispatch_batch", "error")

		_, err := NewDispatchUseCaseWithMetrics(next, bm, om).DispatchBatch(ctx, input)
		require.Error(t, err)
		bm.AssertExpectations(t)
		om.AssertNotCalled(t, "RecordDelivery", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestReconcileUseCaseWithMetrics(t *testing.T) {
	ctx := context.Background()

	t.Run("Reconcile_RecordsDrift", func(t *testing.T) {
		next := outboxMocks.NewMockReconcileUseCase(t)
		bm := &mockBusinessMetrics{}
		om := &mockOutboxMetrics{}
		next.On("Reconcile", ctx, "slack").
			Return(&domain.ReconcileResult{IntegrationID: "slack", Success: true, Fixed: 2}, nil).
			Once()
		expectOperation(ctx, bm, "reconcile", "success")
		om.On("RecordDriftFixed", ctx, "slack", 2).Return().Once()

		_, err := NewReconcileUseCaseWithMetrics(next, bm, om).Reconcile(ctx, "slack")
		require.NoError(t, err)
		bm.AssertExpectations(t)
		om.AssertExpectations(t)
	})

	t.Run("ReconcileAll_RecordsEachIntegration", func(t *testing.T) {
		next := outboxMocks.NewMockReconcileUseCase(t)
		bm := &mockBusinessMetrics{}
		om := &mockOutboxMetrics{}
		results := []*domain.ReconcileResult{
			{IntegrationID: "resend", Success: true, Fixed: 1},
			{IntegrationID: "slack", Success: false},
		}
		next.On("ReconcileAll", ctx).Return(results, errors.New("slack: boom")).Once()
		expectOperation(ctx, bm, "reconcile_all", "error")
		om.On("RecordDriftFixed", ctx, "resend", 1).Return().Once()
		om.On("RecordDriftFixed", ctx, "slack", 0).Return().Once()

		got, err := NewReconcileUseCaseWithMetrics(next, bm, om).ReconcileAll(ctx)
		require.Error(t, err)
		assert.Len(t, got, 2)
		bm.AssertExpectations(t)
		om.AssertExpectations(t)
	})

	t.Run("ListRuns_RecordsSuccess", func(t *testing.T) {
		next := outboxMocks.NewMockReconcileUseCase(t)
		bm := &mockBusinessMetrics{}
		next.On("ListRuns", ctx, "", 0, 50).Return([]*domain.ReconcileRun{}, nil).Once()
		expectOperation(ctx, bm, "reconcile_run_list", "success")

		_, err := NewReconcileUseCaseWithMetrics(next, bm, &mockOutboxMetrics{}).ListRuns(ctx, "", 0, 50)
		require.NoError(t, err)
		bm.AssertExpectations(t)
	})
}
