package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/allisson/relay/internal/outbox/domain"
)

// MockOutboxUseCase is a mock implementation of OutboxUseCase.
type MockOutboxUseCase struct {
	mock.Mock
}

// NewMockOutboxUseCase creates the mock and asserts its expectations on cleanup.
func NewMockOutboxUseCase(t mock.TestingT) *MockOutboxUseCase {
	m := &MockOutboxUseCase{}
	m.Test(t)
	cleanupAssert(t, m)
	return m
}

func (m *MockOutboxUseCase) Enqueue(ctx context.Context, input domain.EnqueueInput) (*domain.EnqueueResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EnqueueResult), args.Error(1)
}

func (m *MockOutboxUseCase) Get(ctx context.Context, id uuid.UUID) (*domain.OutboxItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OutboxItem), args.Error(1)
}

func (m *MockOutboxUseCase) List(
	ctx context.Context,
	filter domain.OutboxItemFilter,
	offset, limit int,
) ([]*domain.OutboxItem, error) {
	args := m.Called(ctx, filter, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.OutboxItem), args.Error(1)
}

// MockDispatchUseCase is a mock implementation of DispatchUseCase.
type MockDispatchUseCase struct {
	mock.Mock
}

// NewMockDispatchUseCase creates the mock and asserts its expectations on cleanup.
func NewMockDispatchUseCase(t mock.TestingT) *MockDispatchUseCase {
	m := &MockDispatchUseCase{}
	m.Test(t)
	cleanupAssert(t, m)
	return m
}

func (m *MockDispatchUseCase) DispatchBatch(
	ctx context.Context,
	input domain.DispatchInput,
) (*domain.DispatchResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DispatchResult), args.Error(1)
}

// MockReconcileUseCase is a mock implementation of ReconcileUseCase.
type MockReconcileUseCase struct {
	mock.Mock
}

// NewMockReconcileUseCase creates the mock and asserts its expectations on cleanup.
func NewMockReconcileUseCase(t mock.TestingT) *MockReconcileUseCase {
	m := &MockReconcileUseCase{}
	m.Test(t)
	cleanupAssert(t, m)
	return m
}

func (m *MockReconcileUseCase) Reconcile(ctx context.Context, integrationID string) (*domain.ReconcileResult, error) {
	args := m.Called(ctx, integrationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReconcileResult), args.Error(1)
}

func (m *MockReconcileUseCase) ReconcileAll(ctx context.Context) ([]*domain.ReconcileResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ReconcileResult), args.Error(1)
}

func (m *MockReconcileUseCase) ListRuns(
	ctx context.Context,
	integrationID string,
	offset, limit int,
) ([]*domain.ReconcileRun, error) {
	args := m.Called(ctx, integrationID, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ReconcileRun), args.Error(1)
}
