// Package mocks provides mock implementations of the outbox use case dependencies.
package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/allisson/relay/internal/outbox/domain"
)

// MockOutboxItemRepository is a mock implementation of OutboxItemRepository.
type MockOutboxItemRepository struct {
	mock.Mock
}

// NewMockOutboxItemRepository creates the mock and asserts its expectations on cleanup.
func NewMockOutboxItemRepository(t mock.TestingT) *MockOutboxItemRepository {
	m := &MockOutboxItemRepository{}
	m.Test(t)
	cleanupAssert(t, m)
	return m
}

func (m *MockOutboxItemRepository) Create(ctx context.Context, item *domain.OutboxItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *MockOutboxItemRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.OutboxItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OutboxItem), args.Error(1)
}

func (m *MockOutboxItemRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.OutboxItem, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OutboxItem), args.Error(1)
}

func (m *MockOutboxItemRepository) List(
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

func (m *MockOutboxItemRepository) ListDue(
	ctx context.Context,
	filter domain.DueFilter,
	now time.Time,
	limit int,
) ([]*domain.OutboxItem, error) {
	args := m.Called(ctx, filter, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.OutboxItem), args.Error(1)
}

func (m *MockOutboxItemRepository) Claim(
	ctx context.Context,
	item *domain.OutboxItem,
	now, leaseUntil time.Time,
) (bool, error) {
	args := m.Called(ctx, item, now, leaseUntil)
	return args.Bool(0), args.Error(1)
}

func (m *MockOutboxItemRepository) Complete(ctx context.Context, item *domain.OutboxItem, claimedVersion int64) error {
	args := m.Called(ctx, item, claimedVersion)
	return args.Error(0)
}

func (m *MockOutboxItemRepository) CountQueued(ctx context.Context, integrationID string) (int, error) {
	args := m.Called(ctx, integrationID)
	return args.Int(0), args.Error(1)
}

func (m *MockOutboxItemRepository) ListQueuedIntegrationIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockOutboxItemRepository) RearmStale(
	ctx context.Context,
	integrationID string,
	staleBefore, now time.Time,
) (int, error) {
	args := m.Called(ctx, integrationID, staleBefore, now)
	return args.Int(0), args.Error(1)
}

func (m *MockOutboxItemRepository) HasSent(ctx context.Context, integrationID, stableResourceID string) (bool, error) {
	args := m.Called(ctx, integrationID, stableResourceID)
	return args.Bool(0), args.Error(1)
}

// MockReconcileRunRepository is a mock implementation of ReconcileRunRepository.
type MockReconcileRunRepository struct {
	mock.Mock
}

// NewMockReconcileRunRepository creates the mock and asserts its expectations on cleanup.
func NewMockReconcileRunRepository(t mock.TestingT) *MockReconcileRunRepository {
	m := &MockReconcileRunRepository{}
	m.Test(t)
	cleanupAssert(t, m)
	return m
}

func (m *MockReconcileRunRepository) Create(ctx context.Context, run *domain.ReconcileRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockReconcileRunRepository) Finish(ctx context.Context, run *domain.ReconcileRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockReconcileRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ReconcileRun, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReconcileRun), args.Error(1)
}

func (m *MockReconcileRunRepository) List(
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

// MockDownstreamLogRepository is a mock implementation of DownstreamLogRepository.
type MockDownstreamLogRepository struct {
	mock.Mock
}

// NewMockDownstreamLogRepository creates the mock and asserts its expectations on cleanup.
func NewMockDownstreamLogRepository(t mock.TestingT) *MockDownstreamLogRepository {
	m := &MockDownstreamLogRepository{}
	m.Test(t)
	cleanupAssert(t, m)
	return m
}

func (m *MockDownstreamLogRepository) ListPending(
	ctx context.Context,
	integrationID string,
	limit int,
) ([]*domain.DownstreamLogEntry, error) {
	args := m.Called(ctx, integrationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.DownstreamLogEntry), args.Error(1)
}
