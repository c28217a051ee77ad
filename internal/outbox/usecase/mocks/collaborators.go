package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/allisson/relay/internal/outbox/domain"
)

func cleanupAssert(t mock.TestingT, m interface{ AssertExpectations(mock.TestingT) bool }) {
	if c, ok := t.(interface{ Cleanup(func()) }); ok {
		c.Cleanup(func() { m.AssertExpectations(t) })
	}
}

// MockSender is a mock implementation of domain.Sender.
type MockSender struct {
	mock.Mock
}

// NewMockSender creates the mock and asserts its expectations on cleanup.
func NewMockSender(t mock.TestingT) *MockSender {
	m := &MockSender{}
	m.Test(t)
	cleanupAssert(t, m)
	return m
}

func (m *MockSender) Send(ctx context.Context, item *domain.OutboxItem) (*domain.DeliveryReceipt, error) {
	args := m.Called(ctx, item)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DeliveryReceipt), args.Error(1)
}

// MockSenderResolver is a mock implementation of SenderResolver.
type MockSenderResolver struct {
	mock.Mock
}

// NewMockSenderResolver creates the mock and asserts its expectations on cleanup.
func NewMockSenderResolver(t mock.TestingT) *MockSenderResolver {
	m := &MockSenderResolver{}
	m.Test(t)
	cleanupAssert(t, m)
	return m
}

func (m *MockSenderResolver) SenderFor(integrationID string) (domain.Sender, bool) {
	args := m.Called(integrationID)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).(domain.Sender), args.Bool(1)
}

// MockLocker is a mock implementation of Locker. The release function it hands out
// records a "Release" call on the same mock.
type MockLocker struct {
	mock.Mock
}

// NewMockLocker creates the mock and asserts its expectations on cleanup.
func NewMockLocker(t mock.TestingT) *MockLocker {
	m := &MockLocker{}
	m.Test(t)
	cleanupAssert(t, m)
	return m
}

func (m *MockLocker) TryLock(ctx context.Context, key string) (func(context.Context) error, bool, error) {
	args := m.Called(ctx, key)
	acquired := args.Bool(0)
	if !acquired {
		return nil, false, args.Error(1)
	}
	release := func(ctx context.Context) error {
		return m.MethodCalled("Release", ctx, key).Error(0)
	}
	return release, true, args.Error(1)
}

// MockEnqueuer is a mock implementation of Enqueuer.
type MockEnqueuer struct {
	mock.Mock
}

// NewMockEnqueuer creates the mock and asserts its expectations on cleanup.
func NewMockEnqueuer(t mock.TestingT) *MockEnqueuer {
	m := &MockEnqueuer{}
	m.Test(t)
	cleanupAssert(t, m)
	return m
}

func (m *MockEnqueuer) Enqueue(ctx context.Context, input domain.EnqueueInput) (*domain.EnqueueResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EnqueueResult), args.Error(1)
}

// MockFailureNotifier is a mock implementation of FailureNotifier.
type MockFailureNotifier struct {
	mock.Mock
}

// NewMockFailureNotifier creates the mock and asserts its expectations on cleanup.
func NewMockFailureNotifier(t mock.TestingT) *MockFailureNotifier {
	m := &MockFailureNotifier{}
	m.Test(t)
	cleanupAssert(t, m)
	return m
}

func (m *MockFailureNotifier) NotifyIntegrationFailure(ctx context.Context, failure domain.IntegrationFailure) {
	m.Called(ctx, failure)
}
