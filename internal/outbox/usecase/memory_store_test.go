package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/relay/internal/outbox/domain"
)

// memoryStore is an in-memory OutboxItemRepository, ReconcileRunRepository and
// DownstreamLogRepository with the same conditional-update semantics as the SQL stores.
type memoryStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*domain.OutboxItem
	runs  []*domain.ReconcileRun
	logs  []*domain.DownstreamLogEntry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{items: make(map[uuid.UUID]*domain.OutboxItem)}
}

func cloneItem(item *domain.OutboxItem) *domain.OutboxItem {
	c := *item
	if item.ClaimedUntil != nil {
		t := *item.ClaimedUntil
		c.ClaimedUntil = &t
	}
	if item.SentAt != nil {
		t := *item.SentAt
		c.SentAt = &t
	}
	if item.LastError != nil {
		s := *item.LastError
		c.LastError = &s
	}
	return &c
}

func cloneRun(run *domain.ReconcileRun) *domain.ReconcileRun {
	c := *run
	return &c
}

// put stores an item as is, bypassing the enqueue path.
func (s *memoryStore) put(item *domain.OutboxItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = cloneItem(item)
}

func (s *memoryStore) get(id uuid.UUID) *domain.OutboxItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneItem(s.items[id])
}

func (s *memoryStore) all() []*domain.OutboxItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]*domain.OutboxItem, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, cloneItem(item))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID.String() < items[j].ID.String() })
	return items
}

func (s *memoryStore) addLog(entry *domain.DownstreamLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
}

func (s *memoryStore) Create(_ context.Context, item *domain.OutboxItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.items {
		if existing.IdempotencyKey == item.IdempotencyKey {
			return domain.ErrDuplicateIdempotencyKey
		}
	}
	s.items[item.ID] = cloneItem(item)
	return nil
}

func (s *memoryStore) GetByID(_ context.Context, id uuid.UUID) (*domain.OutboxItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, domain.ErrOutboxItemNotFound
	}
	return cloneItem(item), nil
}

func (s *memoryStore) GetByIdempotencyKey(_ context.Context, key string) (*domain.OutboxItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.IdempotencyKey == key {
			return cloneItem(item), nil
		}
	}
	return nil, domain.ErrOutboxItemNotFound
}

func (s *memoryStore) List(
	_ context.Context,
	filter domain.OutboxItemFilter,
	offset, limit int,
) ([]*domain.OutboxItem, error) {
	var items []*domain.OutboxItem
	for _, item := range s.all() {
		if filter.IntegrationID != "" && item.IntegrationID != filter.IntegrationID {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	if offset >= len(items) {
		return []*domain.OutboxItem{}, nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *memoryStore) ListDue(
	_ context.Context,
	filter domain.DueFilter,
	now time.Time,
	limit int,
) ([]*domain.OutboxItem, error) {
	excluded := make(map[string]bool, len(filter.ExcludeIntegrations))
	for _, id := range filter.ExcludeIntegrations {
		excluded[id] = true
	}

	var due []*domain.OutboxItem
	for _, item := range s.all() {
		if !item.IsDue(now) || excluded[item.IntegrationID] {
			continue
		}
		if filter.IntegrationID != "" && item.IntegrationID != filter.IntegrationID {
			continue
		}
		due = append(due, item)
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memoryStore) Claim(_ context.Context, item *domain.OutboxItem, now, leaseUntil time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.items[item.ID]
	if !ok || stored.Version != item.Version || !stored.IsDue(now) {
		return false, nil
	}
	stored.Version++
	stored.ClaimedUntil = &leaseUntil
	item.Version = stored.Version
	item.ClaimedUntil = &leaseUntil
	return true, nil
}

func (s *memoryStore) Complete(_ context.Context, item *domain.OutboxItem, claimedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.items[item.ID]
	if !ok || stored.Version != claimedVersion {
		return domain.ErrClaimLost
	}
	item.Version = claimedVersion + 1
	s.items[item.ID] = cloneItem(item)
	return nil
}

func (s *memoryStore) CountQueued(_ context.Context, integrationID string) (int, error) {
	count := 0
	for _, item := range s.all() {
		if item.IntegrationID == integrationID && item.Status == domain.OutboxStatusQueued {
			count++
		}
	}
	return count, nil
}

func (s *memoryStore) ListQueuedIntegrationIDs(_ context.Context) ([]string, error) {
	seen := make(map[string]bool)
	ids := []string{}
	for _, item := range s.all() {
		if item.Status == domain.OutboxStatusQueued && !seen[item.IntegrationID] {
			seen[item.IntegrationID] = true
			ids = append(ids, item.IntegrationID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memoryStore) RearmStale(_ context.Context, integrationID string, staleBefore, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, item := range s.items {
		if item.IntegrationID != integrationID || item.Status != domain.OutboxStatusQueued {
			continue
		}
		if !item.UpdatedAt.Before(staleBefore) || item.IsClaimed(now) {
			continue
		}
		item.NextAttemptAt = now
		item.UpdatedAt = now
		item.Version++
		count++
	}
	return count, nil
}

func (s *memoryStore) HasSent(_ context.Context, integrationID, stableResourceID string) (bool, error) {
	for _, item := range s.all() {
		if item.IntegrationID == integrationID &&
			item.StableResourceID == stableResourceID &&
			item.Status == domain.OutboxStatusSent {
			return true, nil
		}
	}
	return false, nil
}

// memoryRuns adapts the store to ReconcileRunRepository, whose method names collide
// with the item repository.
type memoryRuns struct {
	store *memoryStore
}

func (r memoryRuns) Create(_ context.Context, run *domain.ReconcileRun) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.runs = append(r.store.runs, cloneRun(run))
	return nil
}

func (r memoryRuns) Finish(_ context.Context, run *domain.ReconcileRun) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for i, stored := range r.store.runs {
		if stored.ID != run.ID {
			continue
		}
		if stored.Status != domain.ReconcileRunStatusInProgress {
			return domain.ErrReconcileRunFinalized
		}
		r.store.runs[i] = cloneRun(run)
		return nil
	}
	return domain.ErrReconcileRunNotFound
}

func (r memoryRuns) GetByID(_ context.Context, id uuid.UUID) (*domain.ReconcileRun, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, stored := range r.store.runs {
		if stored.ID == id {
			return cloneRun(stored), nil
		}
	}
	return nil, domain.ErrReconcileRunNotFound
}

func (r memoryRuns) List(_ context.Context, integrationID string, offset, limit int) ([]*domain.ReconcileRun, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var runs []*domain.ReconcileRun
	for i := len(r.store.runs) - 1; i >= 0; i-- {
		run := r.store.runs[i]
		if integrationID == "" || run.IntegrationID == integrationID {
			runs = append(runs, cloneRun(run))
		}
	}
	if offset >= len(runs) {
		return []*domain.ReconcileRun{}, nil
	}
	runs = runs[offset:]
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *memoryStore) ListPending(_ context.Context, integrationID string, limit int) ([]*domain.DownstreamLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []*domain.DownstreamLogEntry
	for _, entry := range s.logs {
		if entry.IntegrationID == integrationID && entry.Status == domain.DownstreamLogStatusPending {
			entries = append(entries, entry)
		}
		if len(entries) == limit {
			break
		}
	}
	return entries, nil
}

// senderMap resolves senders from a fixed map.
type senderMap map[string]domain.Sender

func (m senderMap) SenderFor(integrationID string) (domain.Sender, bool) {
	s, ok := m[integrationID]
	return s, ok
}

// senderFunc adapts a function to domain.Sender.
type senderFunc func(ctx context.Context, item *domain.OutboxItem) (*domain.DeliveryReceipt, error)

func (f senderFunc) Send(ctx context.Context, item *domain.OutboxItem) (*domain.DeliveryReceipt, error) {
	return f(ctx, item)
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// unthrottled returns p without pacing so tests never wait on the limiter.
func unthrottled(p domain.IntegrationPolicy) domain.IntegrationPolicy {
	p.SafeRequestsPerSecond = 0
	return p
}

// testRegistry returns the builtin catalog without pacing.
func testRegistry(overrides map[string]domain.IntegrationPolicy) *domain.PolicyRegistry {
	policies := domain.BuiltinPolicies()
	for id, p := range policies {
		policies[id] = unthrottled(p)
	}
	for id, p := range overrides {
		policies[id] = unthrottled(p)
	}
	return domain.NewPolicyRegistry(unthrottled(domain.DefaultPolicy()), policies)
}
