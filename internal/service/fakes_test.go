package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rowanhale/quotagate/internal/domain"
)

// memUsageStore is an in-memory UsageStore honoring the same contract as
// the Postgres implementation: TryIncrement is atomic and applies the
// UTC day rollover inside the critical section.
type memUsageStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*domain.UsageRecord
	now     func() time.Time
	getErr  error
	incErr  error
}

func newMemUsageStore(now func() time.Time) *memUsageStore {
	return &memUsageStore{
		records: make(map[uuid.UUID]*domain.UsageRecord),
		now:     now,
	}
}

func (s *memUsageStore) Get(ctx context.Context, userID uuid.UUID) (*domain.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	rec, ok := s.records[userID]
	if !ok {
		return nil, nil
	}
	counters := make(map[string]int64, len(rec.Counters))
	for k, v := range rec.Counters {
		counters[k] = v
	}
	return &domain.UsageRecord{UserID: rec.UserID, Counters: counters, LastReset: rec.LastReset}, nil
}

func (s *memUsageStore) TryIncrement(ctx context.Context, userID uuid.UUID, feature string, limit int64) (domain.IncrementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.incErr != nil {
		return domain.IncrementResult{}, s.incErr
	}

	now := s.now()
	rec, ok := s.records[userID]
	if !ok || !domain.SameUTCDay(rec.LastReset, now) {
		rec = &domain.UsageRecord{UserID: userID, Counters: make(map[string]int64), LastReset: now}
		s.records[userID] = rec
	}
	if rec.Counters[feature] >= limit {
		return domain.IncrementResult{Allowed: false}, nil
	}
	rec.Counters[feature]++
	return domain.IncrementResult{Allowed: true, NewCount: rec.Counters[feature]}, nil
}

// memSubscriptionStore is an in-memory SubscriptionStore.
type memSubscriptionStore struct {
	mu       sync.Mutex
	mappings map[uuid.UUID]*domain.CustomerMapping
	subs     map[string]*domain.SubscriptionRecord
	err      error
}

func newMemSubscriptionStore() *memSubscriptionStore {
	return &memSubscriptionStore{
		mappings: make(map[uuid.UUID]*domain.CustomerMapping),
		subs:     make(map[string]*domain.SubscriptionRecord),
	}
}

func (s *memSubscriptionStore) setSubscription(userID uuid.UUID, customerID string, rec *domain.SubscriptionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[userID] = &domain.CustomerMapping{UserID: userID, StripeCustomerID: customerID}
	if rec != nil {
		rec.StripeCustomerID = customerID
		s.subs[customerID] = rec
	}
}

func (s *memSubscriptionStore) GetMappingByUserID(ctx context.Context, userID uuid.UUID) (*domain.CustomerMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.mappings[userID], nil
}

func (s *memSubscriptionStore) GetSubscriptionByCustomerID(ctx context.Context, customerID string) (*domain.SubscriptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.subs[customerID], nil
}

// memTierCache is an in-memory TierCache without TTL expiry.
type memTierCache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]domain.PlanTier
	hits    int
	misses  int
}

func newMemTierCache() *memTierCache {
	return &memTierCache{entries: make(map[uuid.UUID]domain.PlanTier)}
}

func (c *memTierCache) Get(ctx context.Context, userID uuid.UUID) (domain.PlanTier, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tier, ok := c.entries[userID]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return tier, ok
}

func (c *memTierCache) Set(ctx context.Context, userID uuid.UUID, tier domain.PlanTier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = tier
}

func (c *memTierCache) Invalidate(ctx context.Context, userID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}
