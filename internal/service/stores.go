// Package service contains the business logic layer.
//
// Services orchestrate repositories, the plan catalog, and the payment
// processor state. They are responsible for:
// - Business rule enforcement (gating, rollover, tier resolution)
// - Error translation (store errors -> domain errors)
// - Fail-closed behavior on downstream failures
package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/rowanhale/quotagate/internal/domain"
)

// UsageStore is the persistence contract for the usage ledger. The
// production implementation is repository.UsageRepo; TryIncrement must
// be atomic in the store itself because gate instances run concurrently
// across processes.
type UsageStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*domain.UsageRecord, error)
	TryIncrement(ctx context.Context, userID uuid.UUID, feature string, limit int64) (domain.IncrementResult, error)
}

// SubscriptionStore is the read side of billing state used by the plan
// resolver. The synchronizer owns the write side.
type SubscriptionStore interface {
	GetMappingByUserID(ctx context.Context, userID uuid.UUID) (*domain.CustomerMapping, error)
	GetSubscriptionByCustomerID(ctx context.Context, customerID string) (*domain.SubscriptionRecord, error)
}

// TierCache caches resolved tiers for a short TTL. Implementations must
// treat cache failures as misses; the resolver works without a cache.
type TierCache interface {
	Get(ctx context.Context, userID uuid.UUID) (domain.PlanTier, bool)
	Set(ctx context.Context, userID uuid.UUID, tier domain.PlanTier)
	Invalidate(ctx context.Context, userID uuid.UUID)
}
