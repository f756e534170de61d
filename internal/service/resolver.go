// Package service contains the business logic layer.
//
// This file implements plan tier resolution: application user -> payment
// processor customer -> subscription snapshot -> tier. Resolution sits on
// the hot path of every gated action, so results are cached for a short
// TTL and invalidated eagerly when the synchronizer writes new billing
// state.
package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rowanhale/quotagate/internal/domain"
	"github.com/rowanhale/quotagate/internal/metrics"
)

// TierResolver determines a user's current effective plan tier.
type TierResolver struct {
	store      SubscriptionStore
	cache      TierCache // may be nil
	priceTiers map[string]domain.PlanTier
	logger     *slog.Logger
}

// NewTierResolver creates a TierResolver. priceTiers maps processor
// price IDs to tiers; unknown price IDs resolve to free. cache may be
// nil, in which case every resolution hits the store.
func NewTierResolver(store SubscriptionStore, cache TierCache, priceTiers map[string]domain.PlanTier, logger *slog.Logger) *TierResolver {
	return &TierResolver{
		store:      store,
		cache:      cache,
		priceTiers: priceTiers,
		logger:     logger,
	}
}

// ResolveTier returns the user's current tier. Every failure path
// resolves to free: no mapping, no subscription, inactive status,
// unknown price ID, or an unreachable store. Unentitled access is never
// granted by an error.
func (r *TierResolver) ResolveTier(ctx context.Context, userID uuid.UUID) domain.PlanTier {
	const op = "resolver.resolve_tier"

	if r.cache != nil {
		if tier, ok := r.cache.Get(ctx, userID); ok {
			metrics.TierCacheLookups.WithLabelValues("hit").Inc()
			return tier
		}
		metrics.TierCacheLookups.WithLabelValues("miss").Inc()
	}

	tier := r.resolve(ctx, userID, op)

	if r.cache != nil {
		r.cache.Set(ctx, userID, tier)
	}
	return tier
}

func (r *TierResolver) resolve(ctx context.Context, userID uuid.UUID, op string) domain.PlanTier {
	mapping, err := r.store.GetMappingByUserID(ctx, userID)
	if err != nil {
		r.logger.Error("customer mapping lookup failed, resolving free", "op", op, "error", err, "user_id", userID)
		return domain.PlanTierFree
	}
	if mapping == nil {
		return domain.PlanTierFree
	}

	sub, err := r.store.GetSubscriptionByCustomerID(ctx, mapping.StripeCustomerID)
	if err != nil {
		r.logger.Error("subscription lookup failed, resolving free", "op", op, "error", err, "user_id", userID)
		return domain.PlanTierFree
	}
	if sub == nil || !sub.IsEntitled() {
		return domain.PlanTierFree
	}

	tier, ok := r.priceTiers[sub.PriceID]
	if !ok {
		r.logger.Warn("unknown price id, resolving free", "op", op, "price_id", sub.PriceID, "user_id", userID)
		return domain.PlanTierFree
	}
	return tier
}

// Invalidate drops the cached tier for a user. Called by the billing
// event synchronizer after each subscription upsert.
func (r *TierResolver) Invalidate(ctx context.Context, userID uuid.UUID) {
	if r.cache != nil {
		r.cache.Invalidate(ctx, userID)
	}
}
