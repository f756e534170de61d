package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/rowanhale/quotagate/internal/domain"
)

var testPriceTiers = map[string]domain.PlanTier{
	"price_pro_monthly":    domain.PlanTierPro,
	"price_master_monthly": domain.PlanTierMaster,
}

func TestTierResolver_ResolveTier(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name  string
		setup func(store *memSubscriptionStore)
		want  domain.PlanTier
	}{
		{
			"no mapping resolves free",
			func(store *memSubscriptionStore) {},
			domain.PlanTierFree,
		},
		{
			"mapping without subscription resolves free",
			func(store *memSubscriptionStore) {
				store.setSubscription(userID, "cus_1", nil)
			},
			domain.PlanTierFree,
		},
		{
			"active subscription resolves its tier",
			func(store *memSubscriptionStore) {
				store.setSubscription(userID, "cus_1", &domain.SubscriptionRecord{
					Status:  domain.SubscriptionStatusActive,
					PriceID: "price_pro_monthly",
				})
			},
			domain.PlanTierPro,
		},
		{
			"trialing subscription resolves its tier",
			func(store *memSubscriptionStore) {
				store.setSubscription(userID, "cus_1", &domain.SubscriptionRecord{
					Status:  domain.SubscriptionStatusTrialing,
					PriceID: "price_master_monthly",
				})
			},
			domain.PlanTierMaster,
		},
		{
			"canceled subscription resolves free",
			func(store *memSubscriptionStore) {
				store.setSubscription(userID, "cus_1", &domain.SubscriptionRecord{
					Status:  domain.SubscriptionStatusCanceled,
					PriceID: "price_pro_monthly",
				})
			},
			domain.PlanTierFree,
		},
		{
			"past due subscription resolves free",
			func(store *memSubscriptionStore) {
				store.setSubscription(userID, "cus_1", &domain.SubscriptionRecord{
					Status:  domain.SubscriptionStatusPastDue,
					PriceID: "price_pro_monthly",
				})
			},
			domain.PlanTierFree,
		},
		{
			"unknown price id resolves free",
			func(store *memSubscriptionStore) {
				store.setSubscription(userID, "cus_1", &domain.SubscriptionRecord{
					Status:  domain.SubscriptionStatusActive,
					PriceID: "price_retired",
				})
			},
			domain.PlanTierFree,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemSubscriptionStore()
			tt.setup(store)

			resolver := NewTierResolver(store, nil, testPriceTiers, testLogger())
			assert.Equal(t, tt.want, resolver.ResolveTier(context.Background(), userID))
		})
	}
}

func TestTierResolver_StoreErrorResolvesFree(t *testing.T) {
	userID := uuid.New()
	store := newMemSubscriptionStore()
	store.setSubscription(userID, "cus_1", &domain.SubscriptionRecord{
		Status:  domain.SubscriptionStatusActive,
		PriceID: "price_pro_monthly",
	})
	store.err = errors.New("connection refused")

	resolver := NewTierResolver(store, nil, testPriceTiers, testLogger())
	assert.Equal(t, domain.PlanTierFree, resolver.ResolveTier(context.Background(), userID))
}

func TestTierResolver_CachesResolution(t *testing.T) {
	userID := uuid.New()
	store := newMemSubscriptionStore()
	store.setSubscription(userID, "cus_1", &domain.SubscriptionRecord{
		Status:  domain.SubscriptionStatusActive,
		PriceID: "price_pro_monthly",
	})
	cache := newMemTierCache()

	resolver := NewTierResolver(store, cache, testPriceTiers, testLogger())

	assert.Equal(t, domain.PlanTierPro, resolver.ResolveTier(context.Background(), userID))
	assert.Equal(t, 1, cache.misses)

	// Second resolution is served from cache even if the store breaks.
	store.err = errors.New("connection refused")
	assert.Equal(t, domain.PlanTierPro, resolver.ResolveTier(context.Background(), userID))
	assert.Equal(t, 1, cache.hits)
}

func TestTierResolver_InvalidationForcesReResolve(t *testing.T) {
	userID := uuid.New()
	store := newMemSubscriptionStore()
	store.setSubscription(userID, "cus_1", &domain.SubscriptionRecord{
		Status:  domain.SubscriptionStatusActive,
		PriceID: "price_pro_monthly",
	})
	cache := newMemTierCache()
	resolver := NewTierResolver(store, cache, testPriceTiers, testLogger())

	assert.Equal(t, domain.PlanTierPro, resolver.ResolveTier(context.Background(), userID))

	// The subscription lapses and the synchronizer invalidates.
	store.setSubscription(userID, "cus_1", &domain.SubscriptionRecord{
		Status:  domain.SubscriptionStatusCanceled,
		PriceID: "price_pro_monthly",
	})
	resolver.Invalidate(context.Background(), userID)

	assert.Equal(t, domain.PlanTierFree, resolver.ResolveTier(context.Background(), userID))
}
