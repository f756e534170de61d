package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rowanhale/quotagate/internal/domain"
)

// RedisTierCache caches resolved tiers in Redis so all service
// instances share one invalidation point. Any Redis error degrades to a
// cache miss; the resolver then reads the store directly.
type RedisTierCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisTierCache creates a RedisTierCache.
func NewRedisTierCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisTierCache {
	return &RedisTierCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func tierKey(userID uuid.UUID) string {
	return "tier:" + userID.String()
}

// Get returns the cached tier for a user, if present and valid.
func (c *RedisTierCache) Get(ctx context.Context, userID uuid.UUID) (domain.PlanTier, bool) {
	val, err := c.client.Get(ctx, tierKey(userID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("tier cache get failed", "error", err, "user_id", userID)
		}
		return "", false
	}

	switch tier := domain.PlanTier(val); tier {
	case domain.PlanTierFree, domain.PlanTierPro, domain.PlanTierMaster:
		return tier, true
	default:
		return "", false
	}
}

// Set stores the tier with the configured TTL.
func (c *RedisTierCache) Set(ctx context.Context, userID uuid.UUID, tier domain.PlanTier) {
	if err := c.client.Set(ctx, tierKey(userID), string(tier), c.ttl).Err(); err != nil {
		c.logger.Warn("tier cache set failed", "error", err, "user_id", userID)
	}
}

// Invalidate removes the cached tier for a user.
func (c *RedisTierCache) Invalidate(ctx context.Context, userID uuid.UUID) {
	if err := c.client.Del(ctx, tierKey(userID)).Err(); err != nil {
		c.logger.Warn("tier cache invalidate failed", "error", err, "user_id", userID)
	}
}
