// Package service contains the business logic layer.
//
// This file implements the entitlement gate, the single entry point every
// tool uses to ask "may this user use feature F now?" and to commit a use
// after a successful tool invocation. The gate composes the plan catalog,
// the tier resolver, and the usage ledger, and fails closed: any
// downstream failure is a deny, never an allow.
package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rowanhale/quotagate/internal/domain"
	"github.com/rowanhale/quotagate/internal/metrics"
)

// Gate answers allow/deny questions and records usage.
type Gate struct {
	catalog  *PlanCatalog
	resolver *TierResolver
	ledger   *UsageLedger
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGate creates a Gate. timeout bounds every gate call; on expiry the
// call denies.
func NewGate(catalog *PlanCatalog, resolver *TierResolver, ledger *UsageLedger, timeout time.Duration, logger *slog.Logger) *Gate {
	return &Gate{
		catalog:  catalog,
		resolver: resolver,
		ledger:   ledger,
		timeout:  timeout,
		logger:   logger,
	}
}

// CanUse reports whether the user may use the feature right now. This is
// an advisory preflight; the authoritative admission happens in
// RecordUse, which re-resolves everything at increment time.
func (g *Gate) CanUse(ctx context.Context, userID uuid.UUID, feature string) bool {
	const op = "gate.can_use"

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	allowed := g.check(ctx, userID, feature, op)
	metrics.GateDecisions.WithLabelValues("can_use", feature, outcome(allowed)).Inc()
	return allowed
}

func (g *Gate) check(ctx context.Context, userID uuid.UUID, feature string, op string) bool {
	tier := g.resolver.ResolveTier(ctx, userID)
	table := g.catalog.GetTable(ctx)
	limit := table.Lookup(tier, limitKey(table, feature))

	switch limit.Kind() {
	case domain.LimitKindBool:
		enabled, _ := limit.AsBool()
		return enabled
	case domain.LimitKindStringList:
		// Enumerated limits gate options, not invocations. A feature
		// wired to CanUse with a list limit is a catalog mistake.
		g.logger.Warn("list-valued limit used in gate check, denying", "op", op, "feature", feature, "tier", tier)
		return false
	}

	quota, _ := limit.AsInt()
	if quota <= 0 {
		return false
	}

	count, err := g.ledger.GetCount(ctx, userID, feature)
	if err != nil {
		g.logger.Error("usage read failed, denying", "op", op, "error", err, "user_id", userID, "feature", feature)
		return false
	}
	return count < quota
}

// RecordUse commits one use of the feature. The tier and limit are
// re-resolved here rather than reused from an earlier CanUse, closing the
// gap between the advisory check and the commit. Callers must treat a
// false return as deny.
func (g *Gate) RecordUse(ctx context.Context, userID uuid.UUID, feature string) bool {
	const op = "gate.record_use"

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	tier := g.resolver.ResolveTier(ctx, userID)
	table := g.catalog.GetTable(ctx)
	limit := table.Lookup(tier, limitKey(table, feature))

	var allowed bool
	switch limit.Kind() {
	case domain.LimitKindBool:
		// Toggled features have no counter; recording a use is just the
		// toggle check again.
		allowed, _ = limit.AsBool()
	case domain.LimitKindStringList:
		g.logger.Warn("list-valued limit used in record-use, denying", "op", op, "feature", feature, "tier", tier)
		allowed = false
	default:
		quota, _ := limit.AsInt()
		res, err := g.ledger.TryIncrement(ctx, userID, feature, quota)
		if err != nil {
			g.logger.Error("usage increment failed, denying", "op", op, "error", err, "user_id", userID, "feature", feature)
			allowed = false
			break
		}
		allowed = res.Allowed
		if allowed {
			metrics.UsageIncrements.WithLabelValues(feature).Inc()
		}
	}

	metrics.GateDecisions.WithLabelValues("record_use", feature, outcome(allowed)).Inc()
	return allowed
}

// RemainingUses returns max(0, limit-count) for display purposes. It is
// never used for gating; gating always goes through CanUse/RecordUse.
// Toggled and list-valued features report 0.
func (g *Gate) RemainingUses(ctx context.Context, userID uuid.UUID, feature string) int64 {
	const op = "gate.remaining_uses"

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	tier := g.resolver.ResolveTier(ctx, userID)
	table := g.catalog.GetTable(ctx)
	limit := table.Lookup(tier, limitKey(table, feature))

	quota, err := limit.AsInt()
	if err != nil || quota <= 0 {
		return 0
	}

	count, err := g.ledger.GetCount(ctx, userID, feature)
	if err != nil {
		g.logger.Error("usage read failed", "op", op, "error", err, "user_id", userID, "feature", feature)
		return 0
	}
	if count >= quota {
		return 0
	}
	return quota - count
}

// AllowedOptions returns the enumerated options of a list-valued limit
// (e.g. permitted export formats) for the user's tier. Non-list limits
// return nil.
func (g *Gate) AllowedOptions(ctx context.Context, userID uuid.UUID, key string) []string {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	tier := g.resolver.ResolveTier(ctx, userID)
	options, err := g.catalog.LookupLimit(ctx, tier, key).AsStringList()
	if err != nil {
		return nil
	}
	return options
}

// FeatureUsage is one entry of a usage summary: either a counter
// (Used/Limit/Remaining), a toggle (Enabled), or an enumerated option
// set (Options).
type FeatureUsage struct {
	Key       string   `json:"key"`
	Kind      string   `json:"kind"`
	Used      int64    `json:"used,omitempty"`
	Limit     int64    `json:"limit,omitempty"`
	Remaining int64    `json:"remaining,omitempty"`
	Enabled   *bool    `json:"enabled,omitempty"`
	Options   []string `json:"options,omitempty"`
}

// UsageSummary is the full per-user view consumed by tool UIs.
type UsageSummary struct {
	Tier     domain.PlanTier `json:"tier"`
	Features []FeatureUsage  `json:"features"`
}

// Summary returns usage, limit, and remaining count for every known
// feature, plus the resolved tier. Counter features are derived from
// catalog keys ending in the daily-limit suffix.
func (g *Gate) Summary(ctx context.Context, userID uuid.UUID) (*UsageSummary, error) {
	const op = "gate.summary"

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	tier := g.resolver.ResolveTier(ctx, userID)
	table := g.catalog.GetTable(ctx)

	counts, err := g.ledger.Counts(ctx, userID)
	if err != nil {
		return nil, err
	}

	keys := table.LimitKeys()
	sort.Strings(keys)

	summary := &UsageSummary{Tier: tier}
	for _, key := range keys {
		summary.Features = append(summary.Features, g.featureUsage(table, tier, key, counts))
	}
	return summary, nil
}

// FeatureSummary returns the usage entry for a single feature, resolving
// both bare feature names ("ai_chat") and full limit keys.
func (g *Gate) FeatureSummary(ctx context.Context, userID uuid.UUID, feature string) (*UsageSummary, error) {
	const op = "gate.feature_summary"

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	tier := g.resolver.ResolveTier(ctx, userID)
	table := g.catalog.GetTable(ctx)

	key := limitKey(table, feature)

	counts, err := g.ledger.Counts(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &UsageSummary{
		Tier:     tier,
		Features: []FeatureUsage{g.featureUsage(table, tier, key, counts)},
	}, nil
}

func (g *Gate) featureUsage(table domain.PlanTable, tier domain.PlanTier, key string, counts map[string]int64) FeatureUsage {
	limit := table.Lookup(tier, key)
	usage := FeatureUsage{Key: key, Kind: limit.Kind().String()}

	switch limit.Kind() {
	case domain.LimitKindBool:
		enabled, _ := limit.AsBool()
		usage.Enabled = &enabled
	case domain.LimitKindStringList:
		usage.Options, _ = limit.AsStringList()
	default:
		quota, _ := limit.AsInt()
		feature := strings.TrimSuffix(key, "_daily_limit")
		used := counts[feature]
		usage.Used = used
		usage.Limit = quota
		if used < quota {
			usage.Remaining = quota - used
		}
	}
	return usage
}

// limitKey maps a feature name to its catalog key. Toggles and option
// lists are keyed by the feature name itself; everything else uses the
// daily-limit suffix convention.
func limitKey(table domain.PlanTable, feature string) string {
	for _, limits := range table {
		if _, ok := limits[feature]; ok {
			return feature
		}
	}
	return domain.DailyLimitKey(feature)
}

func outcome(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}
