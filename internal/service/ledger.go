// Package service contains the business logic layer.
//
// This file implements the usage ledger service over the usage store.
// Reads apply the UTC day rollover as a pure function; the only mutation
// is the store's atomic check-and-increment.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rowanhale/quotagate/internal/domain"
)

// UsageLedger tracks per-user, per-feature daily counters.
type UsageLedger struct {
	store  UsageStore
	now    func() time.Time
	logger *slog.Logger
}

// NewUsageLedger creates a UsageLedger.
func NewUsageLedger(store UsageStore, logger *slog.Logger) *UsageLedger {
	return &UsageLedger{
		store:  store,
		now:    time.Now,
		logger: logger,
	}
}

// GetCount returns the effective count for a feature today (UTC). Users
// without a record and features without a counter read as 0.
func (l *UsageLedger) GetCount(ctx context.Context, userID uuid.UUID, feature string) (int64, error) {
	const op = "ledger.get_count"

	rec, err := l.store.Get(ctx, userID)
	if err != nil {
		return 0, domain.Unavailable(err, op, "usage store unreachable")
	}
	return domain.EffectiveCount(rec, feature, l.now()), nil
}

// Counts returns all effective counters for a user today (UTC).
func (l *UsageLedger) Counts(ctx context.Context, userID uuid.UUID) (map[string]int64, error) {
	const op = "ledger.counts"

	rec, err := l.store.Get(ctx, userID)
	if err != nil {
		return nil, domain.Unavailable(err, op, "usage store unreachable")
	}
	return domain.EffectiveCounts(rec, l.now()), nil
}

// TryIncrement atomically increments the counter if the effective count
// is below limit. A limit of zero or less denies without touching the
// store.
func (l *UsageLedger) TryIncrement(ctx context.Context, userID uuid.UUID, feature string, limit int64) (domain.IncrementResult, error) {
	const op = "ledger.try_increment"

	if limit <= 0 {
		return domain.IncrementResult{Allowed: false}, nil
	}

	res, err := l.store.TryIncrement(ctx, userID, feature, limit)
	if err != nil {
		return domain.IncrementResult{}, domain.Unavailable(err, op, "usage store unreachable")
	}

	if !res.Allowed {
		l.logger.Info("usage increment denied at limit",
			"user_id", userID,
			"feature", feature,
			"limit", limit,
		)
	}
	return res, nil
}
