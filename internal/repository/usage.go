package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rowanhale/quotagate/internal/domain"
)

// UsageRepo persists per-user daily feature counters.
type UsageRepo struct {
	pool *pgxpool.Pool
}

// NewUsageRepo creates a UsageRepo.
func NewUsageRepo(pool *pgxpool.Pool) *UsageRepo {
	return &UsageRepo{pool: pool}
}

// Get returns the usage record for a user, or nil if the user has never
// recorded any usage. The caller applies the day-rollover rule; the
// stored counters may belong to a previous day.
func (r *UsageRepo) Get(ctx context.Context, userID uuid.UUID) (*domain.UsageRecord, error) {
	const query = `
		SELECT counters, last_reset
		FROM usage_records
		WHERE user_id = $1`

	var raw []byte
	rec := &domain.UsageRecord{UserID: userID}
	err := r.pool.QueryRow(ctx, query, userID).Scan(&raw, &rec.LastReset)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get usage record: %w", err)
	}

	if err := json.Unmarshal(raw, &rec.Counters); err != nil {
		return nil, fmt.Errorf("decode usage counters: %w", err)
	}
	return rec, nil
}

// tryIncrementQuery performs the check-and-increment in one statement so
// concurrent callers for the same user serialize inside Postgres. The
// conflict branch rolls the row over to a fresh day when last_reset is
// before today (UTC), and the WHERE clause refuses the update entirely
// when the effective count has already reached the limit — in that case
// zero rows come back and nothing was mutated.
const tryIncrementQuery = `
	INSERT INTO usage_records (user_id, counters, last_reset)
	VALUES ($1, jsonb_build_object($2::text, 1), now())
	ON CONFLICT (user_id) DO UPDATE
	SET counters = CASE
			WHEN (usage_records.last_reset AT TIME ZONE 'UTC')::date < (now() AT TIME ZONE 'UTC')::date
				THEN jsonb_build_object($2::text, 1)
			ELSE jsonb_set(
				usage_records.counters,
				ARRAY[$2::text],
				to_jsonb(COALESCE((usage_records.counters ->> $2)::bigint, 0) + 1))
		END,
		last_reset = CASE
			WHEN (usage_records.last_reset AT TIME ZONE 'UTC')::date < (now() AT TIME ZONE 'UTC')::date
				THEN now()
			ELSE usage_records.last_reset
		END
	WHERE (usage_records.last_reset AT TIME ZONE 'UTC')::date < (now() AT TIME ZONE 'UTC')::date
		OR COALESCE((usage_records.counters ->> $2)::bigint, 0) < $3
	RETURNING (counters ->> $2)::bigint`

// TryIncrement atomically increments the feature counter for a user if
// the effective pre-increment count (after any pending day rollover) is
// below limit. Limits <= 0 must be rejected by the caller before this
// point; the insert branch would otherwise admit the first call of the
// day unconditionally.
func (r *UsageRepo) TryIncrement(ctx context.Context, userID uuid.UUID, feature string, limit int64) (domain.IncrementResult, error) {
	var newCount int64
	err := r.pool.QueryRow(ctx, tryIncrementQuery, userID, feature, limit).Scan(&newCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.IncrementResult{Allowed: false}, nil
	}
	if err != nil {
		return domain.IncrementResult{}, fmt.Errorf("try increment: %w", err)
	}
	return domain.IncrementResult{Allowed: true, NewCount: newCount}, nil
}
