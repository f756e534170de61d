package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rowanhale/quotagate/internal/domain"
)

// SubscriptionRepo persists customer mappings, subscription snapshots,
// and one-time payment orders. All writes are idempotent upserts keyed
// by stable external IDs so webhook redelivery converges.
type SubscriptionRepo struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepo creates a SubscriptionRepo.
func NewSubscriptionRepo(pool *pgxpool.Pool) *SubscriptionRepo {
	return &SubscriptionRepo{pool: pool}
}

// UpsertMapping links a user to a processor customer. Replays are no-ops;
// a changed customer ID for the same user is taken as the new truth.
func (r *SubscriptionRepo) UpsertMapping(ctx context.Context, userID uuid.UUID, customerID string) error {
	const query = `
		INSERT INTO customer_mappings (user_id, stripe_customer_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET stripe_customer_id = EXCLUDED.stripe_customer_id`

	if _, err := r.pool.Exec(ctx, query, userID, customerID); err != nil {
		return fmt.Errorf("upsert customer mapping: %w", err)
	}
	return nil
}

// GetMappingByUserID returns the mapping for a user, or nil if the user
// has never checked out.
func (r *SubscriptionRepo) GetMappingByUserID(ctx context.Context, userID uuid.UUID) (*domain.CustomerMapping, error) {
	const query = `
		SELECT user_id, stripe_customer_id, created_at
		FROM customer_mappings
		WHERE user_id = $1`

	m := &domain.CustomerMapping{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(&m.UserID, &m.StripeCustomerID, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping by user: %w", err)
	}
	return m, nil
}

// GetMappingByCustomerID returns the mapping for a processor customer,
// or nil if none exists.
func (r *SubscriptionRepo) GetMappingByCustomerID(ctx context.Context, customerID string) (*domain.CustomerMapping, error) {
	const query = `
		SELECT user_id, stripe_customer_id, created_at
		FROM customer_mappings
		WHERE stripe_customer_id = $1`

	m := &domain.CustomerMapping{}
	err := r.pool.QueryRow(ctx, query, customerID).Scan(&m.UserID, &m.StripeCustomerID, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping by customer: %w", err)
	}
	return m, nil
}

// UpsertSubscription writes the current subscription snapshot for a
// customer, last-write-wins on processor-assigned fields.
func (r *SubscriptionRepo) UpsertSubscription(ctx context.Context, rec *domain.SubscriptionRecord) error {
	const query = `
		INSERT INTO subscriptions (
			stripe_customer_id, subscription_id, status, price_id,
			current_period_start, current_period_end, cancel_at_period_end,
			payment_method, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (stripe_customer_id) DO UPDATE SET
			subscription_id = EXCLUDED.subscription_id,
			status = EXCLUDED.status,
			price_id = EXCLUDED.price_id,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			payment_method = EXCLUDED.payment_method,
			updated_at = now()`

	_, err := r.pool.Exec(ctx, query,
		rec.StripeCustomerID, rec.SubscriptionID, rec.Status, rec.PriceID,
		rec.CurrentPeriodStart, rec.CurrentPeriodEnd, rec.CancelAtPeriodEnd,
		rec.PaymentMethod,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// GetSubscriptionByCustomerID returns the stored snapshot for a
// customer, or nil if the synchronizer has never written one.
func (r *SubscriptionRepo) GetSubscriptionByCustomerID(ctx context.Context, customerID string) (*domain.SubscriptionRecord, error) {
	const query = `
		SELECT stripe_customer_id, subscription_id, status, price_id,
			current_period_start, current_period_end, cancel_at_period_end,
			payment_method, updated_at
		FROM subscriptions
		WHERE stripe_customer_id = $1`

	rec := &domain.SubscriptionRecord{}
	err := r.pool.QueryRow(ctx, query, customerID).Scan(
		&rec.StripeCustomerID, &rec.SubscriptionID, &rec.Status, &rec.PriceID,
		&rec.CurrentPeriodStart, &rec.CurrentPeriodEnd, &rec.CancelAtPeriodEnd,
		&rec.PaymentMethod, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return rec, nil
}

// InsertOrder records a one-time payment keyed by checkout session ID.
// Duplicate delivery of the same session is a no-op; the bool reports
// whether a new row was written.
func (r *SubscriptionRepo) InsertOrder(ctx context.Context, order *domain.Order) (bool, error) {
	const query = `
		INSERT INTO orders (checkout_session_id, user_id, amount_total, currency, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (checkout_session_id) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query,
		order.CheckoutSessionID, order.UserID, order.AmountTotal, order.Currency, order.Status,
	)
	if err != nil {
		return false, fmt.Errorf("insert order: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
