package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/paywallkit/pkg/pg"
)

const subscriptionColumns = `id, user_id, tier, status, current_period_start, current_period_end,
	cancel_at_period_end, external_customer_id, external_subscription_id, created_at, updated_at`

// PGSubscriptionStore implements SubscriptionStore on PostgreSQL.
type PGSubscriptionStore struct {
	pool *pgxpool.Pool
}

// NewPGSubscriptionStore creates a Postgres-backed subscription store.
func NewPGSubscriptionStore(pool *pgxpool.Pool) *PGSubscriptionStore {
	if pool == nil {
		panic("billing: pgx pool is required")
	}
	return &PGSubscriptionStore{pool: pool}
}

func (s *PGSubscriptionStore) GetByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	// The schema allows history rows; the newest one is the live record.
	return s.get(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, userID)
}

func (s *PGSubscriptionStore) GetByExternalID(ctx context.Context, externalSubscriptionID string) (*Subscription, error) {
	return s.get(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE external_subscription_id = $1`, externalSubscriptionID)
}

func (s *PGSubscriptionStore) get(ctx context.Context, query string, arg any) (*Subscription, error) {
	var sub Subscription
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&sub.ID, &sub.UserID, &sub.Tier, &sub.Status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd,
		&sub.ExternalCustomerID, &sub.ExternalSubscriptionID,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	return &sub, nil
}

func (s *PGSubscriptionStore) Save(ctx context.Context, sub *Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			tier = excluded.tier,
			status = excluded.status,
			current_period_start = excluded.current_period_start,
			current_period_end = excluded.current_period_end,
			cancel_at_period_end = excluded.cancel_at_period_end,
			external_customer_id = excluded.external_customer_id,
			external_subscription_id = excluded.external_subscription_id,
			updated_at = excluded.updated_at`,
		sub.ID, sub.UserID, sub.Tier, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd,
		sub.ExternalCustomerID, sub.ExternalSubscriptionID,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

func (s *PGSubscriptionStore) ListLapsedPastDue(ctx context.Context, cutoff time.Time) ([]Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status = $1 AND tier = $2 AND updated_at < $3`,
		StatusPastDue, TierPaid, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list lapsed past_due subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(
			&sub.ID, &sub.UserID, &sub.Tier, &sub.Status,
			&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd,
			&sub.ExternalCustomerID, &sub.ExternalSubscriptionID,
			&sub.CreatedAt, &sub.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}

	return subs, nil
}

// PGPaymentStore implements PaymentStore on PostgreSQL. The unique constraint
// on external_id enforces exactly-once bookkeeping under event redelivery.
type PGPaymentStore struct {
	pool *pgxpool.Pool
}

// NewPGPaymentStore creates a Postgres-backed payment store.
func NewPGPaymentStore(pool *pgxpool.Pool) *PGPaymentStore {
	if pool == nil {
		panic("billing: pgx pool is required")
	}
	return &PGPaymentStore{pool: pool}
}

func (s *PGPaymentStore) Append(ctx context.Context, payment *Payment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payments (id, subscription_id, external_id, amount, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		payment.ID, payment.SubscriptionID, payment.ExternalID,
		payment.Amount, payment.Currency, payment.Status, payment.CreatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return errors.Join(ErrDuplicatePayment, err)
		}
		return fmt.Errorf("append payment: %w", err)
	}
	return nil
}
