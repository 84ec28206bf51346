package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStore defines the interface for subscription persistence.
type SubscriptionStore interface {
	// GetByUserID retrieves the user's current subscription.
	// Returns ErrSubscriptionNotFound if no subscription exists.
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// GetByExternalID retrieves a subscription by the gateway's subscription ID.
	// Returns ErrSubscriptionNotFound if no subscription exists.
	GetByExternalID(ctx context.Context, externalSubscriptionID string) (*Subscription, error)

	// Save creates or updates a subscription. The implementation uses the
	// subscription ID to decide between insert and update.
	Save(ctx context.Context, sub *Subscription) error

	// ListLapsedPastDue returns subscriptions that have been past_due since
	// before the cutoff, for the scheduled downgrade sweep.
	ListLapsedPastDue(ctx context.Context, cutoff time.Time) ([]Subscription, error)
}

// PaymentStore defines the interface for the append-only payment record.
type PaymentStore interface {
	// Append inserts a payment record. Returns ErrDuplicatePayment when a
	// record with the same external ID already exists, so redelivered
	// invoice events never produce duplicate bookkeeping.
	Append(ctx context.Context, payment *Payment) error
}

// QuotaLimiter is the narrow slice of the quota store the billing engine
// needs: adjusting a user's monthly article limit as their tier changes.
type QuotaLimiter interface {
	SetMonthlyLimit(ctx context.Context, userID uuid.UUID, limit int32) error
}
