package billing

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is the local record of a user's subscription. Each user has at
// most one active row; rows are never hard-deleted, only superseded or left
// canceled. All mutations flow through the Reconciler or the upgrade/cancel
// commands on Service.
type Subscription struct {
	ID                     uuid.UUID
	UserID                 uuid.UUID
	Tier                   Tier
	Status                 Status
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	CancelAtPeriodEnd      bool
	ExternalCustomerID     string // gateway customer ID, empty until first payment
	ExternalSubscriptionID string // gateway subscription ID, empty until first payment
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

func (s *Subscription) IsCanceled() bool {
	return s.Status == StatusCanceled
}

func (s *Subscription) IsPastDue() bool {
	return s.Status == StatusPastDue
}

// GrantsPaidAccessAt reports whether the subscription grants paid-level
// content access at the given instant. An active subscription always does; a
// canceled one does until its current period ends (grace period). Any other
// status falls back to free-tier rules.
func (s *Subscription) GrantsPaidAccessAt(now time.Time) bool {
	if s.Tier != TierPaid {
		return false
	}
	switch s.Status {
	case StatusActive:
		return true
	case StatusCanceled:
		return s.CurrentPeriodEnd.After(now)
	default:
		return false
	}
}

// GrantsPaidAccess reports whether the subscription grants paid-level access
// right now.
func (s *Subscription) GrantsPaidAccess() bool {
	return s.GrantsPaidAccessAt(time.Now().UTC())
}

// Payment is an append-only record of a payment attempt reported by the
// gateway. Rows are never mutated after insert.
type Payment struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	ExternalID     string // gateway payment/invoice ID, unique
	Amount         int64  // smallest currency unit
	Currency       string
	Status         PaymentStatus
	CreatedAt      time.Time
}
