package billing

import (
	"strings"
	"time"
)

// Tier represents the subscription class of a user, independent of the
// lifecycle status reported by the payment gateway.
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// Status represents the lifecycle state of a subscription as reported by the
// payment gateway, mapped into a closed local enum.
type Status string

const (
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusTrialing          Status = "trialing"
	StatusUnpaid            Status = "unpaid"
)

// MapGatewayStatus maps a raw gateway status string to the local Status enum.
// The mapping is total: unrecognized strings fall back to StatusCanceled so
// the system never gets stuck in an unknown state. The second return value
// reports whether the input was recognized; callers should log a warning when
// it is false.
func MapGatewayStatus(s string) (Status, bool) {
	switch strings.ToLower(s) {
	case "active":
		return StatusActive, true
	case "past_due":
		return StatusPastDue, true
	case "canceled", "cancelled":
		return StatusCanceled, true
	case "incomplete":
		return StatusIncomplete, true
	case "incomplete_expired":
		return StatusIncompleteExpired, true
	case "trialing":
		return StatusTrialing, true
	case "unpaid":
		return StatusUnpaid, true
	default:
		return StatusCanceled, false
	}
}

// EventKind represents the normalized billing event type.
// Each gateway adapter maps its provider-specific events to these kinds.
type EventKind string

const (
	EventSubscriptionCreated EventKind = "subscription_created"
	EventSubscriptionUpdated EventKind = "subscription_updated"
	EventSubscriptionDeleted EventKind = "subscription_deleted"
	EventInvoicePaid         EventKind = "invoice_paid"
	EventInvoiceFailed       EventKind = "invoice_failed"

	// EventIgnored marks provider events this engine does not act on.
	// They are accepted and dropped to avoid gateway redelivery storms.
	EventIgnored EventKind = "ignored"
)

// Event is a normalized billing event from the payment gateway.
type Event struct {
	ID                     string    // gateway event ID, used for deduplication
	Kind                   EventKind // normalized event kind
	ProviderEvent          string    // original provider event name
	ExternalSubscriptionID string    // gateway's subscription ID
	ExternalCustomerID     string    // gateway's customer ID
	GatewayStatus          string    // raw status string as reported by the gateway
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	CancelAtPeriodEnd      bool
	Payment                *PaymentInfo // set for invoice events only
}

// PaymentInfo carries the payment details attached to invoice events.
type PaymentInfo struct {
	ExternalID string // gateway's payment/invoice ID, dedup key
	Amount     int64  // amount in the smallest currency unit
	Currency   string // ISO 4217 currency code
}

// PaymentStatus represents the outcome of a recorded payment attempt.
type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)
