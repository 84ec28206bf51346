package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Gateway defines the minimal command interface to the payment gateway.
// This abstraction keeps the engine vendor-neutral: the gateway owns the
// canonical billing state and is only reached through these commands plus
// the webhook event feed. Implementations use the official provider SDKs
// and handle provider-specific quirks internally.
type Gateway interface {
	WebhookParser

	// CreateCustomer creates a gateway customer tagged with the user ID and
	// returns the gateway's customer ID.
	CreateCustomer(ctx context.Context, params CustomerParams) (string, error)

	// CreateSubscription creates a gateway subscription for an existing
	// customer and returns the gateway's view of it.
	CreateSubscription(ctx context.Context, params SubscriptionParams) (*GatewaySubscription, error)

	// CancelSubscription schedules cancellation at the end of the current
	// billing period. The final state change arrives via webhook.
	CancelSubscription(ctx context.Context, externalSubscriptionID string) error

	// GetSubscription fetches authoritative subscription state on demand.
	GetSubscription(ctx context.Context, externalSubscriptionID string) (*GatewaySubscription, error)
}

// WebhookParser validates and normalizes inbound gateway event payloads.
// Must verify the signature before parsing to prevent webhook spoofing.
type WebhookParser interface {
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error)
}

// CheckoutGateway is implemented by providers that only support hosted
// checkout flows (no direct subscription creation). Upgrades go through a
// checkout link and management through the provider's customer portal.
type CheckoutGateway interface {
	WebhookParser

	// CreateCheckoutLink creates a hosted checkout session.
	CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error)

	// CustomerPortalLink returns a temporary link to the customer portal
	// where users can update payment methods or cancel.
	CustomerPortalLink(ctx context.Context, customerID string, subscriptionIDs []string) (*PortalLink, error)
}

// CustomerParams contains the billing contact info for customer creation.
type CustomerParams struct {
	UserID uuid.UUID // stored in gateway metadata for webhook correlation
	Email  string
	Name   string
}

// SubscriptionParams contains data needed to create a gateway subscription.
type SubscriptionParams struct {
	CustomerID      string // gateway customer ID
	PriceID         string // gateway price/plan identifier
	PaymentMethodID string // gateway payment-method reference
}

// GatewaySubscription is the gateway's view of a subscription, as returned by
// the command interface. Status is the raw gateway string; callers map it
// through MapGatewayStatus.
type GatewaySubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
}

// CheckoutRequest contains data needed to create a hosted checkout session.
type CheckoutRequest struct {
	PriceID    string
	UserID     uuid.UUID // carried in custom data for webhook correlation
	Email      string
	SuccessURL string
}

// CheckoutLink represents a hosted checkout session.
type CheckoutLink struct {
	URL       string
	SessionID string
	ExpiresAt time.Time
}

// PortalLink represents a customer portal session.
type PortalLink struct {
	URL              string
	CancelURL        string
	UpdatePaymentURL string
	ExpiresAt        time.Time
}
