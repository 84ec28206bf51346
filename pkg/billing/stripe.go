package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/paymentmethod"
	"github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeConfig holds configuration for the Stripe gateway.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
	PriceID       string `env:"STRIPE_PRICE_ID,required"` // monthly paid-tier price
}

// StripeGateway implements Gateway for Stripe.
type StripeGateway struct {
	config StripeConfig
}

// NewStripeGateway creates a Stripe gateway. The Stripe SDK keeps its API key
// in package state, so only one Stripe account per process is supported.
func NewStripeGateway(config StripeConfig) (*StripeGateway, error) {
	if config.SecretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if config.WebhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}

	stripe.Key = config.SecretKey

	return &StripeGateway{config: config}, nil
}

// PriceID returns the configured paid-tier price.
func (g *StripeGateway) PriceID() string {
	return g.config.PriceID
}

// CreateCustomer creates a Stripe customer tagged with the user ID so webhook
// events can be correlated back to the local user.
func (g *StripeGateway) CreateCustomer(ctx context.Context, params CustomerParams) (string, error) {
	cust, err := customer.New(&stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Email:  stripe.String(params.Email),
		Name:   stripe.String(params.Name),
		Metadata: map[string]string{
			"user_id": params.UserID.String(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cust.ID, nil
}

// CreateSubscription attaches the payment method to the customer and creates
// the subscription with it as the default.
func (g *StripeGateway) CreateSubscription(ctx context.Context, params SubscriptionParams) (*GatewaySubscription, error) {
	if params.PaymentMethodID != "" {
		if _, err := paymentmethod.Attach(params.PaymentMethodID, &stripe.PaymentMethodAttachParams{
			Params:   stripe.Params{Context: ctx},
			Customer: stripe.String(params.CustomerID),
		}); err != nil {
			return nil, fmt.Errorf("attach payment method: %w", err)
		}
	}

	sub, err := subscription.New(&stripe.SubscriptionParams{
		Params:   stripe.Params{Context: ctx},
		Customer: stripe.String(params.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(params.PriceID)},
		},
		DefaultPaymentMethod: stripe.String(params.PaymentMethodID),
	})
	if err != nil {
		return nil, fmt.Errorf("create stripe subscription: %w", err)
	}

	return stripeSubscription(sub), nil
}

// CancelSubscription schedules cancellation at period end. The definitive
// "deleted" state change arrives later via webhook.
func (g *StripeGateway) CancelSubscription(ctx context.Context, externalSubscriptionID string) error {
	_, err := subscription.Update(externalSubscriptionID, &stripe.SubscriptionParams{
		Params:            stripe.Params{Context: ctx},
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("cancel stripe subscription: %w", err)
	}
	return nil
}

// GetSubscription fetches authoritative subscription state from Stripe.
func (g *StripeGateway) GetSubscription(ctx context.Context, externalSubscriptionID string) (*GatewaySubscription, error) {
	sub, err := subscription.Get(externalSubscriptionID, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, fmt.Errorf("get stripe subscription: %w", err)
	}
	return stripeSubscription(sub), nil
}

// ParseWebhook verifies the Stripe-Signature header against the endpoint
// secret and normalizes the payload. Event kinds this engine does not handle
// come back as EventIgnored so the HTTP layer can acknowledge them and stop
// gateway redelivery.
func (g *StripeGateway) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	stripeEvent, err := webhook.ConstructEventWithOptions(payload, signature, g.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, errors.Join(ErrWebhookVerification, err)
	}

	event := &Event{
		ID:            stripeEvent.ID,
		ProviderEvent: string(stripeEvent.Type),
	}

	switch stripeEvent.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(stripeEvent.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrMalformedWebhook, err)
		}

		switch stripeEvent.Type {
		case "customer.subscription.created":
			event.Kind = EventSubscriptionCreated
		case "customer.subscription.updated":
			event.Kind = EventSubscriptionUpdated
		default:
			event.Kind = EventSubscriptionDeleted
		}
		event.ExternalSubscriptionID = sub.ID
		event.GatewayStatus = string(sub.Status)
		event.CurrentPeriodStart = time.Unix(sub.CurrentPeriodStart, 0).UTC()
		event.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		event.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		if sub.Customer != nil {
			event.ExternalCustomerID = sub.Customer.ID
		}

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(stripeEvent.Data.Raw, &inv); err != nil {
			return nil, errors.Join(ErrMalformedWebhook, err)
		}

		amount := inv.AmountPaid
		if stripeEvent.Type == "invoice.payment_failed" {
			event.Kind = EventInvoiceFailed
			amount = inv.AmountDue
		} else {
			event.Kind = EventInvoicePaid
		}
		if inv.Subscription != nil {
			event.ExternalSubscriptionID = inv.Subscription.ID
		}
		if inv.Customer != nil {
			event.ExternalCustomerID = inv.Customer.ID
		}
		event.Payment = &PaymentInfo{
			ExternalID: inv.ID,
			Amount:     amount,
			Currency:   string(inv.Currency),
		}

	default:
		event.Kind = EventIgnored
	}

	return event, nil
}

func stripeSubscription(sub *stripe.Subscription) *GatewaySubscription {
	out := &GatewaySubscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	return out
}

// UserIDFromMetadata extracts the local user ID a customer was tagged with at
// creation time. Returns uuid.Nil when the metadata is absent or invalid.
func UserIDFromMetadata(metadata map[string]string) uuid.UUID {
	id, err := uuid.Parse(metadata["user_id"])
	if err != nil {
		return uuid.Nil
	}
	return id
}
