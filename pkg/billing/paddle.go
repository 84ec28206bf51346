package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds configuration for the Paddle checkout gateway.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	PriceID       string `env:"PADDLE_PRICE_ID"` // monthly paid-tier price
}

// PaddleGateway implements CheckoutGateway for Paddle. Paddle has no direct
// subscription-creation API comparable to Stripe's, so upgrades run through a
// hosted checkout link and management through the customer portal; all state
// changes then flow back through the webhook feed.
type PaddleGateway struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	config   PaddleConfig
	log      *slog.Logger
}

// NewPaddleGateway creates a Paddle checkout gateway.
func NewPaddleGateway(config PaddleConfig) (*PaddleGateway, error) {
	if config.APIKey == "" {
		return nil, errors.New("paddle API key is required")
	}
	if config.WebhookSecret == "" {
		return nil, errors.New("paddle webhook secret is required")
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("create paddle client: %w", err)
	}

	return &PaddleGateway{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
		config:   config,
		log:      slog.Default(),
	}, nil
}

// CreateCheckoutLink creates a hosted checkout transaction for the paid tier.
// The user ID travels in custom data so the completed-transaction webhook can
// be correlated.
func (g *PaddleGateway) CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	if req.PriceID == "" {
		req.PriceID = g.config.PriceID
	}
	if req.PriceID == "" {
		return nil, errors.New("price ID is required")
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	transactionReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"user_id": req.UserID.String(),
		},
	}
	if req.Email != "" {
		transactionReq.CustomData["email"] = req.Email
	}
	if req.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	transaction, err := g.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, fmt.Errorf("create paddle transaction: %w", err)
	}

	if transaction.Checkout == nil || transaction.Checkout.URL == nil {
		return nil, errors.New("no checkout URL returned from paddle")
	}

	return &CheckoutLink{
		URL:       *transaction.Checkout.URL,
		SessionID: transaction.ID,
		ExpiresAt: time.Now().Add(24 * time.Hour), // paddle checkout links expire in 24 hours
	}, nil
}

// CustomerPortalLink returns a pre-authenticated customer portal session,
// including the subscription-specific cancel and payment-update URLs when
// Paddle provides them.
func (g *PaddleGateway) CustomerPortalLink(ctx context.Context, customerID string, subscriptionIDs []string) (*PortalLink, error) {
	if customerID == "" {
		return nil, errors.New("customer ID is required")
	}

	session, err := g.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, &paddle.CreateCustomerPortalSessionRequest{
		CustomerID:      customerID,
		SubscriptionIDs: subscriptionIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("create paddle customer portal session: %w", err)
	}

	link := &PortalLink{
		URL:       session.URLs.General.Overview,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	for _, subURL := range session.URLs.Subscriptions {
		for _, id := range subscriptionIDs {
			if subURL.ID == id {
				link.CancelURL = subURL.CancelSubscription
				link.UpdatePaymentURL = subURL.UpdateSubscriptionPaymentMethod
			}
		}
	}

	if link.URL == "" {
		return nil, errors.New("no portal URL returned from paddle")
	}
	return link, nil
}

// ParseWebhook verifies the Paddle-Signature header and normalizes the event.
// Paddle reports subscription lifecycle via subscription.* events and payment
// outcomes via transaction.* events.
func (g *PaddleGateway) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	// The Paddle verifier works on *http.Request, so wrap the raw payload.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build verification request: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := g.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrWebhookVerification, err)
	}
	if !valid {
		return nil, ErrWebhookVerification
	}

	var paddleEvent struct {
		EventID   string         `json:"event_id"`
		EventType string         `json:"event_type"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &paddleEvent); err != nil {
		return nil, errors.Join(ErrMalformedWebhook, err)
	}

	event := &Event{
		ID:            paddleEvent.EventID,
		Kind:          mapPaddleEventKind(paddleEvent.EventType),
		ProviderEvent: paddleEvent.EventType,
	}

	data := paddleEvent.Data

	if strings.HasPrefix(paddleEvent.EventType, "subscription.") {
		if subID, ok := data["id"].(string); ok {
			event.ExternalSubscriptionID = subID
		}
		if status, ok := data["status"].(string); ok {
			event.GatewayStatus = status
		}
		if custID, ok := data["customer_id"].(string); ok {
			event.ExternalCustomerID = custID
		}
		if period, ok := data["current_billing_period"].(map[string]any); ok {
			event.CurrentPeriodStart = parsePaddleTime(period["starts_at"])
			event.CurrentPeriodEnd = parsePaddleTime(period["ends_at"])
		}
		// A pending cancellation shows up as a scheduled change.
		if change, ok := data["scheduled_change"].(map[string]any); ok {
			if action, ok := change["action"].(string); ok && action == "cancel" {
				event.CancelAtPeriodEnd = true
			}
		}
	}

	if strings.HasPrefix(paddleEvent.EventType, "transaction.") {
		if subID, ok := data["subscription_id"].(string); ok {
			event.ExternalSubscriptionID = subID
		}
		if custID, ok := data["customer_id"].(string); ok {
			event.ExternalCustomerID = custID
		}
		if txnID, ok := data["id"].(string); ok {
			event.Payment = &PaymentInfo{ExternalID: txnID}
			if details, ok := data["details"].(map[string]any); ok {
				if totals, ok := details["totals"].(map[string]any); ok {
					amount, ok := parsePaddleAmount(totals["total"])
					if !ok && totals["total"] != nil {
						g.log.DebugContext(ctx, "unparseable paddle transaction total",
							slog.Any("total", totals["total"]),
							slog.String("event_id", paddleEvent.EventID))
					}
					event.Payment.Amount = amount
					if currency, ok := totals["currency_code"].(string); ok {
						event.Payment.Currency = currency
					}
				}
			}
		}
	}

	return event, nil
}

func mapPaddleEventKind(paddleEvent string) EventKind {
	switch paddleEvent {
	case "subscription.created":
		return EventSubscriptionCreated
	case "subscription.updated", "subscription.resumed":
		return EventSubscriptionUpdated
	case "subscription.canceled":
		return EventSubscriptionDeleted
	case "transaction.completed", "transaction.payment_succeeded":
		return EventInvoicePaid
	case "transaction.payment_failed":
		return EventInvoiceFailed
	default:
		return EventIgnored
	}
}

// parsePaddleAmount decodes Paddle's string-encoded minor-unit totals.
func parsePaddleAmount(v any) (int64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parsePaddleTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
