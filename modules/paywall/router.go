// Package paywall exposes the reconciliation engine and access gate over
// HTTP: the inbound gateway webhook, the upgrade/cancel commands, the access
// check invoked per content request, and quota introspection for UI display.
package paywall

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/paywallkit/pkg/billing"
	"github.com/dmitrymomot/paywallkit/pkg/dedup"
	"github.com/dmitrymomot/paywallkit/pkg/metering"
)

// RouterOptions wires the engine components into the paywall router.
// Billing, Reconciler, Gate, and at least one webhook parser are required;
// Checkout and Dedup are optional.
type RouterOptions struct {
	Billing    *billing.Service
	Reconciler *billing.Reconciler
	Gate       *metering.Gate

	// Parsers maps the {provider} path segment of the webhook endpoint to
	// the parser verifying that provider's signatures.
	Parsers map[string]billing.WebhookParser

	// Checkout enables the hosted checkout/portal routes for providers
	// without a direct subscription API.
	Checkout billing.CheckoutGateway

	// Dedup short-circuits redelivered webhook events before they reach
	// Postgres. Optional; the store constraints dedupe without it.
	Dedup *dedup.Deduplicator

	Logger *slog.Logger
}

// Router creates the paywall module router.
//
//	r := chi.NewRouter()
//	r.Use(authMiddleware) // populates the user ID via SetUserIDToContext
//	r.Mount("/paywall", paywall.Router(paywall.RouterOptions{
//	    Billing:    svc,
//	    Reconciler: reconciler,
//	    Gate:       gate,
//	    Parsers:    map[string]billing.WebhookParser{"stripe": stripeGW},
//	}))
func Router(opts RouterOptions) chi.Router {
	if opts.Billing == nil {
		panic("paywall: billing service is required")
	}
	if opts.Reconciler == nil {
		panic("paywall: reconciler is required")
	}
	if opts.Gate == nil {
		panic("paywall: access gate is required")
	}
	if len(opts.Parsers) == 0 {
		panic("paywall: at least one webhook parser is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &handlers{
		billing:    opts.Billing,
		reconciler: opts.Reconciler,
		gate:       opts.Gate,
		parsers:    opts.Parsers,
		checkout:   opts.Checkout,
		dedup:      opts.Dedup,
		log:        opts.Logger,
	}

	r := chi.NewRouter()

	r.Post("/webhooks/{provider}", h.handleWebhook)

	r.Route("/subscription", func(sr chi.Router) {
		sr.Get("/", h.handleGetSubscription)
		sr.Post("/", h.handleUpgrade)
		sr.Delete("/", h.handleCancel)
	})

	r.Route("/access/{postID}", func(ar chi.Router) {
		ar.Get("/", h.handleCanAccess)
		ar.Post("/", h.handleRecordAccess)
	})

	r.Get("/quota", h.handleQuota)

	if opts.Checkout != nil {
		r.Post("/checkout", h.handleCheckout)
	}

	return r
}
