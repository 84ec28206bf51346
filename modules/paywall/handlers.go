package paywall

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/paywallkit/core"
	"github.com/dmitrymomot/paywallkit/pkg/billing"
	"github.com/dmitrymomot/paywallkit/pkg/dedup"
	"github.com/dmitrymomot/paywallkit/pkg/metering"
)

// maxWebhookBody bounds inbound webhook payloads. Gateway events are small;
// anything larger is garbage.
const maxWebhookBody = int64(64 << 10)

// signatureHeaders maps the webhook {provider} path segment to the header
// carrying its payload signature.
var signatureHeaders = map[string]string{
	"stripe": "Stripe-Signature",
	"paddle": "Paddle-Signature",
}

type handlers struct {
	billing    *billing.Service
	reconciler *billing.Reconciler
	gate       *metering.Gate
	parsers    map[string]billing.WebhookParser
	checkout   billing.CheckoutGateway
	dedup      *dedup.Deduplicator
	log        *slog.Logger
}

// handleWebhook ingests one signed gateway event. Unrecognized event kinds
// are acknowledged with 200 so the gateway stops redelivering them; signature
// mismatches get 401 and never reach the reconciler.
func (h *handlers) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	parser, ok := h.parsers[provider]
	if !ok {
		core.Render(w, r, core.JSONError(core.ErrNotFound))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		core.Render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}

	event, err := parser.ParseWebhook(r.Context(), body, r.Header.Get(signatureHeaders[provider]))
	if err != nil {
		if errors.Is(err, billing.ErrWebhookVerification) {
			h.log.WarnContext(r.Context(), "webhook signature verification failed",
				slog.String("provider", provider))
			core.Render(w, r, core.JSONError(core.ErrUnauthorized))
			return
		}
		h.log.WarnContext(r.Context(), "malformed webhook payload",
			slog.String("provider", provider),
			slog.Any("error", err))
		core.Render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}

	if h.dedup != nil && h.dedup.Seen(r.Context(), event.ID) {
		h.log.DebugContext(r.Context(), "duplicate webhook event acknowledged",
			slog.String("event_id", event.ID))
		core.Render(w, r, core.JSON(map[string]string{"status": "duplicate"}))
		return
	}

	if err := h.reconciler.Apply(r.Context(), *event); err != nil {
		h.log.ErrorContext(r.Context(), "failed to apply billing event",
			slog.String("event", event.ProviderEvent),
			slog.Any("error", err))
		// Seen already marked the event, so clear the mark or the
		// redelivery would be acknowledged as a duplicate without ever
		// applying. Non-2xx makes the gateway redeliver; Apply is
		// idempotent.
		if h.dedup != nil {
			h.dedup.Forget(r.Context(), event.ID)
		}
		core.Render(w, r, core.JSONError(core.ErrInternalServerError))
		return
	}

	core.Render(w, r, core.JSON(map[string]string{"status": "ok"}))
}

type upgradeRequest struct {
	PaymentMethodID string `json:"payment_method_id"`
	Email           string `json:"email"`
	Name            string `json:"name"`
}

type subscriptionResponse struct {
	Tier              string `json:"tier"`
	Status            string `json:"status"`
	CurrentPeriodEnd  int64  `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
}

func (h *handlers) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		core.Render(w, r, core.JSONError(core.ErrUnauthorized))
		return
	}

	var req upgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.Render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}

	sub, err := h.billing.Upgrade(r.Context(), billing.UpgradeParams{
		UserID:          userID,
		PaymentMethodID: req.PaymentMethodID,
		Email:           req.Email,
		Name:            req.Name,
	})
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrMissingPaymentMethod):
			core.Render(w, r, core.JSONError(core.ErrUnprocessableEntity))
		case errors.Is(err, billing.ErrSubscriptionAlreadyExists):
			core.Render(w, r, core.JSONError(core.ErrConflict))
		case errors.Is(err, billing.ErrGatewayUnavailable):
			// Retryable: no local state was mutated.
			core.Render(w, r, core.JSONError(core.ErrBadGateway))
		default:
			h.log.ErrorContext(r.Context(), "upgrade failed", slog.Any("error", err))
			core.Render(w, r, core.JSONError(core.ErrInternalServerError))
		}
		return
	}

	core.Render(w, r, core.JSON(toSubscriptionResponse(sub)))
}

func (h *handlers) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		core.Render(w, r, core.JSONError(core.ErrUnauthorized))
		return
	}

	if err := h.billing.Cancel(r.Context(), userID); err != nil {
		switch {
		case errors.Is(err, billing.ErrSubscriptionNotFound):
			core.Render(w, r, core.JSONError(core.ErrNotFound))
		case errors.Is(err, billing.ErrGatewayUnavailable):
			core.Render(w, r, core.JSONError(core.ErrBadGateway))
		default:
			h.log.ErrorContext(r.Context(), "cancel failed", slog.Any("error", err))
			core.Render(w, r, core.JSONError(core.ErrInternalServerError))
		}
		return
	}

	core.Render(w, r, core.JSON(map[string]string{"status": "canceled"}))
}

func (h *handlers) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		core.Render(w, r, core.JSONError(core.ErrUnauthorized))
		return
	}

	sub, err := h.billing.Subscription(r.Context(), userID)
	if err != nil {
		if errors.Is(err, billing.ErrSubscriptionNotFound) {
			core.Render(w, r, core.JSONError(core.ErrNotFound))
			return
		}
		h.log.ErrorContext(r.Context(), "subscription lookup failed", slog.Any("error", err))
		core.Render(w, r, core.JSONError(core.ErrInternalServerError))
		return
	}

	core.Render(w, r, core.JSON(toSubscriptionResponse(sub)))
}

type accessResponse struct {
	CanAccess bool   `json:"canAccess"`
	Reason    string `json:"reason,omitempty"`
	Used      int32  `json:"articlesReadThisMonth"`
	Limit     int32  `json:"monthlyArticleLimit"`
}

// handleCanAccess is the read-only access check. Unauthenticated requests
// get a denial, not an error: UI banners probe this endpoint for anonymous
// visitors too.
func (h *handlers) handleCanAccess(w http.ResponseWriter, r *http.Request) {
	postID, err := uuid.Parse(chi.URLParam(r, "postID"))
	if err != nil {
		core.Render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}
	userID, _ := GetUserIDFromContext(r.Context())

	decision, err := h.gate.CanAccess(r.Context(), userID, postID)
	if err != nil {
		// Fail closed: deny rather than risk a double grant.
		h.log.ErrorContext(r.Context(), "access check failed", slog.Any("error", err))
		core.Render(w, r, core.JSON(accessResponse{CanAccess: false}))
		return
	}

	core.Render(w, r, core.JSON(accessResponse{
		CanAccess: decision.Allowed,
		Reason:    string(decision.Reason),
		Used:      decision.Used,
		Limit:     decision.Limit,
	}))
}

// handleRecordAccess commits the quota charge. Invoked by the content-render
// path only after a successful access check.
func (h *handlers) handleRecordAccess(w http.ResponseWriter, r *http.Request) {
	postID, err := uuid.Parse(chi.URLParam(r, "postID"))
	if err != nil {
		core.Render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		core.Render(w, r, core.JSONError(core.ErrUnauthorized))
		return
	}

	if err := h.gate.RecordAccess(r.Context(), userID, postID); err != nil {
		h.log.ErrorContext(r.Context(), "failed to record access", slog.Any("error", err))
		core.Render(w, r, core.JSONError(core.ErrInternalServerError))
		return
	}

	core.Render(w, r, core.JSON(map[string]string{"status": "recorded"}))
}

type quotaResponse struct {
	Used  int32 `json:"articlesReadThisMonth"`
	Limit int32 `json:"monthlyArticleLimit"`
}

// handleQuota returns current usage for UI display. Store failures degrade
// to the free-tier default rather than failing the page.
func (h *handlers) handleQuota(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		core.Render(w, r, core.JSONError(core.ErrUnauthorized))
		return
	}

	used, limit, err := h.gate.Usage(r.Context(), userID)
	if err != nil {
		h.log.WarnContext(r.Context(), "quota introspection degraded to default", slog.Any("error", err))
		core.Render(w, r, core.JSON(quotaResponse{Used: 0, Limit: metering.DefaultMonthlyArticleLimit}))
		return
	}

	core.Render(w, r, core.JSON(quotaResponse{Used: used, Limit: limit}))
}

type checkoutRequest struct {
	Email      string `json:"email"`
	SuccessURL string `json:"success_url"`
}

// handleCheckout creates a hosted checkout link for providers without a
// direct subscription API.
func (h *handlers) handleCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		core.Render(w, r, core.JSONError(core.ErrUnauthorized))
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.Render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}

	link, err := h.checkout.CreateCheckoutLink(r.Context(), billing.CheckoutRequest{
		UserID:     userID,
		Email:      req.Email,
		SuccessURL: req.SuccessURL,
	})
	if err != nil {
		h.log.ErrorContext(r.Context(), "checkout link creation failed", slog.Any("error", err))
		core.Render(w, r, core.JSONError(core.ErrBadGateway))
		return
	}

	core.Render(w, r, core.JSON(map[string]string{"url": link.URL}))
}

func toSubscriptionResponse(sub *billing.Subscription) subscriptionResponse {
	resp := subscriptionResponse{
		Tier:              string(sub.Tier),
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if !sub.CurrentPeriodEnd.IsZero() {
		resp.CurrentPeriodEnd = sub.CurrentPeriodEnd.Unix()
	}
	return resp
}
