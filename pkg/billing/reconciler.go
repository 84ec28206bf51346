package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/paywallkit/pkg/metering"
)

// PastDueGracePeriod is how long a subscription may stay past_due before the
// user's article limit is reset to the free-tier default. Evaluated whenever
// a failure event or the scheduled sweep re-examines the subscription.
const PastDueGracePeriod = 3 * 24 * time.Hour

// Reconciler converts gateway events and on-demand gateway lookups into
// subscription store mutations. Every mutation is expressed as "set field to
// value", never as an increment, so event replays and reordering are safe.
type Reconciler struct {
	subs     SubscriptionStore
	payments PaymentStore
	quotas   QuotaLimiter
	gateway  Gateway
	log      *slog.Logger
	now      func() time.Time
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerLogger sets the logger. Defaults to slog.Default().
func WithReconcilerLogger(log *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if log != nil {
			r.log = log
		}
	}
}

// WithReconcilerClock overrides the time source, for tests.
func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithReconcilerGateway wires the gateway used by Refresh. Without it,
// Refresh returns ErrGatewayUnavailable.
func WithReconcilerGateway(gw Gateway) ReconcilerOption {
	return func(r *Reconciler) {
		r.gateway = gw
	}
}

// NewReconciler creates a Reconciler. Panics if a required store is nil to
// fail fast during initialization.
func NewReconciler(subs SubscriptionStore, payments PaymentStore, quotas QuotaLimiter, opts ...ReconcilerOption) *Reconciler {
	if subs == nil {
		panic("billing: SubscriptionStore is required")
	}
	if payments == nil {
		panic("billing: PaymentStore is required")
	}
	if quotas == nil {
		panic("billing: QuotaLimiter is required")
	}

	r := &Reconciler{
		subs:     subs,
		payments: payments,
		quotas:   quotas,
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Apply processes one inbound gateway event. Events that reference no local
// subscription are not errors: new subscriptions are created by the
// synchronous upgrade path, so such events are logged and skipped. Duplicate
// deliveries are harmless for status fields; payment records are deduplicated
// by their external ID.
func (r *Reconciler) Apply(ctx context.Context, event Event) error {
	if event.Kind == EventIgnored {
		return nil
	}

	sub, err := r.subs.GetByExternalID(ctx, event.ExternalSubscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			r.log.InfoContext(ctx, "billing event for unknown subscription, skipping",
				slog.String("external_subscription_id", event.ExternalSubscriptionID),
				slog.String("event", event.ProviderEvent))
			return nil
		}
		return fmt.Errorf("lookup subscription %s: %w", event.ExternalSubscriptionID, err)
	}

	switch event.Kind {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return r.applySubscriptionChange(ctx, sub, event)
	case EventSubscriptionDeleted:
		return r.applySubscriptionDeleted(ctx, sub)
	case EventInvoicePaid:
		return r.applyInvoicePaid(ctx, sub, event)
	case EventInvoiceFailed:
		return r.applyInvoiceFailed(ctx, sub, event)
	default:
		r.log.DebugContext(ctx, "unhandled billing event kind",
			slog.String("kind", string(event.Kind)),
			slog.String("event", event.ProviderEvent))
		return nil
	}
}

func (r *Reconciler) applySubscriptionChange(ctx context.Context, sub *Subscription, event Event) error {
	status := r.mapStatus(ctx, event.GatewayStatus)

	sub.Tier = TierPaid
	sub.Status = status
	if !event.CurrentPeriodStart.IsZero() {
		sub.CurrentPeriodStart = event.CurrentPeriodStart
	}
	if !event.CurrentPeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = event.CurrentPeriodEnd
	}
	sub.CancelAtPeriodEnd = event.CancelAtPeriodEnd
	if event.ExternalCustomerID != "" {
		sub.ExternalCustomerID = event.ExternalCustomerID
	}
	sub.UpdatedAt = r.now()

	if err := r.subs.Save(ctx, sub); err != nil {
		return errors.Join(ErrFailedToSaveSubscription, err)
	}

	if status == StatusActive {
		if err := r.quotas.SetMonthlyLimit(ctx, sub.UserID, metering.UnlimitedArticleLimit); err != nil {
			return errors.Join(ErrFailedToUpdateQuota, err)
		}
	}

	return nil
}

func (r *Reconciler) applySubscriptionDeleted(ctx context.Context, sub *Subscription) error {
	sub.Status = StatusCanceled
	sub.Tier = TierFree
	sub.CancelAtPeriodEnd = true
	sub.UpdatedAt = r.now()

	if err := r.subs.Save(ctx, sub); err != nil {
		return errors.Join(ErrFailedToSaveSubscription, err)
	}

	if err := r.quotas.SetMonthlyLimit(ctx, sub.UserID, metering.DefaultMonthlyArticleLimit); err != nil {
		return errors.Join(ErrFailedToUpdateQuota, err)
	}

	return nil
}

func (r *Reconciler) applyInvoicePaid(ctx context.Context, sub *Subscription, event Event) error {
	sub.Status = StatusActive
	sub.Tier = TierPaid
	if !event.CurrentPeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = event.CurrentPeriodEnd
	}
	sub.UpdatedAt = r.now()

	if err := r.subs.Save(ctx, sub); err != nil {
		return errors.Join(ErrFailedToSaveSubscription, err)
	}

	if err := r.quotas.SetMonthlyLimit(ctx, sub.UserID, metering.UnlimitedArticleLimit); err != nil {
		return errors.Join(ErrFailedToUpdateQuota, err)
	}

	return r.appendPayment(ctx, sub, event, PaymentSucceeded)
}

func (r *Reconciler) applyInvoiceFailed(ctx context.Context, sub *Subscription, event Event) error {
	// Time-based downgrade: a subscription stuck past_due for longer than
	// the grace window loses its unlimited article limit. The same check
	// runs from the scheduled sweep so it fires even when the gateway stops
	// sending failure events.
	lapsed := sub.Status == StatusPastDue && r.now().Sub(sub.UpdatedAt) > PastDueGracePeriod

	sub.Status = StatusPastDue
	sub.UpdatedAt = r.now()

	if err := r.subs.Save(ctx, sub); err != nil {
		return errors.Join(ErrFailedToSaveSubscription, err)
	}

	if lapsed {
		if err := r.quotas.SetMonthlyLimit(ctx, sub.UserID, metering.DefaultMonthlyArticleLimit); err != nil {
			return errors.Join(ErrFailedToUpdateQuota, err)
		}
	}

	return r.appendPayment(ctx, sub, event, PaymentFailed)
}

// appendPayment records the payment attached to an invoice event. Duplicate
// external IDs are dropped so redelivered events keep the record append-only
// and exactly-once.
func (r *Reconciler) appendPayment(ctx context.Context, sub *Subscription, event Event, status PaymentStatus) error {
	if event.Payment == nil {
		return nil
	}

	payment := &Payment{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		ExternalID:     event.Payment.ExternalID,
		Amount:         event.Payment.Amount,
		Currency:       event.Payment.Currency,
		Status:         status,
		CreatedAt:      r.now(),
	}

	if err := r.payments.Append(ctx, payment); err != nil {
		if errors.Is(err, ErrDuplicatePayment) {
			r.log.DebugContext(ctx, "duplicate payment record dropped",
				slog.String("external_payment_id", event.Payment.ExternalID))
			return nil
		}
		return errors.Join(ErrFailedToRecordPayment, err)
	}

	return nil
}

// Refresh pulls authoritative subscription state from the gateway and applies
// it through the same mapping as webhook events. The gateway call is bounded
// by the context deadline supplied by the caller.
func (r *Reconciler) Refresh(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	if r.gateway == nil {
		return nil, ErrGatewayUnavailable
	}

	sub, err := r.subs.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.ExternalSubscriptionID == "" {
		return sub, nil
	}

	gwSub, err := r.gateway.GetSubscription(ctx, sub.ExternalSubscriptionID)
	if err != nil {
		return nil, errors.Join(ErrGatewayUnavailable, err)
	}

	if err := r.applySubscriptionChange(ctx, sub, Event{
		ExternalSubscriptionID: gwSub.ID,
		ExternalCustomerID:     gwSub.CustomerID,
		GatewayStatus:          gwSub.Status,
		CurrentPeriodStart:     gwSub.CurrentPeriodStart,
		CurrentPeriodEnd:       gwSub.CurrentPeriodEnd,
		CancelAtPeriodEnd:      gwSub.CancelAtPeriodEnd,
	}); err != nil {
		return nil, err
	}

	return sub, nil
}

// DowngradeLapsed resets the article limit for users whose subscriptions have
// been past_due beyond the grace window. Invoked from the quota sweep so the
// downgrade does not depend on further gateway events arriving.
func (r *Reconciler) DowngradeLapsed(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-PastDueGracePeriod)

	subs, err := r.subs.ListLapsedPastDue(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	var count int64
	for i := range subs {
		if err := r.quotas.SetMonthlyLimit(ctx, subs[i].UserID, metering.DefaultMonthlyArticleLimit); err != nil {
			r.log.ErrorContext(ctx, "failed to downgrade lapsed subscription",
				slog.String("user_id", subs[i].UserID.String()),
				slog.Any("error", err))
			continue
		}
		count++
	}

	return count, nil
}

func (r *Reconciler) mapStatus(ctx context.Context, raw string) Status {
	status, ok := MapGatewayStatus(raw)
	if !ok {
		r.log.WarnContext(ctx, "unrecognized gateway status, treating as canceled",
			slog.String("status", raw))
	}
	return status
}
