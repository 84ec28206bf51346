package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/paywallkit/pkg/metering"
)

// DefaultGatewayTimeout bounds every synchronous call to the payment gateway.
// Access decisions sit on the request path, so a slow gateway must surface a
// retryable error instead of hanging.
const DefaultGatewayTimeout = 10 * time.Second

// Service implements the synchronous command surface against the payment
// gateway: upgrading a user to the paid tier and canceling a subscription.
// Local state is mutated only after the gateway call succeeds, so local
// writes always follow confirmed gateway state.
type Service struct {
	subs           SubscriptionStore
	quotas         QuotaLimiter
	gateway        Gateway
	priceID        string
	gatewayTimeout time.Duration
	log            *slog.Logger
	now            func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithGatewayTimeout overrides the per-call gateway timeout.
func WithGatewayTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.gatewayTimeout = d
		}
	}
}

// WithServiceLogger sets the logger. Defaults to slog.Default().
func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithServiceClock overrides the time source, for tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a Service. Panics if a required dependency is nil to
// fail fast during initialization.
func NewService(subs SubscriptionStore, quotas QuotaLimiter, gateway Gateway, priceID string, opts ...ServiceOption) *Service {
	if subs == nil {
		panic("billing: SubscriptionStore is required")
	}
	if quotas == nil {
		panic("billing: QuotaLimiter is required")
	}
	if gateway == nil {
		panic("billing: Gateway is required")
	}

	s := &Service{
		subs:           subs,
		quotas:         quotas,
		gateway:        gateway,
		priceID:        priceID,
		gatewayTimeout: DefaultGatewayTimeout,
		log:            slog.Default(),
		now:            func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// UpgradeParams carries the input for the synchronous upgrade command.
type UpgradeParams struct {
	UserID          uuid.UUID
	PaymentMethodID string
	Email           string
	Name            string
}

// Upgrade creates (or reuses) a gateway customer, creates a gateway
// subscription, then performs the same local mutation as a successful
// "subscription created" event. This is the only path that can create a
// user's first subscription row. Gateway failures are surfaced as retryable
// errors with no local state touched.
func (s *Service) Upgrade(ctx context.Context, params UpgradeParams) (*Subscription, error) {
	if params.UserID == uuid.Nil {
		return nil, ErrMissingUserID
	}
	if params.PaymentMethodID == "" {
		return nil, ErrMissingPaymentMethod
	}

	sub, err := s.subs.GetByUserID(ctx, params.UserID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}
	if sub != nil && sub.GrantsPaidAccessAt(s.now()) && !sub.IsCanceled() {
		return nil, ErrSubscriptionAlreadyExists
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	customerID := ""
	if sub != nil {
		customerID = sub.ExternalCustomerID
	}
	if customerID == "" {
		customerID, err = s.gateway.CreateCustomer(gwCtx, CustomerParams{
			UserID: params.UserID,
			Email:  params.Email,
			Name:   params.Name,
		})
		if err != nil {
			return nil, errors.Join(ErrGatewayUnavailable, err)
		}
	}

	gwSub, err := s.gateway.CreateSubscription(gwCtx, SubscriptionParams{
		CustomerID:      customerID,
		PriceID:         s.priceID,
		PaymentMethodID: params.PaymentMethodID,
	})
	if err != nil {
		return nil, errors.Join(ErrGatewayUnavailable, err)
	}

	now := s.now()
	status, ok := MapGatewayStatus(gwSub.Status)
	if !ok {
		s.log.WarnContext(ctx, "unrecognized gateway status on upgrade, treating as canceled",
			slog.String("status", gwSub.Status))
	}

	if sub == nil {
		sub = &Subscription{
			ID:        uuid.New(),
			UserID:    params.UserID,
			CreatedAt: now,
		}
	}
	sub.Tier = TierPaid
	sub.Status = status
	sub.CurrentPeriodStart = gwSub.CurrentPeriodStart
	sub.CurrentPeriodEnd = gwSub.CurrentPeriodEnd
	sub.CancelAtPeriodEnd = gwSub.CancelAtPeriodEnd
	sub.ExternalCustomerID = customerID
	sub.ExternalSubscriptionID = gwSub.ID
	sub.UpdatedAt = now

	if err := s.subs.Save(ctx, sub); err != nil {
		return nil, errors.Join(ErrFailedToSaveSubscription, err)
	}

	if status == StatusActive {
		if err := s.quotas.SetMonthlyLimit(ctx, sub.UserID, metering.UnlimitedArticleLimit); err != nil {
			return nil, errors.Join(ErrFailedToUpdateQuota, err)
		}
	}

	return sub, nil
}

// Cancel cancels the gateway subscription (scheduled at period end) and marks
// the local row canceled. The quota limit is left untouched: a canceled but
// unexpired subscription still grants paid access until the period ends.
func (s *Service) Cancel(ctx context.Context, userID uuid.UUID) error {
	sub, err := s.subs.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}

	if sub.ExternalSubscriptionID != "" {
		gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
		defer cancel()

		if err := s.gateway.CancelSubscription(gwCtx, sub.ExternalSubscriptionID); err != nil {
			return errors.Join(ErrGatewayUnavailable, err)
		}
	}

	sub.Status = StatusCanceled
	sub.CancelAtPeriodEnd = true
	sub.UpdatedAt = s.now()

	if err := s.subs.Save(ctx, sub); err != nil {
		return errors.Join(ErrFailedToSaveSubscription, err)
	}

	return nil
}

// Subscription retrieves the user's current subscription.
func (s *Service) Subscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return s.subs.GetByUserID(ctx, userID)
}

// HasPaidAccess reports whether the user currently holds paid-level access
// under the grace-period rules. A missing subscription row is not an error;
// it simply means free-tier rules apply. This satisfies the access gate's
// paid-access check.
func (s *Service) HasPaidAccess(ctx context.Context, userID uuid.UUID) (bool, error) {
	sub, err := s.subs.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return false, nil
		}
		return false, err
	}
	return sub.GrantsPaidAccessAt(s.now()), nil
}
