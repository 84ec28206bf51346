package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paywallkit/pkg/billing"
	"github.com/dmitrymomot/paywallkit/pkg/metering"
)

type mockQuotaLimiter struct {
	mock.Mock
}

func (m *mockQuotaLimiter) SetMonthlyLimit(ctx context.Context, userID uuid.UUID, limit int32) error {
	args := m.Called(ctx, userID, limit)
	return args.Error(0)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) ParseWebhook(ctx context.Context, payload []byte, signature string) (*billing.Event, error) {
	args := m.Called(ctx, payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Event), args.Error(1)
}

func (m *mockGateway) CreateCustomer(ctx context.Context, params billing.CustomerParams) (string, error) {
	args := m.Called(ctx, params)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) CreateSubscription(ctx context.Context, params billing.SubscriptionParams) (*billing.GatewaySubscription, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.GatewaySubscription), args.Error(1)
}

func (m *mockGateway) CancelSubscription(ctx context.Context, externalSubscriptionID string) error {
	args := m.Called(ctx, externalSubscriptionID)
	return args.Error(0)
}

func (m *mockGateway) GetSubscription(ctx context.Context, externalSubscriptionID string) (*billing.GatewaySubscription, error) {
	args := m.Called(ctx, externalSubscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.GatewaySubscription), args.Error(1)
}

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func seedSubscription(t *testing.T, store *billing.MemorySubscriptionStore, sub billing.Subscription) billing.Subscription {
	t.Helper()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.UserID == uuid.Nil {
		sub.UserID = uuid.New()
	}
	require.NoError(t, store.Save(context.Background(), &sub))
	return sub
}

func TestReconciler_Apply_SubscriptionUpdated(t *testing.T) {
	t.Parallel()

	t.Run("sets fields from event", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		subs := billing.NewMemorySubscriptionStore()
		payments := billing.NewMemoryPaymentStore()
		quotas := &mockQuotaLimiter{}

		seeded := seedSubscription(t, subs, billing.Subscription{
			Tier:                   billing.TierPaid,
			Status:                 billing.StatusActive,
			ExternalSubscriptionID: "sub_123",
		})
		quotas.On("SetMonthlyLimit", mock.Anything, seeded.UserID, metering.UnlimitedArticleLimit).Return(nil)

		r := billing.NewReconciler(subs, payments, quotas, billing.WithReconcilerClock(fixedClock(testNow)))

		periodEnd := testNow.Add(30 * 24 * time.Hour)
		err := r.Apply(ctx, billing.Event{
			Kind:                   billing.EventSubscriptionUpdated,
			ExternalSubscriptionID: "sub_123",
			ExternalCustomerID:     "cus_456",
			GatewayStatus:          "active",
			CurrentPeriodStart:     testNow,
			CurrentPeriodEnd:       periodEnd,
		})
		require.NoError(t, err)

		got, err := subs.GetByExternalID(ctx, "sub_123")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, got.Status)
		assert.Equal(t, billing.TierPaid, got.Tier)
		assert.Equal(t, "cus_456", got.ExternalCustomerID)
		assert.Equal(t, periodEnd, got.CurrentPeriodEnd)
		assert.Equal(t, testNow, got.UpdatedAt)
		quotas.AssertExpectations(t)
	})

	t.Run("replay is idempotent", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		subs := billing.NewMemorySubscriptionStore()
		payments := billing.NewMemoryPaymentStore()
		quotas := &mockQuotaLimiter{}
		quotas.On("SetMonthlyLimit", mock.Anything, mock.Anything, metering.UnlimitedArticleLimit).Return(nil)

		seedSubscription(t, subs, billing.Subscription{
			Tier:                   billing.TierPaid,
			Status:                 billing.StatusPastDue,
			ExternalSubscriptionID: "sub_123",
		})

		r := billing.NewReconciler(subs, payments, quotas, billing.WithReconcilerClock(fixedClock(testNow)))

		event := billing.Event{
			Kind:                   billing.EventSubscriptionUpdated,
			ExternalSubscriptionID: "sub_123",
			GatewayStatus:          "active",
			CurrentPeriodEnd:       testNow.Add(30 * 24 * time.Hour),
		}
		require.NoError(t, r.Apply(ctx, event))
		first, err := subs.GetByExternalID(ctx, "sub_123")
		require.NoError(t, err)

		require.NoError(t, r.Apply(ctx, event))
		second, err := subs.GetByExternalID(ctx, "sub_123")
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})

	t.Run("unknown gateway status falls back to canceled", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		subs := billing.NewMemorySubscriptionStore()
		quotas := &mockQuotaLimiter{}

		seedSubscription(t, subs, billing.Subscription{
			Tier:                   billing.TierPaid,
			Status:                 billing.StatusActive,
			ExternalSubscriptionID: "sub_123",
		})

		r := billing.NewReconciler(subs, billing.NewMemoryPaymentStore(), quotas, billing.WithReconcilerClock(fixedClock(testNow)))

		err := r.Apply(ctx, billing.Event{
			Kind:                   billing.EventSubscriptionUpdated,
			ExternalSubscriptionID: "sub_123",
			GatewayStatus:          "paused",
		})
		require.NoError(t, err)

		got, err := subs.GetByExternalID(ctx, "sub_123")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCanceled, got.Status)
		quotas.AssertNotCalled(t, "SetMonthlyLimit", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestReconciler_Apply_UnknownSubscription(t *testing.T) {
	t.Parallel()

	subs := billing.NewMemorySubscriptionStore()
	quotas := &mockQuotaLimiter{}
	r := billing.NewReconciler(subs, billing.NewMemoryPaymentStore(), quotas)

	err := r.Apply(context.Background(), billing.Event{
		Kind:                   billing.EventSubscriptionUpdated,
		ExternalSubscriptionID: "sub_unknown",
		GatewayStatus:          "active",
	})
	assert.NoError(t, err)
	quotas.AssertNotCalled(t, "SetMonthlyLimit", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconciler_Apply_IgnoredEvent(t *testing.T) {
	t.Parallel()

	r := billing.NewReconciler(billing.NewMemorySubscriptionStore(), billing.NewMemoryPaymentStore(), &mockQuotaLimiter{})
	assert.NoError(t, r.Apply(context.Background(), billing.Event{Kind: billing.EventIgnored}))
}

func TestReconciler_Apply_SubscriptionDeleted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	subs := billing.NewMemorySubscriptionStore()
	quotas := &mockQuotaLimiter{}

	seeded := seedSubscription(t, subs, billing.Subscription{
		Tier:                   billing.TierPaid,
		Status:                 billing.StatusActive,
		ExternalSubscriptionID: "sub_123",
	})
	quotas.On("SetMonthlyLimit", mock.Anything, seeded.UserID, metering.DefaultMonthlyArticleLimit).Return(nil)

	r := billing.NewReconciler(subs, billing.NewMemoryPaymentStore(), quotas, billing.WithReconcilerClock(fixedClock(testNow)))

	err := r.Apply(ctx, billing.Event{
		Kind:                   billing.EventSubscriptionDeleted,
		ExternalSubscriptionID: "sub_123",
	})
	require.NoError(t, err)

	got, err := subs.GetByExternalID(ctx, "sub_123")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCanceled, got.Status)
	assert.Equal(t, billing.TierFree, got.Tier)
	assert.True(t, got.CancelAtPeriodEnd)
	quotas.AssertExpectations(t)
}

func TestReconciler_Apply_InvoicePaid(t *testing.T) {
	t.Parallel()

	t.Run("reactivates and records payment", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		subs := billing.NewMemorySubscriptionStore()
		payments := billing.NewMemoryPaymentStore()
		quotas := &mockQuotaLimiter{}

		seeded := seedSubscription(t, subs, billing.Subscription{
			Tier:                   billing.TierPaid,
			Status:                 billing.StatusPastDue,
			ExternalSubscriptionID: "sub_123",
		})
		quotas.On("SetMonthlyLimit", mock.Anything, seeded.UserID, metering.UnlimitedArticleLimit).Return(nil)

		r := billing.NewReconciler(subs, payments, quotas, billing.WithReconcilerClock(fixedClock(testNow)))

		err := r.Apply(ctx, billing.Event{
			Kind:                   billing.EventInvoicePaid,
			ExternalSubscriptionID: "sub_123",
			CurrentPeriodEnd:       testNow.Add(30 * 24 * time.Hour),
			Payment: &billing.PaymentInfo{
				ExternalID: "in_001",
				Amount:     999,
				Currency:   "usd",
			},
		})
		require.NoError(t, err)

		got, err := subs.GetByExternalID(ctx, "sub_123")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, got.Status)

		all := payments.All()
		require.Len(t, all, 1)
		assert.Equal(t, "in_001", all[0].ExternalID)
		assert.Equal(t, billing.PaymentSucceeded, all[0].Status)
		assert.Equal(t, int64(999), all[0].Amount)
		quotas.AssertExpectations(t)
	})

	t.Run("redelivered invoice keeps single payment record", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		subs := billing.NewMemorySubscriptionStore()
		payments := billing.NewMemoryPaymentStore()
		quotas := &mockQuotaLimiter{}
		quotas.On("SetMonthlyLimit", mock.Anything, mock.Anything, metering.UnlimitedArticleLimit).Return(nil)

		seedSubscription(t, subs, billing.Subscription{
			Tier:                   billing.TierPaid,
			Status:                 billing.StatusActive,
			ExternalSubscriptionID: "sub_123",
		})

		r := billing.NewReconciler(subs, payments, quotas, billing.WithReconcilerClock(fixedClock(testNow)))

		event := billing.Event{
			Kind:                   billing.EventInvoicePaid,
			ExternalSubscriptionID: "sub_123",
			Payment:                &billing.PaymentInfo{ExternalID: "in_001", Amount: 999, Currency: "usd"},
		}
		require.NoError(t, r.Apply(ctx, event))
		require.NoError(t, r.Apply(ctx, event))

		assert.Len(t, payments.All(), 1)
	})
}

func TestReconciler_Apply_InvoiceFailed(t *testing.T) {
	t.Parallel()

	t.Run("marks past due within grace, quota untouched", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		subs := billing.NewMemorySubscriptionStore()
		quotas := &mockQuotaLimiter{}

		seedSubscription(t, subs, billing.Subscription{
			Tier:                   billing.TierPaid,
			Status:                 billing.StatusActive,
			ExternalSubscriptionID: "sub_123",
			UpdatedAt:              testNow.Add(-time.Hour),
		})

		r := billing.NewReconciler(subs, billing.NewMemoryPaymentStore(), quotas, billing.WithReconcilerClock(fixedClock(testNow)))

		err := r.Apply(ctx, billing.Event{
			Kind:                   billing.EventInvoiceFailed,
			ExternalSubscriptionID: "sub_123",
			Payment:                &billing.PaymentInfo{ExternalID: "in_002", Amount: 999, Currency: "usd"},
		})
		require.NoError(t, err)

		got, err := subs.GetByExternalID(ctx, "sub_123")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusPastDue, got.Status)
		assert.Equal(t, billing.TierPaid, got.Tier)
		quotas.AssertNotCalled(t, "SetMonthlyLimit", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("downgrades limit after grace period", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		subs := billing.NewMemorySubscriptionStore()
		quotas := &mockQuotaLimiter{}

		seeded := seedSubscription(t, subs, billing.Subscription{
			Tier:                   billing.TierPaid,
			Status:                 billing.StatusPastDue,
			ExternalSubscriptionID: "sub_123",
			UpdatedAt:              testNow.Add(-billing.PastDueGracePeriod - time.Hour),
		})
		quotas.On("SetMonthlyLimit", mock.Anything, seeded.UserID, metering.DefaultMonthlyArticleLimit).Return(nil)

		r := billing.NewReconciler(subs, billing.NewMemoryPaymentStore(), quotas, billing.WithReconcilerClock(fixedClock(testNow)))

		err := r.Apply(ctx, billing.Event{
			Kind:                   billing.EventInvoiceFailed,
			ExternalSubscriptionID: "sub_123",
			Payment:                &billing.PaymentInfo{ExternalID: "in_003", Amount: 999, Currency: "usd"},
		})
		require.NoError(t, err)
		quotas.AssertExpectations(t)
	})

	t.Run("failed payment is still recorded", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		subs := billing.NewMemorySubscriptionStore()
		payments := billing.NewMemoryPaymentStore()

		seedSubscription(t, subs, billing.Subscription{
			Tier:                   billing.TierPaid,
			Status:                 billing.StatusActive,
			ExternalSubscriptionID: "sub_123",
			UpdatedAt:              testNow,
		})

		r := billing.NewReconciler(subs, payments, &mockQuotaLimiter{}, billing.WithReconcilerClock(fixedClock(testNow)))

		err := r.Apply(ctx, billing.Event{
			Kind:                   billing.EventInvoiceFailed,
			ExternalSubscriptionID: "sub_123",
			Payment:                &billing.PaymentInfo{ExternalID: "in_004", Amount: 999, Currency: "usd"},
		})
		require.NoError(t, err)

		all := payments.All()
		require.Len(t, all, 1)
		assert.Equal(t, billing.PaymentFailed, all[0].Status)
	})
}

func TestReconciler_DowngradeLapsed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	subs := billing.NewMemorySubscriptionStore()
	quotas := &mockQuotaLimiter{}

	lapsed := seedSubscription(t, subs, billing.Subscription{
		Tier:                   billing.TierPaid,
		Status:                 billing.StatusPastDue,
		ExternalSubscriptionID: "sub_lapsed",
		UpdatedAt:              testNow.Add(-billing.PastDueGracePeriod - time.Hour),
	})
	seedSubscription(t, subs, billing.Subscription{
		Tier:                   billing.TierPaid,
		Status:                 billing.StatusPastDue,
		ExternalSubscriptionID: "sub_recent",
		UpdatedAt:              testNow.Add(-time.Hour),
	})
	seedSubscription(t, subs, billing.Subscription{
		Tier:                   billing.TierPaid,
		Status:                 billing.StatusActive,
		ExternalSubscriptionID: "sub_healthy",
		UpdatedAt:              testNow.Add(-30 * 24 * time.Hour),
	})

	quotas.On("SetMonthlyLimit", mock.Anything, lapsed.UserID, metering.DefaultMonthlyArticleLimit).Return(nil)

	r := billing.NewReconciler(subs, billing.NewMemoryPaymentStore(), quotas, billing.WithReconcilerClock(fixedClock(testNow)))

	count, err := r.DowngradeLapsed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	quotas.AssertExpectations(t)
}

func TestReconciler_Refresh(t *testing.T) {
	t.Parallel()

	t.Run("pulls gateway state", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		subs := billing.NewMemorySubscriptionStore()
		quotas := &mockQuotaLimiter{}
		gw := &mockGateway{}

		seeded := seedSubscription(t, subs, billing.Subscription{
			Tier:                   billing.TierPaid,
			Status:                 billing.StatusActive,
			ExternalSubscriptionID: "sub_123",
		})

		periodEnd := testNow.Add(30 * 24 * time.Hour)
		gw.On("GetSubscription", mock.Anything, "sub_123").Return(&billing.GatewaySubscription{
			ID:               "sub_123",
			CustomerID:       "cus_456",
			Status:           "past_due",
			CurrentPeriodEnd: periodEnd,
		}, nil)

		r := billing.NewReconciler(subs, billing.NewMemoryPaymentStore(), quotas,
			billing.WithReconcilerClock(fixedClock(testNow)),
			billing.WithReconcilerGateway(gw))

		got, err := r.Refresh(ctx, seeded.UserID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusPastDue, got.Status)
		assert.Equal(t, periodEnd, got.CurrentPeriodEnd)
		gw.AssertExpectations(t)
	})

	t.Run("without gateway", func(t *testing.T) {
		t.Parallel()
		r := billing.NewReconciler(billing.NewMemorySubscriptionStore(), billing.NewMemoryPaymentStore(), &mockQuotaLimiter{})
		_, err := r.Refresh(context.Background(), uuid.New())
		assert.ErrorIs(t, err, billing.ErrGatewayUnavailable)
	})

	t.Run("local only subscription returned as is", func(t *testing.T) {
		t.Parallel()
		subs := billing.NewMemorySubscriptionStore()
		gw := &mockGateway{}

		seeded := seedSubscription(t, subs, billing.Subscription{
			Tier:   billing.TierFree,
			Status: billing.StatusCanceled,
		})

		r := billing.NewReconciler(subs, billing.NewMemoryPaymentStore(), &mockQuotaLimiter{},
			billing.WithReconcilerGateway(gw))

		got, err := r.Refresh(context.Background(), seeded.UserID)
		require.NoError(t, err)
		assert.Equal(t, billing.TierFree, got.Tier)
		gw.AssertNotCalled(t, "GetSubscription", mock.Anything, mock.Anything)
	})
}
