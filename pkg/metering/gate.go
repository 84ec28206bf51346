package metering

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// PaidAccessChecker reports whether a user currently holds paid-level access,
// including the cancellation grace period. Implemented by the billing
// service; kept narrow so the gate never depends on billing internals.
type PaidAccessChecker interface {
	HasPaidAccess(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Gate decides, per content request, whether a user may view a post.
// CanAccess is safe to call for read-only checks (UI banners): its only
// possible mutation is the lazy monthly reset. The quota charge itself is
// committed separately by RecordAccess when the content actually renders.
type Gate struct {
	quotas QuotaStore
	ledger LedgerStore
	paid   PaidAccessChecker
	log    *slog.Logger
	now    func() time.Time
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateLogger sets the logger. Defaults to slog.Default().
func WithGateLogger(log *slog.Logger) GateOption {
	return func(g *Gate) {
		if log != nil {
			g.log = log
		}
	}
}

// WithGateClock overrides the time source, for tests.
func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGate creates a Gate. Panics if a required dependency is nil to fail
// fast during initialization.
func NewGate(quotas QuotaStore, ledger LedgerStore, paid PaidAccessChecker, opts ...GateOption) *Gate {
	if quotas == nil {
		panic("metering: QuotaStore is required")
	}
	if ledger == nil {
		panic("metering: LedgerStore is required")
	}
	if paid == nil {
		panic("metering: PaidAccessChecker is required")
	}

	g := &Gate{
		quotas: quotas,
		ledger: ledger,
		paid:   paid,
		log:    slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// CanAccess decides whether the user may view the post. Failures in the
// underlying stores deny access rather than hang or silently grant: denial
// renders an upgrade prompt, double-granting loses revenue.
func (g *Gate) CanAccess(ctx context.Context, userID, postID uuid.UUID) (Decision, error) {
	if userID == uuid.Nil {
		return Decision{Reason: ReasonUnauthenticated}, nil
	}

	paid, err := g.paid.HasPaidAccess(ctx, userID)
	if err != nil {
		return Decision{}, errors.Join(ErrFailedToCheckPaid, err)
	}
	if paid {
		return Decision{Allowed: true, Reason: ReasonPaid}, nil
	}

	quota, err := g.quotas.Get(ctx, userID)
	if err != nil {
		return Decision{}, errors.Join(ErrFailedToLoadQuota, err)
	}

	now := g.now()
	if quota.ResetDue(now) {
		if err := g.quotas.Reset(ctx, userID, now); err != nil {
			return Decision{}, errors.Join(ErrFailedToResetQuota, err)
		}
		// First article of the new month is always within the allowance.
		return Decision{Allowed: true, Reason: ReasonMonthlyReset, Used: 0, Limit: quota.MonthlyArticleLimit}, nil
	}

	recorded, err := g.ledger.Has(ctx, userID, postID)
	if err != nil {
		return Decision{}, errors.Join(ErrFailedToLoadQuota, err)
	}
	if recorded {
		return Decision{
			Allowed: true,
			Reason:  ReasonLedger,
			Used:    quota.ArticlesReadThisMonth,
			Limit:   quota.MonthlyArticleLimit,
		}, nil
	}

	if quota.ArticlesReadThisMonth < quota.MonthlyArticleLimit {
		return Decision{
			Allowed: true,
			Reason:  ReasonWithinQuota,
			Used:    quota.ArticlesReadThisMonth,
			Limit:   quota.MonthlyArticleLimit,
		}, nil
	}

	return Decision{
		Reason: ReasonQuotaExhausted,
		Used:   quota.ArticlesReadThisMonth,
		Limit:  quota.MonthlyArticleLimit,
	}, nil
}

// RecordAccess commits the quota charge for a granted view. Callers invoke it
// only after CanAccess allowed the request, and only for non-author, non-paid
// views. The ledger upsert and the counter increment run in one transaction;
// a concurrent first view of the same post charges at most one unit.
func (g *Gate) RecordAccess(ctx context.Context, userID, postID uuid.UUID) error {
	if userID == uuid.Nil {
		return ErrUnauthenticated
	}

	first, err := g.ledger.RecordAccess(ctx, userID, postID, g.now())
	if err != nil {
		return errors.Join(ErrFailedToRecord, err)
	}

	if !first {
		g.log.DebugContext(ctx, "access already recorded, timestamp refreshed",
			slog.String("user_id", userID.String()),
			slog.String("post_id", postID.String()))
	}

	return nil
}

// Usage returns the user's current consumption for quota introspection.
// Creates the default quota record for first-time users.
func (g *Gate) Usage(ctx context.Context, userID uuid.UUID) (used, limit int32, err error) {
	if userID == uuid.Nil {
		return 0, 0, ErrUnauthenticated
	}

	quota, err := g.quotas.Get(ctx, userID)
	if err != nil {
		return 0, 0, errors.Join(ErrFailedToLoadQuota, err)
	}

	return quota.ArticlesReadThisMonth, quota.MonthlyArticleLimit, nil
}
