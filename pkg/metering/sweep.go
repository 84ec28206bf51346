package metering

import (
	"context"
	"log/slog"
	"time"
)

// LapsedDowngrader is the hook the sweep uses to downgrade subscriptions
// stuck past_due beyond the billing grace window. Implemented by the billing
// reconciler; optional.
type LapsedDowngrader interface {
	DowngradeLapsed(ctx context.Context) (int64, error)
}

// Sweeper runs scheduled bulk quota maintenance: zeroing monthly counters for
// free-tier users at the start of each month and, when wired, evaluating the
// past_due downgrade independently of gateway event delivery. The lazy reset
// inside Gate.CanAccess covers live users; the sweep covers dormant accounts
// so introspection and batch jobs see fresh counters too. Both paths are
// idempotent and safe to run concurrently with live access checks.
type Sweeper struct {
	quotas     QuotaStore
	downgrader LapsedDowngrader
	interval   time.Duration
	log        *slog.Logger
	now        func() time.Time
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets how often the sweep runs. Defaults to one hour.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLapsedDowngrader wires the billing downgrade check into the sweep.
func WithLapsedDowngrader(d LapsedDowngrader) SweeperOption {
	return func(s *Sweeper) {
		s.downgrader = d
	}
}

// WithSweeperLogger sets the logger. Defaults to slog.Default().
func WithSweeperLogger(log *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if log != nil {
			s.log = log
		}
	}
}

// WithSweeperClock overrides the time source, for tests.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSweeper creates a Sweeper. Panics if the quota store is nil.
func NewSweeper(quotas QuotaStore, opts ...SweeperOption) *Sweeper {
	if quotas == nil {
		panic("metering: QuotaStore is required")
	}

	s := &Sweeper{
		quotas:   quotas,
		interval: time.Hour,
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ResetAllDueAccounts zeroes counters for every non-paid account whose last
// reset predates the current month. Returns the number of accounts reset.
func (s *Sweeper) ResetAllDueAccounts(ctx context.Context) (int64, error) {
	return s.quotas.ResetAllDue(ctx, MonthStart(s.now()))
}

// Run executes the sweep on a fixed interval until the context is canceled.
// Each tick is independent; a failed sweep is logged and retried on the next
// tick rather than stopping the loop.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	count, err := s.ResetAllDueAccounts(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "quota reset sweep failed", slog.Any("error", err))
	} else if count > 0 {
		s.log.InfoContext(ctx, "quota reset sweep completed", slog.Int64("accounts", count))
	}

	if s.downgrader == nil {
		return
	}

	downgraded, err := s.downgrader.DowngradeLapsed(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "past-due downgrade sweep failed", slog.Any("error", err))
	} else if downgraded > 0 {
		s.log.InfoContext(ctx, "past-due downgrade sweep completed", slog.Int64("subscriptions", downgraded))
	}
}
