package metering

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// QuotaStore defines the interface for per-user monthly counters.
// Implementations must guard multi-step mutations with the underlying
// store's isolation: the engine runs concurrently across request handlers
// and processes, so lost updates are a real hazard.
type QuotaStore interface {
	// Get retrieves the user's quota, creating a default free-tier record
	// if none exists yet.
	Get(ctx context.Context, userID uuid.UUID) (*Quota, error)

	// Reset zeroes the counter and stamps the reset time, but only when the
	// last reset predates the month containing now. A reset that loses the
	// race with a concurrent reset of the same month is a no-op, never a
	// double reset.
	Reset(ctx context.Context, userID uuid.UUID, now time.Time) error

	// SetMonthlyLimit sets the user's monthly article limit, creating the
	// quota record if needed.
	SetMonthlyLimit(ctx context.Context, userID uuid.UUID, limit int32) error

	// ResetAllDue zeroes counters for every non-paid user whose last reset
	// predates monthStart, and returns how many rows were reset.
	ResetAllDue(ctx context.Context, monthStart time.Time) (int64, error)
}

// LedgerStore defines the interface for the per-(user, post) access ledger.
type LedgerStore interface {
	// Has reports whether the ledger already holds a row for the pair.
	Has(ctx context.Context, userID, postID uuid.UUID) (bool, error)

	// RecordAccess upserts the ledger row and, only when the row is newly
	// created, increments the user's monthly counter by exactly one. Both
	// writes happen in a single transaction; a conflicting concurrent
	// insert means "already recorded", so the timestamp is refreshed and
	// no increment occurs. Returns whether this call created the row.
	RecordAccess(ctx context.Context, userID, postID uuid.UUID, at time.Time) (first bool, err error)
}
