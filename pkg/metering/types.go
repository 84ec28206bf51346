package metering

import (
	"math"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMonthlyArticleLimit is the free-tier monthly article allowance.
	DefaultMonthlyArticleLimit int32 = 5

	// UnlimitedArticleLimit is the sentinel stored for paid users. Large
	// enough that the quota comparison never denies, while still fitting
	// the integer column.
	UnlimitedArticleLimit int32 = math.MaxInt32
)

// Quota holds a user's monthly consumption counters.
type Quota struct {
	UserID                uuid.UUID
	ArticlesReadThisMonth int32
	MonthlyArticleLimit   int32
	LastResetAt           *time.Time // nil until the first reset
}

// ResetDue reports whether the quota's last reset predates the start of the
// calendar month containing now.
func (q *Quota) ResetDue(now time.Time) bool {
	if q.LastResetAt == nil {
		return true
	}
	return q.LastResetAt.Before(MonthStart(now))
}

// AccessRecord is one row of the access ledger: the user has already been
// charged a quota unit for this post, so re-access is always free. The ledger
// is cumulative across monthly resets.
type AccessRecord struct {
	UserID     uuid.UUID
	PostID     uuid.UUID
	AccessedAt time.Time
}

// Reason explains an access decision, for UI prompts and logs.
type Reason string

const (
	ReasonPaid            Reason = "paid"            // paid-tier access, no quota effects
	ReasonMonthlyReset    Reason = "monthly_reset"   // first article of a new month
	ReasonLedger          Reason = "ledger"          // previously charged, always re-viewable
	ReasonWithinQuota     Reason = "within_quota"    // quota unit available
	ReasonQuotaExhausted  Reason = "quota_exhausted" // monthly allowance used up
	ReasonUnauthenticated Reason = "unauthenticated" // no user
)

// Decision is the outcome of an access check. Used and Limit feed the
// upgrade prompt rendered on denial.
type Decision struct {
	Allowed bool
	Reason  Reason
	Used    int32
	Limit   int32
}

// MonthStart returns the first instant of the calendar month containing t,
// in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
