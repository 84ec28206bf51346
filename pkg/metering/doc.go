// Package metering gates access to paid content and tracks the monthly
// consumption quota for non-paying readers.
//
// The Gate answers "may this user view this post" per request: paid users
// (including those inside the cancellation grace period) pass untouched;
// free users consume from a monthly allowance tracked per user, with an
// access ledger granting permanent re-access to anything already charged.
// The check/record split keeps read-only uses (UI banners, previews) free of
// side effects: CanAccess at most performs the lazy monthly reset, while
// RecordAccess commits the quota charge when the content actually renders.
//
// The Sweeper complements the lazy reset with scheduled bulk maintenance so
// dormant accounts start each month with fresh counters, and hosts the
// billing past_due downgrade check so it runs independently of gateway event
// delivery.
//
// Counter updates rely on the store's transactional isolation, not in-process
// caching: the engine runs in many processes at once, and the (user, post)
// primary key plus single-transaction record path guarantee at most one
// charge per pair even under concurrent first views.
package metering
