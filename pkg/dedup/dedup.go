// Package dedup provides a Redis-backed seen-set for webhook event IDs.
//
// The billing reconciler is idempotent for status fields and the payment
// store enforces exactly-once bookkeeping through a unique constraint, so
// deduplication here is an optimization: redelivered events get acknowledged
// before touching Postgres at all. Redis failures therefore report the event
// as unseen and let the database constraints do their job.
package dedup

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is the slice of the go-redis API the deduplicator needs.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Config holds deduplicator settings.
type Config struct {
	KeyPrefix string        `env:"DEDUP_KEY_PREFIX" envDefault:"paywall:event:"`
	TTL       time.Duration `env:"DEDUP_TTL" envDefault:"72h"` // outlives the gateway's retry window
}

// Deduplicator remembers event IDs for a bounded window.
type Deduplicator struct {
	client Client
	prefix string
	ttl    time.Duration
	log    *slog.Logger
}

// New creates a Deduplicator. Panics if the client is nil.
func New(client Client, cfg Config, log *slog.Logger) *Deduplicator {
	if client == nil {
		panic("dedup: redis client is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "paywall:event:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 72 * time.Hour
	}

	return &Deduplicator{
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTL,
		log:    log,
	}
}

// Seen marks the event ID and reports whether it had been marked before.
// Fails open: on Redis errors the event counts as unseen so processing
// continues and the store-level constraints dedupe instead.
func (d *Deduplicator) Seen(ctx context.Context, eventID string) bool {
	if eventID == "" {
		return false
	}

	set, err := d.client.SetNX(ctx, d.prefix+eventID, 1, d.ttl).Result()
	if err != nil {
		d.log.WarnContext(ctx, "event dedup check failed, treating as unseen",
			slog.String("event_id", eventID),
			slog.Any("error", err))
		return false
	}

	return !set
}

// Forget drops the mark for an event ID. Callers use it when processing
// fails after Seen already marked the event, so the gateway's redelivery is
// not swallowed as a duplicate. Best effort: if the delete fails the key
// still expires with its TTL.
func (d *Deduplicator) Forget(ctx context.Context, eventID string) {
	if eventID == "" {
		return
	}

	if err := d.client.Del(ctx, d.prefix+eventID).Err(); err != nil {
		d.log.WarnContext(ctx, "failed to clear event dedup mark",
			slog.String("event_id", eventID),
			slog.Any("error", err))
	}
}
