package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemorySubscriptionStore is an in-memory SubscriptionStore for tests and
// local development. Values are copied on the way in and out so callers never
// share the stored structs.
type MemorySubscriptionStore struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]Subscription // keyed by subscription ID
}

// NewMemorySubscriptionStore creates an empty in-memory subscription store.
func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{
		subs: make(map[uuid.UUID]Subscription),
	}
}

func (s *MemorySubscriptionStore) GetByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *Subscription
	for id := range s.subs {
		sub := s.subs[id]
		if sub.UserID != userID {
			continue
		}
		if found == nil || sub.CreatedAt.After(found.CreatedAt) {
			found = &sub
		}
	}
	if found == nil {
		return nil, ErrSubscriptionNotFound
	}

	out := *found
	return &out, nil
}

func (s *MemorySubscriptionStore) GetByExternalID(ctx context.Context, externalSubscriptionID string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id := range s.subs {
		sub := s.subs[id]
		if sub.ExternalSubscriptionID == externalSubscriptionID && externalSubscriptionID != "" {
			out := sub
			return &out, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (s *MemorySubscriptionStore) Save(ctx context.Context, sub *Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = *sub
	return nil
}

func (s *MemorySubscriptionStore) ListLapsedPastDue(ctx context.Context, cutoff time.Time) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Subscription
	for id := range s.subs {
		sub := s.subs[id]
		if sub.Status == StatusPastDue && sub.Tier == TierPaid && sub.UpdatedAt.Before(cutoff) {
			out = append(out, sub)
		}
	}
	return out, nil
}

// MemoryPaymentStore is an in-memory append-only PaymentStore keyed by the
// external payment ID, mirroring the unique constraint of the SQL schema.
type MemoryPaymentStore struct {
	mu       sync.Mutex
	payments map[string]Payment
}

// NewMemoryPaymentStore creates an empty in-memory payment store.
func NewMemoryPaymentStore() *MemoryPaymentStore {
	return &MemoryPaymentStore{
		payments: make(map[string]Payment),
	}
}

func (s *MemoryPaymentStore) Append(ctx context.Context, payment *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[payment.ExternalID]; exists {
		return ErrDuplicatePayment
	}
	s.payments[payment.ExternalID] = *payment
	return nil
}

// All returns every recorded payment, for tests.
func (s *MemoryPaymentStore) All() []Payment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Payment, 0, len(s.payments))
	for id := range s.payments {
		out = append(out, s.payments[id])
	}
	return out
}
