package metering

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ledgerKey struct {
	userID uuid.UUID
	postID uuid.UUID
}

// MemoryStore is an in-memory implementation of QuotaStore and LedgerStore
// for tests and local development. A single mutex stands in for the
// transactional isolation the SQL store gets from Postgres.
type MemoryStore struct {
	mu     sync.Mutex
	quotas map[uuid.UUID]Quota
	ledger map[ledgerKey]time.Time
}

// NewMemoryStore creates an empty in-memory metering store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quotas: make(map[uuid.UUID]Quota),
		ledger: make(map[ledgerKey]time.Time),
	}
}

func (s *MemoryStore) Get(ctx context.Context, userID uuid.UUID) (*Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	quota := s.ensure(userID)
	out := quota
	if quota.LastResetAt != nil {
		t := *quota.LastResetAt
		out.LastResetAt = &t
	}
	return &out, nil
}

func (s *MemoryStore) Reset(ctx context.Context, userID uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	quota := s.ensure(userID)
	if quota.LastResetAt != nil && !quota.LastResetAt.Before(MonthStart(now)) {
		return nil // already reset this month
	}

	at := now.UTC()
	quota.ArticlesReadThisMonth = 0
	quota.LastResetAt = &at
	s.quotas[userID] = quota
	return nil
}

func (s *MemoryStore) SetMonthlyLimit(ctx context.Context, userID uuid.UUID, limit int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	quota := s.ensure(userID)
	quota.MonthlyArticleLimit = limit
	s.quotas[userID] = quota
	return nil
}

func (s *MemoryStore) ResetAllDue(ctx context.Context, monthStart time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	now := time.Now().UTC()
	for userID, quota := range s.quotas {
		if quota.MonthlyArticleLimit >= UnlimitedArticleLimit {
			continue
		}
		if quota.LastResetAt != nil && !quota.LastResetAt.Before(monthStart) {
			continue
		}
		at := now
		quota.ArticlesReadThisMonth = 0
		quota.LastResetAt = &at
		s.quotas[userID] = quota
		count++
	}
	return count, nil
}

func (s *MemoryStore) Has(ctx context.Context, userID, postID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.ledger[ledgerKey{userID: userID, postID: postID}]
	return ok, nil
}

func (s *MemoryStore) RecordAccess(ctx context.Context, userID, postID uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ledgerKey{userID: userID, postID: postID}
	_, exists := s.ledger[key]
	s.ledger[key] = at.UTC()
	if exists {
		return false, nil
	}

	quota := s.ensure(userID)
	quota.ArticlesReadThisMonth++
	s.quotas[userID] = quota
	return true, nil
}

// ensure returns the quota for userID, creating the default free-tier record
// if absent. Caller must hold the mutex.
func (s *MemoryStore) ensure(userID uuid.UUID) Quota {
	quota, ok := s.quotas[userID]
	if !ok {
		quota = Quota{
			UserID:              userID,
			MonthlyArticleLimit: DefaultMonthlyArticleLimit,
		}
		s.quotas[userID] = quota
	}
	return quota
}
