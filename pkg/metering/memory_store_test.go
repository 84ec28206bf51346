package metering_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paywallkit/pkg/metering"
)

func TestMemoryStore_ConcurrentRecordAccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("same post charged once across racing readers", func(t *testing.T) {
		t.Parallel()
		store := metering.NewMemoryStore()
		userID := uuid.New()
		postID := uuid.New()

		const workers = 32
		var firsts atomic.Int32
		errs := make(chan error, workers)

		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				first, err := store.RecordAccess(ctx, userID, postID, time.Now().UTC())
				if err != nil {
					errs <- err
					return
				}
				if first {
					firsts.Add(1)
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		assert.Equal(t, int32(1), firsts.Load())

		quota, err := store.Get(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int32(1), quota.ArticlesReadThisMonth)
	})

	t.Run("distinct posts each charged once under contention", func(t *testing.T) {
		t.Parallel()
		store := metering.NewMemoryStore()
		userID := uuid.New()

		const posts = 8
		postIDs := make([]uuid.UUID, posts)
		for i := range postIDs {
			postIDs[i] = uuid.New()
		}

		var firsts atomic.Int32
		var wg sync.WaitGroup
		for _, postID := range postIDs {
			for range 4 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					first, err := store.RecordAccess(ctx, userID, postID, time.Now().UTC())
					if err == nil && first {
						firsts.Add(1)
					}
				}()
			}
		}
		wg.Wait()

		assert.Equal(t, int32(posts), firsts.Load())

		quota, err := store.Get(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int32(posts), quota.ArticlesReadThisMonth)
	})

	t.Run("reset racing increments never corrupts the counter", func(t *testing.T) {
		t.Parallel()
		store := metering.NewMemoryStore()
		userID := uuid.New()
		now := time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

		const readers = 16
		var wg sync.WaitGroup
		for range readers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = store.RecordAccess(ctx, userID, uuid.New(), now)
			}()
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = store.Reset(ctx, userID, now)
			}()
		}
		wg.Wait()

		quota, err := store.Get(ctx, userID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, quota.ArticlesReadThisMonth, int32(0))
		assert.LessOrEqual(t, quota.ArticlesReadThisMonth, int32(readers))
		require.NotNil(t, quota.LastResetAt)

		// The first reset of the month won; another in the same month
		// must not zero the counter again.
		after := quota.ArticlesReadThisMonth
		require.NoError(t, store.Reset(ctx, userID, now.Add(time.Hour)))
		quota, err = store.Get(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, after, quota.ArticlesReadThisMonth)
	})
}
