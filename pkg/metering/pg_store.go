package metering

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements QuotaStore and LedgerStore on PostgreSQL. Counter
// mutations use atomic single-statement increments and guarded updates so
// concurrent access checks from multiple processes never lose updates; the
// record path runs inside one transaction protected by the (user_id, post_id)
// primary key.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a Postgres-backed metering store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	if pool == nil {
		panic("metering: pgx pool is required")
	}
	return &PGStore{pool: pool}
}

func (s *PGStore) Get(ctx context.Context, userID uuid.UUID) (*Quota, error) {
	// First sight of a user creates their free-tier quota row.
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO user_quotas (user_id, articles_read_this_month, monthly_article_limit)
		VALUES ($1, 0, $2)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, DefaultMonthlyArticleLimit,
	); err != nil {
		return nil, fmt.Errorf("ensure quota row: %w", err)
	}

	quota := &Quota{UserID: userID}
	err := s.pool.QueryRow(ctx, `
		SELECT articles_read_this_month, monthly_article_limit, last_article_reset_at
		FROM user_quotas
		WHERE user_id = $1`,
		userID,
	).Scan(&quota.ArticlesReadThisMonth, &quota.MonthlyArticleLimit, &quota.LastResetAt)
	if err != nil {
		return nil, fmt.Errorf("load quota: %w", err)
	}

	return quota, nil
}

func (s *PGStore) Reset(ctx context.Context, userID uuid.UUID, now time.Time) error {
	// The month-start guard makes the reset idempotent: a concurrent reset
	// that already stamped this month turns this statement into a no-op.
	_, err := s.pool.Exec(ctx, `
		UPDATE user_quotas
		SET articles_read_this_month = 0, last_article_reset_at = $2
		WHERE user_id = $1
		  AND (last_article_reset_at IS NULL OR last_article_reset_at < $3)`,
		userID, now.UTC(), MonthStart(now),
	)
	if err != nil {
		return fmt.Errorf("reset quota: %w", err)
	}
	return nil
}

func (s *PGStore) SetMonthlyLimit(ctx context.Context, userID uuid.UUID, limit int32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_quotas (user_id, articles_read_this_month, monthly_article_limit)
		VALUES ($1, 0, $2)
		ON CONFLICT (user_id) DO UPDATE SET monthly_article_limit = excluded.monthly_article_limit`,
		userID, limit,
	)
	if err != nil {
		return fmt.Errorf("set monthly limit: %w", err)
	}
	return nil
}

func (s *PGStore) ResetAllDue(ctx context.Context, monthStart time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_quotas
		SET articles_read_this_month = 0, last_article_reset_at = now()
		WHERE (last_article_reset_at IS NULL OR last_article_reset_at < $1)
		  AND monthly_article_limit < $2`,
		monthStart, UnlimitedArticleLimit,
	)
	if err != nil {
		return 0, fmt.Errorf("bulk quota reset: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) Has(ctx context.Context, userID, postID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM post_access WHERE user_id = $1 AND post_id = $2)`,
		userID, postID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check access ledger: %w", err)
	}
	return exists, nil
}

func (s *PGStore) RecordAccess(ctx context.Context, userID, postID uuid.UUID, at time.Time) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin record access: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx, `
		INSERT INTO post_access (user_id, post_id, accessed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, post_id) DO NOTHING`,
		userID, postID, at.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert access record: %w", err)
	}

	first := tag.RowsAffected() > 0
	if first {
		// Increment lands in the same transaction as the ledger insert, so
		// a failure on either side leaves no partial charge behind.
		if _, err := tx.Exec(ctx, `
			INSERT INTO user_quotas (user_id, articles_read_this_month, monthly_article_limit)
			VALUES ($1, 1, $2)
			ON CONFLICT (user_id) DO UPDATE
			SET articles_read_this_month = user_quotas.articles_read_this_month + 1`,
			userID, DefaultMonthlyArticleLimit,
		); err != nil {
			return false, fmt.Errorf("increment quota counter: %w", err)
		}
	} else {
		if _, err := tx.Exec(ctx, `
			UPDATE post_access SET accessed_at = $3 WHERE user_id = $1 AND post_id = $2`,
			userID, postID, at.UTC(),
		); err != nil {
			return false, fmt.Errorf("refresh access record: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit record access: %w", err)
	}

	return first, nil
}
