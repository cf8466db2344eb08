package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresWindowStore keeps rate-limit windows in the rate_limit_events
// table so every API instance counts against the same window. The
// prune+record+count sequence runs under a per-key advisory lock; a
// rejected attempt's insert is rolled back so it never counts.
type PostgresWindowStore struct {
	db *sqlx.DB
}

func NewPostgresWindowStore(db *sqlx.DB) *PostgresWindowStore {
	return &PostgresWindowStore{db: db}
}

func (s *PostgresWindowStore) Record(ctx context.Context, key string, now time.Time, width time.Duration, capacity int) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin rate limit tx: %w", err)
	}
	defer tx.Rollback()

	// Serialize concurrent admissions for the same key. At READ
	// COMMITTED two transactions would each count only committed rows
	// and both land at the capacity boundary. The lock is per-key, so
	// unrelated credentials proceed in parallel, and it releases with
	// the transaction.
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`,
		key,
	); err != nil {
		return 0, fmt.Errorf("failed to lock rate limit window: %w", err)
	}

	cutoff := now.Add(-width)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rate_limit_events WHERE credential_id = $1 AND requested_at < $2`,
		key, cutoff,
	); err != nil {
		return 0, fmt.Errorf("failed to prune rate limit window: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rate_limit_events (credential_id, requested_at) VALUES ($1, $2)`,
		key, now,
	); err != nil {
		return 0, fmt.Errorf("failed to record rate limit event: %w", err)
	}

	var count int
	if err := tx.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM rate_limit_events WHERE credential_id = $1`,
		key,
	); err != nil {
		return 0, fmt.Errorf("failed to count rate limit window: %w", err)
	}

	if count > capacity {
		// Deliberate rollback: the rejected attempt must not consume
		// capacity from subsequent requests.
		return count, nil
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit rate limit tx: %w", err)
	}
	return count, nil
}
