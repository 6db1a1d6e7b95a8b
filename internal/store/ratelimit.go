package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ppiankov/trustgate/internal/ratelimit"
)

// CheckRateLimit runs one sliding-window check for key and stores the
// pruned event list.
func (s *Store) CheckRateLimit(ctx context.Context, key string, maxCount int, window time.Duration, now time.Time) (ratelimit.CheckResult, error) {
	if key == "" {
		return ratelimit.CheckResult{}, fmt.Errorf("store: rate limit key is required")
	}
	defer s.locks.Lock(limiterKey(key))()

	var res ratelimit.CheckResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		state, err := loadLimiter(ctx, tx, key)
		if err != nil {
			return err
		}
		state, res = ratelimit.Check(state, key, maxCount, window, now)
		return saveLimiter(ctx, tx, key, state[key])
	})
	return res, err
}

// LimiterState returns the stored events of the given keys.
func (s *Store) LimiterState(ctx context.Context, keys ...string) (ratelimit.State, error) {
	state := ratelimit.State{}
	for _, key := range keys {
		st, err := loadLimiter(ctx, s.sqlDB, key)
		if err != nil {
			return nil, err
		}
		for k, v := range st {
			state[k] = v
		}
	}
	return state, nil
}

func loadLimiter(ctx context.Context, q queryer, key string) (ratelimit.State, error) {
	rows, err := q.QueryContext(ctx, `
SELECT at_ms FROM ratelimit_events WHERE limit_key = ? ORDER BY at_ms
`, key)
	if err != nil {
		return nil, fmt.Errorf("store: load limiter %s: %w", key, err)
	}
	defer rows.Close()

	var stamps []int64
	for rows.Next() {
		var at int64
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("store: scan limiter event: %w", err)
		}
		stamps = append(stamps, at)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate limiter events: %w", err)
	}
	state := ratelimit.State{}
	if len(stamps) > 0 {
		state[key] = stamps
	}
	return state, nil
}

func saveLimiter(ctx context.Context, q queryer, key string, stamps []int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM ratelimit_events WHERE limit_key = ?`, key); err != nil {
		return fmt.Errorf("store: clear limiter %s: %w", key, err)
	}
	for _, at := range stamps {
		if _, err := q.ExecContext(ctx, `INSERT INTO ratelimit_events (limit_key, at_ms) VALUES (?, ?)`, key, at); err != nil {
			return fmt.Errorf("store: save limiter %s: %w", key, err)
		}
	}
	return nil
}
