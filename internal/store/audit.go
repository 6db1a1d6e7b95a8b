package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/trustgate/internal/audit"
)

// Chain returns the stored chain state of a session.
func (s *Store) Chain(ctx context.Context, sessionID string) (audit.Chain, error) {
	if err := ctx.Err(); err != nil {
		return audit.Chain{}, err
	}
	return loadChain(ctx, s.sqlDB, sessionID)
}

// AppendAudit appends one action to a session's chain, starting the chain
// under policyID if the session is new. An input without a session id is
// recorded under sessionID.
func (s *Store) AppendAudit(ctx context.Context, sessionID, policyID string, in audit.Input, now time.Time) (audit.Chain, audit.Record, string, error) {
	if sessionID == "" {
		return audit.Chain{}, audit.Record{}, "", fmt.Errorf("store: session id is required")
	}
	if in.SessionID == "" {
		in.SessionID = sessionID
	}
	defer s.locks.Lock(sessionKey(sessionID))()

	var (
		next audit.Chain
		rec  audit.Record
		hash string
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := chainOrNew(ctx, tx, sessionID, policyID, now)
		if err != nil {
			return err
		}
		next, rec, hash = audit.Append(c, in, now)
		return saveAppend(ctx, tx, next, rec)
	})
	if err != nil {
		return audit.Chain{}, audit.Record{}, "", err
	}
	s.appended(rec)
	return next, rec, hash, nil
}

// Records returns a session's decision records in sequence order.
func (s *Store) Records(ctx context.Context, sessionID string) ([]audit.Record, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT payload FROM audit_records
WHERE session_id = ?
ORDER BY sequence_number
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list records: %w", err)
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("store: scan record: %w", err)
		}
		var rec audit.Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("store: decode record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate records: %w", err)
	}
	return out, nil
}

// VerifySession checks a stored session's records and chain state agree.
// A session with no stored chain verifies as empty.
func (s *Store) VerifySession(ctx context.Context, sessionID string) (audit.VerifyResult, error) {
	c, err := s.Chain(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return audit.VerifyResult{Valid: true}, nil
	}
	if err != nil {
		return audit.VerifyResult{}, err
	}
	records, err := s.Records(ctx, sessionID)
	if err != nil {
		return audit.VerifyResult{}, err
	}
	return audit.VerifyChain(c, records), nil
}

func chainOrNew(ctx context.Context, q queryer, sessionID, policyID string, now time.Time) (audit.Chain, error) {
	c, err := loadChain(ctx, q, sessionID)
	if errors.Is(err, ErrNotFound) {
		return audit.NewChain(sessionID, policyID, now), nil
	}
	return c, err
}

func loadChain(ctx context.Context, q queryer, sessionID string) (audit.Chain, error) {
	var (
		c      audit.Chain
		latest sql.NullString
	)
	err := q.QueryRowContext(ctx, `
SELECT session_id, policy_id, sequence_number, latest_hash, created_at
FROM audit_chains WHERE session_id = ?
`, sessionID).Scan(&c.SessionID, &c.PolicyID, &c.SequenceNumber, &latest, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Chain{}, ErrNotFound
	}
	if err != nil {
		return audit.Chain{}, fmt.Errorf("store: load chain %s: %w", sessionID, err)
	}
	if latest.Valid {
		c.LatestHash = &latest.String
	}

	rows, err := q.QueryContext(ctx, `
SELECT hash FROM audit_records WHERE session_id = ? ORDER BY sequence_number
`, sessionID)
	if err != nil {
		return audit.Chain{}, fmt.Errorf("store: load chain entries: %w", err)
	}
	defer rows.Close()
	c.Entries = []string{}
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return audit.Chain{}, fmt.Errorf("store: scan chain entry: %w", err)
		}
		c.Entries = append(c.Entries, h)
	}
	if err := rows.Err(); err != nil {
		return audit.Chain{}, fmt.Errorf("store: iterate chain entries: %w", err)
	}
	if err := c.Validate(); err != nil {
		return audit.Chain{}, fmt.Errorf("store: chain %s is inconsistent: %w", sessionID, err)
	}
	return c, nil
}

func saveAppend(ctx context.Context, q queryer, c audit.Chain, rec audit.Record) error {
	_, err := q.ExecContext(ctx, `
INSERT INTO audit_chains (session_id, policy_id, sequence_number, latest_hash, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
	sequence_number = excluded.sequence_number,
	latest_hash = excluded.latest_hash
`, c.SessionID, c.PolicyID, c.SequenceNumber, c.LatestHash, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: save chain %s: %w", c.SessionID, err)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode record: %w", err)
	}
	_, err = q.ExecContext(ctx, `
INSERT INTO audit_records (session_id, sequence_number, hash, payload)
VALUES (?, ?, ?, ?)
`, c.SessionID, rec.Reference.SequenceNumber, rec.ContentHash, string(payload))
	if err != nil {
		return fmt.Errorf("store: save record %s: %w", rec.ActionID, err)
	}
	return nil
}
