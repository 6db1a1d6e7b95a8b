package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/trustgate/internal/trust"
	"github.com/ppiankov/trustgate/internal/witness"
)

// RecordWitness stores one attestation event.
func (s *Store) RecordWitness(ctx context.Context, ev witness.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO witness_events (witness_id, witnessed_id, trust_score, trust_level, depth, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, ev.WitnessID, ev.WitnessedID, ev.TrustScore, string(ev.TrustLevel), ev.Depth, toMillis(ev.Timestamp))
	if err != nil {
		return fmt.Errorf("store: record witness: %w", err)
	}
	return nil
}

// WitnessEvents returns every event in which entityID is either side,
// oldest first.
func (s *Store) WitnessEvents(ctx context.Context, entityID string) ([]witness.Event, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT witness_id, witnessed_id, trust_score, trust_level, depth, created_at
FROM witness_events
WHERE witness_id = ? OR witnessed_id = ?
ORDER BY created_at, id
`, entityID, entityID)
	if err != nil {
		return nil, fmt.Errorf("store: list witness events: %w", err)
	}
	defer rows.Close()

	var out []witness.Event
	for rows.Next() {
		var (
			ev    witness.Event
			level string
			at    int64
		)
		if err := rows.Scan(&ev.WitnessID, &ev.WitnessedID, &ev.TrustScore, &level, &ev.Depth, &at); err != nil {
			return nil, fmt.Errorf("store: scan witness event: %w", err)
		}
		ev.TrustLevel = trust.Level(level)
		ev.Timestamp = fromMillis(at)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate witness events: %w", err)
	}
	return out, nil
}

// WitnessChain builds entityID's witnessing chain from its stored trust
// record (neutral if unknown) and stored events.
func (s *Store) WitnessChain(ctx context.Context, entityID string, now time.Time) (witness.Chain, error) {
	e, err := s.EntityOrNeutral(ctx, entityID, trust.KindAgent, now)
	if err != nil {
		return witness.Chain{}, err
	}
	events, err := s.WitnessEvents(ctx, entityID)
	if err != nil {
		return witness.Chain{}, err
	}
	return witness.BuildChain(entityID, e.T3, events), nil
}
