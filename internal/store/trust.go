package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/trustgate/internal/trust"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Entity returns the stored trust record for id.
func (s *Store) Entity(ctx context.Context, id string) (trust.Entity, error) {
	if err := ctx.Err(); err != nil {
		return trust.Entity{}, err
	}
	return loadEntity(ctx, s.sqlDB, id)
}

// EntityOrNeutral returns the stored record, or the neutral record of the
// given kind when id has never been seen. Nothing is written.
func (s *Store) EntityOrNeutral(ctx context.Context, id string, kind trust.EntityKind, now time.Time) (trust.Entity, error) {
	e, err := s.Entity(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return trust.NewEntity(id, kind, now), nil
	}
	return e, err
}

// PutEntity stores a trust record, replacing any previous one.
func (s *Store) PutEntity(ctx context.Context, e trust.Entity) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("store: invalid entity: %w", err)
	}
	defer s.locks.Lock(entityKey(e.EntityID))()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return saveEntity(ctx, tx, e)
	})
}

// UpdateTrust applies one outcome to id's record, creating the neutral
// record of kind first if id is new.
func (s *Store) UpdateTrust(ctx context.Context, id string, kind trust.EntityKind, toolName string, success bool, now time.Time) (trust.Entity, trust.Delta, error) {
	if id == "" {
		return trust.Entity{}, trust.Delta{}, fmt.Errorf("store: entity id is required")
	}
	defer s.locks.Lock(entityKey(id))()

	var next trust.Entity
	var delta trust.Delta
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		e, err := loadEntity(ctx, tx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			e = trust.NewEntity(id, kind, now)
		case err != nil:
			return err
		}
		next, delta = trust.ApplyOutcome(e, toolName, success, now)
		return saveEntity(ctx, tx, next)
	})
	if err != nil {
		return trust.Entity{}, trust.Delta{}, err
	}
	return next, delta, nil
}

// Entities lists stored records, highest composite first.
func (s *Store) Entities(ctx context.Context, limit int) ([]trust.Entity, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("store: limit must be greater than zero")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT payload FROM trust_entities
ORDER BY composite DESC, entity_id
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list entities: %w", err)
	}
	defer rows.Close()

	out := make([]trust.Entity, 0, limit)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("store: scan entity: %w", err)
		}
		var e trust.Entity
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("store: decode entity: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate entities: %w", err)
	}
	return out, nil
}

func loadEntity(ctx context.Context, q queryer, id string) (trust.Entity, error) {
	var payload string
	err := q.QueryRowContext(ctx, `SELECT payload FROM trust_entities WHERE entity_id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return trust.Entity{}, ErrNotFound
	}
	if err != nil {
		return trust.Entity{}, fmt.Errorf("store: load entity %s: %w", id, err)
	}
	var e trust.Entity
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return trust.Entity{}, fmt.Errorf("store: decode entity %s: %w", id, err)
	}
	return e, nil
}

func saveEntity(ctx context.Context, q queryer, e trust.Entity) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("store: encode entity: %w", err)
	}
	_, err = q.ExecContext(ctx, `
INSERT INTO trust_entities (entity_id, entity_type, composite, trust_level, payload, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(entity_id) DO UPDATE SET
	entity_type = excluded.entity_type,
	composite = excluded.composite,
	trust_level = excluded.trust_level,
	payload = excluded.payload,
	updated_at = excluded.updated_at
`, e.EntityID, string(e.EntityType), e.Composite(), string(e.TrustLevel), string(payload), toMillis(e.LastUpdated))
	if err != nil {
		return fmt.Errorf("store: save entity %s: %w", e.EntityID, err)
	}
	return nil
}
