package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ppiankov/trustgate/internal/gate"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/trust"
)

// DecideRequest names the stored state one decision runs against.
type DecideRequest struct {
	SessionID  string
	PolicyID   string
	Policy     *policy.Config
	ToolName   string
	Target     *string
	EntityID   string
	EntityKind trust.EntityKind
	Outcome    model.Outcome
	Approved   bool

	// PolicyHash fingerprints the policy text. Parameters are the raw tool
	// arguments. Both are recorded with the action.
	PolicyHash string
	Parameters json.RawMessage
}

// Decide runs the decide pipeline against stored state. The actor's trust
// record is read as a snapshot; the session chain and, when the matched
// rule is rate limited, its limiter key are held exclusively (in that
// order) until the result is saved.
func (s *Store) Decide(ctx context.Context, req DecideRequest, now time.Time) (gate.DecideResult, error) {
	if req.SessionID == "" || req.EntityID == "" {
		return gate.DecideResult{}, fmt.Errorf("store: session id and entity id are required")
	}
	kind := req.EntityKind
	if kind == "" {
		kind = trust.KindAgent
	}
	entity, err := s.EntityOrNeutral(ctx, req.EntityID, kind, now)
	if err != nil {
		return gate.DecideResult{}, err
	}

	// Evaluation is deterministic, so this pass finds the same rule as the
	// one inside DecideWith and tells us which limiter key to hold.
	pre := policy.Evaluate(req.Policy, req.ToolName, req.Target, entity.T3)
	var key string
	if rule := pre.Rule(); rule != nil && pre.Decision != model.Deny && rule.Match.RateLimit.HasLimit() {
		key = gate.RateLimitKey(rule.ID, req.EntityID)
	}

	defer s.locks.Lock(sessionKey(req.SessionID))()
	if key != "" {
		defer s.locks.Lock(limiterKey(key))()
	}

	var res gate.DecideResult
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		chain, err := chainOrNew(ctx, tx, req.SessionID, req.PolicyID, now)
		if err != nil {
			return err
		}
		p := gate.DecideParams{
			Policy:     req.Policy,
			ToolName:   req.ToolName,
			Target:     req.Target,
			Entity:     entity,
			Chain:      chain,
			PolicyHash: req.PolicyHash,
			Parameters: req.Parameters,
			Outcome:    req.Outcome,
			Approved:   req.Approved,
		}
		if key != "" {
			if p.Limits, err = loadLimiter(ctx, tx, key); err != nil {
				return err
			}
		}
		res, err = gate.DecideWith(p, now)
		if err != nil {
			return err
		}
		if err := saveAppend(ctx, tx, res.Chain, res.Record); err != nil {
			return err
		}
		if key != "" {
			return saveLimiter(ctx, tx, key, res.RateLimitState[key])
		}
		return nil
	})
	if err != nil {
		return gate.DecideResult{}, err
	}
	s.appended(res.Record)
	return res, nil
}
