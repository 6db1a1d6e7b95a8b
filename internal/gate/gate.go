// Package gate is the request/response boundary of the decision core. Every
// operation takes JSON payloads, runs one core operation and returns JSON.
// Nothing is retained between calls.
package gate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/ratelimit"
	"github.com/ppiankov/trustgate/internal/trust"
	"github.com/ppiankov/trustgate/internal/witness"
)

// UpdateTrustResult is the output of UpdateTrust.
type UpdateTrustResult struct {
	Entity trust.Entity `json:"entity"`
	Delta  trust.Delta  `json:"delta"`
}

// AppendAuditResult is the output of AppendAudit.
type AppendAuditResult struct {
	Chain   audit.Chain  `json:"chain"`
	Action  audit.Record `json:"action"`
	NewHash string       `json:"new_hash"`
}

// RateLimitResult is the output of CheckRateLimit.
type RateLimitResult struct {
	State ratelimit.State `json:"state"`
	ratelimit.CheckResult
}

// ParsePolicy decodes a policy payload (JSON or YAML) and validates it.
func ParsePolicy(raw []byte) (*policy.Config, error) {
	cfg, err := policy.ParseConfig(raw)
	if err != nil {
		return nil, parseErr(InputPolicy, err)
	}
	return cfg, nil
}

// ParseEntity decodes and validates a full trust record. An empty payload
// is an error; use trust.NewEntity for first-seen actors.
func ParseEntity(raw []byte) (trust.Entity, error) {
	var e trust.Entity
	if err := decodeOne(raw, &e); err != nil {
		return trust.Entity{}, parseErr(InputEntity, err)
	}
	if err := e.Validate(); err != nil {
		return trust.Entity{}, parseErr(InputEntity, err)
	}
	e.TrustLevel = e.T3.Level()
	return e, nil
}

// ParseActor decodes the subset of a trust record that evaluation reads:
// entity_id, t3 and interaction_count. Other fields are ignored.
func ParseActor(raw []byte) (trust.Entity, error) {
	var a struct {
		EntityID         string        `json:"entity_id"`
		T3               *trust.Tensor `json:"t3"`
		InteractionCount uint64        `json:"interaction_count"`
	}
	if err := decodeOne(raw, &a); err != nil {
		return trust.Entity{}, parseErr(InputEntity, err)
	}
	switch {
	case a.EntityID == "":
		return trust.Entity{}, parseErr(InputEntity, errors.New("entity_id is required"))
	case a.T3 == nil:
		return trust.Entity{}, parseErr(InputEntity, errors.New("t3 is required"))
	}
	if err := a.T3.Validate(); err != nil {
		return trust.Entity{}, parseErr(InputEntity, err)
	}
	return trust.Entity{
		EntityID:         a.EntityID,
		T3:               *a.T3,
		TrustLevel:       a.T3.Level(),
		InteractionCount: a.InteractionCount,
	}, nil
}

// ParseChain decodes and validates audit chain state.
func ParseChain(raw []byte) (audit.Chain, error) {
	var c audit.Chain
	if err := decodeOne(raw, &c); err != nil {
		return audit.Chain{}, parseErr(InputChain, err)
	}
	if c.Entries == nil {
		c.Entries = []string{}
	}
	if err := c.Validate(); err != nil {
		return audit.Chain{}, parseErr(InputChain, err)
	}
	return c, nil
}

// ParseAction decodes and validates the fields of an audit append.
func ParseAction(raw []byte) (audit.Input, error) {
	var in audit.Input
	if err := decodeOne(raw, &in); err != nil {
		return audit.Input{}, parseErr(InputAction, err)
	}
	if err := in.Validate(); err != nil {
		return audit.Input{}, parseErr(InputAction, err)
	}
	return in, nil
}

// EvaluatePolicy decides one tool invocation for the actor in entityJSON.
func EvaluatePolicy(policyJSON []byte, toolName string, target *string, entityJSON []byte) ([]byte, error) {
	cfg, err := ParsePolicy(policyJSON)
	if err != nil {
		return nil, err
	}
	entity, err := ParseActor(entityJSON)
	if err != nil {
		return nil, err
	}
	return marshal("evaluation", policy.Evaluate(cfg, toolName, target, entity.T3))
}

// EvaluateBatch evaluates tools[i] against targets[i] for one actor. A nil
// targets slice means no targets; otherwise the lengths must match.
func EvaluateBatch(policyJSON []byte, tools []string, targets []*string, entityJSON []byte) ([]byte, error) {
	if targets != nil && len(targets) != len(tools) {
		return nil, validationErr("%d tools but %d targets", len(tools), len(targets))
	}
	cfg, err := ParsePolicy(policyJSON)
	if err != nil {
		return nil, err
	}
	entity, err := ParseActor(entityJSON)
	if err != nil {
		return nil, err
	}

	out := make([]policy.Evaluation, len(tools))
	for i, tool := range tools {
		var target *string
		if targets != nil {
			target = targets[i]
		}
		out[i] = policy.Evaluate(cfg, tool, target, entity.T3)
	}
	return marshal("evaluations", out)
}

// UpdateTrust applies one realized outcome to a trust record.
func UpdateTrust(entityJSON []byte, toolName string, success bool, now time.Time) ([]byte, error) {
	entity, err := ParseEntity(entityJSON)
	if err != nil {
		return nil, err
	}
	if toolName == "" {
		return nil, validationErr("tool_name is required")
	}
	next, delta := trust.ApplyOutcome(entity, toolName, success, now)
	return marshal("entity", UpdateTrustResult{Entity: next, Delta: delta})
}

// RecordWitness creates one attestation event.
func RecordWitness(witnessID, witnessedID string, score float64, now time.Time) ([]byte, error) {
	ev := witness.Record(witnessID, witnessedID, score, now)
	if err := ev.Validate(); err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}
	return marshal("witness event", ev)
}

// AppendAudit appends one action to a chain, stamped with now.
func AppendAudit(chainJSON, inputJSON []byte, now time.Time) ([]byte, error) {
	c, err := ParseChain(chainJSON)
	if err != nil {
		return nil, err
	}
	in, err := ParseAction(inputJSON)
	if err != nil {
		return nil, err
	}
	next, rec, hash := audit.Append(c, in, now)
	return marshal("chain", AppendAuditResult{Chain: next, Action: rec, NewHash: hash})
}

// CheckRateLimit runs one sliding-window check. Missing or unreadable state
// starts from empty.
func CheckRateLimit(stateJSON []byte, key string, maxCount int, windowMs int64, now time.Time) ([]byte, error) {
	if key == "" {
		return nil, validationErr("key is required")
	}
	if maxCount <= 0 || windowMs <= 0 {
		return nil, validationErr("max_count and window_ms must be positive, got %d and %d", maxCount, windowMs)
	}
	state := ratelimit.DecodeState(stateJSON)
	next, res := ratelimit.Check(state, key, maxCount, time.Duration(windowMs)*time.Millisecond, now)
	return marshal("state", RateLimitResult{State: next, CheckResult: res})
}

// PolicyHash returns the 16 hex character fingerprint of raw policy bytes.
func PolicyHash(raw []byte) string {
	return policy.Hash(raw)
}

// decodeOne rejects empty payloads and trailing data. Unknown fields are
// ignored.
func decodeOne(raw []byte, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return errors.New("empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}

func marshal(output string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &SerializationError{Output: output, Err: err}
	}
	return data, nil
}
