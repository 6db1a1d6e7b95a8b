package server

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/gate"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/ratelimit"
	"github.com/ppiankov/trustgate/internal/store"
	"github.com/ppiankov/trustgate/internal/trust"
	"github.com/ppiankov/trustgate/internal/witness"
)

// EvaluateRequest asks for a decision. The actor is either given inline as
// Entity or looked up by EntityID (neutral when unknown).
type EvaluateRequest struct {
	ToolName   string           `json:"tool_name"`
	Target     *string          `json:"target,omitempty"`
	EntityID   string           `json:"entity_id,omitempty"`
	EntityType trust.EntityKind `json:"entity_type,omitempty"`
	Entity     json.RawMessage  `json:"entity,omitempty"`
}

// EvaluateResponse is the evaluation plus the fingerprint of the policy
// that produced it.
type EvaluateResponse struct {
	policy.Evaluation
	PolicyHash string `json:"policy_hash"`
}

type UpdateTrustRequest struct {
	EntityID   string           `json:"entity_id"`
	EntityType trust.EntityKind `json:"entity_type,omitempty"`
	ToolName   string           `json:"tool_name"`
	Success    bool             `json:"success"`
}

type RecordWitnessRequest struct {
	WitnessID   string  `json:"witness_id"`
	WitnessedID string  `json:"witnessed_id"`
	TrustScore  float64 `json:"trust_score"`
}

type AppendAuditRequest struct {
	SessionID string          `json:"session_id"`
	PolicyID  string          `json:"policy_id,omitempty"`
	Input     json.RawMessage `json:"input"`
}

type CheckRateLimitRequest struct {
	Key      string `json:"key"`
	MaxCount int    `json:"max_count"`
	WindowMs int64  `json:"window_ms"`
}

// PolicyHashRequest hashes Policy when given, otherwise reports the
// loaded policy.
type PolicyHashRequest struct {
	Policy *string `json:"policy,omitempty"`
}

type PolicyHashResponse struct {
	Hash    string `json:"hash"`
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// DecideRequest runs the full pipeline against stored state. An empty
// SessionID starts a new session.
type DecideRequest struct {
	SessionID  string           `json:"session_id,omitempty"`
	ToolName   string           `json:"tool_name"`
	Target     *string          `json:"target,omitempty"`
	EntityID   string           `json:"entity_id"`
	EntityType trust.EntityKind `json:"entity_type,omitempty"`
	Parameters json.RawMessage  `json:"parameters,omitempty"`
	Outcome    model.Outcome    `json:"outcome,omitempty"`
}

type DecideResponse struct {
	SessionID  string `json:"session_id"`
	PolicyHash string `json:"policy_hash"`
	gate.DecideResult
}

type TransitiveTrustRequest struct {
	EntityID string `json:"entity_id"`
}

type TransitiveTrustResponse struct {
	Chain      witness.Chain `json:"chain"`
	Aggregate  float64       `json:"aggregate"`
	Transitive float64       `json:"transitive"`
}

// Evaluate implements the Evaluate RPC.
func (s *Server) Evaluate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req EvaluateRequest
	if err := decode(in, &req); err != nil {
		return nil, rpcError(err)
	}
	if req.ToolName == "" {
		return nil, rpcError(&gate.ValidationError{Msg: "tool_name is required"})
	}

	var entity trust.Entity
	var err error
	switch {
	case len(req.Entity) > 0:
		entity, err = gate.ParseActor(req.Entity)
	case req.EntityID != "":
		entity, err = s.store.EntityOrNeutral(ctx, req.EntityID, kindOrAgent(req.EntityType), s.now())
	default:
		err = &gate.ValidationError{Msg: "entity or entity_id is required"}
	}
	if err != nil {
		return nil, rpcError(err)
	}

	cfg, hash := s.snapshot()
	return reply(EvaluateResponse{
		Evaluation: policy.Evaluate(cfg, req.ToolName, req.Target, entity.T3),
		PolicyHash: hash,
	})
}

// UpdateTrust implements the UpdateTrust RPC.
func (s *Server) UpdateTrust(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req UpdateTrustRequest
	if err := decode(in, &req); err != nil {
		return nil, rpcError(err)
	}
	if req.EntityID == "" || req.ToolName == "" {
		return nil, rpcError(&gate.ValidationError{Msg: "entity_id and tool_name are required"})
	}
	kind := kindOrAgent(req.EntityType)
	if !kind.Valid() {
		return nil, rpcError(&gate.ValidationError{Msg: "unknown entity_type " + string(kind)})
	}
	e, delta, err := s.store.UpdateTrust(ctx, req.EntityID, kind, req.ToolName, req.Success, s.now())
	if err != nil {
		return nil, rpcError(err)
	}
	return reply(gate.UpdateTrustResult{Entity: e, Delta: delta})
}

// RecordWitness implements the RecordWitness RPC.
func (s *Server) RecordWitness(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req RecordWitnessRequest
	if err := decode(in, &req); err != nil {
		return nil, rpcError(err)
	}
	ev := witness.Record(req.WitnessID, req.WitnessedID, req.TrustScore, s.now())
	if err := ev.Validate(); err != nil {
		return nil, rpcError(&gate.ValidationError{Msg: err.Error()})
	}
	if err := s.store.RecordWitness(ctx, ev); err != nil {
		return nil, rpcError(err)
	}
	return reply(ev)
}

// AppendAudit implements the AppendAudit RPC.
func (s *Server) AppendAudit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req AppendAuditRequest
	if err := decode(in, &req); err != nil {
		return nil, rpcError(err)
	}
	if req.SessionID == "" {
		return nil, rpcError(&gate.ValidationError{Msg: "session_id is required"})
	}
	input, err := gate.ParseAction(req.Input)
	if err != nil {
		return nil, rpcError(err)
	}
	cfg, loadedHash := s.snapshot()
	policyID := req.PolicyID
	if policyID == "" {
		policyID = cfg.Name
	}
	if input.PolicyID == "" {
		input.PolicyID = policyID
	}
	if input.PolicyHash == "" {
		input.PolicyHash = loadedHash
	}
	c, rec, hash, err := s.store.AppendAudit(ctx, req.SessionID, policyID, input, s.now())
	if err != nil {
		return nil, rpcError(err)
	}
	return reply(gate.AppendAuditResult{Chain: c, Action: rec, NewHash: hash})
}

// CheckRateLimit implements the CheckRateLimit RPC.
func (s *Server) CheckRateLimit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req CheckRateLimitRequest
	if err := decode(in, &req); err != nil {
		return nil, rpcError(err)
	}
	spec := &ratelimit.Spec{MaxCount: req.MaxCount, WindowMs: req.WindowMs}
	if req.Key == "" || !spec.HasLimit() {
		return nil, rpcError(&gate.ValidationError{Msg: "key, positive max_count and positive window_ms are required"})
	}
	res, err := s.store.CheckRateLimit(ctx, req.Key, spec.MaxCount, spec.Window(), s.now())
	if err != nil {
		return nil, rpcError(err)
	}
	return reply(res)
}

// PolicyHash implements the PolicyHash RPC.
func (s *Server) PolicyHash(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req PolicyHashRequest
	if err := decode(in, &req); err != nil {
		return nil, rpcError(err)
	}
	if req.Policy != nil {
		return reply(PolicyHashResponse{Hash: gate.PolicyHash([]byte(*req.Policy))})
	}
	cfg, hash := s.snapshot()
	return reply(PolicyHashResponse{Hash: hash, Name: cfg.Name, Version: cfg.Version})
}

// Decide implements the Decide RPC.
func (s *Server) Decide(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req DecideRequest
	if err := decode(in, &req); err != nil {
		return nil, rpcError(err)
	}
	if req.ToolName == "" || req.EntityID == "" {
		return nil, rpcError(&gate.ValidationError{Msg: "tool_name and entity_id are required"})
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	cfg, hash := s.snapshot()
	res, err := s.store.Decide(ctx, store.DecideRequest{
		SessionID:  sessionID,
		PolicyID:   cfg.Name,
		Policy:     cfg,
		ToolName:   req.ToolName,
		Target:     req.Target,
		EntityID:   req.EntityID,
		EntityKind: kindOrAgent(req.EntityType),
		Outcome:    req.Outcome,
		PolicyHash: hash,
		Parameters: req.Parameters,
	}, s.now())
	if err != nil {
		return nil, rpcError(err)
	}
	return reply(DecideResponse{SessionID: sessionID, PolicyHash: hash, DecideResult: res})
}

// TransitiveTrust implements the TransitiveTrust RPC.
func (s *Server) TransitiveTrust(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req TransitiveTrustRequest
	if err := decode(in, &req); err != nil {
		return nil, rpcError(err)
	}
	if req.EntityID == "" {
		return nil, rpcError(&gate.ValidationError{Msg: "entity_id is required"})
	}
	c, err := s.store.WitnessChain(ctx, req.EntityID, s.now())
	if err != nil {
		return nil, rpcError(err)
	}
	return reply(TransitiveTrustResponse{
		Chain:      c,
		Aggregate:  witness.Aggregate(c),
		Transitive: witness.Transitive(c),
	})
}

// recorded copies a committed record to the JSONL audit log and hands it
// to the alert webhooks. The store stays authoritative; a failed mirror
// is logged.
func (s *Server) recorded(rec audit.Record) {
	if s.auditLog != nil {
		if err := s.auditLog.Write(rec); err != nil {
			s.log.Warn("audit log mirror failed", "action_id", rec.ActionID, "error", err)
		}
	}
	s.mu.RLock()
	alerts := s.alerts
	s.mu.RUnlock()
	alerts.DispatchRecord(rec)
}

func kindOrAgent(k trust.EntityKind) trust.EntityKind {
	if k == "" {
		return trust.KindAgent
	}
	return k
}

func decode(in *structpb.Struct, v any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	if err := fromStruct(in, v); err != nil {
		return &gate.ParseError{Input: gate.InputAction, Err: err}
	}
	return nil
}

func reply(v any) (*structpb.Struct, error) {
	out, err := toStruct(v)
	if err != nil {
		return nil, rpcError(&gate.SerializationError{Output: "response", Err: err})
	}
	return out, nil
}
