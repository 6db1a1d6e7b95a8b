package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/gate"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/ratelimit"
	"github.com/ppiankov/trustgate/internal/store"
	"github.com/ppiankov/trustgate/internal/trust"
	"github.com/ppiankov/trustgate/internal/witness"
)

// --- Input/Output types ---

// EvaluateInput defines parameters for the trustgate_evaluate tool.
type EvaluateInput struct {
	ToolName   string  `json:"tool_name" jsonschema:"tool being invoked (Read, Write, Bash, WebFetch, Task, ...)"`
	Target     *string `json:"target,omitempty" jsonschema:"path, command or URL the tool acts on"`
	EntityID   string  `json:"entity_id" jsonschema:"actor whose trust is consulted"`
	EntityType string  `json:"entity_type,omitempty" jsonschema:"actor kind (agent/tool/session/policy/user), default agent"`
}

// EvaluateOutput contains the policy decision.
type EvaluateOutput struct {
	Decision    string   `json:"decision"`
	MatchedRule string   `json:"matched_rule,omitempty"`
	Enforced    bool     `json:"enforced"`
	Reason      string   `json:"reason"`
	TrustScore  float64  `json:"trust_score"`
	Category    string   `json:"category"`
	Constraints []string `json:"constraints"`
	PolicyHash  string   `json:"policy_hash"`
}

// DecideInput defines parameters for the trustgate_decide tool.
type DecideInput struct {
	SessionID  string  `json:"session_id,omitempty" jsonschema:"audit session, default this server's session"`
	ToolName   string  `json:"tool_name" jsonschema:"tool being invoked"`
	Target     *string `json:"target,omitempty" jsonschema:"path, command or URL the tool acts on"`
	EntityID   string  `json:"entity_id" jsonschema:"actor whose trust is consulted"`
	EntityType string  `json:"entity_type,omitempty" jsonschema:"actor kind, default agent"`
	Outcome    string  `json:"outcome,omitempty" jsonschema:"outcome to record (success/error/blocked/enforced), default derived from the decision"`

	Parameters map[string]any `json:"parameters,omitempty" jsonschema:"tool parameters, recorded by hash"`
}

// DecideOutput contains the decision and where it landed in the chain.
type DecideOutput struct {
	EvaluateOutput
	SessionID      string `json:"session_id"`
	Outcome        string `json:"outcome"`
	RateLimited    bool   `json:"rate_limited,omitempty"`
	SequenceNumber uint64 `json:"sequence_number"`
	ActionID       string `json:"action_id"`
	ParametersHash string `json:"parameters_hash,omitempty"`
	ContentHash    string `json:"content_hash"`
}

// TrustInput defines parameters for the trustgate_trust tool.
type TrustInput struct {
	EntityID   string `json:"entity_id" jsonschema:"entity to show or update"`
	EntityType string `json:"entity_type,omitempty" jsonschema:"entity kind, default agent"`
	ToolName   string `json:"tool_name,omitempty" jsonschema:"tool whose outcome is recorded"`
	Success    *bool  `json:"success,omitempty" jsonschema:"outcome to record; omit to only show"`
}

// TrustOutput is an entity's trust record, plus the change when updated.
type TrustOutput struct {
	EntityID         string  `json:"entity_id"`
	EntityType       string  `json:"entity_type"`
	Talent           float64 `json:"talent"`
	Training         float64 `json:"training"`
	Temperament      float64 `json:"temperament"`
	Composite        float64 `json:"composite"`
	TrustLevel       string  `json:"trust_level"`
	InteractionCount uint64  `json:"interaction_count"`
	SuccessCount     uint64  `json:"success_count"`
	FailureCount     uint64  `json:"failure_count"`
	Known            bool    `json:"known"`
	PreviousLevel    string  `json:"previous_level,omitempty"`
	LevelChanged     bool    `json:"level_changed,omitempty"`
}

// WitnessInput defines parameters for the trustgate_witness tool.
type WitnessInput struct {
	WitnessID   string  `json:"witness_id" jsonschema:"entity making the observation"`
	WitnessedID string  `json:"witnessed_id" jsonschema:"entity being observed"`
	TrustScore  float64 `json:"trust_score" jsonschema:"observed trust in [0,1]"`
}

// WitnessOutput summarizes the observed entity's witnessing chain.
type WitnessOutput struct {
	EntityID     string  `json:"entity_id"`
	DirectTrust  float64 `json:"direct_trust"`
	WitnessCount int     `json:"witness_count"`
	Aggregate    float64 `json:"aggregate"`
	Transitive   float64 `json:"transitive"`
}

// RateLimitInput defines parameters for the trustgate_rate_limit tool.
type RateLimitInput struct {
	Key      string `json:"key" jsonschema:"limiter key"`
	MaxCount int    `json:"max_count" jsonschema:"events allowed per window"`
	WindowMs int64  `json:"window_ms" jsonschema:"window length in milliseconds"`
}

// RateLimitOutput is the limiter's answer.
type RateLimitOutput struct {
	Allowed      bool   `json:"allowed"`
	CurrentCount int    `json:"current_count"`
	ResetInMs    int64  `json:"reset_in_ms"`
	Reason       string `json:"reason,omitempty"`
}

// AuditVerifyInput defines parameters for the trustgate_audit_verify tool.
type AuditVerifyInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"session to verify, default this server's session"`
}

// AuditVerifyOutput is the verification result.
type AuditVerifyOutput struct {
	SessionID  string `json:"session_id"`
	Valid      bool   `json:"valid"`
	Entries    int    `json:"entries"`
	Error      string `json:"error,omitempty"`
	ErrorEntry int    `json:"error_entry,omitempty"`
}

// --- Handlers ---

func (s *Server) handleEvaluate(ctx context.Context, req *mcpsdk.CallToolRequest, input EvaluateInput) (*mcpsdk.CallToolResult, EvaluateOutput, error) {
	if input.ToolName == "" || input.EntityID == "" {
		return nil, EvaluateOutput{}, errors.New("tool_name and entity_id are required")
	}
	kind, err := entityKind(input.EntityType)
	if err != nil {
		return nil, EvaluateOutput{}, err
	}
	entity, err := s.store.EntityOrNeutral(ctx, input.EntityID, kind, s.now())
	if err != nil {
		return nil, EvaluateOutput{}, err
	}
	ev := policy.Evaluate(s.policyCfg, input.ToolName, input.Target, entity.T3)
	return nil, s.evaluateOutput(ev), nil
}

func (s *Server) handleDecide(ctx context.Context, req *mcpsdk.CallToolRequest, input DecideInput) (*mcpsdk.CallToolResult, DecideOutput, error) {
	if input.ToolName == "" || input.EntityID == "" {
		return nil, DecideOutput{}, errors.New("tool_name and entity_id are required")
	}
	kind, err := entityKind(input.EntityType)
	if err != nil {
		return nil, DecideOutput{}, err
	}
	outcome := model.Outcome(input.Outcome)
	if outcome != "" && !outcome.Valid() {
		return nil, DecideOutput{}, fmt.Errorf("unknown outcome %q", input.Outcome)
	}
	sessionID := input.SessionID
	if sessionID == "" {
		sessionID = s.sessionID
	}
	var params json.RawMessage
	if input.Parameters != nil {
		if params, err = json.Marshal(input.Parameters); err != nil {
			return nil, DecideOutput{}, fmt.Errorf("encode parameters: %w", err)
		}
	}

	res, err := s.store.Decide(ctx, store.DecideRequest{
		SessionID:  sessionID,
		PolicyID:   s.policyCfg.Name,
		PolicyHash: s.policyHash,
		Policy:     s.policyCfg,
		ToolName:   input.ToolName,
		Target:     input.Target,
		Parameters: params,
		EntityID:   input.EntityID,
		EntityKind: kind,
		Outcome:    outcome,
	}, s.now())
	if err != nil {
		return nil, DecideOutput{}, err
	}

	out := DecideOutput{
		EvaluateOutput: s.evaluateOutput(res.Evaluation),
		SessionID:      sessionID,
		Outcome:        string(res.Outcome),
		RateLimited:    res.RateLimit != nil && !res.RateLimit.Allowed,
		SequenceNumber: res.Chain.SequenceNumber,
		ActionID:       res.Record.ActionID,
		ParametersHash: res.Record.Request.ParametersHash,
		ContentHash:    res.Hash,
	}
	if res.Evaluation.Decision == model.Deny && res.Evaluation.Enforced {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleTrust(ctx context.Context, req *mcpsdk.CallToolRequest, input TrustInput) (*mcpsdk.CallToolResult, TrustOutput, error) {
	if input.EntityID == "" {
		return nil, TrustOutput{}, errors.New("entity_id is required")
	}
	kind, err := entityKind(input.EntityType)
	if err != nil {
		return nil, TrustOutput{}, err
	}

	if input.Success == nil {
		e, err := s.store.Entity(ctx, input.EntityID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, trustOutput(trust.NewEntity(input.EntityID, kind, s.now()), false), nil
		case err != nil:
			return nil, TrustOutput{}, err
		}
		return nil, trustOutput(e, true), nil
	}

	if input.ToolName == "" {
		return nil, TrustOutput{}, errors.New("tool_name is required to record an outcome")
	}
	e, delta, err := s.store.UpdateTrust(ctx, input.EntityID, kind, input.ToolName, *input.Success, s.now())
	if err != nil {
		return nil, TrustOutput{}, err
	}
	out := trustOutput(e, true)
	out.PreviousLevel = string(delta.PreviousLevel)
	out.LevelChanged = delta.Changed
	return nil, out, nil
}

func (s *Server) handleWitness(ctx context.Context, req *mcpsdk.CallToolRequest, input WitnessInput) (*mcpsdk.CallToolResult, WitnessOutput, error) {
	ev := witness.Record(input.WitnessID, input.WitnessedID, input.TrustScore, s.now())
	if err := ev.Validate(); err != nil {
		return nil, WitnessOutput{}, err
	}
	if err := s.store.RecordWitness(ctx, ev); err != nil {
		return nil, WitnessOutput{}, err
	}
	c, err := s.store.WitnessChain(ctx, input.WitnessedID, s.now())
	if err != nil {
		return nil, WitnessOutput{}, err
	}
	return nil, WitnessOutput{
		EntityID:     c.EntityID,
		DirectTrust:  c.DirectTrust,
		WitnessCount: len(c.WitnessedBy),
		Aggregate:    witness.Aggregate(c),
		Transitive:   witness.Transitive(c),
	}, nil
}

func (s *Server) handleRateLimit(ctx context.Context, req *mcpsdk.CallToolRequest, input RateLimitInput) (*mcpsdk.CallToolResult, RateLimitOutput, error) {
	spec := &ratelimit.Spec{MaxCount: input.MaxCount, WindowMs: input.WindowMs}
	if input.Key == "" || !spec.HasLimit() {
		return nil, RateLimitOutput{}, errors.New("key, positive max_count and positive window_ms are required")
	}
	res, err := s.store.CheckRateLimit(ctx, input.Key, spec.MaxCount, spec.Window(), s.now())
	if err != nil {
		return nil, RateLimitOutput{}, err
	}
	return nil, RateLimitOutput{
		Allowed:      res.Allowed,
		CurrentCount: res.CurrentCount,
		ResetInMs:    res.ResetInMs,
		Reason:       res.Reason(input.Key, spec.MaxCount, spec.Window()),
	}, nil
}

func (s *Server) handleAuditVerify(ctx context.Context, req *mcpsdk.CallToolRequest, input AuditVerifyInput) (*mcpsdk.CallToolResult, AuditVerifyOutput, error) {
	sessionID := input.SessionID
	if sessionID == "" {
		sessionID = s.sessionID
	}
	res, err := s.store.VerifySession(ctx, sessionID)
	if err != nil {
		return nil, AuditVerifyOutput{}, err
	}
	out := verifyOutput(sessionID, res)
	if !res.Valid {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

// --- Helpers ---

func (s *Server) evaluateOutput(ev policy.Evaluation) EvaluateOutput {
	out := EvaluateOutput{
		Decision:    string(ev.Decision),
		Enforced:    ev.Enforced,
		Reason:      ev.Reason,
		TrustScore:  ev.TrustScore,
		Category:    string(ev.Category),
		Constraints: ev.Constraints,
		PolicyHash:  s.policyHash,
	}
	if ev.MatchedRule != nil {
		out.MatchedRule = *ev.MatchedRule
	}
	return out
}

func trustOutput(e trust.Entity, known bool) TrustOutput {
	return TrustOutput{
		EntityID:         e.EntityID,
		EntityType:       string(e.EntityType),
		Talent:           e.T3.Talent,
		Training:         e.T3.Training,
		Temperament:      e.T3.Temperament,
		Composite:        e.Composite(),
		TrustLevel:       string(e.TrustLevel),
		InteractionCount: e.InteractionCount,
		SuccessCount:     e.SuccessCount,
		FailureCount:     e.FailureCount,
		Known:            known,
	}
}

func verifyOutput(sessionID string, res audit.VerifyResult) AuditVerifyOutput {
	return AuditVerifyOutput{
		SessionID:  sessionID,
		Valid:      res.Valid,
		Entries:    res.Entries,
		Error:      res.Error,
		ErrorEntry: res.ErrorEntry,
	}
}

func entityKind(s string) (trust.EntityKind, error) {
	if s == "" {
		return trust.KindAgent, nil
	}
	k := trust.EntityKind(s)
	if !k.Valid() {
		return "", &gate.ValidationError{Msg: "unknown entity_type " + s}
	}
	return k, nil
}
