package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/trustgate/internal/model"
)

// TimestampFormat is the layout used in audit timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in TimestampFormat (UTC).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// FailureMessage is the result error recorded for an errored outcome when
// the caller gives no message of its own.
const FailureMessage = "tool call failed"

// Input is the substantive content of one action. It is what the content
// hash covers; it has no chain-linkage field and no timestamp.
// Field order is the hash encoding order.
type Input struct {
	PolicyID       string         `json:"policy_id"`
	PolicyHash     string         `json:"policy_hash"`
	MatchedRule    *string        `json:"matched_rule"`
	Decision       model.Decision `json:"decision"`
	SessionID      string         `json:"session_id"`
	AgentID        *string        `json:"agent_id"`
	TrustScore     float64        `json:"trust_score"`
	ToolName       string         `json:"tool_name"`
	ParametersHash string         `json:"parameters_hash"`
	Target         *string        `json:"target"`
	Success        bool           `json:"success"`
	Enforced       bool           `json:"enforced"`
	Blocked        bool           `json:"blocked"`
	Error          *string        `json:"error"`
}

// Validate checks an input supplied from outside the process.
func (in Input) Validate() error {
	if in.ToolName == "" {
		return fmt.Errorf("tool_name is required")
	}
	if !in.Decision.Valid() {
		return fmt.Errorf("unknown decision %q", in.Decision)
	}
	if v := in.TrustScore; v != v || v < 0 || v > 1 {
		return fmt.Errorf("trust_score %v outside [0,1]", v)
	}
	return nil
}

// SetOutcome fills the result flags from an outcome. An errored outcome
// carries FailureMessage unless Error is already set.
func (in *Input) SetOutcome(o model.Outcome) {
	in.Success = o == model.OutcomeSuccess
	in.Blocked = o == model.OutcomeBlocked
	if o != model.OutcomeError {
		in.Error = nil
	} else if in.Error == nil {
		msg := FailureMessage
		in.Error = &msg
	}
}

// Rules names the policy and rule that governed an action.
// MatchedRule is nil when the policy default applied.
type Rules struct {
	PolicyID    string         `json:"policy_id"`
	PolicyHash  string         `json:"policy_hash"`
	MatchedRule *string        `json:"matched_rule"`
	Decision    model.Decision `json:"decision"`
}

// Role identifies who acted and the trust they held at the time.
type Role struct {
	SessionID  string  `json:"session_id"`
	AgentID    *string `json:"agent_id"`
	TrustScore float64 `json:"trust_score"`
}

// Request is the tool invocation as requested.
type Request struct {
	ToolName       string             `json:"tool_name"`
	Category       model.ToolCategory `json:"category"`
	ParametersHash string             `json:"parameters_hash"`
}

// Reference links a record to its predecessor.
// PreviousHash is nil for the first record of a chain.
type Reference struct {
	PreviousHash   *string `json:"previous_hash"`
	SequenceNumber uint64  `json:"sequence_number"`
}

// Resource is what the action touched.
type Resource struct {
	Target     *string `json:"target"`
	TargetType string  `json:"target_type"`
}

// Result is the realized outcome.
type Result struct {
	Success  bool    `json:"success"`
	Enforced bool    `json:"enforced"`
	Blocked  bool    `json:"blocked"`
	Error    *string `json:"error"`
}

// Outcome folds the result flags back into one outcome. An error wins
// over a block, and an action that neither succeeded nor was blocked is
// held (enforced).
func (r Result) Outcome() model.Outcome {
	switch {
	case r.Error != nil:
		return model.OutcomeError
	case r.Blocked:
		return model.OutcomeBlocked
	case r.Success:
		return model.OutcomeSuccess
	default:
		return model.OutcomeEnforced
	}
}

// Record is one entry of the hash chain.
type Record struct {
	ActionID    string    `json:"action_id"`
	Rules       Rules     `json:"rules"`
	Role        Role      `json:"role"`
	Request     Request   `json:"request"`
	Reference   Reference `json:"reference"`
	Resource    Resource  `json:"resource"`
	Result      Result    `json:"result"`
	Timestamp   string    `json:"timestamp"`
	ContentHash string    `json:"content_hash"`
}

// Input projects a record back onto the fields its hash was computed from.
func (r Record) Input() Input {
	return Input{
		PolicyID:       r.Rules.PolicyID,
		PolicyHash:     r.Rules.PolicyHash,
		MatchedRule:    r.Rules.MatchedRule,
		Decision:       r.Rules.Decision,
		SessionID:      r.Role.SessionID,
		AgentID:        r.Role.AgentID,
		TrustScore:     r.Role.TrustScore,
		ToolName:       r.Request.ToolName,
		ParametersHash: r.Request.ParametersHash,
		Target:         r.Resource.Target,
		Success:        r.Result.Success,
		Enforced:       r.Result.Enforced,
		Blocked:        r.Result.Blocked,
		Error:          r.Result.Error,
	}
}

// Actor is the agent id when one was recorded, else the session id.
func (r Record) Actor() string {
	if r.Role.AgentID != nil && *r.Role.AgentID != "" {
		return *r.Role.AgentID
	}
	return r.Role.SessionID
}

// SessionID extracts the chain session from an action id of the form
// "r6:<session>:<sequence>". Returns "" if the id is not in that form.
func (r Record) SessionID() string {
	rest, ok := strings.CutPrefix(r.ActionID, actionIDPrefix)
	if !ok {
		return ""
	}
	i := strings.LastIndex(rest, ":")
	if i < 0 {
		return ""
	}
	return rest[:i]
}
