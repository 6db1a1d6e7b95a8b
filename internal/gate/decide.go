package gate

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/ratelimit"
	"github.com/ppiankov/trustgate/internal/trust"
)

// DecideParams is the decoded input of one decide pipeline run.
type DecideParams struct {
	Policy   *policy.Config
	ToolName string
	Target   *string
	Entity   trust.Entity
	Chain    audit.Chain
	Limits   ratelimit.State

	// PolicyHash is the fingerprint of the policy text, recorded with the
	// action. Parameters are the raw tool arguments; only their hash is kept.
	PolicyHash string
	Parameters json.RawMessage

	// Outcome overrides the outcome derived from the decision.
	Outcome model.Outcome

	// Approved reports that an operator granted this action. It turns a
	// ask_user decision into one that proceeds.
	Approved bool
}

// DecideResult is everything one decision produced. The caller stores
// Chain and RateLimitState back; the entity is not touched until the
// realized outcome is known.
type DecideResult struct {
	Evaluation     policy.Evaluation      `json:"evaluation"`
	RateLimit      *ratelimit.CheckResult `json:"rate_limit,omitempty"`
	Outcome        model.Outcome          `json:"outcome"`
	Chain          audit.Chain            `json:"chain"`
	Record         audit.Record           `json:"action"`
	Hash           string                 `json:"new_hash"`
	RateLimitState ratelimit.State        `json:"rate_limit_state"`
}

// DecideRequest is the JSON form of DecideParams. Policy may be JSON or
// YAML text; the state fields are the same payloads the single operations
// take.
type DecideRequest struct {
	Policy         json.RawMessage `json:"policy"`
	ToolName       string          `json:"tool_name"`
	Target         *string         `json:"target,omitempty"`
	Parameters     json.RawMessage `json:"parameters,omitempty"`
	Entity         json.RawMessage `json:"entity"`
	Chain          json.RawMessage `json:"chain"`
	RateLimitState json.RawMessage `json:"rate_limit_state,omitempty"`
	Outcome        model.Outcome   `json:"outcome,omitempty"`
	Approved       bool            `json:"approved,omitempty"`
}

// ApprovalGranted is the constraint tag added to an ask_user
// evaluation that carries an operator's approval.
const ApprovalGranted = "approval:granted"

// RateLimitKey is the limiter key of a rule applied to one actor.
func RateLimitKey(ruleID, entityID string) string {
	return ruleID + "/" + entityID
}

// OutcomeFor derives the outcome recorded when the caller does not
// supply one: an enforced deny is blocked, an approval request without a
// granted approval is held (enforced), anything else proceeds.
func OutcomeFor(ev policy.Evaluation) model.Outcome {
	switch {
	case ev.Decision == model.Deny && ev.Enforced:
		return model.OutcomeBlocked
	case ev.Decision == model.AskUser && !slices.Contains(ev.Constraints, ApprovalGranted):
		return model.OutcomeEnforced
	default:
		return model.OutcomeSuccess
	}
}

// DecideWith evaluates, applies the matched rule's rate limit, and appends
// the result to the chain. Inputs are not modified.
func DecideWith(p DecideParams, now time.Time) (DecideResult, error) {
	if p.ToolName == "" {
		return DecideResult{}, validationErr("tool_name is required")
	}
	if p.Outcome != "" && !p.Outcome.Valid() {
		return DecideResult{}, validationErr("unknown outcome %q", p.Outcome)
	}

	paramsHash, err := audit.ParametersHash(p.Parameters)
	if err != nil {
		return DecideResult{}, &ValidationError{Msg: err.Error()}
	}

	ev := policy.Evaluate(p.Policy, p.ToolName, p.Target, p.Entity.T3)
	limits := p.Limits
	if limits == nil {
		limits = ratelimit.State{}
	}

	var rl *ratelimit.CheckResult
	if rule := ev.Rule(); rule != nil && ev.Decision != model.Deny && rule.Match.RateLimit.HasLimit() {
		spec := rule.Match.RateLimit
		key := RateLimitKey(rule.ID, p.Entity.EntityID)
		var res ratelimit.CheckResult
		limits, res = ratelimit.CheckSpec(limits, key, spec, now)
		rl = &res
		if !res.Allowed {
			ev = rateLimited(ev, res.Reason(key, spec.MaxCount, spec.Window()))
		}
	}

	if p.Approved && ev.Decision == model.AskUser {
		ev.Constraints = append(slices.Clone(ev.Constraints), ApprovalGranted)
	}

	outcome := p.Outcome
	if outcome == "" {
		outcome = OutcomeFor(ev)
	}

	policyID := p.Chain.PolicyID
	if policyID == "" && p.Policy != nil {
		policyID = p.Policy.Name
	}
	agent := p.Entity.EntityID
	in := audit.Input{
		PolicyID:       policyID,
		PolicyHash:     p.PolicyHash,
		MatchedRule:    ev.MatchedRule,
		Decision:       ev.Decision,
		SessionID:      p.Chain.SessionID,
		AgentID:        &agent,
		TrustScore:     ev.TrustScore,
		ToolName:       p.ToolName,
		ParametersHash: paramsHash,
		Target:         p.Target,
		Enforced:       ev.Enforced,
	}
	in.SetOutcome(outcome)
	chain, rec, hash := audit.Append(p.Chain, in, now)

	return DecideResult{
		Evaluation:     ev,
		RateLimit:      rl,
		Outcome:        outcome,
		Chain:          chain,
		Record:         rec,
		Hash:           hash,
		RateLimitState: limits,
	}, nil
}

// rateLimited turns an evaluation into an enforced deny.
func rateLimited(ev policy.Evaluation, reason string) policy.Evaluation {
	ev.Decision = model.Deny
	ev.Enforced = true
	ev.Reason = reason
	tags := make([]string, 0, len(ev.Constraints)+1)
	for _, c := range ev.Constraints {
		if strings.HasPrefix(c, "decision:") {
			c = policy.DecisionTag(model.Deny)
		}
		tags = append(tags, c)
	}
	ev.Constraints = append(tags, "ratelimit:exceeded")
	return ev
}

// ParseDecideRequest decodes a decide payload into params.
func ParseDecideRequest(raw []byte) (DecideParams, error) {
	var req DecideRequest
	if err := decodeOne(raw, &req); err != nil {
		return DecideParams{}, parseErr(InputAction, err)
	}
	if len(req.Policy) == 0 {
		return DecideParams{}, parseErr(InputPolicy, errors.New("policy is required"))
	}
	text := policyText(req.Policy)
	cfg, err := ParsePolicy(text)
	if err != nil {
		return DecideParams{}, err
	}
	entity, err := ParseActor(req.Entity)
	if err != nil {
		return DecideParams{}, err
	}
	chain, err := ParseChain(req.Chain)
	if err != nil {
		return DecideParams{}, err
	}
	return DecideParams{
		Policy:     cfg,
		ToolName:   req.ToolName,
		Target:     req.Target,
		Entity:     entity,
		Chain:      chain,
		Limits:     ratelimit.DecodeState(req.RateLimitState),
		PolicyHash: policy.Hash(text),
		Parameters: req.Parameters,
		Outcome:    req.Outcome,
		Approved:   req.Approved,
	}, nil
}

// Decide is the JSON form of DecideWith.
func Decide(reqJSON []byte, now time.Time) ([]byte, error) {
	p, err := ParseDecideRequest(reqJSON)
	if err != nil {
		return nil, err
	}
	res, err := DecideWith(p, now)
	if err != nil {
		return nil, err
	}
	return marshal("decision", res)
}

// policyText unwraps a policy given as a JSON string (YAML text) and
// passes an embedded JSON object through unchanged.
func policyText(raw json.RawMessage) []byte {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return []byte(s)
	}
	return raw
}
