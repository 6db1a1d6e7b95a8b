package trustgate

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/ppiankov/trustgate/internal/gate"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/policy"
)

// Decision is the policy enforcement outcome.
type Decision string

const (
	Allow   Decision = Decision(model.Allow)
	Deny    Decision = Decision(model.Deny)
	LogOnly Decision = Decision(model.LogOnly)
	AskUser Decision = Decision(model.AskUser)

	// Warn and RequireApproval are older names for LogOnly and AskUser.
	Warn            = LogOnly
	RequireApproval = AskUser
)

// Action describes what a tool intends to do.
type Action struct {
	Tool   string // tool name: "Read", "Bash", "WebFetch", ...
	Target string // path, command or URL; empty when the tool has none

	// Parameters are the tool's arguments. Only their hash is recorded.
	Parameters any
}

func (a Action) parameters() (json.RawMessage, error) {
	if a.Parameters == nil {
		return nil, nil
	}
	raw, err := json.Marshal(a.Parameters)
	if err != nil {
		return nil, fmt.Errorf("trustgate: encode parameters: %w", err)
	}
	return raw, nil
}

func (a Action) target() *string {
	if a.Target == "" {
		return nil
	}
	t := a.Target
	return &t
}

// Result is a policy decision.
type Result struct {
	Decision    Decision
	Enforced    bool
	Reason      string
	RuleID      string
	TrustScore  float64
	Constraints []string

	// Set by Wrap once the decision is recorded.
	ActionID    string
	Hash        string
	ApprovalKey string
}

// Allowed reports whether the decision lets the action run: anything but
// an enforced deny or an approval request nobody has granted yet.
func (r Result) Allowed() bool {
	switch r.Decision {
	case Deny:
		return !r.Enforced
	case AskUser:
		return slices.Contains(r.Constraints, gate.ApprovalGranted)
	default:
		return true
	}
}

func toResult(ev policy.Evaluation) Result {
	r := Result{
		Decision:    Decision(ev.Decision),
		Enforced:    ev.Enforced,
		Reason:      ev.Reason,
		TrustScore:  ev.TrustScore,
		Constraints: ev.Constraints,
	}
	if ev.MatchedRule != nil {
		r.RuleID = *ev.MatchedRule
	}
	return r
}

// BlockedError is returned when policy denies an action or holds it for
// approval.
type BlockedError struct {
	Action Action
	Result Result
}

func (e *BlockedError) Error() string {
	if e.Result.ApprovalKey != "" {
		return fmt.Sprintf("trustgate blocked (%s): %s; approve with: trustgate approve %s",
			e.Result.Decision, e.Result.Reason, e.Result.ApprovalKey)
	}
	return fmt.Sprintf("trustgate blocked (%s): %s", e.Result.Decision, e.Result.Reason)
}
