// Package policy matches a tool invocation against an ordered rule set and
// decides whether it may proceed.
package policy

import (
	"cmp"
	"slices"

	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/trust"
)

// Evaluation is the output of policy evaluation.
type Evaluation struct {
	Decision    model.Decision     `json:"decision"`
	MatchedRule *string            `json:"matched_rule"`
	Enforced    bool               `json:"enforced"`
	Reason      string             `json:"reason"`
	TrustScore  float64            `json:"trust_score"`
	Constraints []string           `json:"constraints"`
	Category    model.ToolCategory `json:"category"`

	rule *Rule
}

// Rule returns the matched rule, or nil when the default applied.
func (e Evaluation) Rule() *Rule {
	return e.rule
}

// Evaluate decides a single tool invocation.
//
// Evaluation order (must not be changed):
//  1. Categorize the tool name
//  2. Compute the actor's composite trust
//  3. Stable-sort rules by ascending priority
//  4. First rule whose constraints all hold wins
//  5. No match: the default policy, always enforced
//
// A matched deny is enforced only when cfg.Enforce is set; every other
// decision is always enforced.
func Evaluate(cfg *Config, toolName string, target *string, actor trust.Tensor) Evaluation {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	category := model.CategorizeTool(toolName)
	trustScore := actor.Composite()

	for _, rule := range sortedRules(cfg.Rules) {
		if !matchRule(rule, toolName, category, target, trustScore) {
			continue
		}
		decision := failClosed(rule.Decision)
		reason := rule.Reason
		if reason == "" {
			reason = "Matched rule: " + rule.Name
		}
		id := rule.ID
		return Evaluation{
			Decision:    decision,
			MatchedRule: &id,
			Enforced:    decision != model.Deny || cfg.Enforce,
			Reason:      reason,
			TrustScore:  trustScore,
			Category:    category,
			Constraints: constraintTags(cfg.Name, id, decision),
			rule:        &rule,
		}
	}

	decision := failClosed(cfg.DefaultPolicy)
	return Evaluation{
		Decision:    decision,
		Enforced:    true,
		Reason:      "Default policy: " + decision.Label(),
		TrustScore:  trustScore,
		Category:    category,
		Constraints: constraintTags(cfg.Name, "default", decision),
	}
}

// sortedRules returns a copy of rules in evaluation order.
func sortedRules(rules []Rule) []Rule {
	sorted := slices.Clone(rules)
	slices.SortStableFunc(sorted, func(a, b Rule) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
	return sorted
}

// failClosed maps an unknown decision to Deny.
func failClosed(d model.Decision) model.Decision {
	if d.Valid() {
		return d
	}
	return model.Deny
}

// DecisionTag is the constraint tag naming a decision, e.g. "decision:Deny".
func DecisionTag(d model.Decision) string {
	return "decision:" + d.Label()
}

func constraintTags(policyName, ruleID string, decision model.Decision) []string {
	return []string{
		"policy:" + policyName,
		"rule:" + ruleID,
		DecisionTag(decision),
	}
}
