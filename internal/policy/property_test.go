package policy

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/trust"
)

var propertyDecisions = []model.Decision{model.Allow, model.Deny, model.LogOnly, model.AskUser}

func rulesFromPriorities(priorities []int) []Rule {
	rules := make([]Rule, len(priorities))
	for i, p := range priorities {
		rules[i] = Rule{
			ID:       fmt.Sprintf("r%d", i),
			Priority: p,
			Decision: propertyDecisions[i%len(propertyDecisions)],
		}
	}
	return rules
}

// Property: evaluation is deterministic, and the winner is the first-listed
// rule among those with the lowest priority.
func TestEvaluationOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("lowest priority, first listed wins", prop.ForAll(
		func(priorities []int, score float64) bool {
			cfg := &Config{Name: "p", DefaultPolicy: model.Allow, Rules: rulesFromPriorities(priorities)}
			actor := trust.Tensor{Talent: score, Training: score, Temperament: score}

			a := Evaluate(cfg, "Read", nil, actor)
			b := Evaluate(cfg, "Read", nil, actor)
			if !reflect.DeepEqual(a, b) {
				return false
			}
			if len(priorities) == 0 {
				return a.MatchedRule == nil && a.Enforced && a.Decision == model.Allow
			}

			best := 0
			for i, p := range priorities {
				if p < priorities[best] {
					best = i
				}
			}
			return a.MatchedRule != nil && *a.MatchedRule == fmt.Sprintf("r%d", best)
		},
		gen.SliceOf(gen.IntRange(-3, 3)),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

// Property: with zero rules the default applies, unmatched and enforced.
func TestEmptyRulesProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("zero rules yields default", prop.ForAll(
		func(idx int, enforce bool, tool string) bool {
			d := propertyDecisions[idx]
			cfg := &Config{Name: "empty", DefaultPolicy: d, Enforce: enforce}
			r := Evaluate(cfg, tool, nil, trust.Neutral())
			return r.Decision == d && r.MatchedRule == nil && r.Enforced
		},
		gen.IntRange(0, len(propertyDecisions)-1),
		gen.Bool(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
