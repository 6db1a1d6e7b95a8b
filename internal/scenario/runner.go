// Package scenario checks a policy against YAML files of expected decisions.
package scenario

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/trust"
)

// Run evaluates all cases in a scenario against the given policy.
// Cases are independent.
func Run(s *Scenario, cfg *policy.Config) *RunResult {
	result := &RunResult{
		Name:  s.Name,
		Total: len(s.Cases),
	}

	for i, c := range s.Cases {
		actor := trust.Neutral()
		if c.Trust != nil {
			actor = trust.Tensor{Talent: *c.Trust, Training: *c.Trust, Temperament: *c.Trust}.Clamped()
		}

		ev := policy.Evaluate(cfg, c.Action.Tool, c.Action.Target, actor)
		actual := string(ev.Decision)
		expected := strings.ToLower(c.Expect)
		if d, ok := model.ParseDecision(c.Expect); ok {
			expected = string(d)
		}

		cr := CaseResult{
			Index:    i + 1,
			Tool:     c.Action.Tool,
			Trust:    ev.TrustScore,
			Expected: expected,
			Actual:   actual,
			Reason:   ev.Reason,
		}
		if c.Action.Target != nil {
			cr.Target = *c.Action.Target
		}
		if ev.MatchedRule != nil {
			cr.Rule = *ev.MatchedRule
		}

		cr.Passed = actual == expected && (c.Rule == "" || c.Rule == cr.Rule)
		if cr.Passed {
			result.Passed++
		} else {
			if c.Rule != "" && c.Rule != cr.Rule {
				cr.Expected += " by " + c.Rule
				cr.Actual += " by " + ruleOrDefault(cr.Rule)
			}
			result.Failed++
		}

		result.Cases = append(result.Cases, cr)
	}

	return result
}

func ruleOrDefault(id string) string {
	if id == "" {
		return "default"
	}
	return id
}

// LoadAndRun loads a scenario YAML file and the policy, and runs.
func LoadAndRun(path, policyPath string) (*RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	cfg, err := policy.LoadConfig(policyPath)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	result := Run(&s, cfg)
	result.File = path

	return result, nil
}
