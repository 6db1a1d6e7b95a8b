// Package policydiff compares two policies and reports what changed in
// terms of how strict they are.
package policydiff

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/ratelimit"
)

// Change represents a scalar field change.
type Change struct {
	Field   string `json:"field"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Comment string `json:"comment,omitempty"`
}

// RuleChange represents a rule addition, removal, or modification.
type RuleChange struct {
	Type string `json:"type"` // "added", "removed", "changed"
	Rule string `json:"rule"`
}

// DiffResult holds the comparison of two policies.
type DiffResult struct {
	OldPath     string       `json:"old_path"`
	NewPath     string       `json:"new_path"`
	Changes     []Change     `json:"changes"`
	RuleChanges []RuleChange `json:"rule_changes"`
	HasChanges  bool         `json:"has_changes"`
}

// Diff compares two policies and returns the differences. Rules are
// matched by id.
func Diff(old, new *policy.Config) *DiffResult {
	r := &DiffResult{}

	diffString(r, "name", old.Name, new.Name)
	diffString(r, "version", old.Version, new.Version)

	if old.Enforce != new.Enforce {
		comment := "looser"
		if new.Enforce {
			comment = "stricter"
		}
		r.Changes = append(r.Changes, Change{
			Field:   "enforce",
			Old:     strconv.FormatBool(old.Enforce),
			New:     strconv.FormatBool(new.Enforce),
			Comment: comment,
		})
	}

	if old.DefaultPolicy != new.DefaultPolicy {
		r.Changes = append(r.Changes, Change{
			Field:   "default_policy",
			Old:     string(old.DefaultPolicy),
			New:     string(new.DefaultPolicy),
			Comment: decisionComment(old.DefaultPolicy, new.DefaultPolicy),
		})
	}

	diffRules(r, old.Rules, new.Rules)

	r.HasChanges = len(r.Changes) > 0 || len(r.RuleChanges) > 0
	return r
}

func diffString(r *DiffResult, field, old, new string) {
	if old != new {
		r.Changes = append(r.Changes, Change{Field: field, Old: old, New: new})
	}
}

// decisionRank orders decisions from most to least permissive.
func decisionRank(d model.Decision) int {
	switch d {
	case model.Allow:
		return 0
	case model.LogOnly:
		return 1
	case model.AskUser:
		return 2
	default:
		return 3
	}
}

func decisionComment(old, new model.Decision) string {
	if decisionRank(new) > decisionRank(old) {
		return "stricter"
	}
	return "looser"
}

func ruleLabel(r policy.Rule) string {
	return fmt.Sprintf("%s (priority %d)", r.ID, r.Priority)
}

func diffRules(r *DiffResult, oldRules, newRules []policy.Rule) {
	oldMap := make(map[string]policy.Rule)
	for _, rule := range oldRules {
		oldMap[rule.ID] = rule
	}

	newMap := make(map[string]policy.Rule)
	for _, rule := range newRules {
		newMap[rule.ID] = rule
	}

	// Check for added and changed
	for _, rule := range newRules {
		oldRule, exists := oldMap[rule.ID]
		if !exists {
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type: "added",
				Rule: fmt.Sprintf("%s → %s", ruleLabel(rule), rule.Decision),
			})
			continue
		}
		for _, detail := range ruleDetails(oldRule, rule) {
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type: "changed",
				Rule: rule.ID + ": " + detail,
			})
		}
	}

	// Check for removed
	for _, rule := range oldRules {
		if _, exists := newMap[rule.ID]; !exists {
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type: "removed",
				Rule: fmt.Sprintf("%s → %s", ruleLabel(rule), rule.Decision),
			})
		}
	}
}

// ruleDetails describes how one rule changed between two versions.
func ruleDetails(old, new policy.Rule) []string {
	var out []string
	if old.Decision != new.Decision {
		out = append(out, fmt.Sprintf("decision %s → %s (%s)", old.Decision, new.Decision, decisionComment(old.Decision, new.Decision)))
	}
	if old.Priority != new.Priority {
		out = append(out, fmt.Sprintf("priority %d → %d", old.Priority, new.Priority))
	}
	if ot, nt := trustString(old.Match.MinTrust), trustString(new.Match.MinTrust); ot != nt {
		out = append(out, fmt.Sprintf("min_trust %s → %s", ot, nt))
	}
	if ol, nl := limitString(old.Match.RateLimit), limitString(new.Match.RateLimit); ol != nl {
		out = append(out, fmt.Sprintf("rate_limit %s → %s", ol, nl))
	}
	if !reflect.DeepEqual(old.Match.Tools, new.Match.Tools) ||
		!reflect.DeepEqual(old.Match.Categories, new.Match.Categories) ||
		!reflect.DeepEqual(old.Match.TargetPatterns, new.Match.TargetPatterns) ||
		old.Match.TargetPatternsAreRegex != new.Match.TargetPatternsAreRegex {
		out = append(out, "match changed")
	}
	return out
}

func trustString(v *float64) string {
	if v == nil {
		return "none"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func limitString(s *ratelimit.Spec) string {
	if !s.HasLimit() {
		return "none"
	}
	return fmt.Sprintf("%d/%dms", s.MaxCount, s.WindowMs)
}
