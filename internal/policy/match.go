package policy

import (
	"slices"
	"strings"

	"github.com/ppiankov/trustgate/internal/model"
)

// matchRule checks every present constraint of a rule (AND semantics).
// A rule with target patterns never matches when no target was supplied.
// Presence is nil-ness: an empty list is a constraint nothing satisfies.
func matchRule(rule Rule, toolName string, category model.ToolCategory, target *string, trustScore float64) bool {
	m := rule.Match

	if m.MinTrust != nil && trustScore < *m.MinTrust {
		return false
	}
	if m.Tools != nil && !slices.Contains(m.Tools, toolName) {
		return false
	}
	if m.Categories != nil && !slices.Contains(m.Categories, category) {
		return false
	}
	if m.TargetPatterns != nil {
		if target == nil {
			return false
		}
		if !matchAnyPattern(m.TargetPatterns, *target, m.TargetPatternsAreRegex) {
			return false
		}
	}
	return true
}

func matchAnyPattern(patterns []string, value string, substring bool) bool {
	for _, p := range patterns {
		if substring {
			if strings.Contains(value, p) {
				return true
			}
			continue
		}
		if MatchGlob(p, value) {
			return true
		}
	}
	return false
}

// MatchGlob reports whether value matches pattern in the restricted glob
// dialect:
//
//	*, **         anything
//	**/suffix     value ends with suffix or contains /suffix
//	prefix/**     value starts with prefix
//	pre*suf       value starts with pre and ends with suf (exactly one *)
//
// Any other pattern, with or without stars, must equal value exactly.
// Characters after the leading **/ or before the trailing /** are literal.
func MatchGlob(pattern, value string) bool {
	if pattern == "*" || pattern == "**" {
		return true
	}
	if suffix, ok := strings.CutPrefix(pattern, "**/"); ok {
		return strings.HasSuffix(value, suffix) || strings.Contains(value, "/"+suffix)
	}
	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
		return strings.HasPrefix(value, prefix)
	}
	if strings.Count(pattern, "*") == 1 {
		prefix, suffix, _ := strings.Cut(pattern, "*")
		return strings.HasPrefix(value, prefix) && strings.HasSuffix(value, suffix)
	}
	return value == pattern
}
