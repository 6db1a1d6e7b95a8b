package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/trustgate/internal/alert"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/ratelimit"
)

// Match holds the optional constraints of a rule. Every constraint that is
// present must hold for the rule to match. A list given as empty is present
// and matches nothing; only an absent (nil) list is unconstrained.
type Match struct {
	Tools                  []string             `json:"tools" yaml:"tools"`
	Categories             []model.ToolCategory `json:"categories" yaml:"categories"`
	TargetPatterns         []string             `json:"target_patterns" yaml:"target_patterns"`
	TargetPatternsAreRegex bool                 `json:"target_patterns_are_regex" yaml:"target_patterns_are_regex"`

	// RateLimit is carried with the rule but is not consulted by matching.
	RateLimit *ratelimit.Spec `json:"rate_limit" yaml:"rate_limit"`
	MinTrust  *float64        `json:"min_trust" yaml:"min_trust"`
}

// Rule is a prioritized policy clause. Lower priority values are evaluated
// first; equal priorities keep their listed order.
type Rule struct {
	ID       string         `json:"id" yaml:"id"`
	Name     string         `json:"name" yaml:"name"`
	Priority int            `json:"priority" yaml:"priority"`
	Match    Match          `json:"match" yaml:"match"`
	Decision model.Decision `json:"decision" yaml:"decision"`
	Reason   string         `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Config is one policy: an ordered rule set plus defaults.
// Field names are shared by the JSON and YAML forms.
type Config struct {
	Name          string         `json:"name" yaml:"name"`
	Version       string         `json:"version" yaml:"version"`
	Enforce       bool           `json:"enforce" yaml:"enforce"`
	DefaultPolicy model.Decision `json:"default_policy" yaml:"default_policy"`
	Rules         []Rule         `json:"rules" yaml:"rules"`

	// Alerts are webhooks notified of recorded decisions.
	Alerts []alert.Config `json:"alerts,omitempty" yaml:"alerts,omitempty"`
}

// DefaultConfig returns the built-in policy.
func DefaultConfig() *Config {
	minTrust := 0.6
	return &Config{
		Name:          "default",
		Version:       "1.0.0",
		Enforce:       true,
		DefaultPolicy: model.Allow,
		Rules: []Rule{
			{
				ID:       "deny-secrets",
				Name:     "Block secret material",
				Priority: 1,
				Match: Match{
					Categories:     []model.ToolCategory{model.CategoryFileRead, model.CategoryFileWrite},
					TargetPatterns: []string{"**/.env", "**/id_rsa", "*.pem"},
				},
				Decision: model.Deny,
				Reason:   "access to credential files is not allowed",
			},
			{
				ID:       "warn-exec",
				Name:     "Flag shell execution",
				Priority: 10,
				Match: Match{
					Categories: []model.ToolCategory{model.CategoryExecute},
				},
				Decision: model.LogOnly,
				Reason:   "shell execution is logged for review",
			},
			{
				ID:       "trusted-agents",
				Name:     "Allow sub-agents for trusted actors",
				Priority: 20,
				Match: Match{
					Categories: []model.ToolCategory{model.CategoryAgent},
					MinTrust:   &minTrust,
					RateLimit:  &ratelimit.Spec{MaxCount: 5, WindowMs: 60_000},
				},
				Decision: model.Allow,
			},
			{
				ID:       "approve-agents",
				Name:     "Sub-agents need approval below trust threshold",
				Priority: 21,
				Match: Match{
					Categories: []model.ToolCategory{model.CategoryAgent},
				},
				Decision: model.AskUser,
				Reason:   "spawning sub-agents requires approval for low-trust actors",
			},
		},
	}
}

// ParseConfig decodes a policy from YAML or JSON and validates it.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse policy config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy config: %w", err)
	}
	return &cfg, nil
}

// DefaultPath returns ~/.trustgate/policy.yaml, or "" if there is no home.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".trustgate", "policy.yaml")
}

// LoadConfig loads a policy from a YAML or JSON file.
// Empty path falls back to ~/.trustgate/policy.yaml.
// Missing file returns defaults. Invalid content returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads a policy and returns its fingerprint.
// The hash is computed over the raw bytes on disk; when no file exists
// (defaults used), it is the fingerprint of empty input.
func LoadConfigWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
		if path == "" {
			return DefaultConfig(), Hash(nil), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), Hash(nil), nil
		}
		return nil, "", fmt.Errorf("failed to read policy config: %w", err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, "", err
	}
	return cfg, Hash(data), nil
}

// Hash returns the policy fingerprint: the first 8 bytes of SHA-256 over the
// raw policy bytes as 16 lowercase hex characters.
func Hash(raw []byte) string {
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:8])
}

// Validate checks the structure of a policy. Unknown decisions and
// categories are rejected rather than reinterpreted.
func (c *Config) Validate() error {
	if c.DefaultPolicy == "" {
		return fmt.Errorf("default_policy is required")
	}
	if !c.DefaultPolicy.Valid() {
		return fmt.Errorf("unknown default_policy %q", c.DefaultPolicy)
	}
	seen := make(map[string]bool, len(c.Rules))
	for i, r := range c.Rules {
		if r.ID == "" {
			return fmt.Errorf("rule %d: id is required", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("rule %d: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = true
		if !r.Decision.Valid() {
			return fmt.Errorf("rule %q: unknown decision %q", r.ID, r.Decision)
		}
		for _, cat := range r.Match.Categories {
			if !cat.Valid() {
				return fmt.Errorf("rule %q: unknown category %q", r.ID, cat)
			}
		}
		if mt := r.Match.MinTrust; mt != nil && (*mt != *mt || *mt < 0 || *mt > 1) {
			return fmt.Errorf("rule %q: min_trust must be in [0,1], got %v", r.ID, *mt)
		}
		if rl := r.Match.RateLimit; rl != nil && (rl.MaxCount < 0 || rl.WindowMs < 0) {
			return fmt.Errorf("rule %q: rate_limit values must not be negative", r.ID)
		}
	}
	for _, a := range c.Alerts {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DefaultConfigYAML returns a commented YAML string for init-policy.
func DefaultConfigYAML() string {
	return `# trustgate policy configuration
# Generated by: trustgate init-policy
#
# Rules are sorted by priority (lower first, ties keep file order).
# The first rule whose constraints all hold decides. If none match,
# default_policy applies and is always enforced.
#
# enforce: false turns a matched deny into a logged soft-deny.

name: default
version: 1.0.0
enforce: true
default_policy: allow

# Decisions: allow | deny | ask_user | log_only
# (warn and require_approval are accepted as log_only and ask_user).
#
# Match fields (all optional, all must hold; an empty list matches nothing):
#   tools: literal tool names (Read, Write, Bash, WebFetch, Task, ...)
#   categories: file_read | file_write | execute | network | agent | memory | system
#   target_patterns: globs (*, **, **/name, dir/**, pre*suf); require a target
#   target_patterns_are_regex: true treats patterns as substrings
#   min_trust: composite trust threshold in [0,1]
#   rate_limit: {max_count, window_ms} applied by the decide pipeline
rules:
  - id: deny-secrets
    name: Block secret material
    priority: 1
    match:
      categories: [file_read, file_write]
      target_patterns: ["**/.env", "**/id_rsa", "*.pem"]
    decision: deny
    reason: access to credential files is not allowed

  - id: warn-exec
    name: Flag shell execution
    priority: 10
    match:
      categories: [execute]
    decision: log_only
    reason: shell execution is logged for review

  - id: trusted-agents
    name: Allow sub-agents for trusted actors
    priority: 20
    match:
      categories: [agent]
      min_trust: 0.6
      rate_limit:
        max_count: 5
        window_ms: 60000
    decision: allow

  - id: approve-agents
    name: Sub-agents need approval below trust threshold
    priority: 21
    match:
      categories: [agent]
    decision: ask_user
    reason: spawning sub-agents requires approval for low-trust actors

# Webhooks notified of recorded decisions (format: generic | slack | pagerduty).
# alerts:
#   - url: https://hooks.slack.com/services/...
#     format: slack
#     events: [deny, ask_user]
`
}
