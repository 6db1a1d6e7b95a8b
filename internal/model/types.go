package model

import "strings"

// Decision is the policy enforcement outcome.
type Decision string

const (
	Allow   Decision = "allow"
	Deny    Decision = "deny"
	AskUser Decision = "ask_user"
	LogOnly Decision = "log_only"
)

// decisionAliases maps older decision names onto the wire vocabulary.
var decisionAliases = map[string]Decision{
	"warn":             LogOnly,
	"require_approval": AskUser,
}

// ParseDecision maps a string to a Decision, accepting the "warn" and
// "require_approval" aliases. Unknown values report ok=false; callers must
// not fall back to Allow.
func ParseDecision(s string) (Decision, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if d, ok := decisionAliases[s]; ok {
		return d, true
	}
	if d := Decision(s); d.Valid() {
		return d, true
	}
	return "", false
}

// UnmarshalText resolves aliases when decoding policy files and payloads.
// Unknown names are kept as given so validation can report them.
func (d *Decision) UnmarshalText(text []byte) error {
	if alias, ok := decisionAliases[string(text)]; ok {
		*d = alias
		return nil
	}
	*d = Decision(text)
	return nil
}

// Valid reports whether d is one of the known decisions.
func (d Decision) Valid() bool {
	switch d {
	case Allow, Deny, AskUser, LogOnly:
		return true
	}
	return false
}

// Label is the variant name used in constraint tags and default reasons,
// e.g. "AskUser".
func (d Decision) Label() string {
	switch d {
	case Allow:
		return "Allow"
	case Deny:
		return "Deny"
	case AskUser:
		return "AskUser"
	case LogOnly:
		return "LogOnly"
	}
	return string(d)
}

// ToolCategory is the coarse class of a tool invocation.
type ToolCategory string

const (
	CategoryFileRead  ToolCategory = "file_read"
	CategoryFileWrite ToolCategory = "file_write"
	CategoryExecute   ToolCategory = "execute"
	CategoryNetwork   ToolCategory = "network"
	CategoryAgent     ToolCategory = "agent"
	CategoryMemory    ToolCategory = "memory"
	CategorySystem    ToolCategory = "system"
)

// Valid reports whether c is one of the known categories.
func (c ToolCategory) Valid() bool {
	switch c {
	case CategoryFileRead, CategoryFileWrite, CategoryExecute,
		CategoryNetwork, CategoryAgent, CategoryMemory, CategorySystem:
		return true
	}
	return false
}

// TargetType is the resource type recorded for actions in the category:
// the lowercased variant name, e.g. "fileread".
func (c ToolCategory) TargetType() string {
	return strings.ReplaceAll(string(c), "_", "")
}

// toolCategories is the fixed tool name lookup. Names are matched literally.
// No tool name maps to CategoryMemory; it exists for policies that name it.
var toolCategories = map[string]ToolCategory{
	"Read":         CategoryFileRead,
	"Glob":         CategoryFileRead,
	"Grep":         CategoryFileRead,
	"Write":        CategoryFileWrite,
	"Edit":         CategoryFileWrite,
	"MultiEdit":    CategoryFileWrite,
	"NotebookEdit": CategoryFileWrite,
	"Bash":         CategoryExecute,
	"WebFetch":     CategoryNetwork,
	"WebSearch":    CategoryNetwork,
	"Task":         CategoryAgent,
}

// CategorizeTool returns the category for a tool name.
// Unrecognized names are CategorySystem.
func CategorizeTool(toolName string) ToolCategory {
	if c, ok := toolCategories[toolName]; ok {
		return c
	}
	return CategorySystem
}

// IsNovel reports whether actions in the category count as novel for
// trust updates. Spawning agents and reaching the network are novel.
func IsNovel(c ToolCategory) bool {
	return c == CategoryAgent || c == CategoryNetwork
}

// Outcome is the realized result of an action, as recorded in the audit chain.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeEnforced Outcome = "enforced"
	OutcomeBlocked  Outcome = "blocked"
	OutcomeError    Outcome = "error"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeEnforced, OutcomeBlocked, OutcomeError:
		return true
	}
	return false
}
