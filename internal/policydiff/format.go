package policydiff

import (
	"encoding/json"
	"fmt"
	"strings"
)

var ruleMarks = map[string]string{"added": "+", "removed": "-", "changed": "~"}

// Direction summarizes the strictness comments of a diff: "stricter",
// "looser", "mixed", or "" when no change carries a direction.
func (r *DiffResult) Direction() string {
	var stricter, looser bool
	note := func(text string) {
		stricter = stricter || strings.Contains(text, "stricter")
		looser = looser || strings.Contains(text, "looser")
	}
	for _, c := range r.Changes {
		note(c.Comment)
	}
	for _, rc := range r.RuleChanges {
		note(rc.Rule)
	}
	switch {
	case stricter && looser:
		return "mixed"
	case stricter:
		return "stricter"
	case looser:
		return "looser"
	}
	return ""
}

// FormatText renders the diff for a terminal.
func FormatText(r *DiffResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Policy diff: %s → %s\n\n", r.OldPath, r.NewPath)
	if !r.HasChanges {
		b.WriteString("No changes detected.\n")
		return b.String()
	}

	for _, c := range r.Changes {
		line := fmt.Sprintf("  %-16s %s → %s", c.Field+":", c.Old, c.New)
		if c.Comment != "" {
			line += "  (" + c.Comment + ")"
		}
		b.WriteString(line + "\n")
	}
	if len(r.RuleChanges) > 0 {
		if len(r.Changes) > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  Rules:\n")
		for _, rc := range r.RuleChanges {
			fmt.Fprintf(&b, "    %s %s\n", ruleMarks[rc.Type], rc.Rule)
		}
	}

	fmt.Fprintf(&b, "\n%d setting(s), %d rule change(s)", len(r.Changes), len(r.RuleChanges))
	if d := r.Direction(); d != "" {
		fmt.Fprintf(&b, "; overall %s", d)
	}
	b.WriteString(".\n")
	return b.String()
}

// FormatJSON renders the diff as indented JSON.
func FormatJSON(r *DiffResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal diff result: %w", err)
	}
	return string(data), nil
}
