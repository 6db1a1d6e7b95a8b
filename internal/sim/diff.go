package sim

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/trustgate/internal/model"
)

// DiffEntry represents one recorded action whose decision or rule changed.
type DiffEntry struct {
	Timestamp   string         `json:"timestamp"`
	ActionID    string         `json:"action_id"`
	Tool        string         `json:"tool"`
	Target      string         `json:"target,omitempty"`
	OldDecision model.Decision `json:"old_decision"`
	NewDecision model.Decision `json:"new_decision"`
	OldRule     string         `json:"old_rule"`
	NewRule     string         `json:"new_rule"`
	// Reason is the candidate policy's explanation. Records do not keep
	// the reason they were decided with.
	Reason string `json:"reason"`
}

// SimResult holds the complete simulation output.
type SimResult struct {
	PolicyPath     string      `json:"policy_path,omitempty"`
	PolicyName     string      `json:"policy_name"`
	TotalActions   int         `json:"total_actions"`
	ChangedActions int         `json:"changed_actions"`
	NewlyBlocked   int         `json:"newly_blocked"`
	NewlyAllowed   int         `json:"newly_allowed"`
	Changes        []DiffEntry `json:"changes"`
}

// FormatText renders the simulation result as human-readable text.
func FormatText(r *SimResult) string {
	var b strings.Builder

	name := r.PolicyPath
	if name == "" {
		name = r.PolicyName
	}
	fmt.Fprintf(&b, "Simulating %s against %d recorded actions...\n", name, r.TotalActions)

	if len(r.Changes) == 0 {
		b.WriteString("\nNo changes detected.\n")
		return b.String()
	}

	b.WriteString("\n")
	for _, d := range r.Changes {
		ts := d.Timestamp
		if len(ts) >= 19 {
			// HH:MM:SS
			ts = ts[11:19]
		}
		target := d.Target
		if len(target) > 40 {
			target = target[:37] + "..."
		}
		fmt.Fprintf(&b, "  CHANGED  %s  %-12s %-40s %s → %s  [%s → %s]\n",
			ts, d.Tool, target, d.OldDecision, d.NewDecision, d.OldRule, d.NewRule)
	}

	fmt.Fprintf(&b, "\n%d of %d actions changed.", r.ChangedActions, r.TotalActions)
	if r.NewlyBlocked > 0 || r.NewlyAllowed > 0 {
		fmt.Fprintf(&b, " %d newly blocked, %d newly allowed.", r.NewlyBlocked, r.NewlyAllowed)
	}
	b.WriteString("\n")

	return b.String()
}

// FormatJSON renders the simulation result as JSON.
func FormatJSON(r *SimResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal sim result: %w", err)
	}
	return string(data), nil
}
