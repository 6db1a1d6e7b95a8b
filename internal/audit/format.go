package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	if len(result.Records) == 0 {
		return fmt.Sprintf("Session: %s | No entries found.\n", result.SessionID)
	}

	var b strings.Builder

	first := result.Summary.FirstTimestamp
	last := result.Summary.LastTimestamp
	b.WriteString(fmt.Sprintf("Session: %s | %s–%s UTC\n", result.SessionID, formatDateRange(first), formatTimeOnly(last)))
	b.WriteString(separator + "\n")

	for _, r := range result.Records {
		ts := formatTimeOnly(r.Timestamp)
		seq := fmt.Sprintf("#%d", r.Reference.SequenceNumber)
		decision := strings.ToUpper(string(r.Rules.Decision))
		tool := truncate(r.Request.ToolName, 12)
		target := ""
		if r.Resource.Target != nil {
			target = truncate(*r.Resource.Target, 32)
		}
		rule := "default"
		if r.Rules.MatchedRule != nil {
			rule = *r.Rules.MatchedRule
		}

		b.WriteString(fmt.Sprintf("%-10s %-5s %-17s %-13s %-32s %-9s %.3f  [%s]\n",
			ts, seq, decision, tool, target, r.Result.Outcome(), r.Role.TrustScore, rule))
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))

	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func formatDateRange(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s ReplaySummary) string {
	parts := []string{}
	if s.AllowCount > 0 {
		parts = append(parts, fmt.Sprintf("%d allow", s.AllowCount))
	}
	if s.DenyCount > 0 {
		parts = append(parts, fmt.Sprintf("%d deny", s.DenyCount))
	}
	if s.LogOnlyCount > 0 {
		parts = append(parts, fmt.Sprintf("%d log_only", s.LogOnlyCount))
	}
	if s.AskUserCount > 0 {
		parts = append(parts, fmt.Sprintf("%d ask_user", s.AskUserCount))
	}

	outcomes := []string{}
	if s.BlockedCount > 0 {
		outcomes = append(outcomes, fmt.Sprintf("%d blocked", s.BlockedCount))
	}
	if s.ErrorCount > 0 {
		outcomes = append(outcomes, fmt.Sprintf("%d error", s.ErrorCount))
	}
	if len(outcomes) == 0 {
		outcomes = append(outcomes, "none blocked")
	}

	return fmt.Sprintf("Summary: %s | Outcomes: %s | Min trust: %.3f\n",
		strings.Join(parts, ", "), strings.Join(outcomes, ", "), s.MinTrustScore)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
