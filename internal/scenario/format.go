package scenario

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Totals aggregates run results across scenario files.
type Totals struct {
	Files       int `json:"files"`
	FailedFiles int `json:"failed_files"`
	Cases       int `json:"cases"`
	Passed      int `json:"passed"`
	Failed      int `json:"failed"`
}

// Sum totals a set of run results.
func Sum(results []*RunResult) Totals {
	t := Totals{Files: len(results)}
	for _, r := range results {
		t.Cases += r.Total
		t.Passed += r.Passed
		t.Failed += r.Failed
		if r.Failed > 0 {
			t.FailedFiles++
		}
	}
	return t
}

// FormatText renders run results for a terminal, listing every failing
// case under its scenario.
func FormatText(results []*RunResult) string {
	t := Sum(results)
	var b strings.Builder
	plural := "s"
	if t.Files == 1 {
		plural = ""
	}
	fmt.Fprintf(&b, "Checking %d scenario file%s...\n\n", t.Files, plural)

	for _, r := range results {
		status := "PASS"
		if r.Failed > 0 {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "  %s  %s (%d/%d)\n", status, r.Name, r.Passed, r.Total)
		for _, c := range r.Cases {
			if c.Passed {
				continue
			}
			fmt.Fprintf(&b, "    FAIL  case %d: %-12s %-40s trust %.2f, expected %s, got %s\n",
				c.Index, c.Tool, shorten(c.Target, 40), c.Trust, c.Expected, c.Actual)
		}
	}

	fmt.Fprintf(&b, "\n%d of %d cases passed.", t.Passed, t.Cases)
	if t.FailedFiles > 0 {
		fmt.Fprintf(&b, " %d of %d scenarios failed.", t.FailedFiles, t.Files)
	}
	b.WriteString("\n")
	return b.String()
}

func shorten(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// FormatJSON renders run results and their totals as JSON.
func FormatJSON(results []*RunResult) (string, error) {
	data, err := json.MarshalIndent(struct {
		Totals  Totals       `json:"totals"`
		Results []*RunResult `json:"results"`
	}{Sum(results), results}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	return string(data), nil
}
