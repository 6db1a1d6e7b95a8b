// Package sim replays recorded decisions against a candidate policy.
package sim

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/trust"
)

// Options narrow and adjust a simulation.
type Options struct {
	// SessionID limits the replay to one session. Empty means every record.
	SessionID string
	// Trust replaces each record's recorded trust score when set.
	Trust *float64
}

// Simulate re-evaluates every record under cfg and returns the decisions
// that would change. The actor is rebuilt from the recorded composite score
// with all three dimensions set to it.
func Simulate(records []audit.Record, cfg *policy.Config, opts Options) *SimResult {
	result := &SimResult{PolicyName: cfg.Name, Changes: []DiffEntry{}}

	for _, rec := range records {
		if opts.SessionID != "" && rec.SessionID() != opts.SessionID {
			continue
		}
		result.TotalActions++

		score := rec.Role.TrustScore
		if opts.Trust != nil {
			score = *opts.Trust
		}
		actor := trust.Tensor{Talent: score, Training: score, Temperament: score}.Clamped()
		ev := policy.Evaluate(cfg, rec.Request.ToolName, rec.Resource.Target, actor)

		oldRule := ruleName(rec.Rules.MatchedRule)
		newRule := ruleName(ev.MatchedRule)
		if ev.Decision == rec.Rules.Decision && newRule == oldRule {
			continue
		}

		d := DiffEntry{
			Timestamp:   rec.Timestamp,
			ActionID:    rec.ActionID,
			Tool:        rec.Request.ToolName,
			OldDecision: rec.Rules.Decision,
			NewDecision: ev.Decision,
			OldRule:     oldRule,
			NewRule:     newRule,
			Reason:      ev.Reason,
		}
		if rec.Resource.Target != nil {
			d.Target = *rec.Resource.Target
		}
		result.Changes = append(result.Changes, d)
		result.ChangedActions++

		if isPermissive(d.OldDecision) && isRestrictive(d.NewDecision) {
			result.NewlyBlocked++
		}
		if isRestrictive(d.OldDecision) && isPermissive(d.NewDecision) {
			result.NewlyAllowed++
		}
	}
	return result
}

// SimulateLog loads the policy at policyPath and replays the JSONL audit log
// at logPath against it.
func SimulateLog(logPath, policyPath string, opts Options) (*SimResult, error) {
	cfg, err := policy.LoadConfig(policyPath)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	records, err := readLog(logPath)
	if err != nil {
		return nil, err
	}
	result := Simulate(records, cfg, opts)
	result.PolicyPath = policyPath
	return result, nil
}

// readLog reads every parseable record of a JSONL audit log in order.
func readLog(logPath string) ([]audit.Record, error) {
	f, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var records []audit.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec audit.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return records, nil
}

func ruleName(id *string) string {
	if id == nil {
		return "default"
	}
	return *id
}

// isPermissive reports whether the decision lets the action run.
func isPermissive(d model.Decision) bool {
	return d == model.Allow || d == model.LogOnly
}

// isRestrictive reports whether the decision stops the action.
func isRestrictive(d model.Decision) bool {
	return d == model.Deny || d == model.AskUser
}
