package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ppiankov/trustgate/internal/model"
)

// ReplayFilter holds filtering criteria for session replay.
type ReplayFilter struct {
	SessionID string
	From      time.Time // zero value = no lower bound
	To        time.Time // zero value = no upper bound
}

// ReplaySummary holds decision and outcome counts for a replayed session.
type ReplaySummary struct {
	Total          int     `json:"total"`
	AllowCount     int     `json:"allow_count"`
	DenyCount      int     `json:"deny_count"`
	LogOnlyCount   int     `json:"log_only_count"`
	AskUserCount   int     `json:"ask_user_count"`
	BlockedCount   int     `json:"blocked_count"`
	ErrorCount     int     `json:"error_count"`
	MinTrustScore  float64 `json:"min_trust_score"`
	FirstTimestamp string  `json:"first_timestamp"`
	LastTimestamp  string  `json:"last_timestamp"`
}

// ReplayResult holds filtered records and summary for a session replay.
type ReplayResult struct {
	SessionID string        `json:"session_id"`
	Records   []Record      `json:"records"`
	Summary   ReplaySummary `json:"summary"`
}

// Replay reads the audit log and returns records matching the filter.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{
		SessionID: filter.SessionID,
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // skip malformed lines
		}

		if rec.SessionID() != filter.SessionID {
			continue
		}

		if !filter.From.IsZero() || !filter.To.IsZero() {
			ts, err := time.Parse(TimestampFormat, rec.Timestamp)
			if err != nil {
				continue // skip unparseable timestamps
			}
			if !filter.From.IsZero() && ts.Before(filter.From) {
				continue
			}
			if !filter.To.IsZero() && ts.After(filter.To) {
				continue
			}
		}

		result.Records = append(result.Records, rec)
		updateSummary(&result.Summary, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	return result, nil
}

func updateSummary(s *ReplaySummary, rec Record) {
	s.Total++

	switch rec.Rules.Decision {
	case model.Allow:
		s.AllowCount++
	case model.Deny:
		s.DenyCount++
	case model.LogOnly:
		s.LogOnlyCount++
	case model.AskUser:
		s.AskUserCount++
	}

	switch rec.Result.Outcome() {
	case model.OutcomeBlocked:
		s.BlockedCount++
	case model.OutcomeError:
		s.ErrorCount++
	}

	if s.Total == 1 || rec.Role.TrustScore < s.MinTrustScore {
		s.MinTrustScore = rec.Role.TrustScore
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = rec.Timestamp
	}
	s.LastTimestamp = rec.Timestamp
}
