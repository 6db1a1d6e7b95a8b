package ratelimit

import (
	"fmt"
	"time"
)

// CheckResult is the outcome of a rate limit check.
type CheckResult struct {
	Allowed      bool  `json:"allowed"`
	CurrentCount int   `json:"current_count"`
	MaxCount     int   `json:"max_count"`
	ResetInMs    int64 `json:"reset_in_ms"`
}

// Reason renders a denied result for logs and audit records.
func (r CheckResult) Reason(key string, maxCount int, window time.Duration) string {
	if r.Allowed {
		return ""
	}
	return fmt.Sprintf("rate limit exceeded for %s: %d/%d events in %s window (reset in %dms)",
		key, r.CurrentCount, maxCount, window, r.ResetInMs)
}

// Check drops events for key that fall at or before now-window, reports the
// remaining count, and records now if the count is below maxCount.
//
// The recorded event does not count toward the CurrentCount reported by this
// call. The input state is not modified; the updated state is returned.
func Check(state State, key string, maxCount int, window time.Duration, now time.Time) (State, CheckResult) {
	kept := Snapshot(state, key, window, now)
	nowMs := now.UnixMilli()

	result := CheckResult{
		CurrentCount: len(kept),
		MaxCount:     maxCount,
		Allowed:      len(kept) < maxCount,
	}
	if result.Allowed {
		kept = append(kept, nowMs)
	}
	if len(kept) > 0 && result.CurrentCount > 0 {
		result.ResetInMs = kept[0] + window.Milliseconds() - nowMs
	}

	next := state.clone()
	if len(kept) == 0 {
		delete(next, key)
	} else {
		next[key] = kept
	}
	return next, result
}

// CheckSpec is Check with the limit taken from a rule spec.
// A spec without a limit always allows and records nothing.
func CheckSpec(state State, key string, spec *Spec, now time.Time) (State, CheckResult) {
	if !spec.HasLimit() {
		return state, CheckResult{Allowed: true}
	}
	return Check(state, key, spec.MaxCount, spec.Window(), now)
}
