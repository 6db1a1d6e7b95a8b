// Package ratelimit implements a sliding-window event counter keyed by an
// arbitrary string. State is a plain value owned by the caller.
package ratelimit

import (
	"encoding/json"
	"errors"
	"time"
)

// State maps a key to the millisecond timestamps of its recorded events,
// oldest first. On the wire it is wrapped as {"windows": {...}}.
type State map[string][]int64

type stateWire struct {
	Windows map[string][]int64 `json:"windows"`
}

var errNoWindows = errors.New("rate limiter state has no windows object")

// MarshalJSON emits the {"windows": ...} envelope.
func (s State) MarshalJSON() ([]byte, error) {
	w := stateWire{Windows: map[string][]int64(s)}
	if w.Windows == nil {
		w.Windows = map[string][]int64{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the {"windows": ...} envelope.
func (s *State) UnmarshalJSON(data []byte) error {
	var w stateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Windows == nil {
		return errNoWindows
	}
	*s = State(w.Windows)
	return nil
}

// DecodeState parses a serialized limiter state. Missing or unparseable
// input yields a fresh empty state instead of an error.
func DecodeState(raw []byte) State {
	if len(raw) == 0 {
		return State{}
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil || s == nil {
		return State{}
	}
	return s
}

// Snapshot returns the timestamps for key that lie strictly after
// now-window. The returned slice is a fresh copy.
func Snapshot(state State, key string, window time.Duration, now time.Time) []int64 {
	windowStart := now.UnixMilli() - window.Milliseconds()
	stored := state[key]
	kept := make([]int64, 0, len(stored))
	for _, ts := range stored {
		if ts > windowStart {
			kept = append(kept, ts)
		}
	}
	return kept
}

// clone copies the map header so the caller's state is left untouched.
// Per-key slices are shared read-only; Check always writes a fresh slice.
func (s State) clone() State {
	out := make(State, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	return out
}
