package ratelimit

import "time"

// Spec is a rate limit attached to a policy rule.
// Zero values mean no limit.
type Spec struct {
	MaxCount int   `json:"max_count" yaml:"max_count"`
	WindowMs int64 `json:"window_ms" yaml:"window_ms"`
}

// HasLimit returns true if both the count and the window are positive.
func (s *Spec) HasLimit() bool {
	return s != nil && s.MaxCount > 0 && s.WindowMs > 0
}

// Window returns the window as a duration.
func (s Spec) Window() time.Duration {
	return time.Duration(s.WindowMs) * time.Millisecond
}
