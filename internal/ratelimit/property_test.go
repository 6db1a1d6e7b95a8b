package ratelimit

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: the in-window count never exceeds maxCount and every stored
// timestamp lies within the window of the latest check.
func TestWindowInvariantProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("count bounded, stale events never counted", prop.ForAll(
		func(maxCount int, windowMs int64, steps []int64) bool {
			window := time.Duration(windowMs) * time.Millisecond
			state := State{}
			now := base
			for _, step := range steps {
				now = now.Add(time.Duration(step) * time.Millisecond)
				var r CheckResult
				state, r = Check(state, "k", maxCount, window, now)
				if r.CurrentCount > maxCount {
					return false
				}
				if r.Allowed != (r.CurrentCount < maxCount) {
					return false
				}
				for _, ts := range state["k"] {
					if ts <= now.UnixMilli()-windowMs {
						return false
					}
				}
				if len(state["k"]) > maxCount {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 10),
		gen.Int64Range(1, 5000),
		gen.SliceOf(gen.Int64Range(0, 1500)),
	))

	properties.TestingRun(t)
}
