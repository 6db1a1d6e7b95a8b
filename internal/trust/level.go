package trust

import "fmt"

// Level is a five-bucket classification of a composite score.
type Level string

const (
	LevelLow        Level = "low"
	LevelMediumLow  Level = "medium_low"
	LevelMedium     Level = "medium"
	LevelMediumHigh Level = "medium_high"
	LevelHigh       Level = "high"
)

// levelOrder lists levels from lowest to highest.
var levelOrder = []Level{LevelLow, LevelMediumLow, LevelMedium, LevelMediumHigh, LevelHigh}

// LevelFor buckets a composite score. A value exactly on a threshold
// belongs to the higher bucket.
func LevelFor(composite float64) Level {
	switch {
	case composite < 0.2:
		return LevelLow
	case composite < 0.4:
		return LevelMediumLow
	case composite < 0.6:
		return LevelMedium
	case composite < 0.8:
		return LevelMediumHigh
	default:
		return LevelHigh
	}
}

// Rank returns the position of l from 0 (low) to 4 (high), or -1 if unknown.
func (l Level) Rank() int {
	for i, v := range levelOrder {
		if v == l {
			return i
		}
	}
	return -1
}

// ParseLevel validates a level name.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if l.Rank() < 0 {
		return "", fmt.Errorf("unknown trust level %q", s)
	}
	return l, nil
}
