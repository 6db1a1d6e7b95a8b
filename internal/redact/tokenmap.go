package redact

import "fmt"

// TokenMap assigns stable tokens to sensitive values so that the same value
// masks to the same token across a whole listing. Not goroutine-safe.
type TokenMap struct {
	forward  map[string]string   // sensitive value → "<<TYPE_N>>"
	counters map[PatternType]int // next number per pattern type
}

// NewTokenMap creates an empty token map.
func NewTokenMap() *TokenMap {
	return &TokenMap{
		forward:  make(map[string]string),
		counters: make(map[PatternType]int),
	}
}

// Token returns the token for a sensitive value, allocating one on first use.
func (tm *TokenMap) Token(typ PatternType, value string) string {
	if tok, ok := tm.forward[value]; ok {
		return tok
	}
	tm.counters[typ]++
	tok := fmt.Sprintf("<<%s_%d>>", typ, tm.counters[typ])
	tm.forward[value] = tok
	return tok
}

// Len returns the number of masked values.
func (tm *TokenMap) Len() int {
	return len(tm.forward)
}
