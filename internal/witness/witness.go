// Package witness records attestations between actors and derives
// transitive trust from them.
package witness

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/ppiankov/trustgate/internal/trust"
)

// DirectDepth is the only hop depth produced. Deeper traversal is not
// implemented; the field is reserved.
const DirectDepth = 1

// Weights of direct and attested trust in Transitive.
const (
	DirectWeight  = 0.7
	WitnessWeight = 0.3
)

// Event is one actor attesting to another.
type Event struct {
	WitnessID   string      `json:"witness_id"`
	WitnessedID string      `json:"witnessed_id"`
	TrustScore  float64     `json:"trust_score"`
	TrustLevel  trust.Level `json:"trust_level"`
	Timestamp   time.Time   `json:"timestamp"`
	Depth       int         `json:"depth"`
}

// Node is one neighbour in a witnessing chain.
type Node struct {
	EntityID   string      `json:"entity_id"`
	TrustScore float64     `json:"t3_composite"`
	TrustLevel trust.Level `json:"trust_level"`
	Depth      int         `json:"depth"`
}

// Chain is an actor's direct trust plus its attestation neighbours.
type Chain struct {
	EntityID     string      `json:"entity_id"`
	DirectTrust  float64     `json:"t3_composite"`
	DirectLevel  trust.Level `json:"trust_level"`
	WitnessedBy  []Node      `json:"witnessed_by"`
	HasWitnessed []Node      `json:"has_witnessed"`
}

// Record creates a witness event. It holds no state.
func Record(witnessID, witnessedID string, trustScore float64, now time.Time) Event {
	return Event{
		WitnessID:   witnessID,
		WitnessedID: witnessedID,
		TrustScore:  trustScore,
		TrustLevel:  trust.LevelFor(trustScore),
		Timestamp:   now.UTC(),
		Depth:       DirectDepth,
	}
}

// Validate checks the fields a stored event must carry.
func (e Event) Validate() error {
	if e.WitnessID == "" || e.WitnessedID == "" {
		return fmt.Errorf("witness: event requires both witness_id and witnessed_id")
	}
	if v := e.TrustScore; v != v || v < 0 || v > 1 {
		return fmt.Errorf("witness: trust_score %v outside [0,1]", v)
	}
	return nil
}

// Aggregate is the mean score of the actors that witnessed the chain's
// entity. An empty list yields 0, so callers that need to tell "no
// attestations" from "low attestations" must check the list length.
func Aggregate(c Chain) float64 {
	if len(c.WitnessedBy) == 0 {
		return 0
	}
	var sum float64
	for _, n := range c.WitnessedBy {
		sum += n.TrustScore
	}
	return sum / float64(len(c.WitnessedBy))
}

// Transitive blends direct trust with attested trust. With no witnesses
// the result is 0.7 times the direct score.
func Transitive(c Chain) float64 {
	return c.DirectTrust*DirectWeight + Aggregate(c)*WitnessWeight
}

// BuildChain assembles entityID's chain from stored events. When the same
// pair appears more than once only the latest event counts. Neighbours are
// ordered by entity id.
func BuildChain(entityID string, direct trust.Tensor, events []Event) Chain {
	composite := direct.Composite()
	c := Chain{
		EntityID:     entityID,
		DirectTrust:  composite,
		DirectLevel:  trust.LevelFor(composite),
		WitnessedBy:  []Node{},
		HasWitnessed: []Node{},
	}

	by := map[string]Event{}
	has := map[string]Event{}
	for _, e := range events {
		switch entityID {
		case e.WitnessedID:
			keepLatest(by, e.WitnessID, e)
		case e.WitnessID:
			keepLatest(has, e.WitnessedID, e)
		}
	}

	c.WitnessedBy = nodes(by)
	c.HasWitnessed = nodes(has)
	return c
}

func keepLatest(m map[string]Event, key string, e Event) {
	if prev, ok := m[key]; ok && prev.Timestamp.After(e.Timestamp) {
		return
	}
	m[key] = e
}

func nodes(m map[string]Event) []Node {
	out := make([]Node, 0, len(m))
	for id, e := range m {
		out = append(out, Node{
			EntityID:   id,
			TrustScore: e.TrustScore,
			TrustLevel: trust.LevelFor(e.TrustScore),
			Depth:      DirectDepth,
		})
	}
	slices.SortFunc(out, func(a, b Node) int { return cmp.Compare(a.EntityID, b.EntityID) })
	return out
}
