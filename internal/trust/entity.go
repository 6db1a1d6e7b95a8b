package trust

import (
	"fmt"
	"time"

	"github.com/ppiankov/trustgate/internal/model"
)

// EntityKind is the kind of actor a trust record describes.
type EntityKind string

const (
	KindTool    EntityKind = "tool"
	KindSession EntityKind = "session"
	KindAgent   EntityKind = "agent"
	KindPolicy  EntityKind = "policy"
	KindUser    EntityKind = "user"
)

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	switch k {
	case KindTool, KindSession, KindAgent, KindPolicy, KindUser:
		return true
	}
	return false
}

// Entity is the trust record of one actor.
// Level is derived from T3 and is recomputed after every mutation.
type Entity struct {
	EntityID         string     `json:"entity_id"`
	EntityType       EntityKind `json:"entity_type"`
	T3               Tensor     `json:"t3"`
	TrustLevel       Level      `json:"level"`
	InteractionCount uint64     `json:"interaction_count"`
	SuccessCount     uint64     `json:"success_count"`
	FailureCount     uint64     `json:"failure_count"`
	CreatedAt        time.Time  `json:"created_at"`
	LastUpdated      time.Time  `json:"last_updated"`
}

// Delta describes how one outcome moved an entity's trust.
// Changed is true only when the level bucket moved.
type Delta struct {
	PreviousComposite float64 `json:"previous_composite"`
	NewComposite      float64 `json:"new_composite"`
	PreviousLevel     Level   `json:"previous_level"`
	NewLevel          Level   `json:"new_level"`
	Changed           bool    `json:"changed"`
}

// NewEntity returns the neutral record for a first-seen actor.
func NewEntity(id string, kind EntityKind, now time.Time) Entity {
	t := Neutral()
	now = now.UTC()
	return Entity{
		EntityID:    id,
		EntityType:  kind,
		T3:          t,
		TrustLevel:  t.Level(),
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// Validate checks the structural fields of a record loaded from outside.
func (e Entity) Validate() error {
	if e.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if !e.EntityType.Valid() {
		return fmt.Errorf("unknown entity_type %q", e.EntityType)
	}
	return e.T3.Validate()
}

// Composite is shorthand for e.T3.Composite().
func (e Entity) Composite() float64 {
	return e.T3.Composite()
}

// ApplyOutcome records the result of one tool invocation by the entity.
// Novelty comes from the tool's category. The input record is not modified.
func ApplyOutcome(e Entity, toolName string, success bool, now time.Time) (Entity, Delta) {
	prevComposite := e.T3.Composite()
	prevLevel := LevelFor(prevComposite)

	novel := model.IsNovel(model.CategorizeTool(toolName))
	e.T3 = e.T3.Update(success, novel)
	e.TrustLevel = e.T3.Level()

	e.InteractionCount++
	if success {
		e.SuccessCount++
	} else {
		e.FailureCount++
	}
	e.LastUpdated = now.UTC()

	newComposite := e.T3.Composite()
	return e, Delta{
		PreviousComposite: prevComposite,
		NewComposite:      newComposite,
		PreviousLevel:     prevLevel,
		NewLevel:          e.TrustLevel,
		Changed:           prevLevel != e.TrustLevel,
	}
}
