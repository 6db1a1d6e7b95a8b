// Package trust implements the three-dimensional trust tensor (talent,
// training, temperament) and the outcome-driven update law for actors.
//
// Everything here is a value: operations take the prior state and return the
// new one. Storage and serialization of actors belong to the caller.
package trust

import "fmt"

// Composite weights.
const (
	TalentWeight      = 0.3
	TrainingWeight    = 0.4
	TemperamentWeight = 0.3
)

// Tensor is a trust score in three dimensions, each in [0,1].
type Tensor struct {
	Talent      float64 `json:"talent" yaml:"talent"`
	Training    float64 `json:"training" yaml:"training"`
	Temperament float64 `json:"temperament" yaml:"temperament"`
}

// Validate reports the first dimension that is NaN or outside [0,1].
func (t Tensor) Validate() error {
	for _, d := range []struct {
		name string
		v    float64
	}{{"talent", t.Talent}, {"training", t.Training}, {"temperament", t.Temperament}} {
		if d.v != d.v || d.v < 0 || d.v > 1 {
			return fmt.Errorf("t3.%s out of range: %v", d.name, d.v)
		}
	}
	return nil
}

// delta is one row of the update table.
type delta struct {
	talent, training, temperament float64
}

var (
	novelSuccess   = delta{talent: 0.03, training: 0.015, temperament: 0.01}
	routineSuccess = delta{talent: 0, training: 0.008, temperament: 0.005}
	failure        = delta{talent: -0.02, training: -0.01, temperament: -0.02}
)

// Neutral returns the default tensor for a newly encountered actor.
func Neutral() Tensor {
	return Tensor{Talent: 0.5, Training: 0.5, Temperament: 0.5}
}

// Composite returns the weighted combination of the three dimensions.
func (t Tensor) Composite() float64 {
	return t.Talent*TalentWeight + t.Training*TrainingWeight + t.Temperament*TemperamentWeight
}

// Level returns the bucket of the composite score.
func (t Tensor) Level() Level {
	return LevelFor(t.Composite())
}

// Update applies one outcome to the tensor and returns the result.
// Failures apply the same penalty regardless of novelty.
func (t Tensor) Update(success, novel bool) Tensor {
	d := failure
	if success {
		d = routineSuccess
		if novel {
			d = novelSuccess
		}
	}
	return Tensor{
		Talent:      clamp(t.Talent + d.talent),
		Training:    clamp(t.Training + d.training),
		Temperament: clamp(t.Temperament + d.temperament),
	}
}

// Clamped returns t with every dimension forced into [0,1].
// NaN dimensions become 0.
func (t Tensor) Clamped() Tensor {
	return Tensor{
		Talent:      clamp(t.Talent),
		Training:    clamp(t.Training),
		Temperament: clamp(t.Temperament),
	}
}

func clamp(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
