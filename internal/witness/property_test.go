package witness

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: transitive trust of in-range inputs stays in [0,1] and lies
// between 0.7*direct and 0.7*direct+0.3.
func TestTransitiveBoundedProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("transitive in range", prop.ForAll(
		func(direct float64, scores []float64) bool {
			c := Chain{DirectTrust: direct}
			for i, s := range scores {
				c.WitnessedBy = append(c.WitnessedBy, Node{EntityID: fmt.Sprint(i), TrustScore: s, Depth: 1})
			}
			tr := Transitive(c)
			lo := direct * DirectWeight
			return tr >= 0 && tr <= 1+1e-12 && tr >= lo-1e-12 && tr <= lo+WitnessWeight+1e-12
		},
		gen.Float64Range(0, 1),
		gen.SliceOf(gen.Float64Range(0, 1)),
	))

	properties.TestingRun(t)
}
