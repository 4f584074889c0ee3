package domain

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// Dimension names used by the built-in evaluators and the default weights.
const (
	DimensionRhythm       = "rhythm"
	DimensionRange        = "range"
	DimensionMeter        = "meter"
	DimensionKey          = "key"
	DimensionTempo        = "tempo"
	DimensionDuration     = "duration"
	DimensionAvailability = "availability"
	DimensionArticulation = "articulation"
	DimensionDynamics     = "dynamics"
	DimensionTexture      = "texture"
)

// DefaultWeights returns the dimension weights used when none are configured.
// They need not sum to 1; Aggregate normalises by the weights actually used.
// Texture has no default weight and is reported but not aggregated.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		DimensionRhythm:       0.25,
		DimensionRange:        0.25,
		DimensionMeter:        0.10,
		DimensionKey:          0.10,
		DimensionTempo:        0.10,
		DimensionDuration:     0.05,
		DimensionAvailability: 0.05,
		DimensionArticulation: 0.05,
		DimensionDynamics:     0.05,
	}
}

// Estimate is the combined grade estimate across dimensions.
type Estimate struct {
	// Overall is the weighted estimate snapped to the nearest half grade,
	// rounding halves up.
	Overall Grade `json:"overall"`

	// Low and High are the half-grade lattice points bracketing Raw. They
	// equal Overall when Raw lies exactly on a half grade.
	Low  Grade `json:"low"`
	High Grade `json:"high"`

	// Raw is the unsnapped weighted mean.
	Raw float64 `json:"raw"`

	// Included lists the dimensions that contributed, sorted by name.
	Included []string `json:"included"`
}

// Aggregate combines per-dimension observed grades into one estimate.
//
// Dimensions whose grade is absent, or which have no entry in weights, are
// skipped. The raw estimate is Σ(grade·weight)/Σ(weight) over the included
// dimensions. When nothing is included, or the included weights sum to zero,
// the result is absent.
//
// Example:
//
//	est, ok := Aggregate(map[string]Optional[Grade]{"a": Some[Grade](2), "b": Some[Grade](3)},
//	    map[string]float64{"a": 1, "b": 1}).Get()
//	// est.Overall == 2.5, est.Low == 2.5, est.High == 2.5
func Aggregate(grades map[string]Optional[Grade], weights map[string]float64) Optional[Estimate] {
	names := make([]string, 0, len(grades))
	for name := range grades {
		names = append(names, name)
	}
	slices.Sort(names)

	values := make([]float64, 0, len(names))
	ws := make([]float64, 0, len(names))
	included := make([]string, 0, len(names))
	var totalWeight float64
	for _, name := range names {
		g, ok := grades[name].Get()
		if !ok {
			continue
		}
		w, ok := weights[name]
		if !ok {
			continue
		}
		values = append(values, float64(g))
		ws = append(ws, w)
		included = append(included, name)
		totalWeight += w
	}
	if len(values) == 0 || totalWeight == 0 {
		return None[Estimate]()
	}

	raw := stat.Mean(values, ws)
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return None[Estimate]()
	}

	return Some(Estimate{
		Overall:  Grade(math.Floor(raw*2+0.5) / 2),
		Low:      Grade(math.Floor(raw*2) / 2),
		High:     Grade(math.Ceil(raw*2) / 2),
		Raw:      raw,
		Included: included,
	})
}
