package domain

import "math"

// SaturationDelta is the minimum successive confidence increase for a curve to
// count as saturated at its lowest grade.
const SaturationDelta = 0.97

// InferObservedGrade turns a confidence curve into a single observed grade.
//
// Absent samples are discarded. If every successive delta between the
// remaining samples (ascending by grade) exceeds SaturationDelta, the piece is
// too easy to discriminate and the lowest grade is returned. Otherwise the
// grade with the highest confidence wins, ties going to the lowest grade.
// A curve with no present samples yields an absent grade; a curve with one
// present sample yields that sample's grade.
//
// This is a heuristic inflection detector, not a maximum-likelihood
// estimate.
func InferObservedGrade(curve ConfidenceCurve) Optional[Grade] {
	grades := make([]Grade, 0, curve.Len())
	values := make([]float64, 0, curve.Len())
	for _, p := range curve.points {
		if v, ok := p.Confidence.Get(); ok {
			grades = append(grades, p.Grade)
			values = append(values, v)
		}
	}
	if len(grades) == 0 {
		return None[Grade]()
	}

	if len(values) > 1 {
		minDelta := math.Inf(1)
		for i := 1; i < len(values); i++ {
			minDelta = math.Min(minDelta, values[i]-values[i-1])
		}
		if minDelta > SaturationDelta {
			return Some(grades[0])
		}
	}

	best := 0
	for i := 1; i < len(values); i++ {
		// Strict comparison keeps the first (lowest) grade on ties.
		if values[i] > values[best] {
			best = i
		}
	}
	return Some(grades[best])
}
