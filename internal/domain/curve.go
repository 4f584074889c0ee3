package domain

import (
	"encoding/json"
	"fmt"
	"slices"
)

// CurvePoint is one sample of a confidence curve.
type CurvePoint struct {
	Grade      Grade      `json:"grade"`
	Confidence Confidence `json:"confidence"`
}

// ConfidenceCurve maps each grade of a scale to an optional confidence. It is
// immutable after construction and safe to share between goroutines.
type ConfidenceCurve struct {
	points []CurvePoint
}

// NewConfidenceCurve builds a curve from the given points. Points are sorted
// by grade; a grade appearing twice is rejected.
func NewConfidenceCurve(points ...CurvePoint) (ConfidenceCurve, error) {
	sorted := slices.Clone(points)
	slices.SortFunc(sorted, func(a, b CurvePoint) int {
		switch {
		case a.Grade < b.Grade:
			return -1
		case a.Grade > b.Grade:
			return 1
		}
		return 0
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Grade == sorted[i-1].Grade {
			return ConfidenceCurve{}, fmt.Errorf("%w: duplicate grade %s in curve", ErrInvalidState, sorted[i].Grade)
		}
	}
	return ConfidenceCurve{points: sorted}, nil
}

// CurveFromMap builds a curve from a grade -> confidence map.
func CurveFromMap(m map[Grade]Confidence) ConfidenceCurve {
	points := make([]CurvePoint, 0, len(m))
	for g, c := range m {
		points = append(points, CurvePoint{Grade: g, Confidence: c})
	}
	// Map keys are unique, so construction cannot fail.
	curve, _ := NewConfidenceCurve(points...)
	return curve
}

// Points returns a copy of the curve samples in ascending grade order.
func (c ConfidenceCurve) Points() []CurvePoint { return slices.Clone(c.points) }

// Grades returns the grades the curve was sampled over, ascending.
func (c ConfidenceCurve) Grades() Scale {
	out := make(Scale, len(c.points))
	for i, p := range c.points {
		out[i] = p.Grade
	}
	return out
}

// Len returns the number of sampled grades, present or not.
func (c ConfidenceCurve) Len() int { return len(c.points) }

// At returns the confidence recorded for g. Grades outside the curve are
// reported as absent.
func (c ConfidenceCurve) At(g Grade) Confidence {
	i, found := slices.BinarySearchFunc(c.points, g, func(p CurvePoint, target Grade) int {
		switch {
		case p.Grade < target:
			return -1
		case p.Grade > target:
			return 1
		}
		return 0
	})
	if !found {
		return UnknownConfidence()
	}
	return c.points[i].Confidence
}

// Restrict returns a curve holding only the samples for the given grades.
// Grades the curve does not contain are omitted.
func (c ConfidenceCurve) Restrict(grades Scale) ConfidenceCurve {
	out := make([]CurvePoint, 0, len(grades))
	for _, p := range c.points {
		if grades.Contains(p.Grade) {
			out = append(out, p)
		}
	}
	return ConfidenceCurve{points: out}
}

// MarshalJSON encodes the curve as an object keyed by grade string, with
// null for absent confidences.
func (c ConfidenceCurve) MarshalJSON() ([]byte, error) {
	m := make(map[string]Confidence, len(c.points))
	for _, p := range c.points {
		m[p.Grade.String()] = p.Confidence
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes the object form produced by MarshalJSON.
func (c *ConfidenceCurve) UnmarshalJSON(data []byte) error {
	var m map[string]Confidence
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	points := make([]CurvePoint, 0, len(m))
	for k, v := range m {
		g, err := ParseGrade(k)
		if err != nil {
			return err
		}
		points = append(points, CurvePoint{Grade: g, Confidence: v})
	}
	curve, err := NewConfidenceCurve(points...)
	if err != nil {
		return err
	}
	*c = curve
	return nil
}
