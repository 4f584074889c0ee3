// Package domain contains pure, dependency-light domain models and algorithms
// for the grading engine: the grade scale, confidence curves, observed-grade
// inference, weighted aggregation, event annotations and job/report types.
package domain

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Grade is a point on the pedagogical difficulty scale. Grades are compared
// by value; the scale in use determines which values are meaningful.
type Grade float64

// String formats the grade without trailing zeros ("0.5", "2", "3.5").
func (g Grade) String() string {
	return strconv.FormatFloat(float64(g), 'f', -1, 64)
}

// ParseGrade parses a textual grade such as "2" or "0.5".
func ParseGrade(s string) (Grade, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parse grade %q: %w", s, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("parse grade %q: not finite", s)
	}
	return Grade(v), nil
}

// Scale is an ordered set of grades. A valid scale is non-empty, finite and
// strictly increasing.
type Scale []Grade

// DefaultScale is the coarse grade set used when observed grades are
// requested without an explicit scale.
var DefaultScale = Scale{0.5, 1, 2, 3, 4, 5}

// FullScale is the fine half-grade set, used only on request.
var FullScale = Scale{0.5, 1.0, 1.5, 2.0, 2.5, 3.0, 3.5, 4.0, 4.5, 5.0}

// MinGrade and MaxGrade bound every grade the engine accepts.
const (
	MinGrade Grade = 0.5
	MaxGrade Grade = 5.0
)

// Validate checks the scale invariants.
func (s Scale) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: grade scale is empty", ErrInvalidConfiguration)
	}
	for i, g := range s {
		if math.IsNaN(float64(g)) || math.IsInf(float64(g), 0) {
			return fmt.Errorf("%w: grade at index %d is not finite", ErrInvalidConfiguration, i)
		}
		if i > 0 && g <= s[i-1] {
			return fmt.Errorf("%w: grade scale not strictly increasing at index %d (%s after %s)",
				ErrInvalidConfiguration, i, g, s[i-1])
		}
	}
	return nil
}

// Contains reports whether g is a member of the scale.
func (s Scale) Contains(g Grade) bool {
	_, found := slices.BinarySearch(s, g)
	return found
}

// IsSubsetOf reports whether every grade of s is also in other. Both scales
// must be sorted.
func (s Scale) IsSubsetOf(other Scale) bool {
	for _, g := range s {
		if !other.Contains(g) {
			return false
		}
	}
	return true
}

// Normalize returns a sorted copy of s with duplicates removed. It is used on
// caller-provided grade lists before validation.
func (s Scale) Normalize() Scale {
	out := slices.Clone(s)
	slices.Sort(out)
	return slices.Compact(out)
}

// String renders the scale as a comma separated list, used in cache keys and
// logs.
func (s Scale) String() string {
	parts := make([]string, len(s))
	for i, g := range s {
		parts[i] = g.String()
	}
	return strings.Join(parts, ",")
}
