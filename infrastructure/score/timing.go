package score

import (
	"fmt"
	"strconv"
	"strings"
)

// rhythmValues maps written rhythm types to quarter lengths.
var rhythmValues = map[string]float64{
	"breve":   8,
	"whole":   4,
	"half":    2,
	"quarter": 1,
	"eighth":  0.5,
	"16th":    0.25,
	"32nd":    0.125,
	"64th":    0.0625,
	"128th":   0.03125,
}

// QuarterLength returns the length of a rhythm type with dots, in quarter
// notes. It reports false for unknown types.
func QuarterLength(rhythm string, dots int) (float64, bool) {
	base, ok := rhythmValues[rhythm]
	if !ok {
		return 0, false
	}
	total, add := base, base/2
	for range dots {
		total += add
		add /= 2
	}
	return total, true
}

// TimeSignature is a parsed meter such as 6/8.
type TimeSignature struct {
	Beats    int
	BeatType int
}

// Meter classes used by rule tables.
const (
	MeterSimple   = "simple"
	MeterCompound = "compound"
	MeterOdd      = "odd"
	MeterMixed    = "mixed"
)

// CommonTime is the meter assumed when a score declares none.
var CommonTime = TimeSignature{Beats: 4, BeatType: 4}

// ParseTimeSignature parses "N/D" where D is a power of two.
func ParseTimeSignature(s string) (TimeSignature, error) {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return TimeSignature{}, fmt.Errorf("time signature %q: want N/D", s)
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 || n > 32 {
		return TimeSignature{}, fmt.Errorf("time signature %q: bad numerator", s)
	}
	d, err := strconv.Atoi(den)
	if err != nil || d < 1 || d > 64 || d&(d-1) != 0 {
		return TimeSignature{}, fmt.Errorf("time signature %q: bad denominator", s)
	}
	return TimeSignature{Beats: n, BeatType: d}, nil
}

func (t TimeSignature) String() string { return fmt.Sprintf("%d/%d", t.Beats, t.BeatType) }

// BarLength returns the measure length in quarter notes.
func (t TimeSignature) BarLength() float64 {
	return float64(t.Beats) * 4 / float64(t.BeatType)
}

// BeatLength returns the length of one felt beat in quarter notes. Compound
// meters beat in dotted values.
func (t TimeSignature) BeatLength() float64 {
	if t.Class() == MeterCompound {
		return 3 * 4 / float64(t.BeatType)
	}
	return 4 / float64(t.BeatType)
}

// Class buckets the meter for rule lookups.
func (t TimeSignature) Class() string {
	switch {
	case t.BeatType == 4 && t.Beats >= 2 && t.Beats <= 4:
		return MeterSimple
	case t.BeatType == 8 && (t.Beats == 6 || t.Beats == 9 || t.Beats == 12):
		return MeterCompound
	case t.BeatType == 8 && t.Beats%3 != 0:
		return MeterOdd
	}
	return MeterMixed
}

// MeterSegment is a run of measures sharing one time signature.
type MeterSegment struct {
	Measure  int
	Meter    TimeSignature
	Measures int
	Exposure float64
}

// MeterAt returns the time signature in force at measure.
func (s *Score) MeterAt(measure int) TimeSignature {
	ts := CommonTime
	for _, m := range s.Meters {
		if m.Measure > measure {
			break
		}
		// Validated in Parse.
		ts, _ = ParseTimeSignature(m.Signature)
	}
	return ts
}

// MeterSegments splits the first part's measures wherever the time
// signature changes. Exposure is the segment's share of all measures.
func (s *Score) MeterSegments() []MeterSegment {
	if s.MeasureCount() == 0 {
		return nil
	}
	measures := s.Parts[0].Measures
	var segs []MeterSegment
	for _, m := range measures {
		ts := s.MeterAt(m.Number)
		if n := len(segs); n > 0 && segs[n-1].Meter == ts {
			segs[n-1].Measures++
			continue
		}
		segs = append(segs, MeterSegment{Measure: m.Number, Meter: ts, Measures: 1})
	}
	for i := range segs {
		segs[i].Exposure = float64(segs[i].Measures) / float64(len(measures))
	}
	return segs
}

// DefaultBPM is the tempo assumed when a score has no metronome marks.
const DefaultBPM = 100

// TempoSegment is a run of measures at one tempo.
type TempoSegment struct {
	Mark     TempoMark
	Measures int
	Quarters float64
	Exposure float64

	// Assumed is set when the score has no tempo marks and DefaultBPM is
	// used.
	Assumed bool
}

// Seconds returns how long the segment lasts.
func (t TempoSegment) Seconds() float64 {
	qpm := t.Mark.QuarterBPM()
	if qpm <= 0 {
		return 0
	}
	return 60 / qpm * t.Quarters
}

// TempoSegments splits the first part's measures at each tempo mark.
func (s *Score) TempoSegments() []TempoSegment {
	if s.MeasureCount() == 0 {
		return nil
	}
	measures := s.Parts[0].Measures
	var segs []TempoSegment
	mark := -1
	for _, m := range measures {
		next := mark
		for next+1 < len(s.Tempos) && s.Tempos[next+1].Measure <= m.Number {
			next++
		}
		if next != mark || len(segs) == 0 {
			mark = next
			seg := TempoSegment{Mark: TempoMark{Measure: m.Number, BPM: DefaultBPM}, Assumed: true}
			if mark >= 0 {
				seg = TempoSegment{Mark: s.Tempos[mark]}
			}
			segs = append(segs, seg)
		}
		cur := &segs[len(segs)-1]
		cur.Measures++
		cur.Quarters += s.MeterAt(m.Number).BarLength()
	}
	for i := range segs {
		segs[i].Exposure = float64(segs[i].Measures) / float64(len(measures))
	}
	return segs
}

// Seconds estimates the performance length from the tempo segments.
func (s *Score) Seconds() float64 {
	var total float64
	for _, seg := range s.TempoSegments() {
		total += seg.Seconds()
	}
	return total
}
