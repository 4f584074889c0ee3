// Package score implements the JSON score document the reference evaluators
// analyse: parts of measures of notes, plus the time signature, key, tempo
// and dynamic markings that apply to them.
package score

import (
	"bytes"
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

// Score is a parsed, validated score document. It is immutable after Parse
// and safe for concurrent use by evaluators.
type Score struct {
	Title string `json:"title"`

	// Key is the key signature at the start of the piece. Nil means the
	// piece has no key (atonal or percussion only).
	Key *KeySignature `json:"key,omitempty"`

	// Meters lists time signature changes by measure number. A score
	// without one is in 4/4.
	Meters []MeterMark `json:"meters" validate:"dive"`

	// Tempos lists metronome marks by measure number.
	Tempos []TempoMark `json:"tempos" validate:"dive"`

	Parts []Part `json:"parts" validate:"required,min=1,dive"`

	hash string
	memo memoTable
}

// KeySignature names a tonic and a mode.
type KeySignature struct {
	Tonic string `json:"tonic" validate:"required,pitchclass"`
	Mode  string `json:"mode" validate:"omitempty,oneof=major minor"`
}

// IsMinor reports whether the key is minor.
func (k KeySignature) IsMinor() bool { return k.Mode == "minor" }

// MeterMark sets the time signature from Measure on.
type MeterMark struct {
	Measure   int    `json:"measure" validate:"gte=1"`
	Signature string `json:"signature" validate:"required,timesig"`
}

// TempoMark sets the tempo from Measure on. BPM counts BeatUnit notes per
// minute.
type TempoMark struct {
	Measure  int    `json:"measure" validate:"gte=1"`
	BPM      int    `json:"bpm" validate:"gt=0,lte=400"`
	BeatUnit string `json:"beat_unit,omitempty" validate:"omitempty,rhythm"`
	Dots     int    `json:"dots,omitempty" validate:"gte=0,lte=2"`
	Text     string `json:"text,omitempty"`
}

// QuarterBPM returns the tempo in quarter notes per minute.
func (t TempoMark) QuarterBPM() float64 {
	unit := t.BeatUnit
	if unit == "" {
		unit = "quarter"
	}
	ql, _ := QuarterLength(unit, t.Dots)
	return float64(t.BPM) * ql
}

// Part is one instrument line.
type Part struct {
	Name     string        `json:"name" validate:"required"`
	Measures []Measure     `json:"measures" validate:"dive"`
	Dynamics []DynamicMark `json:"dynamics" validate:"dive"`
}

// Measure holds the events of one bar. Offsets are in quarter lengths from
// the start of the bar.
type Measure struct {
	Number int    `json:"number" validate:"gte=1"`
	Notes  []Note `json:"notes" validate:"dive"`
}

// Note is a note, chord or rest.
type Note struct {
	Offset float64 `json:"offset" validate:"gte=0"`

	// Type is the written rhythm value such as "quarter" or "16th".
	Type string `json:"type" validate:"required,rhythm"`
	Dots int    `json:"dots,omitempty" validate:"gte=0,lte=3"`

	// Pitches are scientific pitch names. More than one makes a chord; none
	// makes a rest.
	Pitches []string `json:"pitches,omitempty" validate:"dive,pitch"`

	Tuplet        *Tuplet  `json:"tuplet,omitempty"`
	Articulations []string `json:"articulations,omitempty" validate:"dive,oneof=staccato tenuto accent marcato slur"`
	Voice         int      `json:"voice,omitempty" validate:"gte=0"`
}

// IsRest reports whether the note has no pitches.
func (n Note) IsRest() bool { return len(n.Pitches) == 0 }

// Tuplet marks a note as part of an Actual:Normal tuplet, e.g. 3:2 for a
// triplet. Group distinguishes adjacent tuplets in one measure.
type Tuplet struct {
	Actual int `json:"actual" validate:"gte=2"`
	Normal int `json:"normal" validate:"gte=1"`
	Group  int `json:"group,omitempty"`
}

// Class buckets a tuplet the way rhythm rules refer to it.
func (t Tuplet) Class() string {
	switch {
	case t.Actual == 3 && t.Normal == 2:
		return TupletSimple
	case t.Actual%2 == 0:
		return TupletEven
	default:
		return TupletComplex
	}
}

// Tuplet classes, from easiest to hardest.
const (
	TupletSimple  = "simple"
	TupletEven    = "even"
	TupletComplex = "complex"
)

// DynamicMark places a dynamic at an offset within a measure.
type DynamicMark struct {
	Measure int     `json:"measure" validate:"gte=1"`
	Offset  float64 `json:"offset" validate:"gte=0"`
	Value   string  `json:"value" validate:"required"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
	validateErr  error
)

func scoreValidator() (*validator.Validate, error) {
	validateOnce.Do(func() {
		v := validator.New()
		for tag, fn := range map[string]validator.Func{
			"pitch":      validPitch,
			"pitchclass": validPitchClass,
			"timesig":    validTimeSignature,
			"rhythm":     validRhythm,
		} {
			if err := v.RegisterValidation(tag, fn); err != nil {
				validateErr = fmt.Errorf("register %s validator: %w", tag, err)
				return
			}
		}
		validate = v
	})
	return validate, validateErr
}

func validPitch(fl validator.FieldLevel) bool {
	_, err := ParsePitch(fl.Field().String())
	return err == nil
}

func validPitchClass(fl validator.FieldLevel) bool {
	_, err := PitchClass(fl.Field().String())
	return err == nil
}

func validTimeSignature(fl validator.FieldLevel) bool {
	_, err := ParseTimeSignature(fl.Field().String())
	return err == nil
}

func validRhythm(fl validator.FieldLevel) bool {
	_, ok := QuarterLength(fl.Field().String(), 0)
	return ok
}

// Parse decodes and validates a JSON score. Measures are sorted by number and
// markings by position, so evaluators can rely on document order.
func Parse(data []byte) (*Score, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var s Score
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode score: %w", err)
	}

	v, err := scoreValidator()
	if err != nil {
		return nil, err
	}
	if err := v.Struct(&s); err != nil {
		return nil, fmt.Errorf("invalid score: %w", err)
	}

	for i := range s.Parts {
		p := &s.Parts[i]
		slices.SortStableFunc(p.Measures, func(a, b Measure) int { return a.Number - b.Number })
		for j := 1; j < len(p.Measures); j++ {
			if p.Measures[j].Number == p.Measures[j-1].Number {
				return nil, fmt.Errorf("invalid score: part %q repeats measure %d", p.Name, p.Measures[j].Number)
			}
		}
		slices.SortStableFunc(p.Dynamics, func(a, b DynamicMark) int {
			if a.Measure != b.Measure {
				return a.Measure - b.Measure
			}
			return cmp.Compare(a.Offset, b.Offset)
		})
	}
	slices.SortStableFunc(s.Meters, func(a, b MeterMark) int { return a.Measure - b.Measure })
	slices.SortStableFunc(s.Tempos, func(a, b TempoMark) int { return a.Measure - b.Measure })

	sum := sha256.Sum256(data)
	s.hash = hex.EncodeToString(sum[:])
	return &s, nil
}

// ContentHash returns the sha256 of the document bytes.
func (s *Score) ContentHash() string { return s.hash }

// Memo returns the value computed by fn for key, computing it at most once
// per document. Evaluators use it to share expensive extraction work
// between grades.
func (s *Score) Memo(key string, fn func() (any, error)) (any, error) {
	return s.memo.get(key, fn)
}

// MeasureCount returns the number of measures in the first part.
func (s *Score) MeasureCount() int {
	if len(s.Parts) == 0 {
		return 0
	}
	return len(s.Parts[0].Measures)
}

type memoEntry struct {
	once sync.Once
	val  any
	err  error
}

type memoTable struct {
	mu      sync.Mutex
	entries map[string]*memoEntry
}

func (m *memoTable) get(key string, fn func() (any, error)) (any, error) {
	m.mu.Lock()
	if m.entries == nil {
		m.entries = make(map[string]*memoEntry)
	}
	e, ok := m.entries[key]
	if !ok {
		e = &memoEntry{}
		m.entries[key] = e
	}
	m.mu.Unlock()

	e.once.Do(func() { e.val, e.err = fn() })
	return e.val, e.err
}

var _ ports.Document = (*Score)(nil)
