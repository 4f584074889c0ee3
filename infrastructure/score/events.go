package score

import (
	"math"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
)

// NoteEvent is one note or rest of one part, with its metrical context
// resolved. A chord yields one event per pitch.
type NoteEvent struct {
	Part       string
	Instrument Instrument
	Measure    int
	Offset     float64
	Duration   float64
	Rhythm     string
	Dots       int
	Rest       bool

	// Pitch is the MIDI number, or domain.Unpitched for rests.
	Pitch     int
	PitchName string
	Chord     domain.ChordSlot

	Tuplet        *Tuplet
	Articulations []string
	Voice         int

	Meter TimeSignature
}

// Key returns the annotation key for the event.
func (e NoteEvent) Key() domain.EventKey {
	return domain.NewEventKey(e.Part, e.Measure, e.Offset, e.Pitch, e.Chord)
}

// Syncopated reports whether the event starts off a multiple of its own
// length within the bar.
func (e NoteEvent) Syncopated() bool {
	if e.Duration <= 0 {
		return false
	}
	r := math.Mod(e.Offset, e.Duration)
	return r > 1e-9 && e.Duration-r > 1e-9
}

// PartEvents groups the events of one part.
type PartEvents struct {
	Name       string
	Instrument Instrument
	Events     []NoteEvent
}

// Events flattens the score into per-part event lists. The result is
// memoised and shared; callers must not modify it.
func (s *Score) Events() []PartEvents {
	v, _ := s.Memo("score.events", func() (any, error) {
		return s.buildEvents(), nil
	})
	return v.([]PartEvents)
}

func (s *Score) buildEvents() []PartEvents {
	out := make([]PartEvents, 0, len(s.Parts))
	for _, p := range s.Parts {
		inst := ResolveInstrument(p.Name)
		pe := PartEvents{Name: p.Name, Instrument: inst}
		for _, m := range p.Measures {
			ts := s.MeterAt(m.Number)
			for _, n := range m.Notes {
				base := NoteEvent{
					Part:          p.Name,
					Instrument:    inst,
					Measure:       m.Number,
					Offset:        n.Offset,
					Rhythm:        n.Type,
					Dots:          n.Dots,
					Tuplet:        n.Tuplet,
					Articulations: n.Articulations,
					Voice:         n.Voice,
					Meter:         ts,
					Pitch:         domain.Unpitched,
				}
				base.Duration, _ = QuarterLength(n.Type, n.Dots)
				if n.Tuplet != nil {
					base.Duration = base.Duration * float64(n.Tuplet.Normal) / float64(n.Tuplet.Actual)
				}
				if n.IsRest() {
					base.Rest = true
					pe.Events = append(pe.Events, base)
					continue
				}
				for i, name := range n.Pitches {
					ev := base
					// Validated in Parse.
					ev.Pitch, _ = ParsePitch(name)
					ev.PitchName = name
					if len(n.Pitches) > 1 {
						ev.Chord = domain.ChordSlot{Size: len(n.Pitches), Index: i}
					}
					pe.Events = append(pe.Events, ev)
				}
			}
		}
		out = append(out, pe)
	}
	return out
}
