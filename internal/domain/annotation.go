package domain

import (
	"cmp"
	"maps"
	"math"
)

// OffsetPrecision is the number of decimal places kept when an event offset
// becomes part of an EventKey.
const OffsetPrecision = 5

// Unpitched marks an event with no written pitch (rests, unpitched
// percussion).
const Unpitched = -1

// ChordSlot identifies a note's position within a chord. A zero Size means
// the event is not part of a chord.
type ChordSlot struct {
	Size  int `json:"size"`
	Index int `json:"index"`
}

// EventKey is the composite identity of one musical event. Two annotations
// with equal keys describe the same event and are merged.
type EventKey struct {
	Instrument string    `json:"instrument"`
	Measure    int       `json:"measure"`
	Offset     float64   `json:"offset"`
	Pitch      int       `json:"pitch"`
	Chord      ChordSlot `json:"chord"`
}

// NewEventKey builds an EventKey, rounding offset to OffsetPrecision decimal
// places so that float noise does not split one event into two.
func NewEventKey(instrument string, measure int, offset float64, pitch int, chord ChordSlot) EventKey {
	return EventKey{
		Instrument: instrument,
		Measure:    measure,
		Offset:     RoundOffset(offset),
		Pitch:      pitch,
		Chord:      chord,
	}
}

// RoundOffset rounds an offset to OffsetPrecision decimal places.
func RoundOffset(offset float64) float64 {
	scale := math.Pow10(OffsetPrecision)
	return math.Round(offset*scale) / scale
}

// Compare orders keys by instrument, measure, offset, pitch and chord slot.
func (k EventKey) Compare(o EventKey) int {
	if c := cmp.Compare(k.Instrument, o.Instrument); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Measure, o.Measure); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Offset, o.Offset); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Pitch, o.Pitch); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Chord.Size, o.Chord.Size); c != 0 {
		return c
	}
	return cmp.Compare(k.Chord.Index, o.Chord.Index)
}

// EventAnnotation is one evaluator's findings for a single musical event.
// Confidences and Attributes are sparse: an evaluator sets only the fields it
// knows about.
type EventAnnotation struct {
	Key EventKey `json:"key"`

	// Confidences holds named per-event confidences such as
	// "rhythm_confidence" or "range_confidence".
	Confidences map[string]Confidence `json:"confidences,omitempty"`

	// Attributes holds descriptive values such as the written pitch name or
	// rhythm token.
	Attributes map[string]string `json:"attributes,omitempty"`

	// Comments maps a label to free text shown alongside the event.
	Comments map[string]string `json:"comments,omitempty"`
}

// Clone returns a deep copy of the annotation.
func (a EventAnnotation) Clone() EventAnnotation {
	return EventAnnotation{
		Key:         a.Key,
		Confidences: maps.Clone(a.Confidences),
		Attributes:  maps.Clone(a.Attributes),
		Comments:    maps.Clone(a.Comments),
	}
}

// MergeFrom folds incoming into a. Every present incoming confidence and
// every non-empty incoming attribute overwrites the existing value; comments
// are unioned with incoming winning on conflicting labels.
func (a *EventAnnotation) MergeFrom(incoming EventAnnotation) {
	for name, c := range incoming.Confidences {
		if !c.Present() {
			continue
		}
		if a.Confidences == nil {
			a.Confidences = make(map[string]Confidence)
		}
		a.Confidences[name] = c
	}
	for name, v := range incoming.Attributes {
		if v == "" {
			continue
		}
		if a.Attributes == nil {
			a.Attributes = make(map[string]string)
		}
		a.Attributes[name] = v
	}
	if len(incoming.Comments) > 0 {
		if a.Comments == nil {
			a.Comments = make(map[string]string, len(incoming.Comments))
		}
		maps.Copy(a.Comments, incoming.Comments)
	}
}
