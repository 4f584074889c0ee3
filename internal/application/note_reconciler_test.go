package application

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
)

func TestNoteReconciler_MergesSameEvent(t *testing.T) {
	r := NewNoteReconciler()
	key := domain.NewEventKey("violin", 4, 1.5, 67, domain.ChordSlot{})

	r.Add(domain.EventAnnotation{
		Key:         key,
		Confidences: map[string]domain.Confidence{"rhythm_confidence": domain.Some(0.9)},
		Comments:    map[string]string{"rhythm": "dotted eighth"},
	})
	r.Add(domain.EventAnnotation{
		Key:         key,
		Confidences: map[string]domain.Confidence{"range_confidence": domain.Some(0.3)},
		Attributes:  map[string]string{"pitch": "G4"},
		Comments:    map[string]string{"range": "above first position"},
	})

	require.Equal(t, 1, r.Len())
	rec := r.Annotations()[0]
	assert.Equal(t, domain.Some(0.9), rec.Confidences["rhythm_confidence"])
	assert.Equal(t, domain.Some(0.3), rec.Confidences["range_confidence"])
	assert.Equal(t, "G4", rec.Attributes["pitch"])
	assert.Equal(t, map[string]string{
		"rhythm": "dotted eighth",
		"range":  "above first position",
	}, rec.Comments)

	r.Add(domain.EventAnnotation{
		Key:         key,
		Confidences: map[string]domain.Confidence{"rhythm_confidence": domain.Some(0.2)},
	})

	require.Equal(t, 1, r.Len(), "never two records per key")
	rec = r.Annotations()[0]
	assert.Equal(t, domain.Some(0.2), rec.Confidences["rhythm_confidence"], "third writer overwrites")
	assert.Equal(t, domain.Some(0.3), rec.Confidences["range_confidence"])
}

func TestNoteReconciler_OffsetNoiseCollapses(t *testing.T) {
	r := NewNoteReconciler()

	r.Add(domain.EventAnnotation{Key: domain.EventKey{Instrument: "flute", Measure: 1, Offset: 0.3333333333, Pitch: 72}})
	r.Add(domain.EventAnnotation{Key: domain.EventKey{Instrument: "flute", Measure: 1, Offset: 0.3333300001, Pitch: 72}})

	assert.Equal(t, 1, r.Len())
}

func TestNoteReconciler_DistinctKeysSorted(t *testing.T) {
	r := NewNoteReconciler()
	r.AddAll([]domain.EventAnnotation{
		{Key: domain.NewEventKey("viola", 2, 0, 60, domain.ChordSlot{})},
		{Key: domain.NewEventKey("cello", 1, 0, 48, domain.ChordSlot{})},
		{Key: domain.NewEventKey("viola", 1, 2, 62, domain.ChordSlot{Size: 2, Index: 1})},
		{Key: domain.NewEventKey("viola", 1, 2, 62, domain.ChordSlot{Size: 2, Index: 0})},
	})

	got := r.Annotations()
	require.Len(t, got, 4)
	assert.Equal(t, "cello", got[0].Key.Instrument)
	assert.Equal(t, 0, got[1].Key.Chord.Index)
	assert.Equal(t, 1, got[2].Key.Chord.Index)
	assert.Equal(t, 2, got[3].Key.Measure)
}

func TestNoteReconciler_AnnotationsAreCopies(t *testing.T) {
	r := NewNoteReconciler()
	input := domain.EventAnnotation{
		Key:      domain.NewEventKey("bass", 1, 0, 40, domain.ChordSlot{}),
		Comments: map[string]string{"range": "low E"},
	}
	r.Add(input)
	input.Comments["range"] = "mutated"

	out := r.Annotations()
	assert.Equal(t, "low E", out[0].Comments["range"], "stored record is independent of the input")

	out[0].Comments["range"] = "mutated again"
	assert.Equal(t, "low E", r.Annotations()[0].Comments["range"])
}
