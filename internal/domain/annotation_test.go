package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func nan() float64 { return math.NaN() }

func TestNewEventKeyRoundsOffset(t *testing.T) {
	a := NewEventKey("violin", 3, 1.0000000001, 60, ChordSlot{})
	b := NewEventKey("violin", 3, 0.9999999999, 60, ChordSlot{})

	assert.Equal(t, a, b)
	assert.Equal(t, 0, a.Compare(b))
	assert.Equal(t, 1.0, a.Offset)
	assert.Equal(t, 0.33333, RoundOffset(1.0/3))
}

func TestEventKeyCompare(t *testing.T) {
	base := NewEventKey("viola", 2, 1.5, 60, ChordSlot{Size: 2, Index: 0})

	tests := []struct {
		name  string
		other EventKey
		want  int
	}{
		{"instrument", NewEventKey("violin", 2, 1.5, 60, ChordSlot{Size: 2}), -1},
		{"measure", NewEventKey("viola", 1, 1.5, 60, ChordSlot{Size: 2}), 1},
		{"offset", NewEventKey("viola", 2, 2, 60, ChordSlot{Size: 2}), -1},
		{"pitch", NewEventKey("viola", 2, 1.5, 59, ChordSlot{Size: 2}), 1},
		{"chord index", NewEventKey("viola", 2, 1.5, 60, ChordSlot{Size: 2, Index: 1}), -1},
		{"equal", NewEventKey("viola", 2, 1.5, 60, ChordSlot{Size: 2}), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.Compare(tt.other))
		})
	}
}

func TestEventAnnotationMergeFrom(t *testing.T) {
	key := NewEventKey("cello", 1, 0, 48, ChordSlot{})
	rec := EventAnnotation{
		Key:         key,
		Confidences: map[string]Confidence{"rhythm_confidence": Some(0.8)},
		Attributes:  map[string]string{"rhythm": "eighth"},
		Comments:    map[string]string{"rhythm": "ok"},
	}

	rec.MergeFrom(EventAnnotation{
		Key: key,
		Confidences: map[string]Confidence{
			"range_confidence":  Some(0.4),
			"rhythm_confidence": None[float64](),
		},
		Attributes: map[string]string{"pitch": "C3", "rhythm": ""},
		Comments:   map[string]string{"range": "low"},
	})

	assert.Equal(t, Some(0.8), rec.Confidences["rhythm_confidence"], "absent values never overwrite")
	assert.Equal(t, Some(0.4), rec.Confidences["range_confidence"])
	assert.Equal(t, "eighth", rec.Attributes["rhythm"])
	assert.Equal(t, "C3", rec.Attributes["pitch"])
	assert.Equal(t, map[string]string{"rhythm": "ok", "range": "low"}, rec.Comments)

	rec.MergeFrom(EventAnnotation{
		Key:         key,
		Confidences: map[string]Confidence{"rhythm_confidence": Some(0.1)},
		Comments:    map[string]string{"rhythm": "revised"},
	})

	assert.Equal(t, Some(0.1), rec.Confidences["rhythm_confidence"], "later present value wins")
	assert.Equal(t, "revised", rec.Comments["rhythm"])
}

func TestEventAnnotationMergeIntoEmpty(t *testing.T) {
	var rec EventAnnotation
	rec.MergeFrom(EventAnnotation{
		Confidences: map[string]Confidence{"a": Some(0.5)},
		Attributes:  map[string]string{"b": "x"},
		Comments:    map[string]string{"c": "y"},
	})

	assert.Equal(t, Some(0.5), rec.Confidences["a"])
	assert.Equal(t, "x", rec.Attributes["b"])
	assert.Equal(t, "y", rec.Comments["c"])
}

func TestEventAnnotationClone(t *testing.T) {
	orig := EventAnnotation{Comments: map[string]string{"a": "b"}}
	cp := orig.Clone()
	cp.Comments["a"] = "changed"

	assert.Equal(t, "b", orig.Comments["a"])
}
