package application

import (
	"slices"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
)

// NoteReconciler merges per-event annotations emitted by several evaluators
// into one record per event. When a second annotation arrives for a key
// already present, its present confidences and non-empty attributes
// overwrite the stored ones and its comments are unioned in, incoming labels
// winning. The result therefore depends on the order annotations are added.
//
// A NoteReconciler is owned by a single pipeline run and is not safe for
// concurrent use.
type NoteReconciler struct {
	records map[domain.EventKey]*domain.EventAnnotation
}

// NewNoteReconciler creates an empty reconciler.
func NewNoteReconciler() *NoteReconciler {
	return &NoteReconciler{records: make(map[domain.EventKey]*domain.EventAnnotation)}
}

// Add merges one annotation into the table. The offset of the key is
// re-rounded so callers that built keys by hand still collapse onto the same
// record.
func (r *NoteReconciler) Add(a domain.EventAnnotation) {
	a.Key.Offset = domain.RoundOffset(a.Key.Offset)
	if existing, ok := r.records[a.Key]; ok {
		existing.MergeFrom(a)
		return
	}
	rec := a.Clone()
	r.records[a.Key] = &rec
}

// AddAll merges annotations in order.
func (r *NoteReconciler) AddAll(as []domain.EventAnnotation) {
	for _, a := range as {
		r.Add(a)
	}
}

// Len returns the number of distinct events.
func (r *NoteReconciler) Len() int { return len(r.records) }

// Annotations returns copies of the merged records sorted by key.
func (r *NoteReconciler) Annotations() []domain.EventAnnotation {
	out := make([]domain.EventAnnotation, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	slices.SortFunc(out, func(a, b domain.EventAnnotation) int { return a.Key.Compare(b.Key) })
	return out
}
