package domain

import (
	"fmt"
	"time"
)

// Stage is a position in the analysis pipeline state machine.
type Stage string

// Pipeline stages. A run moves Pending → RunningNoteEvaluators →
// RunningOtherEvaluators → Aggregating → Done, or to Failed from any running
// stage.
const (
	StagePending                Stage = "pending"
	StageRunningNoteEvaluators  Stage = "running_note_evaluators"
	StageRunningOtherEvaluators Stage = "running_other_evaluators"
	StageAggregating            Stage = "aggregating"
	StageDone                   Stage = "done"
	StageFailed                 Stage = "failed"
)

// IsTerminal reports whether no further transitions can happen.
func (s Stage) IsTerminal() bool { return s == StageDone || s == StageFailed }

// DimensionResult is one evaluator's contribution to a report.
type DimensionResult struct {
	// Dimension is the evaluator name.
	Dimension string `json:"dimension"`

	// Curve is present only when observed grades were requested.
	Curve Optional[ConfidenceCurve] `json:"curve"`

	// Observed is the grade inferred from Curve.
	Observed Optional[Grade] `json:"observed_grade"`

	// TargetConfidence is the confidence at the target grade.
	TargetConfidence Confidence `json:"target_confidence"`

	// Light is the traffic-light band of TargetConfidence, empty when absent.
	Light Light `json:"light,omitempty"`

	// Detail is the evaluator-specific payload. It is opaque to the engine.
	Detail map[string]any `json:"detail,omitempty"`

	// Notes are the findings for the target grade, never empty in a finished
	// report.
	Notes []string `json:"notes"`

	// Error describes an isolated evaluator failure.
	Error string `json:"error,omitempty"`

	// CacheHit reports whether Curve came from the curve cache.
	CacheHit bool `json:"cache_hit,omitempty"`
}

// AggregateReport is the final output of a successful analysis.
type AggregateReport struct {
	TargetGrade Grade           `json:"target_grade"`
	Options     AnalysisOptions `json:"options"`

	// Dimensions holds one entry per evaluator in execution order.
	Dimensions []DimensionResult `json:"dimensions"`

	// Annotations is the merged per-event table sorted by key.
	Annotations []EventAnnotation `json:"annotations"`

	// Overall is the combined estimate, absent when no dimension produced an
	// observed grade.
	Overall Optional[Estimate] `json:"overall"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// Dimension returns the result for the named dimension.
func (r *AggregateReport) Dimension(name string) (DimensionResult, bool) {
	for _, d := range r.Dimensions {
		if d.Dimension == name {
			return d, true
		}
	}
	return DimensionResult{}, false
}

// NoIssuesNote is the placeholder finding used when a dimension reports
// nothing for the target grade.
func NoIssuesNote(dimension string, grade Grade) string {
	return fmt.Sprintf("No issues detected for %s at grade %s.", dimension, grade)
}
