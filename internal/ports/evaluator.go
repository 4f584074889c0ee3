// Package ports defines the core interfaces that form the contract between
// the domain/application layers and the infrastructure layer.
// These interfaces enable dependency inversion and make the system testable.
package ports

import (
	"context"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
)

// Document is an opaque handle to a parsed musical score. The engine never
// inspects it; it only threads it through to evaluators.
type Document interface {
	// ContentHash returns a stable hash of the document bytes. Two documents
	// with identical bytes must return the same hash.
	ContentHash() string
}

// EvaluatorKind partitions evaluators into execution groups.
type EvaluatorKind int

const (
	// KindNotes evaluators emit per-event annotations from their target pass.
	// They run before every KindAggregate evaluator.
	KindNotes EvaluatorKind = iota
	// KindAggregate evaluators contribute only a dimension-level result.
	KindAggregate
)

// String returns the kind name used in logs and configuration.
func (k EvaluatorKind) String() string {
	if k == KindNotes {
		return "notes"
	}
	return "aggregate"
}

// TargetResult is the UI-facing output of an evaluator at the target grade.
type TargetResult struct {
	// Detail is the dimension-specific payload. It is opaque to the engine.
	Detail map[string]any

	// Confidence must agree with Evaluator.Confidence for the same grade.
	Confidence domain.Confidence

	// Findings are human-readable notes about the document at this grade.
	// An empty slice means nothing worth reporting.
	Findings []string

	// Annotations are per-event records. Only KindNotes evaluators set them.
	Annotations []domain.EventAnnotation
}

// Evaluator scores one difficulty dimension of a document. Implementations
// are pure functions of (document, grade, options), must not mutate the
// document, and must be safe for concurrent use by multiple jobs.
type Evaluator interface {
	// Name returns the dimension name, unique within a registry.
	Name() string

	// Kind reports which execution group the evaluator belongs to.
	Kind() EvaluatorKind

	// Confidence returns how well the document fits the given grade. A grade
	// the evaluator has no rules for yields an absent confidence and a nil
	// error; it must not abort the curve. The call is repeated once per grade
	// of the scale, so expensive per-document work should be memoised.
	//
	// Example:
	//
	//	c, err := eval.Confidence(ctx, doc, 2, domain.EvalOptions{})
	//	if v, ok := c.Get(); ok && v > 0.6 {
	//	    // comfortable at grade 2
	//	}
	Confidence(ctx context.Context, doc Document, grade domain.Grade, opts domain.EvalOptions) (domain.Confidence, error)

	// EvaluateTarget produces the detailed result at the target grade.
	EvaluateTarget(ctx context.Context, doc Document, grade domain.Grade, opts domain.EvalOptions) (TargetResult, error)
}

// EvaluatorFactory builds an evaluator from configuration parameters.
// A nil params map means defaults.
type EvaluatorFactory func(params map[string]any) (Evaluator, error)
