// Package evaluators provides the built-in difficulty dimensions. Each
// evaluator reads a *score.Score and scores it against the guideline tables
// in Rules. All of them are stateless apart from their rules and are safe for
// concurrent use; per-document work is memoised on the score itself.
package evaluators

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/infrastructure/score"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

// ErrUnsupportedDocument is returned when an evaluator is handed a document
// that is not a *score.Score.
var ErrUnsupportedDocument = errors.New("unsupported document type")

// RulesPathParam names a YAML rules file that replaces the embedded
// guidelines for one evaluator.
const RulesPathParam = "rules_path"

// assessor computes one dimension. With detail unset only Confidence is
// needed, so implementations may skip findings and annotations.
type assessor interface {
	assess(s *score.Score, g domain.Grade, opts domain.EvalOptions, detail bool) ports.TargetResult
}

type evaluator struct {
	name string
	kind ports.EvaluatorKind
	a    assessor
}

var _ ports.Evaluator = (*evaluator)(nil)

func (e *evaluator) Name() string { return e.name }

func (e *evaluator) Kind() ports.EvaluatorKind { return e.kind }

func (e *evaluator) Confidence(ctx context.Context, doc ports.Document, g domain.Grade, opts domain.EvalOptions) (domain.Confidence, error) {
	s, err := asScore(ctx, doc)
	if err != nil {
		return domain.UnknownConfidence(), err
	}
	return e.a.assess(s, g, opts, false).Confidence, nil
}

func (e *evaluator) EvaluateTarget(ctx context.Context, doc ports.Document, g domain.Grade, opts domain.EvalOptions) (ports.TargetResult, error) {
	s, err := asScore(ctx, doc)
	if err != nil {
		return ports.TargetResult{}, err
	}
	return e.a.assess(s, g, opts, true), nil
}

func asScore(ctx context.Context, doc ports.Document) (*score.Score, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, ok := doc.(*score.Score)
	if !ok || s == nil {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedDocument, doc)
	}
	return s, nil
}

type builder func(rules *Rules, params map[string]any) (assessor, error)

// Builtins returns a factory for every built-in evaluator keyed by name.
// Every factory accepts RulesPathParam; texture also accepts "slope".
func Builtins() map[string]ports.EvaluatorFactory {
	return map[string]ports.EvaluatorFactory{
		"rhythm":       factory("rhythm", ports.KindNotes, func(r *Rules, _ map[string]any) (assessor, error) { return rhythm{r}, nil }),
		"range":        factory("range", ports.KindNotes, func(r *Rules, _ map[string]any) (assessor, error) { return pitchRange{r}, nil }),
		"articulation": factory("articulation", ports.KindNotes, func(r *Rules, _ map[string]any) (assessor, error) { return articulation{r}, nil }),
		"meter":        factory("meter", ports.KindAggregate, func(r *Rules, _ map[string]any) (assessor, error) { return meter{r}, nil }),
		"key":          factory("key", ports.KindAggregate, func(r *Rules, _ map[string]any) (assessor, error) { return key{r}, nil }),
		"tempo":        factory("tempo", ports.KindAggregate, func(r *Rules, _ map[string]any) (assessor, error) { return tempo{r}, nil }),
		"duration":     factory("duration", ports.KindAggregate, func(r *Rules, _ map[string]any) (assessor, error) { return duration{r}, nil }),
		"dynamics":     factory("dynamics", ports.KindAggregate, func(r *Rules, _ map[string]any) (assessor, error) { return newDynamics(r), nil }),
		"availability": factory("availability", ports.KindAggregate, func(r *Rules, _ map[string]any) (assessor, error) { return availability{r}, nil }),
		"texture":      factory("texture", ports.KindAggregate, newTexture),
	}
}

func factory(name string, kind ports.EvaluatorKind, build builder) ports.EvaluatorFactory {
	return func(params map[string]any) (ports.Evaluator, error) {
		rules, err := rulesFrom(params)
		if err != nil {
			return nil, err
		}
		a, err := build(rules, params)
		if err != nil {
			return nil, err
		}
		return &evaluator{name: name, kind: kind, a: a}, nil
	}
}

func rulesFrom(params map[string]any) (*Rules, error) {
	v, ok := params[RulesPathParam]
	if !ok {
		return DefaultRules()
	}
	path, ok := v.(string)
	if !ok || path == "" {
		return nil, fmt.Errorf("%s must be a non-empty string", RulesPathParam)
	}
	return LoadRules(path)
}

func floatParam(params map[string]any, name string, def float64) (float64, error) {
	v, ok := params[name]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("%s must be a number, got %T", name, v)
}

// weighted accumulates values for a weighted mean.
type weighted struct {
	values, weights []float64
}

func (w *weighted) add(v, weight float64) {
	w.values = append(w.values, v)
	w.weights = append(w.weights, weight)
}

func (w *weighted) mean() (float64, bool) {
	if len(w.values) == 0 {
		return 0, false
	}
	var total float64
	for _, x := range w.weights {
		total += x
	}
	if total <= 0 {
		return stat.Mean(w.values, nil), true
	}
	return stat.Mean(w.values, w.weights), true
}

// meanOf is the unweighted mean, absent for an empty slice.
func meanOf(values []float64) domain.Confidence {
	if len(values) == 0 {
		return domain.UnknownConfidence()
	}
	return domain.KnownConfidence(stat.Mean(values, nil))
}

// findings collects distinct messages in first-seen order and counts
// repeats.
type findings struct {
	order  []string
	counts map[string]int
}

func (f *findings) add(msg string) {
	if f.counts == nil {
		f.counts = make(map[string]int)
	}
	if f.counts[msg] == 0 {
		f.order = append(f.order, msg)
	}
	f.counts[msg]++
}

func (f *findings) list() []string {
	out := make([]string, 0, len(f.order))
	for _, msg := range f.order {
		if n := f.counts[msg]; n > 1 {
			msg = fmt.Sprintf("%s (%d events)", msg, n)
		}
		out = append(out, msg)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
