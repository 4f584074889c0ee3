package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

// ProgressSink receives progress from a pipeline run. Implementations must
// be safe for concurrent use when aggregate evaluators run in parallel.
type ProgressSink interface {
	// Emit records one progress event.
	Emit(event domain.Event)

	// SetStage records a pipeline state transition.
	SetStage(stage domain.Stage)
}

type nopSink struct{}

func (nopSink) Emit(domain.Event)     {}
func (nopSink) SetStage(domain.Stage) {}

// PipelineConfig configures an AnalysisPipeline.
type PipelineConfig struct {
	// Weights are the per-dimension aggregation weights. Nil means
	// domain.DefaultWeights.
	Weights map[string]float64

	// ParallelEvaluators bounds concurrent aggregate-only evaluators within
	// one run. Values below 2 run them sequentially. Note-producing
	// evaluators always run sequentially.
	ParallelEvaluators int
}

// RunRequest is the input of one pipeline run.
type RunRequest struct {
	Doc         ports.Document
	TargetGrade domain.Grade
	Options     domain.AnalysisOptions
}

// AnalysisPipeline runs an evaluator set over one document and assembles
// the AggregateReport. It is stateless between runs and safe for concurrent
// use; the curve cache is shared across runs.
type AnalysisPipeline struct {
	evaluators *EvaluatorSet
	cache      ports.CurveCache
	weights    map[string]float64
	parallel   int
	metrics    ports.MetricsCollector
	logger     *zap.Logger
	now        func() time.Time
}

// NewAnalysisPipeline creates a pipeline. cache may be nil, in which case
// every observed-grade request computes its curve.
func NewAnalysisPipeline(
	evaluators *EvaluatorSet,
	cache ports.CurveCache,
	cfg PipelineConfig,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) (*AnalysisPipeline, error) {
	if evaluators == nil || evaluators.Len() == 0 {
		return nil, fmt.Errorf("%w: pipeline needs at least one evaluator", domain.ErrInvalidConfiguration)
	}
	weights := cfg.Weights
	if weights == nil {
		weights = domain.DefaultWeights()
	}
	for name, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("%w: negative weight %v for %s", domain.ErrInvalidConfiguration, w, name)
		}
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisPipeline{
		evaluators: evaluators,
		cache:      cache,
		weights:    weights,
		parallel:   cfg.ParallelEvaluators,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Evaluators returns the evaluator names in run order.
func (p *AnalysisPipeline) Evaluators() []string { return p.evaluators.Names() }

// Run executes every evaluator and returns the report. Evaluator failures
// are isolated into their dimension; context cancellation or deadline
// expiry aborts the run and no report is returned.
func (p *AnalysisPipeline) Run(ctx context.Context, req RunRequest, sink ProgressSink) (*domain.AggregateReport, error) {
	if sink == nil {
		sink = nopSink{}
	}
	if req.Doc == nil {
		return nil, fmt.Errorf("%w: no document", domain.ErrInvalidState)
	}
	grades := req.Options.Grades().Normalize()
	if req.Options.RunObserved {
		if err := grades.Validate(); err != nil {
			return nil, err
		}
	}

	started := p.now()
	r := &run{
		p:      p,
		req:    req,
		grades: grades,
		fp:     domain.NewFingerprint(req.Doc.ContentHash(), req.Options.Eval),
		total:  p.evaluators.Len(),
		sink:   sink,
	}

	fail := func(err error) (*domain.AggregateReport, error) {
		sink.SetStage(domain.StageFailed)
		return nil, err
	}

	sink.SetStage(domain.StageRunningNoteEvaluators)
	reconciler := NewNoteReconciler()
	results := make([]domain.DimensionResult, 0, r.total)
	for _, ev := range p.evaluators.Notes() {
		res, annotations, err := r.evaluate(ctx, ev)
		if err != nil {
			return fail(err)
		}
		reconciler.AddAll(annotations)
		results = append(results, res)
	}

	sink.SetStage(domain.StageRunningOtherEvaluators)
	others, err := r.evaluateOthers(ctx, p.evaluators.Others())
	if err != nil {
		return fail(err)
	}
	results = append(results, others...)

	sink.SetStage(domain.StageAggregating)
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	observed := make(map[string]domain.Optional[domain.Grade], len(results))
	for _, res := range results {
		observed[res.Dimension] = res.Observed
	}

	finished := p.now()
	report := &domain.AggregateReport{
		TargetGrade: req.TargetGrade,
		Options:     req.Options,
		Dimensions:  results,
		Annotations: reconciler.Annotations(),
		Overall:     domain.Aggregate(observed, p.weights),
		StartedAt:   started,
		FinishedAt:  finished,
		Elapsed:     finished.Sub(started),
	}
	sink.SetStage(domain.StageDone)
	return report, nil
}

// run carries the per-request state shared by evaluator steps.
type run struct {
	p      *AnalysisPipeline
	req    RunRequest
	grades domain.Scale
	fp     domain.Fingerprint
	total  int
	sink   ProgressSink

	mu   sync.Mutex
	step int
}

func (r *run) evaluateOthers(ctx context.Context, evs []ports.Evaluator) ([]domain.DimensionResult, error) {
	results := make([]domain.DimensionResult, len(evs))
	if r.p.parallel < 2 {
		for i, ev := range evs {
			res, _, err := r.evaluate(ctx, ev)
			if err != nil {
				return nil, err
			}
			results[i] = res
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.p.parallel)
	for i, ev := range evs {
		g.Go(func() error {
			res, _, err := r.evaluate(gctx, ev)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// evaluate runs one evaluator step. The returned error is non-nil only when
// the run itself must stop.
func (r *run) evaluate(ctx context.Context, ev ports.Evaluator) (domain.DimensionResult, []domain.EventAnnotation, error) {
	if err := ctx.Err(); err != nil {
		return domain.DimensionResult{}, nil, err
	}

	name := ev.Name()
	labels := map[string]string{"evaluator": name}
	log := r.p.logger.With(zap.String("evaluator", name))
	start := r.p.now()
	res := domain.DimensionResult{Dimension: name}
	var failures []string

	if r.req.Options.RunObserved {
		curve, hit, err := r.curve(ctx, ev)
		switch {
		case err != nil && ctx.Err() != nil:
			return res, nil, ctx.Err()
		case err != nil:
			log.Warn("observed-grade curve failed", zap.Error(err))
			r.p.metrics.RecordCounter(ports.MetricEvaluatorErrors, 1, labels)
			failures = append(failures, err.Error())
		default:
			res.Curve = domain.Some(curve)
			res.Observed = domain.InferObservedGrade(curve)
			res.CacheHit = hit
			if g, ok := res.Observed.Get(); ok {
				r.p.metrics.RecordHistogram(ports.MetricObservedGrade, float64(g), labels)
			}
		}
	}

	target, err := safeEvaluateTarget(ctx, ev, r.req.Doc, r.req.TargetGrade, r.req.Options.Eval)
	if err != nil {
		if ctx.Err() != nil {
			return res, nil, ctx.Err()
		}
		evErr := domain.NewEvaluatorError(name, domain.Some(r.req.TargetGrade), err)
		log.Warn("target-grade evaluation failed", zap.Error(evErr))
		r.p.metrics.RecordCounter(ports.MetricEvaluatorErrors, 1, labels)
		failures = append(failures, evErr.Error())
	} else {
		res.TargetConfidence = target.Confidence
		res.Detail = target.Detail
		res.Notes = append(res.Notes, target.Findings...)
	}

	if c, ok := res.TargetConfidence.Get(); ok {
		res.Light = domain.TrafficLight(c)
	}
	if len(failures) > 0 {
		res.Error = failures[0]
	}
	if len(res.Notes) == 0 {
		if res.Error != "" {
			res.Notes = []string{fmt.Sprintf("%s could not be evaluated at grade %s.", name, r.req.TargetGrade)}
		} else {
			res.Notes = []string{domain.NoIssuesNote(name, r.req.TargetGrade)}
		}
	}

	r.p.metrics.RecordLatency(ports.MetricEvaluatorDuration, r.p.now().Sub(start), labels)
	r.mu.Lock()
	r.step++
	step := r.step
	r.mu.Unlock()
	r.sink.Emit(domain.EvaluatorEvent(name, step, r.total))
	log.Debug("evaluator finished", zap.Int("step", step), zap.Bool("cache_hit", res.CacheHit))

	return res, target.Annotations, nil
}

// curve returns the observed-grade curve for ev, consulting the cache when
// one is configured. When this run did not sample the curve itself, either
// because of a cache hit or because it joined another run's computation,
// the per-grade progress events are replayed into this run's sink.
func (r *run) curve(ctx context.Context, ev ports.Evaluator) (domain.ConfidenceCurve, bool, error) {
	var sampled atomic.Bool
	compute := func(ctx context.Context, grades domain.Scale) (domain.ConfidenceCurve, error) {
		sampled.Store(true)
		return r.sample(ctx, ev, grades)
	}
	if r.p.cache == nil {
		curve, err := compute(ctx, r.grades)
		return curve, false, err
	}

	key := ports.CurveKey{Fingerprint: r.fp, Evaluator: ev.Name()}
	curve, hit, err := r.p.cache.GetOrCompute(ctx, key, r.grades, compute)
	if err != nil {
		return domain.ConfidenceCurve{}, false, err
	}
	if hit || !sampled.Load() {
		for i, g := range r.grades {
			r.sink.Emit(domain.ObservedEvent(ev.Name(), g, i+1, len(r.grades), true))
		}
	}
	return curve, hit, nil
}

// sample calls Confidence once per grade. A failure at one grade leaves that
// grade absent; only context errors abort.
func (r *run) sample(ctx context.Context, ev ports.Evaluator, grades domain.Scale) (domain.ConfidenceCurve, error) {
	points := make([]domain.CurvePoint, 0, len(grades))
	for i, g := range grades {
		if err := ctx.Err(); err != nil {
			return domain.ConfidenceCurve{}, err
		}
		c, err := safeConfidence(ctx, ev, r.req.Doc, g, r.req.Options.Eval)
		if err != nil {
			if ctx.Err() != nil {
				return domain.ConfidenceCurve{}, ctx.Err()
			}
			r.p.logger.Debug("confidence unavailable",
				zap.String("evaluator", ev.Name()),
				zap.Stringer("grade", g),
				zap.Error(err),
			)
			c = domain.UnknownConfidence()
		}
		points = append(points, domain.CurvePoint{Grade: g, Confidence: c})
		r.sink.Emit(domain.ObservedEvent(ev.Name(), g, i+1, len(grades), false))
	}
	return domain.NewConfidenceCurve(points...)
}

// errEvaluatorPanic marks a recovered evaluator panic.
var errEvaluatorPanic = errors.New("evaluator panicked")

func safeConfidence(
	ctx context.Context, ev ports.Evaluator, doc ports.Document, g domain.Grade, opts domain.EvalOptions,
) (c domain.Confidence, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			c, err = domain.UnknownConfidence(), fmt.Errorf("%w: %v", errEvaluatorPanic, rec)
		}
	}()
	return ev.Confidence(ctx, doc, g, opts)
}

func safeEvaluateTarget(
	ctx context.Context, ev ports.Evaluator, doc ports.Document, g domain.Grade, opts domain.EvalOptions,
) (res ports.TargetResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res, err = ports.TargetResult{}, fmt.Errorf("%w: %v", errEvaluatorPanic, rec)
		}
	}()
	return ev.EvaluateTarget(ctx, doc, g, opts)
}
