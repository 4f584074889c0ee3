package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/infrastructure/cache"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

var sharedKey = domain.NewEventKey("violin", 1, 0, 67, domain.ChordSlot{})

func noteEvaluator(name string, peak domain.Grade, field string, value float64) *fakeEvaluator {
	ev := &fakeEvaluator{name: name, kind: ports.KindNotes, scores: peaked(peak)}
	ev.targetHook = func(_ context.Context, g domain.Grade) (ports.TargetResult, error) {
		return ports.TargetResult{
			Confidence: domain.KnownConfidence(ev.scores[g]),
			Findings:   []string{name + " finding"},
			Annotations: []domain.EventAnnotation{{
				Key:         sharedKey,
				Confidences: map[string]domain.Confidence{field: domain.Some(value)},
				Comments:    map[string]string{name: "seen by " + name},
			}},
		}, nil
	}
	return ev
}

func observedRequest(target domain.Grade) RunRequest {
	return RunRequest{
		Doc:         fakeDoc{hash: "doc-1"},
		TargetGrade: target,
		Options:     domain.AnalysisOptions{RunObserved: true},
	}
}

func TestAnalysisPipeline_Run(t *testing.T) {
	rhythm := noteEvaluator(domain.DimensionRhythm, 2, "rhythm_confidence", 0.9)
	rng := noteEvaluator(domain.DimensionRange, 3, "range_confidence", 0.4)
	meter := &fakeEvaluator{name: domain.DimensionMeter, kind: ports.KindAggregate, scores: peaked(4)}

	// Registered out of order: note-producing evaluators still run first.
	p := newTestPipeline(t, cache.NewCurveCache(nil), meter, rhythm, rng)
	sink := &recordingSink{}

	report, err := p.Run(context.Background(), observedRequest(3), sink)
	require.NoError(t, err)

	assert.Equal(t, []domain.Stage{
		domain.StageRunningNoteEvaluators,
		domain.StageRunningOtherEvaluators,
		domain.StageAggregating,
		domain.StageDone,
	}, sink.stages)

	require.Len(t, report.Dimensions, 3)
	assert.Equal(t, []string{"rhythm", "range", "meter"}, []string{
		report.Dimensions[0].Dimension, report.Dimensions[1].Dimension, report.Dimensions[2].Dimension,
	})
	assert.Equal(t, domain.Some[domain.Grade](2), report.Dimensions[0].Observed)
	assert.Equal(t, domain.Some[domain.Grade](3), report.Dimensions[1].Observed)
	assert.Equal(t, domain.Some[domain.Grade](4), report.Dimensions[2].Observed)

	// (2·0.25 + 3·0.25 + 4·0.10) / 0.60 = 2.75
	est, ok := report.Overall.Get()
	require.True(t, ok)
	assert.InDelta(t, 2.75, est.Raw, 1e-9)
	assert.Equal(t, domain.Grade(3), est.Overall)
	assert.Equal(t, domain.Grade(2.5), est.Low)
	assert.Equal(t, domain.Grade(3), est.High)

	require.Len(t, report.Annotations, 1, "annotations for one event are merged")
	ann := report.Annotations[0]
	assert.Equal(t, domain.Some(0.9), ann.Confidences["rhythm_confidence"])
	assert.Equal(t, domain.Some(0.4), ann.Confidences["range_confidence"])
	assert.Len(t, ann.Comments, 2)

	meterRes, ok := report.Dimension(domain.DimensionMeter)
	require.True(t, ok)
	assert.Equal(t, []string{"No issues detected for meter at grade 3."}, meterRes.Notes)
	assert.Equal(t, []string{"rhythm finding"}, report.Dimensions[0].Notes)
	assert.Equal(t, domain.LightGreen, meterRes.Light)

	observed := sink.ofType(domain.EventObserved)
	assert.Len(t, observed, 3*len(domain.DefaultScale))
	first := observed[0]
	assert.Equal(t, "rhythm", first.Evaluator)
	assert.Equal(t, 1, first.Index)
	assert.Equal(t, len(domain.DefaultScale), first.Total)
	require.NotNil(t, first.Grade)
	assert.Equal(t, domain.Grade(0.5), *first.Grade)

	steps := sink.ofType(domain.EventEvaluator)
	require.Len(t, steps, 3)
	for i, ev := range steps {
		assert.Equal(t, i+1, ev.Step)
		assert.Equal(t, 3, ev.Total)
	}
}

func TestAnalysisPipeline_TargetOnlySkipsCurves(t *testing.T) {
	ev := &fakeEvaluator{name: "key", kind: ports.KindAggregate, scores: peaked(2)}
	p := newTestPipeline(t, cache.NewCurveCache(nil), ev)
	sink := &recordingSink{}

	report, err := p.Run(context.Background(), RunRequest{Doc: fakeDoc{hash: "d"}, TargetGrade: 2}, sink)
	require.NoError(t, err)

	assert.Equal(t, int32(0), ev.confCalls.Load())
	assert.Equal(t, int32(1), ev.targetCalls.Load())
	assert.False(t, report.Dimensions[0].Curve.Present())
	assert.False(t, report.Dimensions[0].Observed.Present())
	assert.Equal(t, domain.Some(1.0), report.Dimensions[0].TargetConfidence)
	assert.False(t, report.Overall.Present(), "no observed grades means no overall estimate")
	assert.Empty(t, sink.ofType(domain.EventObserved))
}

func TestAnalysisPipeline_CacheHitReplaysProgress(t *testing.T) {
	ev := &fakeEvaluator{name: "tempo", kind: ports.KindAggregate, scores: peaked(1)}
	p := newTestPipeline(t, cache.NewCurveCache(nil), ev)

	_, err := p.Run(context.Background(), observedRequest(1), nil)
	require.NoError(t, err)
	calls := ev.confCalls.Load()
	assert.Equal(t, int32(len(domain.DefaultScale)), calls)

	sink := &recordingSink{}
	report, err := p.Run(context.Background(), observedRequest(2), sink)
	require.NoError(t, err)

	assert.Equal(t, calls, ev.confCalls.Load(), "cached curve is not recomputed")
	assert.True(t, report.Dimensions[0].CacheHit)
	observed := sink.ofType(domain.EventObserved)
	require.Len(t, observed, len(domain.DefaultScale))
	for _, o := range observed {
		assert.True(t, o.Cached)
	}

	// Changing an evaluator option changes the fingerprint.
	req := observedRequest(2)
	req.Options.Eval.RestrictToStrings = true
	_, err = p.Run(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, 2*calls, ev.confCalls.Load())
}

func TestAnalysisPipeline_ConcurrentRunsShareCurve(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	ev := &fakeEvaluator{name: "tempo", kind: ports.KindAggregate, scores: peaked(2)}
	ev.confHook = func(_ context.Context, g domain.Grade) (domain.Confidence, error) {
		once.Do(func() { close(started) })
		<-release
		return domain.KnownConfidence(ev.scores[g]), nil
	}
	p := newTestPipeline(t, cache.NewCurveCache(nil), ev)

	sinks := []*recordingSink{{}, {}}
	reports := make([]*domain.AggregateReport, len(sinks))
	var wg sync.WaitGroup
	runJob := func(i int) {
		defer wg.Done()
		report, err := p.Run(context.Background(), observedRequest(2), sinks[i])
		assert.NoError(t, err)
		reports[i] = report
	}

	wg.Add(2)
	go runJob(0)
	<-started
	go runJob(1)
	// Give the second run time to join the in-flight computation.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(len(domain.DefaultScale)), ev.confCalls.Load(), "the curve is sampled once")
	for i, sink := range sinks {
		require.NotNil(t, reports[i])
		observed := sink.ofType(domain.EventObserved)
		require.Len(t, observed, len(domain.DefaultScale), "run %d", i)
		for j, o := range observed {
			assert.Equal(t, "tempo", o.Evaluator)
			assert.Equal(t, j+1, o.Index)
			assert.Equal(t, len(domain.DefaultScale), o.Total)
			require.NotNil(t, o.Grade)
			assert.Equal(t, domain.DefaultScale[j], *o.Grade)
		}
		assert.Equal(t, domain.Some[domain.Grade](2), reports[i].Dimensions[0].Observed)
	}
}

// joinedCache hands back a curve computed elsewhere without calling compute
// and without reporting a hit.
type joinedCache struct{ curve domain.ConfidenceCurve }

func (c joinedCache) GetOrCompute(
	_ context.Context, _ ports.CurveKey, grades domain.Scale, _ ports.CurveComputeFunc,
) (domain.ConfidenceCurve, bool, error) {
	return c.curve.Restrict(grades), false, nil
}

func TestAnalysisPipeline_JoinedComputationReplaysProgress(t *testing.T) {
	points := make([]domain.CurvePoint, 0, len(domain.DefaultScale))
	for _, g := range domain.DefaultScale {
		points = append(points, domain.CurvePoint{Grade: g, Confidence: domain.KnownConfidence(peaked(3)[g])})
	}
	curve, err := domain.NewConfidenceCurve(points...)
	require.NoError(t, err)

	ev := &fakeEvaluator{name: "tempo", kind: ports.KindAggregate, scores: peaked(3)}
	p := newTestPipeline(t, joinedCache{curve: curve}, ev)
	sink := &recordingSink{}

	report, err := p.Run(context.Background(), observedRequest(3), sink)
	require.NoError(t, err)

	assert.Zero(t, ev.confCalls.Load())
	assert.False(t, report.Dimensions[0].CacheHit)
	assert.Len(t, sink.ofType(domain.EventObserved), len(domain.DefaultScale))
}

func TestAnalysisPipeline_EvaluatorFailuresAreIsolated(t *testing.T) {
	flaky := &fakeEvaluator{name: "dynamics", kind: ports.KindAggregate}
	flaky.confHook = func(_ context.Context, g domain.Grade) (domain.Confidence, error) {
		if g == 3 {
			panic("no rule for grade 3")
		}
		if g == 4 {
			return domain.Confidence{}, errors.New("missing table entry")
		}
		return domain.KnownConfidence(float64(g) / 10), nil
	}
	broken := &fakeEvaluator{name: "articulation", kind: ports.KindNotes, scores: peaked(2)}
	broken.targetHook = func(context.Context, domain.Grade) (ports.TargetResult, error) {
		return ports.TargetResult{}, errors.New("cannot read articulations")
	}
	healthy := &fakeEvaluator{name: domain.DimensionKey, kind: ports.KindAggregate, scores: peaked(2)}

	p := newTestPipeline(t, nil, broken, flaky, healthy)
	report, err := p.Run(context.Background(), observedRequest(2), nil)
	require.NoError(t, err, "evaluator failures never fail the run")

	dyn, _ := report.Dimension("dynamics")
	curve, ok := dyn.Curve.Get()
	require.True(t, ok)
	assert.False(t, curve.At(3).Present(), "panicking grade is absent")
	assert.False(t, curve.At(4).Present(), "failing grade is absent")
	assert.Equal(t, domain.Some(0.5), curve.At(5))
	assert.Equal(t, domain.Some[domain.Grade](5), dyn.Observed)

	art, _ := report.Dimension("articulation")
	assert.Contains(t, art.Error, "cannot read articulations")
	assert.False(t, art.TargetConfidence.Present())
	assert.Equal(t, []string{"articulation could not be evaluated at grade 2."}, art.Notes)
	assert.True(t, art.Observed.Present(), "the curve still contributes")

	key, _ := report.Dimension(domain.DimensionKey)
	assert.Empty(t, key.Error)
}

func TestAnalysisPipeline_LogsIsolatedFailures(t *testing.T) {
	broken := &fakeEvaluator{name: "articulation", kind: ports.KindNotes, scores: peaked(2)}
	broken.targetHook = func(context.Context, domain.Grade) (ports.TargetResult, error) {
		return ports.TargetResult{}, errors.New("cannot read articulations")
	}
	set, err := NewEvaluatorSet(broken)
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	p, err := NewAnalysisPipeline(set, nil, PipelineConfig{}, nil, zap.New(core))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), observedRequest(2), nil)
	require.NoError(t, err)

	warned := logs.FilterLevelExact(zapcore.WarnLevel).FilterMessage("target-grade evaluation failed").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "articulation", warned[0].ContextMap()["evaluator"])
	assert.Contains(t, warned[0].ContextMap()["error"], "cannot read articulations")
}

func TestAnalysisPipeline_DeadlineFailsRun(t *testing.T) {
	slow := &fakeEvaluator{name: "duration", kind: ports.KindAggregate}
	slow.confHook = func(ctx context.Context, g domain.Grade) (domain.Confidence, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return domain.KnownConfidence(0.5), nil
		case <-ctx.Done():
			return domain.Confidence{}, ctx.Err()
		}
	}
	p := newTestPipeline(t, cache.NewCurveCache(nil), slow)
	sink := &recordingSink{}

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	report, err := p.Run(ctx, observedRequest(2), sink)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, report, "no partial report")
	assert.Equal(t, domain.StageFailed, sink.stages[len(sink.stages)-1])
}

func TestAnalysisPipeline_ParallelAggregateEvaluatorsKeepOrder(t *testing.T) {
	names := []string{"meter", "key", "tempo", "duration", "dynamics"}
	evs := make([]ports.Evaluator, 0, len(names))
	for i, n := range names {
		ev := &fakeEvaluator{name: n, kind: ports.KindAggregate, scores: peaked(domain.Grade(i + 1))}
		ev.confHook = func(_ context.Context, g domain.Grade) (domain.Confidence, error) {
			time.Sleep(time.Millisecond)
			return domain.KnownConfidence(ev.scores[g]), nil
		}
		evs = append(evs, ev)
	}
	set, err := NewEvaluatorSet(evs...)
	require.NoError(t, err)
	p, err := NewAnalysisPipeline(set, nil, PipelineConfig{ParallelEvaluators: 4}, nil, nil)
	require.NoError(t, err)

	sink := &recordingSink{}
	report, err := p.Run(context.Background(), observedRequest(3), sink)
	require.NoError(t, err)

	for i, n := range names {
		assert.Equal(t, n, report.Dimensions[i].Dimension)
		assert.Equal(t, domain.Some(domain.Grade(i+1)), report.Dimensions[i].Observed)
	}
	assert.Len(t, sink.ofType(domain.EventEvaluator), len(names))
}

func TestAnalysisPipeline_MergeOrderFollowsRegistration(t *testing.T) {
	first := noteEvaluator("first", 2, "shared", 0.1)
	second := noteEvaluator("second", 2, "shared", 0.7)

	p := newTestPipeline(t, nil, first, second)
	report, err := p.Run(context.Background(), RunRequest{Doc: fakeDoc{hash: "d"}, TargetGrade: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Some(0.7), report.Annotations[0].Confidences["shared"])

	p = newTestPipeline(t, nil, second, first)
	report, err = p.Run(context.Background(), RunRequest{Doc: fakeDoc{hash: "d"}, TargetGrade: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Some(0.1), report.Annotations[0].Confidences["shared"])
}

func TestNewAnalysisPipeline_Validation(t *testing.T) {
	_, err := NewAnalysisPipeline(nil, nil, PipelineConfig{}, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	set, err := NewEvaluatorSet(&fakeEvaluator{name: "a"})
	require.NoError(t, err)
	_, err = NewAnalysisPipeline(set, nil, PipelineConfig{Weights: map[string]float64{"a": -1}}, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	p, err := NewAnalysisPipeline(set, nil, PipelineConfig{}, nil, nil)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), RunRequest{TargetGrade: 1}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}
