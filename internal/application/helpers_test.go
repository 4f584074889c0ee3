package application

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

type fakeDoc struct{ hash string }

func (d fakeDoc) ContentHash() string { return d.hash }

// fakeEvaluator scores grades from a table and records how often it is
// called. Hooks override the table when set.
type fakeEvaluator struct {
	name   string
	kind   ports.EvaluatorKind
	scores map[domain.Grade]float64

	confHook   func(ctx context.Context, g domain.Grade) (domain.Confidence, error)
	targetHook func(ctx context.Context, g domain.Grade) (ports.TargetResult, error)

	confCalls   atomic.Int32
	targetCalls atomic.Int32
}

func (f *fakeEvaluator) Name() string              { return f.name }
func (f *fakeEvaluator) Kind() ports.EvaluatorKind { return f.kind }

func (f *fakeEvaluator) Confidence(
	ctx context.Context, _ ports.Document, g domain.Grade, _ domain.EvalOptions,
) (domain.Confidence, error) {
	f.confCalls.Add(1)
	if f.confHook != nil {
		return f.confHook(ctx, g)
	}
	v, ok := f.scores[g]
	if !ok {
		return domain.UnknownConfidence(), nil
	}
	return domain.KnownConfidence(v), nil
}

func (f *fakeEvaluator) EvaluateTarget(
	ctx context.Context, doc ports.Document, g domain.Grade, opts domain.EvalOptions,
) (ports.TargetResult, error) {
	f.targetCalls.Add(1)
	if f.targetHook != nil {
		return f.targetHook(ctx, g)
	}
	v, ok := f.scores[g]
	if !ok {
		return ports.TargetResult{}, nil
	}
	return ports.TargetResult{Confidence: domain.KnownConfidence(v)}, nil
}

// peaked returns a score table that peaks at the given grade.
func peaked(peak domain.Grade) map[domain.Grade]float64 {
	m := make(map[domain.Grade]float64)
	for _, g := range domain.FullScale {
		d := float64(g - peak)
		if d < 0 {
			d = -d
		}
		m[g] = 1 - d/5
	}
	return m
}

// memStore is an in-memory DocumentStore keyed by reference.
type memStore struct {
	mu      sync.Mutex
	sizes   map[string]int64
	statErr error
	loadErr error
}

func newMemStore(refs ...string) *memStore {
	s := &memStore{sizes: make(map[string]int64)}
	for _, r := range refs {
		s.sizes[r] = 1024
	}
	return s
}

func (s *memStore) Save(_ context.Context, name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sizes[name] = int64(len(data))
	return name, nil
}

func (s *memStore) Stat(_ context.Context, ref string) (ports.DocumentInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statErr != nil {
		return ports.DocumentInfo{}, s.statErr
	}
	size, ok := s.sizes[ref]
	if !ok {
		return ports.DocumentInfo{}, domain.ErrDocumentNotFound
	}
	return ports.DocumentInfo{Ref: ref, Size: size}, nil
}

func (s *memStore) Load(_ context.Context, ref string) (ports.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if _, ok := s.sizes[ref]; !ok {
		return nil, domain.NewStorageError("load", ref, domain.ErrDocumentNotFound)
	}
	return fakeDoc{hash: ref}, nil
}

// recordingSink collects progress for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
	stages []domain.Stage
}

func (r *recordingSink) Emit(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) SetStage(s domain.Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, s)
}

func (r *recordingSink) ofType(t domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestPipeline(t *testing.T, cache ports.CurveCache, evs ...ports.Evaluator) *AnalysisPipeline {
	t.Helper()
	set, err := NewEvaluatorSet(evs...)
	require.NoError(t, err)
	p, err := NewAnalysisPipeline(set, cache, PipelineConfig{}, nil, nil)
	require.NoError(t, err)
	return p
}
