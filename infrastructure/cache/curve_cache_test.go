package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

// countingCompute returns a compute func that records the grades of every
// call and scores each grade as grade/10.
type countingCompute struct {
	mu    sync.Mutex
	calls []domain.Scale
}

func (c *countingCompute) fn(ctx context.Context, grades domain.Scale) (domain.ConfidenceCurve, error) {
	c.mu.Lock()
	c.calls = append(c.calls, grades)
	c.mu.Unlock()
	m := make(map[domain.Grade]domain.Confidence, len(grades))
	for _, g := range grades {
		m[g] = domain.Some(float64(g) / 10)
	}
	return domain.CurveFromMap(m), nil
}

func (c *countingCompute) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type recordingMetrics struct {
	ports.NopMetrics
	mu       sync.Mutex
	counters map[string]float64
}

func (r *recordingMetrics) RecordCounter(metric string, value float64, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counters == nil {
		r.counters = make(map[string]float64)
	}
	r.counters[metric] += value
}

var testKey = ports.CurveKey{Fingerprint: "fp-1", Evaluator: "rhythm"}

func TestCurveCache_SubsetHitsNeverRecompute(t *testing.T) {
	ctx := context.Background()
	metrics := &recordingMetrics{}
	cache := NewCurveCache(metrics)
	cc := &countingCompute{}

	curve, hit, err := cache.GetOrCompute(ctx, testKey, domain.FullScale, cc.fn)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, domain.FullScale, curve.Grades())

	for _, sub := range []domain.Scale{domain.DefaultScale, {2.5}, domain.FullScale} {
		curve, hit, err = cache.GetOrCompute(ctx, testKey, sub, cc.fn)
		require.NoError(t, err)
		assert.True(t, hit)
		assert.Equal(t, sub, curve.Grades(), "hits are restricted to the requested grades")
	}

	assert.Equal(t, 1, cc.count())
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, 3.0, metrics.counters[ports.MetricCacheHits])
	assert.Equal(t, 1.0, metrics.counters[ports.MetricCacheMisses])
}

func TestCurveCache_SupersetRecomputesFullSet(t *testing.T) {
	ctx := context.Background()
	cache := NewCurveCache(nil)
	cc := &countingCompute{}

	_, _, err := cache.GetOrCompute(ctx, testKey, domain.DefaultScale, cc.fn)
	require.NoError(t, err)

	curve, hit, err := cache.GetOrCompute(ctx, testKey, domain.FullScale, cc.fn)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, domain.FullScale, curve.Grades())

	require.Equal(t, 2, cc.count())
	assert.Equal(t, domain.FullScale, cc.calls[1], "superset computes the whole requested set")

	_, hit, err = cache.GetOrCompute(ctx, testKey, domain.DefaultScale, cc.fn)
	require.NoError(t, err)
	assert.True(t, hit, "replaced entry still covers the original subset")
	assert.Equal(t, 2, cc.count())
}

func TestCurveCache_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	cache := NewCurveCache(nil)
	cc := &countingCompute{}

	keys := []ports.CurveKey{
		{Fingerprint: "fp-1", Evaluator: "rhythm"},
		{Fingerprint: "fp-1", Evaluator: "range"},
		{Fingerprint: "fp-2", Evaluator: "rhythm"},
	}
	for _, k := range keys {
		_, hit, err := cache.GetOrCompute(ctx, k, domain.DefaultScale, cc.fn)
		require.NoError(t, err)
		assert.False(t, hit)
	}
	assert.Equal(t, 3, cc.count())
	assert.Equal(t, 3, cache.Len())

	assert.Equal(t, 2, cache.Invalidate("fp-1"))
	assert.Equal(t, 1, cache.Len())
}

func TestCurveCache_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	cache := NewCurveCache(nil)
	boom := errors.New("boom")

	_, _, err := cache.GetOrCompute(ctx, testKey, domain.DefaultScale,
		func(context.Context, domain.Scale) (domain.ConfidenceCurve, error) {
			return domain.ConfidenceCurve{}, boom
		})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var ce *ports.CacheError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, 0, cache.Len())

	cc := &countingCompute{}
	_, hit, err := cache.GetOrCompute(ctx, testKey, domain.DefaultScale, cc.fn)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, cc.count())
}

func TestCurveCache_InvalidGrades(t *testing.T) {
	cache := NewCurveCache(nil)
	cc := &countingCompute{}

	_, _, err := cache.GetOrCompute(context.Background(), testKey, domain.Scale{}, cc.fn)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	assert.Equal(t, 0, cc.count())
}

func TestCurveCache_ConcurrentCallersShareOneComputation(t *testing.T) {
	ctx := context.Background()
	cache := NewCurveCache(nil)

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(ctx context.Context, grades domain.Scale) (domain.ConfidenceCurve, error) {
		calls.Add(1)
		<-release
		return domain.CurveFromMap(map[domain.Grade]domain.Confidence{1: domain.Some(0.5)}), nil
	}

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := cache.GetOrCompute(ctx, testKey, domain.Scale{1}, compute)
			errs <- err
		}()
	}

	// Give every caller time to join the in-flight computation.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestCurveCache_CallerCancellation(t *testing.T) {
	cache := NewCurveCache(nil)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	_, _, err := cache.GetOrCompute(ctx, testKey, domain.Scale{1},
		func(ctx context.Context, _ domain.Scale) (domain.ConfidenceCurve, error) {
			close(started)
			<-ctx.Done()
			return domain.ConfidenceCurve{}, ctx.Err()
		})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, cache.Len())
}
