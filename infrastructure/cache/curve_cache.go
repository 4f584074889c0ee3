// Package cache provides the process-local confidence curve cache shared by
// all analysis jobs.
package cache

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

const shardCount = 16

// CurveCache memoizes confidence curves per (fingerprint, evaluator).
// Entries live for the lifetime of the process. Each shard has its own
// lock, and concurrent computations of the same key and grade set are
// collapsed into one call.
//
// A request is served from cache only when its grades are a subset of the
// cached entry's grades. Requesting a superset recomputes the whole set and
// replaces the entry; there is no incremental extension.
type CurveCache struct {
	shards  [shardCount]curveShard
	sf      singleflight.Group
	metrics ports.MetricsCollector
	entries atomic.Int64
}

type curveShard struct {
	mu      sync.RWMutex
	entries map[ports.CurveKey]curveEntry
}

type curveEntry struct {
	grades domain.Scale
	curve  domain.ConfidenceCurve
}

// NewCurveCache creates an empty cache. A nil metrics collector disables
// hit/miss accounting.
func NewCurveCache(metrics ports.MetricsCollector) *CurveCache {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	c := &CurveCache{metrics: metrics}
	for i := range c.shards {
		c.shards[i].entries = make(map[ports.CurveKey]curveEntry)
	}
	return c
}

// GetOrCompute implements ports.CurveCache.
//
// Example:
//
//	curve, hit, err := cache.GetOrCompute(ctx, key, domain.DefaultScale,
//	    func(ctx context.Context, grades domain.Scale) (domain.ConfidenceCurve, error) {
//	        return sampleCurve(ctx, eval, doc, grades)
//	    })
func (c *CurveCache) GetOrCompute(
	ctx context.Context,
	key ports.CurveKey,
	grades domain.Scale,
	compute ports.CurveComputeFunc,
) (domain.ConfidenceCurve, bool, error) {
	grades = grades.Normalize()
	if err := grades.Validate(); err != nil {
		return domain.ConfidenceCurve{}, false, err
	}

	labels := map[string]string{"evaluator": key.Evaluator}
	if curve, ok := c.lookup(key, grades); ok {
		c.metrics.RecordCounter(ports.MetricCacheHits, 1, labels)
		return curve, true, nil
	}

	flightKey := string(key.Fingerprint) + "\x00" + key.Evaluator + "\x00" + grades.String()
	ch := c.sf.DoChan(flightKey, func() (any, error) {
		// Another flight may have stored a covering entry while we waited.
		if curve, ok := c.lookup(key, grades); ok {
			return flightResult{curve: curve, hit: true}, nil
		}
		curve, err := compute(ctx, grades)
		if err != nil {
			return nil, ports.NewCacheError(key.Evaluator+":"+string(key.Fingerprint), "compute", err)
		}
		c.store(key, grades, curve)
		return flightResult{curve: curve}, nil
	})

	select {
	case <-ctx.Done():
		return domain.ConfidenceCurve{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil && res.Shared && ctx.Err() == nil && isContextErr(res.Err) {
			// The flight was owned by a caller that gave up; compute under ours.
			curve, err := compute(ctx, grades)
			if err != nil {
				return domain.ConfidenceCurve{}, false, ports.NewCacheError(key.Evaluator+":"+string(key.Fingerprint), "compute", err)
			}
			c.store(key, grades, curve)
			c.metrics.RecordCounter(ports.MetricCacheMisses, 1, labels)
			return curve, false, nil
		}
		if res.Err != nil {
			return domain.ConfidenceCurve{}, false, res.Err
		}
		fr := res.Val.(flightResult)
		if fr.hit {
			c.metrics.RecordCounter(ports.MetricCacheHits, 1, labels)
		} else {
			c.metrics.RecordCounter(ports.MetricCacheMisses, 1, labels)
		}
		return fr.curve.Restrict(grades), fr.hit, nil
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

type flightResult struct {
	curve domain.ConfidenceCurve
	hit   bool
}

// Len returns the number of cached curves.
func (c *CurveCache) Len() int { return int(c.entries.Load()) }

// Invalidate drops every entry for the fingerprint.
func (c *CurveCache) Invalidate(fp domain.Fingerprint) int {
	removed := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for k := range s.entries {
			if k.Fingerprint == fp {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	c.entries.Add(-int64(removed))
	c.metrics.RecordGauge(ports.MetricCacheEntries, float64(c.entries.Load()), nil)
	return removed
}

func (c *CurveCache) lookup(key ports.CurveKey, grades domain.Scale) (domain.ConfidenceCurve, bool) {
	s := c.shard(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || !grades.IsSubsetOf(e.grades) {
		return domain.ConfidenceCurve{}, false
	}
	return e.curve.Restrict(grades), true
}

// store saves the entry unless an existing one already covers it, so a
// narrower computation that finishes late cannot evict a wider one.
func (c *CurveCache) store(key ports.CurveKey, grades domain.Scale, curve domain.ConfidenceCurve) {
	s := c.shard(key)
	s.mu.Lock()
	existing, ok := s.entries[key]
	if ok && grades.IsSubsetOf(existing.grades) {
		s.mu.Unlock()
		return
	}
	s.entries[key] = curveEntry{grades: grades, curve: curve}
	s.mu.Unlock()

	if !ok {
		c.entries.Add(1)
	}
	c.metrics.RecordGauge(ports.MetricCacheEntries, float64(c.entries.Load()), nil)
}

func (c *CurveCache) shard(key ports.CurveKey) *curveShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.Fingerprint))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key.Evaluator))
	return &c.shards[h.Sum32()%shardCount]
}

var _ ports.CurveCache = (*CurveCache)(nil)
