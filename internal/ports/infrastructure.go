package ports

import (
	"context"
	"time"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
)

// DocumentInfo describes a stored document without loading it.
type DocumentInfo struct {
	// Ref is the storage reference, typically the content-hash file name.
	Ref string

	// Size is the stored size in bytes. It feeds the job cost model.
	Size int64

	// StoredAt is when the document was first stored.
	StoredAt time.Time
}

// DocumentStore persists uploaded documents and resolves references to
// parsed Documents. Implementations could use a local directory, an object
// store, or an in-memory map in tests.
type DocumentStore interface {
	// Save stores raw document bytes under a content-addressed reference and
	// returns it. Saving identical bytes twice returns the same reference
	// without duplicating storage. Oversized payloads fail with
	// domain.ErrPayloadTooLarge.
	//
	// Example:
	//
	//	ref, err := store.Save(ctx, "piece.json", data)
	//	if errors.Is(err, domain.ErrPayloadTooLarge) {
	//	    // reject with 413
	//	}
	Save(ctx context.Context, name string, data []byte) (string, error)

	// Stat returns metadata for a reference. Unknown references fail with
	// domain.ErrDocumentNotFound.
	Stat(ctx context.Context, ref string) (DocumentInfo, error)

	// Load parses the referenced document. Backend failures are reported as
	// *domain.StorageError.
	Load(ctx context.Context, ref string) (Document, error)
}

// CurveKey identifies one cached confidence curve.
type CurveKey struct {
	// Fingerprint covers the document content and every evaluator option.
	Fingerprint domain.Fingerprint

	// Evaluator is the evaluator name.
	Evaluator string
}

// CurveComputeFunc computes a curve over exactly the given grades.
type CurveComputeFunc func(ctx context.Context, grades domain.Scale) (domain.ConfidenceCurve, error)

// CurveCache memoizes confidence curves across jobs.
// Implementations must be safe for concurrent use.
type CurveCache interface {
	// GetOrCompute returns the curve for key restricted to grades. A cached
	// entry serves the request only when grades is a subset of the grades it
	// was computed over; otherwise compute runs over the full requested set
	// and replaces the entry. hit reports whether a stored entry served the
	// request. A caller that joins a concurrent computation of the same key
	// gets hit false and its compute is not called.
	// Errors from compute are returned and never cached.
	GetOrCompute(ctx context.Context, key CurveKey, grades domain.Scale, compute CurveComputeFunc) (curve domain.ConfidenceCurve, hit bool, err error)
}

// EventPublisher mirrors job progress events to an external bus.
// Publishing is best effort: failures are logged by the caller and never
// fail a job.
type EventPublisher interface {
	// Publish sends one event.
	Publish(ctx context.Context, event domain.Event) error

	// Close flushes pending events and releases the connection.
	Close() error
}

// Metric names recorded by the engine.
const (
	MetricJobsTotal          = "jobs_total"
	MetricJobDuration        = "job_duration"
	MetricQueueDepth         = "queue_depth"
	MetricSubmitRejected     = "submissions_rejected_total"
	MetricCacheHits          = "curve_cache_hits_total"
	MetricCacheMisses        = "curve_cache_misses_total"
	MetricCacheEntries       = "curve_cache_entries"
	MetricEvaluatorDuration  = "evaluator_duration"
	MetricEvaluatorErrors    = "evaluator_errors_total"
	MetricObservedGrade      = "observed_grade"
	MetricEventPublishErrors = "event_publish_errors_total"
)

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus,
// OpenTelemetry, or custom monitoring solutions.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	// This is useful for tracking events like cache hits/misses, errors, etc.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	// This is useful for tracking values like queue depth, active
	// jobs, etc.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	// This is useful for tracking distributions like document sizes,
	// observed grades, etc.
	RecordHistogram(metric string, value float64, labels map[string]string)
}

// NopMetrics discards every measurement. It is the default when no
// collector is configured.
type NopMetrics struct{}

// RecordLatency implements MetricsCollector.
func (NopMetrics) RecordLatency(string, time.Duration, map[string]string) {}

// RecordCounter implements MetricsCollector.
func (NopMetrics) RecordCounter(string, float64, map[string]string) {}

// RecordGauge implements MetricsCollector.
func (NopMetrics) RecordGauge(string, float64, map[string]string) {}

// RecordHistogram implements MetricsCollector.
func (NopMetrics) RecordHistogram(string, float64, map[string]string) {}

var _ MetricsCollector = NopMetrics{}
