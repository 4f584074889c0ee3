// Package middleware provides cross-cutting concerns for the grading engine:
// Prometheus metrics and OpenTelemetry tracing around evaluators.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

// Namespace prefixes every exported metric.
const Namespace = "gradeengine"

// PrometheusMetrics implements the MetricsCollector interface using Prometheus.
// Known metric names from the ports package map onto dedicated vectors;
// anything else lands in the generic operation vectors so no measurement is
// dropped.
type PrometheusMetrics struct {
	jobsTotal          *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	queueDepth         prometheus.Gauge
	submitRejected     *prometheus.CounterVec
	cacheLookups       *prometheus.CounterVec
	cacheEntries       prometheus.Gauge
	evaluatorDuration  *prometheus.HistogramVec
	evaluatorErrors    *prometheus.CounterVec
	observedGrade      *prometheus.HistogramVec
	eventPublishErrors prometheus.Counter

	operationLatency *prometheus.HistogramVec
	operationCounter *prometheus.CounterVec
	systemGauges     *prometheus.GaugeVec
}

// NewPrometheusMetrics registers every collector on reg. A nil reg selects
// the default registry. Registering twice on the same registry panics, so
// tests pass a fresh prometheus.NewRegistry().
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &PrometheusMetrics{
		jobsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      ports.MetricJobsTotal,
				Help:      "Finished analysis jobs by terminal status.",
			},
			[]string{"status"},
		),
		jobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      ports.MetricJobDuration + "_seconds",
				Help:      "Time from submission to completion of analysis jobs.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      ports.MetricQueueDepth,
			Help:      "Jobs submitted but not yet finished.",
		}),
		submitRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      ports.MetricSubmitRejected,
				Help:      "Submissions refused before a job was created.",
			},
			[]string{"reason"},
		),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "curve_cache_lookups_total",
				Help:      "Curve cache lookups by evaluator and outcome.",
			},
			[]string{"evaluator", "result"},
		),
		cacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      ports.MetricCacheEntries,
			Help:      "Curves currently held by the cache.",
		}),
		evaluatorDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      ports.MetricEvaluatorDuration + "_seconds",
				Help:      "Time spent in one evaluator for one job, observed pass included.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"evaluator"},
		),
		evaluatorErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      ports.MetricEvaluatorErrors,
				Help:      "Isolated evaluator failures.",
			},
			[]string{"evaluator"},
		),
		observedGrade: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      ports.MetricObservedGrade,
				Help:      "Inferred observed grade per evaluator.",
				Buckets:   []float64{0.5, 1, 1.5, 2, 2.5, 3, 3.5, 4, 4.5, 5},
			},
			[]string{"evaluator"},
		),
		eventPublishErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      ports.MetricEventPublishErrors,
			Help:      "Progress events the message bus refused.",
		}),

		operationLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "operation_duration_seconds",
				Help:      "Latency of operations without a dedicated metric.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "operations_total",
				Help:      "Counters without a dedicated metric.",
			},
			[]string{"operation"},
		),
		systemGauges: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "system_state",
				Help:      "Gauges without a dedicated metric.",
			},
			[]string{"metric"},
		),
	}
}

// RecordLatency implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordLatency(
	operation string,
	duration time.Duration,
	labels map[string]string,
) {
	switch operation {
	case ports.MetricJobDuration:
		pm.jobDuration.WithLabelValues(label(labels, "status")).Observe(duration.Seconds())
	case ports.MetricEvaluatorDuration:
		pm.evaluatorDuration.WithLabelValues(label(labels, "evaluator")).Observe(duration.Seconds())
	default:
		pm.operationLatency.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// RecordCounter implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case ports.MetricJobsTotal:
		pm.jobsTotal.WithLabelValues(label(labels, "status")).Add(value)
	case ports.MetricSubmitRejected:
		pm.submitRejected.WithLabelValues(label(labels, "reason")).Add(value)
	case ports.MetricCacheHits:
		pm.cacheLookups.WithLabelValues(label(labels, "evaluator"), "hit").Add(value)
	case ports.MetricCacheMisses:
		pm.cacheLookups.WithLabelValues(label(labels, "evaluator"), "miss").Add(value)
	case ports.MetricEvaluatorErrors:
		pm.evaluatorErrors.WithLabelValues(label(labels, "evaluator")).Add(value)
	case ports.MetricEventPublishErrors:
		pm.eventPublishErrors.Add(value)
	default:
		pm.operationCounter.WithLabelValues(metric).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case ports.MetricQueueDepth:
		pm.queueDepth.Set(value)
	case ports.MetricCacheEntries:
		pm.cacheEntries.Set(value)
	default:
		pm.systemGauges.WithLabelValues(metric).Set(value)
	}
}

// RecordHistogram implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordHistogram(
	metric string, value float64, labels map[string]string,
) {
	if metric == ports.MetricObservedGrade {
		pm.observedGrade.WithLabelValues(label(labels, "evaluator")).Observe(value)
		return
	}
	pm.operationLatency.WithLabelValues(metric).Observe(value)
}

func label(labels map[string]string, key string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return "unknown"
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
