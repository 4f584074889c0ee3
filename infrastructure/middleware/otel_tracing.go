package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

// TracerName is the instrumentation scope used when no tracer is injected.
const TracerName = "gradeengine/evaluators"

var _ ports.Evaluator = (*TracedEvaluator)(nil)

// TracedEvaluator wraps an evaluator with OpenTelemetry spans. Each
// Confidence and EvaluateTarget call gets its own span carrying the
// evaluator name, the grade and the outcome; the wrapped evaluator sees the
// span through its context.
type TracedEvaluator struct {
	inner  ports.Evaluator
	tracer trace.Tracer
}

// Trace wraps ev. A nil tracer resolves the global provider on each call,
// so a provider installed after wiring still takes effect.
func Trace(ev ports.Evaluator, tracer trace.Tracer) *TracedEvaluator {
	return &TracedEvaluator{inner: ev, tracer: tracer}
}

// Unwrap returns the wrapped evaluator.
func (t *TracedEvaluator) Unwrap() ports.Evaluator { return t.inner }

// Name implements ports.Evaluator.
func (t *TracedEvaluator) Name() string { return t.inner.Name() }

// Kind implements ports.Evaluator.
func (t *TracedEvaluator) Kind() ports.EvaluatorKind { return t.inner.Kind() }

// Confidence implements ports.Evaluator.
func (t *TracedEvaluator) Confidence(
	ctx context.Context,
	doc ports.Document,
	grade domain.Grade,
	opts domain.EvalOptions,
) (domain.Confidence, error) {
	ctx, span := t.start(ctx, "Evaluator.Confidence", grade, opts)
	defer span.End()

	c, err := t.inner.Confidence(ctx, doc, grade, opts)
	if err != nil {
		fail(span, err)
		return c, err
	}
	recordConfidence(span, c)
	span.SetStatus(codes.Ok, "")
	return c, nil
}

// EvaluateTarget implements ports.Evaluator.
func (t *TracedEvaluator) EvaluateTarget(
	ctx context.Context,
	doc ports.Document,
	grade domain.Grade,
	opts domain.EvalOptions,
) (ports.TargetResult, error) {
	ctx, span := t.start(ctx, "Evaluator.EvaluateTarget", grade, opts)
	defer span.End()

	res, err := t.inner.EvaluateTarget(ctx, doc, grade, opts)
	if err != nil {
		fail(span, err)
		return res, err
	}
	recordConfidence(span, res.Confidence)
	span.SetAttributes(
		attribute.Int("evaluator.findings", len(res.Findings)),
		attribute.Int("evaluator.annotations", len(res.Annotations)),
	)
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (t *TracedEvaluator) start(
	ctx context.Context,
	name string,
	grade domain.Grade,
	opts domain.EvalOptions,
) (context.Context, trace.Span) {
	tracer := t.tracer
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("evaluator.name", t.inner.Name()),
		attribute.String("evaluator.kind", t.inner.Kind().String()),
		attribute.Float64("grade", float64(grade)),
		attribute.Bool("restrict_to_strings", opts.RestrictToStrings),
	))
}

// recordConfidence sets the confidence attributes and marks the fit band
// with an event, so poor fits stand out in trace views.
func recordConfidence(span trace.Span, c domain.Confidence) {
	v, ok := c.Get()
	if !ok {
		span.AddEvent("confidence.absent")
		return
	}
	light := domain.TrafficLight(v)
	span.SetAttributes(
		attribute.Float64("confidence", v),
		attribute.String("confidence.light", string(light)),
	)
	if light == domain.LightRed {
		span.AddEvent("confidence.poor_fit", trace.WithAttributes(attribute.Float64("confidence", v)))
	}
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
