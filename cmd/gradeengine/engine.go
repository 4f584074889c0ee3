package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/infrastructure/cache"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/infrastructure/events"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/infrastructure/middleware"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/application"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/config"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

// engine bundles the orchestrator with the resources it must release.
type engine struct {
	orchestrator *application.JobOrchestrator
	publisher    ports.EventPublisher
}

func (e *engine) Close() error {
	return e.publisher.Close()
}

// buildEngine wires the evaluator set, curve cache, pipeline and event
// publisher described by cfg around store.
func buildEngine(
	cfg config.Config,
	store ports.DocumentStore,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) (*engine, error) {
	registry := application.NewEvaluatorRegistry()
	set, err := registry.Build(cfg.Engine.EvaluatorNames(), cfg.Engine.EvaluatorParams())
	if err != nil {
		return nil, fmt.Errorf("build evaluators: %w", err)
	}
	if cfg.Engine.Tracing {
		set = set.Wrap(func(ev ports.Evaluator) ports.Evaluator {
			return middleware.Trace(ev, nil)
		})
	}

	var curves ports.CurveCache
	if !cfg.Engine.DisableCurveCache {
		curves = cache.NewCurveCache(metrics)
	}

	pipeline, err := application.NewAnalysisPipeline(set, curves, cfg.Pipeline(), metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	var publisher ports.EventPublisher = events.Nop{}
	if cfg.NATS.URL != "" {
		p, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return nil, err
		}
		rp, err := events.NewResilientPublisher(p, cfg.NATS.Resilience(), logger)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		publisher = rp
	}

	orch, err := application.NewJobOrchestrator(cfg.Orchestrator(), pipeline, store, publisher, metrics, logger)
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	logger.Info("engine ready",
		zap.Strings("evaluators", pipeline.Evaluators()),
		zap.Bool("curve_cache", curves != nil),
		zap.Bool("tracing", cfg.Engine.Tracing),
		zap.Bool("nats", cfg.NATS.URL != ""),
	)
	return &engine{orchestrator: orch, publisher: publisher}, nil
}
