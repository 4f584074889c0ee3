// Package config loads the grading engine configuration from YAML and
// environment variables.
package config

import (
	"time"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/infrastructure/events"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/application"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/logging"
)

// Config is the complete engine configuration and the entry point for
// every other section.
type Config struct {
	// Server configures the HTTP transport and the upload store.
	Server ServerConfig `yaml:"server"`
	// Engine configures the job orchestrator and the analysis pipeline.
	Engine EngineConfig `yaml:"engine"`
	// Log configures the process logger.
	Log logging.Config `yaml:"log"`
	// NATS configures progress event mirroring. An empty URL disables it.
	NATS NATSConfig `yaml:"nats"`
}

// ServerConfig configures the HTTP listener and document storage.
type ServerConfig struct {
	// Addr is the listen address, host:port.
	Addr string `yaml:"addr" validate:"required,hostname_port"`
	// MaxUploadBytes caps uploaded score files.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" validate:"min=1024,max=1073741824"`
	// UploadDir holds stored documents.
	UploadDir string `yaml:"upload_dir" validate:"required"`
	// UploadTTL is how long a stored document is kept.
	UploadTTL time.Duration `yaml:"upload_ttl" validate:"min=1m"`
	// SweepInterval is how often expired uploads are removed.
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"min=1s"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=1s,max=5m"`
}

// EngineConfig configures how jobs are scheduled and scored.
type EngineConfig struct {
	Workers     int           `yaml:"workers" validate:"min=1,max=256"`
	MaxPending  int           `yaml:"max_pending" validate:"min=1,max=100000"`
	JobTTL      time.Duration `yaml:"job_ttl" validate:"min=1s"`
	Heartbeat   time.Duration `yaml:"heartbeat" validate:"min=100ms,max=5m"`
	SubmitRate  float64       `yaml:"submit_rate" validate:"gte=0"`
	SubmitBurst int           `yaml:"submit_burst" validate:"gte=0"`

	// ParallelEvaluators bounds concurrent aggregate-only evaluators per job.
	ParallelEvaluators int `yaml:"parallel_evaluators" validate:"gte=0,max=64"`

	// Evaluators lists the dimensions to run, in run order.
	Evaluators []EvaluatorConfig `yaml:"evaluators" validate:"required,min=1,unique=Name,dive"`

	// Weights are aggregation weights by evaluator name. Empty means the
	// built-in defaults.
	Weights map[string]float64 `yaml:"weights" validate:"dive,keys,evaluator,endkeys,gte=0,lte=100"`

	// Cost derives per-job deadlines.
	Cost application.CostModel `yaml:"cost"`

	// DisableCurveCache turns off cross-job curve memoisation.
	DisableCurveCache bool `yaml:"disable_curve_cache"`

	// Tracing wraps every evaluator with OpenTelemetry spans.
	Tracing bool `yaml:"tracing"`
}

// EvaluatorConfig selects one evaluator and its parameters.
type EvaluatorConfig struct {
	Name   string         `yaml:"name" validate:"required,evaluator"`
	Params map[string]any `yaml:"params"`
}

// NATSConfig configures the optional event bus.
type NATSConfig struct {
	URL           string `yaml:"url" validate:"omitempty,url"`
	SubjectPrefix string `yaml:"subject_prefix" validate:"omitempty,subject"`

	// Retries bounds extra attempts for a transient publish failure.
	Retries        int           `yaml:"retries" validate:"gte=0,max=5"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" validate:"gte=0"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay" validate:"gtefield=RetryBaseDelay,max=5s"`

	// BreakerFailures consecutive failures stop publishing for BreakerCooldown.
	BreakerFailures int           `yaml:"breaker_failures" validate:"min=1"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" validate:"min=1s"`

	// PublishTimeout bounds one event publish, retries included.
	PublishTimeout time.Duration `yaml:"publish_timeout" validate:"min=10ms,max=10s"`
}

// Resilience converts the retry and breaker settings.
func (c NATSConfig) Resilience() events.ResilienceConfig {
	return events.ResilienceConfig{
		Retries:         c.Retries,
		BaseDelay:       c.RetryBaseDelay,
		MaxDelay:        c.RetryMaxDelay,
		BreakerFailures: c.BreakerFailures,
		BreakerCooldown: c.BreakerCooldown,
	}
}

// DefaultEvaluators is the run order used when none is configured.
var DefaultEvaluators = []string{
	"rhythm", "range", "articulation",
	"meter", "key", "tempo", "duration", "dynamics", "availability", "texture",
}

// Default returns a configuration that validates as-is.
func Default() Config {
	orch := application.DefaultOrchestratorConfig()
	resilience := events.DefaultResilienceConfig()
	evs := make([]EvaluatorConfig, len(DefaultEvaluators))
	for i, name := range DefaultEvaluators {
		evs[i] = EvaluatorConfig{Name: name}
	}
	return Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			MaxUploadBytes:  orch.MaxDocumentBytes,
			UploadDir:       "uploads",
			UploadTTL:       24 * time.Hour,
			SweepInterval:   10 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Engine: EngineConfig{
			Workers:            orch.Workers,
			MaxPending:         orch.MaxPending,
			JobTTL:             orch.JobTTL,
			Heartbeat:          orch.Heartbeat,
			ParallelEvaluators: 4,
			Evaluators:         evs,
			Cost:               orch.Cost,
		},
		Log: logging.DefaultConfig(),
		NATS: NATSConfig{
			SubjectPrefix:   events.DefaultSubjectPrefix,
			Retries:         resilience.Retries,
			RetryBaseDelay:  resilience.BaseDelay,
			RetryMaxDelay:   resilience.MaxDelay,
			BreakerFailures: resilience.BreakerFailures,
			BreakerCooldown: resilience.BreakerCooldown,
			PublishTimeout:  orch.PublishTimeout,
		},
	}
}

// EvaluatorNames returns the configured evaluator names in run order.
func (c EngineConfig) EvaluatorNames() []string {
	names := make([]string, len(c.Evaluators))
	for i, e := range c.Evaluators {
		names[i] = e.Name
	}
	return names
}

// EvaluatorParams returns the per-evaluator parameters keyed by name.
func (c EngineConfig) EvaluatorParams() map[string]map[string]any {
	params := make(map[string]map[string]any, len(c.Evaluators))
	for _, e := range c.Evaluators {
		if len(e.Params) > 0 {
			params[e.Name] = e.Params
		}
	}
	return params
}

// Orchestrator converts the engine section to an orchestrator config.
func (c Config) Orchestrator() application.OrchestratorConfig {
	return application.OrchestratorConfig{
		Workers:          c.Engine.Workers,
		MaxPending:       c.Engine.MaxPending,
		JobTTL:           c.Engine.JobTTL,
		Heartbeat:        c.Engine.Heartbeat,
		SubmitRate:       c.Engine.SubmitRate,
		SubmitBurst:      c.Engine.SubmitBurst,
		MaxDocumentBytes: c.Server.MaxUploadBytes,
		Cost:             c.Engine.Cost,
		PublishTimeout:   c.NATS.PublishTimeout,
	}
}

// Pipeline converts the engine section to a pipeline config.
func (c Config) Pipeline() application.PipelineConfig {
	var weights map[string]float64
	if len(c.Engine.Weights) > 0 {
		weights = c.Engine.Weights
	}
	return application.PipelineConfig{
		Weights:            weights,
		ParallelEvaluators: c.Engine.ParallelEvaluators,
	}
}
