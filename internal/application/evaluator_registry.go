package application

import (
	"fmt"
	"slices"
	"sync"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/infrastructure/evaluators"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

// EvaluatorRegistry maps evaluator names to factories and builds the
// ordered evaluator set a pipeline runs.
// It is safe for concurrent use.
type EvaluatorRegistry struct {
	// factories maps evaluator names to their factory functions.
	factories map[string]ports.EvaluatorFactory
	// mu protects concurrent access to the factories map.
	mu sync.RWMutex
}

// NewEvaluatorRegistry creates a registry with the built-in evaluators
// pre-registered.
func NewEvaluatorRegistry() *EvaluatorRegistry {
	r := &EvaluatorRegistry{factories: make(map[string]ports.EvaluatorFactory)}
	for name, f := range evaluators.Builtins() {
		r.factories[name] = f
	}
	return r
}

// RegisterFactory registers a factory under name, replacing any existing
// one. This allows extending the engine with custom dimensions.
func (r *EvaluatorRegistry) RegisterFactory(name string, factory ports.EvaluatorFactory) error {
	if name == "" {
		return fmt.Errorf("evaluator name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory function cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
	return nil
}

// Create builds one evaluator by name.
func (r *EvaluatorRegistry) Create(name string, params map[string]any) (ports.Evaluator, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported evaluator: %s", name)
	}

	ev, err := factory(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluator %s: %w", name, err)
	}
	if ev.Name() != name {
		return nil, fmt.Errorf("evaluator factory %s returned evaluator named %s", name, ev.Name())
	}
	return ev, nil
}

// Build creates the named evaluators and returns them as an ordered set.
// params holds optional per-evaluator parameters keyed by name.
func (r *EvaluatorRegistry) Build(names []string, params map[string]map[string]any) (*EvaluatorSet, error) {
	evs := make([]ports.Evaluator, 0, len(names))
	for _, name := range names {
		ev, err := r.Create(name, params[name])
		if err != nil {
			return nil, err
		}
		evs = append(evs, ev)
	}
	return NewEvaluatorSet(evs...)
}

// SupportedTypes returns all registered evaluator names, sorted.
func (r *EvaluatorRegistry) SupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// EvaluatorSet is an immutable, ordered list of evaluators. Note-producing
// evaluators always come first; within each group the construction order is
// kept. That order decides which evaluator's values win when annotations for
// the same event are merged, so it must stay fixed for a given configuration.
type EvaluatorSet struct {
	notes  []ports.Evaluator
	others []ports.Evaluator
}

// NewEvaluatorSet partitions evs by kind. Duplicate or empty names are
// rejected.
func NewEvaluatorSet(evs ...ports.Evaluator) (*EvaluatorSet, error) {
	if len(evs) == 0 {
		return nil, fmt.Errorf("evaluator set cannot be empty")
	}
	seen := make(map[string]bool, len(evs))
	s := &EvaluatorSet{}
	for _, ev := range evs {
		if ev == nil {
			return nil, fmt.Errorf("evaluator cannot be nil")
		}
		name := ev.Name()
		if name == "" {
			return nil, fmt.Errorf("evaluator name cannot be empty")
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate evaluator: %s", name)
		}
		seen[name] = true
		if ev.Kind() == ports.KindNotes {
			s.notes = append(s.notes, ev)
		} else {
			s.others = append(s.others, ev)
		}
	}
	return s, nil
}

// Notes returns the note-producing evaluators in run order.
func (s *EvaluatorSet) Notes() []ports.Evaluator { return slices.Clone(s.notes) }

// Others returns the aggregate-only evaluators in run order.
func (s *EvaluatorSet) Others() []ports.Evaluator { return slices.Clone(s.others) }

// All returns every evaluator in run order.
func (s *EvaluatorSet) All() []ports.Evaluator {
	return append(slices.Clone(s.notes), s.others...)
}

// Names returns evaluator names in run order.
func (s *EvaluatorSet) Names() []string {
	all := s.All()
	names := make([]string, len(all))
	for i, ev := range all {
		names[i] = ev.Name()
	}
	return names
}

// Len returns the number of evaluators.
func (s *EvaluatorSet) Len() int { return len(s.notes) + len(s.others) }

// Wrap returns a new set with every evaluator passed through wrap. Kinds and
// order are preserved. It is used to attach tracing and metrics decorators.
func (s *EvaluatorSet) Wrap(wrap func(ports.Evaluator) ports.Evaluator) *EvaluatorSet {
	out := &EvaluatorSet{
		notes:  make([]ports.Evaluator, len(s.notes)),
		others: make([]ports.Evaluator, len(s.others)),
	}
	for i, ev := range s.notes {
		out.notes[i] = wrap(ev)
	}
	for i, ev := range s.others {
		out.others[i] = wrap(ev)
	}
	return out
}
