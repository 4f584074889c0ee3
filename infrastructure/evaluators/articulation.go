package evaluators

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/infrastructure/score"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

// ArticulationConfidence is the per-event confidence field set by
// articulation.
const ArticulationConfidence = "articulation_confidence"

type articulation struct{ rules *Rules }

// Only articulated notes are scored; a score without articulations yields an
// absent confidence.
func (a articulation) assess(s *score.Score, g domain.Grade, _ domain.EvalOptions, detail bool) ports.TargetResult {
	rule, ok := ruleAt(a.rules.Articulation, g)
	if !ok {
		return ports.TargetResult{Confidence: domain.UnknownConfidence()}
	}

	var (
		res   ports.TargetResult
		found findings
		w     weighted
	)
	for _, p := range s.Events() {
		for _, ev := range p.Events {
			if ev.Rest || len(ev.Articulations) == 0 {
				continue
			}
			conf, msg := 1.0, ""
			switch {
			case len(ev.Articulations) > 1 && !rule.Multiple:
				conf, msg = 0, fmt.Sprintf("multiple articulations per note are not common for grade %s", g)
			case len(ev.Articulations) == 1 && !slices.Contains(rule.Allowed, ev.Articulations[0]):
				conf, msg = 0, fmt.Sprintf("%s is not common for grade %s", ev.Articulations[0], g)
			}
			w.add(conf, max(ev.Duration, 0.0625))
			if !detail {
				continue
			}
			ann := domain.EventAnnotation{
				Key:         ev.Key(),
				Confidences: map[string]domain.Confidence{ArticulationConfidence: domain.KnownConfidence(conf)},
				Attributes:  map[string]string{"articulation": strings.Join(ev.Articulations, "+")},
			}
			if msg != "" {
				ann.Comments = map[string]string{"articulation": msg}
				found.add(msg)
			}
			res.Annotations = append(res.Annotations, ann)
		}
	}

	if m, ok := w.mean(); ok {
		res.Confidence = domain.KnownConfidence(m)
	} else {
		res.Confidence = domain.UnknownConfidence()
	}
	if detail {
		res.Findings = found.list()
		if !res.Confidence.Present() {
			res.Findings = append(res.Findings, "No articulations marked")
		}
		res.Detail = map[string]any{"allowed": rule.Allowed, "multiple": rule.Multiple}
	}
	return res
}
