package evaluators

import (
	"fmt"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/infrastructure/score"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

type availability struct{ rules *Rules }

// unavailablePenalty grows with how far above the grade an instrument
// usually appears. delta is the availability grade minus the grade.
func unavailablePenalty(delta float64) float64 {
	switch {
	case delta <= 0.5:
		return 0.05
	case delta <= 1:
		return 0.10
	case delta <= 2:
		return 0.15
	}
	return 0.20
}

type partAvailability struct {
	Instrument string                        `json:"instrument"`
	Confidence domain.Confidence             `json:"confidence"`
	From       domain.Optional[domain.Grade] `json:"available_from"`
	Note       string                        `json:"note,omitempty"`
}

func (a availability) assess(s *score.Score, g domain.Grade, _ domain.EvalOptions, detail bool) ports.TargetResult {
	var (
		found   findings
		confs   []float64
		penalty float64
		parts   = make(map[string]partAvailability, len(s.Parts))
	)
	for _, pe := range s.Events() {
		inst := pe.Instrument
		row := partAvailability{Instrument: inst.ID}

		if inst.Family == score.FamilyPercussion {
			confs = append(confs, 1)
			row.Confidence, row.Note = domain.KnownConfidence(1), "Percussion part given a free pass"
			parts[pe.Name] = row
			continue
		}
		from, ok := a.rules.Availability[inst.ID]
		if !ok {
			row.Note = fmt.Sprintf("Unable to find %s in availability guidelines", pe.Name)
			found.add(row.Note)
			parts[pe.Name] = row
			continue
		}

		row.From = domain.Some(from)
		conf := 1.0
		if from > g {
			conf = 0
			penalty += unavailablePenalty(float64(from - g))
			row.Note = fmt.Sprintf("%s typically not found in grade %s", pe.Name, g)
			found.add(row.Note)
		}
		confs = append(confs, conf)
		row.Confidence = domain.KnownConfidence(conf)
		parts[pe.Name] = row
	}

	res := ports.TargetResult{Confidence: meanOf(confs)}
	if v, ok := res.Confidence.Get(); ok {
		res.Confidence = domain.KnownConfidence(v - penalty)
	}
	if detail {
		res.Findings = found.list()
		res.Detail = map[string]any{"parts": parts, "penalty": penalty}
	}
	return res
}
