package evaluators

import (
	"fmt"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/infrastructure/score"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

// Confidence for a meter class the grade does not list.
const (
	unlistedCompound = 0.25
	unlistedMixed    = 0.3
	unlistedOdd      = 0

	meterChangePenalty = 0.6
)

type meter struct{ rules *Rules }

type meterSegment struct {
	Measure    int     `json:"measure"`
	Meter      string  `json:"meter"`
	Class      string  `json:"class"`
	Measures   int     `json:"measures"`
	Exposure   float64 `json:"exposure"`
	Confidence float64 `json:"confidence"`
}

func (m meter) assess(s *score.Score, g domain.Grade, _ domain.EvalOptions, detail bool) ports.TargetResult {
	rule, ok := ruleAt(m.rules.Meter, g)
	segs := s.MeterSegments()
	if !ok || len(segs) == 0 {
		return ports.TargetResult{Confidence: domain.UnknownConfidence(), Findings: []string{"No measures to evaluate"}}
	}

	var (
		found findings
		total float64
		rows  = make([]meterSegment, 0, len(segs))
	)
	for _, seg := range segs {
		conf := meterConfidence(seg.Meter, rule)
		total += conf * seg.Exposure
		if conf < 1 {
			found.add(fmt.Sprintf("%s (%s) is not common for grade %s", seg.Meter, seg.Meter.Class(), g))
		}
		rows = append(rows, meterSegment{
			Measure:    seg.Measure,
			Meter:      seg.Meter.String(),
			Class:      seg.Meter.Class(),
			Measures:   seg.Measures,
			Exposure:   seg.Exposure,
			Confidence: conf,
		})
	}

	switch n := len(segs); {
	case g < 2 && n > 1:
		total *= meterChangePenalty
		found.add("Meter changes not common for lower grades")
	case g < 3 && n > 3:
		total *= meterChangePenalty
		found.add("Frequent meter changes not common for mid grades")
	}

	res := ports.TargetResult{Confidence: domain.KnownConfidence(total)}
	if detail {
		res.Findings = found.list()
		res.Detail = map[string]any{"segments": rows, "changes": len(segs) - 1}
	}
	return res
}

func meterConfidence(ts score.TimeSignature, rule MeterRule) float64 {
	switch ts.Class() {
	case score.MeterSimple:
		return 1
	case score.MeterCompound:
		if rule.Compound || (rule.EasyCompound && ts.Beats == 6) {
			return 1
		}
		return unlistedCompound
	case score.MeterOdd:
		if rule.Odd {
			return 1
		}
		return unlistedOdd
	default:
		if rule.Mixed {
			return 1
		}
		return unlistedMixed
	}
}
