package evaluators

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/infrastructure/score"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

type dynamics struct {
	rules *Rules
	// known is every marking any grade lists. Other text is ignored.
	known map[string]bool
}

func newDynamics(r *Rules) dynamics {
	known := make(map[string]bool)
	for _, marks := range r.Dynamics {
		for _, m := range marks {
			known[m] = true
		}
	}
	return dynamics{rules: r, known: known}
}

// timeline maps measure numbers to their start in quarter lengths and
// reports the total length.
type timeline struct {
	starts map[int]float64
	length float64
}

func scoreTimeline(s *score.Score) timeline {
	v, _ := s.Memo("evaluators.timeline", func() (any, error) {
		tl := timeline{starts: make(map[int]float64)}
		if len(s.Parts) == 0 {
			return tl, nil
		}
		for _, m := range s.Parts[0].Measures {
			tl.starts[m.Number] = tl.length
			tl.length += s.MeterAt(m.Number).BarLength()
		}
		return tl, nil
	})
	return v.(timeline)
}

// Each marking governs the part until the next one. A part's confidence is
// the share of its marked span covered by markings common at the grade.
func (d dynamics) assess(s *score.Score, g domain.Grade, _ domain.EvalOptions, detail bool) ports.TargetResult {
	allowed, ok := ruleAt(d.rules.Dynamics, g)
	if !ok {
		return ports.TargetResult{Confidence: domain.UnknownConfidence()}
	}
	tl := scoreTimeline(s)

	var (
		found     findings
		partConfs []float64
		perPart   = map[string]float64{}
		used      = map[string]bool{}
	)
	for _, p := range s.Parts {
		type mark struct {
			value string
			at    float64
		}
		var marks []mark
		for _, dm := range p.Dynamics {
			v := strings.ToLower(strings.TrimSpace(dm.Value))
			start, ok := tl.starts[dm.Measure]
			if !d.known[v] || !ok {
				continue
			}
			marks = append(marks, mark{v, start + dm.Offset})
		}
		if len(marks) == 0 {
			continue
		}

		var w weighted
		for i, m := range marks {
			end := tl.length
			if i+1 < len(marks) {
				end = marks[i+1].at
			}
			span := max(end-m.at, 0)
			conf := 0.0
			if slices.Contains(allowed, m.value) {
				conf = 1
			} else {
				found.add(fmt.Sprintf("%s is not common for grade %s", m.value, g))
			}
			w.add(conf, span)
			used[m.value] = true
		}
		mean, _ := w.mean()
		partConfs = append(partConfs, mean)
		perPart[p.Name] = mean
	}

	res := ports.TargetResult{Confidence: meanOf(partConfs)}
	if !detail {
		return res
	}
	res.Findings = found.list()
	if !res.Confidence.Present() {
		res.Findings = append(res.Findings, "No dynamics marked")
	}
	res.Detail = map[string]any{
		"parts": perPart,
		"used":  slices.Sorted(maps.Keys(used)),
	}
	return res
}
