package evaluators

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/infrastructure/score"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

// RhythmConfidence is the per-event confidence field set by rhythm.
const RhythmConfidence = "rhythm_confidence"

// Tuplet classes ranked by difficulty. Zero means no tuplet.
var tupletOrder = map[string]int{
	score.TupletSimple:  1,
	score.TupletEven:    2,
	score.TupletComplex: 3,
}

// smallestAllowed is the shortest note value below grade 5.
const smallestAllowed = 0.0625

type rhythm struct{ rules *Rules }

type rhythmIssue struct {
	label string
	conf  float64
	msg   string
}

func (r rhythm) assess(s *score.Score, g domain.Grade, _ domain.EvalOptions, detail bool) ports.TargetResult {
	rule, ok := ruleAt(r.rules.Rhythm, g)
	if !ok {
		return ports.TargetResult{Confidence: domain.UnknownConfidence()}
	}

	var (
		res       ports.TargetResult
		found     findings
		partConfs []float64
		perPart   = map[string]float64{}
	)
	for _, p := range s.Events() {
		var w weighted
		for _, ev := range p.Events {
			if ev.Duration <= 0 {
				continue
			}
			conf, issues := rhythmNote(ev, rule, g)
			w.add(conf, ev.Duration)
			if !detail {
				continue
			}
			ann := domain.EventAnnotation{
				Key:         ev.Key(),
				Confidences: map[string]domain.Confidence{RhythmConfidence: domain.KnownConfidence(conf)},
				Attributes:  map[string]string{"rhythm": ev.Rhythm + strings.Repeat(".", ev.Dots)},
			}
			for _, is := range issues {
				if ann.Comments == nil {
					ann.Comments = make(map[string]string)
				}
				ann.Comments[is.label] = is.msg
				found.add(is.msg)
			}
			res.Annotations = append(res.Annotations, ann)
		}
		if m, ok := w.mean(); ok {
			partConfs = append(partConfs, m)
			perPart[p.Name] = m
		}
	}

	res.Confidence = meanOf(partConfs)
	if !detail {
		return res
	}
	res.Findings = found.list()
	if !res.Confidence.Present() {
		res.Findings = append(res.Findings, "No notes to evaluate")
	}
	res.Detail = map[string]any{
		"max_subdivision": rule.MaxSubdivision,
		"parts":           perPart,
	}
	return res
}

// rhythmNote scores one event; its confidence is the lowest of the rules it
// breaks.
func rhythmNote(ev score.NoteEvent, rule RhythmRule, g domain.Grade) (float64, []rhythmIssue) {
	written, _ := score.QuarterLength(ev.Rhythm, ev.Dots)
	maxAllowed, limited := score.QuarterLength(rule.MaxSubdivision, 0)

	var issues []rhythmIssue

	// Subdivision.
	switch {
	case g < 5 && written <= smallestAllowed:
		issues = append(issues, rhythmIssue{"subdivision", 0, fmt.Sprintf("64th notes or smaller not common for grade %s", g)})
	case limited && written < maxAllowed:
		ratio := written / maxAllowed
		msg := fmt.Sprintf("subdivisions smaller than %s not common for grade %s", rule.MaxSubdivision, g)
		if g < 4 && ratio <= 0.5 {
			issues = append(issues, rhythmIssue{"subdivision", 0, msg})
			break
		}
		exp := math.Max(2, 6-float64(g))
		issues = append(issues, rhythmIssue{"subdivision", ratioPenalty(ratio, exp, 0.02), msg})
	}

	// Dotted rhythms.
	if ev.Dots > 0 && !rule.Dotted {
		p := 1.0
		if limited {
			p = ratioPenalty(written/maxAllowed, 1.2, 0.05)
		}
		issues = append(issues, rhythmIssue{"dotted", 0.7 * p, fmt.Sprintf("dotted rhythms not common for grade %s", g)})
	}

	// Syncopation.
	if !ev.Rest && !rule.Syncopation && ev.Syncopated() {
		p := 1.0
		if beat := ev.Meter.BeatLength(); beat > 0 {
			p = ratioPenalty(ev.Duration/beat, 0.6, 0.2)
		}
		issues = append(issues, rhythmIssue{"syncopation", 0.85 * p, fmt.Sprintf("syncopation not common for grade %s", g)})
	}

	// Tuplets.
	if ev.Tuplet != nil {
		class := ev.Tuplet.Class()
		order := tupletOrder[class]
		switch {
		case len(rule.Tuplets) == 0:
			issues = append(issues, rhythmIssue{"tuplet", math.Max(0.05, 0.5/float64(order+1)), "tuplets not common for given grade"})
		case !slices.Contains(rule.Tuplets, class):
			allowed := 0
			for _, c := range rule.Tuplets {
				allowed = max(allowed, tupletOrder[c])
			}
			ratio := float64(allowed+1) / float64(order+1)
			conf := clamp(0.8*ratio, 0.1, 1)
			issues = append(issues, rhythmIssue{"tuplet", conf, fmt.Sprintf("%s tuplets not common for grade %s", class, g)})
		}
	}

	conf := 1.0
	for _, is := range issues {
		conf = math.Min(conf, is.conf)
	}
	return conf, issues
}

func ratioPenalty(ratio, exponent, floor float64) float64 {
	ratio = clamp(ratio, 0, 1)
	return math.Max(floor, math.Pow(ratio, exponent))
}
