package evaluators

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/infrastructure/score"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

type tempo struct{ rules *Rules }

type tempoSegment struct {
	Measure    int     `json:"measure"`
	BPM        int     `json:"bpm"`
	QuarterBPM int     `json:"quarter_bpm"`
	BeatUnit   string  `json:"beat_unit,omitempty"`
	Exposure   float64 `json:"exposure"`
	Confidence float64 `json:"confidence"`
}

// stepPenalty is the confidence lost per metronome mark outside the band.
// It shrinks as the grade rises and vanishes at grade 5.
func stepPenalty(g domain.Grade) float64 {
	if g >= 5 {
		return 0
	}
	steps := math.Max(0, math.Round((float64(g)-0.5)/0.5))
	return math.Max(0, 0.20-0.03*steps)
}

func (t tempo) assess(s *score.Score, g domain.Grade, _ domain.EvalOptions, detail bool) ports.TargetResult {
	band, ok := ruleAt(t.rules.Tempo.Grades, g)
	segs := s.TempoSegments()
	if !ok || len(segs) == 0 {
		return ports.TargetResult{Confidence: domain.UnknownConfidence(), Findings: []string{"No measures to evaluate"}}
	}
	if len(segs) == 1 && segs[0].Assumed {
		return ports.TargetResult{
			Confidence: domain.UnknownConfidence(),
			Findings:   []string{fmt.Sprintf("No tempo markings found; assuming %d BPM", score.DefaultBPM)},
		}
	}

	penalty := stepPenalty(g)
	var (
		found findings
		total float64
		rows  = make([]tempoSegment, 0, len(segs))
	)
	for _, seg := range segs {
		qpm := int(math.Round(seg.Mark.QuarterBPM()))
		conf := 1.0
		if penalty > 0 {
			steps := t.steps(qpm, band)
			conf = clamp(1-penalty*float64(steps), 0, 1)
		}
		total += conf * seg.Exposure
		if qpm < band.Min || qpm > band.Max {
			found.add(fmt.Sprintf("Tempo %d at m. %d is outside %d-%d for grade %s", qpm, seg.Mark.Measure, band.Min, band.Max, g))
		}
		rows = append(rows, tempoSegment{
			Measure:    seg.Mark.Measure,
			BPM:        seg.Mark.BPM,
			QuarterBPM: qpm,
			BeatUnit:   seg.Mark.BeatUnit,
			Exposure:   seg.Exposure,
			Confidence: conf,
		})
	}

	res := ports.TargetResult{Confidence: domain.KnownConfidence(total)}
	if detail {
		res.Findings = found.list()
		res.Detail = map[string]any{"segments": rows, "min": band.Min, "max": band.Max}
	}
	return res
}

// steps counts metronome marks between bpm and the band. A tempo inside the
// band that is not a conventional mark counts as one step.
func (t tempo) steps(bpm int, band TempoRange) int {
	marks := t.rules.Tempo.Marks
	switch {
	case bpm >= band.Min && bpm <= band.Max:
		if slices.Contains(marks, bpm) {
			return 0
		}
		return 1
	case bpm < band.Min:
		lowIdx := max(slices.Index(marks, band.Min), 0)
		at := 0
		for i, m := range marks {
			if m <= bpm {
				at = i
			}
		}
		return max(1, lowIdx-at)
	default:
		highIdx := slices.Index(marks, band.Max)
		if highIdx < 0 {
			highIdx = len(marks) - 1
		}
		at := len(marks) - 1
		for i := len(marks) - 1; i >= 0; i-- {
			if marks[i] >= bpm {
				at = i
			}
		}
		return max(1, at-highIdx)
	}
}

type duration struct{ rules *Rules }

func (d duration) assess(s *score.Score, g domain.Grade, _ domain.EvalOptions, detail bool) ports.TargetResult {
	rule, ok := ruleAt(d.rules.Duration, g)
	if !ok || s.MeasureCount() == 0 {
		return ports.TargetResult{Confidence: domain.UnknownConfidence()}
	}
	secs := s.Seconds()

	conf, note := 0.0, "Duration too long for grade"
	switch {
	case rule.CoreMax == 0 || secs <= rule.CoreMax:
		conf, note = 1, ""
	case rule.ExtendedMax > 0 && secs <= rule.ExtendedMax:
		conf, note = 0.5, "Duration slightly long for grade"
	}

	res := ports.TargetResult{Confidence: domain.KnownConfidence(conf)}
	if detail {
		length := time.Duration(secs * float64(time.Second)).Round(time.Second)
		if note != "" {
			res.Findings = []string{fmt.Sprintf("%s %s (%s)", note, g, length)}
		}
		res.Detail = map[string]any{
			"seconds":      math.Round(secs),
			"length":       length.String(),
			"core_max":     rule.CoreMax,
			"extended_max": rule.ExtendedMax,
		}
	}
	return res
}
