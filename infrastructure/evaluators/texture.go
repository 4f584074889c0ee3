package evaluators

import (
	"fmt"
	"maps"
	"slices"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/infrastructure/score"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

// DefaultTextureSlope is the steepness of the texture logistic curve.
const DefaultTextureSlope = 1.4

// Contributions to the texture estimate.
const (
	perExtraFamily = 0.4
	perSplit       = 0.3
	perSolo        = 0.35
)

type texture struct {
	slope float64
}

func newTexture(_ *Rules, params map[string]any) (assessor, error) {
	slope, err := floatParam(params, "slope", DefaultTextureSlope)
	if err != nil {
		return nil, err
	}
	if slope <= 0 {
		return nil, fmt.Errorf("slope must be positive, got %v", slope)
	}
	return texture{slope: slope}, nil
}

// ensemble describes how a score is scored for its players.
type ensemble struct {
	Parts    int            `json:"parts"`
	Families []string       `json:"families"`
	Splits   map[string]int `json:"split_instruments"`
	Solos    []string       `json:"solo_parts"`

	// Density is the mean share of parts playing in a measure.
	Density  float64 `json:"density"`
	Label    string  `json:"label"`
	Estimate float64 `json:"grade_estimate"`
}

func profile(s *score.Score) ensemble {
	v, _ := s.Memo("evaluators.ensemble", func() (any, error) {
		return buildProfile(s), nil
	})
	return v.(ensemble)
}

func buildProfile(s *score.Score) ensemble {
	e := ensemble{Parts: len(s.Parts), Splits: map[string]int{}}
	families := map[string]bool{}
	counts := map[string]int{}
	active := map[int]int{}
	measures := map[int]bool{}

	for _, pe := range s.Events() {
		if pe.Instrument.Known() {
			families[pe.Instrument.Family] = true
			counts[pe.Instrument.ID]++
		}
		if score.IsSolo(pe.Name) {
			e.Solos = append(e.Solos, pe.Name)
		}
	}
	for _, p := range s.Parts {
		for _, m := range p.Measures {
			measures[m.Number] = true
			for _, n := range m.Notes {
				if !n.IsRest() {
					active[m.Number]++
					break
				}
			}
		}
	}

	for id, n := range counts {
		if n > 1 {
			e.Splits[id] = n
		}
	}
	e.Families = slices.Sorted(maps.Keys(families))
	if len(measures) > 0 && e.Parts > 0 {
		var sum int
		for m := range measures {
			sum += active[m]
		}
		e.Density = float64(sum) / float64(len(measures)) / float64(e.Parts)
	}

	est := 0.5
	if n := len(e.Families); n > 1 {
		est += perExtraFamily * float64(n-1)
	}
	est += perSplit * float64(len(e.Splits))
	est += perSolo * float64(len(e.Solos))
	switch {
	case e.Density >= 0.75:
		est += 0.5
		e.Label = "Dense texture"
	case e.Density >= 0.6:
		est += 0.25
		e.Label = "Moderate texture"
	case e.Density <= 0.3:
		est -= 0.25
		e.Label = "Sparse texture"
	default:
		e.Label = "Moderate texture"
	}
	e.Estimate = clamp(est, float64(domain.MinGrade), float64(domain.MaxGrade))
	return e
}

func (t texture) assess(s *score.Score, g domain.Grade, _ domain.EvalOptions, detail bool) ports.TargetResult {
	e := profile(s)
	if e.Parts == 0 {
		return ports.TargetResult{Confidence: domain.UnknownConfidence()}
	}
	res := ports.TargetResult{Confidence: domain.KnownConfidence(domain.LogisticConfidence(g, e.Estimate, t.slope))}
	if !detail {
		return res
	}
	res.Findings = []string{fmt.Sprintf("%s: %d%% of parts active per measure", e.Label, int(e.Density*100+0.5))}
	if len(e.Splits) > 0 {
		res.Findings = append(res.Findings, fmt.Sprintf("%d instruments split across parts", len(e.Splits)))
	}
	if len(e.Solos) > 0 {
		res.Findings = append(res.Findings, fmt.Sprintf("%d solo parts", len(e.Solos)))
	}
	res.Detail = map[string]any{"profile": e}
	return res
}
