package evaluators

import (
	"fmt"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/infrastructure/score"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

// majorTonics spells each major-key tonic the way band literature does.
var majorTonics = [12]string{"C", "Db", "D", "Eb", "E", "F", "Gb", "G", "Ab", "A", "Bb", "B"}

type key struct{ rules *Rules }

func (k key) assess(s *score.Score, g domain.Grade, opts domain.EvalOptions, detail bool) ports.TargetResult {
	if s.Key == nil {
		return ports.TargetResult{
			Confidence: domain.UnknownConfidence(),
			Findings:   []string{"No key signature; key difficulty not assessed"},
		}
	}
	tonic, err := score.PitchClass(s.Key.Tonic)
	if err != nil {
		return ports.TargetResult{Confidence: domain.UnknownConfidence(), Findings: []string{err.Error()}}
	}
	major := tonic
	if s.Key.IsMinor() {
		major = (tonic + 3) % 12
	}

	sources := k.rules.Keys.Publishers[major]
	if opts.RestrictToStrings {
		sources = nil
		if v, ok := k.rules.Keys.Strings[major]; ok {
			sources = map[string]domain.Grade{"strings": v}
		}
	}
	if len(sources) == 0 {
		return ports.TargetResult{
			Confidence: domain.UnknownConfidence(),
			Findings:   []string{fmt.Sprintf("No key guidelines for %s", keyName(s.Key))},
		}
	}

	support := 0
	for _, lowest := range sources {
		if lowest <= g {
			support++
		}
	}
	conf := keyConfidence(support, len(sources))

	res := ports.TargetResult{Confidence: domain.KnownConfidence(conf)}
	if !detail {
		return res
	}
	if conf < 0.6 {
		res.Findings = []string{fmt.Sprintf("%s is uncommon at grade %s (%d of %d sources)", keyName(s.Key), g, support, len(sources))}
	}
	res.Detail = map[string]any{
		"key":         keyName(s.Key),
		"major_tonic": majorTonics[major],
		"sources":     sources,
		"support":     support,
	}
	return res
}

// keyConfidence saturates with the number of sources listing the key at or
// below the grade. Unanimous support gets the steeper curve.
func keyConfidence(support, sources int) float64 {
	if support == sources {
		return domain.SaturatingConfidence(1, 3.5, 1, 0)
	}
	return domain.SaturatingConfidence(float64(support), 2, 0.8, float64(sources))
}
