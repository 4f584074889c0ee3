package evaluators

import (
	"fmt"
	"math"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/infrastructure/score"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

// RangeConfidence is the per-event confidence field set by range.
const RangeConfidence = "range_confidence"

// extendedSpan is how far past the core range a note still counts as
// extended, in semitones.
const extendedSpan = 3

var (
	majorScale = [...]int{0, 2, 4, 5, 7, 9, 11}
	minorScale = [...]int{0, 2, 3, 5, 7, 8, 10}
)

type pitchRange struct{ rules *Rules }

// coreAt widens the core range linearly toward the total range as the grade
// rises from 0.5 to 5.
func (r *RangeRule) coreAt(g domain.Grade) (low, high int) {
	t := clamp((float64(g)-float64(domain.MinGrade))/float64(domain.MaxGrade-domain.MinGrade), 0, 1)
	low = int(math.Round(float64(r.core[0]) - t*float64(r.core[0]-r.total[0])))
	high = int(math.Round(float64(r.core[1]) + t*float64(r.total[1]-r.core[1])))
	return low, high
}

// harmonicPenalty is subtracted from notes outside the key.
func harmonicPenalty(g domain.Grade) float64 {
	if g >= 5 {
		return 0
	}
	return math.Max(0, 0.45-(float64(g)-1)*0.1)
}

// diatonic returns the pitch classes of the score's key, or nil when the
// score has no key.
func diatonic(s *score.Score) map[int]bool {
	if s.Key == nil {
		return nil
	}
	tonic, err := score.PitchClass(s.Key.Tonic)
	if err != nil {
		return nil
	}
	steps := majorScale
	if s.Key.IsMinor() {
		steps = minorScale
	}
	set := make(map[int]bool, len(steps))
	for _, st := range steps {
		set[(tonic+st)%12] = true
	}
	return set
}

func (r pitchRange) assess(s *score.Score, g domain.Grade, opts domain.EvalOptions, detail bool) ports.TargetResult {
	var (
		res       ports.TargetResult
		found     findings
		partConfs []float64
		perPart   = map[string]float64{}
	)
	inKey := diatonic(s)
	penalty := harmonicPenalty(g)

	for _, p := range s.Events() {
		if opts.RestrictToStrings && !p.Instrument.IsString() {
			continue
		}
		rule, ok := r.rules.Ranges[p.Instrument.ID]
		if !ok {
			if detail && p.Instrument.Family != score.FamilyPercussion {
				found.add(fmt.Sprintf("No range guidelines for %s", p.Name))
			}
			continue
		}
		low, high := rule.coreAt(g)

		var confs []float64
		for _, ev := range p.Events {
			if ev.Rest {
				continue
			}
			conf, where := rangeNote(ev.Pitch, low, high, rule.total)
			var harmonic bool
			if inKey != nil && !inKey[ev.Pitch%12] && penalty > 0 {
				conf = math.Max(0, conf-penalty)
				harmonic = true
			}
			confs = append(confs, conf)
			if !detail {
				continue
			}

			ann := domain.EventAnnotation{
				Key:         ev.Key(),
				Confidences: map[string]domain.Confidence{RangeConfidence: domain.KnownConfidence(conf)},
				Attributes:  map[string]string{"pitch": ev.PitchName},
			}
			if where != "" {
				msg := fmt.Sprintf("%s is %s for %s at grade %s", ev.PitchName, where, p.Instrument.ID, g)
				ann.Comments = map[string]string{"range": msg}
				found.add(fmt.Sprintf("%s: notes %s", p.Name, where))
			}
			if harmonic {
				if ann.Comments == nil {
					ann.Comments = make(map[string]string)
				}
				ann.Comments["harmonic"] = fmt.Sprintf("%s is outside the key of %s", ev.PitchName, keyName(s.Key))
				found.add(fmt.Sprintf("%s: accidentals outside the key", p.Name))
			}
			res.Annotations = append(res.Annotations, ann)
		}
		if len(confs) > 0 {
			m := meanOf(confs).OrElse(0)
			partConfs = append(partConfs, m)
			perPart[p.Name] = m
		}
	}

	res.Confidence = meanOf(partConfs)
	if !detail {
		return res
	}
	res.Findings = found.list()
	res.Detail = map[string]any{"parts": perPart, "strings_only": opts.RestrictToStrings}
	return res
}

// rangeNote places a pitch relative to the core range and returns its
// confidence and, outside the core, a short description of where it falls.
func rangeNote(pitch, low, high int, total [2]int) (float64, string) {
	switch {
	case pitch >= low && pitch <= high:
		return 1, ""
	case pitch < total[0] || pitch > total[1]:
		return 0, "outside the instrument's range"
	case pitch >= low-extendedSpan && pitch <= high+extendedSpan:
		if pitch < low {
			return 0.6, "slightly below the common range"
		}
		return 0.6, "slightly above the common range"
	case pitch < low:
		return 0.25, "well below the common range"
	default:
		return 0.25, "well above the common range"
	}
}

func keyName(k *score.KeySignature) string {
	if k == nil {
		return ""
	}
	mode := k.Mode
	if mode == "" {
		mode = "major"
	}
	return k.Tonic + " " + mode
}
