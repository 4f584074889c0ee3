package evaluators

import (
	_ "embed"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/infrastructure/score"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Rules holds the grading guidelines every built-in evaluator reads.
type Rules struct {
	Rhythm       map[domain.Grade]RhythmRule       `yaml:"rhythm" validate:"required,dive"`
	Meter        map[domain.Grade]MeterRule        `yaml:"meter" validate:"required"`
	Articulation map[domain.Grade]ArticulationRule `yaml:"articulation" validate:"required,dive"`
	Tempo        TempoRules                        `yaml:"tempo"`
	Duration     map[domain.Grade]DurationRule     `yaml:"duration" validate:"required,dive"`
	Dynamics     map[domain.Grade][]string         `yaml:"dynamics" validate:"required"`
	Keys         KeyRules                          `yaml:"keys"`
	Ranges       map[string]*RangeRule             `yaml:"ranges" validate:"required,dive,required"`
	Availability map[string]domain.Grade           `yaml:"availability" validate:"required"`
}

// RhythmRule lists the rhythmic devices common at a grade.
type RhythmRule struct {
	MaxSubdivision string   `yaml:"max_subdivision" validate:"required,oneof=whole half quarter eighth 16th 32nd 64th any"`
	Dotted         bool     `yaml:"dotted"`
	Syncopation    bool     `yaml:"syncopation"`
	Tuplets        []string `yaml:"tuplets" validate:"dive,oneof=simple even complex"`
}

// MeterRule lists the meter classes common at a grade. Simple meters are
// always allowed.
type MeterRule struct {
	EasyCompound bool `yaml:"easy_compound"`
	Compound     bool `yaml:"compound"`
	Mixed        bool `yaml:"mixed"`
	Odd          bool `yaml:"odd"`
}

// ArticulationRule lists the articulations common at a grade.
type ArticulationRule struct {
	Allowed  []string `yaml:"allowed" validate:"dive,oneof=staccato tenuto accent marcato slur"`
	Multiple bool     `yaml:"multiple"`
}

// TempoRules holds the conventional metronome marks and the comfortable
// tempo band per grade.
type TempoRules struct {
	Marks  []int                       `yaml:"marks" validate:"required,dive,gt=0"`
	Grades map[domain.Grade]TempoRange `yaml:"grades" validate:"required,dive"`
}

// TempoRange is an inclusive quarter-note BPM band.
type TempoRange struct {
	Min int `yaml:"min" validate:"gt=0"`
	Max int `yaml:"max" validate:"gtefield=Min"`
}

// DurationRule bounds performance length in seconds. A zero CoreMax accepts
// any length.
type DurationRule struct {
	CoreMax     float64 `yaml:"core_max" validate:"gte=0"`
	ExtendedMax float64 `yaml:"extended_max" validate:"gte=0"`
}

// KeyRules maps a major-key tonic pitch class to the lowest grade at which
// each source lists it.
type KeyRules struct {
	Publishers map[int]map[string]domain.Grade `yaml:"publishers" validate:"required"`
	Strings    map[int]domain.Grade            `yaml:"strings" validate:"required"`
}

// RangeRule is an instrument's written range. Pitches are scientific pitch
// names.
type RangeRule struct {
	Total [2]string `yaml:"total"`
	Core  [2]string `yaml:"core"`

	total, core [2]int
}

func (r *RangeRule) compile() error {
	for i := range 2 {
		var err error
		if r.total[i], err = score.ParsePitch(r.Total[i]); err != nil {
			return err
		}
		if r.core[i], err = score.ParsePitch(r.Core[i]); err != nil {
			return err
		}
	}
	if r.total[0] > r.total[1] || r.core[0] > r.core[1] {
		return fmt.Errorf("range %v/%v is inverted", r.Total, r.Core)
	}
	if r.core[0] < r.total[0] || r.core[1] > r.total[1] {
		return fmt.Errorf("core %v lies outside total %v", r.Core, r.Total)
	}
	return nil
}

// ParseRules decodes and validates a rules document.
func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if err := validator.New().Struct(&r); err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}
	for id, rr := range r.Ranges {
		if err := rr.compile(); err != nil {
			return nil, fmt.Errorf("invalid rules: ranges.%s: %w", id, err)
		}
	}
	return &r, nil
}

// LoadRules reads a rules document from disk.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(data)
}

var defaultRules = sync.OnceValues(func() (*Rules, error) {
	return ParseRules(defaultRulesYAML)
})

// DefaultRules returns the embedded guidelines. The result is shared and
// must not be modified.
func DefaultRules() (*Rules, error) { return defaultRules() }

// ruleAt returns the row for the greatest key not above g, or the lowest
// row when g is below every key.
func ruleAt[T any](table map[domain.Grade]T, g domain.Grade) (T, bool) {
	if len(table) == 0 {
		var zero T
		return zero, false
	}
	keys := slices.Sorted(maps.Keys(table))
	pick := keys[0]
	for _, k := range keys {
		if k > g {
			break
		}
		pick = k
	}
	return table[pick], true
}
