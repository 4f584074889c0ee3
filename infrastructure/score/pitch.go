package score

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var stepSemitones = map[byte]int{'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11}

// accidentals maps the symbols used in exported score text onto ASCII.
var accidentals = strings.NewReplacer("♭", "b", "♯", "#", "♮", "")

// PitchClass parses a pitch name without octave ("F#", "Bb", "E♭") and
// returns its index in [0, 12).
func PitchClass(name string) (int, error) {
	pc, rest, err := parseStep(name)
	if err != nil {
		return 0, err
	}
	if rest != "" {
		return 0, fmt.Errorf("pitch class %q: unexpected %q", name, rest)
	}
	return ((pc % 12) + 12) % 12, nil
}

// ParsePitch parses a scientific pitch name such as "C4", "F#3" or "B♭5" and
// returns its MIDI number, with middle C at 60.
func ParsePitch(name string) (int, error) {
	pc, rest, err := parseStep(name)
	if err != nil {
		return 0, err
	}
	octave, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("pitch %q: bad octave", name)
	}
	midi := (octave+1)*12 + pc
	if midi < 0 || midi > 127 {
		return 0, fmt.Errorf("pitch %q: outside MIDI range", name)
	}
	return midi, nil
}

// parseStep reads the letter and accidentals and returns the semitone offset
// and the unparsed remainder.
func parseStep(name string) (int, string, error) {
	s := accidentals.Replace(norm.NFKC.String(strings.TrimSpace(name)))
	if s == "" {
		return 0, "", fmt.Errorf("pitch %q: empty", name)
	}
	step, ok := stepSemitones[upper(s[0])]
	if !ok {
		return 0, "", fmt.Errorf("pitch %q: unknown step", name)
	}
	i := 1
	for ; i < len(s); i++ {
		switch s[i] {
		case '#':
			step++
		case 'b':
			step--
		default:
			return step, s[i:], nil
		}
	}
	return step, "", nil
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}

// PitchName renders a MIDI number with sharps, e.g. 61 → "C#4".
func PitchName(midi int) string {
	names := [...]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}
	return fmt.Sprintf("%s%d", names[((midi%12)+12)%12], midi/12-1)
}

// NormalizeName folds a part or instrument name for matching: NFKC, lower
// case, ASCII accidentals and single spaces.
func NormalizeName(name string) string {
	s := norm.NFKC.String(name)
	s = strings.NewReplacer("♭", "b", "♯", "#").Replace(s)
	// A Caser holds state, so each call gets its own.
	s = cases.Lower(language.Und).String(s)
	return strings.Join(strings.Fields(s), " ")
}
