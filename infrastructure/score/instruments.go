package score

import (
	"regexp"
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Instrument families.
const (
	FamilyString     = "string"
	FamilyWind       = "wind"
	FamilyBrass      = "brass"
	FamilyPercussion = "percussion"
	FamilyKeyboard   = "keyboard"
	FamilyUnknown    = "unknown"
)

// UnknownInstrument is returned when a part name matches no instrument.
const UnknownInstrument = "unknown"

// Instrument is a canonical instrument identity.
type Instrument struct {
	ID     string `json:"id"`
	Family string `json:"family"`
}

// Known reports whether the instrument was resolved.
func (i Instrument) Known() bool { return i.ID != UnknownInstrument }

// IsString reports whether the instrument is a bowed string.
func (i Instrument) IsString() bool { return i.Family == FamilyString }

type instrumentEntry struct {
	id      string
	family  string
	aliases []string
}

var instrumentTable = []instrumentEntry{
	{"violin", FamilyString, []string{"violin", "vln", "vn", "violino"}},
	{"viola", FamilyString, []string{"viola", "vla", "va"}},
	{"cello", FamilyString, []string{"cello", "violoncello", "vc", "vlc"}},
	{"bass", FamilyString, []string{"bass", "double bass", "contrabass", "string bass", "db", "cb"}},
	{"piccolo", FamilyWind, []string{"piccolo", "picc"}},
	{"flute", FamilyWind, []string{"flute", "fl"}},
	{"oboe", FamilyWind, []string{"oboe", "ob"}},
	{"english_horn", FamilyWind, []string{"english horn", "cor anglais"}},
	{"bassoon", FamilyWind, []string{"bassoon", "bsn"}},
	{"clarinet_bb", FamilyWind, []string{"clarinet", "cl", "cl."}},
	{"bass_clarinet", FamilyWind, []string{"bass clarinet", "b. cl"}},
	{"alto_clarinet", FamilyWind, []string{"alto clarinet"}},
	{"contra_bass_clarinet", FamilyWind, []string{"contra bass clarinet", "contrabass clarinet"}},
	{"alto_sax", FamilyWind, []string{"alto sax", "alto saxophone", "a. sax"}},
	{"tenor_sax", FamilyWind, []string{"tenor sax", "tenor saxophone", "t. sax"}},
	{"bari_sax", FamilyWind, []string{"baritone sax", "baritone saxophone", "bari sax", "b. sax"}},
	{"trumpet_bb", FamilyBrass, []string{"trumpet", "tpt", "cornet"}},
	{"horn_f", FamilyBrass, []string{"horn", "french horn", "hn"}},
	{"trombone", FamilyBrass, []string{"trombone", "tenor trombone", "tbn"}},
	{"euphonium", FamilyBrass, []string{"euphonium", "euph"}},
	{"baritone", FamilyBrass, []string{"baritone", "baritone horn"}},
	{"tuba", FamilyBrass, []string{"tuba"}},
	{"percussion", FamilyPercussion, []string{"percussion", "snare drum", "bass drum", "timpani", "mallets", "drums", "xylophone", "glockenspiel", "bells"}},
	{"piano", FamilyKeyboard, []string{"piano", "pno", "keyboard"}},
}

var aliasIndex = func() map[string]instrumentEntry {
	m := make(map[string]instrumentEntry)
	for _, e := range instrumentTable {
		for _, a := range e.aliases {
			m[a] = e
		}
	}
	return m
}()

var (
	parenthetical = regexp.MustCompile(`\(.*?\)`)
	transposition = regexp.MustCompile(`\s+in(\s*(bb|eb|f|c|a|d))?$|^(bb|eb|f|c)\s+`)
	trailingIndex = regexp.MustCompile(`(\s+(\d+|i{1,3}|iv|[a-d]))+$`)
	soloWord      = regexp.MustCompile(`\bsolo(ist|i)?\b`)
)

// maxAliasDistance bounds fuzzy matches so short abbreviations are not
// confused with each other.
const maxAliasDistance = 2

// ResolveInstrument maps a free-text part name such as "B♭ Clarinet 2" or
// "Violoncello (solo)" to a canonical instrument. Exact alias matches win;
// otherwise the closest alias within maxAliasDistance edits is used.
func ResolveInstrument(partName string) Instrument {
	name := trimPartName(partName)
	if name == "" {
		return Instrument{ID: UnknownInstrument, Family: FamilyUnknown}
	}
	if e, ok := aliasIndex[name]; ok {
		return Instrument{ID: e.id, Family: e.family}
	}
	if strings.Contains(name, "percussion") || strings.Contains(name, "drum") {
		return Instrument{ID: "percussion", Family: FamilyPercussion}
	}

	// Short names are abbreviations; only exact matches are trusted.
	if len(name) > 3 {
		best, bestDist := instrumentEntry{}, maxAliasDistance+1
		for _, alias := range sortedAliases {
			if len(alias) <= 3 {
				continue
			}
			if d := levenshtein.ComputeDistance(name, alias); d < bestDist {
				best, bestDist = aliasIndex[alias], d
			}
		}
		if bestDist <= maxAliasDistance {
			return Instrument{ID: best.id, Family: best.family}
		}
	}
	return Instrument{ID: UnknownInstrument, Family: FamilyUnknown}
}

// sortedAliases fixes the fuzzy-match iteration order so ties resolve the
// same way on every run.
var sortedAliases = func() []string {
	out := make([]string, 0, len(aliasIndex))
	for a := range aliasIndex {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}()

func trimPartName(partName string) string {
	name := NormalizeName(partName)
	name = parenthetical.ReplaceAllString(name, "")
	name = soloWord.ReplaceAllString(name, "")
	name = strings.TrimSpace(name)
	name = trailingIndex.ReplaceAllString(name, "")
	name = transposition.ReplaceAllString(name, "")
	name = trailingIndex.ReplaceAllString(name, "")
	return strings.TrimSpace(strings.Join(strings.Fields(name), " "))
}

// IsSolo reports whether a part name marks a solo line.
func IsSolo(partName string) bool {
	return soloWord.MatchString(NormalizeName(partName))
}
