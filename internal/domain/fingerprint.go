package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strconv"
)

// EvalOptions are the flags that change how an evaluator scores a document.
// Every field here participates in the Fingerprint.
type EvalOptions struct {
	// RestrictToStrings applies string-instrument rule tables only.
	RestrictToStrings bool `json:"restrict_to_strings" yaml:"restrict_to_strings"`
}

// AnalysisOptions control one analysis run.
type AnalysisOptions struct {
	// RunObserved requests a confidence curve and observed grade for every
	// dimension. When false only the target grade is evaluated.
	RunObserved bool `json:"run_observed" yaml:"run_observed"`

	// Eval holds the evaluator-affecting flags.
	Eval EvalOptions `json:"eval" yaml:"eval"`

	// ObservedGrades is the scale sampled for curves. Nil means DefaultScale.
	ObservedGrades Scale `json:"observed_grades,omitempty" yaml:"observed_grades"`
}

// Grades returns the scale to sample, falling back to DefaultScale.
func (o AnalysisOptions) Grades() Scale {
	if len(o.ObservedGrades) == 0 {
		return DefaultScale
	}
	return o.ObservedGrades
}

// Fingerprint identifies a (document, evaluator options) pair. It is the
// cache identity for confidence curves and is stable across byte-identical
// documents.
type Fingerprint string

// NewFingerprint derives a fingerprint from a document content hash and the
// evaluator-affecting options. Fields are NUL-delimited so adjacent values
// cannot collide.
func NewFingerprint(contentHash string, opts EvalOptions) Fingerprint {
	h := sha256.New()
	writeField(h, "doc", contentHash)
	writeField(h, "restrict_to_strings", strconv.FormatBool(opts.RestrictToStrings))
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

func writeField(w io.Writer, name, value string) {
	// hash.Hash writes never fail.
	_, _ = io.WriteString(w, name+"\x00"+value+"\x00")
}
