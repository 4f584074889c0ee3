package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFingerprint(t *testing.T) {
	base := NewFingerprint("abc", EvalOptions{})

	assert.Equal(t, base, NewFingerprint("abc", EvalOptions{}), "stable for identical input")
	assert.Len(t, string(base), 64)
	assert.NotEqual(t, base, NewFingerprint("abd", EvalOptions{}))
	assert.NotEqual(t, base, NewFingerprint("abc", EvalOptions{RestrictToStrings: true}))
}
