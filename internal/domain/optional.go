package domain

import (
	"bytes"
	"encoding/json"
	"math"
)

// Optional holds a value that may be absent. Absence is explicit so that a
// missing confidence or grade can never leak into arithmetic as a zero or NaN.
// The zero value is absent.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some returns a present Optional holding v.
func Some[T any](v T) Optional[T] { return Optional[T]{value: v, ok: true} }

// None returns an absent Optional.
func None[T any]() Optional[T] { return Optional[T]{} }

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) { return o.value, o.ok }

// Present reports whether a value is held.
func (o Optional[T]) Present() bool { return o.ok }

// OrElse returns the held value or fallback when absent.
func (o Optional[T]) OrElse(fallback T) T {
	if o.ok {
		return o.value
	}
	return fallback
}

// MarshalJSON encodes an absent Optional as null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.ok {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON decodes null as absent.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Optional[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

// Confidence is an optional confidence value in [0, 1].
type Confidence = Optional[float64]

// KnownConfidence returns a present confidence clamped to [0, 1]. NaN yields
// an absent confidence.
func KnownConfidence(v float64) Confidence {
	if math.IsNaN(v) {
		return None[float64]()
	}
	return Some(clamp01(v))
}

// UnknownConfidence returns an absent confidence.
func UnknownConfidence() Confidence { return None[float64]() }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
