package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaleValidate(t *testing.T) {
	tests := []struct {
		name    string
		scale   Scale
		wantErr bool
	}{
		{name: "default", scale: DefaultScale},
		{name: "full", scale: FullScale},
		{name: "empty", scale: Scale{}, wantErr: true},
		{name: "duplicate", scale: Scale{1, 1}, wantErr: true},
		{name: "descending", scale: Scale{2, 1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.scale.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidConfiguration))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestScaleOperations(t *testing.T) {
	assert.True(t, DefaultScale.IsSubsetOf(FullScale))
	assert.False(t, FullScale.IsSubsetOf(DefaultScale))
	assert.True(t, Scale{}.IsSubsetOf(DefaultScale))
	assert.True(t, DefaultScale.Contains(0.5))
	assert.False(t, DefaultScale.Contains(1.5))

	assert.Equal(t, Scale{1, 2, 3}, Scale{3, 1, 2, 1}.Normalize())
	assert.Equal(t, "0.5,1,2,3,4,5", DefaultScale.String())
}

func TestParseGrade(t *testing.T) {
	g, err := ParseGrade(" 2.5 ")
	require.NoError(t, err)
	assert.Equal(t, Grade(2.5), g)
	assert.Equal(t, "2.5", g.String())
	assert.Equal(t, "3", Grade(3).String())

	_, err = ParseGrade("hard")
	assert.Error(t, err)
	_, err = ParseGrade("NaN")
	assert.Error(t, err)
}

func TestConfidenceCurve(t *testing.T) {
	t.Run("sorted and queried", func(t *testing.T) {
		curve, err := NewConfidenceCurve(
			CurvePoint{Grade: 3, Confidence: Some(0.3)},
			CurvePoint{Grade: 1, Confidence: Some(0.9)},
			CurvePoint{Grade: 2, Confidence: None[float64]()},
		)
		require.NoError(t, err)

		assert.Equal(t, Scale{1, 2, 3}, curve.Grades())
		assert.Equal(t, 3, curve.Len())
		assert.Equal(t, Some(0.9), curve.At(1))
		assert.False(t, curve.At(2).Present())
		assert.False(t, curve.At(4).Present(), "grades outside the curve are absent")
	})

	t.Run("duplicate grade", func(t *testing.T) {
		_, err := NewConfidenceCurve(
			CurvePoint{Grade: 1, Confidence: Some(0.1)},
			CurvePoint{Grade: 1, Confidence: Some(0.2)},
		)
		assert.True(t, errors.Is(err, ErrInvalidState))
	})

	t.Run("restrict", func(t *testing.T) {
		curve := CurveFromMap(map[Grade]Confidence{1: Some(0.1), 2: Some(0.2), 3: Some(0.3)})
		sub := curve.Restrict(Scale{1, 3, 4})
		assert.Equal(t, Scale{1, 3}, sub.Grades())
		assert.Equal(t, Some(0.3), sub.At(3))
		assert.Equal(t, 3, curve.Len(), "restrict does not modify the receiver")
	})

	t.Run("points are a copy", func(t *testing.T) {
		curve := CurveFromMap(map[Grade]Confidence{1: Some(0.1)})
		pts := curve.Points()
		pts[0].Confidence = Some(0.9)
		assert.Equal(t, Some(0.1), curve.At(1))
	})

	t.Run("json round trip", func(t *testing.T) {
		curve := CurveFromMap(map[Grade]Confidence{0.5: Some(1.0), 2: None[float64]()})
		data, err := json.Marshal(curve)
		require.NoError(t, err)
		assert.JSONEq(t, `{"0.5": 1, "2": null}`, string(data))

		var decoded ConfidenceCurve
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, curve, decoded)
	})
}

func TestOptional(t *testing.T) {
	o := Some(3)
	v, ok := o.Get()
	assert.True(t, ok)
	assert.Equal(t, 3, v)
	assert.Equal(t, 3, o.OrElse(7))
	assert.Equal(t, 7, None[int]().OrElse(7))

	var zero Optional[string]
	assert.False(t, zero.Present(), "zero value is absent")

	assert.Equal(t, Some(1.0), KnownConfidence(1.5))
	assert.Equal(t, Some(0.0), KnownConfidence(-0.2))
	assert.False(t, KnownConfidence(nan()).Present())
	assert.False(t, UnknownConfidence().Present())

	type wrapper struct {
		C Confidence `json:"c"`
	}
	data, err := json.Marshal(wrapper{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"c": null}`, string(data))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"c": 0.25}`), &w))
	assert.Equal(t, Some(0.25), w.C)
	require.NoError(t, json.Unmarshal([]byte(`{"c": null}`), &w))
	assert.False(t, w.C.Present())
}
