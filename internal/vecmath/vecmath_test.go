package vecmath

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tol = 1e-5

func TestDot(t *testing.T) {
	d, err := Dot([]float32{1, 2, 3}, []float32{4, 5, 6})
	require.NoError(t, err)
	assert.InDelta(t, 32.0, d, tol)

	_, err = Dot([]float32{1}, []float32{1, 2})
	assert.ErrorIs(t, err, ErrLengthMismatch)

	d, err = Dot(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d)
}

func TestNorm(t *testing.T) {
	assert.InDelta(t, 5.0, Norm([]float32{3, 4}), tol)
	assert.Equal(t, 0.0, Norm(nil))
	assert.Equal(t, 0.0, Norm([]float32{0, 0, 0}))
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1},
		{"zero left", []float32{0, 0}, []float32{1, 1}, 0},
		{"zero both", []float32{0, 0}, []float32{0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cosine(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, tol)
		})
	}

	_, err := Cosine([]float32{1, 2}, []float32{1})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestFinite(t *testing.T) {
	assert.True(t, IsFinite(1))
	assert.False(t, IsFinite(math.NaN()))
	assert.False(t, IsFinite(math.Inf(-1)))
	assert.True(t, AllFinite([]float32{1, 2}))
	assert.False(t, AllFinite([]float32{1, float32(math.NaN())}))
}

// TestCosineProperties validates cosine behaviour using property-based testing.
func TestCosineProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("self similarity is 1 for non-zero vectors", prop.ForAll(
		func(v []float32) bool {
			if Norm(v) == 0 {
				return true
			}
			s, err := Cosine(v, v)
			return err == nil && math.Abs(s-1) < 1e-4
		},
		gen.SliceOfN(32, gen.Float32Range(-100, 100)),
	))

	properties.Property("cosine is symmetric and bounded", prop.ForAll(
		func(a, b []float32) bool {
			ab, err1 := Cosine(a, b)
			ba, err2 := Cosine(b, a)
			if err1 != nil || err2 != nil {
				return false
			}
			return math.Abs(ab-ba) < 1e-6 && ab <= 1+1e-4 && ab >= -1-1e-4
		},
		gen.SliceOfN(16, gen.Float32Range(-10, 10)),
		gen.SliceOfN(16, gen.Float32Range(-10, 10)),
	))

	properties.TestingRun(t)
}
