// Package vecmath holds the vector kernels used by similarity scoring.
// Dot products and norms run on vek's SIMD kernels where the CPU supports
// them; the final division happens in float64.
package vecmath

import (
	"errors"
	"math"

	"github.com/viterin/vek/vek32"
)

// ErrLengthMismatch is returned when two vectors differ in dimensionality.
var ErrLengthMismatch = errors.New("vecmath: vector length mismatch")

// Dot calculates the dot product of two vectors.
func Dot(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrLengthMismatch
	}
	if len(a) == 0 {
		return 0, nil
	}
	return float64(vek32.Dot(a, b)), nil
}

// Norm calculates the L2 norm of a vector.
func Norm(a []float32) float64 {
	if len(a) == 0 {
		return 0
	}
	return float64(vek32.Norm(a))
}

// Cosine calculates dot(a,b) / (|a|*|b|). A zero-norm operand yields 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrLengthMismatch
	}
	return CosineWithNorms(a, b, Norm(a), Norm(b))
}

// CosineWithNorms is Cosine with caller-supplied norms, so that norms of an
// immutable corpus are computed once.
func CosineWithNorms(a, b []float32, normA, normB float64) (float64, error) {
	if normA == 0 || normB == 0 {
		if len(a) != len(b) {
			return 0, ErrLengthMismatch
		}
		return 0, nil
	}
	dot, err := Dot(a, b)
	if err != nil {
		return 0, err
	}
	return dot / (normA * normB), nil
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// AllFinite reports whether every component of a is finite.
func AllFinite(a []float32) bool {
	for _, v := range a {
		if !IsFinite(float64(v)) {
			return false
		}
	}
	return true
}
