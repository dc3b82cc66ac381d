package ml

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// MinDistance is the clamp applied before the logarithm. Distances below it
// are evaluated as if they were exactly MinDistance, so a pattern sitting on
// its own center activates to MinDistance²·ln(MinDistance) rather than 0.
const MinDistance = 1e-10

// ActivationName is the label stored alongside persisted trainings.
const ActivationName = "d²·ln(d)"

// Activate is the thin-plate spline d²·ln(d).
func Activate(d float64) float64 {
	if d < MinDistance {
		d = MinDistance
	}
	return d * d * math.Log(d)
}

// ActivateMatrix applies Activate elementwise and returns a new matrix.
func ActivateMatrix(d mat.Matrix) *mat.Dense {
	var phi mat.Dense
	phi.Apply(func(_, _ int, v float64) float64 {
		return Activate(v)
	}, d)
	return &phi
}
