package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DistanceMatrix returns the n×k matrix of Euclidean distances between the
// rows of x and the rows of centers.
func DistanceMatrix(x, centers mat.Matrix) (*mat.Dense, error) {
	n, m := x.Dims()
	k, cm := centers.Dims()
	if m != cm {
		return nil, fmt.Errorf("%w: patterns have %d features, centers have %d", ErrDimension, m, cm)
	}

	d := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			sum := 0.0
			for c := 0; c < m; c++ {
				diff := x.At(i, c) - centers.At(j, c)
				sum += diff * diff
			}
			d.Set(i, j, math.Sqrt(sum))
		}
	}
	return d, nil
}

// ActivationMatrix is Φ = activation(distance(x, centers)).
func ActivationMatrix(x, centers mat.Matrix) (*mat.Dense, error) {
	d, err := DistanceMatrix(x, centers)
	if err != nil {
		return nil, err
	}
	return ActivateMatrix(d), nil
}

// interpolationMatrix builds A = [1 | Φ].
func interpolationMatrix(phi mat.Matrix) *mat.Dense {
	n, k := phi.Dims()
	a := mat.NewDense(n, k+1, nil)
	for i := 0; i < n; i++ {
		a.Set(i, 0, 1)
		for j := 0; j < k; j++ {
			a.Set(i, j+1, phi.At(i, j))
		}
	}
	return a
}
