package ml

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// pinvTolerance matches the relative cutoff LAPACK-backed pseudoinverses use
// for discarding small singular values.
const pinvTolerance = 1e-15

var errSVDFailed = errors.New("svd factorization did not converge")

// solveLeastSquares returns W minimising ||A·W − Y|| through the normal
// equations W = (AᵀA)⁻¹·Aᵀ·Y. When AᵀA cannot be inverted it falls back to
// W = pinv(A)·Y. The second result reports whether the fallback was taken.
func solveLeastSquares(a, y mat.Matrix) (*mat.Dense, bool, error) {
	var ata mat.Dense
	ata.Mul(a.T(), a)

	// Inverse also errors with mat.Condition when AᵀA is merely
	// ill-conditioned; that case takes the pseudoinverse too.
	var inv mat.Dense
	if err := inv.Inverse(&ata); err == nil {
		var invAt mat.Dense
		invAt.Mul(&inv, a.T())
		var w mat.Dense
		w.Mul(&invAt, y)
		if allFinite(&w) {
			return &w, false, nil
		}
	}

	w, err := pseudoInverseSolve(a, y)
	if err != nil {
		return nil, true, err
	}
	return w, true, nil
}

func pseudoInverseSolve(a, y mat.Matrix) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, errSVDFailed
	}
	rank := svd.Rank(pinvTolerance)
	if rank == 0 {
		_, c := a.Dims()
		_, p := y.Dims()
		return mat.NewDense(c, p, nil), nil
	}
	var w mat.Dense
	svd.SolveTo(&w, y, rank)
	return &w, nil
}

func allFinite(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
