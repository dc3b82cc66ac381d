package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Metrics is the error report for one set of predictions.
//
// EG and MAE are computed from the same absolute-difference sum over the same
// element count, so they are always equal. Both are kept because stored
// trainings and exported documents carry the two fields separately.
type Metrics struct {
	EG       float64 `json:"EG"`
	MAE      float64 `json:"MAE"`
	RMSE     float64 `json:"RMSE"`
	Converge bool    `json:"Converge"`
}

// CalculateMetrics compares yReal and yPred element by element. Converge is
// EG <= errorThreshold.
func CalculateMetrics(yReal, yPred [][]float64, errorThreshold float64) (Metrics, error) {
	actual, err := toDense(yReal)
	if err != nil {
		return Metrics{}, err
	}
	pred, err := toDense(yPred)
	if err != nil {
		return Metrics{}, err
	}
	return metricsFor(actual, pred, errorThreshold)
}

func metricsFor(yReal, yPred mat.Matrix, errorThreshold float64) (Metrics, error) {
	rr, rc := yReal.Dims()
	pr, pc := yPred.Dims()
	if rr != pr || rc != pc {
		return Metrics{}, fmt.Errorf("%w: real is %dx%d, predicted is %dx%d", ErrDimension, rr, rc, pr, pc)
	}
	n := float64(rr * rc)
	if n == 0 {
		return Metrics{}, fmt.Errorf("%w: no values to compare", ErrDimension)
	}

	var absSum, sqSum float64
	for i := 0; i < rr; i++ {
		for j := 0; j < rc; j++ {
			diff := yReal.At(i, j) - yPred.At(i, j)
			absSum += math.Abs(diff)
			sqSum += diff * diff
		}
	}

	eg := absSum / n
	return Metrics{
		EG:       eg,
		MAE:      absSum / n,
		RMSE:     math.Sqrt(sqSum / n),
		Converge: eg <= errorThreshold,
	}, nil
}

// R2 is 1 − RMSE²/var(yReal), with the variance taken over every element.
// It returns 0 when yReal is constant or empty.
func R2(yReal [][]float64, m Metrics) float64 {
	var sum, count float64
	for _, row := range yReal {
		for _, v := range row {
			sum += v
			count++
		}
	}
	if count == 0 {
		return 0
	}
	mean := sum / count
	variance := 0.0
	for _, row := range yReal {
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
	}
	variance /= count
	if variance == 0 {
		return 0
	}
	return 1 - m.RMSE*m.RMSE/variance
}
