package pipeline

import (
	"fmt"

	"rbfnet/ml"
)

// StandardScaler centres each feature on its mean and divides by its
// population standard deviation. Constant features keep scale 1.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func FitStandardScaler(x [][]float64) *StandardScaler {
	if len(x) == 0 {
		return &StandardScaler{}
	}
	width := len(x[0])
	s := &StandardScaler{
		Mean:  make([]float64, width),
		Scale: make([]float64, width),
	}
	col := make([]float64, len(x))
	for j := 0; j < width; j++ {
		for i, row := range x {
			col[i] = row[j]
		}
		mean, std := calculateMeanStdDev(col)
		if std == 0 {
			std = 1
		}
		s.Mean[j] = mean
		s.Scale[j] = std
	}
	return s
}

// Transform returns a scaled copy of x. A nil scaler copies x unchanged.
func (s *StandardScaler) Transform(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		if s != nil && len(row) != len(s.Mean) {
			return nil, fmt.Errorf("%w: row %d has %d features, scaler expects %d", ml.ErrDimension, i, len(row), len(s.Mean))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			if s == nil {
				scaled[j] = v
				continue
			}
			scaled[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = scaled
	}
	return out, nil
}
