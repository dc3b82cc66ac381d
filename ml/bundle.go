package ml

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Bundle is the serializable form of a fitted model.
type Bundle struct {
	Centers        [][]float64 `json:"centers"`
	Weights        [][]float64 `json:"weights"`
	NumCenters     int         `json:"num_centers"`
	ErrorThreshold float64     `json:"error_threshold"`
}

// Bundle exports the model parameters.
func (m *Model) Bundle() (Bundle, error) {
	if !m.fitted() {
		return Bundle{}, ErrUntrainedModel
	}
	return Bundle{
		Centers:        m.Centers(),
		Weights:        m.Weights(),
		NumCenters:     m.config.Centers,
		ErrorThreshold: m.config.ErrorThreshold,
	}, nil
}

// Restore rebuilds a fitted model from a bundle.
func Restore(b Bundle) (*Model, error) {
	centers, err := toDense(b.Centers)
	if err != nil {
		return nil, fmt.Errorf("centers: %w", err)
	}
	weights, err := toDense(b.Weights)
	if err != nil {
		return nil, fmt.Errorf("weights: %w", err)
	}
	k, _ := centers.Dims()
	wr, _ := weights.Dims()
	if wr != k+1 {
		return nil, fmt.Errorf("%w: %d centers need %d weight rows, got %d", ErrDimension, k, k+1, wr)
	}
	if b.NumCenters != 0 && b.NumCenters != k {
		return nil, fmt.Errorf("%w: bundle declares %d centers but holds %d", ErrDimension, b.NumCenters, k)
	}
	return &Model{
		config:  Config{Centers: k, ErrorThreshold: b.ErrorThreshold},
		centers: mat.DenseCopyOf(centers),
		weights: mat.DenseCopyOf(weights),
	}, nil
}
