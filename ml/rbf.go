package ml

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// MinCenters is the smallest center count a network can be trained with.
const MinCenters = 2

// Config is an unfitted RBF network: the hyperparameters only. Training a
// Config yields a *Model, which is the only value that can predict.
type Config struct {
	Centers        int     `json:"num_centers" yaml:"centers"`
	ErrorThreshold float64 `json:"error_threshold" yaml:"error_threshold"`
}

// Validate checks the hyperparameters against a training set of the given
// number of patterns.
func (c Config) Validate(patterns int) error {
	if c.Centers < MinCenters || c.Centers > patterns {
		return fmt.Errorf("%w: centers must be in [%d, %d], got %d", ErrConfiguration, MinCenters, patterns, c.Centers)
	}
	if !(c.ErrorThreshold > 0) || math.IsInf(c.ErrorThreshold, 0) {
		return fmt.Errorf("%w: error threshold must be a positive number, got %v", ErrConfiguration, c.ErrorThreshold)
	}
	return nil
}

// Train fits a network on x (n×m) and y (n×p) with centers drawn from a
// generator seeded with seed, and returns the fitted model together with its
// training-set metrics. Not converging is reported through Metrics.Converge,
// never as an error.
func (c Config) Train(x, y [][]float64, seed int64) (*Model, Metrics, error) {
	return c.TrainRand(x, y, rand.New(rand.NewSource(seed)))
}

// TrainRand is Train with a caller-owned generator.
func (c Config) TrainRand(x, y [][]float64, rng *rand.Rand) (*Model, Metrics, error) {
	xm, err := toDense(x)
	if err != nil {
		return nil, Metrics{}, err
	}
	ym, err := toDense(y)
	if err != nil {
		return nil, Metrics{}, err
	}
	return c.train(xm, ym, rng)
}

func (c Config) train(x, y *mat.Dense, rng *rand.Rand) (*Model, Metrics, error) {
	n, m := x.Dims()
	yn, _ := y.Dims()
	if yn != n {
		return nil, Metrics{}, fmt.Errorf("%w: %d patterns but %d targets", ErrDimension, n, yn)
	}
	if err := c.Validate(n); err != nil {
		return nil, Metrics{}, err
	}

	centers := mat.NewDense(c.Centers, m, nil)
	for j, idx := range rng.Perm(n)[:c.Centers] {
		centers.SetRow(j, x.RawRowView(idx))
	}

	phi, err := ActivationMatrix(x, centers)
	if err != nil {
		return nil, Metrics{}, err
	}
	a := interpolationMatrix(phi)

	weights, pinv, err := solveLeastSquares(a, y)
	if err != nil {
		return nil, Metrics{}, err
	}

	model := &Model{
		config:        c,
		centers:       centers,
		weights:       weights,
		pseudoInverse: pinv,
	}

	var pred mat.Dense
	pred.Mul(a, weights)
	metrics, err := metricsFor(y, &pred, c.ErrorThreshold)
	if err != nil {
		return nil, Metrics{}, err
	}
	return model, metrics, nil
}

// Model is a fitted RBF network. Centers and weights are fixed once the model
// is built; retraining produces a new Model.
type Model struct {
	config        Config
	centers       *mat.Dense
	weights       *mat.Dense
	pseudoInverse bool
}

// Config returns the hyperparameters the model was trained with.
func (m *Model) Config() Config {
	return m.config
}

func (m *Model) fitted() bool {
	return m != nil && m.centers != nil && m.weights != nil
}

// NumFeatures is the input width the model expects, or 0 when unfitted.
func (m *Model) NumFeatures() int {
	if !m.fitted() {
		return 0
	}
	_, c := m.centers.Dims()
	return c
}

// NumOutputs is the number of output columns, or 0 when unfitted.
func (m *Model) NumOutputs() int {
	if !m.fitted() {
		return 0
	}
	_, c := m.weights.Dims()
	return c
}

// UsedPseudoInverse reports whether training fell back to pinv(A).
func (m *Model) UsedPseudoInverse() bool {
	return m.fitted() && m.pseudoInverse
}

// Centers returns a copy of the center set, one row per center.
func (m *Model) Centers() [][]float64 {
	if !m.fitted() {
		return nil
	}
	return fromDense(m.centers)
}

// Weights returns a copy of W. Row 0 is the bias, row j+1 belongs to center j.
func (m *Model) Weights() [][]float64 {
	if !m.fitted() {
		return nil
	}
	return fromDense(m.weights)
}

// Predict returns A·W for the rows of x.
func (m *Model) Predict(x [][]float64) ([][]float64, error) {
	if !m.fitted() {
		return nil, ErrUntrainedModel
	}
	xm, err := toDense(x)
	if err != nil {
		return nil, err
	}
	pred, err := m.predict(xm)
	if err != nil {
		return nil, err
	}
	return fromDense(pred), nil
}

func (m *Model) predict(x mat.Matrix) (*mat.Dense, error) {
	if _, c := x.Dims(); c != m.NumFeatures() {
		return nil, fmt.Errorf("%w: model expects %d features, got %d", ErrDimension, m.NumFeatures(), c)
	}
	phi, err := ActivationMatrix(x, m.centers)
	if err != nil {
		return nil, err
	}
	var out mat.Dense
	out.Mul(interpolationMatrix(phi), m.weights)
	return &out, nil
}

// Evaluate predicts x and scores the result against y. Converge is computed
// the same way as for training even though it carries no meaning on a test
// set.
func (m *Model) Evaluate(x, y [][]float64) (Metrics, error) {
	if !m.fitted() {
		return Metrics{}, ErrUntrainedModel
	}
	xm, err := toDense(x)
	if err != nil {
		return Metrics{}, err
	}
	ym, err := toDense(y)
	if err != nil {
		return Metrics{}, err
	}
	pred, err := m.predict(xm)
	if err != nil {
		return Metrics{}, err
	}
	return metricsFor(ym, pred, m.config.ErrorThreshold)
}
