package ml

// Predictor is what the presentation layer needs from a fitted model.
type Predictor interface {
	Predict(x [][]float64) ([][]float64, error)
	Evaluate(x, y [][]float64) (Metrics, error)
	NumFeatures() int
}

var _ Predictor = (*Model)(nil)
