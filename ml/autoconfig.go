package ml

import "math"

// DatasetProfile is the summary SuggestConfig needs from a preprocessed dataset.
type DatasetProfile struct {
	Patterns       int
	Inputs         int
	Classification bool
	Classes        int
	HasTargetRange bool
	TargetMin      float64
	TargetMax      float64
	TargetStd      float64
}

// Suggestion is a proposed configuration and how it was derived.
type Suggestion struct {
	Config      Config  `json:"config"`
	Kind        string  `json:"kind"`
	CenterBase  int     `json:"center_base"`
	InputFactor float64 `json:"input_factor"`
}

// SuggestConfig proposes a center count and error threshold from the shape
// of the dataset: roughly 15% of the patterns as centers scaled by input
// count, and a threshold tied to class count or target range.
func SuggestConfig(p DatasetProfile) Suggestion {
	base := int(float64(p.Patterns) * 0.15)

	var factor float64
	switch {
	case p.Inputs <= 3:
		factor = 0.8
	case p.Inputs <= 5:
		factor = 1.0
	case p.Inputs <= 10:
		factor = 1.2
	default:
		factor = 1.5
	}
	centers := clampInt(int(float64(base)*factor), 8, 25)

	s := Suggestion{CenterBase: base, InputFactor: factor}
	if p.Classification {
		s.Kind = "classification"
		switch {
		case p.Classes == 2:
			s.Config.ErrorThreshold = 0.35
		case p.Classes == 3:
			s.Config.ErrorThreshold = 0.45
		default:
			s.Config.ErrorThreshold = 0.55
		}
	} else {
		s.Kind = "regression"
		s.Config.ErrorThreshold = regressionThreshold(p)
	}
	s.Config.Centers = centers
	return s
}

func regressionThreshold(p DatasetProfile) float64 {
	span := p.TargetMax - p.TargetMin
	if !p.HasTargetRange || span <= 0 {
		return 0.4
	}
	threshold := span * 0.10
	switch ratio := p.TargetStd / span; {
	case ratio > 0.3:
		threshold *= 1.5
	case ratio > 0.2:
		threshold *= 1.2
	}
	threshold = math.Max(0.15, math.Min(threshold, 2.0))
	return roundTo(threshold, 3)
}

// Convergence advice statuses.
const (
	AdviceConverged = "converged"
	AdviceClose     = "close"
	AdviceFar       = "far"
)

// Advice tells the caller how far a training run is from converging and what
// to change next.
type Advice struct {
	Status           string  `json:"status"`
	Progress         float64 `json:"progress_percent"`
	Gap              float64 `json:"gap"`
	SuggestedCenters int     `json:"suggested_centers,omitempty"`
	SuggestedError   float64 `json:"suggested_error,omitempty"`
}

// Advise inspects training-set metrics against the configuration that
// produced them.
func Advise(c Config, train Metrics) Advice {
	a := Advice{Gap: train.EG - c.ErrorThreshold}
	if c.ErrorThreshold > 0 {
		a.Progress = train.EG / c.ErrorThreshold * 100
	}
	switch {
	case train.Converge:
		a.Status = AdviceConverged
		a.Gap = 0
	case train.EG <= c.ErrorThreshold*1.5:
		a.Status = AdviceClose
		a.SuggestedCenters = c.Centers + 3
	default:
		a.Status = AdviceFar
		a.SuggestedCenters = minInt(c.Centers+5, 30)
		a.SuggestedError = roundTo(train.EG*1.2, 3)
	}
	return a
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
