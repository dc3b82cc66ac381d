package pipeline

import "math"

// DecodeLabel maps a raw model output back to a class: round to the nearest
// index, clamp into range. It returns -1 and "" when there are no classes.
func DecodeLabel(v float64, classes []string) (int, string) {
	if len(classes) == 0 {
		return -1, ""
	}
	idx := 0
	if !math.IsNaN(v) {
		r := math.Round(v)
		switch {
		case r < 0:
			idx = 0
		case r > float64(len(classes)-1):
			idx = len(classes) - 1
		default:
			idx = int(r)
		}
	}
	return idx, classes[idx]
}

// Accuracy is the share of rows whose decoded prediction matches the class
// index in actual. Both are n×1.
func Accuracy(actual, predicted [][]float64, classes []string) float64 {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return 0
	}
	hits := 0
	for i := range actual {
		idx, _ := DecodeLabel(predicted[i][0], classes)
		if float64(idx) == actual[i][0] {
			hits++
		}
	}
	return float64(hits) / float64(len(actual))
}
