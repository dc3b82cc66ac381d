package pipeline

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Range summarises a set of values.
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Statistics describes a preprocessed dataset.
type Statistics struct {
	Patterns          int            `json:"patterns"`
	Inputs            int            `json:"inputs"`
	Outputs           int            `json:"outputs"`
	Classification    bool           `json:"classification"`
	DroppedRows       int            `json:"dropped_rows"`
	Cleaning          CleaningStats  `json:"cleaning"`
	XRange            Range          `json:"x_range"`
	Classes           []string       `json:"classes,omitempty"`
	ClassDistribution map[string]int `json:"class_distribution,omitempty"`
	YRange            *Range         `json:"y_range,omitempty"`
}

// Column kinds reported by Inspect.
const (
	KindNumeric     = "numeric"
	KindCategorical = "categorical"
)

// ColumnSummary is one column as seen by Inspect.
type ColumnSummary struct {
	Name    string  `json:"name"`
	Kind    string  `json:"kind"`
	Missing int     `json:"missing"`
	Unique  int     `json:"unique,omitempty"`
	Min     float64 `json:"min,omitempty"`
	Max     float64 `json:"max,omitempty"`
	Mean    float64 `json:"mean,omitempty"`
	Std     float64 `json:"std,omitempty"`
	Median  float64 `json:"median,omitempty"`
}

// calculateMeanStdDev returns the mean and population standard deviation.
func calculateMeanStdDev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	return stat.PopMeanStdDev(values, nil)
}

// calculateMedian averages the two middle values of an even-sized sample.
func calculateMedian(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	// Empirical yields the lower middle value when n is even.
	return (stat.Quantile(0.5, stat.Empirical, sorted, nil) + sorted[n/2]) / 2
}

func rangeOf(values []float64) Range {
	if len(values) == 0 {
		return Range{}
	}
	r := Range{Min: floats.Min(values), Max: floats.Max(values)}
	r.Mean, r.Std = calculateMeanStdDev(values)
	return r
}

func flatten(rows [][]float64) []float64 {
	var out []float64
	for _, row := range rows {
		out = append(out, row...)
	}
	return out
}
