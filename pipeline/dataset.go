package pipeline

import (
	"errors"
	"strings"
)

var (
	ErrNoDataset         = errors.New("no dataset loaded")
	ErrUnknownColumn     = errors.New("unknown column")
	ErrUnsupportedFormat = errors.New("unsupported dataset format")
	ErrNotPreprocessed   = errors.New("dataset not preprocessed")
	ErrNotSplit          = errors.New("dataset not split")
)

// Dataset is a raw table: a header and rows of cell text. Missing cells are
// kept as their original text and recognised by IsMissing.
type Dataset struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// DatasetInfo describes a loaded dataset.
type DatasetInfo struct {
	Name       string   `json:"name"`
	Patterns   int      `json:"patterns"`
	NumColumns int      `json:"num_columns"`
	Columns    []string `json:"columns"`
	Inputs     int      `json:"inputs,omitempty"`
	Outputs    int      `json:"outputs,omitempty"`
	Classes    []string `json:"classes,omitempty"`
}

func (d *Dataset) Info() DatasetInfo {
	return DatasetInfo{
		Name:       d.Name,
		Patterns:   len(d.Rows),
		NumColumns: len(d.Columns),
		Columns:    append([]string(nil), d.Columns...),
	}
}

// ColumnIndex returns the position of name, or -1.
func (d *Dataset) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns a copy of one column's cells.
func (d *Dataset) Column(idx int) []string {
	col := make([]string, len(d.Rows))
	for i, row := range d.Rows {
		col[i] = row[idx]
	}
	return col
}

var missingMarkers = map[string]bool{
	"":     true,
	"na":   true,
	"n/a":  true,
	"nan":  true,
	"null": true,
	"none": true,
}

// IsMissing reports whether a cell holds no value.
func IsMissing(cell string) bool {
	return missingMarkers[strings.ToLower(strings.TrimSpace(cell))]
}
