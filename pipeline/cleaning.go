package pipeline

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CleaningRule inspects one row. It returns the (possibly corrected) row, or
// an error when the row must be dropped.
type CleaningRule interface {
	Apply(row []string) ([]string, error)
	Name() string
}

// QualityIssue records why a row was dropped.
type QualityIssue struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"` // low, medium, high
	Message   string    `json:"message"`
	Row       int       `json:"row"`
	Timestamp time.Time `json:"timestamp"`
}

// DataCleaner runs a chain of rules over every dataset row.
type DataCleaner struct {
	logger *zap.Logger

	rules []CleaningRule

	stats     CleaningStats
	statsLock sync.RWMutex
}

// CleaningStats counts rows across every Clean call of a cleaner.
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Corrected      int64            `json:"corrected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// NewDataCleaner builds a cleaner with the default rules for a table of
// width columns whose target sits at targetIdx.
func NewDataCleaner(logger *zap.Logger, width, targetIdx int) *DataCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cleaner := &DataCleaner{
		logger: logger,
		rules:  make([]CleaningRule, 0),
		stats: CleaningStats{
			Issues: make(map[string]int64),
		},
	}

	cleaner.AddRule(NewTrimRule())
	cleaner.AddRule(NewWidthRule(width))
	cleaner.AddRule(NewMissingTargetRule(targetIdx))
	cleaner.AddRule(NewNonFiniteRule())

	return cleaner
}

func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
	dc.logger.Debug("added cleaning rule", zap.String("rule", rule.Name()))
}

// Clean returns a new dataset holding the rows every rule accepted, plus the
// issues raised for the dropped ones.
func (dc *DataCleaner) Clean(ds *Dataset) (*Dataset, []QualityIssue) {
	cleaned := &Dataset{Name: ds.Name, Columns: append([]string(nil), ds.Columns...)}
	var issues []QualityIssue

	dc.statsLock.Lock()
	defer dc.statsLock.Unlock()

	for i, original := range ds.Rows {
		dc.stats.TotalProcessed++

		row := original
		var rowIssues []QualityIssue
		for _, rule := range dc.rules {
			out, err := rule.Apply(row)
			if err != nil {
				rowIssues = append(rowIssues, QualityIssue{
					Type:      rule.Name(),
					Severity:  "high",
					Message:   err.Error(),
					Row:       i + 1,
					Timestamp: time.Now(),
				})
				dc.stats.Issues[rule.Name()]++
				break
			}
			if out != nil {
				row = out
			}
		}

		if len(rowIssues) > 0 {
			dc.stats.Rejected++
			issues = append(issues, rowIssues...)
			continue
		}
		if !rowsEqual(original, row) {
			dc.stats.Corrected++
		}
		dc.stats.Passed++
		cleaned.Rows = append(cleaned.Rows, row)
	}

	dc.stats.LastClean = time.Now()
	if len(issues) > 0 {
		dc.logger.Warn("dropped dataset rows",
			zap.String("dataset", ds.Name),
			zap.Int("dropped", len(issues)),
			zap.Int("kept", len(cleaned.Rows)))
	}

	return cleaned, issues
}

func rowsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// GetStats returns a copy of the counters.
func (dc *DataCleaner) GetStats() CleaningStats {
	dc.statsLock.RLock()
	defer dc.statsLock.RUnlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// ============ rules ============

// TrimRule strips surrounding whitespace from every cell.
type TrimRule struct{}

func NewTrimRule() *TrimRule { return &TrimRule{} }

func (r *TrimRule) Name() string { return "trim" }

func (r *TrimRule) Apply(row []string) ([]string, error) {
	var out []string
	for i, cell := range row {
		trimmed := strings.TrimSpace(cell)
		if trimmed == cell {
			continue
		}
		if out == nil {
			out = append([]string(nil), row...)
		}
		out[i] = trimmed
	}
	if out == nil {
		return row, nil
	}
	return out, nil
}

// WidthRule rejects rows whose cell count differs from the header.
type WidthRule struct {
	Width int
}

func NewWidthRule(width int) *WidthRule {
	return &WidthRule{Width: width}
}

func (r *WidthRule) Name() string { return "width_validation" }

func (r *WidthRule) Apply(row []string) ([]string, error) {
	if len(row) != r.Width {
		return nil, fmt.Errorf("row has %d cells, header has %d", len(row), r.Width)
	}
	return row, nil
}

// MissingTargetRule rejects rows without a target value.
type MissingTargetRule struct {
	TargetIndex int
}

func NewMissingTargetRule(targetIdx int) *MissingTargetRule {
	return &MissingTargetRule{TargetIndex: targetIdx}
}

func (r *MissingTargetRule) Name() string { return "missing_target" }

func (r *MissingTargetRule) Apply(row []string) ([]string, error) {
	if r.TargetIndex < 0 || r.TargetIndex >= len(row) || IsMissing(row[r.TargetIndex]) {
		return nil, fmt.Errorf("target value is missing")
	}
	return row, nil
}

// NonFiniteRule rejects rows holding an infinite number, including literals
// that overflow float64. NaN literals count as missing and are left to
// imputation.
type NonFiniteRule struct{}

func NewNonFiniteRule() *NonFiniteRule { return &NonFiniteRule{} }

func (r *NonFiniteRule) Name() string { return "non_finite" }

func (r *NonFiniteRule) Apply(row []string) ([]string, error) {
	for i, cell := range row {
		if IsMissing(cell) {
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if (err == nil || errors.Is(err, strconv.ErrRange)) && math.IsInf(v, 0) {
			return nil, fmt.Errorf("cell %d holds infinite value %q", i, cell)
		}
	}
	return row, nil
}

// DuplicateRowRule drops rows identical to one already seen. It is stateful,
// so use a fresh rule per dataset. Preprocess adds it when duplicate removal
// is enabled.
type DuplicateRowRule struct {
	seenMap map[string]struct{}
	mu      sync.Mutex
}

func NewDuplicateRowRule() *DuplicateRowRule {
	return &DuplicateRowRule{
		seenMap: make(map[string]struct{}),
	}
}

func (r *DuplicateRowRule) Name() string { return "duplicate_detection" }

func (r *DuplicateRowRule) Apply(row []string) ([]string, error) {
	key := strings.Join(row, "\x1f")

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.seenMap[key]; exists {
		return nil, fmt.Errorf("duplicate row")
	}

	r.seenMap[key] = struct{}{}
	return row, nil
}
