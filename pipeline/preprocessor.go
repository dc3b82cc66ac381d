package pipeline

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"rbfnet/ml"
)

// Preprocessor turns a raw Dataset into numeric X/y matrices ready for
// training, and holds the train/test split.
type Preprocessor struct {
	logger  *zap.Logger
	dataset *Dataset

	target         string
	classification bool
	classes        []string
	featureNames   []string
	scaler         *StandardScaler
	x, y           [][]float64
	stats          Statistics
	issues         []QualityIssue
	dedup          bool

	trainIdx, testIdx []int
}

func NewPreprocessor(ds *Dataset, logger *zap.Logger) *Preprocessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Preprocessor{dataset: ds, logger: logger}
}

// DropDuplicates makes Preprocess discard rows repeated verbatim after
// trimming.
func (p *Preprocessor) DropDuplicates(on bool) {
	p.dedup = on
}

// Inspect reports each column's kind, missing count and numeric summary.
func (p *Preprocessor) Inspect() ([]ColumnSummary, error) {
	if p.dataset == nil {
		return nil, ErrNoDataset
	}
	summaries := make([]ColumnSummary, len(p.dataset.Columns))
	for j, name := range p.dataset.Columns {
		cells := p.dataset.Column(j)
		s := ColumnSummary{Name: name}
		values, numeric := parseNumeric(cells)
		for _, c := range cells {
			if IsMissing(c) {
				s.Missing++
			}
		}
		if numeric {
			s.Kind = KindNumeric
			if len(values) > 0 {
				r := rangeOf(values)
				s.Min, s.Max, s.Mean, s.Std = r.Min, r.Max, r.Mean, r.Std
				s.Median = calculateMedian(values)
			}
		} else {
			s.Kind = KindCategorical
			s.Unique = len(categories(cells))
		}
		summaries[j] = s
	}
	return summaries, nil
}

// Preprocess cleans the dataset and encodes it with target as the output
// column. A non-numeric target makes the problem a classification: y holds
// the class index into Classes(). Numeric features come first in column
// order, followed by one-hot columns named "<column>_<value>".
func (p *Preprocessor) Preprocess(target string, normalize bool) (Statistics, error) {
	if p.dataset == nil {
		return Statistics{}, ErrNoDataset
	}
	targetIdx := p.dataset.ColumnIndex(target)
	if targetIdx < 0 {
		return Statistics{}, fmt.Errorf("%w: %q", ErrUnknownColumn, target)
	}

	cleaner := NewDataCleaner(p.logger, len(p.dataset.Columns), targetIdx)
	if p.dedup {
		cleaner.AddRule(NewDuplicateRowRule())
	}
	ds, issues := cleaner.Clean(p.dataset)
	if len(ds.Rows) == 0 {
		return Statistics{}, fmt.Errorf("%w: every row was dropped during cleaning", ErrNoDataset)
	}
	if len(ds.Columns) < 2 {
		return Statistics{}, fmt.Errorf("%w: no input columns besides %q", ml.ErrDimension, target)
	}

	n := len(ds.Rows)
	x := make([][]float64, n)
	for i := range x {
		x[i] = []float64{}
	}
	var names []string

	// numeric features
	var categorical []int
	for j, col := range ds.Columns {
		if j == targetIdx {
			continue
		}
		cells := ds.Column(j)
		values, numeric := parseNumeric(cells)
		if !numeric {
			categorical = append(categorical, j)
			continue
		}
		mean, _ := calculateMeanStdDev(values)
		for i, c := range cells {
			v := mean
			if !IsMissing(c) {
				v, _ = strconv.ParseFloat(c, 64)
			}
			x[i] = append(x[i], v)
		}
		names = append(names, col)
	}

	// one-hot features
	for _, j := range categorical {
		cells := ds.Column(j)
		for _, value := range categories(cells) {
			for i, c := range cells {
				hot := 0.0
				if c == value {
					hot = 1
				}
				x[i] = append(x[i], hot)
			}
			names = append(names, ds.Columns[j]+"_"+value)
		}
	}

	// target
	targetCells := ds.Column(targetIdx)
	yValues, numericTarget := parseNumeric(targetCells)
	y := make([][]float64, n)
	var classes []string
	if numericTarget {
		for i, v := range yValues {
			y[i] = []float64{v}
		}
	} else {
		classes = categories(targetCells)
		index := make(map[string]int, len(classes))
		for k, c := range classes {
			index[c] = k
		}
		for i, c := range targetCells {
			y[i] = []float64{float64(index[c])}
		}
	}

	var scaler *StandardScaler
	if normalize {
		scaler = FitStandardScaler(x)
		scaled, err := scaler.Transform(x)
		if err != nil {
			return Statistics{}, err
		}
		x = scaled
	}

	stats := Statistics{
		Patterns:       n,
		Inputs:         len(names),
		Outputs:        1,
		Classification: !numericTarget,
		DroppedRows:    len(issues),
		Cleaning:       cleaner.GetStats(),
		XRange:         rangeOf(flatten(x)),
	}
	if numericTarget {
		yr := rangeOf(yValues)
		stats.YRange = &yr
	} else {
		stats.Classes = classes
		stats.ClassDistribution = make(map[string]int, len(classes))
		for _, c := range targetCells {
			stats.ClassDistribution[c]++
		}
	}

	p.target = target
	p.classification = !numericTarget
	p.classes = classes
	p.featureNames = names
	p.scaler = scaler
	p.x, p.y = x, y
	p.stats = stats
	p.issues = issues
	p.trainIdx, p.testIdx = nil, nil

	p.logger.Info("dataset preprocessed",
		zap.String("dataset", ds.Name),
		zap.String("target", target),
		zap.Int("patterns", n),
		zap.Int("inputs", len(names)),
		zap.Bool("classification", p.classification),
		zap.Int("dropped", len(issues)))

	return stats, nil
}

func (p *Preprocessor) preprocessed() bool {
	return p.x != nil
}

// Features returns the full encoded X and y.
func (p *Preprocessor) Features() ([][]float64, [][]float64, error) {
	if !p.preprocessed() {
		return nil, nil, ErrNotPreprocessed
	}
	return p.x, p.y, nil
}

func (p *Preprocessor) TrainingSet() ([][]float64, [][]float64, error) {
	if p.trainIdx == nil {
		return nil, nil, ErrNotSplit
	}
	x, y := p.subset(p.trainIdx)
	return x, y, nil
}

func (p *Preprocessor) TestSet() ([][]float64, [][]float64, error) {
	if p.testIdx == nil {
		return nil, nil, ErrNotSplit
	}
	x, y := p.subset(p.testIdx)
	return x, y, nil
}

func (p *Preprocessor) subset(idx []int) ([][]float64, [][]float64) {
	x := make([][]float64, len(idx))
	y := make([][]float64, len(idx))
	for i, k := range idx {
		x[i] = p.x[k]
		y[i] = p.y[k]
	}
	return x, y
}

func (p *Preprocessor) Target() string { return p.target }

func (p *Preprocessor) Classification() bool { return p.classification }

// Classes returns the sorted class labels; nil for regression.
func (p *Preprocessor) Classes() []string { return p.classes }

func (p *Preprocessor) FeatureNames() []string { return p.featureNames }

// Scaler returns the fitted scaler, or nil when X was not normalized.
func (p *Preprocessor) Scaler() *StandardScaler { return p.scaler }

func (p *Preprocessor) Statistics() Statistics { return p.stats }

func (p *Preprocessor) Issues() []QualityIssue { return p.issues }

func (p *Preprocessor) Dataset() *Dataset { return p.dataset }

// Profile summarises the preprocessed dataset for ml.SuggestConfig.
func (p *Preprocessor) Profile() (ml.DatasetProfile, error) {
	if !p.preprocessed() {
		return ml.DatasetProfile{}, ErrNotPreprocessed
	}
	profile := ml.DatasetProfile{
		Patterns:       p.stats.Patterns,
		Inputs:         p.stats.Inputs,
		Classification: p.classification,
		Classes:        len(p.classes),
	}
	if p.stats.YRange != nil {
		profile.HasTargetRange = true
		profile.TargetMin = p.stats.YRange.Min
		profile.TargetMax = p.stats.YRange.Max
		profile.TargetStd = p.stats.YRange.Std
	}
	return profile, nil
}

// parseNumeric parses every non-missing cell. The column is numeric when all
// of them parse; literals that underflow to zero count as numbers.
func parseNumeric(cells []string) ([]float64, bool) {
	values := make([]float64, 0, len(cells))
	for _, c := range cells {
		if IsMissing(c) {
			continue
		}
		v, err := strconv.ParseFloat(c, 64)
		if err != nil && !(errors.Is(err, strconv.ErrRange) && !math.IsInf(v, 0)) {
			return nil, false
		}
		values = append(values, v)
	}
	return values, true
}

func categories(cells []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range cells {
		if IsMissing(c) {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
