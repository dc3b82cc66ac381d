package pipeline

import (
	"errors"
	"math"
	"strings"
	"testing"

	"rbfnet/ml"
)

const mixedCSV = `x1,x2,color,label
1,2,red,a
2,,blue,b
3,4,red,a
4,5,,b
`

func loadCSV(t *testing.T, body string) *Dataset {
	t.Helper()
	ds, err := LoadReader(strings.NewReader(body), "test.csv", FormatCSV, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return ds
}

func TestPreprocessClassification(t *testing.T) {
	p := NewPreprocessor(loadCSV(t, mixedCSV), nil)
	stats, err := p.Preprocess("label", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !stats.Classification || stats.Inputs != 4 || stats.Outputs != 1 || stats.Patterns != 4 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	wantNames := []string{"x1", "x2", "color_blue", "color_red"}
	for i, name := range wantNames {
		if p.FeatureNames()[i] != name {
			t.Fatalf("feature names = %v, want %v", p.FeatureNames(), wantNames)
		}
	}
	if c := p.Classes(); len(c) != 2 || c[0] != "a" || c[1] != "b" {
		t.Fatalf("unexpected classes %v", c)
	}
	if stats.ClassDistribution["a"] != 2 || stats.ClassDistribution["b"] != 2 {
		t.Errorf("unexpected distribution %v", stats.ClassDistribution)
	}

	x, y, err := p.Features()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := [][]float64{
		{1, 2, 0, 1},
		{2, 11.0 / 3.0, 1, 0},
		{3, 4, 0, 1},
		{4, 5, 0, 0},
	}
	for i := range want {
		for j := range want[i] {
			if math.Abs(x[i][j]-want[i][j]) > 1e-12 {
				t.Errorf("x[%d][%d] = %f, want %f", i, j, x[i][j], want[i][j])
			}
		}
	}
	for i, wantY := range []float64{0, 1, 0, 1} {
		if y[i][0] != wantY {
			t.Errorf("y[%d] = %f, want %f", i, y[i][0], wantY)
		}
	}
	if p.Scaler() != nil {
		t.Error("scaler should be nil without normalization")
	}
}

func TestPreprocessRegressionNormalized(t *testing.T) {
	body := "a,b,target\n1,10,0.5\n2,10,1.5\n3,10,2.5\n4,10,3.5\n"
	p := NewPreprocessor(loadCSV(t, body), nil)
	stats, err := p.Preprocess("target", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Classification || stats.YRange == nil {
		t.Fatalf("expected regression stats, got %+v", stats)
	}
	if stats.YRange.Min != 0.5 || stats.YRange.Max != 3.5 {
		t.Errorf("unexpected y range %+v", stats.YRange)
	}

	x, y, _ := p.Features()
	for j := 0; j < 2; j++ {
		var sum float64
		for i := range x {
			sum += x[i][j]
		}
		if math.Abs(sum) > 1e-12 {
			t.Errorf("column %d not centred: sum %f", j, sum)
		}
	}
	// constant column keeps scale 1
	if p.Scaler().Scale[1] != 1 || x[0][1] != 0 {
		t.Errorf("constant column mishandled: scale %v, x %v", p.Scaler().Scale, x[0])
	}
	if y[3][0] != 3.5 {
		t.Errorf("target must not be scaled, got %f", y[3][0])
	}

	profile, err := p.Profile()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !profile.HasTargetRange || profile.Inputs != 2 || profile.Patterns != 4 || profile.Classification {
		t.Errorf("unexpected profile %+v", profile)
	}
}

func TestPreprocessDropsRowsWithoutTarget(t *testing.T) {
	body := "x,y\n1,2\n2,\n3,4\n"
	p := NewPreprocessor(loadCSV(t, body), nil)
	stats, err := p.Preprocess("y", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Patterns != 2 || stats.DroppedRows != 1 || len(p.Issues()) != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	empty := NewPreprocessor(loadCSV(t, "x,y\n1,\n"), nil)
	if _, err := empty.Preprocess("y", false); !errors.Is(err, ErrNoDataset) {
		t.Fatalf("expected ErrNoDataset, got %v", err)
	}
}

func TestPreprocessDropDuplicates(t *testing.T) {
	body := "x,y\n1,2\n1,2\n 1 ,2\n3,4\n"

	keep := NewPreprocessor(loadCSV(t, body), nil)
	stats, err := keep.Preprocess("y", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Patterns != 4 || stats.Cleaning.Rejected != 0 {
		t.Fatalf("duplicates dropped without being asked: %+v", stats)
	}

	dedup := NewPreprocessor(loadCSV(t, body), nil)
	dedup.DropDuplicates(true)
	stats, err = dedup.Preprocess("y", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Patterns != 2 || stats.DroppedRows != 2 {
		t.Fatalf("expected 2 patterns after dropping 2 duplicates, got %+v", stats)
	}
	c := stats.Cleaning
	if c.TotalProcessed != 4 || c.Passed != 2 || c.Rejected != 2 || c.Issues["duplicate_detection"] != 2 {
		t.Fatalf("unexpected cleaning stats %+v", c)
	}
	for _, issue := range dedup.Issues() {
		if issue.Type != "duplicate_detection" {
			t.Fatalf("unexpected issue %+v", issue)
		}
	}
}

func TestPreprocessOutOfRangeNumbers(t *testing.T) {
	body := "x,y\n1e-400,1\n2,2\n1e400,3\n4,4\n"
	p := NewPreprocessor(loadCSV(t, body), nil)
	stats, err := p.Preprocess("y", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Patterns != 3 || stats.DroppedRows != 1 {
		t.Fatalf("expected the overflowing row to be dropped, got %+v", stats)
	}
	if names := p.FeatureNames(); len(names) != 1 || names[0] != "x" {
		t.Fatalf("expected x to stay numeric, got features %v", names)
	}
	x, _, err := p.Features()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if x[0][0] != 0 {
		t.Fatalf("expected the underflowing value to read as 0, got %v", x[0][0])
	}
}

func TestPreprocessErrors(t *testing.T) {
	if _, err := NewPreprocessor(nil, nil).Preprocess("y", false); !errors.Is(err, ErrNoDataset) {
		t.Fatalf("expected ErrNoDataset, got %v", err)
	}
	p := NewPreprocessor(loadCSV(t, mixedCSV), nil)
	if _, err := p.Preprocess("missing", false); !errors.Is(err, ErrUnknownColumn) {
		t.Fatalf("expected ErrUnknownColumn, got %v", err)
	}
	if err := p.Split(0.5, 1); !errors.Is(err, ErrNotPreprocessed) {
		t.Fatalf("expected ErrNotPreprocessed, got %v", err)
	}
	if _, err := p.Profile(); !errors.Is(err, ErrNotPreprocessed) {
		t.Fatalf("expected ErrNotPreprocessed, got %v", err)
	}
	if _, err := p.Preprocess("label", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := p.TrainingSet(); !errors.Is(err, ErrNotSplit) {
		t.Fatalf("expected ErrNotSplit, got %v", err)
	}
	if _, _, err := p.TestSet(); !errors.Is(err, ErrNotSplit) {
		t.Fatalf("expected ErrNotSplit, got %v", err)
	}
}

func TestInspect(t *testing.T) {
	p := NewPreprocessor(loadCSV(t, mixedCSV), nil)
	summaries, err := p.Inspect()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tests := []struct {
		name    string
		kind    string
		missing int
		unique  int
	}{
		{name: "x1", kind: KindNumeric},
		{name: "x2", kind: KindNumeric, missing: 1},
		{name: "color", kind: KindCategorical, missing: 1, unique: 2},
		{name: "label", kind: KindCategorical, unique: 2},
	}
	for i, tt := range tests {
		s := summaries[i]
		if s.Name != tt.name || s.Kind != tt.kind || s.Missing != tt.missing || s.Unique != tt.unique {
			t.Errorf("summary %d = %+v, want %+v", i, s, tt)
		}
	}
	if summaries[0].Mean != 2.5 || summaries[0].Median != 2.5 || summaries[0].Max != 4 {
		t.Errorf("unexpected numeric summary %+v", summaries[0])
	}
}

func classificationDataset(t *testing.T) *Preprocessor {
	t.Helper()
	var b strings.Builder
	b.WriteString("x,label\n")
	for i := 0; i < 6; i++ {
		b.WriteString(strings.Repeat("1", i+1) + ",a\n")
	}
	for i := 0; i < 4; i++ {
		b.WriteString(strings.Repeat("2", i+1) + ",b\n")
	}
	p := NewPreprocessor(loadCSV(t, b.String()), nil)
	if _, err := p.Preprocess("label", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p
}

func TestSplitStratified(t *testing.T) {
	p := classificationDataset(t)
	if err := p.Split(0.5, 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, trainY, _ := p.TrainingSet()
	_, testY, _ := p.TestSet()
	if len(trainY) != 5 || len(testY) != 5 {
		t.Fatalf("unexpected split sizes %d/%d", len(trainY), len(testY))
	}
	counts := map[float64]int{}
	for _, row := range trainY {
		counts[row[0]]++
	}
	if counts[0] != 3 || counts[1] != 2 {
		t.Fatalf("split not stratified: %v", counts)
	}
}

func TestSplitDeterministic(t *testing.T) {
	body := "x,y\n"
	for i := 0; i < 10; i++ {
		body += strings.Repeat("1", i+1) + "," + strings.Repeat("2", i+1) + "\n"
	}
	first := NewPreprocessor(loadCSV(t, body), nil)
	second := NewPreprocessor(loadCSV(t, body), nil)
	for _, p := range []*Preprocessor{first, second} {
		if _, err := p.Preprocess("y", false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := p.Split(0.7, 7); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if train, test := first.SplitSizes(); train != 7 || test != 3 {
		t.Fatalf("unexpected sizes %d/%d", train, test)
	}
	a, _, _ := first.TrainingSet()
	b, _, _ := second.TrainingSet()
	for i := range a {
		if a[i][0] != b[i][0] {
			t.Fatalf("split differs at %d for the same seed", i)
		}
	}
}

func TestSplitRejectsBadFractions(t *testing.T) {
	p := NewPreprocessor(loadCSV(t, "x,y\n1,1\n2,2\n3,3\n"), nil)
	if _, err := p.Preprocess("y", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, f := range []float64{0, 1, -0.5, 1.5, math.NaN(), 0.1} {
		if err := p.Split(f, 1); !errors.Is(err, ml.ErrConfiguration) {
			t.Errorf("fraction %v: expected ErrConfiguration, got %v", f, err)
		}
	}
}

func TestStandardScalerWidthMismatch(t *testing.T) {
	s := FitStandardScaler([][]float64{{1, 10}, {3, 10}})
	got, err := s.Transform([][]float64{{1, 10}, {3, 10}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0][0] != -1 || got[1][0] != 1 || got[0][1] != 0 {
		t.Errorf("unexpected scaled values %v", got)
	}
	if _, err := s.Transform([][]float64{{1}}); !errors.Is(err, ml.ErrDimension) {
		t.Fatalf("expected ErrDimension, got %v", err)
	}
	var identity *StandardScaler
	if out, _ := identity.Transform([][]float64{{5}}); out[0][0] != 5 {
		t.Errorf("nil scaler must copy input, got %v", out)
	}
}
