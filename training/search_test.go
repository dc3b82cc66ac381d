package training

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"rbfnet/ml"
)

func TestCenterRange(t *testing.T) {
	tests := []struct {
		min, max, step int
		want           []int
	}{
		{2, 10, 4, []int{2, 6, 10}},
		{3, 4, 0, []int{3, 4}},
		{5, 1, 1, nil},
	}
	for _, tt := range tests {
		if got := CenterRange(tt.min, tt.max, tt.step); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("CenterRange(%d, %d, %d) = %v, want %v", tt.min, tt.max, tt.step, got, tt.want)
		}
	}
}

func TestSearch(t *testing.T) {
	rec := &recorder{}
	runner := NewRunner(nil, nil, rec, nil)
	res, err := runner.Search(context.Background(), SearchRequest{
		Base:            Request{Name: "grid", Dataset: regressionDataset(t, 30), Target: "y", Seed: 4},
		Centers:         []int{3, 6, 100},
		ErrorThresholds: []float64{0.05, 0.5},
		MaxWorkers:      2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Iterations) != 6 {
		t.Fatalf("expected 6 grid points, got %d", len(res.Iterations))
	}
	if len(rec.types()) != 0 {
		t.Fatalf("search runs should not publish events, got %v", rec.types())
	}

	ranked := 0
	for i, it := range res.Iterations {
		if it.ID != i+1 {
			t.Fatalf("iterations out of grid order: %+v", it)
		}
		if it.Centers == 100 {
			if it.Status != SearchFailed || it.Rank != 0 {
				t.Fatalf("100 centers cannot fit 24 patterns: %+v", it)
			}
			continue
		}
		if it.Status != SearchCompleted {
			t.Fatalf("unexpected failure: %+v", it)
		}
		if it.Rank > 0 {
			ranked++
		}
		if it.TestMetrics.EG < res.Best.TestMetrics.EG {
			t.Fatalf("best %+v is beaten by %+v", res.Best, it)
		}
	}
	if ranked != 4 || res.Best == nil || res.Best.Rank != 1 {
		t.Fatalf("unexpected ranking, best %+v", res.Best)
	}

	// Same seed, same run: the second threshold only changes convergence.
	a, b := res.Iterations[0], res.Iterations[1]
	if a.TrainMetrics.EG != b.TrainMetrics.EG {
		t.Fatalf("threshold changed the fit: %v vs %v", a.TrainMetrics.EG, b.TrainMetrics.EG)
	}
}

func TestSearchErrors(t *testing.T) {
	runner := NewRunner(nil, nil, nil, nil)
	base := Request{Dataset: regressionDataset(t, 10), Target: "y"}

	if _, err := runner.Search(context.Background(), SearchRequest{Base: base, ErrorThresholds: []float64{1}}); !errors.Is(err, ml.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for an empty grid, got %v", err)
	}

	res, err := runner.Search(context.Background(), SearchRequest{Base: base, Centers: []int{50}, ErrorThresholds: []float64{1}})
	if err == nil || res == nil || res.Best != nil {
		t.Fatalf("expected every point to fail, got %+v, %v", res, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := runner.Search(ctx, SearchRequest{Base: base, Centers: []int{2}, ErrorThresholds: []float64{1}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
