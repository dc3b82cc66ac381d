package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"rbfnet/db"
	"rbfnet/ml"
	"rbfnet/monitoring"
	"rbfnet/pipeline"
)

type recorder struct {
	mu     sync.Mutex
	events []monitoring.Event
}

func (r *recorder) Publish(ev monitoring.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []monitoring.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]monitoring.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func regressionDataset(t *testing.T, n int) *pipeline.Dataset {
	t.Helper()
	var b strings.Builder
	b.WriteString("x1,x2,y\n")
	for i := 0; i < n; i++ {
		x1 := float64(i) / float64(n)
		x2 := float64((i*7)%n) / float64(n)
		fmt.Fprintf(&b, "%g,%g,%g\n", x1, x2, 2*x1+x2)
	}
	ds, err := pipeline.LoadReader(strings.NewReader(b.String()), "linear.csv", pipeline.FormatCSV, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return ds
}

func classificationDataset(t *testing.T) *pipeline.Dataset {
	t.Helper()
	var b strings.Builder
	b.WriteString("x,class\n")
	for i := 0; i < 20; i++ {
		label := "lo"
		if i >= 10 {
			label = "hi"
		}
		fmt.Fprintf(&b, "%d,%s\n", i, label)
	}
	ds, err := pipeline.LoadReader(strings.NewReader(b.String()), "steps.csv", pipeline.FormatCSV, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return ds
}

func openStore(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "rbf.db"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func equalTypes(a, b []monitoring.EventType) bool {
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

func TestRunRegression(t *testing.T) {
	rec := &recorder{}
	runner := NewRunner(nil, nil, rec, monitoring.NewMetrics())

	res, err := runner.Run(context.Background(), Request{
		JobID:          "job-1",
		Name:           "linear",
		Dataset:        regressionDataset(t, 30),
		Target:         "y",
		Centers:        5,
		ErrorThreshold: 0.5,
		TrainRatio:     0.8,
		Seed:           42,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TrainSize != 24 || res.TestSize != 6 {
		t.Fatalf("unexpected split %d/%d", res.TrainSize, res.TestSize)
	}
	if res.Classification || res.Suggestion != nil || res.Config.Centers != 5 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.TrainMetrics.EG != res.TrainMetrics.MAE || math.IsNaN(res.TestMetrics.RMSE) {
		t.Fatalf("unexpected metrics %+v / %+v", res.TrainMetrics, res.TestMetrics)
	}
	if res.Advice.Status == "" {
		t.Error("advice missing")
	}
	if res.TrainingID != 0 {
		t.Error("unsaved run should have no training id")
	}

	want := []monitoring.EventType{
		monitoring.EventStarted,
		monitoring.EventCentersSelected,
		monitoring.EventSolved,
		monitoring.EventEvaluated,
	}
	if got := rec.types(); !equalTypes(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for _, ev := range rec.events {
		if ev.JobID != "job-1" {
			t.Fatalf("event without job id: %+v", ev)
		}
	}
}

func TestRunIsDeterministic(t *testing.T) {
	runner := NewRunner(nil, nil, nil, nil)
	req := Request{Dataset: regressionDataset(t, 25), Target: "y", Centers: 4, ErrorThreshold: 0.1, Seed: 3}

	first, err := runner.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := runner.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.TrainMetrics != second.TrainMetrics || first.TestMetrics != second.TestMetrics {
		t.Fatalf("same seed gave different metrics: %+v vs %+v", first.TrainMetrics, second.TrainMetrics)
	}
}

func TestRunClassificationAutoConfigAndSave(t *testing.T) {
	store := openStore(t)
	rec := &recorder{}
	runner := NewRunner(nil, store, rec, nil)

	res, err := runner.Run(context.Background(), Request{
		JobID:     "job-2",
		Name:      "steps",
		Dataset:   classificationDataset(t),
		Target:    "class",
		Seed:      7,
		Normalize: true,
		Save:      true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Classification || len(res.Classes) != 2 || res.Classes[0] != "hi" {
		t.Fatalf("unexpected classes %v", res.Classes)
	}
	if res.Suggestion == nil || res.Config.Centers != 8 || res.Config.ErrorThreshold != 0.35 {
		t.Fatalf("expected suggested config 8/0.35, got %+v", res.Config)
	}
	if res.TrainSize != 16 || res.TestSize != 4 {
		t.Fatalf("unexpected split %d/%d", res.TrainSize, res.TestSize)
	}
	if res.TrainAccuracy == nil || res.TestAccuracy == nil {
		t.Fatal("classification accuracy missing")
	}
	if res.TrainingID == 0 {
		t.Fatal("saved run should have a training id")
	}
	if got := rec.types(); got[len(got)-1] != monitoring.EventSaved {
		t.Fatalf("last event = %s, want saved", got[len(got)-1])
	}

	stored, err := store.LoadTraining(context.Background(), res.TrainingID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stored.Info.Normalized || stored.Scaler == nil || stored.Info.TrainRatio != DefaultTrainRatio {
		t.Errorf("unexpected stored info %+v", stored.Info)
	}
	if stored.TrainMetrics != res.TrainMetrics {
		t.Errorf("stored metrics %+v differ from %+v", stored.TrainMetrics, res.TrainMetrics)
	}
}

func TestRunCapsSuggestedCenters(t *testing.T) {
	runner := NewRunner(nil, nil, nil, nil)
	res, err := runner.Run(context.Background(), Request{
		Dataset:    regressionDataset(t, 10),
		Target:     "y",
		TrainRatio: 0.5,
		Seed:       1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Config.Centers != 5 {
		t.Fatalf("expected centers capped at training size 5, got %d", res.Config.Centers)
	}
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name    string
		req     func(t *testing.T) Request
		ctx     func() context.Context
		wantErr error
	}{
		{
			name:    "unknown target",
			req:     func(t *testing.T) Request { return Request{Dataset: regressionDataset(t, 10), Target: "z"} },
			wantErr: pipeline.ErrUnknownColumn,
		},
		{
			name: "too many centers",
			req: func(t *testing.T) Request {
				return Request{Dataset: regressionDataset(t, 10), Target: "y", Centers: 50, ErrorThreshold: 1}
			},
			wantErr: ml.ErrConfiguration,
		},
		{
			name:    "no dataset",
			req:     func(t *testing.T) Request { return Request{Target: "y"} },
			wantErr: pipeline.ErrNoDataset,
		},
		{
			name: "cancelled",
			req:  func(t *testing.T) Request { return Request{Dataset: regressionDataset(t, 10), Target: "y", Centers: 2, ErrorThreshold: 1} },
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			wantErr: context.Canceled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			runner := NewRunner(nil, nil, rec, nil)
			ctx := context.Background()
			if tt.ctx != nil {
				ctx = tt.ctx()
			}
			_, err := runner.Run(ctx, tt.req(t))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			got := rec.types()
			if len(got) == 0 || got[len(got)-1] != monitoring.EventFailed {
				t.Fatalf("expected a failed event, got %v", got)
			}
		})
	}
}

func TestRunSaveWithoutStore(t *testing.T) {
	runner := NewRunner(nil, nil, nil, nil)
	_, err := runner.Run(context.Background(), Request{
		Dataset: regressionDataset(t, 10), Target: "y", Centers: 2, ErrorThreshold: 1, Save: true,
	})
	if err == nil {
		t.Fatal("expected error when saving without a store")
	}
}
