package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"rbfnet/ml"
)

const (
	SearchCompleted = "completed"
	SearchFailed    = "failed"
)

// SearchRequest trains Base once per (centers, error threshold) pair of the
// grid. Every run uses Base's dataset, split and seed, so runs differ only
// in the two searched parameters. Nothing is saved.
type SearchRequest struct {
	Base            Request
	Centers         []int
	ErrorThresholds []float64
	MaxWorkers      int // <= 0 means GOMAXPROCS
}

// SearchIteration is one grid point.
type SearchIteration struct {
	ID             int           `json:"id"`
	Centers        int           `json:"centers"`
	ErrorThreshold float64       `json:"error_threshold"`
	TrainMetrics   ml.Metrics    `json:"train_metrics"`
	TestMetrics    ml.Metrics    `json:"test_metrics"`
	PseudoInverse  bool          `json:"pseudo_inverse"`
	Duration       time.Duration `json:"duration_ns"`
	Status         string        `json:"status"`
	Error          string        `json:"error,omitempty"`
	Rank           int           `json:"rank,omitempty"`
}

// SearchResult lists every grid point in grid order. Best is the completed
// point with the lowest test EG, ties going to fewer centers.
type SearchResult struct {
	Best       *SearchIteration  `json:"best,omitempty"`
	Iterations []SearchIteration `json:"iterations"`
	Duration   time.Duration     `json:"duration_ns"`
}

// CenterRange lists min, min+step, ... up to max inclusive.
func CenterRange(min, max, step int) []int {
	if step <= 0 {
		step = 1
	}
	var values []int
	for i := min; i <= max; i += step {
		values = append(values, i)
	}
	return values
}

// Search runs the grid. A grid point that fails (for instance more centers
// than training patterns) is recorded as failed and does not stop the
// search; cancelling ctx does.
func (r *Runner) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if len(req.Centers) == 0 || len(req.ErrorThresholds) == 0 {
		return nil, fmt.Errorf("%w: search needs at least one center count and one error threshold", ml.ErrConfiguration)
	}
	workers := req.MaxWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	type point struct {
		centers int
		thresh  float64
	}
	var grid []point
	for _, c := range req.Centers {
		for _, e := range req.ErrorThresholds {
			grid = append(grid, point{c, e})
		}
	}
	r.logger.Info("parameter search started",
		zap.Int("combinations", len(grid)), zap.Int("workers", workers))

	start := time.Now()
	iterations := make([]SearchIteration, len(grid))
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, workers)

	// Individual runs publish nothing; the search reports as a whole.
	quiet := &Runner{logger: r.logger.With(zap.String("search", req.Base.Name))}

	for i, p := range grid {
		wg.Add(1)
		go func(i int, p point) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			it := SearchIteration{ID: i + 1, Centers: p.centers, ErrorThreshold: p.thresh}
			if err := ctx.Err(); err != nil {
				it.Status, it.Error = SearchFailed, err.Error()
				iterations[i] = it
				return
			}

			run := req.Base
			run.Centers = p.centers
			run.ErrorThreshold = p.thresh
			run.Save = false
			res, err := quiet.Run(ctx, run)
			if err != nil {
				it.Status, it.Error = SearchFailed, err.Error()
				iterations[i] = it
				return
			}
			it.Status = SearchCompleted
			it.TrainMetrics = res.TrainMetrics
			it.TestMetrics = res.TestMetrics
			it.PseudoInverse = res.PseudoInverse
			it.Duration = res.Duration
			iterations[i] = it
		}(i, p)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parameter search cancelled: %w", err)
	}

	result := &SearchResult{Iterations: iterations, Duration: time.Since(start)}
	rankIterations(result)
	if result.Best == nil {
		return result, errors.New("every grid point failed")
	}
	r.logger.Info("parameter search completed",
		zap.Int("best_centers", result.Best.Centers),
		zap.Float64("best_error_threshold", result.Best.ErrorThreshold),
		zap.Float64("best_test_eg", result.Best.TestMetrics.EG),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func rankIterations(result *SearchResult) {
	var order []int
	for i, it := range result.Iterations {
		if it.Status == SearchCompleted && !math.IsNaN(it.TestMetrics.EG) {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		x, y := result.Iterations[order[a]], result.Iterations[order[b]]
		if x.TestMetrics.EG != y.TestMetrics.EG {
			return x.TestMetrics.EG < y.TestMetrics.EG
		}
		return x.Centers < y.Centers
	})
	for rank, i := range order {
		result.Iterations[i].Rank = rank + 1
	}
	if len(order) > 0 {
		best := result.Iterations[order[0]]
		result.Best = &best
	}
}
