// Package training runs a complete RBF training session: preprocess the
// dataset, split it, fit the network, evaluate both sets and optionally
// persist the result. The HTTP server and the CLI share it.
package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rbfnet/db"
	"rbfnet/ml"
	"rbfnet/monitoring"
	"rbfnet/pipeline"
)

// DefaultTrainRatio is used when a request leaves the split out.
const DefaultTrainRatio = 0.8

// Store persists finished sessions.
type Store interface {
	SaveTraining(ctx context.Context, t *db.Training) (int64, error)
}

// Request describes one training session. Zero Centers or ErrorThreshold
// are filled in by ml.SuggestConfig.
type Request struct {
	JobID       string
	Name        string
	Description string
	Dataset     *pipeline.Dataset
	Target      string

	Centers        int
	ErrorThreshold float64
	TrainRatio     float64
	Seed           int64
	Normalize      bool
	Deduplicate    bool
	Save           bool
}

// Result is the outcome of a session.
type Result struct {
	TrainingID     int64                   `json:"training_id,omitempty"`
	Name           string                  `json:"name"`
	DatasetName    string                  `json:"dataset_name"`
	Target         string                  `json:"target"`
	Config         ml.Config               `json:"config"`
	Suggestion     *ml.Suggestion          `json:"suggestion,omitempty"`
	Classification bool                    `json:"classification"`
	Classes        []string                `json:"classes,omitempty"`
	FeatureNames   []string                `json:"feature_names"`
	Stats          pipeline.Statistics     `json:"dataset_stats"`
	TrainSize      int                     `json:"train_size"`
	TestSize       int                     `json:"test_size"`
	TrainMetrics   ml.Metrics              `json:"train_metrics"`
	TestMetrics    ml.Metrics              `json:"test_metrics"`
	TrainR2        float64                 `json:"train_r2"`
	TestR2         float64                 `json:"test_r2"`
	TrainAccuracy  *float64                `json:"train_accuracy,omitempty"`
	TestAccuracy   *float64                `json:"test_accuracy,omitempty"`
	Advice         ml.Advice               `json:"advice"`
	PseudoInverse  bool                    `json:"pseudo_inverse"`
	Issues         []pipeline.QualityIssue `json:"issues,omitempty"`
	Duration       time.Duration           `json:"duration_ns"`

	model  *ml.Model
	scaler *pipeline.StandardScaler
}

// Model returns the fitted network.
func (r *Result) Model() *ml.Model { return r.model }

// Scaler returns the input scaler, nil when inputs were not normalized.
func (r *Result) Scaler() *pipeline.StandardScaler { return r.scaler }

// Runner executes sessions. Every dependency is optional.
type Runner struct {
	logger    *zap.Logger
	store     Store
	publisher monitoring.Publisher
	metrics   *monitoring.Metrics
}

func NewRunner(logger *zap.Logger, store Store, publisher monitoring.Publisher, metrics *monitoring.Metrics) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{logger: logger, store: store, publisher: publisher, metrics: metrics}
}

// Run executes the session. ctx is checked between stages; a cancelled
// session returns ctx.Err().
func (r *Runner) Run(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	logger := r.logger.With(zap.String("job_id", req.JobID), zap.String("name", req.Name))
	kind := "unknown"

	defer func() {
		if err == nil {
			return
		}
		r.metrics.ObserveTraining(kind, "failed", time.Since(start), 0, 0, false)
		r.emit(logger, monitoring.EventFailed, req.JobID, map[string]string{"error": err.Error()})
		logger.Warn("training failed", zap.Error(err))
	}()

	if req.Dataset == nil {
		return nil, pipeline.ErrNoDataset
	}
	ratio := req.TrainRatio
	if ratio == 0 {
		ratio = DefaultTrainRatio
	}

	r.emit(logger, monitoring.EventStarted, req.JobID, map[string]interface{}{
		"name":     req.Name,
		"dataset":  req.Dataset.Name,
		"target":   req.Target,
		"patterns": len(req.Dataset.Rows),
	})

	prep := pipeline.NewPreprocessor(req.Dataset, logger)
	prep.DropDuplicates(req.Deduplicate)
	stats, err := prep.Preprocess(req.Target, req.Normalize)
	if err != nil {
		return nil, err
	}
	kind = "regression"
	if stats.Classification {
		kind = "classification"
	}
	if err := prep.Split(ratio, req.Seed); err != nil {
		return nil, err
	}
	trainX, trainY, err := prep.TrainingSet()
	if err != nil {
		return nil, err
	}
	testX, testY, err := prep.TestSet()
	if err != nil {
		return nil, err
	}

	cfg := ml.Config{Centers: req.Centers, ErrorThreshold: req.ErrorThreshold}
	var suggestion *ml.Suggestion
	if cfg.Centers == 0 || cfg.ErrorThreshold == 0 {
		s, err := suggestFor(prep, len(trainX))
		if err != nil {
			return nil, err
		}
		if cfg.Centers == 0 {
			cfg.Centers = s.Config.Centers
		}
		if cfg.ErrorThreshold == 0 {
			cfg.ErrorThreshold = s.Config.ErrorThreshold
		}
		suggestion = &s
		logger.Info("configuration suggested",
			zap.Int("centers", cfg.Centers),
			zap.Float64("error_threshold", cfg.ErrorThreshold))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model, trainMetrics, err := cfg.Train(trainX, trainY, req.Seed)
	if err != nil {
		return nil, err
	}
	r.emit(logger, monitoring.EventCentersSelected, req.JobID, map[string]interface{}{
		"num_centers": cfg.Centers,
		"centers":     model.Centers(),
	})
	r.emit(logger, monitoring.EventSolved, req.JobID, map[string]interface{}{
		"pseudo_inverse": model.UsedPseudoInverse(),
		"weights_rows":   cfg.Centers + 1,
		"outputs":        model.NumOutputs(),
	})

	testMetrics, err := model.Evaluate(testX, testY)
	if err != nil {
		return nil, err
	}

	res = &Result{
		Name:           req.Name,
		DatasetName:    req.Dataset.Name,
		Target:         req.Target,
		Config:         cfg,
		Suggestion:     suggestion,
		Classification: stats.Classification,
		Classes:        prep.Classes(),
		FeatureNames:   prep.FeatureNames(),
		Stats:          stats,
		TrainSize:      len(trainX),
		TestSize:       len(testX),
		TrainMetrics:   trainMetrics,
		TestMetrics:    testMetrics,
		TrainR2:        ml.R2(trainY, trainMetrics),
		TestR2:         ml.R2(testY, testMetrics),
		Advice:         ml.Advise(cfg, trainMetrics),
		PseudoInverse:  model.UsedPseudoInverse(),
		Issues:         prep.Issues(),
		model:          model,
		scaler:         prep.Scaler(),
	}
	if res.Classification {
		if res.TrainAccuracy, err = accuracy(model, trainX, trainY, res.Classes); err != nil {
			return nil, err
		}
		if res.TestAccuracy, err = accuracy(model, testX, testY, res.Classes); err != nil {
			return nil, err
		}
	}
	r.emit(logger, monitoring.EventEvaluated, req.JobID, map[string]interface{}{
		"train":  trainMetrics,
		"test":   testMetrics,
		"advice": res.Advice,
	})

	if req.Save {
		if r.store == nil {
			return nil, errors.New("no store configured to save the training")
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id, err := r.store.SaveTraining(ctx, res.record(req, ratio))
		if err != nil {
			return nil, fmt.Errorf("save training: %w", err)
		}
		res.TrainingID = id
		r.emit(logger, monitoring.EventSaved, req.JobID, map[string]int64{"training_id": id})
	}

	res.Duration = time.Since(start)
	r.metrics.ObserveTraining(kind, "ok", res.Duration, trainMetrics.EG, testMetrics.EG, res.PseudoInverse)
	logger.Info("training finished",
		zap.Int64("training_id", res.TrainingID),
		zap.Int("centers", cfg.Centers),
		zap.Float64("eg", trainMetrics.EG),
		zap.Float64("test_eg", testMetrics.EG),
		zap.Bool("converge", trainMetrics.Converge),
		zap.String("advice", res.Advice.Status),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (res *Result) record(req Request, ratio float64) *db.Training {
	bundle, _ := res.model.Bundle()
	test := res.TestMetrics
	stats := res.Stats
	return &db.Training{
		Info: db.TrainingInfo{
			Name:           res.Name,
			DatasetName:    res.DatasetName,
			Target:         res.Target,
			Patterns:       res.Stats.Patterns,
			Inputs:         res.Stats.Inputs,
			Outputs:        res.Stats.Outputs,
			Centers:        res.Config.Centers,
			TrainRatio:     ratio,
			Activation:     ml.ActivationName,
			ErrorThreshold: res.Config.ErrorThreshold,
			Classification: res.Classification,
			Normalized:     res.scaler != nil,
			Seed:           req.Seed,
			Description:    req.Description,
		},
		Model:        bundle,
		Scaler:       res.scaler,
		Classes:      res.Classes,
		FeatureNames: res.FeatureNames,
		TrainMetrics: res.TrainMetrics,
		TestMetrics:  &test,
		Stats:        &stats,
	}
}

func accuracy(model *ml.Model, x, y [][]float64, classes []string) (*float64, error) {
	pred, err := model.Predict(x)
	if err != nil {
		return nil, err
	}
	acc := pipeline.Accuracy(y, pred, classes)
	return &acc, nil
}

func (r *Runner) emit(logger *zap.Logger, eventType monitoring.EventType, jobID string, data interface{}) {
	if r.publisher == nil {
		return
	}
	ev, err := monitoring.NewEvent(eventType, jobID, data)
	if err != nil {
		logger.Warn("failed to build event", zap.Error(err))
		return
	}
	r.publisher.Publish(ev)
}
