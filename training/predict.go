package training

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"rbfnet/db"
	"rbfnet/ml"
	"rbfnet/monitoring"
	"rbfnet/pipeline"
)

// Loader reads stored trainings.
type Loader interface {
	LoadTraining(ctx context.Context, id int64) (*db.Training, error)
}

// Prediction holds the raw outputs for each input row and, for
// classification models, the decoded class per row.
type Prediction struct {
	TrainingID int64       `json:"training_id"`
	Outputs    [][]float64 `json:"outputs"`
	ClassIndex []int       `json:"class_index,omitempty"`
	Labels     []string    `json:"labels,omitempty"`
}

type predictor struct {
	model   ml.Predictor
	scaler  *pipeline.StandardScaler
	classes []string
}

// PredictionService restores stored models on demand and keeps the most
// recently used ones in memory.
type PredictionService struct {
	loader  Loader
	cache   *lru.Cache[int64, *predictor]
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

func NewPredictionService(loader Loader, cacheSize int, metrics *monitoring.Metrics, logger *zap.Logger) (*PredictionService, error) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[int64, *predictor](cacheSize)
	if err != nil {
		return nil, err
	}
	return &PredictionService{loader: loader, cache: cache, metrics: metrics, logger: logger}, nil
}

// Predict runs the stored model id on inputs, given in the encoded feature
// layout of the training (before scaling).
func (s *PredictionService) Predict(ctx context.Context, id int64, inputs [][]float64) (*Prediction, error) {
	p, err := s.predictor(ctx, id)
	if err != nil {
		s.metrics.ObservePrediction("failed", 0)
		return nil, err
	}
	out, err := p.predict(inputs)
	if err != nil {
		s.metrics.ObservePrediction("failed", 0)
		return nil, err
	}
	out.TrainingID = id
	s.metrics.ObservePrediction("ok", len(inputs))
	return out, nil
}

// PredictExported runs the model held by an export document, so a
// training can be used without the database it came from.
func PredictExported(doc *db.ExportDocument, inputs [][]float64) (*Prediction, error) {
	model, err := ml.Restore(doc.Model.Bundle)
	if err != nil {
		return nil, fmt.Errorf("restore exported training %d: %w", doc.Info.ID, err)
	}
	p := &predictor{model: model, scaler: doc.Model.Scaler, classes: doc.Model.Classes}
	out, err := p.predict(inputs)
	if err != nil {
		return nil, err
	}
	out.TrainingID = doc.Info.ID
	return out, nil
}

func (p *predictor) predict(inputs [][]float64) (*Prediction, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no input rows", ml.ErrDimension)
	}
	for i, row := range inputs {
		if len(row) != p.model.NumFeatures() {
			return nil, fmt.Errorf("%w: row %d has %d values, model expects %d",
				ml.ErrDimension, i, len(row), p.model.NumFeatures())
		}
	}

	scaled, err := p.scaler.Transform(inputs)
	if err != nil {
		return nil, err
	}
	outputs, err := p.model.Predict(scaled)
	if err != nil {
		return nil, err
	}

	out := &Prediction{Outputs: outputs}
	if len(p.classes) > 0 {
		out.ClassIndex = make([]int, len(outputs))
		out.Labels = make([]string, len(outputs))
		for i, row := range outputs {
			out.ClassIndex[i], out.Labels[i] = pipeline.DecodeLabel(row[0], p.classes)
		}
	}
	return out, nil
}

func (s *PredictionService) predictor(ctx context.Context, id int64) (*predictor, error) {
	if p, ok := s.cache.Get(id); ok {
		s.metrics.ObserveModelCache(true)
		return p, nil
	}
	s.metrics.ObserveModelCache(false)

	t, err := s.loader.LoadTraining(ctx, id)
	if err != nil {
		return nil, err
	}
	model, err := ml.Restore(t.Model)
	if err != nil {
		return nil, fmt.Errorf("restore training %d: %w", id, err)
	}
	p := &predictor{model: model, scaler: t.Scaler, classes: t.Classes}
	s.cache.Add(id, p)
	s.logger.Debug("model restored", zap.Int64("training_id", id), zap.Int("cached", s.cache.Len()))
	return p, nil
}

// Forget drops a cached model, e.g. after its training was deleted.
func (s *PredictionService) Forget(id int64) {
	s.cache.Remove(id)
}
