package training

import (
	"go.uber.org/zap"

	"rbfnet/ml"
	"rbfnet/pipeline"
)

// AutoConfig is a configuration proposal for a dataset, made without
// training.
type AutoConfig struct {
	Dataset    pipeline.DatasetInfo `json:"dataset"`
	Statistics pipeline.Statistics  `json:"statistics"`
	TrainSize  int                  `json:"train_size"`
	TestSize   int                  `json:"test_size"`
	Suggestion ml.Suggestion        `json:"suggestion"`
}

// Suggest preprocesses ds and splits it the way a session with the same
// ratio and seed would, then proposes a configuration whose center count
// fits that training set.
func Suggest(ds *pipeline.Dataset, target string, ratio float64, seed int64, logger *zap.Logger) (*AutoConfig, error) {
	if ds == nil {
		return nil, pipeline.ErrNoDataset
	}
	if ratio == 0 {
		ratio = DefaultTrainRatio
	}
	prep := pipeline.NewPreprocessor(ds, logger)
	stats, err := prep.Preprocess(target, false)
	if err != nil {
		return nil, err
	}
	if err := prep.Split(ratio, seed); err != nil {
		return nil, err
	}
	trainSize, testSize := prep.SplitSizes()
	s, err := suggestFor(prep, trainSize)
	if err != nil {
		return nil, err
	}
	return &AutoConfig{
		Dataset:    ds.Info(),
		Statistics: stats,
		TrainSize:  trainSize,
		TestSize:   testSize,
		Suggestion: s,
	}, nil
}

// suggestFor caps the heuristic's center count at the training-set size.
func suggestFor(prep *pipeline.Preprocessor, trainSize int) (ml.Suggestion, error) {
	profile, err := prep.Profile()
	if err != nil {
		return ml.Suggestion{}, err
	}
	s := ml.SuggestConfig(profile)
	if s.Config.Centers > trainSize {
		s.Config.Centers = trainSize
	}
	return s, nil
}
