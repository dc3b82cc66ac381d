package ml

import "errors"

var (
	// ErrConfiguration is returned for invalid hyperparameters.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrDimension is returned when matrix shapes do not line up.
	ErrDimension = errors.New("dimension mismatch")
	// ErrUntrainedModel is returned by Predict and Evaluate on a model
	// that was neither trained nor restored.
	ErrUntrainedModel = errors.New("model not trained")
)
