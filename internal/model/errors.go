package model

import "fmt"

// PredictionError indicates the classifier could not be evaluated on the
// given input, typically an input/artifact contract mismatch. It maps to a
// 5xx response at the API layer.
type PredictionError struct {
	Reason string
}

func (e *PredictionError) Error() string {
	return "prediction error: " + e.Reason
}

func dimensionError(got, want int) *PredictionError {
	return &PredictionError{Reason: fmt.Sprintf("feature vector has %d dimensions, model expects %d", got, want)}
}
