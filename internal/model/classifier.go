// Package model loads the frozen classifier and threshold artifacts and
// turns probabilities into credit decisions.
package model

import (
	"fmt"
	"math"

	"github.com/dmitryikh/leaves"
	"github.com/rs/zerolog/log"
)

// Classifier is a frozen binary classifier producing the probability of
// default for an ordered feature vector. Implementations must be safe for
// concurrent use; the artifact is read-only after load.
type Classifier interface {
	// PredictOne runs a single forward pass and returns P(default).
	PredictOne(vec []float64) (float64, error)
	// PredictBatch evaluates rows independently in one call. The call is
	// atomic: any failure fails the whole batch with no partial results.
	PredictBatch(vecs [][]float64) ([]float64, error)
	// NumFeatures returns the input dimensionality the model was trained with.
	NumFeatures() int
}

// lightGBMClassifier wraps a leaves ensemble loaded from a LightGBM text
// model dump. The logistic transformation is applied at load time, so
// outputs are probabilities.
type lightGBMClassifier struct {
	ensemble *leaves.Ensemble
}

// LoadClassifier reads the classifier artifact from a LightGBM text model
// file. Any load failure is a startup error for the caller.
func LoadClassifier(path string) (Classifier, error) {
	ensemble, err := leaves.LGEnsembleFromFile(path, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load classifier %s: %w", path, err)
	}
	if ensemble.NRawOutputGroups() != 1 {
		return nil, fmt.Errorf("classifier %s: expected a binary model with a single output, got %d output groups", path, ensemble.NRawOutputGroups())
	}

	log.Info().
		Str("model_path", path).
		Str("model_type", ensemble.Name()).
		Int("n_features", ensemble.NFeatures()).
		Int("n_estimators", ensemble.NEstimators()).
		Msg("classifier loaded")

	return &lightGBMClassifier{ensemble: ensemble}, nil
}

func (c *lightGBMClassifier) NumFeatures() int {
	return c.ensemble.NFeatures()
}

func (c *lightGBMClassifier) PredictOne(vec []float64) (float64, error) {
	if len(vec) != c.ensemble.NFeatures() {
		return 0, dimensionError(len(vec), c.ensemble.NFeatures())
	}

	p := c.ensemble.PredictSingle(vec, 0)
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, &PredictionError{Reason: fmt.Sprintf("classifier produced an invalid probability %v", p)}
	}
	return p, nil
}

func (c *lightGBMClassifier) PredictBatch(vecs [][]float64) ([]float64, error) {
	if len(vecs) == 0 {
		return []float64{}, nil
	}

	ncols := c.ensemble.NFeatures()
	dense := make([]float64, 0, len(vecs)*ncols)
	for _, vec := range vecs {
		if len(vec) != ncols {
			return nil, dimensionError(len(vec), ncols)
		}
		dense = append(dense, vec...)
	}

	out := make([]float64, len(vecs))
	if err := c.ensemble.PredictDense(dense, len(vecs), ncols, out, 0, 1); err != nil {
		return nil, &PredictionError{Reason: fmt.Sprintf("batch inference failed: %v", err)}
	}

	for i, p := range out {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return nil, &PredictionError{Reason: fmt.Sprintf("classifier produced an invalid probability %v for row %d", p, i)}
		}
	}
	return out, nil
}
