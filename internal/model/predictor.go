package model

import (
	"time"
)

// Decisions returned by Decide.
const (
	DecisionApproved = "APPROVED"
	DecisionRejected = "REJECTED"
)

// MetricsInterface defines the metrics methods needed by the predictor.
type MetricsInterface interface {
	PredictionsInc()
	PredictionFailuresInc()
	PredictionLatencyObserve(float64)
	BatchSizeObserve(float64)
}

// Predictor combines the frozen classifier with the calibrated decision
// threshold. All state is read-only after construction, so a single
// Predictor is shared by all concurrent requests without locking.
type Predictor struct {
	clf       Classifier
	threshold float64
	metrics   MetricsInterface
}

// NewPredictor wires a classifier to a threshold. metrics may be nil.
func NewPredictor(clf Classifier, threshold float64, metrics MetricsInterface) *Predictor {
	return &Predictor{clf: clf, threshold: threshold, metrics: metrics}
}

// Threshold returns the loaded decision threshold. It is constant for the
// process lifetime and echoed in every prediction response.
func (p *Predictor) Threshold() float64 {
	return p.threshold
}

// NumFeatures returns the model's input dimensionality.
func (p *Predictor) NumFeatures() int {
	return p.clf.NumFeatures()
}

// PredictOne returns the probability of default for a single feature vector.
func (p *Predictor) PredictOne(vec []float64) (float64, error) {
	start := time.Now()
	prob, err := p.clf.PredictOne(vec)
	p.track(err, time.Since(start))
	return prob, err
}

// PredictBatch returns per-row default probabilities in input order. Rows do
// not interact; a classifier failure fails the whole batch.
func (p *Predictor) PredictBatch(vecs [][]float64) ([]float64, error) {
	start := time.Now()
	probs, err := p.clf.PredictBatch(vecs)
	p.track(err, time.Since(start))
	if p.metrics != nil {
		p.metrics.BatchSizeObserve(float64(len(vecs)))
	}
	return probs, err
}

// Decide maps a default probability to the binary prediction and business
// decision. The comparison is non-strict: a probability exactly at the
// threshold is rejected, the risk-averse side of the tie.
func (p *Predictor) Decide(probability float64) (int, string) {
	if probability >= p.threshold {
		return 1, DecisionRejected
	}
	return 0, DecisionApproved
}

func (p *Predictor) track(err error, elapsed time.Duration) {
	if p.metrics == nil {
		return
	}
	if err != nil {
		p.metrics.PredictionFailuresInc()
	} else {
		p.metrics.PredictionsInc()
	}
	p.metrics.PredictionLatencyObserve(elapsed.Seconds())
}
