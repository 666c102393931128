package metrics

import "strconv"

// Wrapper adapts Metrics to the small interfaces consumed by the model and
// API packages, so those packages depend on behavior rather than on
// Prometheus types and tests can substitute mocks.
type Wrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *Wrapper {
	return &Wrapper{m: m}
}

func (w *Wrapper) PredictionsInc() {
	w.m.PredictionsTotal.Inc()
}

func (w *Wrapper) PredictionFailuresInc() {
	w.m.PredictionFailures.Inc()
}

func (w *Wrapper) PredictionLatencyObserve(seconds float64) {
	w.m.PredictionLatency.Observe(seconds)
}

func (w *Wrapper) BatchSizeObserve(size float64) {
	w.m.BatchSize.Observe(size)
}

func (w *Wrapper) ExplanationsInc() {
	w.m.ExplanationsTotal.Inc()
}

func (w *Wrapper) ExplanationFailuresInc() {
	w.m.ExplanationFailures.Inc()
}

func (w *Wrapper) ExplanationLatencyObserve(seconds float64) {
	w.m.ExplanationLatency.Observe(seconds)
}

func (w *Wrapper) AttributionDiscrepancyInc() {
	w.m.AttributionDiscrepancies.Inc()
}

func (w *Wrapper) HTTPRequestInc(handler string, code int) {
	w.m.RequestsTotal.WithLabelValues(handler, strconv.Itoa(code)).Inc()
}
