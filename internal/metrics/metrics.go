// Package metrics provides Prometheus metrics collection for the credit
// scoring service: prediction and explanation throughput, latency, and the
// attribution consistency check, exposed via the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the scoring service.
type Metrics struct {
	// Prediction metrics
	PredictionsTotal   prometheus.Counter   // Total successful classifier evaluations
	PredictionFailures prometheus.Counter   // Total failed classifier evaluations
	PredictionLatency  prometheus.Histogram // Classifier evaluation latency in seconds
	BatchSize          prometheus.Histogram // Rows per batch prediction call

	// Explanation metrics
	ExplanationsTotal   prometheus.Counter   // Total successful attribution computations
	ExplanationFailures prometheus.Counter   // Total failed attribution computations
	ExplanationLatency  prometheus.Histogram // Attribution latency in seconds

	// Consistency metrics
	AttributionDiscrepancies prometheus.Counter // Attributions diverging from the classifier beyond tolerance

	// HTTP metrics
	RequestsTotal *prometheus.CounterVec // HTTP requests by handler and status code
}

// New creates and registers all metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		PredictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of successful classifier evaluations",
		}),
		PredictionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_failures_total",
			Help: "Total number of failed classifier evaluations",
		}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_latency_seconds",
			Help:    "Classifier evaluation latency in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_batch_size",
			Help:    "Number of rows per batch prediction call",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		ExplanationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "explanations_total",
			Help: "Total number of successful attribution computations",
		}),
		ExplanationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "explanation_failures_total",
			Help: "Total number of failed attribution computations",
		}),
		ExplanationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "explanation_latency_seconds",
			Help:    "Attribution computation latency in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),
		AttributionDiscrepancies: factory.NewCounter(prometheus.CounterOpts{
			Name: "attribution_discrepancies_total",
			Help: "Attributions whose prediction value diverged from the classifier probability beyond tolerance",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by handler and status code",
		}, []string{"handler", "code"}),
	}
}
