// Package api exposes the scoring pipeline over HTTP: health, single and
// batch prediction, and per-prediction feature importance.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"credit-scoring-api/internal/cfg"
	"credit-scoring-api/internal/explain"
	"credit-scoring-api/internal/features"
	"credit-scoring-api/internal/model"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Version reported by the health endpoint.
const Version = "1.0.0"

// attributionTolerance bounds the allowed difference between the explainer's
// prediction value and the classifier's probability before the divergence is
// surfaced.
const attributionTolerance = 1e-4

// MetricsRecorder defines the metrics methods needed by the API layer.
type MetricsRecorder interface {
	ExplanationsInc()
	ExplanationFailuresInc()
	ExplanationLatencyObserve(float64)
	AttributionDiscrepancyInc()
	HTTPRequestInc(handler string, code int)
}

// Server serves the scoring API. All referenced artifacts are read-only
// after construction, so every field is safely shared across requests.
type Server struct {
	schema    *features.Schema
	predictor *model.Predictor
	explainer *explain.Explainer
	metrics   MetricsRecorder
	topN      int
	server    *http.Server
}

// NewServer wires the loaded artifacts into an HTTP server. metrics may be
// nil.
func NewServer(settings cfg.Settings, schema *features.Schema, predictor *model.Predictor, explainer *explain.Explainer, metrics MetricsRecorder) *Server {
	s := &Server{
		schema:    schema,
		predictor: predictor,
		explainer: explainer,
		metrics:   metrics,
		topN:      settings.TopN,
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", settings.Port),
		Handler:      s.router(),
		ReadTimeout:  settings.ReadTimeout,
		WriteTimeout: settings.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet).Name("health")
	r.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost).Name("predict")
	r.HandleFunc("/predict/batch", s.handlePredictBatch).Methods(http.MethodPost).Name("predict_batch")
	r.HandleFunc("/feature-importance", s.handleFeatureImportance).Methods(http.MethodPost).Name("feature_importance")
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet).Name("metrics")
	r.Use(s.requestLogging)
	return r
}

// Handler returns the configured HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving HTTP requests and blocks until shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("starting scoring API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// statusRecorder captures the response code for access logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		handler := "unknown"
		if route := mux.CurrentRoute(r); route != nil {
			if name := route.GetName(); name != "" {
				handler = name
			}
		}

		if s.metrics != nil {
			s.metrics.HTTPRequestInc(handler, rec.status)
		}

		log.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	})
}
