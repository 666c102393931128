package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"credit-scoring-api/internal/explain"
	"credit-scoring-api/internal/features"
	"credit-scoring-api/internal/model"

	"github.com/rs/zerolog/log"
)

// ClientRequest is the request body of /predict and /feature-importance and
// the element shape of /predict/batch.
type ClientRequest struct {
	Features map[string]float64 `json:"features"`
	ClientID string             `json:"client_id"`
}

// PredictionResponse is the response body of /predict.
type PredictionResponse struct {
	ClientID             string  `json:"client_id"`
	ProbabilityDefault   float64 `json:"probability_default"`
	ProbabilityNoDefault float64 `json:"probability_no_default"`
	Prediction           int     `json:"prediction"`
	Decision             string  `json:"decision"`
	ThresholdUsed        float64 `json:"threshold_used"`
}

// BatchPredictionResult is one element of the /predict/batch response. A
// malformed element carries its error in place of a prediction; other
// elements are unaffected.
type BatchPredictionResult struct {
	ClientID             string  `json:"client_id"`
	ProbabilityDefault   float64 `json:"probability_default"`
	ProbabilityNoDefault float64 `json:"probability_no_default"`
	Prediction           int     `json:"prediction"`
	Decision             string  `json:"decision"`
	ThresholdUsed        float64 `json:"threshold_used"`
	Error                string  `json:"error,omitempty"`
}

// FeatureImportanceResponse is the response body of /feature-importance.
type FeatureImportanceResponse struct {
	ClientID            string                  `json:"client_id"`
	ShapValues          map[string]float64      `json:"shap_values"`
	TopPositiveFeatures []explain.RankedFeature `json:"top_positive_features"`
	TopNegativeFeatures []explain.RankedFeature `json:"top_negative_features"`
	BaseValue           float64                 `json:"base_value"`
	PredictionValue     float64                 `json:"prediction_value"`
}

// HealthResponse is the response body of /health.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Version     string `json:"version"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	loaded := s.schema != nil && s.predictor != nil && s.explainer != nil

	status := http.StatusOK
	health := HealthResponse{Status: "healthy", ModelLoaded: loaded, Version: Version}
	if !loaded {
		status = http.StatusServiceUnavailable
		health.Status = "unhealthy"
	}

	writeJSON(w, status, health)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req ClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &features.ValidationError{Reason: "malformed request body: " + err.Error()})
		return
	}

	resp, err := s.predictClient(req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	log.Info().
		Str("client_id", req.ClientID).
		Float64("probability_default", resp.ProbabilityDefault).
		Str("decision", resp.Decision).
		Msg("prediction completed")

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []ClientRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		s.writeError(w, &features.ValidationError{Reason: "malformed request body: " + err.Error()})
		return
	}

	// Validate per element, keeping slots for the malformed ones, then run
	// one batched inference call over the valid subset. A classifier failure
	// is atomic and fails the whole request.
	results := make([]BatchPredictionResult, len(reqs))
	validIdx := make([]int, 0, len(reqs))
	vecs := make([][]float64, 0, len(reqs))
	for i, req := range reqs {
		if err := validateClient(req); err != nil {
			results[i] = BatchPredictionResult{ClientID: req.ClientID, Error: err.Error()}
			continue
		}
		validIdx = append(validIdx, i)
		vecs = append(vecs, s.schema.Vectorize(req.Features))
	}

	probs, err := s.predictor.PredictBatch(vecs)
	if err != nil {
		s.writeError(w, err)
		return
	}

	approved, rejected := 0, 0
	for pos, i := range validIdx {
		prob := probs[pos]
		prediction, decision := s.predictor.Decide(prob)
		if decision == model.DecisionApproved {
			approved++
		} else {
			rejected++
		}
		results[i] = BatchPredictionResult{
			ClientID:             reqs[i].ClientID,
			ProbabilityDefault:   prob,
			ProbabilityNoDefault: 1 - prob,
			Prediction:           prediction,
			Decision:             decision,
			ThresholdUsed:        s.predictor.Threshold(),
		}
	}

	log.Info().
		Int("total", len(reqs)).
		Int("approved", approved).
		Int("rejected", rejected).
		Int("invalid", len(reqs)-len(validIdx)).
		Msg("batch prediction completed")

	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleFeatureImportance(w http.ResponseWriter, r *http.Request) {
	var req ClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &features.ValidationError{Reason: "malformed request body: " + err.Error()})
		return
	}
	if err := validateClient(req); err != nil {
		s.writeError(w, err)
		return
	}

	vec := s.schema.Vectorize(req.Features)

	probability, err := s.predictor.PredictOne(vec)
	if err != nil {
		s.writeError(w, err)
		return
	}

	start := time.Now()
	attr, err := s.explainer.Explain(vec, s.topN)
	if s.metrics != nil {
		s.metrics.ExplanationLatencyObserve(time.Since(start).Seconds())
		if err != nil {
			s.metrics.ExplanationFailuresInc()
		} else {
			s.metrics.ExplanationsInc()
		}
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	// The attribution must reproduce the classifier's probability. A
	// divergence means the two artifacts were not exported from the same
	// model; surface it, never adjust the values.
	if diff := math.Abs(attr.PredictionValue - probability); diff > attributionTolerance {
		if s.metrics != nil {
			s.metrics.AttributionDiscrepancyInc()
		}
		log.Warn().
			Str("client_id", req.ClientID).
			Float64("prediction_value", attr.PredictionValue).
			Float64("classifier_probability", probability).
			Float64("difference", diff).
			Msg("attribution diverges from classifier output")
	}

	shapValues := make(map[string]float64, s.schema.Len())
	for i, name := range s.schema.Names() {
		shapValues[name] = attr.Contributions[i]
	}

	writeJSON(w, http.StatusOK, FeatureImportanceResponse{
		ClientID:            req.ClientID,
		ShapValues:          shapValues,
		TopPositiveFeatures: attr.TopPositive,
		TopNegativeFeatures: attr.TopNegative,
		BaseValue:           attr.BaseValue,
		PredictionValue:     attr.PredictionValue,
	})
}

func (s *Server) predictClient(req ClientRequest) (*PredictionResponse, error) {
	if err := validateClient(req); err != nil {
		return nil, err
	}

	vec := s.schema.Vectorize(req.Features)
	prob, err := s.predictor.PredictOne(vec)
	if err != nil {
		return nil, err
	}

	prediction, decision := s.predictor.Decide(prob)
	return &PredictionResponse{
		ClientID:             req.ClientID,
		ProbabilityDefault:   prob,
		ProbabilityNoDefault: 1 - prob,
		Prediction:           prediction,
		Decision:             decision,
		ThresholdUsed:        s.predictor.Threshold(),
	}, nil
}

// validateClient enforces the request contract. The feature mapping itself
// may be empty (all features fall back to the documented fill value), but
// feature values must be finite numbers and the client identifier is
// required.
func validateClient(req ClientRequest) error {
	if req.ClientID == "" {
		return &features.ValidationError{Reason: "client_id is required"}
	}
	for name, v := range req.Features {
		if math.IsInf(v, 0) {
			return &features.ValidationError{Reason: "feature " + name + " has a non-finite value"}
		}
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *features.ValidationError
	var perr *model.PredictionError
	var eerr *explain.ExplanationError

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request", Detail: verr.Reason})
	case errors.As(err, &perr):
		log.Error().Err(err).Msg("prediction failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "prediction failed", Detail: perr.Reason})
	case errors.As(err, &eerr):
		log.Error().Err(err).Msg("explanation failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "explanation failed", Detail: eerr.Reason})
	default:
		log.Error().Err(err).Msg("internal error")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
