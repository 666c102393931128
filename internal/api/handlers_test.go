package api

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"credit-scoring-api/internal/cfg"
	"credit-scoring-api/internal/explain"
	"credit-scoring-api/internal/features"
	"credit-scoring-api/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signClassifier mirrors the test explainer artifact exactly: feature i
// contributes +weights[i] when positive and -weights[i] otherwise (missing
// values default left, also negative), and the probability is the logistic
// of the sum.
type signClassifier struct {
	weights []float64
}

func (s *signClassifier) NumFeatures() int { return len(s.weights) }

func (s *signClassifier) PredictOne(vec []float64) (float64, error) {
	if len(vec) != len(s.weights) {
		return 0, &model.PredictionError{Reason: "dimensionality mismatch"}
	}
	margin := 0.0
	for i, v := range vec {
		if !math.IsNaN(v) && v > 0 {
			margin += s.weights[i]
		} else {
			margin -= s.weights[i]
		}
	}
	return 1 / (1 + math.Exp(-margin)), nil
}

func (s *signClassifier) PredictBatch(vecs [][]float64) ([]float64, error) {
	out := make([]float64, len(vecs))
	for i, vec := range vecs {
		p, err := s.PredictOne(vec)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// mockRecorder implements MetricsRecorder for testing.
type mockRecorder struct {
	mu            sync.Mutex
	explanations  int
	explFailures  int
	discrepancies int
	httpRequests  map[string]int
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{httpRequests: make(map[string]int)}
}

func (m *mockRecorder) ExplanationsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.explanations++
}

func (m *mockRecorder) ExplanationFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.explFailures++
}

func (m *mockRecorder) ExplanationLatencyObserve(float64) {}

func (m *mockRecorder) AttributionDiscrepancyInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discrepancies++
}

func (m *mockRecorder) HTTPRequestInc(handler string, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.httpRequests[handler]++
}

// testExplainerArtifact writes a two-feature artifact: one tree per feature
// splitting at 0, leaves -2/+2 for the first feature and -1/+1 for the
// second, default-left missing routing.
func testExplainerArtifact(t *testing.T) string {
	t.Helper()
	artifact := map[string]any{
		"n_features": 2,
		"base_value": 0.0,
		"trees": []map[string]any{
			{"nodes": []map[string]any{
				{"feature": 0, "threshold": 0.0, "default_left": true, "left": 1, "right": 2, "value": 0.0},
				{"feature": -1, "value": -2.0},
				{"feature": -1, "value": 2.0},
			}},
			{"nodes": []map[string]any{
				{"feature": 1, "threshold": 0.0, "default_left": true, "left": 1, "right": 2, "value": 0.0},
				{"feature": -1, "value": -1.0},
				{"feature": -1, "value": 1.0},
			}},
		},
	}
	data, err := json.Marshal(artifact)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "explainer.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func newTestServer(t *testing.T, m MetricsRecorder) *Server {
	t.Helper()

	schema, err := features.NewSchema([]string{"EXT_SOURCE_2", "EXT_SOURCE_3"})
	require.NoError(t, err)

	explainer, err := explain.Load(testExplainerArtifact(t), schema.Names())
	require.NoError(t, err)

	predictor := model.NewPredictor(&signClassifier{weights: []float64{2, 1}}, 0.5, nil)

	settings := cfg.Settings{
		Port:         8080,
		TopN:         10,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return NewServer(settings, schema, predictor, explainer, m)
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if raw, ok := body.([]byte); ok {
		reader = bytes.NewReader(raw)
	} else {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.True(t, health.ModelLoaded)
	assert.Equal(t, Version, health.Version)
}

func TestPredict(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodPost, "/predict", ClientRequest{
		Features: map[string]float64{"EXT_SOURCE_2": 0.8, "EXT_SOURCE_3": 0.6},
		ClientID: "12345",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp PredictionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "12345", resp.ClientID)
	assert.InDelta(t, 1/(1+math.Exp(-3)), resp.ProbabilityDefault, 1e-12)
	assert.Equal(t, 1-resp.ProbabilityDefault, resp.ProbabilityNoDefault)
	assert.Equal(t, 0.5, resp.ThresholdUsed)
	assert.Equal(t, 1, resp.Prediction)
	assert.Equal(t, model.DecisionRejected, resp.Decision)
}

func TestPredictDecisionConsistency(t *testing.T) {
	s := newTestServer(t, nil)

	cases := []map[string]float64{
		{"EXT_SOURCE_2": 1, "EXT_SOURCE_3": 1},
		{"EXT_SOURCE_2": -1, "EXT_SOURCE_3": -1},
		{"EXT_SOURCE_2": 1, "EXT_SOURCE_3": -1},
	}

	for _, fs := range cases {
		rec := doRequest(t, s, http.MethodPost, "/predict", ClientRequest{Features: fs, ClientID: "c"})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp PredictionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

		wantRejected := resp.ProbabilityDefault >= resp.ThresholdUsed
		assert.Equal(t, wantRejected, resp.Decision == model.DecisionRejected, "features %v", fs)
		assert.Equal(t, wantRejected, resp.Prediction == 1, "features %v", fs)
	}
}

func TestPredictEmptyFeatures(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodPost, "/predict", ClientRequest{
		Features: map[string]float64{},
		ClientID: "empty",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Both features fall back to the missing-value default; the model routes
	// them down the default branches.
	var resp PredictionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, 1/(1+math.Exp(3)), resp.ProbabilityDefault, 1e-12)
	assert.Equal(t, model.DecisionApproved, resp.Decision)
}

func TestPredictMissingClientID(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodPost, "/predict", ClientRequest{
		Features: map[string]float64{"EXT_SOURCE_2": 0.5},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "invalid request", errResp.Error)
	assert.Contains(t, errResp.Detail, "client_id")
}

func TestPredictMalformedBody(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name string
		body []byte
	}{
		{"non-numeric feature value", []byte(`{"features": {"EXT_SOURCE_2": "high"}, "client_id": "x"}`)},
		{"not JSON", []byte(`{{{`)},
		{"wrong features type", []byte(`{"features": [1, 2], "client_id": "x"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodPost, "/predict", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPredictMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodGet, "/predict", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPredictBatch(t *testing.T) {
	s := newTestServer(t, nil)

	batch := []ClientRequest{
		{Features: map[string]float64{"EXT_SOURCE_2": 1, "EXT_SOURCE_3": 1}, ClientID: "a"},
		{Features: map[string]float64{"EXT_SOURCE_2": 1}}, // missing client_id
		{Features: map[string]float64{"EXT_SOURCE_2": -1, "EXT_SOURCE_3": -1}, ClientID: "c"},
	}

	rec := doRequest(t, s, http.MethodPost, "/predict/batch", batch)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var results []BatchPredictionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 3)

	// Valid elements match element-wise single predictions, in order.
	for _, i := range []int{0, 2} {
		single := doRequest(t, s, http.MethodPost, "/predict", batch[i])
		require.Equal(t, http.StatusOK, single.Code)

		var want PredictionResponse
		require.NoError(t, json.Unmarshal(single.Body.Bytes(), &want))
		assert.Equal(t, want.ClientID, results[i].ClientID)
		assert.Equal(t, want.ProbabilityDefault, results[i].ProbabilityDefault)
		assert.Equal(t, want.Decision, results[i].Decision)
		assert.Empty(t, results[i].Error)
	}

	// The malformed element fails in isolation.
	assert.Contains(t, results[1].Error, "client_id")
	assert.Empty(t, results[1].Decision)
}

func TestPredictBatchEmpty(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodPost, "/predict/batch", []ClientRequest{})
	require.Equal(t, http.StatusOK, rec.Code)

	var results []BatchPredictionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	assert.Empty(t, results)
}

func TestPredictBatchMalformedBody(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodPost, "/predict/batch", []byte(`{"clients": []}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeatureImportance(t *testing.T) {
	m := newMockRecorder()
	s := newTestServer(t, m)

	rec := doRequest(t, s, http.MethodPost, "/feature-importance", ClientRequest{
		Features: map[string]float64{"EXT_SOURCE_2": 0.8, "EXT_SOURCE_3": -0.3},
		ClientID: "12345",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp FeatureImportanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "12345", resp.ClientID)
	require.Len(t, resp.ShapValues, 2)
	assert.Positive(t, resp.ShapValues["EXT_SOURCE_2"])
	assert.Negative(t, resp.ShapValues["EXT_SOURCE_3"])

	// Additivity: base plus contributions reproduces the prediction value,
	// which in turn matches the classifier's probability.
	sum := resp.BaseValue
	for _, v := range resp.ShapValues {
		sum += v
	}
	assert.InDelta(t, resp.PredictionValue, sum, 1e-9)
	assert.InDelta(t, 1/(1+math.Exp(-1)), resp.PredictionValue, 1e-9) // raw margins +2 and -1

	require.Len(t, resp.TopPositiveFeatures, 1)
	assert.Equal(t, "EXT_SOURCE_2", resp.TopPositiveFeatures[0].Feature)
	require.Len(t, resp.TopNegativeFeatures, 1)
	assert.Equal(t, "EXT_SOURCE_3", resp.TopNegativeFeatures[0].Feature)

	assert.Equal(t, 1, m.explanations)
	assert.Equal(t, 0, m.explFailures)
	assert.Equal(t, 0, m.discrepancies, "matching artifacts must not report a discrepancy")
}

func TestFeatureImportanceMissingClientID(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodPost, "/feature-importance", ClientRequest{
		Features: map[string]float64{"EXT_SOURCE_2": 0.5},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDimensionalityMismatchIsServerError(t *testing.T) {
	// Schema with three names against a two-feature classifier: an artifact
	// contract mismatch, surfaced as 5xx rather than blamed on the client.
	schema, err := features.NewSchema([]string{"A", "B", "C"})
	require.NoError(t, err)

	explainer, err := explain.Load(testExplainerArtifact(t), []string{"A", "B"})
	require.NoError(t, err)

	predictor := model.NewPredictor(&signClassifier{weights: []float64{2, 1}}, 0.5, nil)
	settings := cfg.Settings{Port: 8080, TopN: 10, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}
	s := NewServer(settings, schema, predictor, explainer, nil)

	rec := doRequest(t, s, http.MethodPost, "/predict", ClientRequest{
		Features: map[string]float64{"A": 1},
		ClientID: "x",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "prediction failed", errResp.Error)
}

func TestRequestIDEcho(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestRequestIDGenerated(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHTTPMetricsRecorded(t *testing.T) {
	m := newMockRecorder()
	s := newTestServer(t, m)

	doRequest(t, s, http.MethodGet, "/health", nil)
	doRequest(t, s, http.MethodPost, "/predict", ClientRequest{
		Features: map[string]float64{"EXT_SOURCE_2": 1},
		ClientID: "x",
	})

	assert.Equal(t, 1, m.httpRequests["health"])
	assert.Equal(t, 1, m.httpRequests["predict"])
}
