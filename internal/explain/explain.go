// Package explain computes per-feature attributions for single predictions
// from the frozen explainer artifact exported by the training pipeline.
//
// The artifact is a JSON dump of the classifier's tree ensemble with
// per-node expected values. Attribution is computed by path decomposition:
// walking a tree with the input vector, each split's contribution is the
// change in expected value between the node and the chosen child, credited
// to the split feature. Summed over all trees this decomposes the raw
// ensemble score exactly; the raw contributions are then rescaled into
// probability space so that base_value plus the contributions reproduces
// the classifier's probability output.
package explain

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/rs/zerolog/log"
)

// ExplanationError indicates the explainer could not be evaluated on the
// given input. It maps to a 5xx response at the API layer.
type ExplanationError struct {
	Reason string
}

func (e *ExplanationError) Error() string {
	return "explanation error: " + e.Reason
}

// node is one node of an exported tree. Feature is -1 on leaves. Value is
// the expected model output over the training distribution reaching the
// node (the leaf output on leaves).
type node struct {
	Feature     int     `json:"feature"`
	Threshold   float64 `json:"threshold"`
	DefaultLeft bool    `json:"default_left"`
	Left        int     `json:"left"`
	Right       int     `json:"right"`
	Value       float64 `json:"value"`
}

type tree struct {
	Nodes []node `json:"nodes"`
}

type artifact struct {
	NumFeatures int     `json:"n_features"`
	BaseValue   float64 `json:"base_value"`
	Trees       []tree  `json:"trees"`
}

// RankedFeature is one entry of a top-contributors list.
type RankedFeature struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
}

// Attribution is the explanation of a single prediction. Contributions are
// in probability space and indexed by the feature ordering of the loaded
// schema; BaseValue + sum(Contributions) equals PredictionValue.
type Attribution struct {
	Contributions []float64
	BaseValue     float64
	// PredictionValue is the probability the explained ensemble assigns to
	// the input; it reproduces the classifier's output when both artifacts
	// were exported from the same model.
	PredictionValue float64
	TopPositive     []RankedFeature
	TopNegative     []RankedFeature
}

// Explainer evaluates the exported ensemble. Read-only after load, safe for
// concurrent use.
type Explainer struct {
	trees        []tree
	baseRaw      float64
	featureNames []string
}

// Load reads and validates the explainer artifact. featureNames is the
// loaded feature ordering; its length must match the artifact's
// dimensionality or the load fails (artifact contract mismatch is a
// deployment error, not something to discover per request).
func Load(path string, featureNames []string) (*Explainer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read explainer %s: %w", path, err)
	}

	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse explainer %s: %w", path, err)
	}

	e, err := newExplainer(a, featureNames)
	if err != nil {
		return nil, fmt.Errorf("explainer %s: %w", path, err)
	}

	log.Info().
		Str("explainer_path", path).
		Int("n_trees", len(e.trees)).
		Int("n_features", len(featureNames)).
		Float64("base_value_raw", e.baseRaw).
		Msg("explainer loaded")

	return e, nil
}

func newExplainer(a artifact, featureNames []string) (*Explainer, error) {
	if a.NumFeatures != len(featureNames) {
		return nil, fmt.Errorf("artifact has %d features, loaded feature names have %d", a.NumFeatures, len(featureNames))
	}
	if len(a.Trees) == 0 {
		return nil, fmt.Errorf("artifact contains no trees")
	}

	rootSum := 0.0
	for ti, tr := range a.Trees {
		if len(tr.Nodes) == 0 {
			return nil, fmt.Errorf("tree %d is empty", ti)
		}
		for ni, n := range tr.Nodes {
			if n.Feature < 0 {
				continue // leaf
			}
			if n.Feature >= a.NumFeatures {
				return nil, fmt.Errorf("tree %d node %d: split feature %d out of range", ti, ni, n.Feature)
			}
			if n.Left < 0 || n.Left >= len(tr.Nodes) || n.Right < 0 || n.Right >= len(tr.Nodes) {
				return nil, fmt.Errorf("tree %d node %d: child index out of range", ti, ni)
			}
		}
		rootSum += tr.Nodes[0].Value
	}

	// The artifact carries the explainer's own base value; the per-tree root
	// expectations must reproduce it or the export is inconsistent. Surface
	// the discrepancy, do not adjust either value.
	if math.Abs(rootSum-a.BaseValue) > 1e-6 {
		log.Warn().
			Float64("artifact_base_value", a.BaseValue).
			Float64("tree_root_sum", rootSum).
			Msg("explainer base value does not match tree root expectations")
	}

	return &Explainer{trees: a.Trees, baseRaw: a.BaseValue, featureNames: featureNames}, nil
}

// Explain computes the attribution for one feature vector. topN limits the
// ranked positive/negative lists.
func (e *Explainer) Explain(vec []float64, topN int) (*Attribution, error) {
	if len(vec) != len(e.featureNames) {
		return nil, &ExplanationError{Reason: fmt.Sprintf("feature vector has %d dimensions, explainer expects %d", len(vec), len(e.featureNames))}
	}

	raw := make([]float64, len(vec))
	margin := e.baseRaw
	for ti := range e.trees {
		if err := e.walk(&e.trees[ti], vec, raw); err != nil {
			return nil, err
		}
	}
	for _, c := range raw {
		margin += c
	}

	// Rescale raw-score contributions into probability space. Distributing
	// the probability delta proportionally to the raw contributions keeps
	// base + sum(contributions) == sigmoid(margin) exact.
	p := sigmoid(margin)
	pBase := sigmoid(e.baseRaw)
	contribs := make([]float64, len(raw))
	if delta := margin - e.baseRaw; math.Abs(delta) > 1e-12 {
		scale := (p - pBase) / delta
		for i, c := range raw {
			contribs[i] = c * scale
		}
	}

	return &Attribution{
		Contributions:   contribs,
		BaseValue:       pBase,
		PredictionValue: p,
		TopPositive:     e.rank(contribs, topN, true),
		TopNegative:     e.rank(contribs, topN, false),
	}, nil
}

// walk traverses one tree, accumulating per-feature value deltas along the
// decision path. NaN inputs take the split's default branch, matching the
// classifier's missing-value routing.
func (e *Explainer) walk(t *tree, vec []float64, contribs []float64) error {
	idx := 0
	for depth := 0; depth <= len(t.Nodes); depth++ {
		n := t.Nodes[idx]
		if n.Feature < 0 {
			return nil
		}

		v := vec[n.Feature]
		var next int
		switch {
		case math.IsNaN(v):
			if n.DefaultLeft {
				next = n.Left
			} else {
				next = n.Right
			}
		case v <= n.Threshold:
			next = n.Left
		default:
			next = n.Right
		}

		contribs[n.Feature] += t.Nodes[next].Value - n.Value
		idx = next
	}
	return &ExplanationError{Reason: "tree traversal did not reach a leaf (cyclic artifact)"}
}

// rank returns the top-N features with strictly positive (or strictly
// negative) contributions, ordered by contribution descending (ascending for
// negatives). Stable with respect to the original feature ordering so ties
// are deterministic.
func (e *Explainer) rank(contribs []float64, topN int, positive bool) []RankedFeature {
	idx := make([]int, 0, len(contribs))
	for i, c := range contribs {
		if (positive && c > 0) || (!positive && c < 0) {
			idx = append(idx, i)
		}
	}

	sort.SliceStable(idx, func(a, b int) bool {
		if positive {
			return contribs[idx[a]] > contribs[idx[b]]
		}
		return contribs[idx[a]] < contribs[idx[b]]
	})

	if len(idx) > topN {
		idx = idx[:topN]
	}

	ranked := make([]RankedFeature, len(idx))
	for i, fi := range idx {
		ranked[i] = RankedFeature{Feature: e.featureNames[fi], Value: contribs[fi]}
	}
	return ranked
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
