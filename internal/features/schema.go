// Package features maps client feature payloads onto the fixed feature
// ordering the frozen model was trained with.
package features

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// ValidationError indicates a client-supplied payload that cannot be turned
// into a feature vector. It maps to a 4xx response at the API layer.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Reason
}

// Schema is the immutable feature layout of the loaded model: the ordered
// feature-name list plus a name-to-index table built once at load time.
// Safe for concurrent use; never mutated after construction.
type Schema struct {
	names []string
	index map[string]int
}

// LoadSchema reads the feature-name artifact, a JSON array of strings whose
// order fixes the model's input layout.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feature names %s: %w", path, err)
	}

	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("failed to parse feature names %s: %w", path, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("feature names %s: empty list", path)
	}

	return NewSchema(names)
}

// NewSchema builds a schema from an ordered name list.
func NewSchema(names []string) (*Schema, error) {
	index := make(map[string]int, len(names))
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("feature %d has an empty name", i)
		}
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("duplicate feature name %q", name)
		}
		index[name] = i
	}
	return &Schema{names: names, index: index}, nil
}

// Names returns the ordered feature names. Callers must not modify it.
func (s *Schema) Names() []string {
	return s.names
}

// Len returns the model's input dimensionality.
func (s *Schema) Len() int {
	return len(s.names)
}

// Vectorize aligns a name-to-value mapping onto the schema ordering.
// Features absent from the input are filled with NaN, the fill policy of
// this service: NaN is LightGBM's missing-value marker, so the frozen model
// routes it through each split's trained default branch instead of treating
// the feature as observed at some arbitrary number. Names not present in
// the schema are ignored. An empty mapping is valid and yields an all-NaN
// vector.
func (s *Schema) Vectorize(values map[string]float64) []float64 {
	vec := make([]float64, len(s.names))
	for i := range vec {
		vec[i] = math.NaN()
	}
	for name, v := range values {
		if i, ok := s.index[name]; ok {
			vec[i] = v
		}
	}
	return vec
}
