package features

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchema(t *testing.T) {
	s, err := NewSchema([]string{"EXT_SOURCE_2", "EXT_SOURCE_3", "DAYS_BIRTH"})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"EXT_SOURCE_2", "EXT_SOURCE_3", "DAYS_BIRTH"}, s.Names())
}

func TestNewSchemaRejectsDuplicates(t *testing.T) {
	_, err := NewSchema([]string{"A", "B", "A"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestNewSchemaRejectsEmptyName(t *testing.T) {
	_, err := NewSchema([]string{"A", ""})
	require.Error(t, err)
}

func TestVectorizeOrderAndFill(t *testing.T) {
	s, err := NewSchema([]string{"A", "B", "C", "D"})
	require.NoError(t, err)

	vec := s.Vectorize(map[string]float64{"C": 3, "A": 1})
	require.Len(t, vec, 4)
	assert.Equal(t, 1.0, vec[0])
	assert.True(t, math.IsNaN(vec[1]), "missing feature must be NaN-filled")
	assert.Equal(t, 3.0, vec[2])
	assert.True(t, math.IsNaN(vec[3]), "missing feature must be NaN-filled")
}

func TestVectorizeEmptyMapping(t *testing.T) {
	s, err := NewSchema([]string{"A", "B"})
	require.NoError(t, err)

	vec := s.Vectorize(map[string]float64{})
	require.Len(t, vec, 2)
	for i, v := range vec {
		assert.True(t, math.IsNaN(v), "index %d should be NaN", i)
	}
}

func TestVectorizeIgnoresUnknownNames(t *testing.T) {
	s, err := NewSchema([]string{"A"})
	require.NoError(t, err)

	vec := s.Vectorize(map[string]float64{"A": 1, "UNKNOWN": 99})
	require.Len(t, vec, 1)
	assert.Equal(t, 1.0, vec[0])
}

func TestLoadSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feature_names.json")

	names := []string{"EXT_SOURCE_2", "EXT_SOURCE_3", "DAYS_BIRTH", "AMT_CREDIT"}
	data, err := json.Marshal(names)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	s, err := LoadSchema(path)
	require.NoError(t, err)
	assert.Equal(t, names, s.Names())
}

func TestLoadSchemaFailures(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadSchema(filepath.Join(dir, "missing.json"))
		require.Error(t, err)
	})

	t.Run("corrupt JSON", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
		_, err := LoadSchema(path)
		require.Error(t, err)
	})

	t.Run("empty list", func(t *testing.T) {
		path := filepath.Join(dir, "empty.json")
		require.NoError(t, os.WriteFile(path, []byte("[]"), 0o600))
		_, err := LoadSchema(path)
		require.Error(t, err)
	})
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Reason: "client_id is required"}
	assert.Equal(t, "validation error: client_id is required", err.Error())
}
