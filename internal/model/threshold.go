package model

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

type thresholdDoc struct {
	Threshold *float64 `json:"threshold"`
}

// LoadThreshold reads the decision-threshold artifact, a JSON document
// containing at least a numeric "threshold" key. A document without the key
// is treated as corrupt: the threshold is a calibrated business parameter
// and silently defaulting it would change every decision the service makes.
func LoadThreshold(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read threshold %s: %w", path, err)
	}

	var doc thresholdDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("failed to parse threshold %s: %w", path, err)
	}
	if doc.Threshold == nil {
		return 0, fmt.Errorf("threshold %s: missing \"threshold\" key", path)
	}

	t := *doc.Threshold
	if t < 0 || t > 1 {
		return 0, fmt.Errorf("threshold %s: value %v outside [0,1]", path, t)
	}

	log.Info().Float64("threshold", t).Str("threshold_path", path).Msg("decision threshold loaded")
	return t, nil
}
