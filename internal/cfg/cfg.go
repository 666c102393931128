package cfg

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds the full runtime configuration of the scoring service.
// Artifact paths point at files produced offline by the training pipeline;
// the process never writes to any of them.
type Settings struct {
	ModelPath        string
	ExplainerPath    string
	FeatureNamesPath string
	ThresholdPath    string
	Port             int
	LogLevel         string
	TopN             int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ShutdownTimeout  time.Duration
}

type ConfigFile struct {
	Artifacts struct {
		ModelPath        string `yaml:"modelPath"`
		ExplainerPath    string `yaml:"explainerPath"`
		FeatureNamesPath string `yaml:"featureNamesPath"`
		ThresholdPath    string `yaml:"thresholdPath"`
	} `yaml:"artifacts"`

	Scoring struct {
		TopN int `yaml:"topN"`
	} `yaml:"scoring"`

	System struct {
		Port            int    `yaml:"port"`
		LogLevel        string `yaml:"logLevel"`
		ReadTimeout     string `yaml:"readTimeout"`
		WriteTimeout    string `yaml:"writeTimeout"`
		ShutdownTimeout string `yaml:"shutdownTimeout"`
	} `yaml:"system"`
}

func Load() (Settings, error) {
	// Try to load from YAML file first
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	settings := Settings{
		ModelPath:        getEnvOrDefault("MODEL_PATH", config.Artifacts.ModelPath),
		ExplainerPath:    getEnvOrDefault("EXPLAINER_PATH", config.Artifacts.ExplainerPath),
		FeatureNamesPath: getEnvOrDefault("FEATURE_NAMES_PATH", config.Artifacts.FeatureNamesPath),
		ThresholdPath:    getEnvOrDefault("THRESHOLD_PATH", config.Artifacts.ThresholdPath),
		Port:             getIntFromEnvOrConfig("PORT", config.System.Port, 8080),
		LogLevel:         getEnvOrDefault("LOG_LEVEL", config.System.LogLevel),
		TopN:             getIntFromEnvOrConfig("TOP_N_FEATURES", config.Scoring.TopN, 10),
		ReadTimeout:      parseDurationOrDefault(config.System.ReadTimeout, 10*time.Second),
		WriteTimeout:     parseDurationOrDefault(config.System.WriteTimeout, 10*time.Second),
		ShutdownTimeout:  parseDurationOrDefault(config.System.ShutdownTimeout, 15*time.Second),
	}
	applyDefaults(&settings)

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		ModelPath:        getEnvOrDefault("MODEL_PATH", "artifacts/model.txt"),
		ExplainerPath:    getEnvOrDefault("EXPLAINER_PATH", "artifacts/explainer.json"),
		FeatureNamesPath: getEnvOrDefault("FEATURE_NAMES_PATH", "artifacts/feature_names.json"),
		ThresholdPath:    getEnvOrDefault("THRESHOLD_PATH", "artifacts/optimal_threshold.json"),
		Port:             getIntOrDefault("PORT", 8080),
		LogLevel:         getEnvOrDefault("LOG_LEVEL", "info"),
		TopN:             getIntOrDefault("TOP_N_FEATURES", 10),
		ReadTimeout:      getDurationOrDefault("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:     getDurationOrDefault("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout:  getDurationOrDefault("SHUTDOWN_TIMEOUT", 15*time.Second),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func applyDefaults(s *Settings) {
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.ModelPath == "" {
		s.ModelPath = "artifacts/model.txt"
	}
	if s.ExplainerPath == "" {
		s.ExplainerPath = "artifacts/explainer.json"
	}
	if s.FeatureNamesPath == "" {
		s.FeatureNamesPath = "artifacts/feature_names.json"
	}
	if s.ThresholdPath == "" {
		s.ThresholdPath = "artifacts/optimal_threshold.json"
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func parseDurationOrDefault(v string, defaultValue time.Duration) time.Duration {
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

// validateSettings performs validation of configuration values before any
// artifact is touched, so a bad deployment fails with a config error rather
// than a confusing load error.
func validateSettings(settings *Settings) error {
	if settings.ModelPath == "" {
		return fmt.Errorf("model path cannot be empty")
	}
	if settings.ExplainerPath == "" {
		return fmt.Errorf("explainer path cannot be empty")
	}
	if settings.FeatureNamesPath == "" {
		return fmt.Errorf("feature names path cannot be empty")
	}
	if settings.ThresholdPath == "" {
		return fmt.Errorf("threshold path cannot be empty")
	}
	if settings.Port < 1 || settings.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", settings.Port)
	}
	if settings.TopN <= 0 || settings.TopN > 1000 {
		return fmt.Errorf("top N features must be between 1 and 1000, got %d", settings.TopN)
	}
	if settings.ReadTimeout < time.Second || settings.ReadTimeout > time.Minute {
		return fmt.Errorf("read timeout must be between 1s and 1m, got %v", settings.ReadTimeout)
	}
	if settings.WriteTimeout < time.Second || settings.WriteTimeout > time.Minute {
		return fmt.Errorf("write timeout must be between 1s and 1m, got %v", settings.WriteTimeout)
	}
	return nil
}
