package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"credit-scoring-api/internal/api"
	"credit-scoring-api/internal/cfg"
	"credit-scoring-api/internal/explain"
	"credit-scoring-api/internal/features"
	"credit-scoring-api/internal/metrics"
	"credit-scoring-api/internal/model"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	// Load the four frozen artifacts. Any failure here is an unrecoverable
	// deployment error: the process must exit before accepting traffic.
	schema, err := features.LoadSchema(c.FeatureNamesPath)
	if err != nil {
		log.Fatal().Err(err).Msg("feature names load failed")
	}

	classifier, err := model.LoadClassifier(c.ModelPath)
	if err != nil {
		log.Fatal().Err(err).Msg("classifier load failed")
	}
	if classifier.NumFeatures() != schema.Len() {
		log.Fatal().
			Int("model_features", classifier.NumFeatures()).
			Int("schema_features", schema.Len()).
			Msg("classifier and feature names disagree on dimensionality")
	}

	threshold, err := model.LoadThreshold(c.ThresholdPath)
	if err != nil {
		log.Fatal().Err(err).Msg("threshold load failed")
	}

	explainer, err := explain.Load(c.ExplainerPath, schema.Names())
	if err != nil {
		log.Fatal().Err(err).Msg("explainer load failed")
	}

	predictor := model.NewPredictor(classifier, threshold, mw)
	server := api.NewServer(c, schema, predictor, explainer, mw)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().
		Int("port", c.Port).
		Int("n_features", schema.Len()).
		Float64("threshold", threshold).
		Msg("scoring API ready")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
