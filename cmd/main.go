package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"speech-session-service/internal/app"
	"speech-session-service/internal/config"
	"speech-session-service/internal/observability/logging"
)

func main() {
	cfg := config.Load()

	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create application")
	}

	log.Info().
		Str("port", cfg.Service.HTTPPort).
		Str("metricsAddr", cfg.Observability.MetricsAddr).
		Str("sttProvider", cfg.STT.Provider).
		Msg("Speech session service starting")

	if err := application.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("speech session service stopped with error")
	}
	log.Info().Msg("Speech session service stopped")
}
