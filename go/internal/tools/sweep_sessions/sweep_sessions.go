package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mcdev12/pointing/go/internal/docstore/backend"
	"github.com/mcdev12/pointing/go/internal/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// sweep_sessions deletes every expired session once and exits. Run it from
// cron when the server's periodic sweep is disabled.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := backend.Config{Backend: backend.Postgres}
	cfg.ApplyEnv()

	store, closeStore, err := backend.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Backend).Msg("failed to open session store")
	}
	defer closeStore()

	collection := os.Getenv("SESSION_COLLECTION")
	app := session.NewApp(session.NewRepository(store, collection))

	deleted, err := app.CleanupExpiredSessions(ctx)
	log.Info().Int("deleted", deleted).Str("backend", cfg.Backend).Msg("sweep finished")
	if err != nil {
		log.Error().Err(err).Msg("some sessions could not be deleted")
		closeStore()
		os.Exit(1)
	}
}
