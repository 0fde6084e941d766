package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Sweeper runs CleanupExpiredSessions on a fixed interval. It is only started
// when an interval is configured.
type Sweeper struct {
	app      *App
	clock    clockwork.Clock
	interval time.Duration
	id       string
}

// NewSweeper creates a sweeper that uses the app's clock
func NewSweeper(app *App, interval time.Duration) *Sweeper {
	return &Sweeper{
		app:      app,
		clock:    app.Clock(),
		interval: interval,
		id:       uuid.New().String(),
	}
}

// Run sweeps every interval until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		log.Info().Msg("session sweeper disabled")
		return
	}

	log.Info().
		Str("sweeper_id", s.id).
		Dur("interval", s.interval).
		Msg("session sweeper started")

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("sweeper_id", s.id).Msg("session sweeper shutting down")
			return
		case <-ticker.Chan():
			if _, err := s.app.CleanupExpiredSessions(ctx); err != nil {
				log.Error().Err(err).Str("sweeper_id", s.id).Msg("session sweep failed")
			}
		}
	}
}
