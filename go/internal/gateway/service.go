package gateway

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Service is the session gateway: websocket fan-out of live session snapshots
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
}

type Config struct {
	ConnectionConfig ConnectionConfig
	Clock            clockwork.Clock
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

func NewService(config Config, subscriber SessionSubscriber) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig, subscriber, config.Clock)
	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
	}
}

// Start runs the broadcast loop until ctx is cancelled
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting session gateway")
	s.connectionManager.Start(ctx)
	log.Info().Msg("session gateway stopped")
}

func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("session gateway routes registered")
}

func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}
