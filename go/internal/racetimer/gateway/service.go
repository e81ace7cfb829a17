package gateway

import (
	"context"
	"net/http"

	"github.com/mcdev12/roadbook/go/internal/racetimer"
	"github.com/rs/zerolog/log"
)

// Service is the race timer gateway: WebSocket push of tick events plus the
// REST command surface
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	commandHandler    *CommandHandler
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a new gateway service around the engine
func NewService(config Config, engine TimerEngine) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig, engine)

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
		commandHandler:    NewCommandHandler(engine),
	}
}

// Start runs the broadcast loop until ctx is cancelled
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting race timer gateway")
	s.connectionManager.Start(ctx)
	log.Info().Msg("race timer gateway stopped")
}

// Publisher returns the sink the ticker should publish to
func (s *Service) Publisher() racetimer.Publisher {
	return s.connectionManager
}

// RegisterRoutes registers the WebSocket and command HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.commandHandler.RegisterCommandRoutes(mux)
	log.Info().Msg("race timer gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}
