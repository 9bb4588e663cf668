package relay

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Service is the relay server: stateless fan-out of ephemeral events
// within match rooms.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
}

// NewService creates a new relay service.
func NewService(config ConnectionConfig) *Service {
	connectionManager := NewConnectionManager(config)
	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
	}
}

// Start runs the broadcast loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting relay service")

	go s.connectionManager.Start(ctx)

	<-ctx.Done()
	log.Info().Msg("relay service shutting down")
	return nil
}

// RegisterRoutes registers the WebSocket HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("relay routes registered")
}
