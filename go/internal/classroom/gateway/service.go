// Package gateway exposes the classroom over websockets, REST and RPC.
package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Config holds configuration for the gateway.
type Config struct {
	ConnectionConfig ConnectionConfig
	AllowedOrigins   []string
}

// DefaultConfig returns default configuration for the gateway.
func DefaultConfig() Config {
	origins := []string{"http://localhost:3000", "http://localhost:3001"}
	conn := DefaultConnectionConfig()
	conn.CheckOrigin = OriginChecker(origins)
	return Config{
		ConnectionConfig: conn,
		AllowedOrigins:   origins,
	}
}

// Service owns the connection manager and builds the HTTP surface.
type Service struct {
	config            Config
	clock             clockwork.Clock
	connectionManager *ConnectionManager
}

// NewService creates the gateway. The connection manager is available
// immediately so the coordinator can broadcast through it; routes are built
// later by Handler once the coordinator exists.
func NewService(config Config, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.ConnectionConfig.CheckOrigin == nil {
		config.ConnectionConfig.CheckOrigin = OriginChecker(config.AllowedOrigins)
	}
	return &Service{
		config:            config,
		clock:             clock,
		connectionManager: NewConnectionManager(config.ConnectionConfig, clock),
	}
}

// ConnectionManager returns the broadcaster for the room.
func (s *Service) ConnectionManager() *ConnectionManager {
	return s.connectionManager
}

// Start runs the connection manager until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting classroom gateway")
	s.connectionManager.Start(ctx)
	log.Info().Msg("classroom gateway stopped")
}

// Handler builds the full HTTP handler: websocket, REST and RPC routes
// behind CORS, served over HTTP/1.1 and cleartext HTTP/2.
func (s *Service) Handler(actions ActionHandler, state StateProvider) (http.Handler, error) {
	mux := http.NewServeMux()

	NewWebSocketHandler(s.connectionManager, actions).RegisterRoutes(mux)
	NewStateHandler(state, s.connectionManager, s.clock).RegisterStateRoutes(mux)
	if err := RegisterRPCRoutes(mux, NewClassroomService(state)); err != nil {
		return nil, fmt.Errorf("failed to register rpc routes: %w", err)
	}

	log.Info().Strs("allowed_origins", s.config.AllowedOrigins).Msg("classroom gateway routes registered")

	handler := NewCORS(s.config.AllowedOrigins).Handler(mux)
	return h2c.NewHandler(handler, &http2.Server{}), nil
}
