// Package api provides the HTTP REST API for LoxBridge.
//
// It exposes the Miniserver control registry, cached and live state
// reads, command dispatch, and local state history to dashboards and
// integrations that prefer HTTP over MQTT.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Control UUIDs may contain a slash (flattened subcontrols), so routes
// that address a single control use a trailing wildcard rather than a
// path parameter.
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/loxbridge/loxbridge/internal/history"
	"github.com/loxbridge/loxbridge/internal/infrastructure/config"
	"github.com/loxbridge/loxbridge/internal/infrastructure/logging"
	"github.com/loxbridge/loxbridge/internal/loxone"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ControlService is the Miniserver surface the API depends on.
// Implemented by *loxone.Client; narrowed here for testability.
type ControlService interface {
	Controls() map[string]*loxone.Control
	GetControl(uuid string) *loxone.Control
	GetState(uuid string) any
	UpdateState(ctx context.Context, uuid string) any
	SendCommand(ctx context.Context, uuid, command string, value any) error
	RefreshStructure(ctx context.Context) error
}

// HistoryReader provides read access to the local state event log.
// Implemented by *history.Store; may be nil when history is disabled.
type HistoryReader interface {
	Recent(ctx context.Context, controlUUID string, limit int) ([]history.Entry, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Logger     *logging.Logger
	Miniserver ControlService
	History    HistoryReader // optional
	Version    string
}

// Server is the HTTP API server for LoxBridge.
//
// It manages the HTTP listener, routes, and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	miniserver ControlService
	history    HistoryReader
	version    string
	server     *http.Server
}

// New creates a new API server with the given dependencies.
// The server does not listen until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Miniserver == nil {
		return nil, fmt.Errorf("miniserver client is required")
	}

	return &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		miniserver: deps.Miniserver,
		history:    deps.History,
		version:    deps.Version,
	}, nil
}

// Start begins listening for HTTP connections in a background
// goroutine. The server is stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds
// for in-flight requests to complete.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
