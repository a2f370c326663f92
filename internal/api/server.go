package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/homeflow/internal/anomaly"
	"github.com/nerrad567/homeflow/internal/audit"
	"github.com/nerrad567/homeflow/internal/auth"
	"github.com/nerrad567/homeflow/internal/automation"
	"github.com/nerrad567/homeflow/internal/device"
	"github.com/nerrad567/homeflow/internal/events"
	"github.com/nerrad567/homeflow/internal/infrastructure/config"
	"github.com/nerrad567/homeflow/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ConnectionStatus reports whether an optional backend is connected.
type ConnectionStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Devices  *device.Store
	History  device.StateHistoryRepository // optional
	Engine   *automation.Engine
	Detector *anomaly.Detector
	Bus      *events.Bus
	Guardian *auth.Guardian   // optional: without it the guardian header is rejected
	Audit    audit.Repository // optional: without it /audit answers 503
	MQTT     ConnectionStatus // optional
	DB       *sql.DB          // optional: pool stats in /metrics
	Version  string
}

// Server is the HTTP API server for Homeflow.
//
// It manages the HTTP listener, routes, middleware, and the WebSocket hub
// that relays bus events. The server is created with New() and started with
// Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	devices   *device.Store
	history   device.StateHistoryRepository
	engine    *automation.Engine
	detector  *anomaly.Detector
	bus       *events.Bus
	guardian  *auth.Guardian
	audit     audit.Repository
	mqtt      ConnectionStatus
	db        *sql.DB
	version   string
	startTime time.Time

	server *http.Server
	hub    *Hub
	relay  *events.Subscription
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, device store, engine, detector, bus)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device store is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("automation engine is required")
	}
	if deps.Detector == nil {
		return nil, fmt.Errorf("anomaly detector is required")
	}
	if deps.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		devices:   deps.Devices,
		history:   deps.History,
		engine:    deps.Engine,
		detector:  deps.Detector,
		bus:       deps.Bus,
		guardian:  deps.Guardian,
		audit:     deps.Audit,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes the hub to every bus topic, and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.relay = s.bus.Subscribe("websocket-relay", s.relayEvent, "*")

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.relay != nil {
		s.relay.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
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

// relayEvent forwards one bus event to WebSocket clients subscribed to its
// topic.
func (s *Server) relayEvent(ev events.Event) {
	s.hub.Broadcast(ev.Topic, ev.Payload)
}
