// Package ops provides the operational HTTP endpoint.
//
// The endpoint is optional (disabled by default) and serves:
//   - GET /healthz: Liveness probe
//   - GET /readyz: Readiness probe (database reachability, running listeners)
//   - GET /metrics: Prometheus metrics
//   - GET /sessions, DELETE /sessions/{id}: session inspection and force-disconnect
//   - GET /listeners/{id}, POST /listeners/{id}/{start,stop,restart}: listener control
package ops

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/pkg/adapter"
)

// Checker reports on a dependency consulted by the readiness probe.
type Checker interface {
	Healthcheck(ctx context.Context) error
}

// ListenerLister reports the names of currently running listeners.
type ListenerLister interface {
	RunningListeners() []string
}

// Controller is the supervisor surface behind the session and listener
// control routes. A nil Controller leaves those routes unmounted.
type Controller interface {
	ListenerLister

	IsRunning(id string) bool
	StartListener(ctx context.Context, id string) error
	StopListener(id string) error
	RestartListener(ctx context.Context, id string) error

	ActiveSessions() []adapter.SessionInfo
	DisconnectSession(sessionID string) bool
}

// Config configures the ops HTTP server.
type Config struct {
	// ListenAddress is the host:port to bind to.
	ListenAddress string

	// ReadTimeout bounds request header+body reads. Default 10s.
	ReadTimeout time.Duration

	// WriteTimeout bounds response writes. Default 10s.
	WriteTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = "127.0.0.1:9620"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// Server provides the operational HTTP endpoint.
//
// The server supports graceful shutdown with configurable timeout.
type Server struct {
	server       *http.Server
	config       Config
	shutdownOnce sync.Once
}

// NewServer creates a new ops HTTP server.
//
// The server is created in a stopped state. Call Start() to begin serving.
//
// Parameters:
//   - config: server configuration (address, timeouts)
//   - store: consulted by the readiness probe (may be nil)
//   - control: backs the readiness payload and the session/listener control
//     routes (nil serves probes and metrics only)
//   - gatherer: Prometheus gatherer backing /metrics (nil uses the default)
func NewServer(config Config, store Checker, control Controller, gatherer prometheus.Gatherer) *Server {
	config.applyDefaults()

	router := newRouter(store, control, gatherer)

	server := &http.Server{
		Addr:         config.ListenAddress,
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		server: server,
		config: config,
	}
}

// Start starts the ops HTTP server and blocks until the context is cancelled
// or an error occurs.
//
// When the context is cancelled, Start initiates graceful shutdown and returns.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("ops endpoint listening", "address", s.config.ListenAddress)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
				// Context was cancelled, error is not needed
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("ops endpoint shutdown signal received")
		// Don't use the cancelled ctx as it would abort shutdown immediately
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("ops endpoint failed: %w", err)
	}
}

// Stop initiates graceful shutdown of the ops server.
//
// Stop is safe to call multiple times and safe to call concurrently with Start().
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.server.Shutdown(ctx)
	})
	return err
}
