// Package supervisor manages the set of protocol listeners: lifecycle
// (start, stop, restart), the cross-listener session registry, and the
// activity pipeline persisting audit records and fanning them out to
// subscribers.
//
// The process bootstrap constructs Store -> Supervisor -> listeners and
// passes handles down; there is no ambient global.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/pkg/adapter"
	ftpadapter "github.com/wharfd/wharfd/pkg/adapter/ftp"
	sftpadapter "github.com/wharfd/wharfd/pkg/adapter/sftp"
	"github.com/wharfd/wharfd/pkg/authz"
	"github.com/wharfd/wharfd/pkg/models"
)

var (
	// ErrAlreadyRunning is returned when starting a listener that runs.
	ErrAlreadyRunning = errors.New("listener already running")

	// ErrNotRunning is returned when stopping a listener that does not run.
	ErrNotRunning = errors.New("listener not running")

	// ErrListenerDisabled is returned when starting a disabled listener.
	ErrListenerDisabled = errors.New("listener is disabled")
)

// serveExitGrace bounds the wait for a listener's serve loop to return
// after its adapter reported stopped.
const serveExitGrace = 5 * time.Second

// Store is the slice of the persistence layer the supervisor and the
// listeners it builds read from. LogActivity must not block; the GORM
// store queues writes behind a bounded buffer.
type Store interface {
	GetListener(ctx context.Context, id string) (*models.Listener, error)
	ListListeners(ctx context.Context) ([]*models.Listener, error)
	LogActivity(record *models.ActivityRecord)

	adapter.AuthStore
	authz.Store
}

// Config tunes the supervisor and every listener it builds.
type Config struct {
	// HostKeys are presented by SFTP listeners. Starting an SFTP listener
	// with no host keys fails.
	HostKeys []ssh.Signer

	// IdleTimeout force-closes sessions with no requests. Zero disables.
	IdleTimeout time.Duration

	// MaxConnections caps concurrent connections per listener.
	MaxConnections int

	// ShutdownTimeout bounds the graceful drain when stopping a listener.
	ShutdownTimeout time.Duration

	// FTPPublicIP is the address advertised in FTP passive-mode replies.
	// Empty falls back to the listener's binding address.
	FTPPublicIP string

	// FTPPassivePorts is the passive-mode port range, e.g. "50000-50100".
	FTPPassivePorts string
}

// Supervisor owns the listener table, the session registry, and the
// activity broadcaster. All methods are safe for concurrent use.
type Supervisor struct {
	store      Store
	config     Config
	metrics    *Metrics
	authorizer *authz.Authorizer

	mu      sync.RWMutex
	entries map[string]*listenerEntry // listener ID -> running listener

	sessMu   sync.RWMutex
	sessions map[string]*session // session ID -> live session

	subMu       sync.RWMutex
	subscribers map[uint64]*subscriber
	nextSubID   uint64
}

var (
	_ adapter.SessionRegistry = (*Supervisor)(nil)
	_ adapter.ActivitySink    = (*Supervisor)(nil)
)

// listenerEntry is one running listener.
type listenerEntry struct {
	adapter adapter.Adapter
	cancel  context.CancelFunc
	errCh   chan error
}

// New builds a supervisor over the store. A nil metrics value disables
// collection.
func New(st Store, cfg Config, metrics *Metrics) *Supervisor {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = adapter.DefaultShutdownTimeout
	}
	return &Supervisor{
		store:       st,
		config:      cfg,
		metrics:     metrics,
		authorizer:  authz.New(st),
		entries:     make(map[string]*listenerEntry),
		sessions:    make(map[string]*session),
		subscribers: make(map[uint64]*subscriber),
	}
}

// StartAllEnabled starts every enabled listener. A listener that fails to
// start is logged and skipped; the rest still come up. The returned error
// reports only a failure to enumerate listeners.
func (s *Supervisor) StartAllEnabled(ctx context.Context) error {
	listeners, err := s.store.ListListeners(ctx)
	if err != nil {
		return fmt.Errorf("list listeners: %w", err)
	}

	var started int
	for _, l := range listeners {
		if !l.Enabled {
			logger.Debug("listener disabled, skipping",
				logger.KeyListener, l.Name,
				logger.KeyProtocol, string(l.Protocol))
			continue
		}
		if err := s.StartListener(ctx, l.ID); err != nil {
			logger.Error("failed to start listener",
				logger.KeyListener, l.Name,
				logger.KeyProtocol, string(l.Protocol),
				logger.KeyPort, l.Port,
				logger.KeyError, err.Error())
			continue
		}
		started++
	}

	logger.Info("listeners started", logger.KeyCount, started, "configured", len(listeners))
	return nil
}

// StartListener loads the listener row and brings it up: build the
// protocol adapter, bind the socket synchronously, then serve in the
// background. Disabled rows are refused.
func (s *Supervisor) StartListener(ctx context.Context, id string) error {
	listener, err := s.store.GetListener(ctx, id)
	if err != nil {
		return err
	}
	if !listener.Enabled {
		return fmt.Errorf("listener %q: %w", listener.Name, ErrListenerDisabled)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; exists {
		return fmt.Errorf("listener %q: %w", listener.Name, ErrAlreadyRunning)
	}

	adp, err := s.buildAdapter(listener)
	if err != nil {
		return err
	}
	if err := adp.Bind(); err != nil {
		return err
	}

	serveCtx, cancel := context.WithCancel(context.Background())
	entry := &listenerEntry{adapter: adp, cancel: cancel, errCh: make(chan error, 1)}
	s.entries[id] = entry

	go s.serve(serveCtx, id, entry)

	s.metrics.SetListenerUp(listener.Name, true)
	logger.Info("listener started",
		logger.KeyListener, listener.Name,
		logger.KeyProtocol, adp.Protocol(),
		logger.KeyPort, adp.Port())
	return nil
}

// serve runs one listener's accept loop. When the loop exits without
// StopListener having removed the entry, the listener died on its own and
// is reaped here.
func (s *Supervisor) serve(ctx context.Context, id string, entry *listenerEntry) {
	err := entry.adapter.Serve(ctx)
	entry.errCh <- err

	s.mu.Lock()
	died := s.entries[id] == entry
	if died {
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if !died {
		return
	}
	s.metrics.SetListenerUp(entry.adapter.ListenerName(), false)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("listener failed",
			logger.KeyListener, entry.adapter.ListenerName(),
			logger.KeyProtocol, entry.adapter.Protocol(),
			logger.KeyError, err.Error())
	}
}

// StopListener drains and stops a running listener. The drain is bounded
// by the configured shutdown timeout; connections still open afterwards
// are force-closed. A forced stop is logged, not an error.
func (s *Supervisor) StopListener(id string) error {
	s.mu.Lock()
	entry, exists := s.entries[id]
	if !exists {
		s.mu.Unlock()
		return ErrNotRunning
	}
	delete(s.entries, id)
	s.mu.Unlock()

	name := entry.adapter.ListenerName()
	logger.Info("stopping listener",
		logger.KeyListener, name,
		logger.KeyProtocol, entry.adapter.Protocol(),
		"active_connections", entry.adapter.ActiveConnections())

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := entry.adapter.Stop(ctx); err != nil {
		logger.Warn("listener stop forced",
			logger.KeyListener, name,
			logger.KeyError, err.Error())
	}
	entry.cancel()

	select {
	case err := <-entry.errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("listener exited with error",
				logger.KeyListener, name,
				logger.KeyError, err.Error())
		}
	case <-time.After(serveExitGrace):
		s.metrics.SetListenerUp(name, false)
		return fmt.Errorf("listener %q: serve loop did not exit", name)
	}

	s.metrics.SetListenerUp(name, false)
	logger.Info("listener stopped", logger.KeyListener, name)
	return nil
}

// RestartListener stops the listener if running and starts it again from
// its current store row. Useful after editing the row.
func (s *Supervisor) RestartListener(ctx context.Context, id string) error {
	if err := s.StopListener(id); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return s.StartListener(ctx, id)
}

// IsRunning reports whether the listener is currently serving.
func (s *Supervisor) IsRunning(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.entries[id]
	return exists
}

// RunningListeners returns the names of running listeners, sorted. The
// readiness probe embeds them in its payload.
func (s *Supervisor) RunningListeners() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.entries))
	for _, entry := range s.entries {
		names = append(names, entry.adapter.ListenerName())
	}
	s.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Shutdown stops all listeners in parallel and tears down the activity
// subscribers. It returns the first stop error, or ctx's error if the
// deadline expires first.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	logger.Info("supervisor shutting down", "listeners", len(ids))

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			err := s.StopListener(id)
			if err == nil || errors.Is(err, ErrNotRunning) {
				return
			}
			errMu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			errMu.Unlock()
		}(id)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Subscribers stop after the last adapter emitted its final activity.
	s.subMu.Lock()
	subs := make([]*subscriber, 0, len(s.subscribers))
	for id, sub := range s.subscribers {
		subs = append(subs, sub)
		delete(s.subscribers, id)
	}
	s.subMu.Unlock()
	for _, sub := range subs {
		sub.stop()
	}

	logger.Info("supervisor stopped")
	return firstErr
}

// buildAdapter constructs the protocol adapter for one listener row. The
// supervisor itself serves as session registry and activity sink.
func (s *Supervisor) buildAdapter(listener *models.Listener) (adapter.Adapter, error) {
	auth := adapter.NewAuthenticator(s.store, s, listener)

	switch listener.Protocol {
	case models.ProtocolSFTP:
		return sftpadapter.New(listener, sftpadapter.Deps{
			Authorizer:     s.authorizer,
			Auth:           auth,
			Registry:       s,
			Activities:     s,
			Metrics:        s.metrics.ConnectionRecorder(listener.Name),
			RequestMetrics: s.metrics,
		}, sftpadapter.Config{
			HostKeys:        s.config.HostKeys,
			IdleTimeout:     s.config.IdleTimeout,
			MaxConnections:  s.config.MaxConnections,
			ShutdownTimeout: s.config.ShutdownTimeout,
		})
	case models.ProtocolFTP:
		return ftpadapter.New(listener, ftpadapter.Deps{
			Authorizer:     s.authorizer,
			Auth:           auth,
			Registry:       s,
			Activities:     s,
			Metrics:        s.metrics.ConnectionRecorder(listener.Name),
			RequestMetrics: s.metrics,
		}, ftpadapter.Config{
			PublicIP:        s.config.FTPPublicIP,
			PassivePorts:    s.config.FTPPassivePorts,
			MaxConnections:  s.config.MaxConnections,
			ShutdownTimeout: s.config.ShutdownTimeout,
		})
	default:
		return nil, fmt.Errorf("listener %q: unsupported protocol %q", listener.Name, listener.Protocol)
	}
}
