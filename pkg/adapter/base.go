package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/pkg/models"
)

const (
	// DefaultMaxConnections caps concurrent clients per listener.
	DefaultMaxConnections = 256

	// DefaultShutdownTimeout bounds the graceful drain before connections
	// are force-closed.
	DefaultShutdownTimeout = 30 * time.Second

	// readInterruptGrace is how long blocked readers get before their
	// deadline fires during shutdown.
	readInterruptGrace = 100 * time.Millisecond
)

// ErrNotBound is returned by Serve when Bind has not succeeded first.
var ErrNotBound = errors.New("adapter: listener not bound")

// ConnectionHandler serves one accepted connection. Serve returns when the
// session ends; the transport is closed by the adapter afterwards.
type ConnectionHandler interface {
	Serve(ctx context.Context)
}

// ConnectionFactory builds a handler for each accepted connection.
type ConnectionFactory interface {
	NewConnection(conn net.Conn) ConnectionHandler
}

// MetricsRecorder receives connection lifecycle events. Implementations
// must be safe for concurrent use. A nil recorder disables recording.
type MetricsRecorder interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
	SetActiveConnections(count int32)
}

// BaseConfig tunes the shared transport behavior.
type BaseConfig struct {
	MaxConnections  int
	ShutdownTimeout time.Duration
}

func (c *BaseConfig) applyDefaults() {
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Base carries the TCP lifecycle shared by protocol adapters: socket
// acquisition, an accept loop with a connection cap, per-connection
// goroutines, and two-phase shutdown (graceful drain, then forced
// closure of stragglers).
//
// Protocol adapters embed *Base and call ServeWithFactory from their
// Serve method.
type Base struct {
	listener *models.Listener
	config   BaseConfig
	metrics  MetricsRecorder

	lnMu sync.Mutex
	ln   net.Listener

	// Shutdown is closed when shutdown begins; the accept loop and
	// connection goroutines watch it.
	Shutdown     chan struct{}
	shutdownOnce sync.Once

	// ShutdownCtx is the context handed to connection handlers. It is
	// cancelled once the listener socket is closed so in-flight sessions
	// wind down.
	ShutdownCtx    context.Context
	CancelRequests context.CancelFunc

	connSemaphore chan struct{}
	activeConns   sync.WaitGroup
	activeCount   atomic.Int32
	conns         sync.Map // remote address -> net.Conn
}

// NewBase builds the shared transport for one listener row.
func NewBase(listener *models.Listener, config BaseConfig, metrics MetricsRecorder) *Base {
	config.applyDefaults()
	shutdownCtx, cancel := context.WithCancel(context.Background())
	return &Base{
		listener:       listener,
		config:         config,
		metrics:        metrics,
		Shutdown:       make(chan struct{}),
		ShutdownCtx:    shutdownCtx,
		CancelRequests: cancel,
		connSemaphore:  make(chan struct{}, config.MaxConnections),
	}
}

func (b *Base) ListenerID() string   { return b.listener.ID }
func (b *Base) ListenerName() string { return b.listener.Name }
func (b *Base) Protocol() string     { return string(b.listener.Protocol) }
func (b *Base) Port() int            { return b.listener.Port }

// ActiveConnections reports the number of currently tracked connections.
func (b *Base) ActiveConnections() int32 { return b.activeCount.Load() }

// Bind acquires the TCP socket. It runs synchronously so bind failures
// (port collisions, privileged ports) surface to the caller starting the
// listener rather than to a background goroutine.
func (b *Base) Bind() error {
	b.lnMu.Lock()
	defer b.lnMu.Unlock()

	if b.ln != nil {
		return fmt.Errorf("%s listener %q: already bound", b.Protocol(), b.listener.Name)
	}

	ln, err := net.Listen("tcp", b.listener.Address())
	if err != nil {
		return fmt.Errorf("bind %s listener %q on %s: %w",
			b.Protocol(), b.listener.Name, b.listener.Address(), err)
	}
	b.ln = ln

	logger.Info("listener bound",
		logger.KeyProtocol, b.Protocol(),
		logger.KeyListener, b.listener.Name,
		"address", ln.Addr().String())
	return nil
}

// Addr reports the bound socket address, or nil before Bind. Needed when
// the configured port is 0 and the kernel picked one.
func (b *Base) Addr() net.Addr {
	b.lnMu.Lock()
	defer b.lnMu.Unlock()
	if b.ln == nil {
		return nil
	}
	return b.ln.Addr()
}

// ServeWithFactory runs the accept loop until the context is cancelled or
// the listener fails. Each accepted connection gets its own goroutine and
// a handler from the factory. Returns nil after a clean drain.
func (b *Base) ServeWithFactory(ctx context.Context, factory ConnectionFactory) error {
	b.lnMu.Lock()
	ln := b.ln
	b.lnMu.Unlock()
	if ln == nil {
		return ErrNotBound
	}

	go func() {
		select {
		case <-ctx.Done():
			b.initiateShutdown()
		case <-b.Shutdown:
		}
	}()

	logger.Info("listener serving",
		logger.KeyProtocol, b.Protocol(),
		logger.KeyListener, b.listener.Name,
		"address", ln.Addr().String(),
		"max_connections", b.config.MaxConnections)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-b.Shutdown:
				return b.gracefulShutdown()
			default:
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return fmt.Errorf("accept on %s listener %q: %w", b.Protocol(), b.listener.Name, err)
		}

		select {
		case b.connSemaphore <- struct{}{}:
		default:
			logger.Warn("connection limit reached, rejecting client",
				logger.KeyProtocol, b.Protocol(),
				logger.KeyListener, b.listener.Name,
				"remote_addr", conn.RemoteAddr().String(),
				"max_connections", b.config.MaxConnections)
			conn.Close()
			continue
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
		}

		b.track(conn)
		b.activeConns.Add(1)
		go func(c net.Conn) {
			defer b.release(c)
			factory.NewConnection(c).Serve(b.ShutdownCtx)
		}(conn)
	}
}

func (b *Base) track(c net.Conn) {
	b.conns.Store(c.RemoteAddr().String(), c)
	count := b.activeCount.Add(1)
	if b.metrics != nil {
		b.metrics.RecordConnectionAccepted()
		b.metrics.SetActiveConnections(count)
	}
}

func (b *Base) release(c net.Conn) {
	c.Close()
	b.conns.Delete(c.RemoteAddr().String())
	<-b.connSemaphore
	count := b.activeCount.Add(-1)
	if b.metrics != nil {
		b.metrics.RecordConnectionClosed()
		b.metrics.SetActiveConnections(count)
	}
	b.activeConns.Done()
}

// initiateShutdown closes the listener socket, wakes readers blocked in
// Read, and cancels the handler context. Idempotent.
func (b *Base) initiateShutdown() {
	b.shutdownOnce.Do(func() {
		logger.Info("listener shutting down",
			logger.KeyProtocol, b.Protocol(),
			logger.KeyListener, b.listener.Name,
			"active_connections", b.activeCount.Load())

		close(b.Shutdown)

		b.lnMu.Lock()
		if b.ln != nil {
			b.ln.Close()
		}
		b.lnMu.Unlock()

		b.interruptBlockingReads()
		b.CancelRequests()
	})
}

// interruptBlockingReads sets a near-term read deadline on every tracked
// connection so goroutines parked in Read wake up and observe the
// cancelled context.
func (b *Base) interruptBlockingReads() {
	deadline := time.Now().Add(readInterruptGrace)
	b.conns.Range(func(_, value any) bool {
		if conn, ok := value.(net.Conn); ok {
			conn.SetReadDeadline(deadline)
		}
		return true
	})
}

// gracefulShutdown waits for connection goroutines to finish, force-closing
// whatever remains after the configured timeout.
func (b *Base) gracefulShutdown() error {
	done := make(chan struct{})
	go func() {
		b.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("listener drained",
			logger.KeyProtocol, b.Protocol(),
			logger.KeyListener, b.listener.Name)
		return nil
	case <-time.After(b.config.ShutdownTimeout):
		forced := b.forceCloseConnections()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
		return fmt.Errorf("%s listener %q: force closed %d connections after %s drain timeout",
			b.Protocol(), b.listener.Name, forced, b.config.ShutdownTimeout)
	}
}

func (b *Base) forceCloseConnections() int {
	var forced int
	b.conns.Range(func(_, value any) bool {
		if conn, ok := value.(net.Conn); ok {
			conn.Close()
			forced++
			if b.metrics != nil {
				b.metrics.RecordConnectionForceClosed()
			}
		}
		return true
	})
	if forced > 0 {
		logger.Warn("force closed lingering connections",
			logger.KeyProtocol, b.Protocol(),
			logger.KeyListener, b.listener.Name,
			"count", forced)
	}
	return forced
}

// Stop begins shutdown and waits for the drain to finish or ctx to expire,
// force-closing connections in the latter case.
func (b *Base) Stop(ctx context.Context) error {
	b.initiateShutdown()

	done := make(chan struct{})
	go func() {
		b.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		b.forceCloseConnections()
		return ctx.Err()
	}
}
