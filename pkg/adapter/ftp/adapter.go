// Package ftp serves the FTP protocol for one listener on top of
// goftp.io/server, mapping driver calls to authorized filesystem
// operations.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	ftp "goftp.io/server/core"

	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/pkg/adapter"
	"github.com/wharfd/wharfd/pkg/authz"
	"github.com/wharfd/wharfd/pkg/models"
)

const serverName = "wharfd"

// Config tunes one FTP listener.
type Config struct {
	// PublicIP is the address advertised in PASV replies. Defaults to the
	// listener's binding IP.
	PublicIP string
	// PassivePorts restricts the passive data ports, formatted "min-max".
	// Empty lets the kernel pick.
	PassivePorts    string
	MaxConnections  int
	ShutdownTimeout time.Duration
}

// TransferMetrics observes driver operation service time and transfer
// volume. A nil recorder disables collection.
type TransferMetrics interface {
	ObserveRequest(requestType string, d time.Duration)
	AddBytesRead(n int64)
	AddBytesWritten(n int64)
}

// Deps are the collaborators an FTP listener needs.
type Deps struct {
	Authorizer *authz.Authorizer
	Auth       *adapter.Authenticator
	Registry   adapter.SessionRegistry
	Activities adapter.ActivitySink
	Metrics    adapter.MetricsRecorder
	// RequestMetrics feeds per-operation observations.
	RequestMetrics TransferMetrics
}

// Adapter serves one FTP listener. It implements adapter.Adapter.
//
// Unlike the SFTP adapter it cannot run on adapter.Base: the FTP server
// library owns the accept loop. The adapter wraps the bound listener and
// each accepted connection instead, which keeps the connection cap,
// accounting, and session registry behavior identical across protocols.
type Adapter struct {
	listener        *models.Listener
	config          Config
	authorizer      *authz.Authorizer
	auth            *adapter.Authenticator
	registry        adapter.SessionRegistry
	activities      adapter.ActivitySink
	metrics         adapter.MetricsRecorder
	transferMetrics TransferMetrics

	srv *ftp.Server

	lnMu sync.Mutex
	ln   net.Listener

	shutdownOnce sync.Once
	shutdown     chan struct{}
	shutdownCtx  context.Context
	cancel       context.CancelFunc

	semaphore chan struct{}
	wg        sync.WaitGroup
	active    atomic.Int32

	connMu  sync.Mutex
	conns   map[*ftpConn]struct{}
	pending *ftpConn
}

// New builds the adapter for one listener row.
func New(listener *models.Listener, deps Deps, cfg Config) (*Adapter, error) {
	if deps.Authorizer == nil {
		return nil, errors.New("ftp: authorizer is required")
	}
	if deps.Auth == nil {
		return nil, errors.New("ftp: authenticator is required")
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = adapter.DefaultMaxConnections
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = adapter.DefaultShutdownTimeout
	}
	publicIP := cfg.PublicIP
	if publicIP == "" {
		publicIP = listener.BindingIP
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		listener:        listener,
		config:          cfg,
		authorizer:      deps.Authorizer,
		auth:            deps.Auth,
		registry:        deps.Registry,
		activities:      deps.Activities,
		metrics:         deps.Metrics,
		transferMetrics: deps.RequestMetrics,
		shutdown:        make(chan struct{}),
		shutdownCtx:     ctx,
		cancel:          cancel,
		semaphore:       make(chan struct{}, cfg.MaxConnections),
		conns:           make(map[*ftpConn]struct{}),
	}

	a.srv = ftp.NewServer(&ftp.ServerOpts{
		Name:           serverName,
		WelcomeMessage: "wharfd FTP service ready",
		Factory:        &driverFactory{adapter: a},
		Auth:           rejectAuth{},
		Hostname:       listener.BindingIP,
		Port:           listener.Port,
		PublicIP:       publicIP,
		PassivePorts:   cfg.PassivePorts,
		Logger:         newServerLogger(listener.Name),
	})
	return a, nil
}

// Bind opens the control socket. It is separate from Serve so callers see
// bind failures synchronously.
func (a *Adapter) Bind() error {
	a.lnMu.Lock()
	defer a.lnMu.Unlock()
	if a.ln != nil {
		return fmt.Errorf("FTP listener %q: already bound", a.listener.Name)
	}
	ln, err := net.Listen("tcp", a.listener.Address())
	if err != nil {
		return fmt.Errorf("bind FTP listener %q on %s: %w", a.listener.Name, a.listener.Address(), err)
	}
	a.ln = ln
	logger.Info("listener bound",
		logger.KeyProtocol, models.ProtocolFTP,
		logger.KeyListener, a.listener.Name,
		"address", ln.Addr().String())
	return nil
}

// Addr reports the bound address, nil before Bind. With port 0 the
// kernel-assigned port is only known here.
func (a *Adapter) Addr() net.Addr {
	a.lnMu.Lock()
	defer a.lnMu.Unlock()
	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

// Serve runs the FTP server until ctx is canceled or Stop is called, then
// drains active control connections.
func (a *Adapter) Serve(ctx context.Context) error {
	a.lnMu.Lock()
	ln := a.ln
	a.lnMu.Unlock()
	if ln == nil {
		return adapter.ErrNotBound
	}

	go func() {
		select {
		case <-ctx.Done():
			a.initiateShutdown()
		case <-a.shutdown:
		}
	}()

	logger.Info("listener serving",
		logger.KeyProtocol, models.ProtocolFTP,
		logger.KeyListener, a.listener.Name,
		"address", ln.Addr().String(),
		"max_connections", a.config.MaxConnections)

	err := a.srv.Serve(&ftpListener{Listener: ln, adapter: a})
	if err != nil && !errors.Is(err, ftp.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("serve FTP listener %q: %w", a.listener.Name, err)
	}
	return a.drain(a.config.ShutdownTimeout)
}

// Stop initiates shutdown and waits for connections to drain or ctx to
// expire, whichever comes first.
func (a *Adapter) Stop(ctx context.Context) error {
	a.initiateShutdown()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		a.forceCloseConnections()
		return ctx.Err()
	}
}

func (a *Adapter) initiateShutdown() {
	a.shutdownOnce.Do(func() {
		logger.Info("listener shutting down",
			logger.KeyProtocol, models.ProtocolFTP,
			logger.KeyListener, a.listener.Name,
			"active_connections", a.active.Load())
		close(a.shutdown)
		if err := a.srv.Shutdown(); err != nil {
			logger.Debug("ftp server shutdown", logger.KeyError, err.Error())
		}
		a.lnMu.Lock()
		if a.ln != nil {
			a.ln.Close()
		}
		a.lnMu.Unlock()
		a.interruptBlockingReads()
		a.cancel()
	})
}

// interruptBlockingReads wakes control connections parked in a command
// read so they notice shutdown instead of blocking the drain.
func (a *Adapter) interruptBlockingReads() {
	deadline := time.Now().Add(100 * time.Millisecond)
	a.connMu.Lock()
	defer a.connMu.Unlock()
	for c := range a.conns {
		c.SetReadDeadline(deadline)
	}
}

func (a *Adapter) forceCloseConnections() int {
	a.connMu.Lock()
	open := make([]*ftpConn, 0, len(a.conns))
	for c := range a.conns {
		open = append(open, c)
	}
	a.connMu.Unlock()

	for _, c := range open {
		c.Close()
	}
	if len(open) > 0 {
		logger.Warn("force closed connections",
			logger.KeyProtocol, models.ProtocolFTP,
			logger.KeyListener, a.listener.Name,
			logger.KeyCount, len(open))
	}
	return len(open)
}

func (a *Adapter) drain(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("listener drained",
			logger.KeyProtocol, models.ProtocolFTP,
			logger.KeyListener, a.listener.Name)
		return nil
	case <-time.After(timeout):
		forced := a.forceCloseConnections()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
		return fmt.Errorf("FTP listener %q: force closed %d connections after %s drain timeout", a.listener.Name, forced, timeout)
	}
}

// ListenerID returns the persisted listener ID.
func (a *Adapter) ListenerID() string { return a.listener.ID }

// ListenerName returns the configured listener name.
func (a *Adapter) ListenerName() string { return a.listener.Name }

// Protocol returns models.ProtocolFTP.
func (a *Adapter) Protocol() string { return string(a.listener.Protocol) }

// Port returns the configured port, which may be 0 before Bind.
func (a *Adapter) Port() int { return a.listener.Port }

// ActiveConnections reports the number of live control connections.
func (a *Adapter) ActiveConnections() int32 { return a.active.Load() }

// takePending hands the most recently accepted connection to its driver.
// The server calls Accept and NewDriver back to back on the accept
// goroutine, so a single slot is enough to pair them.
func (a *Adapter) takePending() *ftpConn {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	c := a.pending
	a.pending = nil
	return c
}

// registerSession binds an authenticated user to the control connection
// and exposes it through the session registry.
func (a *Adapter) registerSession(c *ftpConn, user *models.User) {
	if c == nil {
		return
	}
	sessionID := uuid.NewString()
	if prev := c.bindSession(sessionID, user.Username); prev != "" && a.registry != nil {
		// Re-authentication on the same control connection replaces the
		// session.
		a.registry.UnregisterSession(prev)
	}
	if a.registry != nil {
		a.registry.RegisterSession(adapter.SessionInfo{
			SessionID:    sessionID,
			ListenerID:   a.listener.ID,
			ListenerName: a.listener.Name,
			Protocol:     a.Protocol(),
			Username:     user.Username,
			RemoteAddr:   c.RemoteAddr().String(),
			ConnectedAt:  time.Now().UTC(),
		}, func() { c.Close() })
	}
	logger.Info("ftp session started",
		logger.KeyListener, a.listener.Name,
		logger.KeySessionID, sessionID,
		logger.KeyUsername, user.Username,
		logger.KeyClientIP, c.RemoteAddr().String())
}

func (a *Adapter) logActivity(rec *models.ActivityRecord) {
	if a.activities == nil {
		return
	}
	a.activities.LogActivity(rec)
}

// connClosed runs exactly once per accepted connection.
func (a *Adapter) connClosed(c *ftpConn) {
	a.connMu.Lock()
	delete(a.conns, c)
	a.connMu.Unlock()

	if sessionID, username := c.session(); sessionID != "" {
		if a.registry != nil {
			a.registry.UnregisterSession(sessionID)
		}
		a.logActivity(&models.ActivityRecord{
			ListenerID: &a.listener.ID,
			Username:   username,
			Action:     models.ActionLogout,
			Success:    true,
		})
		logger.Info("ftp session closed",
			logger.KeyListener, a.listener.Name,
			logger.KeySessionID, sessionID,
			logger.KeyUsername, username)
	}

	<-a.semaphore
	count := a.active.Add(-1)
	if a.metrics != nil {
		a.metrics.RecordConnectionClosed()
		a.metrics.SetActiveConnections(count)
	}
	a.wg.Done()
}

// ftpListener enforces the connection cap before the FTP server sees the
// connection. Over-limit clients are closed and the loop keeps accepting.
type ftpListener struct {
	net.Listener
	adapter *Adapter
}

func (l *ftpListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		a := l.adapter
		select {
		case a.semaphore <- struct{}{}:
		default:
			logger.Warn("connection limit reached, rejecting client",
				logger.KeyProtocol, models.ProtocolFTP,
				logger.KeyListener, a.listener.Name,
				logger.KeyClientIP, conn.RemoteAddr().String(),
				"max_connections", a.config.MaxConnections)
			conn.Close()
			continue
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}

		wrapped := &ftpConn{Conn: conn, adapter: a}
		a.connMu.Lock()
		a.conns[wrapped] = struct{}{}
		a.pending = wrapped
		a.connMu.Unlock()

		a.wg.Add(1)
		count := a.active.Add(1)
		if a.metrics != nil {
			a.metrics.RecordConnectionAccepted()
			a.metrics.SetActiveConnections(count)
		}
		return wrapped, nil
	}
}

// ftpConn tracks one control connection so its session can be terminated
// from the registry and accounted for on close.
type ftpConn struct {
	net.Conn
	adapter *Adapter

	mu        sync.Mutex
	sessionID string
	username  string

	once sync.Once
}

// bindSession records the authenticated session and returns the previous
// session ID, if any.
func (c *ftpConn) bindSession(sessionID, username string) (prev string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev = c.sessionID
	c.sessionID = sessionID
	c.username = username
	return prev
}

func (c *ftpConn) session() (sessionID, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.username
}

func (c *ftpConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() { c.adapter.connClosed(c) })
	return err
}

// rejectAuth fills the server-level Auth slot. Authentication runs on the
// per-connection driver instead, where the control connection is known.
type rejectAuth struct{}

func (rejectAuth) CheckPasswd(string, string) (bool, error) {
	return false, errors.New("authentication is handled per connection")
}

// serverLogger forwards the FTP server's protocol trace to the structured
// logger at debug level, pre-bound to the listener name.
type serverLogger struct {
	log *slog.Logger
}

func newServerLogger(listener string) *serverLogger {
	return &serverLogger{log: logger.With(logger.KeyListener, listener)}
}

func (l *serverLogger) Print(sessionID string, message interface{}) {
	l.log.Debug("ftp server",
		logger.KeySessionID, sessionID,
		"message", fmt.Sprint(message))
}

func (l *serverLogger) Printf(sessionID string, format string, v ...interface{}) {
	l.Print(sessionID, fmt.Sprintf(format, v...))
}

func (l *serverLogger) PrintCommand(sessionID string, command string, params string) {
	if command == "PASS" {
		params = "****"
	}
	l.log.Debug("ftp command",
		logger.KeySessionID, sessionID,
		"command", command,
		"params", params)
}

func (l *serverLogger) PrintResponse(sessionID string, code int, message string) {
	l.log.Debug("ftp response",
		logger.KeySessionID, sessionID,
		logger.KeyStatus, code,
		"message", message)
}
