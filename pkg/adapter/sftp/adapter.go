// Package sftp serves the SFTP subsystem over SSH transport for one
// listener: host key presentation, password and public key authentication,
// and channel handling down to the protocol request loop.
package sftp

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/wharfd/wharfd/internal/logger"
	protocol "github.com/wharfd/wharfd/internal/protocol/sftp"
	"github.com/wharfd/wharfd/pkg/adapter"
	"github.com/wharfd/wharfd/pkg/authz"
	"github.com/wharfd/wharfd/pkg/models"
)

const (
	// handshakeTimeout bounds the SSH handshake and authentication. The
	// deadline is cleared once the connection is authenticated.
	handshakeTimeout = 2 * time.Minute

	maxAuthTries  = 6
	serverVersion = "SSH-2.0-wharfd"
	subsystemSFTP = "sftp"
)

// Config tunes one SFTP listener.
type Config struct {
	HostKeys        []ssh.Signer
	IdleTimeout     time.Duration
	MaxConnections  int
	ShutdownTimeout time.Duration
}

// Deps are the collaborators an SFTP listener needs.
type Deps struct {
	Authorizer *authz.Authorizer
	Auth       *adapter.Authenticator
	Registry   adapter.SessionRegistry
	Activities adapter.ActivitySink
	Metrics    adapter.MetricsRecorder
	// RequestMetrics feeds the protocol handler's per-request observations.
	RequestMetrics protocol.MetricsRecorder
}

// Adapter serves one SFTP listener. It implements adapter.Adapter.
type Adapter struct {
	*adapter.Base

	auth      *adapter.Authenticator
	handler   *protocol.Handler
	registry  adapter.SessionRegistry
	sshConfig *ssh.ServerConfig
}

// New builds the adapter for one listener row.
func New(listener *models.Listener, deps Deps, cfg Config) (*Adapter, error) {
	if len(cfg.HostKeys) == 0 {
		return nil, errors.New("sftp: at least one host key is required")
	}
	if deps.Authorizer == nil || deps.Auth == nil {
		return nil, errors.New("sftp: authorizer and authenticator are required")
	}

	a := &Adapter{
		Base: adapter.NewBase(listener, adapter.BaseConfig{
			MaxConnections:  cfg.MaxConnections,
			ShutdownTimeout: cfg.ShutdownTimeout,
		}, deps.Metrics),
		auth: deps.Auth,
		handler: protocol.NewHandler(deps.Authorizer, deps.Activities, protocol.Config{
			IdleTimeout: cfg.IdleTimeout,
			Metrics:     deps.RequestMetrics,
		}),
		registry: deps.Registry,
	}

	sshConfig := &ssh.ServerConfig{
		MaxAuthTries:      maxAuthTries,
		ServerVersion:     serverVersion,
		PasswordCallback:  a.passwordCallback,
		PublicKeyCallback: a.publicKeyCallback,
	}
	for _, key := range cfg.HostKeys {
		sshConfig.AddHostKey(key)
	}
	a.sshConfig = sshConfig
	return a, nil
}

// Serve implements adapter.Adapter.
func (a *Adapter) Serve(ctx context.Context) error {
	return a.ServeWithFactory(ctx, a)
}

// NewConnection implements adapter.ConnectionFactory.
func (a *Adapter) NewConnection(conn net.Conn) adapter.ConnectionHandler {
	return &connection{adapter: a, conn: conn}
}

func (a *Adapter) passwordCallback(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	user, err := a.auth.Password(a.ShutdownCtx, meta.User(), string(password), clientIP(meta.RemoteAddr()))
	if err != nil {
		return nil, err
	}
	return permissionsFor(user)
}

// principal is the authenticated identity carried through the SSH
// connection's permission extensions.
type principal struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

const principalExtension = "user"

func permissionsFor(user *models.User) (*ssh.Permissions, error) {
	raw, err := json.Marshal(principal{ID: user.ID, Username: user.Username})
	if err != nil {
		return nil, err
	}
	return &ssh.Permissions{
		Extensions: map[string]string{principalExtension: string(raw)},
	}, nil
}

func principalFrom(perms *ssh.Permissions) (principal, error) {
	var p principal
	if perms == nil || perms.Extensions == nil {
		return p, errors.New("connection carries no authenticated principal")
	}
	raw, ok := perms.Extensions[principalExtension]
	if !ok {
		return p, errors.New("connection carries no authenticated principal")
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("decode principal: %w", err)
	}
	return p, nil
}

func clientIP(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// connection drives one accepted TCP connection through the SSH handshake
// and its session channels.
type connection struct {
	adapter *Adapter
	conn    net.Conn
}

// Serve implements adapter.ConnectionHandler.
func (c *connection) Serve(ctx context.Context) {
	a := c.adapter

	c.conn.SetDeadline(time.Now().Add(handshakeTimeout))
	sshConn, chans, reqs, err := ssh.NewServerConn(c.conn, a.sshConfig)
	if err != nil {
		logger.Debug("ssh handshake failed",
			logger.KeyListener, a.ListenerName(),
			logger.KeyClientIP, clientIP(c.conn.RemoteAddr()),
			logger.KeyError, err.Error())
		return
	}
	defer sshConn.Close()
	c.conn.SetDeadline(time.Time{})

	who, err := principalFrom(sshConn.Permissions)
	if err != nil {
		logger.Error("ssh connection rejected",
			logger.KeyListener, a.ListenerName(),
			logger.KeyError, err.Error())
		return
	}

	// Global requests (keepalives, forwarding attempts) are not served.
	go ssh.DiscardRequests(reqs)

	var wg sync.WaitGroup
	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			logger.Warn("accept session channel",
				logger.KeyListener, a.ListenerName(),
				logger.KeyUsername, who.Username,
				logger.KeyError, err.Error())
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.serveChannel(ctx, sshConn, who, channel, requests)
		}()
	}
	wg.Wait()
}

type exitStatus struct {
	Status uint32
}

// serveChannel waits for the sftp subsystem request on one session channel
// and runs the protocol loop on it. Other requests (shell, exec, env) are
// refused.
func (c *connection) serveChannel(ctx context.Context, sshConn *ssh.ServerConn, who principal, channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "subsystem":
			if subsystemName(req.Payload) != subsystemSFTP {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			c.runSession(ctx, sshConn, who, channel)
			channel.SendRequest("exit-status", false, ssh.Marshal(exitStatus{Status: 0}))
			return
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// runSession registers the session and hands the channel to the protocol
// handler until the client disconnects or times out.
func (c *connection) runSession(ctx context.Context, sshConn *ssh.ServerConn, who principal, channel ssh.Channel) {
	a := c.adapter
	sessionID := uuid.NewString()
	remoteAddr := sshConn.RemoteAddr().String()

	sess := protocol.NewSession(sessionID, who.ID, who.Username, a.ListenerID(), a.ListenerName(), remoteAddr)
	sess.SetState(protocol.StateServing)

	if a.registry != nil {
		a.registry.RegisterSession(adapter.SessionInfo{
			SessionID:    sessionID,
			ListenerID:   a.ListenerID(),
			ListenerName: a.ListenerName(),
			Protocol:     a.Protocol(),
			Username:     who.Username,
			RemoteAddr:   remoteAddr,
			ConnectedAt:  time.Now().UTC(),
		}, func() { sshConn.Close() })
		defer a.registry.UnregisterSession(sessionID)
	}

	logger.Info("sftp session started",
		logger.KeySessionID, sessionID,
		logger.KeyListener, a.ListenerName(),
		logger.KeyUsername, who.Username,
		logger.KeyClientIP, clientIP(sshConn.RemoteAddr()))

	err := a.handler.Serve(ctx, sess, channel)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, protocol.ErrIdleTimeout):
		// Free the connection slot; an idle client would otherwise hold
		// the TCP connection with no open channels.
		sshConn.Close()
	default:
		logger.Debug("sftp session ended",
			logger.KeySessionID, sessionID,
			logger.KeyUsername, who.Username,
			logger.KeyError, err.Error())
	}
}

// subsystemName decodes the SSH string in a subsystem request payload.
func subsystemName(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := binary.BigEndian.Uint32(payload)
	if uint32(len(payload)-4) < n {
		return ""
	}
	return string(payload[4 : 4+n])
}
