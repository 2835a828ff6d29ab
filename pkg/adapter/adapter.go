// Package adapter provides the shared transport layer for protocol
// listeners: TCP lifecycle management, connection accounting, graceful
// drain, and the credential checks every protocol runs before serving.
//
// Protocol packages (pkg/adapter/sftp, pkg/adapter/ftp) build on Base and
// Authenticator; the supervisor drives them through the Adapter interface.
package adapter

import (
	"context"
	"time"

	"github.com/wharfd/wharfd/pkg/models"
)

// Adapter is one protocol listener managed by the supervisor.
//
// Lifecycle:
//  1. Bind() acquires the socket. Called synchronously so bind failures
//     (port collision, privileged port) surface to whoever starts the
//     listener instead of a background goroutine.
//  2. Serve(ctx) accepts connections until the context is cancelled.
//  3. Stop(ctx) drains active connections, then force-closes leftovers.
type Adapter interface {
	Bind() error
	Serve(ctx context.Context) error
	Stop(ctx context.Context) error

	ListenerID() string
	ListenerName() string
	Protocol() string
	Port() int
	ActiveConnections() int32
}

// SessionInfo describes one authenticated client session for the
// cross-listener registry.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	ListenerID   string    `json:"listener_id"`
	ListenerName string    `json:"listener_name"`
	Protocol     string    `json:"protocol"`
	Username     string    `json:"username"`
	RemoteAddr   string    `json:"remote_addr"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// SessionRegistry tracks live sessions across listeners. Adapters register
// a session once its principal is authenticated and unregister it when the
// connection ends. The close function force-drops the session's transport
// and must be safe to call at any point in the session's life.
type SessionRegistry interface {
	RegisterSession(info SessionInfo, close func())
	UnregisterSession(sessionID string)
}

// ActivitySink receives audit records from adapters. LogActivity must not
// block; the store implementation queues and drops under pressure.
type ActivitySink interface {
	LogActivity(rec *models.ActivityRecord)
}
