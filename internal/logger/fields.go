package logger

import (
	"log/slog"
)

// Standard field keys for structured logging. Use these keys consistently
// across all log statements so aggregated logs stay queryable.
const (
	// Protocol & operation
	KeyProtocol = "protocol" // sftp or ftp
	KeyRequest  = "request"  // protocol request name: OPEN, READDIR, STOR, ...
	KeyStatus   = "status"   // protocol status code
	KeyAction   = "action"   // activity action name (OPEN, RENAME_DENIED, ...)
	KeyPath     = "path"     // virtual path as the client sees it
	KeyCount    = "count"

	// Principal & client
	KeyUsername = "username"
	KeyClientIP = "client_ip"

	// Listener & session
	KeyListener  = "listener" // listener name
	KeyPort      = "port"
	KeySessionID = "session_id"

	// Operation metadata
	KeyError  = "error"
	KeyReason = "reason" // denial reason
)

// Err returns a slog.Attr for an error, or an empty attribute for nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Username returns a slog.Attr for the authenticated principal.
func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

// SessionID returns a slog.Attr for a session identifier.
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// Path returns a slog.Attr for a client-visible virtual path.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}
