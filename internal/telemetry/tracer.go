package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for protocol operations.
// These follow OpenTelemetry semantic conventions where applicable.
// Protocol-agnostic keys use "fs." prefix, protocol-specific use their own prefix.
const (
	// ========================================================================
	// Client attributes (protocol-agnostic)
	// ========================================================================
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"

	// ========================================================================
	// Protocol attributes (protocol-agnostic)
	// ========================================================================
	AttrProtocol   = "protocol.name"  // sftp, ftp
	AttrOperation  = "fs.operation"   // Generic operation name
	AttrHandle     = "fs.handle"      // File handle (protocol-specific opaque ID)
	AttrPath       = "fs.path"        // Virtual file path
	AttrTargetPath = "fs.target_path" // Rename target path
	AttrOffset     = "fs.offset"      // I/O offset
	AttrCount      = "fs.count"       // Byte count requested
	AttrSize       = "fs.size"        // File size
	AttrStatus     = "fs.status"      // Operation status code
	AttrStatusMsg  = "fs.status_msg"  // Human-readable status
	AttrAllowed    = "fs.allowed"     // Authorization outcome
	AttrDenyReason = "fs.deny_reason" // Why authorization denied

	// ========================================================================
	// SFTP-specific attributes
	// ========================================================================
	AttrSFTPRequest   = "sftp.request"    // Request type name (open, read, ...)
	AttrSFTPRequestID = "sftp.request_id" // Client-chosen request id

	// ========================================================================
	// FTP-specific attributes
	// ========================================================================
	AttrFTPCommand = "ftp.command"

	// ========================================================================
	// Listener and session attributes
	// ========================================================================
	AttrListenerID   = "listener.id"
	AttrListenerName = "listener.name"
	AttrSessionID    = "session.id"

	// ========================================================================
	// User/Auth attributes (protocol-agnostic)
	// ========================================================================
	AttrUsername = "user.name"
	AttrAuth     = "auth.method"
)

// Span names for internal operations. Protocol spans are named
// <protocol>.<request> by StartSFTPSpan and StartFTPSpan.
const (
	// Authorization decision
	SpanAuthorize = "authz.authorize"

	// Store operations
	SpanStoreBootstrap = "store.bootstrap"
	SpanActivityPurge  = "store.activity_purge"
)

// ClientIP returns an attribute for client IP address
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// ClientAddr returns an attribute for full client address
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// Protocol returns an attribute for protocol name
func Protocol(name string) attribute.KeyValue {
	return attribute.String(AttrProtocol, name)
}

// FSOperation returns an attribute for filesystem operation name
func FSOperation(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

// FSHandle returns an attribute for a protocol file handle
func FSHandle(handle string) attribute.KeyValue {
	return attribute.String(AttrHandle, handle)
}

// FSPath returns an attribute for a virtual file path
func FSPath(path string) attribute.KeyValue {
	return attribute.String(AttrPath, path)
}

// FSTargetPath returns an attribute for a rename target path
func FSTargetPath(path string) attribute.KeyValue {
	return attribute.String(AttrTargetPath, path)
}

// FSOffset returns an attribute for file offset
func FSOffset(offset uint64) attribute.KeyValue {
	return attribute.Int64(AttrOffset, int64(offset))
}

// FSCount returns an attribute for byte count
func FSCount(count uint32) attribute.KeyValue {
	return attribute.Int64(AttrCount, int64(count))
}

// FSSize returns an attribute for file size
func FSSize(size uint64) attribute.KeyValue {
	return attribute.Int64(AttrSize, int64(size))
}

// FSStatus returns an attribute for operation status code
func FSStatus(status int) attribute.KeyValue {
	return attribute.Int(AttrStatus, status)
}

// FSStatusMsg returns an attribute for a human-readable status
func FSStatusMsg(msg string) attribute.KeyValue {
	return attribute.String(AttrStatusMsg, msg)
}

// FSAllowed returns an attribute for an authorization outcome
func FSAllowed(allowed bool) attribute.KeyValue {
	return attribute.Bool(AttrAllowed, allowed)
}

// FSDenyReason returns an attribute for an authorization denial reason
func FSDenyReason(reason string) attribute.KeyValue {
	return attribute.String(AttrDenyReason, reason)
}

// SFTPRequest returns an attribute for the SFTP request type name
func SFTPRequest(name string) attribute.KeyValue {
	return attribute.String(AttrSFTPRequest, name)
}

// SFTPRequestID returns an attribute for the client-chosen request id
func SFTPRequestID(id uint32) attribute.KeyValue {
	return attribute.Int64(AttrSFTPRequestID, int64(id))
}

// FTPCommand returns an attribute for an FTP command name
func FTPCommand(cmd string) attribute.KeyValue {
	return attribute.String(AttrFTPCommand, cmd)
}

// ListenerID returns an attribute for a listener id
func ListenerID(id string) attribute.KeyValue {
	return attribute.String(AttrListenerID, id)
}

// ListenerName returns an attribute for a listener name
func ListenerName(name string) attribute.KeyValue {
	return attribute.String(AttrListenerName, name)
}

// SessionID returns an attribute for a session id
func SessionID(id string) attribute.KeyValue {
	return attribute.String(AttrSessionID, id)
}

// Username returns an attribute for username
func Username(name string) attribute.KeyValue {
	return attribute.String(AttrUsername, name)
}

// AuthMethod returns an attribute for authentication method
func AuthMethod(method string) attribute.KeyValue {
	return attribute.String(AttrAuth, method)
}

// StartSFTPSpan starts a span for an SFTP request.
// This is a convenience function that sets common attributes.
func StartSFTPSpan(ctx context.Context, request string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Protocol("sftp"),
		SFTPRequest(request),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "sftp."+request, trace.WithAttributes(allAttrs...))
}

// StartFTPSpan starts a span for an FTP driver operation.
// This is a convenience function that sets common attributes.
func StartFTPSpan(ctx context.Context, command string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Protocol("ftp"),
		FTPCommand(command),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "ftp."+command, trace.WithAttributes(allAttrs...))
}
