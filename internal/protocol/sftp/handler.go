package sftp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/internal/telemetry"
	"github.com/wharfd/wharfd/pkg/authz"
	"github.com/wharfd/wharfd/pkg/models"
)

// DefaultIdleTimeout closes sessions with no requests for this long.
const DefaultIdleTimeout = 5 * time.Minute

// DefaultReadDirBatch is how many entries one READDIR response carries.
const DefaultReadDirBatch = 100

// ErrIdleTimeout is returned by Serve when the session sat idle past the
// configured limit. The transport owner must close the connection; any
// in-flight client request is dropped with it.
var ErrIdleTimeout = errors.New("session idle timeout")

// ActivitySink receives one record per path-addressed request. LogActivity
// must not block; the store implementation queues and drops under
// pressure.
type ActivitySink interface {
	LogActivity(rec *models.ActivityRecord)
}

// MetricsRecorder observes request service time and transfer volume. A nil
// recorder disables collection.
type MetricsRecorder interface {
	ObserveRequest(requestType string, d time.Duration)
	AddBytesRead(n int64)
	AddBytesWritten(n int64)
}

// Config tunes a Handler. Zero values take defaults.
type Config struct {
	IdleTimeout  time.Duration
	MaxPacket    uint32
	ReadDirBatch int
	Metrics      MetricsRecorder
}

// Handler serves the SFTP v3 protocol for authenticated sessions. One
// Handler is shared by all sessions of a listener; per-session state lives
// in Session.
type Handler struct {
	authorizer  *authz.Authorizer
	activities  ActivitySink
	metrics     MetricsRecorder
	idleTimeout time.Duration
	maxPacket   uint32
	batch       int
}

// NewHandler builds a Handler over the authorizer and activity sink.
func NewHandler(authorizer *authz.Authorizer, activities ActivitySink, cfg Config) *Handler {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MaxPacket == 0 {
		cfg.MaxPacket = DefaultMaxPacket
	}
	if cfg.ReadDirBatch <= 0 {
		cfg.ReadDirBatch = DefaultReadDirBatch
	}
	return &Handler{
		authorizer:  authorizer,
		activities:  activities,
		metrics:     cfg.Metrics,
		idleTimeout: cfg.IdleTimeout,
		maxPacket:   cfg.MaxPacket,
		batch:       cfg.ReadDirBatch,
	}
}

type inbound struct {
	typ     byte
	payload []byte
	err     error
}

// Serve runs the request loop for one session until the client disconnects,
// the context is cancelled, or the idle timer fires. The session must be in
// the Serving state with an authenticated principal; anything else is
// refused before the first packet is read.
//
// Once serving, the session is Closed on return: all handles are released
// and a LOGOUT activity is recorded (IDLE_TIMEOUT instead when the idle
// timer ended the session). The caller owns the transport and closes it on
// any error.
func (h *Handler) Serve(ctx context.Context, sess *Session, rw io.ReadWriter) (err error) {
	if state := sess.State(); state != StateServing {
		return fmt.Errorf("session %s not serving (state %s)", sess.ID, state)
	}

	defer func() {
		sess.SetState(StateClosing)
		sess.CloseAll()
		if !errors.Is(err, ErrIdleTimeout) {
			h.logSession(sess, models.ActionLogout)
		}
		sess.SetState(StateClosed)
		logger.Debug("sftp session closed",
			logger.SessionID(sess.ID),
			logger.Username(sess.Username),
			logger.Err(err))
	}()

	typ, payload, err := recvPacket(rw, h.maxPacket)
	if err != nil {
		return fmt.Errorf("read init packet: %w", err)
	}
	if typ != fxpInit {
		return fmt.Errorf("expected INIT, got %s", packetTypeName(typ))
	}
	clientVersion, _, err := unmarshalUint32(payload)
	if err != nil {
		return fmt.Errorf("parse init packet: %w", err)
	}
	// The server speaks version 3 regardless of what the client proposes.
	if err := sendPacket(rw, versionPacket()); err != nil {
		return err
	}
	logger.Debug("sftp session negotiated",
		logger.SessionID(sess.ID),
		logger.Username(sess.Username),
		"client_version", clientVersion)

	in := make(chan inbound, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			typ, payload, err := recvPacket(rw, h.maxPacket)
			select {
			case in <- inbound{typ: typ, payload: payload, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	idle := time.NewTimer(h.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-idle.C:
			h.logSession(sess, models.ActionIdleTimeout)
			logger.Info("sftp session idle timeout",
				logger.SessionID(sess.ID),
				logger.Username(sess.Username),
				"idle_timeout", h.idleTimeout)
			return ErrIdleTimeout

		case msg := <-in:
			if msg.err != nil {
				if errors.Is(msg.err, io.EOF) {
					return nil
				}
				return msg.err
			}
			sess.Touch()
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(h.idleTimeout)

			resp := h.handleRequest(ctx, sess, msg.typ, msg.payload)
			if resp == nil {
				return fmt.Errorf("malformed %s packet", packetTypeName(msg.typ))
			}
			if err := sendPacket(rw, resp); err != nil {
				return err
			}
		}
	}
}

// requestHandlers dispatches request types to their handlers. Types absent
// from the table answer with an unsupported status instead of dropping the
// connection.
var requestHandlers = map[byte]func(*Handler, context.Context, *Session, uint32, []byte) []byte{
	fxpOpen:     (*Handler).handleOpen,
	fxpClose:    (*Handler).handleClose,
	fxpRead:     (*Handler).handleRead,
	fxpWrite:    (*Handler).handleWrite,
	fxpLstat:    (*Handler).handleLstat,
	fxpFstat:    (*Handler).handleFstat,
	fxpSetstat:  (*Handler).handleSetstat,
	fxpFsetstat: (*Handler).handleFsetstat,
	fxpOpendir:  (*Handler).handleOpendir,
	fxpReaddir:  (*Handler).handleReaddir,
	fxpRemove:   (*Handler).handleRemove,
	fxpMkdir:    (*Handler).handleMkdir,
	fxpRmdir:    (*Handler).handleRmdir,
	fxpRealpath: (*Handler).handleRealpath,
	fxpStat:     (*Handler).handleStat,
	fxpRename:   (*Handler).handleRename,
}

// pathRequests marks request types whose payload starts with a path,
// annotated on the dispatch span.
var pathRequests = map[byte]bool{
	fxpOpen:     true,
	fxpLstat:    true,
	fxpSetstat:  true,
	fxpOpendir:  true,
	fxpRemove:   true,
	fxpMkdir:    true,
	fxpRmdir:    true,
	fxpRealpath: true,
	fxpStat:     true,
	fxpRename:   true,
}

// handleRequest parses the request id and dispatches under a tracing span.
// A nil return means the packet was too mangled to address a response to;
// the caller drops the connection.
func (h *Handler) handleRequest(ctx context.Context, sess *Session, typ byte, payload []byte) []byte {
	id, rest, err := unmarshalUint32(payload)
	if err != nil {
		return nil
	}

	if h.metrics != nil {
		start := time.Now()
		defer func() {
			h.metrics.ObserveRequest(strings.ToLower(packetTypeName(typ)), time.Since(start))
		}()
	}

	ctx, span := telemetry.StartSFTPSpan(ctx, strings.ToLower(packetTypeName(typ)),
		telemetry.SessionID(sess.ID),
		telemetry.ListenerName(sess.ListenerName),
		telemetry.Username(sess.Username),
		telemetry.ClientAddr(sess.ClientAddr),
		telemetry.SFTPRequestID(id))
	defer span.End()

	if pathRequests[typ] {
		if p, _, err := unmarshalString(rest); err == nil {
			span.SetAttributes(telemetry.FSPath(p))
		}
	}

	handler, ok := requestHandlers[typ]
	if !ok {
		span.SetAttributes(telemetry.FSStatus(fxOpUnsupported))
		return statusPacket(id, fxOpUnsupported, "operation not supported")
	}

	resp := handler(h, ctx, sess, id, rest)
	if len(resp) >= 9 && resp[0] == fxpStatus {
		code := int(binary.BigEndian.Uint32(resp[5:9]))
		span.SetAttributes(telemetry.FSStatus(code))
		if code != fxOK && code != fxEOF {
			if msg, _, err := unmarshalString(resp[9:]); err == nil && msg != "" {
				span.SetAttributes(telemetry.FSStatusMsg(msg))
			}
		}
	}
	return resp
}

// authorize runs one decision and answers with the response status to
// send on denial or error. ok is true only when the operation may proceed.
func (h *Handler) authorize(ctx context.Context, sess *Session, id uint32, req authz.Request, action string) (authz.Decision, []byte, bool) {
	req.UserID = sess.UserID
	req.ListenerID = sess.ListenerID

	decision, err := h.authorizer.Authorize(ctx, req)
	if err != nil {
		logger.Warn("authorization error",
			logger.SessionID(sess.ID),
			logger.Username(sess.Username),
			logger.Path(req.Path),
			logger.Err(err))
		h.logPath(sess, action, req.Path, false)
		return decision, statusPacket(id, fxFailure, "authorization error"), false
	}
	if !decision.Allowed {
		logger.Debug("request denied",
			logger.SessionID(sess.ID),
			logger.Username(sess.Username),
			logger.Path(req.Path),
			logger.KeyReason, string(decision.Reason),
			logger.KeyRequest, req.Op.String())
		h.logPath(sess, models.Denied(action), req.Path, false)
		code, msg := statusFromDenial(decision.Reason)
		return decision, statusPacket(id, code, msg), false
	}
	return decision, nil, true
}

// logPath records one activity for a path-addressed request.
func (h *Handler) logPath(sess *Session, action, virtualPath string, success bool) {
	if h.activities == nil {
		return
	}
	listenerID := sess.ListenerID
	h.activities.LogActivity(&models.ActivityRecord{
		ListenerID: &listenerID,
		Username:   sess.Username,
		Action:     action,
		Path:       virtualPath,
		Success:    success,
	})
}

func (h *Handler) addBytesRead(n int) {
	if h.metrics != nil && n > 0 {
		h.metrics.AddBytesRead(int64(n))
	}
}

func (h *Handler) addBytesWritten(n int) {
	if h.metrics != nil && n > 0 {
		h.metrics.AddBytesWritten(int64(n))
	}
}

// logSession records a session lifecycle activity (logout, idle timeout).
func (h *Handler) logSession(sess *Session, action string) {
	if h.activities == nil {
		return
	}
	listenerID := sess.ListenerID
	h.activities.LogActivity(&models.ActivityRecord{
		ListenerID: &listenerID,
		Username:   sess.Username,
		Action:     action,
		Success:    true,
	})
}
