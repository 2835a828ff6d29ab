package sftp

import (
	"context"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/wharfd/wharfd/internal/telemetry"
	"github.com/wharfd/wharfd/pkg/authz"
	"github.com/wharfd/wharfd/pkg/models"
)

// validPath rejects names no filesystem accepts: empty strings and NUL
// bytes. These answer Failure rather than BadMessage since the frame
// itself parsed fine.
func validPath(p string) bool {
	return p != "" && !strings.ContainsRune(p, 0)
}

// openOp classifies OPEN flags into the operation to authorize. Append
// wins over plain writes; anything carrying a write-ish flag is a write.
// Whether a write needs the create or the edit grant is resolved inside
// the authorizer by target existence.
func openOp(pflags uint32) (authz.Op, string) {
	switch {
	case pflags&flagAppend != 0:
		return authz.OpAppend, models.ActionUpload
	case pflags&(flagWrite|flagCreat|flagTrunc) != 0:
		return authz.OpWrite, models.ActionUpload
	default:
		return authz.OpRead, models.ActionDownload
	}
}

// osOpenFlags translates protocol open flags to os.OpenFile flags.
func osOpenFlags(pflags uint32) int {
	read := pflags&flagRead != 0
	write := pflags&(flagWrite|flagAppend) != 0
	var flags int
	switch {
	case read && write:
		flags = os.O_RDWR
	case write:
		flags = os.O_WRONLY
	default:
		flags = os.O_RDONLY
	}
	if pflags&flagAppend != 0 {
		flags |= os.O_APPEND
	}
	if pflags&flagCreat != 0 {
		flags |= os.O_CREATE
	}
	if pflags&flagTrunc != 0 {
		flags |= os.O_TRUNC
	}
	if pflags&flagExcl != 0 {
		flags |= os.O_EXCL
	}
	return flags
}

func (h *Handler) handleOpen(ctx context.Context, sess *Session, id uint32, payload []byte) []byte {
	path, payload, err := unmarshalString(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed OPEN")
	}
	pflags, payload, err := unmarshalUint32(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed OPEN")
	}
	attrs, _, err := unmarshalAttrs(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed OPEN")
	}

	op, action := openOp(pflags)
	if !validPath(path) {
		h.logPath(sess, action, path, false)
		return statusPacket(id, fxFailure, "invalid filename")
	}

	decision, resp, ok := h.authorize(ctx, sess, id, authz.Request{Op: op, Path: path}, action)
	if !ok {
		return resp
	}

	mode := fs.FileMode(0o644)
	if attrs.flags&attrFlagPermissions != 0 {
		mode = fs.FileMode(attrs.permissions) & fs.ModePerm
	}

	file, err := os.OpenFile(decision.LocalPath, osOpenFlags(pflags), mode)
	if err != nil {
		h.logPath(sess, action, path, false)
		code, msg := statusFromError(err)
		return statusPacket(id, code, msg)
	}

	handle := sess.putFile(&openFile{
		file:        file,
		virtualPath: path,
		localPath:   decision.LocalPath,
		appendMode:  pflags&flagAppend != 0,
	})
	telemetry.SetAttributes(ctx, telemetry.FSHandle(handle))
	h.logPath(sess, action, path, true)
	return handlePacket(id, handle)
}

func (h *Handler) handleClose(ctx context.Context, sess *Session, id uint32, payload []byte) []byte {
	handle, _, err := unmarshalString(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed CLOSE")
	}
	telemetry.SetAttributes(ctx, telemetry.FSHandle(handle))
	found, closeErr := sess.closeHandle(handle)
	if !found {
		return statusPacket(id, fxFailure, "invalid handle")
	}
	code, msg := statusFromError(closeErr)
	return statusPacket(id, code, msg)
}

func (h *Handler) handleRead(ctx context.Context, sess *Session, id uint32, payload []byte) []byte {
	handle, payload, err := unmarshalString(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed READ")
	}
	offset, payload, err := unmarshalUint64(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed READ")
	}
	length, _, err := unmarshalUint32(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed READ")
	}
	telemetry.SetAttributes(ctx,
		telemetry.FSHandle(handle),
		telemetry.FSOffset(offset),
		telemetry.FSCount(length))

	f, ok := sess.file(handle)
	if !ok {
		return statusPacket(id, fxFailure, "invalid handle")
	}

	// Leave framing headroom inside the packet budget.
	if maxData := h.maxPacket - 1024; length > maxData {
		length = maxData
	}

	buf := make([]byte, length)
	n, err := f.file.ReadAt(buf, int64(offset))
	if n > 0 {
		h.addBytesRead(n)
		// Data first; the client reads again and gets the EOF status then.
		return dataPacket(id, buf[:n])
	}
	if err == nil || err == io.EOF {
		return statusPacket(id, fxEOF, "end of file")
	}
	code, msg := statusFromError(err)
	return statusPacket(id, code, msg)
}

func (h *Handler) handleWrite(ctx context.Context, sess *Session, id uint32, payload []byte) []byte {
	handle, payload, err := unmarshalString(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed WRITE")
	}
	offset, payload, err := unmarshalUint64(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed WRITE")
	}
	data, _, err := unmarshalBytes(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed WRITE")
	}
	telemetry.SetAttributes(ctx,
		telemetry.FSHandle(handle),
		telemetry.FSOffset(offset),
		telemetry.FSCount(uint32(len(data))))

	f, ok := sess.file(handle)
	if !ok {
		return statusPacket(id, fxFailure, "invalid handle")
	}

	// Append handles ignore the client offset: the descriptor was opened
	// O_APPEND and the kernel appends atomically.
	var n int
	if f.appendMode {
		n, err = f.file.Write(data)
	} else {
		n, err = f.file.WriteAt(data, int64(offset))
	}
	h.addBytesWritten(n)
	code, msg := statusFromError(err)
	return statusPacket(id, code, msg)
}
