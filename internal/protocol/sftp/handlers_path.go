package sftp

import (
	"context"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/wharfd/wharfd/internal/telemetry"
	"github.com/wharfd/wharfd/pkg/authz"
	"github.com/wharfd/wharfd/pkg/models"
)

func (h *Handler) handleStat(ctx context.Context, sess *Session, id uint32, payload []byte) []byte {
	return h.statPath(ctx, sess, id, payload, os.Stat, "STAT")
}

func (h *Handler) handleLstat(ctx context.Context, sess *Session, id uint32, payload []byte) []byte {
	return h.statPath(ctx, sess, id, payload, os.Lstat, "LSTAT")
}

func (h *Handler) statPath(ctx context.Context, sess *Session, id uint32, payload []byte, stat func(string) (fs.FileInfo, error), name string) []byte {
	p, _, err := unmarshalString(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed "+name)
	}
	if !validPath(p) {
		h.logPath(sess, models.ActionStat, p, false)
		return statusPacket(id, fxFailure, "invalid filename")
	}

	decision, resp, ok := h.authorize(ctx, sess, id, authz.Request{Op: authz.OpStat, Path: p}, models.ActionStat)
	if !ok {
		return resp
	}

	info, err := stat(decision.LocalPath)
	if err != nil {
		h.logPath(sess, models.ActionStat, p, false)
		code, msg := statusFromError(err)
		return statusPacket(id, code, msg)
	}
	h.logPath(sess, models.ActionStat, p, true)
	return attrsPacket(id, attrsFromFileInfo(info))
}

func (h *Handler) handleFstat(ctx context.Context, sess *Session, id uint32, payload []byte) []byte {
	handle, _, err := unmarshalString(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed FSTAT")
	}
	telemetry.SetAttributes(ctx, telemetry.FSHandle(handle))
	f, ok := sess.file(handle)
	if !ok {
		return statusPacket(id, fxFailure, "invalid handle")
	}
	info, err := f.file.Stat()
	if err != nil {
		code, msg := statusFromError(err)
		return statusPacket(id, code, msg)
	}
	return attrsPacket(id, attrsFromFileInfo(info))
}

func (h *Handler) handleSetstat(ctx context.Context, sess *Session, id uint32, payload []byte) []byte {
	p, payload, err := unmarshalString(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed SETSTAT")
	}
	attrs, _, err := unmarshalAttrs(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed SETSTAT")
	}
	if !validPath(p) {
		h.logPath(sess, models.ActionSetstat, p, false)
		return statusPacket(id, fxFailure, "invalid filename")
	}

	// Changing attributes mutates the file, so it needs the same grants as
	// overwriting it.
	decision, resp, ok := h.authorize(ctx, sess, id, authz.Request{Op: authz.OpWrite, Path: p}, models.ActionSetstat)
	if !ok {
		return resp
	}

	err = applyAttrs(decision.LocalPath, attrs)
	h.logPath(sess, models.ActionSetstat, p, err == nil)
	code, msg := statusFromError(err)
	return statusPacket(id, code, msg)
}

func (h *Handler) handleFsetstat(ctx context.Context, sess *Session, id uint32, payload []byte) []byte {
	handle, payload, err := unmarshalString(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed FSETSTAT")
	}
	attrs, _, err := unmarshalAttrs(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed FSETSTAT")
	}
	telemetry.SetAttributes(ctx, telemetry.FSHandle(handle))
	f, ok := sess.file(handle)
	if !ok {
		return statusPacket(id, fxFailure, "invalid handle")
	}

	// The handle may have been opened read-only; mutation is re-authorized
	// against the path it was opened under.
	_, resp, ok := h.authorize(ctx, sess, id, authz.Request{Op: authz.OpWrite, Path: f.virtualPath}, models.ActionSetstat)
	if !ok {
		return resp
	}

	err = applyAttrs(f.localPath, attrs)
	h.logPath(sess, models.ActionSetstat, f.virtualPath, err == nil)
	code, msg := statusFromError(err)
	return statusPacket(id, code, msg)
}

func (h *Handler) handleRemove(ctx context.Context, sess *Session, id uint32, payload []byte) []byte {
	p, _, err := unmarshalString(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed REMOVE")
	}
	if !validPath(p) {
		h.logPath(sess, models.ActionRemove, p, false)
		return statusPacket(id, fxFailure, "invalid filename")
	}

	decision, resp, ok := h.authorize(ctx, sess, id, authz.Request{Op: authz.OpRemove, Path: p}, models.ActionRemove)
	if !ok {
		return resp
	}

	// REMOVE has unlink semantics; directories go through RMDIR.
	info, err := os.Lstat(decision.LocalPath)
	if err != nil {
		h.logPath(sess, models.ActionRemove, p, false)
		code, msg := statusFromError(err)
		return statusPacket(id, code, msg)
	}
	if info.IsDir() {
		h.logPath(sess, models.ActionRemove, p, false)
		return statusPacket(id, fxFailure, "is a directory")
	}

	err = os.Remove(decision.LocalPath)
	h.logPath(sess, models.ActionRemove, p, err == nil)
	code, msg := statusFromError(err)
	return statusPacket(id, code, msg)
}

func (h *Handler) handleRename(ctx context.Context, sess *Session, id uint32, payload []byte) []byte {
	oldPath, payload, err := unmarshalString(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed RENAME")
	}
	newPath, _, err := unmarshalString(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed RENAME")
	}
	telemetry.SetAttributes(ctx, telemetry.FSTargetPath(newPath))
	activityPath := oldPath + " -> " + newPath
	if !validPath(oldPath) || !validPath(newPath) {
		h.logPath(sess, models.ActionRename, activityPath, false)
		return statusPacket(id, fxFailure, "invalid filename")
	}

	decision, resp, ok := h.authorize(ctx, sess, id, authz.Request{
		Op:         authz.OpRename,
		Path:       oldPath,
		TargetPath: newPath,
	}, models.ActionRename)
	if !ok {
		return resp
	}

	// SFTP v3 rename never overwrites: an existing target fails the request.
	if _, statErr := os.Lstat(decision.TargetLocalPath); statErr == nil {
		h.logPath(sess, models.ActionRename, activityPath, false)
		return statusPacket(id, fxFailure, "target already exists")
	}

	err = os.Rename(decision.LocalPath, decision.TargetLocalPath)
	h.logPath(sess, models.ActionRename, activityPath, err == nil)
	code, msg := statusFromError(err)
	return statusPacket(id, code, msg)
}

// handleRealpath canonicalizes a path lexically: no filesystem access, no
// authorization. Clients use it to turn "." into the session root before
// addressing real requests, which are authorized individually.
func (h *Handler) handleRealpath(_ context.Context, sess *Session, id uint32, payload []byte) []byte {
	p, _, err := unmarshalString(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed REALPATH")
	}
	cleaned := canonicalVirtualPath(p)
	return namePacket(id, []nameEntry{{filename: cleaned, longname: cleaned}})
}

// canonicalVirtualPath resolves "." and ".." against the virtual root "/"
// without touching the filesystem.
func canonicalVirtualPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" || p == "." {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
