package sftp

import (
	"context"
	"io/fs"
	"os"

	"github.com/wharfd/wharfd/internal/telemetry"
	"github.com/wharfd/wharfd/pkg/authz"
	"github.com/wharfd/wharfd/pkg/models"
)

func (h *Handler) handleOpendir(ctx context.Context, sess *Session, id uint32, payload []byte) []byte {
	path, _, err := unmarshalString(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed OPENDIR")
	}
	if !validPath(path) {
		h.logPath(sess, models.ActionList, path, false)
		return statusPacket(id, fxFailure, "invalid filename")
	}

	decision, resp, ok := h.authorize(ctx, sess, id, authz.Request{Op: authz.OpList, Path: path}, models.ActionList)
	if !ok {
		return resp
	}

	// The entry list is snapshotted here. Entries created or removed while
	// the handle is open do not move the cursor, so iteration always
	// terminates.
	entries, err := os.ReadDir(decision.LocalPath)
	if err != nil {
		h.logPath(sess, models.ActionList, path, false)
		code, msg := statusFromError(err)
		return statusPacket(id, code, msg)
	}

	handle := sess.putDir(&dirSnapshot{virtualPath: path, entries: entries})
	telemetry.SetAttributes(ctx, telemetry.FSHandle(handle))
	h.logPath(sess, models.ActionList, path, true)
	return handlePacket(id, handle)
}

func (h *Handler) handleReaddir(ctx context.Context, sess *Session, id uint32, payload []byte) []byte {
	handle, _, err := unmarshalString(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed READDIR")
	}
	telemetry.SetAttributes(ctx, telemetry.FSHandle(handle))
	d, ok := sess.dir(handle)
	if !ok {
		return statusPacket(id, fxFailure, "invalid handle")
	}
	if d.cursor >= len(d.entries) {
		return statusPacket(id, fxEOF, "end of file")
	}

	names := make([]nameEntry, 0, h.batch)
	for d.cursor < len(d.entries) && len(names) < h.batch {
		entry := d.entries[d.cursor]
		d.cursor++
		info, err := entry.Info()
		if err != nil {
			// Entry vanished between snapshot and stat: omit it.
			continue
		}
		names = append(names, nameEntry{
			filename: entry.Name(),
			longname: formatLongname(info),
			attrs:    attrsFromFileInfo(info),
		})
	}
	if len(names) == 0 {
		return statusPacket(id, fxEOF, "end of file")
	}
	return namePacket(id, names)
}

func (h *Handler) handleMkdir(ctx context.Context, sess *Session, id uint32, payload []byte) []byte {
	path, payload, err := unmarshalString(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed MKDIR")
	}
	attrs, _, err := unmarshalAttrs(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed MKDIR")
	}
	if !validPath(path) {
		h.logPath(sess, models.ActionMkdir, path, false)
		return statusPacket(id, fxFailure, "invalid filename")
	}

	decision, resp, ok := h.authorize(ctx, sess, id, authz.Request{Op: authz.OpMakeDir, Path: path}, models.ActionMkdir)
	if !ok {
		return resp
	}

	mode := fs.FileMode(0o755)
	if attrs.flags&attrFlagPermissions != 0 {
		mode = fs.FileMode(attrs.permissions) & fs.ModePerm
	}
	err = os.Mkdir(decision.LocalPath, mode)
	h.logPath(sess, models.ActionMkdir, path, err == nil)
	code, msg := statusFromError(err)
	return statusPacket(id, code, msg)
}

func (h *Handler) handleRmdir(ctx context.Context, sess *Session, id uint32, payload []byte) []byte {
	path, _, err := unmarshalString(payload)
	if err != nil {
		return statusPacket(id, fxBadMessage, "malformed RMDIR")
	}
	if !validPath(path) {
		h.logPath(sess, models.ActionRmdir, path, false)
		return statusPacket(id, fxFailure, "invalid filename")
	}

	decision, resp, ok := h.authorize(ctx, sess, id, authz.Request{Op: authz.OpRemove, Path: path}, models.ActionRmdir)
	if !ok {
		return resp
	}

	info, err := os.Lstat(decision.LocalPath)
	if err != nil {
		h.logPath(sess, models.ActionRmdir, path, false)
		code, msg := statusFromError(err)
		return statusPacket(id, code, msg)
	}
	if !info.IsDir() {
		h.logPath(sess, models.ActionRmdir, path, false)
		return statusPacket(id, fxFailure, "not a directory")
	}

	err = os.Remove(decision.LocalPath)
	h.logPath(sess, models.ActionRmdir, path, err == nil)
	code, msg := statusFromError(err)
	return statusPacket(id, code, msg)
}
