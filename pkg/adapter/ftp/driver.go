package ftp

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	ftp "goftp.io/server/core"

	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/internal/telemetry"
	"github.com/wharfd/wharfd/pkg/authz"
	"github.com/wharfd/wharfd/pkg/models"
)

// Client-facing errors. The FTP server puts the text of the returned
// error in the 550 reply, so these never carry local filesystem paths.
var (
	errPermissionDenied = errors.New("permission denied")
	errNoSuchFile       = errors.New("no such file or directory")
	errNotLoggedIn      = errors.New("not logged in")
)

type driverFactory struct {
	adapter *Adapter
}

// NewDriver builds the driver for the connection accepted immediately
// before this call. One driver serves one control connection.
func (f *driverFactory) NewDriver() (ftp.Driver, error) {
	return &driver{adapter: f.adapter, conn: f.adapter.takePending()}, nil
}

type driver struct {
	adapter *Adapter
	conn    *ftpConn

	mu   sync.Mutex
	user *models.User
}

// CheckPasswd authenticates the control connection. The server prefers
// this over the server-level Auth when the driver implements it.
func (d *driver) CheckPasswd(username, password string) (bool, error) {
	a := d.adapter
	clientIP := ""
	if d.conn != nil {
		clientIP = hostOnly(d.conn.RemoteAddr().String())
	}

	user, err := a.auth.Password(a.shutdownCtx, username, password, clientIP)
	if err != nil {
		return false, nil
	}

	d.mu.Lock()
	d.user = user
	d.mu.Unlock()
	a.registerSession(d.conn, user)
	return true, nil
}

func (d *driver) currentUser() *models.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.user
}

// observe starts a duration observation for one client command. The
// returned func records it; most commands defer it, transfers hand it
// to the reader that completes out of band.
func (d *driver) observe(requestType string) func() {
	m := d.adapter.transferMetrics
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() { m.ObserveRequest(requestType, time.Since(start)) }
}

// startSpan opens the tracing span for one client command, annotated the
// same way SFTP request spans are so traces read alike across protocols.
func (d *driver) startSpan(command, virtualPath string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	a := d.adapter
	spanAttrs := []attribute.KeyValue{
		telemetry.ListenerName(a.listener.Name),
		telemetry.FSPath(virtualPath),
	}
	if d.conn != nil {
		spanAttrs = append(spanAttrs, telemetry.ClientAddr(d.conn.RemoteAddr().String()))
		if sessionID, username := d.conn.session(); sessionID != "" {
			spanAttrs = append(spanAttrs, telemetry.SessionID(sessionID), telemetry.Username(username))
		}
	}
	spanAttrs = append(spanAttrs, attrs...)
	return telemetry.StartFTPSpan(a.shutdownCtx, command, spanAttrs...)
}

// fail records the client-facing error on the command span and returns it.
func fail(ctx context.Context, err error) error {
	telemetry.RecordError(ctx, err)
	return err
}

// Stat implements SIZE and the probe the server runs before LIST.
func (d *driver) Stat(p string) (ftp.FileInfo, error) {
	defer d.observe("stat")()
	vp := posixPath(p)
	ctx, span := d.startSpan("stat", vp)
	defer span.End()

	decision, err := d.authorize(ctx, authz.OpStat, vp, "", models.ActionStat)
	if err != nil {
		return nil, fail(ctx, err)
	}
	info, err := os.Stat(decision.LocalPath)
	if err != nil {
		d.logPath(models.ActionStat, vp, false)
		return nil, fail(ctx, mapOSError(err))
	}
	d.logPath(models.ActionStat, vp, true)
	return d.fileInfo(info), nil
}

// ChangeDir validates CWD targets. Successful directory changes are not
// recorded as activity; the listing that usually follows is.
func (d *driver) ChangeDir(p string) error {
	defer d.observe("cwd")()
	vp := posixPath(p)
	ctx, span := d.startSpan("cwd", vp)
	defer span.End()

	decision, err := d.authorize(ctx, authz.OpStat, vp, "", models.ActionStat)
	if err != nil {
		return fail(ctx, err)
	}
	info, err := os.Stat(decision.LocalPath)
	if err != nil {
		return fail(ctx, mapOSError(err))
	}
	if !info.IsDir() {
		return fail(ctx, errors.New("not a directory"))
	}
	return nil
}

func (d *driver) ListDir(p string, callback func(ftp.FileInfo) error) error {
	defer d.observe("list")()
	vp := posixPath(p)
	ctx, span := d.startSpan("list", vp)
	defer span.End()

	decision, err := d.authorize(ctx, authz.OpList, vp, "", models.ActionList)
	if err != nil {
		return fail(ctx, err)
	}
	entries, err := os.ReadDir(decision.LocalPath)
	if err != nil {
		d.logPath(models.ActionList, vp, false)
		return fail(ctx, mapOSError(err))
	}
	d.logPath(models.ActionList, vp, true)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// Entry vanished between the read and the stat.
			continue
		}
		if err := callback(d.fileInfo(info)); err != nil {
			return fail(ctx, err)
		}
	}
	return nil
}

func (d *driver) DeleteFile(p string) error {
	defer d.observe("dele")()
	vp := posixPath(p)
	ctx, span := d.startSpan("dele", vp)
	defer span.End()

	decision, err := d.authorize(ctx, authz.OpRemove, vp, "", models.ActionRemove)
	if err != nil {
		return fail(ctx, err)
	}
	info, err := os.Lstat(decision.LocalPath)
	if err != nil {
		d.logPath(models.ActionRemove, vp, false)
		return fail(ctx, mapOSError(err))
	}
	if info.IsDir() {
		d.logPath(models.ActionRemove, vp, false)
		return fail(ctx, errors.New("is a directory"))
	}
	err = os.Remove(decision.LocalPath)
	d.logPath(models.ActionRemove, vp, err == nil)
	if err != nil {
		return fail(ctx, mapOSError(err))
	}
	return nil
}

func (d *driver) DeleteDir(p string) error {
	defer d.observe("rmd")()
	vp := posixPath(p)
	ctx, span := d.startSpan("rmd", vp)
	defer span.End()

	decision, err := d.authorize(ctx, authz.OpRemove, vp, "", models.ActionRmdir)
	if err != nil {
		return fail(ctx, err)
	}
	info, err := os.Lstat(decision.LocalPath)
	if err != nil {
		d.logPath(models.ActionRmdir, vp, false)
		return fail(ctx, mapOSError(err))
	}
	if !info.IsDir() {
		d.logPath(models.ActionRmdir, vp, false)
		return fail(ctx, errors.New("not a directory"))
	}
	err = os.Remove(decision.LocalPath)
	d.logPath(models.ActionRmdir, vp, err == nil)
	if err != nil {
		return fail(ctx, mapOSError(err))
	}
	return nil
}

func (d *driver) Rename(fromPath, toPath string) error {
	defer d.observe("rename")()
	from := posixPath(fromPath)
	to := posixPath(toPath)
	activityPath := from + " -> " + to
	ctx, span := d.startSpan("rename", from, telemetry.FSTargetPath(to))
	defer span.End()

	decision, err := d.authorize(ctx, authz.OpRename, from, to, models.ActionRename)
	if err != nil {
		return fail(ctx, err)
	}
	err = os.Rename(decision.LocalPath, decision.TargetLocalPath)
	d.logPath(models.ActionRename, activityPath, err == nil)
	if err != nil {
		return fail(ctx, mapOSError(err))
	}
	return nil
}

func (d *driver) MakeDir(p string) error {
	defer d.observe("mkd")()
	vp := posixPath(p)
	ctx, span := d.startSpan("mkd", vp)
	defer span.End()

	decision, err := d.authorize(ctx, authz.OpMakeDir, vp, "", models.ActionMkdir)
	if err != nil {
		return fail(ctx, err)
	}
	err = os.Mkdir(decision.LocalPath, 0o755)
	d.logPath(models.ActionMkdir, vp, err == nil)
	if err != nil {
		return fail(ctx, mapOSError(err))
	}
	return nil
}

// GetFile serves RETR. The returned size is the bytes remaining after the
// REST offset. The duration observation and span end when the server
// closes the returned reader, so they cover the data transfer.
func (d *driver) GetFile(p string, offset int64) (size int64, rc io.ReadCloser, err error) {
	done := d.observe("retr")
	vp := posixPath(p)
	ctx, span := d.startSpan("retr", vp, telemetry.FSOffset(uint64(offset)))
	defer func() {
		if rc == nil {
			span.End()
			done()
		}
	}()

	decision, err := d.authorize(ctx, authz.OpRead, vp, "", models.ActionDownload)
	if err != nil {
		return 0, nil, fail(ctx, err)
	}

	f, err := os.Open(decision.LocalPath)
	if err != nil {
		d.logPath(models.ActionDownload, vp, false)
		return 0, nil, fail(ctx, mapOSError(err))
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		d.logPath(models.ActionDownload, vp, false)
		return 0, nil, fail(ctx, mapOSError(err))
	}
	if info.IsDir() {
		f.Close()
		d.logPath(models.ActionDownload, vp, false)
		return 0, nil, fail(ctx, errors.New("is a directory"))
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			d.logPath(models.ActionDownload, vp, false)
			return 0, nil, fail(ctx, errors.New("seek failed"))
		}
	}

	size = info.Size() - offset
	if size < 0 {
		size = 0
	}
	span.SetAttributes(telemetry.FSSize(uint64(info.Size())))
	d.logPath(models.ActionDownload, vp, true)
	return size, &downloadReader{ReadCloser: f, metrics: d.adapter.transferMetrics, done: done, span: span}, nil
}

// downloadReader counts bytes handed to the data connection and closes
// out the command's duration observation and span.
type downloadReader struct {
	io.ReadCloser
	metrics TransferMetrics
	done    func()
	span    trace.Span
}

func (r *downloadReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if n > 0 && r.metrics != nil {
		r.metrics.AddBytesRead(int64(n))
	}
	return n, err
}

func (r *downloadReader) Close() error {
	err := r.ReadCloser.Close()
	if r.done != nil {
		r.done()
		r.done = nil
	}
	if r.span != nil {
		r.span.End()
		r.span = nil
	}
	return err
}

// PutFile serves STOR and APPE. The upload copy runs inside the call, so
// the span covers the data transfer.
func (d *driver) PutFile(p string, data io.Reader, appendData bool) (int64, error) {
	vp := posixPath(p)
	op := authz.OpWrite
	requestType := "stor"
	if appendData {
		op = authz.OpAppend
		requestType = "appe"
	}
	defer d.observe(requestType)()
	ctx, span := d.startSpan(requestType, vp)
	defer span.End()

	decision, err := d.authorize(ctx, op, vp, "", models.ActionUpload)
	if err != nil {
		return 0, fail(ctx, err)
	}

	flags := os.O_WRONLY | os.O_CREATE
	if appendData {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(decision.LocalPath, flags, 0o644)
	if err != nil {
		d.logPath(models.ActionUpload, vp, false)
		return 0, fail(ctx, mapOSError(err))
	}
	defer f.Close()

	n, err := io.Copy(f, data)
	if n > 0 {
		if m := d.adapter.transferMetrics; m != nil {
			m.AddBytesWritten(n)
		}
	}
	d.logPath(models.ActionUpload, vp, err == nil)
	if err != nil {
		return n, fail(ctx, errors.New("transfer aborted"))
	}
	return n, nil
}

// authorize runs one authorization decision and records the denial trail.
// The returned error carries the client-safe message.
func (d *driver) authorize(ctx context.Context, op authz.Op, virtualPath, targetPath, action string) (authz.Decision, error) {
	user := d.currentUser()
	if user == nil {
		return authz.Decision{}, errNotLoggedIn
	}

	a := d.adapter
	decision, err := a.authorizer.Authorize(ctx, authz.Request{
		UserID:     user.ID,
		ListenerID: a.listener.ID,
		Op:         op,
		Path:       virtualPath,
		TargetPath: targetPath,
	})
	if err != nil {
		logger.Warn("authorization error",
			logger.KeyListener, a.listener.Name,
			logger.KeyUsername, user.Username,
			logger.KeyAction, action,
			logger.KeyPath, virtualPath,
			logger.KeyError, err.Error())
		d.logPath(models.Denied(action), virtualPath, false)
		return decision, errPermissionDenied
	}
	if !decision.Allowed {
		logger.Debug("request denied",
			logger.KeyListener, a.listener.Name,
			logger.KeyUsername, user.Username,
			logger.KeyAction, action,
			logger.KeyPath, virtualPath,
			logger.KeyReason, string(decision.Reason))
		d.logPath(models.Denied(action), virtualPath, false)
		// An unmapped path stays indistinguishable from a missing one.
		if decision.Reason == authz.ReasonNoMapping {
			return decision, errNoSuchFile
		}
		return decision, errPermissionDenied
	}
	return decision, nil
}

func (d *driver) logPath(action, virtualPath string, success bool) {
	username := ""
	if user := d.currentUser(); user != nil {
		username = user.Username
	}
	d.adapter.logActivity(&models.ActivityRecord{
		ListenerID: &d.adapter.listener.ID,
		Username:   username,
		Action:     action,
		Path:       virtualPath,
		Success:    success,
	})
}

func (d *driver) fileInfo(info os.FileInfo) ftp.FileInfo {
	username := ""
	if user := d.currentUser(); user != nil {
		username = user.Username
	}
	return &fileInfo{FileInfo: info, owner: username, group: username}
}

// fileInfo decorates os.FileInfo with the owner and group names directory
// listings print. Local uid/gid would leak host details, so entries are
// reported as owned by the authenticated user.
type fileInfo struct {
	os.FileInfo
	owner string
	group string
}

func (f *fileInfo) Owner() string { return f.owner }
func (f *fileInfo) Group() string { return f.group }

// posixPath forces a client path into clean absolute form. The command
// layer resolves relative paths against the working directory before the
// driver sees them, so dot segments collapse here rather than reaching
// the authorizer.
func posixPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// mapOSError converts a filesystem error into a client-safe one without
// the local path baked into os.PathError.
func mapOSError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return errNoSuchFile
	case errors.Is(err, fs.ErrPermission):
		return errPermissionDenied
	case errors.Is(err, fs.ErrExist):
		return errors.New("file exists")
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return errors.New(pathErr.Err.Error())
	}
	return err
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
