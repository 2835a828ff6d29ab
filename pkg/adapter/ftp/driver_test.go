package ftp

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ftp "goftp.io/server/core"

	"github.com/wharfd/wharfd/pkg/adapter"
	"github.com/wharfd/wharfd/pkg/authz"
	"github.com/wharfd/wharfd/pkg/models"
)

// newTestDriver builds a driver with an authenticated user and a root
// mapping onto a temp directory, without any network in the loop.
func newTestDriver(t *testing.T, mutate ...func(*fakeStore)) (*driver, *recordingSink, string) {
	t.Helper()

	root := t.TempDir()
	listener := &models.Listener{
		ID:        testListenerID,
		Name:      "ftp-main",
		Protocol:  models.ProtocolFTP,
		BindingIP: "127.0.0.1",
		Port:      2121,
		Enabled:   true,
	}
	store := newFakeStore(root)
	for _, m := range mutate {
		m(store)
	}

	sink := &recordingSink{}
	a, err := New(listener, Deps{
		Authorizer: authz.New(store),
		Auth:       adapter.NewAuthenticator(store, sink, listener),
		Activities: sink,
	}, Config{})
	require.NoError(t, err)

	return &driver{adapter: a, user: store.user}, sink, root
}

func TestDriver_CheckPasswd(t *testing.T) {
	d, sink, _ := newTestDriver(t)

	ok, err := d.CheckPasswd("alice", "hunter2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, sink.actions(), models.ActionLogin)

	ok, err = d.CheckPasswd("alice", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, sink.actions(), models.Denied(models.ActionLogin))
}

func TestDriver_PutAndGetFile(t *testing.T) {
	d, sink, root := newTestDriver(t)

	n, err := d.PutFile("/hello.txt", strings.NewReader("hello ftp"), false)
	require.NoError(t, err)
	assert.EqualValues(t, 9, n)

	data, err := os.ReadFile(filepath.Join(root, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello ftp", string(data))

	size, rc, err := d.GetFile("/hello.txt", 0)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.EqualValues(t, 9, size)
	assert.Equal(t, "hello ftp", string(got))

	assert.Contains(t, sink.actions(), models.ActionUpload)
	assert.Contains(t, sink.actions(), models.ActionDownload)
}

func TestDriver_GetFileResumesAtOffset(t *testing.T) {
	d, _, root := newTestDriver(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "file.bin"), []byte("0123456789"), 0o644))

	size, rc, err := d.GetFile("/file.bin", 6)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.EqualValues(t, 4, size)
	assert.Equal(t, "6789", string(got))
}

func TestDriver_GetFileRejectsDirectory(t *testing.T) {
	d, _, root := newTestDriver(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0o755))

	_, _, err := d.GetFile("/dir", 0)
	require.EqualError(t, err, "is a directory")
}

func TestDriver_PutFileAppends(t *testing.T) {
	d, _, root := newTestDriver(t)

	_, err := d.PutFile("/log.txt", strings.NewReader("one"), true)
	require.NoError(t, err)
	_, err = d.PutFile("/log.txt", strings.NewReader("two"), true)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "log.txt"))
	require.NoError(t, err)
	assert.Equal(t, "onetwo", string(data))
}

func TestDriver_PutFileTruncatesOnOverwrite(t *testing.T) {
	d, _, root := newTestDriver(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("long original content"), 0o644))

	_, err := d.PutFile("/f.txt", strings.NewReader("short"), false)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "short", string(data))
}

func TestDriver_ListDir(t *testing.T) {
	d, sink, root := newTestDriver(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

	var names []string
	var owners []string
	err := d.ListDir("/", func(info ftp.FileInfo) error {
		names = append(names, info.Name())
		owners = append(owners, info.Owner())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt", "sub"}, names)
	for _, owner := range owners {
		assert.Equal(t, "alice", owner)
	}
	assert.Contains(t, sink.actions(), models.ActionList)
}

func TestDriver_StatAndChangeDir(t *testing.T) {
	d, _, root := newTestDriver(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "readme.md"), []byte("x"), 0o644))

	info, err := d.Stat("/docs/readme.md")
	require.NoError(t, err)
	assert.Equal(t, "readme.md", info.Name())
	assert.Equal(t, "alice", info.Owner())

	require.NoError(t, d.ChangeDir("/docs"))
	require.EqualError(t, d.ChangeDir("/docs/readme.md"), "not a directory")

	_, err = d.Stat("/missing.txt")
	require.ErrorIs(t, err, errNoSuchFile)
}

func TestDriver_UnmappedPathLooksMissing(t *testing.T) {
	d, sink, _ := newTestDriver(t, func(s *fakeStore) {
		s.vps[0].VirtualPath = "/data"
	})

	_, err := d.Stat("/elsewhere")
	require.ErrorIs(t, err, errNoSuchFile)
	assert.Contains(t, sink.actions(), models.Denied(models.ActionStat))
}

func TestDriver_DeleteFile(t *testing.T) {
	d, sink, root := newTestDriver(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "gone.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "keep"), 0o755))

	require.EqualError(t, d.DeleteFile("/keep"), "is a directory")
	require.NoError(t, d.DeleteFile("/gone.txt"))

	_, err := os.Stat(filepath.Join(root, "gone.txt"))
	assert.True(t, os.IsNotExist(err))
	assert.Contains(t, sink.actions(), models.ActionRemove)
}

func TestDriver_DeleteDir(t *testing.T) {
	d, sink, root := newTestDriver(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "file.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "empty"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "full", "nested"), 0o755))

	require.EqualError(t, d.DeleteDir("/file.txt"), "not a directory")
	require.NoError(t, d.DeleteDir("/empty"))

	err := d.DeleteDir("/full")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), root, "local paths must not leak to clients")

	assert.Contains(t, sink.actions(), models.ActionRmdir)
}

func TestDriver_Rename(t *testing.T) {
	d, sink, root := newTestDriver(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "old.txt"), []byte("x"), 0o644))

	require.NoError(t, d.Rename("/old.txt", "/new.txt"))

	_, err := os.Stat(filepath.Join(root, "new.txt"))
	require.NoError(t, err)
	rec, ok := sink.last(models.ActionRename)
	require.True(t, ok)
	assert.Equal(t, "/old.txt -> /new.txt", rec.Path)
	assert.True(t, rec.Success)
}

func TestDriver_MakeDir(t *testing.T) {
	d, sink, root := newTestDriver(t)

	require.NoError(t, d.MakeDir("/uploads"))
	info, err := os.Stat(filepath.Join(root, "uploads"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.EqualError(t, d.MakeDir("/uploads"), "file exists")
	assert.Contains(t, sink.actions(), models.ActionMkdir)
}

func TestDriver_UploadDeniedWithoutCreateGrant(t *testing.T) {
	d, sink, _ := newTestDriver(t, func(s *fakeStore) {
		s.perm = &models.ListenerPermission{
			UserID:       testUserID,
			ListenerID:   testListenerID,
			CanAppend:    true,
			CanDelete:    true,
			CanList:      true,
			CanCreateDir: true,
			CanRename:    true,
		}
	})

	_, err := d.PutFile("/x.txt", strings.NewReader("x"), false)
	require.ErrorIs(t, err, errPermissionDenied)
	assert.Contains(t, sink.actions(), models.Denied(models.ActionUpload))
}

func TestDriver_DownloadDeniedByMapping(t *testing.T) {
	d, sink, root := newTestDriver(t, func(s *fakeStore) {
		s.vps[0].CanRead = false
	})
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.txt"), []byte("x"), 0o644))

	_, _, err := d.GetFile("/secret.txt", 0)
	require.ErrorIs(t, err, errPermissionDenied)
	assert.Contains(t, sink.actions(), models.Denied(models.ActionDownload))
}

func TestDriver_RequiresLogin(t *testing.T) {
	d, _, _ := newTestDriver(t)
	d.user = nil

	_, err := d.Stat("/")
	require.ErrorIs(t, err, errNotLoggedIn)
}

func TestPosixPath(t *testing.T) {
	cases := map[string]string{
		"":           "/",
		"/":          "/",
		"reports":    "/reports",
		"/a/b/":      "/a/b",
		"/a/./b":     "/a/b",
		"/a/../b":    "/b",
		"/../escape": "/escape",
		"..":         "/",
	}
	for in, want := range cases {
		assert.Equal(t, want, posixPath(in), "posixPath(%q)", in)
	}
}

func TestMapOSError(t *testing.T) {
	require.ErrorIs(t, mapOSError(&fs.PathError{Op: "open", Path: "/x", Err: fs.ErrNotExist}), errNoSuchFile)
	require.ErrorIs(t, mapOSError(&fs.PathError{Op: "open", Path: "/x", Err: fs.ErrPermission}), errPermissionDenied)
	require.EqualError(t, mapOSError(&fs.PathError{Op: "mkdir", Path: "/x", Err: fs.ErrExist}), "file exists")

	err := mapOSError(&fs.PathError{Op: "open", Path: "/srv/tenant/secret", Err: errors.New("quota exhausted")})
	require.EqualError(t, err, "quota exhausted")
	assert.NotContains(t, err.Error(), "/srv/tenant")
}

type fakeTransferMetrics struct {
	mu           sync.Mutex
	observations map[string]int
	bytesRead    int64
	bytesWritten int64
}

func (m *fakeTransferMetrics) ObserveRequest(requestType string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.observations == nil {
		m.observations = make(map[string]int)
	}
	m.observations[requestType]++
}

func (m *fakeTransferMetrics) AddBytesRead(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytesRead += n
}

func (m *fakeTransferMetrics) AddBytesWritten(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytesWritten += n
}

func (m *fakeTransferMetrics) count(requestType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.observations[requestType]
}

func TestDriver_TransferMetrics(t *testing.T) {
	d, _, _ := newTestDriver(t)
	metrics := &fakeTransferMetrics{}
	d.adapter.transferMetrics = metrics

	n, err := d.PutFile("/m.txt", strings.NewReader("payload"), false)
	require.NoError(t, err)
	require.EqualValues(t, 7, n)

	size, rc, err := d.GetFile("/m.txt", 0)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.EqualValues(t, 7, size)
	assert.Equal(t, "payload", string(got))

	_, err = d.Stat("/m.txt")
	require.NoError(t, err)

	metrics.mu.Lock()
	read, written := metrics.bytesRead, metrics.bytesWritten
	metrics.mu.Unlock()
	assert.EqualValues(t, 7, written)
	assert.EqualValues(t, 7, read)
	assert.Equal(t, 1, metrics.count("stor"))
	assert.Equal(t, 1, metrics.count("retr"))
	assert.Equal(t, 1, metrics.count("stat"))
}
