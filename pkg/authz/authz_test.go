package authz

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wharfd/wharfd/pkg/models"
)

type fakeStore struct {
	subs  map[string]bool
	perms map[string]*models.ListenerPermission
	vps   map[string][]*models.VirtualPath
}

func (f *fakeStore) IsSubscribed(_ context.Context, userID, listenerID string) (bool, error) {
	return f.subs[userID+"/"+listenerID], nil
}

func (f *fakeStore) GetListenerPermission(_ context.Context, userID, listenerID string) (*models.ListenerPermission, error) {
	p, ok := f.perms[userID+"/"+listenerID]
	if !ok {
		return nil, models.ErrPermissionNotFound
	}
	return p, nil
}

func (f *fakeStore) ListVirtualPaths(_ context.Context, userID string) ([]*models.VirtualPath, error) {
	return f.vps[userID], nil
}

// newFakeStore wires a subscribed user with a full listener permission and
// the given mappings. Tests mutate the returned store to build scenarios.
func newFakeStore(mappings ...*models.VirtualPath) *fakeStore {
	return &fakeStore{
		subs:  map[string]bool{"u1/l1": true},
		perms: map[string]*models.ListenerPermission{"u1/l1": models.FullListenerPermission("u1", "l1")},
		vps:   map[string][]*models.VirtualPath{"u1": mappings},
	}
}

func fullMapping(virtual, local string) *models.VirtualPath {
	return &models.VirtualPath{
		UserID:         "u1",
		VirtualPath:    virtual,
		LocalPath:      local,
		CanRead:        true,
		CanWrite:       true,
		CanAppend:      true,
		CanDelete:      true,
		CanList:        true,
		CanCreateDir:   true,
		CanRename:      true,
		ApplyToSubdirs: true,
	}
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "/"},
		{"root", "/", "/"},
		{"plain", "/docs/report.pdf", "/docs/report.pdf"},
		{"relative", "docs/report.pdf", "/docs/report.pdf"},
		{"backslashes", "\\docs\\report.pdf", "/docs/report.pdf"},
		{"duplicate slashes", "//docs///a", "/docs/a"},
		{"dot segments", "/docs/./a", "/docs/a"},
		{"traversal kept", "/../../etc/passwd", "/../../etc/passwd"},
		{"mixed", "docs\\..\\a", "/docs/../a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizePath(tt.in))
		})
	}
}

func TestAuthorizeUnsubscribed(t *testing.T) {
	t.Parallel()

	store := newFakeStore(fullMapping("/", t.TempDir()))
	store.subs = map[string]bool{}
	a := New(store)

	d, err := a.Authorize(context.Background(), Request{
		UserID: "u1", ListenerID: "l1", Op: OpList, Path: "/",
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonUnsubscribed, d.Reason)
}

func TestAuthorizeMissingPermissionRowDeniesEverything(t *testing.T) {
	t.Parallel()

	store := newFakeStore(fullMapping("/", t.TempDir()))
	store.perms = map[string]*models.ListenerPermission{}
	a := New(store)

	for _, op := range []Op{OpRead, OpWrite, OpAppend, OpList, OpRemove, OpMakeDir, OpRename, OpStat} {
		d, err := a.Authorize(context.Background(), Request{
			UserID: "u1", ListenerID: "l1", Op: op, Path: "/f", TargetPath: "/g",
		})
		require.NoError(t, err, "op %s", op)
		assert.False(t, d.Allowed, "op %s", op)
		assert.Equal(t, ReasonCapability, d.Reason, "op %s", op)
	}
}

func TestAuthorizeNoMapping(t *testing.T) {
	t.Parallel()

	store := newFakeStore(fullMapping("/docs", t.TempDir()))
	a := New(store)

	d, err := a.Authorize(context.Background(), Request{
		UserID: "u1", ListenerID: "l1", Op: OpStat, Path: "/pictures/cat.jpg",
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoMapping, d.Reason)
}

func TestAuthorizeReadOnlyMapping(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "report.pdf"), []byte("x"), 0o600))

	vp := fullMapping("/", root)
	vp.CanWrite = false
	a := New(newFakeStore(vp))

	d, err := a.Authorize(context.Background(), Request{
		UserID: "u1", ListenerID: "l1", Op: OpWrite, Path: "/report.pdf",
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonCapability, d.Reason)

	d, err = a.Authorize(context.Background(), Request{
		UserID: "u1", ListenerID: "l1", Op: OpRead, Path: "/report.pdf",
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, filepath.Join(root, "report.pdf"), d.LocalPath)
	assert.True(t, d.Exists)
}

func TestAuthorizeCreateVersusEdit(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := newFakeStore(fullMapping("/", root))
	perm := store.perms["u1/l1"]
	perm.CanCreate = true
	perm.CanEdit = false
	a := New(store)

	req := Request{UserID: "u1", ListenerID: "l1", Op: OpWrite, Path: "/new.txt"}

	// The file does not exist yet, so the write is a create.
	d, err := a.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.False(t, d.Exists)

	require.NoError(t, os.WriteFile(d.LocalPath, []byte("v1"), 0o600))

	// Now it exists: the same request needs the edit capability.
	d, err = a.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonCapability, d.Reason)
}

func TestAuthorizeRename(t *testing.T) {
	t.Parallel()

	t.Run("target mapping must allow writes", func(t *testing.T) {
		t.Parallel()

		src := fullMapping("/a", t.TempDir())
		dst := fullMapping("/b", t.TempDir())
		dst.CanWrite = false
		a := New(newFakeStore(src, dst))

		d, err := a.Authorize(context.Background(), Request{
			UserID: "u1", ListenerID: "l1", Op: OpRename,
			Path: "/a/old.txt", TargetPath: "/b/new.txt",
		})
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonCapability, d.Reason)
	})

	t.Run("source mapping must allow rename", func(t *testing.T) {
		t.Parallel()

		src := fullMapping("/a", t.TempDir())
		src.CanRename = false
		dst := fullMapping("/b", t.TempDir())
		a := New(newFakeStore(src, dst))

		d, err := a.Authorize(context.Background(), Request{
			UserID: "u1", ListenerID: "l1", Op: OpRename,
			Path: "/a/old.txt", TargetPath: "/b/new.txt",
		})
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonCapability, d.Reason)
	})

	t.Run("allowed rename materializes both ends", func(t *testing.T) {
		t.Parallel()

		srcRoot := t.TempDir()
		dstRoot := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "old.txt"), []byte("x"), 0o600))
		a := New(newFakeStore(fullMapping("/a", srcRoot), fullMapping("/b", dstRoot)))

		d, err := a.Authorize(context.Background(), Request{
			UserID: "u1", ListenerID: "l1", Op: OpRename,
			Path: "/a/old.txt", TargetPath: "/b/new.txt",
		})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, filepath.Join(srcRoot, "old.txt"), d.LocalPath)
		assert.Equal(t, filepath.Join(dstRoot, "new.txt"), d.TargetLocalPath)
		assert.True(t, d.Exists)
	})
}

func TestAuthorizeTraversalEscape(t *testing.T) {
	t.Parallel()

	a := New(newFakeStore(fullMapping("/", t.TempDir())))

	d, err := a.Authorize(context.Background(), Request{
		UserID: "u1", ListenerID: "l1", Op: OpStat, Path: "/../../etc/passwd",
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonEscape, d.Reason)
	assert.Empty(t, d.LocalPath)
}

func TestAuthorizeSymlinkEscape(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))
	a := New(newFakeStore(fullMapping("/", root)))

	d, err := a.Authorize(context.Background(), Request{
		UserID: "u1", ListenerID: "l1", Op: OpRead, Path: "/link/secret.txt",
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonEscape, d.Reason)
}

func TestAuthorizeLongestPrefixWins(t *testing.T) {
	t.Parallel()

	rootAll := t.TempDir()
	rootDocs := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(rootDocs, "a.txt"), []byte("x"), 0o600))

	a := New(newFakeStore(fullMapping("/", rootAll), fullMapping("/docs", rootDocs)))

	d, err := a.Authorize(context.Background(), Request{
		UserID: "u1", ListenerID: "l1", Op: OpRead, Path: "/docs/a.txt",
	})
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.Equal(t, filepath.Join(rootDocs, "a.txt"), d.LocalPath)
	assert.Equal(t, "/docs", d.Mapping.VirtualPath)
}

func TestAuthorizeApplyToSubdirs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o750))

	vp := fullMapping("/inbox", root)
	vp.ApplyToSubdirs = false
	a := New(newFakeStore(vp))

	d, err := a.Authorize(context.Background(), Request{
		UserID: "u1", ListenerID: "l1", Op: OpList, Path: "/inbox",
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed, "the node itself stays covered")

	d, err = a.Authorize(context.Background(), Request{
		UserID: "u1", ListenerID: "l1", Op: OpList, Path: "/inbox/sub",
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonCapability, d.Reason)
}

func TestAuthorizeStatGatedByList(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := newFakeStore(fullMapping("/", root))
	store.perms["u1/l1"].CanList = false
	a := New(store)

	d, err := a.Authorize(context.Background(), Request{
		UserID: "u1", ListenerID: "l1", Op: OpStat, Path: "/",
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonCapability, d.Reason)
}

func TestAuthorizeListenerLayerCheckedFirst(t *testing.T) {
	t.Parallel()

	// The mapping allows deletes but the listener does not: the listener
	// layer must win before the mapping is even consulted.
	store := newFakeStore(fullMapping("/", t.TempDir()))
	store.perms["u1/l1"].CanDelete = false
	a := New(store)

	d, err := a.Authorize(context.Background(), Request{
		UserID: "u1", ListenerID: "l1", Op: OpRemove, Path: "/f",
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonCapability, d.Reason)
}

func TestResolveExistingRejoinsMissingSuffix(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	resolved, err := resolveExisting(filepath.Join(root, "does", "not", "exist.txt"))
	require.NoError(t, err)

	resolvedRoot, err := resolveExisting(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(resolvedRoot, "does", "not", "exist.txt"), resolved)
}
