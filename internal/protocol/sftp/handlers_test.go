package sftp

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wharfd/wharfd/pkg/models"
)

// ============================================================================
// OPEN / READ / WRITE
// ============================================================================

func TestOpenReadClose(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()
	fx.writeFile("hello.txt", []byte("hello, world"))

	handle := fx.openOK("/hello.txt", flagRead)

	body := marshalString(nil, handle)
	body = marshalUint64(body, 0)
	body = marshalUint32(body, 64)
	id := fx.send(fxpRead, body)

	typ, payload := fx.recv()
	require.EqualValues(t, fxpData, typ)
	gotID, rest, err := unmarshalUint32(payload)
	require.NoError(t, err)
	require.Equal(t, id, gotID)
	data, _, err := unmarshalBytes(rest)
	require.NoError(t, err)
	assert.Equal(t, "hello, world", string(data))

	// Reading past the end answers EOF status.
	body = marshalString(nil, handle)
	body = marshalUint64(body, uint64(len("hello, world")))
	body = marshalUint32(body, 64)
	id = fx.send(fxpRead, body)
	code, _ := fx.expectStatus(id)
	assert.EqualValues(t, fxEOF, code)

	assert.EqualValues(t, fxOK, fx.closeHandle(handle))
	assert.True(t, fx.Sink.has(models.ActionDownload))
}

func TestRead_OffsetAddressing(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()
	fx.writeFile("data.bin", []byte("0123456789"))

	handle := fx.openOK("/data.bin", flagRead)

	body := marshalString(nil, handle)
	body = marshalUint64(body, 4)
	body = marshalUint32(body, 3)
	_ = fx.send(fxpRead, body)

	typ, payload := fx.recv()
	require.EqualValues(t, fxpData, typ)
	_, rest, err := unmarshalUint32(payload)
	require.NoError(t, err)
	data, _, err := unmarshalBytes(rest)
	require.NoError(t, err)
	assert.Equal(t, "456", string(data))
}

func TestWrite_CreatesFile(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()

	handle := fx.openOK("/out.txt", flagWrite|flagCreat)

	body := marshalString(nil, handle)
	body = marshalUint64(body, 0)
	body = marshalBytes(body, []byte("written"))
	id := fx.send(fxpWrite, body)
	code, _ := fx.expectStatus(id)
	require.EqualValues(t, fxOK, code)

	require.EqualValues(t, fxOK, fx.closeHandle(handle))

	content, err := os.ReadFile(filepath.Join(fx.Root, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "written", string(content))
	assert.True(t, fx.Sink.has(models.ActionUpload))
}

func TestWrite_AppendIgnoresOffset(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()
	fx.writeFile("log.txt", []byte("first"))

	handle := fx.openOK("/log.txt", flagWrite|flagAppend)

	// The client offset lies; append mode must disregard it.
	body := marshalString(nil, handle)
	body = marshalUint64(body, 0)
	body = marshalBytes(body, []byte("|second"))
	id := fx.send(fxpWrite, body)
	code, _ := fx.expectStatus(id)
	require.EqualValues(t, fxOK, code)
	require.EqualValues(t, fxOK, fx.closeHandle(handle))

	content, err := os.ReadFile(filepath.Join(fx.Root, "log.txt"))
	require.NoError(t, err)
	assert.Equal(t, "first|second", string(content))
}

func TestOpen_ExclFailsOnExisting(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()
	fx.writeFile("taken.txt", []byte("x"))

	code, _ := fx.openStatus("/taken.txt", flagWrite|flagCreat|flagExcl)
	assert.EqualValues(t, fxFailure, code)
}

func TestOpen_TruncResetsContent(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()
	fx.writeFile("trunc.txt", []byte("old content"))

	handle := fx.openOK("/trunc.txt", flagWrite|flagTrunc)
	require.EqualValues(t, fxOK, fx.closeHandle(handle))

	info, err := os.Stat(filepath.Join(fx.Root, "trunc.txt"))
	require.NoError(t, err)
	assert.EqualValues(t, 0, info.Size())
}

func TestOpen_MissingFileStatus(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()

	code, _ := fx.openStatus("/absent.txt", flagRead)
	assert.EqualValues(t, fxNoSuchFile, code)
}

// ============================================================================
// Invalid names
// ============================================================================

func TestInvalidNames_Fail(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()

	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"nul byte", "/bad\x00name"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, _ := fx.openStatus(tc.path, flagRead)
			assert.EqualValues(t, fxFailure, code)

			id := fx.send(fxpMkdir, marshalUint32(marshalString(nil, tc.path), 0))
			code, _ = fx.expectStatus(id)
			assert.EqualValues(t, fxFailure, code)

			id = fx.send(fxpRemove, marshalString(nil, tc.path))
			code, _ = fx.expectStatus(id)
			assert.EqualValues(t, fxFailure, code)
		})
	}
}

// ============================================================================
// Directory listing
// ============================================================================

func TestReadDir_PagesAndTerminates(t *testing.T) {
	// Batch size 1 over three entries: OPENDIR, three one-entry READDIRs,
	// one EOF READDIR, CLOSE.
	fx := newFixture(t, withConfig(Config{ReadDirBatch: 1}))
	fx.negotiate()
	fx.writeFile("a.txt", nil)
	fx.writeFile("b.txt", nil)
	fx.writeFile("c.txt", nil)

	id := fx.send(fxpOpendir, marshalString(nil, "/"))
	handle := fx.expectHandle(id)

	var names []string
	rounds := 0
	for {
		rounds++
		id := fx.send(fxpReaddir, marshalString(nil, handle))
		typ, payload := fx.recv()
		if typ == fxpStatus {
			_, rest, err := unmarshalUint32(payload)
			require.NoError(t, err)
			code, _, err := unmarshalUint32(rest)
			require.NoError(t, err)
			require.EqualValues(t, fxEOF, code, "listing ends with EOF status")
			break
		}
		require.EqualValues(t, fxpName, typ)
		gotID, rest, err := unmarshalUint32(payload)
		require.NoError(t, err)
		require.Equal(t, id, gotID)
		count, rest, err := unmarshalUint32(rest)
		require.NoError(t, err)
		require.EqualValues(t, 1, count, "one entry per batch")
		name, _, err := unmarshalString(rest)
		require.NoError(t, err)
		names = append(names, name)
	}

	assert.Equal(t, 4, rounds, "three entries at batch size one need four round trips")
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, names, "entries come back sorted")
	assert.EqualValues(t, fxOK, fx.closeHandle(handle))
	assert.True(t, fx.Sink.has(models.ActionList))
}

func TestReadDir_LargeDirectoryBounded(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()

	const entries = 10_000
	for i := 0; i < entries; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(fx.Root, fmt.Sprintf("f%05d", i)), nil, 0o644))
	}

	id := fx.send(fxpOpendir, marshalString(nil, "/"))
	handle := fx.expectHandle(id)

	total := 0
	rounds := 0
	for {
		rounds++
		require.LessOrEqual(t, rounds, entries/DefaultReadDirBatch+1, "listing must terminate")
		fx.send(fxpReaddir, marshalString(nil, handle))
		typ, payload := fx.recv()
		if typ == fxpStatus {
			_, rest, err := unmarshalUint32(payload)
			require.NoError(t, err)
			code, _, err := unmarshalUint32(rest)
			require.NoError(t, err)
			require.EqualValues(t, fxEOF, code)
			break
		}
		require.EqualValues(t, fxpName, typ)
		_, rest, err := unmarshalUint32(payload)
		require.NoError(t, err)
		count, _, err := unmarshalUint32(rest)
		require.NoError(t, err)
		require.LessOrEqual(t, count, uint32(DefaultReadDirBatch))
		total += int(count)
	}

	assert.Equal(t, entries, total, "every entry listed exactly once")
	assert.Equal(t, entries/DefaultReadDirBatch+1, rounds)
}

func TestReadDir_SnapshotUnaffectedByLaterWrites(t *testing.T) {
	fx := newFixture(t, withConfig(Config{ReadDirBatch: 2}))
	fx.negotiate()
	fx.writeFile("a.txt", nil)
	fx.writeFile("b.txt", nil)
	fx.writeFile("c.txt", nil)

	id := fx.send(fxpOpendir, marshalString(nil, "/"))
	handle := fx.expectHandle(id)

	// New entries after OPENDIR are invisible to this handle.
	fx.writeFile("d.txt", nil)

	id = fx.send(fxpReaddir, marshalString(nil, handle))
	first := fx.expectNames(id)
	id = fx.send(fxpReaddir, marshalString(nil, handle))
	second := fx.expectNames(id)

	assert.Equal(t, []string{"a.txt", "b.txt"}, first)
	assert.Equal(t, []string{"c.txt"}, second)

	id = fx.send(fxpReaddir, marshalString(nil, handle))
	code, _ := fx.expectStatus(id)
	assert.EqualValues(t, fxEOF, code)
}

func TestOpenDir_MissingDirectory(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()

	id := fx.send(fxpOpendir, marshalString(nil, "/nowhere"))
	code, _ := fx.expectStatus(id)
	assert.EqualValues(t, fxNoSuchFile, code)
}

// ============================================================================
// REMOVE / RMDIR / MKDIR
// ============================================================================

func TestRemove_File(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()
	fx.writeFile("gone.txt", []byte("x"))

	id := fx.send(fxpRemove, marshalString(nil, "/gone.txt"))
	code, _ := fx.expectStatus(id)
	require.EqualValues(t, fxOK, code)

	_, err := os.Lstat(filepath.Join(fx.Root, "gone.txt"))
	assert.True(t, os.IsNotExist(err))
	assert.True(t, fx.Sink.has(models.ActionRemove))
}

func TestRemove_DirectoryRefused(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()
	require.NoError(t, os.Mkdir(filepath.Join(fx.Root, "dir"), 0o755))

	id := fx.send(fxpRemove, marshalString(nil, "/dir"))
	code, msg := fx.expectStatus(id)
	assert.EqualValues(t, fxFailure, code)
	assert.Contains(t, msg, "directory")
}

func TestRmdir_EmptyAndNonEmpty(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()
	require.NoError(t, os.Mkdir(filepath.Join(fx.Root, "empty"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(fx.Root, "full", "sub"), 0o755))

	id := fx.send(fxpRmdir, marshalString(nil, "/empty"))
	code, _ := fx.expectStatus(id)
	assert.EqualValues(t, fxOK, code)

	id = fx.send(fxpRmdir, marshalString(nil, "/full"))
	code, _ = fx.expectStatus(id)
	assert.EqualValues(t, fxFailure, code, "non-empty directory is not removed")

	_, err := os.Lstat(filepath.Join(fx.Root, "full"))
	assert.NoError(t, err)
}

func TestRmdir_FileRefused(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()
	fx.writeFile("plain.txt", []byte("x"))

	id := fx.send(fxpRmdir, marshalString(nil, "/plain.txt"))
	code, _ := fx.expectStatus(id)
	assert.EqualValues(t, fxFailure, code)
}

func TestMkdir_CreatesDirectory(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()

	id := fx.send(fxpMkdir, marshalUint32(marshalString(nil, "/newdir"), 0))
	code, _ := fx.expectStatus(id)
	require.EqualValues(t, fxOK, code)

	info, err := os.Stat(filepath.Join(fx.Root, "newdir"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, fx.Sink.has(models.ActionMkdir))
}

func TestMkdir_ExistingFails(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()
	require.NoError(t, os.Mkdir(filepath.Join(fx.Root, "dup"), 0o755))

	id := fx.send(fxpMkdir, marshalUint32(marshalString(nil, "/dup"), 0))
	code, _ := fx.expectStatus(id)
	assert.EqualValues(t, fxFailure, code)
}

// ============================================================================
// RENAME
// ============================================================================

func TestRename_MovesFile(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()
	fx.writeFile("old.txt", []byte("content"))

	body := marshalString(nil, "/old.txt")
	body = marshalString(body, "/new.txt")
	id := fx.send(fxpRename, body)
	code, _ := fx.expectStatus(id)
	require.EqualValues(t, fxOK, code)

	_, err := os.Lstat(filepath.Join(fx.Root, "old.txt"))
	assert.True(t, os.IsNotExist(err))
	content, err := os.ReadFile(filepath.Join(fx.Root, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "content", string(content))
	assert.True(t, fx.Sink.has(models.ActionRename))
}

func TestRename_NeverOverwrites(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()
	fx.writeFile("src.txt", []byte("source"))
	fx.writeFile("dst.txt", []byte("target"))

	body := marshalString(nil, "/src.txt")
	body = marshalString(body, "/dst.txt")
	id := fx.send(fxpRename, body)
	code, _ := fx.expectStatus(id)
	assert.EqualValues(t, fxFailure, code)

	content, err := os.ReadFile(filepath.Join(fx.Root, "dst.txt"))
	require.NoError(t, err)
	assert.Equal(t, "target", string(content), "existing target untouched")
}

// ============================================================================
// STAT / SETSTAT / REALPATH
// ============================================================================

func TestStat_ReturnsAttributes(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()
	fx.writeFile("sized.txt", []byte("12345"))

	id := fx.send(fxpStat, marshalString(nil, "/sized.txt"))
	typ, payload := fx.recv()
	require.EqualValues(t, fxpAttrs, typ)
	gotID, rest, err := unmarshalUint32(payload)
	require.NoError(t, err)
	require.Equal(t, id, gotID)
	attrs, _, err := unmarshalAttrs(rest)
	require.NoError(t, err)
	assert.EqualValues(t, 5, attrs.size)
	assert.NotZero(t, attrs.permissions&modeRegular)
}

func TestFstat_UsesHandle(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()
	fx.writeFile("f.txt", []byte("abc"))
	handle := fx.openOK("/f.txt", flagRead)

	_ = fx.send(fxpFstat, marshalString(nil, handle))
	typ, payload := fx.recv()
	require.EqualValues(t, fxpAttrs, typ)
	_, rest, err := unmarshalUint32(payload)
	require.NoError(t, err)
	attrs, _, err := unmarshalAttrs(rest)
	require.NoError(t, err)
	assert.EqualValues(t, 3, attrs.size)
}

func TestSetstat_TruncatesToSize(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()
	fx.writeFile("shrink.txt", []byte("0123456789"))

	body := marshalString(nil, "/shrink.txt")
	body = marshalUint32(body, attrFlagSize)
	body = marshalUint64(body, 4)
	id := fx.send(fxpSetstat, body)
	code, _ := fx.expectStatus(id)
	require.EqualValues(t, fxOK, code)

	info, err := os.Stat(filepath.Join(fx.Root, "shrink.txt"))
	require.NoError(t, err)
	assert.EqualValues(t, 4, info.Size())
}

func TestRealpath_Canonicalizes(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()

	tests := []struct {
		in   string
		want string
	}{
		{".", "/"},
		{"", "/"},
		{"/", "/"},
		{"/a/./b", "/a/b"},
		{"/a/../b", "/b"},
		{"relative/path", "/relative/path"},
	}
	for _, tc := range tests {
		id := fx.send(fxpRealpath, marshalString(nil, tc.in))
		names := fx.expectNames(id)
		require.Len(t, names, 1)
		assert.Equal(t, tc.want, names[0], "REALPATH %q", tc.in)
	}
}

// ============================================================================
// Authorization at the wire
// ============================================================================

// readOnlyMapping grants read and list only.
func readOnlyMapping(dir string) *models.VirtualPath {
	vp := fullMapping(dir)
	vp.CanWrite = false
	vp.CanAppend = false
	vp.CanDelete = false
	vp.CanCreateDir = false
	vp.CanRename = false
	return vp
}

func TestReadOnlyMapping_WritesDenied(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "ro.txt"), []byte("data"), 0o644))

	fx := newFixture(t, withVirtualPaths(readOnlyMapping(root)))
	fx.negotiate()

	// Reads still work.
	handle := fx.openOK("/ro.txt", flagRead)
	require.EqualValues(t, fxOK, fx.closeHandle(handle))

	// Every mutation is denied with PermissionDenied.
	code, _ := fx.openStatus("/new.txt", flagWrite|flagCreat)
	assert.EqualValues(t, fxPermissionDenied, code)

	id := fx.send(fxpRemove, marshalString(nil, "/ro.txt"))
	code, _ = fx.expectStatus(id)
	assert.EqualValues(t, fxPermissionDenied, code)

	id = fx.send(fxpMkdir, marshalUint32(marshalString(nil, "/dir"), 0))
	code, _ = fx.expectStatus(id)
	assert.EqualValues(t, fxPermissionDenied, code)

	body := marshalString(nil, "/ro.txt")
	body = marshalString(body, "/moved.txt")
	id = fx.send(fxpRename, body)
	code, _ = fx.expectStatus(id)
	assert.EqualValues(t, fxPermissionDenied, code)

	// Nothing changed on disk, and the denials are on record.
	_, err := os.Lstat(filepath.Join(root, "ro.txt"))
	assert.NoError(t, err)
	assert.True(t, fx.Sink.has(models.Denied(models.ActionUpload)))
	assert.True(t, fx.Sink.has(models.Denied(models.ActionRemove)))
	assert.True(t, fx.Sink.has(models.Denied(models.ActionMkdir)))
	assert.True(t, fx.Sink.has(models.Denied(models.ActionRename)))
}

func TestUnsubscribed_AllRequestsDenied(t *testing.T) {
	fx := newFixture(t, withUnsubscribed())
	fx.negotiate()
	fx.writeFile("x.txt", []byte("x"))

	code, msg := fx.openStatus("/x.txt", flagRead)
	assert.EqualValues(t, fxPermissionDenied, code)
	assert.Contains(t, msg, "subscribed")

	id := fx.send(fxpOpendir, marshalString(nil, "/"))
	code, _ = fx.expectStatus(id)
	assert.EqualValues(t, fxPermissionDenied, code)
}

func TestUnmappedPath_LooksMissing(t *testing.T) {
	root := t.TempDir()
	vp := fullMapping(root)
	vp.VirtualPath = "/data"

	fx := newFixture(t, withVirtualPaths(vp))
	fx.negotiate()

	// Paths outside every mapping answer NoSuchFile, not PermissionDenied.
	code, _ := fx.openStatus("/elsewhere/secret.txt", flagRead)
	assert.EqualValues(t, fxNoSuchFile, code)
}

func TestTraversal_DeniedWithoutIO(t *testing.T) {
	fx := newFixture(t)
	fx.negotiate()

	code, _ := fx.openStatus("/../../etc/passwd", flagRead)
	assert.EqualValues(t, fxPermissionDenied, code)

	id := fx.send(fxpStat, marshalString(nil, "/../escape"))
	code, _ = fx.expectStatus(id)
	assert.EqualValues(t, fxPermissionDenied, code)
}

func TestSubdirBoundary_Respected(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "inner"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "inner", "f.txt"), []byte("x"), 0o644))
	vp := fullMapping(root)
	vp.ApplyToSubdirs = false

	fx := newFixture(t, withVirtualPaths(vp))
	fx.negotiate()

	// The mapped node itself works.
	id := fx.send(fxpOpendir, marshalString(nil, "/"))
	handle := fx.expectHandle(id)
	require.EqualValues(t, fxOK, fx.closeHandle(handle))

	// Anything strictly below it is out of scope.
	code, _ := fx.openStatus("/inner/f.txt", flagRead)
	assert.EqualValues(t, fxPermissionDenied, code)
}
