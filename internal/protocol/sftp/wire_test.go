package sftp

import (
	"bytes"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendRecvPacket_RoundTrip(t *testing.T) {
	var buf bytes.Buffer

	pkt := []byte{fxpOpen}
	pkt = marshalUint32(pkt, 42)
	pkt = marshalString(pkt, "/path/to/file")
	require.NoError(t, sendPacket(&buf, pkt))

	typ, payload, err := recvPacket(&buf, DefaultMaxPacket)
	require.NoError(t, err)
	assert.EqualValues(t, fxpOpen, typ)

	id, rest, err := unmarshalUint32(payload)
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)
	path, _, err := unmarshalString(rest)
	require.NoError(t, err)
	assert.Equal(t, "/path/to/file", path)
}

func TestRecvPacket_RejectsZeroLength(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0})
	_, _, err := recvPacket(buf, DefaultMaxPacket)
	require.Error(t, err)
}

func TestRecvPacket_RejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	pkt := append([]byte{fxpWrite}, make([]byte, 2048)...)
	require.NoError(t, sendPacket(&buf, pkt))

	_, _, err := recvPacket(&buf, 1024)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestRecvPacket_TruncatedBody(t *testing.T) {
	// Length promises 10 bytes, only 3 arrive.
	buf := bytes.NewBuffer([]byte{0, 0, 0, 10, fxpOpen, 1, 2})
	_, _, err := recvPacket(buf, DefaultMaxPacket)
	require.Error(t, err)
}

func TestUnmarshal_ShortInputs(t *testing.T) {
	_, _, err := unmarshalUint32([]byte{1, 2, 3})
	assert.ErrorIs(t, err, errShortPacket)

	_, _, err = unmarshalUint64([]byte{1, 2, 3, 4, 5})
	assert.ErrorIs(t, err, errShortPacket)

	// String length larger than the remaining bytes.
	b := marshalUint32(nil, 100)
	b = append(b, 'h', 'i')
	_, _, err = unmarshalString(b)
	assert.ErrorIs(t, err, errShortPacket)

	_, _, err = unmarshalBytes(marshalUint32(nil, 8))
	assert.ErrorIs(t, err, errShortPacket)
}

func TestUnmarshalString_EmptyIsValid(t *testing.T) {
	s, rest, err := unmarshalString(marshalUint32(nil, 0))
	require.NoError(t, err)
	assert.Equal(t, "", s)
	assert.Empty(t, rest)
}

func TestAttrs_RoundTrip(t *testing.T) {
	in := fileAttrs{
		flags:       attrFlagSize | attrFlagPermissions | attrFlagACModTime,
		size:        1024,
		permissions: modeRegular | 0o644,
		atime:       1700000000,
		mtime:       1700000001,
	}

	out, rest, err := unmarshalAttrs(in.marshal(nil))
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, in, out)
}

func TestUnmarshalAttrs_ConsumesExtendedPairs(t *testing.T) {
	b := marshalUint32(nil, attrFlagExtended)
	b = marshalUint32(b, 2)
	b = marshalString(b, "ext1@example")
	b = marshalString(b, "value1")
	b = marshalString(b, "ext2@example")
	b = marshalString(b, "value2")
	b = marshalUint32(b, 0xdeadbeef) // trailing data after the attr block

	attrs, rest, err := unmarshalAttrs(b)
	require.NoError(t, err)
	assert.EqualValues(t, attrFlagExtended, attrs.flags)

	tail, _, err := unmarshalUint32(rest)
	require.NoError(t, err)
	assert.EqualValues(t, 0xdeadbeef, tail)
}

func TestUnmarshalAttrs_TruncatedBlock(t *testing.T) {
	b := marshalUint32(nil, attrFlagSize)
	b = append(b, 1, 2) // size field cut short
	_, _, err := unmarshalAttrs(b)
	assert.ErrorIs(t, err, errShortPacket)
}

func TestStatusPacket_Shape(t *testing.T) {
	pkt := statusPacket(7, fxPermissionDenied, "permission denied")
	require.EqualValues(t, fxpStatus, pkt[0])

	id, rest, err := unmarshalUint32(pkt[1:])
	require.NoError(t, err)
	assert.EqualValues(t, 7, id)
	code, rest, err := unmarshalUint32(rest)
	require.NoError(t, err)
	assert.EqualValues(t, fxPermissionDenied, code)
	msg, rest, err := unmarshalString(rest)
	require.NoError(t, err)
	assert.Equal(t, "permission denied", msg)
	lang, rest, err := unmarshalString(rest)
	require.NoError(t, err)
	assert.Equal(t, "", lang)
	assert.Empty(t, rest)
}

func TestPermissionBits_FileTypes(t *testing.T) {
	dir := permissionBits(fs.ModeDir | 0o755)
	assert.NotZero(t, dir&modeDirectory)

	reg := permissionBits(0o644)
	assert.NotZero(t, reg&modeRegular)
	assert.EqualValues(t, 0o644, reg&0o777)

	link := permissionBits(fs.ModeSymlink | 0o777)
	assert.NotZero(t, link&modeSymlink)
}
