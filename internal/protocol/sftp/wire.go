// Package sftp implements the server side of the SSH File Transfer
// Protocol version 3, as described in draft-ietf-secsh-filexfer-02.
//
// The package speaks the wire format over any io.ReadWriter (in practice
// an SSH "sftp" subsystem channel) and delegates every path-addressed
// operation to the authorizer before touching the filesystem. Requests
// within a session are processed strictly in arrival order; handles are
// short opaque IDs into per-session maps and never encode process
// pointers. Directory listings are snapshotted when the directory is
// opened and paged out in fixed batches, so a listing always terminates
// in O(entries/batch) round trips.
package sftp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Protocol version served. The server always answers VERSION 3 regardless
// of the version the client proposes.
const ProtocolVersion = 3

// DefaultMaxPacket bounds the size of a single SFTP packet in either
// direction. Larger frames drop the connection.
const DefaultMaxPacket = 256 << 10

// ============================================================================
// Packet Types (draft-ietf-secsh-filexfer-02, section 3)
// ============================================================================

const (
	fxpInit     = 1
	fxpVersion  = 2
	fxpOpen     = 3
	fxpClose    = 4
	fxpRead     = 5
	fxpWrite    = 6
	fxpLstat    = 7
	fxpFstat    = 8
	fxpSetstat  = 9
	fxpFsetstat = 10
	fxpOpendir  = 11
	fxpReaddir  = 12
	fxpRemove   = 13
	fxpMkdir    = 14
	fxpRmdir    = 15
	fxpRealpath = 16
	fxpStat     = 17
	fxpRename   = 18
	fxpReadlink = 19
	fxpSymlink  = 20

	fxpStatus = 101
	fxpHandle = 102
	fxpData   = 103
	fxpName   = 104
	fxpAttrs  = 105

	fxpExtended      = 200
	fxpExtendedReply = 201
)

// packetTypeNames maps request types to names for logging.
var packetTypeNames = map[byte]string{
	fxpInit:     "INIT",
	fxpVersion:  "VERSION",
	fxpOpen:     "OPEN",
	fxpClose:    "CLOSE",
	fxpRead:     "READ",
	fxpWrite:    "WRITE",
	fxpLstat:    "LSTAT",
	fxpFstat:    "FSTAT",
	fxpSetstat:  "SETSTAT",
	fxpFsetstat: "FSETSTAT",
	fxpOpendir:  "OPENDIR",
	fxpReaddir:  "READDIR",
	fxpRemove:   "REMOVE",
	fxpMkdir:    "MKDIR",
	fxpRmdir:    "RMDIR",
	fxpRealpath: "REALPATH",
	fxpStat:     "STAT",
	fxpRename:   "RENAME",
	fxpReadlink: "READLINK",
	fxpSymlink:  "SYMLINK",
	fxpExtended: "EXTENDED",
}

func packetTypeName(typ byte) string {
	if name, ok := packetTypeNames[typ]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", typ)
}

// ============================================================================
// Status Codes (section 7)
// ============================================================================

const (
	fxOK               = 0
	fxEOF              = 1
	fxNoSuchFile       = 2
	fxPermissionDenied = 3
	fxFailure          = 4
	fxBadMessage       = 5
	fxNoConnection     = 6
	fxConnectionLost   = 7
	fxOpUnsupported    = 8
)

// ============================================================================
// Open Flags (section 6.3)
// ============================================================================

const (
	flagRead   = 0x00000001
	flagWrite  = 0x00000002
	flagAppend = 0x00000004
	flagCreat  = 0x00000008
	flagTrunc  = 0x00000010
	flagExcl   = 0x00000020
)

var errShortPacket = errors.New("packet too short")

// ============================================================================
// Framing
// ============================================================================

// recvPacket reads one length-framed packet and returns its type byte and
// payload. Oversized or empty frames are transport errors: the caller
// drops the connection.
func recvPacket(r io.Reader, maxPacket uint32) (byte, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return 0, nil, errors.New("zero-length packet")
	}
	if length > maxPacket {
		return 0, nil, fmt.Errorf("packet of %d bytes exceeds maximum %d", length, maxPacket)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("read packet body: %w", err)
	}
	return body[0], body[1:], nil
}

// sendPacket frames and writes one packet. payload starts with the type
// byte.
func sendPacket(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write packet length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write packet body: %w", err)
	}
	return nil
}

// ============================================================================
// Marshalling
// ============================================================================

func marshalUint32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func marshalUint64(b []byte, v uint64) []byte {
	return marshalUint32(marshalUint32(b, uint32(v>>32)), uint32(v))
}

func marshalString(b []byte, v string) []byte {
	return append(marshalUint32(b, uint32(len(v))), v...)
}

func marshalBytes(b, v []byte) []byte {
	return append(marshalUint32(b, uint32(len(v))), v...)
}

// ============================================================================
// Unmarshalling
// ============================================================================

func unmarshalUint32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, errShortPacket
	}
	return binary.BigEndian.Uint32(b), b[4:], nil
}

func unmarshalUint64(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, errShortPacket
	}
	return binary.BigEndian.Uint64(b), b[8:], nil
}

func unmarshalString(b []byte) (string, []byte, error) {
	n, b, err := unmarshalUint32(b)
	if err != nil {
		return "", nil, err
	}
	if uint64(n) > uint64(len(b)) {
		return "", nil, errShortPacket
	}
	return string(b[:n]), b[n:], nil
}

func unmarshalBytes(b []byte) ([]byte, []byte, error) {
	n, b, err := unmarshalUint32(b)
	if err != nil {
		return nil, nil, err
	}
	if uint64(n) > uint64(len(b)) {
		return nil, nil, errShortPacket
	}
	return b[:n], b[n:], nil
}

// ============================================================================
// Response Builders
// ============================================================================

func versionPacket() []byte {
	b := make([]byte, 0, 5)
	b = append(b, fxpVersion)
	return marshalUint32(b, ProtocolVersion)
}

func statusPacket(id, code uint32, msg string) []byte {
	b := make([]byte, 0, 1+4+4+4+len(msg)+4)
	b = append(b, fxpStatus)
	b = marshalUint32(b, id)
	b = marshalUint32(b, code)
	b = marshalString(b, msg)
	b = marshalString(b, "") // language tag
	return b
}

func handlePacket(id uint32, handle string) []byte {
	b := make([]byte, 0, 1+4+4+len(handle))
	b = append(b, fxpHandle)
	b = marshalUint32(b, id)
	b = marshalString(b, handle)
	return b
}

func dataPacket(id uint32, data []byte) []byte {
	b := make([]byte, 0, 1+4+4+len(data))
	b = append(b, fxpData)
	b = marshalUint32(b, id)
	b = marshalBytes(b, data)
	return b
}

func attrsPacket(id uint32, attrs fileAttrs) []byte {
	b := make([]byte, 0, 64)
	b = append(b, fxpAttrs)
	b = marshalUint32(b, id)
	return attrs.marshal(b)
}

// nameEntry is one entry of a NAME response.
type nameEntry struct {
	filename string
	longname string
	attrs    fileAttrs
}

func namePacket(id uint32, entries []nameEntry) []byte {
	b := make([]byte, 0, 64*(len(entries)+1))
	b = append(b, fxpName)
	b = marshalUint32(b, id)
	b = marshalUint32(b, uint32(len(entries)))
	for _, e := range entries {
		b = marshalString(b, e.filename)
		b = marshalString(b, e.longname)
		b = e.attrs.marshal(b)
	}
	return b
}
