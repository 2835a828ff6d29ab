package sftp

import (
	"fmt"
	"io/fs"
	"os"
	"time"
)

// Attribute flags (draft-ietf-secsh-filexfer-02, section 5).
const (
	attrFlagSize        = 0x00000001
	attrFlagUIDGID      = 0x00000002
	attrFlagPermissions = 0x00000004
	attrFlagACModTime   = 0x00000008
	attrFlagExtended    = 0x80000000
)

// File type bits carried in the permissions field.
const (
	modeRegular   = 0o100000
	modeDirectory = 0o040000
	modeSymlink   = 0o120000
)

// fileAttrs is the v3 attribute block. Times are seconds since the epoch.
// UID and GID are reported as zero: the server runs as one host user and
// ownership is nominal.
type fileAttrs struct {
	flags       uint32
	size        uint64
	uid, gid    uint32
	permissions uint32
	atime       uint32
	mtime       uint32
}

func (a fileAttrs) marshal(b []byte) []byte {
	b = marshalUint32(b, a.flags)
	if a.flags&attrFlagSize != 0 {
		b = marshalUint64(b, a.size)
	}
	if a.flags&attrFlagUIDGID != 0 {
		b = marshalUint32(b, a.uid)
		b = marshalUint32(b, a.gid)
	}
	if a.flags&attrFlagPermissions != 0 {
		b = marshalUint32(b, a.permissions)
	}
	if a.flags&attrFlagACModTime != 0 {
		b = marshalUint32(b, a.atime)
		b = marshalUint32(b, a.mtime)
	}
	return b
}

// unmarshalAttrs parses an attribute block, returning the rest of the
// payload. Extended attribute pairs are consumed and discarded.
func unmarshalAttrs(b []byte) (fileAttrs, []byte, error) {
	var a fileAttrs
	var err error
	if a.flags, b, err = unmarshalUint32(b); err != nil {
		return a, nil, err
	}
	if a.flags&attrFlagSize != 0 {
		if a.size, b, err = unmarshalUint64(b); err != nil {
			return a, nil, err
		}
	}
	if a.flags&attrFlagUIDGID != 0 {
		if a.uid, b, err = unmarshalUint32(b); err != nil {
			return a, nil, err
		}
		if a.gid, b, err = unmarshalUint32(b); err != nil {
			return a, nil, err
		}
	}
	if a.flags&attrFlagPermissions != 0 {
		if a.permissions, b, err = unmarshalUint32(b); err != nil {
			return a, nil, err
		}
	}
	if a.flags&attrFlagACModTime != 0 {
		if a.atime, b, err = unmarshalUint32(b); err != nil {
			return a, nil, err
		}
		if a.mtime, b, err = unmarshalUint32(b); err != nil {
			return a, nil, err
		}
	}
	if a.flags&attrFlagExtended != 0 {
		var count uint32
		if count, b, err = unmarshalUint32(b); err != nil {
			return a, nil, err
		}
		for i := uint32(0); i < count; i++ {
			if _, b, err = unmarshalString(b); err != nil {
				return a, nil, err
			}
			if _, b, err = unmarshalString(b); err != nil {
				return a, nil, err
			}
		}
	}
	return a, b, nil
}

// attrsFromFileInfo converts stat results into the wire attribute block.
func attrsFromFileInfo(info fs.FileInfo) fileAttrs {
	mtime := info.ModTime().Unix()
	return fileAttrs{
		flags:       attrFlagSize | attrFlagUIDGID | attrFlagPermissions | attrFlagACModTime,
		size:        uint64(info.Size()),
		permissions: permissionBits(info.Mode()),
		atime:       uint32(mtime),
		mtime:       uint32(mtime),
	}
}

// permissionBits maps a Go file mode onto the posix bits the protocol
// carries.
func permissionBits(mode fs.FileMode) uint32 {
	bits := uint32(mode.Perm())
	switch {
	case mode.IsDir():
		bits |= modeDirectory
	case mode&fs.ModeSymlink != 0:
		bits |= modeSymlink
	default:
		bits |= modeRegular
	}
	return bits
}

// applyAttrs applies a SETSTAT/FSETSTAT attribute block to a local path.
// Ownership changes are ignored; the server reports nominal ownership and
// does not chown on behalf of clients.
func applyAttrs(localPath string, a fileAttrs) error {
	if a.flags&attrFlagSize != 0 {
		if err := os.Truncate(localPath, int64(a.size)); err != nil {
			return err
		}
	}
	if a.flags&attrFlagPermissions != 0 {
		if err := os.Chmod(localPath, fs.FileMode(a.permissions)&fs.ModePerm); err != nil {
			return err
		}
	}
	if a.flags&attrFlagACModTime != 0 {
		atime := time.Unix(int64(a.atime), 0)
		mtime := time.Unix(int64(a.mtime), 0)
		if err := os.Chtimes(localPath, atime, mtime); err != nil {
			return err
		}
	}
	return nil
}

// formatLongname renders the ls -l style line carried alongside each NAME
// entry. It is display-only; clients parse the attrs block instead.
func formatLongname(info fs.FileInfo) string {
	mtime := info.ModTime()
	var when string
	if mtime.Before(time.Now().AddDate(0, -6, 0)) {
		when = mtime.Format("Jan _2  2006")
	} else {
		when = mtime.Format("Jan _2 15:04")
	}
	return fmt.Sprintf("%s %3d %-8d %-8d %8d %s %s",
		info.Mode().String(), 1, 0, 0, info.Size(), when, info.Name())
}
