package sftp

import (
	"errors"
	"io"
	"io/fs"
	"syscall"

	"github.com/wharfd/wharfd/pkg/authz"
)

// statusFromError maps a filesystem error to a protocol status code and
// message. Uniqueness conflicts (EXCL on an existing file, mkdir over an
// existing name) and non-empty directory removals report Failure, not
// PermissionDenied; missing files report NoSuchFile.
func statusFromError(err error) (uint32, string) {
	switch {
	case err == nil:
		return fxOK, "ok"
	case errors.Is(err, io.EOF):
		return fxEOF, "end of file"
	case errors.Is(err, fs.ErrNotExist):
		return fxNoSuchFile, "no such file"
	case errors.Is(err, fs.ErrPermission):
		return fxPermissionDenied, "permission denied"
	case errors.Is(err, fs.ErrExist):
		return fxFailure, "file already exists"
	case errors.Is(err, syscall.ENOTEMPTY):
		return fxFailure, "directory not empty"
	case errors.Is(err, syscall.EISDIR):
		return fxFailure, "is a directory"
	case errors.Is(err, syscall.ENOTDIR):
		return fxNoSuchFile, "not a directory"
	default:
		return fxFailure, err.Error()
	}
}

// statusFromDenial maps an authorization denial to the status the client
// sees. Paths outside any mapping are indistinguishable from missing
// files; everything else a denial can produce is a permission problem.
func statusFromDenial(reason authz.Reason) (uint32, string) {
	switch reason {
	case authz.ReasonNoMapping:
		return fxNoSuchFile, "no such file"
	case authz.ReasonUnsubscribed:
		return fxPermissionDenied, "not subscribed to this listener"
	default:
		return fxPermissionDenied, "permission denied"
	}
}
