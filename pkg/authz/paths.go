package authz

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/wharfd/wharfd/pkg/models"
)

// NormalizePath brings a client-supplied path into rooted posix form:
// backslashes become slashes, empty and "." segments drop, and a leading
// slash is ensured. ".." segments are kept as-is so traversal attempts
// survive into the containment check instead of being trimmed away at the
// virtual layer.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	segments := strings.Split(p, "/")
	kept := segments[:0]
	for _, s := range segments {
		if s == "" || s == "." {
			continue
		}
		kept = append(kept, s)
	}
	return "/" + strings.Join(kept, "/")
}

// materialize joins the request path's remainder under the mapping's local
// root and checks lexical containment. filepath.Join cleans the result, so
// traversal segments collapse into the host path; anything landing above
// the root is caught here without touching the filesystem.
func materialize(vp *models.VirtualPath, requestPath string) (string, bool) {
	rel := strings.TrimPrefix(requestPath, vp.VirtualPath)
	rel = strings.TrimPrefix(rel, "/")
	local := filepath.Join(vp.LocalPath, filepath.FromSlash(rel))
	return local, within(vp.LocalPath, local)
}

// within reports whether p equals root or sits below it, lexically.
func within(root, p string) bool {
	root = filepath.Clean(root)
	p = filepath.Clean(p)
	if p == root {
		return true
	}
	return strings.HasPrefix(p, root+string(filepath.Separator))
}

// containedAfterSymlinks re-checks containment with symlinks resolved, so
// a link planted inside the tree cannot point operations outside it. Both
// sides resolve through their deepest existing ancestor; trailing
// components that do not exist yet are rejoined unresolved.
func containedAfterSymlinks(root, p string) (bool, error) {
	resolvedRoot, err := resolveExisting(root)
	if err != nil {
		return false, err
	}
	resolved, err := resolveExisting(p)
	if err != nil {
		return false, err
	}
	return within(resolvedRoot, resolved), nil
}

// resolveExisting resolves symlinks on the deepest existing ancestor of p
// and rejoins the non-existing suffix. Errors other than non-existence
// bubble up.
func resolveExisting(p string) (string, error) {
	p = filepath.Clean(p)
	suffix := ""
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		suffix = filepath.Join(filepath.Base(cur), suffix)
		cur = parent
	}
}
