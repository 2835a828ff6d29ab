package models

import (
	"fmt"
	"path/filepath"
	"strings"
)

// VirtualPath maps a client-visible posix path prefix to a host directory
// and carries the virtual-path-layer capability booleans. A user may have
// several rows; the authorizer picks the longest matching VirtualPath
// prefix for a request.
//
// When ApplyToSubdirs is false the capabilities apply only to the exact
// node, not to anything below it.
type VirtualPath struct {
	ID             string `gorm:"primaryKey;size:36" json:"id"`
	UserID         string `gorm:"not null;size:36;uniqueIndex:idx_vp_user_path" json:"user_id"`
	VirtualPath    string `gorm:"not null;size:1024;uniqueIndex:idx_vp_user_path" json:"virtual_path"`
	LocalPath      string `gorm:"not null;size:1024" json:"local_path"`
	CanRead        bool   `json:"can_read"`
	CanWrite       bool   `json:"can_write"`
	CanAppend      bool   `json:"can_append"`
	CanDelete      bool   `json:"can_delete"`
	CanList        bool   `json:"can_list"`
	CanCreateDir   bool   `json:"can_create_dir"`
	CanRename      bool   `json:"can_rename"`
	ApplyToSubdirs bool   `json:"apply_to_subdirs"`
}

// TableName returns the table name for VirtualPath.
func (VirtualPath) TableName() string {
	return "virtual_paths"
}

// VirtualPathPermissionColumns lists the capability columns subject to
// additive schema migration: when the store opens a database created
// under an older schema that lacks one of these, the column is added and
// backfilled to true so existing mappings keep working.
var VirtualPathPermissionColumns = []string{
	"can_read",
	"can_write",
	"can_append",
	"can_delete",
	"can_list",
	"can_create_dir",
	"can_rename",
	"apply_to_subdirs",
}

// Matches reports whether the request path falls under this virtual path
// and, when it does, the prefix length used for longest-prefix selection.
// The root mapping "/" matches everything.
func (vp *VirtualPath) Matches(requestPath string) (int, bool) {
	if vp.VirtualPath == "/" {
		return 1, true
	}
	if requestPath == vp.VirtualPath {
		return len(vp.VirtualPath), true
	}
	if strings.HasPrefix(requestPath, vp.VirtualPath+"/") {
		return len(vp.VirtualPath), true
	}
	return 0, false
}

// Validate checks if the mapping has valid configuration.
func (vp *VirtualPath) Validate() error {
	if vp.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	if vp.VirtualPath == "" || !strings.HasPrefix(vp.VirtualPath, "/") {
		return fmt.Errorf("virtual path must start with '/'")
	}
	if vp.LocalPath == "" || !filepath.IsAbs(vp.LocalPath) {
		return fmt.Errorf("local path must be absolute")
	}
	return nil
}
