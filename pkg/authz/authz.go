// Package authz decides whether a principal may perform an operation on a
// virtual path and translates that path to a contained local path.
//
// Authorization is two-layered. The listener layer holds per-(user,
// listener) capability booleans; the virtual-path layer maps path prefixes
// to host directories with their own capabilities. Both layers must permit
// an operation. The materialized local path must stay inside the mapping's
// local root, checked lexically first and again with symlinks resolved.
//
// Decisions are deterministic for a fixed store snapshot: equal inputs
// yield equal decisions.
package authz

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/trace"

	"github.com/wharfd/wharfd/internal/telemetry"
	"github.com/wharfd/wharfd/pkg/models"
)

// Op enumerates the operation kinds subject to authorization.
type Op int

const (
	// OpRead is open-for-read on a file. Gated by the listener's list
	// capability and the mapping's read capability.
	OpRead Op = iota
	// OpWrite is open-for-write. Whether it needs the create or the edit
	// capability at the listener layer is resolved by target
	// pre-existence: absent means create, present means edit.
	OpWrite
	// OpAppend is open-for-append.
	OpAppend
	// OpList enumerates a directory.
	OpList
	// OpRemove unlinks a file or removes a directory.
	OpRemove
	// OpMakeDir creates a directory.
	OpMakeDir
	// OpRename moves an entry. Authorized on both ends: rename capability
	// at the source mapping, write capability at the target mapping.
	OpRename
	// OpStat reads entry metadata. Gated like listing.
	OpStat
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpAppend:
		return "append"
	case OpList:
		return "list"
	case OpRemove:
		return "remove"
	case OpMakeDir:
		return "mkdir"
	case OpRename:
		return "rename"
	case OpStat:
		return "stat"
	default:
		return "unknown"
	}
}

// Reason explains a denial.
type Reason string

const (
	// ReasonUnsubscribed denies principals not attached to the listener.
	ReasonUnsubscribed Reason = "unsubscribed"
	// ReasonNoMapping denies paths no virtual path of the user covers.
	ReasonNoMapping Reason = "no_mapping"
	// ReasonCapability denies operations a capability boolean forbids,
	// including mappings that stop at their node (applyToSubdirs false).
	ReasonCapability Reason = "capability"
	// ReasonEscape denies paths that materialize outside their mapping's
	// local root, before or after symlink resolution.
	ReasonEscape Reason = "escape"
)

// Request describes one operation to authorize. Paths are client-supplied
// virtual paths; they are normalized internally, so callers may pass them
// as received.
type Request struct {
	UserID     string
	ListenerID string
	Op         Op
	Path       string
	// TargetPath is the rename destination. Only read when Op is OpRename.
	TargetPath string
}

// Decision is the authorizer's answer for one request.
type Decision struct {
	Allowed bool

	// LocalPath is the materialized host path, set when allowed.
	LocalPath string
	// TargetLocalPath is the materialized rename destination.
	TargetLocalPath string
	// Exists reports whether LocalPath existed at decision time.
	Exists bool
	// Mapping is the matched virtual path row (source side for renames).
	Mapping *models.VirtualPath

	// Reason is set when the request is denied.
	Reason Reason
}

// Store is the subset of the persistence layer the authorizer reads.
type Store interface {
	IsSubscribed(ctx context.Context, userID, listenerID string) (bool, error)
	GetListenerPermission(ctx context.Context, userID, listenerID string) (*models.ListenerPermission, error)
	ListVirtualPaths(ctx context.Context, userID string) ([]*models.VirtualPath, error)
}

// Authorizer evaluates requests against the store.
type Authorizer struct {
	store Store
}

// New returns an Authorizer reading from store.
func New(store Store) *Authorizer {
	return &Authorizer{store: store}
}

// Authorize runs the full decision chain: subscription, listener-layer
// capabilities, longest-prefix mapping lookup, mapping-layer capabilities,
// and path materialization with containment. The returned error reports
// store or filesystem trouble only; denials come back as a Decision.
func (a *Authorizer) Authorize(ctx context.Context, req Request) (dec Decision, err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanAuthorize,
		trace.WithAttributes(
			telemetry.FSOperation(req.Op.String()),
			telemetry.FSPath(req.Path),
			telemetry.ListenerID(req.ListenerID)))
	defer func() {
		if err != nil {
			telemetry.RecordError(ctx, err)
		} else {
			span.SetAttributes(telemetry.FSAllowed(dec.Allowed))
			if !dec.Allowed {
				span.SetAttributes(telemetry.FSDenyReason(string(dec.Reason)))
			}
		}
		span.End()
	}()

	subscribed, err := a.store.IsSubscribed(ctx, req.UserID, req.ListenerID)
	if err != nil {
		return Decision{}, fmt.Errorf("subscription lookup: %w", err)
	}
	if !subscribed {
		return deny(ReasonUnsubscribed), nil
	}

	perm, err := a.store.GetListenerPermission(ctx, req.UserID, req.ListenerID)
	if err != nil {
		if !errors.Is(err, models.ErrPermissionNotFound) {
			return Decision{}, fmt.Errorf("permission lookup: %w", err)
		}
		// No row means nothing was granted.
		perm = &models.ListenerPermission{}
	}
	if !listenerAllows(perm, req.Op) {
		return deny(ReasonCapability), nil
	}

	mappings, err := a.store.ListVirtualPaths(ctx, req.UserID)
	if err != nil {
		return Decision{}, fmt.Errorf("virtual path lookup: %w", err)
	}

	if req.Op == OpRename {
		return authorizeRename(req, mappings)
	}

	path := NormalizePath(req.Path)
	vp := longestMatch(mappings, path)
	if vp == nil {
		return deny(ReasonNoMapping), nil
	}
	if !coversPath(vp, path) {
		return deny(ReasonCapability), nil
	}
	if !mappingAllows(vp, req.Op) {
		return deny(ReasonCapability), nil
	}

	local, ok := materialize(vp, path)
	if !ok {
		return deny(ReasonEscape), nil
	}
	contained, err := containedAfterSymlinks(vp.LocalPath, local)
	if err != nil {
		return Decision{}, fmt.Errorf("containment check: %w", err)
	}
	if !contained {
		return deny(ReasonEscape), nil
	}

	exists := false
	if _, statErr := os.Stat(local); statErr == nil {
		exists = true
	}

	// Deferred listener-layer resolution for writes: creating a new file
	// and overwriting an existing one are distinct grants.
	if req.Op == OpWrite {
		if exists && !perm.CanEdit {
			return deny(ReasonCapability), nil
		}
		if !exists && !perm.CanCreate {
			return deny(ReasonCapability), nil
		}
	}

	return Decision{
		Allowed:   true,
		LocalPath: local,
		Exists:    exists,
		Mapping:   vp,
	}, nil
}

// authorizeRename checks both ends of a rename. The listener-layer rename
// capability was already verified by the caller.
func authorizeRename(req Request, mappings []*models.VirtualPath) (Decision, error) {
	srcPath := NormalizePath(req.Path)
	dstPath := NormalizePath(req.TargetPath)

	src := longestMatch(mappings, srcPath)
	if src == nil {
		return deny(ReasonNoMapping), nil
	}
	dst := longestMatch(mappings, dstPath)
	if dst == nil {
		return deny(ReasonNoMapping), nil
	}
	if !coversPath(src, srcPath) || !coversPath(dst, dstPath) {
		return deny(ReasonCapability), nil
	}
	if !src.CanRename {
		return deny(ReasonCapability), nil
	}
	// The destination materializes a new name, so the target mapping must
	// permit writes even when both ends share a row.
	if !dst.CanWrite {
		return deny(ReasonCapability), nil
	}

	srcLocal, ok := materialize(src, srcPath)
	if !ok {
		return deny(ReasonEscape), nil
	}
	dstLocal, ok := materialize(dst, dstPath)
	if !ok {
		return deny(ReasonEscape), nil
	}
	for _, side := range []struct{ root, path string }{
		{src.LocalPath, srcLocal},
		{dst.LocalPath, dstLocal},
	} {
		contained, err := containedAfterSymlinks(side.root, side.path)
		if err != nil {
			return Decision{}, fmt.Errorf("containment check: %w", err)
		}
		if !contained {
			return deny(ReasonEscape), nil
		}
	}

	exists := false
	if _, statErr := os.Stat(srcLocal); statErr == nil {
		exists = true
	}

	return Decision{
		Allowed:         true,
		LocalPath:       srcLocal,
		TargetLocalPath: dstLocal,
		Exists:          exists,
		Mapping:         src,
	}, nil
}

func deny(reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// listenerAllows checks the listener-layer capability for op. OpWrite only
// rejects principals holding neither create nor edit here; the final
// create-vs-edit resolution happens once target existence is known.
func listenerAllows(p *models.ListenerPermission, op Op) bool {
	switch op {
	case OpRead, OpList, OpStat:
		return p.CanList
	case OpWrite:
		return p.CanCreate || p.CanEdit
	case OpAppend:
		return p.CanAppend
	case OpRemove:
		return p.CanDelete
	case OpMakeDir:
		return p.CanCreateDir
	case OpRename:
		return p.CanRename
	default:
		return false
	}
}

// mappingAllows checks the virtual-path-layer capability for op.
func mappingAllows(vp *models.VirtualPath, op Op) bool {
	switch op {
	case OpRead:
		return vp.CanRead
	case OpWrite:
		return vp.CanWrite
	case OpAppend:
		return vp.CanAppend
	case OpList, OpStat:
		return vp.CanList
	case OpRemove:
		return vp.CanDelete
	case OpMakeDir:
		return vp.CanCreateDir
	case OpRename:
		return vp.CanRename
	default:
		return false
	}
}

// longestMatch picks the user's mapping with the longest virtual path
// prefix covering path, or nil.
func longestMatch(mappings []*models.VirtualPath, path string) *models.VirtualPath {
	var best *models.VirtualPath
	bestLen := -1
	for _, vp := range mappings {
		if l, ok := vp.Matches(path); ok && l > bestLen {
			best = vp
			bestLen = l
		}
	}
	return best
}

// coversPath applies the applyToSubdirs rule: a mapping that stops at its
// node covers only requests for the node itself.
func coversPath(vp *models.VirtualPath, path string) bool {
	if vp.ApplyToSubdirs {
		return true
	}
	return path == vp.VirtualPath
}
