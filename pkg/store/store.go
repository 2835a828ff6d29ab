// Package store provides the persistence layer for wharfd.
//
// This package implements the Store interface for managing users,
// listeners, subscriptions, listener permissions, virtual paths, activity
// records, and settings.
//
// Two backends are supported:
//   - SQLite (single-node, default)
//   - PostgreSQL (HA-capable)
package store

import (
	"context"
	"time"

	"github.com/wharfd/wharfd/pkg/models"
)

// ActivityFilter narrows ListActivities results. Zero-valued fields are
// ignored. Results are ordered newest first.
type ActivityFilter struct {
	Username   string
	ListenerID string
	Action     string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Store is the persistence interface for wharfd.
//
// Implementations must be safe for concurrent use from multiple
// goroutines. Writes are serialized by the backend; reads may run
// concurrently.
type Store interface {
	// ============================================
	// USER OPERATIONS
	// ============================================

	// CreateUser creates a new user. The ID is generated if empty and
	// returned. Returns models.ErrDuplicateUser if the username is taken.
	CreateUser(ctx context.Context, user *models.User) (string, error)

	// GetUser returns a user by their unique ID.
	// Returns models.ErrUserNotFound if no user has this ID.
	GetUser(ctx context.Context, id string) (*models.User, error)

	// GetUserByUsername returns a user by username.
	// Returns models.ErrUserNotFound if the user doesn't exist.
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// ListUsers returns all users ordered by username.
	ListUsers(ctx context.Context) ([]*models.User, error)

	// UpdateUser updates an existing user's mutable fields.
	// The password hash is only changed through SetUserPassword.
	// Returns models.ErrUserNotFound if the user doesn't exist.
	UpdateUser(ctx context.Context, user *models.User) error

	// DeleteUser deletes a user by username. Subscriptions, listener
	// permissions, and virtual paths of the user vanish in the same
	// transaction. Activity records are kept for auditing.
	// Returns models.ErrUserNotFound if the user doesn't exist.
	DeleteUser(ctx context.Context, username string) error

	// SetUserPassword hashes the cleartext and stores it, enabling
	// password authentication for the user.
	// Returns models.ErrUserNotFound if the user doesn't exist.
	SetUserPassword(ctx context.Context, username, cleartext string) error

	// VerifyPassword checks username/password credentials. Unknown
	// usernames, wrong passwords, and password-disabled accounts all fail
	// with the same models.ErrInvalidCredentials so callers cannot probe
	// which usernames exist.
	VerifyPassword(ctx context.Context, username, cleartext string) (*models.User, error)

	// ============================================
	// LISTENER OPERATIONS
	// ============================================

	// CreateListener creates a new listener. The ID is generated if empty
	// and returned. Returns models.ErrDuplicateListener if the name is
	// taken.
	CreateListener(ctx context.Context, listener *models.Listener) (string, error)

	// GetListener returns a listener by its unique ID.
	// Returns models.ErrListenerNotFound if no listener has this ID.
	GetListener(ctx context.Context, id string) (*models.Listener, error)

	// GetListenerByName returns a listener by name.
	// Returns models.ErrListenerNotFound if the listener doesn't exist.
	GetListenerByName(ctx context.Context, name string) (*models.Listener, error)

	// ListListeners returns all listeners ordered by name.
	ListListeners(ctx context.Context) ([]*models.Listener, error)

	// UpdateListener updates an existing listener.
	// Returns models.ErrListenerNotFound if the listener doesn't exist.
	UpdateListener(ctx context.Context, listener *models.Listener) error

	// DeleteListener deletes a listener by name. Subscriptions,
	// permissions, and activity rows referring to it vanish in the same
	// transaction.
	// Returns models.ErrListenerNotFound if the listener doesn't exist.
	DeleteListener(ctx context.Context, name string) error

	// ============================================
	// SUBSCRIPTION OPERATIONS
	// ============================================

	// Subscribe attaches a user to a listener. Subscribing an already
	// subscribed pair is a no-op.
	// Returns models.ErrUserNotFound / models.ErrListenerNotFound when a
	// side of the pair doesn't exist.
	Subscribe(ctx context.Context, userID, listenerID string) error

	// Unsubscribe detaches a user from a listener. Removing a missing
	// pair is a no-op.
	Unsubscribe(ctx context.Context, userID, listenerID string) error

	// IsSubscribed reports whether the user is subscribed to the listener.
	IsSubscribed(ctx context.Context, userID, listenerID string) (bool, error)

	// ListSubscriptions returns the raw subscription rows of a listener.
	ListSubscriptions(ctx context.Context, listenerID string) ([]*models.Subscription, error)

	// ListUserListeners returns the listeners a user is subscribed to,
	// ordered by name.
	ListUserListeners(ctx context.Context, userID string) ([]*models.Listener, error)

	// ============================================
	// LISTENER PERMISSION OPERATIONS
	// ============================================

	// SetListenerPermission creates or replaces the capability row for
	// the (user, listener) pair.
	SetListenerPermission(ctx context.Context, perm *models.ListenerPermission) error

	// GetListenerPermission returns the capability row for the pair.
	// Returns models.ErrPermissionNotFound if no row exists; callers
	// treat that as no capabilities granted.
	GetListenerPermission(ctx context.Context, userID, listenerID string) (*models.ListenerPermission, error)

	// DeleteListenerPermission removes the capability row for the pair.
	// Returns models.ErrPermissionNotFound if no row exists.
	DeleteListenerPermission(ctx context.Context, userID, listenerID string) error

	// ListListenerPermissions returns all capability rows of a listener.
	ListListenerPermissions(ctx context.Context, listenerID string) ([]*models.ListenerPermission, error)

	// ============================================
	// VIRTUAL PATH OPERATIONS
	// ============================================

	// CreateVirtualPath creates a new mapping. The ID is generated if
	// empty and returned. Returns models.ErrDuplicateVirtualPath when the
	// user already maps the same virtual path.
	CreateVirtualPath(ctx context.Context, vp *models.VirtualPath) (string, error)

	// GetVirtualPath returns a mapping by its unique ID.
	// Returns models.ErrVirtualPathNotFound if no mapping has this ID.
	GetVirtualPath(ctx context.Context, id string) (*models.VirtualPath, error)

	// ListVirtualPaths returns all mappings of a user ordered by virtual
	// path.
	ListVirtualPaths(ctx context.Context, userID string) ([]*models.VirtualPath, error)

	// UpdateVirtualPath updates an existing mapping.
	// Returns models.ErrVirtualPathNotFound if the mapping doesn't exist.
	UpdateVirtualPath(ctx context.Context, vp *models.VirtualPath) error

	// DeleteVirtualPath removes a mapping by ID.
	// Returns models.ErrVirtualPathNotFound if the mapping doesn't exist.
	DeleteVirtualPath(ctx context.Context, id string) error

	// ============================================
	// ACTIVITY OPERATIONS
	// ============================================

	// LogActivity appends an audit record. The write is asynchronous
	// behind a bounded queue; the call never blocks a protocol operation
	// and never fails it. On overflow the record is dropped and the drop
	// is counted.
	LogActivity(record *models.ActivityRecord)

	// ListActivities returns audit records matching the filter, newest
	// first.
	ListActivities(ctx context.Context, filter ActivityFilter) ([]*models.ActivityRecord, error)

	// PurgeActivitiesOlderThan removes audit records with a timestamp
	// before the cutoff and returns how many were removed.
	PurgeActivitiesOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// ============================================
	// SETTINGS
	// ============================================

	// GetSetting returns the value for a key, or "" when the key is not
	// set. A missing key is not an error.
	GetSetting(ctx context.Context, key string) (string, error)

	// SetSetting upserts a key/value pair.
	SetSetting(ctx context.Context, key, value string) error

	// ============================================
	// LIFECYCLE
	// ============================================

	// Bootstrap seeds first-run defaults when the user table is empty:
	// the admin account, one SFTP and one FTP listener, subscriptions,
	// full permissions, and a root virtual path pointing at ftpRoot.
	Bootstrap(ctx context.Context, ftpRoot string) error

	// HasWeakAdminPassword reports whether the bootstrap admin account
	// still carries the well-known default password.
	HasWeakAdminPassword(ctx context.Context) (bool, error)

	// Healthcheck pings the database.
	Healthcheck(ctx context.Context) error

	// Close flushes pending activity writes and closes the database.
	Close() error
}
