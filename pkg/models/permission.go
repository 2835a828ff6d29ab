// Package models provides the shared domain types for wharfd.
//
// This package contains all persisted entities (users, listeners,
// subscriptions, permissions, virtual paths, activity records, settings)
// with GORM annotations, plus the sentinel errors the store surfaces.
// It is the single source of truth for domain types.
package models

import "fmt"

// Subscription attaches a user to a listener. Only subscribed users can
// authenticate through a listener.
type Subscription struct {
	ID         string `gorm:"primaryKey;size:36" json:"id"`
	UserID     string `gorm:"not null;size:36;uniqueIndex:idx_sub_user_listener" json:"user_id"`
	ListenerID string `gorm:"not null;size:36;uniqueIndex:idx_sub_user_listener" json:"listener_id"`
}

// TableName returns the table name for Subscription.
func (Subscription) TableName() string {
	return "subscriptions"
}

// ListenerPermission holds the listener-layer capability booleans for one
// (user, listener) pair. This is the first layer of the two-layer
// authorization model; the virtual-path layer is the second.
//
// Read access over SFTP is gated by CanList (open-for-read uses list
// semantics); writing a file that does not exist yet requires CanCreate,
// overwriting an existing one requires CanEdit.
type ListenerPermission struct {
	ID           string `gorm:"primaryKey;size:36" json:"id"`
	UserID       string `gorm:"not null;size:36;uniqueIndex:idx_perm_user_listener" json:"user_id"`
	ListenerID   string `gorm:"not null;size:36;uniqueIndex:idx_perm_user_listener" json:"listener_id"`
	CanCreate    bool   `json:"can_create"`
	CanEdit      bool   `json:"can_edit"`
	CanAppend    bool   `json:"can_append"`
	CanDelete    bool   `json:"can_delete"`
	CanList      bool   `json:"can_list"`
	CanCreateDir bool   `json:"can_create_dir"`
	CanRename    bool   `json:"can_rename"`
}

// TableName returns the table name for ListenerPermission.
func (ListenerPermission) TableName() string {
	return "permissions"
}

// FullListenerPermission returns a permission row granting every
// capability for the given pair.
func FullListenerPermission(userID, listenerID string) *ListenerPermission {
	return &ListenerPermission{
		UserID:       userID,
		ListenerID:   listenerID,
		CanCreate:    true,
		CanEdit:      true,
		CanAppend:    true,
		CanDelete:    true,
		CanList:      true,
		CanCreateDir: true,
		CanRename:    true,
	}
}

// Validate checks the permission row references.
func (p *ListenerPermission) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	if p.ListenerID == "" {
		return fmt.Errorf("listener ID is required")
	}
	return nil
}
