package models

import "time"

// Activity action names. Denied operations log the action produced by
// Denied(action) with Success=false.
const (
	ActionLogin       = "LOGIN"
	ActionLogout      = "LOGOUT"
	ActionIdleTimeout = "IDLE_TIMEOUT"

	ActionList     = "LIST"
	ActionRemove   = "REMOVE"
	ActionRmdir    = "RMDIR"
	ActionMkdir    = "MKDIR"
	ActionRename   = "RENAME"
	ActionStat     = "STAT"
	ActionSetstat  = "SETSTAT"
	ActionDownload = "DOWNLOAD"
	ActionUpload   = "UPLOAD"

	// ActionWeakCredential is appended at startup while the bootstrap
	// admin password is still in place.
	ActionWeakCredential = "WEAK_DEFAULT_CREDENTIAL"

	deniedSuffix = "_DENIED"
)

// Denied returns the denied variant of an action name.
func Denied(action string) string {
	return action + deniedSuffix
}

// ActivityRecord is one append-only audit row. ListenerID is nil for
// system events (bootstrap warnings, GUI operations).
type ActivityRecord struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	ListenerID *string   `gorm:"size:36;index" json:"listener_id,omitempty"`
	Username   string    `gorm:"size:255;index" json:"username"`
	Action     string    `gorm:"not null;size:64" json:"action"`
	Path       string    `gorm:"size:1024" json:"path"`
	Success    bool      `json:"success"`
	Timestamp  time.Time `gorm:"index" json:"timestamp"`
}

// TableName returns the table name for ActivityRecord.
func (ActivityRecord) TableName() string {
	return "activities"
}
