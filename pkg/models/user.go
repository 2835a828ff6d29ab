package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// User represents a wharfd account that can authenticate against
// subscribed listeners.
//
// Password authentication succeeds only when PasswordEnabled is set and
// the SHA-256 of the presented cleartext matches PasswordHash. Public-key
// authentication succeeds when PublicKey holds an authorized_keys entry
// matching the presented key. GUIEnabled is carried for external
// administrative frontends and has no effect on transfer protocols.
type User struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	Username        string    `gorm:"uniqueIndex;not null;size:255" json:"username"`
	PasswordHash    string    `gorm:"size:64" json:"-"`
	PasswordEnabled bool      `json:"password_enabled"`
	PublicKey       string    `gorm:"type:text" json:"public_key,omitempty"`
	GUIEnabled      bool      `json:"gui_enabled"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// HashPassword returns the hex-encoded SHA-256 of the cleartext.
// This matches the stored PasswordHash format.
func HashPassword(cleartext string) string {
	sum := sha256.Sum256([]byte(cleartext))
	return hex.EncodeToString(sum[:])
}

// SetPassword hashes the cleartext into PasswordHash and enables
// password authentication.
func (u *User) SetPassword(cleartext string) {
	u.PasswordHash = HashPassword(cleartext)
	u.PasswordEnabled = true
}

// CheckPassword reports whether the cleartext matches the stored hash.
// Always false when password authentication is disabled or no hash is set.
func (u *User) CheckPassword(cleartext string) bool {
	if !u.PasswordEnabled || u.PasswordHash == "" {
		return false
	}
	return HashPassword(cleartext) == u.PasswordHash
}

// Validate checks if the user has valid configuration.
func (u *User) Validate() error {
	if u.Username == "" {
		return fmt.Errorf("username is required")
	}
	return nil
}
