package models

import (
	"fmt"
	"net"
	"time"
)

// Protocol identifies the transfer protocol a listener speaks.
type Protocol string

const (
	// ProtocolSFTP serves the SSH "sftp" subsystem, protocol version 3.
	ProtocolSFTP Protocol = "SFTP"
	// ProtocolFTP serves plain FTP with active/passive data channels.
	ProtocolFTP Protocol = "FTP"
)

// IsValid checks if the protocol is supported.
func (p Protocol) IsValid() bool {
	return p == ProtocolSFTP || p == ProtocolFTP
}

// Listener is a configured network endpoint for one protocol.
//
// (Protocol, BindingIP, Port) uniqueness is not enforced by the store;
// a bind collision surfaces as a fatal start error for that listener.
type Listener struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null;size:255" json:"name"`
	Protocol  Protocol  `gorm:"not null;size:10" json:"protocol"`
	BindingIP string    `gorm:"not null;size:45" json:"binding_ip"`
	Port      int       `gorm:"not null" json:"port"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Listener.
func (Listener) TableName() string {
	return "listeners"
}

// Address returns the host:port string the listener binds to.
func (l *Listener) Address() string {
	return net.JoinHostPort(l.BindingIP, fmt.Sprintf("%d", l.Port))
}

// Validate checks if the listener has valid configuration.
func (l *Listener) Validate() error {
	if l.Name == "" {
		return fmt.Errorf("listener name is required")
	}
	if !l.Protocol.IsValid() {
		return fmt.Errorf("invalid protocol %q", l.Protocol)
	}
	if l.Port < 1 || l.Port > 65535 {
		return fmt.Errorf("port %d out of range [1,65535]", l.Port)
	}
	if l.BindingIP == "" {
		return fmt.Errorf("binding IP is required")
	}
	if net.ParseIP(l.BindingIP) == nil {
		return fmt.Errorf("invalid binding IP %q", l.BindingIP)
	}
	return nil
}
