package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wharfd/wharfd/internal/telemetry"
	"github.com/wharfd/wharfd/pkg/models"
)

// First-run defaults. The admin password is well known; every startup
// checks for it and raises a WEAK_DEFAULT_CREDENTIAL activity until it is
// changed.
const (
	BootstrapAdminUsername = "admin"
	BootstrapAdminPassword = "admin123"

	DefaultSFTPPort = 22
	DefaultFTPPort  = 21

	defaultBindingIP = "0.0.0.0"
)

// Bootstrap seeds an empty database with a usable configuration: the admin
// account, one enabled listener per protocol, subscriptions and full
// permissions for admin on both, and a root virtual path pointing at
// ftpRoot. A database with any user at all is left untouched.
//
// Everything is written in one transaction so a failed bootstrap leaves
// the user table empty and the next start retries.
func (s *GORMStore) Bootstrap(ctx context.Context, ftpRoot string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanStoreBootstrap)
	defer func() {
		if err != nil {
			telemetry.RecordError(ctx, err)
		}
		span.End()
	}()

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to inspect user table: %w", err)
	}
	if count > 0 {
		return nil
	}

	absRoot, err := filepath.Abs(ftpRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve ftp root %q: %w", ftpRoot, err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		admin := &models.User{
			ID:         uuid.New().String(),
			Username:   BootstrapAdminUsername,
			GUIEnabled: true,
			CreatedAt:  time.Now(),
		}
		admin.SetPassword(BootstrapAdminPassword)
		if err := tx.Create(admin).Error; err != nil {
			return fmt.Errorf("failed to create admin user: %w", err)
		}

		defaults := []struct {
			name     string
			protocol models.Protocol
			port     int
		}{
			{"sftp", models.ProtocolSFTP, DefaultSFTPPort},
			{"ftp", models.ProtocolFTP, DefaultFTPPort},
		}

		for _, d := range defaults {
			listener := &models.Listener{
				ID:        uuid.New().String(),
				Name:      d.name,
				Protocol:  d.protocol,
				BindingIP: defaultBindingIP,
				Port:      d.port,
				Enabled:   true,
				CreatedAt: time.Now(),
			}
			if err := tx.Create(listener).Error; err != nil {
				return fmt.Errorf("failed to create %s listener: %w", d.name, err)
			}

			sub := &models.Subscription{
				ID:         uuid.New().String(),
				UserID:     admin.ID,
				ListenerID: listener.ID,
			}
			if err := tx.Create(sub).Error; err != nil {
				return fmt.Errorf("failed to subscribe admin to %s: %w", d.name, err)
			}

			perm := models.FullListenerPermission(admin.ID, listener.ID)
			perm.ID = uuid.New().String()
			if err := tx.Create(perm).Error; err != nil {
				return fmt.Errorf("failed to grant admin permissions on %s: %w", d.name, err)
			}
		}

		vp := &models.VirtualPath{
			ID:             uuid.New().String(),
			UserID:         admin.ID,
			VirtualPath:    "/",
			LocalPath:      absRoot,
			CanRead:        true,
			CanWrite:       true,
			CanAppend:      true,
			CanDelete:      true,
			CanList:        true,
			CanCreateDir:   true,
			CanRename:      true,
			ApplyToSubdirs: true,
		}
		if err := tx.Create(vp).Error; err != nil {
			return fmt.Errorf("failed to create root virtual path: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	telemetry.AddEvent(ctx, "seeded first-run defaults")
	return nil
}

// HasWeakAdminPassword reports whether the admin account still
// authenticates with the bootstrap password.
func (s *GORMStore) HasWeakAdminPassword(ctx context.Context) (bool, error) {
	user, err := s.GetUserByUsername(ctx, BootstrapAdminUsername)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.PasswordEnabled && user.PasswordHash == models.HashPassword(BootstrapAdminPassword), nil
}
