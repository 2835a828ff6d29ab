package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/wharfd/wharfd/pkg/models"
)

// ============================================
// USER OPERATIONS
// ============================================

func (s *GORMStore) CreateUser(ctx context.Context, user *models.User) (string, error) {
	if err := user.Validate(); err != nil {
		return "", err
	}
	user.CreatedAt = time.Now()
	return createWithID(s.db, ctx, user, func(u *models.User, id string) { u.ID = id }, user.ID, models.ErrDuplicateUser)
}

func (s *GORMStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "id", id, models.ErrUserNotFound)
}

func (s *GORMStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "username", username, models.ErrUserNotFound)
}

func (s *GORMStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	return listAll[models.User](s.db, ctx, "username ASC")
}

func (s *GORMStore) UpdateUser(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return err
	}

	var existing models.User
	if err := s.db.WithContext(ctx).Where("id = ?", user.ID).First(&existing).Error; err != nil {
		return convertNotFoundError(err, models.ErrUserNotFound)
	}

	// Select lists the mutable fields so false booleans are written too.
	// PasswordHash only changes through SetUserPassword.
	err := s.db.WithContext(ctx).
		Model(&existing).
		Select("Username", "PasswordEnabled", "PublicKey", "GUIEnabled").
		Updates(user).Error
	if err != nil && isUniqueConstraintError(err) {
		return models.ErrDuplicateUser
	}
	return err
}

func (s *GORMStore) DeleteUser(ctx context.Context, username string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("username = ?", username).First(&user).Error; err != nil {
			return convertNotFoundError(err, models.ErrUserNotFound)
		}

		// Dependent rows vanish in the same commit. Activity records are
		// kept: they reference the username, not the row.
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.Subscription{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.ListenerPermission{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.VirtualPath{}).Error; err != nil {
			return err
		}

		return tx.Delete(&user).Error
	})
}

func (s *GORMStore) SetUserPassword(ctx context.Context, username, cleartext string) error {
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("username = ?", username).
		Updates(map[string]any{
			"password_hash":    models.HashPassword(cleartext),
			"password_enabled": true,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

func (s *GORMStore) VerifyPassword(ctx context.Context, username, cleartext string) (*models.User, error) {
	user, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			// Hash anyway so unknown usernames cost the same as wrong
			// passwords and the failure shape stays identical.
			models.HashPassword(cleartext)
			return nil, models.ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.CheckPassword(cleartext) {
		return nil, models.ErrInvalidCredentials
	}

	return user, nil
}
