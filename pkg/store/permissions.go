package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wharfd/wharfd/pkg/models"
)

// ============================================
// LISTENER PERMISSION OPERATIONS
// ============================================

// listenerPermissionFields are the columns SetListenerPermission replaces.
// Booleans must be listed explicitly so clearing a capability persists.
var listenerPermissionFields = []string{
	"CanCreate", "CanEdit", "CanAppend", "CanDelete", "CanList", "CanCreateDir", "CanRename",
}

func (s *GORMStore) SetListenerPermission(ctx context.Context, perm *models.ListenerPermission) error {
	if err := perm.Validate(); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.ListenerPermission
		err := tx.Where("user_id = ? AND listener_id = ?", perm.UserID, perm.ListenerID).First(&existing).Error
		switch {
		case err == nil:
			perm.ID = existing.ID
			return tx.Model(&existing).Select(listenerPermissionFields).Updates(perm).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			if perm.ID == "" {
				perm.ID = uuid.New().String()
			}
			return tx.Create(perm).Error
		default:
			return err
		}
	})
}

func (s *GORMStore) GetListenerPermission(ctx context.Context, userID, listenerID string) (*models.ListenerPermission, error) {
	var perm models.ListenerPermission
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND listener_id = ?", userID, listenerID).
		First(&perm).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrPermissionNotFound)
	}
	return &perm, nil
}

func (s *GORMStore) DeleteListenerPermission(ctx context.Context, userID, listenerID string) error {
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND listener_id = ?", userID, listenerID).
		Delete(&models.ListenerPermission{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrPermissionNotFound
	}
	return nil
}

func (s *GORMStore) ListListenerPermissions(ctx context.Context, listenerID string) ([]*models.ListenerPermission, error) {
	var perms []*models.ListenerPermission
	if err := s.db.WithContext(ctx).Where("listener_id = ?", listenerID).Find(&perms).Error; err != nil {
		return nil, err
	}
	return perms, nil
}
