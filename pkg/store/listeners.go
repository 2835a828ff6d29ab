package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/wharfd/wharfd/pkg/models"
)

// ============================================
// LISTENER OPERATIONS
// ============================================

func (s *GORMStore) CreateListener(ctx context.Context, listener *models.Listener) (string, error) {
	if err := listener.Validate(); err != nil {
		return "", err
	}
	listener.CreatedAt = time.Now()
	return createWithID(s.db, ctx, listener, func(l *models.Listener, id string) { l.ID = id }, listener.ID, models.ErrDuplicateListener)
}

func (s *GORMStore) GetListener(ctx context.Context, id string) (*models.Listener, error) {
	return getByField[models.Listener](s.db, ctx, "id", id, models.ErrListenerNotFound)
}

func (s *GORMStore) GetListenerByName(ctx context.Context, name string) (*models.Listener, error) {
	return getByField[models.Listener](s.db, ctx, "name", name, models.ErrListenerNotFound)
}

func (s *GORMStore) ListListeners(ctx context.Context) ([]*models.Listener, error) {
	return listAll[models.Listener](s.db, ctx, "name ASC")
}

func (s *GORMStore) UpdateListener(ctx context.Context, listener *models.Listener) error {
	if err := listener.Validate(); err != nil {
		return err
	}

	var existing models.Listener
	if err := s.db.WithContext(ctx).Where("id = ?", listener.ID).First(&existing).Error; err != nil {
		return convertNotFoundError(err, models.ErrListenerNotFound)
	}

	err := s.db.WithContext(ctx).
		Model(&existing).
		Select("Name", "Protocol", "BindingIP", "Port", "Enabled").
		Updates(listener).Error
	if err != nil && isUniqueConstraintError(err) {
		return models.ErrDuplicateListener
	}
	return err
}

func (s *GORMStore) DeleteListener(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var listener models.Listener
		if err := tx.Where("name = ?", name).First(&listener).Error; err != nil {
			return convertNotFoundError(err, models.ErrListenerNotFound)
		}

		if err := tx.Where("listener_id = ?", listener.ID).Delete(&models.Subscription{}).Error; err != nil {
			return err
		}
		if err := tx.Where("listener_id = ?", listener.ID).Delete(&models.ListenerPermission{}).Error; err != nil {
			return err
		}
		if err := tx.Where("listener_id = ?", listener.ID).Delete(&models.ActivityRecord{}).Error; err != nil {
			return err
		}

		return tx.Delete(&listener).Error
	})
}
