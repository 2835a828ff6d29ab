package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wharfd/wharfd/pkg/models"
)

// ============================================
// SUBSCRIPTION OPERATIONS
// ============================================

func (s *GORMStore) Subscribe(ctx context.Context, userID, listenerID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Select("id").Where("id = ?", userID).First(&user).Error; err != nil {
			return convertNotFoundError(err, models.ErrUserNotFound)
		}
		var listener models.Listener
		if err := tx.Select("id").Where("id = ?", listenerID).First(&listener).Error; err != nil {
			return convertNotFoundError(err, models.ErrListenerNotFound)
		}

		sub := &models.Subscription{
			ID:         uuid.New().String(),
			UserID:     userID,
			ListenerID: listenerID,
		}
		if err := tx.Create(sub).Error; err != nil {
			if isUniqueConstraintError(err) {
				return nil // already subscribed
			}
			return err
		}
		return nil
	})
}

func (s *GORMStore) Unsubscribe(ctx context.Context, userID, listenerID string) error {
	// Removing a missing pair is a no-op.
	return s.db.WithContext(ctx).
		Where("user_id = ? AND listener_id = ?", userID, listenerID).
		Delete(&models.Subscription{}).Error
}

func (s *GORMStore) IsSubscribed(ctx context.Context, userID, listenerID string) (bool, error) {
	return existsWhere[models.Subscription](s.db, ctx, "user_id = ? AND listener_id = ?", userID, listenerID)
}

func (s *GORMStore) ListSubscriptions(ctx context.Context, listenerID string) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	if err := s.db.WithContext(ctx).Where("listener_id = ?", listenerID).Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (s *GORMStore) ListUserListeners(ctx context.Context, userID string) ([]*models.Listener, error) {
	var listeners []*models.Listener
	err := s.db.WithContext(ctx).
		Joins("JOIN subscriptions ON subscriptions.listener_id = listeners.id").
		Where("subscriptions.user_id = ?", userID).
		Order("listeners.name ASC").
		Find(&listeners).Error
	if err != nil {
		return nil, err
	}
	return listeners, nil
}
