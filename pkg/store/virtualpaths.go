package store

import (
	"context"

	"github.com/wharfd/wharfd/pkg/models"
)

// ============================================
// VIRTUAL PATH OPERATIONS
// ============================================

func (s *GORMStore) CreateVirtualPath(ctx context.Context, vp *models.VirtualPath) (string, error) {
	if err := vp.Validate(); err != nil {
		return "", err
	}
	return createWithID(s.db, ctx, vp, func(v *models.VirtualPath, id string) { v.ID = id }, vp.ID, models.ErrDuplicateVirtualPath)
}

func (s *GORMStore) GetVirtualPath(ctx context.Context, id string) (*models.VirtualPath, error) {
	return getByField[models.VirtualPath](s.db, ctx, "id", id, models.ErrVirtualPathNotFound)
}

func (s *GORMStore) ListVirtualPaths(ctx context.Context, userID string) ([]*models.VirtualPath, error) {
	var vps []*models.VirtualPath
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("virtual_path ASC").
		Find(&vps).Error
	if err != nil {
		return nil, err
	}
	return vps, nil
}

func (s *GORMStore) UpdateVirtualPath(ctx context.Context, vp *models.VirtualPath) error {
	if err := vp.Validate(); err != nil {
		return err
	}

	var existing models.VirtualPath
	if err := s.db.WithContext(ctx).Where("id = ?", vp.ID).First(&existing).Error; err != nil {
		return convertNotFoundError(err, models.ErrVirtualPathNotFound)
	}

	// Booleans are selected explicitly so revoking a capability persists.
	err := s.db.WithContext(ctx).
		Model(&existing).
		Select("VirtualPath", "LocalPath", "CanRead", "CanWrite", "CanAppend",
			"CanDelete", "CanList", "CanCreateDir", "CanRename", "ApplyToSubdirs").
		Updates(vp).Error
	if err != nil && isUniqueConstraintError(err) {
		return models.ErrDuplicateVirtualPath
	}
	return err
}

func (s *GORMStore) DeleteVirtualPath(ctx context.Context, id string) error {
	return deleteByField[models.VirtualPath](s.db, ctx, "id", id, models.ErrVirtualPathNotFound)
}
