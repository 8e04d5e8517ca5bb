package store

import (
	"context"

	"github.com/opencirc/circ/pkg/models"
)

// ============================================
// COLLECTION OPERATIONS
// ============================================

func (s *GORMStore) GetCollection(ctx context.Context, name string) (*models.Collection, error) {
	var collection models.Collection
	err := s.db.WithContext(ctx).
		Where("name = ?", name).
		First(&collection).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrCollectionNotFound)
	}
	return &collection, nil
}

func (s *GORMStore) GetCollectionByID(ctx context.Context, id uint) (*models.Collection, error) {
	var collection models.Collection
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&collection).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrCollectionNotFound)
	}
	return &collection, nil
}

func (s *GORMStore) ListCollections(ctx context.Context) ([]*models.Collection, error) {
	var collections []*models.Collection
	if err := s.db.WithContext(ctx).
		Order("name").
		Find(&collections).Error; err != nil {
		return nil, err
	}
	return collections, nil
}

func (s *GORMStore) CreateCollection(ctx context.Context, collection *models.Collection) (uint, error) {
	if err := s.db.WithContext(ctx).Create(collection).Error; err != nil {
		if isUniqueConstraintError(err) {
			return 0, models.ErrDuplicateCollection
		}
		return 0, err
	}
	return collection.ID, nil
}

func (s *GORMStore) UpdateCollection(ctx context.Context, collection *models.Collection) error {
	result := s.db.WithContext(ctx).
		Model(&models.Collection{}).
		Where("id = ?", collection.ID).
		Updates(map[string]any{
			"protocol":    collection.Protocol,
			"data_source": collection.DataSource,
			"settings":    collection.SettingsJSON,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrCollectionNotFound
	}
	return nil
}

func (s *GORMStore) DeleteCollection(ctx context.Context, name string) error {
	return s.Transaction(ctx, func(tx Store) error {
		gtx := tx.(*GORMStore)

		var collection models.Collection
		if err := gtx.db.Where("name = ?", name).First(&collection).Error; err != nil {
			return convertNotFoundError(err, models.ErrCollectionNotFound)
		}

		// Pools and their delivery rows go first; loans and holds pointing
		// at those pools are vendor-side stale anyway once the collection
		// is gone.
		var poolIDs []uint
		if err := gtx.db.Model(&models.LicensePool{}).
			Where("collection_id = ?", collection.ID).
			Pluck("id", &poolIDs).Error; err != nil {
			return err
		}

		if len(poolIDs) > 0 {
			if err := gtx.db.Where("license_pool_id IN ?", poolIDs).
				Delete(&models.Loan{}).Error; err != nil {
				return err
			}
			if err := gtx.db.Where("license_pool_id IN ?", poolIDs).
				Delete(&models.Hold{}).Error; err != nil {
				return err
			}
			if err := gtx.db.Where("license_pool_id IN ?", poolIDs).
				Delete(&models.LicensePoolDeliveryMechanism{}).Error; err != nil {
				return err
			}
			if err := gtx.db.Where("collection_id = ?", collection.ID).
				Delete(&models.LicensePool{}).Error; err != nil {
				return err
			}
		}

		if err := gtx.db.Where("collection_id = ?", collection.ID).
			Delete(&models.Credential{}).Error; err != nil {
			return err
		}

		return gtx.db.Delete(&collection).Error
	})
}
