package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/opencirc/circ/pkg/models"
)

// ============================================
// LICENSE POOL OPERATIONS
// ============================================

func (s *GORMStore) GetPool(ctx context.Context, id uint) (*models.LicensePool, error) {
	var pool models.LicensePool
	err := s.db.WithContext(ctx).
		Preload("Collection").
		Preload("DeliveryMechanisms").
		Preload("DeliveryMechanisms.DeliveryMechanism").
		Where("id = ?", id).
		First(&pool).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrPoolNotFound)
	}
	return &pool, nil
}

func (s *GORMStore) FindPool(ctx context.Context, collectionID uint, identifierType, identifier string) (*models.LicensePool, error) {
	var pool models.LicensePool
	err := s.db.WithContext(ctx).
		Preload("Collection").
		Preload("DeliveryMechanisms").
		Preload("DeliveryMechanisms.DeliveryMechanism").
		Where("collection_id = ? AND identifier_type = ? AND identifier = ?",
			collectionID, identifierType, identifier).
		First(&pool).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrPoolNotFound)
	}
	return &pool, nil
}

func (s *GORMStore) CreatePool(ctx context.Context, pool *models.LicensePool) (uint, error) {
	if err := s.db.WithContext(ctx).Create(pool).Error; err != nil {
		if isUniqueConstraintError(err) {
			return 0, models.ErrDuplicatePool
		}
		return 0, err
	}
	return pool.ID, nil
}

func (s *GORMStore) UpdatePoolAvailability(ctx context.Context, poolID uint, owned, available, holdQueue int, unlimitedAccess bool) error {
	result := s.db.WithContext(ctx).
		Model(&models.LicensePool{}).
		Where("id = ?", poolID).
		Updates(map[string]any{
			"licenses_owned":        owned,
			"licenses_available":    available,
			"patrons_in_hold_queue": holdQueue,
			"unlimited_access":      unlimitedAccess,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrPoolNotFound
	}
	return nil
}

func (s *GORMStore) GetOrCreateDeliveryMechanism(ctx context.Context, contentType, drmScheme string) (*models.DeliveryMechanism, error) {
	var mech models.DeliveryMechanism
	err := s.db.WithContext(ctx).
		Where("content_type = ? AND drm_scheme = ?", contentType, drmScheme).
		First(&mech).Error
	if err == nil {
		return &mech, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	mech = models.DeliveryMechanism{ContentType: contentType, DRMScheme: drmScheme}
	if err := s.db.WithContext(ctx).Create(&mech).Error; err != nil {
		// Concurrent creation: another writer won the unique index race.
		if isUniqueConstraintError(err) {
			var existing models.DeliveryMechanism
			if lookupErr := s.db.WithContext(ctx).
				Where("content_type = ? AND drm_scheme = ?", contentType, drmScheme).
				First(&existing).Error; lookupErr == nil {
				return &existing, nil
			}
		}
		return nil, err
	}
	return &mech, nil
}

func (s *GORMStore) GetOrCreateLPDM(ctx context.Context, poolID, mechanismID uint, rightsURI, resourceURL string) (*models.LicensePoolDeliveryMechanism, error) {
	var lpdm models.LicensePoolDeliveryMechanism
	err := s.db.WithContext(ctx).
		Preload("DeliveryMechanism").
		Where("license_pool_id = ? AND delivery_mechanism_id = ? AND rights_uri = ?",
			poolID, mechanismID, rightsURI).
		First(&lpdm).Error
	if err == nil {
		return &lpdm, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	lpdm = models.LicensePoolDeliveryMechanism{
		LicensePoolID:       poolID,
		DeliveryMechanismID: mechanismID,
		RightsURI:           rightsURI,
		ResourceURL:         resourceURL,
	}
	if err := s.db.WithContext(ctx).Create(&lpdm).Error; err != nil {
		if isUniqueConstraintError(err) {
			var existing models.LicensePoolDeliveryMechanism
			if lookupErr := s.db.WithContext(ctx).
				Preload("DeliveryMechanism").
				Where("license_pool_id = ? AND delivery_mechanism_id = ? AND rights_uri = ?",
					poolID, mechanismID, rightsURI).
				First(&existing).Error; lookupErr == nil {
				return &existing, nil
			}
		}
		return nil, err
	}

	if err := s.db.WithContext(ctx).
		First(&lpdm.DeliveryMechanism, mechanismID).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrMechanismNotFound)
	}
	return &lpdm, nil
}
