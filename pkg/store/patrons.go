package store

import (
	"context"
	"time"

	"github.com/opencirc/circ/pkg/models"
)

// ============================================
// PATRON OPERATIONS
// ============================================

func (s *GORMStore) GetPatron(ctx context.Context, libraryID uint, authorizationIdentifier string) (*models.Patron, error) {
	var patron models.Patron
	err := s.db.WithContext(ctx).
		Preload("Library").
		Preload("Loans").
		Preload("Loans.LicensePool").
		Preload("Holds").
		Preload("Holds.LicensePool").
		Where("library_id = ? AND authorization_identifier = ?", libraryID, authorizationIdentifier).
		First(&patron).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrPatronNotFound)
	}
	return &patron, nil
}

func (s *GORMStore) GetPatronByID(ctx context.Context, id uint) (*models.Patron, error) {
	var patron models.Patron
	err := s.db.WithContext(ctx).
		Preload("Library").
		Preload("Loans").
		Preload("Loans.LicensePool").
		Preload("Holds").
		Preload("Holds.LicensePool").
		Where("id = ?", id).
		First(&patron).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrPatronNotFound)
	}
	return &patron, nil
}

func (s *GORMStore) CreatePatron(ctx context.Context, patron *models.Patron) (uint, error) {
	if err := s.db.WithContext(ctx).Create(patron).Error; err != nil {
		if isUniqueConstraintError(err) {
			return 0, models.ErrDuplicatePatron
		}
		return 0, err
	}
	return patron.ID, nil
}

func (s *GORMStore) UpdatePatron(ctx context.Context, patron *models.Patron) error {
	result := s.db.WithContext(ctx).
		Model(&models.Patron{}).
		Where("id = ?", patron.ID).
		Updates(map[string]any{
			"external_type":         patron.ExternalType,
			"block_reason":          patron.BlockReason,
			"fines":                 patron.Fines,
			"authorization_expires": patron.AuthorizationExpires,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrPatronNotFound
	}
	return nil
}

func (s *GORMStore) SetLastActivitySync(ctx context.Context, patronID uint, at *time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Patron{}).
		Where("id = ?", patronID).
		Update("last_loan_activity_sync", at)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrPatronNotFound
	}
	return nil
}
