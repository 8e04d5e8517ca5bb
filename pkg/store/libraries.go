package store

import (
	"context"

	"github.com/opencirc/circ/pkg/models"
)

// ============================================
// LIBRARY OPERATIONS
// ============================================

func (s *GORMStore) GetLibrary(ctx context.Context, shortName string) (*models.Library, error) {
	var library models.Library
	err := s.db.WithContext(ctx).
		Preload("Collections").
		Where("short_name = ?", shortName).
		First(&library).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrLibraryNotFound)
	}
	return &library, nil
}

func (s *GORMStore) GetLibraryByID(ctx context.Context, id uint) (*models.Library, error) {
	var library models.Library
	err := s.db.WithContext(ctx).
		Preload("Collections").
		Where("id = ?", id).
		First(&library).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrLibraryNotFound)
	}
	return &library, nil
}

func (s *GORMStore) ListLibraries(ctx context.Context) ([]*models.Library, error) {
	var libraries []*models.Library
	if err := s.db.WithContext(ctx).
		Preload("Collections").
		Order("short_name").
		Find(&libraries).Error; err != nil {
		return nil, err
	}
	return libraries, nil
}

func (s *GORMStore) CreateLibrary(ctx context.Context, library *models.Library) (uint, error) {
	if err := library.Validate(); err != nil {
		return 0, err
	}

	if err := s.db.WithContext(ctx).Create(library).Error; err != nil {
		if isUniqueConstraintError(err) {
			return 0, models.ErrDuplicateLibrary
		}
		return 0, err
	}
	return library.ID, nil
}

func (s *GORMStore) UpdateLibrary(ctx context.Context, library *models.Library) error {
	if err := library.Validate(); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Model(&models.Library{}).
		Where("id = ?", library.ID).
		Updates(map[string]any{
			"name":                       library.Name,
			"loan_limit":                 library.LoanLimit,
			"hold_limit":                 library.HoldLimit,
			"allow_holds":                library.AllowHolds,
			"default_notification_email": library.DefaultNotificationEmail,
			"max_outstanding_fines":      library.MaxOutstandingFines,
			"default_loan_duration":      library.DefaultLoanDuration,
			"ebook_loan_duration":        library.EbookLoanDuration,
		})

	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return models.ErrDuplicateLibrary
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrLibraryNotFound
	}
	return nil
}

func (s *GORMStore) DeleteLibrary(ctx context.Context, shortName string) error {
	return s.Transaction(ctx, func(tx Store) error {
		gtx := tx.(*GORMStore)

		var library models.Library
		if err := gtx.db.Where("short_name = ?", shortName).First(&library).Error; err != nil {
			return convertNotFoundError(err, models.ErrLibraryNotFound)
		}

		// Drop the library's collection associations before the row itself.
		if err := gtx.db.Model(&library).Association("Collections").Clear(); err != nil {
			return err
		}

		return gtx.db.Delete(&library).Error
	})
}

func (s *GORMStore) GetLibraryCollections(ctx context.Context, libraryID uint) ([]*models.Collection, error) {
	library, err := s.GetLibraryByID(ctx, libraryID)
	if err != nil {
		return nil, err
	}
	return library.Collections, nil
}
