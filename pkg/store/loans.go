package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/opencirc/circ/pkg/models"
)

// ============================================
// LOAN OPERATIONS
// ============================================

func (s *GORMStore) GetLoan(ctx context.Context, patronID, poolID uint) (*models.Loan, error) {
	var loan models.Loan
	err := s.db.WithContext(ctx).
		Preload("LicensePool").
		Preload("Fulfillment").
		Preload("Fulfillment.DeliveryMechanism").
		Where("patron_id = ? AND license_pool_id = ?", patronID, poolID).
		First(&loan).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrLoanNotFound)
	}
	return &loan, nil
}

func (s *GORMStore) GetPatronLoans(ctx context.Context, patronID uint) ([]*models.Loan, error) {
	var loans []*models.Loan
	if err := s.db.WithContext(ctx).
		Preload("LicensePool").
		Preload("LicensePool.Collection").
		Preload("Fulfillment").
		Preload("Fulfillment.DeliveryMechanism").
		Where("patron_id = ?", patronID).
		Find(&loans).Error; err != nil {
		return nil, err
	}
	return loans, nil
}

func (s *GORMStore) UpsertLoan(ctx context.Context, loan *models.Loan) (*models.Loan, error) {
	var existing models.Loan
	err := s.db.WithContext(ctx).
		Where("patron_id = ? AND license_pool_id = ?", loan.PatronID, loan.LicensePoolID).
		First(&existing).Error

	switch {
	case err == nil:
		updates := map[string]any{
			"start": loan.Start,
			"end":   loan.End,
		}
		if loan.ExternalIdentifier != nil {
			updates["external_identifier"] = loan.ExternalIdentifier
		}
		if loan.FulfillmentID != nil {
			updates["fulfillment_id"] = loan.FulfillmentID
		}
		if err := s.db.WithContext(ctx).
			Model(&existing).
			Updates(updates).Error; err != nil {
			return nil, err
		}
		return s.GetLoan(ctx, loan.PatronID, loan.LicensePoolID)

	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(loan).Error; err != nil {
			// Concurrent borrow of the same title: converge on the row the
			// other writer created.
			if isUniqueConstraintError(err) {
				return s.GetLoan(ctx, loan.PatronID, loan.LicensePoolID)
			}
			return nil, err
		}
		return s.GetLoan(ctx, loan.PatronID, loan.LicensePoolID)

	default:
		return nil, err
	}
}

func (s *GORMStore) DeleteLoan(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&models.Loan{}, id).Error
}

func (s *GORMStore) SetLoanFulfillment(ctx context.Context, loanID, lpdmID uint) error {
	result := s.db.WithContext(ctx).
		Model(&models.Loan{}).
		Where("id = ?", loanID).
		Update("fulfillment_id", lpdmID)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrLoanNotFound
	}
	return nil
}

// ============================================
// HOLD OPERATIONS
// ============================================

func (s *GORMStore) GetHold(ctx context.Context, patronID, poolID uint) (*models.Hold, error) {
	var hold models.Hold
	err := s.db.WithContext(ctx).
		Preload("LicensePool").
		Where("patron_id = ? AND license_pool_id = ?", patronID, poolID).
		First(&hold).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrHoldNotFound)
	}
	return &hold, nil
}

func (s *GORMStore) GetPatronHolds(ctx context.Context, patronID uint) ([]*models.Hold, error) {
	var holds []*models.Hold
	if err := s.db.WithContext(ctx).
		Preload("LicensePool").
		Preload("LicensePool.Collection").
		Where("patron_id = ?", patronID).
		Find(&holds).Error; err != nil {
		return nil, err
	}
	return holds, nil
}

func (s *GORMStore) UpsertHold(ctx context.Context, hold *models.Hold) (*models.Hold, error) {
	var existing models.Hold
	err := s.db.WithContext(ctx).
		Where("patron_id = ? AND license_pool_id = ?", hold.PatronID, hold.LicensePoolID).
		First(&existing).Error

	switch {
	case err == nil:
		updates := map[string]any{
			"start":    hold.Start,
			"end":      hold.End,
			"position": hold.Position,
		}
		if hold.ExternalIdentifier != nil {
			updates["external_identifier"] = hold.ExternalIdentifier
		}
		if err := s.db.WithContext(ctx).
			Model(&existing).
			Updates(updates).Error; err != nil {
			return nil, err
		}
		return s.GetHold(ctx, hold.PatronID, hold.LicensePoolID)

	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(hold).Error; err != nil {
			if isUniqueConstraintError(err) {
				return s.GetHold(ctx, hold.PatronID, hold.LicensePoolID)
			}
			return nil, err
		}
		return s.GetHold(ctx, hold.PatronID, hold.LicensePoolID)

	default:
		return nil, err
	}
}

func (s *GORMStore) DeleteHold(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&models.Hold{}, id).Error
}
