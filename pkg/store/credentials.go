package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/opencirc/circ/pkg/models"
)

// ============================================
// CREDENTIAL OPERATIONS
// ============================================

func scopeQuery(db *gorm.DB, dataSource, credType string, collectionID, patronID *uint) *gorm.DB {
	query := db.Where("data_source = ? AND type = ?", dataSource, credType)
	if collectionID != nil {
		query = query.Where("collection_id = ?", *collectionID)
	} else {
		query = query.Where("collection_id IS NULL")
	}
	if patronID != nil {
		query = query.Where("patron_id = ?", *patronID)
	} else {
		query = query.Where("patron_id IS NULL")
	}
	return query
}

func (s *GORMStore) GetCredential(ctx context.Context, dataSource, credType string, collectionID, patronID *uint) (*models.Credential, error) {
	var credential models.Credential
	err := scopeQuery(s.db.WithContext(ctx), dataSource, credType, collectionID, patronID).
		First(&credential).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrCredentialNotFound)
	}
	return &credential, nil
}

func (s *GORMStore) UpsertCredential(ctx context.Context, credential *models.Credential) error {
	var existing models.Credential
	err := scopeQuery(s.db.WithContext(ctx), credential.DataSource, credential.Type,
		credential.CollectionID, credential.PatronID).
		First(&existing).Error

	switch {
	case err == nil:
		return s.db.WithContext(ctx).
			Model(&existing).
			Updates(map[string]any{
				"credential": credential.Credential,
				"expires":    credential.Expires,
			}).Error

	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(credential).Error; err != nil {
			if isUniqueConstraintError(err) {
				// Concurrent token refresh; the winner's credential stands.
				return nil
			}
			return err
		}
		return nil

	default:
		return err
	}
}
