package models

import (
	"fmt"
	"time"
)

// LicensePool is the per-collection record of how many copies of one title
// are owned and available. It binds an identifier to a collection; the
// (data source, identifier type, identifier, collection) tuple is unique.
type LicensePool struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	CollectionID uint        `gorm:"not null;uniqueIndex:idx_pools_identity" json:"collection_id"`
	Collection   *Collection `gorm:"foreignKey:CollectionID" json:"collection,omitempty"`

	DataSource     string `gorm:"not null;size:128;uniqueIndex:idx_pools_identity" json:"data_source"`
	IdentifierType string `gorm:"not null;size:64;uniqueIndex:idx_pools_identity" json:"identifier_type"`
	Identifier     string `gorm:"not null;size:255;uniqueIndex:idx_pools_identity" json:"identifier"`

	// OpenAccess pools are freely downloadable; they bypass loan and hold
	// limits and may be fulfilled without a vendor call.
	OpenAccess bool `gorm:"default:false" json:"open_access"`

	// UnlimitedAccess pools are licensed without copy counts (e.g. paid
	// simultaneous-use licenses). They bypass limits but still require
	// vendor fulfillment.
	UnlimitedAccess bool `gorm:"default:false" json:"unlimited_access"`

	LicensesOwned      int `gorm:"default:0" json:"licenses_owned"`
	LicensesAvailable  int `gorm:"default:0" json:"licenses_available"`
	PatronsInHoldQueue int `gorm:"default:0" json:"patrons_in_hold_queue"`

	// PresentationTitle is denormalized from the presentation edition for
	// logging and ops surfaces.
	PresentationTitle string `gorm:"size:512" json:"presentation_title,omitempty"`

	DeliveryMechanisms []*LicensePoolDeliveryMechanism `gorm:"foreignKey:LicensePoolID" json:"delivery_mechanisms,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for LicensePool.
func (LicensePool) TableName() string {
	return "license_pools"
}

// Key returns the (identifier type, identifier) pair that identifies this
// pool's title during bookshelf reconciliation.
func (p *LicensePool) Key() IdentifierKey {
	return IdentifierKey{Type: p.IdentifierType, Identifier: p.Identifier}
}

// String returns a human-readable description for logs.
func (p *LicensePool) String() string {
	return fmt.Sprintf("%s/%s (%s)", p.IdentifierType, p.Identifier, p.DataSource)
}

// MechanismFor returns the pool's LPDM matching the given delivery
// mechanism, searching the preloaded DeliveryMechanisms association.
// Returns nil if the pool does not offer that delivery.
func (p *LicensePool) MechanismFor(mech *DeliveryMechanism) *LicensePoolDeliveryMechanism {
	if mech == nil {
		return nil
	}
	for _, lpdm := range p.DeliveryMechanisms {
		if lpdm.DeliveryMechanism == nil {
			continue
		}
		if lpdm.DeliveryMechanism.ContentType == mech.ContentType &&
			lpdm.DeliveryMechanism.DRMScheme == mech.DRMScheme {
			return lpdm
		}
	}
	return nil
}

// IdentifierKey identifies a title independently of the pool's database
// identity. Used as the reconciliation map key during bookshelf sync.
type IdentifierKey struct {
	Type       string
	Identifier string
}

func (k IdentifierKey) String() string {
	return k.Type + "/" + k.Identifier
}
