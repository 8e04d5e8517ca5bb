package models

import (
	"time"
)

// Loan records one patron's active loan on one license pool. At most one
// Loan exists per (patron, pool); the unique index is authoritative under
// concurrent borrows.
type Loan struct {
	ID            uint         `gorm:"primaryKey" json:"id"`
	PatronID      uint         `gorm:"not null;uniqueIndex:idx_loans_patron_pool" json:"patron_id"`
	Patron        *Patron      `gorm:"foreignKey:PatronID" json:"patron,omitempty"`
	LicensePoolID uint         `gorm:"not null;uniqueIndex:idx_loans_patron_pool" json:"license_pool_id"`
	LicensePool   *LicensePool `gorm:"foreignKey:LicensePoolID" json:"license_pool,omitempty"`

	Start time.Time `gorm:"not null" json:"start"`

	// End is nil for indefinite loans (open access, perpetual licenses).
	End *time.Time `json:"end,omitempty"`

	// FulfillmentID points at the LPDM the patron committed to once a
	// non-streaming delivery mechanism has been exercised.
	FulfillmentID *uint                         `json:"fulfillment_id,omitempty"`
	Fulfillment   *LicensePoolDeliveryMechanism `gorm:"foreignKey:FulfillmentID" json:"fulfillment,omitempty"`

	// ExternalIdentifier is the vendor's identifier for this loan, when the
	// vendor assigns one.
	ExternalIdentifier *string `gorm:"size:255" json:"external_identifier,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Loan.
func (Loan) TableName() string {
	return "loans"
}

// Indefinite reports whether the loan has no end date.
func (l *Loan) Indefinite() bool {
	return l.End == nil
}

// Hold records one patron's place in the hold queue of one license pool.
// At most one Hold exists per (patron, pool).
type Hold struct {
	ID            uint         `gorm:"primaryKey" json:"id"`
	PatronID      uint         `gorm:"not null;uniqueIndex:idx_holds_patron_pool" json:"patron_id"`
	Patron        *Patron      `gorm:"foreignKey:PatronID" json:"patron,omitempty"`
	LicensePoolID uint         `gorm:"not null;uniqueIndex:idx_holds_patron_pool" json:"license_pool_id"`
	LicensePool   *LicensePool `gorm:"foreignKey:LicensePoolID" json:"license_pool,omitempty"`

	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`

	// Position 0 means the copy is reserved for the patron. Nil means the
	// position is unknown; a sync will resolve it. Never render nil as
	// "first in line" to the patron.
	Position *int `json:"position,omitempty"`

	ExternalIdentifier *string `gorm:"size:255" json:"external_identifier,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Hold.
func (Hold) TableName() string {
	return "holds"
}

// Reserved reports whether the copy is earmarked for the patron
// (position 0).
func (h *Hold) Reserved() bool {
	return h.Position != nil && *h.Position == 0
}
