package models

import (
	"time"
)

// Patron block reasons, set by the patron authentication layer.
// An empty BlockReason means the patron is in good standing.
const (
	BlockReasonExcessiveFines = "excessive_fines"
	BlockReasonCardExpired    = "card_expired"
	BlockReasonSuspended      = "suspended"
	BlockReasonUnknown        = "unknown"
)

// Patron is an authenticated library user. Exactly one library owns each
// patron; the (library, authorization identifier) pair is unique.
type Patron struct {
	ID        uint     `gorm:"primaryKey" json:"id"`
	LibraryID uint     `gorm:"not null;uniqueIndex:idx_patrons_library_auth" json:"library_id"`
	Library   *Library `gorm:"foreignKey:LibraryID" json:"library,omitempty"`

	// AuthorizationIdentifier is the barcode or username the patron
	// authenticates with. Unique within a library.
	AuthorizationIdentifier string `gorm:"not null;size:255;uniqueIndex:idx_patrons_library_auth" json:"authorization_identifier"`

	// ExternalType is an ILS-assigned patron category (adult, juvenile, ...).
	// Some vendors vary lending policy by it.
	ExternalType string `gorm:"size:64" json:"external_type,omitempty"`

	// BlockReason is set when the ILS reports the patron may not borrow.
	BlockReason string `gorm:"size:64" json:"block_reason,omitempty"`

	// Fines is the outstanding fine balance reported by the ILS.
	Fines float64 `gorm:"default:0" json:"fines"`

	// AuthorizationExpires is when the library card lapses, if known.
	AuthorizationExpires *time.Time `json:"authorization_expires,omitempty"`

	// LastLoanActivitySync is when the bookshelf was last reconciled with
	// vendor-side truth. Nil forces the next sync to hit the vendors.
	// Cleared by every mutating circulation operation.
	LastLoanActivitySync *time.Time `json:"last_loan_activity_sync,omitempty"`

	// Neighborhood is supplied per-request by the authentication layer for
	// analytics enrichment. It is never persisted.
	Neighborhood string `gorm:"-" json:"-"`

	Loans []*Loan `gorm:"foreignKey:PatronID" json:"loans,omitempty"`
	Holds []*Hold `gorm:"foreignKey:PatronID" json:"holds,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Patron.
func (Patron) TableName() string {
	return "patrons"
}

// Blocked reports whether the ILS has blocked the patron from borrowing.
func (p *Patron) Blocked() bool {
	return p.BlockReason != ""
}

// AuthorizationExpired reports whether the patron's card has lapsed as of now.
func (p *Patron) AuthorizationExpired(now time.Time) bool {
	return p.AuthorizationExpires != nil && p.AuthorizationExpires.Before(now)
}

// LoanFor returns the patron's loan on the given pool from the preloaded
// Loans association, or nil.
func (p *Patron) LoanFor(pool *LicensePool) *Loan {
	for _, loan := range p.Loans {
		if loan.LicensePoolID == pool.ID {
			return loan
		}
	}
	return nil
}

// HoldFor returns the patron's hold on the given pool from the preloaded
// Holds association, or nil.
func (p *Patron) HoldFor(pool *LicensePool) *Hold {
	for _, hold := range p.Holds {
		if hold.LicensePoolID == pool.ID {
			return hold
		}
	}
	return nil
}
