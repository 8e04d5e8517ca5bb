package models

import (
	"fmt"
	"time"
)

// Library is a tenant in the circulation manager. Each library owns its own
// circulation policy (loan/hold limits, fine caps) and a set of collections
// it draws licensed content from.
//
// A limit of 0 means "unlimited" throughout; this mirrors how the settings
// are rendered in the admin interface, where clearing the field disables
// the limit.
type Library struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Name      string `gorm:"uniqueIndex;not null;size:255" json:"name"`
	ShortName string `gorm:"uniqueIndex;not null;size:64" json:"short_name"`

	// LoanLimit is the maximum number of concurrent loans per patron.
	// 0 disables the limit. Open-access and indefinite loans never count.
	LoanLimit int `gorm:"default:0" json:"loan_limit"`

	// HoldLimit is the maximum number of concurrent holds per patron.
	// 0 disables the limit.
	HoldLimit int `gorm:"default:0" json:"hold_limit"`

	// AllowHolds controls whether borrow operations may fall back to
	// placing a hold when no copies are available.
	AllowHolds bool `gorm:"default:true" json:"allow_holds"`

	// DefaultNotificationEmail is used for vendor hold notifications when
	// the patron has no address on file with the vendor.
	DefaultNotificationEmail string `gorm:"size:255" json:"default_notification_email,omitempty"`

	// MaxOutstandingFines blocks borrowing when exceeded. 0 disables the cap.
	MaxOutstandingFines float64 `gorm:"default:0" json:"max_outstanding_fines"`

	// DefaultLoanDuration is applied when a vendor reports a loan without
	// an end date and the loan is not indefinite.
	DefaultLoanDuration time.Duration `gorm:"default:0" json:"default_loan_duration"`

	// EbookLoanDuration overrides DefaultLoanDuration for ebook deliveries.
	EbookLoanDuration time.Duration `gorm:"default:0" json:"ebook_loan_duration"`

	// MinimumFeaturedQuality is propagated through catalog filters.
	// The circulation core does not consult it.
	MinimumFeaturedQuality float64 `gorm:"default:0.65" json:"minimum_featured_quality"`

	Collections []*Collection `gorm:"many2many:library_collections;" json:"collections,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Library.
func (Library) TableName() string {
	return "libraries"
}

// Validate checks if the library has valid configuration.
func (l *Library) Validate() error {
	if l.Name == "" {
		return fmt.Errorf("library name is required")
	}
	if l.ShortName == "" {
		return fmt.Errorf("library short name is required")
	}
	if l.LoanLimit < 0 {
		return fmt.Errorf("loan limit must be non-negative")
	}
	if l.HoldLimit < 0 {
		return fmt.Errorf("hold limit must be non-negative")
	}
	return nil
}

// LoanDurationFor returns the loan duration the library grants for the given
// content type, or 0 if no default is configured.
func (l *Library) LoanDurationFor(contentType string) time.Duration {
	if l.EbookLoanDuration > 0 && isEbookMediaType(contentType) {
		return l.EbookLoanDuration
	}
	return l.DefaultLoanDuration
}

func isEbookMediaType(contentType string) bool {
	switch contentType {
	case EPUBMediaType, PDFMediaType:
		return true
	}
	return false
}
