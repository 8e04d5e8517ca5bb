package models

import (
	"time"
)

// Credential stores an opaque vendor credential, typically a bearer token
// obtained during an authentication handshake. Credentials may be scoped to
// a collection, a patron, both, or neither; the circulation core persists
// them on behalf of adapters and never inspects the payload.
type Credential struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	DataSource string `gorm:"not null;size:128;uniqueIndex:idx_credentials_scope" json:"data_source"`
	Type       string `gorm:"not null;size:128;uniqueIndex:idx_credentials_scope" json:"type"`

	CollectionID *uint `gorm:"uniqueIndex:idx_credentials_scope" json:"collection_id,omitempty"`
	PatronID     *uint `gorm:"uniqueIndex:idx_credentials_scope" json:"patron_id,omitempty"`

	Credential string     `gorm:"type:text" json:"-"`
	Expires    *time.Time `json:"expires,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Credential.
func (Credential) TableName() string {
	return "credentials"
}

// Expired reports whether the credential has lapsed as of now. Credentials
// without an expiry never expire.
func (c *Credential) Expired(now time.Time) bool {
	return c.Expires != nil && !c.Expires.After(now)
}
