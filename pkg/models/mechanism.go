package models

import (
	"strings"
	"time"
)

// Well-known content types for circulation deliveries.
const (
	EPUBMediaType              = "application/epub+zip"
	PDFMediaType               = "application/pdf"
	AudiobookManifestMediaType = "application/audiobook+json"

	// StreamingProfile marks content types whose delivery is streamed
	// rather than downloaded. Streaming deliveries never bind a loan to a
	// single format.
	StreamingProfile = "profile=http://librarysimplified.org/terms/profiles/streaming-media"

	StreamingTextMediaType = "text/html;" + StreamingProfile
)

// Well-known DRM schemes. NoDRM marks a DRM-free delivery.
const (
	NoDRM          = ""
	AdobeDRM       = "application/vnd.adobe.adept+xml"
	LCPDRM         = "application/vnd.readium.lcp.license.v1.0+json"
	BearerTokenDRM = "application/vnd.librarysimplified.bearer-token+jwt"
)

// Well-known rights URIs for delivery mechanisms.
const (
	RightsOpenAccessDownload = "https://www.gutenberg.org/license"
	RightsInCopyright        = "http://librarysimplified.org/terms/rights/in-copyright"
	RightsUnknown            = "http://librarysimplified.org/terms/rights/unknown"
)

// DeliveryMechanism is a (content type, DRM scheme) pair by which a title
// may be delivered. The pair is unique; rows are shared across pools via
// LicensePoolDeliveryMechanism.
type DeliveryMechanism struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	ContentType string `gorm:"not null;size:255;uniqueIndex:idx_mechanisms_pair" json:"content_type"`
	DRMScheme   string `gorm:"size:255;uniqueIndex:idx_mechanisms_pair" json:"drm_scheme"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for DeliveryMechanism.
func (DeliveryMechanism) TableName() string {
	return "delivery_mechanisms"
}

// Streaming reports whether this mechanism streams content instead of
// delivering a download. Streaming deliveries do not lock a loan to a
// format.
func (d *DeliveryMechanism) Streaming() bool {
	return strings.Contains(d.ContentType, StreamingProfile)
}

// DRMFree reports whether this delivery carries no DRM.
func (d *DeliveryMechanism) DRMFree() bool {
	return d.DRMScheme == NoDRM
}

// CompatibleWith reports whether a loan locked to this mechanism can also
// be fulfilled through other. Two mechanisms are compatible when they
// describe the same DRM and content combination, or when either side is a
// streaming delivery (streaming never constrains the loan).
func (d *DeliveryMechanism) CompatibleWith(other *DeliveryMechanism) bool {
	if d == nil || other == nil {
		return false
	}
	if d.ID != 0 && d.ID == other.ID {
		return true
	}
	if d.Streaming() || other.Streaming() {
		return true
	}
	return d.DRMScheme == other.DRMScheme && d.ContentType == other.ContentType
}

// LicensePoolDeliveryMechanism (LPDM) makes a DeliveryMechanism available
// on a specific license pool, optionally with a rights statement and a
// direct-download resource (for open-access deliveries).
type LicensePoolDeliveryMechanism struct {
	ID                  uint               `gorm:"primaryKey" json:"id"`
	LicensePoolID       uint               `gorm:"not null;uniqueIndex:idx_lpdm_identity" json:"license_pool_id"`
	DeliveryMechanismID uint               `gorm:"not null;uniqueIndex:idx_lpdm_identity" json:"delivery_mechanism_id"`
	DeliveryMechanism   *DeliveryMechanism `gorm:"foreignKey:DeliveryMechanismID" json:"delivery_mechanism,omitempty"`

	RightsURI string `gorm:"size:255;uniqueIndex:idx_lpdm_identity" json:"rights_uri,omitempty"`

	// ResourceURL points at a directly downloadable representation. Only
	// set for open-access deliveries; fulfillment serves it without a
	// vendor call.
	ResourceURL string `gorm:"size:2048" json:"resource_url,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for LicensePoolDeliveryMechanism.
func (LicensePoolDeliveryMechanism) TableName() string {
	return "license_pool_delivery_mechanisms"
}

// Streaming reports whether the underlying delivery mechanism streams.
func (l *LicensePoolDeliveryMechanism) Streaming() bool {
	return l.DeliveryMechanism != nil && l.DeliveryMechanism.Streaming()
}

// OpenAccess reports whether this LPDM grants open access to its resource.
func (l *LicensePoolDeliveryMechanism) OpenAccess() bool {
	return l.RightsURI == RightsOpenAccessDownload && l.ResourceURL != ""
}

// CompatibleWith reports whether a loan locked to this LPDM may be
// fulfilled through other.
func (l *LicensePoolDeliveryMechanism) CompatibleWith(other *LicensePoolDeliveryMechanism) bool {
	if l == nil || other == nil {
		return false
	}
	if l.ID != 0 && l.ID == other.ID {
		return true
	}
	return l.DeliveryMechanism.CompatibleWith(other.DeliveryMechanism)
}
