package circulation

import (
	"context"

	"github.com/opencirc/circ/pkg/models"
)

// MechanismStep says when a patron must commit to a delivery mechanism.
type MechanismStep int

const (
	// MechanismStepNone means the vendor never requires a format choice.
	MechanismStepNone MechanismStep = iota

	// MechanismStepBorrow means the format is committed at checkout time.
	MechanismStepBorrow

	// MechanismStepFulfill means the format is committed on first fulfill.
	MechanismStepFulfill
)

// Capabilities are the policy-relevant properties a vendor adapter
// declares. The engine consults them before and during each flow.
type Capabilities struct {
	// SetMechanismAt says when the patron must choose a delivery mechanism.
	SetMechanismAt MechanismStep

	// CanRevokeHoldWhenReserved is false for vendors that lock holds in
	// once the copy is reserved (position 0).
	CanRevokeHoldWhenReserved bool
}

// VendorAdapter is the uniform per-collection contract every distributor
// integration satisfies. One adapter instance serves one Collection and is
// shared across requests; implementations must be safe for concurrent use.
//
// All methods may block on vendor I/O; callers bound them with a context
// deadline. Vendor failures are translated into the circulation error
// taxonomy (ErrNoAvailableCopies, ErrAlreadyCheckedOut, ...) so the engine
// can react uniformly.
type VendorAdapter interface {
	// Protocol returns the protocol name this adapter implements.
	Protocol() string

	// Capabilities returns the adapter's declared policy capabilities.
	Capabilities() Capabilities

	// Checkout borrows the title for the patron. Exactly one of the
	// returned records is non-nil on success; a vendor may downgrade a
	// checkout to a hold when no copy is available.
	// mechanism is non-nil iff Capabilities().SetMechanismAt is
	// MechanismStepBorrow.
	Checkout(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool, mechanism *models.LicensePoolDeliveryMechanism) (*LoanInfo, *HoldInfo, error)

	// Checkin returns the patron's loan to the vendor.
	// Returns ErrNotCheckedOut when the vendor has no such loan.
	Checkin(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool) error

	// Fulfill turns the patron's loan into downloadable content. The
	// result may be lazy; the engine resolves it when needed.
	Fulfill(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool, mechanism *models.LicensePoolDeliveryMechanism) (Fulfillment, error)

	// PlaceHold queues the patron for the title. notificationEmail is the
	// address the vendor should notify when the copy becomes available.
	PlaceHold(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool, notificationEmail string) (*HoldInfo, error)

	// ReleaseHold removes the patron from the title's hold queue.
	// Returns ErrNotOnHold when the vendor has no such hold.
	ReleaseHold(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool) error

	// UpdateAvailability refreshes the pool's copy counts from vendor
	// truth, writing them to the pool and the store.
	UpdateAvailability(ctx context.Context, pool *models.LicensePool) error
}

// PatronActivitySource is implemented by adapters that can enumerate a
// patron's vendor-side loans and holds. The bookshelf sync fans out to
// every adapter implementing it.
type PatronActivitySource interface {
	PatronActivity(ctx context.Context, patron *models.Patron, pin string) ([]*LoanInfo, []*HoldInfo, error)
}

// LoanlessFulfiller is implemented by adapters that can fulfill some
// deliveries without a recorded loan (open-access feeds, certain
// distributor models). Adapters not implementing it require a loan.
type LoanlessFulfiller interface {
	CanFulfillWithoutLoan(patron *models.Patron, pool *models.LicensePool, mechanism *models.LicensePoolDeliveryMechanism) bool
}

// FormatKey identifies a delivery mechanism pair in a FormatMap.
type FormatKey struct {
	ContentType string
	DRMScheme   string
}

// FormatMap translates (content type, DRM scheme) pairs into
// vendor-specific format codes. Adapters whose protocols speak in format
// codes declare one statically.
type FormatMap map[FormatKey]string

// Lookup returns the vendor format code for the mechanism.
// Returns a DeliveryMechanismError for unmapped pairs.
func (m FormatMap) Lookup(mechanism *models.DeliveryMechanism) (string, error) {
	if mechanism == nil {
		return "", &DeliveryMechanismError{}
	}
	code, ok := m[FormatKey{ContentType: mechanism.ContentType, DRMScheme: mechanism.DRMScheme}]
	if !ok {
		return "", &DeliveryMechanismError{
			ContentType: mechanism.ContentType,
			DRMScheme:   mechanism.DRMScheme,
		}
	}
	return code, nil
}
