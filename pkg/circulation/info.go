// Package circulation implements the generic circulation state machine:
// borrow, fulfill, return, and hold flows over a heterogeneous set of
// vendor adapters, plus the bookshelf synchronization that reconciles
// local loan and hold rows with vendor-side truth.
package circulation

import (
	"context"
	"time"

	"github.com/opencirc/circ/pkg/models"
	"github.com/opencirc/circ/pkg/store"
)

// CirculationInfo identifies a title at the adapter boundary. It carries no
// database identity; the engine connects it to a LicensePool during
// persistence.
type CirculationInfo struct {
	CollectionID   uint
	DataSource     string
	IdentifierType string
	Identifier     string
}

// Key returns the reconciliation key for this record.
func (c CirculationInfo) Key() models.IdentifierKey {
	return models.IdentifierKey{Type: c.IdentifierType, Identifier: c.Identifier}
}

// InfoForPool builds a CirculationInfo describing the given pool.
func InfoForPool(pool *models.LicensePool) CirculationInfo {
	return CirculationInfo{
		CollectionID:   pool.CollectionID,
		DataSource:     pool.DataSource,
		IdentifierType: pool.IdentifierType,
		Identifier:     pool.Identifier,
	}
}

// LoanInfo describes a vendor-side loan. Adapters return it from Checkout
// and PatronActivity; the engine translates it into a Loan row.
type LoanInfo struct {
	CirculationInfo

	// Start is nil when the vendor did not report a start date (e.g. the
	// placeholder loan synthesized for an AlreadyCheckedOut outcome).
	Start *time.Time
	End   *time.Time

	// Fulfillment optionally carries an already prepared fulfillment for
	// this loan. Not persisted.
	Fulfillment Fulfillment

	// LockedTo reports the delivery mechanism the vendor says the loan is
	// committed to. Applied to the local Loan row during sync.
	LockedTo *DeliveryMechanismInfo

	ExternalIdentifier *string
}

// HoldInfo describes a vendor-side hold.
type HoldInfo struct {
	CirculationInfo

	Start *time.Time
	End   *time.Time

	// Position nil means the queue position is unknown; a sync resolves it.
	Position *int

	ExternalIdentifier *string
}

// DeliveryMechanismInfo describes a (content type, DRM scheme) pair
// reported by a vendor, optionally with a rights statement and a direct
// resource link.
type DeliveryMechanismInfo struct {
	ContentType string
	DRMScheme   string
	RightsURI   string
	Resource    string
}

// Apply records on the loan that the patron is committed to this delivery
// mechanism, creating the DeliveryMechanism and LPDM rows as needed. The
// LPDM may be one the pool did not previously advertise. Callers run this
// inside their surrounding transaction.
func (d *DeliveryMechanismInfo) Apply(ctx context.Context, st store.Store, loan *models.Loan) error {
	mech, err := st.GetOrCreateDeliveryMechanism(ctx, d.ContentType, d.DRMScheme)
	if err != nil {
		return err
	}

	if loan.Fulfillment != nil && loan.Fulfillment.DeliveryMechanismID == mech.ID {
		return nil
	}

	rights := d.RightsURI
	if rights == "" {
		rights = models.RightsUnknown
	}

	lpdm, err := st.GetOrCreateLPDM(ctx, loan.LicensePoolID, mech.ID, rights, d.Resource)
	if err != nil {
		return err
	}

	if err := st.SetLoanFulfillment(ctx, loan.ID, lpdm.ID); err != nil {
		return err
	}
	loan.FulfillmentID = &lpdm.ID
	loan.Fulfillment = lpdm
	return nil
}
