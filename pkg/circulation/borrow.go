package circulation

import (
	"context"
	"errors"
	"time"

	"github.com/opencirc/circ/internal/logger"
	"github.com/opencirc/circ/internal/telemetry"
	"github.com/opencirc/circ/pkg/analytics"
	"github.com/opencirc/circ/pkg/models"
	"github.com/opencirc/circ/pkg/store"
)

// Borrow checks the title out to the patron, falling back to hold
// placement when no copy is available. Exactly one of the returned loan
// and hold is non-nil; isNew reports whether a new local row was created
// (and an analytics event emitted).
//
// The vendor is always called before the local row is written, so a
// cancelled borrow cannot leave a Loan row without a matching vendor-side
// loan.
func (e *Engine) Borrow(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool, mechanism *models.LicensePoolDeliveryMechanism, holdNotificationEmail string) (loan *models.Loan, hold *models.Hold, isNew bool, err error) {
	ctx, span := telemetry.StartCirculationSpan(ctx, telemetry.SpanBorrow,
		e.library.ShortName, patron.AuthorizationIdentifier,
		telemetry.Identifier(pool.Identifier))
	defer span.End()

	start := e.now()
	defer func() {
		e.metrics.RecordOperation("borrow", time.Since(start), err)
		telemetry.RecordError(ctx, err)
	}()

	if err = AssertBorrowingPrivileges(patron, e.library, e.now()); err != nil {
		return nil, nil, false, err
	}

	adapter := e.AdapterFor(pool)
	if adapter == nil {
		if initErr := e.InitializationError(pool.CollectionID); initErr != nil {
			return nil, nil, false, initErr
		}
		return nil, nil, false, ErrNoLicenses
	}

	if adapter.Capabilities().SetMechanismAt == MechanismStepBorrow && mechanism == nil {
		return nil, nil, false, ErrDeliveryMechanismMissing
	}

	existing := e.loanFor(ctx, patron, pool)
	if existing != nil {
		// A local loan plus a checkout request is either a renewal or
		// stale local state. A forced sync against vendor truth
		// disambiguates before we commit to the renewal path.
		if _, ok := adapter.(PatronActivitySource); ok {
			if _, _, syncErr := e.SyncBookshelf(ctx, patron, pin, true); syncErr != nil {
				logger.WarnCtx(ctx, "pre-renewal sync failed, proceeding with local state",
					logger.Err(syncErr))
			}
			existing = e.loanFor(ctx, patron, pool)
		}
	}

	if err = e.enforceLimits(ctx, adapter, patron, pool); err != nil {
		return nil, nil, false, err
	}

	loanInfo, holdInfo, deferred, err := e.vendorCheckout(ctx, adapter, patron, pin, pool, mechanism, existing)
	if err != nil {
		return nil, nil, false, err
	}

	if loanInfo != nil {
		loan, isNew, err = e.persistLoan(ctx, patron, pool, loanInfo, mechanism, adapter)
		if err != nil {
			return nil, nil, false, err
		}
		if isNew {
			e.collectEvent(ctx, patron, pool, analytics.EventCheckout)
		}
		return loan, nil, isNew, nil
	}

	if !e.library.AllowHolds {
		if deferred != nil {
			return nil, nil, false, deferred
		}
		return nil, nil, false, ErrHoldsNotPermitted
	}

	if holdInfo == nil {
		holdInfo, err = e.vendorPlaceHold(ctx, adapter, patron, pin, pool, holdNotificationEmail, deferred)
		if err != nil {
			return nil, nil, false, err
		}
	}

	hold, isNew, err = e.persistHold(ctx, patron, pool, holdInfo)
	if err != nil {
		return nil, nil, false, err
	}
	if isNew {
		e.collectEvent(ctx, patron, pool, analytics.EventHoldPlace)
	}
	return nil, hold, isNew, nil
}

// vendorCheckout calls the adapter and interprets its outcome. It returns
// at most one of loanInfo and holdInfo; a nil pair with nil error means
// "fall through to hold placement", optionally with a deferred loan-limit
// error to re-raise if the hold placement is refused as unnecessary.
func (e *Engine) vendorCheckout(ctx context.Context, adapter VendorAdapter, patron *models.Patron, pin string, pool *models.LicensePool, mechanism *models.LicensePoolDeliveryMechanism, existing *models.Loan) (*LoanInfo, *HoldInfo, error, error) {
	vctx, cancel := e.vendorCtx(ctx)
	defer cancel()

	callStart := e.now()
	loanInfo, holdInfo, err := adapter.Checkout(vctx, patron, pin, pool, mechanism)
	e.metrics.RecordVendorCall(adapter.Protocol(), "checkout", time.Since(callStart), err)

	switch {
	case err == nil:
		return loanInfo, holdInfo, nil, nil

	case errors.Is(err, ErrAlreadyCheckedOut):
		// The vendor says the patron has this already but we may have no
		// row. Synthesize a placeholder loan; the next sync supplies the
		// real dates.
		end := e.now().Add(placeholderLoanDuration)
		info := &LoanInfo{
			CirculationInfo: InfoForPool(pool),
			End:             &end,
		}
		if existing != nil {
			info.ExternalIdentifier = existing.ExternalIdentifier
		}
		return info, nil, nil, nil

	case errors.Is(err, ErrAlreadyOnHold):
		return nil, &HoldInfo{CirculationInfo: InfoForPool(pool)}, nil, nil

	case errors.Is(err, ErrNoAvailableCopies):
		if existing != nil {
			return nil, nil, nil, ErrCannotRenew
		}
		// Local availability was stale optimism; correct it, then try the
		// hold queue.
		if refreshErr := e.updateAvailability(ctx, adapter, pool); refreshErr != nil {
			logger.WarnCtx(ctx, "availability refresh failed after checkout refusal",
				logger.Err(refreshErr))
		}
		return nil, nil, nil, nil

	case errors.Is(err, ErrNoLicenses):
		if refreshErr := e.updateAvailability(ctx, adapter, pool); refreshErr != nil {
			logger.WarnCtx(ctx, "availability refresh failed after license refusal",
				logger.Err(refreshErr))
		}
		return nil, nil, nil, err

	case errors.Is(err, ErrPatronLoanLimit):
		// The vendor enforces its own loan limit. Remember the refusal and
		// try the hold queue; if the vendor then claims the book is freely
		// available, the limit is the honest explanation.
		return nil, nil, err, nil

	default:
		return nil, nil, nil, err
	}
}

// vendorPlaceHold calls the adapter's hold placement and interprets the
// outcome, re-raising a deferred checkout refusal when the vendor answers
// "currently available".
func (e *Engine) vendorPlaceHold(ctx context.Context, adapter VendorAdapter, patron *models.Patron, pin string, pool *models.LicensePool, notificationEmail string, deferred error) (*HoldInfo, error) {
	if notificationEmail == "" {
		notificationEmail = e.library.DefaultNotificationEmail
	}

	vctx, cancel := e.vendorCtx(ctx)
	defer cancel()

	callStart := e.now()
	holdInfo, err := adapter.PlaceHold(vctx, patron, pin, pool, notificationEmail)
	e.metrics.RecordVendorCall(adapter.Protocol(), "place_hold", time.Since(callStart), err)

	switch {
	case err == nil:
		return holdInfo, nil

	case errors.Is(err, ErrCurrentlyAvailable) && deferred != nil:
		return nil, deferred

	case errors.Is(err, ErrAlreadyOnHold):
		return &HoldInfo{CirculationInfo: InfoForPool(pool)}, nil

	default:
		return nil, err
	}
}

// persistLoan writes the vendor's loan into the store: upsert the Loan
// row, promote away any hold on the same pool, and force the next sync.
// All inside one transaction so a late failure rolls back cleanly.
func (e *Engine) persistLoan(ctx context.Context, patron *models.Patron, pool *models.LicensePool, info *LoanInfo, mechanism *models.LicensePoolDeliveryMechanism, adapter VendorAdapter) (*models.Loan, bool, error) {
	var (
		loan  *models.Loan
		isNew bool
	)

	err := e.st.Transaction(ctx, func(tx store.Store) error {
		_, lookupErr := tx.GetLoan(ctx, patron.ID, pool.ID)
		switch {
		case lookupErr == nil:
			isNew = false
		case errors.Is(lookupErr, models.ErrLoanNotFound):
			isNew = true
		default:
			return lookupErr
		}

		loanStart := e.now()
		if info.Start != nil {
			loanStart = *info.Start
		}

		row := &models.Loan{
			PatronID:           patron.ID,
			LicensePoolID:      pool.ID,
			Start:              loanStart,
			End:                info.End,
			ExternalIdentifier: info.ExternalIdentifier,
		}
		if adapter.Capabilities().SetMechanismAt == MechanismStepBorrow && mechanism != nil {
			row.FulfillmentID = &mechanism.ID
		}

		var upsertErr error
		loan, upsertErr = tx.UpsertLoan(ctx, row)
		if upsertErr != nil {
			return upsertErr
		}

		// Promotion: a loan supersedes any hold on the same pool.
		if hold, holdErr := tx.GetHold(ctx, patron.ID, pool.ID); holdErr == nil {
			if deleteErr := tx.DeleteHold(ctx, hold.ID); deleteErr != nil {
				return deleteErr
			}
		} else if !errors.Is(holdErr, models.ErrHoldNotFound) {
			return holdErr
		}

		return tx.SetLastActivitySync(ctx, patron.ID, nil)
	})
	if err != nil {
		return nil, false, err
	}
	return loan, isNew, nil
}

// persistHold writes the vendor's hold into the store, demoting away any
// loan on the same pool.
func (e *Engine) persistHold(ctx context.Context, patron *models.Patron, pool *models.LicensePool, info *HoldInfo) (*models.Hold, bool, error) {
	var (
		hold  *models.Hold
		isNew bool
	)

	err := e.st.Transaction(ctx, func(tx store.Store) error {
		_, lookupErr := tx.GetHold(ctx, patron.ID, pool.ID)
		switch {
		case lookupErr == nil:
			isNew = false
		case errors.Is(lookupErr, models.ErrHoldNotFound):
			isNew = true
		default:
			return lookupErr
		}

		holdStart := e.now()
		if info.Start != nil {
			holdStart = *info.Start
		}

		row := &models.Hold{
			PatronID:           patron.ID,
			LicensePoolID:      pool.ID,
			Start:              holdStart,
			End:                info.End,
			Position:           info.Position,
			ExternalIdentifier: info.ExternalIdentifier,
		}

		var upsertErr error
		hold, upsertErr = tx.UpsertHold(ctx, row)
		if upsertErr != nil {
			return upsertErr
		}

		// Demotion: the vendor downgraded a loan to a hold; drop the stale
		// loan row.
		if loan, loanErr := tx.GetLoan(ctx, patron.ID, pool.ID); loanErr == nil {
			if deleteErr := tx.DeleteLoan(ctx, loan.ID); deleteErr != nil {
				return deleteErr
			}
		} else if !errors.Is(loanErr, models.ErrLoanNotFound) {
			return loanErr
		}

		return tx.SetLastActivitySync(ctx, patron.ID, nil)
	})
	if err != nil {
		return nil, false, err
	}
	return hold, isNew, nil
}

// loanFor returns the patron's current loan on the pool, or nil.
func (e *Engine) loanFor(ctx context.Context, patron *models.Patron, pool *models.LicensePool) *models.Loan {
	loan, err := e.st.GetLoan(ctx, patron.ID, pool.ID)
	if err != nil {
		return nil
	}
	return loan
}
