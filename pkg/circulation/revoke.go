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

// RevokeLoan returns the patron's loan on the pool to the vendor and
// deletes the local row. A vendor that answers "not checked out" is
// treated as success: remote and local disagree in the patron's favor,
// and the local row is stale.
func (e *Engine) RevokeLoan(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool) (err error) {
	ctx, span := telemetry.StartCirculationSpan(ctx, telemetry.SpanRevokeLoan,
		e.library.ShortName, patron.AuthorizationIdentifier,
		telemetry.Identifier(pool.Identifier))
	defer span.End()

	start := e.now()
	defer func() {
		e.metrics.RecordOperation("checkin", time.Since(start), err)
		telemetry.RecordError(ctx, err)
	}()

	loan, err := e.st.GetLoan(ctx, patron.ID, pool.ID)
	if err != nil {
		if errors.Is(err, models.ErrLoanNotFound) {
			return ErrNotCheckedOut
		}
		return err
	}

	adapter := e.AdapterFor(pool)
	if adapter != nil && !pool.OpenAccess {
		vctx, cancel := e.vendorCtx(ctx)
		callStart := e.now()
		checkinErr := adapter.Checkin(vctx, patron, pin, pool)
		cancel()
		e.metrics.RecordVendorCall(adapter.Protocol(), "checkin", time.Since(callStart), checkinErr)

		switch {
		case checkinErr == nil:
		case errors.Is(checkinErr, ErrNotCheckedOut):
			logger.InfoCtx(ctx, "vendor has no loan for local row, deleting local state",
				logger.Identifier(pool.Identifier))
		default:
			return checkinErr
		}
	}

	err = e.st.Transaction(ctx, func(tx store.Store) error {
		if deleteErr := tx.DeleteLoan(ctx, loan.ID); deleteErr != nil {
			return deleteErr
		}
		return tx.SetLastActivitySync(ctx, patron.ID, nil)
	})
	if err != nil {
		return err
	}

	e.collectEvent(ctx, patron, pool, analytics.EventCheckin)
	return nil
}

// ReleaseHold removes the patron from the pool's hold queue and deletes
// the local row. Like RevokeLoan, a vendor-side "not on hold" counts as
// success.
func (e *Engine) ReleaseHold(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool) (err error) {
	ctx, span := telemetry.StartCirculationSpan(ctx, telemetry.SpanReleaseHold,
		e.library.ShortName, patron.AuthorizationIdentifier,
		telemetry.Identifier(pool.Identifier))
	defer span.End()

	start := e.now()
	defer func() {
		e.metrics.RecordOperation("release_hold", time.Since(start), err)
		telemetry.RecordError(ctx, err)
	}()

	hold, err := e.st.GetHold(ctx, patron.ID, pool.ID)
	if err != nil {
		if errors.Is(err, models.ErrHoldNotFound) {
			return ErrNotOnHold
		}
		return err
	}

	adapter := e.AdapterFor(pool)
	if adapter == nil {
		if initErr := e.InitializationError(pool.CollectionID); initErr != nil {
			return initErr
		}
		return ErrCannotReleaseHold
	}

	if !e.CanRevokeHold(pool, hold) {
		return ErrCannotReleaseHold
	}

	vctx, cancel := e.vendorCtx(ctx)
	callStart := e.now()
	releaseErr := adapter.ReleaseHold(vctx, patron, pin, pool)
	cancel()
	e.metrics.RecordVendorCall(adapter.Protocol(), "release_hold", time.Since(callStart), releaseErr)

	switch {
	case releaseErr == nil:
	case errors.Is(releaseErr, ErrNotOnHold):
		logger.InfoCtx(ctx, "vendor has no hold for local row, deleting local state",
			logger.Identifier(pool.Identifier))
	default:
		return releaseErr
	}

	err = e.st.Transaction(ctx, func(tx store.Store) error {
		if deleteErr := tx.DeleteHold(ctx, hold.ID); deleteErr != nil {
			return deleteErr
		}
		return tx.SetLastActivitySync(ctx, patron.ID, nil)
	})
	if err != nil {
		return err
	}

	e.collectEvent(ctx, patron, pool, analytics.EventHoldRelease)
	return nil
}

// CanRevokeHold reports whether the patron's hold may be released. Queued
// holds (position above zero, or unknown) always can; a reserved copy
// depends on the vendor's declared capability.
func (e *Engine) CanRevokeHold(pool *models.LicensePool, hold *models.Hold) bool {
	if hold == nil {
		return false
	}
	if hold.Position == nil || *hold.Position > 0 {
		return true
	}
	adapter := e.AdapterFor(pool)
	return adapter != nil && adapter.Capabilities().CanRevokeHoldWhenReserved
}
