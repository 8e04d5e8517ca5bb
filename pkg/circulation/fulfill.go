package circulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opencirc/circ/internal/logger"
	"github.com/opencirc/circ/internal/telemetry"
	"github.com/opencirc/circ/pkg/analytics"
	"github.com/opencirc/circ/pkg/models"
	"github.com/opencirc/circ/pkg/store"
)

// Fulfill turns the patron's loan on the pool into downloadable content
// via the requested delivery mechanism. The result may be lazy; callers
// resolve it when the content is actually consumed.
//
// When no local loan exists but the adapter can enumerate patron
// activity, one forced sync runs before giving up, because the loan may
// have been created out of band (another device, the vendor's own app).
func (e *Engine) Fulfill(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool, mechanism *models.LicensePoolDeliveryMechanism) (Fulfillment, error) {
	return e.fulfill(ctx, patron, pin, pool, mechanism, true)
}

func (e *Engine) fulfill(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool, mechanism *models.LicensePoolDeliveryMechanism, syncOnFailure bool) (result Fulfillment, err error) {
	ctx, span := telemetry.StartCirculationSpan(ctx, telemetry.SpanFulfill,
		e.library.ShortName, patron.AuthorizationIdentifier,
		telemetry.Identifier(pool.Identifier))
	defer span.End()

	start := e.now()
	defer func() {
		e.metrics.RecordOperation("fulfill", time.Since(start), err)
		telemetry.RecordError(ctx, err)
	}()

	if pool.OpenAccess {
		return e.fulfillOpenAccess(ctx, patron, pool, mechanism)
	}

	adapter := e.AdapterFor(pool)
	if adapter == nil {
		if initErr := e.InitializationError(pool.CollectionID); initErr != nil {
			return nil, initErr
		}
		return nil, ErrCannotFulfill
	}

	loan := e.loanFor(ctx, patron, pool)
	if loan == nil && !e.CanFulfillWithoutLoan(patron, pool, mechanism) {
		if syncOnFailure {
			if _, ok := adapter.(PatronActivitySource); ok {
				if _, _, syncErr := e.SyncBookshelf(ctx, patron, pin, true); syncErr != nil {
					logger.WarnCtx(ctx, "sync before fulfill retry failed",
						logger.Err(syncErr),
						logger.Identifier(pool.Identifier))
				}
				return e.fulfill(ctx, patron, pin, pool, mechanism, false)
			}
		}
		return nil, ErrNoActiveLoan
	}

	// A loan already locked to a mechanism cannot be split across DRM
	// schemes. Streaming deliveries are exempt on either side.
	if loan != nil && loan.Fulfillment != nil && mechanism != nil {
		if !loan.Fulfillment.CompatibleWith(mechanism) {
			return nil, ErrDeliveryMechanismConflict
		}
	}

	vctx, cancel := e.vendorCtx(ctx)
	defer cancel()

	callStart := e.now()
	result, err = adapter.Fulfill(vctx, patron, pin, pool, mechanism)
	e.metrics.RecordVendorCall(adapter.Protocol(), "fulfill", time.Since(callStart), err)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ErrCannotFulfill
	}

	// Eager results are validated here; lazy results validate inside
	// Resolve, where the content fields first exist.
	if info, ok := result.(*FulfillmentInfo); ok && info.Empty() {
		return nil, ErrNoAcceptableFormat
	}

	// Bind the chosen mechanism before emitting, so the analytics event
	// never describes an uncommitted state.
	if loan != nil && loan.Fulfillment == nil && mechanism != nil && !mechanism.Streaming() {
		bindErr := e.st.Transaction(ctx, func(tx store.Store) error {
			return tx.SetLoanFulfillment(ctx, loan.ID, mechanism.ID)
		})
		if bindErr != nil {
			return nil, bindErr
		}
		loan.FulfillmentID = &mechanism.ID
		loan.Fulfillment = mechanism
	}

	e.collectEvent(ctx, patron, pool, analytics.EventFulfill)
	return result, nil
}

// fulfillOpenAccess serves the pool's direct-download resource without a
// vendor call or a loan. The requested mechanism narrows the search to
// compatible deliveries; nil accepts any open-access delivery.
func (e *Engine) fulfillOpenAccess(ctx context.Context, patron *models.Patron, pool *models.LicensePool, mechanism *models.LicensePoolDeliveryMechanism) (Fulfillment, error) {
	lpdm := openAccessDelivery(pool, mechanism)
	if lpdm == nil {
		return nil, ErrFormatNotAvailable
	}

	info := &FulfillmentInfo{
		CirculationInfo:     InfoForPool(pool),
		ContentLink:         lpdm.ResourceURL,
		ContentLinkRedirect: true,
	}
	if lpdm.DeliveryMechanism != nil {
		info.ContentType = lpdm.DeliveryMechanism.ContentType
	}

	e.collectEvent(ctx, patron, pool, analytics.EventFulfill)
	return info, nil
}

// openAccessDelivery picks a usable open-access LPDM from the pool,
// preferring the requested mechanism, then any delivery with the same
// content type and DRM scheme, then any usable one when no mechanism was
// requested.
func openAccessDelivery(pool *models.LicensePool, mechanism *models.LicensePoolDeliveryMechanism) *models.LicensePoolDeliveryMechanism {
	if mechanism != nil && mechanism.ResourceURL != "" {
		return mechanism
	}

	for _, lpdm := range pool.DeliveryMechanisms {
		if lpdm.ResourceURL == "" {
			continue
		}
		if mechanism == nil || lpdm.CompatibleWith(mechanism) {
			return lpdm
		}
	}
	return nil
}

// ResolveFulfillment materializes a fulfillment with the engine's vendor
// timeout, since lazy resolution is a vendor call in disguise.
func (e *Engine) ResolveFulfillment(ctx context.Context, f Fulfillment) (*FulfillmentInfo, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nothing to resolve", ErrCannotFulfill)
	}

	vctx, cancel := e.vendorCtx(ctx)
	defer cancel()

	info, err := f.Resolve(vctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: fulfillment resolution timed out", ErrCannotFulfill)
		}
		return nil, err
	}
	return info, nil
}
