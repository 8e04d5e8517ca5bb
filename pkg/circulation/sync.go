package circulation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opencirc/circ/internal/logger"
	"github.com/opencirc/circ/internal/telemetry"
	"github.com/opencirc/circ/pkg/models"
	"github.com/opencirc/circ/pkg/store"
)

// activityResult is one adapter's answer during bookshelf fan-out.
type activityResult struct {
	collectionID uint
	protocol     string
	loans        []*LoanInfo
	holds        []*HoldInfo
	err          error
}

// SyncBookshelf reconciles the patron's local loan and hold rows with
// vendor truth across every activity-capable adapter, returning the
// reconciled rows.
//
// Unless force is set, a fresh sync timestamp short-circuits to the local
// rows. Adapters are queried concurrently; a failing adapter downgrades
// the sync to additions and updates only, because an unreachable vendor
// may still know about loans that deletion would discard.
func (e *Engine) SyncBookshelf(ctx context.Context, patron *models.Patron, pin string, force bool) (loans []*models.Loan, holds []*models.Hold, err error) {
	ctx, span := telemetry.StartCirculationSpan(ctx, telemetry.SpanSync,
		e.library.ShortName, patron.AuthorizationIdentifier)
	defer span.End()

	defer func() {
		telemetry.RecordError(ctx, err)
	}()

	if !force && e.syncIsFresh(patron) {
		e.metrics.RecordSync("skipped")
		loans, err = e.st.GetPatronLoans(ctx, patron.ID)
		if err != nil {
			return nil, nil, err
		}
		holds, err = e.st.GetPatronHolds(ctx, patron.ID)
		if err != nil {
			return nil, nil, err
		}
		return loans, holds, nil
	}

	sources := e.activitySources()

	// The timestamp is captured before fan-out so a vendor mutation racing
	// the sync is picked up by the next one.
	syncStart := e.now()
	results := e.fanOutActivity(ctx, sources, patron, pin)

	complete := true
	var remoteLoans []*LoanInfo
	var remoteHolds []*HoldInfo
	for _, res := range results {
		if res.err != nil {
			complete = false
			logger.WarnCtx(ctx, "patron activity fetch failed",
				logger.Protocol(res.protocol),
				logger.Err(res.err))
			continue
		}
		remoteLoans = append(remoteLoans, res.loans...)
		remoteHolds = append(remoteHolds, res.holds...)
	}

	if err = e.reconcile(ctx, patron, sources, remoteLoans, remoteHolds, complete, syncStart); err != nil {
		e.metrics.RecordSync("failed")
		return nil, nil, err
	}

	if complete {
		e.metrics.RecordSync("complete")
	} else {
		e.metrics.RecordSync("partial")
	}

	loans, err = e.st.GetPatronLoans(ctx, patron.ID)
	if err != nil {
		return nil, nil, err
	}
	holds, err = e.st.GetPatronHolds(ctx, patron.ID)
	if err != nil {
		return nil, nil, err
	}

	span.SetAttributes(
		telemetry.LoanCount(len(loans)),
		telemetry.HoldCount(len(holds)),
		telemetry.Complete(complete),
	)
	return loans, holds, nil
}

// PatronActivity returns the merged remote view of the patron's loans and
// holds across every activity-capable adapter, without touching local rows.
// complete is false when any adapter failed to answer.
func (e *Engine) PatronActivity(ctx context.Context, patron *models.Patron, pin string) (loans []*LoanInfo, holds []*HoldInfo, complete bool) {
	results := e.fanOutActivity(ctx, e.activitySources(), patron, pin)

	complete = true
	for _, res := range results {
		if res.err != nil {
			complete = false
			logger.WarnCtx(ctx, "patron activity fetch failed",
				logger.Protocol(res.protocol),
				logger.Err(res.err))
			continue
		}
		loans = append(loans, res.loans...)
		holds = append(holds, res.holds...)
	}
	return loans, holds, complete
}

// LocalActivityFresh reports whether the patron's bookshelf can be served
// from local rows without a sync.
func (e *Engine) LocalActivityFresh(patron *models.Patron) bool {
	return e.syncIsFresh(patron)
}

// syncIsFresh reports whether the patron's last sync is recent enough to
// trust. A zero max age trusts any non-null timestamp.
func (e *Engine) syncIsFresh(patron *models.Patron) bool {
	ts := patron.LastLoanActivitySync
	if ts == nil {
		return false
	}
	if e.loanActivityMaxAge <= 0 {
		return true
	}
	return e.now().Sub(*ts) < e.loanActivityMaxAge
}

// activitySources returns the engine's adapters that can enumerate patron
// activity, keyed by collection ID.
func (e *Engine) activitySources() map[uint]PatronActivitySource {
	sources := make(map[uint]PatronActivitySource)
	for collectionID, adapter := range e.adapters {
		if src, ok := adapter.(PatronActivitySource); ok {
			sources[collectionID] = src
		}
	}
	return sources
}

// fanOutActivity queries every activity source concurrently and joins the
// results. A panicking adapter is recorded as a failure, never allowed to
// take down the sync.
func (e *Engine) fanOutActivity(ctx context.Context, sources map[uint]PatronActivitySource, patron *models.Patron, pin string) []*activityResult {
	results := make([]*activityResult, 0, len(sources))
	resultCh := make(chan *activityResult, len(sources))

	var wg sync.WaitGroup
	for collectionID, source := range sources {
		adapter := e.adapters[collectionID]

		wg.Add(1)
		go func(collectionID uint, source PatronActivitySource, protocol string) {
			defer wg.Done()

			res := &activityResult{collectionID: collectionID, protocol: protocol}
			defer func() {
				if r := recover(); r != nil {
					res.err = fmt.Errorf("patron activity panicked: %v", r)
				}
				resultCh <- res
			}()

			vctx, cancel := e.vendorCtx(ctx)
			defer cancel()

			callStart := e.now()
			res.loans, res.holds, res.err = source.PatronActivity(vctx, patron, pin)
			e.metrics.RecordVendorCall(protocol, "patron_activity", time.Since(callStart), res.err)
		}(collectionID, source, adapter.Protocol())
	}

	wg.Wait()
	close(resultCh)
	for res := range resultCh {
		results = append(results, res)
	}
	return results
}

// reconcile applies remote truth to the local rows in one transaction.
// Deletions only happen on a complete sync, and never touch rows outside
// the activity-capable collections or loans younger than the concurrent
// borrow protection window.
func (e *Engine) reconcile(ctx context.Context, patron *models.Patron, sources map[uint]PatronActivitySource, remoteLoans []*LoanInfo, remoteHolds []*HoldInfo, complete bool, syncStart time.Time) error {
	return e.st.Transaction(ctx, func(tx store.Store) error {
		localLoans, err := tx.GetPatronLoans(ctx, patron.ID)
		if err != nil {
			return err
		}
		localHolds, err := tx.GetPatronHolds(ctx, patron.ID)
		if err != nil {
			return err
		}

		leftoverLoans := make(map[models.IdentifierKey]*models.Loan)
		for _, loan := range localLoans {
			if loan.LicensePool == nil {
				continue
			}
			if _, managed := sources[loan.LicensePool.CollectionID]; !managed {
				continue
			}
			leftoverLoans[loan.LicensePool.Key()] = loan
		}
		leftoverHolds := make(map[models.IdentifierKey]*models.Hold)
		for _, hold := range localHolds {
			if hold.LicensePool == nil {
				continue
			}
			if _, managed := sources[hold.LicensePool.CollectionID]; !managed {
				continue
			}
			leftoverHolds[hold.LicensePool.Key()] = hold
		}

		for _, info := range remoteLoans {
			pool, err := tx.FindPool(ctx, info.CollectionID, info.IdentifierType, info.Identifier)
			if err != nil {
				if errors.Is(err, models.ErrPoolNotFound) {
					logger.WarnCtx(ctx, "vendor reported loan for unknown pool",
						logger.Identifier(info.Identifier),
						logger.IdentifierType(info.IdentifierType))
					continue
				}
				return err
			}

			existing := leftoverLoans[info.Key()]
			delete(leftoverLoans, info.Key())

			row := &models.Loan{
				PatronID:           patron.ID,
				LicensePoolID:      pool.ID,
				Start:              e.now(),
				End:                info.End,
				ExternalIdentifier: info.ExternalIdentifier,
			}
			if info.Start != nil {
				row.Start = *info.Start
			} else if existing != nil {
				row.Start = existing.Start
			}
			if info.End == nil && existing != nil {
				row.End = existing.End
			}

			loan, err := tx.UpsertLoan(ctx, row)
			if err != nil {
				return err
			}
			if info.LockedTo != nil {
				if err := info.LockedTo.Apply(ctx, tx, loan); err != nil {
					return err
				}
			}
		}

		for _, info := range remoteHolds {
			pool, err := tx.FindPool(ctx, info.CollectionID, info.IdentifierType, info.Identifier)
			if err != nil {
				if errors.Is(err, models.ErrPoolNotFound) {
					logger.WarnCtx(ctx, "vendor reported hold for unknown pool",
						logger.Identifier(info.Identifier),
						logger.IdentifierType(info.IdentifierType))
					continue
				}
				return err
			}

			existing := leftoverHolds[info.Key()]
			delete(leftoverHolds, info.Key())

			row := &models.Hold{
				PatronID:           patron.ID,
				LicensePoolID:      pool.ID,
				Start:              e.now(),
				End:                info.End,
				Position:           info.Position,
				ExternalIdentifier: info.ExternalIdentifier,
			}
			if info.Start != nil {
				row.Start = *info.Start
			} else if existing != nil {
				row.Start = existing.Start
			}
			if info.End == nil && existing != nil {
				row.End = existing.End
			}

			if _, err := tx.UpsertHold(ctx, row); err != nil {
				return err
			}
		}

		if complete {
			for _, loan := range leftoverLoans {
				// A loan created by a borrow racing this sync started after
				// the fan-out and must not be reaped.
				if e.now().Sub(loan.Start) < recentLoanProtection {
					continue
				}
				if err := tx.DeleteLoan(ctx, loan.ID); err != nil {
					return err
				}
			}
			for _, hold := range leftoverHolds {
				if err := tx.DeleteHold(ctx, hold.ID); err != nil {
					return err
				}
			}
		}

		stamp := &syncStart
		if !complete {
			stamp = nil
		}
		if err := tx.SetLastActivitySync(ctx, patron.ID, stamp); err != nil {
			return err
		}
		patron.LastLoanActivitySync = stamp
		return nil
	})
}
