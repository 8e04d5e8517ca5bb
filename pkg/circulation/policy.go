package circulation

import (
	"context"
	"time"

	"github.com/opencirc/circ/internal/logger"
	"github.com/opencirc/circ/pkg/models"
)

// AssertBorrowingPrivileges checks whether the patron may borrow at all.
// Runs before any vendor call.
func AssertBorrowingPrivileges(patron *models.Patron, library *models.Library, now time.Time) error {
	if patron.AuthorizationExpired(now) {
		return ErrAuthorizationExpired
	}
	if library.MaxOutstandingFines > 0 && patron.Fines > library.MaxOutstandingFines {
		return &OutstandingFinesError{Fines: patron.Fines, Max: library.MaxOutstandingFines}
	}
	if patron.Blocked() {
		return &BlockedError{Reason: patron.BlockReason}
	}
	return nil
}

// PatronAtLoanLimit reports whether the patron's countable loans have
// reached the library's loan limit. Open-access and indefinite loans never
// count; a limit of 0 disables the check.
func PatronAtLoanLimit(patron *models.Patron, library *models.Library) bool {
	if library.LoanLimit <= 0 {
		return false
	}

	count := 0
	for _, loan := range patron.Loans {
		if loan.LicensePool != nil && loan.LicensePool.OpenAccess {
			continue
		}
		if loan.Indefinite() {
			continue
		}
		count++
	}
	return count >= library.LoanLimit
}

// PatronAtHoldLimit reports whether the patron's holds have reached the
// library's hold limit. A limit of 0 disables the check.
func PatronAtHoldLimit(patron *models.Patron, library *models.Library) bool {
	if library.HoldLimit <= 0 {
		return false
	}
	return len(patron.Holds) >= library.HoldLimit
}

// enforceLimits decides, before the vendor is called, whether the patron
// may borrow or place a hold on the pool.
//
// When the patron is at exactly one limit the decision depends on whether
// the title is available right now, so availability is refreshed from the
// vendor first to minimise races. Being at the loan limit with no copies
// available is fine: the patron can still join the hold queue.
func (e *Engine) enforceLimits(ctx context.Context, adapter VendorAdapter, patron *models.Patron, pool *models.LicensePool) error {
	if pool.OpenAccess || pool.UnlimitedAccess {
		return nil
	}

	atLoanLimit := PatronAtLoanLimit(patron, e.library)
	atHoldLimit := PatronAtHoldLimit(patron, e.library)

	if !atLoanLimit && !atHoldLimit {
		return nil
	}

	if atLoanLimit && atHoldLimit {
		// Both limits hit: the loan limit is the clearer explanation.
		return &LoanLimitError{Limit: e.library.LoanLimit}
	}

	if err := e.updateAvailability(ctx, adapter, pool); err != nil {
		logger.WarnCtx(ctx, "availability refresh failed during limit check",
			logger.Err(err),
			logger.Identifier(pool.Identifier))
	}

	if pool.LicensesAvailable > 0 && atLoanLimit {
		return &LoanLimitError{Limit: e.library.LoanLimit}
	}
	if pool.LicensesAvailable == 0 && atHoldLimit {
		return &HoldLimitError{Limit: e.library.HoldLimit}
	}
	return nil
}
