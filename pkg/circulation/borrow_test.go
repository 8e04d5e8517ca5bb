package circulation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencirc/circ/pkg/analytics"
	"github.com/opencirc/circ/pkg/models"
)

func TestBorrowCreatesLoan(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)
	ctx := context.Background()

	end := time.Now().Add(21 * 24 * time.Hour)
	adapter.checkoutFn = func(_ context.Context, _ *models.Patron, _ string, pool *models.LicensePool, _ *models.LicensePoolDeliveryMechanism) (*LoanInfo, *HoldInfo, error) {
		return &LoanInfo{
			CirculationInfo:    InfoForPool(pool),
			End:                &end,
			ExternalIdentifier: ptrString("vendor-loan-1"),
		}, nil, nil
	}

	loan, hold, isNew, err := env.engine.Borrow(ctx, env.patron, "pin", env.pool, nil, "")
	require.NoError(t, err)
	require.NotNil(t, loan)
	assert.Nil(t, hold)
	assert.True(t, isNew)
	assert.Equal(t, "vendor-loan-1", *loan.ExternalIdentifier)
	require.NotNil(t, loan.End)
	assert.WithinDuration(t, end, *loan.End, time.Second)

	stored, err := env.st.GetLoan(ctx, env.patron.ID, env.pool.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.ID, stored.ID)

	assert.Equal(t, []string{analytics.EventCheckout}, env.sink.names())

	// A mutation invalidates the cached bookshelf.
	patron, err := env.st.GetPatronByID(ctx, env.patron.ID)
	require.NoError(t, err)
	assert.Nil(t, patron.LastLoanActivitySync)
}

func TestBorrowSecondTimeIsNotNew(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)
	ctx := context.Background()

	end := time.Now().Add(14 * 24 * time.Hour)
	adapter.checkoutFn = func(_ context.Context, _ *models.Patron, _ string, pool *models.LicensePool, _ *models.LicensePoolDeliveryMechanism) (*LoanInfo, *HoldInfo, error) {
		return &LoanInfo{CirculationInfo: InfoForPool(pool), End: &end}, nil, nil
	}

	_, _, isNew, err := env.engine.Borrow(ctx, env.patron, "pin", env.pool, nil, "")
	require.NoError(t, err)
	require.True(t, isNew)

	later := end.Add(14 * 24 * time.Hour)
	end = later
	_, _, isNew, err = env.engine.Borrow(ctx, env.patron, "pin", env.pool, nil, "")
	require.NoError(t, err)
	assert.False(t, isNew)

	// Only the first borrow is a checkout event.
	assert.Equal(t, []string{analytics.EventCheckout}, env.sink.names())
}

func TestBorrowFallsBackToHold(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)
	ctx := context.Background()

	adapter.checkoutFn = func(context.Context, *models.Patron, string, *models.LicensePool, *models.LicensePoolDeliveryMechanism) (*LoanInfo, *HoldInfo, error) {
		return nil, nil, ErrNoAvailableCopies
	}
	adapter.placeHoldFn = func(_ context.Context, _ *models.Patron, _ string, pool *models.LicensePool, _ string) (*HoldInfo, error) {
		return &HoldInfo{CirculationInfo: InfoForPool(pool), Position: ptrInt(5)}, nil
	}

	loan, hold, isNew, err := env.engine.Borrow(ctx, env.patron, "pin", env.pool, nil, "")
	require.NoError(t, err)
	assert.Nil(t, loan)
	require.NotNil(t, hold)
	assert.True(t, isNew)
	require.NotNil(t, hold.Position)
	assert.Equal(t, 5, *hold.Position)

	// The refusal triggered an availability refresh before hold placement.
	assert.Equal(t, 1, adapter.callCount("update_availability"))
	assert.Equal(t, []string{analytics.EventHoldPlace}, env.sink.names())

	_, err = env.st.GetLoan(ctx, env.patron.ID, env.pool.ID)
	assert.ErrorIs(t, err, models.ErrLoanNotFound)
}

func TestBorrowVendorDowngradesToHold(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)
	ctx := context.Background()

	adapter.checkoutFn = func(_ context.Context, _ *models.Patron, _ string, pool *models.LicensePool, _ *models.LicensePoolDeliveryMechanism) (*LoanInfo, *HoldInfo, error) {
		return nil, &HoldInfo{CirculationInfo: InfoForPool(pool), Position: ptrInt(2)}, nil
	}

	loan, hold, isNew, err := env.engine.Borrow(ctx, env.patron, "pin", env.pool, nil, "")
	require.NoError(t, err)
	assert.Nil(t, loan)
	require.NotNil(t, hold)
	assert.True(t, isNew)
	assert.Equal(t, 0, adapter.callCount("place_hold"))
}

func TestBorrowAlreadyCheckedOutSynthesizesLoan(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)
	ctx := context.Background()

	adapter.checkoutFn = func(context.Context, *models.Patron, string, *models.LicensePool, *models.LicensePoolDeliveryMechanism) (*LoanInfo, *HoldInfo, error) {
		return nil, nil, ErrAlreadyCheckedOut
	}

	before := time.Now()
	loan, hold, isNew, err := env.engine.Borrow(ctx, env.patron, "pin", env.pool, nil, "")
	require.NoError(t, err)
	require.NotNil(t, loan)
	assert.Nil(t, hold)
	assert.True(t, isNew)

	// The placeholder end date keeps the loan visible until the next sync
	// replaces it with vendor truth.
	require.NotNil(t, loan.End)
	assert.WithinDuration(t, before.Add(placeholderLoanDuration), *loan.End, 5*time.Second)
	assert.Equal(t, []string{analytics.EventCheckout}, env.sink.names())
}

func TestBorrowRenewalRefusedWhenNoCopies(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)
	ctx := context.Background()

	existing := env.seedLoan(env.pool, time.Now().Add(-10*24*time.Hour), ptrTime(time.Now().Add(24*time.Hour)))

	adapter.checkoutFn = func(context.Context, *models.Patron, string, *models.LicensePool, *models.LicensePoolDeliveryMechanism) (*LoanInfo, *HoldInfo, error) {
		return nil, nil, ErrNoAvailableCopies
	}

	_, _, _, err := env.engine.Borrow(ctx, env.patron, "pin", env.pool, nil, "")
	assert.ErrorIs(t, err, ErrCannotRenew)
	assert.Empty(t, env.sink.names())

	// The refused renewal leaves the loan untouched.
	stored, err := env.st.GetLoan(ctx, env.patron.ID, env.pool.ID)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, stored.ID)
}

func TestBorrowDeferredLoanLimit(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)
	ctx := context.Background()

	adapter.checkoutFn = func(context.Context, *models.Patron, string, *models.LicensePool, *models.LicensePoolDeliveryMechanism) (*LoanInfo, *HoldInfo, error) {
		return nil, nil, ErrPatronLoanLimit
	}
	adapter.placeHoldFn = func(context.Context, *models.Patron, string, *models.LicensePool, string) (*HoldInfo, error) {
		return nil, ErrCurrentlyAvailable
	}

	_, _, _, err := env.engine.Borrow(ctx, env.patron, "pin", env.pool, nil, "")

	// The vendor refused both paths; the loan limit is the real answer.
	assert.ErrorIs(t, err, ErrPatronLoanLimit)
	assert.Empty(t, env.sink.names())
}

func TestBorrowHoldsNotPermitted(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)
	env.library.AllowHolds = false
	ctx := context.Background()

	adapter.checkoutFn = func(context.Context, *models.Patron, string, *models.LicensePool, *models.LicensePoolDeliveryMechanism) (*LoanInfo, *HoldInfo, error) {
		return nil, nil, ErrNoAvailableCopies
	}

	_, _, _, err := env.engine.Borrow(ctx, env.patron, "pin", env.pool, nil, "")
	assert.ErrorIs(t, err, ErrHoldsNotPermitted)
	assert.Equal(t, 0, adapter.callCount("place_hold"))
}

func TestBorrowPolicyGate(t *testing.T) {
	t.Run("expired authorization", func(t *testing.T) {
		adapter := newFakeAdapter(t)
		env := newTestEnv(t, adapter)
		env.patron.AuthorizationExpires = ptrTime(time.Now().Add(-time.Hour))

		_, _, _, err := env.engine.Borrow(context.Background(), env.patron, "pin", env.pool, nil, "")
		assert.ErrorIs(t, err, ErrAuthorizationExpired)
		assert.Equal(t, 0, adapter.callCount("checkout"))
	})

	t.Run("outstanding fines", func(t *testing.T) {
		adapter := newFakeAdapter(t)
		env := newTestEnv(t, adapter)
		env.library.MaxOutstandingFines = 5
		env.patron.Fines = 7.50

		_, _, _, err := env.engine.Borrow(context.Background(), env.patron, "pin", env.pool, nil, "")
		assert.ErrorIs(t, err, ErrOutstandingFines)

		var finesErr *OutstandingFinesError
		require.ErrorAs(t, err, &finesErr)
		assert.Equal(t, 7.50, finesErr.Fines)
		assert.Equal(t, 5.0, finesErr.Max)
	})

	t.Run("blocked patron", func(t *testing.T) {
		adapter := newFakeAdapter(t)
		env := newTestEnv(t, adapter)
		env.patron.BlockReason = models.BlockReasonSuspended

		_, _, _, err := env.engine.Borrow(context.Background(), env.patron, "pin", env.pool, nil, "")
		assert.ErrorIs(t, err, ErrPatronBlocked)
	})
}

func TestBorrowLoanLimit(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)
	env.library.LoanLimit = 1
	ctx := context.Background()

	other := env.addPool("9780000000002")
	loan := env.seedLoan(other, time.Now(), ptrTime(time.Now().Add(24*time.Hour)))
	loan.LicensePool = other
	env.patron.Loans = []*models.Loan{loan}

	// A copy is available, so the patron would get a loan, which the limit
	// forbids.
	env.pool.LicensesAvailable = 1

	_, _, _, err := env.engine.Borrow(ctx, env.patron, "pin", env.pool, nil, "")
	assert.ErrorIs(t, err, ErrPatronLoanLimit)

	var limitErr *LoanLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 1, limitErr.Limit)
	assert.Equal(t, 0, adapter.callCount("checkout"))
}

func TestBorrowLoanLimitIgnoresUncountedLoans(t *testing.T) {
	env := newTestEnv(t, nil)
	env.library.LoanLimit = 2

	openPool := &models.LicensePool{ID: 900, OpenAccess: true}
	env.patron.Loans = []*models.Loan{
		{LicensePool: openPool, End: ptrTime(time.Now().Add(time.Hour))},
		{LicensePool: env.pool}, // indefinite
	}

	assert.False(t, PatronAtLoanLimit(env.patron, env.library))

	// A limit of zero disables the check entirely.
	env.library.LoanLimit = 0
	env.patron.Loans = append(env.patron.Loans,
		&models.Loan{LicensePool: env.pool, End: ptrTime(time.Now().Add(time.Hour))})
	assert.False(t, PatronAtLoanLimit(env.patron, env.library))
}

func TestBorrowHoldLimit(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)
	env.library.HoldLimit = 1
	ctx := context.Background()

	other := env.addPool("9780000000002")
	hold := env.seedHold(other, ptrInt(3))
	env.patron.Holds = []*models.Hold{hold}

	// Availability refresh reports no copies; the borrow would become a
	// hold, which the limit forbids.
	adapter.availFn = func(_ context.Context, pool *models.LicensePool) error {
		pool.LicensesAvailable = 0
		return nil
	}

	_, _, _, err := env.engine.Borrow(ctx, env.patron, "pin", env.pool, nil, "")
	assert.ErrorIs(t, err, ErrPatronHoldLimit)
	assert.Equal(t, 0, adapter.callCount("checkout"))
}

func TestBorrowLimitsBypassedForOpenAccess(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)
	env.library.LoanLimit = 1
	env.library.HoldLimit = 1
	env.pool.OpenAccess = true
	ctx := context.Background()

	env.patron.Loans = []*models.Loan{
		{LicensePool: &models.LicensePool{ID: 900}, End: ptrTime(time.Now().Add(time.Hour))},
	}
	env.patron.Holds = []*models.Hold{{LicensePoolID: 901}}

	adapter.checkoutFn = func(_ context.Context, _ *models.Patron, _ string, pool *models.LicensePool, _ *models.LicensePoolDeliveryMechanism) (*LoanInfo, *HoldInfo, error) {
		return &LoanInfo{CirculationInfo: InfoForPool(pool)}, nil, nil
	}

	loan, _, _, err := env.engine.Borrow(ctx, env.patron, "pin", env.pool, nil, "")
	require.NoError(t, err)
	assert.NotNil(t, loan)
}

func TestBorrowRequiresMechanismAtBorrowStep(t *testing.T) {
	adapter := newFakeAdapter(t)
	adapter.caps = Capabilities{SetMechanismAt: MechanismStepBorrow}
	env := newTestEnv(t, adapter)

	_, _, _, err := env.engine.Borrow(context.Background(), env.patron, "pin", env.pool, nil, "")
	assert.ErrorIs(t, err, ErrDeliveryMechanismMissing)
}

func TestBorrowPromotesHoldToLoan(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)
	ctx := context.Background()

	env.seedHold(env.pool, ptrInt(0))

	adapter.checkoutFn = func(_ context.Context, _ *models.Patron, _ string, pool *models.LicensePool, _ *models.LicensePoolDeliveryMechanism) (*LoanInfo, *HoldInfo, error) {
		return &LoanInfo{CirculationInfo: InfoForPool(pool), End: ptrTime(time.Now().Add(24 * time.Hour))}, nil, nil
	}

	loan, _, isNew, err := env.engine.Borrow(ctx, env.patron, "pin", env.pool, nil, "")
	require.NoError(t, err)
	require.NotNil(t, loan)
	assert.True(t, isNew)

	_, err = env.st.GetHold(ctx, env.patron.ID, env.pool.ID)
	assert.ErrorIs(t, err, models.ErrHoldNotFound)
}

func TestBorrowNoAdapter(t *testing.T) {
	env := newTestEnv(t, nil)

	_, _, _, err := env.engine.Borrow(context.Background(), env.patron, "pin", env.pool, nil, "")
	assert.ErrorIs(t, err, ErrNoLicenses)
}

func TestBorrowSurfacesInitializationError(t *testing.T) {
	env := newTestEnv(t, nil)
	cfgErr := &ConfigurationError{Collection: env.collection.Name, Err: errors.New("bad credentials")}
	env.engine.initErrs[env.collection.ID] = cfgErr

	_, _, _, err := env.engine.Borrow(context.Background(), env.patron, "pin", env.pool, nil, "")
	assert.ErrorIs(t, err, ErrConfigurationError)
}

func TestBorrowUsesLibraryNotificationEmail(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)
	env.library.DefaultNotificationEmail = "holds@test.example"
	ctx := context.Background()

	adapter.checkoutFn = func(context.Context, *models.Patron, string, *models.LicensePool, *models.LicensePoolDeliveryMechanism) (*LoanInfo, *HoldInfo, error) {
		return nil, nil, ErrNoAvailableCopies
	}
	var gotEmail string
	adapter.placeHoldFn = func(_ context.Context, _ *models.Patron, _ string, pool *models.LicensePool, email string) (*HoldInfo, error) {
		gotEmail = email
		return &HoldInfo{CirculationInfo: InfoForPool(pool), Position: ptrInt(1)}, nil
	}

	_, _, _, err := env.engine.Borrow(ctx, env.patron, "pin", env.pool, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "holds@test.example", gotEmail)
}
