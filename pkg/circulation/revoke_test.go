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

func TestRevokeLoan(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)
	ctx := context.Background()

	env.seedLoan(env.pool, time.Now(), ptrTime(time.Now().Add(24*time.Hour)))
	adapter.checkinFn = func(context.Context, *models.Patron, string, *models.LicensePool) error {
		return nil
	}

	require.NoError(t, env.engine.RevokeLoan(ctx, env.patron, "pin", env.pool))

	_, err := env.st.GetLoan(ctx, env.patron.ID, env.pool.ID)
	assert.ErrorIs(t, err, models.ErrLoanNotFound)
	assert.Equal(t, []string{analytics.EventCheckin}, env.sink.names())

	patron, err := env.st.GetPatronByID(ctx, env.patron.ID)
	require.NoError(t, err)
	assert.Nil(t, patron.LastLoanActivitySync)
}

func TestRevokeLoanVendorDisagreementSwallowed(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)
	ctx := context.Background()

	env.seedLoan(env.pool, time.Now(), ptrTime(time.Now().Add(24*time.Hour)))

	// The vendor never heard of this loan. The disagreement resolves in the
	// patron's favor: the stale local row goes away.
	adapter.checkinFn = func(context.Context, *models.Patron, string, *models.LicensePool) error {
		return ErrNotCheckedOut
	}

	require.NoError(t, env.engine.RevokeLoan(ctx, env.patron, "pin", env.pool))

	_, err := env.st.GetLoan(ctx, env.patron.ID, env.pool.ID)
	assert.ErrorIs(t, err, models.ErrLoanNotFound)
	assert.Equal(t, []string{analytics.EventCheckin}, env.sink.names())
}

func TestRevokeLoanVendorFailureKeepsRow(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)
	ctx := context.Background()

	env.seedLoan(env.pool, time.Now(), ptrTime(time.Now().Add(24*time.Hour)))
	vendorDown := errors.New("gateway timeout")
	adapter.checkinFn = func(context.Context, *models.Patron, string, *models.LicensePool) error {
		return vendorDown
	}

	err := env.engine.RevokeLoan(ctx, env.patron, "pin", env.pool)
	assert.ErrorIs(t, err, vendorDown)

	_, err = env.st.GetLoan(ctx, env.patron.ID, env.pool.ID)
	assert.NoError(t, err)
	assert.Empty(t, env.sink.names())
}

func TestRevokeLoanWithoutLoan(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)

	err := env.engine.RevokeLoan(context.Background(), env.patron, "pin", env.pool)
	assert.ErrorIs(t, err, ErrNotCheckedOut)
	assert.Equal(t, 0, adapter.callCount("checkin"))
}

func TestRevokeOpenAccessLoanSkipsVendor(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)
	env.pool.OpenAccess = true
	ctx := context.Background()

	env.seedLoan(env.pool, time.Now(), nil)

	require.NoError(t, env.engine.RevokeLoan(ctx, env.patron, "pin", env.pool))
	assert.Equal(t, 0, adapter.callCount("checkin"))

	_, err := env.st.GetLoan(ctx, env.patron.ID, env.pool.ID)
	assert.ErrorIs(t, err, models.ErrLoanNotFound)
}

func TestReleaseHold(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)
	ctx := context.Background()

	env.seedHold(env.pool, ptrInt(4))
	adapter.releaseHoldFn = func(context.Context, *models.Patron, string, *models.LicensePool) error {
		return nil
	}

	require.NoError(t, env.engine.ReleaseHold(ctx, env.patron, "pin", env.pool))

	_, err := env.st.GetHold(ctx, env.patron.ID, env.pool.ID)
	assert.ErrorIs(t, err, models.ErrHoldNotFound)
	assert.Equal(t, []string{analytics.EventHoldRelease}, env.sink.names())

	patron, err := env.st.GetPatronByID(ctx, env.patron.ID)
	require.NoError(t, err)
	assert.Nil(t, patron.LastLoanActivitySync)
}

func TestReleaseHoldVendorDisagreementSwallowed(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)
	ctx := context.Background()

	env.seedHold(env.pool, ptrInt(4))
	adapter.releaseHoldFn = func(context.Context, *models.Patron, string, *models.LicensePool) error {
		return ErrNotOnHold
	}

	require.NoError(t, env.engine.ReleaseHold(ctx, env.patron, "pin", env.pool))

	_, err := env.st.GetHold(ctx, env.patron.ID, env.pool.ID)
	assert.ErrorIs(t, err, models.ErrHoldNotFound)
}

func TestReleaseHoldWithoutHold(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)

	err := env.engine.ReleaseHold(context.Background(), env.patron, "pin", env.pool)
	assert.ErrorIs(t, err, ErrNotOnHold)
	assert.Equal(t, 0, adapter.callCount("release_hold"))
}

func TestReleaseReservedHoldNeedsCapability(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)
	ctx := context.Background()

	// Position 0: the copy is already reserved for the patron.
	env.seedHold(env.pool, ptrInt(0))

	err := env.engine.ReleaseHold(ctx, env.patron, "pin", env.pool)
	assert.ErrorIs(t, err, ErrCannotReleaseHold)
	assert.Equal(t, 0, adapter.callCount("release_hold"))

	_, err = env.st.GetHold(ctx, env.patron.ID, env.pool.ID)
	assert.NoError(t, err)
}

func TestReleaseReservedHoldWithCapability(t *testing.T) {
	adapter := newFakeAdapter(t)
	adapter.caps = Capabilities{CanRevokeHoldWhenReserved: true}
	env := newTestEnv(t, adapter)
	ctx := context.Background()

	env.seedHold(env.pool, ptrInt(0))
	adapter.releaseHoldFn = func(context.Context, *models.Patron, string, *models.LicensePool) error {
		return nil
	}

	require.NoError(t, env.engine.ReleaseHold(ctx, env.patron, "pin", env.pool))
}

func TestCanRevokeHold(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)

	// Queued or unknown positions are always revocable.
	assert.True(t, env.engine.CanRevokeHold(env.pool, &models.Hold{Position: ptrInt(3)}))
	assert.True(t, env.engine.CanRevokeHold(env.pool, &models.Hold{Position: nil}))

	// Reserved copies depend on the vendor capability.
	assert.False(t, env.engine.CanRevokeHold(env.pool, &models.Hold{Position: ptrInt(0)}))
	adapter.caps = Capabilities{CanRevokeHoldWhenReserved: true}
	assert.True(t, env.engine.CanRevokeHold(env.pool, &models.Hold{Position: ptrInt(0)}))
}
