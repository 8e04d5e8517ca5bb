package circulation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencirc/circ/pkg/models"
	"github.com/opencirc/circ/pkg/store"
)

func TestNewEngineBuildsAdaptersFromRegistry(t *testing.T) {
	ctx := context.Background()

	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	defer st.Close()

	working := newFakeAdapter(t)
	RegisterProtocol("Working Protocol", func(_ store.Store, _ *models.Collection) (VendorAdapter, error) {
		return working, nil
	})
	RegisterProtocol("Broken Protocol", func(_ store.Store, _ *models.Collection) (VendorAdapter, error) {
		return nil, errors.New("missing credentials")
	})

	library := &models.Library{
		Name:      "Registry Library",
		ShortName: "REG",
		Collections: []*models.Collection{
			{Name: "Working", Protocol: "Working Protocol", DataSource: "Src A"},
			{Name: "Broken", Protocol: "Broken Protocol", DataSource: "Src B"},
			{Name: "Unregistered", Protocol: "Nobody Implements This", DataSource: "Src C"},
		},
	}
	_, err = st.CreateLibrary(ctx, library)
	require.NoError(t, err)

	engine, err := New(ctx, Config{Store: st, Library: library})
	require.NoError(t, err)

	var workingID, brokenID uint
	for _, c := range library.Collections {
		switch c.Name {
		case "Working":
			workingID = c.ID
		case "Broken":
			brokenID = c.ID
		}
	}

	assert.Same(t, working, engine.AdapterFor(&models.LicensePool{CollectionID: workingID}))
	assert.Nil(t, engine.AdapterFor(&models.LicensePool{CollectionID: brokenID}))

	// A broken collection is quarantined, never fatal.
	initErr := engine.InitializationError(brokenID)
	require.Error(t, initErr)
	assert.ErrorIs(t, initErr, ErrConfigurationError)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, initErr, &cfgErr)
	assert.Equal(t, "Broken", cfgErr.Collection)

	assert.Len(t, engine.InitializationErrors(), 1)
}

func TestNewEngineValidatesConfig(t *testing.T) {
	_, err := New(context.Background(), Config{Library: &models.Library{}})
	assert.Error(t, err)

	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	defer st.Close()

	_, err = New(context.Background(), Config{Store: st})
	assert.Error(t, err)
}

func TestRegisteredProtocolsSorted(t *testing.T) {
	RegisterProtocol("Zeta Protocol", func(store.Store, *models.Collection) (VendorAdapter, error) { return nil, nil })
	RegisterProtocol("Alpha Protocol", func(store.Store, *models.Collection) (VendorAdapter, error) { return nil, nil })

	names := RegisteredProtocols()
	require.GreaterOrEqual(t, len(names), 2)
	for i := 1; i < len(names); i++ {
		assert.LessOrEqual(t, names[i-1], names[i])
	}
}

func TestCanFulfillWithoutLoan(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)

	// Adapters without the capability require a loan.
	assert.False(t, env.engine.CanFulfillWithoutLoan(env.patron, env.pool, nil))

	env.pool.OpenAccess = true
	assert.True(t, env.engine.CanFulfillWithoutLoan(env.patron, env.pool, nil))
}

func TestCollectEventAttribution(t *testing.T) {
	t.Run("patron library wins", func(t *testing.T) {
		env := newTestEnv(t, nil)
		other := &models.Library{ID: 99, ShortName: "OTHER"}

		ctx := WithRequestContext(context.Background(), &RequestContext{Library: other})
		env.engine.collectEvent(ctx, env.patron, env.pool, "test_event")

		events := env.sink.all()
		require.Len(t, events, 1)
		assert.Equal(t, env.library.ID, events[0].library.ID)
	})

	t.Run("request library when patron is foreign", func(t *testing.T) {
		env := newTestEnv(t, nil)
		requestLibrary := &models.Library{ID: 99, ShortName: "OTHER"}
		foreign := &models.Patron{ID: 500, LibraryID: 98}

		ctx := WithRequestContext(context.Background(), &RequestContext{Library: requestLibrary})
		env.engine.collectEvent(ctx, foreign, env.pool, "test_event")

		events := env.sink.all()
		require.Len(t, events, 1)
		assert.Equal(t, requestLibrary.ID, events[0].library.ID)
	})

	t.Run("engine library as fallback", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.engine.collectEvent(context.Background(), nil, env.pool, "test_event")

		events := env.sink.all()
		require.Len(t, events, 1)
		assert.Equal(t, env.library.ID, events[0].library.ID)
	})

	t.Run("neighborhood only for the requesting patron", func(t *testing.T) {
		env := newTestEnv(t, nil)
		requester := &models.Patron{ID: env.patron.ID, Neighborhood: "Queens"}

		ctx := WithRequestContext(context.Background(), &RequestContext{Patron: requester})
		env.engine.collectEvent(ctx, env.patron, env.pool, "test_event")

		someoneElse := &models.Patron{ID: env.patron.ID + 1, LibraryID: env.library.ID}
		env.engine.collectEvent(ctx, someoneElse, env.pool, "other_event")

		events := env.sink.all()
		require.Len(t, events, 2)
		assert.Equal(t, "Queens", events[0].neighborhood)
		assert.Empty(t, events[1].neighborhood)
	})
}

func TestVendorCallsAreBounded(t *testing.T) {
	adapter := newFakeAdapter(t)
	env := newTestEnv(t, adapter)
	env.engine.vendorTimeout = 20 * time.Millisecond
	ctx := context.Background()

	adapter.checkoutFn = func(vctx context.Context, _ *models.Patron, _ string, _ *models.LicensePool, _ *models.LicensePoolDeliveryMechanism) (*LoanInfo, *HoldInfo, error) {
		<-vctx.Done()
		return nil, nil, vctx.Err()
	}

	_, _, _, err := env.engine.Borrow(ctx, env.patron, "pin", env.pool, nil, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
