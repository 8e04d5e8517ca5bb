package circulation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opencirc/circ/pkg/analytics"
	"github.com/opencirc/circ/pkg/models"
	"github.com/opencirc/circ/pkg/store"
)

// fakeAdapter is a scriptable VendorAdapter. Unset hooks fail the test if
// called, so each test declares exactly the vendor traffic it expects.
type fakeAdapter struct {
	t    *testing.T
	caps Capabilities

	checkoutFn    func(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool, mechanism *models.LicensePoolDeliveryMechanism) (*LoanInfo, *HoldInfo, error)
	checkinFn     func(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool) error
	fulfillFn     func(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool, mechanism *models.LicensePoolDeliveryMechanism) (Fulfillment, error)
	placeHoldFn   func(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool, notificationEmail string) (*HoldInfo, error)
	releaseHoldFn func(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool) error
	availFn       func(ctx context.Context, pool *models.LicensePool) error

	mu    sync.Mutex
	calls map[string]int
}

func newFakeAdapter(t *testing.T) *fakeAdapter {
	return &fakeAdapter{t: t, calls: make(map[string]int)}
}

func (f *fakeAdapter) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[call]++
}

func (f *fakeAdapter) callCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[call]
}

func (f *fakeAdapter) Protocol() string          { return "Fake Protocol" }
func (f *fakeAdapter) Capabilities() Capabilities { return f.caps }

func (f *fakeAdapter) Checkout(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool, mechanism *models.LicensePoolDeliveryMechanism) (*LoanInfo, *HoldInfo, error) {
	f.record("checkout")
	if f.checkoutFn == nil {
		f.t.Fatal("unexpected Checkout call")
	}
	return f.checkoutFn(ctx, patron, pin, pool, mechanism)
}

func (f *fakeAdapter) Checkin(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool) error {
	f.record("checkin")
	if f.checkinFn == nil {
		f.t.Fatal("unexpected Checkin call")
	}
	return f.checkinFn(ctx, patron, pin, pool)
}

func (f *fakeAdapter) Fulfill(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool, mechanism *models.LicensePoolDeliveryMechanism) (Fulfillment, error) {
	f.record("fulfill")
	if f.fulfillFn == nil {
		f.t.Fatal("unexpected Fulfill call")
	}
	return f.fulfillFn(ctx, patron, pin, pool, mechanism)
}

func (f *fakeAdapter) PlaceHold(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool, notificationEmail string) (*HoldInfo, error) {
	f.record("place_hold")
	if f.placeHoldFn == nil {
		f.t.Fatal("unexpected PlaceHold call")
	}
	return f.placeHoldFn(ctx, patron, pin, pool, notificationEmail)
}

func (f *fakeAdapter) ReleaseHold(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool) error {
	f.record("release_hold")
	if f.releaseHoldFn == nil {
		f.t.Fatal("unexpected ReleaseHold call")
	}
	return f.releaseHoldFn(ctx, patron, pin, pool)
}

func (f *fakeAdapter) UpdateAvailability(ctx context.Context, pool *models.LicensePool) error {
	f.record("update_availability")
	if f.availFn == nil {
		return nil
	}
	return f.availFn(ctx, pool)
}

// fakeActivityAdapter additionally implements PatronActivitySource.
type fakeActivityAdapter struct {
	*fakeAdapter

	activityFn func(ctx context.Context, patron *models.Patron, pin string) ([]*LoanInfo, []*HoldInfo, error)
}

func (f *fakeActivityAdapter) PatronActivity(ctx context.Context, patron *models.Patron, pin string) ([]*LoanInfo, []*HoldInfo, error) {
	f.record("patron_activity")
	if f.activityFn == nil {
		f.t.Fatal("unexpected PatronActivity call")
	}
	return f.activityFn(ctx, patron, pin)
}

// capturedEvent is one analytics emission observed by captureSink.
type capturedEvent struct {
	library      *models.Library
	pool         *models.LicensePool
	event        string
	neighborhood string
}

// captureSink records analytics emissions for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (s *captureSink) CollectEvent(_ context.Context, library *models.Library, pool *models.LicensePool, event, neighborhood string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, capturedEvent{library: library, pool: pool, event: event, neighborhood: neighborhood})
}

func (s *captureSink) all() []capturedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]capturedEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *captureSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.event)
	}
	return out
}

// testEnv wires a real in-memory store, one library, one collection with a
// scriptable adapter, one patron, and one pool through an Engine.
type testEnv struct {
	t *testing.T

	st         *store.GORMStore
	library    *models.Library
	collection *models.Collection
	patron     *models.Patron
	pool       *models.LicensePool
	sink       *captureSink
	engine     *Engine
}

func newTestEnv(t *testing.T, adapter VendorAdapter) *testEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	library := &models.Library{
		Name:       "Test Library " + t.Name(),
		ShortName:  "TEST",
		AllowHolds: true,
	}
	_, err = st.CreateLibrary(ctx, library)
	require.NoError(t, err)

	collection := &models.Collection{
		Name:       "Test Collection " + t.Name(),
		Protocol:   "Fake Protocol",
		DataSource: "Test Source",
	}
	_, err = st.CreateCollection(ctx, collection)
	require.NoError(t, err)

	patron := &models.Patron{
		LibraryID:               library.ID,
		AuthorizationIdentifier: "0001",
	}
	_, err = st.CreatePatron(ctx, patron)
	require.NoError(t, err)
	patron.Library = library

	pool := &models.LicensePool{
		CollectionID:      collection.ID,
		DataSource:        "Test Source",
		IdentifierType:    "ISBN",
		Identifier:        "9780000000001",
		LicensesOwned:     3,
		LicensesAvailable: 1,
	}
	_, err = st.CreatePool(ctx, pool)
	require.NoError(t, err)

	env := &testEnv{
		t:          t,
		st:         st,
		library:    library,
		collection: collection,
		patron:     patron,
		pool:       pool,
		sink:       &captureSink{},
	}
	env.engine = &Engine{
		st:            st,
		library:       library,
		sink:          env.sink,
		adapters:      map[uint]VendorAdapter{},
		initErrs:      map[uint]error{},
		vendorTimeout: 5 * time.Second,
		now:           time.Now,
	}
	if adapter != nil {
		env.engine.adapters[collection.ID] = adapter
	}
	return env
}

// addPool registers another title in the env's collection.
func (env *testEnv) addPool(identifier string) *models.LicensePool {
	env.t.Helper()
	pool := &models.LicensePool{
		CollectionID:      env.collection.ID,
		DataSource:        "Test Source",
		IdentifierType:    "ISBN",
		Identifier:        identifier,
		LicensesOwned:     2,
		LicensesAvailable: 1,
	}
	_, err := env.st.CreatePool(context.Background(), pool)
	require.NoError(env.t, err)
	return pool
}

// addCollection registers another collection and adapter with the engine.
func (env *testEnv) addCollection(name string, adapter VendorAdapter) *models.Collection {
	env.t.Helper()
	collection := &models.Collection{
		Name:       name,
		Protocol:   "Fake Protocol",
		DataSource: "Test Source",
	}
	_, err := env.st.CreateCollection(context.Background(), collection)
	require.NoError(env.t, err)
	env.engine.adapters[collection.ID] = adapter
	return collection
}

// seedLoan writes a loan row for the env's patron.
func (env *testEnv) seedLoan(pool *models.LicensePool, start time.Time, end *time.Time) *models.Loan {
	env.t.Helper()
	loan, err := env.st.UpsertLoan(context.Background(), &models.Loan{
		PatronID:      env.patron.ID,
		LicensePoolID: pool.ID,
		Start:         start,
		End:           end,
	})
	require.NoError(env.t, err)
	return loan
}

// seedHold writes a hold row for the env's patron.
func (env *testEnv) seedHold(pool *models.LicensePool, position *int) *models.Hold {
	env.t.Helper()
	hold, err := env.st.UpsertHold(context.Background(), &models.Hold{
		PatronID:      env.patron.ID,
		LicensePoolID: pool.ID,
		Start:         time.Now(),
		Position:      position,
	})
	require.NoError(env.t, err)
	return hold
}

// seedLPDM makes a delivery mechanism available on the pool.
func (env *testEnv) seedLPDM(pool *models.LicensePool, contentType, drmScheme, rightsURI, resourceURL string) *models.LicensePoolDeliveryMechanism {
	env.t.Helper()
	ctx := context.Background()
	mech, err := env.st.GetOrCreateDeliveryMechanism(ctx, contentType, drmScheme)
	require.NoError(env.t, err)
	lpdm, err := env.st.GetOrCreateLPDM(ctx, pool.ID, mech.ID, rightsURI, resourceURL)
	require.NoError(env.t, err)
	lpdm.DeliveryMechanism = mech
	return lpdm
}

func ptrTime(t time.Time) *time.Time { return &t }
func ptrInt(n int) *int              { return &n }
func ptrString(s string) *string     { return &s }

var _ analytics.Sink = (*captureSink)(nil)
var _ VendorAdapter = (*fakeAdapter)(nil)
var _ PatronActivitySource = (*fakeActivityAdapter)(nil)
