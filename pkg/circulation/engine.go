package circulation

import (
	"context"
	"errors"
	"time"

	"github.com/opencirc/circ/internal/logger"
	"github.com/opencirc/circ/internal/telemetry"
	"github.com/opencirc/circ/pkg/analytics"
	"github.com/opencirc/circ/pkg/metrics"
	"github.com/opencirc/circ/pkg/models"
	"github.com/opencirc/circ/pkg/store"
)

const (
	// placeholderLoanDuration is the stand-in end date for a loan row
	// synthesized from an AlreadyCheckedOut outcome. The next sync replaces
	// it with vendor truth.
	placeholderLoanDuration = time.Hour

	// recentLoanProtection keeps loans created during a concurrent borrow
	// from being reaped by a sync that started before the borrow finished.
	recentLoanProtection = time.Minute

	defaultVendorTimeout = 30 * time.Second
)

// Config configures a circulation engine for one library.
type Config struct {
	Store   store.Store
	Library *models.Library

	// Sink receives circulation events. Defaults to analytics.NoopSink.
	Sink analytics.Sink

	// Metrics is optional; nil disables collection.
	Metrics *metrics.CirculationMetrics

	// VendorTimeout bounds every call into a vendor adapter.
	VendorTimeout time.Duration

	// LoanActivityMaxAge is how long a bookshelf sync stays fresh. Zero
	// means a non-null sync timestamp is trusted indefinitely.
	LoanActivityMaxAge time.Duration

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// Engine is the circulation state machine for one library. It coordinates
// the policy gate, vendor adapters, and the entity store for borrow,
// fulfill, revoke, release, and bookshelf sync flows.
//
// Engines are safe for concurrent use; adapter instances are shared across
// requests for the engine's lifetime to avoid repeated authentication
// handshakes.
type Engine struct {
	st      store.Store
	library *models.Library
	sink    analytics.Sink
	metrics *metrics.CirculationMetrics

	// adapters maps collection ID to its live adapter. Collections whose
	// adapter failed to construct appear in initErrs instead.
	adapters map[uint]VendorAdapter
	initErrs map[uint]error

	vendorTimeout      time.Duration
	loanActivityMaxAge time.Duration
	now                func() time.Time
}

// New builds the engine for cfg.Library, instantiating one adapter per
// collection whose protocol is registered. Adapter construction failures
// are stored per collection, never returned: a broken collection must not
// take down circulation for the healthy ones.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("circulation: store is required")
	}
	if cfg.Library == nil {
		return nil, errors.New("circulation: library is required")
	}
	if cfg.Sink == nil {
		cfg.Sink = analytics.NoopSink{}
	}
	if cfg.VendorTimeout <= 0 {
		cfg.VendorTimeout = defaultVendorTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	e := &Engine{
		st:                 cfg.Store,
		library:            cfg.Library,
		sink:               cfg.Sink,
		metrics:            cfg.Metrics,
		adapters:           make(map[uint]VendorAdapter),
		initErrs:           make(map[uint]error),
		vendorTimeout:      cfg.VendorTimeout,
		loanActivityMaxAge: cfg.LoanActivityMaxAge,
		now:                cfg.Now,
	}

	collections, err := cfg.Store.GetLibraryCollections(ctx, cfg.Library.ID)
	if err != nil {
		return nil, err
	}

	for _, collection := range collections {
		constructor := constructorFor(collection.Protocol)
		if constructor == nil {
			logger.WarnCtx(ctx, "no adapter registered for collection protocol",
				logger.Collection(collection.Name),
				logger.Protocol(collection.Protocol))
			continue
		}

		adapter, err := constructor(cfg.Store, collection)
		if err != nil {
			e.initErrs[collection.ID] = &ConfigurationError{Collection: collection.Name, Err: err}
			logger.ErrorCtx(ctx, "vendor adapter failed to initialize",
				logger.Collection(collection.Name),
				logger.Protocol(collection.Protocol),
				logger.Err(err))
			continue
		}
		e.adapters[collection.ID] = adapter
	}

	return e, nil
}

// Library returns the library this engine circulates for.
func (e *Engine) Library() *models.Library {
	return e.library
}

// AdapterFor returns the live adapter for the pool's collection, or nil
// when the collection has no working adapter.
func (e *Engine) AdapterFor(pool *models.LicensePool) VendorAdapter {
	return e.adapters[pool.CollectionID]
}

// InitializationError returns the stored construction failure for a
// collection, or nil.
func (e *Engine) InitializationError(collectionID uint) error {
	return e.initErrs[collectionID]
}

// InitializationErrors returns all stored construction failures keyed by
// collection ID.
func (e *Engine) InitializationErrors() map[uint]error {
	out := make(map[uint]error, len(e.initErrs))
	for id, err := range e.initErrs {
		out[id] = err
	}
	return out
}

// CanFulfillWithoutLoan reports whether the pool's adapter can fulfill the
// mechanism without a recorded loan. Open-access pools always can.
func (e *Engine) CanFulfillWithoutLoan(patron *models.Patron, pool *models.LicensePool, mechanism *models.LicensePoolDeliveryMechanism) bool {
	if pool == nil {
		return false
	}
	if pool.OpenAccess {
		return true
	}
	adapter := e.AdapterFor(pool)
	if lf, ok := adapter.(LoanlessFulfiller); ok {
		return lf.CanFulfillWithoutLoan(patron, pool, mechanism)
	}
	return false
}

// vendorCtx bounds a vendor call with the engine's timeout.
func (e *Engine) vendorCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.vendorTimeout)
}

// updateAvailability refreshes the pool's counts from the vendor with the
// standard timeout and instrumentation.
func (e *Engine) updateAvailability(ctx context.Context, adapter VendorAdapter, pool *models.LicensePool) error {
	if adapter == nil {
		return nil
	}

	vctx, cancel := e.vendorCtx(ctx)
	defer cancel()

	start := e.now()
	err := adapter.UpdateAvailability(vctx, pool)
	e.metrics.RecordVendorCall(adapter.Protocol(), "update_availability", time.Since(start), err)
	return err
}

// collectEvent attributes a circulation event to a library and hands it to
// the sink. Sink failures never fail the operation.
//
// Attribution precedence: the patron's library, then the request's
// library, then the engine's. Neighborhood enrichment happens only when
// the request's authenticated patron is the patron attributed to the
// event, so one patron's geography never leaks into another's analytics.
func (e *Engine) collectEvent(ctx context.Context, patron *models.Patron, pool *models.LicensePool, event string) {
	rc := RequestContextFrom(ctx)

	var library *models.Library
	switch {
	case patron != nil && patron.Library != nil:
		library = patron.Library
	case patron != nil && patron.LibraryID == e.library.ID:
		library = e.library
	case rc != nil && rc.Library != nil:
		library = rc.Library
	default:
		library = e.library
	}

	var neighborhood string
	if patron != nil && rc != nil && rc.Patron != nil && rc.Patron.ID == patron.ID {
		neighborhood = rc.Patron.Neighborhood
	}

	e.sink.CollectEvent(ctx, library, pool, event, neighborhood)
	e.metrics.RecordAnalyticsEvent(event)
	telemetry.AddEvent(ctx, "analytics."+event)
}
