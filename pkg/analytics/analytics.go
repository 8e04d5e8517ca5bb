// Package analytics defines the event sink used to attribute circulation
// activity. Sinks are fire-and-forget: the circulation engine never fails an
// operation because an event could not be recorded.
package analytics

import (
	"context"

	"github.com/opencirc/circ/pkg/models"
)

// Circulation event names, shared with the reporting pipeline.
const (
	EventCheckout    = "circulation_manager_check_out"
	EventCheckin     = "circulation_manager_check_in"
	EventFulfill     = "circulation_manager_fulfill"
	EventHoldPlace   = "circulation_manager_hold_place"
	EventHoldRelease = "circulation_manager_hold_release"
)

// Sink receives circulation events. CollectEvent returns nothing; sinks must
// swallow their own delivery failures.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// CollectEvent records one event against a library and license pool.
	// neighborhood is request-scoped patron geography, empty when unknown.
	CollectEvent(ctx context.Context, library *models.Library, pool *models.LicensePool, event string, neighborhood string)
}
