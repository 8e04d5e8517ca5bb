package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for circulation operations.
// Circulation-specific keys use the "circ." prefix; vendor adapter keys use
// "vendor.".
const (
	// ========================================================================
	// Circulation attributes
	// ========================================================================
	AttrOperation  = "circ.operation"  // borrow, fulfill, checkin, hold, release, sync
	AttrLibrary    = "circ.library"    // Library short name
	AttrPatron     = "circ.patron"     // Patron authorization identifier
	AttrCollection = "circ.collection" // Collection name
	AttrIdentifier = "circ.identifier" // Title identifier
	AttrIdentType  = "circ.identifier_type"
	AttrDataSource = "circ.data_source"
	AttrLoanCount  = "circ.loans" // Loans seen during a sync
	AttrHoldCount  = "circ.holds" // Holds seen during a sync
	AttrComplete   = "circ.complete"

	// ========================================================================
	// Delivery attributes
	// ========================================================================
	AttrContentType = "delivery.content_type"
	AttrDRMScheme   = "delivery.drm_scheme"

	// ========================================================================
	// Vendor adapter attributes
	// ========================================================================
	AttrVendorProtocol = "vendor.protocol" // Adapter protocol name
	AttrVendorCall     = "vendor.call"     // checkout, fulfill, checkin, ...
)

// Span names for operations.
// Format: circ.<operation> for engine spans, vendor.<call> for adapter calls.
const (
	SpanBorrow      = "circ.borrow"
	SpanFulfill     = "circ.fulfill"
	SpanRevokeLoan  = "circ.checkin"
	SpanReleaseHold = "circ.release_hold"
	SpanSync        = "circ.sync_bookshelf"

	SpanVendorCheckout    = "vendor.checkout"
	SpanVendorFulfill     = "vendor.fulfill"
	SpanVendorCheckin     = "vendor.checkin"
	SpanVendorPlaceHold   = "vendor.place_hold"
	SpanVendorReleaseHold = "vendor.release_hold"
	SpanVendorActivity    = "vendor.patron_activity"
)

// Operation returns an attribute for the circulation operation name
func Operation(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

// Library returns an attribute for the library short name
func Library(name string) attribute.KeyValue {
	return attribute.String(AttrLibrary, name)
}

// Patron returns an attribute for the patron authorization identifier
func Patron(id string) attribute.KeyValue {
	return attribute.String(AttrPatron, id)
}

// Collection returns an attribute for the collection name
func Collection(name string) attribute.KeyValue {
	return attribute.String(AttrCollection, name)
}

// Identifier returns an attribute for a title identifier
func Identifier(id string) attribute.KeyValue {
	return attribute.String(AttrIdentifier, id)
}

// IdentifierType returns an attribute for an identifier type
func IdentifierType(t string) attribute.KeyValue {
	return attribute.String(AttrIdentType, t)
}

// DataSource returns an attribute for a data source name
func DataSource(name string) attribute.KeyValue {
	return attribute.String(AttrDataSource, name)
}

// ContentType returns an attribute for a delivery content type
func ContentType(t string) attribute.KeyValue {
	return attribute.String(AttrContentType, t)
}

// DRMScheme returns an attribute for a delivery DRM scheme
func DRMScheme(s string) attribute.KeyValue {
	return attribute.String(AttrDRMScheme, s)
}

// VendorProtocol returns an attribute for the vendor protocol name
func VendorProtocol(p string) attribute.KeyValue {
	return attribute.String(AttrVendorProtocol, p)
}

// VendorCall returns an attribute for the vendor adapter call name
func VendorCall(call string) attribute.KeyValue {
	return attribute.String(AttrVendorCall, call)
}

// LoanCount returns an attribute for the loan count seen during a sync
func LoanCount(n int) attribute.KeyValue {
	return attribute.Int(AttrLoanCount, n)
}

// HoldCount returns an attribute for the hold count seen during a sync
func HoldCount(n int) attribute.KeyValue {
	return attribute.Int(AttrHoldCount, n)
}

// Complete returns an attribute for the sync completeness flag
func Complete(c bool) attribute.KeyValue {
	return attribute.Bool(AttrComplete, c)
}

// StartCirculationSpan starts a span for a circulation engine operation.
// This is a convenience function that sets common attributes.
func StartCirculationSpan(ctx context.Context, span, library, patron string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Library(library),
		Patron(patron),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, span, trace.WithAttributes(allAttrs...))
}

// StartVendorSpan starts a span for a call into a vendor adapter.
func StartVendorSpan(ctx context.Context, span, protocol string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		VendorProtocol(protocol),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, span, trace.WithAttributes(allAttrs...))
}
