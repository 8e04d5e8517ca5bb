package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so circulation
// events can be aggregated and queried by library, collection, and patron.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Circulation Operation
	// ========================================================================
	KeyOperation = "op"       // Circulation operation: borrow, fulfill, checkin, hold, release, sync
	KeyLibrary   = "library"  // Library short name
	KeyPatron    = "patron"   // Patron authorization identifier (never the PIN)
	KeyEvent     = "event"    // Analytics event name

	// ========================================================================
	// Collection & Title
	// ========================================================================
	KeyCollection = "collection"      // Collection name
	KeyProtocol   = "protocol"        // Vendor protocol backing the collection
	KeyDataSource = "data_source"     // Data source name for a license pool
	KeyIdentifier = "identifier"      // Title identifier (ISBN, vendor ID, ...)
	KeyIdentType  = "identifier_type" // Identifier type

	// ========================================================================
	// Delivery
	// ========================================================================
	KeyContentType = "content_type" // Delivery content type
	KeyDRMScheme   = "drm_scheme"   // Delivery DRM scheme

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyComplete   = "complete"    // Sync completeness flag
	KeyLoans      = "loans"       // Loan count
	KeyHolds      = "holds"       // Hold count
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Operation returns a slog.Attr for the circulation operation name
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Library returns a slog.Attr for the library short name
func Library(name string) slog.Attr {
	return slog.String(KeyLibrary, name)
}

// Patron returns a slog.Attr for the patron authorization identifier
func Patron(id string) slog.Attr {
	return slog.String(KeyPatron, id)
}

// Collection returns a slog.Attr for the collection name
func Collection(name string) slog.Attr {
	return slog.String(KeyCollection, name)
}

// Protocol returns a slog.Attr for the vendor protocol
func Protocol(p string) slog.Attr {
	return slog.String(KeyProtocol, p)
}

// DataSource returns a slog.Attr for the data source name
func DataSource(name string) slog.Attr {
	return slog.String(KeyDataSource, name)
}

// Identifier returns a slog.Attr for a title identifier
func Identifier(id string) slog.Attr {
	return slog.String(KeyIdentifier, id)
}

// IdentifierType returns a slog.Attr for an identifier type
func IdentifierType(t string) slog.Attr {
	return slog.String(KeyIdentType, t)
}

// ContentType returns a slog.Attr for a delivery content type
func ContentType(t string) slog.Attr {
	return slog.String(KeyContentType, t)
}

// DRMScheme returns a slog.Attr for a delivery DRM scheme
func DRMScheme(s string) slog.Attr {
	return slog.String(KeyDRMScheme, s)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Event returns a slog.Attr for an analytics event name
func Event(name string) slog.Attr {
	return slog.String(KeyEvent, name)
}

// Complete returns a slog.Attr for the sync completeness flag
func Complete(c bool) slog.Attr {
	return slog.Bool(KeyComplete, c)
}
