package circulation

import (
	"context"
	"time"
)

// FulfillmentInfo carries the materials needed to hand loaned content to a
// patron: either a link to follow or the content itself, never both.
type FulfillmentInfo struct {
	CirculationInfo

	// ContentLink points at the downloadable representation (a DRM license
	// document, an ACSM file, a signed CDN URL, ...).
	ContentLink string

	// ContentType is the media type of the link target or inline content.
	ContentType string

	// Content is the inline payload, set when the adapter already holds the
	// bytes (e.g. a minted bearer token document).
	Content []byte

	// ContentExpires is when the link or token stops working, if limited.
	ContentExpires *time.Time

	// ContentLinkRedirect tells the presentation layer to redirect the
	// patron to ContentLink instead of proxying it.
	ContentLinkRedirect bool
}

// Resolve returns the record itself; an eager FulfillmentInfo is already
// materialized.
func (f *FulfillmentInfo) Resolve(context.Context) (*FulfillmentInfo, error) {
	return f, nil
}

// Empty reports whether the record carries neither a link nor content.
func (f *FulfillmentInfo) Empty() bool {
	return f.ContentLink == "" && len(f.Content) == 0
}

// Fulfillment is what the engine hands back from a fulfill operation:
// either an eager FulfillmentInfo or a lazy one that defers the expensive
// vendor call until the content is actually needed. Resolve blocks on I/O
// for lazy implementations.
type Fulfillment interface {
	Resolve(ctx context.Context) (*FulfillmentInfo, error)
}

// ResponseOverrider is an optional interface a Fulfillment may implement to
// take over response rendering entirely. A nil return means "use standard
// rendering".
type ResponseOverrider interface {
	AsResponse() any
}
