package circulation

import (
	"context"

	"github.com/opencirc/circ/pkg/models"
)

// RequestContext carries the authenticated patron and library of the
// current request. The engine uses it only for analytics attribution; all
// circulation decisions take their patron and pool explicitly.
type RequestContext struct {
	Patron  *models.Patron
	Library *models.Library
}

type requestContextKey struct{}

// WithRequestContext attaches the request's authentication facts to ctx.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFrom extracts the request context, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc
}
