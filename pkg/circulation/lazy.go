package circulation

import (
	"context"
	"fmt"
	"sync"
)

// FetchFunc materializes a lazy fulfillment. It must populate at least one
// of ContentLink and Content, plus ContentType.
type FetchFunc func(ctx context.Context) (*FulfillmentInfo, error)

// LazyFulfillment defers the expensive part of fulfillment (token minting,
// CDN URL resolution) until the content is actually consumed. Computing it
// eagerly is wasted work when the caller only wants to show "you have this
// on loan".
//
// The fetch runs at most once per instance. A fetch error propagates and
// does not mark the instance as fetched, so the same instance can be
// resolved again.
type LazyFulfillment struct {
	info CirculationInfo

	fetch FetchFunc

	mu      sync.Mutex
	fetched bool
	cached  *FulfillmentInfo
}

// NewLazyFulfillment creates a deferred fulfillment for the given title.
func NewLazyFulfillment(info CirculationInfo, fetch FetchFunc) *LazyFulfillment {
	return &LazyFulfillment{info: info, fetch: fetch}
}

// Resolve materializes the fulfillment, calling the fetch hook on first
// use. Safe for concurrent use; concurrent callers share one fetch.
func (l *LazyFulfillment) Resolve(ctx context.Context) (*FulfillmentInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fetched {
		return l.cached, nil
	}

	info, err := l.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if info == nil || info.Empty() {
		return nil, fmt.Errorf("%w: lazy fetch produced no link or content", ErrNoAcceptableFormat)
	}

	if info.CollectionID == 0 {
		info.CirculationInfo = l.info
	}

	l.cached = info
	l.fetched = true
	return info, nil
}

// Info returns the title identity this fulfillment was created for.
func (l *LazyFulfillment) Info() CirculationInfo {
	return l.info
}
