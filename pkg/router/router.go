// Package router is the public entry point of the engine: it normalizes
// topics into canonical descriptors and serves result streams through the
// shared subscription cache. The local variant generates raw sources from
// the probe registry; the aggregating variant splits chains and generates
// sources by subscribing to downstream routers.
package router

import (
	"github.com/baltar/lamina/pkg/cache"
	"github.com/baltar/lamina/pkg/query"
)

// Router serves live query subscriptions.
type Router interface {
	// Subscribe normalizes the topic (a query string or a descriptor),
	// merges in opts, and returns a caller-owned result stream.
	Subscribe(topic any, opts query.Options) (*cache.Subscription, error)
	// InnerCache exposes the underlying subscription cache for diagnostic
	// composition only.
	InnerCache() *cache.Cache
}
