// Package api declares the surface the UI layer programs against, so
// screens and hooks depend on this interface instead of the concrete
// coordinator.
package api

import (
	"context"

	ajocache "github.com/sudo-robi/soroban-ajo-sub002"
	"github.com/sudo-robi/soroban-ajo-sub002/metrics"
	"github.com/sudo-robi/soroban-ajo-sub002/types"
)

// Client is the full data-access contract: cached reads, explicit
// writes, invalidation hooks and diagnostics.
type Client interface {
	// GetOrFetch returns the cached value for key or fetches it with fn
	// under retry, circuit breaking and stale fallback.
	GetOrFetch(ctx context.Context, key string, fn types.FetchFunc, opts ajocache.Options) (any, error)

	// Get returns the fresh cached value, if any. Never fetches.
	Get(key string) (any, bool)

	// Set stores a value the caller already holds.
	Set(key string, value any, opts ajocache.Options) error

	// Has reports presence regardless of freshness.
	Has(key string) bool

	// Bust removes one key; BustMany several; Clear everything.
	Bust(key string) bool
	BustMany(keys ...string) int
	Clear() int

	// Invalidation axes. InvalidateAfterMutation is the one mutation
	// handlers call, with tags from the invalidation package.
	InvalidateByTag(tag string) int
	InvalidateByPattern(pattern string) (int, error)
	InvalidateByVersion(current string) int
	InvalidateAfterMutation(tags ...string) int

	// Diagnostics.
	Metrics() metrics.Snapshot
	CheckHealth() metrics.Health
	ExportState() ajocache.State

	// Lifecycle.
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

var _ Client = (*ajocache.Coordinator)(nil)
