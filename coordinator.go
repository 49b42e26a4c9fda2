// Package ajocache is a resilient client-side read layer between an ajo
// UI and the Soroban RPC endpoint that serves its ledger state. Reads go
// through the cache; confirmed mutations invalidate by tag; upstream
// failures are absorbed by retries, circuit breakers and stale fallback
// instead of reaching the user.
package ajocache

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sudo-robi/soroban-ajo-sub002/config"
	"github.com/sudo-robi/soroban-ajo-sub002/eviction"
	"github.com/sudo-robi/soroban-ajo-sub002/expiration"
	"github.com/sudo-robi/soroban-ajo-sub002/fetch"
	"github.com/sudo-robi/soroban-ajo-sub002/invalidation"
	"github.com/sudo-robi/soroban-ajo-sub002/metrics"
	"github.com/sudo-robi/soroban-ajo-sub002/revalidate"
	"github.com/sudo-robi/soroban-ajo-sub002/security"
	"github.com/sudo-robi/soroban-ajo-sub002/store"
	"github.com/sudo-robi/soroban-ajo-sub002/types"
)

/*
Coordinator is the single entry point the UI talks to. It owns the
read path (cache lookup, stale fallback, deduplicated fetch) and the
write-side bookkeeping (advisory security scan, tag invalidation after
confirmed mutations).

The decision tree for one read:

	fresh entry        → return it (hit)
	stale entry + SWR  → return it, refresh in background (stale hit)
	nothing usable     → deduplicated resilient fetch, then cache (miss)

Concurrent misses for the same key share one upstream call via
singleflight; the ledger is never asked the same question twice at once.
*/
type Coordinator struct {
	cfg *config.Config
	log *zap.Logger

	validator *security.Validator
	collector *metrics.Collector
	store     *store.Store
	ttl       *expiration.Policy
	engine    *invalidation.Engine
	fetcher   *fetch.Fetcher
	sched     *revalidate.Scheduler

	flight singleflight.Group
}

/*
Options tune a single GetOrFetch call. The zero value means: use the
cache, resolve the TTL from the deployment profile, fetch from the
default endpoint.
*/
type Options struct {
	// SkipCache bypasses both the lookup and the write-back; the call
	// degrades to a plain resilient fetch.
	SkipCache bool

	// Bust deletes any existing entry first, forcing a fresh fetch whose
	// result is cached as usual.
	Bust bool

	// TTL overrides the profile's per-prefix resolution when positive.
	TTL time.Duration

	// Tags label the resulting entry for bulk invalidation.
	Tags []string

	// Version overrides the configured data-shape version.
	Version string

	// Endpoint selects which breaker the fetch runs under; empty means
	// the configured default.
	Endpoint string
}

// New builds a fully wired coordinator from a deployment profile. A nil
// config gets development defaults; nil logger and sink become no-ops.
func New(cfg *config.Config, log *zap.Logger, sink metrics.Sink) (*Coordinator, error) {
	if cfg == nil {
		cfg = config.Default(config.Development)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	validator, err := security.NewValidator(cfg.SensitivePatterns, log.Named("security"))
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector(sink)

	policyType := eviction.OldestWrite
	if cfg.EvictionPolicy == "lru" {
		policyType = eviction.LRU
	}
	s := store.New(cfg.MaxSize, eviction.New(policyType), validator, collector, log.Named("store"))

	overrides := make(map[string]time.Duration, len(cfg.TTLOverrides))
	for prefix, d := range cfg.TTLOverrides {
		overrides[prefix] = d.Std()
	}

	f := fetch.New(
		fetch.RetryPolicy{
			MaxRetries:     cfg.Retry.MaxRetries,
			BaseDelay:      cfg.Retry.BaseDelay.Std(),
			Multiplier:     cfg.Retry.Multiplier,
			JitterMax:      cfg.Retry.JitterMax.Std(),
			AttemptTimeout: cfg.Retry.AttemptTimeout.Std(),
		},
		fetch.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			BaseCooldown:     cfg.Breaker.BaseCooldown.Std(),
			MaxCooldown:      cfg.Breaker.MaxCooldown.Std(),
		},
		sink, log.Named("fetch"),
	)

	return &Coordinator{
		cfg:       cfg,
		log:       log,
		validator: validator,
		collector: collector,
		store:     s,
		ttl:       expiration.NewPolicy(cfg.DefaultTTL.Std(), overrides),
		engine:    invalidation.NewEngine(s, log.Named("invalidation")),
		fetcher:   f,
		sched:     revalidate.NewScheduler(s, f, collector, log.Named("revalidate")),
	}, nil
}

/*
GetOrFetch is the primary read operation: return the cached value for
key, or fetch it with fn under the full resilience stack.

A stale entry is returned immediately while fn refreshes it in the
background (when the profile enables stale-while-revalidate). The
returned error is always a classified *fetch.Error or ErrCircuitOpen
when the fetch path was taken and failed.
*/
func (c *Coordinator) GetOrFetch(ctx context.Context, key string, fn types.FetchFunc, opts Options) (any, error) {
	key, err := c.validator.ValidateKey(key)
	if err != nil {
		return nil, err
	}

	if opts.Bust {
		c.store.Delete(key)
	}

	if !opts.SkipCache && !opts.Bust {
		if ent, ok := c.store.Get(key); ok {
			c.collector.Hit(key)
			return ent.Data, nil
		}
		if c.cfg.StaleWhileRevalidate {
			if ent, stale, ok := c.store.GetStale(key); ok && stale {
				c.collector.StaleHit(key, ent.Age(time.Now()))
				c.sched.Notify(key, c.endpoint(opts), fn, c.setOptions(key, opts))
				return ent.Data, nil
			}
		}
	}

	c.collector.Miss(key)

	v, err, shared := c.flight.Do(key, func() (any, error) {
		v, err := c.fetcher.Execute(ctx, c.endpoint(opts), fn)
		if err != nil {
			return nil, err
		}
		if !opts.SkipCache {
			c.cache(key, v, opts)
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.log.Debug("fetch deduplicated", zap.String("key", key))
	}
	return v, nil
}

// cache writes a fetched value back, honoring the advisory scan. A value
// the scan rejects is served to the caller but never stored.
func (c *Coordinator) cache(key string, v any, opts Options) {
	if d := c.validator.ShouldCache(key, v); !d.Allowed {
		c.log.Warn("value not cached", zap.String("key", key), zap.String("reason", d.Reason))
		return
	}
	if err := c.store.Set(key, v, c.setOptions(key, opts)); err != nil {
		c.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Coordinator) setOptions(key string, opts Options) store.SetOptions {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.ttl.TTLFor(key)
	}
	version := opts.Version
	if version == "" {
		version = c.cfg.DataVersion
	}
	return store.SetOptions{TTL: ttl, Tags: opts.Tags, Version: version}
}

func (c *Coordinator) endpoint(opts Options) string {
	if opts.Endpoint != "" {
		return opts.Endpoint
	}
	return c.cfg.Endpoint
}

// Get returns the fresh cached value for key, if any. No fetching.
func (c *Coordinator) Get(key string) (any, bool) {
	key, err := c.validator.ValidateKey(key)
	if err != nil {
		return nil, false
	}
	ent, ok := c.store.Get(key)
	if !ok {
		c.collector.Miss(key)
		return nil, false
	}
	c.collector.Hit(key)
	return ent.Data, true
}

// Set stores a value directly, e.g. data the UI already holds from a
// transaction result. The advisory scan applies: sensitive values are
// rejected with security.ErrSensitiveData.
func (c *Coordinator) Set(key string, value any, opts Options) error {
	key, err := c.validator.ValidateKey(key)
	if err != nil {
		return err
	}
	if d := c.validator.ShouldCache(key, value); !d.Allowed {
		return security.ErrSensitiveData
	}
	return c.store.Set(key, value, c.setOptions(key, opts))
}

// Has reports whether key is cached, fresh or stale.
func (c *Coordinator) Has(key string) bool {
	key, err := c.validator.ValidateKey(key)
	if err != nil {
		return false
	}
	return c.store.Has(key)
}

// Bust removes one key and reports whether it was present.
func (c *Coordinator) Bust(key string) bool {
	key, err := c.validator.ValidateKey(key)
	if err != nil {
		return false
	}
	return c.store.Delete(key)
}

// BustMany removes several keys and returns how many were present.
func (c *Coordinator) BustMany(keys ...string) int {
	clean := make([]string, 0, len(keys))
	for _, k := range keys {
		if k, err := c.validator.ValidateKey(k); err == nil {
			clean = append(clean, k)
		}
	}
	return c.store.DeleteMany(clean)
}

// Clear drops every entry. Used on wallet disconnect and session end.
func (c *Coordinator) Clear() int { return c.store.Clear() }

// InvalidateByTag removes every entry labeled with tag.
func (c *Coordinator) InvalidateByTag(tag string) int { return c.engine.ByTag(tag) }

// InvalidateByPattern removes every entry whose key matches the regular
// expression. An invalid pattern is an error, never a silent no-op.
func (c *Coordinator) InvalidateByPattern(pattern string) (int, error) {
	return c.engine.ByPattern(pattern)
}

// InvalidateByVersion removes every entry cached under a data-shape
// version other than current. Run once after a deploy.
func (c *Coordinator) InvalidateByVersion(current string) int { return c.engine.ByVersion(current) }

/*
InvalidateAfterMutation is the write-side hook: the UI calls it with the
tag set of a confirmed on-chain mutation (see invalidation.TagsForJoin
and friends) and every affected view drops out of the cache at once.
*/
func (c *Coordinator) InvalidateAfterMutation(tags ...string) int {
	n := c.engine.ByTags(tags...)
	c.log.Debug("mutation invalidated cached views",
		zap.Strings("tags", tags), zap.Int("removed", n))
	return n
}

// Metrics returns the current counter snapshot.
func (c *Coordinator) Metrics() metrics.Snapshot { return c.collector.Snapshot() }

// CheckHealth evaluates the metrics against the profile's thresholds.
func (c *Coordinator) CheckHealth() metrics.Health {
	return c.collector.CheckHealth(metrics.Thresholds{
		MinHitRate:                c.cfg.Health.MinHitRate,
		MinSamples:                c.cfg.Health.MinSamples,
		Capacity:                  c.cfg.MaxSize,
		MaxSizeFraction:           c.cfg.Health.MaxSizeFraction,
		MaxEvictionsPerMinute:     c.cfg.Health.MaxEvictionsPerMinute,
		MaxInvalidationsPerMinute: c.cfg.Health.MaxInvalidationsPerMinute,
	})
}

// State is the full diagnostic dump: every entry, every counter, the
// revalidation queue and the per-endpoint breaker states.
type State struct {
	GeneratedAt time.Time                     `json:"generated_at"`
	Profile     config.Profile                `json:"profile"`
	Entries     []store.EntryView             `json:"entries"`
	Metrics     metrics.Snapshot              `json:"metrics"`
	Queue       []revalidate.QueueEntry       `json:"revalidation_queue"`
	Breakers    map[string]fetch.BreakerStats `json:"breakers"`
	Health      metrics.Health                `json:"health"`
}

// ExportState snapshots everything observable for debugging and the
// diagnostics endpoint.
func (c *Coordinator) ExportState() State {
	return State{
		GeneratedAt: time.Now(),
		Profile:     c.cfg.Profile,
		Entries:     c.store.Snapshot(),
		Metrics:     c.collector.Snapshot(),
		Queue:       c.sched.Queue(),
		Breakers:    c.fetcher.Stats(),
		Health:      c.CheckHealth(),
	}
}

// Flush waits for in-flight background refreshes to finish.
func (c *Coordinator) Flush(ctx context.Context) error { return c.sched.Flush(ctx) }

// Close stops background work and drains it. The coordinator still
// serves cached reads afterwards, but stale entries are no longer
// refreshed.
func (c *Coordinator) Close(ctx context.Context) error { return c.sched.Close(ctx) }
