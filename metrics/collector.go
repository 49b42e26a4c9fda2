package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

/*
Collector tracks what the cache is doing.

Hit/miss/stale counters are cumulative for the process lifetime; the
eviction and invalidation rates are tracked over a sliding one-minute
window, because "we evicted 40k entries since boot" says nothing while
"we are evicting 300/min right now" is an incident.

Stale hits count toward the hit rate. A stale hit still answered the UI
from memory without a blocking network call, which is the thing the hit
rate is supposed to measure. The rule lives here, in one place, so no
call site decides it ad hoc.
*/
type Collector struct {
	hits          atomic.Int64
	misses        atomic.Int64
	staleHits     atomic.Int64
	evictions     atomic.Int64
	invalidations atomic.Int64

	evictWindow *rateWindow
	invalWindow *rateWindow

	// sizeFn is wired to the store's Len at composition time.
	sizeFn atomic.Value // func() int

	sink Sink
	now  func() time.Time
}

// Snapshot is a point-in-time view of every counter plus the derived
// rates, shaped for ExportState and the diagnostics endpoint.
type Snapshot struct {
	Hits                   int64   `json:"hits"`
	Misses                 int64   `json:"misses"`
	StaleHits              int64   `json:"stale_hits"`
	Evictions              int64   `json:"evictions"`
	Invalidations          int64   `json:"invalidations"`
	Size                   int     `json:"size"`
	HitRate                float64 `json:"hit_rate"`
	EvictionsPerMinute     float64 `json:"evictions_per_minute"`
	InvalidationsPerMinute float64 `json:"invalidations_per_minute"`
}

// Thresholds configure CheckHealth.
type Thresholds struct {
	// MinHitRate is the hit rate below which the cache is unhealthy.
	// Ignored until the cache has seen at least MinSamples lookups.
	MinHitRate float64
	MinSamples int64

	// Capacity and MaxSizeFraction bound how full the store may run.
	Capacity        int
	MaxSizeFraction float64

	// Ceilings on the sliding-window rates.
	MaxEvictionsPerMinute     float64
	MaxInvalidationsPerMinute float64
}

// Health is the outcome of a threshold evaluation. Issues make the cache
// unhealthy; warnings are advisory.
type Health struct {
	Healthy  bool     `json:"healthy"`
	Issues   []string `json:"issues"`
	Warnings []string `json:"warnings"`
}

// NewCollector creates a collector reporting to the given sink.
// A nil sink is replaced with NoopSink.
func NewCollector(sink Sink) *Collector {
	if sink == nil {
		sink = NoopSink{}
	}
	c := &Collector{
		sink: sink,
		now:  time.Now,
	}
	c.evictWindow = newRateWindow(time.Minute, c.clock)
	c.invalWindow = newRateWindow(time.Minute, c.clock)
	c.sizeFn.Store(func() int { return 0 })
	return c
}

func (c *Collector) clock() time.Time { return c.now() }

// SetSizeFunc wires the live size gauge, normally to the store's Len.
func (c *Collector) SetSizeFunc(fn func() int) {
	if fn != nil {
		c.sizeFn.Store(fn)
	}
}

func (c *Collector) Hit(key string) {
	c.hits.Add(1)
	c.sink.Report(EventHit, Payload{"key": key})
}

func (c *Collector) Miss(key string) {
	c.misses.Add(1)
	c.sink.Report(EventMiss, Payload{"key": key})
}

func (c *Collector) StaleHit(key string, age time.Duration) {
	c.staleHits.Add(1)
	c.sink.Report(EventStaleHit, Payload{"key": key, "age": age.String()})
}

func (c *Collector) Eviction(key string) {
	c.evictions.Add(1)
	c.evictWindow.add(1)
	c.sink.Report(EventEviction, Payload{"key": key})
}

// Invalidation records n entries removed by one bust or sweep.
func (c *Collector) Invalidation(n int, reason string) {
	if n <= 0 {
		return
	}
	c.invalidations.Add(int64(n))
	c.invalWindow.add(n)
	c.sink.Report(EventInvalidation, Payload{"count": n, "reason": reason})
}

func (c *Collector) RefreshScheduled(key string) {
	c.sink.Report(EventRefreshScheduled, Payload{"key": key})
}

func (c *Collector) RefreshFailed(key string, err error) {
	c.sink.Report(EventRefreshFailed, Payload{"key": key, "error": err.Error()})
}

// HitRate returns (hits+staleHits)/(hits+staleHits+misses), or 0 before
// any lookup happened.
func (c *Collector) HitRate() float64 {
	served := c.hits.Load() + c.staleHits.Load()
	total := served + c.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(served) / float64(total)
}

// Snapshot returns the current view of every counter.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Hits:                   c.hits.Load(),
		Misses:                 c.misses.Load(),
		StaleHits:              c.staleHits.Load(),
		Evictions:              c.evictions.Load(),
		Invalidations:          c.invalidations.Load(),
		Size:                   c.sizeFn.Load().(func() int)(),
		HitRate:                c.HitRate(),
		EvictionsPerMinute:     c.evictWindow.perMinute(),
		InvalidationsPerMinute: c.invalWindow.perMinute(),
	}
}

// CheckHealth evaluates the current snapshot against the thresholds.
func (c *Collector) CheckHealth(t Thresholds) Health {
	snap := c.Snapshot()
	h := Health{Healthy: true}

	samples := snap.Hits + snap.StaleHits + snap.Misses
	if t.MinHitRate > 0 && samples >= t.MinSamples && snap.HitRate < t.MinHitRate {
		h.Healthy = false
		h.Issues = append(h.Issues, fmt.Sprintf(
			"hit rate %.2f below minimum %.2f", snap.HitRate, t.MinHitRate))
	}

	if t.Capacity > 0 && t.MaxSizeFraction > 0 {
		frac := float64(snap.Size) / float64(t.Capacity)
		if frac > t.MaxSizeFraction {
			h.Warnings = append(h.Warnings, fmt.Sprintf(
				"size %d is %.0f%% of capacity %d", snap.Size, frac*100, t.Capacity))
		}
	}

	if t.MaxEvictionsPerMinute > 0 && snap.EvictionsPerMinute > t.MaxEvictionsPerMinute {
		h.Healthy = false
		h.Issues = append(h.Issues, fmt.Sprintf(
			"eviction rate %.0f/min above ceiling %.0f/min",
			snap.EvictionsPerMinute, t.MaxEvictionsPerMinute))
	}

	if t.MaxInvalidationsPerMinute > 0 && snap.InvalidationsPerMinute > t.MaxInvalidationsPerMinute {
		h.Warnings = append(h.Warnings, fmt.Sprintf(
			"invalidation rate %.0f/min above ceiling %.0f/min",
			snap.InvalidationsPerMinute, t.MaxInvalidationsPerMinute))
	}

	return h
}

/*
rateWindow counts events over a sliding window. Buckets are pruned on
every add and read, so an idle cache decays to zero instead of reporting
the last burst forever.
*/
type rateWindow struct {
	mu     sync.Mutex
	span   time.Duration
	now    func() time.Time
	events []windowEvent
}

type windowEvent struct {
	at time.Time
	n  int
}

func newRateWindow(span time.Duration, now func() time.Time) *rateWindow {
	return &rateWindow{span: span, now: now}
}

func (w *rateWindow) add(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune()
	w.events = append(w.events, windowEvent{at: w.now(), n: n})
}

func (w *rateWindow) perMinute() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune()

	total := 0
	for _, ev := range w.events {
		total += ev.n
	}
	return float64(total) * float64(time.Minute) / float64(w.span)
}

// prune drops events older than the window. Caller holds the lock.
func (w *rateWindow) prune() {
	cutoff := w.now().Add(-w.span)
	i := 0
	for i < len(w.events) && w.events[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}
