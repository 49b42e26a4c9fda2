package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHitRateArithmetic(t *testing.T) {
	c := NewCollector(nil)

	for i := 0; i < 7; i++ {
		c.Hit("k")
	}
	for i := 0; i < 2; i++ {
		c.StaleHit("k", time.Second)
	}
	c.Miss("k")

	// (7 + 2) / (7 + 2 + 1)
	assert.InDelta(t, 0.9, c.HitRate(), 1e-9)

	snap := c.Snapshot()
	assert.Equal(t, int64(7), snap.Hits)
	assert.Equal(t, int64(2), snap.StaleHits)
	assert.Equal(t, int64(1), snap.Misses)
}

func TestHitRateZeroBeforeTraffic(t *testing.T) {
	c := NewCollector(nil)
	assert.Zero(t, c.HitRate())
}

func TestSlidingWindowDecays(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewCollector(nil)
	c.now = func() time.Time { return now }

	for i := 0; i < 30; i++ {
		c.Eviction("k")
	}
	assert.InDelta(t, 30, c.Snapshot().EvictionsPerMinute, 1e-9)

	// 61 seconds later the window is empty, cumulative total is not.
	now = now.Add(61 * time.Second)
	snap := c.Snapshot()
	assert.Zero(t, snap.EvictionsPerMinute)
	assert.Equal(t, int64(30), snap.Evictions)
}

func TestCheckHealthThresholds(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewCollector(nil)
	c.now = func() time.Time { return now }
	c.SetSizeFunc(func() int { return 95 })

	c.Hit("k")
	for i := 0; i < 9; i++ {
		c.Miss("k")
	}
	for i := 0; i < 100; i++ {
		c.Eviction("k")
	}

	h := c.CheckHealth(Thresholds{
		MinHitRate:            0.5,
		MinSamples:            10,
		Capacity:              100,
		MaxSizeFraction:       0.9,
		MaxEvictionsPerMinute: 60,
	})

	assert.False(t, h.Healthy)
	require.Len(t, h.Issues, 2) // hit rate + eviction rate
	require.Len(t, h.Warnings, 1)
	assert.Contains(t, h.Issues[0], "hit rate")
	assert.Contains(t, h.Warnings[0], "capacity")
}

func TestCheckHealthQuietWhenBelowSampleFloor(t *testing.T) {
	c := NewCollector(nil)
	c.Miss("k") // 0% hit rate, but only one sample

	h := c.CheckHealth(Thresholds{MinHitRate: 0.5, MinSamples: 10})
	assert.True(t, h.Healthy)
	assert.Empty(t, h.Issues)
}

func TestInvalidationCountsBulk(t *testing.T) {
	c := NewCollector(nil)
	c.Invalidation(5, "tag:group:1")
	c.Invalidation(0, "no-op sweep")

	snap := c.Snapshot()
	assert.Equal(t, int64(5), snap.Invalidations)
	assert.InDelta(t, 5, snap.InvalidationsPerMinute, 1e-9)
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) Report(event string, _ Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func TestCollectorForwardsToSink(t *testing.T) {
	sink := &recordingSink{}
	c := NewCollector(sink)

	c.Hit("a")
	c.Miss("b")
	c.StaleHit("c", time.Second)
	c.Eviction("d")
	c.Invalidation(2, "clear")

	assert.Equal(t, []string{
		EventHit, EventMiss, EventStaleHit, EventEviction, EventInvalidation,
	}, sink.events)
}

func TestPrometheusSinkCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	c := NewCollector(sink)
	c.Hit("a")
	c.Hit("b")
	c.Invalidation(3, "tag sweep")

	events := testutil.CollectAndCount(sink.events)
	assert.Equal(t, 2, events) // two labeled series: hit, invalidation
	assert.InDelta(t, 2, testutil.ToFloat64(sink.events.WithLabelValues(EventHit)), 1e-9)
	assert.InDelta(t, 3, testutil.ToFloat64(sink.events.WithLabelValues(EventInvalidation)), 1e-9)
}
