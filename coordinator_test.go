package ajocache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	ajocache "github.com/sudo-robi/soroban-ajo-sub002"
	"github.com/sudo-robi/soroban-ajo-sub002/config"
	"github.com/sudo-robi/soroban-ajo-sub002/fetch"
	"github.com/sudo-robi/soroban-ajo-sub002/invalidation"
	"github.com/sudo-robi/soroban-ajo-sub002/security"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestCache(t *testing.T) *ajocache.Coordinator {
	t.Helper()
	c, err := ajocache.New(config.Default(config.Test), zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, c.Close(context.Background()))
	})
	return c
}

func fixed(v any) func(ctx context.Context) (any, error) {
	return func(ctx context.Context) (any, error) { return v, nil }
}

func TestFreshEntryServedWithoutFetching(t *testing.T) {
	c := newTestCache(t)
	key := ajocache.GroupKey(7)

	require.NoError(t, c.Set(key, "cached", ajocache.Options{TTL: time.Minute}))

	calls := 0
	v, err := c.GetOrFetch(context.Background(), key, func(ctx context.Context) (any, error) {
		calls++
		return "fetched", nil
	}, ajocache.Options{})

	require.NoError(t, err)
	assert.Equal(t, "cached", v)
	assert.Zero(t, calls, "a fresh entry must not touch the network")
}

func TestMissFetchesAndCaches(t *testing.T) {
	c := newTestCache(t)
	key := ajocache.GroupStatusKey(7)

	v, err := c.GetOrFetch(context.Background(), key, fixed("status"), ajocache.Options{TTL: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "status", v)

	got, ok := c.Get(key)
	require.True(t, ok, "fetched value lands in the cache")
	assert.Equal(t, "status", got)
}

func TestStaleEntryServedWhileRefreshRunsBehind(t *testing.T) {
	c := newTestCache(t)
	key := ajocache.GroupKey(3)

	require.NoError(t, c.Set(key, "old", ajocache.Options{TTL: time.Nanosecond}))

	v, err := c.GetOrFetch(context.Background(), key, fixed("new"), ajocache.Options{TTL: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "old", v, "the stale value answers immediately")

	require.NoError(t, c.Flush(context.Background()))

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "new", got, "the background refresh replaced the entry")

	snap := c.Metrics()
	assert.EqualValues(t, 1, snap.StaleHits)
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	c := newTestCache(t)
	key := ajocache.GroupsListKey

	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	fn := func(ctx context.Context) (any, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
		return "groups", nil
	}

	const n = 8
	results := make(chan any, n)
	var launched sync.WaitGroup
	for i := 0; i < n; i++ {
		launched.Add(1)
		go func() {
			launched.Done()
			v, err := c.GetOrFetch(context.Background(), key, fn, ajocache.Options{TTL: time.Minute})
			require.NoError(t, err)
			results <- v
		}()
	}

	launched.Wait()
	<-entered
	// Give the remaining callers time to join the in-flight call before
	// it is allowed to finish.
	time.Sleep(50 * time.Millisecond)
	close(release)

	for i := 0; i < n; i++ {
		assert.Equal(t, "groups", <-results)
	}
	assert.EqualValues(t, 1, calls.Load(), "concurrent misses collapse to one upstream call")
}

func TestBustForcesRefetch(t *testing.T) {
	c := newTestCache(t)
	key := ajocache.CycleKey(1, 2)

	require.NoError(t, c.Set(key, "stale-view", ajocache.Options{TTL: time.Minute}))

	calls := 0
	v, err := c.GetOrFetch(context.Background(), key, func(ctx context.Context) (any, error) {
		calls++
		return "fresh-view", nil
	}, ajocache.Options{Bust: true, TTL: time.Minute})

	require.NoError(t, err)
	assert.Equal(t, "fresh-view", v)
	assert.Equal(t, 1, calls)
}

func TestSkipCacheNeitherReadsNorWrites(t *testing.T) {
	c := newTestCache(t)
	key := ajocache.GroupKey(9)

	require.NoError(t, c.Set(key, "cached", ajocache.Options{TTL: time.Minute}))

	v, err := c.GetOrFetch(context.Background(), key, fixed("direct"), ajocache.Options{SkipCache: true})
	require.NoError(t, err)
	assert.Equal(t, "direct", v)

	got, _ := c.Get(key)
	assert.Equal(t, "cached", got, "skip-cache fetches must not clobber the entry")
}

func TestFetchFailureSurfacesClassifiedError(t *testing.T) {
	c := newTestCache(t)

	_, err := c.GetOrFetch(context.Background(), "group:404", func(ctx context.Context) (any, error) {
		return nil, fetch.ContractError(errors.New("group not found"))
	}, ajocache.Options{})

	var ferr *fetch.Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, fetch.KindContract, ferr.Kind)
	assert.False(t, c.Has("group:404"), "failures are never cached")
}

func TestOutageServesStaleAndOpensBreaker(t *testing.T) {
	// Trips after 2 failures; the long cooldown keeps the breaker open
	// for the whole test.
	cfg := config.Default(config.Test)
	cfg.Breaker.BaseCooldown = config.Duration(time.Minute)
	cfg.Breaker.MaxCooldown = config.Duration(time.Minute)
	c, err := ajocache.New(cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close(context.Background())) })

	cachedKey := ajocache.GroupKey(1)

	require.NoError(t, c.Set(cachedKey, "last-known", ajocache.Options{TTL: time.Nanosecond}))

	down := func(ctx context.Context) (any, error) {
		return nil, fetch.NetworkError(errors.New("connection refused"))
	}

	// Uncached keys fail until the breaker opens.
	for i := 0; i < 2; i++ {
		_, err := c.GetOrFetch(context.Background(), "group:500:status", down, ajocache.Options{})
		require.Error(t, err)
	}
	_, err = c.GetOrFetch(context.Background(), "group:500:status", down, ajocache.Options{})
	assert.ErrorIs(t, err, fetch.ErrCircuitOpen)

	// The stale entry still answers; the failed background refresh never
	// removes known-good data.
	v, err := c.GetOrFetch(context.Background(), cachedKey, down, ajocache.Options{})
	require.NoError(t, err)
	assert.Equal(t, "last-known", v)

	require.NoError(t, c.Flush(context.Background()))
	assert.True(t, c.Has(cachedKey))
}

func TestHitRateArithmetic(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Set("k", "v", ajocache.Options{TTL: time.Minute}))
	for i := 0; i < 9; i++ {
		_, ok := c.Get("k")
		require.True(t, ok)
	}
	_, ok := c.Get("absent")
	require.False(t, ok)

	assert.InDelta(t, 0.9, c.Metrics().HitRate, 1e-9)
}

func TestMutationInvalidatesTaggedViews(t *testing.T) {
	c := newTestCache(t)

	set := func(key string, tags []string) {
		require.NoError(t, c.Set(key, "v", ajocache.Options{TTL: time.Minute, Tags: tags}))
	}
	set(ajocache.GroupKey(7), []string{invalidation.TagGroup(7)})
	set(ajocache.GroupStatusKey(7), []string{invalidation.TagGroup(7), invalidation.TagCycle(7, 2)})
	set(ajocache.MemberKey("GABC"), []string{invalidation.TagMember("GABC")})
	set(ajocache.GroupKey(8), []string{invalidation.TagGroup(8)})

	n := c.InvalidateAfterMutation(invalidation.TagsForContribution(7, 2, "GABC")...)
	assert.Equal(t, 3, n)

	assert.False(t, c.Has(ajocache.GroupKey(7)))
	assert.False(t, c.Has(ajocache.GroupStatusKey(7)))
	assert.False(t, c.Has(ajocache.MemberKey("GABC")))
	assert.True(t, c.Has(ajocache.GroupKey(8)), "other groups are untouched")
}

func TestInvalidateByPatternAndVersion(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Set(ajocache.CycleKey(1, 1), "a", ajocache.Options{TTL: time.Minute, Version: "v2"}))
	require.NoError(t, c.Set(ajocache.CycleKey(1, 2), "b", ajocache.Options{TTL: time.Minute, Version: "v1"}))
	require.NoError(t, c.Set(ajocache.GroupKey(1), "c", ajocache.Options{TTL: time.Minute, Version: "v2"}))

	n, err := c.InvalidateByPattern(`^group:1:cycle:`)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = c.InvalidateByPattern(`[`)
	assert.Error(t, err, "a typo in a purge must not silently do nothing")

	assert.Equal(t, 0, c.InvalidateByVersion("v2"), "matching versions survive")
	require.NoError(t, c.Set("unversioned", "d", ajocache.Options{TTL: time.Minute, Version: ""}))
	assert.Equal(t, 1, c.InvalidateByVersion("v2"))
}

func TestSensitiveValueReturnedButNeverCached(t *testing.T) {
	c := newTestCache(t)
	leak := map[string]string{"seed_phrase": "abandon abandon abandon"}

	v, err := c.GetOrFetch(context.Background(), "wallet:session", fixed(leak), ajocache.Options{})
	require.NoError(t, err)
	assert.Equal(t, leak, v, "the caller still gets the value")
	assert.False(t, c.Has("wallet:session"))

	err = c.Set("wallet:session", leak, ajocache.Options{TTL: time.Minute})
	assert.ErrorIs(t, err, security.ErrSensitiveData)
}

func TestKeySanitizationIsDeterministic(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Set("group: 7 ", "v", ajocache.Options{TTL: time.Minute}))
	v, ok := c.Get("group:7")
	require.True(t, ok, "writer and reader canonicalize to the same key")
	assert.Equal(t, "v", v)

	_, err := c.GetOrFetch(context.Background(), "!!!", fixed("x"), ajocache.Options{})
	assert.ErrorIs(t, err, security.ErrInvalidKey)
}

func TestExportStateIsComplete(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Set(ajocache.GroupKey(1), "v", ajocache.Options{TTL: time.Minute}))
	_, _ = c.Get(ajocache.GroupKey(1))

	st := c.ExportState()
	assert.Equal(t, config.Test, st.Profile)
	require.Len(t, st.Entries, 1)
	assert.Equal(t, "group:1", st.Entries[0].Key)
	assert.EqualValues(t, 1, st.Metrics.Hits)
	assert.Empty(t, st.Queue)
	assert.True(t, st.Health.Healthy)
	assert.False(t, st.GeneratedAt.IsZero())
}

func TestCloseStopsBackgroundRefreshes(t *testing.T) {
	c, err := ajocache.New(config.Default(config.Test), zap.NewNop(), nil)
	require.NoError(t, err)

	require.NoError(t, c.Set("k", "old", ajocache.Options{TTL: time.Nanosecond}))
	require.NoError(t, c.Close(context.Background()))

	// Stale reads still answer, but nothing refreshes them anymore.
	v, err := c.GetOrFetch(context.Background(), "k", fixed("new"), ajocache.Options{})
	require.NoError(t, err)
	assert.Equal(t, "old", v)

	require.NoError(t, c.Flush(context.Background()))
	st := c.ExportState()
	require.Len(t, st.Entries, 1)
	assert.Equal(t, "old", st.Entries[0].Data)
}
