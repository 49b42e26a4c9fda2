package revalidate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/sudo-robi/soroban-ajo-sub002/eviction"
	"github.com/sudo-robi/soroban-ajo-sub002/fetch"
	"github.com/sudo-robi/soroban-ajo-sub002/metrics"
	"github.com/sudo-robi/soroban-ajo-sub002/security"
	"github.com/sudo-robi/soroban-ajo-sub002/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store) {
	t.Helper()

	v, err := security.NewValidator(nil, nil)
	require.NoError(t, err)

	collector := metrics.NewCollector(nil)
	s := store.New(100, eviction.New(eviction.OldestWrite), v, collector, zap.NewNop())

	// No retries and no real backoff so failure paths resolve instantly.
	f := fetch.New(fetch.RetryPolicy{MaxRetries: 0}, fetch.DefaultBreakerConfig(), nil, zap.NewNop())
	return NewScheduler(s, f, collector, zap.NewNop()), s
}

func waitTask(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("refresh task did not finish")
	}
}

func TestRefreshReplacesStaleEntry(t *testing.T) {
	sched, s := newTestScheduler(t)

	opts := store.SetOptions{TTL: time.Minute, Tags: []string{"group:1"}}
	task := sched.Notify("group:1", "rpc", func(ctx context.Context) (any, error) {
		return map[string]any{"cycle": 2}, nil
	}, opts)
	require.NotNil(t, task)
	waitTask(t, task)

	ent, ok := s.Get("group:1")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"cycle": 2}, ent.Data)
	assert.Empty(t, sched.Queue(), "successful refresh dequeues the key")
}

func TestAtMostOneInFlightPerKey(t *testing.T) {
	sched, _ := newTestScheduler(t)

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "v", nil
	}

	opts := store.SetOptions{TTL: time.Minute}
	first := sched.Notify("k", "rpc", fn, opts)
	second := sched.Notify("k", "rpc", fn, opts)
	third := sched.Notify("k", "rpc", fn, opts)

	assert.Same(t, first, second)
	assert.Same(t, first, third)

	q := sched.Queue()
	require.Len(t, q, 1)
	assert.True(t, q[0].InFlight)
	assert.Equal(t, first.ID, q[0].TaskID)

	close(release)
	waitTask(t, first)
	assert.EqualValues(t, 1, calls.Load(), "shared task means one upstream call")
}

func TestFailedRefreshKeepsStaleDataAndStaysQueued(t *testing.T) {
	sched, s := newTestScheduler(t)

	require.NoError(t, s.Set("k", "known-good", store.SetOptions{TTL: time.Nanosecond}))

	task := sched.Notify("k", "rpc", func(ctx context.Context) (any, error) {
		return nil, fetch.NetworkError(errors.New("rpc down"))
	}, store.SetOptions{TTL: time.Minute})
	waitTask(t, task)

	// Known-good data survives the failed refresh.
	ent, stale, ok := s.GetStale("k")
	require.True(t, ok)
	assert.True(t, stale)
	assert.Equal(t, "known-good", ent.Data)

	q := sched.Queue()
	require.Len(t, q, 1)
	assert.False(t, q[0].InFlight, "failed task clears the in-flight marker")

	// The next stale read spawns a fresh attempt.
	retry := sched.Notify("k", "rpc", func(ctx context.Context) (any, error) {
		return "fresh", nil
	}, store.SetOptions{TTL: time.Minute})
	require.NotSame(t, task, retry)
	waitTask(t, retry)

	ent, ok2 := s.Get("k")
	require.True(t, ok2)
	assert.Equal(t, "fresh", ent.Data)
	assert.Empty(t, sched.Queue())
}

func TestFlushDrainsInFlightWork(t *testing.T) {
	sched, s := newTestScheduler(t)

	release := make(chan struct{})
	sched.Notify("slow", "rpc", func(ctx context.Context) (any, error) {
		<-release
		return "done", nil
	}, store.SetOptions{TTL: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sched.Flush(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, sched.Flush(context.Background()))

	ent, ok := s.Get("slow")
	require.True(t, ok)
	assert.Equal(t, "done", ent.Data)
}

func TestCloseRejectsNewWork(t *testing.T) {
	sched, _ := newTestScheduler(t)

	require.NoError(t, sched.Close(context.Background()))
	task := sched.Notify("k", "rpc", func(ctx context.Context) (any, error) {
		return "v", nil
	}, store.SetOptions{TTL: time.Minute})
	assert.Nil(t, task)
}

func TestQueueSnapshotOrderedByAge(t *testing.T) {
	sched, _ := newTestScheduler(t)

	base := time.Unix(1_700_000_000, 0)
	clock := base
	sched.now = func() time.Time { return clock }

	block := make(chan struct{})
	fn := func(ctx context.Context) (any, error) { <-block; return "v", nil }

	older := sched.Notify("older", "rpc", fn, store.SetOptions{TTL: time.Minute})
	clock = clock.Add(time.Second)
	newer := sched.Notify("newer", "rpc", fn, store.SetOptions{TTL: time.Minute})

	q := sched.Queue()
	require.Len(t, q, 2)
	assert.Equal(t, "older", q[0].Key)
	assert.Equal(t, "newer", q[1].Key)
	assert.Equal(t, base, q[0].DueSince)

	close(block)
	waitTask(t, older)
	waitTask(t, newer)
}
