// This package keeps stale data from staying stale. When a read is served
// from an expired entry, the key lands here and a background refresh
// replaces the entry without ever blocking the read path.

package revalidate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sudo-robi/soroban-ajo-sub002/fetch"
	"github.com/sudo-robi/soroban-ajo-sub002/metrics"
	"github.com/sudo-robi/soroban-ajo-sub002/store"
	"github.com/sudo-robi/soroban-ajo-sub002/types"
)

/*
Scheduler tracks the keys currently being served stale and owns their
background refreshes.

Guarantees:

  - At most one refresh is in flight per key, ever. Concurrent stale
    reads of the same key share the one pending task.
  - A failed refresh never touches the store: the stale entry survives,
    the key stays queued, and the next stale read triggers another try.
    The cache never loses previously-known-good data because a refresh
    failed.
  - Every refresh is a tracked task with an ID and a Done channel, so
    Flush can deterministically drain outstanding work at shutdown and
    in tests. No fire-and-forget goroutines.

Refreshes run detached from the caller that tripped them: the triggering
request returns its stale value immediately, and a late or superseded
refresh simply overwrites (or is overwritten by) an equally fresh Set.
*/
type Scheduler struct {
	mu     sync.Mutex
	queue  map[string]*queueEntry
	closed bool
	wg     sync.WaitGroup

	store   *store.Store
	fetcher *fetch.Fetcher
	metrics *metrics.Collector
	log     *zap.Logger

	now func() time.Time
}

// queueEntry is one stale key awaiting a successful refresh. task is nil
// while the key is queued but no refresh is running (i.e. the last
// attempt failed and nothing has re-triggered yet).
type queueEntry struct {
	dueSince time.Time
	task     *Task
}

// Task is the handle for one in-flight refresh.
type Task struct {
	ID        string
	Key       string
	StartedAt time.Time

	done chan struct{}
}

// Done is closed when the refresh has finished, in either outcome.
func (t *Task) Done() <-chan struct{} { return t.done }

// QueueEntry is a diagnostic snapshot row.
type QueueEntry struct {
	Key      string    `json:"key"`
	DueSince time.Time `json:"due_since"`
	InFlight bool      `json:"in_flight"`
	TaskID   string    `json:"task_id,omitempty"`
}

func NewScheduler(s *store.Store, f *fetch.Fetcher, collector *metrics.Collector, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		queue:   make(map[string]*queueEntry),
		store:   s,
		fetcher: f,
		metrics: collector,
		log:     log,
		now:     time.Now,
	}
}

/*
Notify reports that key was just served stale and returns the refresh
task responsible for it. If a refresh is already in flight the existing
task is returned; otherwise a new one is spawned. Returns nil only after
the scheduler has been closed.
*/
func (s *Scheduler) Notify(key, endpoint string, fn types.FetchFunc, opts store.SetOptions) *Task {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return nil
	}

	ent, ok := s.queue[key]
	if !ok {
		ent = &queueEntry{dueSince: s.now()}
		s.queue[key] = ent
	}
	if ent.task != nil {
		t := ent.task
		s.mu.Unlock()
		return t
	}

	t := &Task{
		ID:        uuid.NewString(),
		Key:       key,
		StartedAt: s.now(),
		done:      make(chan struct{}),
	}
	ent.task = t
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.RefreshScheduled(key)
	go s.run(t, endpoint, fn, opts)
	return t
}

func (s *Scheduler) run(t *Task, endpoint string, fn types.FetchFunc, opts store.SetOptions) {
	defer s.wg.Done()
	defer close(t.done)

	// Detached from the triggering request on purpose: the caller already
	// has its (stale) answer and must not be able to cancel the refresh
	// out from under everyone else who shares the entry.
	v, err := s.fetcher.Execute(context.Background(), endpoint, fn)
	if err == nil {
		err = s.store.Set(t.Key, v, opts)
	}

	s.mu.Lock()
	ent, ok := s.queue[t.Key]
	if ok && ent.task == t {
		if err == nil {
			delete(s.queue, t.Key)
		} else {
			// Stay queued; the next stale read re-triggers. The stale
			// entry in the store is left untouched.
			ent.task = nil
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.metrics.RefreshFailed(t.Key, err)
		s.log.Warn("background refresh failed",
			zap.String("key", t.Key),
			zap.String("task", t.ID),
			zap.Error(err))
		return
	}
	s.log.Debug("background refresh replaced stale entry",
		zap.String("key", t.Key),
		zap.String("task", t.ID))
}

// Queue returns a snapshot of the revalidation queue for diagnostics,
// oldest first.
func (s *Scheduler) Queue() []QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]QueueEntry, 0, len(s.queue))
	for key, ent := range s.queue {
		row := QueueEntry{Key: key, DueSince: ent.dueSince}
		if ent.task != nil {
			row.InFlight = true
			row.TaskID = ent.task.ID
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueSince.Equal(out[j].DueSince) {
			return out[i].DueSince.Before(out[j].DueSince)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Flush blocks until every in-flight refresh has finished or ctx runs
// out. Keys whose last refresh failed remain queued; Flush only drains
// running work.
func (s *Scheduler) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Close stops accepting new refreshes and drains in-flight ones.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Flush(ctx)
}
