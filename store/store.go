package store

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sudo-robi/soroban-ajo-sub002/eviction"
	"github.com/sudo-robi/soroban-ajo-sub002/metrics"
	"github.com/sudo-robi/soroban-ajo-sub002/security"
	"github.com/sudo-robi/soroban-ajo-sub002/types"
)

/*
Store is the core key→entry map: TTL, tags, versions, and capacity-bound
eviction. It is the single source of truth for cached ledger data.

One store, one lock. Bulk invalidation sweeps and eviction decisions both
need a consistent view of every entry, so the map is deliberately not
sharded: no caller may ever observe a half-completed sweep, and the
eviction victim is the globally oldest entry, not the oldest in one
shard. At the size this cache runs at (thousands of entries, not
millions) a single RWMutex is nowhere near contention.

Expiration is lazy. Get simply refuses to return an entry past its TTL;
the entry itself stays put until a write, sweep, or eviction removes it.
That keeps reads non-destructive and is what makes the stale-fallback
path possible at all.
*/
type Store struct {
	mu       sync.Mutex
	entries  map[string]*types.CacheEntry
	policy   eviction.Policy
	capacity int

	validator *security.Validator
	metrics   *metrics.Collector
	log       *zap.Logger

	// now is swappable so TTL behavior is testable without sleeping.
	now func() time.Time
}

// SetOptions carry the per-entry metadata for a write.
type SetOptions struct {
	// TTL must be positive; the caller (coordinator or test) resolves
	// defaults before the write reaches the store.
	TTL time.Duration

	// Tags label the entry for bulk invalidation.
	Tags []string

	// Version is the data-shape version, empty for unversioned entries.
	Version string
}

// New creates a store holding at most capacity entries. The collector's
// size gauge is wired to the live entry count.
func New(
	capacity int,
	policy eviction.Policy,
	validator *security.Validator,
	collector *metrics.Collector,
	log *zap.Logger,
) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		entries:   make(map[string]*types.CacheEntry),
		policy:    policy,
		capacity:  capacity,
		validator: validator,
		metrics:   collector,
		log:       log,
		now:       time.Now,
	}
	collector.SetSizeFunc(s.Len)
	return s
}

/*
Get returns the entry for key if it exists and is still fresh.

An expired entry is reported as absent but is NOT deleted: reads never
mutate the map, and the stale copy must survive for GetStale to serve
while a background refresh runs.
*/
func (s *Store) Get(key string) (*types.CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok || ent.IsExpired(s.now()) {
		return nil, false
	}
	s.policy.OnGet(key)
	return ent, true
}

/*
GetStale returns the entry for key regardless of freshness, flagging
whether it is past its TTL. This is the read half of
stale-while-revalidate: the caller shows the stale value immediately and
hands the key to the revalidation scheduler.
*/
func (s *Store) GetStale(key string) (ent *types.CacheEntry, stale bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok = s.entries[key]
	if !ok {
		return nil, false, false
	}
	s.policy.OnGet(key)
	return ent, ent.IsExpired(s.now()), true
}

/*
Set stores value under key with the given TTL, tags and version.

The hard security checks run here again even though the coordinator
already consulted the validator: the store is the last line before data
is held and served back, and it must stay safe even for callers that
bypass the coordinator.

If the store is at capacity and key is new, the oldest entry is evicted
first. Timestamp is always the current clock time; a rewrite of an
existing key is a full replacement, never a partial mutation.
*/
func (s *Store) Set(key string, value any, opts SetOptions) error {
	key, err := s.validator.ValidateKey(key)
	if err != nil {
		return err
	}
	if err := s.validator.ValidateValue(value); err != nil {
		return err
	}

	s.mu.Lock()
	var evicted string
	if _, exists := s.entries[key]; !exists && s.capacity > 0 && len(s.entries) >= s.capacity {
		evicted, _ = s.evictOldestLocked()
	}

	s.entries[key] = &types.CacheEntry{
		Data:      value,
		Timestamp: s.now(),
		TTL:       opts.TTL,
		Tags:      append([]string(nil), opts.Tags...),
		Version:   opts.Version,
	}
	s.policy.OnPut(key)
	s.mu.Unlock()

	if evicted != "" {
		s.reportEviction(evicted)
	}
	return nil
}

// Has reports whether key is present, ignoring staleness.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Delete removes key unconditionally and reports whether it was present.
// Counts toward the invalidation metrics.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	removed := s.deleteLocked(key)
	s.mu.Unlock()

	if removed {
		s.metrics.Invalidation(1, "bust")
	}
	return removed
}

// DeleteMany removes every given key and returns how many were present.
func (s *Store) DeleteMany(keys []string) int {
	s.mu.Lock()
	n := 0
	for _, k := range keys {
		if s.deleteLocked(k) {
			n++
		}
	}
	s.mu.Unlock()

	s.metrics.Invalidation(n, "bust-multiple")
	return n
}

// Clear removes everything. Used on session teardown.
func (s *Store) Clear() int {
	s.mu.Lock()
	n := len(s.entries)
	for k := range s.entries {
		s.policy.Remove(k)
	}
	s.entries = make(map[string]*types.CacheEntry)
	s.mu.Unlock()

	s.metrics.Invalidation(n, "clear")
	return n
}

/*
DeleteWhere removes every entry matching pred in one critical section and
returns the removed count. This is what the invalidation engine sweeps
through: because the whole sweep holds the lock, no reader can ever
observe a partially-invalidated tag group.
*/
func (s *Store) DeleteWhere(reason string, pred func(key string, ent *types.CacheEntry) bool) int {
	s.mu.Lock()
	var victims []string
	for k, ent := range s.entries {
		if pred(k, ent) {
			victims = append(victims, k)
		}
	}
	for _, k := range victims {
		s.deleteLocked(k)
	}
	s.mu.Unlock()

	s.metrics.Invalidation(len(victims), reason)
	return len(victims)
}

// EvictOldest removes the single entry with the smallest timestamp.
// Exposed for diagnostics; Set calls the locked form automatically.
func (s *Store) EvictOldest() (string, bool) {
	s.mu.Lock()
	key, ok := s.evictOldestLocked()
	s.mu.Unlock()

	if ok {
		s.reportEviction(key)
	}
	return key, ok
}

// Len returns the number of stored entries, fresh or stale.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// EntryView is a read-only copy of one entry for ExportState.
type EntryView struct {
	Key       string    `json:"key"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	TTL       string    `json:"ttl"`
	Expired   bool      `json:"expired"`
	Tags      []string  `json:"tags,omitempty"`
	Version   string    `json:"version,omitempty"`
}

// Snapshot returns a copy of every entry, sorted by key for stable debug
// output.
func (s *Store) Snapshot() []EntryView {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	views := make([]EntryView, 0, len(s.entries))
	for k, ent := range s.entries {
		views = append(views, EntryView{
			Key:       k,
			Data:      ent.Data,
			Timestamp: ent.Timestamp,
			TTL:       ent.TTL.String(),
			Expired:   ent.IsExpired(now),
			Tags:      append([]string(nil), ent.Tags...),
			Version:   ent.Version,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Key < views[j].Key })
	return views
}

func (s *Store) deleteLocked(key string) bool {
	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	s.policy.Remove(key)
	return true
}

// evictOldestLocked picks and removes the victim under the lock; metric
// reporting happens after the lock is released so a sink that reads the
// size gauge cannot deadlock against it.
func (s *Store) evictOldestLocked() (string, bool) {
	victim := s.policy.Evict()
	if victim == "" {
		return "", false
	}
	delete(s.entries, victim)
	return victim, true
}

func (s *Store) reportEviction(key string) {
	s.metrics.Eviction(key)
	s.log.Debug("evicted oldest entry", zap.String("key", key))
}
