package eviction

/*
This package decides which entry goes when the store is full.

The store does not care how the decision is made. It reports reads and
writes, and when it is out of room it asks the policy for one victim key.
The policy only tracks ordering metadata; the store owns the data and
performs the actual delete.
*/

// Policy is the contract every eviction strategy must satisfy.
type Policy interface {

	// OnGet is called whenever a key is read. Strategies that rank by
	// access recency care; write-age strategies ignore it.
	OnGet(key string)

	// OnPut is called whenever a key is written. A rewrite of an existing
	// key counts as a fresh write: the entry's timestamp was just renewed.
	OnPut(key string)

	// Remove is called when a key leaves the store for any reason other
	// than eviction (explicit bust, invalidation sweep, clear), so the
	// policy can drop its bookkeeping.
	Remove(key string)

	// Evict returns the key that should be removed, or "" when the policy
	// tracks nothing. It also forgets that key.
	Evict() string

	// Len reports how many keys the policy is tracking. The store uses it
	// in tests to assert policy and map never drift apart.
	Len() int
}

// PolicyType identifies a supported eviction strategy.
type PolicyType string

const (
	// OldestWrite evicts the entry with the smallest timestamp, i.e. the
	// one whose data is oldest. Freshness age doubles as recency here:
	// every Set renews the timestamp and moves the key to the front.
	// This is the default for the ledger cache, where "least recently
	// refreshed" is what actually goes stale first.
	OldestWrite PolicyType = "oldest-write"

	// LRU evicts the least recently *accessed* entry. Kept as the
	// configurable alternative for deployments where read locality
	// matters more than data age.
	LRU PolicyType = "lru"
)

// New creates the eviction policy for the given type. Unknown types fall
// back to OldestWrite rather than panicking; the config layer validates
// the name before it gets here.
func New(t PolicyType) Policy {
	switch t {
	case LRU:
		return &keyList{reorderOnGet: true}
	default:
		return &keyList{}
	}
}
