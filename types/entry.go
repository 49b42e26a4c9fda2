package types

import "time"

/*
CacheEntry is a single cached ledger value together with the metadata the
rest of the system needs to reason about it.

An entry is replaced wholesale: a refresh goes through a full Set and
produces a new entry, nothing mutates Data or Timestamp in place. TTL
always elapses relative to Timestamp, so "how old is this entry" and
"when was it last written" are the same question.
*/
type CacheEntry struct {
	// Data is the cached value, exactly as returned by the upstream fetch.
	Data any

	// Timestamp is when the entry was created or last fully refreshed.
	Timestamp time.Time

	// TTL is how long the entry stays fresh after Timestamp.
	TTL time.Duration

	// Tags label the entry for bulk invalidation.
	// Example: the status view of group 7 carries "group:7".
	Tags []string

	// Version is the data-shape version the entry was cached under.
	// Empty means unversioned. Entries cached under an old shape are
	// purged wholesale after a contract upgrade.
	Version string
}

// IsExpired reports whether the entry is strictly past Timestamp+TTL.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return now.After(e.Timestamp.Add(e.TTL))
}

// Age returns how long ago the entry was written.
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}

// HasTag reports whether the entry carries the given tag.
func (e *CacheEntry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
