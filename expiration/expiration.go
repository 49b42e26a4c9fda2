// This package decides how long a cached ledger value stays fresh.
//
// TTL is fixed at write time and elapses relative to the entry timestamp.
// There is deliberately no sliding window here: a read must never extend
// the life of ledger data, only a refresh can.

package expiration

import (
	"sort"
	"strings"
	"time"
)

/*
Policy resolves the TTL to apply to a key when the caller did not pass an
explicit one.

Different views of the same group age at very different speeds: the group
configuration is immutable after creation, while the per-cycle status
view changes every time a member contributes. The deployment profiles
express that with per-prefix overrides, longest prefix wins.
*/
type Policy struct {
	// Default applies when no override matches.
	Default time.Duration

	// Overrides maps a key prefix to a TTL, e.g. "group:" or "groups:list".
	Overrides map[string]time.Duration

	// prefixes, longest first, so resolution is deterministic even when
	// overrides nest ("group:" and "group:7:status").
	prefixes []string
}

// NewPolicy builds a resolution policy. A zero default falls back to one
// minute, which keeps a misconfigured deployment serving cached data
// instead of hammering the RPC endpoint.
func NewPolicy(def time.Duration, overrides map[string]time.Duration) *Policy {
	if def <= 0 {
		def = time.Minute
	}

	prefixes := make([]string, 0, len(overrides))
	for p := range overrides {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool {
		if len(prefixes[i]) != len(prefixes[j]) {
			return len(prefixes[i]) > len(prefixes[j])
		}
		return prefixes[i] < prefixes[j]
	})

	return &Policy{Default: def, Overrides: overrides, prefixes: prefixes}
}

// TTLFor returns the TTL for the given key: the longest matching prefix
// override, or the default.
func (p *Policy) TTLFor(key string) time.Duration {
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(key, prefix) {
			return p.Overrides[prefix]
		}
	}
	return p.Default
}
