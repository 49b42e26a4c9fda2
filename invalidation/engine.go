package invalidation

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/sudo-robi/soroban-ajo-sub002/store"
	"github.com/sudo-robi/soroban-ajo-sub002/types"
)

/*
Engine performs bulk invalidation over the store.

Three axes, matching the three ways cached ledger data goes bad:

  - ByTag: a mutation confirmed on-chain made every view of an entity
    stale ("anything labeled group:7 is now wrong").
  - ByPattern: an operational sweep over key shape ("drop every
    contribution view, whatever the group").
  - ByVersion: the contract or the client data shape was upgraded, so
    anything cached under a different version is garbage.

Each sweep runs in one critical section inside the store, so callers
never observe a half-invalidated group.
*/
type Engine struct {
	store *store.Store
	log   *zap.Logger
}

func NewEngine(s *store.Store, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: s, log: log}
}

// ByTag deletes every entry whose tag set contains tag and returns the
// removed count.
func (e *Engine) ByTag(tag string) int {
	n := e.store.DeleteWhere("tag:"+tag, func(_ string, ent *types.CacheEntry) bool {
		return ent.HasTag(tag)
	})
	e.log.Debug("invalidated by tag", zap.String("tag", tag), zap.Int("removed", n))
	return n
}

// ByPattern deletes every entry whose key matches the given regular
// expression. An invalid pattern is an error, not an empty sweep: a typo
// in an operational purge must not silently do nothing.
func (e *Engine) ByPattern(pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("invalid invalidation pattern %q: %w", pattern, err)
	}

	n := e.store.DeleteWhere("pattern:"+pattern, func(key string, _ *types.CacheEntry) bool {
		return re.MatchString(key)
	})
	e.log.Debug("invalidated by pattern", zap.String("pattern", pattern), zap.Int("removed", n))
	return n, nil
}

/*
ByVersion deletes every entry whose stored version differs from current.

This is the post-deploy purge: after the contract is upgraded the UI
bumps its data-shape version, and one ByVersion call drops everything
cached under the old shape. Unversioned entries (Version == "") are
treated as a different version and removed too; data of unknown shape is
exactly what this sweep exists to get rid of.
*/
func (e *Engine) ByVersion(current string) int {
	n := e.store.DeleteWhere("version:"+current, func(_ string, ent *types.CacheEntry) bool {
		return ent.Version != current
	})
	e.log.Debug("invalidated by version", zap.String("current", current), zap.Int("removed", n))
	return n
}

// ByTags sweeps several tags and returns the total removed. Used by the
// coordinator's write-then-invalidate path, where one mutation touches
// the entity, its list views and its aggregates at once.
func (e *Engine) ByTags(tags ...string) int {
	total := 0
	for _, t := range tags {
		total += e.ByTag(t)
	}
	return total
}
