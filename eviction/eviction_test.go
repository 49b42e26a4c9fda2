package eviction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOldestWriteEvictsFirstWritten(t *testing.T) {
	p := New(OldestWrite)

	p.OnPut("x")
	p.OnPut("y")
	p.OnPut("z")

	// Reads must not change the victim under write-age ordering.
	p.OnGet("x")
	p.OnGet("x")

	assert.Equal(t, "x", p.Evict())
	assert.Equal(t, "y", p.Evict())
	assert.Equal(t, "z", p.Evict())
	assert.Equal(t, "", p.Evict())
}

func TestOldestWriteRewriteRenewsPosition(t *testing.T) {
	p := New(OldestWrite)

	p.OnPut("a")
	p.OnPut("b")
	p.OnPut("a") // refresh: a is now the newest write

	assert.Equal(t, "b", p.Evict())
	assert.Equal(t, "a", p.Evict())
}

func TestLRUPromotesOnRead(t *testing.T) {
	p := New(LRU)

	p.OnPut("a")
	p.OnPut("b")
	p.OnPut("c")
	p.OnGet("a")

	assert.Equal(t, "b", p.Evict())
}

func TestRemoveDropsTracking(t *testing.T) {
	p := New(OldestWrite)

	p.OnPut("a")
	p.OnPut("b")
	p.Remove("a")

	assert.Equal(t, 1, p.Len())
	assert.Equal(t, "b", p.Evict())
	assert.Equal(t, "", p.Evict())

	// Removing an untracked key is a no-op.
	p.Remove("ghost")
}
