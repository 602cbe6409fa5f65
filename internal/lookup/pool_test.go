package lookup

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidatePool_Add(t *testing.T) {
	pool := newCandidatePool(big.NewInt(25), 3)

	t.Run("new handle", func(t *testing.T) {
		entry := pool.add(testHandle(10))
		require.NotNil(t, entry)
		assert.True(t, entry.handle.Equals(testHandle(10)))
		assert.False(t, entry.used)
		assert.False(t, entry.visited)
		assert.False(t, entry.dead)
	})

	t.Run("duplicate returns existing entry", func(t *testing.T) {
		first := pool.find(testHandle(10))
		again := pool.add(testHandle(10))
		assert.Same(t, first, again)
		assert.Len(t, pool.entries, 1)
	})

	t.Run("nil handle ignored", func(t *testing.T) {
		assert.Nil(t, pool.add(nil))
	})

	t.Run("beyond capacity dropped", func(t *testing.T) {
		pool.add(testHandle(20))
		pool.add(testHandle(30))
		assert.Nil(t, pool.add(testHandle(40)))
		assert.Len(t, pool.entries, 3)
	})

	t.Run("known handle still found at capacity", func(t *testing.T) {
		assert.NotNil(t, pool.add(testHandle(20)))
	})
}

func TestCandidatePool_Flags(t *testing.T) {
	pool := newCandidatePool(big.NewInt(25), 8)
	pool.add(testHandle(10))
	pool.add(testHandle(20))

	t.Run("visited implies used", func(t *testing.T) {
		pool.markVisited(testHandle(10))
		entry := pool.find(testHandle(10))
		assert.True(t, entry.used)
		assert.True(t, entry.visited)
		assert.True(t, pool.isVisited(testHandle(10)))
	})

	t.Run("dead implies used", func(t *testing.T) {
		pool.markDead(testHandle(20))
		entry := pool.find(testHandle(20))
		assert.True(t, entry.used)
		assert.True(t, entry.dead)
		assert.True(t, pool.isDead(testHandle(20)))
	})

	t.Run("unknown handles are neither", func(t *testing.T) {
		assert.False(t, pool.isDead(testHandle(99)))
		assert.False(t, pool.isVisited(testHandle(99)))
		pool.markDead(testHandle(99)) // no-op
		assert.Len(t, pool.entries, 2)
	})

	t.Run("deadHandles lists every dead entry", func(t *testing.T) {
		dead := pool.deadHandles()
		require.Len(t, dead, 1)
		assert.True(t, dead[0].Equals(testHandle(20)))
	})
}

func TestCandidatePool_DirectionalScans(t *testing.T) {
	// Target 25 with candidates on both sides: 10 and 20 precede it, 30
	// and 40 succeed it in ring order.
	pool := newCandidatePool(big.NewInt(25), 8)
	for _, key := range []int64{10, 20, 30, 40} {
		pool.add(testHandle(key))
	}

	t.Run("preceding picks the tightest predecessor", func(t *testing.T) {
		entry := pool.preceding(true, true)
		require.NotNil(t, entry)
		assert.True(t, entry.handle.Equals(testHandle(20)))
	})

	t.Run("succeeding picks the tightest successor", func(t *testing.T) {
		entry := pool.succeeding(true, true)
		require.NotNil(t, entry)
		assert.True(t, entry.handle.Equals(testHandle(30)))
	})

	t.Run("dead entries can be excluded", func(t *testing.T) {
		pool.markDead(testHandle(30))
		entry := pool.succeeding(false, true)
		require.NotNil(t, entry)
		assert.True(t, entry.handle.Equals(testHandle(40)))
	})

	t.Run("used entries can be excluded", func(t *testing.T) {
		pool.markVisited(testHandle(20))
		entry := pool.preceding(true, false)
		require.NotNil(t, entry)
		assert.True(t, entry.handle.Equals(testHandle(10)))
	})

	t.Run("entry at the target never precedes it", func(t *testing.T) {
		lone := newCandidatePool(big.NewInt(25), 2)
		lone.add(testHandle(25))
		assert.Nil(t, lone.preceding(true, true))
	})

	t.Run("empty pool yields nothing", func(t *testing.T) {
		empty := newCandidatePool(big.NewInt(25), 2)
		assert.Nil(t, empty.preceding(true, true))
		assert.Nil(t, empty.succeeding(true, true))
	})
}

func TestCandidatePool_ClosestUnused(t *testing.T) {
	pool := newCandidatePool(big.NewInt(25), 8)
	for _, key := range []int64{18, 24, 30, 40} {
		pool.add(testHandle(key))
	}

	t.Run("smallest absolute distance wins", func(t *testing.T) {
		entry := pool.closestUnused()
		require.NotNil(t, entry)
		assert.True(t, entry.handle.Equals(testHandle(24)))
	})

	t.Run("used and dead entries are skipped", func(t *testing.T) {
		pool.markVisited(testHandle(24))
		pool.markDead(testHandle(30))
		entry := pool.closestUnused()
		require.NotNil(t, entry)
		assert.True(t, entry.handle.Equals(testHandle(18)))
	})

	t.Run("exhausted pool yields nothing", func(t *testing.T) {
		pool.markVisited(testHandle(18))
		pool.markVisited(testHandle(40))
		assert.Nil(t, pool.closestUnused())
	})
}
