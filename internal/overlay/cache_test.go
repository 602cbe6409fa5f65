package overlay

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointerCache(t *testing.T) {
	cache := NewPointerCache(time.Minute)
	h1 := NewNodeHandle(big.NewInt(10), "127.0.0.1", 10)
	h2 := NewNodeHandle(big.NewInt(20), "127.0.0.1", 20)

	t.Run("learn and list", func(t *testing.T) {
		cache.Learn(h1)
		cache.LearnAll([]*NodeHandle{h2, nil})
		assert.Equal(t, 2, cache.Len())

		handles := cache.Handles()
		require.Len(t, handles, 2)
	})

	t.Run("relearning refreshes instead of duplicating", func(t *testing.T) {
		cache.Learn(h1)
		assert.Equal(t, 2, cache.Len())
	})

	t.Run("remove", func(t *testing.T) {
		assert.True(t, cache.Remove(h1))
		assert.False(t, cache.Remove(h1))
		assert.Equal(t, 1, cache.Len())
	})
}

func TestPointerCache_Expiry(t *testing.T) {
	cache := NewPointerCache(10 * time.Millisecond)
	h := NewNodeHandle(big.NewInt(10), "127.0.0.1", 10)

	cache.Learn(h)
	assert.Equal(t, 1, cache.Len())

	time.Sleep(20 * time.Millisecond)

	t.Run("expired entries are hidden", func(t *testing.T) {
		assert.Equal(t, 0, cache.Len())
		assert.Empty(t, cache.Handles())
	})

	t.Run("purge drops them", func(t *testing.T) {
		assert.Equal(t, 1, cache.Purge())
		assert.Equal(t, 0, cache.Purge())
	})

	t.Run("relearning resurrects", func(t *testing.T) {
		cache.Learn(h)
		assert.Equal(t, 1, cache.Len())
	})
}
