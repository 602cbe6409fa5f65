package overlay

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func neighborHandle(key int64) *NodeHandle {
	return NewNodeHandle(big.NewInt(key), "127.0.0.1", int(key))
}

func TestNeighborList_Successors(t *testing.T) {
	// Local node 100: clockwise neighbors in tightening order are 110,
	// 130, 150.
	list := NewNeighborList(big.NewInt(100), SideSuccessor, 2)

	list.Observe(neighborHandle(150))
	list.Observe(neighborHandle(110))
	list.Observe(neighborHandle(130))

	t.Run("tightest first and trimmed to size", func(t *testing.T) {
		handles := list.Handles()
		require.Len(t, handles, 2)
		assert.True(t, handles[0].Equals(neighborHandle(110)))
		assert.True(t, handles[1].Equals(neighborHandle(130)))
	})

	t.Run("head is the tightest", func(t *testing.T) {
		assert.True(t, list.Head().Equals(neighborHandle(110)))
	})

	t.Run("duplicates ignored", func(t *testing.T) {
		list.Observe(neighborHandle(110))
		assert.Equal(t, 2, list.Len())
	})

	t.Run("local node never recorded", func(t *testing.T) {
		list.Observe(neighborHandle(100))
		assert.Equal(t, 2, list.Len())
	})

	t.Run("remove promotes the next tightest", func(t *testing.T) {
		assert.True(t, list.Remove(neighborHandle(110)))
		assert.True(t, list.Head().Equals(neighborHandle(130)))
		assert.False(t, list.Remove(neighborHandle(110)))
	})
}

func TestNeighborList_Predecessors(t *testing.T) {
	// Counter-clockwise from 100: 90 is tighter than 10, and a peer past
	// zero still counts via wraparound.
	list := NewNeighborList(big.NewInt(100), SidePredecessor, 3)

	list.Observe(neighborHandle(10))
	list.Observe(neighborHandle(90))

	handles := list.Handles()
	require.Len(t, handles, 2)
	assert.True(t, handles[0].Equals(neighborHandle(90)))
	assert.True(t, handles[1].Equals(neighborHandle(10)))

	t.Run("wraparound distance", func(t *testing.T) {
		big160 := new(big.Int).Lsh(big.NewInt(1), 160)
		wrapped := NewNodeHandle(new(big.Int).Sub(big160, big.NewInt(5)), "127.0.0.1", 9)

		list.Observe(wrapped)
		assert.Equal(t, 3, list.Len())
		// 2^160-5 is 105 counter-clockwise steps from 100, the loosest of
		// the three.
		handles := list.Handles()
		assert.True(t, handles[2].Equals(wrapped))
	})
}

func TestNeighborList_Empty(t *testing.T) {
	list := NewNeighborList(big.NewInt(100), SideSuccessor, 2)
	assert.Nil(t, list.Head())
	assert.Empty(t, list.Handles())
	assert.False(t, list.Remove(neighborHandle(1)))
	list.Observe(nil)
	assert.Equal(t, 0, list.Len())
}
