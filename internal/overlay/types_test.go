package overlay

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeHandle(t *testing.T) {
	h := NewNodeHandle(big.NewInt(0xabcd), "192.168.1.1", 9000)

	t.Run("id is copied on construction", func(t *testing.T) {
		id := big.NewInt(7)
		made := NewNodeHandle(id, "h", 1)
		id.Add(id, big.NewInt(1))
		assert.Equal(t, int64(7), made.ID.Int64())
	})

	t.Run("nil id becomes zero", func(t *testing.T) {
		made := NewNodeHandle(nil, "h", 1)
		assert.NotNil(t, made.ID)
		assert.Equal(t, int64(0), made.ID.Int64())
	})

	t.Run("address format", func(t *testing.T) {
		assert.Equal(t, "192.168.1.1:9000", h.Address())
		var nilHandle *NodeHandle
		assert.Equal(t, "", nilHandle.Address())
	})

	t.Run("equals compares by value", func(t *testing.T) {
		same := NewNodeHandle(big.NewInt(0xabcd), "192.168.1.1", 9000)
		assert.True(t, h.Equals(same))
		assert.False(t, h.Equals(NewNodeHandle(big.NewInt(0xabcd), "192.168.1.1", 9001)))
		assert.False(t, h.Equals(NewNodeHandle(big.NewInt(0xabce), "192.168.1.1", 9000)))
		assert.False(t, h.Equals(nil))

		var a, b *NodeHandle
		assert.True(t, a.Equals(b))
	})

	t.Run("copy is deep", func(t *testing.T) {
		cp := h.Copy()
		cp.ID.Add(cp.ID, big.NewInt(1))
		cp.Port = 1
		assert.Equal(t, int64(0xabcd), h.ID.Int64())
		assert.Equal(t, 9000, h.Port)
	})

	t.Run("isnil", func(t *testing.T) {
		var nilHandle *NodeHandle
		assert.True(t, nilHandle.IsNil())
		assert.True(t, (&NodeHandle{}).IsNil())
		assert.False(t, h.IsNil())
	})

	t.Run("short id", func(t *testing.T) {
		assert.Equal(t, "abcd", shortID(h))
		long := NewNodeHandle(new(big.Int).Lsh(big.NewInt(1), 100), "h", 1)
		assert.Len(t, shortID(long), 8)
		assert.Equal(t, "nil", shortID(nil))
	})
}
