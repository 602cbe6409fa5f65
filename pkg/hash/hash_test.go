package hash

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashKey(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		check func(*testing.T, *big.Int)
	}{
		{
			name: "deterministic",
			data: []byte("test"),
			check: func(t *testing.T, id *big.Int) {
				id2 := HashKey([]byte("test"))
				assert.Equal(t, id, id2, "same input should produce same hash")
			},
		},
		{
			name: "different inputs produce different hashes",
			data: []byte("test1"),
			check: func(t *testing.T, id *big.Int) {
				id2 := HashKey([]byte("test2"))
				assert.NotEqual(t, id, id2)
			},
		},
		{
			name: "empty data",
			data: []byte{},
			check: func(t *testing.T, id *big.Int) {
				assert.NotNil(t, id)
			},
		},
		{
			name: "valid range",
			data: []byte("test"),
			check: func(t *testing.T, id *big.Int) {
				assert.True(t, IsValidID(id))
				assert.True(t, id.Cmp(zero) >= 0)
				assert.True(t, id.Cmp(ringSize) < 0)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := HashKey(tt.data)
			require.NotNil(t, id)
			tt.check(t, id)
		})
	}
}

func TestHashAddress(t *testing.T) {
	t.Run("consistent for same address", func(t *testing.T) {
		id1 := HashAddress("127.0.0.1", 8440)
		id2 := HashAddress("127.0.0.1", 8440)
		assert.Equal(t, id1, id2)
	})

	t.Run("different ports differ", func(t *testing.T) {
		id1 := HashAddress("127.0.0.1", 8440)
		id2 := HashAddress("127.0.0.1", 8441)
		assert.NotEqual(t, id1, id2)
	})

	t.Run("matches the host:port string hash", func(t *testing.T) {
		assert.Equal(t, HashString("10.0.0.2:9000"), HashAddress("10.0.0.2", 9000))
	})
}

func TestInRange(t *testing.T) {
	tests := []struct {
		name             string
		id, start, end   int64
		expected         bool
	}{
		{"inside normal range", 5, 3, 7, true},
		{"exclusive start", 3, 3, 7, false},
		{"inclusive end", 7, 3, 7, true},
		{"outside normal range", 8, 3, 7, false},
		{"wraparound low side", 1, 8, 3, true},
		{"wraparound high side", 9, 8, 3, true},
		{"wraparound outside", 5, 8, 3, false},
		{"full ring when start equals end", 5, 3, 3, true},
		{"start itself excluded when start equals end", 3, 3, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InRange(big.NewInt(tt.id), big.NewInt(tt.start), big.NewInt(tt.end))
			assert.Equal(t, tt.expected, got)
		})
	}

	t.Run("nil arguments", func(t *testing.T) {
		assert.False(t, InRange(nil, big.NewInt(1), big.NewInt(2)))
		assert.False(t, InRange(big.NewInt(1), nil, big.NewInt(2)))
		assert.False(t, InRange(big.NewInt(1), big.NewInt(2), nil))
	})
}

func TestBetween(t *testing.T) {
	tests := []struct {
		name             string
		id, start, end   int64
		expected         bool
	}{
		{"inside normal range", 5, 3, 7, true},
		{"start excluded", 3, 3, 7, false},
		{"end excluded", 7, 3, 7, false},
		{"wraparound inside", 1, 8, 3, true},
		{"wraparound end excluded", 3, 8, 3, false},
		{"clockwise walk reaches target first", 25, 20, 40, true},
		{"clockwise walk reaches end first", 45, 20, 40, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Between(big.NewInt(tt.id), big.NewInt(tt.start), big.NewInt(tt.end))
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestDistance(t *testing.T) {
	t.Run("forward distance", func(t *testing.T) {
		d := Distance(big.NewInt(10), big.NewInt(25))
		assert.Equal(t, big.NewInt(15), d)
	})

	t.Run("wraparound distance", func(t *testing.T) {
		d := Distance(big.NewInt(25), big.NewInt(10))
		expected := new(big.Int).Sub(RingSize(), big.NewInt(15))
		assert.Equal(t, expected, d)
	})

	t.Run("zero distance to self", func(t *testing.T) {
		d := Distance(big.NewInt(42), big.NewInt(42))
		assert.Equal(t, 0, d.Sign())
	})

	t.Run("directional metric", func(t *testing.T) {
		a, b := big.NewInt(7), big.NewInt(100)
		sum := new(big.Int).Add(Distance(a, b), Distance(b, a))
		assert.Equal(t, RingSize(), sum)
	})
}

func TestMaxDistance(t *testing.T) {
	max := MaxDistance()
	assert.Equal(t, MaxID(), max)

	// Every real distance on the ring is <= the sentinel.
	d := Distance(big.NewInt(1), big.NewInt(0))
	assert.True(t, d.Cmp(max) <= 0)
}

func TestIsValidID(t *testing.T) {
	assert.True(t, IsValidID(big.NewInt(0)))
	assert.True(t, IsValidID(MaxID()))
	assert.False(t, IsValidID(RingSize()))
	assert.False(t, IsValidID(big.NewInt(-1)))
	assert.False(t, IsValidID(nil))
}
