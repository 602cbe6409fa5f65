package transport

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davral/epiring/internal/overlay"
)

func TestEnvelope(t *testing.T) {
	t.Run("round trip with payload", func(t *testing.T) {
		data, err := encodeMessage(msgFindNode, findNodeRequest{Target: "ff"})
		require.NoError(t, err)

		env, err := decodeEnvelope(data)
		require.NoError(t, err)
		assert.Equal(t, msgFindNode, env.Type)

		var req findNodeRequest
		require.NoError(t, env.decodePayload(&req))
		assert.Equal(t, "ff", req.Target)
	})

	t.Run("round trip without payload", func(t *testing.T) {
		data, err := encodeMessage(msgAck, nil)
		require.NoError(t, err)

		env, err := decodeEnvelope(data)
		require.NoError(t, err)
		assert.Equal(t, msgAck, env.Type)
		assert.Error(t, env.decodePayload(&struct{}{}))
	})

	t.Run("missing type rejected", func(t *testing.T) {
		_, err := decodeEnvelope([]byte(`{"payload":{}}`))
		assert.Error(t, err)
	})

	t.Run("malformed json rejected", func(t *testing.T) {
		_, err := decodeEnvelope([]byte(`{not json`))
		assert.Error(t, err)
	})
}

func TestWireHandle(t *testing.T) {
	original := overlay.NewNodeHandle(big.NewInt(0xbeef), "10.0.0.7", 4100)

	t.Run("round trip", func(t *testing.T) {
		w := fromHandle(original)
		assert.Equal(t, "beef", w.ID)

		h, err := w.toHandle()
		require.NoError(t, err)
		assert.True(t, h.Equals(original))
		assert.Equal(t, "10.0.0.7", h.Host)
		assert.Equal(t, 4100, h.Port)
	})

	t.Run("nil handle maps to empty", func(t *testing.T) {
		w := fromHandle(nil)
		assert.Empty(t, w.ID)

		_, err := w.toHandle()
		assert.Error(t, err)
	})

	t.Run("invalid id rejected", func(t *testing.T) {
		_, err := wireHandle{ID: "zz", Host: "h", Port: 1}.toHandle()
		assert.Error(t, err)
	})

	t.Run("nil entries are skipped in lists", func(t *testing.T) {
		wires := fromHandles([]*overlay.NodeHandle{original, nil})
		require.Len(t, wires, 1)

		handles, err := toHandles(wires)
		require.NoError(t, err)
		require.Len(t, handles, 1)
		assert.True(t, handles[0].Equals(original))
	})
}

func TestFindNodeReply_Layout(t *testing.T) {
	// A responder that claims the target reports itself first, then its
	// predecessor and successor. The decoded list must preserve order.
	self := overlay.NewNodeHandle(big.NewInt(30), "127.0.0.1", 30)
	pred := overlay.NewNodeHandle(big.NewInt(20), "127.0.0.1", 20)
	succ := overlay.NewNodeHandle(big.NewInt(40), "127.0.0.1", 40)

	data, err := encodeMessage(msgFindNodeOK, findNodeReply{
		Source:       fromHandle(self),
		ClosestNodes: fromHandles([]*overlay.NodeHandle{self, pred, succ}),
		Owner:        true,
	})
	require.NoError(t, err)

	env, err := decodeEnvelope(data)
	require.NoError(t, err)

	var rep findNodeReply
	require.NoError(t, env.decodePayload(&rep))
	assert.True(t, rep.Owner)

	handles, err := toHandles(rep.ClosestNodes)
	require.NoError(t, err)
	require.Len(t, handles, 3)
	assert.True(t, handles[0].Equals(self))
	assert.True(t, handles[1].Equals(pred))
	assert.True(t, handles[2].Equals(succ))
}
