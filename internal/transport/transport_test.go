package transport

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davral/epiring/internal/config"
	"github.com/davral/epiring/internal/overlay"
	"github.com/davral/epiring/pkg"
	"github.com/davral/epiring/pkg/hash"
)

// startLoopback brings up a full QUIC server on an ephemeral port and a
// client dialing it, backed by a real overlay node.
func startLoopback(t *testing.T) (*overlay.Node, *Server, *Client) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Port = 8470

	logger, err := pkg.New(pkg.DefaultConfig())
	require.NoError(t, err)

	node, err := overlay.NewNode(cfg, logger)
	require.NoError(t, err)

	server, err := NewServer(node, "127.0.0.1:0", logger)
	require.NoError(t, err)
	require.NoError(t, server.Start())

	client, err := NewClient(logger)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Stop()
		_ = node.Shutdown()
	})

	return node, server, client
}

// relativeHandle builds a handle offset clockwise from the node's own key.
func relativeHandle(n *overlay.Node, offset int64, port int) *overlay.NodeHandle {
	id := new(big.Int).Add(n.ID(), big.NewInt(offset))
	id.Mod(id, hash.RingSize())
	return overlay.NewNodeHandle(id, "10.0.0.1", port)
}

func callCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestTransport_Loopback(t *testing.T) {
	node, server, client := startLoopback(t)
	addr := server.Addr()

	t.Run("ping round trip", func(t *testing.T) {
		reply, err := client.Ping(callCtx(t), addr, "hello")
		require.NoError(t, err)
		assert.Equal(t, "hello", reply)
	})

	t.Run("find node for owned target", func(t *testing.T) {
		res, err := client.FindNode(callCtx(t), addr, node.ID())
		require.NoError(t, err)

		assert.True(t, res.IsOwner)
		assert.True(t, res.Source.Equals(node.Handle()))
		require.NotEmpty(t, res.ClosestNodes)
		assert.True(t, res.ClosestNodes[0].Equals(node.Handle()))
	})

	t.Run("notify updates the ring view", func(t *testing.T) {
		h := relativeHandle(node, 10, 1)
		require.NoError(t, client.Notify(callCtx(t), addr, h))
		assert.True(t, node.Successor().Equals(h))
	})

	t.Run("neighbors reflect learned nodes", func(t *testing.T) {
		_, successors, err := client.Neighbors(callCtx(t), addr)
		require.NoError(t, err)
		require.NotEmpty(t, successors)
		assert.True(t, successors[0].Equals(relativeHandle(node, 10, 1)))
	})

	t.Run("false negative warning purges dead peers", func(t *testing.T) {
		dead := relativeHandle(node, 20, 2)
		node.Learn(dead)

		pred := relativeHandle(node, -50, 3)
		succ := relativeHandle(node, 50, 4)
		require.NoError(t, client.FalseNegWarning(callCtx(t), addr, pred, succ, []*overlay.NodeHandle{dead}))

		for _, h := range node.Candidates(dead.ID, 10) {
			assert.False(t, h.Equals(dead))
		}
	})

	t.Run("key value round trip", func(t *testing.T) {
		ctx := callCtx(t)
		require.NoError(t, client.Set(ctx, addr, "alpha", []byte("one"), 0))

		value, found, err := client.Get(ctx, addr, "alpha")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("one"), value)

		require.NoError(t, client.Delete(ctx, addr, "alpha"))
		_, found, err = client.Get(ctx, addr, "alpha")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("remote errors surface to the caller", func(t *testing.T) {
		err := client.Notify(callCtx(t), addr, nil)
		assert.Error(t, err)
	})

	t.Run("connection is pooled across calls", func(t *testing.T) {
		_, err := client.Ping(callCtx(t), addr, "again")
		require.NoError(t, err)

		client.mu.Lock()
		pooled := len(client.conns)
		client.mu.Unlock()
		assert.Equal(t, 1, pooled)
	})
}

func TestClient_ClosedClientRejectsCalls(t *testing.T) {
	logger, err := pkg.New(pkg.DefaultConfig())
	require.NoError(t, err)

	client, err := NewClient(logger)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = client.Ping(callCtx(t), "127.0.0.1:1", "hello")
	assert.ErrorIs(t, err, pkg.ErrTransportClosed)
}

func TestDevTLSCert_Deterministic(t *testing.T) {
	_, der1, err := devTLSCert()
	require.NoError(t, err)
	_, der2, err := devTLSCert()
	require.NoError(t, err)

	// Peers pin the raw bytes, so every node must derive the same DER.
	assert.Equal(t, der1, der2)
}
