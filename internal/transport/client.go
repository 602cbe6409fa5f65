package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/davral/epiring/internal/overlay"
	"github.com/davral/epiring/pkg"
)

const connIdleAfter = 30 * time.Second

type pooledConn struct {
	conn     *quic.Conn
	lastUsed time.Time
}

// Client implements overlay.RemoteClient over QUIC. Connections are
// pooled per address and redialed when idle-expired or broken.
type Client struct {
	logger  *pkg.Logger
	tlsConf *tls.Config

	mu     sync.Mutex
	conns  map[string]*pooledConn
	closed bool
}

var _ overlay.RemoteClient = (*Client)(nil)

// NewClient creates a QUIC client for node-to-node RPC.
func NewClient(logger *pkg.Logger) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	tlsConf, err := clientTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}

	return &Client{
		logger:  logger.WithFields(pkg.Fields{"component": "quic_client"}),
		tlsConf: tlsConf,
		conns:   make(map[string]*pooledConn),
	}, nil
}

// Close terminates every pooled connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for addr, ent := range c.conns {
		_ = ent.conn.CloseWithError(0, "client closed")
		delete(c.conns, addr)
	}
	return nil
}

func (c *Client) getConn(ctx context.Context, address string) (*quic.Conn, error) {
	if address == "" {
		return nil, fmt.Errorf("missing address")
	}

	now := time.Now()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, pkg.ErrTransportClosed
	}
	if ent, ok := c.conns[address]; ok {
		if ent.conn.Context().Err() == nil && now.Sub(ent.lastUsed) <= connIdleAfter {
			ent.lastUsed = now
			conn := ent.conn
			c.mu.Unlock()
			return conn, nil
		}
		delete(c.conns, address)
		stale := ent.conn
		c.mu.Unlock()
		_ = stale.CloseWithError(0, "stale")
	} else {
		c.mu.Unlock()
	}

	conn, err := quic.DialAddr(ctx, address, c.tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.CloseWithError(0, "client closed")
		return nil, pkg.ErrTransportClosed
	}
	c.conns[address] = &pooledConn{conn: conn, lastUsed: now}
	c.mu.Unlock()

	return conn, nil
}

func (c *Client) drop(address string, conn *quic.Conn, reason string) {
	c.mu.Lock()
	if ent, ok := c.conns[address]; ok && ent.conn == conn {
		delete(c.conns, address)
	}
	c.mu.Unlock()
	_ = conn.CloseWithError(0, reason)
}

// roundTrip sends one request envelope on a fresh stream and reads the
// single reply envelope. A transport failure drops the pooled connection
// so the next call redials.
func (c *Client) roundTrip(ctx context.Context, address string, request []byte) (*envelope, error) {
	conn, err := c.getConn(ctx, address)
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		c.drop(address, conn, "open stream failed")
		return nil, fmt.Errorf("open stream to %s: %w", address, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}

	if _, err := stream.Write(request); err != nil {
		c.drop(address, conn, "write failed")
		return nil, fmt.Errorf("write to %s: %w", address, err)
	}
	// Half-close signals end-of-request; the reply arrives on the same stream.
	if err := stream.Close(); err != nil {
		c.drop(address, conn, "close failed")
		return nil, fmt.Errorf("close stream to %s: %w", address, err)
	}

	data, err := io.ReadAll(stream)
	if err != nil {
		c.drop(address, conn, "read failed")
		return nil, fmt.Errorf("read from %s: %w", address, err)
	}

	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	if env.Type == msgError {
		var rep errorReply
		if err := env.decodePayload(&rep); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("remote %s: %s", address, rep.Error)
	}
	return env, nil
}

// call performs a request/reply exchange and verifies the reply type.
func (c *Client) call(ctx context.Context, address string, reqType msgType, payload any, replyType msgType) (*envelope, error) {
	request, err := encodeMessage(reqType, payload)
	if err != nil {
		return nil, err
	}

	env, err := c.roundTrip(ctx, address, request)
	if err != nil {
		return nil, err
	}
	if env.Type != replyType {
		return nil, fmt.Errorf("unexpected reply %q to %s", env.Type, reqType)
	}
	return env, nil
}

// FindNode asks a remote node for the closest nodes it knows to target.
func (c *Client) FindNode(ctx context.Context, address string, target *big.Int) (*overlay.FindNodeResult, error) {
	env, err := c.call(ctx, address, msgFindNode, findNodeRequest{Target: target.Text(16)}, msgFindNodeOK)
	if err != nil {
		return nil, err
	}

	var rep findNodeReply
	if err := env.decodePayload(&rep); err != nil {
		return nil, err
	}

	source, err := rep.Source.toHandle()
	if err != nil {
		return nil, err
	}
	closest, err := toHandles(rep.ClosestNodes)
	if err != nil {
		return nil, err
	}

	return &overlay.FindNodeResult{
		Source:       source,
		ClosestNodes: closest,
		IsOwner:      rep.Owner,
	}, nil
}

// Ping checks liveness of a remote node.
func (c *Client) Ping(ctx context.Context, address string, message string) (string, error) {
	env, err := c.call(ctx, address, msgPing, pingRequest{Message: message}, msgPong)
	if err != nil {
		return "", err
	}

	var rep pingReply
	if err := env.decodePayload(&rep); err != nil {
		return "", err
	}
	return rep.Message, nil
}

// Notify tells a remote node that we may be one of its neighbors.
func (c *Client) Notify(ctx context.Context, address string, node *overlay.NodeHandle) error {
	_, err := c.call(ctx, address, msgNotify, notifyRequest{Node: fromHandle(node)}, msgAck)
	return err
}

// Neighbors fetches a remote node's current predecessor and successor lists.
func (c *Client) Neighbors(ctx context.Context, address string) ([]*overlay.NodeHandle, []*overlay.NodeHandle, error) {
	env, err := c.call(ctx, address, msgNeighbors, nil, msgNeighborsOK)
	if err != nil {
		return nil, nil, err
	}

	var rep neighborsReply
	if err := env.decodePayload(&rep); err != nil {
		return nil, nil, err
	}

	predecessors, err := toHandles(rep.Predecessors)
	if err != nil {
		return nil, nil, err
	}
	successors, err := toHandles(rep.Successors)
	if err != nil {
		return nil, nil, err
	}
	return predecessors, successors, nil
}

// FalseNegWarning tells a remote node that some of its cached pointers
// refer to dead peers.
func (c *Client) FalseNegWarning(ctx context.Context, address string, predecessor, successor *overlay.NodeHandle, dead []*overlay.NodeHandle) error {
	req := falseNegWarningRequest{
		Predecessor: fromHandle(predecessor),
		Successor:   fromHandle(successor),
		Dead:        fromHandles(dead),
	}
	_, err := c.call(ctx, address, msgFalseNegWarning, req, msgAck)
	return err
}

// Get retrieves a value from a remote node.
func (c *Client) Get(ctx context.Context, address string, key string) ([]byte, bool, error) {
	env, err := c.call(ctx, address, msgGet, getRequest{Key: key}, msgGetOK)
	if err != nil {
		return nil, false, err
	}

	var rep getReply
	if err := env.decodePayload(&rep); err != nil {
		return nil, false, err
	}
	return rep.Value, rep.Found, nil
}

// Set stores a value on a remote node.
func (c *Client) Set(ctx context.Context, address string, key string, value []byte, ttl time.Duration) error {
	_, err := c.call(ctx, address, msgSet, setRequest{Key: key, Value: value, TTL: ttl}, msgAck)
	return err
}

// Delete removes a value from a remote node.
func (c *Client) Delete(ctx context.Context, address string, key string) error {
	_, err := c.call(ctx, address, msgDelete, deleteRequest{Key: key}, msgAck)
	return err
}
