package overlay

import (
	"fmt"
	"math/big"
)

// NodeHandle identifies one overlay peer by its ring key and contact
// address. Handles are immutable once observed and compared by value: two
// handles with equal key, host and port are the same peer.
type NodeHandle struct {
	ID   *big.Int // Ring key (0 to 2^M - 1)
	Host string   // Network host (IP address or hostname)
	Port int      // Network port
}

// NewNodeHandle creates a new NodeHandle with the given parameters.
// The ID is copied to prevent external modification.
func NewNodeHandle(id *big.Int, host string, port int) *NodeHandle {
	if id == nil {
		return &NodeHandle{
			ID:   new(big.Int),
			Host: host,
			Port: port,
		}
	}
	return &NodeHandle{
		ID:   new(big.Int).Set(id),
		Host: host,
		Port: port,
	}
}

// String returns a human-readable representation of the handle.
// Format: "NodeHandle{ID: <hex>, Addr: <host>:<port>}"
func (n *NodeHandle) String() string {
	if n == nil {
		return "NodeHandle{nil}"
	}
	return fmt.Sprintf("NodeHandle{ID: %s, Addr: %s:%d}",
		n.ID.Text(16), n.Host, n.Port)
}

// Address returns the network address in "host:port" format.
func (n *NodeHandle) Address() string {
	if n == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// Equals checks if two handles refer to the same peer.
func (n *NodeHandle) Equals(other *NodeHandle) bool {
	if n == nil && other == nil {
		return true
	}
	if n == nil || other == nil {
		return false
	}
	if n.ID == nil && other.ID == nil {
		return n.Host == other.Host && n.Port == other.Port
	}
	if n.ID == nil || other.ID == nil {
		return false
	}
	return n.ID.Cmp(other.ID) == 0 &&
		n.Host == other.Host &&
		n.Port == other.Port
}

// Copy creates a deep copy of the handle.
func (n *NodeHandle) Copy() *NodeHandle {
	if n == nil {
		return nil
	}
	return NewNodeHandle(n.ID, n.Host, n.Port)
}

// IsNil checks if the handle is nil or has a nil key.
func (n *NodeHandle) IsNil() bool {
	return n == nil || n.ID == nil
}

// shortID truncates a handle's hex key for log output.
func shortID(n *NodeHandle) string {
	if n.IsNil() {
		return "nil"
	}
	hexStr := n.ID.Text(16)
	if len(hexStr) > 8 {
		return hexStr[:8]
	}
	return hexStr
}
