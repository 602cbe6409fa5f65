package overlay

import (
	"math/big"
	"sort"
	"sync"

	"github.com/davral/epiring/pkg/hash"
)

// RingSide selects which direction a NeighborList orders by.
type RingSide int

const (
	// SideSuccessor orders by clockwise distance from the local node.
	SideSuccessor RingSide = iota
	// SidePredecessor orders by counter-clockwise distance from the local node.
	SidePredecessor
)

// NeighborList maintains up to size peers on one side of the local node,
// ordered tightest-first. Observations only ever tighten the list; a peer
// is removed only when it is reported dead.
type NeighborList struct {
	mu      sync.RWMutex
	localID *big.Int
	side    RingSide
	size    int
	nodes   []*NodeHandle
}

// NewNeighborList creates an empty list for one ring side.
func NewNeighborList(localID *big.Int, side RingSide, size int) *NeighborList {
	return &NeighborList{
		localID: new(big.Int).Set(localID),
		side:    side,
		size:    size,
		nodes:   make([]*NodeHandle, 0, size),
	}
}

// distance returns how far h is from the local node in this list's direction.
func (l *NeighborList) distance(h *NodeHandle) *big.Int {
	if l.side == SideSuccessor {
		return hash.Distance(l.localID, h.ID)
	}
	return hash.Distance(h.ID, l.localID)
}

// Observe records a peer. The list stays sorted tightest-first and is
// trimmed to its configured size. The local node itself is never recorded.
func (l *NeighborList) Observe(h *NodeHandle) {
	if h.IsNil() || h.ID.Cmp(l.localID) == 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, existing := range l.nodes {
		if existing.Equals(h) {
			return
		}
	}

	l.nodes = append(l.nodes, h.Copy())
	sort.SliceStable(l.nodes, func(i, j int) bool {
		return l.distance(l.nodes[i]).Cmp(l.distance(l.nodes[j])) < 0
	})

	if len(l.nodes) > l.size {
		l.nodes = l.nodes[:l.size]
	}
}

// Head returns the tightest peer on this side, or nil if none is known.
func (l *NeighborList) Head() *NodeHandle {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.nodes) == 0 {
		return nil
	}
	return l.nodes[0].Copy()
}

// Handles returns a copy of the list, tightest-first.
func (l *NeighborList) Handles() []*NodeHandle {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*NodeHandle, len(l.nodes))
	for i, n := range l.nodes {
		out[i] = n.Copy()
	}
	return out
}

// Remove drops a peer from the list. Returns true if it was present.
func (l *NeighborList) Remove(h *NodeHandle) bool {
	if h.IsNil() {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for i, existing := range l.nodes {
		if existing.Equals(h) {
			l.nodes = append(l.nodes[:i], l.nodes[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of peers currently tracked.
func (l *NeighborList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.nodes)
}
