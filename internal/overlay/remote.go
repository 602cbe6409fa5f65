package overlay

import (
	"context"
	"math/big"
	"time"
)

// FindNodeResult carries a peer's answer to a FindNode probe: its own
// identity and the closest nodes it knows for the target.
//
// The ClosestNodes list has a fixed layout. When the responder believes it
// is responsible for the target it reports itself first:
//
//	[0] the responder itself
//	[1] the responder's predecessor
//	[2] the responder's successor
//
// followed by further close nodes. Otherwise the list is simply ordered
// best-first by ring distance to the target.
type FindNodeResult struct {
	Source       *NodeHandle
	ClosestNodes []*NodeHandle

	// IsOwner is the responder's explicit assertion that the target lies in
	// its own key range. Positional self-claims in ClosestNodes are weaker
	// evidence and may be stale; only IsOwner concludes a lookup directly.
	IsOwner bool
}

// RemoteClient defines the interface for making remote calls to other
// overlay nodes. It decouples the node and lookup logic from the transport
// layer, avoiding circular dependencies.
type RemoteClient interface {
	// FindNode asks a remote node for the closest nodes it knows to target.
	FindNode(ctx context.Context, address string, target *big.Int) (*FindNodeResult, error)

	// Ping checks liveness of a remote node.
	Ping(ctx context.Context, address string, message string) (string, error)

	// Notify tells a remote node that we may be one of its neighbors.
	Notify(ctx context.Context, address string, node *NodeHandle) error

	// Neighbors fetches a remote node's current predecessor and successor lists.
	Neighbors(ctx context.Context, address string) (predecessors, successors []*NodeHandle, err error)

	// FalseNegWarning tells a remote node that some of its cached pointers
	// refer to dead peers. Fire-and-forget: callers ignore delivery failures.
	FalseNegWarning(ctx context.Context, address string, predecessor, successor *NodeHandle, dead []*NodeHandle) error

	// Get retrieves a value from a remote node.
	Get(ctx context.Context, address string, key string) ([]byte, bool, error)

	// Set stores a value on a remote node.
	Set(ctx context.Context, address string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from a remote node.
	Delete(ctx context.Context, address string, key string) error
}
