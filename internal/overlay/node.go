package overlay

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/davral/epiring/internal/config"
	"github.com/davral/epiring/pkg"
	"github.com/davral/epiring/pkg/hash"
)

// LookupRunner runs one iterative lookup for a target key and returns the
// confirmed result set (siblings), tightest first. Implemented by the
// lookup package; injected to avoid a circular dependency.
type LookupRunner interface {
	Lookup(ctx context.Context, target *big.Int) ([]*NodeHandle, error)
}

// Node is one epiring overlay peer: identity, neighbor lists, the
// far-pointer cache, local storage, and the maintenance loops.
type Node struct {
	// Node identity
	id     *big.Int
	handle *NodeHandle

	// Configuration
	config *config.Config

	// Storage
	storage *KVStorage

	// Logger
	logger *pkg.Logger

	// Remote client for RPC calls to other nodes
	remote RemoteClient

	// Lookup runner for iterative key lookups
	lookups LookupRunner

	// Event broadcaster for external observers
	broadcaster EventBroadcaster

	// Ring neighbors, tightest-first per side
	successors   *NeighborList
	predecessors *NeighborList

	// Long-range pointer cache
	cache *PointerCache

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Shutdown flag
	shutdown   bool
	shutdownMu sync.RWMutex
}

// NewNode creates a new overlay node with the given configuration.
func NewNode(cfg *config.Config, logger *pkg.Logger) (*Node, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Compute node ID from address
	nodeID := hash.HashAddress(cfg.Host, cfg.Port)
	handle := NewNodeHandle(nodeID, cfg.Host, cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())

	node := &Node{
		id:           nodeID,
		handle:       handle,
		config:       cfg,
		storage:      NewDefaultKVStorage(),
		logger:       logger.WithFields(pkg.Fields{"node_id": shortID(handle)}),
		broadcaster:  nopBroadcaster{},
		successors:   NewNeighborList(nodeID, SideSuccessor, cfg.NeighborListSize),
		predecessors: NewNeighborList(nodeID, SidePredecessor, cfg.NeighborListSize),
		cache:        NewPointerCache(cfg.CacheTTL),
		ctx:          ctx,
		cancel:       cancel,
	}

	node.logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Msg("Overlay node created")

	return node, nil
}

// ID returns the node's ring key.
func (n *Node) ID() *big.Int {
	return new(big.Int).Set(n.id)
}

// Handle returns the node's own handle.
func (n *Node) Handle() *NodeHandle {
	return n.handle.Copy()
}

// SetRemote sets the remote client for making RPC calls to other nodes.
func (n *Node) SetRemote(remote RemoteClient) {
	n.remote = remote
}

// SetLookups sets the lookup runner used for iterative key lookups.
func (n *Node) SetLookups(lookups LookupRunner) {
	n.lookups = lookups
}

// SetBroadcaster attaches an event broadcaster.
func (n *Node) SetBroadcaster(b EventBroadcaster) {
	if b != nil {
		n.broadcaster = b
	}
}

// Config returns the node's configuration.
func (n *Node) Config() *config.Config {
	return n.config
}

// Predecessor returns the tightest known predecessor, or the node itself
// when no predecessor is known yet.
func (n *Node) Predecessor() *NodeHandle {
	if head := n.predecessors.Head(); head != nil {
		return head
	}
	return n.handle.Copy()
}

// Successor returns the tightest known successor, or the node itself when
// no successor is known yet.
func (n *Node) Successor() *NodeHandle {
	if head := n.successors.Head(); head != nil {
		return head
	}
	return n.handle.Copy()
}

// Learn records an observed handle into the pointer cache and, when it
// tightens a ring side, into the neighbor lists.
func (n *Node) Learn(h *NodeHandle) {
	if h.IsNil() || h.Equals(n.handle) {
		return
	}
	n.cache.Learn(h)
	n.successors.Observe(h)
	n.predecessors.Observe(h)
}

// LearnAll records every handle in the slice.
func (n *Node) LearnAll(handles []*NodeHandle) {
	for _, h := range handles {
		n.Learn(h)
	}
}

// Forget removes a handle from the cache and neighbor lists. Used when a
// peer has been declared dead.
func (n *Node) Forget(h *NodeHandle) bool {
	removed := n.cache.Remove(h)
	if n.successors.Remove(h) {
		removed = true
	}
	if n.predecessors.Remove(h) {
		removed = true
	}
	return removed
}

// IsResponsible reports whether this node owns the target key: the target
// lies in (predecessor, self]. A node with no known predecessor owns
// everything.
func (n *Node) IsResponsible(target *big.Int) bool {
	pred := n.predecessors.Head()
	if pred == nil {
		return true
	}
	return hash.InRange(target, pred.ID, n.id)
}

// ClosestNodes builds the reply to a FindNode probe for target, using the
// fixed layout documented on FindNodeResult: self-first with predecessor
// and successor in positions 1 and 2 when this node owns the target,
// best-first by ring distance otherwise.
func (n *Node) ClosestNodes(target *big.Int, count int) []*NodeHandle {
	if count <= 0 {
		count = n.config.RedundantNodes
	}

	if n.IsResponsible(target) {
		out := []*NodeHandle{n.handle.Copy()}
		if pred := n.predecessors.Head(); pred != nil {
			out = append(out, pred)
		}
		if succ := n.successors.Head(); succ != nil {
			out = append(out, succ)
		}
		return out
	}

	return n.Candidates(target, count)
}

// Candidates returns up to count known handles ordered best-first by ring
// distance to target, excluding this node itself. Used both for
// non-responsible FindNode replies and to seed local lookups.
func (n *Node) Candidates(target *big.Int, count int) []*NodeHandle {
	seen := make(map[string]*NodeHandle)
	for _, h := range n.cache.Handles() {
		seen[h.Address()] = h
	}
	for _, h := range n.successors.Handles() {
		seen[h.Address()] = h
	}
	for _, h := range n.predecessors.Handles() {
		seen[h.Address()] = h
	}
	delete(seen, n.handle.Address())

	out := make([]*NodeHandle, 0, len(seen))
	for _, h := range seen {
		out = append(out, h)
	}

	sort.SliceStable(out, func(i, j int) bool {
		di := hash.AbsDistance(out[i].ID, target)
		dj := hash.AbsDistance(out[j].ID, target)
		return di.Cmp(dj) < 0
	})

	if len(out) > count {
		out = out[:count]
	}
	return out
}

// Notify handles notification from another node that it exists and may be
// one of our neighbors.
func (n *Node) Notify(h *NodeHandle) {
	n.Learn(h)
}

// Neighbors returns the node's current predecessor and successor lists.
func (n *Node) Neighbors() (predecessors, successors []*NodeHandle) {
	return n.predecessors.Handles(), n.successors.Handles()
}

// CacheStats returns the pointer cache size.
func (n *Node) CacheStats() int {
	return n.cache.Len()
}

// StorageStats returns local storage statistics.
func (n *Node) StorageStats() pkg.Stats {
	return n.storage.Stats()
}

// Create starts a fresh ring with this node as the only member.
func (n *Node) Create() error {
	n.logger.Info().Msg("Creating new ring")

	n.startBackgroundTasks()
	n.broadcastEvent(EventNodeJoin, "ring created")

	return nil
}

// Join joins an existing ring through the given bootstrap address.
func (n *Node) Join(bootstrapAddr string) error {
	if bootstrapAddr == "" {
		return fmt.Errorf("bootstrap address cannot be empty")
	}
	if n.remote == nil {
		return fmt.Errorf("remote client not set - call SetRemote() before Join()")
	}

	n.logger.Info().
		Str("bootstrap", bootstrapAddr).
		Msg("Joining ring")

	ctx, cancel := context.WithTimeout(n.ctx, n.config.RPCTimeout)
	defer cancel()

	// Ask the bootstrap node for the nodes around our own key
	result, err := n.remote.FindNode(ctx, bootstrapAddr, n.id)
	if err != nil {
		return fmt.Errorf("failed to query bootstrap node: %w", err)
	}

	if result.Source != nil {
		n.Learn(result.Source)
	}
	n.LearnAll(result.ClosestNodes)

	// Tell our new successor about us so it can update its predecessor
	if succ := n.successors.Head(); succ != nil {
		if err := n.remote.Notify(ctx, succ.Address(), n.handle); err != nil {
			n.logger.Warn().
				Err(err).
				Str("successor", succ.Address()).
				Msg("Failed to notify successor (will be fixed by stabilization)")
		}
	}

	n.startBackgroundTasks()
	n.broadcastEvent(EventNodeJoin, "joined ring")

	n.logger.Info().Msg("Joined ring successfully")
	return nil
}

// startBackgroundTasks starts the periodic maintenance loops.
func (n *Node) startBackgroundTasks() {
	n.wg.Add(1)
	go n.stabilizeLoop()

	n.wg.Add(1)
	go n.purgeLoop()

	n.logger.Debug().Msg("Background tasks started")
}

// stabilizeLoop periodically refreshes the neighbor lists.
func (n *Node) stabilizeLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.StabilizeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			n.logger.Debug().Msg("Stabilize loop stopped")
			return
		case <-ticker.C:
			if err := n.stabilize(); err != nil {
				n.logger.Error().Err(err).Msg("Stabilization failed")
			}
		}
	}
}

// purgeLoop periodically evicts expired far pointers.
func (n *Node) purgeLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.CachePurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			n.logger.Debug().Msg("Purge loop stopped")
			return
		case <-ticker.C:
			if dropped := n.cache.Purge(); dropped > 0 {
				n.logger.Debug().
					Int("dropped", dropped).
					Msg("Purged expired pointers")
			}
		}
	}
}

// stabilize exchanges neighbor lists with the tightest neighbor on each
// side and re-announces this node to them.
func (n *Node) stabilize() error {
	if n.remote == nil {
		return nil
	}

	for _, neighbor := range []*NodeHandle{n.successors.Head(), n.predecessors.Head()} {
		if neighbor == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(n.ctx, n.config.RPCTimeout)
		preds, succs, err := n.remote.Neighbors(ctx, neighbor.Address())
		cancel()

		if err != nil {
			n.logger.Debug().
				Err(err).
				Str("neighbor", neighbor.Address()).
				Msg("Neighbor unreachable during stabilization")
			n.Forget(neighbor)
			continue
		}

		n.LearnAll(preds)
		n.LearnAll(succs)

		ctx, cancel = context.WithTimeout(n.ctx, n.config.RPCTimeout)
		if err := n.remote.Notify(ctx, neighbor.Address(), n.handle); err != nil {
			n.logger.Debug().
				Err(err).
				Str("neighbor", neighbor.Address()).
				Msg("Failed to notify neighbor")
		}
		cancel()
	}

	return nil
}

// SendFalseNegWarning alerts the bracketing peers of a resolved false
// negative that the listed dead nodes still appear in cached pointers.
// Fire-and-forget: delivery failures are only logged.
func (n *Node) SendFalseNegWarning(predecessor, successor *NodeHandle, dead []*NodeHandle) {
	if n.remote == nil || len(dead) == 0 {
		return
	}

	// Repair our own view first
	for _, d := range dead {
		n.Forget(d)
	}

	n.logger.Info().
		Str("predecessor", shortID(predecessor)).
		Str("successor", shortID(successor)).
		Int("dead_nodes", len(dead)).
		Msg("Sending stale-link warning")

	for _, target := range []*NodeHandle{predecessor, successor} {
		if target.IsNil() || target.Equals(n.handle) {
			continue
		}

		go func(addr string) {
			ctx, cancel := context.WithTimeout(n.ctx, n.config.RPCTimeout)
			defer cancel()

			if err := n.remote.FalseNegWarning(ctx, addr, predecessor, successor, dead); err != nil {
				n.logger.Debug().
					Err(err).
					Str("peer", addr).
					Msg("Stale-link warning not delivered")
			}
		}(target.Address())
	}

	n.broadcaster.BroadcastEvent(Event{
		Type:      EventFalseNegative,
		NodeID:    shortID(n.handle),
		DeadNodes: len(dead),
		Timestamp: time.Now().Unix(),
		Message:   "false negative resolved, stale links reported",
	})
}

// HandleFalseNegWarning processes a stale-link warning from another peer:
// every dead node named in it is purged from the cache and neighbor lists.
func (n *Node) HandleFalseNegWarning(predecessor, successor *NodeHandle, dead []*NodeHandle) {
	repaired := 0
	for _, d := range dead {
		if n.Forget(d) {
			repaired++
		}
	}

	n.logger.Info().
		Int("dead_nodes", len(dead)).
		Int("repaired", repaired).
		Msg("Processed stale-link warning")

	if repaired > 0 {
		n.broadcastEvent(EventCacheRepair, "purged stale pointers after warning")
	}
}

// Lookup runs an iterative lookup for the target key.
func (n *Node) Lookup(ctx context.Context, target *big.Int) ([]*NodeHandle, error) {
	if target == nil {
		return nil, fmt.Errorf("target cannot be nil")
	}
	if n.lookups == nil {
		return nil, fmt.Errorf("lookup runner not set - call SetLookups() first")
	}
	return n.lookups.Lookup(ctx, target)
}

// Get retrieves a value from the DHT. The key is hashed and the lookup
// locates the responsible node.
func (n *Node) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, fmt.Errorf("key cannot be empty")
	}

	keyID := hash.HashString(key)

	responsible, err := n.findResponsible(ctx, keyID)
	if err != nil {
		return nil, false, err
	}

	if responsible.Equals(n.handle) {
		value, err := n.storage.Get(ctx, key)
		if err != nil {
			if err == pkg.ErrKeyNotFound {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("local storage get failed: %w", err)
		}
		return value, true, nil
	}

	n.logger.Debug().
		Str("key", key).
		Str("responsible", responsible.Address()).
		Msg("Forwarding Get to responsible node")

	value, found, err := n.remote.Get(ctx, responsible.Address(), key)
	if err != nil {
		return nil, false, fmt.Errorf("remote get failed: %w", err)
	}
	return value, found, nil
}

// Set stores a value in the DHT on the responsible node.
func (n *Node) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}

	keyID := hash.HashString(key)

	responsible, err := n.findResponsible(ctx, keyID)
	if err != nil {
		return err
	}

	if responsible.Equals(n.handle) {
		if err := n.storage.Set(ctx, key, value, ttl); err != nil {
			return fmt.Errorf("local storage set failed: %w", err)
		}

		n.logger.Debug().
			Str("key", key).
			Int("value_size", len(value)).
			Msg("Stored key locally")

		return nil
	}

	n.logger.Debug().
		Str("key", key).
		Str("responsible", responsible.Address()).
		Int("value_size", len(value)).
		Msg("Forwarding Set to responsible node")

	if err := n.remote.Set(ctx, responsible.Address(), key, value, ttl); err != nil {
		return fmt.Errorf("remote set failed: %w", err)
	}
	return nil
}

// Delete removes a value from the DHT on the responsible node.
func (n *Node) Delete(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}

	keyID := hash.HashString(key)

	responsible, err := n.findResponsible(ctx, keyID)
	if err != nil {
		return err
	}

	if responsible.Equals(n.handle) {
		if err := n.storage.Delete(ctx, key); err != nil {
			return fmt.Errorf("local storage delete failed: %w", err)
		}
		return nil
	}

	n.logger.Debug().
		Str("key", key).
		Str("responsible", responsible.Address()).
		Msg("Forwarding Delete to responsible node")

	if err := n.remote.Delete(ctx, responsible.Address(), key); err != nil {
		return fmt.Errorf("remote delete failed: %w", err)
	}
	return nil
}

// StorageGet reads a key from local storage only. Used by the transport
// when another node forwarded the operation to us.
func (n *Node) StorageGet(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := n.storage.Get(ctx, key)
	if err != nil {
		if err == pkg.ErrKeyNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// StorageSet writes a key to local storage only.
func (n *Node) StorageSet(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return n.storage.Set(ctx, key, value, ttl)
}

// StorageDelete removes a key from local storage only.
func (n *Node) StorageDelete(ctx context.Context, key string) error {
	return n.storage.Delete(ctx, key)
}

// findResponsible resolves the node that owns a key, shortcutting when this
// node owns it.
func (n *Node) findResponsible(ctx context.Context, keyID *big.Int) (*NodeHandle, error) {
	if n.IsResponsible(keyID) {
		return n.handle.Copy(), nil
	}

	siblings, err := n.Lookup(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("lookup failed: %w", err)
	}
	if len(siblings) == 0 {
		return nil, pkg.ErrNoCandidates
	}
	return siblings[0], nil
}

// Broadcast publishes a fully formed overlay event. Used by the lookup
// layer, which fills in its own lookup ID and target.
func (n *Node) Broadcast(event Event) {
	n.broadcaster.BroadcastEvent(event)
}

// broadcastEvent publishes a simple overlay event.
func (n *Node) broadcastEvent(eventType, message string) {
	n.broadcaster.BroadcastEvent(Event{
		Type:      eventType,
		NodeID:    shortID(n.handle),
		Timestamp: time.Now().Unix(),
		Message:   message,
	})
}

// Shutdown gracefully shuts down the node.
func (n *Node) Shutdown() error {
	n.shutdownMu.Lock()
	if n.shutdown {
		n.shutdownMu.Unlock()
		return nil // Already shutdown
	}
	n.shutdown = true
	n.shutdownMu.Unlock()

	n.logger.Info().Msg("Shutting down node")
	n.broadcastEvent(EventNodeLeave, "node leaving")

	// Cancel context to stop background tasks
	n.cancel()
	n.wg.Wait()

	if err := n.storage.Close(); err != nil {
		n.logger.Error().Err(err).Msg("Failed to close storage")
	}

	n.logger.Info().Msg("Node shutdown complete")
	return nil
}

// IsShutdown returns whether the node has been shutdown.
func (n *Node) IsShutdown() bool {
	n.shutdownMu.RLock()
	defer n.shutdownMu.RUnlock()
	return n.shutdown
}
