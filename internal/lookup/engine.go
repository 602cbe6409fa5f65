package lookup

import (
	"context"
	"math/big"
	"time"

	"github.com/rs/xid"

	"github.com/davral/epiring/internal/config"
	"github.com/davral/epiring/internal/overlay"
	"github.com/davral/epiring/pkg"
)

// ringView is the slice of the overlay node that lookups consume: local
// identity, current ring neighbors, candidate discovery, and the cache
// feedback paths. Satisfied by *overlay.Node.
type ringView interface {
	Handle() *overlay.NodeHandle
	Predecessor() *overlay.NodeHandle
	Successor() *overlay.NodeHandle
	IsResponsible(target *big.Int) bool
	Candidates(target *big.Int, count int) []*overlay.NodeHandle
	Learn(h *overlay.NodeHandle)
	Forget(h *overlay.NodeHandle) bool
	SendFalseNegWarning(predecessor, successor *overlay.NodeHandle, dead []*overlay.NodeHandle)
	Broadcast(event overlay.Event)
}

var _ ringView = (*overlay.Node)(nil)

// Manager runs iterative lookups on behalf of one overlay node.
type Manager struct {
	node   ringView
	remote overlay.RemoteClient
	cfg    *config.Config
	logger *pkg.Logger
}

// Compile-time check that Manager satisfies the node's lookup hook.
var _ overlay.LookupRunner = (*Manager)(nil)

// NewManager creates a lookup manager for the given node.
func NewManager(node ringView, remote overlay.RemoteClient, cfg *config.Config, logger *pkg.Logger) *Manager {
	return &Manager{
		node:   node,
		remote: remote,
		cfg:    cfg,
		logger: logger.WithFields(pkg.Fields{"component": "lookup"}),
	}
}

// Lookup runs one iterative path lookup for the target key and returns the
// confirmed result set, tightest first.
func (m *Manager) Lookup(ctx context.Context, target *big.Int) ([]*overlay.NodeHandle, error) {
	pl := m.newPathLookup(target)

	m.node.Broadcast(overlay.Event{
		Type:      overlay.EventLookupStarted,
		NodeID:    pl.localShort,
		LookupID:  pl.id,
		Target:    target.Text(16),
		Timestamp: time.Now().Unix(),
		Message:   "lookup started",
	})

	siblings, err := pl.run(ctx)

	m.node.Broadcast(overlay.Event{
		Type:      overlay.EventLookupDone,
		NodeID:    pl.localShort,
		LookupID:  pl.id,
		Target:    target.Text(16),
		Timestamp: time.Now().Unix(),
		Message:   "lookup finished",
	})

	return siblings, err
}

// probeEvent is one stimulus delivered to the lookup state machine: a
// response (result set) or a timeout (result nil).
type probeEvent struct {
	handle *overlay.NodeHandle
	result *overlay.FindNodeResult
}

// strategy hooks the per-event behavior of a path lookup. The engine's
// defaults live on pathLookup itself; a strategy wraps them with pre/post
// logic and may override candidate selection.
type strategy interface {
	handleResponse(pl *pathLookup, from *overlay.NodeHandle, res *overlay.FindNodeResult)
	handleTimeout(pl *pathLookup, from *overlay.NodeHandle)
	nextEntry(pl *pathLookup) *candidateEntry
	onFinished(pl *pathLookup)
}

// pathLookup is one single-threaded, event-driven lookup instance. It owns
// its candidate pool exclusively; responses and timeouts are dispatched to
// it one at a time, so no internal locking is needed.
type pathLookup struct {
	id         string
	localShort string
	mgr        *Manager
	target     *big.Int
	pool       *candidatePool
	strategy   strategy
	logger     *pkg.Logger

	siblings []*overlay.NodeHandle
	success  bool
	finished bool
}

// newPathLookup builds a lookup with the bracket-tracking strategy
// attached and its pool sized from the redundancy factor.
func (m *Manager) newPathLookup(target *big.Int) *pathLookup {
	id := xid.New().String()
	local := m.node.Handle()

	localShort := local.ID.Text(16)
	if len(localShort) > 8 {
		localShort = localShort[:8]
	}

	pl := &pathLookup{
		id:         id,
		localShort: localShort,
		mgr:        m,
		target:     new(big.Int).Set(target),
		pool:       newCandidatePool(target, m.cfg.RedundantNodes*m.cfg.RedundantNodes),
		logger: m.logger.WithFields(pkg.Fields{
			"lookup_id": id,
			"target":    target.Text(16),
		}),
	}
	pl.strategy = newFalseNegStrategy(m.node, pl.warn)

	return pl
}

// warn forwards a resolved false negative to the overlay layer.
func (pl *pathLookup) warn(predecessor, successor *overlay.NodeHandle, dead []*overlay.NodeHandle) {
	pl.mgr.node.SendFalseNegWarning(predecessor, successor, dead)
}

// run drives the lookup until it reaches a terminal state: probes are
// issued in parallel, but their outcomes are consumed strictly one at a
// time.
func (pl *pathLookup) run(ctx context.Context) ([]*overlay.NodeHandle, error) {
	for _, h := range pl.mgr.node.Candidates(pl.target, pl.pool.capacity) {
		pl.pool.add(h)
	}

	if len(pl.pool.entries) == 0 {
		// Nobody else to ask; if we own the key we are the answer.
		if pl.mgr.node.IsResponsible(pl.target) {
			return []*overlay.NodeHandle{pl.mgr.node.Handle()}, nil
		}
		return nil, pkg.ErrNoCandidates
	}

	events := make(chan probeEvent, pl.mgr.cfg.ParallelProbes)
	inFlight := 0

	for !pl.finished {
		// Keep up to the configured number of probes outstanding
		for inFlight < pl.mgr.cfg.ParallelProbes {
			entry := pl.strategy.nextEntry(pl)
			if entry == nil {
				break
			}
			entry.used = true
			inFlight++
			go pl.probe(ctx, entry.handle.Copy(), events)
		}

		if inFlight == 0 {
			break // candidate pool exhausted
		}

		select {
		case <-ctx.Done():
			pl.finished = true
			return nil, ctx.Err()
		case ev := <-events:
			inFlight--
			if ev.result != nil {
				pl.strategy.handleResponse(pl, ev.handle, ev.result)
			} else {
				pl.strategy.handleTimeout(pl, ev.handle)
			}
		}
	}

	// The finished transition must re-run the strategy's final check even
	// when no fresh stimulus caused it, or evidence that was waiting for
	// overall termination could never conclude the lookup.
	if !pl.finished {
		pl.finished = true
		pl.strategy.onFinished(pl)
	}

	if !pl.success {
		pl.logger.Debug().Msg("Lookup exhausted without locating a responsible node")
		return nil, pkg.ErrNoCandidates
	}

	return pl.siblings, nil
}

// probe queries one peer, retrying per configuration, and delivers exactly
// one event: a response or, after exhausting attempts, a timeout.
func (pl *pathLookup) probe(ctx context.Context, h *overlay.NodeHandle, events chan<- probeEvent) {
	attempts := pl.mgr.cfg.RPCRetries
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		probeCtx, cancel := context.WithTimeout(ctx, pl.mgr.cfg.RPCTimeout)
		res, err := pl.mgr.remote.FindNode(probeCtx, h.Address(), pl.target)
		cancel()

		if err == nil && res != nil {
			events <- probeEvent{handle: h, result: res}
			return
		}

		if ctx.Err() != nil {
			break
		}
	}

	pl.logger.Debug().
		Str("peer", h.Address()).
		Msg("Peer did not respond, declaring dead")

	events <- probeEvent{handle: h}
}

// defaultHandleResponse is the engine's response handling: flag the
// responder visited, absorb its candidates, and conclude if it asserts
// ownership of the target.
func (pl *pathLookup) defaultHandleResponse(from *overlay.NodeHandle, res *overlay.FindNodeResult) {
	pl.pool.markVisited(from)

	local := pl.mgr.node.Handle()
	for _, h := range res.ClosestNodes {
		if h.IsNil() || h.Equals(local) {
			continue
		}
		pl.pool.add(h)
		pl.mgr.node.Learn(h)
	}

	if res.IsOwner && !from.IsNil() {
		pl.addSibling(from)
		pl.success = true
		pl.finished = true

		pl.logger.Debug().
			Str("owner", from.Address()).
			Msg("Responder asserted ownership")
	}
}

// defaultHandleTimeout is the engine's timeout handling: the peer is
// declared dead for this lookup and forgotten by the overlay caches.
func (pl *pathLookup) defaultHandleTimeout(from *overlay.NodeHandle) {
	pl.pool.markDead(from)
	pl.mgr.node.Forget(from)
}

// defaultNextEntry is the engine's next-hop policy: the closest alive,
// unused candidate by direction-agnostic ring distance.
func (pl *pathLookup) defaultNextEntry() *candidateEntry {
	return pl.pool.closestUnused()
}

// addSibling registers a confirmed result, deduplicated.
func (pl *pathLookup) addSibling(h *overlay.NodeHandle) {
	for _, s := range pl.siblings {
		if s.Equals(h) {
			return
		}
	}
	pl.siblings = append(pl.siblings, h.Copy())
}
