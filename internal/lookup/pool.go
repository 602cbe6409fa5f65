package lookup

import (
	"math/big"

	"github.com/davral/epiring/internal/overlay"
	"github.com/davral/epiring/pkg/hash"
)

// candidateEntry is one peer discovered during a single path lookup, plus
// its per-lookup flags. Flags only escalate (used -> visited, alive ->
// dead) and entries are never removed while the lookup lives, so pointers
// into the pool stay valid for its whole lifetime.
type candidateEntry struct {
	handle  *overlay.NodeHandle
	used    bool // already probed
	visited bool // a response was received
	dead    bool // declared unreachable after probe exhaustion
}

// candidatePool is the arena of candidate entries owned by exactly one
// path lookup. It is sized from the redundancy factor at construction and
// silently drops candidates beyond its capacity.
type candidatePool struct {
	target   *big.Int
	capacity int
	entries  []*candidateEntry
}

func newCandidatePool(target *big.Int, capacity int) *candidatePool {
	return &candidatePool{
		target:   new(big.Int).Set(target),
		capacity: capacity,
		entries:  make([]*candidateEntry, 0, capacity),
	}
}

// add records a newly learned handle. Duplicates and additions beyond the
// pool's capacity are ignored. Returns the entry for the handle, or nil if
// it was dropped.
func (p *candidatePool) add(h *overlay.NodeHandle) *candidateEntry {
	if h.IsNil() {
		return nil
	}

	if existing := p.find(h); existing != nil {
		return existing
	}

	if len(p.entries) >= p.capacity {
		return nil
	}

	e := &candidateEntry{handle: h.Copy()}
	p.entries = append(p.entries, e)
	return e
}

// find returns the entry for a handle, or nil if unknown.
func (p *candidatePool) find(h *overlay.NodeHandle) *candidateEntry {
	if h.IsNil() {
		return nil
	}
	for _, e := range p.entries {
		if e.handle.Equals(h) {
			return e
		}
	}
	return nil
}

// markVisited flags a handle as responded. Visited implies used.
func (p *candidatePool) markVisited(h *overlay.NodeHandle) {
	if e := p.find(h); e != nil {
		e.used = true
		e.visited = true
	}
}

// markDead flags a handle as unreachable. Dead implies used.
func (p *candidatePool) markDead(h *overlay.NodeHandle) {
	if e := p.find(h); e != nil {
		e.used = true
		e.dead = true
	}
}

// isDead reports whether a handle is known and flagged dead.
func (p *candidatePool) isDead(h *overlay.NodeHandle) bool {
	e := p.find(h)
	return e != nil && e.dead
}

// isVisited reports whether a handle is known and has responded.
func (p *candidatePool) isVisited(h *overlay.NodeHandle) bool {
	e := p.find(h)
	return e != nil && e.visited
}

// deadHandles returns every entry currently flagged dead.
func (p *candidatePool) deadHandles() []*overlay.NodeHandle {
	var dead []*overlay.NodeHandle
	for _, e := range p.entries {
		if e.dead {
			dead = append(dead, e.handle.Copy())
		}
	}
	return dead
}

// preceding returns the entry with the maximum clockwise distance from the
// target, i.e. the tightest known candidate before the target in ring
// order. Entries at the target itself are never returned.
func (p *candidatePool) preceding(includeDead, includeUsed bool) *candidateEntry {
	var best *candidateEntry
	maxDistance := big.NewInt(0)

	for _, e := range p.entries {
		if !includeDead && e.dead {
			continue
		}
		if !includeUsed && e.used {
			continue
		}

		distance := hash.Distance(p.target, e.handle.ID)
		if distance.Cmp(maxDistance) <= 0 {
			continue
		}

		maxDistance = distance
		best = e
	}

	return best
}

// succeeding returns the entry with the minimum clockwise distance from
// the target, i.e. the tightest known candidate after the target in ring
// order.
func (p *candidatePool) succeeding(includeDead, includeUsed bool) *candidateEntry {
	var best *candidateEntry
	minDistance := hash.MaxDistance()

	for _, e := range p.entries {
		if !includeDead && e.dead {
			continue
		}
		if !includeUsed && e.used {
			continue
		}

		distance := hash.Distance(p.target, e.handle.ID)
		if distance.Cmp(minDistance) >= 0 {
			continue
		}

		minDistance = distance
		best = e
	}

	return best
}

// closestUnused returns the alive, not-yet-probed entry with the smallest
// direction-agnostic distance to the target. This is the engine's default
// next-hop policy.
func (p *candidatePool) closestUnused() *candidateEntry {
	var best *candidateEntry
	var bestDistance *big.Int

	for _, e := range p.entries {
		if e.dead || e.used {
			continue
		}

		distance := hash.AbsDistance(e.handle.ID, p.target)
		if best == nil || distance.Cmp(bestDistance) < 0 {
			best = e
			bestDistance = distance
		}
	}

	return best
}
