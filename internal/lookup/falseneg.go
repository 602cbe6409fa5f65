package lookup

import (
	"github.com/davral/epiring/internal/overlay"
	"github.com/davral/epiring/pkg/hash"
)

// warnFunc notifies the overlay about a resolved false negative: the two
// bracketing peers plus every node found dead during the lookup.
type warnFunc func(predecessor, successor *overlay.NodeHandle, dead []*overlay.NodeHandle)

// falseNegStrategy detects lookups that would terminate without reaching
// the node truly responsible for the target. It tracks the tightest known
// predecessor/successor bracket around the target along with what each
// bracketing peer claims as its own opposite neighbor, and concludes the
// lookup once the bracket is self-consistent even though no peer ever
// asserted ownership.
type falseNegStrategy struct {
	warn warnFunc

	// Tightest known bracket around the target, plus each bracketing
	// peer's claimed opposite neighbor. Seeded from the local node's view
	// of the ring, tightened monotonically as responses arrive.
	bestPredecessor           *overlay.NodeHandle
	bestPredecessorsSuccessor *overlay.NodeHandle
	bestSuccessor             *overlay.NodeHandle
	bestSuccessorsPredecessor *overlay.NodeHandle
}

var _ strategy = (*falseNegStrategy)(nil)

func newFalseNegStrategy(node ringView, warn warnFunc) *falseNegStrategy {
	self := node.Handle()
	return &falseNegStrategy{
		warn:                      warn,
		bestPredecessor:           self,
		bestPredecessorsSuccessor: node.Successor(),
		bestSuccessor:             self,
		bestSuccessorsPredecessor: node.Predecessor(),
	}
}

func (s *falseNegStrategy) handleResponse(pl *pathLookup, from *overlay.NodeHandle, res *overlay.FindNodeResult) {
	if pl.finished {
		return
	}

	s.observeBracket(pl, from, res)
	pl.defaultHandleResponse(from, res)
	s.checkFalseNegative(pl)
}

func (s *falseNegStrategy) handleTimeout(pl *pathLookup, from *overlay.NodeHandle) {
	if pl.finished {
		return
	}

	pl.defaultHandleTimeout(from)
	s.checkFalseNegative(pl)
}

// nextEntry biases probing toward the successor side of the target.
// Cached long-range pointers make the succeeding candidate the most
// likely holder of fresh neighbor information; when no such candidate is
// available the engine's distance-based default applies.
func (s *falseNegStrategy) nextEntry(pl *pathLookup) *candidateEntry {
	if e := pl.pool.succeeding(false, true); e != nil && !e.used {
		return e
	}
	return pl.defaultNextEntry()
}

// onFinished runs one last resolution pass when the engine terminates the
// lookup without a direct result. The dead-blocker branch of the resolver
// deliberately waits for this transition, so skipping it would strand that
// resolution path.
func (s *falseNegStrategy) onFinished(pl *pathLookup) {
	s.checkFalseNegative(pl)
}

// observeBracket tightens the predecessor/successor bracket from one
// response. The responder can tighten at most one side, determined by
// which ring interval its key falls into. Its claimed opposite neighbor
// is read from the fixed layout of the closest-nodes list: a responder
// that places itself first reports [self, predecessor, successor], any
// other response leads with its best candidate for the target.
func (s *falseNegStrategy) observeBracket(pl *pathLookup, from *overlay.NodeHandle, res *overlay.FindNodeResult) {
	if from.IsNil() || len(res.ClosestNodes) == 0 {
		return
	}
	list := res.ClosestNodes
	selfFirst := list[0].Equals(from)

	switch {
	case hash.Between(from.ID, s.bestPredecessor.ID, pl.target):
		s.bestPredecessor = from.Copy()
		if selfFirst {
			if len(list) > 2 {
				s.bestPredecessorsSuccessor = list[2].Copy()
			}
		} else {
			s.bestPredecessorsSuccessor = list[0].Copy()
		}

	case hash.Between(from.ID, pl.target, s.bestSuccessor.ID):
		s.bestSuccessor = from.Copy()
		if selfFirst {
			if len(list) > 1 {
				s.bestSuccessorsPredecessor = list[1].Copy()
			}
		} else {
			s.bestSuccessorsPredecessor = list[0].Copy()
		}
	}
}

// checkFalseNegative decides whether the lookup can conclude despite no
// peer having asserted ownership of the target. It runs after every
// response, every timeout, and once more when the engine finishes.
func (s *falseNegStrategy) checkFalseNegative(pl *pathLookup) {
	if pl.success {
		return
	}

	// Both sides of the bracket need a confirmed, live witness before any
	// conclusion is sound.
	preceding := pl.pool.preceding(false, true)
	succeeding := pl.pool.succeeding(false, true)
	if preceding == nil || succeeding == nil || !preceding.visited || !succeeding.visited {
		return
	}

	assumeSuccess := pl.success
	assumeFinished := pl.finished

	if s.bestSuccessor.Equals(s.bestPredecessorsSuccessor) || s.bestPredecessor.Equals(s.bestSuccessorsPredecessor) {
		// The two independently discovered bracket halves corroborate each
		// other's claimed neighbor: no undiscovered node fits between them.
		assumeSuccess = true
		assumeFinished = true
	} else if pl.pool.isDead(s.bestPredecessorsSuccessor) && pl.pool.isDead(s.bestSuccessorsPredecessor) {
		// The gap is explained by dead links, but a live node could still
		// sit strictly between the two dead blockers. Resolution must wait
		// for the engine's own termination.
		assumeSuccess = true
	}

	if !assumeSuccess || !assumeFinished {
		return
	}

	if dead := pl.pool.deadHandles(); len(dead) > 0 {
		pl.logger.Debug().
			Str("predecessor", s.bestPredecessor.Address()).
			Str("successor", s.bestSuccessor.Address()).
			Int("dead_nodes", len(dead)).
			Msg("Resolved false negative, notifying bracket peers")
		s.warn(s.bestPredecessor, s.bestSuccessor, dead)
	}

	pl.addSibling(s.bestSuccessor)
	pl.success = true
	pl.finished = true
}
