package finality

import (
	"github.com/sutehoge/catapult-server/internal/types"
)

type roundNode struct {
	parent          types.HeightHashPair
	hasParent       bool
	prevoteWeight   uint64
	precommitWeight uint64
}

// RoundContext accumulates weighted prevotes and precommits for one round and
// answers the derived questions: best prevote, best precommit, estimate and
// completability. It trusts its caller; invalid messages never reach it.
//
// Prevote hash vectors link consecutive heights, so the tracked nodes form
// chains rooted at the last finalized block. A node's prevote weight already
// includes every voter whose vector covered it; precommit weight is recorded
// only at the precommit target and accumulated over descendants on demand.
type RoundContext struct {
	totalWeight          uint64
	threshold            uint64
	nodes                map[types.HeightHashPair]*roundNode
	totalPrecommitWeight uint64
}

func NewRoundContext(totalWeight, threshold uint64) *RoundContext {
	return &RoundContext{
		totalWeight: totalWeight,
		threshold:   threshold,
		nodes:       make(map[types.HeightHashPair]*roundNode),
	}
}

func (c *RoundContext) node(key types.HeightHashPair) *roundNode {
	n, ok := c.nodes[key]
	if !ok {
		n = &roundNode{}
		c.nodes[key] = n
	}
	return n
}

// AcceptPrevote records that weight prevoted for the chain of hashes starting
// at height.
func (c *RoundContext) AcceptPrevote(height types.Height, hashes []types.Hash, weight uint64) {
	var prev types.HeightHashPair
	for i, hash := range hashes {
		key := types.HeightHashPair{Height: height + types.Height(i), Hash: hash}
		n := c.node(key)
		n.prevoteWeight += weight
		if i > 0 && !n.hasParent {
			n.parent = prev
			n.hasParent = true
		}
		prev = key
	}
}

// AcceptPrecommit records that weight precommitted to (height, hash).
func (c *RoundContext) AcceptPrecommit(height types.Height, hash types.Hash, weight uint64) {
	c.node(types.HeightHashPair{Height: height, Hash: hash}).precommitWeight += weight
	c.totalPrecommitWeight += weight
}

// IsDescendant returns true if descendant is on the chain growing from
// ancestor (a pair is its own descendant).
func (c *RoundContext) IsDescendant(ancestor, descendant types.HeightHashPair) bool {
	for {
		if ancestor == descendant {
			return true
		}
		if descendant.Height <= ancestor.Height {
			return false
		}
		n, ok := c.nodes[descendant]
		if !ok || !n.hasParent {
			return false
		}
		descendant = n.parent
	}
}

// cumulativePrecommitWeight sums the precommit weight of key and all its
// descendants: a precommit supports every ancestor of its target.
func (c *RoundContext) cumulativePrecommitWeight(key types.HeightHashPair) uint64 {
	var weight uint64
	for nodeKey, n := range c.nodes {
		if n.precommitWeight > 0 && c.IsDescendant(key, nodeKey) {
			weight += n.precommitWeight
		}
	}
	return weight
}

func deeper(candidate types.HeightHashPair, best *types.HeightHashPair, found bool) bool {
	if !found {
		return true
	}
	return candidate.Height > best.Height
}

// TryFindBestPrevote returns the deepest node whose prevote weight reaches the
// threshold.
func (c *RoundContext) TryFindBestPrevote() (types.HeightHashPair, bool) {
	var best types.HeightHashPair
	found := false
	for key, n := range c.nodes {
		if n.prevoteWeight >= c.threshold && deeper(key, &best, found) {
			best = key
			found = true
		}
	}
	return best, found
}

// TryFindBestPrecommit returns the deepest node on the best prevote chain
// whose cumulative precommit weight reaches the threshold.
func (c *RoundContext) TryFindBestPrecommit() (types.HeightHashPair, bool) {
	bestPrevote, ok := c.TryFindBestPrevote()
	if !ok {
		return types.HeightHashPair{}, false
	}

	var best types.HeightHashPair
	found := false
	for key := range c.nodes {
		if !c.IsDescendant(key, bestPrevote) {
			continue
		}
		if c.cumulativePrecommitWeight(key) >= c.threshold && deeper(key, &best, found) {
			best = key
			found = true
		}
	}
	return best, found
}

// TryFindEstimate returns the deepest node on the best prevote chain that can
// still attract threshold precommit weight given the votes not yet cast.
func (c *RoundContext) TryFindEstimate() (types.HeightHashPair, bool) {
	bestPrevote, ok := c.TryFindBestPrevote()
	if !ok {
		return types.HeightHashPair{}, false
	}

	uncast := c.totalWeight - c.totalPrecommitWeight
	var best types.HeightHashPair
	found := false
	for key := range c.nodes {
		if !c.IsDescendant(key, bestPrevote) {
			continue
		}
		if c.cumulativePrecommitWeight(key)+uncast >= c.threshold && deeper(key, &best, found) {
			best = key
			found = true
		}
	}
	return best, found
}

// IsCompletable returns true when a best precommit exists and no branch
// incompatible with it can still gather threshold precommit weight.
func (c *RoundContext) IsCompletable() bool {
	bestPrecommit, ok := c.TryFindBestPrecommit()
	if !ok {
		return false
	}

	uncast := c.totalWeight - c.totalPrecommitWeight
	for key := range c.nodes {
		if c.IsDescendant(bestPrecommit, key) || c.IsDescendant(key, bestPrecommit) {
			continue
		}
		if c.cumulativePrecommitWeight(key)+uncast >= c.threshold {
			return false
		}
	}
	return true
}
