package spill

import "github.com/shadervm/gcnback/compiler/ir"

// computeNextUseInfo returns, for every block, the number of
// instructions between each live temp and its next use, counting block
// boundaries as a fixed penalty so a temp used immediately across a
// branch still beats one used many instructions later in a straight
// line. An edge that leaves a loop for a less deeply nested successor
// adds a much larger penalty on top of that: a value last touched
// before a loop and not touched again until after it shouldn't look
// more "urgent" than one reused every iteration just because the loop
// body happens to be short, so the loop-crossing penalty dwarfs the
// per-block one.
//
// Each distance is paired with the block that dominates every path to
// the use it measures (mirroring aco_spill.cpp's
// next_use_distances_end pairs), approximated via the existing linear
// dominator tree rather than a full iterative fixpoint: when two
// successors disagree about a temp's nearest use, the recorded
// dominator becomes their nearest common ancestor in that tree. Callers
// use this to tell a value that's only reachable again from past the
// end of the current loop from one still dominated by a point inside it.
//
// This runs as a two-pass backward sweep per block seeded with the
// successor blocks' distance-at-entry; it does not iterate to a
// fixpoint across loop back edges the way full liveness does, since an
// approximate distance is enough to rank spill candidates and a stale
// distance only ever makes the heuristic spill a temp slightly earlier
// than optimal.
const (
	blockBoundaryPenalty = 1000
	loopCrossingPenalty  = 0xFFFF
)

// nextUseInfo pairs a next-use distance with the block that dominates
// every path leading to that use.
type nextUseInfo struct {
	dist int
	dom  int
}

// ComputeNextUseDistances is the exported entry point other passes
// could reuse to rank temps by how soon they'll be needed again; it
// drops the dominator half of nextUseInfo, which is only meaningful
// inside this package's own loop-header spill-candidate selection.
func ComputeNextUseDistances(p *ir.Program) []map[ir.TempID]int {
	info := computeNextUseInfo(p)
	out := make([]map[ir.TempID]int, len(info))
	for i, m := range info {
		dm := make(map[ir.TempID]int, len(m))
		for id, v := range m {
			dm[id] = v.dist
		}
		out[i] = dm
	}
	return out
}

func computeNextUseInfo(p *ir.Program) []map[ir.TempID]nextUseInfo {
	n := len(p.Blocks)
	idom := make([]int, n)
	for i, b := range p.Blocks {
		idom[i] = b.LinearIdom
	}

	result := make([]map[ir.TempID]nextUseInfo, n)
	entry := make([]map[ir.TempID]nextUseInfo, n)
	for i := range entry {
		entry[i] = map[ir.TempID]nextUseInfo{}
	}

	for pass := 0; pass < 2; pass++ {
		for bi := n - 1; bi >= 0; bi-- {
			b := p.Blocks[bi]
			dist := map[ir.TempID]nextUseInfo{}

			for _, s := range unionSuccs(b) {
				penalty := blockBoundaryPenalty
				if b.LoopNestDepth > p.Blocks[s].LoopNestDepth {
					penalty += loopCrossingPenalty
				}
				for id, info := range entry[s] {
					cand := nextUseInfo{dist: info.dist + penalty, dom: info.dom}
					prev, ok := dist[id]
					if !ok {
						dist[id] = cand
						continue
					}
					if cand.dist < prev.dist {
						prev.dist = cand.dist
					}
					prev.dom = commonDominator(idom, prev.dom, cand.dom)
					dist[id] = prev
				}
			}

			for ii := len(b.Instructions) - 1; ii >= 0; ii-- {
				instr := b.Instructions[ii]
				for _, d := range instr.Definitions {
					if !d.Temp().IsNone() {
						delete(dist, d.Temp().ID)
					}
				}
				for _, op := range instr.Operands {
					if op.IsTemp() && !op.Temp().IsNone() {
						dist[op.Temp().ID] = nextUseInfo{dist: ii, dom: bi}
					}
				}
			}

			// Distances are instruction indices from block entry (0 means
			// used by the first instruction); the map is copied as is.
			rebased := make(map[ir.TempID]nextUseInfo, len(dist))
			for id, d := range dist {
				rebased[id] = d
			}

			result[bi] = rebased
			entry[bi] = rebased
		}
	}

	return result
}

// commonDominator returns the nearest block that dominates both a and
// b, walking their immediate-dominator chains. Relies on blocks being
// indexed in reverse postorder, so an idom always has a lower index
// than the block it dominates — the same assumption the rest of the
// compiler makes about LinearIdom/LogicalIdom.
func commonDominator(idom []int, a, b int) int {
	if a < 0 {
		return b
	}
	if b < 0 {
		return a
	}
	for a != b {
		for a > b {
			if idom[a] < 0 {
				return b
			}
			a = idom[a]
		}
		for b > a {
			if idom[b] < 0 {
				return a
			}
			b = idom[b]
		}
	}
	return a
}

func unionSuccs(b *ir.Block) []int {
	seen := map[int]bool{}
	var out []int
	for _, s := range b.LogicalSuccs {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b.LinearSuccs {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// distanceOf returns t's next-use distance in block bi, or
// infiniteDistance if it has none recorded (dead on entry, or not live).
func (c *Context) distanceOf(bi int, t ir.TempID) int {
	if d, ok := c.nextUseInfo[bi][t]; ok {
		return d.dist
	}
	return infiniteDistance
}

// dominatorOf returns the block that dominates every remaining use of t
// recorded at bi, or -1 if t has no further use.
func (c *Context) dominatorOf(bi int, t ir.TempID) int {
	if d, ok := c.nextUseInfo[bi][t]; ok {
		return d.dom
	}
	return -1
}
