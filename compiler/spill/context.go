// Package spill inserts spill/reload code so that every block's register
// demand fits the target wave count, following the SSA-based spilling
// scheme of Braun & Hack: next-use distances pick which values to evict,
// per-block spilled-variable sets are reconciled across control-flow
// edges with explicit coupling code, and spill slots are greedily
// colored from an interference graph, then lowered onto wave-wide
// linear VGPR storage. Coloring takes a preferred color from the
// affinity table, but nothing in this package records affinities.
package spill

import (
	"github.com/shadervm/gcnback/compiler/ir"
	"github.com/shadervm/gcnback/compiler/live"
)

// infiniteDistance marks a temp with no further use in the block being
// scanned: the furthest-first heuristic always prefers to spill these
// first.
const infiniteDistance = 1 << 30

// Context carries the state threaded through every stage of spilling for
// one program: the live-in/demand results liveness produced, the
// per-block next-use distance tables, which temps are spilled entering
// each block, and the slot assignment built at the end.
type Context struct {
	p    *ir.Program
	live *live.Result

	targetVGPR uint16
	targetSGPR uint16

	// spillsToVGPR is the vgpr-slot budget chooseTargets sized for the
	// chosen wave count, on top of targetVGPR. It is only reported in the
	// trace log: assignSlots does not consult it, and numSlots is not
	// limited to it.
	spillsToVGPR int

	nextUseInfo []map[ir.TempID]nextUseInfo // per block: temp -> (distance to next use, dominator of that use)

	spillEntry []map[ir.TempID]bool // per block: which temps are spilled on entry
	spillExit  []map[ir.TempID]bool

	slot     map[ir.TempID]int
	affinity map[ir.TempID]ir.TempID // union-find style: temp -> representative sharing its slot
	numSlots int

	classes map[ir.TempID]ir.RegClass
	backing map[ir.TempID]ir.Temp // original temp -> linear-vgpr temp backing its spill slot

	scratch     map[ir.TempID]int // genuinely divergent vgpr temp -> scratch byte offset
	nextScratch int

	// extraEdges records interference pairs evict discovers mid-block,
	// between a temp it just spilled and every other temp already
	// spilled at that same program point. assignSlots unions these with
	// its block-boundary cliques so two transiently-spilled values whose
	// live ranges overlap entirely within one block never share a slot.
	extraEdges [][2]ir.TempID

	// carrier records, per block and original temp id, the fresh temp a
	// coupling-edge reload produced on the edge from a given predecessor.
	// resolveCouplingPhis consults it once every predecessor of a block
	// has been coupled, to decide whether a merge phi is needed to
	// reconcile differing carriers into one name the block's body can
	// keep referring to by the original id.
	carrier map[int]map[ir.TempID]map[int]ir.Temp
}

func newContext(p *ir.Program, res *live.Result, targetVGPR, targetSGPR uint16) *Context {
	n := len(p.Blocks)
	c := &Context{
		p:          p,
		live:       res,
		targetVGPR: targetVGPR,
		targetSGPR: targetSGPR,
		nextUseInfo: make([]map[ir.TempID]nextUseInfo, n),
		spillEntry: make([]map[ir.TempID]bool, n),
		spillExit:  make([]map[ir.TempID]bool, n),
		slot:       make(map[ir.TempID]int),
		affinity:   make(map[ir.TempID]ir.TempID),
		classes:    make(map[ir.TempID]ir.RegClass),
		backing:    make(map[ir.TempID]ir.Temp),
		scratch:    make(map[ir.TempID]int),
		carrier:    make(map[int]map[ir.TempID]map[int]ir.Temp),
	}
	for i := 0; i < n; i++ {
		c.spillEntry[i] = make(map[ir.TempID]bool)
		c.spillExit[i] = make(map[ir.TempID]bool)
	}
	for _, b := range p.Blocks {
		for _, instr := range b.Instructions {
			for _, d := range instr.Definitions {
				if !d.Temp().IsNone() {
					c.classes[d.Temp().ID] = d.Temp().Class
				}
			}
		}
	}
	return c
}

func (c *Context) classOf(id ir.TempID) ir.RegClass {
	return c.classes[id]
}

func (c *Context) find(id ir.TempID) ir.TempID {
	rep, ok := c.affinity[id]
	if !ok {
		return id
	}
	root := c.find(rep)
	c.affinity[id] = root
	return root
}

func (c *Context) union(a, b ir.TempID) {
	ra, rb := c.find(a), c.find(b)
	if ra != rb {
		c.affinity[ra] = rb
	}
}
