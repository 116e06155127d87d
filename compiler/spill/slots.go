package spill

import (
	"sort"

	"github.com/shadervm/gcnback/compiler/ir"
	"github.com/shadervm/gcnback/compiler/set"
)

// assignSlots colors every spilled temp's backing value with a small
// slot number, so that two temps never sharing a live range can share
// the same physical linear VGPR. Interference comes from two sources:
// two temps both spilled entering or leaving some block, and two temps
// evict found both spilled at the same mid-block program point (see
// Context.extraEdges). Both are coarser than true point-in-program
// liveness, but conservative, since they can only report more
// interference than actually exists, never less.
//
// The interference graph is a bitmap per spilled temp, indexed by the
// dense position assigned below, following the same edges-as-bitmaps
// representation the teacher's register allocator uses for its
// interference graph.
func (c *Context) assignSlots() {
	var order []ir.TempID
	for id := range c.backing {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	index := make(map[ir.TempID]int, len(order))
	for i, id := range order {
		index[id] = i
	}

	edges := make([]set.Bitmap, len(order))
	for i := range edges {
		edges[i] = set.MakeBitmap(len(order))
	}
	addEdge := func(a, b ir.TempID) {
		if a == b {
			return
		}
		ia, oka := index[a]
		ib, okb := index[b]
		if !oka || !okb {
			return
		}
		edges[ia].Set(ib)
		edges[ib].Set(ia)
	}

	clique := func(spilled map[ir.TempID]bool) {
		var ids []ir.TempID
		for id := range spilled {
			if _, ok := c.backing[id]; ok {
				ids = append(ids, id)
			}
		}
		for i := range ids {
			for j := i + 1; j < len(ids); j++ {
				addEdge(ids[i], ids[j])
			}
		}
	}

	for bi := range c.p.Blocks {
		clique(c.spillEntry[bi])
		clique(c.spillExit[bi])
	}
	// evict recorded interference for values spilled and reloaded
	// entirely within one block's body, which never touch spillEntry or
	// spillExit and so would otherwise be invisible to the cliques above.
	for _, e := range c.extraEdges {
		addEdge(e[0], e[1])
	}

	colorOf := map[ir.TempID]int{}
	maxColor := -1

	for _, id := range order {
		preferred := -1
		if rep := c.find(id); rep != id {
			if col, ok := colorOf[rep]; ok {
				preferred = col
			}
		}

		used := set.MakeBitmap(0)
		edges[index[id]].Range(func(j int) bool {
			if col, ok := colorOf[order[j]]; ok {
				used.Set(col)
			}
			return true
		})

		color := preferred
		if color < 0 || used.IsSet(color) {
			color = 0
			for used.IsSet(color) {
				color++
			}
		}

		colorOf[id] = color
		if color > maxColor {
			maxColor = color
		}
	}

	for id, col := range colorOf {
		c.slot[id] = col
	}
	c.numSlots = maxColor + 1
}

// lowerToLinearVGPRs replaces every backing temp used by a p_spill or
// p_reload with the shared linear-VGPR temp for its assigned slot
// color, so the final program allocates c.numSlots physical linear
// VGPRs total rather than one per spilled SSA value. It also brackets
// each slot's storage with p_start_linear_vgpr/p_end_linear_vgpr
// markers at the nearest top-level (non-divergent) blocks around its
// first and last use: a linear VGPR's contents are only meaningful
// wave-uniformly, so its lifetime has to begin and end at points where
// every lane's control flow has reconverged, never inside a divergent
// if/else region.
func (c *Context) lowerToLinearVGPRs() {
	slotTemps := make([]ir.Temp, c.numSlots)
	for i := range slotTemps {
		slotTemps[i] = c.p.AllocateTemp(ir.LinearVGPR(1))
	}

	backingToSlot := map[ir.TempID]ir.Temp{}
	slotIndexOf := map[ir.TempID]int{}
	for i, t := range slotTemps {
		slotIndexOf[t.ID] = i
	}
	for origID, backing := range c.backing {
		col := c.slot[origID]
		backingToSlot[backing.ID] = slotTemps[col]
	}

	firstUse := make([]int, c.numSlots)
	lastUse := make([]int, c.numSlots)
	for i := range firstUse {
		firstUse[i], lastUse[i] = -1, -1
	}

	for bi, b := range c.p.Blocks {
		for _, instr := range b.Instructions {
			var slotT ir.Temp
			var ok bool
			switch instr.Opcode {
			case ir.OpSpill:
				slotT, ok = backingToSlot[instr.Definitions[0].Temp().ID]
				if ok {
					instr.Definitions[0] = ir.DefinitionOf(slotT)
				}
			case ir.OpReload:
				slotT, ok = backingToSlot[instr.Operands[0].Temp().ID]
				if ok {
					instr.Operands[0] = ir.OperandOf(slotT)
				}
			default:
				continue
			}
			if !ok {
				continue
			}
			idx := slotIndexOf[slotT.ID]
			if firstUse[idx] < 0 {
				firstUse[idx] = bi
			}
			lastUse[idx] = bi
		}
	}

	topLevel := computeTopLevelBlocks(c.p)

	for i, t := range slotTemps {
		if firstUse[i] < 0 {
			continue
		}

		startBlock := firstUse[i]
		for startBlock > 0 && !topLevel[startBlock] {
			startBlock--
		}
		start := ir.NewInstruction(ir.OpStartLinearVGPR, 0, 1)
		start.Definitions[0] = ir.DefinitionOf(t)
		if startBlock == firstUse[i] {
			insertAfterLeadingPhis(c.p.Blocks[startBlock], start)
		} else {
			insertAtEnd(c.p.Blocks[startBlock], start)
		}

		endBlock := lastUse[i]
		for endBlock < len(topLevel)-1 && !topLevel[endBlock] {
			endBlock++
		}
		end := ir.NewInstruction(ir.OpEndLinearVGPR, 1, 0)
		end.Operands[0] = ir.OperandOf(t)
		if endBlock == lastUse[i] {
			insertAtEnd(c.p.Blocks[endBlock], end)
		} else {
			insertAfterLeadingPhis(c.p.Blocks[endBlock], end)
		}
	}
}

// computeTopLevelBlocks marks every block at loop nest depth 0 that is
// not nested inside a divergent if/else region. Blocks inside a loop are
// never marked, and they neither open nor close a region. Mirrors
// aco_spill.cpp's last_top_level_block_idx bookkeeping: a block with
// two linear predecessors closes the most recent such region, one with
// two linear successors opens the next.
func computeTopLevelBlocks(p *ir.Program) []bool {
	topLevel := make([]bool, len(p.Blocks))
	nestingDepth := 0
	for bi, b := range p.Blocks {
		if b.LoopNestDepth == 0 && len(b.LinearPreds) == 2 {
			nestingDepth--
		}
		if b.LoopNestDepth == 0 && nestingDepth == 0 {
			topLevel[bi] = true
		}
		if b.LoopNestDepth == 0 && len(b.LinearSuccs) == 2 {
			nestingDepth++
		}
	}
	return topLevel
}

func insertAfterLeadingPhis(b *ir.Block, instr *ir.Instruction) {
	n := 0
	for n < len(b.Instructions) && b.Instructions[n].IsPhi() {
		n++
	}
	b.Instructions = append(b.Instructions[:n:n], append([]*ir.Instruction{instr}, b.Instructions[n:]...)...)
}
