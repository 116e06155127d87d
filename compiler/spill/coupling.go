package spill

import "github.com/shadervm/gcnback/compiler/ir"

// initLiveInVars decides which temps live into block bi are considered
// spilled on entry, before processBlock walks its instructions. There
// are four shapes of predecessor set, each handled differently:
//
//   - no predecessors (program entry): nothing is spilled yet.
//   - exactly one predecessor: inherit its exit set unchanged, no
//     reconciliation needed since there's only one incoming state.
//   - a loop header (a predecessor is reached only via a back edge not
//     yet processed): pick spill candidates from the forward preds'
//     state by in-loop demand, favoring the live-through variable with
//     the largest next-use distance past the loop, then defer the back
//     edge itself to the loop fix-up pass once the body's own demand is
//     known.
//   - an ordinary merge of multiple forward predecessors: a temp is
//     spilled on entry only if it was spilled on every incoming path —
//     a register can hold the live value fine as long as at least one
//     edge already has it resident, and addCouplingCode inserts the
//     reload needed on the edges that don't.
//
// Phi results get one more rule layered on top: a phi whose every
// operand is itself spilled at its respective predecessor is spilled
// too, rather than forcing an eager reload of every operand just to
// feed a value that may not be used again soon.
func (c *Context) initLiveInVars(bi int) {
	b := c.p.Blocks[bi]

	switch len(b.LinearPreds) {
	case 0:
		return
	case 1:
		pred := b.LinearPreds[0]
		for id := range c.spillExit[pred] {
			c.spillEntry[bi][id] = true
		}
		return
	}

	isLoopHeader := b.Kind&ir.BlockKindLoopHeader != 0

	forwardPreds := b.LinearPreds
	if isLoopHeader {
		forwardPreds = nil
		for _, pred := range b.LinearPreds {
			if pred > bi {
				continue // back edge, resolved later by fixLoopBackEdges
			}
			forwardPreds = append(forwardPreds, pred)
		}
	}

	// Spilled on entry iff spilled on every forward path.
	counts := map[ir.TempID]int{}
	for _, pred := range forwardPreds {
		for id := range c.spillExit[pred] {
			counts[id]++
		}
	}
	for id, n := range counts {
		if n == len(forwardPreds) {
			c.spillEntry[bi][id] = true
		}
	}

	if isLoopHeader {
		c.chooseLoopHeaderSpills(bi, forwardPreds)
	}

	for _, instr := range b.Instructions {
		if !instr.IsPhi() {
			break
		}
		c.considerPhiSpill(bi, b, instr)
	}
}

// chooseLoopHeaderSpills picks which live-through variables to spill
// entering a loop header so the body's own peak demand, once known,
// doesn't have to fight for registers already pinned by values that
// won't be touched again until well past the loop. It ranks candidates
// already resident on every forward edge by their next-use distance at
// the header and spills the furthest-used ones first, until demand
// would fit the target budget even without knowing the body's own
// pressure yet — a conservative head start. fixLoopBackEdges later adds
// coupling code on the back edges but does not change this choice.
func (c *Context) chooseLoopHeaderSpills(bi int, forwardPreds []int) {
	headerDepth := c.p.Blocks[bi].LoopNestDepth

	type candidate struct {
		id    ir.TempID
		class ir.RegClass
		dist  int
	}
	var cands []candidate
	for id, class := range c.classes {
		if c.spillEntry[bi][id] {
			continue
		}
		if !isLiveIn(c, bi, id) {
			continue
		}
		dist := c.distanceOf(bi, id)
		// A use whose nearest dominator already sits outside this loop
		// (or has no further use at all) won't be touched again before
		// the loop exits, so it's at least as good a spill candidate as
		// its raw in-block distance suggests — treat it as if it were
		// that much further away.
		if dom := c.dominatorOf(bi, id); dom < 0 || c.p.Blocks[dom].LoopNestDepth < headerDepth {
			dist += loopCrossingPenalty
		}
		cands = append(cands, candidate{id, class, dist})
	}

	var vgpr, sgpr uint16
	for _, cd := range cands {
		if cd.class.Type == ir.RegVGPR {
			vgpr += uint16(cd.class.Size)
		} else {
			sgpr += uint16(cd.class.Size)
		}
	}

	for len(cands) > 0 && (vgpr > c.targetVGPR || sgpr > c.targetSGPR) {
		worst := 0
		for i := 1; i < len(cands); i++ {
			if cands[i].dist > cands[worst].dist {
				worst = i
			}
		}
		cd := cands[worst]
		cands = append(cands[:worst], cands[worst+1:]...)

		c.spillEntry[bi][cd.id] = true
		if cd.class.Type == ir.RegVGPR {
			vgpr -= uint16(cd.class.Size)
		} else {
			sgpr -= uint16(cd.class.Size)
		}
	}
}

// considerPhiSpill spills a phi's result if every one of its operands
// is itself spilled at its respective predecessor, so the merge doesn't
// force an eager reload of inputs that are about to be spilled again
// anyway.
func (c *Context) considerPhiSpill(bi int, b *ir.Block, phi *ir.Instruction) {
	def := phi.Definitions[0].Temp()
	if def.IsNone() || c.spillEntry[bi][def.ID] {
		return
	}
	preds := b.LinearPreds
	if phi.Opcode == ir.OpPhi {
		preds = b.LogicalPreds
	}
	if len(phi.Operands) != len(preds) {
		return
	}
	for i, op := range phi.Operands {
		if !op.IsTemp() {
			return
		}
		if !c.spillExit[preds[i]][op.Temp().ID] {
			return
		}
	}
	c.spillEntry[bi][def.ID] = true
}

// addCouplingCode reconciles one pred->block edge against block's
// initLiveInVars decision: a temp decided spilled at block entry but not
// actually spilled leaving pred needs a spill inserted at the end of
// pred; a temp NOT spilled at block entry but spilled leaving pred needs
// a reload inserted at the end of pred. A reload can't reuse the
// original temp id (its one defining instruction already exists
// upstream), so it materializes a fresh one and records it as this
// edge's carrier for resolveCouplingPhis to reconcile against whatever
// the temp's other incoming edges carry.
func (c *Context) addCouplingCode(pred, bi int) {
	predBlock := c.p.Blocks[pred]
	wantSpilled := c.spillEntry[bi]
	haveSpilled := c.spillExit[pred]

	for id, class := range classesLiveAcross(c, pred, bi) {
		want := wantSpilled[id]
		have := haveSpilled[id]
		if want == have {
			continue
		}

		t := ir.Temp{ID: id, Class: class}
		if want && !have {
			insertSpill(c, predBlock, t)
			continue
		}

		fresh := insertReload(c, predBlock, t)
		c.recordCarrier(bi, pred, id, fresh)
	}
}

// recordCarrier notes that, on the edge from pred into bi, the value
// the rest of the program still calls id is actually held in fresh
// (a reload's fresh SSA name never exists at the other incoming edges
// of bi, which still carry id's original name).
func (c *Context) recordCarrier(bi, pred int, id ir.TempID, fresh ir.Temp) {
	if c.carrier[bi] == nil {
		c.carrier[bi] = map[ir.TempID]map[int]ir.Temp{}
	}
	if c.carrier[bi][id] == nil {
		c.carrier[bi][id] = map[int]ir.Temp{}
	}
	c.carrier[bi][id][pred] = fresh
}

// resolveCouplingPhis runs once every predecessor of bi has been
// coupled. For every temp that got a fresh carrier on at least one
// incoming edge but is resident (not spilled) entering bi, it inserts a
// linear phi reconciling each predecessor's carrier — its fresh reload
// temp where one was inserted, the original id unchanged otherwise —
// and rewrites bi's own instructions to read the phi's result instead
// of the original id, so every definition in the program keeps exactly
// one defining instruction.
func (c *Context) resolveCouplingPhis(bi int) {
	byID := c.carrier[bi]
	if len(byID) == 0 {
		return
	}
	b := c.p.Blocks[bi]

	for id, perPred := range byID {
		if c.spillEntry[bi][id] {
			continue
		}

		class := c.classOf(id)
		operands := make([]ir.Operand, len(b.LinearPreds))
		differs := false
		for i, pred := range b.LinearPreds {
			if fresh, ok := perPred[pred]; ok {
				operands[i] = ir.OperandOf(fresh)
				differs = true
				continue
			}
			operands[i] = ir.OperandOf(ir.Temp{ID: id, Class: class})
		}
		if !differs {
			continue
		}

		merged := c.p.AllocateTemp(class)
		c.classes[merged.ID] = class
		phi := ir.NewInstruction(ir.OpLinearPhi, len(operands), 1)
		copy(phi.Operands, operands)
		phi.Definitions[0] = ir.DefinitionOf(merged)

		n := 0
		for n < len(b.Instructions) && b.Instructions[n].IsPhi() {
			n++
		}
		b.Instructions = append(b.Instructions[:n:n], append([]*ir.Instruction{phi}, b.Instructions[n:]...)...)

		renameTemp(b.Instructions[n+1:], id, merged)
	}
}

// renameTemp rewrites every operand in instrs that reads id to read to
// instead; used after resolveCouplingPhis inserts a merge phi so the
// block's body keeps reading one consistent name for a temp that
// arrived under different names on different edges.
func renameTemp(instrs []*ir.Instruction, id ir.TempID, to ir.Temp) {
	for _, instr := range instrs {
		for oi, op := range instr.Operands {
			if op.IsTemp() && op.Temp().ID == id {
				op.SetTemp(to)
				instr.Operands[oi] = op
			}
		}
	}
}

func classesLiveAcross(c *Context, pred, bi int) map[ir.TempID]ir.RegClass {
	out := map[ir.TempID]ir.RegClass{}
	for id := range c.spillEntry[bi] {
		out[id] = c.classOf(id)
	}
	for id := range c.spillExit[pred] {
		out[id] = c.classOf(id)
	}
	return out
}

// isGenuineDivergentVGPR reports whether t holds a value that can differ
// per lane and isn't already exempted from the execution mask. Such a
// value can never be spilled onto a linear VGPR slot: a linear-VGPR
// write always lands in every lane's physical register regardless of
// EXEC, so it would silently overwrite an inactive lane's still-live
// spilled value with this store's garbage for that lane. Genuinely
// divergent VGPRs spill to scratch memory instead, via ordinary
// EXEC-respecting buffer instructions.
func isGenuineDivergentVGPR(t ir.Temp) bool {
	return t.Class.Type == ir.RegVGPR && !t.Class.Linear
}

func insertSpill(c *Context, b *ir.Block, t ir.Temp) {
	if isGenuineDivergentVGPR(t) {
		insertScratchStore(c, b, t)
		return
	}
	slotTemp := c.slotTemp(t)
	instr := ir.NewInstruction(ir.OpSpill, 1, 1)
	instr.Operands[0] = ir.OperandOf(t)
	instr.Definitions[0] = ir.DefinitionOf(slotTemp)
	insertAtEnd(b, instr)
}

func insertReload(c *Context, b *ir.Block, t ir.Temp) ir.Temp {
	fresh := c.p.AllocateTemp(t.Class)
	c.classes[fresh.ID] = t.Class

	if isGenuineDivergentVGPR(t) {
		insertScratchLoad(c, b, t, fresh)
		return fresh
	}
	slotTemp := c.slotTemp(t)
	instr := ir.NewInstruction(ir.OpReload, 1, 1)
	instr.Operands[0] = ir.OperandOf(slotTemp)
	instr.Definitions[0] = ir.DefinitionOf(fresh)
	insertAtEnd(b, instr)
	return fresh
}

// insertScratchStore/insertScratchLoad move a genuinely divergent VGPR to
// and from its private scratch-memory slot via MUBUF, so inactive lanes'
// memory contents are left untouched by the EXEC-respecting store.
func insertScratchStore(c *Context, b *ir.Block, t ir.Temp) {
	offset := c.scratchOffset(t)
	instr := ir.NewInstruction(ir.OpBufferStoreDword, 1, 0)
	instr.Operands[0] = ir.OperandOf(t)
	instr.MUBUF = &ir.MUBUFData{Offset: int16(offset), Offen: true, GLC: false}
	insertAtEnd(b, instr)
}

func insertScratchLoad(c *Context, b *ir.Block, t, fresh ir.Temp) {
	offset := c.scratchOffset(t)
	instr := ir.NewInstruction(ir.OpBufferLoadDword, 0, 1)
	instr.Definitions[0] = ir.DefinitionOf(fresh)
	instr.MUBUF = &ir.MUBUFData{Offset: int16(offset), Offen: true, GLC: false}
	insertAtEnd(b, instr)
}

// scratchOffset returns t's private byte offset into the per-wave
// scratch buffer, allocating a fresh 4-byte-per-component slot on first
// use.
func (c *Context) scratchOffset(t ir.Temp) int {
	if off, ok := c.scratch[t.ID]; ok {
		return off
	}
	off := c.nextScratch
	c.nextScratch += int(t.Class.Size) * 4
	c.scratch[t.ID] = off
	return off
}

func insertAtEnd(b *ir.Block, instr *ir.Instruction) {
	n := len(b.Instructions)
	if n > 0 && b.Instructions[n-1].IsBranch() {
		b.Instructions = append(b.Instructions[:n-1], instr, b.Instructions[n-1])
		return
	}
	b.Instructions = append(b.Instructions, instr)
}

// slotTemp returns the linear-VGPR-classed temp backing t's spill slot,
// allocating one on first use. Every spill/reload of t shares the same
// backing temp so later slot assignment sees one consistent value to
// color. Callers must have already excluded genuine divergent VGPRs via
// isGenuineDivergentVGPR.
func (c *Context) slotTemp(t ir.Temp) ir.Temp {
	if existing, ok := c.backing[t.ID]; ok {
		return existing
	}
	backing := c.p.AllocateTemp(ir.LinearVGPR(t.Class.Size))
	c.backing[t.ID] = backing
	return backing
}
