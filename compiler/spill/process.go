package spill

import "github.com/shadervm/gcnback/compiler/ir"

// resident tracks, per register class, which temps currently occupy a
// register while walking a block's instructions, plus a running count of
// how many words of each bank they occupy.
type resident struct {
	temps map[ir.TempID]ir.RegClass
	vgpr  uint16
	sgpr  uint16
}

func newResident() *resident {
	return &resident{temps: map[ir.TempID]ir.RegClass{}}
}

func (r *resident) add(t ir.Temp) {
	if t.IsNone() {
		return
	}
	if _, ok := r.temps[t.ID]; ok {
		return
	}
	r.temps[t.ID] = t.Class
	r.account(t.Class, 1)
}

func (r *resident) remove(id ir.TempID) {
	class, ok := r.temps[id]
	if !ok {
		return
	}
	delete(r.temps, id)
	r.account(class, -1)
}

func (r *resident) account(class ir.RegClass, sign int) {
	delta := uint16(int(class.Size) * sign)
	if class.Type == ir.RegVGPR {
		r.vgpr += delta
	} else {
		r.sgpr += delta
	}
}

// processBlock walks bi's instructions, reloading spilled operands just
// before they're used and spilling the resident value with the furthest
// next use whenever demand would exceed the block's register budget.
//
// A reload must not redefine the temp it reloads — that temp already has
// its one defining instruction somewhere earlier in the program. Instead
// each reload allocates a fresh temp and rename records it as the
// current stand-in for the original id; every later operand in the
// block referencing that id is rewritten to the fresh temp before this
// pass looks at whether it's spilled, so a value re-spilled and reloaded
// more than once in the same block gets one fresh name per reload.
func (c *Context) processBlock(bi int) {
	b := c.p.Blocks[bi]
	spilled := map[ir.TempID]bool{}
	for id := range c.spillEntry[bi] {
		spilled[id] = true
	}
	rename := map[ir.TempID]ir.TempID{}

	res := newResident()
	for id, class := range c.classes {
		if spilled[id] {
			continue
		}
		if isLiveIn(c, bi, id) {
			res.add(ir.Temp{ID: id, Class: class})
		}
	}

	out := make([]*ir.Instruction, 0, len(b.Instructions))

	for ii, instr := range b.Instructions {
		if instr.IsPhi() {
			out = append(out, instr)
			continue
		}

		for oi, op := range instr.Operands {
			if !op.IsTemp() || op.Temp().IsNone() {
				continue
			}
			orig := op.Temp()
			if newID, ok := rename[orig.ID]; ok {
				op.SetTemp(ir.Temp{ID: newID, Class: orig.Class})
				instr.Operands[oi] = op
				orig = op.Temp()
			}
			if !spilled[orig.ID] {
				continue
			}

			if isGenuineDivergentVGPR(orig) {
				fresh := c.p.AllocateTemp(orig.Class)
				c.classes[fresh.ID] = orig.Class
				out = appendScratchLoad(c, out, orig, fresh)
				op.SetTemp(fresh)
				instr.Operands[oi] = op
				rename[orig.ID] = fresh.ID
				delete(spilled, orig.ID)
				res.add(fresh)
				continue
			}

			fresh := c.p.AllocateTemp(orig.Class)
			c.classes[fresh.ID] = orig.Class
			reload := ir.NewInstruction(ir.OpReload, 1, 1)
			reload.Operands[0] = ir.OperandOf(c.slotTemp(orig))
			reload.Definitions[0] = ir.DefinitionOf(fresh)
			out = append(out, reload)

			op.SetTemp(fresh)
			instr.Operands[oi] = op
			rename[orig.ID] = fresh.ID
			delete(spilled, orig.ID)
			res.add(fresh)
		}

		c.makeRoom(bi, ii, instr, res, spilled, &out)

		out = append(out, instr)

		for _, d := range instr.Definitions {
			res.add(d.Temp())
		}
	}

	b.Instructions = out
	c.spillExit[bi] = spilled
}

// makeRoom evicts resident temps (furthest next use first) until the
// pending definitions of instr fit within the block's register budget.
func (c *Context) makeRoom(bi, ii int, instr *ir.Instruction, res *resident, spilled map[ir.TempID]bool, out *[]*ir.Instruction) {
	var addVGPR, addSGPR uint16
	for _, d := range instr.Definitions {
		if d.Temp().IsNone() {
			continue
		}
		if d.Temp().Class.Type == ir.RegVGPR {
			addVGPR += uint16(d.Temp().Class.Size)
		} else {
			addSGPR += uint16(d.Temp().Class.Size)
		}
	}

	keepLive := map[ir.TempID]bool{}
	for _, op := range instr.Operands {
		if op.IsTemp() {
			keepLive[op.Temp().ID] = true
		}
	}

	for res.vgpr+addVGPR > c.targetVGPR {
		victim, ok := c.furthestUse(bi, res, ir.RegVGPR, keepLive)
		if !ok {
			break
		}
		c.evict(bi, victim, res, spilled, out)
	}
	for res.sgpr+addSGPR > c.targetSGPR {
		victim, ok := c.furthestUse(bi, res, ir.RegSGPR, keepLive) // anything not vgpr
		if !ok {
			break
		}
		c.evict(bi, victim, res, spilled, out)
	}
}

func (c *Context) furthestUse(bi int, res *resident, bank ir.RegType, keepLive map[ir.TempID]bool) (ir.TempID, bool) {
	best := ir.TempID(0)
	bestDist := -1
	found := false
	for id, class := range res.temps {
		if keepLive[id] {
			continue
		}
		if bank == ir.RegVGPR && class.Type != ir.RegVGPR {
			continue
		}
		if bank != ir.RegVGPR && class.Type == ir.RegVGPR {
			continue
		}
		d := c.distanceOf(bi, id)
		if !found || d > bestDist {
			found = true
			best = id
			bestDist = d
		}
	}
	return best, found
}

func (c *Context) evict(bi int, id ir.TempID, res *resident, spilled map[ir.TempID]bool, out *[]*ir.Instruction) {
	t := ir.Temp{ID: id, Class: c.classOf(id)}

	if isGenuineDivergentVGPR(t) {
		*out = appendScratchStore(c, *out, t)
	} else {
		spillInstr := ir.NewInstruction(ir.OpSpill, 1, 1)
		spillInstr.Operands[0] = ir.OperandOf(t)
		spillInstr.Definitions[0] = ir.DefinitionOf(c.slotTemp(t))
		*out = append(*out, spillInstr)
	}

	for other := range spilled {
		c.extraEdges = append(c.extraEdges, [2]ir.TempID{id, other})
	}

	res.remove(id)
	spilled[id] = true
}

// appendScratchStore/appendScratchLoad mirror insertScratchStore/
// insertScratchLoad but append to an instruction slice being built up
// in place rather than splicing into an existing block before its
// trailing branch.
func appendScratchStore(c *Context, out []*ir.Instruction, t ir.Temp) []*ir.Instruction {
	instr := ir.NewInstruction(ir.OpBufferStoreDword, 1, 0)
	instr.Operands[0] = ir.OperandOf(t)
	instr.MUBUF = &ir.MUBUFData{Offset: int16(c.scratchOffset(t)), Offen: true}
	return append(out, instr)
}

func appendScratchLoad(c *Context, out []*ir.Instruction, t, fresh ir.Temp) []*ir.Instruction {
	instr := ir.NewInstruction(ir.OpBufferLoadDword, 0, 1)
	instr.Definitions[0] = ir.DefinitionOf(fresh)
	instr.MUBUF = &ir.MUBUFData{Offset: int16(c.scratchOffset(t)), Offen: true}
	return append(out, instr)
}

func isLiveIn(c *Context, bi int, id ir.TempID) bool {
	return c.live.LogicalLiveIn[bi].IsSet(id) || c.live.LinearLiveIn[bi].IsSet(id)
}
