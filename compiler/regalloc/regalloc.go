package regalloc

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/shadervm/gcnback/compiler/ir"
)

// Allocator assigns physical registers to every temp in a program,
// walking blocks in layout order and freeing a temp's register the
// moment its last use has been processed.
type Allocator struct {
	p *ir.Program

	vgpr *file
	sgpr *file

	location map[ir.TempID]int // index within its class's file, cleared once freed
	assigned map[ir.TempID]ir.PhysReg // permanent record, never cleared
	classes  map[ir.TempID]ir.RegClass
	lastUse  map[ir.TempID]int // global sequence number of last use; temps never used are absent
}

// Allocate runs register allocation over p in place: it first removes
// trivial phis (so they never consume a register), then walks every
// block assigning registers, consulting an affinity hint at each
// definition to steer related temps toward the same register, and
// splicing in whatever parallel-copy instructions getReg needed to make
// room.
func Allocate(ctx context.Context, p *ir.Program) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "regalloc: run", "blocks", len(p.Blocks))
	defer tr.Finish("err", &err)

	removeTrivialPhis(p)

	totalSGPR, _ := ir.DeviceParams(p.ChipClass)
	a := &Allocator{
		p:        p,
		vgpr:     newFile(ir.RegVGPR, 256),
		sgpr:     newFile(ir.RegSGPR, totalSGPR),
		location: map[ir.TempID]int{},
		assigned: map[ir.TempID]ir.PhysReg{},
		classes:  map[ir.TempID]ir.RegClass{},
		lastUse:  map[ir.TempID]int{},
	}
	a.computeClassesAndLastUse()

	seq := 0
	for _, b := range p.Blocks {
		for ii := 0; ii < len(b.Instructions); ii++ {
			instr := b.Instructions[ii]

			var inserted []*ir.Instruction
			for di := range instr.Definitions {
				d := &instr.Definitions[di]
				t := d.Temp()
				if t.IsNone() {
					continue
				}

				fixedReg, hasFixed := d.PhysReg(), d.HasFixedReg()
				reusesInput := false
				if !hasFixed {
					if reg, ok := a.reuseInputHint(instr); ok {
						fixedReg, hasFixed, reusesInput = reg, true, true
					} else if reg, ok := a.splitVectorHint(instr, di); ok {
						fixedReg, hasFixed = reg, true
					} else if hint, ok := d.Hint(); ok {
						fixedReg, hasFixed = hint, true
					} else if hint, ok := a.affinityHint(instr); ok {
						fixedReg, hasFixed = hint, true
					}
				}

				reg, copies, ok := a.getReg(b.Index, t.Class, fixedReg, hasFixed)
				if !ok {
					return errors.New("block %d instr %d: out of registers for temp %d (class %v)", b.Index, ii, t.ID, t.Class)
				}
				inserted = append(inserted, copies...)

				a.markAssigned(t, reg)
				d.SetFixedReg(reg)
				if reusesInput {
					d.SetReusesInput(true)
				}
			}

			if len(inserted) > 0 {
				b.Instructions = append(b.Instructions[:ii], append(inserted, b.Instructions[ii:]...)...)
				ii += len(inserted)
			}

			promoteAddCoU32(instr)

			if !instr.IsPhi() {
				for oi := range instr.Operands {
					op := &instr.Operands[oi]
					if !op.IsTemp() || op.Temp().IsNone() {
						continue
					}
					loc, ok := a.location[op.Temp().ID]
					if ok {
						op.SetFixedReg(a.physRegOf(op.Temp().Class, loc))
					}
				}
			}

			seq++
			a.freeDeadAt(seq)
		}
	}

	a.resolvePhis()

	tr.Printw("regalloc: done")

	return nil
}

// resolvePhis replaces every phi still in the program with parallel
// copies at its predecessors: by this point every temp in the program,
// including loop-carried values defined after the phi in layout order,
// has a permanent register recorded in a.assigned, so operands that
// disagree with the phi's own register can finally be reconciled.
func (a *Allocator) resolvePhis() {
	for _, b := range a.p.Blocks {
		kept := b.Instructions[:0]
		for _, instr := range b.Instructions {
			if !instr.IsPhi() {
				kept = append(kept, instr)
				continue
			}

			preds := b.LogicalPreds
			if instr.Opcode == ir.OpLinearPhi {
				preds = b.LinearPreds
			}

			resultTemp := instr.Definitions[0].Temp()
			resultReg := a.assigned[resultTemp.ID]

			for i, predIdx := range preds {
				if i >= len(instr.Operands) {
					break
				}
				op := instr.Operands[i]
				if !op.IsTemp() || op.Temp().IsNone() {
					continue
				}
				operandReg, ok := a.assigned[op.Temp().ID]
				if !ok || operandReg == resultReg {
					continue
				}

				copyInstr := ir.NewInstruction(ir.OpParallelCopy, 1, 1)
				copyInstr.Operands[0] = ir.FixedOperand(op.Temp(), operandReg)
				copyInstr.Definitions[0] = ir.FixedDefinition(resultTemp, resultReg)
				appendBeforeBranch(a.p.Blocks[predIdx], copyInstr)
			}
		}
		b.Instructions = kept
	}
}

func appendBeforeBranch(b *ir.Block, instr *ir.Instruction) {
	n := len(b.Instructions)
	if n > 0 && b.Instructions[n-1].IsBranch() {
		b.Instructions = append(b.Instructions[:n-1], instr, b.Instructions[n-1])
		return
	}
	b.Instructions = append(b.Instructions, instr)
}

// affinityHint suggests a register for a parallel-copy or phi
// definition by looking at operands that already have an assigned
// location: reusing that location avoids an extra shuffle copy at the
// predecessor that produced it. Only operands of the matching class are
// considered, and only ones already colored (earlier in block layout
// order) offer a usable hint.
func (a *Allocator) affinityHint(instr *ir.Instruction) (ir.PhysReg, bool) {
	if !instr.IsPhi() && instr.Opcode != ir.OpParallelCopy {
		return 0, false
	}
	if len(instr.Definitions) != 1 {
		return 0, false
	}
	class := instr.Definitions[0].Temp().Class
	for _, op := range instr.Operands {
		if !op.IsTemp() || op.Temp().Class != class {
			continue
		}
		if loc, ok := a.location[op.Temp().ID]; ok {
			return a.physRegOf(class, loc), true
		}
	}
	return 0, false
}

// reuseInputHint implements the definition-placement policy pinning
// v_interp_p2_f32/v_mac_f32's result to the register already holding
// their third operand: both instructions write their result into that
// operand's lane in place on real hardware, so assigning the result
// anywhere else would need an extra copy to get the value there first.
func (a *Allocator) reuseInputHint(instr *ir.Instruction) (ir.PhysReg, bool) {
	if instr.Opcode != ir.OpVInterpP2F32 && instr.Opcode != ir.OpVMacF32 {
		return 0, false
	}
	if len(instr.Operands) < 3 {
		return 0, false
	}
	op := instr.Operands[2]
	if !op.IsTemp() || op.Temp().IsNone() {
		return 0, false
	}
	loc, ok := a.location[op.Temp().ID]
	if !ok {
		return 0, false
	}
	return a.physRegOf(op.Temp().Class, loc), true
}

// splitVectorHint implements the policy placing p_split_vector's di'th
// result at the sub-range of its source operand's register window that
// piece already occupies, so splitting a vector that's already resident
// in registers needs no copy at all.
func (a *Allocator) splitVectorHint(instr *ir.Instruction, di int) (ir.PhysReg, bool) {
	if instr.Opcode != ir.OpSplitVector || len(instr.Operands) == 0 {
		return 0, false
	}
	src := instr.Operands[0]
	if !src.IsTemp() || src.Temp().IsNone() {
		return 0, false
	}
	base, ok := a.location[src.Temp().ID]
	if !ok {
		return 0, false
	}

	offset := 0
	for i := 0; i < di; i++ {
		sz := int(instr.Definitions[i].Temp().Class.Size)
		if sz == 0 {
			sz = 1
		}
		offset += sz
	}

	class := instr.Definitions[di].Temp().Class
	f := a.fileFor(class)
	size := class.Size
	if size == 0 {
		size = 1
	}
	start := base + offset
	if start+int(size) > len(f.occupied) {
		return 0, false
	}
	return a.physRegOf(class, start), true
}

// promoteAddCoU32 switches a v_add_co_u32 to its VOP3A encoding once its
// carry-out definition landed anywhere but VCC: the plain VOP2 encoding
// hardwires the carry-out to VCC, so a second destination register
// picked by ordinary allocation is only reachable through the wider
// 3-operand encoding.
func promoteAddCoU32(instr *ir.Instruction) {
	if instr.Opcode != ir.OpVAddCoU32 {
		return
	}
	if len(instr.Definitions) < 2 {
		return
	}
	if instr.Definitions[1].PhysReg() == ir.VCC {
		return
	}
	if instr.VOP3A == nil {
		instr.VOP3A = &ir.VOP3AData{}
	}
	instr.Format |= ir.FormatVOP3A
}

func (a *Allocator) fileFor(class ir.RegClass) *file {
	if class.Type == ir.RegVGPR {
		return a.vgpr
	}
	return a.sgpr
}

func (a *Allocator) physRegOf(class ir.RegClass, loc int) ir.PhysReg {
	return physRegFor(class.Type, loc)
}

func (a *Allocator) classOf(id ir.TempID) ir.RegClass { return a.classes[id] }
func (a *Allocator) locationOf(id ir.TempID) int       { return a.location[id] }
func (a *Allocator) setLocation(id ir.TempID, loc int) { a.location[id] = loc }

func (a *Allocator) markAssigned(t ir.Temp, reg ir.PhysReg) {
	f := a.fileFor(t.Class)
	start := regIndex(t.Class.Type, reg)
	size := t.Class.Size
	if size == 0 {
		size = 1
	}
	f.occupy(start, size, t.ID)
	a.setLocation(t.ID, start)
	a.assigned[t.ID] = reg
}

func (a *Allocator) computeClassesAndLastUse() {
	seq := 0
	for _, b := range a.p.Blocks {
		for _, instr := range b.Instructions {
			for _, d := range instr.Definitions {
				if !d.Temp().IsNone() {
					a.classes[d.Temp().ID] = d.Temp().Class
				}
			}
			for _, op := range instr.Operands {
				if op.IsTemp() && !op.Temp().IsNone() {
					a.lastUse[op.Temp().ID] = seq
				}
			}
			seq++
		}
	}
}

func (a *Allocator) freeDeadAt(seq int) {
	for id, last := range a.lastUse {
		if last != seq-1 {
			continue
		}
		loc, ok := a.location[id]
		if !ok {
			continue
		}
		class := a.classes[id]
		size := class.Size
		if size == 0 {
			size = 1
		}
		a.fileFor(class).free(loc, size)
		delete(a.location, id)
	}
}
