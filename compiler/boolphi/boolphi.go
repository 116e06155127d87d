// Package boolphi rewrites phi nodes whose result is a divergent boolean
// into explicit per-lane mask arithmetic on the linear CFG. A uniform
// 1-bit scalar (s1) phi needs no rewriting: every lane that reaches the
// merge agrees on the value already. A phi whose sources disagree across
// lanes has to widen to a 2-scalar exec-shaped mask (s2) and be rebuilt
// from the linear predecessors that carried each lane's exec bit.
package boolphi

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/shadervm/gcnback/compiler/ir"
)

// phiUse names one operand slot of one still-being-built linear phi: the
// block it lives in and the temp id it defines. A single source value can
// feed several such slots (fan-out through nested merges), so each is
// tracked with a bitmask of which operand indices it currently backs.
type phiUse struct {
	block  int
	phiDef ir.TempID
}

// ssaState is the recursive SSA value lookup used to rebuild one phi's
// divergent boolean result at an arbitrary point in the linear CFG: it
// inserts incomplete linear phis optimistically at merge blocks and
// patches their operands later, once a predecessor's value changes, via
// the phis index (mirroring aco_lower_bool_phis.cpp's ssa_state exactly —
// one fresh instance per phi being lowered, not shared across phis).
type ssaState struct {
	p      *ir.Program
	latest map[int]ir.TempID
	phis   map[ir.TempID]map[phiUse]uint64
}

func newSSAState(p *ir.Program) *ssaState {
	return &ssaState{
		p:      p,
		latest: make(map[int]ir.TempID),
		phis:   make(map[ir.TempID]map[phiUse]uint64),
	}
}

// getSSA returns the value live at the end of block, or (_, true) if
// block has no linear predecessor yet to carry one (the undefined case:
// there's nothing to merge with, so the caller falls back to a plain
// mov instead of combining with a prior value).
func (s *ssaState) getSSA(block int) (ir.Temp, bool) {
	if id, ok := s.latest[block]; ok {
		return ir.Temp{ID: id, Class: ir.S2}, false
	}

	b := s.p.Blocks[block]

	switch len(b.LinearPreds) {
	case 0:
		return ir.Temp{}, true
	case 1:
		return s.getSSA(b.LinearPreds[0])
	}

	res := s.p.AllocateTemp(ir.S2)
	s.latest[block] = res.ID

	phi := ir.NewInstruction(ir.OpLinearPhi, len(b.LinearPreds), 1)
	for i, pred := range b.LinearPreds {
		val, undef := s.getSSA(pred)
		if undef {
			phi.Operands[i] = ir.UndefOperand(ir.S2)
			continue
		}
		phi.Operands[i] = ir.OperandOf(val)
		s.addUse(val.ID, phiUse{block, res.ID}, i)
	}
	phi.Definitions[0] = ir.DefinitionOf(res)

	b.Instructions = append([]*ir.Instruction{phi}, b.Instructions...)

	return res, false
}

// writeSSA records block's new current value, then propagates the change
// into every incomplete linear phi that was backed by block's previous
// value (previousValid false means block had none — the first write).
func (s *ssaState) writeSSA(block int, previous ir.TempID, previousValid bool) ir.Temp {
	id := s.p.AllocateTemp(ir.S2)
	s.latest[block] = id.ID

	if previousValid {
		uses := s.phis[previous]
		delete(s.phis, previous)
		for use, mask := range uses {
			s.updatePhi(use.block, use.phiDef, mask)
		}
	}

	return id
}

func (s *ssaState) addUse(src ir.TempID, use phiUse, operand int) {
	if s.phis[src] == nil {
		s.phis[src] = make(map[phiUse]uint64)
	}
	s.phis[src][use] |= uint64(1) << uint(operand)
}

// updatePhi re-resolves the operands named by mask on the linear phi
// defining phiDef in block, now that one of its sources has a newer
// value recorded in s.latest.
func (s *ssaState) updatePhi(block int, phiDef ir.TempID, mask uint64) {
	b := s.p.Blocks[block]
	for _, instr := range b.Instructions {
		if instr.Opcode != ir.OpLinearPhi {
			if !instr.IsPhi() {
				break
			}
			continue
		}
		if instr.Definitions[0].Temp().ID != phiDef {
			continue
		}

		for i := 0; i < len(instr.Operands) && i < 64; i++ {
			if mask&(uint64(1)<<uint(i)) == 0 {
				continue
			}
			val, undef := s.getSSA(b.LinearPreds[i])
			if undef {
				instr.Operands[i] = ir.UndefOperand(ir.S2)
				continue
			}
			instr.Operands[i] = ir.OperandOf(val)
			s.addUse(val.ID, phiUse{block, phiDef}, i)
		}
		return
	}
}

// isDivergentBoolPhi reports whether a phi result of this class needs
// per-lane mask rebuilding rather than a plain value merge: a uniform
// single-bit scalar (s1) is already lane-agnostic, so only the 2-scalar
// exec-shaped mask class qualifies.
func isDivergentBoolPhi(i *ir.Instruction) bool {
	return i.Opcode == ir.OpPhi && len(i.Definitions) == 1 && i.Definitions[0].Temp().Class == ir.S2
}

// Lower rewrites every divergent boolean phi in p into linear mask
// arithmetic, in block order so a phi's own result is available to
// later phis that reference it.
func Lower(ctx context.Context, p *ir.Program) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "boolphi: lower")
	defer tr.Finish("err", &err)

	count := 0

	for _, b := range p.Blocks {
		n := 0
		for n < len(b.Instructions) && b.Instructions[n].IsPhi() {
			n++
		}
		leading := b.Instructions[:n]

		// Detach the leading phis from the block before lowering any of
		// them: lowerOne can recurse into this same block (get_ssa
		// inserting a fresh linear phi at a merge with more than one
		// linear predecessor) and prepends directly onto b.Instructions.
		// Scanning that same slice by index while it's being mutated
		// underneath would skip or reprocess entries, so give the
		// lowering calls a private, already-copied tail to prepend onto.
		b.Instructions = append([]*ir.Instruction(nil), b.Instructions[n:]...)

		var kept []*ir.Instruction
		for _, instr := range leading {
			if !isDivergentBoolPhi(instr) {
				kept = append(kept, instr)
				continue
			}

			repl, err := lowerOne(p, b, instr)
			if err != nil {
				return errors.Wrap(err, "block %d", b.Index)
			}
			kept = append(kept, repl)
			count++
		}

		b.Instructions = append(kept, b.Instructions...)
	}

	tr.Printw("boolphi: lowered", "count", count)

	return nil
}

// lowerOne rebuilds a single divergent phi's result as exec-masked
// arithmetic and returns the replacement instruction (a plain s_mov_b64
// into the phi's original result temp) that takes the phi's place.
//
// For each logical predecessor, in order: widen an s1 source to s2 via
// s_cselect_b64 -1, 0, src; look up the mask value already live at that
// predecessor on the linear CFG (get_ssa); and if one exists, combine it
// with the new source gated by EXEC — cur_mask = (old_mask & ~EXEC) |
// (phi_src & EXEC), via s_andn2_b64 / s_and_b64 / s_or_b64 — otherwise
// just move the source in (the first predecessor on a path has no prior
// mask to preserve bits from).
func lowerOne(p *ir.Program, merge *ir.Block, phi *ir.Instruction) (*ir.Instruction, error) {
	if len(phi.Operands) != len(merge.LogicalPreds) {
		return nil, errors.New("phi operand count %d does not match logical pred count %d", len(phi.Operands), len(merge.LogicalPreds))
	}

	state := newSSAState(p)

	for i, predIdx := range merge.LogicalPreds {
		pred := p.Blocks[predIdx]
		op := phi.Operands[i]

		var phiSrc ir.Temp
		switch {
		case op.IsTemp() && op.Temp().Class == ir.S1:
			widened := p.AllocateTemp(ir.S2)
			cselect := ir.NewInstruction(ir.OpSCSelectB64, 3, 1)
			cselect.Operands[0] = ir.ConstOperand(0xffffffff) // -1: all lanes true
			cselect.Operands[1] = ir.ConstOperand(0)
			cselect.Operands[2] = ir.FixedOperand(op.Temp(), ir.SCCReg)
			cselect.Definitions[0] = ir.DefinitionOf(widened)
			insertBeforeLogicalEnd(pred, cselect)
			phiSrc = widened
		case op.IsTemp():
			phiSrc = op.Temp()
		default:
			// Constant true/false operand: materialize it directly as a
			// mask value (EXEC for true, zero for false) so the rest of
			// the chain can treat it like any other s2 source.
			widened := p.AllocateTemp(ir.S2)
			mov := ir.NewInstruction(ir.OpSMovB64, 1, 1)
			if op.IsConst() && op.ConstValue() != 0 {
				mov.Operands[0] = ir.FixedOperand(ir.Temp{Class: ir.S2}, ir.EXEC)
			} else {
				mov.Operands[0] = ir.ConstOperand(0)
			}
			mov.Definitions[0] = ir.DefinitionOf(widened)
			insertBeforeLogicalEnd(pred, mov)
			phiSrc = widened
		}

		cur, curUndef := state.getSSA(predIdx)
		var prevID ir.TempID
		if !curUndef {
			prevID = cur.ID
		}
		newCur := state.writeSSA(predIdx, prevID, !curUndef)

		if curUndef {
			mov := ir.NewInstruction(ir.OpSMovB64, 1, 1)
			mov.Operands[0] = ir.OperandOf(phiSrc)
			mov.Definitions[0] = ir.DefinitionOf(newCur)
			insertBeforeLogicalEnd(pred, mov)
			continue
		}

		keepOld := p.AllocateTemp(ir.S2)
		andn2 := ir.NewInstruction(ir.OpSAndN2B64, 2, 1)
		andn2.Operands[0] = ir.OperandOf(cur)
		andn2.Operands[1] = ir.FixedOperand(ir.Temp{Class: ir.S2}, ir.EXEC)
		andn2.Definitions[0] = ir.DefinitionOf(keepOld)
		insertBeforeLogicalEnd(pred, andn2)

		takeNew := p.AllocateTemp(ir.S2)
		and := ir.NewInstruction(ir.OpSAndB64, 2, 1)
		and.Operands[0] = ir.OperandOf(phiSrc)
		and.Operands[1] = ir.FixedOperand(ir.Temp{Class: ir.S2}, ir.EXEC)
		and.Definitions[0] = ir.DefinitionOf(takeNew)
		insertBeforeLogicalEnd(pred, and)

		or := ir.NewInstruction(ir.OpSOrB64, 2, 1)
		or.Operands[0] = ir.OperandOf(keepOld)
		or.Operands[1] = ir.OperandOf(takeNew)
		or.Definitions[0] = ir.DefinitionOf(newCur)
		insertBeforeLogicalEnd(pred, or)
	}

	final, undef := state.getSSA(merge.Index)

	copyInstr := ir.NewInstruction(ir.OpSMovB64, 1, 1)
	if undef {
		copyInstr.Operands[0] = ir.UndefOperand(ir.S2)
	} else {
		copyInstr.Operands[0] = ir.OperandOf(final)
	}
	copyInstr.Definitions[0] = phi.Definitions[0]

	return copyInstr, nil
}

// insertBeforeBranch appends instr to b just before its trailing branch,
// or at the end if b has no branch (falls through to the only successor).
func insertBeforeBranch(b *ir.Block, instr *ir.Instruction) {
	n := len(b.Instructions)
	if n > 0 && b.Instructions[n-1].IsBranch() {
		b.Instructions = append(b.Instructions[:n-1], instr, b.Instructions[n-1])
		return
	}
	b.Instructions = append(b.Instructions, instr)
}

// insertBeforeLogicalEnd appends instr to b just before its p_logical_end
// marker, used for values that must be computed while the block's
// logical-CFG successor set is still in scope (before control flow
// re-converges to the linear CFG).
func insertBeforeLogicalEnd(b *ir.Block, instr *ir.Instruction) {
	for i := len(b.Instructions) - 1; i >= 0; i-- {
		if b.Instructions[i].Opcode == ir.OpLogicalEnd {
			b.Instructions = append(b.Instructions[:i], append([]*ir.Instruction{instr}, b.Instructions[i:]...)...)
			return
		}
	}
	insertBeforeBranch(b, instr)
}
