package ir

import (
	"tlog.app/go/errors"
)

// Validate checks the structural invariants a well-formed program must
// hold before it's handed to liveness/spilling/allocation: each temp has
// exactly one definition, phi operand counts match predecessor counts,
// register classes agree between a temp's definition and its uses, and
// every logical/linear successor lists the block among its predecessors
// on the same CFG. The reverse direction (every predecessor listing the
// block as a successor) is not checked.
//
// It does not check full SSA dominance (a use's block is dominated by its
// def's block) since multiple passes intentionally violate it
// transiently (coupling code insertion, trivial-phi removal) before
// repairing it; callers run Validate only at pipeline boundaries where
// the invariant is expected to hold again.
func Validate(p *Program) error {
	defOf := make(map[TempID]RegClass)
	defBlock := make(map[TempID]int)

	for _, b := range p.Blocks {
		for ii, instr := range b.Instructions {
			for _, d := range instr.Definitions {
				if d.Temp().IsNone() {
					continue
				}
				if prev, ok := defOf[d.Temp().ID]; ok {
					return errors.New("temp %d redefined (class %v then %v) in block %d instr %d", d.Temp().ID, prev, d.Temp().Class, b.Index, ii)
				}
				defOf[d.Temp().ID] = d.Temp().Class
				defBlock[d.Temp().ID] = b.Index
			}
		}
	}

	for _, b := range p.Blocks {
		for ii, instr := range b.Instructions {
			if instr.IsPhi() {
				preds := b.LogicalPreds
				if instr.Opcode == OpLinearPhi {
					preds = b.LinearPreds
				}
				if len(instr.Operands) != len(preds) {
					return errors.New("block %d: phi at instr %d has %d operands for %d preds", b.Index, ii, len(instr.Operands), len(preds))
				}
			}

			for oi, op := range instr.Operands {
				if !op.IsTemp() {
					continue
				}
				t := op.Temp()
				if t.IsNone() {
					continue
				}
				class, ok := defOf[t.ID]
				if !ok {
					return errors.New("block %d instr %d operand %d: temp %d has no definition", b.Index, ii, oi, t.ID)
				}
				if class != t.Class {
					return errors.New("block %d instr %d operand %d: temp %d used as %v but defined as %v", b.Index, ii, oi, t.ID, t.Class, class)
				}
				if op.HasFixedReg() {
					if err := checkAlignment(t.Class, op.PhysReg()); err != nil {
						return errors.Wrap(err, "block %d instr %d operand %d", b.Index, ii, oi)
					}
				}
			}

			for di, d := range instr.Definitions {
				if d.Temp().IsNone() || !d.HasFixedReg() {
					continue
				}
				if err := checkAlignment(d.Temp().Class, d.PhysReg()); err != nil {
					return errors.Wrap(err, "block %d instr %d definition %d", b.Index, ii, di)
				}
			}
		}
	}

	for _, b := range p.Blocks {
		for _, s := range b.LogicalSuccs {
			if !containsInt(p.Blocks[s].LogicalPreds, b.Index) {
				return errors.New("block %d has logical succ %d that doesn't list it as a logical pred", b.Index, s)
			}
		}
		for _, s := range b.LinearSuccs {
			if !containsInt(p.Blocks[s].LinearPreds, b.Index) {
				return errors.New("block %d has linear succ %d that doesn't list it as a linear pred", b.Index, s)
			}
		}
	}

	return nil
}

// checkAlignment verifies a fixed-register assignment respects class's
// required PhysReg stride (2-word sgprs on even registers, 4-or-more-word
// sgprs on multiples of 4): a misaligned fixed register would silently
// corrupt an adjacent register's contents once the hardware's multi-dword
// instructions operate on it.
func checkAlignment(class RegClass, reg PhysReg) error {
	align := class.Alignment()
	if align <= 1 {
		return nil
	}

	var index int
	switch class.Type {
	case RegVGPR:
		if !reg.IsVGPR() {
			return nil
		}
		index = reg.VGPRIndex()
	case RegSGPR:
		if reg.IsVGPR() || reg >= LiteralMarker {
			return nil
		}
		index = int(reg)
	default:
		return nil
	}

	if index%int(align) != 0 {
		return errors.New("class %v fixed to reg %d violates %d-register alignment", class, reg, align)
	}
	return nil
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
