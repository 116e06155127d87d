package asm

import "github.com/shadervm/gcnback/compiler/ir"

// lowerPseudos rewrites the pseudo-instructions remaining after register
// allocation into real opcodes the encoder understands: parallel copies
// and spill/reload pairs become plain moves, p_branch/p_cbranch become
// the scalar branch family, and the logical/linear scope markers are
// dropped since they carry no code of their own.
func lowerPseudos(p *ir.Program) {
	for _, b := range p.Blocks {
		out := make([]*ir.Instruction, 0, len(b.Instructions))
		for _, instr := range b.Instructions {
			switch instr.Opcode {
			case ir.OpLogicalStart, ir.OpLogicalEnd, ir.OpStartLinearVGPR, ir.OpEndLinearVGPR, ir.OpSplitVector, ir.OpCreateVector:
				continue

			case ir.OpParallelCopy, ir.OpSpill, ir.OpReload:
				out = append(out, lowerMove(instr)...)

			case ir.OpBranch:
				out = append(out, lowerUncondBranch(instr))

			case ir.OpCBranch:
				out = append(out, lowerCondBranch(instr))

			case ir.OpPhi, ir.OpLinearPhi:
				// should have been removed or coupled away before
				// reaching the assembler; drop defensively rather than
				// emit garbage.
				continue

			default:
				out = append(out, instr)
			}
		}
		b.Instructions = out
	}
}

// lowerMove expands a parallel-copy/spill/reload pseudo into one real
// move per register word for VGPRs, since a v2/v4 VGPR resident has no
// wider vector move; SGPR residents of two or more words get one
// s_mov_b64 per pair of words. Each move addresses the fixed register at
// its word's offset.
func lowerMove(instr *ir.Instruction) []*ir.Instruction {
	class := instr.Definitions[0].Temp().Class
	size := int(class.Size)
	if size < 1 {
		size = 1
	}

	op := ir.OpVMovB32
	step := 1
	if class.Type != ir.RegVGPR {
		op = ir.OpSMovB32
		if size >= 2 {
			op, step = ir.OpSMovB64, 2
		}
	}

	movs := make([]*ir.Instruction, 0, (size+step-1)/step)
	for word := 0; word < size; word += step {
		movs = append(movs, wordMove(op, instr.Operands[0], instr.Definitions[0], word))
	}
	return movs
}

// wordMove builds a move of src to dst, offsetting either side's fixed
// physical register by word when it has one: a multi-word value's later
// words live at consecutively numbered registers from its base.
func wordMove(op ir.Opcode, src ir.Operand, dst ir.Definition, word int) *ir.Instruction {
	if src.HasFixedReg() {
		src.SetFixedReg(src.PhysReg() + ir.PhysReg(word))
	}
	if dst.HasFixedReg() {
		dst.SetFixedReg(dst.PhysReg() + ir.PhysReg(word))
	}
	mov := ir.NewInstruction(op, 1, 1)
	mov.Operands[0] = src
	mov.Definitions[0] = dst
	return mov
}

func lowerUncondBranch(instr *ir.Instruction) *ir.Instruction {
	br := ir.NewInstruction(ir.OpSBranch, 0, 0)
	br.SOPP = instr.SOPP
	return br
}

func lowerCondBranch(instr *ir.Instruction) *ir.Instruction {
	op := ir.OpSCBranchVCCNZ
	br := ir.NewInstruction(op, 0, 0)
	br.SOPP = instr.SOPP
	return br
}
