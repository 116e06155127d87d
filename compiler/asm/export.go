package asm

import "github.com/shadervm/gcnback/compiler/ir"

// nullExportDest is the export target the hardware treats as discarding
// its data: the GPU's output stage retires a wave once it has seen one
// export marked done, so a program that never writes any color, depth,
// or position data of its own (an optimized-away pixel shader left with
// nothing but a discard, say) still needs one.
const nullExportDest = 9

// fixupExports marks the last export instruction in program order
// done/valid_mask, so the output stage knows the wave won't send any
// more data after it, inserting a component-less null export at the
// end of the program if it never emits one of its own. Selection only
// ever builds exports with done/valid_mask left clear, since the real
// "is this the last one" answer depends on every block that could
// follow it, which isn't known until the whole program is laid out.
func fixupExports(p *ir.Program) {
	for bi := len(p.Blocks) - 1; bi >= 0; bi-- {
		b := p.Blocks[bi]
		for ii := len(b.Instructions) - 1; ii >= 0; ii-- {
			instr := b.Instructions[ii]
			if instr.Opcode != ir.OpExp {
				continue
			}
			if instr.Export == nil {
				instr.Export = &ir.ExportData{}
			}
			instr.Export.Done = true
			instr.Export.ValidMask = true
			return
		}
	}

	insertNullExport(p)
}

func insertNullExport(p *ir.Program) {
	last := p.Blocks[len(p.Blocks)-1]

	exp := ir.NewInstruction(ir.OpExp, 4, 0)
	for i := range exp.Operands {
		exp.Operands[i] = ir.UndefOperand(ir.V1)
	}
	exp.Export = &ir.ExportData{
		Dest:      nullExportDest,
		Done:      true,
		ValidMask: true,
	}

	n := len(last.Instructions)
	if n > 0 && isTerminator(last.Instructions[n-1]) {
		last.Instructions = append(last.Instructions[:n-1], exp, last.Instructions[n-1])
		return
	}
	last.Instructions = append(last.Instructions, exp)
}

// isTerminator reports whether instr ends the block in a way that must
// stay last: a branch with a target, or s_endpgm ending the program.
// A null export inserted after either would never execute.
func isTerminator(instr *ir.Instruction) bool {
	return instr.IsBranch() || instr.Opcode == ir.OpSEndpgm
}
