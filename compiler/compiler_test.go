package compiler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadervm/gcnback/compiler"
	"github.com/shadervm/gcnback/compiler/ir"
)

func TestCompileTrivialProgram(t *testing.T) {
	p := ir.NewProgram(ir.ChipVIPlus)
	b := p.CreateBlock()

	t1 := p.AllocateTemp(ir.V1)
	mov := ir.NewInstruction(ir.OpVMovB32, 1, 1)
	mov.Operands[0] = ir.ConstOperand(42)
	mov.Definitions[0] = ir.DefinitionOf(t1)
	b.Instructions = append(b.Instructions, mov)

	end := ir.NewInstruction(ir.OpSEndpgm, 0, 0)
	end.SOPP = &ir.SOPPData{Block: -1}
	b.Instructions = append(b.Instructions, end)

	words, err := compiler.Compile(context.Background(), p, compiler.Options{TargetWaves: 4})
	require.NoError(t, err)
	assert.NotEmpty(t, words)
	assert.Greater(t, p.Config.NumWaves, uint16(0))
}

func TestCompileWithDivergentBranch(t *testing.T) {
	p := ir.NewProgram(ir.ChipVIPlus)
	entry := p.CreateBlock()
	a := p.CreateBlock()
	b := p.CreateBlock()
	merge := p.CreateBlock()

	entry.AddEdge(p, a.Index)
	entry.AddEdge(p, b.Index)
	a.AddEdge(p, merge.Index)
	b.AddEdge(p, merge.Index)

	ta := p.AllocateTemp(ir.V1)
	movA := ir.NewInstruction(ir.OpVMovB32, 1, 1)
	movA.Operands[0] = ir.ConstOperand(1)
	movA.Definitions[0] = ir.DefinitionOf(ta)
	a.Instructions = append(a.Instructions, movA)

	tb := p.AllocateTemp(ir.V1)
	movB := ir.NewInstruction(ir.OpVMovB32, 1, 1)
	movB.Operands[0] = ir.ConstOperand(2)
	movB.Definitions[0] = ir.DefinitionOf(tb)
	b.Instructions = append(b.Instructions, movB)

	result := p.AllocateTemp(ir.V1)
	phi := ir.NewInstruction(ir.OpPhi, 2, 1)
	phi.Operands[0] = ir.OperandOf(ta)
	phi.Operands[1] = ir.OperandOf(tb)
	phi.Definitions[0] = ir.DefinitionOf(result)
	merge.Instructions = append(merge.Instructions, phi)

	end := ir.NewInstruction(ir.OpSEndpgm, 0, 0)
	end.SOPP = &ir.SOPPData{Block: -1}
	merge.Instructions = append(merge.Instructions, end)

	err := compiler.SelectProgram(context.Background(), p, compiler.Options{TargetWaves: 2})
	require.NoError(t, err)

	for _, instr := range merge.Instructions {
		assert.NotEqual(t, ir.OpPhi, instr.Opcode)
	}
}
