package boolphi_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadervm/gcnback/compiler/boolphi"
	"github.com/shadervm/gcnback/compiler/ir"
)

func TestLowerDivergentBoolPhi(t *testing.T) {
	p := ir.NewProgram(ir.ChipVIPlus)
	a := p.CreateBlock()
	b := p.CreateBlock()
	merge := p.CreateBlock()
	a.AddEdge(p, merge.Index)
	b.AddEdge(p, merge.Index)

	ta := p.AllocateTemp(ir.S2)
	tb := p.AllocateTemp(ir.S2)

	defA := ir.NewInstruction(ir.OpSMovB64, 1, 1)
	defA.Operands[0] = ir.ConstOperand(1)
	defA.Definitions[0] = ir.DefinitionOf(ta)
	a.Instructions = append(a.Instructions, defA)

	defB := ir.NewInstruction(ir.OpSMovB64, 1, 1)
	defB.Operands[0] = ir.ConstOperand(0)
	defB.Definitions[0] = ir.DefinitionOf(tb)
	b.Instructions = append(b.Instructions, defB)

	result := p.AllocateTemp(ir.S2)
	phi := ir.NewInstruction(ir.OpPhi, 2, 1)
	phi.Operands[0] = ir.OperandOf(ta)
	phi.Operands[1] = ir.OperandOf(tb)
	phi.Definitions[0] = ir.DefinitionOf(result)
	merge.Instructions = append(merge.Instructions, phi)

	err := boolphi.Lower(context.Background(), p)
	require.NoError(t, err)

	for _, instr := range merge.Instructions {
		assert.NotEqual(t, ir.OpPhi, instr.Opcode)
	}
	assert.NotEmpty(t, merge.Instructions)
}

func TestLowerLeavesUniformPhiAlone(t *testing.T) {
	p := ir.NewProgram(ir.ChipVIPlus)
	a := p.CreateBlock()
	b := p.CreateBlock()
	merge := p.CreateBlock()
	a.AddEdge(p, merge.Index)
	b.AddEdge(p, merge.Index)

	phi := ir.NewInstruction(ir.OpPhi, 2, 1)
	phi.Operands[0] = ir.OperandOf(p.AllocateTemp(ir.S1))
	phi.Operands[1] = ir.OperandOf(p.AllocateTemp(ir.S1))
	phi.Definitions[0] = ir.DefinitionOf(p.AllocateTemp(ir.S1))
	merge.Instructions = append(merge.Instructions, phi)

	require.NoError(t, boolphi.Lower(context.Background(), p))
	require.Len(t, merge.Instructions, 1)
	assert.Equal(t, ir.OpPhi, merge.Instructions[0].Opcode)
}
