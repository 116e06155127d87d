package regalloc_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadervm/gcnback/compiler/ir"
	"github.com/shadervm/gcnback/compiler/regalloc"
)

func TestAllocateStraightLine(t *testing.T) {
	p := ir.NewProgram(ir.ChipVIPlus)
	b := p.CreateBlock()

	t1 := p.AllocateTemp(ir.V1)
	t2 := p.AllocateTemp(ir.V1)

	mov := ir.NewInstruction(ir.OpVMovB32, 1, 1)
	mov.Operands[0] = ir.ConstOperand(1)
	mov.Definitions[0] = ir.DefinitionOf(t1)
	b.Instructions = append(b.Instructions, mov)

	add := ir.NewInstruction(ir.OpVAddU32, 2, 1)
	add.Operands[0] = ir.OperandOf(t1)
	add.Operands[1] = ir.ConstOperand(2)
	add.Definitions[0] = ir.DefinitionOf(t2)
	b.Instructions = append(b.Instructions, add)

	err := regalloc.Allocate(context.Background(), p)
	require.NoError(t, err)

	assert.True(t, b.Instructions[0].Definitions[0].HasFixedReg())
	assert.True(t, b.Instructions[1].Operands[0].HasFixedReg())
	assert.True(t, b.Instructions[1].Definitions[0].HasFixedReg())
}

func TestAllocateRemovesTrivialPhi(t *testing.T) {
	p := ir.NewProgram(ir.ChipVIPlus)
	a := p.CreateBlock()
	b := p.CreateBlock()
	merge := p.CreateBlock()
	a.AddEdge(p, merge.Index)
	b.AddEdge(p, merge.Index)

	shared := p.AllocateTemp(ir.V1)
	defA := ir.NewInstruction(ir.OpVMovB32, 1, 1)
	defA.Operands[0] = ir.ConstOperand(1)
	defA.Definitions[0] = ir.DefinitionOf(shared)
	a.Instructions = append(a.Instructions, defA)

	copyB := ir.NewInstruction(ir.OpVMovB32, 1, 1)
	copyB.Operands[0] = ir.OperandOf(shared)
	copyB.Definitions[0] = ir.DefinitionOf(shared)
	b.Instructions = append(b.Instructions, copyB)

	phi := ir.NewInstruction(ir.OpPhi, 2, 1)
	phi.Operands[0] = ir.OperandOf(shared)
	phi.Operands[1] = ir.OperandOf(shared)
	result := p.AllocateTemp(ir.V1)
	phi.Definitions[0] = ir.DefinitionOf(result)
	merge.Instructions = append(merge.Instructions, phi)

	use := ir.NewInstruction(ir.OpVMovB32, 1, 1)
	use.Operands[0] = ir.OperandOf(result)
	use.Definitions[0] = ir.DefinitionOf(p.AllocateTemp(ir.V1))
	merge.Instructions = append(merge.Instructions, use)

	err := regalloc.Allocate(context.Background(), p)
	require.NoError(t, err)

	for _, instr := range merge.Instructions {
		assert.NotEqual(t, ir.OpPhi, instr.Opcode)
	}
}
