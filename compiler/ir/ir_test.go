package ir_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadervm/gcnback/compiler/ir"
)

func TestInlineConstants(t *testing.T) {
	op := ir.ConstOperand(0)
	assert.True(t, op.HasFixedReg())
	assert.Equal(t, ir.PhysReg(128), op.PhysReg())

	op = ir.ConstOperand(64)
	assert.Equal(t, ir.PhysReg(192), op.PhysReg())

	op = ir.ConstOperand(65)
	assert.True(t, op.IsLiteral())

	op = ir.ConstOperand(0xffffffff) // -1
	assert.True(t, op.HasFixedReg())
	assert.Equal(t, ir.PhysReg(193), op.PhysReg())
}

func TestRegClassAlignment(t *testing.T) {
	assert.Equal(t, uint8(1), ir.SGPR(1).Alignment())
	assert.Equal(t, uint8(2), ir.SGPR(2).Alignment())
	assert.Equal(t, uint8(4), ir.SGPR(4).Alignment())
	assert.Equal(t, uint8(1), ir.VGPR(4).Alignment())
}

func TestValidateCatchesRedefinition(t *testing.T) {
	p := ir.NewProgram(ir.ChipVIPlus)
	b := p.CreateBlock()

	t1 := p.AllocateTemp(ir.V1)

	i1 := ir.NewInstruction(ir.OpVMovB32, 1, 1)
	i1.Operands[0] = ir.ConstOperand(1)
	i1.Definitions[0] = ir.DefinitionOf(t1)
	b.Instructions = append(b.Instructions, i1)

	i2 := ir.NewInstruction(ir.OpVMovB32, 1, 1)
	i2.Operands[0] = ir.ConstOperand(2)
	i2.Definitions[0] = ir.DefinitionOf(t1)
	b.Instructions = append(b.Instructions, i2)

	err := ir.Validate(p)
	require.Error(t, err)
}

func TestValidateAcceptsWellFormedProgram(t *testing.T) {
	p := ir.NewProgram(ir.ChipVIPlus)
	entry := p.CreateBlock()
	exit := p.CreateBlock()
	entry.AddEdge(p, exit.Index)

	t1 := p.AllocateTemp(ir.V1)
	mov := ir.NewInstruction(ir.OpVMovB32, 1, 1)
	mov.Operands[0] = ir.ConstOperand(7)
	mov.Definitions[0] = ir.DefinitionOf(t1)
	entry.Instructions = append(entry.Instructions, mov)

	use := ir.NewInstruction(ir.OpVMovB32, 1, 1)
	use.Operands[0] = ir.OperandOf(t1)
	use.Definitions[0] = ir.DefinitionOf(p.AllocateTemp(ir.V1))
	exit.Instructions = append(exit.Instructions, use)

	require.NoError(t, ir.Validate(p))
}

func TestPhiOperandCountMustMatchPreds(t *testing.T) {
	p := ir.NewProgram(ir.ChipVIPlus)
	a := p.CreateBlock()
	b := p.CreateBlock()
	merge := p.CreateBlock()
	a.AddEdge(p, merge.Index)
	b.AddEdge(p, merge.Index)

	phi := ir.NewInstruction(ir.OpPhi, 1, 1) // wrong: 2 preds, 1 operand
	phi.Definitions[0] = ir.DefinitionOf(p.AllocateTemp(ir.V1))
	merge.Instructions = append(merge.Instructions, phi)

	require.Error(t, ir.Validate(p))
}
