package live_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadervm/gcnback/compiler/ir"
	"github.com/shadervm/gcnback/compiler/live"
)

func TestAnalyzeStraightLine(t *testing.T) {
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

	res, err := live.Analyze(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, 0, res.LogicalLiveIn[0].Size())
	// At the add, t1 is still read and the never-used t2 is written.
	assert.EqualValues(t, 2, res.VGPRDemand[0])
}

func TestAnalyzeAcrossBlocks(t *testing.T) {
	p := ir.NewProgram(ir.ChipVIPlus)
	entry := p.CreateBlock()
	exit := p.CreateBlock()
	entry.AddEdge(p, exit.Index)

	t1 := p.AllocateTemp(ir.V1)
	mov := ir.NewInstruction(ir.OpVMovB32, 1, 1)
	mov.Operands[0] = ir.ConstOperand(5)
	mov.Definitions[0] = ir.DefinitionOf(t1)
	entry.Instructions = append(entry.Instructions, mov)

	use := ir.NewInstruction(ir.OpVMovB32, 1, 1)
	use.Operands[0] = ir.OperandOf(t1)
	use.Definitions[0] = ir.DefinitionOf(p.AllocateTemp(ir.V1))
	exit.Instructions = append(exit.Instructions, use)

	res, err := live.Analyze(context.Background(), p)
	require.NoError(t, err)

	assert.True(t, res.LogicalLiveIn[exit.Index].IsSet(t1.ID))
	assert.False(t, res.LogicalLiveIn[entry.Index].IsSet(t1.ID))
}

func TestEstimateWavesShrinksWithDemand(t *testing.T) {
	low := live.EstimateWaves(ir.ChipVIPlus, 16, 16)
	high := live.EstimateWaves(ir.ChipVIPlus, 200, 16)
	assert.Greater(t, low, high)
}
