package asm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadervm/gcnback/compiler/asm"
	"github.com/shadervm/gcnback/compiler/ir"
)

func TestAssembleStraightLine(t *testing.T) {
	p := ir.NewProgram(ir.ChipVIPlus)
	b := p.CreateBlock()

	mov := ir.NewInstruction(ir.OpVMovB32, 1, 1)
	mov.Operands[0] = ir.ConstOperand(7)
	mov.Definitions[0] = ir.FixedDefinition(p.AllocateTemp(ir.V1), ir.FixedVGPR(0))
	b.Instructions = append(b.Instructions, mov)

	end := ir.NewInstruction(ir.OpSEndpgm, 0, 0)
	end.SOPP = &ir.SOPPData{Block: -1}
	b.Instructions = append(b.Instructions, end)

	words, err := asm.Assemble(context.Background(), p)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(words), 2)
}

func TestAssembleBranchFixup(t *testing.T) {
	p := ir.NewProgram(ir.ChipVIPlus)
	entry := p.CreateBlock()
	target := p.CreateBlock()
	entry.AddEdge(p, target.Index)

	br := ir.NewInstruction(ir.OpBranch, 0, 0)
	br.SOPP = &ir.SOPPData{Block: target.Index}
	entry.Instructions = append(entry.Instructions, br)

	end := ir.NewInstruction(ir.OpSEndpgm, 0, 0)
	end.SOPP = &ir.SOPPData{Block: -1}
	target.Instructions = append(target.Instructions, end)

	words, err := asm.Assemble(context.Background(), p)
	require.NoError(t, err)
	// s_branch, then the null export (2 words) fixupExports adds ahead of
	// s_endpgm since no block exports anything, then s_endpgm.
	require.Len(t, words, 4)

	rel := int16(uint16(words[0] & 0xffff))
	assert.EqualValues(t, 0, rel) // branch is immediately followed by its target
}
