// Package asm turns an allocated program into a flat word stream,
// dispatching each instruction to its format-specific encoder, patching
// branch targets once every block's offset is known, and appending
// trailing literal words for constants that didn't fit the inline
// table.
package asm

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/shadervm/gcnback/compiler/ir"
)

// branchFixup records where in the word stream a branch's immediate
// lives and which block it targets, so a second pass can compute the
// relative offset once every block's starting word index is known.
type branchFixup struct {
	wordIndex int
	target    int
}

// Assemble lowers p's remaining pseudo-instructions and encodes every
// block into one contiguous word stream.
func Assemble(ctx context.Context, p *ir.Program) (words []uint32, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "asm: assemble", "blocks", len(p.Blocks))
	defer tr.Finish("err", &err)

	fixupExports(p)
	lowerPseudos(p)

	blockStart := make([]int, len(p.Blocks))
	var fixups []branchFixup

	for _, b := range p.Blocks {
		blockStart[b.Index] = len(words)

		for _, instr := range b.Instructions {
			enc, err := encodeInstruction(instr)
			if err != nil {
				return nil, errors.Wrap(err, "block %d", b.Index)
			}

			if instr.SOPP != nil && instr.SOPP.Block >= 0 {
				fixups = append(fixups, branchFixup{wordIndex: len(words), target: instr.SOPP.Block})
			}

			words = append(words, enc...)
		}
	}

	for _, fx := range fixups {
		if fx.target >= len(blockStart) {
			return nil, errors.New("asm: branch target block %d out of range", fx.target)
		}
		// SOPP immediates are signed word offsets relative to the
		// instruction following the branch itself.
		rel := int32(blockStart[fx.target]) - int32(fx.wordIndex+1)
		words[fx.wordIndex] = words[fx.wordIndex]&0xffff0000 | uint32(uint16(rel))
	}

	tr.Printw("asm: done", "words", len(words))

	return words, nil
}
