// Package compiler sequences the backend pipeline: liveness, divergent
// bool-phi lowering, spilling, register allocation, and assembly.
package compiler

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/shadervm/gcnback/compiler/asm"
	"github.com/shadervm/gcnback/compiler/boolphi"
	"github.com/shadervm/gcnback/compiler/ir"
	"github.com/shadervm/gcnback/compiler/live"
	"github.com/shadervm/gcnback/compiler/regalloc"
	"github.com/shadervm/gcnback/compiler/spill"
)

// Options controls backend behavior that isn't inherent to the program
// itself: the target occupancy. The chip generation comes from the
// program's ChipClass.
type Options struct {
	TargetWaves uint16
}

// SelectProgram runs every pass up to and including register
// allocation, leaving p ready for assembly but not yet encoded. Callers
// that want to inspect or further transform the allocated IR (tests,
// disassembly round-trips) call this directly instead of Compile.
func SelectProgram(ctx context.Context, p *ir.Program, opts Options) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compiler: select", "chip", p.ChipClass)
	defer tr.Finish("err", &err)

	if err := ir.Validate(p); err != nil {
		return errors.Wrap(err, "validate input")
	}

	res, err := live.Analyze(ctx, p)
	if err != nil {
		return errors.Wrap(err, "live")
	}

	if err := boolphi.Lower(ctx, p); err != nil {
		return errors.Wrap(err, "boolphi")
	}

	// Bool-phi lowering inserts code, so demand has to be recomputed
	// before spilling sizes its budget against it.
	res, err = live.Analyze(ctx, p)
	if err != nil {
		return errors.Wrap(err, "live (post boolphi)")
	}

	if err := spill.Spill(ctx, p, res, spill.Options{TargetWaves: opts.TargetWaves}); err != nil {
		return errors.Wrap(err, "spill")
	}

	if err := regalloc.Allocate(ctx, p); err != nil {
		return errors.Wrap(err, "regalloc")
	}

	p.Config.NumVGPRs, p.Config.NumSGPRs = finalFootprint(p)
	p.Config.NumWaves = live.EstimateWaves(p.ChipClass, p.Config.NumVGPRs, p.Config.NumSGPRs)

	return nil
}

// EmitProgram assembles an already-selected program into its final word
// stream.
func EmitProgram(ctx context.Context, p *ir.Program) ([]uint32, error) {
	words, err := asm.Assemble(ctx, p)
	if err != nil {
		return nil, errors.Wrap(err, "assemble")
	}
	return words, nil
}

// Compile runs SelectProgram followed by EmitProgram, the common case
// for callers that just want machine code out.
func Compile(ctx context.Context, p *ir.Program, opts Options) (words []uint32, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compiler: compile")
	defer tr.Finish("err", &err)

	if err := SelectProgram(ctx, p, opts); err != nil {
		return nil, err
	}

	return EmitProgram(ctx, p)
}

func finalFootprint(p *ir.Program) (vgpr, sgpr uint16) {
	for _, b := range p.Blocks {
		for _, instr := range b.Instructions {
			for _, d := range instr.Definitions {
				if !d.HasFixedReg() {
					continue
				}
				top := uint16(d.PhysReg())
				if d.PhysReg().IsVGPR() {
					n := uint16(d.PhysReg().VGPRIndex()) + uint16(d.Temp().Class.Size)
					if d.Temp().Class.Size == 0 {
						n = uint16(d.PhysReg().VGPRIndex()) + 1
					}
					if n > vgpr {
						vgpr = n
					}
				} else {
					n := top + uint16(d.Temp().Class.Size)
					if d.Temp().Class.Size == 0 {
						n = top + 1
					}
					if n > sgpr {
						sgpr = n
					}
				}
			}
		}
	}
	return vgpr, sgpr
}
