package main

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/shadervm/gcnback/compiler"
	"github.com/shadervm/gcnback/compiler/ir"
)

func main() {
	compileCmd := &cli.Command{
		Name:   "compile",
		Action: compileAct,
		Args:   cli.Args{},
	}

	disasmCmd := &cli.Command{
		Name:   "disasm",
		Action: disasmAct,
		Args:   cli.Args{},
	}

	app := &cli.Command{
		Name:        "gcnasm",
		Description: "gcnasm drives the GCN/RDNA shader backend over gob-encoded ir.Program fixtures",
		Commands: []*cli.Command{
			compileCmd,
			disasmCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

// compileAct loads each argument as a gob-encoded ir.Program, runs it
// through the full backend pipeline, and hex-dumps the resulting word
// stream. There's no front end in scope here: fixtures are expected to
// already be in IR form, the same way the test suite builds them by
// hand.
func compileAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		p, err := loadProgram(a)
		if err != nil {
			return errors.Wrap(err, "load %v", a)
		}

		words, err := compiler.Compile(ctx, p, compiler.Options{TargetWaves: 0})
		if err != nil {
			return errors.Wrap(err, "compile %v", a)
		}

		fmt.Printf("%v: %d words, %d VGPRs, %d SGPRs, %d waves\n",
			a, len(words), p.Config.NumVGPRs, p.Config.NumSGPRs, p.Config.NumWaves)
		dumpWords(words)
	}

	return nil
}

// disasmAct loads each argument, runs it only through selection, then
// hex-dumps the assembled word stream without reporting occupancy — a
// quicker round-trip for inspecting what SelectProgram would emit.
func disasmAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		p, err := loadProgram(a)
		if err != nil {
			return errors.Wrap(err, "load %v", a)
		}

		if err := compiler.SelectProgram(ctx, p, compiler.Options{TargetWaves: 0}); err != nil {
			return errors.Wrap(err, "select %v", a)
		}

		words, err := compiler.EmitProgram(ctx, p)
		if err != nil {
			return errors.Wrap(err, "emit %v", a)
		}

		fmt.Printf("%v:\n", a)
		dumpWords(words)
	}

	return nil
}

func loadProgram(path string) (*ir.Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer f.Close()

	var p ir.Program
	if err := gob.NewDecoder(f).Decode(&p); err != nil {
		return nil, errors.Wrap(err, "decode")
	}

	return &p, nil
}

func dumpWords(words []uint32) {
	for i, w := range words {
		fmt.Printf("%04x: %08x\n", i, w)
	}
}
