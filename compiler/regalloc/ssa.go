package regalloc

import "github.com/shadervm/gcnback/compiler/ir"

// trivialPhis finds phis whose operands, after following any
// already-removed trivial phi's replacement, all resolve to the same
// single value — these carry no information and coloring one would only
// waste a register and force an unnecessary copy at every predecessor.
// Removing them is a fixpoint: eliminating one trivial phi can make
// another phi that referenced it trivial too.
func trivialPhis(p *ir.Program) map[ir.TempID]ir.Temp {
	replacement := map[ir.TempID]ir.Temp{}

	resolve := func(t ir.Temp) ir.Temp {
		for {
			r, ok := replacement[t.ID]
			if !ok || r.ID == t.ID {
				return t
			}
			t = r
		}
	}

	changed := true
	for changed {
		changed = false
		for _, b := range p.Blocks {
			for _, instr := range b.Instructions {
				if !instr.IsPhi() {
					continue
				}
				def := instr.Definitions[0].Temp()
				if _, already := replacement[def.ID]; already {
					continue
				}

				var same ir.Temp
				trivial := true
				sameSet := false
				for _, op := range instr.Operands {
					if !op.IsTemp() {
						trivial = false
						break
					}
					v := resolve(op.Temp())
					if v.ID == def.ID {
						continue // self-reference through a loop: ignore
					}
					if !sameSet {
						same = v
						sameSet = true
					} else if v.ID != same.ID {
						trivial = false
						break
					}
				}

				if trivial && sameSet {
					replacement[def.ID] = same
					changed = true
				}
			}
		}
	}

	return replacement
}

// removeTrivialPhis deletes every phi found trivial by trivialPhis and
// rewrites all remaining operand references to it with its replacement
// value.
func removeTrivialPhis(p *ir.Program) {
	replacement := trivialPhis(p)
	if len(replacement) == 0 {
		return
	}

	resolve := func(t ir.Temp) ir.Temp {
		for {
			r, ok := replacement[t.ID]
			if !ok {
				return t
			}
			t = r
		}
	}

	for _, b := range p.Blocks {
		kept := b.Instructions[:0]
		for _, instr := range b.Instructions {
			if instr.IsPhi() {
				if _, removed := replacement[instr.Definitions[0].Temp().ID]; removed {
					continue
				}
			}
			for i, op := range instr.Operands {
				if op.IsTemp() {
					op.SetTemp(resolve(op.Temp()))
					instr.Operands[i] = op
				}
			}
			kept = append(kept, instr)
		}
		b.Instructions = kept
	}
}
