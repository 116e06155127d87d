// Package live computes register demand and live-in sets for a compiled
// program by backward iterative dataflow over the program's dual CFG:
// one pass over logical edges tracks vector values, one pass over linear
// edges tracks scalar and linear-vgpr values.
package live

import (
	"context"

	"nikand.dev/go/heap"
	"tlog.app/go/tlog"

	"github.com/shadervm/gcnback/compiler/ir"
	"github.com/shadervm/gcnback/compiler/set"
)

// Result holds the outcome of liveness analysis: per-block live-in sets
// on both CFGs, and per-block peak register demand used to drive spilling
// and wave-count estimation.
type Result struct {
	LogicalLiveIn []set.Bits[ir.TempID]
	LinearLiveIn  []set.Bits[ir.TempID]

	VGPRDemand []uint16
	SGPRDemand []uint16

	MaxVGPR uint16
	MaxSGPR uint16
}

// jobs is a max-heap of block indices, ordered so blocks with a higher
// index (closer to program exit) are popped first; backward dataflow
// converges faster when processed roughly in reverse layout order.
type jobs struct {
	heap.Heap[int]
	dirty set.Bits[int]
}

func newJobs(n int) *jobs {
	j := &jobs{dirty: set.MakeBits[int](0)}
	j.Heap.Less = func(d []int, a, b int) bool { return d[a] > d[b] }
	for i := n - 1; i >= 0; i-- {
		j.push(i)
	}
	return j
}

func (j *jobs) push(b int) {
	if j.dirty.IsSet(b) {
		return
	}
	j.dirty.Set(b)
	j.Heap.Push(b)
}

func (j *jobs) pop() (int, bool) {
	if j.Heap.Len() == 0 {
		return 0, false
	}
	b := j.Heap.Pop()
	j.dirty.Clear(b)
	return b, true
}

// Analyze runs liveness for p and returns per-block live-in sets and
// register demand on both the logical and linear CFGs.
func Analyze(ctx context.Context, p *ir.Program) (res *Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "live: analyze", "blocks", len(p.Blocks))
	defer tr.Finish("err", &err)

	n := len(p.Blocks)
	res = &Result{
		LogicalLiveIn: make([]set.Bits[ir.TempID], n),
		LinearLiveIn:  make([]set.Bits[ir.TempID], n),
		VGPRDemand:    make([]uint16, n),
		SGPRDemand:    make([]uint16, n),
	}
	for i := 0; i < n; i++ {
		res.LogicalLiveIn[i] = set.MakeBits[ir.TempID](0)
		res.LinearLiveIn[i] = set.MakeBits[ir.TempID](0)
	}

	classes := classTable(p)

	runPass(p, res.LogicalLiveIn, res.VGPRDemand, classes,
		func(b *ir.Block) []int { return b.LogicalPreds },
		func(b *ir.Block) []int { return b.LogicalSuccs },
		func(t ir.Temp) bool { return t.Class.Type == ir.RegVGPR && !t.Class.Linear },
		ir.OpPhi)

	runPass(p, res.LinearLiveIn, res.SGPRDemand, classes,
		func(b *ir.Block) []int { return b.LinearPreds },
		func(b *ir.Block) []int { return b.LinearSuccs },
		func(t ir.Temp) bool { return t.Class.Type != ir.RegVGPR || t.Class.Linear },
		ir.OpLinearPhi)

	for i := 0; i < n; i++ {
		if res.VGPRDemand[i] > res.MaxVGPR {
			res.MaxVGPR = res.VGPRDemand[i]
		}
		if res.SGPRDemand[i] > res.MaxSGPR {
			res.MaxSGPR = res.SGPRDemand[i]
		}
	}

	tr.Printw("live: done", "max_vgpr", res.MaxVGPR, "max_sgpr", res.MaxSGPR)

	return res, nil
}

// runPass computes live-in sets and peak demand over one of the two CFGs,
// tracking only temps for which include returns true. phiOp names the
// phi opcode native to this CFG (p_phi for logical, p_linear_phi for
// linear); only phis of that kind get per-edge operand handling. A phi
// of the other kind is walked like any other instruction, so its tracked
// operands count as live within its own block.
func runPass(
	p *ir.Program,
	liveIn []set.Bits[ir.TempID],
	demand []uint16,
	classes map[ir.TempID]ir.RegClass,
	preds func(*ir.Block) []int,
	succs func(*ir.Block) []int,
	include func(ir.Temp) bool,
	phiOp ir.Opcode,
) {
	js := newJobs(len(p.Blocks))

	for {
		bi, ok := js.pop()
		if !ok {
			break
		}
		b := p.Blocks[bi]

		live := set.MakeBits[ir.TempID](0)
		for _, s := range succs(b) {
			live.Merge(liveIn[s])

			// Phi operands belonging to a successor's phi node are live
			// only along the edge from this predecessor, not throughout
			// this block; they get added explicitly below instead of via
			// the successor's full live-in set.
			for _, instr := range p.Blocks[s].Instructions {
				if instr.Opcode != phiOp {
					continue
				}
				live.Clear(instr.DefinedTemp().ID)
			}
		}

		for _, s := range succs(b) {
			edgeIdx := indexOf(preds(p.Blocks[s]), bi)
			if edgeIdx < 0 {
				continue
			}
			for _, instr := range p.Blocks[s].Instructions {
				if instr.Opcode != phiOp {
					continue
				}
				op := instr.Operands[edgeIdx]
				if op.IsTemp() && include(op.Temp()) {
					live.Set(op.Temp().ID)
				}
			}
		}

		var peak uint16
		cur := regSize(live, classes)
		if cur > peak {
			peak = cur
		}

		for ii := len(b.Instructions) - 1; ii >= 0; ii-- {
			instr := b.Instructions[ii]
			if instr.Opcode == phiOp {
				continue
			}

			// A definition with no later use never appears live going
			// backward, so clearing it here is a no-op for live itself —
			// but the instruction still writes it, occupying a register
			// for that one instant. Track that separately so it still
			// counts toward this instruction's peak demand.
			var deadDefSize uint16
			for _, d := range instr.Definitions {
				if d.Temp().IsNone() || !include(d.Temp()) {
					continue
				}
				if !live.IsSet(d.Temp().ID) {
					deadDefSize += uint16(classes[d.Temp().ID].Size)
				}
				live.Clear(d.Temp().ID)
			}
			for _, op := range instr.Operands {
				if op.IsTemp() && include(op.Temp()) {
					live.Set(op.Temp().ID)
				}
			}

			cur = regSize(live, classes) + deadDefSize
			if cur > peak {
				peak = cur
			}
		}

		if peak > demand[bi] {
			demand[bi] = peak
		}

		if !bitsEqual(liveIn[bi], live) {
			liveIn[bi] = live
			for _, pr := range preds(b) {
				js.push(pr)
			}
		}
	}
}

func indexOf(s []int, v int) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func bitsEqual(a, b set.Bits[ir.TempID]) bool {
	if a.Size() != b.Size() {
		return false
	}
	eq := true
	a.Range(func(k ir.TempID) bool {
		if !b.IsSet(k) {
			eq = false
			return false
		}
		return true
	})
	return eq
}

// regSize sums the register-class size of every tracked temp in live.
func regSize(live set.Bits[ir.TempID], classes map[ir.TempID]ir.RegClass) uint16 {
	var total uint16
	live.Range(func(id ir.TempID) bool {
		total += uint16(classes[id].Size)
		return true
	})
	return total
}

func classTable(p *ir.Program) map[ir.TempID]ir.RegClass {
	t := make(map[ir.TempID]ir.RegClass, p.NumTemps())
	for _, b := range p.Blocks {
		for _, instr := range b.Instructions {
			for _, d := range instr.Definitions {
				if !d.Temp().IsNone() {
					t[d.Temp().ID] = d.Temp().Class
				}
			}
		}
	}
	return t
}
