package spill

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/shadervm/gcnback/compiler/ir"
	"github.com/shadervm/gcnback/compiler/live"
)

// Options controls how aggressively Spill reduces register demand.
type Options struct {
	// TargetWaves caps the occupancy ramp in chooseTargets. Zero, like
	// any value of 8 or more, lets the ramp go up to 8 waves.
	TargetWaves uint16
}

// Spill inserts spill/reload code into p so its register demand fits the
// requested wave count, using res (from package live) to size each
// block's budget and rank candidates by next-use distance. It returns
// only an error; res is not updated to reflect the inserted code, so
// callers should not reuse res afterward.
func Spill(ctx context.Context, p *ir.Program, res *live.Result, opts Options) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "spill: run", "target_waves", opts.TargetWaves)
	defer tr.Finish("err", &err)

	targetVGPR, targetSGPR, spillsToVGPR, numWaves := chooseTargets(p.ChipClass, res.MaxVGPR, res.MaxSGPR, opts.TargetWaves)
	if res.MaxVGPR <= targetVGPR && res.MaxSGPR <= targetSGPR {
		tr.Printw("spill: demand already fits", "vgpr", res.MaxVGPR, "sgpr", res.MaxSGPR)
		return nil
	}

	c := newContext(p, res, targetVGPR, targetSGPR)
	c.spillsToVGPR = spillsToVGPR
	c.nextUseInfo = computeNextUseInfo(p)

	// Blocks are processed in layout order; loop headers were already
	// marked so initLiveInVars can defer back-edge predecessors until
	// the loop body's own spill decisions are known, then
	// fixLoopBackEdges reconciles what the back edge actually produced.
	for bi := range p.Blocks {
		c.initLiveInVars(bi)
		c.processBlock(bi)
	}
	c.fixLoopBackEdges()

	for bi, b := range p.Blocks {
		for _, pred := range b.LinearPreds {
			if pred < bi { // forward edge; back edges were coupled by fixLoopBackEdges
				c.addCouplingCode(pred, bi)
			}
		}
	}
	for bi := range p.Blocks {
		c.resolveCouplingPhis(bi)
	}

	c.assignSlots()
	c.lowerToLinearVGPRs()

	tr.Printw("spill: done", "slots", c.numSlots, "waves", numWaves, "spills_to_vgpr", spillsToVGPR)

	return nil
}

// chooseTargets runs the wave-count ramp: starting from the conservative
// one-wave budget (the whole vgpr file, as many sgprs as are physically
// addressable), it tries successively higher wave counts — capped at
// waves if that's nonzero, otherwise up through 8 — and keeps the
// highest one that still fits maxVGPR (vgpr spilling isn't supported,
// so a wave count that would need it is rejected outright) and whose
// sgpr shortfall can be absorbed by spilling into spillsToVGPR vgpr
// slots without itself pushing vgpr demand over that wave count's vgpr
// budget. spillsToVGPR is sized with extra headroom (+32 on top of the
// +63 rounding-up term) since the slot-coloring pass that follows isn't
// guaranteed to pack as tightly as this estimate assumes.
func chooseTargets(chip ir.ChipClass, maxVGPR, maxSGPR, waves uint16) (targetVGPR, targetSGPR uint16, spillsToVGPR int, numWaves uint16) {
	totalSGPR, maxAddressableSGPR := ir.DeviceParams(chip)
	const totalVGPR = 256

	limit := uint16(8)
	if waves > 0 && waves < limit {
		limit = waves
	}

	targetVGPR, targetSGPR, numWaves = totalVGPR, maxAddressableSGPR, 1
	spillsToVGPR = (int(maxSGPR) - int(maxAddressableSGPR) + 63) / 64

	for next := uint16(2); next <= limit; next++ {
		nextVGPR := (totalVGPR / next) &^ 3
		if maxVGPR > nextVGPR {
			break
		}

		nextSGPR := (totalSGPR / next) &^ 7
		if nextSGPR > maxAddressableSGPR {
			nextSGPR = maxAddressableSGPR
		}
		nextSGPR -= 2

		nextSpills := spillsToVGPR
		if maxSGPR > nextSGPR {
			nextSpills = (int(maxSGPR) - int(nextSGPR) + 63 + 32) / 64
			if uint16(nextSpills)+maxVGPR > nextVGPR {
				break
			}
		}

		targetVGPR, targetSGPR, spillsToVGPR, numWaves = nextVGPR, nextSGPR, nextSpills, next
	}

	return targetVGPR, targetSGPR, spillsToVGPR, numWaves
}

// fixLoopBackEdges revisits every loop header and reconciles its
// back-edge predecessors against the spill decisions made for the
// forward edges: a temp spilled somewhere in the loop body but live
// across the back edge needs coupling code on that edge too, now that
// the body's own spillExit set is known.
func (c *Context) fixLoopBackEdges() {
	for bi, b := range c.p.Blocks {
		if b.Kind&ir.BlockKindLoopHeader == 0 {
			continue
		}
		for _, pred := range b.LinearPreds {
			if pred <= bi {
				continue // not a back edge
			}
			c.addCouplingCode(pred, bi)
		}
	}
}
