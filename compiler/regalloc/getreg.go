package regalloc

import "github.com/shadervm/gcnback/compiler/ir"

// evictionBudget caps how many rounds of "evict a resident, try again"
// getReg will attempt before giving up. Each round emits a
// parallel-copy moving the evicted temp to some other free register, so
// an unbounded budget could in principle thrash; spilling upstream is
// supposed to have already brought demand within what the file can
// hold, so hitting the budget here means a genuine allocator bug rather
// than ordinary pressure.
const evictionBudget = 4

// getReg finds a physical register window for class, preferring (in
// order) a caller-supplied fixed location, then a free window, then an
// evicted window — relocating whatever's resident there via inserted
// parallel copies, choosing the aligned window that overlaps the fewest
// distinct residents.
func (a *Allocator) getReg(bi int, class ir.RegClass, fixed ir.PhysReg, hasFixed bool) (ir.PhysReg, []*ir.Instruction, bool) {
	f := a.fileFor(class)
	align := class.Alignment()
	size := class.Size
	if size == 0 {
		size = 1
	}

	if hasFixed {
		start := regIndex(class.Type, fixed)
		if f.isFreeWindow(start, size, align) {
			return fixed, nil, true
		}
	}

	if start, ok := f.findFreeWindow(size, align); ok {
		return physRegFor(class.Type, start), nil, true
	}

	var copies []*ir.Instruction
	for round := 0; round < evictionBudget; round++ {
		start := f.bestEvictionWindow(size, align)
		residents := f.residentsIn(start, size)
		if len(residents) == 0 {
			return physRegFor(class.Type, start), copies, true
		}

		ok := true
		for _, rid := range residents {
			rc := a.classOf(rid)
			rstart, _ := f.findFreeWindowExcluding(rc.Size, rc.Alignment(), start, int(size))
			if rstart < 0 {
				ok = false
				break
			}
			oldStart := a.locationOf(rid)
			f.free(oldStart, rc.Size)
			f.occupy(rstart, rc.Size, rid)
			a.setLocation(rid, rstart)

			copy := ir.NewInstruction(ir.OpParallelCopy, 1, 1)
			copy.Operands[0] = ir.FixedOperand(ir.Temp{ID: rid, Class: rc}, physRegFor(class.Type, oldStart))
			copy.Definitions[0] = ir.FixedDefinition(ir.Temp{ID: rid, Class: rc}, physRegFor(class.Type, rstart))
			copies = append(copies, copy)
		}
		if ok {
			return physRegFor(class.Type, start), copies, true
		}
	}

	return 0, copies, false
}

// findFreeWindowExcluding behaves like findFreeWindow but skips any
// window overlapping [excludeStart, excludeStart+excludeSize).
func (f *file) findFreeWindowExcluding(size uint8, align uint8, excludeStart, excludeSize int) (int, bool) {
	for start := 0; start+int(size) <= len(f.occupied); start += int(align) {
		if start < excludeStart+excludeSize && excludeStart < start+int(size) {
			continue
		}
		if f.isFreeWindow(start, size, align) {
			return start, true
		}
	}
	return -1, false
}

func regIndex(t ir.RegType, r ir.PhysReg) int {
	if t == ir.RegVGPR {
		return r.VGPRIndex()
	}
	return int(r)
}

func physRegFor(t ir.RegType, index int) ir.PhysReg {
	if t == ir.RegVGPR {
		return ir.FixedVGPR(index)
	}
	return ir.FixedSGPR(index)
}
