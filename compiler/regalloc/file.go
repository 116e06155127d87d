// Package regalloc assigns physical registers to every SSA temp in a
// spilled program, following the SSA-based coloring scheme: blocks are
// visited in layout order, each definition picks a register via a
// two-level free-region search with an eviction budget, trivial phis
// (all operands already the same value) are removed by recursive SSA
// lookup rather than ever being colored, and an affinity hint consulted
// at each definition tries to give related temps (phi operands/results, copy source/dest) the
// same register so no shuffle code is needed at block boundaries.
package regalloc

import "github.com/shadervm/gcnback/compiler/ir"

// file models one register bank as a flat array of occupancy: index i
// holds the id of the temp currently assigned physical register i, or 0
// if free.
type file struct {
	occupied []ir.TempID
	class    ir.RegType
}

func newFile(class ir.RegType, size uint16) *file {
	return &file{occupied: make([]ir.TempID, size), class: class}
}

func (f *file) isFreeWindow(start int, size uint8, align uint8) bool {
	if start%int(align) != 0 {
		return false
	}
	if start+int(size) > len(f.occupied) {
		return false
	}
	for i := start; i < start+int(size); i++ {
		if f.occupied[i] != 0 {
			return false
		}
	}
	return true
}

// findFreeWindow scans low-to-high for the first window of size
// registers, aligned to align, entirely free. This is the "cheap" first
// level of the two-level search; getReg falls back to eviction only when
// this fails.
func (f *file) findFreeWindow(size uint8, align uint8) (int, bool) {
	for start := 0; start+int(size) <= len(f.occupied); start += int(align) {
		if f.isFreeWindow(start, size, align) {
			return start, true
		}
	}
	return 0, false
}

func (f *file) occupy(start int, size uint8, id ir.TempID) {
	for i := start; i < start+int(size); i++ {
		f.occupied[i] = id
	}
}

func (f *file) free(start int, size uint8) {
	for i := start; i < start+int(size); i++ {
		f.occupied[i] = 0
	}
}

// residentsIn returns the distinct temp ids occupying any register in
// [start, start+size).
func (f *file) residentsIn(start int, size uint8) []ir.TempID {
	seen := map[ir.TempID]bool{}
	var out []ir.TempID
	for i := start; i < start+int(size); i++ {
		id := f.occupied[i]
		if id != 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// bestEvictionWindow returns the lowest index a temp of the given size
// starting anywhere could occupy such that it overlaps the fewest
// distinct residents, used to pick an eviction window when no free one
// exists.
func (f *file) bestEvictionWindow(size uint8, align uint8) int {
	best := 0
	bestCount := -1
	for start := 0; start+int(size) <= len(f.occupied); start += int(align) {
		n := len(f.residentsIn(start, size))
		if bestCount < 0 || n < bestCount {
			best = start
			bestCount = n
		}
	}
	return best
}
