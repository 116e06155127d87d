// Package ir defines the mid-level SSA instruction set this backend
// consumes: register classes, operands/definitions, instructions, and
// the block/program structure with its dual logical/linear control-flow
// edges.
package ir

// RegType names one of the two disjoint physical register banks, plus the
// degenerate scalar-condition-code "bank" that never occupies a register
// file slot.
type RegType uint8

const (
	RegSCC  RegType = iota // scalar condition code (SCC), size 0
	RegSGPR                // scalar GPR
	RegVGPR                // vector GPR
)

func (t RegType) String() string {
	switch t {
	case RegSCC:
		return "scc"
	case RegSGPR:
		return "sgpr"
	case RegVGPR:
		return "vgpr"
	default:
		return "reg?"
	}
}

// RegClass is a tagged (type, size) pair, with an additional Linear flag
// marking values that stay live across the whole wave regardless of the
// execution mask (used for linear-VGPR spill backing storage).
type RegClass struct {
	Type   RegType
	Size   uint8 // in 32-bit registers: 0 (scc), 1, 2, 3, 4, 6, 8, 16
	Linear bool
}

// SCCClass is the single scalar-condition-code class. It never occupies a
// register file slot; SCC values flow through operands/definitions as a
// fixed PhysReg reference.
var SCCClass = RegClass{Type: RegSCC}

// SGPR returns the scalar-GPR class of the given size.
func SGPR(size uint8) RegClass { return RegClass{Type: RegSGPR, Size: size} }

// VGPR returns the vector-GPR class of the given size.
func VGPR(size uint8) RegClass { return RegClass{Type: RegVGPR, Size: size} }

// LinearVGPR returns a VGPR class marked linear (write-whole-wave-mask),
// used for spill-slot backing storage.
func LinearVGPR(size uint8) RegClass { return RegClass{Type: RegVGPR, Size: size, Linear: true} }

// Common sizes named for readability at call sites, matching the ISA's
// own naming (s1, s2, v1, v2, ...).
var (
	S1 = SGPR(1)
	S2 = SGPR(2) // divergent bool-phi result / VCC-shaped mask
	S3 = SGPR(3)
	S4 = SGPR(4)
	S8 = SGPR(8)

	V1 = VGPR(1)
	V2 = VGPR(2)
	V3 = VGPR(3)
	V4 = VGPR(4)
)

// Alignment reports the PhysReg stride this class must be placed on:
// 2-word sgprs on even registers, 4-or-more-word sgprs on multiples of 4,
// vgprs are unconstrained.
func (c RegClass) Alignment() uint8 {
	if c.Type != RegSGPR {
		return 1
	}
	switch {
	case c.Size >= 4:
		return 4
	case c.Size == 2:
		return 2
	default:
		return 1
	}
}

// TempID is a monotonically allocated SSA virtual register id. Id 0 means
// "no temp". Signed so it satisfies set.Bits' Key constraint.
type TempID int32

// Temp is an SSA virtual register: an id plus the register class of the
// value it holds. Equality and ordering are by id alone.
type Temp struct {
	ID    TempID
	Class RegClass
}

// IsNone reports whether this is the reserved "no temp" zero value.
func (t Temp) IsNone() bool { return t.ID == 0 }

// Less orders temps by id, matching the ISA model's Temp::operator<.
func (t Temp) Less(o Temp) bool { return t.ID < o.ID }

// IsLinear reports whether the temp's class is marked linear, or is an
// scc/sgpr value (both of which are carried on the linear CFG).
func (t Temp) IsLinear() bool { return t.Class.Type != RegVGPR || t.Class.Linear }

// PhysReg is a flat 0..511 physical register index. 0..103 are scalar
// GPRs, 106 is VCC, 124 is M0, 126 is EXEC, 128..255 are inline-constant
// encodings (255 is the "literal follows" marker, 250 is the DPP
// sentinel), 256..511 are vector GPRs.
type PhysReg uint16

const (
	M0            PhysReg = 124
	VCC           PhysReg = 106
	EXEC          PhysReg = 126
	SCCReg        PhysReg = 253 // out-of-band marker: SCC has no register file slot
	DPPSentinel   PhysReg = 250
	LiteralMarker PhysReg = 255
	VGPRBase      PhysReg = 256
)

// FixedSGPR returns the PhysReg for scalar GPR index i.
func FixedSGPR(i int) PhysReg { return PhysReg(i) }

// FixedVGPR returns the PhysReg for vector GPR index i.
func FixedVGPR(i int) PhysReg { return VGPRBase + PhysReg(i) }

// IsVGPR reports whether this PhysReg names a vector GPR.
func (r PhysReg) IsVGPR() bool { return r >= VGPRBase }

// VGPRIndex returns the 0-based vector GPR index; only meaningful when
// IsVGPR is true.
func (r PhysReg) VGPRIndex() int { return int(r - VGPRBase) }
