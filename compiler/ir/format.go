package ir

// Format identifies the hardware encoding shape of an instruction, or one
// of the pseudo-formats used internally before instruction selection
// settles on a real encoding. It is a bitset: VOP3 variants of a VOP1/2/C
// instruction set the corresponding base-format bit in addition to the
// VOP3A/VOP3B bit, mirroring how the ISA can promote a plain
// vector op into its 3-operand encoding to reach a second destination,
// absolute value, or input negation.
type Format uint16

const (
	FormatPseudo Format = 0
)

const (
	FormatSOP1 Format = 1 << iota
	FormatSOP2
	FormatSOPK
	FormatSOPP
	FormatSOPC
	FormatSMEM
	FormatVOP1
	FormatVOP2
	FormatVOPC
	FormatVINTRP
	FormatDS
	FormatMUBUF
	FormatMIMG
	FormatEXP
	FormatVOP3A
	FormatVOP3B
)

// DPP and SDWA modifiers are not Format bits: they ride on an
// instruction as its DPP and SDWA payload fields. There is no VOP3P
// format.

// IsVOP3 reports whether this format carries a VOP3A or VOP3B encoding,
// whether promoted from a VOP1/2/C base or native.
func (f Format) IsVOP3() bool { return f&(FormatVOP3A|FormatVOP3B) != 0 }

// Opcode names a specific operation. Pseudo-opcodes (p_* prefix) exist
// only before instruction selection / lowering completes; real opcodes
// name an actual hardware instruction and carry an encoding in
// opcodeTable.
type Opcode string

const (
	// Pseudo-instructions, never assembled directly.
	OpPhi              Opcode = "p_phi"
	OpLinearPhi        Opcode = "p_linear_phi"
	OpParallelCopy     Opcode = "p_parallelcopy"
	OpSpill            Opcode = "p_spill"
	OpReload           Opcode = "p_reload"
	OpStartLinearVGPR  Opcode = "p_start_linear_vgpr"
	OpEndLinearVGPR    Opcode = "p_end_linear_vgpr"
	OpLogicalStart     Opcode = "p_logical_start"
	OpLogicalEnd       Opcode = "p_logical_end"
	OpSplitVector      Opcode = "p_split_vector"
	OpCreateVector     Opcode = "p_create_vector"
	OpBranch           Opcode = "p_branch"
	OpCBranch          Opcode = "p_cbranch"
	OpDiscardIf        Opcode = "p_discard_if"

	// Scalar ALU.
	OpSMovB32     Opcode = "s_mov_b32"
	OpSMovB64     Opcode = "s_mov_b64"
	OpSAndB64     Opcode = "s_and_b64"
	OpSOrB64      Opcode = "s_or_b64"
	OpSXorB64     Opcode = "s_xor_b64"
	OpSAndN2B64   Opcode = "s_andn2_b64"
	OpSOrN2B64    Opcode = "s_orn2_b64"
	OpSCSelectB64 Opcode = "s_cselect_b64"
	OpSCSelectB32 Opcode = "s_cselect_b32"
	OpSAddU32     Opcode = "s_add_u32"
	OpSCmpEqU32   Opcode = "s_cmp_eq_u32"
	OpSBranch     Opcode = "s_branch"
	OpSCBranchSCC0 Opcode = "s_cbranch_scc0"
	OpSCBranchSCC1 Opcode = "s_cbranch_scc1"
	OpSCBranchVCCZ Opcode = "s_cbranch_vccz"
	OpSCBranchVCCNZ Opcode = "s_cbranch_vccnz"
	OpSCBranchExecZ Opcode = "s_cbranch_execz"
	OpSEndpgm     Opcode = "s_endpgm"
	OpSLoadDwordX4 Opcode = "s_load_dwordx4"

	// Vector ALU.
	OpVMovB32      Opcode = "v_mov_b32"
	OpVAddU32      Opcode = "v_add_u32"
	OpVAddCoU32    Opcode = "v_add_co_u32"
	OpVSubCoU32    Opcode = "v_sub_co_u32"
	OpVMacF32      Opcode = "v_mac_f32"
	OpVMulF32      Opcode = "v_mul_f32"
	OpVCndMaskB32  Opcode = "v_cndmask_b32"
	OpVCmpEqU32    Opcode = "v_cmp_eq_u32"
	OpVCmpLtF32    Opcode = "v_cmp_lt_f32"
	OpVInterpP1F32 Opcode = "v_interp_p1_f32"
	OpVInterpP2F32 Opcode = "v_interp_p2_f32"
	OpVReadfirstlaneB32 Opcode = "v_readfirstlane_b32"

	// Data share / buffer / image / export.
	OpDSSwizzleB32  Opcode = "ds_swizzle_b32"
	OpBufferLoadDword  Opcode = "buffer_load_dword"
	OpBufferStoreDword Opcode = "buffer_store_dword"
	OpImageSample   Opcode = "image_sample"
	OpExp           Opcode = "exp"
)

// opcodeInfo is the static per-opcode table consulted by selection and
// assembly: the instruction's format, and its hardware-specific encoding
// number within that format's opcode field.
type opcodeInfo struct {
	format Format
	hwNum  uint16
}

var opcodeTable = map[Opcode]opcodeInfo{
	OpSMovB32:     {FormatSOP1, 0},
	OpSMovB64:     {FormatSOP1, 1},
	OpSAndB64:     {FormatSOP2, 14},
	OpSOrB64:      {FormatSOP2, 15},
	OpSXorB64:     {FormatSOP2, 16},
	OpSAndN2B64:   {FormatSOP2, 18},
	OpSOrN2B64:    {FormatSOP2, 19},
	OpSCSelectB64: {FormatSOP2, 9},
	OpSCSelectB32: {FormatSOP2, 8},
	OpSAddU32:     {FormatSOP2, 0},
	OpSCmpEqU32:   {FormatSOPC, 2},
	OpSBranch:     {FormatSOPP, 2},
	OpSCBranchSCC0: {FormatSOPP, 4},
	OpSCBranchSCC1: {FormatSOPP, 5},
	OpSCBranchVCCZ: {FormatSOPP, 6},
	OpSCBranchVCCNZ: {FormatSOPP, 7},
	OpSCBranchExecZ: {FormatSOPP, 8},
	OpSEndpgm:      {FormatSOPP, 1},
	OpSLoadDwordX4: {FormatSMEM, 1},

	OpVMovB32:     {FormatVOP1, 1},
	OpVReadfirstlaneB32: {FormatVOP1, 2},
	OpVAddU32:     {FormatVOP2, 25},
	OpVAddCoU32:   {FormatVOP2, 25},
	OpVSubCoU32:   {FormatVOP2, 26},
	OpVMacF32:     {FormatVOP2, 21},
	OpVMulF32:     {FormatVOP2, 8},
	OpVCndMaskB32: {FormatVOP2, 0},
	OpVCmpEqU32:   {FormatVOPC, 2},
	OpVCmpLtF32:   {FormatVOPC, 1},
	OpVInterpP1F32: {FormatVINTRP, 0},
	OpVInterpP2F32: {FormatVINTRP, 1},

	OpDSSwizzleB32:     {FormatDS, 0x35},
	OpBufferLoadDword:  {FormatMUBUF, 20},
	OpBufferStoreDword: {FormatMUBUF, 28},
	OpImageSample:      {FormatMIMG, 0x20},
	OpExp:               {FormatEXP, 0},
}

// LookupFormat returns the base hardware format for a real opcode. Pseudo
// opcodes (p_* prefix) return FormatPseudo.
func LookupFormat(op Opcode) Format {
	return opcodeTable[op].format
}

// LookupHWNumber returns the hardware opcode-field encoding for a real
// opcode.
func LookupHWNumber(op Opcode) uint16 {
	return opcodeTable[op].hwNum
}

// VOP3AData holds the modifiers available only through the VOP3A/VOP3B
// encoding of an otherwise VOP1/2/C instruction: per-operand negate and
// absolute-value, output modifier, clamp, and op_sel. The second
// destination of a carry-out ALU op is its second Definition, not a
// field here.
type VOP3AData struct {
	Neg   [3]bool
	Abs   [3]bool
	OMod  uint8 // 0=none 1=*2 2=*4 3=/2
	Clamp bool
	OpSel [3]bool
}

// DPPData holds DPP (data-parallel processing) cross-lane modifiers
// overlaid on a VOP1/2 instruction.
type DPPData struct {
	Ctrl      uint16
	RowMask   uint8
	BankMask  uint8
	BoundCtrl bool
	Neg       [2]bool
	Abs       [2]bool
}

// SDWAData holds SDWA (sub-dword addressing) modifiers overlaid on a
// VOP1/2/C instruction, selecting byte/word sub-ranges of each operand.
type SDWAData struct {
	DstSel   uint8
	DstUnused uint8
	Src0Sel  uint8
	Src1Sel  uint8
	Clamp    bool
}

// SOPPData carries the immediate/branch-target payload of an SOPP
// instruction. Block is the logical target index for branches, -1 for
// non-branch SOPP ops (s_endpgm, s_nop, s_waitcnt, ...). Imm is encoded
// as given; for branches the assembler patches the target offset into
// the encoded word once block offsets are known and leaves Imm as is.
type SOPPData struct {
	Block int
	Imm   uint16
}

// SMEMData carries SMEM-specific cache control bits.
type SMEMData struct {
	GLC bool
	NV  bool
}

// DSData carries the two byte offsets and GDS-vs-LDS selector shared by
// data-share instructions.
type DSData struct {
	Offset0 uint8
	Offset1 uint8
	GDS     bool
}

// MUBUFData carries untyped-buffer addressing modifiers.
type MUBUFData struct {
	Offset int16
	Offen  bool
	Idxen  bool
	GLC    bool
	SLC    bool
}

// MIMGData carries image-instruction addressing and component-mask
// modifiers.
type MIMGData struct {
	DMask uint8
	Dim   uint8
	Unorm bool
	GLC   bool
	R128  bool
	DA    bool
}

// ExportData carries the export target and enabled-component mask.
type ExportData struct {
	Dest       uint32 // 0..7 mrt, 8 z, 12..15 pos, 32..63 param
	EnabledMask uint8
	Compressed bool
	Done       bool
	ValidMask  bool
}

// Instruction is one IR instruction: a fixed opcode/format, a slice of
// operands it reads and definitions it writes, and an optional
// format-specific payload. DPP/SDWA overlay data, when present, rides
// alongside the base VOP3A data in a separate field since a single
// instruction can carry at most one of them.
type Instruction struct {
	Opcode      Opcode
	Format      Format
	Operands    []Operand
	Definitions []Definition

	VOP3A *VOP3AData
	DPP   *DPPData
	SDWA  *SDWAData
	SOPP  *SOPPData
	SMEM  *SMEMData
	DS    *DSData
	MUBUF *MUBUFData
	MIMG  *MIMGData
	Export *ExportData
}

// NewInstruction allocates an Instruction with its operand and definition
// slices pre-sized, format looked up from the opcode table (pseudo
// opcodes stay FormatPseudo until instruction selection assigns a real
// one).
func NewInstruction(op Opcode, numOperands, numDefs int) *Instruction {
	return &Instruction{
		Opcode:      op,
		Format:      LookupFormat(op),
		Operands:    make([]Operand, numOperands),
		Definitions: make([]Definition, numDefs),
	}
}

func (i *Instruction) IsPseudo() bool { return i.Format == FormatPseudo }

func (i *Instruction) IsPhi() bool {
	return i.Opcode == OpPhi || i.Opcode == OpLinearPhi
}

func (i *Instruction) IsBranch() bool {
	return i.Opcode == OpBranch || i.Opcode == OpCBranch || i.Format == FormatSOPP && i.SOPP != nil && i.SOPP.Block >= 0
}

// DefinedTemp returns the instruction's sole definition's temp; panics if
// the instruction has zero or more than one definition. Convenience for
// the common single-def case.
func (i *Instruction) DefinedTemp() Temp {
	if len(i.Definitions) != 1 {
		panic("ir: DefinedTemp on instruction without exactly one definition")
	}
	return i.Definitions[0].Temp()
}
