package asm

import (
	"tlog.app/go/errors"

	"github.com/shadervm/gcnback/compiler/ir"
)

// Field widths and shifts below follow the GCN-family encoding shape:
// scalar operand fields are 8 bits wide (0..101 sgpr, 106 vcc, 124 m0,
// 126 exec, 128..208 inline int constants, 240..248 inline float
// constants, 255 literal-follows), vector operand fields are 9 bits wide
// (0..255 vgpr, reusing the same inline-constant range below 256 for
// SGPR/constant operands in VOP instructions).
const (
	sop2OpShift  = 23
	sop2SDstShift = 16
	sop2Src1Shift = 8

	sop1OpShift  = 8
	sop1SDstShift = 16

	sopkOpShift = 23
	sopkSDstShift = 16

	soppOpShift = 16

	sopcOpShift = 16

	vop1OpShift = 9
	vop1VDstShift = 17

	vop2OpShift = 25
	vop2VDstShift = 17

	vopcOpShift = 17

	vop3OpShift = 16
	vop3VDstShift = 0
)

func encodeOperand(op ir.Operand) (field uint32, literal uint32, hasLiteral bool) {
	if op.IsLiteral() {
		return uint32(ir.LiteralMarker), op.ConstValue(), true
	}
	if op.HasFixedReg() {
		r := op.PhysReg()
		if r.IsVGPR() {
			return uint32(256 + r.VGPRIndex()), 0, false
		}
		return uint32(r), 0, false
	}
	return 0, 0, false
}

func encodeSDst(def ir.Definition) uint32 {
	if def.HasFixedReg() {
		return uint32(def.PhysReg())
	}
	return 0
}

func encodeVDst(def ir.Definition) uint32 {
	if def.HasFixedReg() {
		return uint32(def.PhysReg().VGPRIndex())
	}
	return 0
}

// encodeInstruction produces the word sequence for one already-selected
// (non-pseudo) instruction, not yet relocated: branch SOPP words carry a
// placeholder zero immediate that Assemble patches in a second pass once
// block offsets are known. A VOP1/2/C instruction promoted with a
// VOP3A/VOP3B bit dispatches on its base-format bit.
func encodeInstruction(instr *ir.Instruction) ([]uint32, error) {
	switch instr.Format &^ (ir.FormatVOP3A | ir.FormatVOP3B) {
	case ir.FormatSOP1:
		return encodeSOP1(instr)
	case ir.FormatSOP2:
		return encodeSOP2(instr)
	case ir.FormatSOPK:
		return encodeSOPK(instr)
	case ir.FormatSOPP:
		return encodeSOPP(instr)
	case ir.FormatSOPC:
		return encodeSOPC(instr)
	case ir.FormatSMEM:
		return encodeSMEM(instr)
	case ir.FormatVOP1:
		return encodeVOP1(instr)
	case ir.FormatVOP2:
		return encodeVOP2(instr)
	case ir.FormatVOPC:
		return encodeVOPC(instr)
	case ir.FormatVINTRP:
		return encodeVINTRP(instr)
	case ir.FormatDS:
		return encodeDS(instr)
	case ir.FormatMUBUF:
		return encodeMUBUF(instr)
	case ir.FormatMIMG:
		return encodeMIMG(instr)
	case ir.FormatEXP:
		return encodeEXP(instr)
	default:
		return nil, errors.New("asm: no encoder for format %v (opcode %v)", instr.Format, instr.Opcode)
	}
}

func appendLiteral(words []uint32, instr *ir.Instruction) []uint32 {
	for _, op := range instr.Operands {
		if op.IsLiteral() {
			words = append(words, op.ConstValue())
		}
	}
	return words
}

func encodeSOP1(instr *ir.Instruction) ([]uint32, error) {
	hw := ir.LookupHWNumber(instr.Opcode)
	var src0 uint32
	if len(instr.Operands) > 0 {
		src0, _, _ = encodeOperand(instr.Operands[0])
	}
	w := uint32(0xbe800000) | uint32(hw)<<sop1OpShift | src0
	if len(instr.Definitions) > 0 {
		w |= encodeSDst(instr.Definitions[0]) << sop1SDstShift
	}
	return appendLiteral([]uint32{w}, instr), nil
}

func encodeSOP2(instr *ir.Instruction) ([]uint32, error) {
	hw := ir.LookupHWNumber(instr.Opcode)
	var src0, src1 uint32
	if len(instr.Operands) > 0 {
		src0, _, _ = encodeOperand(instr.Operands[0])
	}
	if len(instr.Operands) > 1 {
		src1, _, _ = encodeOperand(instr.Operands[1])
	}
	w := uint32(hw)<<sop2OpShift | src1<<sop2Src1Shift | src0
	if len(instr.Definitions) > 0 {
		w |= encodeSDst(instr.Definitions[0]) << sop2SDstShift
	}
	return appendLiteral([]uint32{w}, instr), nil
}

func encodeSOPK(instr *ir.Instruction) ([]uint32, error) {
	hw := ir.LookupHWNumber(instr.Opcode)
	var imm uint16
	if instr.SOPP != nil {
		imm = instr.SOPP.Imm
	}
	w := uint32(0xb0000000) | uint32(hw)<<sopkOpShift | uint32(imm)
	if len(instr.Definitions) > 0 {
		w |= encodeSDst(instr.Definitions[0]) << sopkSDstShift
	}
	return []uint32{w}, nil
}

func encodeSOPP(instr *ir.Instruction) ([]uint32, error) {
	hw := ir.LookupHWNumber(instr.Opcode)
	var imm uint16
	if instr.SOPP != nil {
		imm = instr.SOPP.Imm
	}
	w := uint32(0xbf800000) | uint32(hw)<<soppOpShift | uint32(imm)
	return []uint32{w}, nil
}

func encodeSOPC(instr *ir.Instruction) ([]uint32, error) {
	hw := ir.LookupHWNumber(instr.Opcode)
	var src0, src1 uint32
	if len(instr.Operands) > 0 {
		src0, _, _ = encodeOperand(instr.Operands[0])
	}
	if len(instr.Operands) > 1 {
		src1, _, _ = encodeOperand(instr.Operands[1])
	}
	w := uint32(0xbf000000) | uint32(hw)<<sopcOpShift | src1<<8 | src0
	return appendLiteral([]uint32{w}, instr), nil
}

func encodeSMEM(instr *ir.Instruction) ([]uint32, error) {
	hw := ir.LookupHWNumber(instr.Opcode)
	w0 := uint32(0xc0000000) | uint32(hw)<<18
	if len(instr.Definitions) > 0 {
		w0 |= encodeSDst(instr.Definitions[0]) << 6
	}
	var w1 uint32
	if instr.SMEM != nil && instr.SMEM.GLC {
		w1 |= 1 << 16
	}
	return []uint32{w0, w1}, nil
}

func encodeVOP1(instr *ir.Instruction) ([]uint32, error) {
	if instr.VOP3A != nil {
		return encodeVOP3(instr)
	}
	hw := ir.LookupHWNumber(instr.Opcode)
	var src0 uint32
	if len(instr.Operands) > 0 {
		src0, _, _ = encodeOperand(instr.Operands[0])
	}
	w := uint32(0x7e000000) | uint32(hw)<<vop1OpShift | src0
	if len(instr.Definitions) > 0 {
		w |= encodeVDst(instr.Definitions[0]) << vop1VDstShift
	}
	return appendLiteral([]uint32{w}, instr), nil
}

func encodeVOP2(instr *ir.Instruction) ([]uint32, error) {
	if instr.VOP3A != nil {
		return encodeVOP3(instr)
	}
	hw := ir.LookupHWNumber(instr.Opcode)
	var src0, src1 uint32
	if len(instr.Operands) > 0 {
		src0, _, _ = encodeOperand(instr.Operands[0])
	}
	if len(instr.Operands) > 1 {
		src1, _, _ = encodeOperand(instr.Operands[1])
	}
	w := uint32(hw)<<vop2OpShift | src1<<9 | src0
	if len(instr.Definitions) > 0 {
		w |= encodeVDst(instr.Definitions[0]) << vop2VDstShift
	}
	return appendLiteral([]uint32{w}, instr), nil
}

func encodeVOPC(instr *ir.Instruction) ([]uint32, error) {
	if instr.VOP3A != nil {
		return encodeVOP3(instr)
	}
	hw := ir.LookupHWNumber(instr.Opcode)
	var src0, src1 uint32
	if len(instr.Operands) > 0 {
		src0, _, _ = encodeOperand(instr.Operands[0])
	}
	if len(instr.Operands) > 1 {
		src1, _, _ = encodeOperand(instr.Operands[1])
	}
	w := uint32(0x7c000000) | uint32(hw)<<vopcOpShift | src1<<9 | src0
	return appendLiteral([]uint32{w}, instr), nil
}

// vop3OpcodeOffset reports the offset added to a VOP1/2/C/VINTRP
// opcode number when promoting it to the VOP3A/VOP3B encoding: each
// base format has its own separate opcode space within VOP3, so the
// offset depends on which format the instruction was promoted from.
func vop3OpcodeOffset(f ir.Format) uint16 {
	switch {
	case f&ir.FormatVOP2 != 0:
		return 0x100
	case f&ir.FormatVOP1 != 0:
		return 0x140
	case f&ir.FormatVOPC != 0:
		return 0
	case f&ir.FormatVINTRP != 0:
		return 0x270
	default:
		return 0x100
	}
}

func encodeVOP3(instr *ir.Instruction) ([]uint32, error) {
	hw := ir.LookupHWNumber(instr.Opcode) + vop3OpcodeOffset(instr.Format)
	w0 := uint32(0xd0000000) | uint32(hw)<<vop3OpShift
	if len(instr.Definitions) > 0 {
		w0 |= encodeVDst(instr.Definitions[0])
	}
	if instr.VOP3A != nil {
		if instr.VOP3A.Clamp {
			w0 |= 1 << 25
		}
		for i, abs := range instr.VOP3A.Abs {
			if abs {
				w0 |= 1 << (8 + i)
			}
		}
	}

	var w1 uint32
	var lit uint32
	hasLit := false
	for i, op := range instr.Operands {
		if i > 2 {
			break
		}
		field, literal, isLit := encodeOperand(op)
		w1 |= field << (uint(i) * 9)
		if isLit {
			lit, hasLit = literal, true
		}
		if instr.VOP3A != nil && i < 3 && instr.VOP3A.Neg[i] {
			w1 |= 1 << (29 + uint(i))
		}
	}

	words := []uint32{w0, w1}
	if hasLit {
		words = append(words, lit)
	}
	return words, nil
}

func encodeVINTRP(instr *ir.Instruction) ([]uint32, error) {
	hw := ir.LookupHWNumber(instr.Opcode)
	w := uint32(0xc8000000) | uint32(hw)<<16
	if len(instr.Definitions) > 0 {
		w |= encodeVDst(instr.Definitions[0]) << 18
	}
	return []uint32{w}, nil
}

func encodeDS(instr *ir.Instruction) ([]uint32, error) {
	hw := ir.LookupHWNumber(instr.Opcode)
	w0 := uint32(0xd8000000) | uint32(hw)<<17
	if instr.DS != nil {
		w0 |= uint32(instr.DS.Offset0)
		w0 |= uint32(instr.DS.Offset1) << 8
		if instr.DS.GDS {
			w0 |= 1 << 16
		}
	}
	var w1 uint32
	if len(instr.Operands) > 0 {
		f, _, _ := encodeOperand(instr.Operands[0])
		w1 |= f
	}
	return []uint32{w0, w1}, nil
}

func encodeMUBUF(instr *ir.Instruction) ([]uint32, error) {
	hw := ir.LookupHWNumber(instr.Opcode)
	w0 := uint32(0xe0000000) | uint32(hw)<<18
	if instr.MUBUF != nil {
		w0 |= uint32(uint16(instr.MUBUF.Offset)) & 0xfff
		if instr.MUBUF.Offen {
			w0 |= 1 << 12
		}
		if instr.MUBUF.Idxen {
			w0 |= 1 << 13
		}
		if instr.MUBUF.GLC {
			w0 |= 1 << 14
		}
	}
	var w1 uint32
	if len(instr.Definitions) > 0 {
		w1 |= encodeVDst(instr.Definitions[0]) << 24
	} else if len(instr.Operands) > 0 {
		f, _, _ := encodeOperand(instr.Operands[0])
		w1 |= f << 24
	}
	return []uint32{w0, w1}, nil
}

func encodeMIMG(instr *ir.Instruction) ([]uint32, error) {
	hw := ir.LookupHWNumber(instr.Opcode)
	w0 := uint32(0xf0000000) | uint32(hw)<<18
	if instr.MIMG != nil {
		w0 |= uint32(instr.MIMG.DMask) << 8
		if instr.MIMG.Unorm {
			w0 |= 1 << 12
		}
		if instr.MIMG.GLC {
			w0 |= 1 << 13
		}
	}
	var w1 uint32
	if len(instr.Definitions) > 0 {
		w1 |= encodeVDst(instr.Definitions[0]) << 24
	}
	return []uint32{w0, w1}, nil
}

func encodeEXP(instr *ir.Instruction) ([]uint32, error) {
	w0 := uint32(0xc4000000)
	if instr.Export != nil {
		w0 |= uint32(instr.Export.EnabledMask)
		w0 |= instr.Export.Dest << 4
		if instr.Export.Compressed {
			w0 |= 1 << 10
		}
		if instr.Export.Done {
			w0 |= 1 << 11
		}
		if instr.Export.ValidMask {
			w0 |= 1 << 12
		}
	}
	var w1 uint32
	for i, op := range instr.Operands {
		if i > 3 {
			break
		}
		f, _, _ := encodeOperand(op)
		w1 |= f << (uint(i) * 8)
	}
	return []uint32{w0, w1}, nil
}
