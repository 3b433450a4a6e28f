// Completion: 100% - Decoder for the emitted Thumb-2 subset complete
package armv7m

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"strings"
)

// Op identifies a decoded instruction
type Op uint8

const (
	OpInvalid Op = iota
	OpNop
	OpMovReg   // MOV Rd, Rm
	OpMvnReg   // MVN.W Rd, Rm
	OpAndReg   // AND.W Rd, Rn, Rm
	OpMovImm   // MOV.W Rd, #const
	OpMvnImm   // MVN.W Rd, #const
	OpMovW     // MOVW Rd, #imm16
	OpMovT     // MOVT Rd, #imm16
	OpAddW     // ADDW / ADD SP
	OpSubW     // SUBW / SUB SP
	OpCmpImm   // CMP Rn, #const
	OpCmnImm   // CMN Rn, #const
	OpLdr      // LDR Rt, [Rn, #imm] with optional writeback
	OpStr      // STR Rt, [Rn, #imm] with optional writeback
	OpPush     // PUSH {list}
	OpPop      // POP {list}
	OpB        // B label
	OpBCond    // B<c> label
	OpBlx      // BLX Rm
	OpBx       // BX Rm
)

var opNames = [...]string{
	OpInvalid: "<invalid>", OpNop: "nop", OpMovReg: "mov", OpMvnReg: "mvn.w", OpAndReg: "and.w",
	OpMovImm: "mov.w", OpMvnImm: "mvn.w", OpMovW: "movw", OpMovT: "movt", OpAddW: "add",
	OpSubW: "sub", OpCmpImm: "cmp", OpCmnImm: "cmn", OpLdr: "ldr", OpStr: "str", OpPush: "push",
	OpPop: "pop", OpB: "b", OpBCond: "b", OpBlx: "blx", OpBx: "bx",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", op)
}

// Inst is one decoded instruction
type Inst struct {
	Addr int // byte offset in the decoded code
	Size int // 2 or 4
	HW   [2]uint16
	Op   Op
	Rd   uint8 // destination, or Rt for loads and stores
	Rn   uint8
	Rm   uint8
	Imm  uint32 // expanded immediate, offset magnitude or register list
	Cond uint8

	// memory addressing
	Index, Add, WriteBack bool

	// Offset is the branch displacement relative to Addr+4
	Offset int32
}

// Target returns the absolute branch destination of a B or B<c>
func (in Inst) Target() int {
	return in.Addr + 4 + int(in.Offset)
}

var condNames = [...]string{"eq", "ne", "cs", "cc", "mi", "pl", "vs", "vc", "hi", "ls", "ge", "lt", "gt", "le"}

func regName(r uint8) string {
	switch r {
	case 13:
		return "sp"
	case 14:
		return "lr"
	case 15:
		return "pc"
	}
	return fmt.Sprintf("r%d", r)
}

func regList(mask uint32) string {
	var names []string
	for r := uint8(0); r < 16; r++ {
		if mask&(1<<r) == 0 {
			continue
		}
		// collapse runs like r4-r11
		end := r
		for end+1 < 13 && mask&(1<<(end+1)) != 0 {
			end++
		}
		if end-r >= 2 {
			names = append(names, regName(r)+"-"+regName(end))
			r = end
			continue
		}
		names = append(names, regName(r))
	}
	return "{" + strings.Join(names, ", ") + "}"
}

func (in Inst) String() string {
	switch in.Op {
	case OpNop:
		return "nop"
	case OpMovReg, OpMvnReg:
		return fmt.Sprintf("%s %s, %s", in.Op, regName(in.Rd), regName(in.Rm))
	case OpAndReg:
		return fmt.Sprintf("%s %s, %s, %s", in.Op, regName(in.Rd), regName(in.Rn), regName(in.Rm))
	case OpMovImm, OpMvnImm, OpMovW, OpMovT:
		return fmt.Sprintf("%s %s, #%#x", in.Op, regName(in.Rd), in.Imm)
	case OpAddW, OpSubW:
		return fmt.Sprintf("%s %s, %s, #%d", in.Op, regName(in.Rd), regName(in.Rn), in.Imm)
	case OpCmpImm, OpCmnImm:
		return fmt.Sprintf("%s %s, #%d", in.Op, regName(in.Rn), in.Imm)
	case OpLdr, OpStr:
		off := int(in.Imm)
		if !in.Add {
			off = -off
		}
		switch {
		case !in.Index:
			return fmt.Sprintf("%s %s, [%s], #%d", in.Op, regName(in.Rd), regName(in.Rn), off)
		case in.WriteBack:
			return fmt.Sprintf("%s %s, [%s, #%d]!", in.Op, regName(in.Rd), regName(in.Rn), off)
		}
		return fmt.Sprintf("%s %s, [%s, #%d]", in.Op, regName(in.Rd), regName(in.Rn), off)
	case OpPush, OpPop:
		return fmt.Sprintf("%s %s", in.Op, regList(in.Imm))
	case OpB:
		return fmt.Sprintf("b 0x%04x", in.Target())
	case OpBCond:
		return fmt.Sprintf("b%s 0x%04x", condNames[in.Cond], in.Target())
	case OpBlx, OpBx:
		return fmt.Sprintf("%s %s", in.Op, regName(in.Rm))
	}
	if in.Size == 4 {
		return fmt.Sprintf(".inst.w 0x%04x%04x", in.HW[0], in.HW[1])
	}
	return fmt.Sprintf(".inst.n 0x%04x", in.HW[0])
}

// ExpandImm is ThumbExpandImm: it turns an i:imm3:imm8 field into the
// 32-bit constant it stands for
func ExpandImm(imm12 uint32) uint32 {
	b := imm12 & 0xFF
	if imm12>>10 == 0 {
		switch imm12 >> 8 & 3 {
		case 0:
			return b
		case 1:
			return b<<16 | b
		case 2:
			return b<<24 | b<<8
		default:
			return b * 0x01010101
		}
	}
	return bits.RotateLeft32(0x80|imm12&0x7F, -int(imm12>>7))
}

func signExtend(v uint32, width uint) int32 {
	shift := 32 - width
	return int32(v<<shift) >> shift
}

// is32 reports whether hw starts a 32-bit instruction
func is32(hw uint16) bool {
	return hw>>11 == 0x1D || hw>>11 == 0x1E || hw>>11 == 0x1F
}

// Decode decodes the instruction at byte offset at of code
func Decode(code []byte, at int) (Inst, error) {
	if at < 0 || at+2 > len(code) {
		return Inst{}, fmt.Errorf("decode at %#x: out of bounds", at)
	}
	hw1 := binary.LittleEndian.Uint16(code[at:])
	in := Inst{Addr: at, Size: 2, HW: [2]uint16{hw1}}
	if is32(hw1) {
		if at+4 > len(code) {
			return in, fmt.Errorf("decode at %#x: truncated 32-bit instruction", at)
		}
		in.Size = 4
		in.HW[1] = binary.LittleEndian.Uint16(code[at+2:])
		decode32(&in)
	} else {
		decode16(&in)
	}
	if in.Op == OpInvalid {
		return in, fmt.Errorf("decode at %#x: unsupported instruction %s", at, in)
	}
	return in, nil
}

func decode16(in *Inst) {
	hw := in.HW[0]
	switch {
	case hw == 0xBF00:
		in.Op = OpNop
	case hw&0xFF00 == 0x4600:
		in.Op = OpMovReg
		in.Rd = uint8(hw>>4&8 | hw&7)
		in.Rm = uint8(hw >> 3 & 0xF)
	case hw&0xFF87 == 0x4780:
		in.Op = OpBlx
		in.Rm = uint8(hw >> 3 & 0xF)
	case hw&0xFF87 == 0x4700:
		in.Op = OpBx
		in.Rm = uint8(hw >> 3 & 0xF)
	case hw&0xF800 == 0x2800:
		in.Op = OpCmpImm
		in.Rn = uint8(hw >> 8 & 7)
		in.Imm = uint32(hw & 0xFF)
	case hw&0xF000 == 0x6000:
		in.Op = OpStr
		if hw&0x0800 != 0 {
			in.Op = OpLdr
		}
		in.Rd = uint8(hw & 7)
		in.Rn = uint8(hw >> 3 & 7)
		in.Imm = uint32(hw>>6&0x1F) * 4
		in.Index, in.Add = true, true
	case hw&0xF000 == 0x9000:
		in.Op = OpStr
		if hw&0x0800 != 0 {
			in.Op = OpLdr
		}
		in.Rd = uint8(hw >> 8 & 7)
		in.Rn = 13
		in.Imm = uint32(hw&0xFF) * 4
		in.Index, in.Add = true, true
	case hw&0xFE00 == 0xB400:
		in.Op = OpPush
		in.Imm = uint32(hw & 0xFF)
		if hw&0x0100 != 0 {
			in.Imm |= 1 << 14
		}
	case hw&0xFE00 == 0xBC00:
		in.Op = OpPop
		in.Imm = uint32(hw & 0xFF)
		if hw&0x0100 != 0 {
			in.Imm |= 1 << 15
		}
	case hw&0xFF00 == 0xB000:
		in.Op = OpAddW
		if hw&0x80 != 0 {
			in.Op = OpSubW
		}
		in.Rd, in.Rn = 13, 13
		in.Imm = uint32(hw&0x7F) * 4
	case hw&0xF800 == 0xE000:
		in.Op = OpB
		in.Offset = signExtend(uint32(hw&0x7FF)<<1, 12)
	case hw&0xF000 == 0xD000 && hw>>8&0xF < 14:
		in.Op = OpBCond
		in.Cond = uint8(hw >> 8 & 0xF)
		in.Offset = signExtend(uint32(hw&0xFF)<<1, 9)
	}
}

func decode32(in *Inst) {
	hw1, hw2 := in.HW[0], in.HW[1]
	imm12 := uint32(hw1>>10&1)<<11 | uint32(hw2>>12&7)<<8 | uint32(hw2&0xFF)
	rn := uint8(hw1 & 0xF)
	rd := uint8(hw2 >> 8 & 0xF)
	rt := uint8(hw2 >> 12)
	switch {
	case hw1 == 0xEA6F && hw2&0x8000 == 0 && hw2&0x70F0 == 0:
		in.Op, in.Rd, in.Rm = OpMvnReg, rd, uint8(hw2&0xF)
	case hw1&0xFFF0 == 0xEA00 && hw2&0x8000 == 0 && hw2&0x70F0 == 0:
		in.Op, in.Rd, in.Rn, in.Rm = OpAndReg, rd, rn, uint8(hw2&0xF)
	case hw1 == 0xE92D:
		in.Op, in.Imm = OpPush, uint32(hw2)
	case hw1 == 0xE8BD:
		in.Op, in.Imm = OpPop, uint32(hw2)
	case hw1&0xF800 == 0xF000 && hw2&0x8000 != 0:
		decodeBranch32(in)
	case hw1&0xFBFF == 0xF04F && hw2&0x8000 == 0:
		in.Op, in.Rd, in.Imm = OpMovImm, rd, ExpandImm(imm12)
	case hw1&0xFBFF == 0xF06F && hw2&0x8000 == 0:
		in.Op, in.Rd, in.Imm = OpMvnImm, rd, ExpandImm(imm12)
	case hw1&0xFBF0 == 0xF1B0 && hw2&0x8F00 == 0x0F00:
		in.Op, in.Rn, in.Imm = OpCmpImm, rn, ExpandImm(imm12)
	case hw1&0xFBF0 == 0xF110 && hw2&0x8F00 == 0x0F00:
		in.Op, in.Rn, in.Imm = OpCmnImm, rn, ExpandImm(imm12)
	case hw1&0xFBF0 == 0xF240 && hw2&0x8000 == 0:
		in.Op, in.Rd = OpMovW, rd
		in.Imm = uint32(hw1&0xF)<<12 | imm12
	case hw1&0xFBF0 == 0xF2C0 && hw2&0x8000 == 0:
		in.Op, in.Rd = OpMovT, rd
		in.Imm = uint32(hw1&0xF)<<12 | imm12
	case hw1&0xFBF0 == 0xF200 && hw2&0x8000 == 0:
		in.Op, in.Rd, in.Rn, in.Imm = OpAddW, rd, rn, imm12
	case hw1&0xFBF0 == 0xF2A0 && hw2&0x8000 == 0:
		in.Op, in.Rd, in.Rn, in.Imm = OpSubW, rd, rn, imm12
	case hw1&0xFFE0 == 0xF8C0 && rn != 15:
		// LDR.W/STR.W Rt, [Rn, #imm12] (T3)
		in.Op = OpStr
		if hw1&0x0010 != 0 {
			in.Op = OpLdr
		}
		in.Rd, in.Rn, in.Imm = rt, rn, uint32(hw2&0xFFF)
		in.Index, in.Add = true, true
	case hw1&0xFFE0 == 0xF840 && rn != 15 && hw2&0x0800 != 0:
		// LDR/STR Rt, [Rn, #+/-imm8]{!} or [Rn], #+/-imm8 (T4)
		in.Op = OpStr
		if hw1&0x0010 != 0 {
			in.Op = OpLdr
		}
		in.Rd, in.Rn, in.Imm = rt, rn, uint32(hw2&0xFF)
		in.Index = hw2&0x0400 != 0
		in.Add = hw2&0x0200 != 0
		in.WriteBack = hw2&0x0100 != 0
		if !in.Index && !in.WriteBack {
			in.Op = OpInvalid
		}
	}
}

func decodeBranch32(in *Inst) {
	hw1, hw2 := in.HW[0], in.HW[1]
	s := uint32(hw1 >> 10 & 1)
	j1 := uint32(hw2 >> 13 & 1)
	j2 := uint32(hw2 >> 11 & 1)
	imm11 := uint32(hw2 & 0x7FF)
	switch hw2 & 0xD000 {
	case 0x9000:
		// B.W (T4)
		i1 := ^(j1 ^ s) & 1
		i2 := ^(j2 ^ s) & 1
		v := s<<24 | i1<<23 | i2<<22 | uint32(hw1&0x3FF)<<12 | imm11<<1
		in.Op, in.Offset = OpB, signExtend(v, 25)
	case 0x8000:
		// B<c>.W (T3)
		cond := uint8(hw1 >> 6 & 0xF)
		if cond >= 14 {
			return
		}
		v := s<<20 | j2<<19 | j1<<18 | uint32(hw1&0x3F)<<12 | imm11<<1
		in.Op, in.Cond, in.Offset = OpBCond, cond, signExtend(v, 21)
	}
}
