package thumb

import "math/bits"

// encodeModImm finds the 12-bit "modified immediate" (i:imm3:imm8) that
// expands to v, as used by MOV.W, MVN.W, CMP.W and CMN.W.
func encodeModImm(v uint32) (uint16, bool) {
	b := v & 0xFF
	switch {
	case v <= 0xFF:
		return uint16(v), true
	case v == b<<16|b:
		return 0x100 | uint16(b), true
	case v == (v>>8&0xFF)<<24|(v>>8&0xFF)<<8:
		return 0x200 | uint16(v>>8&0xFF), true
	case v == b*0x01010101:
		return 0x300 | uint16(b), true
	}
	// 1bcdefgh rotated right by 8..31
	for rot := 8; rot < 32; rot++ {
		x := bits.RotateLeft32(v, rot)
		if x >= 0x80 && x <= 0xFF {
			return uint16(rot)<<7 | uint16(x&0x7F), true
		}
	}
	return 0, false
}

// splitImm12 spreads an i:imm3:imm8 field over the two halfwords of a
// 32-bit instruction: i goes to bit 10 of the first, imm3 to bits 12-14
// and imm8 to bits 0-7 of the second.
func splitImm12(imm12 uint16) (hw1, hw2 uint16) {
	hw1 = (imm12 >> 11 & 1) << 10
	hw2 = (imm12>>8&7)<<12 | imm12&0xFF
	return hw1, hw2
}

// splitImm16 is the MOVW/MOVT variant with imm4 in the first halfword
func splitImm16(v uint16) (hw1, hw2 uint16) {
	hw1 = (v>>11&1)<<10 | v>>12
	hw2 = (v>>8&7)<<12 | v&0xFF
	return hw1, hw2
}
