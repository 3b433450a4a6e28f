// Completion: 100% - Constant loading complete
package thumb

// Literal16 sets the low (MOVW) or high (MOVT) half of r to v. MOVW
// clears the upper half, MOVT keeps the lower one.
func (s *Session) Literal16(r Register, hi16 bool, v uint16) error {
	const op = "Literal16"
	if err := s.checkReg(op, r, SP, PC); err != nil {
		return err
	}
	i, rest := splitImm16(v)
	if hi16 {
		// MOVT Rd, #imm16 (T1)
		return s.emit(op, []uint16{0xF2C0 | i, rest | uint16(r)<<8}, "movt %s, #%#x", r, v)
	}
	// MOVW Rd, #imm16 (T3)
	return s.emit(op, []uint16{0xF240 | i, rest | uint16(r)<<8}, "movw %s, #%#x", r, v)
}

// Literal32 loads v into r with a single instruction when one exists,
// otherwise through the literal pool.
func (s *Session) Literal32(r Register, v uint32) error {
	const op = "Literal32"
	if err := s.checkReg(op, r, SP, PC); err != nil {
		return err
	}
	return s.literal32(op, r, v)
}

func (s *Session) literal32(op string, r Register, v uint32) error {
	// MOV.W Rd, #const (T2)
	if imm12, ok := encodeModImm(v); ok {
		i, rest := splitImm12(imm12)
		return s.emit(op, []uint16{0xF04F | i, rest | uint16(r)<<8}, "mov.w %s, #%#x", r, v)
	}
	// MVN.W Rd, #const (T1)
	if imm12, ok := encodeModImm(^v); ok {
		i, rest := splitImm12(imm12)
		return s.emit(op, []uint16{0xF06F | i, rest | uint16(r)<<8}, "mvn.w %s, #%#x", r, ^v)
	}
	if v <= 0xFFFF {
		i, rest := splitImm16(uint16(v))
		return s.emit(op, []uint16{0xF240 | i, rest | uint16(r)<<8}, "movw %s, #%#x", r, v)
	}

	if err := s.ready(op); err != nil {
		return err
	}
	b, err := s.reserve(op, 6, s.active().pool.wordCost(v))
	if err != nil {
		return err
	}
	at := b.len()
	// LDR.W Rd, [Rd, #imm12], imm12 patched when the pool is placed
	s.write(b, []uint16{movFromPC(r), 0xF8D0 | uint16(r), uint16(r) << 12},
		"mov %s, pc; ldr.w %s, [%s, #=%#x]", r, r, r, v)
	b.pool.addWord(at, v)
	return nil
}

// movFromPC is MOV Rd, pc (T1). pc reads as the address of the MOV plus
// 4 with no word alignment, so the pair it starts is position independent.
func movFromPC(r Register) uint16 {
	return 0x4600 | uint16(r>>3)<<7 | uint16(PC)<<3 | uint16(r&7)
}

// Literal64 loads the low word of v into r and the high word into r+1
func (s *Session) Literal64(r Register, v uint64) error {
	const op = "Literal64"
	if err := s.checkReg(op, r, SP, PC); err != nil {
		return err
	}
	if r+1 > R12 {
		return s.fail(protocolf(op, "%s has no successor for the high word", r))
	}
	if err := s.literal32(op, r, uint32(v)); err != nil {
		return err
	}
	return s.literal32(op, r+1, uint32(v>>32))
}

// LiteralString stores data in the pool and loads its address into r.
// With nullTerminate a NUL byte follows the data. The returned length
// does not count the terminator.
func (s *Session) LiteralString(r Register, data []byte, nullTerminate bool) (int, error) {
	const op = "LiteralString"
	if err := s.checkReg(op, r, SP, PC); err != nil {
		return 0, err
	}
	stored := paddedString(data, nullTerminate)
	b, err := s.reserve(op, 6, len(stored))
	if err != nil {
		return 0, err
	}
	at := b.len()
	// ADDW Rd, Rd, #imm12, imm12 patched when the pool is placed
	s.write(b, []uint16{movFromPC(r), 0xF200 | uint16(r), uint16(r) << 8},
		"mov %s, pc; addw %s, %s, #=%q", r, r, r, data)
	b.pool.addString(at, stored)
	return len(data), nil
}
