// Completion: 100% - Thumb-2 instruction encoder complete
package thumb

import "fmt"

// Branch displacements passed to BranchRelative and
// BranchConditionalRelative count from the end of the branch instruction.
// A 16-bit branch at a reads pc as a+4, which is two bytes past its end,
// so the narrow forms encode bytes-2 while the wide forms encode bytes.

func fitsNarrowB(bytes int) bool {
	off := bytes - 2
	return off >= -2048 && off <= 2046
}

func fitsWideB(off int) bool {
	return off >= -(1<<24) && off <= 1<<24-2
}

func fitsNarrowBCond(bytes int) bool {
	off := bytes - 2
	return off >= -256 && off <= 254
}

func fitsWideBCond(off int) bool {
	return off >= -(1<<20) && off <= 1<<20-2
}

// narrowB encodes B T2 for a displacement from the end of the branch
func narrowB(bytes int) uint16 {
	return 0xE000 | uint16((bytes-2)>>1)&0x7FF
}

// wideB encodes B.W T4 for a pc-relative offset
func wideB(off int) (uint16, uint16) {
	u := uint32(off)
	s := u >> 24 & 1
	i1 := u >> 23 & 1
	i2 := u >> 22 & 1
	j1 := (1 - i1) ^ s
	j2 := (1 - i2) ^ s
	hw1 := 0xF000 | uint16(s)<<10 | uint16(u>>12&0x3FF)
	hw2 := 0x9000 | uint16(j1)<<13 | uint16(j2)<<11 | uint16(u>>1&0x7FF)
	return hw1, hw2
}

func narrowBCond(c Condition, bytes int) uint16 {
	return 0xD000 | uint16(c)<<8 | uint16((bytes-2)>>1)&0xFF
}

// wideBCond encodes B<c>.W T3; unlike T4 the J bits are stored as is
func wideBCond(c Condition, off int) (uint16, uint16) {
	u := uint32(off)
	s := u >> 20 & 1
	j2 := u >> 19 & 1
	j1 := u >> 18 & 1
	hw1 := 0xF000 | uint16(s)<<10 | uint16(c)<<6 | uint16(u>>12&0x3F)
	hw2 := 0x8000 | uint16(j1)<<13 | uint16(j2)<<11 | uint16(u>>1&0x7FF)
	return hw1, hw2
}

// BranchWidth returns the size BranchRelative(bytes) will emit
func BranchWidth(bytes int) int {
	if fitsNarrowB(bytes) {
		return 2
	}
	return 4
}

// CondBranchWidth returns the size BranchConditionalRelative(c, bytes) will emit
func CondBranchWidth(bytes int) int {
	if fitsNarrowBCond(bytes) {
		return 2
	}
	return 4
}

// checkReg rejects registers that op cannot encode
func (s *Session) checkReg(op string, r Register, reject ...Register) error {
	if !r.Valid() {
		return s.fail(protocolf(op, "invalid register %s", r))
	}
	for _, x := range reject {
		if r == x {
			return s.fail(protocolf(op, "%s cannot be used here", r))
		}
	}
	return nil
}

// Mov copies a register. MOV (register) T1 accepts every register and
// leaves the flags alone; writing pc is a branch.
func (s *Session) Mov(to, from Register) error {
	const op = "Mov"
	if err := s.checkReg(op, to); err != nil {
		return err
	}
	if err := s.checkReg(op, from); err != nil {
		return err
	}
	// MOV Rd, Rm (T1): 0100 0110 D Rm Rd
	hw := 0x4600 | uint16(to>>3)<<7 | uint16(from)<<3 | uint16(to&7)
	if err := s.emit(op, []uint16{hw}, "mov %s, %s", to, from); err != nil {
		return err
	}
	if to == PC {
		s.active().terminal = true
	}
	return nil
}

// Mvn writes the bitwise complement of from to to
func (s *Session) Mvn(to, from Register) error {
	const op = "Mvn"
	if err := s.checkReg(op, to, SP, PC); err != nil {
		return err
	}
	if err := s.checkReg(op, from, SP, PC); err != nil {
		return err
	}
	// MVN.W Rd, Rm (T2)
	return s.emit(op, []uint16{0xEA6F, uint16(to)<<8 | uint16(from)}, "mvn.w %s, %s", to, from)
}

// And computes to = to & from
func (s *Session) And(to, from Register) error {
	const op = "And"
	if err := s.checkReg(op, to, SP, PC); err != nil {
		return err
	}
	if err := s.checkReg(op, from, SP, PC); err != nil {
		return err
	}
	// AND.W Rd, Rn, Rm (T2) with Rn = Rd
	return s.emit(op, []uint16{0xEA00 | uint16(to), uint16(to)<<8 | uint16(from)}, "and.w %s, %s, %s", to, to, from)
}

// CompareImm sets the flags from r - imm. This is the only primitive
// that changes the flags.
func (s *Session) CompareImm(r Register, imm int) error {
	const op = "CompareImm"
	if err := s.checkReg(op, r, PC); err != nil {
		return err
	}
	if int64(imm) < -(1<<31) || int64(imm) > 1<<32-1 {
		return s.fail(rangef(op, "immediate %d does not fit in 32 bits", imm))
	}
	// CMP Rn, #imm8 (T1)
	if r.Low() && imm >= 0 && imm <= 0xFF {
		return s.emit(op, []uint16{0x2800 | uint16(r)<<8 | uint16(imm)}, "cmp %s, #%d", r, imm)
	}
	// CMP.W Rn, #const (T2)
	if imm12, ok := encodeModImm(uint32(imm)); ok {
		i, rest := splitImm12(imm12)
		return s.emit(op, []uint16{0xF1B0 | i | uint16(r), rest | 0x0F00}, "cmp.w %s, #%d", r, imm)
	}
	// CMN.W Rn, #const (T1): r + (-imm) sets the same flags as r - imm
	if imm < 0 && imm != -(1<<31) {
		if imm12, ok := encodeModImm(uint32(-imm)); ok {
			i, rest := splitImm12(imm12)
			return s.emit(op, []uint16{0xF110 | i | uint16(r), rest | 0x0F00}, "cmn.w %s, #%d", r, -imm)
		}
	}
	return s.fail(rangef(op, "immediate %#x cannot be encoded as a compare constant", imm))
}

// BranchRelative branches unconditionally. bytes counts from the end of
// the branch, so 0 falls through to the next instruction.
func (s *Session) BranchRelative(bytes int) error {
	const op = "BranchRelative"
	if err := s.ready(op); err != nil {
		return err
	}
	if bytes%2 != 0 {
		return s.fail(rangef(op, "odd displacement %d", bytes))
	}
	if !fitsWideB(bytes) {
		return s.fail(rangef(op, "displacement %d exceeds the reach of B.W", bytes))
	}
	if err := s.forwardSpan(op, BranchWidth(bytes), bytes); err != nil {
		return err
	}
	var err error
	if fitsNarrowB(bytes) {
		err = s.emit(op, []uint16{narrowB(bytes)}, "b.n %+d", bytes)
	} else {
		hw1, hw2 := wideB(bytes)
		err = s.emit(op, []uint16{hw1, hw2}, "b.w %+d", bytes)
	}
	if err != nil {
		return err
	}
	b := s.active()
	b.terminal = true
	if bytes > 0 {
		b.fenceAt(b.len() + bytes)
	}
	return nil
}

// BranchConditionalRelative branches when c holds
func (s *Session) BranchConditionalRelative(c Condition, bytes int) error {
	const op = "BranchConditionalRelative"
	if err := s.ready(op); err != nil {
		return err
	}
	if !c.Valid() {
		return s.fail(protocolf(op, "invalid condition %s", c))
	}
	if bytes%2 != 0 {
		return s.fail(rangef(op, "odd displacement %d", bytes))
	}
	if !fitsWideBCond(bytes) {
		return s.fail(rangef(op, "displacement %d exceeds the reach of B<c>.W", bytes))
	}
	if err := s.forwardSpan(op, CondBranchWidth(bytes), bytes); err != nil {
		return err
	}
	var err error
	if fitsNarrowBCond(bytes) {
		err = s.emit(op, []uint16{narrowBCond(c, bytes)}, "b%s.n %+d", c, bytes)
	} else {
		hw1, hw2 := wideBCond(c, bytes)
		err = s.emit(op, []uint16{hw1, hw2}, "b%s.w %+d", c, bytes)
	}
	if err != nil {
		return err
	}
	if bytes > 0 {
		b := s.active()
		b.fenceAt(b.len() + bytes)
	}
	return nil
}

// forwardSpan runs before a branch of width bytes that skips bytes more.
// No island may land between a forward branch and its target, so under
// PoolSplit pending literals that could not wait until after the target
// are placed before the branch.
func (s *Session) forwardSpan(op string, width, bytes int) error {
	b := s.active()
	if bytes <= 0 || s.cfg.Pool != PoolSplit || b.pool.empty() || s.reachable(b, width+bytes, 0) {
		return nil
	}
	if s.cfg.Verbose {
		s.log.Debugf("%04x: pool split before forward %s", b.len(), op)
	}
	return s.flushPool(op, b)
}

// branchTarget checks pos and returns the active buffer, ready for a
// branch of up to 4 bytes
func (s *Session) branchTarget(op string, pos int) (*codeBuffer, error) {
	b, err := s.reserve(op, 4, 0)
	if err != nil {
		return nil, err
	}
	if pos%2 != 0 || pos < 0 || pos > b.len() {
		return nil, s.fail(rangef(op, "target %d is not a position already emitted in this buffer (length %d)", pos, b.len()))
	}
	return b, nil
}

// BranchTo branches back to pos, a ByteCount taken earlier in the same buffer
func (s *Session) BranchTo(pos int) error {
	const op = "BranchTo"
	b, err := s.branchTarget(op, pos)
	if err != nil {
		return err
	}
	off := pos - (b.len() + 4)
	switch {
	case fitsNarrowB(off + 2):
		s.write(b, []uint16{narrowB(off + 2)}, "b.n @%04x", pos)
	case fitsWideB(off):
		hw1, hw2 := wideB(off)
		s.write(b, []uint16{hw1, hw2}, "b.w @%04x", pos)
	default:
		return s.fail(rangef(op, "target %d is out of reach", pos))
	}
	b.terminal = true
	return nil
}

// BranchConditionalTo branches back to pos when c holds
func (s *Session) BranchConditionalTo(c Condition, pos int) error {
	const op = "BranchConditionalTo"
	b, err := s.branchTarget(op, pos)
	if err != nil {
		return err
	}
	if !c.Valid() {
		return s.fail(protocolf(op, "invalid condition %s", c))
	}
	off := pos - (b.len() + 4)
	switch {
	case fitsNarrowBCond(off + 2):
		s.write(b, []uint16{narrowBCond(c, off+2)}, "b%s.n @%04x", c, pos)
	case fitsWideBCond(off):
		hw1, hw2 := wideBCond(c, off)
		s.write(b, []uint16{hw1, hw2}, "b%s.w @%04x", c, pos)
	default:
		return s.fail(rangef(op, "target %d is out of reach", pos))
	}
	return nil
}

// memOp describes the LDR/STR immediate encodings, which differ only in
// their opcode bits
type memOp struct {
	name                     string
	t1, t2, t3, t4           uint16
	rejectBase, rejectTarget []Register
}

var (
	ldrOp = memOp{name: "ldr", t1: 0x6800, t2: 0x9800, t3: 0xF8D0, t4: 0xF850,
		rejectBase: []Register{PC}, rejectTarget: []Register{PC}}
	strOp = memOp{name: "str", t1: 0x6000, t2: 0x9000, t3: 0xF8C0, t4: 0xF840,
		rejectBase: []Register{PC}, rejectTarget: []Register{PC}}
)

// encodeMem picks the shortest encoding of op for [base, #off]
func encodeMem(m memOp, r, base Register, off int) ([]uint16, error) {
	switch {
	// T1: low registers, word-aligned 0..124
	case r.Low() && base.Low() && off >= 0 && off <= 124 && off%4 == 0:
		return []uint16{m.t1 | uint16(off/4)<<6 | uint16(base)<<3 | uint16(r)}, nil
	// T2: sp-relative, word-aligned 0..1020
	case base == SP && r.Low() && off >= 0 && off <= 1020 && off%4 == 0:
		return []uint16{m.t2 | uint16(r)<<8 | uint16(off/4)}, nil
	// T3: imm12
	case off >= 0 && off <= 4095:
		return []uint16{m.t3 | uint16(base), uint16(r)<<12 | uint16(off)}, nil
	// T4: negative imm8, P=1 U=0 W=0
	case off < 0 && off >= -255:
		return []uint16{m.t4 | uint16(base), uint16(r)<<12 | 0x0C00 | uint16(-off)}, nil
	}
	return nil, fmt.Errorf("offset %d is outside -255..4095", off)
}

func (s *Session) memory(op string, m memOp, r, base Register, off int) error {
	if err := s.checkReg(op, r, m.rejectTarget...); err != nil {
		return err
	}
	if err := s.checkReg(op, base, m.rejectBase...); err != nil {
		return err
	}
	hws, err := encodeMem(m, r, base, off)
	if err != nil {
		return s.fail(rangef(op, "%v", err))
	}
	return s.emit(op, hws, "%s %s, [%s, #%d]", m.name, r, base, off)
}

// LoadImm loads the word at base+off into r
func (s *Session) LoadImm(r, base Register, off int) error {
	return s.memory("LoadImm", ldrOp, r, base, off)
}

// StoreImm stores r to the word at base+off
func (s *Session) StoreImm(r, base Register, off int) error {
	return s.memory("StoreImm", strOp, r, base, off)
}
