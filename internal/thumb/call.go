// Completion: 100% - Calling convention complete
package thumb

// Registers saved by the prologue: r3-r11 and lr, ten words, which keeps
// sp 8-byte aligned for AAPCS callees
const (
	pushAllList = 0x4FF8 // r3-r11, lr
	popAllList  = 0x8FF8 // r3-r11, pc
)

// Call invokes the native Thumb function at addr. The address goes
// through the scratch register with the Thumb bit set, then BLX r12.
// Arguments and results use the AAPCS registers, the return through lr.
func (s *Session) Call(addr uint32) error {
	const op = "Call"
	if err := s.ready(op); err != nil {
		return err
	}
	if err := s.literal32(op, Scratch, addr|1); err != nil {
		return err
	}
	// BLX Rm (T1)
	return s.emit(op, []uint16{0x4780 | uint16(Scratch)<<3}, "blx %s ; %#x", Scratch, addr|1)
}

// CallNamed is Call with a symbolic name for traces. The emitted code is
// identical; whether the name is logged depends on the build.
func (s *Session) CallNamed(addr uint32, name string) error {
	s.noteCall(addr, name)
	return s.Call(addr)
}

// PushAll saves the callee-saved registers and lr. Start emits it.
func (s *Session) PushAll() error {
	// PUSH.W {r3-r11, lr} (T2)
	return s.emit("PushAll", []uint16{0xE92D, pushAllList}, "push.w {r3-r11, lr}")
}

// PopAllAndReturn restores what PushAll saved and returns to the caller
func (s *Session) PopAllAndReturn() error {
	// POP.W {r3-r11, pc} (T2)
	if err := s.emit("PopAllAndReturn", []uint16{0xE8BD, popAllList}, "pop.w {r3-r11, pc}"); err != nil {
		return err
	}
	b := s.active()
	b.terminal = true
	b.returned = true
	return nil
}
