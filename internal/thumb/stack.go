// Completion: 100% - Value-typed stack tracking complete
package thumb

import (
	"fmt"
	"strings"
)

// valueLedger shadows the native stack slots pushed by Push, in order,
// so the runtime knows which slots hold managed references
type valueLedger struct {
	slots      []ValueType
	operations []string // history for fault messages
}

func (l *valueLedger) depth() int {
	return len(l.slots)
}

func (l *valueLedger) push(r Register, t ValueType) {
	l.slots = append(l.slots, t)
	l.operations = append(l.operations, fmt.Sprintf("push %s:%s (depth=%d)", r, t, len(l.slots)))
}

func (l *valueLedger) pop(r Register) (ValueType, bool) {
	if len(l.slots) == 0 {
		return 0, false
	}
	t := l.slots[len(l.slots)-1]
	l.slots = l.slots[:len(l.slots)-1]
	l.operations = append(l.operations, fmt.Sprintf("pop %s:%s (depth=%d)", r, t, len(l.slots)))
	return t, true
}

// recent lists the last few pushes and pops
func (l *valueLedger) recent() string {
	start := len(l.operations) - 10
	if start < 0 {
		start = 0
	}
	if start == len(l.operations) {
		return "no pushes or pops so far"
	}
	return "recent operations: " + strings.Join(l.operations[start:], ", ")
}

// describe lists the live slots, bottom first
func (l *valueLedger) describe() string {
	parts := make([]string, len(l.slots))
	for i, t := range l.slots {
		parts[i] = t.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Push stores r on the native stack and records that the slot holds a
// value of type t
func (s *Session) Push(r Register, t ValueType) error {
	const op = "Push"
	if err := s.checkReg(op, r, SP, PC); err != nil {
		return err
	}
	if t != Int && t != Ref {
		return s.fail(protocolf(op, "invalid value type %d", t))
	}
	var hws []uint16
	switch {
	case r.Low():
		// PUSH {Rt} (T1)
		hws = []uint16{0xB400 | 1<<r}
	case r == LR:
		hws = []uint16{0xB500}
	default:
		// STR.W Rt, [sp, #-4]! (T4)
		hws = []uint16{0xF84D, uint16(r)<<12 | 0x0D04}
	}
	if err := s.emit(op, hws, "push {%s} ; %s", r, t); err != nil {
		return err
	}
	s.ledger.push(r, t)
	if s.cfg.Verbose {
		s.log.Debugf("stack: push %s, depth now %d", t, s.ledger.depth())
	}
	return nil
}

// Pop loads the top stack slot into r and returns the type recorded for
// it. Popping more than was pushed is a protocol fault.
func (s *Session) Pop(r Register) (ValueType, error) {
	const op = "Pop"
	if err := s.checkReg(op, r, SP); err != nil {
		return 0, err
	}
	if err := s.ready(op); err != nil {
		return 0, err
	}
	if s.ledger.depth() == 0 {
		return 0, s.fail(protocolf(op, "stack underflow popping %s; %s", r, s.ledger.recent()))
	}
	var hws []uint16
	switch {
	case r.Low():
		// POP {Rt} (T1)
		hws = []uint16{0xBC00 | 1<<r}
	case r == PC:
		hws = []uint16{0xBD00}
	default:
		// LDR.W Rt, [sp], #4 (T4)
		hws = []uint16{0xF85D, uint16(r)<<12 | 0x0B04}
	}
	if err := s.emit(op, hws, "pop {%s}", r); err != nil {
		return 0, err
	}
	if r == PC {
		s.active().terminal = true
	}
	t, _ := s.ledger.pop(r)
	if s.cfg.Verbose {
		s.log.Debugf("stack: pop %s, depth now %d", t, s.ledger.depth())
	}
	return t, nil
}

// StackDepth returns the number of slots pushed and not yet popped
func (s *Session) StackDepth() int {
	return s.ledger.depth()
}

// AddSP releases n bytes of stack. The ledger is not touched.
func (s *Session) AddSP(n int) error {
	return s.adjustSP("AddSP", n, 0xB000, 0xF20D, "add")
}

// SubSP reserves n bytes of stack. The ledger is not touched.
func (s *Session) SubSP(n int) error {
	return s.adjustSP("SubSP", n, 0xB080, 0xF2AD, "sub")
}

func (s *Session) adjustSP(op string, n int, narrow, wide uint16, mnemonic string) error {
	if err := s.ready(op); err != nil {
		return err
	}
	if n < 0 || n%4 != 0 {
		return s.fail(rangef(op, "stack adjustment %d is not a non-negative multiple of 4", n))
	}
	switch {
	case n == 0:
		return nil
	case n <= 508:
		// ADD/SUB sp, sp, #imm7<<2 (T2)
		return s.emit(op, []uint16{narrow | uint16(n/4)}, "%s sp, #%d", mnemonic, n)
	case n <= 4095:
		// ADDW/SUBW sp, sp, #imm12 (T4)
		i, rest := splitImm12(uint16(n))
		return s.emit(op, []uint16{wide | i, rest | uint16(SP)<<8}, "%sw sp, sp, #%d", mnemonic, n)
	}
	return s.fail(rangef(op, "stack adjustment %d exceeds 4095", n))
}
