// Completion: 100% - Simulator for the emitted Thumb-2 subset complete
package armv7m

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ReturnSentinel is loaded into lr by Call. Branching to it ends the run.
const ReturnSentinel uint32 = 0xFFFFFFF1

// ErrStepLimit is returned when a run executes more than MaxSteps instructions
var ErrStepLimit = errors.New("armv7m: step limit reached")

// Hook stands in for a native function. It sees the registers at the BLX
// and returns by leaving its result in R[0] (and R[1]).
type Hook func(m *Machine) error

// Machine is an ARMv7-M core with a flat little-endian memory starting at
// address 0. It only knows the instructions Decode knows.
type Machine struct {
	R          [16]uint32
	N, Z, C, V bool
	Mem        []byte
	Hooks      map[uint32]Hook // keyed by address without the Thumb bit
	MaxSteps   int
	Steps      int
	Trace      func(in Inst) // called before each instruction when set

	halted bool
}

// NewMachine creates a machine with memSize bytes of zeroed memory
func NewMachine(memSize int) *Machine {
	return &Machine{
		Mem:      make([]byte, memSize),
		Hooks:    make(map[uint32]Hook),
		MaxSteps: 1 << 20,
	}
}

// Load copies code into memory at addr
func (m *Machine) Load(addr uint32, code []byte) error {
	if uint64(addr)+uint64(len(code)) > uint64(len(m.Mem)) {
		return fmt.Errorf("load %d bytes at %#x: beyond memory size %#x", len(code), addr, len(m.Mem))
	}
	copy(m.Mem[addr:], code)
	return nil
}

// Hook registers fn to run whenever code calls addr
func (m *Machine) Hook(addr uint32, fn Hook) {
	m.Hooks[addr&^1] = fn
}

// Call runs the function at entry with up to four arguments in r0-r3 and
// a fresh stack at the top of memory. It returns r0 once the function
// returns through lr.
func (m *Machine) Call(entry uint32, args ...uint32) (uint32, error) {
	if len(args) > 4 {
		return 0, fmt.Errorf("call %#x: %d arguments, at most 4 go in registers", entry, len(args))
	}
	for i, a := range args {
		m.R[i] = a
	}
	m.R[13] = uint32(len(m.Mem)) &^ 7
	m.R[14] = ReturnSentinel
	m.R[15] = entry &^ 1
	m.halted = false
	m.Steps = 0
	for !m.halted {
		if err := m.Step(); err != nil {
			return m.R[0], err
		}
	}
	return m.R[0], nil
}

func (m *Machine) Read32(addr uint32) (uint32, error) {
	if uint64(addr)+4 > uint64(len(m.Mem)) {
		return 0, fmt.Errorf("read at %#x: out of bounds", addr)
	}
	return binary.LittleEndian.Uint32(m.Mem[addr:]), nil
}

func (m *Machine) Write32(addr, v uint32) error {
	if uint64(addr)+4 > uint64(len(m.Mem)) {
		return fmt.Errorf("write at %#x: out of bounds", addr)
	}
	binary.LittleEndian.PutUint32(m.Mem[addr:], v)
	return nil
}

// CString reads a NUL terminated string at addr
func (m *Machine) CString(addr uint32) (string, error) {
	for end := addr; uint64(end) < uint64(len(m.Mem)); end++ {
		if m.Mem[end] == 0 {
			return string(m.Mem[addr:end]), nil
		}
	}
	return "", fmt.Errorf("string at %#x: no terminator", addr)
}

// Step executes one instruction
func (m *Machine) Step() error {
	if m.MaxSteps > 0 && m.Steps >= m.MaxSteps {
		return ErrStepLimit
	}
	m.Steps++
	pc := m.R[15]
	if pc >= uint32(len(m.Mem)) {
		return fmt.Errorf("pc %#x outside memory", pc)
	}
	in, err := Decode(m.Mem, int(pc))
	if err != nil {
		return err
	}
	if m.Trace != nil {
		m.Trace(in)
	}
	next := pc + uint32(in.Size)
	m.R[15] = next
	if err := m.execute(in, pc); err != nil {
		return fmt.Errorf("%#04x: %s: %w", pc, in, err)
	}
	return nil
}

// reg reads a register the way an instruction at pc sees it
func (m *Machine) reg(r uint8, pc uint32) uint32 {
	if r == 15 {
		return pc + 4
	}
	return m.R[r]
}

// branchTo writes pc the way POP and BX do
func (m *Machine) branchTo(target uint32) error {
	if target == ReturnSentinel {
		m.halted = true
		return nil
	}
	if target&1 == 0 {
		return fmt.Errorf("branch to %#x would leave Thumb state", target)
	}
	m.R[15] = target &^ 1
	return nil
}

func addWithCarry(x, y uint32, carry bool) (result uint32, c, v bool) {
	var cin uint64
	if carry {
		cin = 1
	}
	sum := uint64(x) + uint64(y) + cin
	result = uint32(sum)
	c = sum>>32 != 0
	v = (x^result)&(y^result)&0x80000000 != 0
	return result, c, v
}

func (m *Machine) setFlags(result uint32, c, v bool) {
	m.N = result&0x80000000 != 0
	m.Z = result == 0
	m.C = c
	m.V = v
}

// Holds evaluates a condition code against the current flags
func (m *Machine) Holds(cond uint8) bool {
	switch cond {
	case 0:
		return m.Z
	case 1:
		return !m.Z
	case 2:
		return m.C
	case 3:
		return !m.C
	case 4:
		return m.N
	case 5:
		return !m.N
	case 6:
		return m.V
	case 7:
		return !m.V
	case 8:
		return m.C && !m.Z
	case 9:
		return !m.C || m.Z
	case 10:
		return m.N == m.V
	case 11:
		return m.N != m.V
	case 12:
		return !m.Z && m.N == m.V
	case 13:
		return m.Z || m.N != m.V
	}
	return true
}

func (m *Machine) execute(in Inst, pc uint32) error {
	switch in.Op {
	case OpNop:
	case OpMovReg:
		v := m.reg(in.Rm, pc)
		if in.Rd == 15 {
			m.R[15] = v &^ 1
			return nil
		}
		m.R[in.Rd] = v
	case OpMvnReg:
		m.R[in.Rd] = ^m.R[in.Rm]
	case OpAndReg:
		m.R[in.Rd] = m.R[in.Rn] & m.R[in.Rm]
	case OpMovImm, OpMovW:
		m.R[in.Rd] = in.Imm
	case OpMvnImm:
		m.R[in.Rd] = ^in.Imm
	case OpMovT:
		m.R[in.Rd] = m.R[in.Rd]&0xFFFF | in.Imm<<16
	case OpAddW:
		m.R[in.Rd] = m.reg(in.Rn, pc) + in.Imm
	case OpSubW:
		m.R[in.Rd] = m.reg(in.Rn, pc) - in.Imm
	case OpCmpImm:
		m.setFlags(addWithCarry(m.R[in.Rn], ^in.Imm, true))
	case OpCmnImm:
		m.setFlags(addWithCarry(m.R[in.Rn], in.Imm, false))
	case OpLdr, OpStr:
		return m.memory(in, pc)
	case OpPush:
		sp := m.R[13]
		for r := 15; r >= 0; r-- {
			if in.Imm&(1<<r) == 0 {
				continue
			}
			sp -= 4
			if err := m.Write32(sp, m.R[r]); err != nil {
				return err
			}
		}
		m.R[13] = sp
	case OpPop:
		sp := m.R[13]
		var newPC uint32
		for r := 0; r < 16; r++ {
			if in.Imm&(1<<r) == 0 {
				continue
			}
			v, err := m.Read32(sp)
			if err != nil {
				return err
			}
			sp += 4
			if r == 15 {
				newPC = v
				continue
			}
			m.R[r] = v
		}
		m.R[13] = sp
		if in.Imm&(1<<15) != 0 {
			return m.branchTo(newPC)
		}
	case OpB:
		m.R[15] = uint32(in.Target())
	case OpBCond:
		if m.Holds(in.Cond) {
			m.R[15] = uint32(in.Target())
		}
	case OpBlx:
		target := m.R[in.Rm]
		m.R[14] = m.R[15] | 1
		if fn, ok := m.Hooks[target&^1]; ok {
			return fn(m)
		}
		return m.branchTo(target)
	case OpBx:
		return m.branchTo(m.R[in.Rm])
	default:
		return fmt.Errorf("cannot execute %s", in.Op)
	}
	return nil
}

func (m *Machine) memory(in Inst, pc uint32) error {
	base := m.reg(in.Rn, pc)
	offset := base - in.Imm
	if in.Add {
		offset = base + in.Imm
	}
	addr := base
	if in.Index {
		addr = offset
	}
	if in.Op == OpLdr {
		v, err := m.Read32(addr)
		if err != nil {
			return err
		}
		if in.WriteBack {
			m.R[in.Rn] = offset
		}
		if in.Rd == 15 {
			return m.branchTo(v)
		}
		m.R[in.Rd] = v
		return nil
	}
	if err := m.Write32(addr, m.R[in.Rd]); err != nil {
		return err
	}
	if in.WriteBack {
		m.R[in.Rn] = offset
	}
	return nil
}
