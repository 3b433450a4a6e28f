// Completion: 100% - Register and condition tokens complete
package thumb

import (
	"fmt"
	"strconv"
	"strings"
)

// Register is one of the sixteen ARMv7-M core registers.
// The zero value is R0. Use RegisterFromIndex or ParseRegister to
// build one from untrusted input.
type Register uint8

const (
	R0 Register = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	SP // r13
	LR // r14
	PC // r15
)

// Scratch is the intra-procedure-call register used by Call.
const Scratch = R12

var registerNames = map[string]Register{
	"r0": R0, "r1": R1, "r2": R2, "r3": R3, "r4": R4, "r5": R5, "r6": R6, "r7": R7,
	"r8": R8, "r9": R9, "r10": R10, "r11": R11, "r12": R12, "r13": SP, "r14": LR, "r15": PC,
	"ip": R12, "sp": SP, "lr": LR, "pc": PC,
}

// RegisterFromIndex validates a raw register number.
func RegisterFromIndex(i int) (Register, error) {
	if i < 0 || i > 15 {
		return 0, fmt.Errorf("invalid register index: %d", i)
	}
	return Register(i), nil
}

// ParseRegister parses names like "r3", "sp", "lr" and "ip"
func ParseRegister(s string) (Register, error) {
	r, ok := registerNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("invalid register: %s", s)
	}
	return r, nil
}

// RegisterNames returns every accepted register spelling
func RegisterNames() []string {
	names := make([]string, 0, len(registerNames))
	for name := range registerNames {
		names = append(names, name)
	}
	return names
}

func (r Register) String() string {
	switch r {
	case SP:
		return "sp"
	case LR:
		return "lr"
	case PC:
		return "pc"
	}
	if r > PC {
		return "r?" + strconv.Itoa(int(r))
	}
	return "r" + strconv.Itoa(int(r))
}

// Valid reports whether r names a real register
func (r Register) Valid() bool {
	return r <= PC
}

// Low reports whether r is r0-r7, reachable by most 16-bit encodings
func (r Register) Low() bool {
	return r <= R7
}

// Condition is a flag test. The numeric value is the ARM cond field.
type Condition uint8

const (
	EQ Condition = iota // Z set
	NE                  // Z clear
	CS                  // C set (unsigned >=)
	CC                  // C clear (unsigned <)
	MI                  // N set
	PL                  // N clear
	VS                  // V set
	VC                  // V clear
	HI                  // C set and Z clear
	LS                  // C clear or Z set
	GE                  // N == V
	LT                  // N != V
	GT                  // Z clear and N == V
	LE                  // Z set or N != V
)

var conditionNames = [...]string{
	EQ: "eq", NE: "ne", CS: "cs", CC: "cc", MI: "mi", PL: "pl", VS: "vs",
	VC: "vc", HI: "hi", LS: "ls", GE: "ge", LT: "lt", GT: "gt", LE: "le",
}

// ConditionFromIndex validates a raw condition number (0-13)
func ConditionFromIndex(i int) (Condition, error) {
	if i < 0 || i >= len(conditionNames) {
		return 0, fmt.Errorf("invalid condition code: %d", i)
	}
	return Condition(i), nil
}

// ParseCondition parses a condition mnemonic. "hs" and "lo" are accepted
// as aliases of "cs" and "cc".
func ParseCondition(s string) (Condition, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "hs":
		return CS, nil
	case "lo":
		return CC, nil
	}
	for i, name := range conditionNames {
		if name == s {
			return Condition(i), nil
		}
	}
	return 0, fmt.Errorf("invalid condition code: %s", s)
}

func (c Condition) String() string {
	if !c.Valid() {
		return "c?" + strconv.Itoa(int(c))
	}
	return conditionNames[c]
}

// Valid reports whether c is one of the fourteen flag tests
func (c Condition) Valid() bool {
	return int(c) < len(conditionNames)
}

// Invert returns the opposite flag test (EQ <-> NE, GE <-> LT, ...)
func (c Condition) Invert() Condition {
	return c ^ 1
}

// ValueType tags a pushed stack slot.
type ValueType uint8

const (
	Int ValueType = iota // native scalar
	Ref                  // managed reference
)

func (t ValueType) String() string {
	switch t {
	case Int:
		return "int"
	case Ref:
		return "ref"
	default:
		return "unknown"
	}
}

// ParseValueType parses "int" or "ref"
func ParseValueType(s string) (ValueType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int", "scalar":
		return Int, nil
	case "ref", "var", "jsvar":
		return Ref, nil
	default:
		return 0, fmt.Errorf("invalid value type: %s (expected int or ref)", s)
	}
}
