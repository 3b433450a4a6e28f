package armv7m

import (
	"errors"
	"testing"
)

func TestMachineFlags(t *testing.T) {
	tests := []struct {
		name       string
		r0         uint32
		cmp        []uint16
		holds      []uint8
		doesntHold []uint8
	}{
		{"equal", 5, []uint16{0x2805}, []uint8{0, 2, 9, 10, 13}, []uint8{1, 3, 8, 11, 12}},
		{"greater", 7, []uint16{0x2805}, []uint8{1, 2, 8, 10, 12}, []uint8{0, 3, 9, 11, 13}},
		{"less_signed", 0xFFFFFFFF, []uint16{0x2805}, []uint8{1, 2, 4, 11}, []uint8{0, 10, 12}},
		{"cmn_equal", 0xFFFFFF00, []uint16{0xF510, 0x7F80}, []uint8{0, 2}, []uint8{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(0x100)
			m.Load(0, code16(tt.cmp...))
			m.R[0] = tt.r0
			if err := m.Step(); err != nil {
				t.Fatal(err)
			}
			for _, c := range tt.holds {
				if !m.Holds(c) {
					t.Errorf("expected %s to hold", condNames[c])
				}
			}
			for _, c := range tt.doesntHold {
				if m.Holds(c) {
					t.Errorf("expected %s not to hold", condNames[c])
				}
			}
		})
	}
}

func TestMachineCallAndReturn(t *testing.T) {
	m := NewMachine(0x1000)
	// push {r3-r11, lr}; movw r12, #0x801; blx r12; pop {r3-r11, pc}
	m.Load(0x100, code16(0xE92D, 0x4FF8, 0xF640, 0x0C01, 0x47E0, 0xE8BD, 0x8FF8))
	m.Hook(0x800, func(m *Machine) error {
		m.R[0] *= 3
		return nil
	})
	r0, err := m.Call(0x101, 14)
	if err != nil {
		t.Fatal(err)
	}
	if r0 != 42 {
		t.Errorf("r0 = %d, want 42", r0)
	}
	if m.R[13] != 0x1000 {
		t.Errorf("sp = %#x, want it balanced", m.R[13])
	}
}

func TestMachineStepLimit(t *testing.T) {
	m := NewMachine(0x100)
	m.MaxSteps = 10
	// b . (spin)
	m.Load(0, code16(0xE7FE))
	if _, err := m.Call(1); !errors.Is(err, ErrStepLimit) {
		t.Errorf("Expected the step limit, got %v", err)
	}
}

func TestMachineMemoryFault(t *testing.T) {
	m := NewMachine(0x100)
	// mvn.w r1, #0 ; ldr r0, [r1, #0]
	m.Load(0, code16(0xF06F, 0x0100, 0xF8D1, 0x0000))
	if _, err := m.Call(1); err == nil {
		t.Error("Expected an out of bounds read")
	}
}
