package thumb

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xyproto/thumbjit/internal/armv7m"
)

func TestCallEncoding(t *testing.T) {
	got := capture(t, func(s *Session) error { return s.Call(0x2000) })
	// movw r12, #0x2001; blx r12
	want := []uint16{0xF242, 0x0C01, 0x47E0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("call mismatch (-want +got):\n%s", diff)
	}
}

func TestCallNamedMatchesCall(t *testing.T) {
	plain := capture(t, func(s *Session) error { return s.Call(0x08001234) })
	named := capture(t, func(s *Session) error { return s.CallNamed(0x08001234, "jsvNewFromInteger") })
	if diff := cmp.Diff(plain, named); diff != "" {
		t.Errorf("CallNamed changed the code (-plain +named):\n%s", diff)
	}
}

func TestCallRunsNativeFunction(t *testing.T) {
	const native = 0x3000
	calls := 0
	hooks := map[uint32]armv7m.Hook{
		native: func(m *armv7m.Machine) error {
			calls++
			m.R[0] = m.R[0] + m.R[1]
			return nil
		},
	}
	code := compile(t, testConfig(), func(s *Session) error {
		s.Literal32(R0, 40)
		s.Literal32(R1, 2)
		return s.CallNamed(native, "add")
	})
	m := execute(t, code, hooks)
	if calls != 1 {
		t.Errorf("Expected one native call, got %d", calls)
	}
	if m.R[0] != 42 {
		t.Errorf("r0 = %d, want 42", m.R[0])
	}
}

func TestCallFarAddress(t *testing.T) {
	const native = 0x0800ABCC
	called := false
	m := armv7m.NewMachine(testMemSize)
	code := compile(t, testConfig(), func(s *Session) error {
		return s.Call(native)
	})
	if err := m.Load(testCodeBase, code); err != nil {
		t.Fatal(err)
	}
	m.Hook(native, func(m *armv7m.Machine) error {
		called = true
		if m.R[12] != native|1 {
			t.Errorf("r12 = %#x, want the Thumb bit set", m.R[12])
		}
		return nil
	})
	if _, err := m.Call(testCodeBase | 1); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("Expected the native function to run")
	}
}
