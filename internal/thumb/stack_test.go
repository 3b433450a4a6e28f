package thumb

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPushPopEncoding(t *testing.T) {
	tests := []struct {
		name string
		emit func(s *Session) error
		want []uint16
	}{
		{"push_low", func(s *Session) error { return s.Push(R0, Int) }, []uint16{0xB401}},
		{"push_r7", func(s *Session) error { return s.Push(R7, Ref) }, []uint16{0xB480}},
		{"push_lr", func(s *Session) error { return s.Push(LR, Ref) }, []uint16{0xB500}},
		{"push_high", func(s *Session) error { return s.Push(R9, Int) }, []uint16{0xF84D, 0x9D04}},
		{"pop_low", func(s *Session) error { s.Push(R0, Int); _, err := s.Pop(R1); return err }, []uint16{0xB401, 0xBC02}},
		{"pop_high", func(s *Session) error { s.Push(R0, Int); _, err := s.Pop(R10); return err }, []uint16{0xB401, 0xF85D, 0xAB04}},
		{"pop_lr", func(s *Session) error { s.Push(LR, Int); _, err := s.Pop(LR); return err }, []uint16{0xB500, 0xF85D, 0xEB04}},
		{"pop_pc", func(s *Session) error { s.Push(LR, Int); _, err := s.Pop(PC); return err }, []uint16{0xB500, 0xBD00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := capture(t, tt.emit)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("encoding mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLedgerOrder(t *testing.T) {
	_, s := startSession(t, testConfig())
	pushes := []struct {
		r Register
		t ValueType
	}{{R0, Int}, {R1, Ref}, {R8, Ref}, {R2, Int}}
	for _, p := range pushes {
		if err := s.Push(p.r, p.t); err != nil {
			t.Fatalf("Push(%s) failed: %v", p.r, err)
		}
	}
	if s.StackDepth() != 4 {
		t.Errorf("Expected depth 4, got %d", s.StackDepth())
	}
	var got []ValueType
	for range pushes {
		vt, err := s.Pop(R3)
		if err != nil {
			t.Fatalf("Pop failed: %v", err)
		}
		got = append(got, vt)
	}
	want := []ValueType{Int, Ref, Ref, Int}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("pop order mismatch (-want +got):\n%s", diff)
	}

	_, err := s.Pop(R0)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("Expected protocol fault on underflow, got %v", err)
	}
	if !strings.Contains(err.Error(), "recent operations") {
		t.Errorf("Expected the fault to list recent operations: %v", err)
	}
	s.Stop()
}

func TestSPAdjustDoesNotTouchLedger(t *testing.T) {
	_, s := startSession(t, testConfig())
	s.Push(R0, Ref)
	if err := s.SubSP(16); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSP(16); err != nil {
		t.Fatal(err)
	}
	if s.StackDepth() != 1 {
		t.Errorf("Expected SP adjustments to leave the ledger alone, depth %d", s.StackDepth())
	}
	if vt, err := s.Pop(R0); err != nil || vt != Ref {
		t.Errorf("Pop = %v, %v; want ref", vt, err)
	}
	if _, err := s.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestStopWithLedgerResidue(t *testing.T) {
	_, s := startSession(t, testConfig())
	s.Push(R0, Ref)
	_, err := s.Stop()
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("Expected protocol fault, got %v", err)
	}
	if !strings.Contains(err.Error(), "[ref]") {
		t.Errorf("Expected the residue in the message: %v", err)
	}
}

func TestPushPopRoundTrip(t *testing.T) {
	code := compile(t, testConfig(), func(s *Session) error {
		s.Literal32(R0, 0x11111111)
		s.Literal32(R9, 0x22222222)
		s.Push(R0, Int)
		s.Push(R9, Ref)
		s.Pop(R1)
		_, err := s.Pop(R10)
		if err != nil {
			return err
		}
		return s.Mov(R0, R10)
	})
	m := execute(t, code, nil)
	if m.R[1] != 0x22222222 || m.R[0] != 0x11111111 {
		t.Errorf("r0, r1 = %#x, %#x", m.R[0], m.R[1])
	}
	if m.R[13] != testMemSize {
		t.Errorf("Expected sp restored to %#x, got %#x", testMemSize, m.R[13])
	}
}

func TestPushRejects(t *testing.T) {
	for _, r := range []Register{SP, PC} {
		if err := captureErr(t, func(s *Session) error { return s.Push(r, Int) }); !errors.Is(err, ErrProtocol) {
			t.Errorf("Push(%s): expected protocol fault, got %v", r, err)
		}
	}
	err := captureErr(t, func(s *Session) error {
		s.Push(R0, Int)
		_, err := s.Pop(SP)
		return err
	})
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("Pop(sp): expected protocol fault, got %v", err)
	}
}
