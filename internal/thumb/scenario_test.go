package thumb

import (
	"bytes"
	"errors"
	"testing"

	"github.com/xyproto/thumbjit/internal/armv7m"
)

// emitIfElse compiles "if r0 != 0 { then } else { else }" the way a
// front end does: capture both arms, then size the jumps from them
func emitIfElse(s *Session, then, els func() error) error {
	h, err := s.StartBlock()
	if err != nil {
		return err
	}
	if err := then(); err != nil {
		return err
	}
	thenBlk, err := s.StopBlock(h)
	if err != nil {
		return err
	}
	if h, err = s.StartBlock(); err != nil {
		return err
	}
	if err := els(); err != nil {
		return err
	}
	elseBlk, err := s.StopBlock(h)
	if err != nil {
		return err
	}

	if err := s.CompareImm(R0, 0); err != nil {
		return err
	}
	if err := s.BranchConditionalRelative(EQ, thenBlk.Len()+BranchWidth(elseBlk.Len())); err != nil {
		return err
	}
	if err := s.EmitBlock(thenBlk); err != nil {
		return err
	}
	if err := s.BranchRelative(elseBlk.Len()); err != nil {
		return err
	}
	return s.EmitBlock(elseBlk)
}

func TestIfElseScenario(t *testing.T) {
	const thenFn, elseFn = 0x2000, 0x3000
	code := compile(t, testConfig(), func(s *Session) error {
		return emitIfElse(s,
			func() error {
				s.Literal32(R0, 0x11111111)
				return s.Call(thenFn)
			},
			func() error {
				s.Literal32(R0, 0x22222222)
				return s.Call(elseFn)
			})
	})

	insts, _ := armv7m.Instructions(code)
	if len(insts) < 3 || insts[0].Op != armv7m.OpPush || insts[1].Op != armv7m.OpCmpImm || insts[2].Op != armv7m.OpBCond {
		t.Fatalf("Expected push, cmp, beq at the start:\n%s", armv7m.Disassemble(code))
	}

	tests := []struct {
		arg        uint32
		want       uint32
		thenCalled int
		elseCalled int
	}{
		{5, 0x11111111, 1, 0},
		{0, 0x22222222, 0, 1},
	}
	for _, tt := range tests {
		calls := map[uint32]int{}
		hooks := map[uint32]armv7m.Hook{
			thenFn: func(m *armv7m.Machine) error { calls[thenFn]++; return nil },
			elseFn: func(m *armv7m.Machine) error { calls[elseFn]++; return nil },
		}
		m := execute(t, code, hooks, tt.arg)
		if m.R[0] != tt.want {
			t.Errorf("arg %d: r0 = %#x, want %#x", tt.arg, m.R[0], tt.want)
		}
		if calls[thenFn] != tt.thenCalled || calls[elseFn] != tt.elseCalled {
			t.Errorf("arg %d: then ran %d times, else %d times", tt.arg, calls[thenFn], calls[elseFn])
		}
	}
}

func TestIfElseWideArms(t *testing.T) {
	// arms large enough to need the 32-bit branch forms
	big := func(s *Session, v uint32) func() error {
		return func() error {
			for i := 0; i < 400; i++ {
				if err := s.Mov(R2, R2); err != nil {
					return err
				}
			}
			return s.Literal32(R0, v)
		}
	}
	code := compile(t, testConfig(), func(s *Session) error {
		return emitIfElse(s, big(s, 0xAAAAAAAA), big(s, 0x55555555))
	})
	if m := execute(t, code, nil, 1); m.R[0] != 0xAAAAAAAA {
		t.Errorf("then arm: r0 = %#x", m.R[0])
	}
	if m := execute(t, code, nil, 0); m.R[0] != 0x55555555 {
		t.Errorf("else arm: r0 = %#x", m.R[0])
	}
}

func TestCountdownLoop(t *testing.T) {
	const dec = 0x2000
	code := compile(t, testConfig(), func(s *Session) error {
		s.Mov(R4, R0)
		head := s.ByteCount()
		s.Mov(R0, R4)
		s.CallNamed(dec, "dec")
		s.Mov(R4, R0)
		s.CompareImm(R4, 0)
		return s.BranchConditionalTo(NE, head)
	})
	calls := 0
	hooks := map[uint32]armv7m.Hook{
		dec: func(m *armv7m.Machine) error {
			calls++
			m.R[0]--
			return nil
		},
	}
	m := execute(t, code, hooks, 5)
	if calls != 5 {
		t.Errorf("Expected 5 iterations, got %d", calls)
	}
	if m.R[0] != 0 {
		t.Errorf("r0 = %d, want 0", m.R[0])
	}
}

func TestBackwardBranchWide(t *testing.T) {
	code := compile(t, testConfig(), func(s *Session) error {
		s.Literal32(R1, 0)
		head := s.ByteCount()
		s.CompareImm(R1, 1)
		// taken on the second pass only, skipping mov.w, the filler and b.w
		s.BranchConditionalRelative(EQ, 4+2*1200+4)
		s.Literal32(R1, 1)
		for i := 0; i < 1200; i++ {
			s.Mov(R2, R2)
		}
		return s.BranchTo(head)
	})
	m := execute(t, code, nil)
	if m.R[1] != 1 {
		t.Errorf("r1 = %d, want 1", m.R[1])
	}
}

func TestForwardBranchOverPendingPool(t *testing.T) {
	cfg := testConfig()
	cfg.PoolRange = 64
	code := compile(t, cfg, func(s *Session) error {
		s.Literal32(R1, 0x12345678)
		for i := 0; i < 20; i++ {
			s.Mov(R2, R2)
		}
		s.Literal32(R0, 7)
		// skips the two mov.w below
		if err := s.BranchRelative(8); err != nil {
			return err
		}
		s.Literal32(R0, 0x100)
		return s.Literal32(R0, 0x200)
	})

	m := execute(t, code, nil)
	if m.R[0] != 7 || m.R[1] != 0x12345678 {
		t.Errorf("r0, r1 = %#x, %#x, want 0x7, 0x12345678", m.R[0], m.R[1])
	}

	// the island went in before the branch, so the skipped span is exactly
	// the two mov.w and the target is the epilogue
	var hw [2]byte
	hw[0], hw[1] = byte(narrowB(8)), byte(narrowB(8)>>8)
	at := bytes.Index(code, hw[:])
	if at < 0 || at%2 != 0 {
		t.Fatalf("no b.n +8 in:\n%s", armv7m.Disassemble(code))
	}
	want := []armv7m.Op{armv7m.OpMovImm, armv7m.OpMovImm, armv7m.OpPop}
	for i, off := range []int{at + 2, at + 6, at + 10} {
		in, err := armv7m.Decode(code, off)
		if err != nil || in.Op != want[i] {
			t.Errorf("at %#x: got %v (%v), want %v\n%s", off, in.Op, err, want[i], armv7m.Disassemble(code))
		}
	}
}

func TestForwardBranchSpanFault(t *testing.T) {
	cfg := testConfig()
	cfg.PoolRange = 64
	_, s := startSession(t, cfg)
	if err := s.BranchRelative(60); err != nil {
		t.Fatalf("BranchRelative failed: %v", err)
	}
	// pooled loads inside the span soon need an island, which has nowhere to go
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = s.Literal32(Register(i%4), 0x12345678+uint32(i)*0x01010101)
	}
	if !errors.Is(err, ErrRange) {
		t.Errorf("Expected a range fault inside the branch span, got %v", err)
	}
	if code, err := s.Stop(); code != nil || !errors.Is(err, ErrRange) {
		t.Errorf("Expected Stop to report the range fault, got %d bytes, %v", len(code), err)
	}
}

func TestIfElseWithPendingLiterals(t *testing.T) {
	cfg := testConfig()
	cfg.PoolRange = 64
	arm := func(s *Session, v uint32) func() error {
		return func() error {
			for i := 0; i < 10; i++ {
				if err := s.Mov(R2, R2); err != nil {
					return err
				}
			}
			return s.Literal32(R0, v)
		}
	}
	for _, policy := range []PoolPolicy{PoolSplit, PoolManual} {
		t.Run(policy.String(), func(t *testing.T) {
			cfg.Pool = policy
			code := compile(t, cfg, func(s *Session) error {
				if err := s.Literal32(R1, 0x12345678); err != nil {
					return err
				}
				if policy == PoolManual {
					if err := s.FlushPool(); err != nil {
						return err
					}
				}
				return emitIfElse(s, arm(s, 0x11), arm(s, 0x22))
			})
			for arg, want := range map[uint32]uint32{1: 0x11, 0: 0x22} {
				m := execute(t, code, nil, arg)
				if m.R[0] != want || m.R[1] != 0x12345678 {
					t.Errorf("arg %d: r0, r1 = %#x, %#x", arg, m.R[0], m.R[1])
				}
			}
		})
	}
}
