package thumb

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSessionLifecycle(t *testing.T) {
	j := New(testConfig())
	s, err := j.Start()
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !j.Active() {
		t.Error("Expected JIT to report an active session")
	}
	if _, err := j.Start(); !errors.Is(err, ErrProtocol) {
		t.Errorf("Expected protocol fault for nested Start, got %v", err)
	}

	code, err := s.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	// prologue + epilogue
	want := []uint16{0xE92D, 0x4FF8, 0xE8BD, 0x8FF8}
	if diff := cmp.Diff(want, halfwords(code)); diff != "" {
		t.Errorf("empty session mismatch (-want +got):\n%s", diff)
	}

	if j.Active() {
		t.Error("Expected JIT to be inactive after Stop")
	}
	if err := s.Mov(R0, R1); !errors.Is(err, ErrProtocol) {
		t.Errorf("Expected protocol fault after Stop, got %v", err)
	}
	if _, err := s.Stop(); !errors.Is(err, ErrProtocol) {
		t.Errorf("Expected protocol fault for second Stop, got %v", err)
	}

	// the JIT can be reused
	s2, err := j.Start()
	if err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if _, err := s2.Stop(); err != nil {
		t.Fatalf("Stop after restart failed: %v", err)
	}
}

func TestStopKeepsExplicitEpilogue(t *testing.T) {
	code := compile(t, testConfig(), func(s *Session) error {
		return s.PopAllAndReturn()
	})
	want := []uint16{0xE92D, 0x4FF8, 0xE8BD, 0x8FF8}
	if diff := cmp.Diff(want, halfwords(code)); diff != "" {
		t.Errorf("explicit epilogue was duplicated (-want +got):\n%s", diff)
	}
}

func TestByteCountGrows(t *testing.T) {
	_, s := startSession(t, testConfig())
	steps := []func() error{
		func() error { return s.Mov(R0, R1) },
		func() error { return s.Literal32(R0, 0x12345678) },
		func() error { return s.CompareImm(R0, 3) },
		func() error { return s.Push(R0, Int) },
		func() error { _, err := s.Pop(R1); return err },
		func() error { return s.BranchRelative(0) },
	}
	prev := s.ByteCount()
	if prev != 4 {
		t.Errorf("Expected the prologue to occupy 4 bytes, got %d", prev)
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
		n := s.ByteCount()
		if n <= prev {
			t.Errorf("step %d: ByteCount went from %d to %d", i, prev, n)
		}
		if again := s.ByteCount(); again != n {
			t.Errorf("ByteCount is not a pure query: %d then %d", n, again)
		}
		prev = n
	}
	if _, err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestBlockIsolation(t *testing.T) {
	_, s := startSession(t, testConfig())
	before := s.ByteCount()

	h, err := s.StartBlock()
	if err != nil {
		t.Fatalf("StartBlock failed: %v", err)
	}
	if s.Depth() != 1 {
		t.Errorf("Expected depth 1, got %d", s.Depth())
	}
	if s.ByteCount() != 0 {
		t.Errorf("Expected a fresh block to be empty, got %d bytes", s.ByteCount())
	}
	s.Mov(R0, R1)
	s.Literal16(R2, false, 7)
	blk, err := s.StopBlock(h)
	if err != nil {
		t.Fatalf("StopBlock failed: %v", err)
	}

	if s.ByteCount() != before {
		t.Errorf("Parent changed while a block was open: %d -> %d", before, s.ByteCount())
	}
	if blk.Len() != 6 {
		t.Errorf("Expected a 6 byte block, got %d", blk.Len())
	}

	if err := s.EmitBlock(blk); err != nil {
		t.Fatalf("EmitBlock failed: %v", err)
	}
	if s.ByteCount() != before+blk.Len() {
		t.Errorf("Expected splice to add %d bytes, got %d", blk.Len(), s.ByteCount()-before)
	}
	code, err := s.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if diff := cmp.Diff(blk.Bytes(), code[before:before+blk.Len()]); diff != "" {
		t.Errorf("splice is not verbatim (-want +got):\n%s", diff)
	}
}

func TestBlockBytesIsACopy(t *testing.T) {
	_, s := startSession(t, testConfig())
	h, _ := s.StartBlock()
	s.Mov(R0, R1)
	blk, _ := s.StopBlock(h)
	b := blk.Bytes()
	b[0] = 0xFF
	if blk.Bytes()[0] == 0xFF {
		t.Error("Block.Bytes must return a copy")
	}
	s.Stop()
}

func TestNestedBlocks(t *testing.T) {
	_, s := startSession(t, testConfig())
	outer, _ := s.StartBlock()
	s.Mov(R0, R1)
	inner, _ := s.StartBlock()
	s.Mov(R2, R3)
	if s.Depth() != 2 {
		t.Errorf("Expected depth 2, got %d", s.Depth())
	}

	// closing the outer block first is a protocol fault
	if _, err := s.StopBlock(outer); !errors.Is(err, ErrProtocol) {
		t.Fatalf("Expected protocol fault for out-of-order StopBlock, got %v", err)
	}
	// the fault is latched
	if _, err := s.StopBlock(inner); !errors.Is(err, ErrProtocol) {
		t.Errorf("Expected latched fault, got %v", err)
	}
	if code, err := s.Stop(); code != nil || !errors.Is(err, ErrProtocol) {
		t.Errorf("Expected Stop to report the latched fault, got %v, %v", code, err)
	}
}

func TestNestedBlocksInOrder(t *testing.T) {
	_, s := startSession(t, testConfig())
	outer, _ := s.StartBlock()
	s.Mov(R0, R1)
	inner, _ := s.StartBlock()
	s.Mov(R2, R3)
	in, err := s.StopBlock(inner)
	if err != nil {
		t.Fatalf("StopBlock(inner) failed: %v", err)
	}
	s.EmitBlock(in)
	out, err := s.StopBlock(outer)
	if err != nil {
		t.Fatalf("StopBlock(outer) failed: %v", err)
	}
	want := []uint16{0x4608, 0x461A}
	if diff := cmp.Diff(want, halfwords(out.Bytes())); diff != "" {
		t.Errorf("outer block mismatch (-want +got):\n%s", diff)
	}
	if _, err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestStopWithOpenBlock(t *testing.T) {
	_, s := startSession(t, testConfig())
	s.StartBlock()
	if _, err := s.Stop(); !errors.Is(err, ErrProtocol) {
		t.Errorf("Expected protocol fault, got %v", err)
	}
}

func TestStopBlockWithoutBlock(t *testing.T) {
	_, s := startSession(t, testConfig())
	if _, err := s.StopBlock(BlockHandle{}); !errors.Is(err, ErrProtocol) {
		t.Errorf("Expected protocol fault, got %v", err)
	}
	s.Stop()
}

func TestResourceLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCodeSize = 12
	_, s := startSession(t, cfg)
	if err := s.Mov(R0, R1); err != nil {
		t.Fatalf("Mov failed: %v", err)
	}
	if err := s.Literal32(R0, 1); err != nil {
		t.Fatalf("Literal32 failed: %v", err)
	}
	// 4 + 2 + 4 = 10 bytes, a 4 byte instruction no longer fits
	err := s.Literal32(R1, 2)
	if !errors.Is(err, ErrResource) {
		t.Fatalf("Expected resource fault, got %v", err)
	}
	var f *Fault
	if !errors.As(err, &f) || f.Op != "Literal32" {
		t.Errorf("Expected a *Fault from Literal32, got %#v", err)
	}
	if _, err := s.Stop(); !errors.Is(err, ErrResource) {
		t.Errorf("Expected Stop to report the resource fault, got %v", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.PoolRange = 5000
	if _, err := New(cfg).Start(); err == nil {
		t.Error("Expected an error for an out of range pool reach")
	}
}

func TestBlockOf(t *testing.T) {
	_, s := startSession(t, testConfig())
	if err := s.EmitBlock(BlockOf([]byte{0x08, 0x46})); err != nil {
		t.Fatalf("EmitBlock failed: %v", err)
	}
	if err := s.EmitBlock(BlockOf([]byte{0x08})); !errors.Is(err, ErrRange) {
		t.Errorf("Expected range fault for an odd-length block, got %v", err)
	}
	s.Stop()
}

// Capturing code in a block and splicing it back must give the same
// bytes as emitting it in place, pending literals of the parent included
func TestCaptureSpliceIdentity(t *testing.T) {
	tests := []struct {
		name         string
		prefix, body func(s *Session) error
	}{
		{"no_pool",
			func(s *Session) error { return s.Mov(R0, R1) },
			func(s *Session) error { return s.Mov(R2, R3) }},
		{"pending_word",
			func(s *Session) error { return s.Literal32(R1, 0x12345678) },
			func(s *Session) error { return s.Mov(R0, R1) }},
		{"pending_string",
			func(s *Session) error {
				_, err := s.LiteralString(R1, []byte("abc"), true)
				return err
			},
			func(s *Session) error {
				if err := s.CompareImm(R0, 1); err != nil {
					return err
				}
				return s.Literal32(R2, 7)
			}},
		{"pending_words_and_stack",
			func(s *Session) error {
				if err := s.Literal32(R1, 0x12345678); err != nil {
					return err
				}
				return s.Literal32(R2, 0x9ABCDEF0)
			},
			func(s *Session) error {
				if err := s.Push(R4, Ref); err != nil {
					return err
				}
				_, err := s.Pop(R5)
				return err
			}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inline := compile(t, testConfig(), func(s *Session) error {
				if err := tt.prefix(s); err != nil {
					return err
				}
				return tt.body(s)
			})
			spliced := compile(t, testConfig(), func(s *Session) error {
				if err := tt.prefix(s); err != nil {
					return err
				}
				h, err := s.StartBlock()
				if err != nil {
					return err
				}
				if err := tt.body(s); err != nil {
					return err
				}
				blk, err := s.StopBlock(h)
				if err != nil {
					return err
				}
				return s.EmitBlock(blk)
			})
			if diff := cmp.Diff(halfwords(inline), halfwords(spliced)); diff != "" {
				t.Errorf("splice differs from inline emission (-inline +spliced):\n%s", diff)
			}
		})
	}
}
