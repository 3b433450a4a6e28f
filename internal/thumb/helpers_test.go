package thumb

import (
	"encoding/binary"
	"testing"

	"github.com/xyproto/thumbjit/internal/armv7m"
)

const (
	testCodeBase = 0x1000
	testMemSize  = 0x10000
)

func testConfig() Config {
	return DefaultConfig()
}

func startSession(t *testing.T, cfg Config) (*JIT, *Session) {
	t.Helper()
	j := New(cfg)
	s, err := j.Start()
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return j, s
}

func halfwords(code []byte) []uint16 {
	out := make([]uint16, len(code)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(code[2*i:])
	}
	return out
}

// capture runs fn inside a block and returns the halfwords it emitted
func capture(t *testing.T, fn func(s *Session) error) []uint16 {
	t.Helper()
	_, s := startSession(t, testConfig())
	h, err := s.StartBlock()
	if err != nil {
		t.Fatalf("StartBlock failed: %v", err)
	}
	if err := fn(s); err != nil {
		t.Fatalf("emit failed: %v", err)
	}
	blk, err := s.StopBlock(h)
	if err != nil {
		t.Fatalf("StopBlock failed: %v", err)
	}
	if _, err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	return halfwords(blk.Bytes())
}

// captureErr runs fn inside a session and returns its error
func captureErr(t *testing.T, fn func(s *Session) error) error {
	t.Helper()
	_, s := startSession(t, testConfig())
	err := fn(s)
	s.Stop()
	return err
}

// compile runs fn between Start and Stop and returns the blob
func compile(t *testing.T, cfg Config, fn func(s *Session) error) []byte {
	t.Helper()
	_, s := startSession(t, cfg)
	if err := fn(s); err != nil {
		t.Fatalf("emit failed: %v", err)
	}
	code, err := s.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	return code
}

// execute loads code and calls it with args on a fresh simulator
func execute(t *testing.T, code []byte, hooks map[uint32]armv7m.Hook, args ...uint32) *armv7m.Machine {
	t.Helper()
	m := armv7m.NewMachine(testMemSize)
	if err := m.Load(testCodeBase, code); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	for addr, fn := range hooks {
		m.Hook(addr, fn)
	}
	if _, err := m.Call(testCodeBase|1, args...); err != nil {
		t.Fatalf("simulation failed: %v\n%s", err, armv7m.Disassemble(code))
	}
	return m
}
