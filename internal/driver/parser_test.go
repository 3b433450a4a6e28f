package driver

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xyproto/thumbjit/internal/thumb"
)

func TestSplitOperands(t *testing.T) {
	tests := []struct {
		in   string
		want []field
	}{
		{" r0, r1", []field{{"r0", 2}, {"r1", 6}}},
		{" r0, [r1, #4]", []field{{"r0", 2}, {"[r1, #4]", 6}}},
		{` r0, "a, b", r2`, []field{{"r0", 2}, {`"a, b"`, 6}, {"r2", 14}}},
		{` r0, "say \"hi\", ok"`, []field{{"r0", 2}, {`"say \"hi\", ok"`, 6}}},
		{"", nil},
	}
	for _, tt := range tests {
		got, err := splitOperands(tt.in, 1)
		if err != nil {
			t.Errorf("splitOperands(%q) failed: %v", tt.in, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(field{})); diff != "" {
			t.Errorf("splitOperands(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestParseMemoryOperand(t *testing.T) {
	tests := []struct {
		in      string
		base    string
		off     int64
		wantErr bool
	}{
		{"[r1]", "r1", 0, false},
		{"[r1, #8]", "r1", 8, false},
		{"[sp, #-4]", "sp", -4, false},
		{"[r2+0x10]", "r2", 16, false},
		{"[r2 - 12]", "r2", -12, false},
		{"[]", "", 0, true},
		{"[, #4]", "", 0, true},
		{"[r1, #x]", "", 0, true},
		{"r1", "", 0, true},
	}
	for _, tt := range tests {
		base, off, err := parseMemoryOperand(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseMemoryOperand(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && (base != tt.base || off != tt.off) {
			t.Errorf("parseMemoryOperand(%q) = %s, %d, want %s, %d", tt.in, base, off, tt.base, tt.off)
		}
	}
}

func TestParseImmediate(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		bits uint64
	}{
		{"#42", 42, 42},
		{"0x10", 16, 16},
		{"-1", -1, 0xFFFFFFFFFFFFFFFF},
		{"0b101", 5, 5},
		{"0xffffffffffffffff", -1, 0xFFFFFFFFFFFFFFFF},
		{"1_000", 1000, 1000},
	}
	for _, tt := range tests {
		v, bits, err := parseImmediate(tt.in)
		if err != nil || v != tt.want || bits != tt.bits {
			t.Errorf("parseImmediate(%q) = %d, %#x, %v", tt.in, v, bits, err)
		}
	}
}

func TestStripComment(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"mov r0, r1 ; copy", "mov r0, r1 "},
		{"mov r0, r1 // copy", "mov r0, r1 "},
		{`lits r0, "a;b//c" ; x`, `lits r0, "a;b//c" `},
		{`lits r0, "q\";" ; x`, `lits r0, "q\";" `},
		{"; only a comment", ""},
		{"push r0", "push r0"},
	}
	for _, tt := range tests {
		if got := stripComment(tt.in); got != tt.want {
			t.Errorf("stripComment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatPointsAtToken(t *testing.T) {
	c := NewCompiler(thumb.DefaultConfig())
	if _, err := c.Compile("demo.tj", "lit32 r0, 1\n  lit33 r0, 1"); err == nil {
		t.Fatal("Expected an error")
	}
	got := c.Errors().Errors()[0].Format(false)
	for _, want := range []string{
		"error: unknown instruction 'lit33'",
		"--> demo.tj:2:3",
		"2 |   lit33 r0, 1",
		"  |   ^^^^^",
		"help: did you mean",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("formatted error lacks %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "\033[") {
		t.Error("uncolored output contains escape codes")
	}
	if colored := c.Errors().Errors()[0].Format(true); !strings.Contains(colored, "\033[1;31m") {
		t.Error("colored output lacks escape codes")
	}
}

func TestMnemonicsSorted(t *testing.T) {
	names := Mnemonics()
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("Mnemonics not sorted at %d: %v", i, names)
		}
	}
	if len(names) != len(mnemonics) {
		t.Errorf("got %d names, want %d", len(names), len(mnemonics))
	}
}
