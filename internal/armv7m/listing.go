package armv7m

import (
	"fmt"
	"strings"
)

// Disassemble returns a listing of code, one instruction per line. It
// decodes linearly, so literal island data shows up as whatever it
// happens to decode to, or as .hword when it decodes to nothing.
func Disassemble(code []byte) string {
	return DisassembleWithName(code, "")
}

// DisassembleWithName returns a listing with a name header
func DisassembleWithName(code []byte, name string) string {
	var sb strings.Builder
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; %d bytes\n", len(code)))
	for offset := 0; offset < len(code); {
		if offset+2 > len(code) {
			sb.WriteString(fmt.Sprintf("%04X  %02x        .byte 0x%02x\n", offset, code[offset], code[offset]))
			break
		}
		in, err := Decode(code, offset)
		if err != nil {
			sb.WriteString(fmt.Sprintf("%04X  %-9s .hword 0x%04x\n", offset, fmt.Sprintf("%04x", in.HW[0]), in.HW[0]))
			offset += 2
			continue
		}
		sb.WriteString(fmt.Sprintf("%04X  %-9s %s\n", offset, rawHex(in), in))
		offset += in.Size
	}
	return sb.String()
}

// Instructions decodes code linearly and stops at the first failure
func Instructions(code []byte) ([]Inst, error) {
	var out []Inst
	for offset := 0; offset < len(code); {
		in, err := Decode(code, offset)
		if err != nil {
			return out, err
		}
		out = append(out, in)
		offset += in.Size
	}
	return out, nil
}

func rawHex(in Inst) string {
	if in.Size == 4 {
		return fmt.Sprintf("%04x %04x", in.HW[0], in.HW[1])
	}
	return fmt.Sprintf("%04x", in.HW[0])
}
