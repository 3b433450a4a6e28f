// Completion: 100% - Simulated runtime complete
package main

import (
	"fmt"
	"io"

	"github.com/xyproto/thumbjit/internal/armv7m"
)

// native is a host function that programs can call by name under "run"
type native struct {
	name string
	addr uint32
	help string
	fn   func(m *armv7m.Machine, out io.Writer) error
}

// nativeBase keeps the runtime out of the simulated memory
const nativeBase = 0x00F00000

var natives = []native{
	{"putint", nativeBase + 0x00, "print r0 as a signed integer", func(m *armv7m.Machine, out io.Writer) error {
		_, err := fmt.Fprintln(out, int32(m.R[0]))
		return err
	}},
	{"puthex", nativeBase + 0x10, "print r0 in hex", func(m *armv7m.Machine, out io.Writer) error {
		_, err := fmt.Fprintf(out, "%#08x\n", m.R[0])
		return err
	}},
	{"putstr", nativeBase + 0x20, "print the NUL terminated string at r0", func(m *armv7m.Machine, out io.Writer) error {
		s, err := m.CString(m.R[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, s)
		return err
	}},
	{"putchar", nativeBase + 0x30, "print the low byte of r0", func(m *armv7m.Machine, out io.Writer) error {
		_, err := out.Write([]byte{byte(m.R[0])})
		return err
	}},
	{"inc", nativeBase + 0x40, "r0 = r0 + 1", func(m *armv7m.Machine, out io.Writer) error {
		m.R[0]++
		return nil
	}},
	{"dec", nativeBase + 0x50, "r0 = r0 - 1", func(m *armv7m.Machine, out io.Writer) error {
		m.R[0]--
		return nil
	}},
	{"add", nativeBase + 0x60, "r0 = r0 + r1", func(m *armv7m.Machine, out io.Writer) error {
		m.R[0] += m.R[1]
		return nil
	}},
}

// nativeSymbols returns the call targets every program may use by name
func nativeSymbols() map[string]uint32 {
	syms := make(map[string]uint32, len(natives))
	for _, n := range natives {
		syms[n.name] = n.addr
	}
	return syms
}

// installNatives hooks the runtime into m. Declared symbols without a
// host implementation get a stub that reports the call and returns.
func installNatives(m *armv7m.Machine, symbols map[string]uint32, out io.Writer) {
	known := make(map[uint32]bool, len(natives))
	for _, n := range natives {
		m.Hook(n.addr, func(m *armv7m.Machine) error { return n.fn(m, out) })
		known[n.addr&^1] = true
	}
	for name, addr := range symbols {
		if known[addr&^1] {
			continue
		}
		m.Hook(addr, func(m *armv7m.Machine) error {
			log.Noticef("call %s(%#x, %#x, %#x, %#x) has no host implementation", name, m.R[0], m.R[1], m.R[2], m.R[3])
			return nil
		})
	}
}
