// Completion: 100% - Target profiles complete
package engine

import (
	"fmt"
	"strings"
)

// Arch is an M-profile architecture that runs the emitted Thumb-2 code
type Arch int

const (
	ArchUnknown Arch = iota
	ArchARMv7M       // Cortex-M3
	ArchARMv7EM      // Cortex-M4, Cortex-M7
	ArchARMv8MMain   // Cortex-M33, Cortex-M55
)

func (a Arch) String() string {
	switch a {
	case ArchARMv7M:
		return "armv7-m"
	case ArchARMv7EM:
		return "armv7e-m"
	case ArchARMv8MMain:
		return "armv8-m.main"
	default:
		return "unknown"
	}
}

// ParseArch parses an architecture or core name
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "armv7-m", "armv7m", "cortex-m3", "m3":
		return ArchARMv7M, nil
	case "armv7e-m", "armv7em", "cortex-m4", "m4", "cortex-m7", "m7":
		return ArchARMv7EM, nil
	case "armv8-m.main", "armv8m.main", "armv8-m", "cortex-m33", "m33", "cortex-m55", "m55":
		return ArchARMv8MMain, nil
	default:
		return 0, fmt.Errorf("unsupported architecture: %s (supported: cortex-m3, cortex-m4, cortex-m7, cortex-m33)", s)
	}
}

// Profile describes what a target offers beyond the base Thumb-2 set
type Profile struct {
	Arch Arch
	Core string // representative core
	DSP  bool   // has the DSP extension
	FPU  bool   // commonly ships with a single precision FPU
}

// Profile returns the description of a
func (a Arch) Profile() Profile {
	switch a {
	case ArchARMv7M:
		return Profile{Arch: a, Core: "cortex-m3"}
	case ArchARMv7EM:
		return Profile{Arch: a, Core: "cortex-m4", DSP: true, FPU: true}
	case ArchARMv8MMain:
		return Profile{Arch: a, Core: "cortex-m33", DSP: true, FPU: true}
	default:
		return Profile{Arch: a, Core: "unknown"}
	}
}

// String returns a human-readable target string
func (p Profile) String() string {
	return fmt.Sprintf("%s (%s)", p.Arch, p.Core)
}

// DefaultArch is the baseline every supported core can run
const DefaultArch = ArchARMv7M
