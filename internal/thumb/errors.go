// Completion: 100% - Fault classes complete
package thumb

import (
	"errors"
	"fmt"
)

// FaultKind classifies why a compile was halted
type FaultKind int

const (
	// KindProtocol is a driver bug: mismatched open/close, emission while
	// inactive, popping an empty ledger.
	KindProtocol FaultKind = iota
	// KindRange is an offset, displacement or immediate that the
	// addressed instruction cannot represent.
	KindRange
	// KindResource is a buffer that cannot grow any further.
	KindResource
)

func (k FaultKind) String() string {
	switch k {
	case KindProtocol:
		return "protocol violation"
	case KindRange:
		return "encoding range violation"
	case KindResource:
		return "resource exhausted"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is
var (
	ErrProtocol = errors.New("thumb: protocol violation")
	ErrRange    = errors.New("thumb: encoding range violation")
	ErrResource = errors.New("thumb: resource exhausted")
)

// Fault is returned by every primitive that cannot emit correct code.
// A fault invalidates the whole session it was raised in.
type Fault struct {
	Kind FaultKind
	Op   string // primitive that raised it
	Msg  string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("thumb: %s: %s: %s", f.Op, f.Kind, f.Msg)
}

// Is lets errors.Is match a fault against ErrProtocol, ErrRange and ErrResource
func (f *Fault) Is(target error) bool {
	switch target {
	case ErrProtocol:
		return f.Kind == KindProtocol
	case ErrRange:
		return f.Kind == KindRange
	case ErrResource:
		return f.Kind == KindResource
	}
	return false
}

func protocolf(op, format string, args ...any) *Fault {
	return &Fault{Kind: KindProtocol, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func rangef(op, format string, args ...any) *Fault {
	return &Fault{Kind: KindRange, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func resourcef(op, format string, args ...any) *Fault {
	return &Fault{Kind: KindResource, Op: op, Msg: fmt.Sprintf(format, args...)}
}
