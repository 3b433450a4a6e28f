// Completion: 100% - Configuration complete
package thumb

import (
	"fmt"
	"strings"

	"github.com/xyproto/env/v2"
)

// PoolPolicy decides who places literal pool islands
type PoolPolicy int

const (
	// PoolSplit lets the emitter insert a local island in front of any
	// instruction whenever the oldest pending literal would otherwise
	// drift out of reach.
	PoolSplit PoolPolicy = iota
	// PoolManual only places islands at block boundaries, at Stop and at
	// FlushPool. A reference that ends up out of reach is a range fault.
	PoolManual
)

func (p PoolPolicy) String() string {
	switch p {
	case PoolSplit:
		return "split"
	case PoolManual:
		return "manual"
	default:
		return "unknown"
	}
}

// ParsePoolPolicy parses "split" or "manual"
func ParsePoolPolicy(s string) (PoolPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "split", "auto":
		return PoolSplit, nil
	case "manual":
		return PoolManual, nil
	default:
		return 0, fmt.Errorf("unknown pool policy: %s (supported: split, manual)", s)
	}
}

// MaxPoolRange is the reach of LDR.W/ADDW imm12 from the PC read by MOV
const MaxPoolRange = 4095

// Config holds the emitter settings
type Config struct {
	Pool        PoolPolicy
	PoolRange   int  // reach of a pooled load, 1..MaxPoolRange
	MaxCodeSize int  // largest buffer a session may grow, in bytes
	Verbose     bool // trace every instruction to the thumbjit.emit logger
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		Pool:        PoolSplit,
		PoolRange:   MaxPoolRange,
		MaxCodeSize: 64 * 1024,
	}
}

// ConfigFromEnv starts from DefaultConfig and applies THUMBJIT_POOL,
// THUMBJIT_POOL_RANGE, THUMBJIT_MAX_CODE and THUMBJIT_VERBOSE.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if env.Has("THUMBJIT_POOL") {
		p, err := ParsePoolPolicy(env.Str("THUMBJIT_POOL"))
		if err != nil {
			return cfg, err
		}
		cfg.Pool = p
	}
	cfg.PoolRange = env.Int("THUMBJIT_POOL_RANGE", cfg.PoolRange)
	cfg.MaxCodeSize = env.Int("THUMBJIT_MAX_CODE", cfg.MaxCodeSize)
	cfg.Verbose = env.Bool("THUMBJIT_VERBOSE")
	return cfg, cfg.Validate()
}

// Validate checks that the settings can be honoured
func (c Config) Validate() error {
	if c.Pool != PoolSplit && c.Pool != PoolManual {
		return fmt.Errorf("invalid pool policy: %d", c.Pool)
	}
	if c.PoolRange < 1 || c.PoolRange > MaxPoolRange {
		return fmt.Errorf("pool range %d out of bounds (1..%d)", c.PoolRange, MaxPoolRange)
	}
	if c.MaxCodeSize <= 0 {
		return fmt.Errorf("max code size must be positive, got %d", c.MaxCodeSize)
	}
	return nil
}
