// Completion: 100% - Entry point complete
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

const versionString = "thumbjit 0.3.0"

var log = commonlog.GetLogger("thumbjit")

func main() {
	// NOTE: Go's flag package stops parsing at the first non-flag argument,
	// so flags go before the command: thumbjit --pool manual build prog.tj
	var verbose = flag.Bool("v", false, "verbose mode (trace emitted and executed instructions)")
	var verboseLong = flag.Bool("verbose", false, "verbose mode (trace emitted and executed instructions)")
	var quiet = flag.Bool("q", false, "quiet mode (suppress progress messages)")
	var quietLong = flag.Bool("quiet", false, "quiet mode (suppress progress messages)")
	var archFlag = flag.String("arch", "", "target profile (armv7-m, armv7e-m, armv8-m.main, cortex-m4, ...)")
	var poolFlag = flag.String("pool", "", "literal pool policy (split, manual)")
	var poolRange = flag.Int("pool-range", 0, "reach of pooled literal loads in bytes (1..4095)")
	var maxCode = flag.Int("max-code", 0, "largest code buffer in bytes")
	var configFlag = flag.String("config", "", "thumbjit.toml to use instead of searching upwards")
	var versionShort = flag.Bool("V", false, "print version information and exit")
	var version = flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *version || *versionShort {
		fmt.Println(versionString)
		os.Exit(0)
	}

	opts := GlobalOptions{
		Verbose:    *verbose || *verboseLong,
		Quiet:      *quiet || *quietLong,
		Arch:       *archFlag,
		Pool:       *poolFlag,
		PoolRange:  *poolRange,
		MaxCode:    *maxCode,
		ConfigPath: *configFlag,
	}

	switch {
	case opts.Verbose:
		commonlog.Configure(2, nil)
	case opts.Quiet:
		commonlog.Configure(-1, nil)
	default:
		commonlog.Configure(0, nil)
	}

	ctx, err := NewCommandContext(flag.Args(), opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := RunCLI(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
