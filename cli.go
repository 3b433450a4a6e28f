// Completion: 100% - CLI complete
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xyproto/env/v2"
	"github.com/xyproto/thumbjit/internal/armv7m"
	"github.com/xyproto/thumbjit/internal/driver"
	"github.com/xyproto/thumbjit/internal/engine"
	"github.com/xyproto/thumbjit/internal/image"
	"github.com/xyproto/thumbjit/internal/thumb"
	"golang.org/x/term"
)

// cli.go - command-line interface for thumbjit
//
// - thumbjit build <file.tj> [-o out.bin] [--image out.tjx]
// - thumbjit run <file.tj> [r0 [r1 [r2 [r3]]]]
// - thumbjit dis <file.tj|file.bin|file.tjx>
// - thumbjit watch <file.tj> [-o out.bin]
// - thumbjit <file.tj> (shorthand for build)

const (
	sourceExt = ".tj"
	imageExt  = ".tjx"

	// simulated memory for "run": code at runCodeBase, stack at the top
	runCodeBase = 0x1000
	runStack    = 64 * 1024
)

// GlobalOptions are the flags that come before the subcommand
type GlobalOptions struct {
	Verbose    bool
	Quiet      bool
	Arch       string
	Pool       string
	PoolRange  int
	MaxCode    int
	ConfigPath string
}

// CommandContext holds the execution context for a CLI command
type CommandContext struct {
	Args          []string
	Verbose       bool
	Quiet         bool
	Config        thumb.Config
	Arch          engine.Arch
	Symbols       map[string]uint32
	IncludeSource bool
	UseColor      bool
	Stdout        io.Writer
	Stderr        io.Writer
}

// NewCommandContext resolves the settings: defaults, then THUMBJIT_*
// variables, then thumbjit.toml, then flags.
func NewCommandContext(args []string, opts GlobalOptions) (*CommandContext, error) {
	cfg, err := thumb.ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	ctx := &CommandContext{
		Args:    args,
		Verbose: opts.Verbose,
		Quiet:   opts.Quiet,
		Arch:    engine.DefaultArch,
		Symbols: nativeSymbols(),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
	ctx.UseColor = !env.Has("NO_COLOR") && term.IsTerminal(int(os.Stderr.Fd()))

	var pc *ProjectConfig
	if opts.ConfigPath != "" {
		pc, err = LoadProjectConfig(opts.ConfigPath)
	} else {
		pc, err = FindProjectConfig(".")
	}
	if err != nil {
		return nil, err
	}
	if pc != nil {
		if cfg, ctx.Arch, err = pc.Apply(cfg, ctx.Arch); err != nil {
			return nil, err
		}
		for name, addr := range pc.Symbols {
			ctx.Symbols[name] = uint32(addr)
		}
		ctx.IncludeSource = pc.Image.IncludeSource
		log.Debugf("loaded %s", pc.Path)
	}

	if opts.Arch != "" {
		if ctx.Arch, err = engine.ParseArch(opts.Arch); err != nil {
			return nil, err
		}
	}
	if opts.Pool != "" {
		if cfg.Pool, err = thumb.ParsePoolPolicy(opts.Pool); err != nil {
			return nil, err
		}
	}
	if opts.PoolRange != 0 {
		cfg.PoolRange = opts.PoolRange
	}
	if opts.MaxCode != 0 {
		cfg.MaxCodeSize = opts.MaxCode
	}
	if opts.Verbose {
		cfg.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx.Config = cfg
	return ctx, nil
}

var commands = []string{"build", "run", "dis", "watch", "help", "version"}

// RunCLI dispatches on the subcommand in ctx.Args
func RunCLI(ctx *CommandContext) error {
	args := ctx.Args
	if len(args) == 0 {
		return cmdHelp(ctx)
	}

	switch subcmd := args[0]; subcmd {
	case "build":
		return cmdBuild(ctx, args[1:])
	case "run":
		return cmdRun(ctx, args[1:])
	case "dis":
		return cmdDis(ctx, args[1:])
	case "watch":
		return cmdWatch(ctx, args[1:])
	case "help", "--help", "-h":
		return cmdHelp(ctx)
	case "version", "--version", "-V":
		fmt.Fprintln(ctx.Stdout, versionString)
		return nil
	default:
		if strings.HasSuffix(subcmd, sourceExt) {
			return cmdBuild(ctx, args)
		}
		msg := fmt.Sprintf("unknown command: %s", subcmd)
		if near := engine.Suggest(subcmd, commands, 1); len(near) > 0 {
			msg += fmt.Sprintf(" (did you mean '%s'?)", near[0])
		}
		return fmt.Errorf("%s\n\nRun 'thumbjit help' for usage information", msg)
	}
}

// buildArgs splits "-o out", "--image path" and the input file
type buildArgs struct {
	input  string
	output string
	image  string
	rest   []string
}

func parseBuildArgs(args []string) (buildArgs, error) {
	var ba buildArgs
	for i := 0; i < len(args); i++ {
		switch a := args[i]; {
		case (a == "-o" || a == "--output") && i+1 < len(args):
			ba.output = args[i+1]
			i++
		case a == "--image" && i+1 < len(args):
			ba.image = args[i+1]
			i++
		case ba.input == "" && !strings.HasPrefix(a, "-"):
			ba.input = a
		default:
			ba.rest = append(ba.rest, a)
		}
	}
	if ba.input == "" {
		return ba, errors.New("no input file specified")
	}
	if len(ba.rest) > 0 {
		return ba, fmt.Errorf("unexpected arguments: %s", strings.Join(ba.rest, " "))
	}
	return ba, nil
}

// compileFile reads and compiles one source file, printing diagnostics
func compileFile(ctx *CommandContext, path string) (*driver.Result, []byte, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	c := driver.NewCompiler(ctx.Config)
	for name, addr := range ctx.Symbols {
		c.Symbols[name] = addr
	}
	start := time.Now()
	res, err := c.Compile(path, string(source))
	if c.Errors().HasErrors() || c.Errors().WarningCount() > 0 {
		fmt.Fprint(ctx.Stderr, c.Errors().Report(ctx.UseColor))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("compilation of %s failed", path)
	}
	log.Infof("compiled %s: %d bytes in %s", path, len(res.Code), time.Since(start))
	return res, source, nil
}

// cmdBuild compiles a source file to a raw Thumb-2 blob and optionally an image
func cmdBuild(ctx *CommandContext, args []string) error {
	ba, err := parseBuildArgs(args)
	if err != nil {
		return fmt.Errorf("usage: thumbjit build <file%s> [-o out.bin] [--image out%s]: %w", sourceExt, imageExt, err)
	}
	if ba.output == "" {
		ba.output = strings.TrimSuffix(filepath.Base(ba.input), sourceExt) + ".bin"
	}
	return build(ctx, ba)
}

func build(ctx *CommandContext, ba buildArgs) error {
	res, source, err := compileFile(ctx, ba.input)
	if err != nil {
		return err
	}
	if err := os.WriteFile(ba.output, res.Code, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", ba.output, err)
	}

	if ba.image != "" {
		src := ""
		if ctx.IncludeSource {
			src = string(source)
		}
		img := image.New(res.Code, ctx.Arch, src)
		data, err := image.Marshal(img)
		if err != nil {
			return fmt.Errorf("encoding image: %w", err)
		}
		if err := os.WriteFile(ba.image, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", ba.image, err)
		}
		if !ctx.Quiet {
			fmt.Fprintf(ctx.Stdout, "Image: %s (%s, digest %x)\n", ba.image, ctx.Arch, img.Digest[:8])
		}
	}

	if !ctx.Quiet {
		fmt.Fprintf(ctx.Stdout, "Built: %s (%d bytes)\n", ba.output, len(res.Code))
	}
	return nil
}

// cmdRun compiles a source file and executes it on the simulator
func cmdRun(ctx *CommandContext, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: thumbjit run <file%s> [r0 [r1 [r2 [r3]]]]", sourceExt)
	}
	callArgs, err := parseCallArgs(args[1:])
	if err != nil {
		return err
	}
	res, _, err := compileFile(ctx, args[0])
	if err != nil {
		return err
	}

	m := armv7m.NewMachine(runCodeBase + len(res.Code) + runStack)
	if err := m.Load(runCodeBase, res.Code); err != nil {
		return err
	}
	installNatives(m, res.Symbols, ctx.Stdout)
	if ctx.Verbose {
		m.Trace = func(in armv7m.Inst) {
			log.Debugf("%04x  %s", in.Addr, in)
		}
	}

	if _, err := m.Call(runCodeBase|1, callArgs...); err != nil {
		return fmt.Errorf("simulation failed after %d steps: %w", m.Steps, err)
	}
	if !ctx.Quiet {
		fmt.Fprintf(ctx.Stdout, "r0 = %#08x (%d)\n", m.R[0], int32(m.R[0]))
		fmt.Fprintf(ctx.Stdout, "r1 = %#08x (%d)\n", m.R[1], int32(m.R[1]))
	}
	log.Infof("%d instructions executed", m.Steps)
	return nil
}

func parseCallArgs(args []string) ([]uint32, error) {
	if len(args) > 4 {
		return nil, fmt.Errorf("at most 4 arguments fit in r0-r3, got %d", len(args))
	}
	out := make([]uint32, len(args))
	for i, a := range args {
		if v, err := strconv.ParseInt(a, 0, 32); err == nil {
			out[i] = uint32(v)
			continue
		}
		v, err := strconv.ParseUint(a, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %q is not a 32-bit integer", i, a)
		}
		out[i] = uint32(v)
	}
	return out, nil
}

// cmdDis prints a listing of a source file, a raw blob or an image
func cmdDis(ctx *CommandContext, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: thumbjit dis <file%s|file.bin|file%s>", sourceExt, imageExt)
	}
	path := args[0]

	var code []byte
	name := filepath.Base(path)
	switch {
	case strings.HasSuffix(path, sourceExt):
		res, _, err := compileFile(ctx, path)
		if err != nil {
			return err
		}
		code = res.Code
	case strings.HasSuffix(path, imageExt):
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		img, err := image.Unmarshal(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		code = img.Code
		name = fmt.Sprintf("%s (%s, digest %x)", name, img.Arch, img.Digest[:8])
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		code = data
	}

	fmt.Fprint(ctx.Stdout, armv7m.DisassembleWithName(code, name))
	return nil
}

// cmdWatch rebuilds a source file whenever it changes
func cmdWatch(ctx *CommandContext, args []string) error {
	ba, err := parseBuildArgs(args)
	if err != nil {
		return fmt.Errorf("usage: thumbjit watch <file%s> [-o out.bin]: %w", sourceExt, err)
	}
	if ba.output == "" {
		ba.output = strings.TrimSuffix(filepath.Base(ba.input), sourceExt) + ".bin"
	}
	absPath, err := filepath.Abs(ba.input)
	if err != nil {
		return err
	}

	fmt.Fprintf(ctx.Stderr, "Watching %s\n", absPath)
	fmt.Fprintf(ctx.Stderr, "Press Ctrl+C to stop, or send SIGUSR1 to rebuild: kill -USR1 %d\n\n", os.Getpid())

	rebuild := func(trigger string) {
		fmt.Fprintf(ctx.Stderr, "[%s] %s\n", time.Now().Format("15:04:05"), trigger)
		if err := build(ctx, ba); err != nil {
			fmt.Fprintf(ctx.Stderr, "Build failed: %v\n", err)
		}
	}
	rebuild("initial build")

	stop := setupReloadSignal(rebuild)
	defer stop()

	watcher, err := NewFileWatcher(func(path string) {
		rebuild(fmt.Sprintf("changed: %s", filepath.Base(path)))
	})
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.AddFile(absPath); err != nil {
		return fmt.Errorf("failed to watch file: %w", err)
	}
	watcher.Watch()
	return nil
}

// cmdHelp displays usage information
func cmdHelp(ctx *CommandContext) error {
	fmt.Fprintf(ctx.Stdout, `%s - Thumb-2 code emitter for ARMv7-M

USAGE:
    thumbjit [flags] <command> [arguments]

COMMANDS:
    build <file.tj>       Compile to a raw Thumb-2 blob (-o out.bin, --image out.tjx)
    run <file.tj> [args]  Compile and execute on the simulator, args go in r0-r3
    dis <file>            Disassemble a .tj, .bin or .tjx file
    watch <file.tj>       Rebuild whenever the file changes
    help                  Show this help message
    version               Show version information

FLAGS (before the command):
    -v, --verbose          Trace every emitted and executed instruction
    -q, --quiet            Suppress progress messages
    --arch <arch>          armv7-m, armv7e-m, armv8-m.main or a core (cortex-m4)
    --pool <policy>        Literal pools: split (default) or manual
    --pool-range <bytes>   Reach of pooled loads, 1..4095
    --max-code <bytes>     Largest code buffer
    --config <file>        thumbjit.toml to use (default: search upwards)

ENVIRONMENT:
    THUMBJIT_POOL, THUMBJIT_POOL_RANGE, THUMBJIT_MAX_CODE, THUMBJIT_VERBOSE, NO_COLOR

RUNTIME (callable by name under run):
`, versionString)
	for _, n := range natives {
		fmt.Fprintf(ctx.Stdout, "    %-10s %#08x  %s\n", n.name, n.addr, n.help)
	}
	fmt.Fprintf(ctx.Stdout, `
INSTRUCTIONS:
    %s
    b<cond> <bytes> with cond one of eq ne cs cc mi pl vs vc hi ls ge lt gt le

EXAMPLE:
    cmp r0, #0
    if ne
        litz r0, "nonzero"
    else
        litz r0, "zero"
    end
    call putstr
`, strings.Join(driver.Mnemonics(), " "))
	return nil
}
