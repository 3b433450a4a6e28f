// Completion: 100% - Compiler driver complete
package driver

import (
	"fmt"
	"strings"

	"github.com/tliron/commonlog"
	"github.com/xyproto/thumbjit/internal/thumb"
)

// Compiler turns structured assembly into Thumb-2 code, one statement
// at a time, through a thumb.Session.
type Compiler struct {
	jit       *thumb.JIT
	log       commonlog.Logger
	errs      *ErrorCollector
	Symbols   map[string]uint32 // predeclared call targets
	MaxErrors int
}

// Result is the output of a successful compile
type Result struct {
	Code    []byte
	Symbols map[string]uint32 // predeclared plus extern'd call targets
	Lines   int
}

// NewCompiler creates a compiler that emits with the given settings
func NewCompiler(cfg thumb.Config) *Compiler {
	return &Compiler{
		jit:     thumb.New(cfg),
		log:     commonlog.GetLogger("thumbjit.driver"),
		Symbols: map[string]uint32{},
	}
}

// Errors returns the diagnostics of the last compile
func (c *Compiler) Errors() *ErrorCollector {
	if c.errs == nil {
		return NewErrorCollector(c.MaxErrors)
	}
	return c.errs
}

// Compile compiles one source file. On failure the returned error is the
// first CompilerError; Errors().Report has all of them.
func (c *Compiler) Compile(file, source string) (*Result, error) {
	c.errs = NewErrorCollector(c.MaxErrors)
	c.errs.SetSourceCode(source)

	p := newParser(file, c.Symbols, c.errs)
	stmts := p.parse(source)
	if c.errs.HasErrors() {
		return nil, c.errs.First()
	}
	c.log.Debugf("%s: %d statement(s)", file, len(stmts))

	s, err := c.jit.Start()
	if err != nil {
		c.errs.AddError(CodegenError(err, SourceLocation{File: file}))
		return nil, c.errs.First()
	}
	g := &codegen{s: s, errs: c.errs}
	for i := range stmts {
		if err := g.stmt(&stmts[i]); err != nil {
			s.Stop() // releases the session, the fault is already latched
			c.errs.AddError(CodegenError(err, stmts[i].Loc))
			return nil, c.errs.First()
		}
	}

	lines := strings.Count(source, "\n") + 1
	code, err := s.Stop()
	if err != nil {
		c.errs.AddError(CodegenError(err, SourceLocation{File: file, Line: lines}))
		return nil, c.errs.First()
	}
	return &Result{Code: code, Symbols: p.symbols, Lines: lines}, nil
}

// frame is an open if/else or loop
type frame struct {
	loop   bool
	cond   thumb.Condition
	handle thumb.BlockHandle
	then   thumb.Block
	inElse bool
	head   int
}

type codegen struct {
	s      *thumb.Session
	errs   *ErrorCollector
	frames []*frame
}

func (g *codegen) push(f *frame) {
	g.frames = append(g.frames, f)
}

func (g *codegen) pop() *frame {
	f := g.frames[len(g.frames)-1]
	g.frames = g.frames[:len(g.frames)-1]
	return f
}

func (g *codegen) stmt(st *Stmt) error {
	s := g.s
	ops := st.Ops
	switch st.Mnemonic {
	case "lit16":
		return s.Literal16(ops[0].Reg, false, uint16(ops[1].Imm))
	case "lit16t":
		return s.Literal16(ops[0].Reg, true, uint16(ops[1].Imm))
	case "lit32":
		return s.Literal32(ops[0].Reg, uint32(ops[1].Imm))
	case "lit64":
		return s.Literal64(ops[0].Reg, ops[1].Bits)
	case "lits", "litz":
		n, err := s.LiteralString(ops[0].Reg, ops[1].Str, st.Mnemonic == "litz")
		if err != nil || len(ops) < 3 {
			return err
		}
		return s.Literal32(ops[2].Reg, uint32(n))
	case "cmp":
		return s.CompareImm(ops[0].Reg, int(ops[1].Imm))
	case "mov":
		return s.Mov(ops[0].Reg, ops[1].Reg)
	case "mvn":
		return s.Mvn(ops[0].Reg, ops[1].Reg)
	case "and":
		return s.And(ops[0].Reg, ops[1].Reg)
	case "ldr":
		return s.LoadImm(ops[0].Reg, ops[1].Base, int(ops[1].Imm))
	case "str":
		return s.StoreImm(ops[0].Reg, ops[1].Base, int(ops[1].Imm))
	case "push":
		t := thumb.Int
		if len(ops) > 1 {
			t = ops[1].Type
		}
		return s.Push(ops[0].Reg, t)
	case "pop":
		t, err := s.Pop(ops[0].Reg)
		if err == nil && len(ops) > 1 && t != ops[1].Type {
			g.errs.AddWarning(CompilerError{
				Category: CategorySemantic,
				Message:  fmt.Sprintf("popped a %s into %s, expected %s", t, ops[0].Reg, ops[1].Type),
				Location: st.Loc,
			})
		}
		return err
	case "addsp":
		return s.AddSP(int(ops[0].Imm))
	case "subsp":
		return s.SubSP(int(ops[0].Imm))
	case "call":
		addr, name := uint32(ops[0].Imm), ops[0].Name
		if len(ops) > 1 {
			name = ops[1].Name
		}
		if name == "" {
			return s.Call(addr)
		}
		return s.CallNamed(addr, name)
	case "ret":
		return s.PopAllAndReturn()
	case "flush":
		return s.FlushPool()
	case "b":
		if st.Conditional {
			return s.BranchConditionalRelative(st.Cond, int(ops[0].Imm))
		}
		return s.BranchRelative(int(ops[0].Imm))
	case "extern":
		return nil
	case "if":
		h, err := s.StartBlock()
		if err != nil {
			return err
		}
		g.push(&frame{cond: ops[0].Cond, handle: h})
		return nil
	case "else":
		f := g.frames[len(g.frames)-1]
		blk, err := s.StopBlock(f.handle)
		if err != nil {
			return err
		}
		f.then, f.inElse = blk, true
		f.handle, err = s.StartBlock()
		return err
	case "end":
		return g.endIf(g.pop())
	case "loop":
		g.push(&frame{loop: true, head: s.ByteCount()})
		return nil
	case "while":
		f := g.pop()
		return s.BranchConditionalTo(ops[0].Cond, f.head)
	}
	return fmt.Errorf("no code generator for %s", st.Mnemonic)
}

// endIf lays out a closed if/else: the inverted test skips the then arm,
// which ends by jumping over the else arm.
//
//	b<!cond> else
//	<then>
//	b end
//	else: <else>
//	end:
func (g *codegen) endIf(f *frame) error {
	s := g.s
	blk, err := s.StopBlock(f.handle)
	if err != nil {
		return err
	}
	if !f.inElse {
		if err := s.BranchConditionalRelative(f.cond.Invert(), blk.Len()); err != nil {
			return err
		}
		return s.EmitBlock(blk)
	}
	then, els := f.then, blk
	if err := s.BranchConditionalRelative(f.cond.Invert(), then.Len()+thumb.BranchWidth(els.Len())); err != nil {
		return err
	}
	if err := s.EmitBlock(then); err != nil {
		return err
	}
	if err := s.BranchRelative(els.Len()); err != nil {
		return err
	}
	return s.EmitBlock(els)
}
