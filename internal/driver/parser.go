// Completion: 100% - Line parser complete
package driver

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/xyproto/thumbjit/internal/engine"
	"github.com/xyproto/thumbjit/internal/thumb"
)

// Operand is one parsed operand. Which fields are set depends on the
// operand kind of the instruction it belongs to.
type Operand struct {
	Text string
	Col  int
	Reg  thumb.Register
	Base thumb.Register // memory operands
	Imm  int64          // immediates, memory offsets and call targets
	Bits uint64         // immediates, unsigned view
	Str  []byte
	Cond thumb.Condition
	Type thumb.ValueType
	Name string // symbolic call targets and names
}

// Stmt is one source line
type Stmt struct {
	Mnemonic    string
	Conditional bool // b<cond>
	Cond        thumb.Condition
	Ops         []Operand
	Loc         SourceLocation
}

// signature lists operand kinds:
// r register, i immediate, s string, m memory, t value type,
// c condition, a call target, n name
type signature struct {
	kinds    string
	required int
}

func (sig signature) describe() string {
	switch {
	case len(sig.kinds) == 0:
		return "no operands"
	case sig.required == len(sig.kinds):
		return fmt.Sprintf("%d operand(s)", sig.required)
	}
	return fmt.Sprintf("%d to %d operands", sig.required, len(sig.kinds))
}

var mnemonics = map[string]signature{
	"lit16":  {"ri", 2},
	"lit16t": {"ri", 2},
	"lit32":  {"ri", 2},
	"lit64":  {"ri", 2},
	"lits":   {"rsr", 2},
	"litz":   {"rsr", 2},
	"cmp":    {"ri", 2},
	"mov":    {"rr", 2},
	"mvn":    {"rr", 2},
	"and":    {"rr", 2},
	"ldr":    {"rm", 2},
	"str":    {"rm", 2},
	"push":   {"rt", 1},
	"pop":    {"rt", 1},
	"addsp":  {"i", 1},
	"subsp":  {"i", 1},
	"call":   {"an", 1},
	"ret":    {"", 0},
	"flush":  {"", 0},
	"b":      {"i", 1},
	"extern": {"ni", 2},
	"if":     {"c", 1},
	"else":   {"", 0},
	"end":    {"", 0},
	"loop":   {"", 0},
	"while":  {"c", 1},
}

// Mnemonics returns every instruction and directive name, sorted
func Mnemonics() []string {
	names := make([]string, 0, len(mnemonics))
	for name := range mnemonics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func conditionNames() []string {
	var names []string
	for c := thumb.EQ; c <= thumb.LE; c++ {
		names = append(names, c.String())
	}
	return names
}

type openConstruct struct {
	mnemonic string
	loc      SourceLocation
}

type parser struct {
	file    string
	symbols map[string]uint32
	errs    *ErrorCollector
	open    []openConstruct
}

func newParser(file string, symbols map[string]uint32, errs *ErrorCollector) *parser {
	p := &parser{file: file, symbols: make(map[string]uint32, len(symbols)), errs: errs}
	for name, addr := range symbols {
		p.symbols[name] = addr
	}
	return p
}

// parse turns source into statements. Problems are reported to the
// collector and the offending line is dropped.
func (p *parser) parse(source string) []Stmt {
	var stmts []Stmt
	for i, raw := range strings.Split(source, "\n") {
		if p.errs.ShouldStop() {
			break
		}
		st, ok := p.parseLine(i+1, strings.TrimRight(raw, "\r"))
		if !ok {
			continue
		}
		if p.checkNesting(st) {
			stmts = append(stmts, st)
		}
	}
	for _, c := range p.open {
		p.errs.AddError(SyntaxError(fmt.Sprintf("'%s' is never closed", c.mnemonic), c.loc))
	}
	return stmts
}

func (p *parser) loc(line, col, length int) SourceLocation {
	return SourceLocation{File: p.file, Line: line, Column: col, Length: length}
}

func (p *parser) parseLine(line int, raw string) (Stmt, bool) {
	text := stripComment(raw)
	start := strings.IndexFunc(text, func(r rune) bool { return !unicode.IsSpace(r) })
	if start < 0 {
		return Stmt{}, false
	}
	end := start + strings.IndexFunc(text[start:], unicode.IsSpace)
	if end < start {
		end = len(text)
	}

	mn := strings.ToLower(text[start:end])
	st := Stmt{Mnemonic: mn, Loc: p.loc(line, start+1, end-start)}
	sig, ok := mnemonics[mn]
	if !ok && len(mn) > 1 && mn[0] == 'b' {
		if c, err := thumb.ParseCondition(mn[1:]); err == nil {
			sig, ok = mnemonics["b"], true
			st.Mnemonic, st.Conditional, st.Cond = "b", true, c
		}
	}
	if !ok {
		p.errs.AddError(UnknownNameError("instruction", mn, st.Loc, engine.Suggest(mn, Mnemonics(), 3)))
		return st, false
	}

	fields, err := splitOperands(text[end:], end+1)
	if err != nil {
		p.errs.AddError(SyntaxError(err.Error(), p.loc(line, end+1, len(text)-end)))
		return st, false
	}
	if len(fields) < sig.required || len(fields) > len(sig.kinds) {
		p.errs.AddError(SyntaxError(fmt.Sprintf("%s expects %s, got %d", st.Mnemonic, sig.describe(), len(fields)), st.Loc))
		return st, false
	}
	for i, f := range fields {
		op, ok := p.parseOperand(sig.kinds[i], f, line)
		if !ok {
			return st, false
		}
		st.Ops = append(st.Ops, op)
	}
	if err := checkRanges(&st); err != nil {
		p.errs.AddError(*err)
		return st, false
	}
	if st.Mnemonic == "extern" {
		return st, p.declare(&st)
	}
	return st, true
}

func (p *parser) declare(st *Stmt) bool {
	name, addr := st.Ops[0].Name, uint32(st.Ops[1].Imm)
	if prev, ok := p.symbols[name]; ok && prev != addr {
		err := SyntaxError(fmt.Sprintf("symbol '%s' redefined (was %#x)", name, prev), st.Loc)
		err.Category = CategorySemantic
		p.errs.AddError(err)
		return false
	}
	p.symbols[name] = addr
	return true
}

// checkNesting tracks if/else/end and loop/while pairs
func (p *parser) checkNesting(st Stmt) bool {
	top := ""
	if len(p.open) > 0 {
		top = p.open[len(p.open)-1].mnemonic
	}
	fail := func(msg string) bool {
		p.errs.AddError(SyntaxError(msg, st.Loc))
		return false
	}
	switch st.Mnemonic {
	case "if", "loop":
		p.open = append(p.open, openConstruct{st.Mnemonic, st.Loc})
	case "else":
		if top != "if" {
			return fail("'else' without a matching 'if'")
		}
		p.open[len(p.open)-1].mnemonic = "else"
	case "end":
		if top != "if" && top != "else" {
			if top == "loop" {
				return fail("a 'loop' is closed with 'while <cond>', not 'end'")
			}
			return fail("'end' without a matching 'if'")
		}
		p.open = p.open[:len(p.open)-1]
	case "while":
		if top != "loop" {
			return fail("'while' without a matching 'loop'")
		}
		p.open = p.open[:len(p.open)-1]
	}
	return true
}

func (p *parser) parseOperand(kind byte, f field, line int) (Operand, bool) {
	op := Operand{Text: f.text, Col: f.col}
	loc := p.loc(line, f.col, len(f.text))
	bad := func(msg string) (Operand, bool) {
		p.errs.AddError(SyntaxError(msg, loc))
		return op, false
	}

	switch kind {
	case 'r':
		r, err := thumb.ParseRegister(f.text)
		if err != nil {
			name := strings.ToLower(f.text)
			p.errs.AddError(UnknownNameError("register", name, loc, engine.Suggest(name, thumb.RegisterNames(), 3)))
			return op, false
		}
		op.Reg = r
	case 'i':
		v, bits, err := parseImmediate(f.text)
		if err != nil {
			return bad(err.Error())
		}
		op.Imm, op.Bits = v, bits
	case 's':
		s, err := strconv.Unquote(f.text)
		if err != nil {
			return bad(fmt.Sprintf("invalid string literal %s", f.text))
		}
		op.Str = []byte(s)
	case 'm':
		base, off, err := parseMemoryOperand(f.text)
		if err != nil {
			return bad(err.Error())
		}
		r, err := thumb.ParseRegister(base)
		if err != nil {
			p.errs.AddError(UnknownNameError("register", base, loc, engine.Suggest(strings.ToLower(base), thumb.RegisterNames(), 3)))
			return op, false
		}
		op.Base, op.Imm = r, off
	case 't':
		t, err := thumb.ParseValueType(f.text)
		if err != nil {
			return bad(fmt.Sprintf("invalid value type %s, expected int or ref", f.text))
		}
		op.Type = t
	case 'c':
		c, err := thumb.ParseCondition(f.text)
		if err != nil {
			name := strings.ToLower(f.text)
			p.errs.AddError(UnknownNameError("condition", name, loc, engine.Suggest(name, conditionNames(), 3)))
			return op, false
		}
		op.Cond = c
	case 'a':
		if v, bits, err := parseImmediate(f.text); err == nil {
			op.Imm, op.Bits = v, bits
			break
		}
		if !isIdent(f.text) {
			return bad(fmt.Sprintf("invalid call target %s", f.text))
		}
		addr, ok := p.symbols[f.text]
		if !ok {
			known := make([]string, 0, len(p.symbols))
			for name := range p.symbols {
				known = append(known, name)
			}
			err := UnknownNameError("function", f.text, loc, engine.Suggest(f.text, known, 3))
			err.Context.HelpText = "declare it first with: extern " + f.text + ", <address>"
			p.errs.AddError(err)
			return op, false
		}
		op.Imm, op.Bits, op.Name = int64(addr), uint64(addr), f.text
	case 'n':
		if !isIdent(f.text) {
			return bad(fmt.Sprintf("invalid name %s", f.text))
		}
		op.Name = f.text
	default:
		p.errs.AddError(FatalError(fmt.Sprintf("unknown operand kind %q", kind), loc))
		return op, false
	}
	return op, true
}

// checkRanges rejects immediates that can never be encoded, before any
// code is emitted
func checkRanges(st *Stmt) *CompilerError {
	check := func(i int, lo, hi int64) *CompilerError {
		op := st.Ops[i]
		if op.Imm < lo || op.Imm > hi {
			err := SyntaxError(fmt.Sprintf("%s out of range for %s [%d, %#x]", op.Text, st.Mnemonic, lo, hi), SourceLocation{
				File: st.Loc.File, Line: st.Loc.Line, Column: op.Col, Length: len(op.Text),
			})
			return &err
		}
		return nil
	}
	const (
		i32 = -1 << 31
		u32 = 1<<32 - 1
	)
	switch st.Mnemonic {
	case "lit16", "lit16t":
		return check(1, 0, 0xFFFF)
	case "lit32":
		return check(1, i32, u32)
	case "cmp":
		return check(1, i32, u32)
	case "ldr", "str":
		return check(1, i32, 1<<31-1)
	case "addsp", "subsp", "b":
		return check(0, i32, 1<<31-1)
	case "call":
		return check(0, 0, u32)
	case "extern":
		return check(1, 0, u32)
	}
	return nil
}

type field struct {
	text string
	col  int
}

// splitOperands splits on commas outside brackets and string literals.
// col is the 1-based column of operands[0].
func splitOperands(operands string, col int) ([]field, error) {
	var result []field
	currentStart := 0
	depth := 0
	var quote rune
	escaped := false

	add := func(end int) {
		raw := operands[currentStart:end]
		part := strings.TrimSpace(raw)
		if part != "" {
			lead := len(raw) - len(strings.TrimLeftFunc(raw, unicode.IsSpace))
			result = append(result, field{part, col + currentStart + lead})
		}
	}

	for i, r := range operands {
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case r == '\\' && quote == '"':
				escaped = true
			case r == quote:
				quote = 0
			}
			continue
		}
		switch r {
		case '"', '`':
			quote = r
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				add(i)
				currentStart = i + 1
			}
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated string literal")
	}
	if currentStart < len(operands) {
		add(len(operands))
	}
	return result, nil
}

// stripComment drops everything after ';' or "//" outside string literals
func stripComment(line string) string {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		if quote != 0 {
			if c == '\\' && quote == '"' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '"' || c == '`':
			quote = c
		case c == ';':
			return line[:i]
		case c == '/' && i+1 < len(line) && line[i+1] == '/':
			return line[:i]
		}
	}
	return line
}

// parseImmediate accepts decimal, 0x, 0o and 0b forms with an optional '#'
func parseImmediate(s string) (int64, uint64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return v, uint64(v), nil
	}
	u, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid immediate %q", s)
	}
	return int64(u), u, nil
}

// parseMemoryOperand accepts [base], [base, #off], [base+off] and [base-off]
func parseMemoryOperand(op string) (string, int64, error) {
	op = strings.TrimSpace(op)
	if !strings.HasPrefix(op, "[") || !strings.HasSuffix(op, "]") {
		return "", 0, fmt.Errorf("invalid memory operand %q", op)
	}

	inner := strings.ReplaceAll(strings.TrimSpace(op[1:len(op)-1]), " ", "")
	if inner == "" {
		return "", 0, fmt.Errorf("memory operand %q is empty", op)
	}

	base := inner
	offset := int64(0)
	if i := strings.IndexAny(inner, ",+-"); i >= 0 {
		base = inner[:i]
		displacement := strings.TrimPrefix(inner[i:], ",")
		val, _, err := parseImmediate(displacement)
		if err != nil {
			return "", 0, fmt.Errorf("invalid displacement %q", displacement)
		}
		offset = val
	}

	if base == "" {
		return "", 0, fmt.Errorf("memory operand %q missing base register", op)
	}
	return base, offset, nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}
