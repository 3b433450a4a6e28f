// Completion: 100% - Literal pool islands complete
package thumb

import "fmt"

type refKind uint8

const (
	refLoad refKind = iota // MOV r, pc; LDR.W r, [r, #imm12]
	refAddr                // MOV r, pc; ADDW r, r, #imm12
)

// literalRef is a MOV-from-PC pair waiting for its entry to be placed
type literalRef struct {
	at    int // offset of the MOV; it reads pc as at+4
	kind  refKind
	entry int // index into words (refLoad) or strs (refAddr)
}

// literalPool collects the data referenced from one buffer since its
// last island
type literalPool struct {
	words []uint32
	index map[uint32]int
	strs  [][]byte
	refs  []literalRef
	size  int
}

func (p *literalPool) empty() bool {
	return len(p.refs) == 0
}

// wordCost is how many bytes adding v would grow the pool by
func (p *literalPool) wordCost(v uint32) int {
	if _, ok := p.index[v]; ok {
		return 0
	}
	return 4
}

func (p *literalPool) addWord(at int, v uint32) {
	i, ok := p.index[v]
	if !ok {
		if p.index == nil {
			p.index = make(map[uint32]int)
		}
		i = len(p.words)
		p.words = append(p.words, v)
		p.index[v] = i
		p.size += 4
	}
	p.refs = append(p.refs, literalRef{at: at, kind: refLoad, entry: i})
}

func (p *literalPool) addString(at int, data []byte) {
	p.strs = append(p.strs, data)
	p.size += len(data)
	p.refs = append(p.refs, literalRef{at: at, kind: refAddr, entry: len(p.strs) - 1})
}

func (p *literalPool) reset() {
	*p = literalPool{}
}

// paddedString returns data, plus a NUL when asked, padded to a halfword
func paddedString(data []byte, nullTerminate bool) []byte {
	out := append([]byte(nil), data...)
	if nullTerminate {
		out = append(out, 0)
	}
	if len(out)%2 != 0 {
		out = append(out, 0)
	}
	return out
}

// islandHeader is the worst case for branch-over plus alignment padding
const islandHeader = 6

// reachable reports whether the oldest pending reference of b could still
// reach its entry if an island were placed right after an instruction of
// n bytes that adds extra bytes of pool data. It measures to the end of
// the pool, so it errs towards splitting early.
func (s *Session) reachable(b *codeBuffer, n, extra int) bool {
	oldest := b.pool.refs[0].at
	end := b.len() + n + islandHeader + b.pool.size + extra
	return end-(oldest+4) <= s.cfg.PoolRange
}

// flushPool places b's pending literals in an island at the current end
// of b and patches every reference to it
func (s *Session) flushPool(op string, b *codeBuffer) error {
	if b.pool.empty() {
		return nil
	}
	p := &b.pool
	start := b.len()
	if start < b.fence {
		return s.fail(rangef(op, "literal island at %#x would land inside a forward branch span ending at %#x", start, b.fence))
	}

	// Branch over the island unless control cannot fall into it. A
	// forward branch that targets this spot also needs the branch-over.
	var header []uint16
	if !b.terminal || start == b.fence {
		skip := p.size
		if (start+2)%4 != 0 {
			skip += 2
		}
		if fitsNarrowB(skip) {
			header = []uint16{narrowB(skip)}
		} else {
			skip = p.size
			if (start+4)%4 != 0 {
				skip += 2
			}
			hw1, hw2 := wideB(skip)
			header = []uint16{hw1, hw2}
		}
	}
	headerLen := 2 * len(header)
	pad := 0
	if (start+headerLen)%4 != 0 {
		pad = 2
	}
	if err := s.grow(op, b, headerLen+pad+p.size); err != nil {
		return err
	}

	if len(header) > 0 {
		s.write(b, header, "b +%d (literal island)", pad+p.size)
	}
	if pad != 0 {
		b.put16(0xBF00)
	}
	wordAt := make([]int, len(p.words))
	for i, w := range p.words {
		wordAt[i] = b.len()
		b.put32(w)
	}
	strAt := make([]int, len(p.strs))
	for i, str := range p.strs {
		strAt[i] = b.len()
		b.putBytes(str)
	}
	if s.cfg.Verbose {
		s.log.Debugf("%04x: island %d word(s), %d string(s), %d bytes", start, len(p.words), len(p.strs), b.len()-start)
	}

	for _, ref := range p.refs {
		var pos int
		if ref.kind == refLoad {
			pos = wordAt[ref.entry]
		} else {
			pos = strAt[ref.entry]
		}
		d := pos - (ref.at + 4)
		if d < 0 || d > s.cfg.PoolRange {
			return s.fail(rangef(op, "literal at %#x is %d bytes from its load at %#x (reach %d)", pos, d, ref.at, s.cfg.PoolRange))
		}
		s.patchRef(b, ref, uint16(d))
	}
	p.reset()
	return nil
}

// patchRef writes the final offset into the second instruction of a pair
func (s *Session) patchRef(b *codeBuffer, ref literalRef, imm12 uint16) {
	hw1At, hw2At := ref.at+2, ref.at+4
	switch ref.kind {
	case refLoad:
		b.patch16(hw2At, b.at16(hw2At)&0xF000|imm12)
	case refAddr:
		i, rest := splitImm12(imm12)
		b.patch16(hw1At, b.at16(hw1At)&^0x0400|i)
		b.patch16(hw2At, b.at16(hw2At)&0x0F00|rest)
	default:
		panic(fmt.Sprintf("unknown literal reference kind %d", ref.kind))
	}
}

// FlushPool places any pending literals here, behind a branch when needed.
// Drivers that keep long straight-line runs under PoolManual call it
// between statements.
func (s *Session) FlushPool() error {
	const op = "FlushPool"
	if err := s.ready(op); err != nil {
		return err
	}
	return s.flushPool(op, s.active())
}
