// Completion: 100% - Session and block manager complete
package thumb

import (
	"fmt"
	"strings"

	"github.com/tliron/commonlog"
)

// JIT owns the configuration and allows one active Session at a time.
// Independent JIT values may compile independently; a single JIT is not
// safe for concurrent use.
type JIT struct {
	cfg    Config
	log    commonlog.Logger
	active *Session
}

// New creates a JIT with the given settings
func New(cfg Config) *JIT {
	return &JIT{
		cfg: cfg,
		log: commonlog.GetLogger("thumbjit.emit"),
	}
}

// Config returns the settings the JIT was created with
func (j *JIT) Config() Config {
	return j.cfg
}

// Active reports whether a session is currently open
func (j *JIT) Active() bool {
	return j.active != nil
}

// Session is the state of one compile: the stack of recording buffers,
// the shadow value ledger and the first fault raised, if any.
type Session struct {
	jit    *JIT
	cfg    Config
	log    commonlog.Logger
	bufs   []*codeBuffer
	serial uint64
	ledger valueLedger
	err    error
}

// BlockHandle names the buffer that was active when a block was opened.
// Pass it back to StopBlock.
type BlockHandle struct {
	depth  int
	serial uint64
}

// Block is a captured, relocatable span of machine code
type Block struct {
	code []byte
}

// Len returns the size of the block in bytes
func (b Block) Len() int {
	return len(b.code)
}

// Bytes returns a copy of the block's machine code
func (b Block) Bytes() []byte {
	return append([]byte(nil), b.code...)
}

// BlockOf wraps raw machine code, for example a block captured in an
// earlier session, so it can be spliced with EmitBlock.
func BlockOf(code []byte) Block {
	return Block{code: append([]byte(nil), code...)}
}

// Start opens a session and emits the mandatory prologue
func (j *JIT) Start() (*Session, error) {
	if j.active != nil {
		return nil, protocolf("Start", "a session is already active")
	}
	if err := j.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("thumb: invalid config: %w", err)
	}
	s := &Session{
		jit: j,
		cfg: j.cfg,
		log: j.log,
	}
	s.bufs = []*codeBuffer{newCodeBuffer(s.nextSerial())}
	j.active = s
	if s.cfg.Verbose {
		s.log.Debugf("session start (pool=%s, range=%d)", s.cfg.Pool, s.cfg.PoolRange)
	}
	if err := s.PushAll(); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// Stop finalizes the blob and ends the session. The epilogue is appended
// unless the blob already ends with it, and any pending literals are
// placed after it. A session that faulted returns its first fault and no
// code. Either way the JIT can start a new session afterwards.
func (s *Session) Stop() ([]byte, error) {
	const op = "Stop"
	if s.jit == nil {
		return nil, protocolf(op, "session is not active")
	}
	defer s.close()
	if s.err != nil {
		return nil, s.err
	}
	if len(s.bufs) != 1 {
		return nil, s.fail(protocolf(op, "%d block(s) still open", len(s.bufs)-1))
	}
	if n := s.ledger.depth(); n != 0 {
		return nil, s.fail(protocolf(op, "value ledger holds %d unpopped slot(s): %s", n, s.ledger.describe()))
	}
	top := s.bufs[0]
	if !top.returned {
		if err := s.PopAllAndReturn(); err != nil {
			return nil, err
		}
	}
	if err := s.flushPool(op, top); err != nil {
		return nil, err
	}
	code := top.commit()
	if s.cfg.Verbose {
		s.log.Debugf("session stop: %d bytes", len(code))
	}
	return code, nil
}

func (s *Session) close() {
	if s.jit != nil && s.jit.active == s {
		s.jit.active = nil
	}
	s.jit = nil
	s.bufs = nil
}

// Err returns the fault that halted the session, or nil
func (s *Session) Err() error {
	return s.err
}

// StartBlock begins capturing a nested block. The current buffer keeps
// its pending literals: it cannot grow while the block is open, and
// EmitBlock checks their reach when the block is spliced back.
func (s *Session) StartBlock() (BlockHandle, error) {
	const op = "StartBlock"
	if err := s.ready(op); err != nil {
		return BlockHandle{}, err
	}
	cur := s.active()
	h := BlockHandle{depth: len(s.bufs) - 1, serial: cur.serial}
	s.bufs = append(s.bufs, newCodeBuffer(s.nextSerial()))
	if s.cfg.Verbose {
		s.log.Debugf("%sblock {", strings.Repeat("  ", h.depth))
	}
	return h, nil
}

// StopBlock ends the innermost block and returns its bytes. h must be
// the handle returned by the matching StartBlock.
func (s *Session) StopBlock(h BlockHandle) (Block, error) {
	const op = "StopBlock"
	if err := s.ready(op); err != nil {
		return Block{}, err
	}
	if len(s.bufs) < 2 {
		return Block{}, s.fail(protocolf(op, "no block is open"))
	}
	if h.depth != len(s.bufs)-2 || s.bufs[h.depth].serial != h.serial {
		return Block{}, s.fail(protocolf(op, "handle does not match the innermost open block"))
	}
	cur := s.active()
	if err := s.flushPool(op, cur); err != nil {
		return Block{}, err
	}
	s.bufs[len(s.bufs)-1] = nil
	s.bufs = s.bufs[:len(s.bufs)-1]
	code := cur.commit()
	if s.cfg.Verbose {
		s.log.Debugf("%s} %d bytes", strings.Repeat("  ", h.depth), len(code))
	}
	return Block{code: code}, nil
}

// EmitBlock splices a captured block in at the current position, verbatim.
// Under PoolSplit, pending literals that the block would push out of reach
// are placed first, unless that would put them inside a forward branch span.
func (s *Session) EmitBlock(blk Block) error {
	const op = "EmitBlock"
	if err := s.ready(op); err != nil {
		return err
	}
	if len(blk.code)%2 != 0 {
		return s.fail(rangef(op, "block length %d is not a whole number of halfwords", len(blk.code)))
	}
	b := s.active()
	if !b.pool.empty() && !s.reachable(b, len(blk.code), 0) {
		if s.cfg.Pool != PoolSplit || b.len() < b.fence {
			return s.fail(rangef(op, "splicing %d bytes would leave pending literals out of reach; call FlushPool first", len(blk.code)))
		}
		if err := s.flushPool(op, b); err != nil {
			return err
		}
	}
	if err := s.grow(op, b, len(blk.code)); err != nil {
		return err
	}
	b.putBytes(blk.code)
	if len(blk.code) > 0 {
		b.terminal = false
		b.returned = false
	}
	if s.cfg.Verbose {
		s.log.Debugf("%04x: <block %d bytes>", b.len()-len(blk.code), len(blk.code))
	}
	return nil
}

// ByteCount returns the length of the active buffer
func (s *Session) ByteCount() int {
	if s.jit == nil {
		return 0
	}
	return s.active().len()
}

// Depth returns the number of blocks currently open
func (s *Session) Depth() int {
	if s.jit == nil {
		return 0
	}
	return len(s.bufs) - 1
}

func (s *Session) nextSerial() uint64 {
	s.serial++
	return s.serial
}

func (s *Session) active() *codeBuffer {
	return s.bufs[len(s.bufs)-1]
}

// ready rejects primitives on an inert or faulted session
func (s *Session) ready(op string) error {
	if s.jit == nil {
		return protocolf(op, "session is not active")
	}
	return s.err
}

// fail latches the first fault; later primitives keep returning it
func (s *Session) fail(err error) error {
	if s.err == nil {
		s.err = err
		s.log.Errorf("%v", err)
	}
	return err
}

// grow checks that n more bytes fit in b
func (s *Session) grow(op string, b *codeBuffer, n int) error {
	if b.len()+n > s.cfg.MaxCodeSize {
		return s.fail(resourcef(op, "buffer would grow to %d bytes (limit %d)", b.len()+n, s.cfg.MaxCodeSize))
	}
	return nil
}

// reserve prepares the active buffer for an instruction of n bytes that
// adds extra bytes of literal data. Under PoolSplit it places the pending
// pool first if the instruction would push the oldest literal out of reach.
// Inside a forward branch span that is a range fault instead.
func (s *Session) reserve(op string, n, extra int) (*codeBuffer, error) {
	if err := s.ready(op); err != nil {
		return nil, err
	}
	b := s.active()
	if s.cfg.Pool == PoolSplit && !b.pool.empty() && !s.reachable(b, n, extra) {
		if s.cfg.Verbose {
			s.log.Debugf("%04x: pool split before %s", b.len(), op)
		}
		if err := s.flushPool(op, b); err != nil {
			return nil, err
		}
	}
	if err := s.grow(op, b, n); err != nil {
		return nil, err
	}
	return b, nil
}

// emit appends a complete instruction
func (s *Session) emit(op string, hws []uint16, format string, args ...any) error {
	b, err := s.reserve(op, 2*len(hws), 0)
	if err != nil {
		return err
	}
	s.write(b, hws, format, args...)
	return nil
}

// write appends hws to b and traces them
func (s *Session) write(b *codeBuffer, hws []uint16, format string, args ...any) {
	at := b.len()
	for _, hw := range hws {
		b.put16(hw)
	}
	b.terminal = false
	b.returned = false
	if s.cfg.Verbose {
		s.trace(at, hws, format, args...)
	}
}

func (s *Session) trace(at int, hws []uint16, format string, args ...any) {
	var sb strings.Builder
	for _, hw := range hws {
		fmt.Fprintf(&sb, " %04x", hw)
	}
	s.log.Debugf("%s%04x:%-11s %s", strings.Repeat("  ", len(s.bufs)-1), at, sb.String(), fmt.Sprintf(format, args...))
}
