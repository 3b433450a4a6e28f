//go:build jittrace

package thumb

func (s *Session) noteCall(addr uint32, name string) {
	if s.jit == nil {
		return
	}
	s.log.Infof("%04x: call %s (%#x)", s.ByteCount(), name, addr)
}
