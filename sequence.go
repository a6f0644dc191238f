package efp

// sequenceRecoverer turns the wrapping 16 bit superframe number into a
// monotonic 64 bit delivery order. Holes up to half the 16 bit range are
// tolerated, anything larger is mis-recovered.
type sequenceRecoverer struct {
	lastRaw       uint16
	lastRecovered uint64
	primed        bool
}

func (s *sequenceRecoverer) recover(raw uint16) uint64 {
	if !s.primed {
		s.primed = true
		s.lastRaw = raw
		s.lastRecovered = uint64(raw)
		return s.lastRecovered
	}
	delta := int64(int16(raw - s.lastRaw))
	s.lastRaw = raw
	s.lastRecovered = uint64(int64(s.lastRecovered) + delta)
	return s.lastRecovered
}

func (s *sequenceRecoverer) reset() {
	*s = sequenceRecoverer{}
}
