package engine

import "sync/atomic"

// Sequencer generates strictly monotonic sequence numbers for orders and
// trades. Sequence order is arrival order within an instrument.
type Sequencer struct {
	next atomic.Uint64
}

// NewSequencer creates a sequencer whose first Next returns start+1.
// On fresh start → start = 0
// On recovery → start = highest persisted sequence
func NewSequencer(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued sequence.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}

// Advance moves the sequencer forward to v if it is behind; used after recovery.
func (s *Sequencer) Advance(v uint64) {
	for {
		cur := s.next.Load()
		if cur >= v || s.next.CompareAndSwap(cur, v) {
			return
		}
	}
}
