package fifo

// Source issues tokens for operations entering the first checkpoint. The
// order tokens are issued in is the order a Sink or Queue fed by them
// releases them in.
//
// A Source belongs to a single owner: its methods must not be called
// concurrently. The zero value is ready to use.
type Source struct {
	lock  mutexAssertion
	state State
}

// EnterRead returns a token for a read. It does not block.
func (s *Source) EnterRead() ReadToken {
	s.lock.acquire()
	defer s.lock.release()

	s.state.numReads++
	return ReadToken{timestamp: s.state.timestamp}
}

// EnterWrite returns a token for a write. It does not block.
func (s *Source) EnterWrite() WriteToken {
	s.lock.acquire()
	defer s.lock.release()

	tr := s.state.timestamp.Next()
	tok := WriteToken{
		transition:        tr,
		numPrecedingReads: s.state.numReads,
	}
	s.state = State{timestamp: tr.After()}
	return tok
}

// State returns the current state of the Source. A Sink or Queue created from
// it releases only tokens issued afterward.
func (s *Source) State() State {
	s.lock.acquire()
	defer s.lock.release()

	return s.state
}
