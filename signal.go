package fifo

// signal is a one-shot notification. It is pulsed at most once by its owner
// and observed through a channel by anyone.
type signal struct {
	ch     chan struct{}
	pulsed bool
}

func newSignal() signal {
	return signal{ch: make(chan struct{})}
}

// pulse closes the channel. It must only be called by the owner.
func (s *signal) pulse() {
	if !s.pulsed {
		s.pulsed = true
		close(s.ch)
	}
}

// isPulsed reports if pulse has been called. It must only be called by the
// owner: other goroutines observe the channel instead.
func (s *signal) isPulsed() bool { return s.pulsed }
