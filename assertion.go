package fifo

import "sync/atomic"

// mutexAssertion is a lock that is never expected to be contended. The types
// in this package belong to a single owner at a time, so rather than blocking
// it panics if it is entered while held.
type mutexAssertion struct {
	held uint32
}

// acquire marks the lock held, panicking if it already is.
func (m *mutexAssertion) acquire() {
	if !atomic.CompareAndSwapUint32(&m.held, 0, 1) {
		panic(Error.New("concurrent use of a single owner value"))
	}
}

// release marks the lock free.
func (m *mutexAssertion) release() {
	atomic.StoreUint32(&m.held, 0)
}
