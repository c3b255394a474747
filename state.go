package fifo

// State is the position of a Source in its sequence of tokens: the timestamp
// of the last write and the number of reads issued since. Passing the State of
// a Source to NewSink or NewQueue makes them skip every token issued so far.
type State struct {
	timestamp Timestamp
	numReads  int64
}

// Timestamp returns the timestamp of the most recent write.
func (s State) Timestamp() Timestamp { return s.timestamp }

// NumReads returns the number of reads issued since the most recent write.
func (s State) NumReads() int64 { return s.numReads }

// window is the state of a checkpoint that releases tokens: how far writes
// have drained and how many reads of the current timestamp have exited. It is
// shared by Sink and Queue.
type window struct {
	state State
	// floor is the timestamp the window started from. Tokens from before it
	// were settled by the snapshot, as were floorReads reads at it.
	floor      Timestamp
	floorReads int64
}

func newWindow(st State) window {
	return window{state: st, floor: st.timestamp, floorReads: st.numReads}
}

// staleRead reports if reads at ts were settled before the window started.
// It panics if reads at ts have already fully drained, which only happens for
// a token that exits twice or that came from a different Source.
func (w *window) staleRead(ts Timestamp) bool {
	if ts >= w.state.timestamp {
		return false
	}
	if ts < w.floor || (ts == w.floor && w.floorReads > 0) {
		return true
	}
	panic(Error.New("read at %d exits after its window drained (at %d)", ts, w.state.timestamp))
}

// staleWrite is like staleRead for writes.
func (w *window) staleWrite(tr Transition) bool {
	before := tr.Before()
	if before >= w.state.timestamp {
		return false
	}
	if before < w.floor {
		return true
	}
	panic(Error.New("write %d exits after it already drained (at %d)", tr, w.state.timestamp))
}

// readReady reports if a read at ts may be released.
func (w *window) readReady(ts Timestamp) bool {
	return ts <= w.state.timestamp
}

// writeReady reports if a write may be released: every earlier write has
// finished and enough reads of the current timestamp have finished.
func (w *window) writeReady(tr Transition, numPrecedingReads int64) bool {
	if tr.Before() != w.state.timestamp || w.state.numReads < numPrecedingReads {
		return false
	}
	// reads at the floor may have been counted by the snapshot, so only
	// later windows can be checked exactly.
	if w.state.numReads > numPrecedingReads && (w.state.timestamp != w.floor || w.floorReads == 0) {
		panic(Error.New("write %d expects %d reads but %d exited", tr, numPrecedingReads, w.state.numReads))
	}
	return true
}

// finishRead accounts for a released read having exited.
func (w *window) finishRead(ts Timestamp) {
	if w.staleRead(ts) {
		return
	}
	if ts != w.state.timestamp {
		panic(Error.New("read at %d finished before its window (at %d)", ts, w.state.timestamp))
	}
	w.state.numReads++
}

// finishWrite accounts for a released write having exited, advancing the
// window past it.
func (w *window) finishWrite(tr Transition, numPrecedingReads int64) {
	if w.staleWrite(tr) {
		return
	}
	if !w.writeReady(tr, numPrecedingReads) {
		panic(Error.New("write %d finished before it was ready (at %d)", tr, w.state.timestamp))
	}
	w.state = State{timestamp: tr.After()}
}
