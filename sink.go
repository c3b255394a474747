package fifo

import "github.com/google/btree"

// btreeDegree is the degree of the trees holding queued guards and values.
const btreeDegree = 8

// readEntry is a queued read. Many reads may share a timestamp, so entries are
// ordered by a sequence number after it.
type readEntry struct {
	ts    Timestamp
	seq   uint64
	guard *ExitRead // nil once forfeited
}

func readEntryLess(a, b *readEntry) bool {
	if a.ts != b.ts {
		return a.ts < b.ts
	}
	return a.seq < b.seq
}

// writeEntry is a queued write. No two writes share a transition.
type writeEntry struct {
	tr    Transition
	npr   int64
	guard *ExitWrite // nil once forfeited
}

func writeEntryLess(a, b *writeEntry) bool { return a.tr < b.tr }

// Sink releases operations carrying tokens from a Source in the order the
// tokens were issued. Each operation creates a guard with ExitRead or
// ExitWrite, waits for it to become ready, applies its effect and then
// releases the guard, which lets the operations after it proceed.
//
// Every token issued by the Source must eventually get a guard, even one that
// is released right away. A token that never arrives holds up every token
// issued after it forever.
//
// A Sink belongs to a single owner: its methods and the Release methods of its
// guards must not be called concurrently. Ready channels and Wait may be used
// from any goroutine. The zero value is ready to use and expects the first
// token from a new Source.
type Sink struct {
	lock    mutexAssertion
	window  window
	readers *btree.BTreeG[*readEntry]
	writers *btree.BTreeG[*writeEntry]
	seq     uint64
	guards  int
	closed  bool

	// readyWrite is the write whose guard is ready and not yet released.
	readyWrite Transition
}

// NewSink returns a Sink that expects the tokens issued after the Source was
// in the given state. Tokens issued before it are released immediately.
func NewSink(st State) *Sink {
	s := new(Sink)
	s.window = newWindow(st)
	s.init()
	return s
}

func (s *Sink) init() {
	if s.readers == nil {
		s.readers = btree.NewG(btreeDegree, readEntryLess)
		s.writers = btree.NewG(btreeDegree, writeEntryLess)
	}
}

// ExitRead returns a guard for a read that becomes ready once every write
// the read observed has exited. It does not block.
func (s *Sink) ExitRead(tok ReadToken) *ExitRead {
	s.lock.acquire()
	defer s.lock.release()
	s.checkOpen()
	s.init()

	stale := s.window.staleRead(tok.timestamp)
	e := &ExitRead{guard: newGuard(s), token: tok}
	s.guards++

	if stale {
		e.stale = true
		e.ready()
		return e
	}

	s.seq++
	e.entry = &readEntry{ts: tok.timestamp, seq: s.seq, guard: e}
	s.readers.ReplaceOrInsert(e.entry)
	s.pump()

	return e
}

// ExitWrite returns a guard for a write that becomes ready once every
// earlier write and every read that preceded it have exited. It does not
// block.
func (s *Sink) ExitWrite(tok WriteToken) *ExitWrite {
	s.lock.acquire()
	defer s.lock.release()
	s.checkOpen()
	s.init()

	checkWriteToken(tok)

	e := &ExitWrite{guard: newGuard(s), token: tok}

	if s.window.staleWrite(tok.transition) {
		s.guards++
		e.stale = true
		e.ready()
		return e
	}

	entry := &writeEntry{tr: tok.transition, npr: tok.numPrecedingReads, guard: e}
	if s.writers.Has(entry) || s.readyWrite == tok.transition {
		panic(Error.New("write %d exits twice", tok.transition))
	}
	s.guards++
	e.entry = entry
	s.writers.ReplaceOrInsert(entry)
	s.pump()

	return e
}

// checkWriteToken panics if the token could not have been issued by a Source.
func checkWriteToken(tok WriteToken) {
	if tok.IsZero() {
		panic(Error.New("zero write token"))
	}
	if tok.numPrecedingReads < 0 {
		panic(Error.New("write %d has invalid preceding read count %d",
			tok.transition, tok.numPrecedingReads))
	}
}

func (s *Sink) releaseRead(e *ExitRead) {
	s.lock.acquire()
	defer s.lock.release()

	switch e.stage {
	case stageReady:
		e.stage = stageConsumed
		if !e.stale {
			s.window.finishRead(e.token.timestamp)
		}
	case stageQueued:
		// the entry stays queued without a guard so that the pump accounts
		// for it when its turn comes.
		e.stage = stageForfeited
		e.entry.guard = nil
	}
	e.entry = nil
	s.guards--
	s.pump()
}

func (s *Sink) releaseWrite(e *ExitWrite) {
	s.lock.acquire()
	defer s.lock.release()

	switch e.stage {
	case stageReady:
		e.stage = stageConsumed
		if !e.stale {
			s.window.finishWrite(e.token.transition, e.token.numPrecedingReads)
			s.readyWrite = 0
		}
	case stageQueued:
		e.stage = stageForfeited
		e.entry.guard = nil
	}
	e.entry = nil
	s.guards--
	s.pump()
}

// pump releases every queued guard whose turn has come. Releasing a write
// advances nothing until its guard is released, but a forfeited entry is
// accounted for on the spot, which may let more guards through.
func (s *Sink) pump() {
	for {
		if r, ok := s.readers.Min(); ok && s.window.readReady(r.ts) {
			s.readers.DeleteMin()
			if r.guard != nil {
				r.guard.entry = nil
				r.guard.ready()
			} else {
				s.window.finishRead(r.ts)
			}
			continue
		}

		if w, ok := s.writers.Min(); ok && s.window.writeReady(w.tr, w.npr) {
			s.writers.DeleteMin()
			if w.guard != nil {
				w.guard.entry = nil
				w.guard.ready()
				s.readyWrite = w.tr
			} else {
				s.window.finishWrite(w.tr, w.npr)
			}
			continue
		}

		return
	}
}

// State returns the state of the Sink: the timestamp of the last write to
// exit and the number of reads that exited since.
func (s *Sink) State() State {
	s.lock.acquire()
	defer s.lock.release()

	return s.window.state
}

// Pending returns the number of reads and writes queued and not yet ready.
// Forfeited guards whose turn has not come are included.
func (s *Sink) Pending() (reads, writes int) {
	s.lock.acquire()
	defer s.lock.release()
	s.init()

	return s.readers.Len(), s.writers.Len()
}

// Close checks that every guard created by the Sink has been released. It
// panics if any are outstanding. The Sink must not be used after Close.
func (s *Sink) Close() {
	s.lock.acquire()
	defer s.lock.release()
	s.checkOpen()

	if s.guards != 0 {
		panic(Error.New("sink closed with %d outstanding guards", s.guards))
	}
	s.closed = true
}

func (s *Sink) checkOpen() {
	if s.closed {
		panic(Error.New("use of closed sink"))
	}
}
