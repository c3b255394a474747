package fifo

import (
	"context"
	"runtime"
	"sync"
	"testing"

	"github.com/zeebo/assert"
	"github.com/zeebo/pcg"
)

func isReady(g interface{ Ready() <-chan struct{} }) bool {
	select {
	case <-g.Ready():
		return true
	default:
		return false
	}
}

func TestSink(t *testing.T) {
	var src Source
	r1 := src.EnterRead()
	w1 := src.EnterWrite()
	r2 := src.EnterRead()

	assert.Equal(t, r1.Timestamp(), 0)
	assert.Equal(t, w1.Transition(), 1)
	assert.Equal(t, w1.NumPrecedingReads(), 1)
	assert.Equal(t, r2.Timestamp(), 1)

	s := new(Sink)
	ew1 := s.ExitWrite(w1)
	er2 := s.ExitRead(r2)
	assert.False(t, isReady(ew1))
	assert.False(t, isReady(er2))

	er1 := s.ExitRead(r1)
	assert.That(t, isReady(er1))
	assert.False(t, isReady(ew1))
	assert.False(t, isReady(er2))

	er1.Release()
	assert.That(t, isReady(ew1))
	assert.False(t, isReady(er2))

	ew1.Release()
	assert.That(t, isReady(er2))
	assert.Equal(t, s.State().Timestamp(), 1)

	er2.Release()
	assert.Equal(t, s.State().NumReads(), 1)
	s.Close()
}

func TestSinkReadsShareWindow(t *testing.T) {
	var src Source
	reads := []ReadToken{src.EnterRead(), src.EnterRead(), src.EnterRead()}
	w := src.EnterWrite()

	s := new(Sink)
	ew := s.ExitWrite(w)

	var exits []*ExitRead
	for _, tok := range reads {
		exits = append(exits, s.ExitRead(tok))
	}
	for _, er := range exits {
		assert.That(t, isReady(er))
	}

	// reads exit in any order, and the write waits for all of them.
	for _, i := range []int{2, 0, 1} {
		assert.False(t, isReady(ew))
		exits[i].Release()
	}
	assert.That(t, isReady(ew))
	ew.Release()
	s.Close()
}

func TestSinkWriteOrder(t *testing.T) {
	var src Source
	var toks []WriteToken
	for i := 0; i < 5; i++ {
		toks = append(toks, src.EnterWrite())
	}

	s := new(Sink)
	exits := make([]*ExitWrite, len(toks))
	for i := len(toks) - 1; i >= 0; i-- {
		exits[i] = s.ExitWrite(toks[i])
	}

	for i := range exits {
		for j := i; j < len(exits); j++ {
			assert.Equal(t, isReady(exits[j]), j == i)
		}
		exits[i].Release()
	}

	assert.Equal(t, s.State().Timestamp(), len(toks))
	s.Close()
}

func TestSinkSnapshot(t *testing.T) {
	var src Source
	old := []ReadToken{src.EnterRead(), src.EnterRead()}
	oldw := src.EnterWrite()
	src.EnterRead()
	src.EnterWrite()
	src.EnterRead()

	s := NewSink(src.State())

	r := src.EnterRead()
	w := src.EnterWrite()

	er := s.ExitRead(r)
	assert.That(t, isReady(er))

	ew := s.ExitWrite(w)
	assert.False(t, isReady(ew))

	// tokens issued before the snapshot are ready and not accounted for.
	eo := s.ExitRead(old[0])
	assert.That(t, isReady(eo))
	eow := s.ExitWrite(oldw)
	assert.That(t, isReady(eow))
	eo.Release()
	eow.Release()
	assert.False(t, isReady(ew))

	er.Release()
	assert.That(t, isReady(ew))
	ew.Release()

	assert.Equal(t, s.State(), src.State())
	s.Close()
}

func TestSinkSnapshotNeverBlocks(t *testing.T) {
	var src Source
	for i := 0; i < 100; i++ {
		if i%3 == 0 {
			src.EnterWrite()
		} else {
			src.EnterRead()
		}
	}

	s := NewSink(src.State())
	w := s.ExitWrite(src.EnterWrite())
	assert.That(t, isReady(w))
	w.Release()
	s.Close()
}

func TestSinkForfeitRead(t *testing.T) {
	var src Source
	w0 := src.EnterWrite()
	r1 := src.EnterRead()
	w1 := src.EnterWrite()
	r2 := src.EnterRead()

	s := new(Sink)
	er1 := s.ExitRead(r1)
	ew1 := s.ExitWrite(w1)
	er2 := s.ExitRead(r2)
	ew0 := s.ExitWrite(w0)

	assert.That(t, isReady(ew0))
	assert.False(t, isReady(er1))

	// r1 gives up its place before w0 is done, and w1 does not wait for it.
	er1.Release()
	assert.False(t, isReady(er1))

	reads, writes := s.Pending()
	assert.Equal(t, reads, 2)
	assert.Equal(t, writes, 1)

	ew0.Release()
	assert.That(t, isReady(ew1))
	ew1.Release()
	assert.That(t, isReady(er2))
	er2.Release()

	reads, writes = s.Pending()
	assert.Equal(t, reads, 0)
	assert.Equal(t, writes, 0)
	s.Close()
}

func TestSinkForfeitWrite(t *testing.T) {
	var src Source
	w1 := src.EnterWrite()
	w2 := src.EnterWrite()
	r := src.EnterRead()

	s := new(Sink)
	ew2 := s.ExitWrite(w2)
	er := s.ExitRead(r)
	ew2.Release()

	ew1 := s.ExitWrite(w1)
	assert.That(t, isReady(ew1))
	assert.False(t, isReady(er))

	ew1.Release()
	assert.That(t, isReady(er))
	assert.Equal(t, s.State().Timestamp(), 2)

	er.Release()
	s.Close()
}

func TestSinkReleaseTwice(t *testing.T) {
	var src Source
	s := new(Sink)

	er := s.ExitRead(src.EnterRead())
	er.Release()
	er.Release()

	ew := s.ExitWrite(src.EnterWrite())
	ew.Release()
	ew.Release()

	assert.Equal(t, s.State().Timestamp(), 1)
	assert.Equal(t, s.State().NumReads(), 0)
	s.Close()
}

func TestSinkWait(t *testing.T) {
	var src Source
	w1 := src.EnterWrite()
	w2 := src.EnterWrite()

	s := new(Sink)
	ew2 := s.ExitWrite(w2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, ew2.Wait(ctx), context.Canceled)

	ew1 := s.ExitWrite(w1)
	assert.NoError(t, ew1.Wait(ctx))
	ew1.Release()
	assert.NoError(t, ew2.Wait(context.Background()))
	ew2.Release()
	s.Close()
}

func TestSinkViolations(t *testing.T) {
	var src Source
	w1 := src.EnterWrite()
	w2 := src.EnterWrite()
	r := src.EnterRead()

	s := new(Sink)
	ew2 := s.ExitWrite(w2)

	// the same write waiting twice.
	assert.That(t, Error.Has(catch(func() { s.ExitWrite(w2) })))

	// tokens that were never issued.
	assert.That(t, Error.Has(catch(func() { s.ExitWrite(WriteToken{}) })))
	assert.That(t, Error.Has(catch(func() {
		s.ExitWrite(WriteToken{transition: 5, numPrecedingReads: -2})
	})))

	// closing with guards outstanding.
	assert.That(t, Error.Has(catch(s.Close)))

	ew1 := s.ExitWrite(w1)
	assert.That(t, isReady(ew1))

	// the same write again while the first guard is ready.
	assert.That(t, Error.Has(catch(func() { s.ExitWrite(w1) })))
	assert.False(t, isReady(ew2))

	ew1.Release()
	ew2.Release()

	// the same write after it drained.
	assert.That(t, Error.Has(catch(func() { s.ExitWrite(w1) })))

	// concurrent use.
	s.lock.acquire()
	assert.That(t, Error.Has(catch(func() { s.ExitRead(r) })))
	s.lock.release()

	er := s.ExitRead(r)
	er.Release()
	s.Close()

	assert.That(t, Error.Has(catch(func() { s.ExitRead(r) })))
}

func TestSinkMismatchedReads(t *testing.T) {
	// a read from another source at a window that already drained.
	var src Source
	w1 := src.EnterWrite()
	w2 := src.EnterWrite()

	s := new(Sink)
	s.ExitWrite(w1).Release()
	s.ExitWrite(w2).Release()

	assert.That(t, Error.Has(catch(func() { s.ExitRead(ReadToken{timestamp: 1}) })))
}

func TestSinkReadExitsTwice(t *testing.T) {
	for _, s := range []*Sink{new(Sink), NewSink(State{})} {
		var src Source
		r := src.EnterRead()
		w := src.EnterWrite()

		s.ExitRead(r).Release()
		s.ExitWrite(w).Release()

		// nothing was settled by a snapshot, so the read has drained.
		assert.That(t, Error.Has(catch(func() { s.ExitRead(r) })))
		s.Close()
	}

	// reads counted by a snapshot may still arrive after their window.
	var src Source
	r := src.EnterRead()
	s := NewSink(src.State())
	w := src.EnterWrite()

	s.ExitWrite(w).Release()
	er := s.ExitRead(r)
	assert.That(t, isReady(er))
	er.Release()
	s.Close()
}

// opLog records operations as they finish at a checkpoint and checks that
// they finish in an order consistent with the order they were issued in.
type opLog struct {
	t       testing.TB
	last    Transition
	maxRead Timestamp
	reads   int
	writes  int
}

func (l *opLog) read(tok ReadToken) {
	l.t.Helper()
	if tok.Timestamp() < l.last.After() {
		l.t.Fatalf("read at %d finished after write %d", tok.Timestamp(), l.last)
	}
	if tok.Timestamp() > l.maxRead {
		l.maxRead = tok.Timestamp()
	}
	l.reads++
}

func (l *opLog) write(tok WriteToken) {
	l.t.Helper()
	if tok.Transition() <= l.last {
		l.t.Fatalf("write %d finished after write %d", tok.Transition(), l.last)
	}
	if l.maxRead > tok.Transition().Before() {
		l.t.Fatalf("write %d finished after read at %d", tok.Transition(), l.maxRead)
	}
	l.last = tok.Transition()
	l.writes++
}

type testOp struct {
	read bool
	rt   ReadToken
	wt   WriteToken
	er   *ExitRead
	ew   *ExitWrite
}

func (o *testOp) exit(s *Sink) {
	if o.read {
		o.er = s.ExitRead(o.rt)
	} else {
		o.ew = s.ExitWrite(o.wt)
	}
}

func (o *testOp) isReady() bool {
	if o.read {
		return isReady(o.er)
	}
	return isReady(o.ew)
}

func (o *testOp) release() {
	if o.read {
		o.er.Release()
	} else {
		o.ew.Release()
	}
}

func issueOps(rng *pcg.T, src *Source, n int) []*testOp {
	ops := make([]*testOp, n)
	for i := range ops {
		if rng.Uint32n(3) == 0 {
			ops[i] = &testOp{wt: src.EnterWrite()}
		} else {
			ops[i] = &testOp{read: true, rt: src.EnterRead()}
		}
	}
	return ops
}

func TestSinkRandomized(t *testing.T) {
	for seed := uint64(0); seed < 50; seed++ {
		rng := pcg.New(seed)

		var src Source
		ops := issueOps(&rng, &src, 200)
		s := new(Sink)
		log := &opLog{t: t}

		// shuffle the order the operations arrive at the sink.
		for i := len(ops) - 1; i > 0; i-- {
			j := rng.Uint32n(uint32(i + 1))
			ops[i], ops[j] = ops[j], ops[i]
		}

		var waiting []*testOp
		forfeits := 0
		for len(ops) > 0 || len(waiting) > 0 {
			var ready []int
			for i, op := range waiting {
				if op.isReady() {
					ready = append(ready, i)
				}
			}
			for _, i := range ready {
				if !waiting[i].read && len(ready) > 1 {
					t.Fatalf("seed %d: write ready alongside %d others", seed, len(ready)-1)
				}
			}

			switch choice := rng.Uint32n(20); {
			case len(ops) > 0 && (choice < 10 || len(ready) == 0):
				op := ops[len(ops)-1]
				ops = ops[:len(ops)-1]
				op.exit(s)
				waiting = append(waiting, op)

			case len(ready) > 0 && choice < 19:
				i := ready[rng.Uint32n(uint32(len(ready)))]
				op := waiting[i]
				if op.read {
					log.read(op.rt)
				} else {
					log.write(op.wt)
				}
				op.release()
				waiting = append(waiting[:i], waiting[i+1:]...)

			case len(ready) == 0 && len(ops) == 0:
				t.Fatalf("seed %d: %d guards stalled", seed, len(waiting))

			case len(waiting) > len(ready):
				// forfeit a guard that is not ready.
				for i, op := range waiting {
					if !op.isReady() {
						op.release()
						forfeits++
						waiting = append(waiting[:i], waiting[i+1:]...)
						break
					}
				}
			}
		}

		assert.Equal(t, log.reads+log.writes+forfeits, 200)
		reads, writes := s.Pending()
		assert.Equal(t, reads+writes, 0)
		assert.Equal(t, s.State(), src.State())
		s.Close()
	}
}

// ownerLoop runs functions one at a time on a single goroutine, which owns the
// values they use.
type ownerLoop chan func()

func newOwnerLoop() (ownerLoop, func()) {
	loop := make(ownerLoop)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for fn := range loop {
			fn()
		}
	}()
	return loop, func() { close(loop); <-done }
}

func (l ownerLoop) do(fn func()) {
	ch := make(chan struct{})
	l <- func() { fn(); close(ch) }
	<-ch
}

func TestSinkOwnerLoop(t *testing.T) {
	num := 1000
	rng := pcg.New(1)

	var src Source
	ops := issueOps(&rng, &src, num)
	s := new(Sink)
	loop, stop := newOwnerLoop()

	var (
		mu      sync.Mutex
		applied []*testOp
		wg      sync.WaitGroup
	)

	// launch the operations in reverse so that most of them reach the sink
	// before their turn.
	wg.Add(num)
	for i := num - 1; i >= 0; i-- {
		op := ops[i]
		go func() {
			defer wg.Done()
			runtime.Gosched()

			loop.do(func() { op.exit(s) })
			if op.read {
				<-op.er.Ready()
			} else {
				<-op.ew.Ready()
			}

			mu.Lock()
			applied = append(applied, op)
			mu.Unlock()

			loop.do(op.release)
		}()
	}
	wg.Wait()
	stop()

	log := &opLog{t: t}
	for _, op := range applied {
		if op.read {
			log.read(op.rt)
		} else {
			log.write(op.wt)
		}
	}
	assert.Equal(t, log.reads+log.writes, num)
	assert.Equal(t, s.State(), src.State())
	s.Close()
}

func BenchmarkSink(b *testing.B) {
	b.Run("Read", func(b *testing.B) {
		var src Source
		s := new(Sink)
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			s.ExitRead(src.EnterRead()).Release()
		}
	})

	b.Run("Write", func(b *testing.B) {
		var src Source
		s := new(Sink)
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			s.ExitWrite(src.EnterWrite()).Release()
		}
	})

	b.Run("Reversed", func(b *testing.B) {
		var src Source
		s := new(Sink)
		toks := make([]WriteToken, 64)
		exits := make([]*ExitWrite, len(toks))
		b.ReportAllocs()

		for i := 0; i < b.N; i += len(toks) {
			for j := range toks {
				toks[j] = src.EnterWrite()
			}
			for j := len(toks) - 1; j >= 0; j-- {
				exits[j] = s.ExitWrite(toks[j])
			}
			for _, e := range exits {
				e.Release()
			}
		}
	})
}
