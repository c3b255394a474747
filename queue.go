package fifo

import (
	"context"
	"sync"

	"github.com/google/btree"
)

type queuedRead[T any] struct {
	ts    Timestamp
	seq   uint64
	stale bool
	value T
}

type queuedWrite[T any] struct {
	tr    Transition
	npr   int64
	stale bool
	value T
}

// Queue delivers values pushed with tokens from a Source in the order the
// tokens were issued. Producers push values in any order; the consumer pops
// them one at a time and acknowledges each with FinishRead or FinishWrite once
// it is done with it, which lets the values after it through.
//
// Like a Sink, a Queue stalls at a token that is never pushed, and stalls at a
// popped value that is never finished.
//
// A Queue is safe for concurrent use: producers may push from their own
// goroutines while a consumer waits in Next. The zero value is ready to use
// and expects the first token from a new Source.
type Queue[T any] struct {
	lock   sync.Mutex
	window window
	reads  *btree.BTreeG[*queuedRead[T]]
	writes *btree.BTreeG[*queuedWrite[T]]
	seq    uint64
	avail  availability

	// popped reads and write that have not been finished yet.
	poppedReads map[poppedRead]int64
	poppedWrite Transition

	readGauge, writeGauge *Gauge
}

// NewQueue returns a Queue that expects the tokens issued after the Source
// was in the given state. Values pushed with earlier tokens are delivered
// immediately.
func NewQueue[T any](st State) *Queue[T] {
	q := new(Queue[T])
	q.window = newWindow(st)
	q.init()
	return q
}

func (q *Queue[T]) init() {
	if q.reads == nil {
		q.reads = btree.NewG(btreeDegree, func(a, b *queuedRead[T]) bool {
			if a.ts != b.ts {
				return a.ts < b.ts
			}
			return a.seq < b.seq
		})
		q.writes = btree.NewG(btreeDegree, func(a, b *queuedWrite[T]) bool {
			return a.tr < b.tr
		})
		q.poppedReads = make(map[poppedRead]int64)
	}
}

// poppedRead keys the reads that were popped and not finished. Whether a read
// is stale is decided when it is pushed, and finishing it must agree.
type poppedRead struct {
	ts    Timestamp
	stale bool
}

// SetGauges sets gauges that count the reads and writes pushed and not yet
// popped. Either may be nil.
//
// The gauges must not be changed while values are queued.
func (q *Queue[T]) SetGauges(reads, writes *Gauge) {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.init()

	if q.reads.Len() != 0 || q.writes.Len() != 0 {
		panic(Error.New("queue: change gauges while %d values are queued", q.reads.Len()+q.writes.Len()))
	}
	q.readGauge, q.writeGauge = reads, writes
}

// PushRead queues a value produced by a read. It does not block.
func (q *Queue[T]) PushRead(tok ReadToken, v T) {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.init()

	q.seq++
	q.reads.ReplaceOrInsert(&queuedRead[T]{
		ts:    tok.timestamp,
		seq:   q.seq,
		stale: q.window.staleRead(tok.timestamp),
		value: v,
	})
	q.readGauge.Add(1)
	q.update()
}

// PushWrite queues a value produced by a write. It does not block.
func (q *Queue[T]) PushWrite(tok WriteToken, v T) {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.init()

	checkWriteToken(tok)

	item := &queuedWrite[T]{
		tr:    tok.transition,
		npr:   tok.numPrecedingReads,
		stale: q.window.staleWrite(tok.transition),
		value: v,
	}
	if q.writes.Has(item) || q.poppedWrite == tok.transition {
		panic(Error.New("queue: write %d pushed twice", tok.transition))
	}
	q.writes.ReplaceOrInsert(item)
	q.writeGauge.Add(1)
	q.update()
}

// FinishRead acknowledges that the consumer is done with a popped read.
func (q *Queue[T]) FinishRead(tok ReadToken) {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.init()

	key := poppedRead{ts: tok.timestamp}
	if q.poppedReads[key] == 0 {
		key.stale = true
		if q.poppedReads[key] == 0 {
			panic(Error.New("queue: finish read at %d that was not popped", tok.timestamp))
		}
	}
	if q.poppedReads[key]--; q.poppedReads[key] == 0 {
		delete(q.poppedReads, key)
	}

	// a read from before the snapshot may finish after its window advanced,
	// in which case finishRead skips it.
	if !key.stale {
		q.window.finishRead(tok.timestamp)
	}
	q.update()
}

// FinishWrite acknowledges that the consumer is done with a popped write.
func (q *Queue[T]) FinishWrite(tok WriteToken) {
	q.lock.Lock()
	defer q.lock.Unlock()

	checkWriteToken(tok)

	if q.window.staleWrite(tok.transition) {
		return
	}
	if q.poppedWrite != tok.transition {
		panic(Error.New("queue: finish write %d that was not popped", tok.transition))
	}
	q.window.finishWrite(tok.transition, tok.numPrecedingReads)
	q.poppedWrite = 0
	q.update()
}

// Available returns a channel that is closed while Pop would return a value.
// Once the value is popped, a new channel must be obtained.
func (q *Queue[T]) Available() <-chan struct{} {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.avail.watch()
}

// Pop returns the next value in order. It returns false if the next value
// has not been pushed yet or must wait for earlier values to be finished.
func (q *Queue[T]) Pop() (v T, ok bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.init()
	defer q.update()

	if r, ok := q.nextRead(); ok {
		q.reads.DeleteMin()
		q.poppedReads[poppedRead{ts: r.ts, stale: r.stale}]++
		q.readGauge.Add(-1)
		return r.value, true
	}

	if w, ok := q.nextWrite(); ok {
		q.writes.DeleteMin()
		if !w.stale {
			q.poppedWrite = w.tr
		}
		q.writeGauge.Add(-1)
		return w.value, true
	}

	return v, false
}

// Next returns the next value in order, waiting for it if necessary. It
// returns the context's error if the context is done first.
func (q *Queue[T]) Next(ctx context.Context) (v T, err error) {
	for {
		if v, ok := q.Pop(); ok {
			return v, nil
		}

		select {
		case <-q.Available():
		case <-ctx.Done():
			return v, ctx.Err()
		}
	}
}

// Len returns the number of values pushed and not yet popped.
func (q *Queue[T]) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.init()

	return q.reads.Len() + q.writes.Len()
}

func (q *Queue[T]) nextRead() (*queuedRead[T], bool) {
	r, ok := q.reads.Min()
	return r, ok && (r.stale || q.window.readReady(r.ts))
}

func (q *Queue[T]) nextWrite() (*queuedWrite[T], bool) {
	w, ok := q.writes.Min()
	if !ok {
		return nil, false
	}
	if w.stale {
		return w, true
	}
	return w, q.poppedWrite == 0 && q.window.writeReady(w.tr, w.npr)
}

// update recomputes if a value is available.
func (q *Queue[T]) update() {
	_, rok := q.nextRead()
	_, wok := q.nextWrite()
	q.avail.update(rok || wok)
}

// availability is a level-triggered signal: its channel is closed while it is
// set and replaced when it is cleared.
type availability struct {
	ch  chan struct{}
	set bool
}

func (a *availability) watch() chan struct{} {
	if a.ch == nil {
		a.ch = make(chan struct{})
	}
	return a.ch
}

func (a *availability) update(set bool) {
	ch := a.watch()
	switch {
	case set && !a.set:
		close(ch)
	case !set && a.set:
		a.ch = make(chan struct{})
	}
	a.set = set
}
