package fifo

import (
	"context"
	"weak"
)

// stage is the lifecycle of a guard. A guard is queued until the Sink
// releases it, and then consumed when the holder releases it. A guard released
// while still queued is forfeited instead.
type stage uint8

const (
	stageQueued stage = iota
	stageReady
	stageConsumed
	stageForfeited
)

// guard holds the parts common to ExitRead and ExitWrite.
type guard struct {
	// parent is the zero weak pointer once the guard is released.
	parent weak.Pointer[Sink]
	stage  stage
	// stale guards were settled by the Sink's snapshot and are not accounted
	// for when they are released.
	stale bool
	sig   signal
}

func newGuard(s *Sink) guard {
	return guard{parent: weak.Make(s), sig: newSignal()}
}

// Ready returns a channel that is closed when every operation that must exit
// before the guard's token has exited. It is safe to use concurrently.
func (g *guard) Ready() <-chan struct{} { return g.sig.ch }

// Wait blocks until the guard is ready or the context is done. A guard whose
// wait was abandoned must still be released to give up its place in line.
func (g *guard) Wait(ctx context.Context) error {
	select {
	case <-g.sig.ch:
		return nil
	default:
	}

	select {
	case <-g.sig.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ready is called by the Sink to release the guard.
func (g *guard) ready() {
	g.stage = stageReady
	g.sig.pulse()
}

// detach drops the guard's reference to its Sink and returns it, or returns
// nil if the guard was already released.
func (g *guard) detach() *Sink {
	if g.stage == stageConsumed || g.stage == stageForfeited {
		return nil
	}
	s := g.parent.Value()
	if s == nil {
		panic(Error.New("guard released after its sink was collected"))
	}
	g.parent = weak.Pointer[Sink]{}
	return s
}

// ExitRead is a read waiting to exit a Sink. It becomes ready once every
// write the read observed has exited. Release must be called exactly once the
// read is done, or to give up waiting.
type ExitRead struct {
	guard
	token ReadToken
	entry *readEntry
}

// Token returns the token the ExitRead was created with.
func (e *ExitRead) Token() ReadToken { return e.token }

// Release finishes the read if it was ready, letting later writes proceed.
// Otherwise it forfeits the read's place in line. Calling Release more than
// once has no effect. It must be called by the Sink's owner.
func (e *ExitRead) Release() {
	if s := e.detach(); s != nil {
		s.releaseRead(e)
	}
}

// ExitWrite is a write waiting to exit a Sink. It becomes ready once every
// earlier write and every read that preceded it has exited. Release must be
// called exactly once the write is done, or to give up waiting.
type ExitWrite struct {
	guard
	token WriteToken
	entry *writeEntry
}

// Token returns the token the ExitWrite was created with.
func (e *ExitWrite) Token() WriteToken { return e.token }

// Release finishes the write if it was ready, letting later operations
// proceed. Otherwise it forfeits the write's place in line. Calling Release
// more than once has no effect. It must be called by the Sink's owner.
func (e *ExitWrite) Release() {
	if s := e.detach(); s != nil {
		s.releaseWrite(e)
	}
}
