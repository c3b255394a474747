// package fifo enforces that operations leave a checkpoint in the order they
// entered an earlier one, even when they are reordered in between.
//
// Consider a storage engine that accepts requests in order, hands each of them
// to a pool of goroutines to prepare, and then applies them to a shared
// structure. Preparation finishes in any order, but applying must not: a read
// must see every write that was accepted before it and none accepted after.
// Reads, however, do not need to be ordered among themselves.
//
// A Source stamps requests on the way in:
//
//	var src fifo.Source
//
//	func Accept(req Request) {
//		if req.IsWrite() {
//			go prepare(req, src.EnterWrite())
//		} else {
//			go prepareRead(req, src.EnterRead())
//		}
//	}
//
// and a Sink, driven by the goroutine that owns it, lets them out in the same
// order. Think of a clinic: the token is an appointment, ExitRead and
// ExitWrite are the waiting room, the guard becoming ready is the doctor
// calling you in and Release is leaving the office, which lets the next
// patient in:
//
//	exit := sink.ExitWrite(tok)
//	<-exit.Ready()
//	apply(req)
//	exit.Release()
//
// Releasing a guard before it is ready forfeits its place in line. The
// metaphor breaks down if a patient never shows up at all: every later
// appointment is delayed forever. Every token issued by a Source must reach
// the Sink, even if only to be released right away.
//
// A Sink created from the State of a Source skips every token issued before
// the State was taken. A Queue combines the ordering of a Sink with storage
// for values, so that a single consumer can pop values in order instead of
// managing guards.
//
// Sources and Sinks each belong to a single owner and must not be used
// concurrently: they assert this rather than lock. Only the channels they
// hand out are safe to share. A Queue locks, so producers may push to it
// from any goroutine while its consumer waits.
package fifo
