package fifo

// ReadToken marks the position of a read in the order of a Source. Reads may
// exit in any order relative to each other, but never before the writes they
// observed or after the writes that follow them.
type ReadToken struct {
	timestamp Timestamp
}

// Timestamp returns the timestamp of the last write the read observed.
func (t ReadToken) Timestamp() Timestamp { return t.timestamp }

// WriteToken marks the position of a write in the order of a Source. Writes
// exit in exactly the order they were issued, each after the reads that
// preceded it. The zero WriteToken was not issued by a Source and must not
// exit a Sink or Queue.
type WriteToken struct {
	transition        Transition
	numPrecedingReads int64
}

// Transition returns the transition performed by the write.
func (t WriteToken) Transition() Transition { return t.transition }

// NumPrecedingReads returns the number of reads issued between the previous
// write and this one. It returns -1 for the zero WriteToken.
func (t WriteToken) NumPrecedingReads() int64 {
	if t.IsZero() {
		return -1
	}
	return t.numPrecedingReads
}

// IsZero reports if the token was not issued by a Source.
func (t WriteToken) IsZero() bool { return !t.transition.Valid() }
