package fifo

import "math"

// Timestamp identifies a state of the data flowing between two checkpoints.
// Reads are stamped with the Timestamp they observe: every write whose
// Transition ends at or before it.
type Timestamp uint64

// Next returns the Transition that starts from t.
func (t Timestamp) Next() Transition {
	if t == math.MaxUint64 {
		panic(Error.New("timestamp overflow"))
	}
	return Transition(t + 1)
}

// Transition identifies a write: the move from Before to After. The zero
// Transition does not describe a valid move.
type Transition uint64

// Before returns the Timestamp the Transition starts from.
func (tr Transition) Before() Timestamp { return Timestamp(tr - 1) }

// After returns the Timestamp the Transition ends at.
func (tr Transition) After() Timestamp { return Timestamp(tr) }

// Valid reports if the Transition describes a move between two Timestamps.
func (tr Transition) Valid() bool { return tr != 0 }
