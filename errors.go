package fifo

import "github.com/zeebo/errs"

// Error is the class of contract violations. Violations are programming
// errors in the caller, so they are raised with panic rather than returned.
var Error = errs.Class("fifo")

// CodecError is the class of errors returned when decoding tokens or states.
var CodecError = errs.Class("fifo codec")
