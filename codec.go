package fifo

import "google.golang.org/protobuf/encoding/protowire"

// Tokens and states are encoded as protobuf messages with two fields, so they
// can be embedded in the messages that carry operations between checkpoints:
//
//	message Pair {
//		uint64 timestamp = 1;
//		sint64 count     = 2;
//	}
//
// The count is zero for read tokens, the number of preceding reads for write
// tokens (-1 for the zero token) and the number of reads for states.
const (
	fieldTimestamp protowire.Number = 1
	fieldCount     protowire.Number = 2
)

func appendPair(b []byte, ts uint64, count int64) []byte {
	b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, ts)
	b = protowire.AppendTag(b, fieldCount, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(count))
	return b
}

func consumePair(b []byte) (ts uint64, count int64, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, 0, CodecError.Wrap(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldTimestamp && typ == protowire.VarintType:
			ts, n = protowire.ConsumeVarint(b)
		case num == fieldCount && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			count = protowire.DecodeZigZag(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return 0, 0, CodecError.Wrap(protowire.ParseError(n))
		}
		b = b[n:]
	}
	return ts, count, nil
}

// AppendBinary appends the encoding of the token to b.
func (t ReadToken) AppendBinary(b []byte) ([]byte, error) {
	return appendPair(b, uint64(t.timestamp), 0), nil
}

// MarshalBinary returns the encoding of the token.
func (t ReadToken) MarshalBinary() ([]byte, error) {
	return t.AppendBinary(nil)
}

// UnmarshalBinary decodes a token encoded by MarshalBinary.
func (t *ReadToken) UnmarshalBinary(data []byte) error {
	ts, count, err := consumePair(data)
	if err != nil {
		return err
	}
	if count != 0 {
		return CodecError.New("read token with count %d", count)
	}
	*t = ReadToken{timestamp: Timestamp(ts)}
	return nil
}

// AppendBinary appends the encoding of the token to b.
func (t WriteToken) AppendBinary(b []byte) ([]byte, error) {
	return appendPair(b, uint64(t.transition), t.NumPrecedingReads()), nil
}

// MarshalBinary returns the encoding of the token.
func (t WriteToken) MarshalBinary() ([]byte, error) {
	return t.AppendBinary(nil)
}

// UnmarshalBinary decodes a token encoded by MarshalBinary.
func (t *WriteToken) UnmarshalBinary(data []byte) error {
	ts, count, err := consumePair(data)
	if err != nil {
		return err
	}
	switch tr := Transition(ts); {
	case !tr.Valid() && count == -1:
		*t = WriteToken{}
	case !tr.Valid():
		return CodecError.New("write token with invalid transition")
	case count < 0:
		return CodecError.New("write token %d with preceding read count %d", tr, count)
	default:
		*t = WriteToken{transition: tr, numPrecedingReads: count}
	}
	return nil
}

// AppendBinary appends the encoding of the state to b.
func (s State) AppendBinary(b []byte) ([]byte, error) {
	return appendPair(b, uint64(s.timestamp), s.numReads), nil
}

// MarshalBinary returns the encoding of the state.
func (s State) MarshalBinary() ([]byte, error) {
	return s.AppendBinary(nil)
}

// UnmarshalBinary decodes a state encoded by MarshalBinary.
func (s *State) UnmarshalBinary(data []byte) error {
	ts, count, err := consumePair(data)
	if err != nil {
		return err
	}
	if count < 0 {
		return CodecError.New("state with read count %d", count)
	}
	*s = State{timestamp: Timestamp(ts), numReads: count}
	return nil
}
