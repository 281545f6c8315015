// Package frame implements the length-prefixed packet codec used to frame a
// bidirectional byte stream into discrete packets. A Spec is an ordered list
// of length-field descriptors; the last descriptor in a Spec always carries
// the payload length, and any preceding descriptors are opaque metadata that
// is handed back to the caller alongside the payload.
package frame

import (
	"encoding/binary"
	"fmt"
)

// Kind identifies the width and encoding of one length field in a Spec.
type Kind int

const (
	// U8 is a one-byte big-endian unsigned length field.
	U8 Kind = iota
	// U16 is a two-byte big-endian unsigned length field.
	U16
	// U32 is a four-byte big-endian unsigned length field.
	U32
	// U64 is an eight-byte big-endian unsigned length field.
	U64
	// Varint is an LEB128-style unsigned varint length field.
	Varint
)

func (k Kind) String() string {
	switch k {
	case U8:
		return "u8"
	case U16:
		return "u16"
	case U32:
		return "u32"
	case U64:
		return "u64"
	case Varint:
		return "varint"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// maxFor returns the largest value that fits in a fixed-width field. Varint
// has no fixed ceiling here (it is bounded only by uint64).
func (k Kind) maxFor() uint64 {
	switch k {
	case U8:
		return 1<<8 - 1
	case U16:
		return 1<<16 - 1
	case U32:
		return 1<<32 - 1
	case U64:
		return ^uint64(0)
	default:
		return ^uint64(0)
	}
}

// Spec is an ordered sequence of length-field descriptors that make up a
// frame header. A nil or empty Spec means "no framing header": the whole
// buffer handed to Decode is returned as a single packet.
type Spec []Kind

// Equal reports whether two specs describe the same header layout.
func (s Spec) Equal(o Spec) bool {
	if len(s) != len(o) {
		return false
	}
	for i, k := range s {
		if o[i] != k {
			return false
		}
	}
	return true
}

func (s Spec) String() string {
	if len(s) == 0 {
		return "none"
	}
	out := ""
	for i, k := range s {
		if i > 0 {
			out += "+"
		}
		out += k.String()
	}
	return out
}

// ErrLengthOverflow is returned by Encode when a supplied length value does
// not fit the width of its descriptor.
type ErrLengthOverflow struct {
	Index int
	Kind  Kind
	Value uint64
}

func (e *ErrLengthOverflow) Error() string {
	return fmt.Sprintf("frame: length %d does not fit field %d (%s)", e.Value, e.Index, e.Kind)
}

// Encode concatenates the encoded header fields (in spec order) with the
// payload. lengths must have the same cardinality as spec; the header
// fields are written verbatim, the caller is responsible for making the
// last length value consistent with the payload it intends to pair it with.
func Encode(spec Spec, lengths []uint64, payload []byte) ([]byte, error) {
	if len(spec) == 0 {
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	}
	if len(lengths) != len(spec) {
		return nil, fmt.Errorf("frame: got %d length values for a %d-field spec", len(lengths), len(spec))
	}

	headerLen := 0
	for i, k := range spec {
		if k != Varint && lengths[i] > k.maxFor() {
			return nil, &ErrLengthOverflow{Index: i, Kind: k, Value: lengths[i]}
		}
		headerLen += widthOf(k, lengths[i])
	}

	out := make([]byte, 0, headerLen+len(payload))
	for i, k := range spec {
		out = appendField(out, k, lengths[i])
	}
	out = append(out, payload...)
	return out, nil
}

// Result is a successfully decoded frame.
type Result struct {
	// Header holds every decoded length field in spec order, including the
	// final payload-length field.
	Header []uint64
	// Payload is the frame's payload, sliced from the decoder's input.
	Payload []byte
	// Tail is whatever input followed the decoded frame.
	Tail []byte
}

// Decode attempts to parse one frame from the front of input. When input
// does not yet contain a complete frame, ok is false and more is a lower
// bound (possibly approximate) on the number of additional bytes needed;
// the caller should accumulate more bytes and retry. err is always nil: an
// unterminated varint is reported as "more", and an over-long varint is
// accepted with the value DecodeVarint returns for it.
func Decode(spec Spec, input []byte) (res *Result, ok bool, more int, err error) {
	if len(spec) == 0 {
		out := make([]byte, len(input))
		copy(out, input)
		return &Result{Header: nil, Payload: out, Tail: nil}, true, 0, nil
	}

	header := make([]uint64, len(spec))
	off := 0
	for i, k := range spec {
		v, n, complete := readField(k, input[off:])
		if !complete {
			// Conservative hint: at least one more byte, or the remaining
			// fixed width if known.
			need := 1
			if k != Varint {
				need = widthOf(k, 0) - n
				if need < 1 {
					need = 1
				}
			}
			return nil, false, need, nil
		}
		header[i] = v
		off += n
	}

	payloadLen := header[len(header)-1]
	need := int(payloadLen) - (len(input) - off)
	if need > 0 {
		return nil, false, need, nil
	}

	payload := input[off : off+int(payloadLen)]
	tail := input[off+int(payloadLen):]
	return &Result{Header: header, Payload: payload, Tail: tail}, true, 0, nil
}

func widthOf(k Kind, v uint64) int {
	switch k {
	case U8:
		return 1
	case U16:
		return 2
	case U32:
		return 4
	case U64:
		return 8
	case Varint:
		return varintLen(v)
	default:
		return 0
	}
}

func appendField(out []byte, k Kind, v uint64) []byte {
	switch k {
	case U8:
		return append(out, byte(v))
	case U16:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(v))
		return append(out, b[:]...)
	case U32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v))
		return append(out, b[:]...)
	case U64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		return append(out, b[:]...)
	case Varint:
		return EncodeVarint(out, v)
	default:
		return out
	}
}

// readField reads one length field of kind k from the front of buf. complete
// is false if buf does not yet hold the full field.
func readField(k Kind, buf []byte) (v uint64, n int, complete bool) {
	switch k {
	case U8:
		if len(buf) < 1 {
			return 0, len(buf), false
		}
		return uint64(buf[0]), 1, true
	case U16:
		if len(buf) < 2 {
			return 0, len(buf), false
		}
		return uint64(binary.BigEndian.Uint16(buf)), 2, true
	case U32:
		if len(buf) < 4 {
			return 0, len(buf), false
		}
		return uint64(binary.BigEndian.Uint32(buf)), 4, true
	case U64:
		if len(buf) < 8 {
			return 0, len(buf), false
		}
		return binary.BigEndian.Uint64(buf), 8, true
	case Varint:
		return DecodeVarint(buf)
	default:
		return 0, 0, true
	}
}
