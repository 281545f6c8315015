// Package line implements the newline-terminated binary "line" codec that
// rides inside a single varint-framed packet. It is used by the multistream
// negotiator to exchange protocol identifiers.
package line

import (
	"errors"
	"fmt"

	"github.com/helium/libp2p-streams/pkg/frame"
)

// MaxLineLength is the largest line (excluding the trailing newline) this
// codec will encode. DecodeLine does not check decoded lines against it.
const MaxLineLength = 64 * 1024

var lineSpec = frame.Spec{frame.Varint}

// Sentinel errors surfaced by this package, named so callers can match them
// with errors.Is.
var (
	ErrMaxLine          = errors.New("line: exceeds max line length")
	ErrInvalidLine      = errors.New("line: not terminated with a newline")
	ErrInvalidLineCount = errors.New("line: invalid line count")
	ErrInvalidLines     = errors.New("line: malformed line list")
)

// EncodeLine appends a trailing '\n' to b and wraps the result in a single
// varint-length frame.
func EncodeLine(b []byte) ([]byte, error) {
	if len(b) > MaxLineLength {
		return nil, fmt.Errorf("%w: %d > %d", ErrMaxLine, len(b), MaxLineLength)
	}
	payload := make([]byte, len(b)+1)
	copy(payload, b)
	payload[len(b)] = '\n'
	return frame.Encode(lineSpec, []uint64{uint64(len(payload))}, payload)
}

// DecodeLine reads one varint-framed line from the front of b, verifies it
// ends with '\n', and returns the line without its trailing newline plus
// whatever followed it in b.
func DecodeLine(b []byte) (line []byte, tail []byte, ok bool, more int, err error) {
	res, ok, more, err := frame.Decode(lineSpec, b)
	if err != nil || !ok {
		return nil, nil, ok, more, err
	}
	if len(res.Payload) == 0 || res.Payload[len(res.Payload)-1] != '\n' {
		return nil, nil, false, 0, ErrInvalidLine
	}
	return res.Payload[:len(res.Payload)-1], res.Tail, true, 0, nil
}

// EncodeLines packs a list of lines behind a varint count, the whole thing
// wrapped in a single outer varint frame.
func EncodeLines(lines [][]byte) ([]byte, error) {
	inner := frame.EncodeVarint(nil, uint64(len(lines)))
	for _, l := range lines {
		enc, err := EncodeLine(l)
		if err != nil {
			return nil, err
		}
		inner = append(inner, enc...)
	}
	return frame.Encode(lineSpec, []uint64{uint64(len(inner))}, inner)
}

// DecodeLines unpacks the outer varint frame produced by EncodeLines into
// its constituent lines.
func DecodeLines(b []byte) (lines [][]byte, tail []byte, ok bool, more int, err error) {
	res, ok, more, err := frame.Decode(lineSpec, b)
	if err != nil || !ok {
		return nil, nil, ok, more, err
	}
	inner := res.Payload

	count, n, complete := frame.DecodeVarint(inner)
	if !complete {
		return nil, nil, false, 0, ErrInvalidLineCount
	}
	inner = inner[n:]

	lines = make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		var l []byte
		l, inner, ok, _, err = DecodeLine(inner)
		if err != nil {
			return nil, nil, false, 0, fmt.Errorf("%w: %v", ErrInvalidLines, err)
		}
		if !ok {
			return nil, nil, false, 0, ErrInvalidLines
		}
		lines = append(lines, l)
	}
	return lines, res.Tail, true, 0, nil
}
