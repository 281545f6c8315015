package line

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineRoundTrip(t *testing.T) {
	for _, s := range [][]byte{
		[]byte("/multistream/1.0.0"),
		[]byte("ls"),
		[]byte("na"),
		[]byte(""),
		bytes.Repeat([]byte("a"), MaxLineLength),
	} {
		enc, err := EncodeLine(s)
		require.NoError(t, err)

		got, tail, ok, more, err := DecodeLine(enc)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 0, more)
		assert.Equal(t, s, got)
		assert.Empty(t, tail)
	}
}

func TestLineTooLong(t *testing.T) {
	_, err := EncodeLine(bytes.Repeat([]byte("x"), MaxLineLength+1))
	require.ErrorIs(t, err, ErrMaxLine)
}

func TestDecodeLineNotNewlineTerminated(t *testing.T) {
	// Hand-craft a varint frame whose payload does not end in '\n'.
	enc, err := EncodeLine([]byte("ok"))
	require.NoError(t, err)
	enc[len(enc)-1] = 'x' // clobber the trailing newline
	_, _, _, _, err = DecodeLine(enc)
	require.ErrorIs(t, err, ErrInvalidLine)
}

func TestLinesRoundTrip(t *testing.T) {
	want := [][]byte{[]byte("/foo"), []byte("/bar"), []byte("/baz/qux")}
	enc, err := EncodeLines(want)
	require.NoError(t, err)

	got, tail, ok, more, err := DecodeLines(enc)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, more)
	assert.Empty(t, tail)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i], got[i])
	}
}

func TestLinesEmptyList(t *testing.T) {
	enc, err := EncodeLines(nil)
	require.NoError(t, err)
	got, _, ok, _, err := DecodeLines(enc)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, got)
}

func TestDecodeLineMore(t *testing.T) {
	enc, err := EncodeLine([]byte("/multistream/1.0.0"))
	require.NoError(t, err)
	_, _, ok, more, err := DecodeLine(enc[:len(enc)-2])
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, more, 0)
}
