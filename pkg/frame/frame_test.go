package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 1 << 20, 1 << 40, ^uint64(0)}
	for _, v := range cases {
		enc := EncodeVarint(nil, v)
		got, n, complete := DecodeVarint(enc)
		require.True(t, complete)
		assert.Equal(t, len(enc), n)
		assert.Equal(t, v, got)
	}
}

func TestDecodeVarintMore(t *testing.T) {
	enc := EncodeVarint(nil, 1<<20)
	_, _, complete := DecodeVarint(enc[:len(enc)-1])
	assert.False(t, complete)
}

func TestFrameRoundTrip(t *testing.T) {
	specs := []Spec{
		{U8},
		{U16},
		{U32},
		{U64},
		{Varint},
		{U8, U16},
		{Varint, Varint},
		{},
	}
	payload := []byte("hello, frame")

	for _, spec := range specs {
		spec := spec
		t.Run(spec.String(), func(t *testing.T) {
			lengths := make([]uint64, len(spec))
			for i := range lengths {
				lengths[i] = 7
			}
			if len(spec) > 0 {
				lengths[len(lengths)-1] = uint64(len(payload))
			}

			encoded, err := Encode(spec, lengths, payload)
			require.NoError(t, err)

			res, ok, more, err := Decode(spec, encoded)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 0, more)
			assert.Equal(t, payload, res.Payload)
			assert.Empty(t, res.Tail)
			if len(spec) > 0 {
				assert.Equal(t, lengths, res.Header)
			}
		})
	}
}

func TestDecodeMoreThenComplete(t *testing.T) {
	spec := Spec{U16}
	payload := []byte("partial-frame-body")
	encoded, err := Encode(spec, []uint64{uint64(len(payload))}, payload)
	require.NoError(t, err)

	// Feed one byte of the two-byte header: must ask for more.
	_, ok, more, err := Decode(spec, encoded[:1])
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, more, 0)

	// Feed header + partial payload: still more.
	_, ok, more, err = Decode(spec, encoded[:3])
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, more, 0)

	// Feed everything plus trailing bytes: tail must carry the remainder.
	withTail := append(append([]byte{}, encoded...), []byte("next")...)
	res, ok, more, err := Decode(spec, withTail)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, more)
	assert.Equal(t, payload, res.Payload)
	assert.Equal(t, []byte("next"), res.Tail)
}

func TestEncodeLengthOverflow(t *testing.T) {
	_, err := Encode(Spec{U8}, []uint64{256}, nil)
	require.Error(t, err)
	var overflow *ErrLengthOverflow
	require.ErrorAs(t, err, &overflow)
	assert.Equal(t, U8, overflow.Kind)
}

func TestEmptySpecYieldsWholeBuffer(t *testing.T) {
	res, ok, more, err := Decode(Spec{}, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, more)
	assert.Empty(t, res.Payload)
	assert.Nil(t, res.Tail)
}
