package p2p

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLengthPrefixedRoundTrip(t *testing.T) {
	parts := [][]byte{[]byte("hello"), []byte(""), []byte("world!!")}

	for _, compress := range []bool{false, true} {
		encoded, err := EncodeLengthPrefixed(parts, compress)
		require.NoError(t, err)

		decoded, err := DecodeLengthPrefixed(encoded, compress)
		require.NoError(t, err)
		require.Len(t, decoded, len(parts))
		for i := range parts {
			assert.Equal(t, parts[i], decoded[i])
		}
	}
}

func TestDecodeLengthPrefixedShortBuffer(t *testing.T) {
	_, err := DecodeLengthPrefixed([]byte{0, 0, 0, 0, 0, 0, 0, 5, 'a'}, false)
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestPreLoadEnvelopeRoundTrip(t *testing.T) {
	env := PreLoadEnvelope{HeadersBytes: []byte("headers..."), BodiesBytes: []byte("bodies....."), Count: 3}
	raw := EncodePreLoadEnvelope(env)

	got, err := DecodePreLoadEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, env.HeadersBytes, got.HeadersBytes)
	assert.Equal(t, env.BodiesBytes, got.BodiesBytes)
	assert.Equal(t, env.Count, got.Count)
}

func TestPreLoadEnvelopeRejectsTruncated(t *testing.T) {
	raw := EncodePreLoadEnvelope(PreLoadEnvelope{HeadersBytes: []byte("abc"), BodiesBytes: []byte("de"), Count: 1})
	_, err := DecodePreLoadEnvelope(raw[:len(raw)-1])
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestSegmentCountBoundedByWidth(t *testing.T) {
	assert.Equal(t, 1, SegmentCount(1000, 10000, 8))
	assert.Equal(t, 5, SegmentCount(50000, 10000, 8))
	assert.Equal(t, 8, SegmentCount(500000, 10000, 8))
}
