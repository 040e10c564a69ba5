package p2p

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"io"
)

// ErrShortBuffer is returned by the framing decoders when the buffer ends
// before a declared length-prefixed field.
var ErrShortBuffer = errors.New("p2p: buffer too short for declared length")

// DecompressZlib inflates a zlib-compressed payload (spec §4.3 dump-payload
// encoding: "optionally zlib-compressed"). This is a fixed wire-format
// requirement of the protocol, not a library choice (DESIGN.md).
func DecompressZlib(in []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// CompressZlib deflates a payload with zlib.
func CompressZlib(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(in); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeLengthPrefixed splits a concatenation of big-endian-length-prefixed
// byte strings (spec §4.3: "a concatenation of big-endian-length-prefixed
// byte strings"), optionally zlib-decompressing the whole buffer first.
func DecodeLengthPrefixed(raw []byte, compressed bool) ([][]byte, error) {
	buf := raw
	if compressed {
		decompressed, err := DecompressZlib(raw)
		if err != nil {
			return nil, err
		}
		buf = decompressed
	}

	var out [][]byte
	for len(buf) > 0 {
		if len(buf) < 8 {
			return nil, ErrShortBuffer
		}
		n := binary.BigEndian.Uint64(buf[:8])
		buf = buf[8:]
		if uint64(len(buf)) < n {
			return nil, ErrShortBuffer
		}
		out = append(out, buf[:n])
		buf = buf[n:]
	}
	return out, nil
}

// EncodeLengthPrefixed is the inverse of DecodeLengthPrefixed.
func EncodeLengthPrefixed(parts [][]byte, compress bool) ([]byte, error) {
	var buf bytes.Buffer
	for _, part := range parts {
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(part)))
		buf.Write(lenBuf[:])
		buf.Write(part)
	}
	if !compress {
		return buf.Bytes(), nil
	}
	return CompressZlib(buf.Bytes())
}

// PreLoadEnvelope is the decoded form of the `pre-load` custom binary
// envelope (spec §4.3, §6): u64 headers_size || u64 bodies_size || u64
// count || headers-bytes || bodies-bytes.
type PreLoadEnvelope struct {
	HeadersBytes []byte
	BodiesBytes  []byte
	Count        uint64
}

// DecodePreLoadEnvelope parses the pre-load binary envelope. It rejects the
// response (spec §8 invariant: "Decoder rejects the response") whenever the
// buffer is shorter than the declared sizes (trailing bytes beyond them are
// ignored), or a downstream count
// doesn't match the number of decoded header/body records (checked by the
// caller after calling this, spec §8 S5).
func DecodePreLoadEnvelope(raw []byte) (PreLoadEnvelope, error) {
	if len(raw) < 24 {
		return PreLoadEnvelope{}, ErrShortBuffer
	}
	headersSize := binary.LittleEndian.Uint64(raw[0:8])
	bodiesSize := binary.LittleEndian.Uint64(raw[8:16])
	count := binary.LittleEndian.Uint64(raw[16:24])

	rest := raw[24:]
	if uint64(len(rest)) < headersSize+bodiesSize {
		return PreLoadEnvelope{}, ErrShortBuffer
	}

	headers := rest[:headersSize]
	bodies := rest[headersSize : headersSize+bodiesSize]

	return PreLoadEnvelope{HeadersBytes: headers, BodiesBytes: bodies, Count: count}, nil
}

// EncodePreLoadEnvelope is the inverse of DecodePreLoadEnvelope, used by
// tests to synthesize fixture responses.
func EncodePreLoadEnvelope(env PreLoadEnvelope) []byte {
	out := make([]byte, 24, 24+len(env.HeadersBytes)+len(env.BodiesBytes))
	binary.LittleEndian.PutUint64(out[0:8], uint64(len(env.HeadersBytes)))
	binary.LittleEndian.PutUint64(out[8:16], uint64(len(env.BodiesBytes)))
	binary.LittleEndian.PutUint64(out[16:24], env.Count)
	out = append(out, env.HeadersBytes...)
	out = append(out, env.BodiesBytes...)
	return out
}
