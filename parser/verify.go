package parser

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/torrentnode/replicator/chain"
)

// ErrBadSignature is returned by VerifySignature/ParseSigned when the
// producer signature does not verify against the enclosed public key
// (spec §8 invariant 9).
var ErrBadSignature = errors.New("parser: producer signature invalid")

// ErrHashMismatch is returned when the hash recomputed from a parsed
// block's body does not match the hash the caller expected (spec §4.4
// step 3, §8 invariant 7).
var ErrHashMismatch = errors.New("parser: block hash mismatch")

// StripEnvelope splits a signed-block wire payload into its producer
// signature, public key, and the inner body the signature covers (spec §6
// "signed-block envelope"): a 4-byte LE signature length, the signature, a
// 4-byte LE public key length, the public key, then the body.
func StripEnvelope(raw []byte) (body, sig, pubKey []byte, err error) {
	r := newReader(raw)
	sig, err = r.bytesLP32()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parser: envelope signature: %w", err)
	}
	pubKey, err = r.bytesLP32()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parser: envelope pubkey: %w", err)
	}
	return raw[r.pos:], sig, pubKey, nil
}

// WrapEnvelope is the inverse of StripEnvelope, used by tests and by any
// code that re-signs a body (e.g. fixtures).
func WrapEnvelope(body, sig, pubKey []byte) []byte {
	var out []byte
	out = appendLP32(out, sig)
	out = appendLP32(out, pubKey)
	out = append(out, body...)
	return out
}

func appendLP32(dst, b []byte) []byte {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(b)))
	dst = append(dst, l[:]...)
	return append(dst, b...)
}

// VerifySignature checks that sig is a valid secp256k1/ECDSA signature by
// pubKey over SHA256(body), and returns the producer address derived from
// pubKey (spec §6 "signed-block envelope", §8 invariant 9).
func VerifySignature(body, sig, pubKey []byte) (chain.Address, error) {
	pk, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return chain.Address{}, fmt.Errorf("parser: parse producer pubkey: %w", err)
	}

	digest := sha256Sum(body)

	parsedSig, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return chain.Address{}, fmt.Errorf("parser: parse producer signature: %w", err)
	}

	if !parsedSig.Verify(digest[:], pk) {
		return chain.Address{}, ErrBadSignature
	}

	return chain.DeriveAddress(pubKey), nil
}

// ParseSigned, when requireSignature is set, strips the producer envelope,
// verifies the producer signature, parses the inner body and populates
// Header.Producer{Signature,PubKey,Address} (spec §4.3 step 3). When
// requireSignature is false, raw is parsed as a bare body: no envelope is
// stripped and the producer fields stay zero.
func ParseSigned(raw []byte, requireSignature bool) (*chain.BlockInfo, error) {
	if !requireSignature {
		bi, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		return bi, nil
	}

	body, sig, pubKey, err := StripEnvelope(raw)
	if err != nil {
		return nil, err
	}

	addr, err := VerifySignature(body, sig, pubKey)
	if err != nil {
		return nil, err
	}

	bi, err := Parse(body)
	if err != nil {
		return nil, err
	}

	bi.Header.ProducerSignature = sig
	bi.Header.ProducerPubKey = pubKey
	bi.Header.ProducerAddress = addr

	return bi, nil
}

// VerifyHash reports whether bi's recomputed hash equals expected, the
// integrity check the driver applies before ordered hand-off (spec §4.4
// step 3, §8 invariant 7).
func VerifyHash(bi *chain.BlockInfo, expected chain.Hash) error {
	if bi.Header.Hash != expected {
		return fmt.Errorf("%w: got %x want %x", ErrHashMismatch, bi.Header.Hash, expected)
	}
	return nil
}

func sha256Sum(b []byte) chain.Hash { return computeHash(b) }
