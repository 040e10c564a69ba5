// Package chain holds the data model shared by every component: blocks,
// transactions, addresses, balances, tokens and delegation state (spec §3).
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/ripemd160"
)

// AddressSize is the canonical binary address length: a version-prefixed
// RIPEMD160 digest plus a 4-byte integrity suffix (spec §3, §6).
const AddressSize = 25

// Address is the canonical 25-byte binary form of a wallet identity, plus
// its printable hex representation. The zero value is the all-zero sink
// address used as the burn target for token operations.
type Address struct {
	bytes [AddressSize]byte
	hex   string
}

// InitialWalletAddress is the genesis-minting sentinel (spec §3).
var InitialWalletAddress = Address{}

func init() {
	InitialWalletAddress.bytes[0] = 0xff
	InitialWalletAddress.hex = hex.EncodeToString(InitialWalletAddress.bytes[:])
}

// ZeroAddress is the all-zero burn/sink address.
var ZeroAddress = NewAddressFromBytes([AddressSize]byte{})

// NewAddressFromBytes builds an Address from its raw 25-byte form.
func NewAddressFromBytes(b [AddressSize]byte) Address {
	return Address{bytes: b, hex: hex.EncodeToString(b[:])}
}

// ParseAddress decodes a hex-encoded 25-byte address.
func ParseAddress(s string) (Address, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, err
	}
	if len(raw) != AddressSize {
		return Address{}, errors.New("chain: address must be 25 bytes")
	}
	var b [AddressSize]byte
	copy(b[:], raw)
	return NewAddressFromBytes(b), nil
}

// Bytes returns the canonical 25-byte form.
func (a Address) Bytes() [AddressSize]byte { return a.bytes }

// Hex returns the printable representation.
func (a Address) Hex() string { return a.hex }

func (a Address) String() string { return a.hex }

// MarshalText implements encoding.TextMarshaler, letting Address serve as a
// JSON map key (storage/index encodes BalanceInfo.Tokens this way).
func (a Address) MarshalText() ([]byte, error) { return []byte(a.hex), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// IsZero reports whether a is the all-zero sink address.
func (a Address) IsZero() bool { return a.bytes == [AddressSize]byte{} }

// IsInitialWallet reports whether a is the genesis-minting sentinel.
func (a Address) IsInitialWallet() bool { return a.bytes == InitialWalletAddress.bytes }

// DeriveAddress computes the 25-byte address for a public key, following
// spec §6: SHA256 -> RIPEMD160, with a 4-byte SHA256^2 integrity suffix
// appended over the version+hash payload.
func DeriveAddress(pubKey []byte) Address {
	sh := sha256.Sum256(pubKey)

	ripe := ripemd160.New()
	ripe.Write(sh[:])
	digest := ripe.Sum(nil)

	var payload [21]byte
	payload[0] = 0x00 // version byte
	copy(payload[1:], digest)

	suffix := doubleSHA256(payload[:])

	var out [AddressSize]byte
	copy(out[:21], payload[:])
	copy(out[21:], suffix[:4])

	return NewAddressFromBytes(out)
}

// VerifyAddressChecksum reports whether a's 4-byte integrity suffix matches
// a recomputation over its leading 21 bytes.
func VerifyAddressChecksum(a Address) bool {
	suffix := doubleSHA256(a.bytes[:21])
	var got [4]byte
	copy(got[:], a.bytes[21:])
	return got == [4]byte{suffix[0], suffix[1], suffix[2], suffix[3]}
}

func doubleSHA256(b []byte) [32]byte {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}
