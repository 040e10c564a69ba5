package chain

import "math/big"

// Token is the registry record for a created token (spec §3).
type Token struct {
	Address    Address
	Symbol     string
	Name       string
	Decimals   uint8
	EmissionPolicyFixed bool

	Owner Address

	CreationTxHash Hash

	BeginValue *big.Int // immutable, set at creation
	AllValue   *big.Int // mutates by add/burn
}

// Clone returns a deep-enough copy for overlay-read-then-mutate use inside a
// write batch (spec §4.5 "overlay read: in-batch then store").
func (t *Token) Clone() *Token {
	cp := *t
	cp.BeginValue = new(big.Int).Set(t.BeginValue)
	cp.AllValue = new(big.Int).Set(t.AllValue)
	return &cp
}
