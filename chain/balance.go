package chain

import "math/big"

// BalanceInfo is the per-address accumulator maintained by the main indexer
// (spec §3). Received/Spent/Forged are non-negative and monotonically
// non-decreasing on an honest chain; CountSpent and LastUpdated support
// ordering/compare-and-write semantics.
type BalanceInfo struct {
	Received *big.Int
	Spent    *big.Int
	Forged   *big.Int

	CountSpent uint64

	DelegatedIn  *big.Int
	DelegatedOut *big.Int

	Tokens map[Address]*big.Int // per-token sub-balances, keyed by token address

	LastUpdatedBlock uint64
}

// NewBalanceInfo returns a zeroed balance record.
func NewBalanceInfo() *BalanceInfo {
	return &BalanceInfo{
		Received:     big.NewInt(0),
		Spent:        big.NewInt(0),
		Forged:       big.NewInt(0),
		DelegatedIn:  big.NewInt(0),
		DelegatedOut: big.NewInt(0),
		Tokens:       make(map[Address]*big.Int),
	}
}

// TokenBalance returns the sub-balance for token, creating a zeroed one if
// absent.
func (b *BalanceInfo) TokenBalance(token Address) *big.Int {
	if v, ok := b.Tokens[token]; ok {
		return v
	}
	v := big.NewInt(0)
	b.Tokens[token] = v
	return v
}

// AddTokenBalance adds delta (which may be negative) to token's sub-balance.
func (b *BalanceInfo) AddTokenBalance(token Address, delta *big.Int) {
	b.TokenBalance(token).Add(b.Tokens[token], delta)
}

// MergeAdd adds other's fields into b in place (spec §4.5: "merge in-memory
// balances with stored balances... adding per-field").
func (b *BalanceInfo) MergeAdd(other *BalanceInfo) {
	b.Received.Add(b.Received, other.Received)
	b.Spent.Add(b.Spent, other.Spent)
	b.Forged.Add(b.Forged, other.Forged)
	b.CountSpent += other.CountSpent
	b.DelegatedIn.Add(b.DelegatedIn, other.DelegatedIn)
	b.DelegatedOut.Add(b.DelegatedOut, other.DelegatedOut)
	for tok, v := range other.Tokens {
		b.AddTokenBalance(tok, v)
	}
	if other.LastUpdatedBlock > b.LastUpdatedBlock {
		b.LastUpdatedBlock = other.LastUpdatedBlock
	}
}

// IsConsistent reports the invariant `received >= spent` (spec §3). A
// violation is logged by the caller, never fatal (spec §7 "Invariant").
func (b *BalanceInfo) IsConsistent() bool {
	return b.Received.Cmp(b.Spent) >= 0
}

// CommonBalance is the total-supply aggregate (spec §3, §6 `common_bal`).
type CommonBalance struct {
	Money *big.Int
}
