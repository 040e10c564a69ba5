package chain

import "math/big"

// ForgingSums carries the per-status forging totals for one forging block,
// grounded on `original_source/src/Workers/WorkerMain.cpp`'s
// makeForgingSums (spec §4.5, SPEC_FULL §3: named fields, not a bare map).
type ForgingSums struct {
	F1 *big.Int
	F2 *big.Int
	F3 *big.Int
	F4 *big.Int
}

// NewForgingSums returns a zeroed set of sums.
func NewForgingSums() ForgingSums {
	return ForgingSums{F1: big.NewInt(0), F2: big.NewInt(0), F3: big.NewInt(0), F4: big.NewInt(0)}
}

// Add adds other into f in place, returning f.
func (f *ForgingSums) Add(other ForgingSums) *ForgingSums {
	f.F1.Add(f.F1, other.F1)
	f.F2.Add(f.F2, other.F2)
	f.F3.Add(f.F3, other.F3)
	f.F4.Add(f.F4, other.F4)
	return f
}

// AddForTx folds one transaction's value into the matching F-bucket
// according to its intent status; no-op for non-forging statuses.
func (f *ForgingSums) AddForTx(status IntentStatus, value *big.Int) {
	switch status {
	case IntentForgingF1:
		f.F1.Add(f.F1, value)
	case IntentForgingF2:
		f.F2.Add(f.F2, value)
	case IntentForgingF3:
		f.F3.Add(f.F3, value)
	case IntentForgingF4:
		f.F4.Add(f.F4, value)
	}
}

// ComputeForgingSums computes the per-status forging totals for one block
// (spec §4.5 "For a forging block, compute the per-status forging totals").
func ComputeForgingSums(bi *BlockInfo) ForgingSums {
	sums := NewForgingSums()
	if bi.Header.Kind != KindForging {
		return sums
	}
	for i := range bi.Txs {
		sums.AddForTx(bi.Txs[i].Status, bi.Txs[i].Value)
	}
	return sums
}
