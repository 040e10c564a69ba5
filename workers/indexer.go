package workers

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/torrentnode/replicator/chain"
	"github.com/torrentnode/replicator/log"
	"github.com/torrentnode/replicator/storage/index"
)

var indexerLog = log.New("workers.indexer")

// ModuleBitmap selects which keyspaces the main indexer populates per block
// (spec §4.5 "conditional on the module bitmap").
type ModuleBitmap uint64

const (
	ModuleAddrTxs ModuleBitmap = 1 << iota
	ModuleBalance
	ModuleTxs
	ModuleBlock
)

func (m ModuleBitmap) has(flag ModuleBitmap) bool { return m&flag != 0 }

// AllModules is the default bitmap: every keyspace enabled.
const AllModules = ModuleAddrTxs | ModuleBalance | ModuleTxs | ModuleBlock

// BlockPublisher is implemented by the optional D2 Kafka feed; the indexer
// calls it after a successful commit, never blocking on its result.
type BlockPublisher interface {
	PublishBlock(bi *chain.BlockInfo)
}

// Indexer is the main indexer worker (C7, spec §4.5): applies accepted
// blocks to the balance/tx/delegation/token/common-balance keyspaces in one
// atomic write batch per block. Grounded on
// `original_source/src/Workers/WorkerMain.cpp`'s per-transaction method
// shape (saveTransaction, saveAddressTransaction, saveAddressBalance*,
// processTokenOperation).
type Indexer struct {
	store   *index.Store
	modules ModuleBitmap
	queue   *workQueue
	publish BlockPublisher

	mu        sync.Mutex
	lastSaved uint64
	countVal  uint64

	ringMu  sync.Mutex
	lastTxs []chain.TransactionInfo
}

// NewIndexer opens the worker against store, resuming its watermark and
// sequence counter from the store's durable `main_meta` record (spec §4.5
// "An initial watermark read from the store at startup").
func NewIndexer(store *index.Store, modules ModuleBitmap, publish BlockPublisher) (*Indexer, error) {
	meta, _, err := store.GetMainMeta()
	if err != nil {
		return nil, err
	}
	return &Indexer{
		store:     store,
		modules:   modules,
		queue:     newWorkQueue(),
		publish:   publish,
		lastSaved: meta.Height,
		countVal:  meta.CountVal,
	}, nil
}

// GetInitBlockNumber reports the worker's current watermark: the height it
// resumed from, advanced after each committed block.
func (ix *Indexer) GetInitBlockNumber() uint64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.lastSaved
}

// QueueDepth reports the number of blocks not yet applied (for metrics).
func (ix *Indexer) QueueDepth() int { return ix.queue.depth() }

// Enqueue submits a block for processing; heights at or below the
// watermark are dropped (spec §4.5 idempotence).
func (ix *Indexer) Enqueue(bi *chain.BlockInfo, dump []byte) {
	ix.mu.Lock()
	last := ix.lastSaved
	ix.mu.Unlock()
	if bi.Header.Height <= last {
		return
	}
	ix.queue.push(workItem{bi: bi, dump: dump})
}

// Run drains the queue until Stop closes it. Intended for its own goroutine
// (spec §5 "One dedicated thread per worker").
func (ix *Indexer) Run() {
	for {
		item, ok := ix.queue.pop()
		if !ok {
			return
		}
		if err := ix.processBlock(item.bi); err != nil {
			indexerLog.Error("index block failed", "height", item.bi.Header.Height, "err", err)
		}
	}
}

// Stop closes the queue; Run returns once it has drained.
func (ix *Indexer) Stop() { ix.queue.close() }

func (ix *Indexer) processBlock(bi *chain.BlockInfo) error {
	meta, _, err := ix.store.GetMainMeta()
	if err != nil {
		return err
	}
	if bi.Header.Height <= meta.Height {
		return nil
	}
	if meta.Height > 0 && meta.Hash != bi.Header.ParentHash {
		return fmt.Errorf("workers: incorrect prev hash at height %d: stored %x, block wants %x",
			bi.Header.Height, meta.Hash, bi.Header.ParentHash)
	}

	batch := ix.store.NewBatch()
	defer batch.Discard()

	delegateCache := map[chain.DelegateKey]*chain.DelegateStack{}
	balances := map[chain.Address]*chain.BalanceInfo{}
	seq := meta.CountVal

	isForging := bi.Header.Kind == chain.KindForging
	isSimple := bi.Header.Kind == chain.KindSimple

	if isForging || isSimple {
		for i := range bi.Txs {
			tx := &bi.Txs[i]
			if err := ix.applyTx(batch, bi, tx, i, balances, delegateCache, isForging, &seq); err != nil {
				return err
			}
		}
	}

	if isForging {
		sums := chain.ComputeForgingSums(bi)
		old, _, err := batch.GetForgingSums()
		if err != nil {
			return err
		}
		old.Add(sums)
		if err := batch.PutForgingSums(old); err != nil {
			return err
		}
	}

	if ix.modules.has(ModuleBalance) {
		for addr, bal := range balances {
			stored, _, err := ix.store.GetBalance(addr)
			if err != nil {
				return err
			}
			if stored.LastUpdatedBlock >= bi.Header.Height {
				continue
			}
			stored.MergeAdd(bal)
			stored.LastUpdatedBlock = bi.Header.Height
			if !stored.IsConsistent() {
				indexerLog.Warn("incorrect balance", "address", addr.Hex(), "received", stored.Received.String(), "spent", stored.Spent.String())
			}
			if err := batch.PutBalance(addr, stored); err != nil {
				return err
			}
		}
	}

	if ix.modules.has(ModuleBlock) {
		cb, _, err := batch.GetCommonBalance()
		if err != nil {
			return err
		}
		for i := range bi.Txs {
			tx := &bi.Txs[i]
			if tx.From.IsInitialWallet() || isForging {
				cb.Money.Add(cb.Money, tx.Value)
			}
		}
		if err := batch.PutCommonBalance(cb); err != nil {
			return err
		}

		if err := batch.PutBlockHeader(bi.Header); err != nil {
			return err
		}
		if bi.Header.FilePath != "" {
			if err := batch.PutFileInfo(bi.Header.FilePath, index.FileInfo{LastOffset: bi.Header.FileOffset + bi.Header.Size}); err != nil {
				return err
			}
		}
	}

	if err := batch.PutMainMeta(index.MainBlockInfo{Height: bi.Header.Height, Hash: bi.Header.Hash, CountVal: seq}); err != nil {
		return err
	}

	if err := batch.Commit(); err != nil {
		return err
	}

	ix.mu.Lock()
	ix.lastSaved = bi.Header.Height
	ix.countVal = seq
	ix.mu.Unlock()

	ix.recordLastTxs(bi.Txs)

	if ix.publish != nil {
		ix.publish.PublishBlock(bi)
	}
	return nil
}

func (ix *Indexer) applyTx(batch *index.Batch, bi *chain.BlockInfo, tx *chain.TransactionInfo, txIndex int,
	balances map[chain.Address]*chain.BalanceInfo, delegateCache map[chain.DelegateKey]*chain.DelegateStack, isForging bool, seq *uint64) error {

	if tx.Status == chain.IntentNodeTest {
		return nil
	}

	var status *chain.TransactionStatus
	if tx.IsDelegateTx() {
		st, err := ix.resolveDelegateStatus(batch, tx, delegateCache)
		if err != nil {
			return err
		}
		status = st
	}

	addrs := []chain.Address{tx.From}
	if tx.To != tx.From {
		addrs = append(addrs, tx.To)
	}

	for _, addr := range addrs {
		if addr.IsInitialWallet() {
			continue
		}

		if ix.modules.has(ModuleAddrTxs) {
			info := index.AddressInfo{
				FilePath:   bi.Header.FilePath,
				FileOffset: tx.FileOffset,
				Height:     bi.Header.Height,
				Index:      uint32(txIndex),
			}
			*seq++
			if err := batch.PutAddressInfo(addr, *seq, info); err != nil {
				return err
			}
			if status != nil {
				if err := batch.PutAddressStatus(addr, tx.Hash, *status); err != nil {
					return err
				}
			}
		}

		if ix.modules.has(ModuleBalance) {
			bal := balanceAccumulator(balances, addr)
			applyBalanceDelta(bal, tx, addr, isForging)
			if tx.IsDelegateTx() && status != nil {
				applyDelegateBalanceDelta(bal, tx, addr, *status)
			}
		}
	}

	if ix.modules.has(ModuleTxs) {
		stored := *tx
		stored.RawBytes = nil
		if err := batch.PutTransaction(stored); err != nil {
			return err
		}
		if status != nil {
			if err := batch.PutTransactionStatus(tx.Hash, *status); err != nil {
				return err
			}
		}
		if tx.IsTokenTx() && tx.Status != chain.IntentNotSuccess {
			if err := ix.applyTokenRegistry(batch, tx); err != nil {
				return err
			}
			if err := ix.indexTokenAddresses(batch, tx, seq); err != nil {
				return err
			}
		}
	}

	if ix.modules.has(ModuleBalance) && tx.IsTokenTx() && tx.Status != chain.IntentNotSuccess {
		applyTokenBalance(balances, tx)
	}

	return nil
}

// resolveDelegateStatus mirrors calcTransactionStatusDelegate. Every
// (from, to) pair touched this block keeps a single live *chain.DelegateStack
// in cache, loaded from the store on first touch and mutated in place for
// every subsequent push/pop within the same block (spec §4.5 "pop the top
// frame (from the in-batch map if present, else from the store...)") --
// this is what keeps two txs in one block able to push-then-pop
// consistently without reloading a stale snapshot from the store.
func (ix *Indexer) resolveDelegateStatus(batch *index.Batch, tx *chain.TransactionInfo, cache map[chain.DelegateKey]*chain.DelegateStack) (*chain.TransactionStatus, error) {
	key := chain.DelegateKey{From: tx.From, To: tx.To}

	stack, ok := cache[key]
	if !ok {
		var err error
		stack, err = ix.store.LoadDelegateStack(key.From, key.To)
		if err != nil {
			return nil, err
		}
		cache[key] = stack
	}

	if tx.Delegate.IsDelegate {
		status := &chain.TransactionStatus{Kind: chain.TxStatusDelegate}
		if tx.Status != chain.IntentNotSuccess {
			seq := stack.Push(tx.Delegate.Value, tx.Hash)
			if err := batch.PutDelegateFrame(key.From, key.To, seq, chain.DelegateFrame{Value: tx.Delegate.Value, Hash: tx.Hash}); err != nil {
				return nil, err
			}
		}
		return status, nil
	}

	status := &chain.TransactionStatus{Kind: chain.TxStatusUnDelegate}
	if stack.Len() > 0 {
		frame, err := stack.Pop()
		if err != nil {
			return nil, err
		}
		status.Value = frame.Value
		status.PushHash = frame.Hash
		if err := batch.DeleteDelegateFrame(key.From, key.To, frame.Seq); err != nil {
			return nil, err
		}
	}
	return status, nil
}

func balanceAccumulator(balances map[chain.Address]*chain.BalanceInfo, addr chain.Address) *chain.BalanceInfo {
	if b, ok := balances[addr]; ok {
		return b
	}
	b := chain.NewBalanceInfo()
	balances[addr] = b
	return b
}

// applyBalanceDelta adds a transaction's received/spent/forged contribution
// for one of its two addresses (spec §4.5 "add received, spent, forged
// contributions per the tx's intent status").
func applyBalanceDelta(bal *chain.BalanceInfo, tx *chain.TransactionInfo, addr chain.Address, isForging bool) {
	success := tx.Status != chain.IntentNotSuccess

	if addr == tx.From {
		bal.CountSpent++
		if success {
			bal.Spent.Add(bal.Spent, tx.Value)
		}
	}
	if addr == tx.To && success {
		if isForging {
			bal.Forged.Add(bal.Forged, tx.Value)
		} else {
			bal.Received.Add(bal.Received, tx.Value)
		}
	}
}

// applyDelegateBalanceDelta folds a delegate push/pop into the delegated
// in/out sub-balances for whichever side of (from, to) addr is.
func applyDelegateBalanceDelta(bal *chain.BalanceInfo, tx *chain.TransactionInfo, addr chain.Address, status chain.TransactionStatus) {
	switch status.Kind {
	case chain.TxStatusDelegate:
		if addr == tx.From {
			bal.DelegatedOut.Add(bal.DelegatedOut, tx.Delegate.Value)
		} else if addr == tx.To {
			bal.DelegatedIn.Add(bal.DelegatedIn, tx.Delegate.Value)
		}
	case chain.TxStatusUnDelegate:
		if status.Value == nil {
			return
		}
		if addr == tx.From {
			bal.DelegatedOut.Sub(bal.DelegatedOut, status.Value)
		} else if addr == tx.To {
			bal.DelegatedIn.Sub(bal.DelegatedIn, status.Value)
		}
	}
}

// applyTokenRegistry mutates tok: (spec §4.5 "apply the token-registry
// mutation (overlay read: in-batch then store)"), grounded on
// WorkerMain.cpp's processTokenOperation/changeTokenOwner/
// changeTokenEmission/changeTokenValue.
func (ix *Indexer) applyTokenRegistry(batch *index.Batch, tx *chain.TransactionInfo) error {
	op := tx.Token
	switch op.Kind {
	case chain.TokenOpCreate:
		tok := &chain.Token{
			Address:             tx.To,
			Symbol:              op.Symbol,
			Name:                op.Name,
			Decimals:            op.Decimals,
			EmissionPolicyFixed: op.EmissionPolicyFixed,
			Owner:               tx.From,
			CreationTxHash:      tx.Hash,
			BeginValue:          op.BeginValue,
			AllValue:            op.BeginValue,
		}
		return batch.PutToken(tok)

	case chain.TokenOpChangeOwner:
		tok, ok, err := batch.GetToken(op.Token)
		if err != nil || !ok {
			return err
		}
		tok.Owner = op.NewOwner
		return batch.PutToken(tok)

	case chain.TokenOpChangeEmission:
		tok, ok, err := batch.GetToken(op.Token)
		if err != nil || !ok {
			return err
		}
		tok.EmissionPolicyFixed = op.NewEmissionPolicyFixed
		return batch.PutToken(tok)

	case chain.TokenOpAddTokens:
		tok, ok, err := batch.GetToken(op.Token)
		if err != nil || !ok {
			return err
		}
		tok.AllValue.Add(tok.AllValue, op.Value)
		return batch.PutToken(tok)

	case chain.TokenOpBurnTokens:
		tok, ok, err := batch.GetToken(op.Token)
		if err != nil || !ok {
			return err
		}
		tok.AllValue.Sub(tok.AllValue, op.Value)
		return batch.PutToken(tok)
	}
	return nil
}

// indexTokenAddresses writes `addr_tok:` entries for every address touched
// by a token operation (spec §6 `addr_tok:{addr}:{seq}`).
func (ix *Indexer) indexTokenAddresses(batch *index.Batch, tx *chain.TransactionInfo, seq *uint64) error {
	op := tx.Token
	put := func(addr chain.Address) error {
		*seq++
		return batch.PutAddressTokenInfo(addr, *seq, index.AddressInfo{
			FilePath:   "",
			FileOffset: tx.FileOffset,
			Height:     tx.BlockHeight,
		})
	}

	switch op.Kind {
	case chain.TokenOpCreate:
		if err := put(tx.From); err != nil {
			return err
		}
		for _, d := range op.BeginDistribution {
			if err := put(d.Address); err != nil {
				return err
			}
		}
	case chain.TokenOpChangeOwner:
		if err := put(tx.From); err != nil {
			return err
		}
		return put(op.NewOwner)
	case chain.TokenOpChangeEmission:
		return put(tx.From)
	case chain.TokenOpAddTokens:
		return put(op.Target)
	case chain.TokenOpMoveTokens:
		if err := put(tx.From); err != nil {
			return err
		}
		if tx.From != op.Target {
			return put(op.Target)
		}
	case chain.TokenOpBurnTokens:
		return put(tx.From)
	}
	return nil
}

// applyTokenBalance dispatches a token operation into per-token
// sub-balances (spec §4.5: "Create distributes initial supply with the
// remainder to the creator; Move credits destination and debits source;
// Burn debits source and credits the zero address; AddTokens credits the
// target and bumps total").
func applyTokenBalance(balances map[chain.Address]*chain.BalanceInfo, tx *chain.TransactionInfo) {
	op := tx.Token
	switch op.Kind {
	case chain.TokenOpCreate:
		rest := new(big.Int).Set(op.BeginValue)
		for _, d := range op.BeginDistribution {
			balanceAccumulator(balances, d.Address).AddTokenBalance(tx.To, d.Value)
			rest.Sub(rest, d.Value)
		}
		balanceAccumulator(balances, tx.From).AddTokenBalance(tx.To, rest)

	case chain.TokenOpAddTokens:
		balanceAccumulator(balances, op.Target).AddTokenBalance(tx.To, op.Value)

	case chain.TokenOpMoveTokens:
		balanceAccumulator(balances, op.Target).AddTokenBalance(tx.To, op.Value)
		if tx.From != op.Target {
			neg := new(big.Int).Neg(op.Value)
			balanceAccumulator(balances, tx.From).AddTokenBalance(tx.To, neg)
		}

	case chain.TokenOpBurnTokens:
		neg := new(big.Int).Neg(op.Value)
		balanceAccumulator(balances, tx.From).AddTokenBalance(tx.To, neg)
		balanceAccumulator(balances, chain.ZeroAddress).AddTokenBalance(tx.To, op.Value)
	}
}

// recordLastTxs maintains the fixed-size ring of the 100 most recent
// transactions (spec §4.5 "Append to a fixed-size ring of 'last 100
// transactions' under a mutex").
func (ix *Indexer) recordLastTxs(txs []chain.TransactionInfo) {
	ix.ringMu.Lock()
	defer ix.ringMu.Unlock()

	if len(txs) > 100 {
		txs = txs[len(txs)-100:]
	}
	merged := make([]chain.TransactionInfo, 0, len(txs)+len(ix.lastTxs))
	merged = append(merged, txs...)
	merged = append(merged, ix.lastTxs...)
	if len(merged) > 100 {
		merged = merged[:100]
	}
	ix.lastTxs = merged
}

// LastTransactions returns a snapshot of the most recent transactions seen,
// most recent first.
func (ix *Indexer) LastTransactions() []chain.TransactionInfo {
	ix.ringMu.Lock()
	defer ix.ringMu.Unlock()
	out := make([]chain.TransactionInfo, len(ix.lastTxs))
	copy(out, ix.lastTxs)
	return out
}
