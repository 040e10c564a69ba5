package index

import (
	"math/big"

	"github.com/torrentnode/replicator/chain"
)

// --- block: ---

func (b *Batch) PutBlockHeader(h chain.BlockHeader) error {
	return b.set(blockKey(h.Hash), h)
}

func (s *Store) GetBlockHeader(hash chain.Hash) (chain.BlockHeader, bool, error) {
	var h chain.BlockHeader
	ok, err := s.view(blockKey(hash), &h)
	return h, ok, err
}

// --- main_meta ---

func (b *Batch) PutMainMeta(m MainBlockInfo) error {
	return b.set([]byte(keyMainMeta), m)
}

func (b *Batch) GetMainMeta() (MainBlockInfo, bool, error) {
	var m MainBlockInfo
	ok, err := b.get([]byte(keyMainMeta), &m)
	return m, ok, err
}

func (s *Store) GetMainMeta() (MainBlockInfo, bool, error) {
	var m MainBlockInfo
	ok, err := s.view([]byte(keyMainMeta), &m)
	return m, ok, err
}

// --- block_meta ---

func (b *Batch) PutBlocksMetadata(m BlocksMetadata) error {
	return b.set([]byte(keyBlockMeta), m)
}

func (b *Batch) GetBlocksMetadata() (BlocksMetadata, bool, error) {
	var m BlocksMetadata
	ok, err := b.get([]byte(keyBlockMeta), &m)
	return m, ok, err
}

func (s *Store) GetBlocksMetadata() (BlocksMetadata, bool, error) {
	var m BlocksMetadata
	ok, err := s.view([]byte(keyBlockMeta), &m)
	return m, ok, err
}

// --- file:{relPath} ---

func (b *Batch) PutFileInfo(relPath string, info FileInfo) error {
	return b.set(fileKey(relPath), info)
}

func (s *Store) GetFileInfo(relPath string) (FileInfo, bool, error) {
	var info FileInfo
	ok, err := s.view(fileKey(relPath), &info)
	return info, ok, err
}

// --- addr:{addr}:{seq} / addr_tok:{addr}:{seq} ---

func (b *Batch) PutAddressInfo(addr chain.Address, seq uint64, info AddressInfo) error {
	return b.set(addrKey(addr, seq), info)
}

func (b *Batch) PutAddressTokenInfo(addr chain.Address, seq uint64, info AddressInfo) error {
	return b.set(addrTokKey(addr, seq), info)
}

// ScanAddressHistory walks an address's transaction index in ascending
// sequence order (spec §6 "ordered scan by address prefix"), stopping early
// if fn returns false.
func (s *Store) ScanAddressHistory(addr chain.Address, fn func(seq uint64, info AddressInfo) bool) error {
	return s.scanPrefix(addrPrefix(addr), func() interface{} { return &AddressInfo{} }, func(suffix []byte, v interface{}) bool {
		return fn(decodeSeqSuffix(suffix), *v.(*AddressInfo))
	})
}

// ScanAddressTokenHistory is ScanAddressHistory's token-relevant counterpart.
func (s *Store) ScanAddressTokenHistory(addr chain.Address, fn func(seq uint64, info AddressInfo) bool) error {
	return s.scanPrefix(addrTokPrefix(addr), func() interface{} { return &AddressInfo{} }, func(suffix []byte, v interface{}) bool {
		return fn(decodeSeqSuffix(suffix), *v.(*AddressInfo))
	})
}

func decodeSeqSuffix(suffix []byte) uint64 {
	var seq uint64
	for _, b := range suffix {
		seq = seq<<8 | uint64(b)
	}
	return seq
}

// --- addr_status:{addr}:{txHash} ---

func (b *Batch) PutAddressStatus(addr chain.Address, txHash chain.Hash, status chain.TransactionStatus) error {
	return b.set(addrStatusKey(addr, txHash), status)
}

func (s *Store) GetAddressStatus(addr chain.Address, txHash chain.Hash) (chain.TransactionStatus, bool, error) {
	var st chain.TransactionStatus
	ok, err := s.view(addrStatusKey(addr, txHash), &st)
	return st, ok, err
}

// --- tx:{txHash} ---

// PutTransaction stores tx (spec §6 "minus raw body, which is on disk");
// callers are expected to have already cleared RawBytes.
func (b *Batch) PutTransaction(tx chain.TransactionInfo) error {
	return b.set(txKey(tx.Hash), tx)
}

func (s *Store) GetTransaction(hash chain.Hash) (chain.TransactionInfo, bool, error) {
	var tx chain.TransactionInfo
	ok, err := s.view(txKey(hash), &tx)
	return tx, ok, err
}

// --- tx_status:{txHash} ---

func (b *Batch) PutTransactionStatus(hash chain.Hash, status chain.TransactionStatus) error {
	return b.set(txStatusKey(hash), status)
}

func (b *Batch) GetTransactionStatus(hash chain.Hash) (chain.TransactionStatus, bool, error) {
	var st chain.TransactionStatus
	ok, err := b.get(txStatusKey(hash), &st)
	return st, ok, err
}

func (s *Store) GetTransactionStatus(hash chain.Hash) (chain.TransactionStatus, bool, error) {
	var st chain.TransactionStatus
	ok, err := s.view(txStatusKey(hash), &st)
	return st, ok, err
}

// --- bal:{addr} ---

// GetBalance is the in-batch overlay read: in-batch writes shadow the store
// (spec §4.5 "overlay read: in-batch then store").
func (b *Batch) GetBalance(addr chain.Address) (*chain.BalanceInfo, bool, error) {
	bal := chain.NewBalanceInfo()
	ok, err := b.get(balKey(addr), bal)
	if !ok || err != nil {
		return bal, ok, err
	}
	return bal, true, nil
}

func (b *Batch) PutBalance(addr chain.Address, bal *chain.BalanceInfo) error {
	return b.set(balKey(addr), bal)
}

func (s *Store) GetBalance(addr chain.Address) (*chain.BalanceInfo, bool, error) {
	bal := chain.NewBalanceInfo()
	ok, err := s.view(balKey(addr), bal)
	return bal, ok, err
}

// --- tok:{addr} ---

func (b *Batch) GetToken(addr chain.Address) (*chain.Token, bool, error) {
	var tok chain.Token
	ok, err := b.get(tokKey(addr), &tok)
	if !ok {
		return nil, false, err
	}
	return &tok, true, err
}

func (b *Batch) PutToken(tok *chain.Token) error {
	return b.set(tokKey(tok.Address), tok)
}

func (s *Store) GetToken(addr chain.Address) (*chain.Token, bool, error) {
	var tok chain.Token
	ok, err := s.view(tokKey(addr), &tok)
	if !ok {
		return nil, false, err
	}
	return &tok, true, err
}

// --- deleg:{from}:{to}:{seq} ---

func (b *Batch) PutDelegateFrame(from, to chain.Address, seq uint64, frame chain.DelegateFrame) error {
	rec := DelegateRecord{Value: frame.Value.Bytes(), Hash: frame.Hash}
	return b.set(delegKey(from, to, seq), rec)
}

func (b *Batch) DeleteDelegateFrame(from, to chain.Address, seq uint64) error {
	return b.delete(delegKey(from, to, seq))
}

// LoadDelegateStack reconstructs a chain.DelegateStack from every frame
// persisted for (from, to), oldest first (spec §6 "LIFO by seq"). Surviving
// sequence numbers may have gaps (earlier pops delete their frame outright),
// so the stack's next-push sequence is seeded from the highest seq seen
// rather than the frame count.
func (s *Store) LoadDelegateStack(from, to chain.Address) (*chain.DelegateStack, error) {
	var frames []chain.DelegateFrame
	var maxSeq uint64
	var sawAny bool
	err := s.scanPrefix(delegPrefix(from, to), func() interface{} { return &DelegateRecord{} }, func(suffix []byte, v interface{}) bool {
		rec := v.(*DelegateRecord)
		seq := decodeSeqSuffix(suffix)
		frames = append(frames, chain.DelegateFrame{Value: new(big.Int).SetBytes(rec.Value), Hash: rec.Hash, Seq: seq})
		if !sawAny || seq > maxSeq {
			maxSeq = seq
		}
		sawAny = true
		return true
	})
	if err != nil {
		return nil, err
	}
	nextSeq := uint64(0)
	if sawAny {
		nextSeq = maxSeq + 1
	}
	return chain.NewDelegateStackFrom(nextSeq, frames...), nil
}

// --- forge_all ---

func (b *Batch) GetForgingSums() (chain.ForgingSums, bool, error) {
	sums := chain.NewForgingSums()
	ok, err := b.get([]byte(keyForgeAll), &sums)
	return sums, ok, err
}

func (b *Batch) PutForgingSums(sums chain.ForgingSums) error {
	return b.set([]byte(keyForgeAll), sums)
}

func (s *Store) GetForgingSums() (chain.ForgingSums, bool, error) {
	sums := chain.NewForgingSums()
	ok, err := s.view([]byte(keyForgeAll), &sums)
	return sums, ok, err
}

// --- common_bal ---

func (b *Batch) GetCommonBalance() (chain.CommonBalance, bool, error) {
	var cb chain.CommonBalance
	ok, err := b.get([]byte(keyCommonBal), &cb)
	if !ok {
		cb.Money = big.NewInt(0)
	}
	return cb, ok, err
}

func (b *Batch) PutCommonBalance(cb chain.CommonBalance) error {
	return b.set([]byte(keyCommonBal), cb)
}

func (s *Store) GetCommonBalance() (chain.CommonBalance, bool, error) {
	var cb chain.CommonBalance
	ok, err := s.view([]byte(keyCommonBal), &cb)
	if !ok {
		cb.Money = big.NewInt(0)
	}
	return cb, ok, err
}

// --- modules / version: write-once, frozen after first write ---

// ErrFrozenMismatch is returned when a caller attempts to write a modules
// or version tag that conflicts with the one already frozen (spec §6
// "frozen schema tags").
var ErrFrozenMismatch = &frozenMismatchError{}

type frozenMismatchError struct{}

func (*frozenMismatchError) Error() string { return "index: frozen schema tag mismatch" }

// FreezeModules writes the active module bitmap on first call; subsequent
// calls with a different value fail, calls with the same value are no-ops.
func (s *Store) FreezeModules(bitmap uint64) error {
	return s.freezeUint64([]byte(keyModules), bitmap)
}

func (s *Store) GetModules() (uint64, bool, error) {
	return s.getUint64([]byte(keyModules))
}

// FreezeVersion writes the schema version on first call, with the same
// freeze semantics as FreezeModules.
func (s *Store) FreezeVersion(version uint64) error {
	return s.freezeUint64([]byte(keyVersion), version)
}

func (s *Store) GetVersion() (uint64, bool, error) {
	return s.getUint64([]byte(keyVersion))
}

func (s *Store) freezeUint64(key []byte, value uint64) error {
	existing, ok, err := s.getUint64(key)
	if err != nil {
		return err
	}
	if ok {
		if existing != value {
			return ErrFrozenMismatch
		}
		return nil
	}
	b := s.NewBatch()
	defer b.Discard()
	if err := b.set(key, value); err != nil {
		return err
	}
	return b.Commit()
}

func (s *Store) getUint64(key []byte) (uint64, bool, error) {
	var v uint64
	ok, err := s.view(key, &v)
	return v, ok, err
}
