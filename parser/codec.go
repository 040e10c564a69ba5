// Package parser decodes the on-wire block binary into a typed
// chain.BlockInfo record (C5, spec §4.3 "Parser/verifier") and, the
// inverse, serializes one back to bytes for round-trip testing
// (spec §8 property 7). The on-disk raw block file stores the fetched dump
// itself, not a re-serialized copy.
package parser

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/torrentnode/replicator/chain"
)

func doubleBits(v float64) uint64     { return math.Float64bits(v) }
func doubleFromBits(v uint64) float64 { return math.Float64frombits(v) }

func computeHash(raw []byte) chain.Hash { return sha256.Sum256(raw) }

// ErrTruncated is returned by Parse when the buffer ends mid-field.
var ErrTruncated = errors.New("parser: truncated block buffer")

type writer struct {
	buf bytes.Buffer
}

func (w *writer) u8(v uint8)   { w.buf.WriteByte(v) }
func (w *writer) boolv(v bool) { if v { w.u8(1) } else { w.u8(0) } }

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) f64(v float64) {
	w.u64(doubleBits(v))
}

func (w *writer) bytes32(h chain.Hash) { w.buf.Write(h[:]) }

func (w *writer) addr(a chain.Address) {
	b := a.Bytes()
	w.buf.Write(b[:])
}

func (w *writer) bytesLP16(b []byte) {
	var l [2]byte
	binary.LittleEndian.PutUint16(l[:], uint16(len(b)))
	w.buf.Write(l[:])
	w.buf.Write(b)
}

func (w *writer) bytesLP32(b []byte) {
	w.u32(uint32(len(b)))
	w.buf.Write(b)
}

func (w *writer) bigIntLP16(v *big.Int) {
	if v == nil {
		w.bytesLP16(nil)
		return
	}
	w.bytesLP16(v.Bytes())
}

func (w *writer) str16(s string) { w.bytesLP16([]byte(s)) }

type reader struct {
	buf []byte
	pos int
}

func newReader(b []byte) *reader { return &reader{buf: b} }

func (r *reader) require(n int) error {
	if r.pos+n > len(r.buf) {
		return ErrTruncated
	}
	return nil
}

func (r *reader) u8() (uint8, error) {
	if err := r.require(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) boolv() (bool, error) {
	v, err := r.u8()
	return v != 0, err
}

func (r *reader) u32() (uint32, error) {
	if err := r.require(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.require(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) f64() (float64, error) {
	v, err := r.u64()
	if err != nil {
		return 0, err
	}
	return doubleFromBits(v), nil
}

func (r *reader) bytes32() (chain.Hash, error) {
	if err := r.require(32); err != nil {
		return chain.Hash{}, err
	}
	var h chain.Hash
	copy(h[:], r.buf[r.pos:r.pos+32])
	r.pos += 32
	return h, nil
}

func (r *reader) addr() (chain.Address, error) {
	if err := r.require(chain.AddressSize); err != nil {
		return chain.Address{}, err
	}
	var b [chain.AddressSize]byte
	copy(b[:], r.buf[r.pos:r.pos+chain.AddressSize])
	r.pos += chain.AddressSize
	return chain.NewAddressFromBytes(b), nil
}

func (r *reader) bytesLP16() ([]byte, error) {
	if err := r.require(2); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint16(r.buf[r.pos:]))
	r.pos += 2
	if err := r.require(n); err != nil {
		return nil, err
	}
	out := append([]byte(nil), r.buf[r.pos:r.pos+n]...)
	r.pos += n
	return out, nil
}

func (r *reader) bytesLP32() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if err := r.require(int(n)); err != nil {
		return nil, err
	}
	out := append([]byte(nil), r.buf[r.pos:r.pos+int(n)]...)
	r.pos += int(n)
	return out, nil
}

func (r *reader) bigIntLP16() (*big.Int, error) {
	b, err := r.bytesLP16()
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

func (r *reader) str16() (string, error) {
	b, err := r.bytesLP16()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Serialize encodes bi into the canonical body bytes over which the block
// hash is computed (spec §3 BlockInfo, §8 property 7).
func Serialize(bi *chain.BlockInfo) []byte {
	w := &writer{}
	w.u8(uint8(bi.Header.Kind))
	w.u64(bi.Header.Height)
	w.bytes32(bi.Header.ParentHash)
	w.u32(uint32(len(bi.Txs)))
	w.u32(bi.Header.SigningTxCount)

	for i := range bi.Txs {
		writeTx(w, &bi.Txs[i])
	}

	if bi.Header.Kind == chain.KindState {
		w.boolv(bi.IsDayRollover)
		w.u32(uint32(len(bi.TrustRecords)))
		for _, t := range bi.TrustRecords {
			w.addr(t.Address)
			w.f64(t.Trust)
			w.u64(t.BlockHeight)
		}
	}

	return w.buf.Bytes()
}

func writeTx(w *writer, tx *chain.TransactionInfo) {
	w.bytes32(tx.Hash)
	w.addr(tx.From)
	w.addr(tx.To)
	w.bigIntLP16(tx.Value)
	w.u64(tx.Nonce)
	w.bytesLP32(tx.Data)
	w.bytesLP32(tx.RawBytes)
	w.u64(tx.FileOffset)
	w.u64(tx.BlockHeight)
	w.u8(uint8(tx.Status))

	w.boolv(tx.Delegate != nil)
	if tx.Delegate != nil {
		w.boolv(tx.Delegate.IsDelegate)
		w.bigIntLP16(tx.Delegate.Value)
	}

	w.boolv(tx.Token != nil)
	if tx.Token != nil {
		writeTokenOp(w, tx.Token)
	}
}

func writeTokenOp(w *writer, t *chain.TokenOp) {
	w.u8(uint8(t.Kind))
	w.addr(t.Token)

	switch t.Kind {
	case chain.TokenOpCreate:
		w.str16(t.Name)
		w.str16(t.Symbol)
		w.u8(t.Decimals)
		w.boolv(t.EmissionPolicyFixed)
		w.bigIntLP16(t.BeginValue)
		w.u32(uint32(len(t.BeginDistribution)))
		for _, d := range t.BeginDistribution {
			w.addr(d.Address)
			w.bigIntLP16(d.Value)
		}
	case chain.TokenOpChangeOwner:
		w.addr(t.NewOwner)
	case chain.TokenOpChangeEmission:
		w.boolv(t.NewEmissionPolicyFixed)
	case chain.TokenOpAddTokens, chain.TokenOpMoveTokens, chain.TokenOpBurnTokens:
		w.addr(t.Target)
		w.bigIntLP16(t.Value)
	}
}

// Parse decodes raw into a chain.BlockInfo. Header.Hash is computed as
// SHA256(raw); Header.FilePath/FileOffset and producer fields are left
// zero for the caller (driver) to fill in once the dump is appended to the
// local raw block file (spec §4.4 step 3, §3 "each transaction records a
// file-relative path and absolute byte offset into this file"). Each tx's
// FileOffset is stamped here with its byte position relative to the start
// of raw -- the same position the dump will occupy once written -- so the
// driver only has to add the dump's base file offset, mirroring
// `original_source/src/SyncImpl.cpp`'s `tx.filePos.pos += currPos`.
func Parse(raw []byte) (*chain.BlockInfo, error) {
	r := newReader(raw)

	kind, err := r.u8()
	if err != nil {
		return nil, err
	}
	height, err := r.u64()
	if err != nil {
		return nil, err
	}
	parentHash, err := r.bytes32()
	if err != nil {
		return nil, err
	}
	txCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	signingTxCount, err := r.u32()
	if err != nil {
		return nil, err
	}

	bi := &chain.BlockInfo{
		Header: chain.BlockHeader{
			Kind: chain.BlockKind(kind), Height: height, ParentHash: parentHash,
			TxCount: txCount, SigningTxCount: signingTxCount,
		},
	}

	bi.Txs = make([]chain.TransactionInfo, txCount)
	for i := uint32(0); i < txCount; i++ {
		startPos := r.pos
		tx, err := readTx(r)
		if err != nil {
			return nil, fmt.Errorf("parser: tx %d: %w", i, err)
		}
		tx.FileOffset = uint64(startPos)
		bi.Txs[i] = *tx
	}

	if bi.Header.Kind == chain.KindState {
		rollover, err := r.boolv()
		if err != nil {
			return nil, err
		}
		bi.IsDayRollover = rollover

		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		bi.TrustRecords = make([]chain.TrustRecord, n)
		for i := uint32(0); i < n; i++ {
			addr, err := r.addr()
			if err != nil {
				return nil, err
			}
			trust, err := r.f64()
			if err != nil {
				return nil, err
			}
			h, err := r.u64()
			if err != nil {
				return nil, err
			}
			bi.TrustRecords[i] = chain.TrustRecord{Address: addr, Trust: trust, BlockHeight: h}
		}
	}

	bi.Header.Hash = computeHash(raw)
	bi.Header.Size = uint64(len(raw))
	return bi, nil
}

func readTx(r *reader) (*chain.TransactionInfo, error) {
	tx := &chain.TransactionInfo{}

	var err error
	if tx.Hash, err = r.bytes32(); err != nil {
		return nil, err
	}
	if tx.From, err = r.addr(); err != nil {
		return nil, err
	}
	if tx.To, err = r.addr(); err != nil {
		return nil, err
	}
	if tx.Value, err = r.bigIntLP16(); err != nil {
		return nil, err
	}
	if tx.Nonce, err = r.u64(); err != nil {
		return nil, err
	}
	if tx.Data, err = r.bytesLP32(); err != nil {
		return nil, err
	}
	if tx.RawBytes, err = r.bytesLP32(); err != nil {
		return nil, err
	}
	if tx.FileOffset, err = r.u64(); err != nil {
		return nil, err
	}
	if tx.BlockHeight, err = r.u64(); err != nil {
		return nil, err
	}
	status, err := r.u8()
	if err != nil {
		return nil, err
	}
	tx.Status = chain.IntentStatus(status)

	hasDelegate, err := r.boolv()
	if err != nil {
		return nil, err
	}
	if hasDelegate {
		isDelegate, err := r.boolv()
		if err != nil {
			return nil, err
		}
		value, err := r.bigIntLP16()
		if err != nil {
			return nil, err
		}
		tx.Delegate = &chain.DelegateOp{IsDelegate: isDelegate, Value: value}
	}

	hasToken, err := r.boolv()
	if err != nil {
		return nil, err
	}
	if hasToken {
		op, err := readTokenOp(r)
		if err != nil {
			return nil, err
		}
		tx.Token = op
	}

	return tx, nil
}

func readTokenOp(r *reader) (*chain.TokenOp, error) {
	kind, err := r.u8()
	if err != nil {
		return nil, err
	}
	token, err := r.addr()
	if err != nil {
		return nil, err
	}
	op := &chain.TokenOp{Kind: chain.TokenOpKind(kind), Token: token}

	switch op.Kind {
	case chain.TokenOpCreate:
		if op.Name, err = r.str16(); err != nil {
			return nil, err
		}
		if op.Symbol, err = r.str16(); err != nil {
			return nil, err
		}
		if op.Decimals, err = r.u8(); err != nil {
			return nil, err
		}
		if op.EmissionPolicyFixed, err = r.boolv(); err != nil {
			return nil, err
		}
		if op.BeginValue, err = r.bigIntLP16(); err != nil {
			return nil, err
		}
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		op.BeginDistribution = make([]chain.TokenDistributionEntry, n)
		for i := uint32(0); i < n; i++ {
			addr, err := r.addr()
			if err != nil {
				return nil, err
			}
			value, err := r.bigIntLP16()
			if err != nil {
				return nil, err
			}
			op.BeginDistribution[i] = chain.TokenDistributionEntry{Address: addr, Value: value}
		}
	case chain.TokenOpChangeOwner:
		if op.NewOwner, err = r.addr(); err != nil {
			return nil, err
		}
	case chain.TokenOpChangeEmission:
		if op.NewEmissionPolicyFixed, err = r.boolv(); err != nil {
			return nil, err
		}
	case chain.TokenOpAddTokens, chain.TokenOpMoveTokens, chain.TokenOpBurnTokens:
		if op.Target, err = r.addr(); err != nil {
			return nil, err
		}
		if op.Value, err = r.bigIntLP16(); err != nil {
			return nil, err
		}
	}

	return op, nil
}
