// Package blocksource implements the block-source state machine (C4, spec
// §4.4): one "pull round" runs tip discovery, optional look-ahead preload,
// a bounded window of header+body fetches, parallel parse/verify, and
// ordered (height, slot, hash) hand-off back to the driver.
package blocksource

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/torrentnode/replicator/chain"
	"github.com/torrentnode/replicator/fetcher"
	"github.com/torrentnode/replicator/log"
	"github.com/torrentnode/replicator/parser"
)

// decodeHash parses a hex-encoded 32-byte block hash as carried on the wire
// (spec §6).
func decodeHash(s string) (chain.Hash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return chain.Hash{}, err
	}
	if len(raw) != len(chain.Hash{}) {
		return chain.Hash{}, fmt.Errorf("blocksource: hash must be %d bytes, got %d", len(chain.Hash{}), len(raw))
	}
	var h chain.Hash
	copy(h[:], raw)
	return h, nil
}

var logger = log.New("blocksource")

// windowSize bounds one Drain window (spec §4.4 Drain: COUNT_ADVANCED_BLOCKS).
const windowSize = 8

// parseParallelism bounds the parse/verify fan-out (spec §4.4 step 3).
const parseParallelism = 8

// slotKey totally orders one emitted unit: height, then slot
// (BeforeBlock/Block/AfterBlock), then hash, tie-breaking side blocks that
// share a height (spec §4.4 step 4, §9 "AdvancedBlock.Key").
type slotKey struct {
	height uint64
	slot   chain.BlockSlot
	hash   string
}

func lessKey(a, b slotKey) bool {
	if a.height != b.height {
		return a.height < b.height
	}
	if a.slot != b.slot {
		return a.slot < b.slot
	}
	return a.hash < b.hash
}

type advancedEntry struct {
	slot   chain.BlockSlot
	header fetcher.HeaderStub
	bi     *chain.BlockInfo
	dump   []byte
	err    error
}

type additingBlock struct {
	slot   chain.BlockSlot
	height uint64
	hash   string
	file   string
}

// pendingAdditions holds side-block hashes discovered at the tip that must
// be emitted as AfterBlock entries before the next Drain can start (spec
// §4.4 TailAdditions).
type pendingAdditions struct {
	cleared     bool
	file        string
	blockNumber uint64
	hashes      []string
}

// Source drives one network pull round against a fetcher.Fetcher. It is not
// safe for concurrent use; callers own a single goroutine (spec §9, same
// assumption as the fetcher it wraps).
type Source struct {
	fetcher *fetcher.Fetcher

	isVerifySign bool
	isPreLoad    bool

	nextBlockToRead       uint64
	lastBlockInBlockchain uint64
	servers               []string

	advanced map[slotKey]*advancedEntry
	order    []slotKey
	cursor   int

	pending      pendingAdditions
	lastFileName string
}

// New builds a Source. isVerifySign requests producer-signature
// verification on every fetched body; isPreLoad enables the optional
// look-ahead preload phase.
func New(f *fetcher.Fetcher, isVerifySign, isPreLoad bool) *Source {
	return &Source{
		fetcher:      f,
		isVerifySign: isVerifySign,
		isPreLoad:    isPreLoad,
		pending:      pendingAdditions{cleared: true},
	}
}

// Initialize prepares the source for its first DoProcess call. The network
// source keeps no on-disk state of its own (storage owns the raw file), so
// this is a no-op kept for parity with the file-replay block-source variant
// (spec §9 "Polymorphic block-source").
func (s *Source) Initialize() {}

// DoProcess runs Discover and the optional Preload phase for one round,
// returning whether more blocks exist beyond the caller's current height
// and the newly discovered chain tip (spec §4.4 "doProcess", §9 Open
// Question: the richer (continue, tip) form).
func (s *Source) DoProcess(countBlocks uint64) (bool, uint64, error) {
	s.nextBlockToRead = countBlocks + 1
	s.advanced = make(map[slotKey]*advancedEntry)
	s.order = nil
	s.cursor = 0
	s.fetcher.ClearAdvanced()
	s.pending = pendingAdditions{cleared: true}

	tip, err := s.fetcher.DiscoverTip()
	if err != nil {
		return false, 0, fmt.Errorf("blocksource: discover tip: %w", err)
	}
	s.lastBlockInBlockchain = tip.LastBlock
	s.servers = tip.Servers

	if s.isPreLoad {
		if _, err := s.fetcher.PreloadBlocks(s.nextBlockToRead, s.isVerifySign); err != nil {
			logger.Warn("preload failed, continuing without it", "error", err.Error())
		}
	}

	if s.lastBlockInBlockchain == s.nextBlockToRead-1 && len(tip.ExtraBlocks) > 0 {
		s.pending = pendingAdditions{
			cleared: false, file: s.lastFileName,
			blockNumber: s.lastBlockInBlockchain, hashes: tip.ExtraBlocks,
		}
	}

	return s.lastBlockInBlockchain >= s.nextBlockToRead, s.lastBlockInBlockchain, nil
}

// Process returns the next emitted block in (height, slot, hash) order
// (spec §4.4 step 4), or ok=false when this round has nothing left. N only
// advances when the emitted entry is a Block slot (spec §4.4).
func (s *Source) Process() (bi *chain.BlockInfo, dump []byte, ok bool, err error) {
	isContinue := s.cursor < len(s.order) || !s.pending.cleared || s.lastBlockInBlockchain >= s.nextBlockToRead
	if !isContinue {
		return nil, nil, false, nil
	}

	if s.cursor < len(s.order) {
		return s.emit()
	}

	var additions []additingBlock

	if s.pending.cleared {
		if s.lastBlockInBlockchain < s.nextBlockToRead {
			return nil, nil, false, errors.New("blocksource: new blocks absent")
		}
		if len(s.servers) == 0 {
			return nil, nil, false, errors.New("blocksource: servers empty")
		}

		count := windowSize
		if remain := s.lastBlockInBlockchain - s.nextBlockToRead + 1; uint64(count) > remain {
			count = int(remain)
		}

		s.advanced = make(map[slotKey]*advancedEntry, count)
		s.order = s.order[:0]
		s.cursor = 0

		for i := 0; i < count; i++ {
			height := s.nextBlockToRead + uint64(i)
			entry := &advancedEntry{slot: chain.SlotBlock}

			header, herr := s.fetcher.GetBlockHeader(height, s.lastBlockInBlockchain, s.servers)
			switch {
			case herr != nil:
				entry.err = herr
			case header.Number != height:
				entry.err = fmt.Errorf("blocksource: incorrect header number, got %d want %d", header.Number, height)
			default:
				entry.header = header
				dump, derr := s.fetcher.GetBlockDump(header.Hash, header.Size, s.servers, s.isVerifySign)
				if derr != nil {
					entry.err = derr
				} else {
					entry.dump = dump
				}
			}

			key := slotKey{height: height, slot: chain.SlotBlock, hash: header.Hash}
			s.advanced[key] = entry
			s.order = append(s.order, key)
		}

		for _, key := range s.order {
			entry := s.advanced[key]
			if entry.err != nil {
				continue
			}
			for _, h := range entry.header.PrevExtraBlocks {
				additions = append(additions, additingBlock{slot: chain.SlotBeforeBlock, height: entry.header.Number, hash: h, file: entry.header.FileName})
			}
			for _, h := range entry.header.NextExtraBlocks {
				additions = append(additions, additingBlock{slot: chain.SlotAfterBlock, height: entry.header.Number, hash: h, file: entry.header.FileName})
			}
		}
	} else {
		for _, h := range s.pending.hashes {
			additions = append(additions, additingBlock{slot: chain.SlotAfterBlock, height: s.pending.blockNumber, hash: h, file: s.pending.file})
		}
		s.pending = pendingAdditions{cleared: true}
	}

	s.fetchAdditions(additions)
	s.parseAdvanced()

	sort.Slice(s.order, func(i, j int) bool { return lessKey(s.order[i], s.order[j]) })

	if s.cursor < len(s.order) {
		return s.emit()
	}
	return nil, nil, false, nil
}

// fetchAdditions dedupes side-block hashes and fetches each one's full dump
// by hash alone (spec §4.4 step 2 "side blocks").
func (s *Source) fetchAdditions(additions []additingBlock) {
	seen := make(map[string]struct{}, len(additions))
	for _, add := range additions {
		if _, ok := seen[add.hash]; ok {
			continue
		}
		seen[add.hash] = struct{}{}

		entry := &advancedEntry{slot: add.slot, header: fetcher.HeaderStub{Hash: add.hash, Number: add.height, FileName: add.file}}
		dump, err := s.fetcher.GetBlockDumpByHash(add.hash, s.servers, s.isVerifySign)
		if err != nil {
			entry.err = err
		} else {
			entry.dump = dump
			entry.header.Size = uint64(len(dump))
		}

		key := slotKey{height: add.height, slot: add.slot, hash: add.hash}
		s.advanced[key] = entry
		s.order = append(s.order, key)
	}
}

// parseAdvanced runs parse/verify over every pending advanced entry with a
// bounded worker pool (spec §4.4 step 3). Entries that already carry a
// fetch error are skipped; parse failures are captured per-entry and
// surfaced only when the driver actually asks for that entry via Process.
func (s *Source) parseAdvanced() {
	keys := make([]slotKey, 0, len(s.advanced))
	for k, e := range s.advanced {
		if e.bi == nil && e.err == nil {
			keys = append(keys, k)
		}
	}

	sem := make(chan struct{}, parseParallelism)
	var wg sync.WaitGroup

	for _, k := range keys {
		wg.Add(1)
		sem <- struct{}{}
		go func(k slotKey) {
			defer wg.Done()
			defer func() { <-sem }()
			s.parseOne(k)
		}(k)
	}
	wg.Wait()
}

func (s *Source) parseOne(key slotKey) {
	entry := s.advanced[key]

	expected, err := decodeHash(key.hash)
	if err != nil {
		entry.err = fmt.Errorf("blocksource: invalid block hash %q: %w", key.hash, err)
		return
	}

	bi, err := parser.ParseBlock(entry.dump, expected, s.isVerifySign)
	if err != nil {
		entry.err = err
		return
	}
	// Header.FilePath/FileOffset are left zero here: entry.header.FileName
	// is the remote peer's own bookkeeping, not a path on this node's disk.
	// The driver assigns the real values once it appends entry.dump to the
	// local raw block file (spec §3, §4.4 step 3).
	if key.slot == chain.SlotBlock {
		bi.Header.Height = key.height
	}
	entry.bi = bi
}

// emit returns the advanced entry at the cursor and advances past it,
// bumping nextBlockToRead only for Block-slot entries (spec §4.4 step 4).
func (s *Source) emit() (*chain.BlockInfo, []byte, bool, error) {
	key := s.order[s.cursor]
	entry := s.advanced[key]
	s.cursor++

	if entry.err != nil {
		return nil, nil, false, entry.err
	}

	s.lastFileName = entry.header.FileName
	if key.slot == chain.SlotBlock {
		s.nextBlockToRead++
	}
	return entry.bi, entry.dump, true, nil
}

// GetExistingBlock re-fetches and re-parses an already-accepted block by
// height, for callers that need its parsed form but not a durable record
// of it again (spec §9 "Polymorphic block-source" capability set).
func (s *Source) GetExistingBlock(height uint64) (*chain.BlockInfo, []byte, error) {
	tip, err := s.fetcher.DiscoverTip()
	if err != nil {
		return nil, nil, fmt.Errorf("blocksource: discover tip: %w", err)
	}
	if len(tip.Servers) == 0 {
		return nil, nil, errors.New("blocksource: servers empty")
	}

	header, err := s.fetcher.GetBlockHeader(height, height, tip.Servers)
	if err != nil {
		return nil, nil, err
	}
	if header.Number != height {
		return nil, nil, fmt.Errorf("blocksource: incorrect header number, got %d want %d", header.Number, height)
	}

	dump, err := s.fetcher.GetBlockDump(header.Hash, header.Size, tip.Servers, s.isVerifySign)
	if err != nil {
		return nil, nil, err
	}

	expected, err := decodeHash(header.Hash)
	if err != nil {
		return nil, nil, err
	}
	bi, err := parser.ParseBlock(dump, expected, s.isVerifySign)
	if err != nil {
		return nil, nil, err
	}
	bi.Header.Height = height
	return bi, dump, nil
}
