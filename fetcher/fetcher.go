// Package fetcher implements the block fetcher (C3, spec §4.3): a
// look-ahead header/body cache plus batched header and ranged body RPCs
// against the peer pool.
//
// The fetcher is owned exclusively by the block source's single driver
// goroutine (spec §9 "Shared mutable caches inside the fetcher"); it holds
// no internal locking and must not be shared across goroutines.
package fetcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/torrentnode/replicator/chain"
	"github.com/torrentnode/replicator/log"
	"github.com/torrentnode/replicator/p2p"
)

var logger = log.New("fetcher")

// maxBlockSizeWithoutAdvance is the threshold above which a body is always
// fetched via a dedicated ranged download instead of batch pre-fetch
// (spec §4.3: 100 KB).
const maxBlockSizeWithoutAdvance = 100 * 1000

// estimateSignatureSize is the extra byte allowance added to a ranged
// fetch's expected size when isSign=true (spec §4.3).
const estimateSignatureSize = 250

// minSegmentSize is S_min for the single-block ranged download path
// (spec §4.3: 10 KB).
const minSegmentSize = 10 * 1000

// maxPreloadWindow bounds the `pre-load` window size (spec §4.3: W<=10).
const maxPreloadWindow = 10

// Pool is the subset of p2p.Pool's surface the fetcher needs, so tests can
// substitute a fake without a real network (spec §9's P2P abstraction).
type Pool interface {
	Broadcast(query string, body []byte, headers map[string]string, sink p2p.BroadcastSink) error
	Requests(n int, build p2p.SegmentBuilder, parse p2p.ResponseParser, hints []string) ([][]byte, error)
	SegmentedFetch(totalSize, minSegmentSize int, hints []string, build p2p.SegmentBuilder, parse p2p.ResponseParser) ([]byte, error)
	MaxWidth(hints []string) int
}

// HeaderStub is the minimal header the fetcher deals in before full parsing
// (spec §4.3 `MinimumBlockHeader`).
type HeaderStub struct {
	Number     uint64
	Size       uint64
	Hash       string
	ParentHash string
	FileName   string

	PrevExtraBlocks []string
	NextExtraBlocks []string
}

// TipInfo is the result of tip discovery (spec §4.3 `LastBlockResponse`).
type TipInfo struct {
	Servers     []string
	LastBlock   uint64
	ExtraBlocks []string
}

// Fetcher holds the look-ahead header sequence and dump cache (spec §4.3).
type Fetcher struct {
	pool Pool

	maxAdvancedLoadBlocks int
	countBlocksInBatch    int
	isCompress            bool

	advancedHeaders []HeaderStub // ordered, strictly increasing Number
	advancedDumps   *lru.Cache   // hash(string) -> []byte
}

// New builds a Fetcher. dumpCacheSize bounds the dump LRU.
func New(pool Pool, maxAdvancedLoadBlocks, countBlocksInBatch, dumpCacheSize int, isCompress bool) *Fetcher {
	if dumpCacheSize <= 0 {
		dumpCacheSize = 1
	}
	cache, _ := lru.New(dumpCacheSize)
	return &Fetcher{
		pool:                  pool,
		maxAdvancedLoadBlocks: maxAdvancedLoadBlocks,
		countBlocksInBatch:    countBlocksInBatch,
		isCompress:            isCompress,
		advancedDumps:         cache,
	}
}

// ClearAdvanced drops the header and dump caches (spec §4.4: cleared on
// transport/protocol failure between rounds).
func (f *Fetcher) ClearAdvanced() {
	f.advancedHeaders = nil
	f.advancedDumps.Purge()
}

// DiscoverTip broadcasts `get-count-blocks` and aggregates by the maximum
// reported height (spec §4.3 "Tip discovery").
func (f *Fetcher) DiscoverTip() (TipInfo, error) {
	type agg struct {
		servers     []string
		lastBlock   uint64
		haveValue   bool
		extraBlocks map[string]struct{}
		err         string
	}
	var state agg
	state.extraBlocks = map[string]struct{}{}

	var mu sync.Mutex

	sink := func(server string, result []byte, transportErr error) {
		mu.Lock()
		defer mu.Unlock()

		if transportErr != nil {
			state.err = transportErr.Error()
			return
		}

		var resp p2p.CountBlocksResponse
		if err := json.Unmarshal(result, &resp); err != nil {
			state.err = err.Error()
			return
		}

		if !state.haveValue || resp.CountBlocks > state.lastBlock {
			state.haveValue = true
			state.lastBlock = resp.CountBlocks
			state.servers = []string{server}
			state.extraBlocks = map[string]struct{}{}
			for _, h := range resp.ExtraBlocks {
				state.extraBlocks[h] = struct{}{}
			}
		} else if resp.CountBlocks == state.lastBlock {
			state.servers = append(state.servers, server)
			for _, h := range resp.ExtraBlocks {
				state.extraBlocks[h] = struct{}{}
			}
		}
	}

	req := p2p.MakeGetCountBlocksRequest()
	if err := f.pool.Broadcast("", req.Marshal(), nil, sink); err != nil {
		return TipInfo{}, err
	}

	if !state.haveValue {
		if state.err == "" {
			state.err = "no peer answered"
		}
		return TipInfo{}, errors.New("fetcher: tip discovery failed: " + state.err)
	}

	extra := make([]string, 0, len(state.extraBlocks))
	for h := range state.extraBlocks {
		extra = append(extra, h)
	}
	return TipInfo{Servers: state.servers, LastBlock: state.lastBlock, ExtraBlocks: extra}, nil
}

// PreloadBlocks broadcasts `pre-load` and, on the best response, decodes
// and merges headers/dumps into the fetcher's caches (spec §4.3
// "Look-ahead preload"). Returns the number of headers merged.
func (f *Fetcher) PreloadBlocks(currentHeight uint64, sign bool) (int, error) {
	req := p2p.MakePreLoadRequest(currentHeight, f.isCompress, sign, maxPreloadWindow, maxBlockSizeWithoutAdvance)

	var best []byte
	var bestCount uint64 = 0
	haveBest := false
	var mu sync.Mutex

	sink := func(server string, result []byte, transportErr error) {
		mu.Lock()
		defer mu.Unlock()
		if transportErr != nil || len(result) < 24 {
			return
		}
		env, err := p2p.DecodePreLoadEnvelope(result)
		if err != nil {
			return
		}
		if !haveBest || env.Count > bestCount {
			haveBest = true
			bestCount = env.Count
			best = result
		}
	}

	if err := f.pool.Broadcast("", req.Marshal(), nil, sink); err != nil {
		return 0, err
	}
	if !haveBest {
		return 0, errors.New("fetcher: no usable pre-load response")
	}

	env, err := p2p.DecodePreLoadEnvelope(best)
	if err != nil {
		return 0, err
	}

	headers, err := decodeHeaders(env.HeadersBytes)
	if err != nil {
		return 0, fmt.Errorf("fetcher: pre-load headers decode: %w", err)
	}
	dumps, err := p2p.DecodeLengthPrefixed(env.BodiesBytes, f.isCompress)
	if err != nil {
		return 0, fmt.Errorf("fetcher: pre-load dumps decode: %w", err)
	}

	// spec §8 S5: decoder rejects the response when declared count doesn't
	// match the decoded record counts.
	if uint64(len(headers)) != env.Count || uint64(len(dumps)) != env.Count || len(headers) != len(dumps) {
		return 0, errors.New("fetcher: pre-load count mismatch, falling back to non-preload path")
	}

	for i, h := range headers {
		if h.Number != currentHeight+uint64(i) {
			return 0, fmt.Errorf("fetcher: pre-load header out of sequence at %d", i)
		}
		f.advancedHeaders = append(f.advancedHeaders, h)
		f.advancedDumps.Add(h.Hash, dumps[i])
	}

	return len(headers), nil
}

func decodeHeaders(raw []byte) ([]HeaderStub, error) {
	var resp []p2p.HeaderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	out := make([]HeaderStub, len(resp))
	for i, r := range resp {
		out[i] = HeaderStub{
			Number: r.Number, Size: r.Size, Hash: r.Hash, ParentHash: r.PrevHash, FileName: r.FileName,
			PrevExtraBlocks: r.PrevExtraBlocks, NextExtraBlocks: r.NextExtraBlocks,
		}
	}
	return out, nil
}

// GetBlockHeader serves height from cache if present, otherwise clears and
// refills the cache with a batched fetch covering up to
// maxAdvancedLoadBlocks heights (spec §4.3 `getBlockHeader`).
func (f *Fetcher) GetBlockHeader(height, maxHeight uint64, peers []string) (HeaderStub, error) {
	for _, h := range f.advancedHeaders {
		if h.Number == height {
			return h, nil
		}
	}

	f.advancedHeaders = nil

	count := maxHeight - height + 1
	if count > uint64(f.maxAdvancedLoadBlocks) {
		count = uint64(f.maxAdvancedLoadBlocks)
	}
	if count == 0 {
		return HeaderStub{}, errors.New("fetcher: incorrect count blocks")
	}

	batch := uint64(f.countBlocksInBatch)
	if batch == 0 {
		batch = 1
	}
	parts := (count + batch - 1) / batch

	build := func(i int) (string, []byte) {
		begin := height + uint64(i)*batch
		n := batch
		if remaining := count - uint64(i)*batch; n > remaining {
			n = remaining
		}
		if n == 1 {
			return "", p2p.MakeGetBlockByNumberRequest(begin).Marshal()
		}
		return "", p2p.MakeGetBlocksRequest(begin, n).Marshal()
	}

	parse := func(raw []byte, i int) ([]byte, error) {
		return raw, nil
	}

	responses, err := f.pool.Requests(int(parts), build, parse, peers)
	if err != nil {
		return HeaderStub{}, err
	}

	for i, raw := range responses {
		begin := height + uint64(i)*batch
		n := batch
		if remaining := count - uint64(i)*batch; n > remaining {
			n = remaining
		}

		if n != 1 {
			headers, err := decodeHeaders(raw)
			if err != nil {
				return HeaderStub{}, err
			}
			if uint64(len(headers)) != n {
				return HeaderStub{}, fmt.Errorf("fetcher: incorrect header count, got %d want %d", len(headers), n)
			}
			for j, h := range headers {
				if h.Number != begin+uint64(j) {
					return HeaderStub{}, fmt.Errorf("fetcher: incorrect block number in answer: %d %d", h.Number, begin+uint64(j))
				}
				f.advancedHeaders = append(f.advancedHeaders, h)
			}
		} else {
			var one p2p.HeaderResponse
			if err := json.Unmarshal(raw, &one); err != nil {
				return HeaderStub{}, err
			}
			if one.Number != begin {
				return HeaderStub{}, fmt.Errorf("fetcher: incorrect block number in answer: %d %d", one.Number, begin)
			}
			f.advancedHeaders = append(f.advancedHeaders, HeaderStub{
				Number: one.Number, Size: one.Size, Hash: one.Hash, ParentHash: one.PrevHash, FileName: one.FileName,
				PrevExtraBlocks: one.PrevExtraBlocks, NextExtraBlocks: one.NextExtraBlocks,
			})
		}
	}

	if len(f.advancedHeaders) == 0 {
		return HeaderStub{}, errors.New("fetcher: empty header batch")
	}
	return f.advancedHeaders[0], nil
}

// GetBlockDump resolves one block's raw dump (spec §4.3 `getBlockDump`),
// trying the cache, then a ranged single-block download for large blocks,
// then a batch pre-fetch of the contiguous small-block prefix.
func (f *Fetcher) GetBlockDump(hash string, size uint64, hints []string, sign bool) ([]byte, error) {
	if v, ok := f.advancedDumps.Get(hash); ok {
		return v.([]byte), nil
	}

	if size > maxBlockSizeWithoutAdvance {
		return f.getBlockDumpWithoutAdvance(hash, size, hints, sign)
	}

	f.advancedDumps.Purge()

	startIdx := -1
	for i, h := range f.advancedHeaders {
		if h.Hash == hash {
			startIdx = i
			break
		}
	}

	var hashes []string
	for i := startIdx; i >= 0 && i < len(f.advancedHeaders) && f.advancedHeaders[i].Size <= maxBlockSizeWithoutAdvance; i++ {
		hashes = append(hashes, f.advancedHeaders[i].Hash)
	}
	if len(hashes) == 0 {
		return nil, errors.New("fetcher: advanced blocks not loaded")
	}

	if err := f.loadDumpBatch(hashes, hints, sign); err != nil {
		return nil, err
	}

	v, ok := f.advancedDumps.Get(hash)
	if !ok {
		return nil, errors.New("fetcher: dump missing after batch load")
	}
	return v.([]byte), nil
}

func (f *Fetcher) loadDumpBatch(hashes []string, hints []string, sign bool) error {
	batch := f.countBlocksInBatch
	if batch <= 0 {
		batch = 1
	}
	parts := (len(hashes) + batch - 1) / batch

	build := func(i int) (string, []byte) {
		begin := i * batch
		n := batch
		if remaining := len(hashes) - begin; n > remaining {
			n = remaining
		}
		if n == 1 {
			return "", p2p.MakeGetDumpBlockRequest(hashes[begin], 0, 0, sign, f.isCompress).Marshal()
		}
		return "", p2p.MakeGetDumpsBlocksRequest(hashes[begin:begin+n], sign, f.isCompress).Marshal()
	}
	parse := func(raw []byte, i int) ([]byte, error) { return raw, nil }

	responses, err := f.pool.Requests(parts, build, parse, hints)
	if err != nil {
		return err
	}

	for i, raw := range responses {
		begin := i * batch
		n := batch
		if remaining := len(hashes) - begin; n > remaining {
			n = remaining
		}
		if n == 1 {
			f.advancedDumps.Add(hashes[begin], raw)
			continue
		}
		parts, err := p2p.DecodeLengthPrefixed(raw, f.isCompress)
		if err != nil {
			return err
		}
		if len(parts) != n {
			return fmt.Errorf("fetcher: incorrect dump batch size, got %d want %d", len(parts), n)
		}
		for j, part := range parts {
			f.advancedDumps.Add(hashes[begin+j], part)
		}
	}
	return nil
}

// GetBlockDumpByHash fetches one block's full dump by hash alone, bypassing
// the look-ahead cache entirely (spec §4.4 "side blocks": before/after
// blocks are addressed only by hash, never by height). fromByte=toByte=0
// asks the peer for the entire body.
func (f *Fetcher) GetBlockDumpByHash(hash string, hints []string, sign bool) ([]byte, error) {
	build := func(i int) (string, []byte) {
		return "", p2p.MakeGetDumpBlockRequest(hash, 0, 0, sign, false).Marshal()
	}
	parse := func(raw []byte, i int) ([]byte, error) { return raw, nil }

	out, err := f.pool.Requests(1, build, parse, hints)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// getBlockDumpWithoutAdvance performs a dedicated ranged download for a
// single block whose size exceeds maxBlockSizeWithoutAdvance.
func (f *Fetcher) getBlockDumpWithoutAdvance(hash string, size uint64, hints []string, sign bool) ([]byte, error) {
	total := size
	if sign {
		total += estimateSignatureSize
	}

	n := p2p.SegmentCount(int(total), minSegmentSize, f.pool.MaxWidth(hints))
	segSize := total / uint64(n)
	if segSize == 0 {
		segSize = total
	}

	build := func(i int) (string, []byte) {
		from := uint64(i) * segSize
		to := from + segSize
		if i == n-1 {
			to = total
		}
		return "", p2p.MakeGetDumpBlockRequest(hash, from, to, sign, false).Marshal()
	}
	parse := func(raw []byte, i int) ([]byte, error) { return raw, nil }

	return f.pool.SegmentedFetch(int(total), minSegmentSize, hints, build, parse)
}
