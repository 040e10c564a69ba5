package blocksource

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torrentnode/replicator/chain"
	"github.com/torrentnode/replicator/fetcher"
	"github.com/torrentnode/replicator/p2p"
	"github.com/torrentnode/replicator/parser"
)

// fakePool is a minimal fetcher.Pool double that answers a fixed map of
// block dumps/headers by inspecting each request's JSON method, letting
// tests drive a full discover->drain->parse round without any network.
type fakePool struct {
	lastBlock uint64
	headers   map[uint64]p2p.HeaderResponse
	dumps     map[string][]byte
}

func (f *fakePool) Broadcast(query string, body []byte, headers map[string]string, sink p2p.BroadcastSink) error {
	resp, _ := json.Marshal(p2p.CountBlocksResponse{CountBlocks: f.lastBlock})
	sink("peer", resp, nil)
	return nil
}

func (f *fakePool) Requests(n int, build p2p.SegmentBuilder, parse p2p.ResponseParser, hints []string) ([][]byte, error) {
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		_, body := build(i)
		var req p2p.Request
		_ = json.Unmarshal(body, &req)

		paramsRaw, _ := json.Marshal(req.Params)

		var raw []byte
		switch req.Method {
		case "get-block-by-number":
			var p struct {
				Number uint64 `json:"number"`
			}
			_ = json.Unmarshal(paramsRaw, &p)
			h := f.headers[p.Number]
			raw, _ = json.Marshal(h)
		case "get-blocks":
			var p struct {
				From  uint64 `json:"from"`
				Count uint64 `json:"count"`
			}
			_ = json.Unmarshal(paramsRaw, &p)
			var hs []p2p.HeaderResponse
			for j := uint64(0); j < p.Count; j++ {
				hs = append(hs, f.headers[p.From+j])
			}
			raw, _ = json.Marshal(hs)
		case "get-dump-block-by-hash":
			var p p2p.DumpBlockParams
			_ = json.Unmarshal(paramsRaw, &p)
			raw = f.dumps[p.Hash]
		case "get-dumps-blocks-by-hash":
			var p p2p.DumpBlockParams
			_ = json.Unmarshal(paramsRaw, &p)
			parts := make([][]byte, len(p.Hashes))
			for j, h := range p.Hashes {
				parts[j] = f.dumps[h]
			}
			raw, _ = p2p.EncodeLengthPrefixed(parts, false)
		}

		parsed, err := parse(raw, i)
		if err != nil {
			return nil, err
		}
		out[i] = parsed
	}
	return out, nil
}

func (f *fakePool) SegmentedFetch(totalSize, minSegmentSize int, hints []string, build p2p.SegmentBuilder, parse p2p.ResponseParser) ([]byte, error) {
	_, body := build(0)
	var req p2p.Request
	_ = json.Unmarshal(body, &req)
	paramsRaw, _ := json.Marshal(req.Params)
	var p p2p.DumpBlockParams
	_ = json.Unmarshal(paramsRaw, &p)
	raw := f.dumps[p.Hash]
	return parse(raw, 0)
}

func (f *fakePool) MaxWidth(hints []string) int { return 1 }

func blockFixture(height uint64, parent chain.Hash) (rawDump []byte, hashHex string) {
	bi := &chain.BlockInfo{Header: chain.BlockHeader{Kind: chain.KindSimple, Height: height, ParentHash: parent}}
	raw := parser.Serialize(bi)
	h := chain.Hash(sha256.Sum256(raw))
	return raw, hex.EncodeToString(h[:])
}

func TestDoProcessThenDrainEmitsBlocksInOrder(t *testing.T) {
	raw1, hash1 := blockFixture(1, chain.Hash{})
	raw2, hash2 := blockFixture(2, chain.Hash(sha256.Sum256(raw1)))

	pool := &fakePool{
		lastBlock: 2,
		headers: map[uint64]p2p.HeaderResponse{
			1: {Number: 1, Hash: hash1, Size: uint64(len(raw1))},
			2: {Number: 2, Hash: hash2, Size: uint64(len(raw2))},
		},
		dumps: map[string][]byte{hash1: raw1, hash2: raw2},
	}

	f := fetcher.New(pool, 10, 10, 10, false)
	src := New(f, false, false)

	cont, tip, err := src.DoProcess(0)
	require.NoError(t, err)
	assert.True(t, cont)
	assert.Equal(t, uint64(2), tip)

	bi1, _, ok, err := src.Process()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), bi1.Header.Height)

	bi2, _, ok, err := src.Process()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), bi2.Header.Height)

	_, _, ok, err = src.Process()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDoProcessReportsIdleWhenCaughtUp(t *testing.T) {
	pool := &fakePool{lastBlock: 5}
	f := fetcher.New(pool, 10, 10, 10, false)
	src := New(f, false, false)

	cont, tip, err := src.DoProcess(5)
	require.NoError(t, err)
	assert.False(t, cont)
	assert.Equal(t, uint64(5), tip)
}
