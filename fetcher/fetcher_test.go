package fetcher

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torrentnode/replicator/p2p"
)

// fakePool implements the Pool interface directly, without any network.
type fakePool struct {
	broadcastFn func(query string, body []byte, headers map[string]string, sink p2p.BroadcastSink) error
	requestsFn  func(n int, build p2p.SegmentBuilder, parse p2p.ResponseParser, hints []string) ([][]byte, error)
	segFetchFn  func(totalSize, minSegmentSize int, hints []string, build p2p.SegmentBuilder, parse p2p.ResponseParser) ([]byte, error)
	maxWidth    int
}

func (f *fakePool) Broadcast(query string, body []byte, headers map[string]string, sink p2p.BroadcastSink) error {
	return f.broadcastFn(query, body, headers, sink)
}

func (f *fakePool) Requests(n int, build p2p.SegmentBuilder, parse p2p.ResponseParser, hints []string) ([][]byte, error) {
	return f.requestsFn(n, build, parse, hints)
}

func (f *fakePool) SegmentedFetch(totalSize, minSegmentSize int, hints []string, build p2p.SegmentBuilder, parse p2p.ResponseParser) ([]byte, error) {
	if f.segFetchFn != nil {
		return f.segFetchFn(totalSize, minSegmentSize, hints, build, parse)
	}
	n := p2p.SegmentCount(totalSize, minSegmentSize, f.maxWidth)
	parts, err := f.requestsFn(n, build, parse, hints)
	if err != nil {
		return nil, err
	}
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, nil
}

func (f *fakePool) MaxWidth(hints []string) int { return f.maxWidth }

func TestDiscoverTipPrefersMaxHeight(t *testing.T) {
	pool := &fakePool{
		broadcastFn: func(query string, body []byte, headers map[string]string, sink p2p.BroadcastSink) error {
			a, _ := json.Marshal(p2p.CountBlocksResponse{CountBlocks: 5})
			b, _ := json.Marshal(p2p.CountBlocksResponse{CountBlocks: 6, ExtraBlocks: []string{"deadbeef"}})
			sink("peerA", a, nil)
			sink("peerB", b, nil)
			return nil
		},
	}
	f := New(pool, 1000, 100, 100, true)

	tip, err := f.DiscoverTip()
	require.NoError(t, err)
	assert.Equal(t, uint64(6), tip.LastBlock)
	assert.Equal(t, []string{"peerB"}, tip.Servers)
	assert.Equal(t, []string{"deadbeef"}, tip.ExtraBlocks)
}

func TestGetBlockHeaderCachesAcrossCalls(t *testing.T) {
	calls := 0
	pool := &fakePool{
		requestsFn: func(n int, build p2p.SegmentBuilder, parse p2p.ResponseParser, hints []string) ([][]byte, error) {
			calls++
			out := make([][]byte, n)
			for i := 0; i < n; i++ {
				_, body := build(i)
				_ = body
				header := p2p.HeaderResponse{Number: uint64(i) + 1, Hash: "h1"}
				raw, _ := json.Marshal(header)
				parsed, err := parse(raw, i)
				require.NoError(t, err)
				out[i] = parsed
			}
			return out, nil
		},
	}
	f := New(pool, 10, 1, 10, true)

	h, err := f.GetBlockHeader(1, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h.Number)
	assert.Equal(t, 1, calls)

	// Second call for the same height should be served from cache.
	h2, err := f.GetBlockHeader(1, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, h.Number, h2.Number)
	assert.Equal(t, 1, calls)
}

func TestPreloadRejectsCountMismatch(t *testing.T) {
	pool := &fakePool{
		broadcastFn: func(query string, body []byte, headers map[string]string, sink p2p.BroadcastSink) error {
			headersJSON, _ := json.Marshal([]p2p.HeaderResponse{{Number: 10, Hash: "a"}, {Number: 11, Hash: "b"}})
			dumps, _ := p2p.EncodeLengthPrefixed([][]byte{[]byte("only-one")}, false)
			env := p2p.EncodePreLoadEnvelope(p2p.PreLoadEnvelope{HeadersBytes: headersJSON, BodiesBytes: dumps, Count: 2})
			sink("peer", env, nil)
			return nil
		},
	}
	f := New(pool, 10, 10, 10, false)

	_, err := f.PreloadBlocks(10, false)
	assert.Error(t, err)
}

func TestGetBlockDumpServesFromCacheAfterBatchLoad(t *testing.T) {
	pool := &fakePool{
		requestsFn: func(n int, build p2p.SegmentBuilder, parse p2p.ResponseParser, hints []string) ([][]byte, error) {
			_, body := build(0)
			_ = body
			parts, _ := p2p.EncodeLengthPrefixed([][]byte{[]byte("dump-a"), []byte("dump-b")}, false)
			parsed, err := parse(parts, 0)
			require.NoError(t, err)
			return [][]byte{parsed}, nil
		},
	}
	f := New(pool, 10, 10, 10, false)
	f.advancedHeaders = []HeaderStub{
		{Number: 1, Hash: "a", Size: 10},
		{Number: 2, Hash: "b", Size: 10},
	}

	dump, err := f.GetBlockDump("a", 10, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "dump-a", string(dump))

	// Now b should be servable from cache without another round trip.
	dump2, err := f.GetBlockDump("b", 10, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "dump-b", string(dump2))
}
