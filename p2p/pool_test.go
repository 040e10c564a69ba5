package p2p

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastAggregatesAllPeers(t *testing.T) {
	var calls int32
	peers := []*Peer{
		newTestPeer("a", func(q string, b []byte, h map[string]string) ([]byte, error) {
			atomic.AddInt32(&calls, 1)
			return []byte("a-result"), nil
		}),
		newTestPeer("b", func(q string, b []byte, h map[string]string) ([]byte, error) {
			atomic.AddInt32(&calls, 1)
			return nil, errors.New("boom")
		}),
	}
	pool := NewPool(peers, 2)

	results := map[string]string{}
	var errs []string
	err := pool.Broadcast("", nil, nil, func(peer string, result []byte, transportErr error) {
		if transportErr != nil {
			errs = append(errs, peer)
			return
		}
		results[peer] = string(result)
	})

	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, "a-result", results["a"])
	assert.Equal(t, []string{"b"}, errs)
}

func TestRequestsOrdersResultsByIndex(t *testing.T) {
	peer := newTestPeer("only", func(q string, b []byte, h map[string]string) ([]byte, error) {
		return []byte(q), nil
	})
	pool := NewPool([]*Peer{peer}, 4)

	build := func(i int) (string, []byte) {
		return string(rune('A' + i)), nil
	}
	parse := func(raw []byte, i int) ([]byte, error) { return raw, nil }

	results, err := pool.Requests(3, build, parse, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "A", string(results[0]))
	assert.Equal(t, "B", string(results[1]))
	assert.Equal(t, "C", string(results[2]))
}

func TestRequestsReassignsOnPerSegmentFailure(t *testing.T) {
	failing := newTestPeer("failing", func(q string, b []byte, h map[string]string) ([]byte, error) {
		return nil, errors.New("down")
	})
	working := newTestPeer("working", func(q string, b []byte, h map[string]string) ([]byte, error) {
		return []byte("ok"), nil
	})
	pool := NewPool([]*Peer{failing, working}, 1)

	build := func(i int) (string, []byte) { return "", nil }
	parse := func(raw []byte, i int) ([]byte, error) { return raw, nil }

	results, err := pool.Requests(1, build, parse, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(results[0]))
}

func TestRequestsFailsWhenAllPeersFail(t *testing.T) {
	peers := []*Peer{
		newTestPeer("a", func(q string, b []byte, h map[string]string) ([]byte, error) { return nil, errors.New("down") }),
		newTestPeer("b", func(q string, b []byte, h map[string]string) ([]byte, error) { return nil, errors.New("down") }),
	}
	pool := NewPool(peers, 1)

	_, err := pool.Requests(1, func(i int) (string, []byte) { return "", nil }, func(raw []byte, i int) ([]byte, error) { return raw, nil }, nil)
	assert.Error(t, err)
}

func TestSegmentedFetchReassemblesInOrder(t *testing.T) {
	peer := newTestPeer("only", func(q string, b []byte, h map[string]string) ([]byte, error) {
		return []byte(q), nil
	})
	pool := NewPool([]*Peer{peer}, 4)

	build := func(i int) (string, []byte) { return string(rune('0' + i)), nil }
	parse := func(raw []byte, i int) ([]byte, error) { return raw, nil }

	out, err := pool.SegmentedFetch(25000, 10000, nil, build, parse)
	require.NoError(t, err)
	assert.Equal(t, "012", string(out))
}

func TestPoolStopShortCircuits(t *testing.T) {
	pool := NewPool([]*Peer{newTestPeer("a", func(q string, b []byte, h map[string]string) ([]byte, error) { return nil, nil })}, 1)
	pool.Stop()

	err := pool.Broadcast("", nil, nil, func(string, []byte, error) {})
	assert.ErrorIs(t, err, ErrStopped)

	_, err = pool.Requests(1, func(i int) (string, []byte) { return "", nil }, func(raw []byte, i int) ([]byte, error) { return raw, nil }, nil)
	assert.ErrorIs(t, err, ErrStopped)
}
