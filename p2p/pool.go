package p2p

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrStopped is returned by any pool call that observed the stop flag
// before completing (spec §5 "Cancellation & shutdown").
var ErrStopped = errors.New("p2p: pool stopped")

// BroadcastFanout bounds how many peers are queried concurrently by
// Broadcast (spec §4.2: "up to a fixed fan-out width (e.g., 8)").
const BroadcastFanout = 8

// Pool fans out requests over a fixed peer set with server affinity. It
// owns no state beyond the peer list and a stop flag; callers drive
// aggregation via sinks (spec §4.2).
type Pool struct {
	peers map[string]*Peer
	order []string // stable iteration order

	countConnections int

	stopped int32
}

// NewPool builds a Pool over peers, keyed by Peer.Name.
func NewPool(peers []*Peer, countConnections int) *Pool {
	p := &Pool{peers: make(map[string]*Peer, len(peers)), countConnections: countConnections}
	for _, peer := range peers {
		p.peers[peer.Name] = peer
		p.order = append(p.order, peer.Name)
	}
	return p
}

// Stop raises the process-wide stop flag; outstanding waiters observe it at
// their next check point and in-flight HTTP calls finish or error but their
// results are discarded (spec §4.2 "Cancellation").
func (p *Pool) Stop() { atomic.StoreInt32(&p.stopped, 1) }

// Stopped reports whether Stop has been called.
func (p *Pool) Stopped() bool { return atomic.LoadInt32(&p.stopped) != 0 }

// selectable returns the peer set to use for one call: hints if any name a
// known peer, otherwise the full pool (server-affinity, spec §4.4: "fetch
// their dumps by hash... from the same peer set").
func (p *Pool) selectable(hints []string) []*Peer {
	if len(hints) == 0 {
		out := make([]*Peer, 0, len(p.order))
		for _, name := range p.order {
			out = append(out, p.peers[name])
		}
		return out
	}
	out := make([]*Peer, 0, len(hints))
	for _, name := range hints {
		if peer, ok := p.peers[name]; ok {
			out = append(out, peer)
		}
	}
	if len(out) == 0 {
		return p.selectable(nil)
	}
	return out
}

// BroadcastSink receives one callback per peer, invoked from possibly many
// goroutines concurrently; it is the caller's responsibility to serialize
// aggregation (spec §4.2: "protected by a mutex").
type BroadcastSink func(peerName string, result []byte, transportErr error)

// Broadcast fires the same request at every peer in parallel, up to
// BroadcastFanout at a time, and returns once all peers have answered or
// errored (spec §4.2).
func (p *Pool) Broadcast(query string, body []byte, headers map[string]string, sink BroadcastSink) error {
	if p.Stopped() {
		return ErrStopped
	}

	sem := make(chan struct{}, BroadcastFanout)
	var wg sync.WaitGroup

	for _, name := range p.order {
		if p.Stopped() {
			break
		}
		peer := p.peers[name]
		wg.Add(1)
		sem <- struct{}{}
		go func(peer *Peer) {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := peer.Do(query, body, headers)
			if p.Stopped() {
				return // discard: spec §4.2 cancellation
			}
			sink(peer.Name, result, err)
		}(peer)
	}

	wg.Wait()
	if p.Stopped() {
		return ErrStopped
	}
	return nil
}

// SegmentBuilder maps a segment/request index to its (query, body) pair.
type SegmentBuilder func(index int) (query string, body []byte)

// ResponseParser validates and extracts the payload from one segment's raw
// response; returning an error fails the whole call (spec §4.2).
type ResponseParser func(raw []byte, index int) ([]byte, error)

// Requests runs exactly n independent requests in parallel, one slot per
// request, distributing them round-robin across the eligible peer set and
// reassigning a failed segment to another peer before giving up (spec §4.2
// "requests(n)" and the segmented-fetch reassignment rule). Results are
// returned ordered by index.
func (p *Pool) Requests(n int, build SegmentBuilder, parse ResponseParser, hints []string) ([][]byte, error) {
	if p.Stopped() {
		return nil, ErrStopped
	}
	if n <= 0 {
		return nil, errors.New("p2p: n must be positive")
	}

	peers := p.selectable(hints)
	if len(peers) == 0 {
		return nil, errors.New("p2p: no eligible peers")
	}

	results := make([][]byte, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	maxInFlight := len(peers) * p.countConnectionsOrOne()
	sem := make(chan struct{}, maxInFlight)

	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i], errs[i] = p.runOne(i, peers, build, parse)
		}(i)
	}
	wg.Wait()

	if p.Stopped() {
		return nil, ErrStopped
	}
	for i, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (p *Pool) countConnectionsOrOne() int {
	if p.countConnections <= 0 {
		return 1
	}
	return p.countConnections
}

// runOne tries segment i against each eligible peer, starting at a
// round-robin offset, until one succeeds or all have failed.
func (p *Pool) runOne(i int, peers []*Peer, build SegmentBuilder, parse ResponseParser) ([]byte, error) {
	query, body := build(i)

	var lastErr error
	start := i % len(peers)
	for attempt := 0; attempt < len(peers); attempt++ {
		if p.Stopped() {
			return nil, ErrStopped
		}
		peer := peers[(start+attempt)%len(peers)]
		raw, err := peer.Do(query, body, nil)
		if err != nil {
			lastErr = err
			continue
		}
		parsed, err := parse(raw, i)
		if err != nil {
			lastErr = err
			continue
		}
		return parsed, nil
	}
	if lastErr == nil {
		lastErr = errors.New("p2p: no peers available")
	}
	return nil, lastErr
}

// SegmentCount computes N = ceil(total/minSegmentSize), bounded by the peer
// count times per-peer connections (spec §4.2).
func SegmentCount(total, minSegmentSize, maxWidth int) int {
	if total <= 0 || minSegmentSize <= 0 {
		return 1
	}
	n := (total + minSegmentSize - 1) / minSegmentSize
	if n < 1 {
		n = 1
	}
	if maxWidth > 0 && n > maxWidth {
		n = maxWidth
	}
	return n
}

// MaxWidth returns the parallelism ceiling used by SegmentCount: the
// eligible peer count times per-peer connection count.
func (p *Pool) MaxWidth(hints []string) int {
	return len(p.selectable(hints)) * p.countConnectionsOrOne()
}

// SegmentedFetch splits a response of size totalSize into N segments
// (spec §4.2 "Segmented fetch"), fetches them via Requests, and
// concatenates the parsed payloads in segment order.
func (p *Pool) SegmentedFetch(totalSize, minSegmentSize int, hints []string, build SegmentBuilder, parse ResponseParser) ([]byte, error) {
	n := SegmentCount(totalSize, minSegmentSize, p.MaxWidth(hints))
	parts, err := p.Requests(n, build, parse, hints)
	if err != nil {
		return nil, err
	}

	size := 0
	for _, part := range parts {
		size += len(part)
	}
	out := make([]byte, 0, size)
	for _, part := range parts {
		out = append(out, part...)
	}
	return out, nil
}
