package index

import "github.com/torrentnode/replicator/chain"

// Accessors for the node-tester-statistics index (C9, spec §4.5, SPEC_FULL
// §3), grounded on `original_source/src/Workers/WorkerNodeTest.cpp`'s
// LevelDb accessors (findNodeStatBlock, findNodeStatDayNumber,
// findNodeStatRps, findNodeStatLastResults, findAllNodes).

// --- node_stat_block (watermark) ---

func (b *Batch) PutNodeStatBlock(v NodeStatBlockInfo) error {
	return b.set([]byte(keyNodeStatBlock), v)
}

func (s *Store) GetNodeStatBlock() (NodeStatBlockInfo, bool, error) {
	var v NodeStatBlockInfo
	ok, err := s.view([]byte(keyNodeStatBlock), &v)
	return v, ok, err
}

// --- node_stat_day_number ---

func (b *Batch) PutNodeStatDayNumber(v NodeStatDayNumber) error {
	return b.set([]byte(keyNodeStatDayNumber), v)
}

func (b *Batch) GetNodeStatDayNumber() (NodeStatDayNumber, bool, error) {
	var v NodeStatDayNumber
	ok, err := b.get([]byte(keyNodeStatDayNumber), &v)
	return v, ok, err
}

func (s *Store) GetNodeStatDayNumber() (NodeStatDayNumber, bool, error) {
	var v NodeStatDayNumber
	ok, err := s.view([]byte(keyNodeStatDayNumber), &v)
	return v, ok, err
}

// --- node_rps:{addr}:{day} ---

func (b *Batch) GetNodeRps(addr string, day uint64) (NodeRps, bool, error) {
	var v NodeRps
	ok, err := b.get(nodeRpsKey(addr, day), &v)
	return v, ok, err
}

func (b *Batch) PutNodeRps(addr string, day uint64, v NodeRps) error {
	return b.set(nodeRpsKey(addr, day), v)
}

// --- node_last:{addr} ---

func (b *Batch) GetNodeLastResult(addr string) (NodeLastResult, bool, error) {
	var v NodeLastResult
	ok, err := b.get(nodeLastResultKey(addr), &v)
	return v, ok, err
}

func (b *Batch) PutNodeLastResult(addr string, v NodeLastResult) error {
	return b.set(nodeLastResultKey(addr), v)
}

func (s *Store) GetNodeLastResult(addr string) (NodeLastResult, bool, error) {
	var v NodeLastResult
	ok, err := s.view(nodeLastResultKey(addr), &v)
	return v, ok, err
}

// --- node_trust:{addr} ---

func (b *Batch) PutNodeTrust(addr chain.Address, v chain.TrustRecord) error {
	return b.set(nodeTrustKey(addr), v)
}

func (s *Store) GetNodeTrust(addr chain.Address) (chain.TrustRecord, bool, error) {
	var v chain.TrustRecord
	ok, err := s.view(nodeTrustKey(addr), &v)
	return v, ok, err
}

// --- node_registry:{host} ---

func (b *Batch) PutNodeRegistryEntry(host string, v NodeRegistryEntry) error {
	return b.set(nodeRegistryKey(host), v)
}

func (s *Store) GetNodeRegistryEntry(host string) (NodeRegistryEntry, bool, error) {
	var v NodeRegistryEntry
	ok, err := s.view(nodeRegistryKey(host), &v)
	return v, ok, err
}

// ScanNodeRegistry walks every registered node in key order, stopping early
// if fn returns false.
func (s *Store) ScanNodeRegistry(fn func(host string, entry NodeRegistryEntry) bool) error {
	return s.scanPrefix([]byte(prefixNodeRegistry), func() interface{} { return &NodeRegistryEntry{} }, func(suffix []byte, v interface{}) bool {
		return fn(string(suffix), *v.(*NodeRegistryEntry))
	})
}
