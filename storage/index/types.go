package index

import "github.com/torrentnode/replicator/chain"

// MainBlockInfo is the main indexer's durable watermark (spec §6
// `main_meta`, §4.5 "MainBlock watermark").
type MainBlockInfo struct {
	Height uint64
	Hash   chain.Hash

	// CountVal is the global monotonic sequence counter shared by every
	// address-ordered keyspace (`addr:`, `addr_tok:`; `deleg:` frames take
	// their seq from the per-pair DelegateStack instead); it survives restarts
	// here rather than resetting to zero, so address histories stay strictly
	// ordered across worker restarts.
	CountVal uint64
}

// BlocksMetadata carries cross-worker block-level bookkeeping that isn't
// itself a worker watermark: a day counter stored under `block_meta`. No
// worker writes it; the node-test worker (C9) keeps its own day number under
// `node_stat_day_number`.
type BlocksMetadata struct {
	CurrentDay uint64
}

// FileInfo is the last-used byte offset into one raw block file (spec §6
// `file:{relPath}`).
type FileInfo struct {
	LastOffset uint64
}

// AddressInfo is one entry in an address's transaction index, ordered by
// sequence number (spec §6 `addr:{addr}:{seq}` / `addr_tok:{addr}:{seq}`).
type AddressInfo struct {
	FilePath   string
	FileOffset uint64
	Height     uint64
	Index      uint32
}

// DelegateRecord is one LIFO frame persisted under `deleg:{from}:{to}:{seq}`
// (spec §6, chain.DelegateFrame's durable form).
type DelegateRecord struct {
	Value []byte // big.Int bytes (big-endian, unsigned); sign is always positive
	Hash  chain.Hash
}

// NodeStatBlockInfo is the node-test worker's durable watermark (spec §6
// `NodeStatBlock`, SPEC_FULL C9), grounded on
// `original_source/src/Workers/WorkerNodeTest.cpp`'s NodeStatBlockInfo.
type NodeStatBlockInfo struct {
	Height uint64
	Hash   chain.Hash
}

// NodeStatDayNumber is the node-test worker's day counter (spec §6
// `NodeStatDayNumber`), bumped once per State block.
type NodeStatDayNumber struct {
	Day uint64
}

// NodeRps is the rolling per-(server, day) RPS sample list fed by
// `NodeTest`-status transactions.
type NodeRps struct {
	Values []int64
}

// NodeLastResult is the most recent node-test report for a server address;
// each new report overwrites it, so it is not a best-of-day pick.
type NodeLastResult struct {
	Day         uint64
	IP          string
	Geo         string
	RPS         int64
	Success     bool
	BlockHeight uint64
}

// NodeRegistryEntry is one upserted all-nodes registry record (SPEC_FULL
// §3, §4.5 "`mh-noderegistration`/`mhRegisterNode` upsert").
type NodeRegistryEntry struct {
	Host      string
	Name      string
	NodeType  string
	UpdatedAt int64 // unix seconds; stamped by the caller, never Time.Now() here
}
