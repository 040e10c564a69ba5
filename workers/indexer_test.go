package workers

import (
	"math/big"
	"testing"
	"time"

	"github.com/torrentnode/replicator/chain"
	"github.com/torrentnode/replicator/storage/index"
)

func openIndexerStore(t *testing.T) *index.Store {
	t.Helper()
	s, err := index.Open(t.TempDir())
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func waitForIndexerWatermark(t *testing.T, ix *Indexer, height uint64) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ix.GetInitBlockNumber() >= height {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("watermark did not reach %d", height)
}

// TestIndexerPersistsBlockHeaderAndFileInfo covers the §3 raw-file/derived-
// store handoff: once the driver has stamped a block's FilePath/FileOffset
// (after appending its dump to the local raw file), the main indexer must
// durably record both the block header and the file's last-used offset.
func TestIndexerPersistsBlockHeaderAndFileInfo(t *testing.T) {
	store := openIndexerStore(t)
	ix, err := NewIndexer(store, AllModules, nil)
	if err != nil {
		t.Fatalf("NewIndexer: %v", err)
	}
	go ix.Run()
	defer ix.Stop()

	var hash chain.Hash
	hash[0] = 1
	bi := &chain.BlockInfo{
		Header: chain.BlockHeader{
			Hash: hash, Height: 1, Kind: chain.KindSimple,
			FilePath: "00000001.dat", FileOffset: 100, Size: 42,
		},
	}

	ix.Enqueue(bi, nil)
	waitForIndexerWatermark(t, ix, 1)

	header, ok, err := store.GetBlockHeader(hash)
	if err != nil {
		t.Fatalf("GetBlockHeader: %v", err)
	}
	if !ok {
		t.Fatalf("expected a persisted block header")
	}
	if header.FilePath != "00000001.dat" || header.FileOffset != 100 {
		t.Fatalf("unexpected header file fields: %+v", header)
	}

	info, ok, err := store.GetFileInfo("00000001.dat")
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	if !ok {
		t.Fatalf("expected a persisted file-info record")
	}
	if info.LastOffset != 142 {
		t.Fatalf("expected last offset 142 (FileOffset+Size), got %d", info.LastOffset)
	}
}

// TestIndexerAddressHistoryCarriesAbsoluteFileOffset checks that the
// per-address history record's offset is the transaction's own absolute
// file offset, not the block's base offset.
func TestIndexerAddressHistoryCarriesAbsoluteFileOffset(t *testing.T) {
	store := openIndexerStore(t)
	ix, err := NewIndexer(store, AllModules, nil)
	if err != nil {
		t.Fatalf("NewIndexer: %v", err)
	}
	go ix.Run()
	defer ix.Stop()

	from := addrFixtureFor(t, 0x10)
	to := addrFixtureFor(t, 0x11)

	var hash chain.Hash
	hash[0] = 2
	var txHash chain.Hash
	txHash[0] = 0xaa

	bi := &chain.BlockInfo{
		Header: chain.BlockHeader{
			Hash: hash, Height: 1, Kind: chain.KindSimple,
			FilePath: "00000001.dat", FileOffset: 100, Size: 20,
		},
		Txs: []chain.TransactionInfo{
			{Hash: txHash, From: from, To: to, Value: big.NewInt(5), FileOffset: 164, BlockHeight: 1, Status: chain.IntentSuccess},
		},
	}

	ix.Enqueue(bi, nil)
	waitForIndexerWatermark(t, ix, 1)

	var got index.AddressInfo
	found := false
	if err := store.ScanAddressHistory(from, func(seq uint64, info index.AddressInfo) bool {
		got = info
		found = true
		return false
	}); err != nil {
		t.Fatalf("ScanAddressHistory: %v", err)
	}
	if !found {
		t.Fatalf("expected an address history entry for %s", from.Hex())
	}
	if got.FilePath != "00000001.dat" || got.FileOffset != 164 {
		t.Fatalf("unexpected address history file fields: %+v", got)
	}
}

func addrFixtureFor(t *testing.T, tag byte) chain.Address {
	t.Helper()
	var raw [chain.AddressSize]byte
	raw[0] = tag
	return chain.NewAddressFromBytes(raw)
}
