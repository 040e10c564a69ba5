package index

import (
	"testing"

	"github.com/torrentnode/replicator/chain"
)

func TestNodeStatBlockRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, ok, err := s.GetNodeStatBlock(); err != nil || ok {
		t.Fatalf("expected absent watermark, got ok=%v err=%v", ok, err)
	}

	b := s.NewBatch()
	want := NodeStatBlockInfo{Height: 7, Hash: chain.Hash{9}}
	if err := b.PutNodeStatBlock(want); err != nil {
		t.Fatalf("PutNodeStatBlock: %v", err)
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, ok, err := s.GetNodeStatBlock()
	if err != nil || !ok || got != want {
		t.Fatalf("got %+v ok=%v err=%v, want %+v", got, ok, err, want)
	}
}

func TestNodeStatDayNumberDefaultsToZero(t *testing.T) {
	s := openTestStore(t)

	b := s.NewBatch()
	defer b.Discard()
	day, ok, err := b.GetNodeStatDayNumber()
	if err != nil {
		t.Fatalf("GetNodeStatDayNumber: %v", err)
	}
	if ok {
		t.Fatalf("expected absent day number, got %+v", day)
	}
	if day.Day != 0 {
		t.Fatalf("zero value should be day 0, got %d", day.Day)
	}
}

func TestNodeRpsAccumulatesAcrossPuts(t *testing.T) {
	s := openTestStore(t)

	b := s.NewBatch()
	defer b.Discard()

	rps, _, err := b.GetNodeRps("server-a", 3)
	if err != nil {
		t.Fatalf("GetNodeRps: %v", err)
	}
	rps.Values = append(rps.Values, 10, 20)
	if err := b.PutNodeRps("server-a", 3, rps); err != nil {
		t.Fatalf("PutNodeRps: %v", err)
	}

	got, ok, err := b.GetNodeRps("server-a", 3)
	if err != nil || !ok {
		t.Fatalf("GetNodeRps after put: ok=%v err=%v", ok, err)
	}
	if len(got.Values) != 2 || got.Values[0] != 10 || got.Values[1] != 20 {
		t.Fatalf("unexpected rps values: %+v", got.Values)
	}

	otherDay, ok, err := b.GetNodeRps("server-a", 4)
	if err != nil {
		t.Fatalf("GetNodeRps other day: %v", err)
	}
	if ok {
		t.Fatalf("day 4 should be independent of day 3, got %+v", otherDay)
	}
}

func TestNodeRegistryScanOrdersByHost(t *testing.T) {
	s := openTestStore(t)

	b := s.NewBatch()
	for _, host := range []string{"b.example", "a.example", "c.example"} {
		if err := b.PutNodeRegistryEntry(host, NodeRegistryEntry{Host: host, Name: "n-" + host}); err != nil {
			t.Fatalf("PutNodeRegistryEntry(%s): %v", host, err)
		}
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	var hosts []string
	err := s.ScanNodeRegistry(func(host string, entry NodeRegistryEntry) bool {
		hosts = append(hosts, host)
		return true
	})
	if err != nil {
		t.Fatalf("ScanNodeRegistry: %v", err)
	}
	want := []string{"a.example", "b.example", "c.example"}
	if len(hosts) != len(want) {
		t.Fatalf("got %v, want %v", hosts, want)
	}
	for i := range want {
		if hosts[i] != want[i] {
			t.Fatalf("got %v, want %v", hosts, want)
		}
	}
}

func TestNodeTrustRoundTrip(t *testing.T) {
	s := openTestStore(t)
	addr := addrFixture(t, 0x05)

	b := s.NewBatch()
	want := chain.TrustRecord{Address: addr, Trust: 0.75, BlockHeight: 100}
	if err := b.PutNodeTrust(addr, want); err != nil {
		t.Fatalf("PutNodeTrust: %v", err)
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, ok, err := s.GetNodeTrust(addr)
	if err != nil || !ok {
		t.Fatalf("GetNodeTrust: ok=%v err=%v", ok, err)
	}
	if got.Trust != want.Trust || got.BlockHeight != want.BlockHeight {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}
