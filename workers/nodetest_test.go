package workers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/torrentnode/replicator/chain"
	"github.com/torrentnode/replicator/storage/index"
)

func openNodeTestStore(t *testing.T) *index.Store {
	t.Helper()
	s, err := index.Open(t.TempDir())
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func waitForWatermark(t *testing.T, w *NodeTest, height uint64) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if w.GetInitBlockNumber() >= height {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("watermark did not reach %d", height)
}

func TestNodeTestRecordsRpsAndLastResult(t *testing.T) {
	store := openNodeTestStore(t)
	w, err := NewNodeTest(store, nil)
	if err != nil {
		t.Fatalf("NewNodeTest: %v", err)
	}
	go w.Run()
	defer w.Stop()

	report := chain.NodeTestReport{
		Method: "mhAddNodeCheckResult",
		Params: chain.NodeTestReportParams{
			Type: "full", Version: "1.0", Address: "server-a",
			Host: "1.2.3.4", Geo: "eu", Success: "true", RPS: "41",
		},
	}
	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal report: %v", err)
	}

	tx := chain.TransactionInfo{Status: chain.IntentNodeTest, Data: data, BlockHeight: 1}
	bi := blockFixture(1, chain.KindSimple, tx)

	w.Enqueue(bi, nil)
	waitForWatermark(t, w, 1)

	last, ok, err := store.GetNodeLastResult("server-a")
	if err != nil {
		t.Fatalf("GetNodeLastResult: %v", err)
	}
	if !ok {
		t.Fatalf("expected a last-result record for server-a")
	}
	if !last.Success || last.RPS != 42 {
		t.Fatalf("unexpected last result: %+v", last)
	}
}

func TestNodeTestZeroesRpsOnFailure(t *testing.T) {
	store := openNodeTestStore(t)
	w, err := NewNodeTest(store, nil)
	if err != nil {
		t.Fatalf("NewNodeTest: %v", err)
	}
	go w.Run()
	defer w.Stop()

	report := chain.NodeTestReport{
		Method: "mhAddNodeCheckResult",
		Params: chain.NodeTestReportParams{Address: "server-b", Success: "false", RPS: "99"},
	}
	data, _ := json.Marshal(report)
	tx := chain.TransactionInfo{Status: chain.IntentNodeTest, Data: data, BlockHeight: 1}

	w.Enqueue(blockFixture(1, chain.KindSimple, tx), nil)
	waitForWatermark(t, w, 1)

	last, ok, err := store.GetNodeLastResult("server-b")
	if err != nil || !ok {
		t.Fatalf("GetNodeLastResult: ok=%v err=%v", ok, err)
	}
	if last.Success || last.RPS != 0 {
		t.Fatalf("expected zeroed rps on failed test, got %+v", last)
	}
}

func TestNodeTestBumpsDayOnStateBlock(t *testing.T) {
	store := openNodeTestStore(t)
	w, err := NewNodeTest(store, nil)
	if err != nil {
		t.Fatalf("NewNodeTest: %v", err)
	}
	go w.Run()
	defer w.Stop()

	w.Enqueue(blockFixture(1, chain.KindState), nil)
	waitForWatermark(t, w, 1)

	day, ok, err := store.GetNodeStatDayNumber()
	if err != nil {
		t.Fatalf("GetNodeStatDayNumber: %v", err)
	}
	if !ok || day.Day != 1 {
		t.Fatalf("expected day to bump to 1, got %+v ok=%v", day, ok)
	}
}

func TestNodeTestRegistersNodeFromMethodCall(t *testing.T) {
	store := openNodeTestStore(t)
	w, err := NewNodeTest(store, nil)
	if err != nil {
		t.Fatalf("NewNodeTest: %v", err)
	}
	go w.Run()
	defer w.Stop()

	call := chain.NodeRegisterCall{
		Method: "mh-noderegistration",
		Params: chain.NodeRegisterCallParams{Host: "node.example", Name: "Node One", Type: "full"},
	}
	data, _ := json.Marshal(call)
	tx := chain.TransactionInfo{Status: chain.IntentSuccess, Data: data, BlockHeight: 1}

	w.Enqueue(blockFixture(1, chain.KindSimple, tx), nil)
	waitForWatermark(t, w, 1)

	entry, ok, err := store.GetNodeRegistryEntry("node.example")
	if err != nil {
		t.Fatalf("GetNodeRegistryEntry: %v", err)
	}
	if !ok || entry.Name != "Node One" {
		t.Fatalf("unexpected registry entry: %+v ok=%v", entry, ok)
	}
}

func TestNodeTestWatermarkGatesReplay(t *testing.T) {
	store := openNodeTestStore(t)
	w, err := NewNodeTest(store, nil)
	if err != nil {
		t.Fatalf("NewNodeTest: %v", err)
	}
	go w.Run()
	defer w.Stop()

	w.Enqueue(blockFixture(1, chain.KindState), nil)
	waitForWatermark(t, w, 1)

	// Re-submitting height 1 must be a no-op (idempotence, spec §4.5).
	w.Enqueue(blockFixture(1, chain.KindState), nil)
	time.Sleep(20 * time.Millisecond)

	day, ok, err := store.GetNodeStatDayNumber()
	if err != nil || !ok || day.Day != 1 {
		t.Fatalf("expected day to remain 1 after replay, got %+v ok=%v err=%v", day, ok, err)
	}
}
