package workers

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/torrentnode/replicator/chain"
	"github.com/torrentnode/replicator/log"
	"github.com/torrentnode/replicator/storage/index"
)

var nodeTestLog = log.New("workers.nodetest")

// NodeRegistryMirror is the optional D1 SQL mirror; the node-test worker
// calls it after a successful commit, never blocking on its result (spec
// §4.5, SPEC_FULL D1).
type NodeRegistryMirror interface {
	UpsertNode(host string, entry index.NodeRegistryEntry)
}

// NodeTest is the node-tester-statistics worker (C9, spec §4.5), grounded
// on `original_source/src/Workers/WorkerNodeTest.cpp`. Per block: test
// reports update per-(server, day) RPS arrays and the server's last
// result, State-block `trust` fields are recorded, `mh-noderegistration` /
// `mhRegisterNode` calls upsert the all-nodes registry, and State blocks
// bump the day counter.
type NodeTest struct {
	store  *index.Store
	mirror NodeRegistryMirror
	queue  *workQueue

	mu        sync.Mutex
	lastSaved uint64
}

// NewNodeTest opens the worker against store, resuming its watermark from
// `node_stat_block` (spec §4.5 "An initial watermark read from the store
// at startup").
func NewNodeTest(store *index.Store, mirror NodeRegistryMirror) (*NodeTest, error) {
	meta, _, err := store.GetNodeStatBlock()
	if err != nil {
		return nil, err
	}
	return &NodeTest{store: store, mirror: mirror, queue: newWorkQueue(), lastSaved: meta.Height}, nil
}

// GetInitBlockNumber reports the worker's current watermark: the height it
// resumed from, advanced after each committed block.
func (w *NodeTest) GetInitBlockNumber() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSaved
}

// QueueDepth reports blocks not yet applied (for metrics).
func (w *NodeTest) QueueDepth() int { return w.queue.depth() }

// Enqueue submits a block for processing; heights at or below the
// watermark are dropped (spec §4.5 idempotence).
func (w *NodeTest) Enqueue(bi *chain.BlockInfo, dump []byte) {
	w.mu.Lock()
	last := w.lastSaved
	w.mu.Unlock()
	if bi.Header.Height <= last {
		return
	}
	w.queue.push(workItem{bi: bi, dump: dump})
}

// Run drains the queue until Stop closes it.
func (w *NodeTest) Run() {
	for {
		item, ok := w.queue.pop()
		if !ok {
			return
		}
		if err := w.processBlock(item.bi); err != nil {
			nodeTestLog.Error("index node-test block failed", "height", item.bi.Header.Height, "err", err)
		}
	}
}

// Stop closes the queue; Run returns once it has drained.
func (w *NodeTest) Stop() { w.queue.close() }

func (w *NodeTest) processBlock(bi *chain.BlockInfo) error {
	meta, _, err := w.store.GetNodeStatBlock()
	if err != nil {
		return err
	}
	if bi.Header.Height <= meta.Height {
		return nil
	}
	if meta.Height > 0 && meta.Hash != bi.Header.ParentHash {
		return fmt.Errorf("workers: node-test incorrect prev hash at height %d", bi.Header.Height)
	}

	batch := w.store.NewBatch()
	defer batch.Discard()

	day, _, err := batch.GetNodeStatDayNumber()
	if err != nil {
		return err
	}

	isState := bi.Header.Kind == chain.KindState
	rpsUpdates := map[string][]int64{}
	registryUpdates := map[string]index.NodeRegistryEntry{}

	for i := range bi.Txs {
		tx := &bi.Txs[i]
		switch {
		case tx.Status == chain.IntentNodeTest:
			w.collectTestReport(tx, day.Day, rpsUpdates, batch)
		case isState:
			if err := w.applyTrust(batch, tx, bi.Header.Height); err != nil {
				return err
			}
		default:
			collectRegistration(tx, registryUpdates)
		}
	}

	for addr, samples := range rpsUpdates {
		existing, _, err := batch.GetNodeRps(addr, day.Day)
		if err != nil {
			return err
		}
		existing.Values = append(existing.Values, samples...)
		if err := batch.PutNodeRps(addr, day.Day, existing); err != nil {
			return err
		}
	}

	for host, entry := range registryUpdates {
		if err := batch.PutNodeRegistryEntry(host, entry); err != nil {
			return err
		}
	}

	if isState {
		if err := batch.PutNodeStatDayNumber(index.NodeStatDayNumber{Day: day.Day + 1}); err != nil {
			return err
		}
	}

	if err := batch.PutNodeStatBlock(index.NodeStatBlockInfo{Height: bi.Header.Height, Hash: bi.Header.Hash}); err != nil {
		return err
	}

	if err := batch.Commit(); err != nil {
		return err
	}

	w.mu.Lock()
	w.lastSaved = bi.Header.Height
	w.mu.Unlock()

	if w.mirror != nil {
		for host, entry := range registryUpdates {
			w.mirror.UpsertNode(host, entry)
		}
	}
	return nil
}

// collectTestReport decodes a NodeTest-status tx's data as a report and
// folds it into this block's per-(server-address, day) RPS batch plus the
// server's last-result record. The last-result record is overwritten by
// every report; no best-of-day pick is computed or stored. Malformed
// payloads are logged and skipped, never fatal --
// mirrors the original's try/catch-per-transaction discipline.
func (w *NodeTest) collectTestReport(tx *chain.TransactionInfo, day uint64, rpsUpdates map[string][]int64, batch *index.Batch) {
	var report chain.NodeTestReport
	if err := json.Unmarshal(tx.Data, &report); err != nil {
		nodeTestLog.Warn("malformed node-test report", "hash", fmt.Sprintf("%x", tx.Hash), "err", err.Error())
		return
	}
	if report.Method != "mhAddNodeCheckResult" {
		return
	}
	p := report.Params
	if p.Address == "" {
		return
	}

	rps := parseRps(p)
	success := p.Success == "true"
	if !success {
		rps = 0
	}

	rpsUpdates[p.Address] = append(rpsUpdates[p.Address], rps)

	last := index.NodeLastResult{
		Day:         day,
		IP:          p.Host,
		Geo:         p.Geo,
		RPS:         rps,
		Success:     success,
		BlockHeight: tx.BlockHeight,
	}
	if err := batch.PutNodeLastResult(p.Address, last); err != nil {
		nodeTestLog.Warn("failed to record node-test last result", "address", p.Address, "err", err.Error())
	}
}

func parseRps(p chain.NodeTestReportParams) int64 {
	raw := p.RPS
	if raw == "" {
		raw = p.Latency
	}
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v + 1
}

// applyTrust records a State-block tx's `trust` field (spec §4.5 "For each
// tx in a State block carrying a trust field, write a trust record").
func (w *NodeTest) applyTrust(batch *index.Batch, tx *chain.TransactionInfo, blockHeight uint64) error {
	var payload chain.StateTrustPayload
	if err := json.Unmarshal(tx.Data, &payload); err != nil || payload.Trust == nil {
		return nil
	}
	return batch.PutNodeTrust(tx.To, chain.TrustRecord{
		Address:     tx.To,
		Trust:       float64(*payload.Trust),
		BlockHeight: blockHeight,
	})
}

// collectRegistration upserts an all-nodes registry entry from a
// `mh-noderegistration`/`mhRegisterNode` method call (spec §4.5).
func collectRegistration(tx *chain.TransactionInfo, registryUpdates map[string]index.NodeRegistryEntry) {
	data := tx.Data
	if len(data) == 0 || data[0] != '{' || data[len(data)-1] != '}' {
		return
	}
	var call chain.NodeRegisterCall
	if err := json.Unmarshal(data, &call); err != nil {
		return
	}
	method := strings.TrimSpace(call.Method)
	if method != "mh-noderegistration" && method != "mhRegisterNode" {
		return
	}
	if call.Params.Host == "" || call.Params.Name == "" {
		return
	}
	registryUpdates[call.Params.Host] = index.NodeRegistryEntry{
		Host:      call.Params.Host,
		Name:      call.Params.Name,
		NodeType:  call.Params.Type,
		UpdatedAt: time.Now().Unix(),
	}
}
