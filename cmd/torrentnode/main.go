// Command torrentnode is the process entrypoint (A3, SPEC_FULL §4): it
// parses `<config.libconfig> [true]` (spec §6), wires every component, runs
// the §4.4 driver loop until SIGINT/SIGTERM, and waits for the current
// block plus worker drains to finish before exiting. Grounded on
// `jeongkyun-oh-klaytn/cmd/kcn/main.go`'s urfave/cli v1 app skeleton.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/torrentnode/replicator/blocksource"
	"github.com/torrentnode/replicator/chain"
	"github.com/torrentnode/replicator/config"
	"github.com/torrentnode/replicator/fetcher"
	"github.com/torrentnode/replicator/log"
	"github.com/torrentnode/replicator/metrics"
	"github.com/torrentnode/replicator/p2p"
	"github.com/torrentnode/replicator/storage/index"
	"github.com/torrentnode/replicator/storage/rawfile"
	"github.com/torrentnode/replicator/workers"
)

var logger = log.New("cmd.torrentnode")

// roundCadence is the §4.4 Idle floor: "sleep until the next round (target
// 500 ms cadence)".
const roundCadence = 500 * time.Millisecond

// maxRawFileSize is the rotation threshold for the on-disk raw block-file
// stream (spec §3 "The driver may rotate to a new file").
const maxRawFileSize = 512 * 1024 * 1024

// errRewound signals that a chain conflict forced the driver to truncate
// the raw file and wipe the derived store (spec §3 "Rewinds ... forcing a
// full re-index"); the process must exit so an operator/supervisor
// restarts it against a clean store.
var errRewound = errors.New("cmd/torrentnode: chain conflict, store rewound; restart required")

func main() {
	app := cli.NewApp()
	app.Name = "torrentnode"
	app.Usage = "read-only P2P blockchain replication node"
	app.ArgsUsage = "<config.libconfig> [true]"
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	configPath := c.Args().Get(0)
	if configPath == "" {
		return cli.NewExitError("torrentnode: config path is required", 1)
	}
	if c.Args().Get(1) == "true" {
		log.EnableConsole()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("torrentnode: load config: %v", err), 1)
	}

	node, err := buildNode(cfg)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("torrentnode: %v", err), 1)
	}
	defer node.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	node.Run(stop)
	return nil
}

// node bundles every component A3 wires together.
type node struct {
	cfg    config.Config
	store  *index.Store
	raw    *rawfile.Writer
	source *blocksource.Source

	indexer  *workers.Indexer
	cache    *workers.Cache
	nodeTest *workers.NodeTest

	feed   *workers.KafkaFeed
	mirror *workers.NodeRegistrySQLMirror

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func buildNode(cfg config.Config) (*node, error) {
	store, err := index.Open(cfg.PathToDb)
	if err != nil {
		return nil, fmt.Errorf("open index store: %w", err)
	}

	modules := moduleBitmap(cfg)
	if err := store.FreezeModules(uint64(modules)); err != nil {
		store.Close()
		return nil, fmt.Errorf("freeze modules: %w", err)
	}

	raw, err := openRawFile(cfg, store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open raw block file: %w", err)
	}

	var peers []*p2p.Peer
	for _, endpoint := range cfg.Peers {
		peers = append(peers, p2p.NewPeer(endpoint, endpoint, cfg.CountConnections))
	}
	pool := p2p.NewPool(peers, cfg.CountConnections)

	f := fetcher.New(pool, cfg.MaxAdvancedLoadBlocks, cfg.CountBlocksInBatch, cfg.MaxCountElementsBlockCache, cfg.IsCompress)
	source := blocksource.New(f, cfg.IsVerifySign, cfg.IsPreLoad)
	source.Initialize()

	var feed *workers.KafkaFeed
	if cfg.Kafka != nil {
		feed, err = workers.NewKafkaFeed(cfg.Kafka.Brokers)
		if err != nil {
			logger.Warn("kafka feed disabled", "err", err.Error())
			feed = nil
		}
	}

	indexer, err := workers.NewIndexer(store, modules, publisherOrNil(feed))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("new indexer: %w", err)
	}

	cache := workers.NewCache(workers.NewMemBlockCache(), workers.NewMemTxCache(), cfg.MaxCountElementsBlockCache, cfg.MaxCountElementsTxsCache)

	var mirror *workers.NodeRegistrySQLMirror
	if cfg.NodeRegistrySQL != nil {
		mirror, err = workers.OpenNodeRegistrySQLMirror(cfg.NodeRegistrySQL.Driver, cfg.NodeRegistrySQL.DSN)
		if err != nil {
			logger.Warn("node registry sql mirror disabled", "err", err.Error())
			mirror = nil
		}
	}

	var nodeTest *workers.NodeTest
	if cfg.HasModule(config.ModuleNodeTest) {
		nodeTest, err = workers.NewNodeTest(store, mirrorOrNil(mirror))
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("new node-test worker: %w", err)
		}
	}

	return &node{
		cfg:      cfg,
		store:    store,
		raw:      raw,
		source:   source,
		indexer:  indexer,
		cache:    cache,
		nodeTest: nodeTest,
		feed:     feed,
		mirror:   mirror,
	}, nil
}

// openRawFile resumes the on-disk raw block-file stream at the end of the
// last durably-committed block (spec §4.4 "Ordering": the driver is the
// sole owner of the stream). A fresh store starts a fresh file.
func openRawFile(cfg config.Config, store *index.Store) (*rawfile.Writer, error) {
	meta, ok, err := store.GetMainMeta()
	if err != nil {
		return nil, fmt.Errorf("read watermark: %w", err)
	}
	if !ok || meta.Height == 0 {
		return rawfile.Open(cfg.PathToFolder, maxRawFileSize, "", 0)
	}

	header, ok, err := store.GetBlockHeader(meta.Hash)
	if err != nil {
		return nil, fmt.Errorf("read last committed header: %w", err)
	}
	if !ok || header.FilePath == "" {
		return rawfile.Open(cfg.PathToFolder, maxRawFileSize, "", 0)
	}
	return rawfile.Open(cfg.PathToFolder, maxRawFileSize, header.FilePath, header.FileOffset+header.Size)
}

func publisherOrNil(f *workers.KafkaFeed) workers.BlockPublisher {
	if f == nil {
		return nil
	}
	return f
}

func mirrorOrNil(m *workers.NodeRegistrySQLMirror) workers.NodeRegistryMirror {
	if m == nil {
		return nil
	}
	return m
}

func moduleBitmap(cfg config.Config) workers.ModuleBitmap {
	var m workers.ModuleBitmap
	if cfg.HasModule(config.ModuleBlock) {
		m |= workers.ModuleBlock
	}
	if cfg.HasModule(config.ModuleBalance) {
		m |= workers.ModuleBalance
	}
	if cfg.HasModule(config.ModuleTxs) {
		m |= workers.ModuleTxs
	}
	if cfg.HasModule(config.ModuleAddrTxs) {
		m |= workers.ModuleAddrTxs
	}
	if m == 0 {
		m = workers.AllModules
	}
	return m
}

// Run starts every worker goroutine and drives the §4.4 pull loop until
// stop fires, then waits for the current block and worker drains to finish
// (spec §5 "Cancellation & shutdown").
func (n *node) Run(stop <-chan os.Signal) {
	n.wg.Add(1)
	go func() { defer n.wg.Done(); n.indexer.Run() }()
	n.wg.Add(1)
	go func() { defer n.wg.Done(); n.cache.Run() }()
	if n.nodeTest != nil {
		n.wg.Add(1)
		go func() { defer n.wg.Done(); n.nodeTest.Run() }()
	}

	stopped := make(chan struct{})
	go func() {
		<-stop
		logger.Info("shutdown signal received")
		close(stopped)
	}()

	if err := n.driverLoop(stopped); err != nil {
		logger.Error("driver loop stopped", "err", err.Error())
	}

	n.indexer.Stop()
	n.cache.Stop()
	if n.nodeTest != nil {
		n.nodeTest.Stop()
	}
	n.wg.Wait()
}

// driverLoop repeats one §4.4 round (Discover and Preload via DoProcess,
// then Drain via Process, then Idle) until stopped closes or a conflict
// forces a rewind (errRewound). A round whose DoProcess reports no new
// blocks goes straight to Idle without calling Process, so tip side blocks
// that DoProcess queues as tail additions in such a round are not emitted.
func (n *node) driverLoop(stopped <-chan struct{}) error {
	for {
		select {
		case <-stopped:
			return nil
		default:
		}

		meta, _, err := n.store.GetMainMeta()
		if err != nil {
			logger.Error("read watermark failed", "err", err.Error())
			n.sleepRound(stopped)
			continue
		}

		start := time.Now()
		cont, tip, err := n.source.DoProcess(meta.Height)
		if err != nil {
			logger.Warn("round discover failed, retrying", "err", err.Error())
			n.sleepRound(stopped)
			continue
		}
		if !cont {
			n.sleepRound(stopped)
			continue
		}

		if err := n.drain(tip, stopped); err != nil {
			return err
		}

		metrics.RoundDuration.Observe(time.Since(start).Seconds())
		metrics.Sample("indexer", n.indexer)
		metrics.Sample("cache", n.cache)
		if n.nodeTest != nil {
			metrics.Sample("nodetest", n.nodeTest)
		}
	}
}

func (n *node) drain(tip uint64, stopped <-chan struct{}) error {
	for {
		select {
		case <-stopped:
			return nil
		default:
		}

		bi, dump, ok, err := n.source.Process()
		if err != nil {
			logger.Error("round aborted on parse/verify failure", "err", err.Error())
			return nil
		}
		if !ok {
			return nil
		}
		if err := n.dispatch(bi, dump); err != nil {
			return err
		}
	}
}

// dispatch commits one accepted block's dump to the on-disk raw block file
// (spec §2 "C5 -> save raw block file -> C7, C8, C9"), stamps the resulting
// file-relative path and absolute byte offsets onto the header and every
// transaction, and then hands it to every worker queue. Grounded on
// `original_source/src/SyncImpl.cpp`'s saveTransactionToFile, which stamps
// `bi.header.filePos.pos` and each tx's filePos the same way before the
// block is committed to leveldb.
func (n *node) dispatch(bi *chain.BlockInfo, dump []byte) error {
	if meta, ok, err := n.store.GetMainMeta(); err == nil && ok && meta.Height > 0 && meta.Hash != bi.Header.ParentHash {
		logger.Error(fmt.Sprintf("chain conflict detected at height %d: stored %x, block wants %x, rewinding",
			bi.Header.Height, meta.Hash, bi.Header.ParentHash))
		if rerr := n.rewind(meta); rerr != nil {
			return fmt.Errorf("rewind after conflict: %w", rerr)
		}
		return errRewound
	}

	relPath, baseOffset, err := n.raw.Append(dump)
	if err != nil {
		return fmt.Errorf("append raw block file: %w", err)
	}
	bi.Header.FilePath = relPath
	bi.Header.FileOffset = baseOffset
	for i := range bi.Txs {
		bi.Txs[i].FileOffset += baseOffset
	}

	n.indexer.Enqueue(bi, dump)
	n.cache.Enqueue(bi, dump)
	if n.nodeTest != nil {
		n.nodeTest.Enqueue(bi, dump)
	}
	return nil
}

// rewind implements the §3 lifecycle rule: "Rewinds (on detected conflict)
// truncate the tail file and delete the entire derived store, forcing a
// full re-index." It truncates the raw file back to the last known-good
// block's own end offset, then drops the badger store outright; the
// process exits afterward and a restart re-indexes from genesis via p2p.
func (n *node) rewind(meta index.MainBlockInfo) error {
	header, ok, err := n.store.GetBlockHeader(meta.Hash)
	if err != nil {
		return fmt.Errorf("read last-good header: %w", err)
	}
	if ok && header.FilePath != "" {
		if err := n.raw.Truncate(header.FilePath, header.FileOffset+header.Size); err != nil {
			return fmt.Errorf("truncate raw file: %w", err)
		}
	}
	n.Close()
	if err := os.RemoveAll(n.cfg.PathToDb); err != nil {
		return fmt.Errorf("remove derived store: %w", err)
	}
	return nil
}

func (n *node) sleepRound(stopped <-chan struct{}) {
	select {
	case <-stopped:
	case <-time.After(roundCadence):
	}
}

// Close releases the store, raw file, and any optional auxiliary sinks. A
// prior rewind already closed the store and raw file, so this is a no-op
// for those in that case.
func (n *node) Close() {
	n.closeOnce.Do(func() {
		if n.feed != nil {
			n.feed.Close()
		}
		if n.mirror != nil {
			n.mirror.Close()
		}
		n.raw.Close()
		n.store.Close()
	})
}
