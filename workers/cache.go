package workers

import (
	"strconv"
	"sync"

	"github.com/torrentnode/replicator/chain"
	"github.com/torrentnode/replicator/log"
)

var cacheLog = log.New("workers.cache")

// BlockCache and TxCache are the in-memory sinks for recent block dumps and
// transactions. They are populated exclusively by Cache (C8); nothing else
// writes to them, and the API stub (D3) reads only the index store.
type BlockCache interface {
	PutBlockDump(hash chain.Hash, attribute string, dump []byte)
	EvictAttribute(attribute string)
}

type TxCache interface {
	PutTransaction(hash chain.Hash, attribute string, tx chain.TransactionInfo)
	EvictAttribute(attribute string)
}

// ringCache is a bounded cache keyed by an arbitrary key, with entries
// additionally tagged by an "attribute" (here, the block height that
// produced them) so a whole height's worth of entries can be evicted in one
// call. This is NOT recency-based LRU: grounded on `Cache/Cache.h`'s
// addValue/remove(attribute) pair, where eviction is driven by the
// `height - cap` ring window (spec §4.5 "bounded LRU/ring eviction", §9
// "Attribute tag"), so a plain hashicorp/golang-lru instance (pure
// recency, no secondary attribute index) cannot express it.
type ringCache struct {
	mu         sync.Mutex
	values     map[interface{}]interface{}
	byAttr     map[string][]interface{}
}

func newRingCache() *ringCache {
	return &ringCache{
		values: make(map[interface{}]interface{}),
		byAttr: make(map[string][]interface{}),
	}
}

func (c *ringCache) add(key interface{}, attribute string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	c.byAttr[attribute] = append(c.byAttr[attribute], key)
}

func (c *ringCache) evict(attribute string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys, ok := c.byAttr[attribute]
	if !ok {
		return
	}
	for _, k := range keys {
		delete(c.values, k)
	}
	delete(c.byAttr, attribute)
}

func (c *ringCache) get(key interface{}) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *ringCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}

// MemBlockCache and MemTxCache are the concrete ringCache-backed
// implementations of BlockCache/TxCache.
type MemBlockCache struct{ ring *ringCache }

func NewMemBlockCache() *MemBlockCache { return &MemBlockCache{ring: newRingCache()} }

func (c *MemBlockCache) PutBlockDump(hash chain.Hash, attribute string, dump []byte) {
	c.ring.add(hash, attribute, dump)
}
func (c *MemBlockCache) EvictAttribute(attribute string) { c.ring.evict(attribute) }

// GetBlockDump returns a cached dump by hash, if present.
func (c *MemBlockCache) GetBlockDump(hash chain.Hash) ([]byte, bool) {
	v, ok := c.ring.get(hash)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// Len reports the number of cached entries (for tests/metrics).
func (c *MemBlockCache) Len() int { return c.ring.len() }

type MemTxCache struct{ ring *ringCache }

func NewMemTxCache() *MemTxCache { return &MemTxCache{ring: newRingCache()} }

func (c *MemTxCache) PutTransaction(hash chain.Hash, attribute string, tx chain.TransactionInfo) {
	c.ring.add(hash, attribute, tx)
}
func (c *MemTxCache) EvictAttribute(attribute string) { c.ring.evict(attribute) }

// GetTransaction returns a cached transaction by hash, if present.
func (c *MemTxCache) GetTransaction(hash chain.Hash) (chain.TransactionInfo, bool) {
	v, ok := c.ring.get(hash)
	if !ok {
		return chain.TransactionInfo{}, false
	}
	return v.(chain.TransactionInfo), true
}

func (c *MemTxCache) Len() int { return c.ring.len() }

// Cache is the cache worker (C8, spec §4.5): populates the block-dump and
// tx in-memory caches and evicts the entry that falls outside the
// `maxCountElements*` ring window. Grounded on
// `original_source/src/Workers/WorkerCache.cpp`.
type Cache struct {
	blocks BlockCache
	txs    TxCache

	maxBlockElements int
	maxTxElements    int

	queue *workQueue
}

// NewCache builds a cache worker writing into blocks/txs, bounded by
// maxBlockElements/maxTxElements (0 disables that half of the cache,
// mirroring `caches.maxCountElementsBlockCache == 0`).
func NewCache(blocks BlockCache, txs TxCache, maxBlockElements, maxTxElements int) *Cache {
	return &Cache{
		blocks:           blocks,
		txs:              txs,
		maxBlockElements: maxBlockElements,
		maxTxElements:    maxTxElements,
		queue:            newWorkQueue(),
	}
}

// GetInitBlockNumber always returns 0: the cache is purely in-memory and
// carries no durable watermark (original's getInitBlockNumber returns
// std::nullopt; here the driver simply never gates it by height).
func (c *Cache) GetInitBlockNumber() uint64 { return 0 }

// Enqueue submits a block for caching.
func (c *Cache) Enqueue(bi *chain.BlockInfo, dump []byte) {
	c.queue.push(workItem{bi: bi, dump: dump})
}

// QueueDepth reports items not yet cached (for metrics).
func (c *Cache) QueueDepth() int { return c.queue.depth() }

// Run drains the queue until Stop closes it.
func (c *Cache) Run() {
	for {
		item, ok := c.queue.pop()
		if !ok {
			return
		}
		c.processBlock(item.bi, item.dump)
	}
}

// Stop closes the queue; Run returns once it has drained.
func (c *Cache) Stop() { c.queue.close() }

func (c *Cache) processBlock(bi *chain.BlockInfo, dump []byte) {
	attribute := strconv.FormatUint(bi.Header.Height, 10)

	if c.maxBlockElements != 0 {
		c.blocks.PutBlockDump(bi.Header.Hash, attribute, dump)
		if bi.Header.Height > uint64(c.maxBlockElements) {
			c.blocks.EvictAttribute(strconv.FormatUint(bi.Header.Height-uint64(c.maxBlockElements), 10))
		}
	}

	if c.maxTxElements != 0 {
		for _, tx := range bi.Txs {
			if tx.Status == chain.IntentNodeTest {
				continue
			}
			c.txs.PutTransaction(tx.Hash, attribute, tx)
		}
		if bi.Header.Height > uint64(c.maxTxElements) {
			c.txs.EvictAttribute(strconv.FormatUint(bi.Header.Height-uint64(c.maxTxElements), 10))
		}
	}

	cacheLog.Info("block saved to cache", "height", bi.Header.Height)
}
