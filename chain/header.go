package chain

// Hash is a 32-byte content hash (block or transaction).
type Hash [32]byte

// BlockKind is the closed set of block kinds carried by BlockHeader (spec §3).
type BlockKind uint8

const (
	KindSimple BlockKind = iota
	KindForging
	KindState
	KindSign
	KindRejectedTxs
)

// BlockSlot is the position a block occupies within one emitted window
// (spec §4.4 step 4): side blocks attach to their host block's height.
type BlockSlot uint8

const (
	SlotBeforeBlock BlockSlot = 0
	SlotBlock       BlockSlot = 1
	SlotAfterBlock  BlockSlot = 2
)

// BlockHeader is the durable, append-only record created on block
// acceptance (spec §3). It is never mutated after creation.
type BlockHeader struct {
	Hash       Hash
	ParentHash Hash
	Height     uint64

	Size     uint64
	FilePath string
	FileOffset uint64

	Kind BlockKind

	ProducerSignature []byte
	ProducerPubKey    []byte
	ProducerAddress   Address

	TxCount       uint32
	SigningTxCount uint32
}

// BlockChain is the ordered sequence of accepted headers, 1-indexed by
// height, with a hash->height lookup (spec §3).
type BlockChain struct {
	headers    []BlockHeader // headers[0] is height 1
	hashToIdx  map[Hash]uint64
}

// NewBlockChain returns an empty chain.
func NewBlockChain() *BlockChain {
	return &BlockChain{hashToIdx: make(map[Hash]uint64)}
}

// Height returns the current chain height (0 if empty).
func (c *BlockChain) Height() uint64 {
	return uint64(len(c.headers))
}

// Append extends the chain by exactly one header. The caller is responsible
// for assigning h.Height deterministically (localHeight+1) before calling.
func (c *BlockChain) Append(h BlockHeader) {
	c.headers = append(c.headers, h)
	c.hashToIdx[h.Hash] = h.Height
}

// HeaderAt returns the header for a 1-indexed height, or false if absent.
func (c *BlockChain) HeaderAt(height uint64) (BlockHeader, bool) {
	if height == 0 || height > uint64(len(c.headers)) {
		return BlockHeader{}, false
	}
	return c.headers[height-1], true
}

// HeightOf returns the height of a known hash, or false if unknown.
func (c *BlockChain) HeightOf(hash Hash) (uint64, bool) {
	h, ok := c.hashToIdx[hash]
	return h, ok
}

// Tip returns the last accepted header, or false if the chain is empty.
func (c *BlockChain) Tip() (BlockHeader, bool) {
	if len(c.headers) == 0 {
		return BlockHeader{}, false
	}
	return c.headers[len(c.headers)-1], true
}
