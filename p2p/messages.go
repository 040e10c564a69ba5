package p2p

import "encoding/json"

// Request is the P2P wire request envelope (spec §6): `{method, id?, params?}`.
type Request struct {
	Method string      `json:"method"`
	ID     string      `json:"id,omitempty"`
	Params interface{} `json:"params,omitempty"`
}

// Marshal encodes r as the JSON POST body for a peer call.
func (r Request) Marshal() []byte {
	b, _ := json.Marshal(r)
	return b
}

// CountBlocksResponse is the `get-count-blocks` reply (spec §6).
type CountBlocksResponse struct {
	CountBlocks uint64   `json:"count_blocks"`
	ExtraBlocks []string `json:"extraBlocks"`
}

// HeaderResponse is one element of the `get-block-by-number`/`get-blocks`
// reply (spec §6).
type HeaderResponse struct {
	Number   uint64 `json:"number"`
	Hash     string `json:"hash"`
	PrevHash string `json:"prev_hash"`
	Size     uint64 `json:"size"`
	FileName string `json:"fileName"`

	PrevExtraBlocks []string `json:"prevExtraBlocks,omitempty"`
	NextExtraBlocks []string `json:"nextExtraBlocks,omitempty"`
}

// DumpBlockParams is the `{fromByte, toByte, isHex, compress, isSign}`
// params object for ranged body fetches (spec §6).
type DumpBlockParams struct {
	Hash     string `json:"hash,omitempty"`
	Hashes   []string `json:"hashes,omitempty"`
	FromByte uint64 `json:"fromByte"`
	ToByte   uint64 `json:"toByte"`
	IsHex    bool   `json:"isHex"`
	Compress bool   `json:"compress"`
	IsSign   bool   `json:"isSign"`
}

// PreLoadParams is the `pre-load` request's params object (spec §4.3).
type PreLoadParams struct {
	CurrentHeight uint64 `json:"currentHeight"`
	Compress      bool   `json:"compress"`
	Sign          bool   `json:"sign"`
	Window        uint64 `json:"window"`
	MaxBlockSize  uint64 `json:"maxBlockSize"`
}

// MakeGetCountBlocksRequest builds the `get-count-blocks` request.
func MakeGetCountBlocksRequest() Request {
	return Request{Method: "get-count-blocks"}
}

// MakeGetBlockByNumberRequest builds a singleton `get-block-by-number` request.
func MakeGetBlockByNumberRequest(number uint64) Request {
	return Request{Method: "get-block-by-number", Params: map[string]uint64{"number": number}}
}

// MakeGetBlocksRequest builds a batched `get-blocks` request for a ranged
// header fetch.
func MakeGetBlocksRequest(from, count uint64) Request {
	return Request{Method: "get-blocks", Params: map[string]uint64{"from": from, "count": count}}
}

// MakeGetDumpBlockRequest builds a `get-dump-block-by-hash` request with
// ranged-fetch params.
func MakeGetDumpBlockRequest(hash string, fromByte, toByte uint64, isSign, compress bool) Request {
	return Request{Method: "get-dump-block-by-hash", Params: DumpBlockParams{
		Hash: hash, FromByte: fromByte, ToByte: toByte, IsSign: isSign, Compress: compress,
	}}
}

// MakeGetDumpsBlocksRequest builds a `get-dumps-blocks-by-hash` request for
// a batch of hashes.
func MakeGetDumpsBlocksRequest(hashes []string, isSign, compress bool) Request {
	return Request{Method: "get-dumps-blocks-by-hash", Params: DumpBlockParams{
		Hashes: hashes, IsSign: isSign, Compress: compress,
	}}
}

// MakePreLoadRequest builds the `pre-load` request.
func MakePreLoadRequest(currentHeight uint64, compress, sign bool, window, maxBlockSize uint64) Request {
	return Request{Method: "pre-load", Params: PreLoadParams{
		CurrentHeight: currentHeight, Compress: compress, Sign: sign, Window: window, MaxBlockSize: maxBlockSize,
	}}
}
