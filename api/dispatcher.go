// Package api is the minimal JSON-RPC-shaped dispatcher stub (D3,
// SPEC_FULL §4): spec §1 places the actual HTTP/JSON transport out of
// scope ("a thin dispatcher over core queries"), so this package owns only
// the method -> handler mapping and the read-only queries against
// storage/index, never a server.
package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/torrentnode/replicator/chain"
	"github.com/torrentnode/replicator/storage/index"
)

// ErrUnknownMethod is returned by Handle for an unregistered method; a real
// transport maps this to JSON-RPC code -32602 (spec §7 "User/API").
var ErrUnknownMethod = errors.New("api: unknown method")

// Handler answers one JSON-RPC-shaped call.
type Handler func(params json.RawMessage) (interface{}, error)

// Dispatcher is the entire external surface this package owns: register a
// method, then Handle it. No HTTP listener is implemented here.
type Dispatcher struct {
	store   *index.Store
	methods map[string]Handler
}

// New builds a Dispatcher with getblock/getbalance/getlastblock registered
// against store.
func New(store *index.Store) *Dispatcher {
	d := &Dispatcher{store: store, methods: make(map[string]Handler)}
	d.methods["getblock"] = d.getBlock
	d.methods["getbalance"] = d.getBalance
	d.methods["getlastblock"] = d.getLastBlock
	return d
}

// Handle dispatches method with params, returning ErrUnknownMethod if
// method was never registered.
func (d *Dispatcher) Handle(method string, params json.RawMessage) (interface{}, error) {
	h, ok := d.methods[method]
	if !ok {
		return nil, ErrUnknownMethod
	}
	return h(params)
}

type getBlockParams struct {
	Hash string `json:"hash"`
}

func (d *Dispatcher) getBlock(params json.RawMessage) (interface{}, error) {
	var p getBlockParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(p.Hash)
	if err != nil || len(raw) != len(chain.Hash{}) {
		return nil, errors.New("api: hash must be a 32-byte hex string")
	}
	var hash chain.Hash
	copy(hash[:], raw)

	header, ok, err := d.store.GetBlockHeader(hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("api: block not found")
	}
	return header, nil
}

type getBalanceParams struct {
	Address string `json:"address"`
}

func (d *Dispatcher) getBalance(params json.RawMessage) (interface{}, error) {
	var p getBalanceParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	addr, err := chain.ParseAddress(p.Address)
	if err != nil {
		return nil, err
	}
	bal, _, err := d.store.GetBalance(addr)
	if err != nil {
		return nil, err
	}
	return bal, nil
}

func (d *Dispatcher) getLastBlock(params json.RawMessage) (interface{}, error) {
	meta, _, err := d.store.GetMainMeta()
	if err != nil {
		return nil, err
	}
	return meta, nil
}
