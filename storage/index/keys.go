package index

import (
	"encoding/binary"

	"github.com/torrentnode/replicator/chain"
)

// Key prefixes mirror spec §6's logical keyspaces one-for-one.
const (
	prefixBlock      = "block:"
	keyMainMeta      = "main_meta"
	keyBlockMeta     = "block_meta"
	prefixFile       = "file:"
	prefixAddr       = "addr:"
	prefixAddrTok    = "addr_tok:"
	prefixAddrStatus = "addr_status:"
	prefixTx         = "tx:"
	prefixTxStatus   = "tx_status:"
	prefixBal        = "bal:"
	prefixTok        = "tok:"
	prefixDeleg      = "deleg:"
	keyForgeAll      = "forge_all"
	keyCommonBal     = "common_bal"
	keyModules       = "modules"
	keyVersion       = "version"

	keyNodeStatBlock     = "node_stat_block"
	keyNodeStatDayNumber = "node_stat_day_number"
	prefixNodeRps        = "node_rps:"
	prefixNodeLastResult = "node_last:"
	prefixNodeTrust      = "node_trust:"
	prefixNodeRegistry   = "node_registry:"
)

func seqSuffix(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}

func blockKey(hash chain.Hash) []byte {
	return append([]byte(prefixBlock), hash[:]...)
}

func fileKey(relPath string) []byte {
	return append([]byte(prefixFile), []byte(relPath)...)
}

func addrPrefix(addr chain.Address) []byte {
	b := addr.Bytes()
	return append([]byte(prefixAddr), b[:]...)
}

func addrKey(addr chain.Address, seq uint64) []byte {
	return append(addrPrefix(addr), seqSuffix(seq)...)
}

func addrTokPrefix(addr chain.Address) []byte {
	b := addr.Bytes()
	return append([]byte(prefixAddrTok), b[:]...)
}

func addrTokKey(addr chain.Address, seq uint64) []byte {
	return append(addrTokPrefix(addr), seqSuffix(seq)...)
}

func addrStatusKey(addr chain.Address, txHash chain.Hash) []byte {
	b := addr.Bytes()
	key := append([]byte(prefixAddrStatus), b[:]...)
	return append(key, txHash[:]...)
}

func txKey(txHash chain.Hash) []byte {
	return append([]byte(prefixTx), txHash[:]...)
}

func txStatusKey(txHash chain.Hash) []byte {
	return append([]byte(prefixTxStatus), txHash[:]...)
}

func balKey(addr chain.Address) []byte {
	b := addr.Bytes()
	return append([]byte(prefixBal), b[:]...)
}

func tokKey(addr chain.Address) []byte {
	b := addr.Bytes()
	return append([]byte(prefixTok), b[:]...)
}

func delegPrefix(from, to chain.Address) []byte {
	fb, tb := from.Bytes(), to.Bytes()
	key := append([]byte(prefixDeleg), fb[:]...)
	key = append(key, ':')
	return append(key, tb[:]...)
}

func delegKey(from, to chain.Address, seq uint64) []byte {
	return append(delegPrefix(from, to), seqSuffix(seq)...)
}

func nodeRpsKey(addr string, day uint64) []byte {
	key := append([]byte(prefixNodeRps), []byte(addr)...)
	key = append(key, ':')
	return append(key, seqSuffix(day)...)
}

func nodeLastResultKey(addr string) []byte {
	return append([]byte(prefixNodeLastResult), []byte(addr)...)
}

func nodeTrustKey(addr chain.Address) []byte {
	b := addr.Bytes()
	return append([]byte(prefixNodeTrust), b[:]...)
}

func nodeRegistryKey(host string) []byte {
	return append([]byte(prefixNodeRegistry), []byte(host)...)
}
