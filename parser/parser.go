package parser

import "github.com/torrentnode/replicator/chain"

// ParseBlock parses and, when sign is set, signature-verifies a block dump,
// then checks the recomputed hash against expectedHash. It is the single
// entry point the block source (C4) calls for its parallel parse/verify
// fan-out (spec §4.4 step 3).
func ParseBlock(raw []byte, expectedHash chain.Hash, sign bool) (*chain.BlockInfo, error) {
	bi, err := ParseSigned(raw, sign)
	if err != nil {
		return nil, err
	}
	if err := VerifyHash(bi, expectedHash); err != nil {
		return nil, err
	}
	return bi, nil
}
