package parser

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torrentnode/replicator/chain"
)

func sampleBlockInfo() *chain.BlockInfo {
	from := chain.ZeroAddress
	to := chain.InitialWalletAddress

	return &chain.BlockInfo{
		Header: chain.BlockHeader{
			Kind:           chain.KindSimple,
			Height:         42,
			ParentHash:     chain.Hash{1, 2, 3},
			SigningTxCount: 1,
		},
		Txs: []chain.TransactionInfo{
			{
				Hash:        chain.Hash{9, 9},
				From:        from,
				To:          to,
				Value:       big.NewInt(1500),
				Nonce:       7,
				Data:        []byte("hello"),
				RawBytes:    []byte("raw-tx-bytes"),
				FileOffset:  128,
				BlockHeight: 42,
				Status:      chain.IntentSuccess,
				Delegate:    &chain.DelegateOp{IsDelegate: true, Value: big.NewInt(99)},
				Token: &chain.TokenOp{
					Kind:                chain.TokenOpCreate,
					Token:               to,
					Name:                "Coin",
					Symbol:              "CN",
					Decimals:            8,
					EmissionPolicyFixed: true,
					BeginValue:          big.NewInt(1000),
					BeginDistribution: []chain.TokenDistributionEntry{
						{Address: from, Value: big.NewInt(500)},
						{Address: to, Value: big.NewInt(500)},
					},
				},
			},
		},
	}
}

func TestSerializeParseRoundTrip(t *testing.T) {
	bi := sampleBlockInfo()
	raw := Serialize(bi)

	parsed, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, bi.Header.Kind, parsed.Header.Kind)
	assert.Equal(t, bi.Header.Height, parsed.Header.Height)
	assert.Equal(t, bi.Header.ParentHash, parsed.Header.ParentHash)
	assert.Equal(t, bi.Header.SigningTxCount, parsed.Header.SigningTxCount)
	require.Len(t, parsed.Txs, 1)

	tx, ptx := bi.Txs[0], parsed.Txs[0]
	assert.Equal(t, tx.Hash, ptx.Hash)
	assert.Equal(t, tx.From, ptx.From)
	assert.Equal(t, tx.To, ptx.To)
	assert.Equal(t, 0, tx.Value.Cmp(ptx.Value))
	assert.Equal(t, tx.Nonce, ptx.Nonce)
	assert.Equal(t, tx.Data, ptx.Data)
	assert.Equal(t, tx.RawBytes, ptx.RawBytes)
	assert.Equal(t, tx.Status, ptx.Status)
	require.NotNil(t, ptx.Delegate)
	assert.Equal(t, tx.Delegate.IsDelegate, ptx.Delegate.IsDelegate)
	assert.Equal(t, 0, tx.Delegate.Value.Cmp(ptx.Delegate.Value))
	require.NotNil(t, ptx.Token)
	assert.Equal(t, tx.Token.Kind, ptx.Token.Kind)
	assert.Equal(t, tx.Token.Name, ptx.Token.Name)
	assert.Equal(t, tx.Token.Symbol, ptx.Token.Symbol)
	assert.Equal(t, tx.Token.Decimals, ptx.Token.Decimals)
	assert.Equal(t, tx.Token.EmissionPolicyFixed, ptx.Token.EmissionPolicyFixed)
	require.Len(t, ptx.Token.BeginDistribution, 2)

	assert.Equal(t, computeHash(raw), parsed.Header.Hash)
	assert.Equal(t, uint64(len(raw)), parsed.Header.Size)
}

func TestParseRejectsTruncatedBuffer(t *testing.T) {
	bi := sampleBlockInfo()
	raw := Serialize(bi)

	_, err := Parse(raw[:len(raw)-5])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestSerializeStateBlockCarriesTrustRecords(t *testing.T) {
	bi := &chain.BlockInfo{
		Header: chain.BlockHeader{Kind: chain.KindState, Height: 3},
		TrustRecords: []chain.TrustRecord{
			{Address: chain.ZeroAddress, Trust: 0.875, BlockHeight: 3},
		},
		IsDayRollover: true,
	}
	raw := Serialize(bi)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.True(t, parsed.IsDayRollover)
	require.Len(t, parsed.TrustRecords, 1)
	assert.Equal(t, 0.875, parsed.TrustRecords[0].Trust)
	assert.Equal(t, uint64(3), parsed.TrustRecords[0].BlockHeight)
}
