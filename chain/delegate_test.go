package chain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelegateStackLIFO(t *testing.T) {
	s := NewDelegateStack()

	s.Push(big.NewInt(50), Hash{1})
	s.Push(big.NewInt(30), Hash{2})

	top, err := s.Pop()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(30), top.Value)
	assert.Equal(t, Hash{2}, top.Hash)

	top, err = s.Pop()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(50), top.Value)
	assert.Equal(t, Hash{1}, top.Hash)

	_, err = s.Pop()
	assert.ErrorIs(t, err, ErrEmptyDelegateStack)
}

func TestDelegateStackSumTracksActiveFrames(t *testing.T) {
	s := NewDelegateStack()
	s.Push(big.NewInt(50), Hash{1})
	s.Push(big.NewInt(30), Hash{2})
	assert.Equal(t, big.NewInt(80), s.Sum())

	_, err := s.Pop()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(50), s.Sum())
}

func TestAddressChecksumRoundTrip(t *testing.T) {
	addr := DeriveAddress([]byte("a fake compressed pubkey"))
	assert.True(t, VerifyAddressChecksum(addr))

	bad := addr.Bytes()
	bad[0] ^= 0xff
	assert.False(t, VerifyAddressChecksum(NewAddressFromBytes(bad)))
}

func TestBalanceMergeAdd(t *testing.T) {
	a := NewBalanceInfo()
	a.Received = big.NewInt(100)
	a.LastUpdatedBlock = 5

	b := NewBalanceInfo()
	b.Received = big.NewInt(10)
	b.Spent = big.NewInt(3)
	b.LastUpdatedBlock = 7

	a.MergeAdd(b)

	assert.Equal(t, big.NewInt(110), a.Received)
	assert.Equal(t, big.NewInt(3), a.Spent)
	assert.Equal(t, uint64(7), a.LastUpdatedBlock)
	assert.True(t, a.IsConsistent())
}
