package txsub

import (
	"context"
	"testing"

	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
)

var testAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")

func TestNonceSequencerCachesPendingCount(t *testing.T) {
	backend := newMockBackend()
	backend.setPendingNonce(5)
	seq := NewNonceSequencer(testlog.Logger(t, log.LevelError), backend)

	n, err := seq.Next(context.Background(), testAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(5), n)

	// later fetches are served from cache, not the chain
	backend.setPendingNonce(99)
	n, err = seq.Next(context.Background(), testAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(5), n)

	seq.Advance(testAddr, 6)
	n, err = seq.Next(context.Background(), testAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(6), n)
}

func TestNonceSequencerNeverMovesBackwards(t *testing.T) {
	backend := newMockBackend()
	seq := NewNonceSequencer(testlog.Logger(t, log.LevelError), backend)

	seq.Advance(testAddr, 10)
	seq.Advance(testAddr, 4)

	n, err := seq.Next(context.Background(), testAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(10), n)
}

func TestNonceSequencerReconcilesAfterInvalidate(t *testing.T) {
	backend := newMockBackend()
	backend.setPendingNonce(5)
	seq := NewNonceSequencer(testlog.Logger(t, log.LevelError), backend)

	_, err := seq.Next(context.Background(), testAddr)
	require.NoError(t, err)
	seq.Advance(testAddr, 8)
	seq.Invalidate(testAddr)

	// chain still reports 5 because our txs are not indexed yet; the local
	// sequence wins
	n, err := seq.Next(context.Background(), testAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(8), n)

	// chain ahead of the cache wins
	seq.Invalidate(testAddr)
	backend.setPendingNonce(12)
	n, err = seq.Next(context.Background(), testAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(12), n)
}

func TestNonceSequencerSeed(t *testing.T) {
	backend := newMockBackend()
	backend.setPendingNonce(3)
	seq := NewNonceSequencer(testlog.Logger(t, log.LevelError), backend)

	seq.Seed(testAddr, 7)
	n, err := seq.Next(context.Background(), testAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(7), n)

	// a seed never overrides state learned this lifetime
	seq.Advance(testAddr, 9)
	seq.Seed(testAddr, 2)
	n, err = seq.Next(context.Background(), testAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(9), n)
}

func TestLockTableSameMutexPerAddress(t *testing.T) {
	tab := NewLockTable()
	a := common.HexToAddress("0xaa")
	b := common.HexToAddress("0xbb")

	require.Same(t, tab.For(a), tab.For(a))
	require.NotSame(t, tab.For(a), tab.For(b))
}
