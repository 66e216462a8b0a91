package txsub

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

// mockBackend is an in-memory Backend for tests. Error hooks let individual
// tests fail specific RPCs, and sent transactions are recorded for assertions.
type mockBackend struct {
	mu sync.Mutex

	chainID      *big.Int
	pendingNonce uint64
	baseFee      *big.Int
	tipCap       *big.Int
	gasPrice     *big.Int
	gasEstimate  uint64

	pendingNonceErr error
	headerErr       error
	tipCapErr       error
	estimateErr     error

	// sendErrs returns the error for the i-th SendTransaction call; nil past
	// the end of the slice.
	sendErrs []error

	sent []*types.Transaction
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		chainID:     big.NewInt(100),
		baseFee:     big.NewInt(params.GWei),
		tipCap:      big.NewInt(5 * params.GWei / 1000),
		gasPrice:    big.NewInt(2 * params.GWei),
		gasEstimate: 100_000,
	}
}

func (b *mockBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return b.chainID, nil
}

func (b *mockBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pendingNonceErr != nil {
		return 0, b.pendingNonceErr
	}
	return b.pendingNonce, nil
}

func (b *mockBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.headerErr != nil {
		return nil, b.headerErr
	}
	return &types.Header{BaseFee: b.baseFee, Time: 1_700_000_000}, nil
}

func (b *mockBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return b.gasPrice, nil
}

func (b *mockBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tipCapErr != nil {
		return nil, b.tipCapErr
	}
	return b.tipCap, nil
}

func (b *mockBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.estimateErr != nil {
		return 0, b.estimateErr
	}
	return b.gasEstimate, nil
}

func (b *mockBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := len(b.sent)
	b.sent = append(b.sent, tx)
	if i < len(b.sendErrs) {
		return b.sendErrs[i]
	}
	return nil
}

func (b *mockBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (b *mockBackend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x01}, nil
}

func (b *mockBackend) sentTxs() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*types.Transaction, len(b.sent))
	copy(out, b.sent)
	return out
}

func (b *mockBackend) setPendingNonce(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pendingNonce = n
}
