package keeper

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/clock"
	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"

	"github.com/PettBro/pettai-agent/bindings"
	"github.com/PettBro/pettai-agent/metrics"
	"github.com/PettBro/pettai-agent/safe"
	"github.com/PettBro/pettai-agent/txsub"
)

var (
	testStakingAddr = common.HexToAddress("0x5741073973426ad0711ba051c6f7ba1a89c1f133")
	testLedgerAddr  = common.HexToAddress("0x1ed6e1872629f324a83b6b91d01e64a5e446b0a1")
	testSafeAddr    = common.HexToAddress("0x29fcb43b46531bca003ddc8fcb67ffe91900c762")
)

// testSafeABI is the subset of the Safe interface the keeper exercises, used
// by mockChain to serve Safe view calls and by tests to decode outer calldata.
const testSafeABI = `[
	{"inputs": [], "name": "getOwners", "outputs": [{"type": "address[]", "name": ""}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "getThreshold", "outputs": [{"type": "uint256", "name": ""}], "type": "function"},
	{"inputs": [], "name": "nonce", "outputs": [{"type": "uint256", "name": ""}], "type": "function"},
	{"inputs": [
		{"type": "address", "name": "to"},
		{"type": "uint256", "name": "value"},
		{"type": "bytes", "name": "data"},
		{"type": "uint8", "name": "operation"},
		{"type": "uint256", "name": "safeTxGas"},
		{"type": "uint256", "name": "baseGas"},
		{"type": "uint256", "name": "gasPrice"},
		{"type": "address", "name": "gasToken"},
		{"type": "address", "name": "refundReceiver"},
		{"type": "uint256", "name": "_nonce"}
	], "name": "getTransactionHash", "outputs": [{"type": "bytes32", "name": ""}], "stateMutability": "view", "type": "function"},
	{"inputs": [
		{"type": "address", "name": "to"},
		{"type": "uint256", "name": "value"},
		{"type": "bytes", "name": "data"},
		{"type": "uint8", "name": "operation"},
		{"type": "uint256", "name": "safeTxGas"},
		{"type": "uint256", "name": "baseGas"},
		{"type": "uint256", "name": "gasPrice"},
		{"type": "address", "name": "gasToken"},
		{"type": "address", "name": "refundReceiver"},
		{"type": "bytes", "name": "signatures"}
	], "name": "execTransaction", "outputs": [{"type": "bool", "name": "success"}], "type": "function"}
]`

// mockChain is an in-memory chain backend for keeper tests: it serves the
// staking and ledger view calls from test state and records broadcast
// transactions.
type mockChain struct {
	mu sync.Mutex

	stakingABI abi.ABI
	ledgerABI  abi.ABI
	safeABI    abi.ABI

	blockTime    uint64
	tsCheckpoint uint64
	liveness     uint64
	attestor     common.Address
	pendingNonce uint64

	safeOwners    []common.Address
	safeThreshold uint64
	safeNonce     uint64 // bumped when an execTransaction lands
	hashedNonces  []uint64

	sent []*types.Transaction
}

func newMockChain(t *testing.T) *mockChain {
	t.Helper()
	stakingABI, err := bindings.StakingProxyABI()
	require.NoError(t, err)
	ledgerABI, err := bindings.ActionLedgerABI()
	require.NoError(t, err)
	safeABI, err := abi.JSON(strings.NewReader(testSafeABI))
	require.NoError(t, err)
	return &mockChain{
		stakingABI:    stakingABI,
		ledgerABI:     ledgerABI,
		safeABI:       safeABI,
		blockTime:     1_700_000_000,
		tsCheckpoint:  1_700_000_000,
		liveness:      86_400,
		safeThreshold: 1,
	}
}

func (m *mockChain) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(100), nil
}

func (m *mockChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingNonce, nil
}

func (m *mockChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &types.Header{BaseFee: big.NewInt(params.GWei), Time: m.blockTime}, nil
}

func (m *mockChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(2 * params.GWei), nil
}

func (m *mockChain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(5 * params.GWei / 1000), nil
}

func (m *mockChain) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 90_000, nil
}

func (m *mockChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, tx)
	if tx.To() != nil && *tx.To() == testSafeAddr {
		m.safeNonce++
	}
	return nil
}

func (m *mockChain) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var contractABI abi.ABI
	switch *call.To {
	case testStakingAddr:
		contractABI = m.stakingABI
	case testLedgerAddr:
		contractABI = m.ledgerABI
	case testSafeAddr:
		contractABI = m.safeABI
	default:
		return nil, ethereum.NotFound
	}
	method, err := contractABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "tsCheckpoint":
		return method.Outputs.Pack(new(big.Int).SetUint64(m.tsCheckpoint))
	case "livenessPeriod":
		return method.Outputs.Pack(new(big.Int).SetUint64(m.liveness))
	case "attestor":
		return method.Outputs.Pack(m.attestor)
	case "getOwners":
		return method.Outputs.Pack(m.safeOwners)
	case "getThreshold":
		return method.Outputs.Pack(new(big.Int).SetUint64(m.safeThreshold))
	case "nonce":
		return method.Outputs.Pack(new(big.Int).SetUint64(m.safeNonce))
	case "getTransactionHash":
		args, err := method.Inputs.Unpack(call.Data[4:])
		if err != nil {
			return nil, err
		}
		m.hashedNonces = append(m.hashedNonces, args[9].(*big.Int).Uint64())
		return method.Outputs.Pack([32]byte(crypto.Keccak256Hash(call.Data)))
	default:
		return nil, ethereum.NotFound
	}
}

func (m *mockChain) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x01}, nil
}

func (m *mockChain) sentTxs() []*types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Transaction, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockChain) setBlockTime(ts uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockTime = ts
}

func (m *mockChain) setSafeOwners(owners ...common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.safeOwners = owners
}

// safeHashedNonces reports the Safe nonce argument of every getTransactionHash
// call, in order.
func (m *mockChain) safeHashedNonces() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, len(m.hashedNonces))
	copy(out, m.hashedNonces)
	return out
}

// newTestSafe wires a Safe client and builder for the mock Safe, registering
// the signer as the sole owner unless owner is false.
func newTestSafe(t *testing.T, chain *mockChain, key *ecdsa.PrivateKey, owner bool) (*safe.Client, *safe.Builder) {
	t.Helper()
	lgr := testlog.Logger(t, log.LevelError)
	if owner {
		chain.setSafeOwners(crypto.PubkeyToAddress(key.PublicKey))
	} else {
		chain.setSafeOwners(common.HexToAddress("0x000000000000000000000000000000000000dEaD"))
	}
	client, err := safe.NewClient(lgr, chain, testSafeAddr)
	require.NoError(t, err)
	return client, safe.NewBuilder(lgr, client, key)
}

func newTestSubmitter(t *testing.T, chain *mockChain) (*txsub.Submitter, *ecdsa.PrivateKey) {
	t.Helper()
	lgr := testlog.Logger(t, log.LevelError)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sub, err := txsub.NewSubmitter(lgr, metrics.NoopMetrics, txsub.Config{
		ChainID:    big.NewInt(100),
		RetryDelay: time.Millisecond,
	}, chain,
		txsub.NewNonceSequencer(lgr, chain), txsub.NewLockTable(),
		txsub.NewFeeStrategy(lgr, chain, nil), txsub.NewGasEstimator(lgr, chain),
		clock.SystemClock, key)
	require.NoError(t, err)
	return sub, key
}

func newTestStore(t *testing.T) *StateStore {
	t.Helper()
	return NewStateStore(testlog.Logger(t, log.LevelError), filepath.Join(t.TempDir(), "state.json"))
}
