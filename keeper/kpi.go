package keeper

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/clock"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/PettBro/pettai-agent/bindings"
	"github.com/PettBro/pettai-agent/safe"
)

const kpiCacheTTL = 30 * time.Second

// EpochKPI summarizes the service's activity requirement for the current
// staking epoch: how many Safe transactions it has produced since the last
// checkpoint versus how many the activity checker demands.
type EpochKPI struct {
	ServiceID         uint64         `json:"service_id"`
	MultisigAddress   common.Address `json:"multisig_address"`
	TxsInEpoch        uint64         `json:"txs_in_epoch"`
	RequiredTxs       uint64         `json:"required_txs"`
	TxsRemaining      uint64         `json:"txs_remaining"`
	EpochEndTimestamp uint64         `json:"epoch_end_timestamp"`
	ThresholdMet      bool           `json:"threshold_met"`
}

// KPIReader computes EpochKPI snapshots from the staking proxy and activity
// checker contracts. Results are cached briefly since callers tend to poll.
type KPIReader struct {
	log log.Logger
	clk clock.Clock

	serviceID  uint64
	staking    *bind.BoundContract
	checker    *bind.BoundContract
	safeClient *safe.Client
	checkpoint *CheckpointClient

	networkTimeout time.Duration

	mu       sync.Mutex
	cached   *EpochKPI
	cachedAt time.Time
}

type KPISetup struct {
	Log            log.Logger
	Clock          clock.Clock
	ServiceID      uint64
	Caller         bind.ContractCaller
	StakingAddr    common.Address
	CheckerAddr    common.Address
	SafeClient     *safe.Client
	Checkpoint     *CheckpointClient
	NetworkTimeout time.Duration
}

func NewKPIReader(setup KPISetup) (*KPIReader, error) {
	stakingABI, err := bindings.StakingProxyABI()
	if err != nil {
		return nil, err
	}
	checkerABI, err := bindings.ActivityCheckerABI()
	if err != nil {
		return nil, err
	}
	return &KPIReader{
		log:            setup.Log,
		clk:            setup.Clock,
		serviceID:      setup.ServiceID,
		staking:        bind.NewBoundContract(setup.StakingAddr, stakingABI, setup.Caller, nil, nil),
		checker:        bind.NewBoundContract(setup.CheckerAddr, checkerABI, setup.Caller, nil, nil),
		safeClient:     setup.SafeClient,
		checkpoint:     setup.Checkpoint,
		networkTimeout: setup.NetworkTimeout,
	}, nil
}

// EpochKPIs returns the current epoch's activity snapshot, serving a cached
// copy when the last read is under 30 seconds old.
func (k *KPIReader) EpochKPIs(ctx context.Context) (*EpochKPI, error) {
	k.mu.Lock()
	if k.cached != nil && k.clk.Now().Sub(k.cachedAt) < kpiCacheTTL {
		snapshot := *k.cached
		k.mu.Unlock()
		return &snapshot, nil
	}
	k.mu.Unlock()

	kpi, err := k.compute(ctx)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	k.cached = kpi
	k.cachedAt = k.clk.Now()
	k.mu.Unlock()

	snapshot := *kpi
	return &snapshot, nil
}

func (k *KPIReader) compute(ctx context.Context) (*EpochKPI, error) {
	tCtx, cancel := k.networkCtx(ctx)
	defer cancel()
	opts := &bind.CallOpts{Context: tCtx}

	info, err := k.serviceInfo(opts)
	if err != nil {
		return nil, err
	}

	currentNonce, err := k.safeClient.Nonce(tCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to read multisig nonce: %w", err)
	}

	// Nonces[0] is the multisig nonce snapshot taken at the last checkpoint.
	var snapshotNonce uint64
	if len(info.Nonces) > 0 {
		snapshotNonce = info.Nonces[0].Uint64()
	}
	txsInEpoch := uint64(0)
	if n := currentNonce.Uint64(); n > snapshotNonce {
		txsInEpoch = n - snapshotNonce
	}

	liveness := k.checkpoint.livenessPeriod(tCtx)
	required, err := k.requiredTxs(opts, liveness)
	if err != nil {
		return nil, err
	}

	lastTs, err := k.checkpoint.lastCheckpointOnChain(tCtx)
	if err != nil {
		return nil, err
	}

	remaining := uint64(0)
	if required > txsInEpoch {
		remaining = required - txsInEpoch
	}
	return &EpochKPI{
		ServiceID:         k.serviceID,
		MultisigAddress:   info.Multisig,
		TxsInEpoch:        txsInEpoch,
		RequiredTxs:       required,
		TxsRemaining:      remaining,
		EpochEndTimestamp: lastTs + liveness,
		ThresholdMet:      txsInEpoch >= required,
	}, nil
}

type serviceInfo struct {
	Multisig   common.Address
	Owner      common.Address
	Nonces     []*big.Int
	TsStart    *big.Int
	Reward     *big.Int
	Inactivity *big.Int
}

func (k *KPIReader) serviceInfo(opts *bind.CallOpts) (*serviceInfo, error) {
	var result []interface{}
	err := k.staking.Call(opts, &result, "getServiceInfo", new(big.Int).SetUint64(k.serviceID))
	if err != nil {
		return nil, fmt.Errorf("failed to read service info: %w", err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("empty service info result")
	}
	info := abi.ConvertType(result[0], new(serviceInfo)).(*serviceInfo)
	return info, nil
}

// requiredTxs derives the epoch transaction requirement from the activity
// checker's livenessRatio, a txs-per-second rate scaled by 1e18:
// ceil(ratio * livenessPeriod / 1e18).
func (k *KPIReader) requiredTxs(opts *bind.CallOpts, liveness uint64) (uint64, error) {
	var result []interface{}
	if err := k.checker.Call(opts, &result, "livenessRatio"); err != nil {
		return 0, fmt.Errorf("failed to read liveness ratio: %w", err)
	}
	ratio := result[0].(*big.Int)

	num := new(big.Int).Mul(ratio, new(big.Int).SetUint64(liveness))
	den := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	required, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Sign() > 0 {
		required.Add(required, big.NewInt(1))
	}
	return required.Uint64(), nil
}

func (k *KPIReader) networkCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if k.networkTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, k.networkTimeout)
}
