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
	"github.com/PettBro/pettai-agent/metrics"
	"github.com/PettBro/pettai-agent/safe"
	"github.com/PettBro/pettai-agent/txsub"
)

const (
	// DefaultLivenessPeriod is used when neither the contract nor the operator
	// supplies a liveness period.
	DefaultLivenessPeriod = 86_400 // 24h

	// submissionCooldown caps how soon after a submission another checkpoint
	// may be sent, while the on-chain value still lags the pending tx.
	submissionCooldown = 600 * time.Second

	checkpointGasFallback = 300_000
)

// CheckpointClient decides when the staking contract's checkpoint call is due
// and submits it, either directly or wrapped in a Safe execTransaction.
type CheckpointClient struct {
	log  log.Logger
	metr metrics.Metricer
	clk  clock.Clock

	backend     txsub.Backend
	stakingAddr common.Address
	stakingABI  abi.ABI
	staking     *bind.BoundContract
	sub         *txsub.Submitter
	safeClient  *safe.Client  // nil when not routed through a Safe
	safeBuilder *safe.Builder // nil when not routed through a Safe
	store       *StateStore

	livenessOverride uint64 // 0 = unset
	networkTimeout   time.Duration

	// callMu makes concurrent checkpoint checks collapse into one; a caller
	// that cannot take it immediately just reports "nothing to do".
	callMu sync.Mutex

	mu               sync.Mutex
	cachedLiveness   *uint64
	warnedNoLiveness bool
}

type CheckpointSetup struct {
	Log              log.Logger
	Metrics          metrics.Metricer
	Clock            clock.Clock
	Backend          txsub.Backend
	StakingAddr      common.Address
	Submitter        *txsub.Submitter
	SafeClient       *safe.Client
	SafeBuilder      *safe.Builder
	Store            *StateStore
	LivenessOverride uint64
	NetworkTimeout   time.Duration
}

func NewCheckpointClient(setup CheckpointSetup) (*CheckpointClient, error) {
	stakingABI, err := bindings.StakingProxyABI()
	if err != nil {
		return nil, err
	}
	c := &CheckpointClient{
		log:              setup.Log,
		metr:             setup.Metrics,
		clk:              setup.Clock,
		backend:          setup.Backend,
		stakingAddr:      setup.StakingAddr,
		stakingABI:       stakingABI,
		staking:          bind.NewBoundContract(setup.StakingAddr, stakingABI, setup.Backend, nil, nil),
		sub:              setup.Submitter,
		safeClient:       setup.SafeClient,
		safeBuilder:      setup.SafeBuilder,
		store:            setup.Store,
		livenessOverride: setup.LivenessOverride,
		networkTimeout:   setup.NetworkTimeout,
	}
	return c, nil
}

// State returns a copy of the current checkpoint state.
func (c *CheckpointClient) State() CheckpointState {
	return c.store.Load()
}

// CheckpointIfNeeded submits a checkpoint transaction when the liveness window
// has elapsed and no recent submission is cooling down. Force bypasses both
// the deadline and the cooldown. It returns nil when nothing was submitted,
// which callers must treat as a normal outcome.
func (c *CheckpointClient) CheckpointIfNeeded(ctx context.Context, force bool) (*common.Hash, error) {
	if !c.callMu.TryLock() {
		return nil, nil
	}
	defer c.callMu.Unlock()

	lastOnchain, err := c.lastCheckpointOnChain(ctx)
	if err != nil {
		return nil, err
	}
	now := c.currentBlockTimestamp(ctx)
	liveness := c.livenessPeriod(ctx)

	due := force
	if !due {
		if c.inCooldown(now, liveness) {
			c.log.Debug("skipping checkpoint, recent submission still cooling down")
			c.recordCheck(lastOnchain, now)
			return nil, nil
		}
		elapsed := int64(now) - int64(lastOnchain)
		due = elapsed > int64(liveness)
		if !due {
			remaining := int64(liveness) - elapsed
			if remaining < 0 {
				remaining = 0
			}
			c.log.Debug("checkpoint liveness not reached", "remaining", remaining)
		}
	}

	c.recordCheck(lastOnchain, now)
	if !due {
		return nil, nil
	}

	res, err := c.submit(ctx, now)
	if err != nil || res == nil {
		return nil, err
	}

	hash := res.TxHash.Hex()
	next := res.Nonce + 1
	c.store.Update(func(s *CheckpointState) {
		s.LastSubmittedAt = &now
		s.LastTxHash = &hash
		s.NextNonce = &next
	})

	c.metr.RecordCheckpoint()
	c.log.Info("staking checkpoint transaction submitted", "hash", res.TxHash, "safe", c.viaSafe())
	return &res.TxHash, nil
}

func (c *CheckpointClient) submit(ctx context.Context, now uint64) (*txsub.Result, error) {
	data, err := c.stakingABI.Pack("checkpoint")
	if err != nil {
		return nil, fmt.Errorf("failed to pack checkpoint call: %w", err)
	}

	if c.safeBuilder == nil {
		c.log.Info("submitting staking checkpoint", "contract", c.stakingAddr, "ts", now)
		return c.sub.Submit(ctx, txsub.Candidate{
			To:          c.stakingAddr,
			Data:        data,
			GasFloor:    txsub.CheckpointGasFloor,
			GasFallback: checkpointGasFallback,
			MaxAttempts: txsub.DirectMaxAttempts,
		})
	}

	// The Safe nonce read, hashing and signing must happen inside the account
	// lock so a concurrent submitter sharing the Safe cannot sign the same
	// Safe nonce.
	return c.sub.SubmitWith(ctx, func(ctx context.Context) (*txsub.Candidate, error) {
		tCtx, cancel := c.networkCtx(ctx)
		defer cancel()

		safeAddr := c.safeClient.Address()
		safeTxGas := safe.EstimateSafeTxGas(tCtx, c.log, c.backend, safeAddr, c.stakingAddr, nil, data)
		signed, err := c.safeBuilder.BuildAndSign(tCtx, c.stakingAddr, nil, data, safeTxGas)
		if err != nil {
			return nil, err
		}
		execData, err := c.safeClient.ExecTransactionData(signed.Tx, signed.Signature)
		if err != nil {
			return nil, err
		}
		gasLimit := safe.OuterGasLimit(tCtx, c.log, c.backend, c.sub.From(), safeAddr, execData, safeTxGas, signed.Tx.BaseGas.Uint64())

		c.log.Info("submitting staking checkpoint via safe", "safe", safeAddr, "safeNonce", signed.Tx.Nonce, "ts", now)
		return &txsub.Candidate{
			To:          safeAddr,
			Data:        execData,
			GasLimit:    gasLimit,
			MaxAttempts: txsub.SafeMaxAttempts,
		}, nil
	})
}

// lastCheckpointOnChain reads tsCheckpoint, falling back to the cached value on
// a transient read failure so the caller gets a stale-but-safe answer.
func (c *CheckpointClient) lastCheckpointOnChain(ctx context.Context) (uint64, error) {
	tCtx, cancel := c.networkCtx(ctx)
	defer cancel()

	var result []interface{}
	err := c.staking.Call(&bind.CallOpts{Context: tCtx}, &result, "tsCheckpoint")
	if err == nil {
		ts := result[0].(*big.Int).Uint64()
		c.store.Update(func(s *CheckpointState) {
			s.LastCheckpointTS = &ts
		})
		return ts, nil
	}

	c.log.Error("failed to fetch on-chain checkpoint timestamp", "err", err)
	if cached := c.store.Load().LastCheckpointTS; cached != nil {
		return *cached, nil
	}
	return 0, fmt.Errorf("failed to fetch checkpoint timestamp and no cached value: %w", err)
}

// currentBlockTimestamp prefers the chain's notion of now, degrading to the
// local clock.
func (c *CheckpointClient) currentBlockTimestamp(ctx context.Context) uint64 {
	tCtx, cancel := c.networkCtx(ctx)
	defer cancel()

	head, err := c.backend.HeaderByNumber(tCtx, nil)
	if err != nil {
		c.log.Debug("failed to fetch latest block timestamp, falling back to system time", "err", err)
		return uint64(c.clk.Now().Unix())
	}
	return head.Time
}

// livenessPeriod resolves the liveness window: live contract read, then the
// configured override, then the hard-coded default. The default fallback is
// logged exactly once.
func (c *CheckpointClient) livenessPeriod(ctx context.Context) uint64 {
	c.mu.Lock()
	if c.cachedLiveness != nil {
		v := *c.cachedLiveness
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	tCtx, cancel := c.networkCtx(ctx)
	defer cancel()

	var result []interface{}
	if err := c.staking.Call(&bind.CallOpts{Context: tCtx}, &result, "livenessPeriod"); err == nil {
		if v := result[0].(*big.Int).Uint64(); v > 0 {
			c.setLiveness(v)
			return v
		}
	} else {
		c.log.Debug("failed to fetch livenessPeriod from staking contract", "err", err)
	}

	if c.livenessOverride > 0 {
		c.setLiveness(c.livenessOverride)
		return c.livenessOverride
	}

	c.mu.Lock()
	if !c.warnedNoLiveness {
		c.log.Warn("liveness period unavailable, using default", "default", uint64(DefaultLivenessPeriod))
		c.warnedNoLiveness = true
	}
	c.mu.Unlock()
	c.setLiveness(DefaultLivenessPeriod)
	return DefaultLivenessPeriod
}

func (c *CheckpointClient) setLiveness(v uint64) {
	c.mu.Lock()
	c.cachedLiveness = &v
	c.mu.Unlock()
}

// inCooldown reports whether a recent submission is still within the cooldown
// window min(600s, max(liveness/2, 30s)). A block timestamp that lags the
// recorded submission time still counts as cooling down.
func (c *CheckpointClient) inCooldown(now, liveness uint64) bool {
	lastSubmitted := c.store.Load().LastSubmittedAt
	if lastSubmitted == nil {
		return false
	}

	cooldown := uint64(submissionCooldown / time.Second)
	if liveness > 0 {
		half := liveness / 2
		if half < 30 {
			half = 30
		}
		if half < cooldown {
			cooldown = half
		}
	}
	return now <= *lastSubmitted || now-*lastSubmitted < cooldown
}

// recordCheck rewrites the persisted state on every check, submission or not,
// so a crash right after a check does not force a redundant on-chain read on
// restart.
func (c *CheckpointClient) recordCheck(lastOnchain, now uint64) {
	c.store.Update(func(s *CheckpointState) {
		s.LastCheckpointTS = &lastOnchain
		s.LastCheckedAt = &now
	})
}

func (c *CheckpointClient) viaSafe() bool {
	return c.safeBuilder != nil
}

func (c *CheckpointClient) networkCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.networkTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.networkTimeout)
}
