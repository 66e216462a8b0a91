package txsub

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/clock"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
)

// Retry attempt budgets. The Safe path absorbs a loosely synchronized pending
// pool, so it gets a far larger budget than plain direct calls.
const (
	DirectMaxAttempts = 3
	SafeMaxAttempts   = 30

	defaultRetryDelay = 250 * time.Millisecond
)

// Metricer is the subset of metrics the submitter reports to.
type Metricer interface {
	RecordNonce(nonce uint64)
	RecordBroadcast(outcome string)
}

// Candidate describes one transaction to submit. Candidates are built fresh
// per call and never reused across nonces.
type Candidate struct {
	To    common.Address
	Data  []byte
	Value *big.Int

	// GasLimit, when non-zero, is used verbatim (the Safe path computes its
	// own outer limit). Otherwise the submitter estimates, buffers and floors
	// at GasFloor, falling back to GasFallback when estimation fails.
	GasLimit    uint64
	GasFloor    uint64
	GasFallback uint64

	// MaxAttempts bounds nonce-race retries. Zero means DirectMaxAttempts.
	MaxAttempts int
}

// Result reports a successful broadcast. The submitter is fire-and-forget: it
// never waits for inclusion, callers poll separately if they care.
type Result struct {
	TxHash common.Hash
	Nonce  uint64
}

type Config struct {
	ChainID        *big.Int
	NetworkTimeout time.Duration
	RetryDelay     time.Duration
	DryRun         bool
}

// Submitter orchestrates one end-to-end submission: nonce, build, estimate,
// fee, sign, broadcast, classify, retry. The whole sequence runs inside the
// account's lock so concurrent callers sharing the account never race a nonce.
type Submitter struct {
	log     log.Logger
	metr    Metricer
	cfg     Config
	backend Backend
	nonces  *NonceSequencer
	lockTab *LockTable
	fees    *FeeStrategy
	gas     *GasEstimator
	clk     clock.Clock

	key  *ecdsa.PrivateKey
	from common.Address
}

func NewSubmitter(lgr log.Logger, metr Metricer, cfg Config, backend Backend, nonces *NonceSequencer, lockTab *LockTable, fees *FeeStrategy, gas *GasEstimator, clk clock.Clock, key *ecdsa.PrivateKey) (*Submitter, error) {
	if cfg.ChainID == nil {
		return nil, errors.New("chain id is required")
	}
	if key == nil {
		return nil, errors.New("signing key is required")
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Submitter{
		log:     lgr,
		metr:    metr,
		cfg:     cfg,
		backend: backend,
		nonces:  nonces,
		lockTab: lockTab,
		fees:    fees,
		gas:     gas,
		clk:     clk,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func (s *Submitter) From() common.Address {
	return s.from
}

// Submit broadcasts the candidate. A nil Result with a nil error means the
// attempt was abandoned for a normal reason (contract revert or dry run);
// callers must treat "no transaction" as an expected outcome.
func (s *Submitter) Submit(ctx context.Context, c Candidate) (*Result, error) {
	return s.SubmitWith(ctx, func(context.Context) (*Candidate, error) {
		return &c, nil
	})
}

// SubmitWith acquires the account lock before invoking build, so candidate
// construction that must not race other submitters of the same account (a
// Safe nonce read, on-chain hashing, signing) runs inside the same critical
// section as the broadcast. A nil candidate from build aborts quietly.
func (s *Submitter) SubmitWith(ctx context.Context, build func(ctx context.Context) (*Candidate, error)) (*Result, error) {
	mu := s.lockTab.For(s.from)
	mu.Lock()
	defer mu.Unlock()

	c, err := build(ctx)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}

	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DirectMaxAttempts
	}

	var lastAttempted *uint64
	for attempt := 0; attempt < maxAttempts; attempt++ {
		nonce, err := s.nextNonce(ctx)
		if err != nil {
			return nil, err
		}
		lastAttempted = &nonce

		res, err := s.attempt(ctx, *c, nonce)
		if err == nil {
			return res, nil
		}

		class := Classify(err)
		switch class {
		case ClassNonceRace, ClassUnderpriced:
			s.metr.RecordBroadcast(class.String())
			s.resyncNonce(ctx, err, lastAttempted)
			if attempt == maxAttempts-1 {
				return nil, fmt.Errorf("gave up after %d attempts: %w", maxAttempts, err)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-s.clk.After(s.cfg.RetryDelay):
			}
		case ClassRevert:
			s.metr.RecordBroadcast(class.String())
			s.log.Warn("contract rejected transaction", "to", c.To, "nonce", nonce, "err", err)
			s.nonces.Invalidate(s.from)
			return nil, nil
		default:
			s.metr.RecordBroadcast(class.String())
			s.nonces.Invalidate(s.from)
			return nil, err
		}
	}
	return nil, fmt.Errorf("gave up after %d attempts", maxAttempts)
}

// attempt runs one build-sign-broadcast cycle at the given nonce.
func (s *Submitter) attempt(ctx context.Context, c Candidate, nonce uint64) (*Result, error) {
	value := c.Value
	if value == nil {
		value = new(big.Int)
	}

	tCtx, cancel := s.networkCtx(ctx)
	defer cancel()

	gasLimit := c.GasLimit
	if gasLimit == 0 {
		call := ethereum.CallMsg{From: s.from, To: &c.To, Value: value, Data: c.Data}
		if estimated, ok := s.gas.Estimate(tCtx, call, c.GasFloor); ok {
			gasLimit = estimated
		} else {
			gasLimit = c.GasFallback
		}
	}

	fees, err := s.fees.Apply(tCtx)
	if err != nil {
		return nil, err
	}

	var inner types.TxData
	if fees.Dynamic() {
		inner = &types.DynamicFeeTx{
			ChainID:   s.cfg.ChainID,
			Nonce:     nonce,
			To:        &c.To,
			Value:     value,
			Data:      c.Data,
			Gas:       gasLimit,
			GasTipCap: fees.GasTipCap,
			GasFeeCap: fees.GasFeeCap,
		}
	} else {
		inner = &types.LegacyTx{
			Nonce:    nonce,
			To:       &c.To,
			Value:    value,
			Data:     c.Data,
			Gas:      gasLimit,
			GasPrice: fees.GasPrice,
		}
	}

	signed, err := types.SignNewTx(s.key, types.LatestSignerForChainID(s.cfg.ChainID), inner)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if s.cfg.DryRun {
		s.log.Info("dry run, not broadcasting",
			"to", c.To, "nonce", nonce, "gas", gasLimit,
			"tipCap", fees.GasTipCap, "feeCap", fees.GasFeeCap, "gasPrice", fees.GasPrice)
		return nil, nil
	}

	s.log.Info("broadcasting transaction", "to", c.To, "from", addrPreview(s.from), "nonce", nonce, "gas", gasLimit)
	sCtx, sCancel := s.networkCtx(ctx)
	defer sCancel()
	err = s.backend.SendTransaction(sCtx, signed)
	if err != nil && Classify(err) != ClassAlreadyKnown {
		return nil, err
	}
	if err != nil {
		s.log.Info("provider already knows transaction, treating as submitted", "hash", signed.Hash())
	}

	s.nonces.Advance(s.from, nonce+1)
	s.metr.RecordNonce(nonce)
	s.metr.RecordBroadcast("ok")
	s.log.Info("transaction submitted", "hash", signed.Hash(), "nonce", nonce)
	return &Result{TxHash: signed.Hash(), Nonce: nonce}, nil
}

// resyncNonce re-resolves the account nonce after a race: a provider-hinted
// expected nonce wins, then the chain's live pending count, then the last
// attempted nonce plus one.
func (s *Submitter) resyncNonce(ctx context.Context, cause error, lastAttempted *uint64) {
	s.nonces.Invalidate(s.from)

	if hinted, ok := HintedNonce(cause); ok {
		if lastAttempted != nil && *lastAttempted+1 > hinted {
			hinted = *lastAttempted + 1
		}
		s.log.Debug("provider hinted expected nonce", "nonce", hinted)
		s.nonces.Override(s.from, hinted)
		return
	}

	tCtx, cancel := s.networkCtx(ctx)
	defer cancel()
	pending, err := s.backend.PendingNonceAt(tCtx, s.from)
	if err == nil {
		if lastAttempted != nil && *lastAttempted+1 > pending {
			pending = *lastAttempted + 1
		}
		s.nonces.Override(s.from, pending)
		return
	}
	s.log.Debug("failed to re-fetch pending nonce", "err", err)
	if lastAttempted != nil {
		s.nonces.Override(s.from, *lastAttempted+1)
	}
}

// NextNonce exposes the next nonce the account would use, for persistence.
func (s *Submitter) NextNonce(ctx context.Context) (uint64, error) {
	return s.nextNonce(ctx)
}

func (s *Submitter) nextNonce(ctx context.Context) (uint64, error) {
	tCtx, cancel := s.networkCtx(ctx)
	defer cancel()
	return s.nonces.Next(tCtx, s.from)
}

func (s *Submitter) networkCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.NetworkTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.NetworkTimeout)
}

func addrPreview(addr common.Address) string {
	s := addr.Hex()
	return s[:6] + "..." + s[len(s)-4:]
}
