package txsub

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
)

// Priority fee bounds. The tip is clamped to [0.001, 0.05] gwei, with 0.005
// gwei used when neither the node nor the operator supplies a usable value.
var (
	minTipCap     = big.NewInt(params.GWei / 1000)     // 0.001 gwei
	maxTipCap     = big.NewInt(params.GWei / 20)       // 0.05 gwei
	defaultTipCap = big.NewInt(5 * params.GWei / 1000) // 0.005 gwei
)

// Fees holds the resolved fee fields for one submission attempt. Exactly one of
// GasPrice or the tip/fee-cap pair is set.
type Fees struct {
	GasPrice  *big.Int
	GasTipCap *big.Int
	GasFeeCap *big.Int
}

func (f Fees) Dynamic() bool {
	return f.GasTipCap != nil
}

// FeeStrategy computes legacy or EIP-1559 fee parameters from the latest block
// and a bounded priority-fee suggestion. Any failure along the EIP-1559 path
// degrades to a flat legacy gas price; fee resolution never blocks a
// submission.
type FeeStrategy struct {
	log         log.Logger
	backend     Backend
	tipOverride *big.Int // optional operator override, nil when unset
}

func NewFeeStrategy(lgr log.Logger, backend Backend, tipOverride *big.Int) *FeeStrategy {
	return &FeeStrategy{log: lgr, backend: backend, tipOverride: tipOverride}
}

func (f *FeeStrategy) Apply(ctx context.Context) (Fees, error) {
	head, err := f.backend.HeaderByNumber(ctx, nil)
	if err != nil || head.BaseFee == nil {
		if err != nil {
			f.log.Debug("failed to fetch latest block for fee data, using legacy gas price", "err", err)
		}
		return f.legacy(ctx)
	}

	tip := f.resolveTip(ctx)
	buffer := clamp(new(big.Int).Set(tip), defaultTipCap, maxTipCap)
	feeCap := new(big.Int).Add(head.BaseFee, tip)
	feeCap.Add(feeCap, buffer)
	return Fees{GasTipCap: tip, GasFeeCap: feeCap}, nil
}

func (f *FeeStrategy) legacy(ctx context.Context) (Fees, error) {
	gasPrice, err := f.backend.SuggestGasPrice(ctx)
	if err != nil {
		return Fees{}, fmt.Errorf("failed to fetch gas price suggestion: %w", err)
	}
	return Fees{GasPrice: gasPrice}, nil
}

// resolveTip picks max(node suggestion, operator override) clamped to the tip
// bounds, falling back to the default when nothing resolves.
func (f *FeeStrategy) resolveTip(ctx context.Context) *big.Int {
	tip := new(big.Int)
	resolved := false

	if suggested, err := f.backend.SuggestGasTipCap(ctx); err == nil && suggested != nil && suggested.Sign() > 0 {
		tip.Set(suggested)
		resolved = true
	} else if err != nil {
		f.log.Debug("failed to fetch tip cap suggestion", "err", err)
	}
	if f.tipOverride != nil && f.tipOverride.Sign() > 0 && f.tipOverride.Cmp(tip) > 0 {
		tip.Set(f.tipOverride)
		resolved = true
	}
	if !resolved {
		tip.Set(defaultTipCap)
	}
	return clamp(tip, minTipCap, maxTipCap)
}

func clamp(v, lo, hi *big.Int) *big.Int {
	if v.Cmp(lo) < 0 {
		return new(big.Int).Set(lo)
	}
	if v.Cmp(hi) > 0 {
		return new(big.Int).Set(hi)
	}
	return v
}
