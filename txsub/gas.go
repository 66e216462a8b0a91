package txsub

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/log"
)

// Per-call gas floors applied on top of the buffered estimate.
const (
	RecordActionGasFloor = 150_000
	CheckpointGasFloor   = 200_000
)

// GasEstimator estimates gas limits for direct contract calls. Estimation
// failure is reported, not raised: the caller falls back to a fixed default
// so a revert or RPC hiccup during estimation never aborts a submission.
type GasEstimator struct {
	log     log.Logger
	backend Backend
}

func NewGasEstimator(lgr log.Logger, backend Backend) *GasEstimator {
	return &GasEstimator{log: lgr, backend: backend}
}

// Estimate returns the ×1.2-buffered gas estimate for the call, floored at the
// given per-call minimum. ok is false when estimation failed.
func (g *GasEstimator) Estimate(ctx context.Context, call ethereum.CallMsg, floor uint64) (gas uint64, ok bool) {
	estimate, err := g.backend.EstimateGas(ctx, call)
	if err != nil {
		g.log.Debug("gas estimation failed", "to", call.To, "err", err)
		return 0, false
	}
	buffered := estimate * 12 / 10
	if buffered < floor {
		buffered = floor
	}
	return buffered, true
}
