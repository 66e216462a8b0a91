package safe

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// Gas parameters for the Safe-wrapped call path. safeTxGas covers the inner
// call; the outer execTransaction needs its own, larger limit because the Safe
// forwards only 63/64 of remaining gas to the inner call (EIP-150).
const (
	innerGasMargin    = 20_000
	innerGasFallback  = 60_000
	execSigCheckGas   = 2_500
	execDispatchGas   = 500
	outerGasHeadroom  = 20_000
	outerGasFloor     = 400_000
	outerGasCeiling   = 800_000 // used when estimation fails outright
	outerGasBufferNum = 13
	outerGasBufferDen = 10
)

type backend interface {
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
}

// EstimateSafeTxGas estimates the gas for the inner call as if the Safe itself
// were the caller, buffered ×1.2 plus a flat margin. Estimation failure falls
// back to a fixed default; it never aborts the submission.
func EstimateSafeTxGas(ctx context.Context, lgr log.Logger, b backend, safeAddr, to common.Address, value *big.Int, data []byte) uint64 {
	estimate, err := b.EstimateGas(ctx, ethereum.CallMsg{
		From:  safeAddr,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		lgr.Debug("inner call gas estimation failed, using fallback", "to", to, "fallback", innerGasFallback, "err", err)
		return innerGasFallback
	}
	return estimate*12/10 + innerGasMargin
}

// ExecMinGas is the minimum gas the outer transaction must carry for the Safe
// to hand safeTxGas to the inner call: the 63/64 forwarding loss plus the
// inner gas itself plus the Safe's signature-check and dispatch overhead.
// estimate_gas on execTransaction alone under-estimates this under congestion,
// so it is computed explicitly.
func ExecMinGas(safeTxGas uint64) uint64 {
	return ceilDiv(safeTxGas*64, 63) + safeTxGas + execSigCheckGas + execDispatchGas
}

// OuterGasLimit picks the gas limit for the execTransaction envelope:
// max(full estimate ×1.3, the explicit minimum with baseGas and headroom, the
// absolute floor). When estimation fails it falls back to a conservative
// ceiling, still never below the computed minimum.
func OuterGasLimit(ctx context.Context, lgr log.Logger, b backend, from, safeAddr common.Address, execData []byte, safeTxGas, baseGas uint64) uint64 {
	minGas := ExecMinGas(safeTxGas) + baseGas + outerGasHeadroom

	estimate, err := b.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &safeAddr,
		Data: execData,
	})
	if err != nil {
		lgr.Debug("execTransaction gas estimation failed, using ceiling", "ceiling", outerGasCeiling, "err", err)
		return maxGas(outerGasCeiling, minGas)
	}

	limit := estimate * outerGasBufferNum / outerGasBufferDen
	limit = maxGas(limit, minGas)
	return maxGas(limit, outerGasFloor)
}

func ceilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}

func maxGas(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
