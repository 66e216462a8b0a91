package safe

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
)

type stubEstimator struct {
	gas uint64
	err error
}

func (s *stubEstimator) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return s.gas, s.err
}

func TestEstimateSafeTxGas(t *testing.T) {
	lgr := testlog.Logger(t, log.LevelError)
	safeAddr := common.HexToAddress("0xaa")
	to := common.HexToAddress("0xbb")

	t.Run("buffered estimate", func(t *testing.T) {
		got := EstimateSafeTxGas(context.Background(), lgr, &stubEstimator{gas: 100_000}, safeAddr, to, nil, nil)
		require.Equal(t, uint64(100_000*12/10+20_000), got)
	})

	t.Run("fallback on failure", func(t *testing.T) {
		got := EstimateSafeTxGas(context.Background(), lgr, &stubEstimator{err: errors.New("revert")}, safeAddr, to, nil, nil)
		require.Equal(t, uint64(60_000), got)
	})
}

func TestExecMinGas(t *testing.T) {
	for _, safeTxGas := range []uint64{0, 1, 63, 64, 100_000, 1_000_000} {
		got := ExecMinGas(safeTxGas)
		// must cover the 63/64 forwarding loss plus the inner gas plus the
		// Safe's own overhead
		want := (safeTxGas*64+62)/63 + safeTxGas + 2_500 + 500
		require.Equal(t, want, got, "safeTxGas=%d", safeTxGas)
		require.GreaterOrEqual(t, got, 2*safeTxGas)
	}
}

func TestOuterGasLimit(t *testing.T) {
	lgr := testlog.Logger(t, log.LevelError)
	from := common.HexToAddress("0xcc")
	safeAddr := common.HexToAddress("0xaa")

	t.Run("floor dominates small calls", func(t *testing.T) {
		got := OuterGasLimit(context.Background(), lgr, &stubEstimator{gas: 50_000}, from, safeAddr, nil, 60_000, 0)
		require.Equal(t, uint64(400_000), got)
	})

	t.Run("buffered estimate dominates large calls", func(t *testing.T) {
		got := OuterGasLimit(context.Background(), lgr, &stubEstimator{gas: 1_000_000}, from, safeAddr, nil, 60_000, 0)
		require.Equal(t, uint64(1_300_000), got)
	})

	t.Run("explicit minimum dominates low estimates", func(t *testing.T) {
		safeTxGas := uint64(500_000)
		got := OuterGasLimit(context.Background(), lgr, &stubEstimator{gas: 100_000}, from, safeAddr, nil, safeTxGas, 0)
		require.Equal(t, ExecMinGas(safeTxGas)+20_000, got)
	})

	t.Run("base gas included in minimum", func(t *testing.T) {
		safeTxGas := uint64(500_000)
		withBase := OuterGasLimit(context.Background(), lgr, &stubEstimator{gas: 100_000}, from, safeAddr, nil, safeTxGas, 40_000)
		without := OuterGasLimit(context.Background(), lgr, &stubEstimator{gas: 100_000}, from, safeAddr, nil, safeTxGas, 0)
		require.Equal(t, without+40_000, withBase)
	})

	t.Run("ceiling on estimation failure", func(t *testing.T) {
		got := OuterGasLimit(context.Background(), lgr, &stubEstimator{err: errors.New("revert")}, from, safeAddr, nil, 60_000, 0)
		require.Equal(t, uint64(800_000), got)
	})

	t.Run("failure still covers huge inner calls", func(t *testing.T) {
		safeTxGas := uint64(2_000_000)
		got := OuterGasLimit(context.Background(), lgr, &stubEstimator{err: errors.New("revert")}, from, safeAddr, nil, safeTxGas, 0)
		require.Equal(t, ExecMinGas(safeTxGas)+20_000, got)
	})
}
