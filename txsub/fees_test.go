package txsub

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"
)

func TestFeeStrategyDynamic(t *testing.T) {
	backend := newMockBackend()
	strat := NewFeeStrategy(testlog.Logger(t, log.LevelError), backend, nil)

	fees, err := strat.Apply(context.Background())
	require.NoError(t, err)
	require.True(t, fees.Dynamic())
	require.Nil(t, fees.GasPrice)

	// suggestion of 0.005 gwei sits inside the clamp and is used as-is
	require.Equal(t, big.NewInt(5*params.GWei/1000), fees.GasTipCap)
	// fee cap = baseFee + tip + buffer, buffer = clamp(tip) = tip here
	wantCap := new(big.Int).Add(backend.baseFee, big.NewInt(2*5*params.GWei/1000))
	require.Equal(t, wantCap, fees.GasFeeCap)
}

func TestFeeStrategyTipBounds(t *testing.T) {
	tests := []struct {
		name      string
		suggested *big.Int
		override  *big.Int
		wantTip   *big.Int
	}{
		{"suggestion below floor", big.NewInt(1), nil, big.NewInt(params.GWei / 1000)},
		{"suggestion above ceiling", big.NewInt(params.GWei), nil, big.NewInt(params.GWei / 20)},
		{"override wins over lower suggestion", big.NewInt(2 * params.GWei / 1000), big.NewInt(10 * params.GWei / 1000), big.NewInt(10 * params.GWei / 1000)},
		{"override clamped", nil, big.NewInt(params.GWei), big.NewInt(params.GWei / 20)},
		{"nothing resolves", nil, nil, big.NewInt(5 * params.GWei / 1000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newMockBackend()
			if tt.suggested != nil {
				backend.tipCap = tt.suggested
			} else {
				backend.tipCapErr = errors.New("method not found")
			}
			strat := NewFeeStrategy(testlog.Logger(t, log.LevelError), backend, tt.override)

			fees, err := strat.Apply(context.Background())
			require.NoError(t, err)
			require.True(t, fees.Dynamic())
			require.Equal(t, tt.wantTip, fees.GasTipCap)

			// fee cap always covers baseFee + tip
			minCap := new(big.Int).Add(backend.baseFee, fees.GasTipCap)
			require.True(t, fees.GasFeeCap.Cmp(minCap) > 0)
		})
	}
}

func TestFeeStrategyLegacyFallback(t *testing.T) {
	t.Run("no base fee", func(t *testing.T) {
		backend := newMockBackend()
		backend.baseFee = nil
		strat := NewFeeStrategy(testlog.Logger(t, log.LevelError), backend, nil)

		fees, err := strat.Apply(context.Background())
		require.NoError(t, err)
		require.False(t, fees.Dynamic())
		require.Equal(t, backend.gasPrice, fees.GasPrice)
	})

	t.Run("header fetch fails", func(t *testing.T) {
		backend := newMockBackend()
		backend.headerErr = errors.New("boom")
		strat := NewFeeStrategy(testlog.Logger(t, log.LevelError), backend, nil)

		fees, err := strat.Apply(context.Background())
		require.NoError(t, err)
		require.False(t, fees.Dynamic())
		require.Equal(t, backend.gasPrice, fees.GasPrice)
	})
}
