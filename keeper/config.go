package keeper

import (
	"errors"
	"time"

	"github.com/urfave/cli/v2"

	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	"github.com/ethereum-optimism/optimism/op-service/oppprof"
	oprpc "github.com/ethereum-optimism/optimism/op-service/rpc"

	"github.com/PettBro/pettai-agent/flags"
)

type CLIConfig struct {
	EthRpc                 string
	PrivateKey             string
	ActionLedgerAddress    string
	StakingContractAddress string
	SafeAddress            string
	ActivityCheckerAddress string
	AttestorAddress        string
	ServiceID              uint64
	LivenessPeriod         uint64
	PriorityFeeGwei        float64
	StateFile              string
	PollInterval           time.Duration
	NetworkTimeout         time.Duration
	DryRun                 bool

	RPCConfig     oprpc.CLIConfig
	LogConfig     oplog.CLIConfig
	MetricsConfig opmetrics.CLIConfig
	PprofConfig   oppprof.CLIConfig
}

func (c *CLIConfig) Check() error {
	if err := c.RPCConfig.Check(); err != nil {
		return err
	}
	if err := c.MetricsConfig.Check(); err != nil {
		return err
	}
	if err := c.PprofConfig.Check(); err != nil {
		return err
	}

	if c.ActivityCheckerAddress != "" && c.StakingContractAddress == "" {
		return errors.New("activity checker requires a staking contract address")
	}

	return nil
}

// Disabled reports whether the submission engine should run inert. Without a
// key, an RPC endpoint and a ledger contract there is nothing to submit, and
// missing any of them is treated as "feature off" rather than an error.
func (c *CLIConfig) Disabled() bool {
	return c.EthRpc == "" || c.PrivateKey == "" || c.ActionLedgerAddress == ""
}

func NewConfig(ctx *cli.Context) *CLIConfig {
	return &CLIConfig{
		// Engine Flags
		EthRpc:              ctx.String(flags.EthRpcFlag.Name),
		PrivateKey:          ctx.String(flags.PrivateKeyFlag.Name),
		ActionLedgerAddress: ctx.String(flags.ActionLedgerAddressFlag.Name),

		// Optional Flags
		StakingContractAddress: ctx.String(flags.StakingContractAddressFlag.Name),
		SafeAddress:            ctx.String(flags.SafeAddressFlag.Name),
		ActivityCheckerAddress: ctx.String(flags.ActivityCheckerAddressFlag.Name),
		AttestorAddress:        ctx.String(flags.AttestorAddressFlag.Name),
		ServiceID:              ctx.Uint64(flags.ServiceIDFlag.Name),
		LivenessPeriod:         ctx.Uint64(flags.LivenessPeriodFlag.Name),
		PriorityFeeGwei:        ctx.Float64(flags.PriorityFeeGweiFlag.Name),
		StateFile:              ctx.String(flags.StateFileFlag.Name),
		PollInterval:           ctx.Duration(flags.PollIntervalFlag.Name),
		NetworkTimeout:         ctx.Duration(flags.NetworkTimeoutFlag.Name),
		DryRun:                 ctx.Bool(flags.DryRunFlag.Name),
		RPCConfig:              oprpc.ReadCLIConfig(ctx),
		LogConfig:              oplog.ReadCLIConfig(ctx),
		MetricsConfig:          opmetrics.ReadCLIConfig(ctx),
		PprofConfig:            oppprof.ReadCLIConfig(ctx),
	}
}
