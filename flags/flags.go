package flags

import (
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	"github.com/ethereum-optimism/optimism/op-service/oppprof"
	oprpc "github.com/ethereum-optimism/optimism/op-service/rpc"
)

const EnvVarPrefix = "PETTAI_AGENT"

func prefixEnvVars(name string) []string {
	return opservice.PrefixEnvVar(EnvVarPrefix, name)
}

var (
	// Engine Flags. Leaving any of these three unset runs the agent with the
	// submission engine disabled: every operation becomes a no-op.
	EthRpcFlag = &cli.StringFlag{
		Name:    "eth-rpc",
		Usage:   "The RPC URL of the chain to submit transactions to",
		EnvVars: prefixEnvVars("ETH_RPC"),
	}
	PrivateKeyFlag = &cli.StringFlag{
		Name:    "private-key",
		Usage:   "Hex-encoded private key of the submitting EOA",
		EnvVars: prefixEnvVars("PRIVATE_KEY"),
	}
	ActionLedgerAddressFlag = &cli.StringFlag{
		Name:    "action-ledger-address",
		Usage:   "The address of the action ledger contract",
		EnvVars: prefixEnvVars("ACTION_LEDGER_ADDRESS"),
	}

	// Optional Flags
	StakingContractAddressFlag = &cli.StringFlag{
		Name:    "staking-contract-address",
		Usage:   "The address of the staking proxy contract (enables checkpointing)",
		EnvVars: prefixEnvVars("STAKING_CONTRACT_ADDRESS"),
	}
	SafeAddressFlag = &cli.StringFlag{
		Name:    "safe-address",
		Usage:   "Gnosis Safe address, or a JSON object mapping chain id to Safe address",
		EnvVars: prefixEnvVars("SAFE_ADDRESS"),
	}
	ActivityCheckerAddressFlag = &cli.StringFlag{
		Name:    "activity-checker-address",
		Usage:   "The address of the staking activity checker contract (enables epoch KPIs)",
		EnvVars: prefixEnvVars("ACTIVITY_CHECKER_ADDRESS"),
	}
	AttestorAddressFlag = &cli.StringFlag{
		Name:    "attestor-address",
		Usage:   "Expected signer of action attestations, overriding the ledger's attestor()",
		EnvVars: prefixEnvVars("ATTESTOR_ADDRESS"),
	}
	ServiceIDFlag = &cli.Uint64Flag{
		Name:    "service-id",
		Usage:   "Staking service id used for epoch KPI queries",
		EnvVars: prefixEnvVars("SERVICE_ID"),
	}
	LivenessPeriodFlag = &cli.Uint64Flag{
		Name:    "liveness-period",
		Usage:   "Staking liveness period in seconds, used when the contract doesn't expose one",
		EnvVars: prefixEnvVars("LIVENESS_PERIOD"),
	}
	PriorityFeeGweiFlag = &cli.Float64Flag{
		Name:    "priority-fee-gwei",
		Usage:   "Priority fee per gas in gwei for EIP-1559 transactions",
		EnvVars: prefixEnvVars("PRIORITY_FEE_GWEI"),
	}
	StateFileFlag = &cli.StringFlag{
		Name:    "state-file",
		Usage:   "Path of the JSON file that persists checkpoint and nonce state",
		Value:   "pettai_checkpoint_state.json",
		EnvVars: prefixEnvVars("STATE_FILE"),
	}
	PollIntervalFlag = &cli.DurationFlag{
		Name:    "poll-interval",
		Usage:   "How frequently to evaluate whether a checkpoint is due",
		Value:   5 * time.Minute,
		EnvVars: prefixEnvVars("POLL_INTERVAL"),
	}
	NetworkTimeoutFlag = &cli.DurationFlag{
		Name:    "network-timeout",
		Usage:   "Timeout applied to individual RPC calls",
		Value:   10 * time.Second,
		EnvVars: prefixEnvVars("NETWORK_TIMEOUT"),
	}
	DryRunFlag = &cli.BoolFlag{
		Name:    "dry-run",
		Usage:   "Build and sign transactions but do not broadcast them",
		EnvVars: prefixEnvVars("DRY_RUN"),
	}
)

var engineFlags = []cli.Flag{
	EthRpcFlag,
	PrivateKeyFlag,
	ActionLedgerAddressFlag,
}

var optionalFlags = []cli.Flag{
	StakingContractAddressFlag,
	SafeAddressFlag,
	ActivityCheckerAddressFlag,
	AttestorAddressFlag,
	ServiceIDFlag,
	LivenessPeriodFlag,
	PriorityFeeGweiFlag,
	StateFileFlag,
	PollIntervalFlag,
	NetworkTimeoutFlag,
	DryRunFlag,
}

func init() {
	optionalFlags = append(optionalFlags, oprpc.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, oppprof.CLIFlags(EnvVarPrefix)...)

	Flags = append(engineFlags, optionalFlags...)
}

var Flags []cli.Flag
