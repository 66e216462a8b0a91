package keeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync/atomic"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/clock"
	"github.com/ethereum-optimism/optimism/op-service/dial"
	"github.com/ethereum-optimism/optimism/op-service/httputil"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	"github.com/ethereum-optimism/optimism/op-service/oppprof"
	oprpc "github.com/ethereum-optimism/optimism/op-service/rpc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/urfave/cli/v2"

	"github.com/PettBro/pettai-agent/flags"
	"github.com/PettBro/pettai-agent/metrics"
	"github.com/PettBro/pettai-agent/safe"
	"github.com/PettBro/pettai-agent/txsub"
)

var ErrAlreadyStopped = errors.New("already stopped")

// AgentService wires the submission engine, the Safe execution path and the
// staking checkpoint loop into one process.
type AgentService struct {
	Log     log.Logger
	Metrics metrics.Metricer

	Version string

	Client *ethclient.Client

	Submitter  *txsub.Submitter
	SafeClient *safe.Client
	Recorder   *Recorder
	Checkpoint *CheckpointClient
	KPI        *KPIReader

	store  *StateStore
	driver *Driver

	pprofService *oppprof.Service
	metricsSrv   *httputil.HTTPServer
	rpcServer    *oprpc.Server

	balanceMetricer io.Closer

	stopped atomic.Bool
}

func Main(version string) cliapp.LifecycleAction {
	return func(cliCtx *cli.Context, _ context.CancelCauseFunc) (cliapp.Lifecycle, error) {
		cfg := NewConfig(cliCtx)
		if err := cfg.Check(); err != nil {
			return nil, fmt.Errorf("invalid CLI flags: %w", err)
		}

		l := oplog.NewLogger(oplog.AppOut(cliCtx), cfg.LogConfig)
		oplog.SetGlobalLogHandler(l.Handler())
		opservice.ValidateEnvVars(flags.EnvVarPrefix, flags.Flags, l)

		l.Info("initializing agent")
		return AgentServiceFromCLIConfig(cliCtx.Context, version, cfg, l)
	}
}

func AgentServiceFromCLIConfig(ctx context.Context, version string, cfg *CLIConfig, log log.Logger) (*AgentService, error) {
	var as AgentService
	if err := as.initFromCLIConfig(ctx, version, cfg, log); err != nil {
		return nil, errors.Join(err, as.Stop(ctx))
	}
	return &as, nil
}

func (as *AgentService) initFromCLIConfig(ctx context.Context, version string, cfg *CLIConfig, log log.Logger) error {
	as.Version = version
	as.Log = log

	as.initMetrics(cfg)

	if cfg.Disabled() {
		as.Log.Warn("private key, rpc url or ledger address unset, submission engine disabled")
	} else {
		if err := as.initRPCClients(ctx, cfg); err != nil {
			return err
		}
		if err := as.initEngine(ctx, cfg); err != nil {
			return fmt.Errorf("failed to init submission engine: %w", err)
		}
	}
	if err := as.initMetricsServer(cfg); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	if err := as.initPProf(cfg); err != nil {
		return fmt.Errorf("failed to init pprof server: %w", err)
	}
	if err := as.initRPCServer(cfg); err != nil {
		return fmt.Errorf("failed to start rpc server: %w", err)
	}

	as.initBalanceMonitor(cfg)

	as.Metrics.RecordInfo(as.Version)
	as.Metrics.RecordUp()
	return nil
}

func (as *AgentService) initMetrics(cfg *CLIConfig) {
	if cfg.MetricsConfig.Enabled {
		procName := "default"
		as.Metrics = metrics.NewMetrics(procName)
	} else {
		as.Metrics = metrics.NoopMetrics
	}
}

func (as *AgentService) initRPCClients(ctx context.Context, cfg *CLIConfig) error {
	client, err := dial.DialEthClientWithTimeout(ctx, dial.DefaultDialTimeout, as.Log, cfg.EthRpc)
	if err != nil {
		return fmt.Errorf("failed to dial rpc: %w", err)
	}
	as.Client = client
	return nil
}

func (as *AgentService) initEngine(ctx context.Context, cfg *CLIConfig) error {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	chainID, err := as.Client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to read chain id: %w", err)
	}

	ledgerAddr, err := opservice.ParseAddress(cfg.ActionLedgerAddress)
	if err != nil {
		return fmt.Errorf("invalid action ledger address: %w", err)
	}

	as.store = NewStateStore(as.Log, cfg.StateFile)

	nonces := txsub.NewNonceSequencer(as.Log, as.Client)
	fees := txsub.NewFeeStrategy(as.Log, as.Client, gweiToWei(cfg.PriorityFeeGwei))
	gas := txsub.NewGasEstimator(as.Log, as.Client)

	sub, err := txsub.NewSubmitter(as.Log, as.Metrics, txsub.Config{
		ChainID:        chainID,
		NetworkTimeout: cfg.NetworkTimeout,
		DryRun:         cfg.DryRun,
	}, as.Client, nonces, txsub.NewLockTable(), fees, gas, clock.SystemClock, key)
	if err != nil {
		return err
	}
	as.Submitter = sub

	if persisted := as.store.Load().NextNonce; persisted != nil {
		nonces.Seed(sub.From(), *persisted)
	}

	var safeBuilder *safe.Builder
	safeAddr, err := resolveSafeAddress(cfg.SafeAddress, chainID)
	if err != nil {
		return err
	}
	if safeAddr != (common.Address{}) {
		safeClient, err := safe.NewClient(as.Log, as.Client, safeAddr)
		if err != nil {
			return fmt.Errorf("failed to init safe client: %w", err)
		}
		as.SafeClient = safeClient
		safeBuilder = safe.NewBuilder(as.Log, safeClient, key)
		as.Log.Info("safe execution enabled", "safe", safeAddr, "chain_id", chainID)
	}

	var attestorAddr common.Address
	if cfg.AttestorAddress != "" {
		attestorAddr, err = opservice.ParseAddress(cfg.AttestorAddress)
		if err != nil {
			return fmt.Errorf("invalid attestor address: %w", err)
		}
	}

	recorder, err := NewRecorder(RecorderSetup{
		Log:              as.Log,
		Metrics:          as.Metrics,
		Backend:          as.Client,
		LedgerAddr:       ledgerAddr,
		Submitter:        sub,
		SafeClient:       as.SafeClient,
		SafeBuilder:      safeBuilder,
		Store:            as.store,
		AttestorOverride: attestorAddr,
		NetworkTimeout:   cfg.NetworkTimeout,
	})
	if err != nil {
		return err
	}
	as.Recorder = recorder

	if cfg.StakingContractAddress == "" {
		as.Log.Info("no staking contract configured, checkpointing disabled")
		return nil
	}
	stakingAddr, err := opservice.ParseAddress(cfg.StakingContractAddress)
	if err != nil {
		return fmt.Errorf("invalid staking contract address: %w", err)
	}

	checkpoint, err := NewCheckpointClient(CheckpointSetup{
		Log:              as.Log,
		Metrics:          as.Metrics,
		Clock:            clock.SystemClock,
		Backend:          as.Client,
		StakingAddr:      stakingAddr,
		Submitter:        sub,
		SafeClient:       as.SafeClient,
		SafeBuilder:      safeBuilder,
		Store:            as.store,
		LivenessOverride: cfg.LivenessPeriod,
		NetworkTimeout:   cfg.NetworkTimeout,
	})
	if err != nil {
		return err
	}
	as.Checkpoint = checkpoint

	driver, err := NewDriver(as.Log, checkpoint, cfg.PollInterval)
	if err != nil {
		return err
	}
	as.driver = driver

	if cfg.ActivityCheckerAddress != "" {
		if as.SafeClient == nil {
			return errors.New("epoch KPIs require a safe address")
		}
		checkerAddr, err := opservice.ParseAddress(cfg.ActivityCheckerAddress)
		if err != nil {
			return fmt.Errorf("invalid activity checker address: %w", err)
		}
		kpi, err := NewKPIReader(KPISetup{
			Log:            as.Log,
			Clock:          clock.SystemClock,
			ServiceID:      cfg.ServiceID,
			Caller:         as.Client,
			StakingAddr:    stakingAddr,
			CheckerAddr:    checkerAddr,
			SafeClient:     as.SafeClient,
			Checkpoint:     checkpoint,
			NetworkTimeout: cfg.NetworkTimeout,
		})
		if err != nil {
			return err
		}
		as.KPI = kpi
	}

	return nil
}

func (as *AgentService) initBalanceMonitor(cfg *CLIConfig) {
	if cfg.MetricsConfig.Enabled && as.Submitter != nil {
		as.balanceMetricer = as.Metrics.StartBalanceMetrics(as.Log, as.Client, as.Submitter.From())
	}
}

func (as *AgentService) initPProf(cfg *CLIConfig) error {
	as.pprofService = oppprof.New(
		cfg.PprofConfig.ListenEnabled,
		cfg.PprofConfig.ListenAddr,
		cfg.PprofConfig.ListenPort,
		cfg.PprofConfig.ProfileType,
		cfg.PprofConfig.ProfileDir,
		cfg.PprofConfig.ProfileFilename,
	)

	if err := as.pprofService.Start(); err != nil {
		return fmt.Errorf("failed to start pprof service: %w", err)
	}

	return nil
}

func (as *AgentService) initMetricsServer(cfg *CLIConfig) error {
	if !cfg.MetricsConfig.Enabled {
		as.Log.Info("metrics disabled")
		return nil
	}
	m, ok := as.Metrics.(opmetrics.RegistryMetricer)
	if !ok {
		return fmt.Errorf("metrics were enabled, but metricer %T does not expose registry for metrics-server", as.Metrics)
	}
	as.Log.Debug("starting metrics server", "addr", cfg.MetricsConfig.ListenAddr, "port", cfg.MetricsConfig.ListenPort)
	metricsSrv, err := opmetrics.StartServer(m.Registry(), cfg.MetricsConfig.ListenAddr, cfg.MetricsConfig.ListenPort)
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	as.Log.Info("started metrics server", "addr", metricsSrv.Addr())
	as.metricsSrv = metricsSrv
	return nil
}

func (as *AgentService) initRPCServer(cfg *CLIConfig) error {
	server := oprpc.NewServer(
		cfg.RPCConfig.ListenAddr,
		cfg.RPCConfig.ListenPort,
		as.Version,
		oprpc.WithLogger(as.Log),
	)
	if cfg.RPCConfig.EnableAdmin {
		server.AddAPI(gethrpc.API{
			Namespace: "admin",
			Service:   oprpc.NewCommonAdminAPI(as.Log),
		})
		server.AddAPI(GetAdminAPI(NewAdminAPI(as.Recorder, as.Checkpoint, as.KPI, as.Log)))
		as.Log.Info("admin rpc enabled")
	}
	as.Log.Info("starting json-rpc server")
	if err := server.Start(); err != nil {
		return fmt.Errorf("unable to start rpc server: %w", err)
	}
	as.rpcServer = server
	return nil
}

func (as *AgentService) Start(ctx context.Context) error {
	if as.driver == nil {
		as.Log.Info("agent running without checkpoint loop")
		return nil
	}
	return as.driver.Start()
}

func (as *AgentService) Stopped() bool {
	return as.stopped.Load()
}

func (as *AgentService) Kill() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	return as.Stop(ctx)
}

func (as *AgentService) Stop(ctx context.Context) error {
	if as.Stopped() {
		return ErrAlreadyStopped
	}
	as.Log.Info("stopping agent")

	var result error
	if as.driver != nil {
		if err := as.driver.Stop(); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop checkpoint driver: %w", err))
		}
	}

	if as.rpcServer != nil {
		if err := as.rpcServer.Stop(); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop rpc server: %w", err))
		}
	}

	if as.pprofService != nil {
		if err := as.pprofService.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop pprof server: %w", err))
		}
	}

	if as.balanceMetricer != nil {
		if err := as.balanceMetricer.Close(); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to close balance metricer: %w", err))
		}
	}

	if as.metricsSrv != nil {
		if err := as.metricsSrv.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop metrics server: %w", err))
		}
	}

	if as.Client != nil {
		as.Client.Close()
	}

	if result == nil {
		as.stopped.Store(true)
		as.Log.Info("stopped agent")
	}

	return result
}

var _ cliapp.Lifecycle = (*AgentService)(nil)

// resolveSafeAddress accepts either a single address or a JSON object mapping
// decimal chain ids to addresses, and returns the address for the connected
// chain. An empty value or a map without the connected chain disables Safe
// execution.
func resolveSafeAddress(raw string, chainID *big.Int) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return common.Address{}, nil
	}
	if !strings.HasPrefix(raw, "{") {
		return opservice.ParseAddress(raw)
	}

	var byChain map[string]string
	if err := json.Unmarshal([]byte(raw), &byChain); err != nil {
		return common.Address{}, fmt.Errorf("invalid safe address map: %w", err)
	}
	addr, ok := byChain[chainID.String()]
	if !ok {
		return common.Address{}, nil
	}
	return opservice.ParseAddress(addr)
}

// gweiToWei converts a fractional gwei amount to wei, returning nil for a
// non-positive input so the fee strategy treats it as unset.
func gweiToWei(gwei float64) *big.Int {
	if gwei <= 0 {
		return nil
	}
	wei, _ := new(big.Float).Mul(
		big.NewFloat(gwei),
		new(big.Float).SetInt(big.NewInt(params.GWei)),
	).Int(nil)
	return wei
}
