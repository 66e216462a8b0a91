package keeper

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// adminAPI exposes the agent's operations over JSON-RPC in the keeper
// namespace: keeper_recordAction, keeper_recordActionsBatch,
// keeper_recordActionVerified, keeper_checkpoint and keeper_epochKPIs.
// Operations whose component is not
// configured return nothing rather than erroring, so callers can fire
// requests at a partially configured agent without special-casing it.
type adminAPI struct {
	log        log.Logger
	recorder   *Recorder
	checkpoint *CheckpointClient
	kpi        *KPIReader
}

func NewAdminAPI(recorder *Recorder, checkpoint *CheckpointClient, kpi *KPIReader, log log.Logger) *adminAPI {
	return &adminAPI{
		log:        log,
		recorder:   recorder,
		checkpoint: checkpoint,
		kpi:        kpi,
	}
}

func GetAdminAPI(api *adminAPI) gethrpc.API {
	return gethrpc.API{
		Namespace: "keeper",
		Service:   api,
	}
}

func (a *adminAPI) RecordAction(ctx context.Context, action string, amount uint64) (*common.Hash, error) {
	if a.recorder == nil {
		a.log.Debug("recorder disabled, ignoring record request", "action", action)
		return nil, nil
	}
	return a.recorder.RecordAction(ctx, action, amount)
}

func (a *adminAPI) RecordActionsBatch(ctx context.Context, actions []string, amounts []uint64) (*common.Hash, error) {
	if a.recorder == nil {
		a.log.Debug("recorder disabled, ignoring batch record request")
		return nil, nil
	}
	return a.recorder.RecordActionsBatch(ctx, actions, amounts)
}

// RecordActionVerified validates the server attestation signature before
// recording the action.
func (a *adminAPI) RecordActionVerified(ctx context.Context, action string, amount uint64, verification ActionVerification) (*common.Hash, error) {
	if a.recorder == nil {
		a.log.Debug("recorder disabled, ignoring verified record request", "action", action)
		return nil, nil
	}
	return a.recorder.RecordActionVerified(ctx, action, amount, verification)
}

// Checkpoint forces an immediate checkpoint attempt, bypassing the liveness
// deadline and the submission cooldown.
func (a *adminAPI) Checkpoint(ctx context.Context) (*common.Hash, error) {
	if a.checkpoint == nil {
		a.log.Debug("checkpointing disabled, ignoring checkpoint request")
		return nil, nil
	}
	return a.checkpoint.CheckpointIfNeeded(ctx, true)
}

func (a *adminAPI) EpochKPIs(ctx context.Context) (*EpochKPI, error) {
	if a.kpi == nil {
		return nil, nil
	}
	return a.kpi.EpochKPIs(ctx)
}
