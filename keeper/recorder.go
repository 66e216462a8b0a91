package keeper

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/PettBro/pettai-agent/bindings"
	"github.com/PettBro/pettai-agent/metrics"
	"github.com/PettBro/pettai-agent/safe"
	"github.com/PettBro/pettai-agent/txsub"
)

const recordActionGasFallback = 200_000

// DefaultActionTypeIDs maps agent action names to the numeric identifiers the
// action ledger expects, ids assigned sequentially from 1.
func DefaultActionTypeIDs() map[string]uint64 {
	names := []string{
		"CONSUMABLES_USE",
		"CONSUMABLES_BUY",
		"RUB",
		"SHOWER",
		"SLEEP",
		"THROWBALL",
		"ACCESSORY_USE",
		"ACCESSORY_BUY",
		"HOTEL_CHECK_IN",
		"HOTEL_CHECK_OUT",
		"HOTEL_BUY",
		"WITHDRAWAL_CREATE",
		"WITHDRAWAL_QUEUE",
		"WITHDRAWAL_JUMP",
		"WITHDRAWAL_USE",
		"TRANSFER",
		"DEPOSIT",
	}
	ids := make(map[string]uint64, len(names))
	for i, name := range names {
		ids[name] = uint64(i + 1)
	}
	return ids
}

// ActionVerification carries a server-attested action signature. The attested
// message binds the action name to a server nonce and timestamp; Hash, when
// set, must be the attested digest and is recovered directly.
type ActionVerification struct {
	Message struct {
		Action    string `json:"action"`
		Nonce     uint64 `json:"nonce"`
		Timestamp uint64 `json:"timestamp"`
	} `json:"message"`
	Signature struct {
		V uint8       `json:"v"`
		R common.Hash `json:"r"`
		S common.Hash `json:"s"`
	} `json:"signature"`
	Hash *common.Hash `json:"hash,omitempty"`
}

// AttestationError reports a verification signature that does not recover to
// the ledger's expected attestor. It is distinct from OwnershipError so
// operators can tell the two pre-broadcast gates apart.
type AttestationError struct {
	Recovered common.Address
	Expected  common.Address
}

func (e *AttestationError) Error() string {
	return fmt.Sprintf("action attestation recovered %s, expected attestor %s", e.Recovered, e.Expected)
}

// Recorder emits recordAction transactions to the action ledger contract,
// directly from the EOA or wrapped in a Safe execTransaction.
type Recorder struct {
	log  log.Logger
	metr metrics.Metricer

	backend    txsub.Backend
	ledgerAddr common.Address
	ledgerABI  abi.ABI
	ledger     *bind.BoundContract
	sub        *txsub.Submitter
	safeClient *safe.Client
	safeBuild  *safe.Builder
	store      *StateStore

	attestorOverride common.Address // zero = read from contract
	networkTimeout   time.Duration

	actionIDs map[string]uint64

	mu             sync.Mutex
	unknownActions map[string]struct{}
	attestor       *common.Address
}

type RecorderSetup struct {
	Log              log.Logger
	Metrics          metrics.Metricer
	Backend          txsub.Backend
	LedgerAddr       common.Address
	Submitter        *txsub.Submitter
	SafeClient       *safe.Client
	SafeBuilder      *safe.Builder
	Store            *StateStore
	AttestorOverride common.Address
	NetworkTimeout   time.Duration
	ActionTypeIDs    map[string]uint64
}

func NewRecorder(setup RecorderSetup) (*Recorder, error) {
	ledgerABI, err := bindings.ActionLedgerABI()
	if err != nil {
		return nil, err
	}
	ids := setup.ActionTypeIDs
	if ids == nil {
		ids = DefaultActionTypeIDs()
	}
	return &Recorder{
		log:              setup.Log,
		metr:             setup.Metrics,
		backend:          setup.Backend,
		ledgerAddr:       setup.LedgerAddr,
		ledgerABI:        ledgerABI,
		ledger:           bind.NewBoundContract(setup.LedgerAddr, ledgerABI, setup.Backend, nil, nil),
		sub:              setup.Submitter,
		safeClient:       setup.SafeClient,
		safeBuild:        setup.SafeBuilder,
		store:            setup.Store,
		attestorOverride: setup.AttestorOverride,
		networkTimeout:   setup.NetworkTimeout,
		actionIDs:        ids,
		unknownActions:   make(map[string]struct{}),
	}, nil
}

// agent returns the on-chain identity actions are recorded for: the Safe when
// the recorder routes through one, the EOA otherwise.
func (r *Recorder) agent() common.Address {
	if r.safeClient != nil {
		return r.safeClient.Address()
	}
	return r.sub.From()
}

// RecordAction records a single action on-chain. Unknown action names and
// non-positive amounts are ignored (unknown names are logged once). A nil hash
// with a nil error means nothing was submitted, which is a normal outcome.
func (r *Recorder) RecordAction(ctx context.Context, actionName string, amount uint64) (*common.Hash, error) {
	actionID, ok := r.resolveAction(actionName)
	if !ok || amount == 0 {
		return nil, nil
	}

	key := strings.ToUpper(strings.TrimSpace(actionName))
	r.log.Info("scheduling on-chain recordAction", "action", key, "amount", amount, "agent", r.agent())

	data, err := r.ledgerABI.Pack("recordAction", r.agent(), actionTypeBytes(actionID), new(big.Int).SetUint64(amount))
	if err != nil {
		return nil, fmt.Errorf("failed to pack recordAction: %w", err)
	}

	res, err := r.submit(ctx, data)
	if err != nil || res == nil {
		return nil, err
	}
	r.metr.RecordAction(key)
	r.afterSubmit(res, key)
	return &res.TxHash, nil
}

// RecordActionsBatch records several actions in one transaction via the
// ledger's recordActionsBatch entrypoint. Unknown names and zero amounts are
// dropped from the batch; an empty batch is a no-op.
func (r *Recorder) RecordActionsBatch(ctx context.Context, actions []string, amounts []uint64) (*common.Hash, error) {
	if len(actions) != len(amounts) {
		return nil, fmt.Errorf("batch length mismatch: %d actions, %d amounts", len(actions), len(amounts))
	}

	var (
		types  [][32]byte
		values []*big.Int
		keys   []string
	)
	for i, name := range actions {
		id, ok := r.resolveAction(name)
		if !ok || amounts[i] == 0 {
			continue
		}
		types = append(types, actionTypeBytes(id))
		values = append(values, new(big.Int).SetUint64(amounts[i]))
		keys = append(keys, strings.ToUpper(strings.TrimSpace(name)))
	}
	if len(types) == 0 {
		return nil, nil
	}

	data, err := r.ledgerABI.Pack("recordActionsBatch", r.agent(), types, values)
	if err != nil {
		return nil, fmt.Errorf("failed to pack recordActionsBatch: %w", err)
	}

	res, err := r.submit(ctx, data)
	if err != nil || res == nil {
		return nil, err
	}
	for _, key := range keys {
		r.metr.RecordAction(key)
	}
	r.afterSubmit(res, strings.Join(keys, ","))
	return &res.TxHash, nil
}

// RecordActionVerified first verifies the server attestation signature against
// the ledger's expected attestor, then records the action. The attestation
// gate is independent of (and in addition to) the Safe ownership gate.
func (r *Recorder) RecordActionVerified(ctx context.Context, actionName string, amount uint64, verification ActionVerification) (*common.Hash, error) {
	if err := r.verifyAttestation(ctx, verification); err != nil {
		return nil, err
	}
	return r.RecordAction(ctx, actionName, amount)
}

func (r *Recorder) verifyAttestation(ctx context.Context, v ActionVerification) error {
	digest := attestationDigest(v)

	sig := make([]byte, 65)
	copy(sig[0:32], v.Signature.R.Bytes())
	copy(sig[32:64], v.Signature.S.Bytes())
	recID := v.Signature.V
	if recID >= 27 {
		recID -= 27
	}
	sig[64] = recID

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return fmt.Errorf("failed to recover attestation signer: %w", err)
	}
	recovered := crypto.PubkeyToAddress(*pub)

	expected, err := r.expectedAttestor(ctx)
	if err != nil {
		return err
	}
	if recovered != expected {
		return &AttestationError{Recovered: recovered, Expected: expected}
	}
	return nil
}

// attestationDigest returns the signed digest: the caller-supplied hash when
// present, else the personal-message hash of "action:nonce:timestamp".
func attestationDigest(v ActionVerification) []byte {
	if v.Hash != nil {
		return accounts.TextHash(v.Hash.Bytes())
	}
	msg := fmt.Sprintf("%s:%d:%d", v.Message.Action, v.Message.Nonce, v.Message.Timestamp)
	return accounts.TextHash([]byte(msg))
}

func (r *Recorder) expectedAttestor(ctx context.Context) (common.Address, error) {
	if r.attestorOverride != (common.Address{}) {
		return r.attestorOverride, nil
	}

	r.mu.Lock()
	cached := r.attestor
	r.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}

	tCtx, cancel := r.networkCtx(ctx)
	defer cancel()
	var result []interface{}
	if err := r.ledger.Call(&bind.CallOpts{Context: tCtx}, &result, "attestor"); err != nil {
		return common.Address{}, fmt.Errorf("failed to read ledger attestor: %w", err)
	}
	addr := result[0].(common.Address)

	r.mu.Lock()
	r.attestor = &addr
	r.mu.Unlock()
	return addr, nil
}

func (r *Recorder) submit(ctx context.Context, data []byte) (*txsub.Result, error) {
	if r.safeBuild == nil {
		return r.sub.Submit(ctx, txsub.Candidate{
			To:          r.ledgerAddr,
			Data:        data,
			GasFloor:    txsub.RecordActionGasFloor,
			GasFallback: recordActionGasFallback,
			MaxAttempts: txsub.DirectMaxAttempts,
		})
	}

	// The Safe nonce read, hashing and signing must happen inside the account
	// lock so a concurrent submitter sharing the Safe cannot sign the same
	// Safe nonce.
	return r.sub.SubmitWith(ctx, func(ctx context.Context) (*txsub.Candidate, error) {
		tCtx, cancel := r.networkCtx(ctx)
		defer cancel()

		safeAddr := r.safeClient.Address()
		safeTxGas := safe.EstimateSafeTxGas(tCtx, r.log, r.backend, safeAddr, r.ledgerAddr, nil, data)
		signed, err := r.safeBuild.BuildAndSign(tCtx, r.ledgerAddr, nil, data, safeTxGas)
		if err != nil {
			return nil, err
		}
		execData, err := r.safeClient.ExecTransactionData(signed.Tx, signed.Signature)
		if err != nil {
			return nil, err
		}
		gasLimit := safe.OuterGasLimit(tCtx, r.log, r.backend, r.sub.From(), safeAddr, execData, safeTxGas, signed.Tx.BaseGas.Uint64())

		return &txsub.Candidate{
			To:          safeAddr,
			Data:        execData,
			GasLimit:    gasLimit,
			MaxAttempts: txsub.SafeMaxAttempts,
		}, nil
	})
}

func (r *Recorder) afterSubmit(res *txsub.Result, action string) {
	next := res.Nonce + 1
	r.store.Update(func(s *CheckpointState) {
		s.NextNonce = &next
	})

	r.log.Info("recordAction submitted", "action", action, "hash", res.TxHash, "nonce", res.Nonce)
}

// resolveAction maps a name to its ledger id, remembering unknown names so
// they are only logged once.
func (r *Recorder) resolveAction(name string) (uint64, bool) {
	key := strings.ToUpper(strings.TrimSpace(name))
	if key == "" {
		return 0, false
	}
	id, ok := r.actionIDs[key]
	if ok {
		return id, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.unknownActions[key]; !seen {
		r.unknownActions[key] = struct{}{}
		r.log.Debug("no action id mapping defined", "action", key)
	}
	return 0, false
}

func (r *Recorder) networkCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.networkTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.networkTimeout)
}

func actionTypeBytes(id uint64) [32]byte {
	var b [32]byte
	new(big.Int).SetUint64(id).FillBytes(b[:])
	return b
}
