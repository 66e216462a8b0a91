package safe

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
)

// ethSignVOffset shifts the recovery id so the Safe's signature dispatch treats
// the signature as an eth_sign (personal message) signature rather than an
// EIP-712 one.
const ethSignVOffset = 4

// OwnershipError reports a pre-broadcast signer/owner/threshold mismatch.
// Broadcasting such a transaction would deterministically revert, wasting gas
// and polluting the nonce sequence, so the builder refuses before signing
// leaves the process.
type OwnershipError struct {
	Reason string
	Signer common.Address
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("safe ownership check failed for %s: %s", e.Signer, e.Reason)
}

// SigningError reports a failure to produce or recover a signature.
type SigningError struct {
	Op  string
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("safe signing failed during %s: %v", e.Op, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// SignedTx is a fully assembled, verified Safe transaction ready to wrap in an
// outer execTransaction call.
type SignedTx struct {
	Tx        *Transaction
	Hash      common.Hash
	Signature []byte // r(32) || s(32) || v(1)
}

// Builder assembles and signs Safe transactions for one signer account.
type Builder struct {
	log    log.Logger
	client *Client
	key    *ecdsa.PrivateKey
	signer common.Address
}

func NewBuilder(lgr log.Logger, client *Client, key *ecdsa.PrivateKey) *Builder {
	return &Builder{
		log:    lgr,
		client: client,
		key:    key,
		signer: crypto.PubkeyToAddress(key.PublicKey),
	}
}

func (b *Builder) Signer() common.Address {
	return b.signer
}

// BuildAndSign constructs the Safe transaction for the inner call, obtains the
// canonical hash from the Safe contract, signs it eth_sign-style and verifies
// the signer against the Safe's owner set and threshold before anything is
// broadcast.
func (b *Builder) BuildAndSign(ctx context.Context, to common.Address, value *big.Int, data []byte, safeTxGas uint64) (*SignedTx, error) {
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := b.client.Nonce(ctx)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		To:             to,
		Value:          value,
		Data:           data,
		Operation:      OperationCall,
		SafeTxGas:      new(big.Int).SetUint64(safeTxGas),
		BaseGas:        new(big.Int),
		GasPrice:       new(big.Int),
		GasToken:       common.Address{},
		RefundReceiver: common.Address{},
		Nonce:          nonce,
	}

	hash, err := b.client.TransactionHash(ctx, tx)
	if err != nil {
		return nil, err
	}

	sig, err := SignEthSign(hash, b.key)
	if err != nil {
		return nil, &SigningError{Op: "sign", Err: err}
	}

	recovered, err := RecoverEthSign(hash, sig)
	if err != nil {
		return nil, &SigningError{Op: "recover", Err: err}
	}
	if recovered != b.signer {
		return nil, &OwnershipError{Reason: "recovered signer does not match configured account", Signer: recovered}
	}
	if err := b.checkOwnership(ctx); err != nil {
		return nil, err
	}

	return &SignedTx{Tx: tx, Hash: hash, Signature: sig}, nil
}

func (b *Builder) checkOwnership(ctx context.Context) error {
	owners, err := b.client.Owners(ctx)
	if err != nil {
		return err
	}
	isOwner := false
	for _, owner := range owners {
		if owner == b.signer {
			isOwner = true
			break
		}
	}
	if !isOwner {
		return &OwnershipError{Reason: "signer is not a Safe owner", Signer: b.signer}
	}

	threshold, err := b.client.Threshold(ctx)
	if err != nil {
		return err
	}
	if threshold.Cmp(big.NewInt(1)) != 0 {
		return &OwnershipError{
			Reason: fmt.Sprintf("safe threshold is %s, only single-signature execution is supported", threshold),
			Signer: b.signer,
		}
	}
	return nil
}

// SignEthSign signs the 32-byte Safe transaction hash as a personal message
// and packs the signature as r || s || v, with v shifted by +4 on top of the
// usual 27/28 so the Safe treats it as an eth_sign signature.
func SignEthSign(hash common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	digest := accounts.TextHash(hash.Bytes())
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27 + ethSignVOffset
	return sig, nil
}

// RecoverEthSign recovers the signer address from a packed eth_sign-style Safe
// signature.
func RecoverEthSign(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	v := sig[64]
	if v < 27+ethSignVOffset {
		return common.Address{}, fmt.Errorf("unexpected signature v value %d", v)
	}
	raw := bytes.Clone(sig)
	raw[64] = v - 27 - ethSignVOffset

	digest := accounts.TextHash(hash.Bytes())
	pub, err := crypto.SigToPub(digest, raw)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
