// Package safe builds and signs Gnosis Safe transactions for single-signature
// (threshold 1) execution of a wrapped contract call.
package safe

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

const (
	OperationCall         = 0
	OperationDelegateCall = 1
)

// Transaction mirrors the nine Safe transaction fields plus the Safe's internal
// nonce. The Safe nonce is its own counter, independent of the EOA's
// transaction nonce.
type Transaction struct {
	To             common.Address
	Value          *big.Int
	Data           []byte
	Operation      uint8
	SafeTxGas      *big.Int
	BaseGas        *big.Int
	GasPrice       *big.Int
	GasToken       common.Address
	RefundReceiver common.Address
	Nonce          *big.Int
}

// Client reads the Safe's on-chain state: owners, threshold, internal nonce and
// the canonical transaction hash.
type Client struct {
	log     log.Logger
	address common.Address
	abi     abi.ABI
	bound   *bind.BoundContract

	mu        sync.Mutex
	lastNonce *big.Int // last successfully read or used Safe nonce
}

func NewClient(lgr log.Logger, caller bind.ContractCaller, address common.Address) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(safeABIString))
	if err != nil {
		return nil, fmt.Errorf("failed to parse Safe ABI: %w", err)
	}
	return &Client{
		log:     lgr,
		address: address,
		abi:     parsed,
		bound:   bind.NewBoundContract(address, parsed, caller, nil, nil),
	}, nil
}

func (c *Client) Address() common.Address {
	return c.address
}

func (c *Client) Owners(ctx context.Context) ([]common.Address, error) {
	var result []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &result, "getOwners"); err != nil {
		return nil, fmt.Errorf("failed to get Safe owners: %w", err)
	}
	return result[0].([]common.Address), nil
}

func (c *Client) Threshold(ctx context.Context) (*big.Int, error) {
	var result []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &result, "getThreshold"); err != nil {
		return nil, fmt.Errorf("failed to get Safe threshold: %w", err)
	}
	return result[0].(*big.Int), nil
}

// Nonce reads the Safe's internal nonce fresh before each submission. On a
// transient read failure it degrades to last-saved + 1 rather than blocking,
// logging the degraded path.
func (c *Client) Nonce(ctx context.Context) (*big.Int, error) {
	var result []interface{}
	err := c.bound.Call(&bind.CallOpts{Context: ctx}, &result, "nonce")
	if err == nil {
		nonce := result[0].(*big.Int)
		c.mu.Lock()
		c.lastNonce = new(big.Int).Set(nonce)
		c.mu.Unlock()
		return nonce, nil
	}

	c.mu.Lock()
	last := c.lastNonce
	c.mu.Unlock()
	if last == nil {
		return nil, fmt.Errorf("failed to get Safe nonce: %w", err)
	}
	fallback := new(big.Int).Add(last, big.NewInt(1))
	c.log.Warn("Safe nonce read failed, falling back to last saved + 1", "nonce", fallback, "err", err)
	return fallback, nil
}

// TransactionHash asks the Safe contract for the canonical hash to sign. The
// hash is deliberately fetched on-chain rather than recomputed locally: it is
// the ground truth the Safe verifies signatures against.
func (c *Client) TransactionHash(ctx context.Context, tx *Transaction) (common.Hash, error) {
	var result []interface{}
	err := c.bound.Call(&bind.CallOpts{Context: ctx}, &result, "getTransactionHash",
		tx.To, tx.Value, tx.Data, tx.Operation,
		tx.SafeTxGas, tx.BaseGas, tx.GasPrice, tx.GasToken, tx.RefundReceiver, tx.Nonce)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get Safe transaction hash: %w", err)
	}
	return common.Hash(result[0].([32]byte)), nil
}

// ExecTransactionData packs the execTransaction calldata for the signed tx.
func (c *Client) ExecTransactionData(tx *Transaction, signatures []byte) ([]byte, error) {
	data, err := c.abi.Pack("execTransaction",
		tx.To, tx.Value, tx.Data, tx.Operation,
		tx.SafeTxGas, tx.BaseGas, tx.GasPrice, tx.GasToken, tx.RefundReceiver, signatures)
	if err != nil {
		return nil, fmt.Errorf("failed to pack execTransaction: %w", err)
	}
	return data, nil
}
