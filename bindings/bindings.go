// Package bindings carries the minimal ABI fragments the keeper interacts with.
// The fragments are kept as raw JSON strings and parsed once at startup.
package bindings

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ActionLedgerABIString covers the action repository contract: the two recording
// entrypoints plus the view exposing the server attestor used to validate
// server-attested actions.
const ActionLedgerABIString = `[
	{
		"inputs": [
			{"internalType": "address", "name": "agent", "type": "address"},
			{"internalType": "bytes32", "name": "actionType", "type": "bytes32"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"}
		],
		"name": "recordAction",
		"outputs": [{"internalType": "uint256", "name": "newActionCount", "type": "uint256"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "agent", "type": "address"},
			{"internalType": "bytes32[]", "name": "actionTypes", "type": "bytes32[]"},
			{"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"}
		],
		"name": "recordActionsBatch",
		"outputs": [{"internalType": "uint256", "name": "totalAdded", "type": "uint256"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "attestor",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// StakingProxyABIString covers the staking proxy contract: checkpoint plus the
// views needed by the liveness policy and the epoch KPI derivation.
const StakingProxyABIString = `[
	{
		"inputs": [],
		"name": "checkpoint",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "tsCheckpoint",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "livenessPeriod",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "uint256", "name": "serviceId", "type": "uint256"}],
		"name": "getServiceInfo",
		"outputs": [
			{
				"components": [
					{"internalType": "address", "name": "multisig", "type": "address"},
					{"internalType": "address", "name": "owner", "type": "address"},
					{"internalType": "uint256[]", "name": "nonces", "type": "uint256[]"},
					{"internalType": "uint256", "name": "tsStart", "type": "uint256"},
					{"internalType": "uint256", "name": "reward", "type": "uint256"},
					{"internalType": "uint256", "name": "inactivity", "type": "uint256"}
				],
				"internalType": "struct ServiceInfo",
				"name": "",
				"type": "tuple"
			}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// ActivityCheckerABIString covers the activity checker used to translate safe
// nonce deltas into a required transaction count per liveness period.
const ActivityCheckerABIString = `[
	{
		"inputs": [],
		"name": "livenessRatio",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

func parse(name, s string) (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse %s ABI: %w", name, err)
	}
	return parsed, nil
}

func ActionLedgerABI() (abi.ABI, error) {
	return parse("action ledger", ActionLedgerABIString)
}

func StakingProxyABI() (abi.ABI, error) {
	return parse("staking proxy", StakingProxyABIString)
}

func ActivityCheckerABI() (abi.ABI, error) {
	return parse("activity checker", ActivityCheckerABIString)
}
