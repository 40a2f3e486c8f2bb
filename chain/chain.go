/*
Copyright 2024 Relock Labs Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package chain gives the pipeline typed access to the lock registry, the
// lock contracts and their pricing tokens. Stages depend on the Reader and
// Submitter interfaces only; Client backs them with a JSON-RPC node.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LockEvent is a registry log announcing a new or upgraded lock. Version is
// only known for upgrade events; creation events report it as zero and the
// actual version comes from the eligibility probe.
type LockEvent struct {
	LockAddress common.Address
	Version     uint16
	BlockNumber uint64
}

// Reader is the read-only chain surface the pipeline depends on.
type Reader interface {
	// NewLockEvents lists lock creation events emitted by the registry
	// from the given block onward.
	NewLockEvents(ctx context.Context, registry common.Address, fromBlock uint64) ([]LockEvent, error)
	// LockUpgradedEvents lists lock version upgrade events emitted by the
	// registry from the given block onward.
	LockUpgradedEvents(ctx context.Context, registry common.Address, fromBlock uint64) ([]LockEvent, error)
	// BlockTime returns the timestamp of the given block.
	BlockTime(ctx context.Context, number uint64) (uint64, error)

	LockVersion(ctx context.Context, lock common.Address) (uint16, error)
	RefundValue(ctx context.Context, lock common.Address) (*big.Int, error)
	PricedToken(ctx context.Context, lock common.Address) (common.Address, error)
	NumberOfOwners(ctx context.Context, lock common.Address) (*big.Int, error)
	ExpirationDuration(ctx context.Context, lock common.Address) (*big.Int, error)
	KeyPrice(ctx context.Context, lock common.Address) (*big.Int, error)
	KeyOwner(ctx context.Context, lock common.Address, tokenID uint64) (common.Address, error)
	KeyExpiration(ctx context.Context, lock common.Address, tokenID uint64) (*big.Int, error)

	TokenAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
}

// Submitter signs and submits renewal transactions.
type Submitter interface {
	// From returns the signing identity. It doubles as the reward-eligible
	// referrer named in each renewal call.
	From() common.Address
	// RenewMembership submits a renewal for one key and returns the
	// transaction hash without waiting for inclusion.
	RenewMembership(ctx context.Context, lock common.Address, keyID uint64, referrer common.Address) (common.Hash, error)
	// AwaitReceipt blocks until the transaction confirms, the confirmation
	// timeout elapses, or the transaction is known to have reverted.
	AwaitReceipt(ctx context.Context, tx common.Hash) error
}

// Backend is the subset of the JSON-RPC client the chain package uses.
// ethclient.Client satisfies it; tests substitute a fake.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}
