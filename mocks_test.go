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

package relock

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/relock-labs/relock/artifact"
	"github.com/relock-labs/relock/chain"
	"github.com/relock-labs/relock/config"
	"github.com/relock-labs/relock/pricefeed"
)

type pairKey struct {
	token common.Address
	owner common.Address
}

type allowanceKey struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

type mockKey struct {
	owner  common.Address
	expiry uint64
}

// mockLockState is the fake on-chain state of one lock contract.
type mockLockState struct {
	version  uint16
	refund   *big.Int
	token    common.Address
	owners   *big.Int
	duration *big.Int
	price    *big.Int
	keys     map[uint64]mockKey
	// failKeysAt makes key enumeration error out at the given token ID.
	failKeysAt uint64
}

type mockReader struct {
	creations  []chain.LockEvent
	upgrades   []chain.LockEvent
	blockTimes map[uint64]uint64
	locks      map[common.Address]*mockLockState
	allowances map[allowanceKey]*big.Int
	balances   map[pairKey]*big.Int
	decimals   map[common.Address]uint8

	allowanceErrs map[allowanceKey]error
	balanceErrs   map[pairKey]error

	allowanceCalls int
}

func newMockReader() *mockReader {
	return &mockReader{
		blockTimes:    make(map[uint64]uint64),
		locks:         make(map[common.Address]*mockLockState),
		allowances:    make(map[allowanceKey]*big.Int),
		balances:      make(map[pairKey]*big.Int),
		decimals:      make(map[common.Address]uint8),
		allowanceErrs: make(map[allowanceKey]error),
		balanceErrs:   make(map[pairKey]error),
	}
}

func (m *mockReader) NewLockEvents(_ context.Context, _ common.Address, _ uint64) ([]chain.LockEvent, error) {
	return m.creations, nil
}

func (m *mockReader) LockUpgradedEvents(_ context.Context, _ common.Address, _ uint64) ([]chain.LockEvent, error) {
	return m.upgrades, nil
}

func (m *mockReader) BlockTime(_ context.Context, number uint64) (uint64, error) {
	ts, ok := m.blockTimes[number]
	if !ok {
		return 0, errors.Errorf("no header for block %d", number)
	}
	return ts, nil
}

func (m *mockReader) state(lock common.Address) (*mockLockState, error) {
	state, ok := m.locks[lock]
	if !ok {
		return nil, errors.Errorf("no contract at %s", lock.Hex())
	}
	return state, nil
}

func (m *mockReader) LockVersion(_ context.Context, lock common.Address) (uint16, error) {
	state, err := m.state(lock)
	if err != nil {
		return 0, err
	}
	return state.version, nil
}

func (m *mockReader) RefundValue(_ context.Context, lock common.Address) (*big.Int, error) {
	state, err := m.state(lock)
	if err != nil {
		return nil, err
	}
	return state.refund, nil
}

func (m *mockReader) PricedToken(_ context.Context, lock common.Address) (common.Address, error) {
	state, err := m.state(lock)
	if err != nil {
		return common.Address{}, err
	}
	return state.token, nil
}

func (m *mockReader) NumberOfOwners(_ context.Context, lock common.Address) (*big.Int, error) {
	state, err := m.state(lock)
	if err != nil {
		return nil, err
	}
	return state.owners, nil
}

func (m *mockReader) ExpirationDuration(_ context.Context, lock common.Address) (*big.Int, error) {
	state, err := m.state(lock)
	if err != nil {
		return nil, err
	}
	return state.duration, nil
}

func (m *mockReader) KeyPrice(_ context.Context, lock common.Address) (*big.Int, error) {
	state, err := m.state(lock)
	if err != nil {
		return nil, err
	}
	return state.price, nil
}

func (m *mockReader) KeyOwner(_ context.Context, lock common.Address, tokenID uint64) (common.Address, error) {
	state, err := m.state(lock)
	if err != nil {
		return common.Address{}, err
	}
	if state.failKeysAt != 0 && tokenID >= state.failKeysAt {
		return common.Address{}, errors.Errorf("no key %d", tokenID)
	}
	key, ok := state.keys[tokenID]
	if !ok {
		return common.Address{}, errors.Errorf("no key %d", tokenID)
	}
	return key.owner, nil
}

func (m *mockReader) KeyExpiration(_ context.Context, lock common.Address, tokenID uint64) (*big.Int, error) {
	state, err := m.state(lock)
	if err != nil {
		return nil, err
	}
	key, ok := state.keys[tokenID]
	if !ok {
		return nil, errors.Errorf("no key %d", tokenID)
	}
	return new(big.Int).SetUint64(key.expiry), nil
}

func (m *mockReader) TokenAllowance(_ context.Context, token, owner, spender common.Address) (*big.Int, error) {
	m.allowanceCalls++
	key := allowanceKey{token: token, owner: owner, spender: spender}
	if err, ok := m.allowanceErrs[key]; ok {
		return nil, err
	}
	amount, ok := m.allowances[key]
	if !ok {
		return new(big.Int), nil
	}
	return amount, nil
}

func (m *mockReader) TokenBalance(_ context.Context, token, owner common.Address) (*big.Int, error) {
	key := pairKey{token: token, owner: owner}
	if err, ok := m.balanceErrs[key]; ok {
		return nil, err
	}
	balance, ok := m.balances[key]
	if !ok {
		return new(big.Int), nil
	}
	return balance, nil
}

func (m *mockReader) TokenDecimals(_ context.Context, token common.Address) (uint8, error) {
	decimals, ok := m.decimals[token]
	if !ok {
		return 0, errors.Errorf("no token at %s", token.Hex())
	}
	return decimals, nil
}

// mockSubmitter confirms every submitted renewal unless the lock is listed
// in failSubmit or the hash is listed in failConfirm.
type mockSubmitter struct {
	from        common.Address
	failSubmit  map[common.Address]bool
	failConfirm map[common.Hash]bool
	submitted   []common.Hash
}

func newMockSubmitter() *mockSubmitter {
	return &mockSubmitter{
		from:        common.HexToAddress("0x00000000000000000000000000000000000D0E0F"),
		failSubmit:  make(map[common.Address]bool),
		failConfirm: make(map[common.Hash]bool),
	}
}

func (m *mockSubmitter) From() common.Address {
	return m.from
}

func renewalHash(lock common.Address, keyID uint64) common.Hash {
	var hash common.Hash
	copy(hash[:], lock.Bytes())
	hash[31] = byte(keyID)
	return hash
}

func (m *mockSubmitter) RenewMembership(_ context.Context, lock common.Address, keyID uint64, _ common.Address) (common.Hash, error) {
	if m.failSubmit[lock] {
		return common.Hash{}, errors.Errorf("execution reverted on %s", lock.Hex())
	}
	hash := renewalHash(lock, keyID)
	m.submitted = append(m.submitted, hash)
	return hash, nil
}

func (m *mockSubmitter) AwaitReceipt(_ context.Context, tx common.Hash) error {
	if m.failConfirm[tx] {
		return errors.Errorf("transaction %s never confirmed", tx.Hex())
	}
	return nil
}

// mockPrices answers the batched price lookup from a fixed table.
type mockPrices struct {
	prices map[common.Address]decimal.Decimal
	err    error
}

func (m *mockPrices) TokenPrices(_ context.Context, tokens []common.Address) (map[common.Address]decimal.Decimal, error) {
	if m.err != nil {
		return nil, m.err
	}
	result := make(map[common.Address]decimal.Decimal)
	for _, token := range tokens {
		if price, ok := m.prices[token]; ok {
			result[token] = price
		}
	}
	return result, nil
}

func newTestStore(t *testing.T) artifact.Store {
	t.Helper()
	store, err := artifact.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func newTestRelock(t *testing.T, reader chain.Reader, submitter chain.Submitter, prices pricefeed.Source) (*Relock, artifact.Store) {
	t.Helper()
	store := newTestStore(t)
	r, err := NewRelock(reader, submitter, prices, store)
	if err != nil {
		t.Fatal(err)
	}
	return r, store
}

func mockPipelineConfig() {
	config.MockConfig(&config.Configuration{
		Chain: config.ChainConfig{
			RpcUrl:          "http://localhost:8545",
			RegistryAddress: "0x00000000000000000000000000000000000000AA",
			StartBlock:      1,
			MinLockVersion:  10,
		},
		Profit: config.ProfitConfig{CostThreshold: "1"},
	})
}
