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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relock-labs/relock/model"
)

func lapsedKey(id uint64, owner common.Address) model.Key {
	return model.Key{TokenID: id, Owner: owner, ExpiresAt: 500, Lapsed: true}
}

func saveLockSet(t *testing.T, r *Relock, locks ...*model.Lock) *model.LockSet {
	t.Helper()
	set := &model.LockSet{
		RunID:       model.GenerateUUIDWithSuffix("run"),
		EvaluatedAt: 1_700_000_000,
		Locks:       locks,
	}
	require.NoError(t, r.store.Save(context.Background(), LocksArtifact, set))
	return set
}

func TestResolveSubscribers(t *testing.T) {
	reader := newMockReader()
	reader.allowances[allowanceKey{token: tokenT, owner: alice, spender: lockA}] = big.NewInt(25)
	r, store := newTestRelock(t, reader, nil, &mockPrices{})

	lockSet := saveLockSet(t, r, &model.Lock{
		Address:      lockA,
		TokenAddress: tokenT,
		Keys: []model.Key{
			lapsedKey(1, alice),
			{TokenID: 2, Owner: bob, ExpiresAt: 9_999_999_999, Lapsed: false},
			// Bob also lapsed but never approved anything.
			lapsedKey(3, bob),
		},
	})

	set, err := r.ResolveSubscribers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lockSet.RunID, set.RunID)

	remaining, ok := set.Allowances.Lookup(tokenT, alice)
	require.True(t, ok)
	assert.Equal(t, "25", remaining.String())

	// Zero allowances are expressed by absence, not by a zero entry.
	assert.False(t, set.Allowances.Has(tokenT, bob))

	var stored model.AllowanceSet
	require.NoError(t, store.Load(context.Background(), AllowancesArtifact, &stored))
	assert.True(t, stored.Allowances.Has(tokenT, alice))
	assert.False(t, stored.Allowances.Has(tokenT, bob))
}

func TestResolveSubscribersReusesFirstLookup(t *testing.T) {
	reader := newMockReader()
	// Only the first lapsed key's spender is answered; if the second lock
	// triggered its own query it would read zero and nothing would change,
	// but the call counter tells the two apart.
	reader.allowances[allowanceKey{token: tokenT, owner: alice, spender: lockA}] = big.NewInt(25)
	r, _ := newTestRelock(t, reader, nil, &mockPrices{})

	saveLockSet(t, r,
		&model.Lock{Address: lockA, TokenAddress: tokenT, Keys: []model.Key{lapsedKey(1, alice)}},
		&model.Lock{Address: lockB, TokenAddress: tokenT, Keys: []model.Key{lapsedKey(4, alice)}},
	)

	set, err := r.ResolveSubscribers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reader.allowanceCalls)

	remaining, ok := set.Allowances.Lookup(tokenT, alice)
	require.True(t, ok)
	assert.Equal(t, "25", remaining.String())
}

func TestResolveSubscribersLookupErrorMeansZero(t *testing.T) {
	reader := newMockReader()
	reader.allowanceErrs[allowanceKey{token: tokenT, owner: alice, spender: lockA}] = errors.New("rpc timeout")
	r, _ := newTestRelock(t, reader, nil, &mockPrices{})

	saveLockSet(t, r, &model.Lock{Address: lockA, TokenAddress: tokenT, Keys: []model.Key{lapsedKey(1, alice)}})

	set, err := r.ResolveSubscribers(context.Background())
	require.NoError(t, err)
	assert.False(t, set.Allowances.Has(tokenT, alice))
}

func TestResolveSubscribersIdempotent(t *testing.T) {
	reader := newMockReader()
	reader.allowances[allowanceKey{token: tokenT, owner: alice, spender: lockA}] = big.NewInt(25)
	reader.allowances[allowanceKey{token: tokenU, owner: carol, spender: lockB}] = big.NewInt(7)
	r, _ := newTestRelock(t, reader, nil, &mockPrices{})

	saveLockSet(t, r,
		&model.Lock{Address: lockA, TokenAddress: tokenT, Keys: []model.Key{lapsedKey(1, alice)}},
		&model.Lock{Address: lockB, TokenAddress: tokenU, Keys: []model.Key{lapsedKey(2, carol)}},
	)

	first, err := r.ResolveSubscribers(context.Background())
	require.NoError(t, err)
	second, err := r.ResolveSubscribers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Allowances, second.Allowances)
}

func TestResolveSubscribersMissingDiscovery(t *testing.T) {
	r, _ := newTestRelock(t, newMockReader(), nil, &mockPrices{})
	_, err := r.ResolveSubscribers(context.Background())
	require.Error(t, err)
}
