package model

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstPossibleLapse(t *testing.T) {
	lock := &Lock{ReferenceTime: 1_000, ExpirationDuration: 600}
	assert.Equal(t, uint64(1_600), lock.FirstPossibleLapse())
}

func TestFirstPossibleLapseSaturatesOnOverflow(t *testing.T) {
	lock := &Lock{ReferenceTime: math.MaxUint64 - 10, ExpirationDuration: 600}
	assert.Equal(t, uint64(math.MaxUint64), lock.FirstPossibleLapse())
}

func TestLapsedKeys(t *testing.T) {
	lock := &Lock{Keys: []Key{
		{TokenID: 1, Lapsed: true},
		{TokenID: 2, Lapsed: false},
		{TokenID: 3, Lapsed: true},
	}}

	lapsed := lock.LapsedKeys()
	require.Len(t, lapsed, 2)
	assert.Equal(t, uint64(1), lapsed[0].TokenID)
	assert.Equal(t, uint64(3), lapsed[1].TokenID)

	assert.Empty(t, (&Lock{}).LapsedKeys())
}

func TestLockSetTokens(t *testing.T) {
	tokenA := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	tokenB := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	set := &LockSet{Locks: []*Lock{
		{TokenAddress: tokenA},
		{TokenAddress: tokenB},
		{TokenAddress: tokenA},
	}}

	tokens := set.Tokens()
	require.Len(t, tokens, 2)
	assert.Equal(t, tokenA, tokens[0])
	assert.Equal(t, tokenB, tokens[1])
}

func TestLockSetRoundTrip(t *testing.T) {
	set := &LockSet{
		RunID:       GenerateUUIDWithSuffix("run"),
		EvaluatedAt: 1_700_000_000,
		Locks: []*Lock{{
			Address:            common.HexToAddress("0x00000000000000000000000000000000000000a1"),
			Version:            12,
			RefundValue:        Int64ToBigInt(5),
			TokenAddress:       common.HexToAddress("0x00000000000000000000000000000000000000b2"),
			NumberOfOwners:     2,
			ExpirationDuration: 600,
			KeyPrice:           Int64ToBigInt(10),
			ReferenceTime:      1_000,
			Keys: []Key{
				{TokenID: 1, Owner: common.HexToAddress("0x0000000000000000000000000000000000001111"), ExpiresAt: 1_500, Lapsed: true},
			},
		}},
	}

	data, err := json.Marshal(set)
	require.NoError(t, err)
	// Amounts travel as strings, never as floats.
	assert.Contains(t, string(data), `"refund_value":"5"`)

	var decoded LockSet
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, set.RunID, decoded.RunID)
	require.Len(t, decoded.Locks, 1)
	assert.Equal(t, set.Locks[0].Address, decoded.Locks[0].Address)
	assert.Zero(t, set.Locks[0].RefundValue.Cmp(decoded.Locks[0].RefundValue))
	assert.Equal(t, set.Locks[0].Keys, decoded.Locks[0].Keys)
}
