package model

import (
	"math"

	"github.com/ethereum/go-ethereum/common"
)

// Lock is one subscription contract discovered from the registry. It is
// probed once per run; the key list carries every key, lapsed or not, so
// later stages can re-derive eligibility without another chain scan.
type Lock struct {
	Address            common.Address `json:"address"`
	Version            uint16         `json:"version"`
	RefundValue        *BigInt        `json:"refund_value"`
	TokenAddress       common.Address `json:"token_address"`
	NumberOfOwners     uint64         `json:"number_of_owners"`
	ExpirationDuration uint64         `json:"expiration_duration"`
	KeyPrice           *BigInt        `json:"key_price"`
	ReferenceTime      uint64         `json:"reference_time"`
	Keys               []Key          `json:"keys"`
}

// Key is one member's time-bound subscription within a lock.
type Key struct {
	TokenID   uint64         `json:"token_id"`
	Owner     common.Address `json:"owner"`
	ExpiresAt uint64         `json:"expires_at"`
	Lapsed    bool           `json:"lapsed"`
}

// FirstPossibleLapse returns the earliest moment any key of the lock could
// have expired: the creation (or upgrade) block time plus one full
// subscription period. Overflow saturates; such a lock can never lapse.
func (l *Lock) FirstPossibleLapse() uint64 {
	if l.ExpirationDuration > math.MaxUint64-l.ReferenceTime {
		return math.MaxUint64
	}
	return l.ReferenceTime + l.ExpirationDuration
}

// LapsedKeys returns the keys whose expiry had passed at discovery time.
func (l *Lock) LapsedKeys() []Key {
	var lapsed []Key
	for _, key := range l.Keys {
		if key.Lapsed {
			lapsed = append(lapsed, key)
		}
	}
	return lapsed
}

// LockSet is the discovery stage artifact.
type LockSet struct {
	RunID       string  `json:"run_id"`
	EvaluatedAt uint64  `json:"evaluated_at"`
	Locks       []*Lock `json:"locks"`
}

// Tokens returns the distinct priced tokens of the set, in first-seen order.
func (s *LockSet) Tokens() []common.Address {
	var tokens []common.Address
	seen := make(map[common.Address]bool)
	for _, lock := range s.Locks {
		if !seen[lock.TokenAddress] {
			seen[lock.TokenAddress] = true
			tokens = append(tokens, lock.TokenAddress)
		}
	}
	return tokens
}
