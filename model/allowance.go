package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// AllowanceBook tracks each owner's remaining approved spend per token. One
// owner holds a single pool per token shared across every lock priced in
// that token, so a renewal selected for one lock reduces what is left for
// all others. Zero allowances are never recorded.
type AllowanceBook map[common.Address]map[common.Address]*BigInt

// Record stores an owner's approved amount for a token. Nil, zero and
// negative amounts are dropped rather than stored.
func (book AllowanceBook) Record(token, owner common.Address, amount *BigInt) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	owners, ok := book[token]
	if !ok {
		owners = make(map[common.Address]*BigInt)
		book[token] = owners
	}
	owners[owner] = amount
}

// Lookup returns the owner's remaining allowance for a token, if recorded.
func (book AllowanceBook) Lookup(token, owner common.Address) (*BigInt, bool) {
	owners, ok := book[token]
	if !ok {
		return nil, false
	}
	remaining, ok := owners[owner]
	return remaining, ok
}

// Has reports whether an allowance is recorded for the pair.
func (book AllowanceBook) Has(token, owner common.Address) bool {
	_, ok := book.Lookup(token, owner)
	return ok
}

// Debit reduces an owner's remaining allowance by amount. The caller must
// have checked the balance first; debiting an unknown pair or past zero is
// a programming error and is reported as one.
func (book AllowanceBook) Debit(token, owner common.Address, amount *BigInt) error {
	remaining, ok := book.Lookup(token, owner)
	if !ok {
		return errors.Errorf("no allowance recorded for owner %s on token %s", owner.Hex(), token.Hex())
	}
	if remaining.Cmp(amount) < 0 {
		return errors.Errorf("allowance of owner %s on token %s cannot cover %s (remaining %s)",
			owner.Hex(), token.Hex(), amount.String(), remaining.String())
	}
	book[token][owner] = remaining.Sub(amount)
	return nil
}

// AllowanceSet is the subscriber resolution stage artifact.
type AllowanceSet struct {
	RunID       string        `json:"run_id"`
	EvaluatedAt uint64        `json:"evaluated_at"`
	Allowances  AllowanceBook `json:"allowances"`
}
