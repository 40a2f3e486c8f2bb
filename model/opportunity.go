package model

import (
	"github.com/ethereum/go-ethereum/common"
)

// Opportunity is a selected, ready-to-execute renewal: one key on one lock
// whose owner had both the allowance and the balance to cover the key price
// at selection time.
type Opportunity struct {
	LockAddress common.Address `json:"lock"`
	KeyID       uint64         `json:"key"`
}

// OpportunitySet is the ranking stage artifact. Opportunities appear in
// selection order: locks descending by refund value, keys in token-ID order
// within each lock.
type OpportunitySet struct {
	RunID         string        `json:"run_id"`
	EvaluatedAt   uint64        `json:"evaluated_at"`
	Opportunities []Opportunity `json:"opportunities"`
}

// ExecutionResult is the execution stage artifact. Transactions holds the
// hashes of renewals that confirmed; failed submissions are dropped, not
// recorded. GasSpent and RefundEarned are reserved for profit accounting
// and are left unset for now.
type ExecutionResult struct {
	RunID        string   `json:"run_id"`
	Transactions []string `json:"transactions"`
	GasSpent     *BigInt  `json:"gas_spent,omitempty"`
	RefundEarned *BigInt  `json:"refund_earned,omitempty"`
}
