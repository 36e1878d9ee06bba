package ledger

import (
	"fmt"

	"PredictionLedger/internal/instruction"
	"PredictionLedger/internal/keys"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// SetBalance overwrites an account balance (snapshot restore only)
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	bt.balances[key] = balance
}

// GetUserBalance returns a participant's spendable balance in a token
func (bt *BalanceTracker) GetUserBalance(participant keys.Address, token instruction.Token) int64 {
	return bt.GetBalance(NewUserAccountKey(participant, token))
}

// GetVaultBalance returns an event vault's balance in its token
func (bt *BalanceTracker) GetVaultBalance(vault keys.Address, token instruction.Token) int64 {
	return bt.GetBalance(NewVaultAccountKey(vault, token))
}

// GetFeesBalance returns the platform fee account's balance in a token
func (bt *BalanceTracker) GetFeesBalance(token instruction.Token) int64 {
	return bt.GetBalance(NewFeesAccountKey(token))
}

// === Invariant Checks ===

// ValidateSufficientBalance checks the participant can cover a spend
func (bt *BalanceTracker) ValidateSufficientBalance(participant keys.Address, token instruction.Token, required int64) error {
	have := bt.GetUserBalance(participant, token)
	if have < required {
		return fmt.Errorf("insufficient %s balance: have=%d, need=%d", token, have, required)
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 per token
// for a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[instruction.Token]int64 {
	totals := make(map[instruction.Token]int64)

	for key, balance := range bt.balances {
		totals[key.Token] += balance
	}

	return totals
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
