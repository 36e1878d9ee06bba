package ledger

import (
	"fmt"

	"PredictionLedger/internal/instruction"
	"PredictionLedger/internal/keys"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies the batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateVaultMatchesPool verifies a vault's ledger balance equals the
// pool counter recorded on the event. Stakes and unclaimed funds are the
// only things a vault holds, so any drift means a bookkeeping bug.
func (v *InvariantValidator) ValidateVaultMatchesPool(vault keys.Address, token instruction.Token, pool int64) error {
	balance := v.tracker.GetVaultBalance(vault, token)
	if balance != pool {
		return fmt.Errorf("vault %s holds %d but the %s pool records %d", vault, balance, token, pool)
	}
	return nil
}

// ValidateUserNonNegative checks a participant's balance >= 0
func (v *InvariantValidator) ValidateUserNonNegative(participant keys.Address, token instruction.Token) error {
	return v.tracker.ValidateNonNegative(NewUserAccountKey(participant, token))
}

// ValidateVaultNonNegative checks a vault is never overdrawn
func (v *InvariantValidator) ValidateVaultNonNegative(vault keys.Address, token instruction.Token) error {
	return v.tracker.ValidateNonNegative(NewVaultAccountKey(vault, token))
}

// ValidateGlobalBalance verifies the system is zero-sum per token
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for token, total := range totals {
		if total != 0 {
			return fmt.Errorf("global balance for %s is non-zero: %d", token, total)
		}
	}

	return nil
}
