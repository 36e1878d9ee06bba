package ledger

import (
	"fmt"

	"PredictionLedger/internal/instruction"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeStake
	JournalTypeStakeReturn
	JournalTypeWinnings
	JournalTypeFeeWithhold
	JournalTypeRefund
	JournalTypeFeeWithdrawal
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeStake:
		return "stake"
	case JournalTypeStakeReturn:
		return "stake_return"
	case JournalTypeWinnings:
		return "winnings"
	case JournalTypeFeeWithhold:
		return "fee_withhold"
	case JournalTypeRefund:
		return "refund"
	case JournalTypeFeeWithdrawal:
		return "fee_withdrawal"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID      uuid.UUID         // Unique identifier
	BatchID        uuid.UUID         // Groups the legs of one instruction
	InstructionRef string            // Idempotency key of the source instruction
	Sequence       int64             // Global instruction sequence
	DebitAccount   AccountKey        // Account receiving debit (balance increases)
	CreditAccount  AccountKey        // Account receiving credit (balance decreases)
	Token          instruction.Token // Token being transferred
	Amount         int64             // Base units (ALWAYS positive)
	JournalType    JournalType       // Entry type
	Timestamp      int64             // Versioned input timestamp (epoch seconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID        uuid.UUID
	InstructionRef string
	Sequence       int64
	Timestamp      int64
	Journals       []Journal
}

// Validate ensures the batch is well-formed.
// Note on balance invariant: each journal entry is a balanced transfer by
// construction (a single positive amount moves from credit account to debit
// account), so Σ debits == Σ credits is guaranteed per-entry. Multi-leg
// batches (e.g. a claim with stake return, winnings, and fee share) use
// multiple entries under one batch_id, each individually balanced.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.Token != j.Token || j.CreditAccount.Token != j.Token {
			return fmt.Errorf("journal %s crosses tokens", j.JournalID)
		}
	}

	return nil
}
