package ledger

import (
	"fmt"
	stdmath "math"

	"PredictionLedger/internal/instruction"
	"PredictionLedger/internal/keys"
	pmmath "PredictionLedger/internal/math"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches from instructions
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// SetSequence repositions the generator (snapshot restore / replay).
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

func toAmount(v uint64) (int64, error) {
	if v > stdmath.MaxInt64 {
		return 0, fmt.Errorf("amount %d exceeds ledger range", v)
	}
	return int64(v), nil
}

// GenerateDeposit creates journals for external funding arriving in a
// participant's balance. Moves funds: external:funding → user.
func (jg *JournalGenerator) GenerateDeposit(
	ref string,
	participant keys.Address,
	token instruction.Token,
	amount uint64,
	timestamp int64,
) (*Batch, error) {
	amt, err := toAmount(amount)
	if err != nil {
		return nil, err
	}

	batchID := uuid.New()
	batch := &Batch{
		BatchID:        batchID,
		InstructionRef: ref,
		Sequence:       jg.sequence,
		Timestamp:      timestamp,
		Journals: []Journal{{
			JournalID:      uuid.New(),
			BatchID:        batchID,
			InstructionRef: ref,
			Sequence:       jg.sequence,
			DebitAccount:   NewUserAccountKey(participant, token),
			CreditAccount:  NewExternalAccountKey(SubTypeExternalFunding, token),
			Token:          token,
			Amount:         amt,
			JournalType:    JournalTypeDeposit,
			Timestamp:      timestamp,
		}},
	}

	jg.sequence++
	return batch, nil
}

// GenerateStake creates journals for a placed bet.
// Pre-check: the participant must cover the stake.
// Moves funds: user → the side's vault.
func (jg *JournalGenerator) GenerateStake(
	ref string,
	participant keys.Address,
	vault keys.Address,
	token instruction.Token,
	amount uint64,
	timestamp int64,
) (*Batch, error) {
	amt, err := toAmount(amount)
	if err != nil {
		return nil, err
	}
	if err := jg.balanceTracker.ValidateSufficientBalance(participant, token, amt); err != nil {
		return nil, fmt.Errorf("stake pre-check failed: %w", err)
	}

	batchID := uuid.New()
	batch := &Batch{
		BatchID:        batchID,
		InstructionRef: ref,
		Sequence:       jg.sequence,
		Timestamp:      timestamp,
		Journals: []Journal{{
			JournalID:      uuid.New(),
			BatchID:        batchID,
			InstructionRef: ref,
			Sequence:       jg.sequence,
			DebitAccount:   NewVaultAccountKey(vault, token),
			CreditAccount:  NewUserAccountKey(participant, token),
			Token:          token,
			Amount:         amt,
			JournalType:    JournalTypeStake,
			Timestamp:      timestamp,
		}},
	}

	jg.sequence++
	return batch, nil
}

// GenerateWinningsClaim creates the settlement legs for a winning bet:
// the stake comes back from the winning vault, the winnings share and the
// platform's fee share are drawn from the losing vault. Legs with a zero
// amount are omitted (an empty losing pool pays the bare stake).
func (jg *JournalGenerator) GenerateWinningsClaim(
	ref string,
	participant keys.Address,
	winningVault, losingVault keys.Address,
	winningToken, losingToken instruction.Token,
	quote pmmath.PayoutQuote,
	timestamp int64,
) (*Batch, error) {
	stake, err := toAmount(quote.StakeReturn)
	if err != nil {
		return nil, err
	}
	winnings, err := toAmount(quote.WinningsShare)
	if err != nil {
		return nil, err
	}
	feeShare, err := toAmount(quote.FeeShare)
	if err != nil {
		return nil, err
	}

	batchID := uuid.New()
	batch := &Batch{
		BatchID:        batchID,
		InstructionRef: ref,
		Sequence:       jg.sequence,
		Timestamp:      timestamp,
		Journals:       make([]Journal, 0, 3),
	}

	if stake > 0 {
		batch.Journals = append(batch.Journals, Journal{
			JournalID:      uuid.New(),
			BatchID:        batchID,
			InstructionRef: ref,
			Sequence:       jg.sequence,
			DebitAccount:   NewUserAccountKey(participant, winningToken),
			CreditAccount:  NewVaultAccountKey(winningVault, winningToken),
			Token:          winningToken,
			Amount:         stake,
			JournalType:    JournalTypeStakeReturn,
			Timestamp:      timestamp,
		})
	}

	if winnings > 0 {
		batch.Journals = append(batch.Journals, Journal{
			JournalID:      uuid.New(),
			BatchID:        batchID,
			InstructionRef: ref,
			Sequence:       jg.sequence,
			DebitAccount:   NewUserAccountKey(participant, losingToken),
			CreditAccount:  NewVaultAccountKey(losingVault, losingToken),
			Token:          losingToken,
			Amount:         winnings,
			JournalType:    JournalTypeWinnings,
			Timestamp:      timestamp,
		})
	}

	if feeShare > 0 {
		batch.Journals = append(batch.Journals, Journal{
			JournalID:      uuid.New(),
			BatchID:        batchID,
			InstructionRef: ref,
			Sequence:       jg.sequence,
			DebitAccount:   NewFeesAccountKey(losingToken),
			CreditAccount:  NewVaultAccountKey(losingVault, losingToken),
			Token:          losingToken,
			Amount:         feeShare,
			JournalType:    JournalTypeFeeWithhold,
			Timestamp:      timestamp,
		})
	}

	if len(batch.Journals) == 0 {
		return nil, fmt.Errorf("claim %s settles nothing", ref)
	}

	jg.sequence++
	return batch, nil
}

// GenerateRefund returns a stake from its vault after cancellation.
// Moves funds: the side's vault → user.
func (jg *JournalGenerator) GenerateRefund(
	ref string,
	participant keys.Address,
	vault keys.Address,
	token instruction.Token,
	amount uint64,
	timestamp int64,
) (*Batch, error) {
	amt, err := toAmount(amount)
	if err != nil {
		return nil, err
	}

	batchID := uuid.New()
	batch := &Batch{
		BatchID:        batchID,
		InstructionRef: ref,
		Sequence:       jg.sequence,
		Timestamp:      timestamp,
		Journals: []Journal{{
			JournalID:      uuid.New(),
			BatchID:        batchID,
			InstructionRef: ref,
			Sequence:       jg.sequence,
			DebitAccount:   NewUserAccountKey(participant, token),
			CreditAccount:  NewVaultAccountKey(vault, token),
			Token:          token,
			Amount:         amt,
			JournalType:    JournalTypeRefund,
			Timestamp:      timestamp,
		}},
	}

	jg.sequence++
	return batch, nil
}

// GenerateFeeWithdrawal moves accrued platform fees out of the system.
// Pre-check: the fee account must cover the withdrawal.
// Moves funds: platform:fees → external:withdrawals.
func (jg *JournalGenerator) GenerateFeeWithdrawal(
	ref string,
	token instruction.Token,
	amount uint64,
	timestamp int64,
) (*Batch, error) {
	amt, err := toAmount(amount)
	if err != nil {
		return nil, err
	}
	if have := jg.balanceTracker.GetFeesBalance(token); have < amt {
		return nil, fmt.Errorf("fee withdrawal pre-check failed: have=%d, need=%d", have, amt)
	}

	batchID := uuid.New()
	batch := &Batch{
		BatchID:        batchID,
		InstructionRef: ref,
		Sequence:       jg.sequence,
		Timestamp:      timestamp,
		Journals: []Journal{{
			JournalID:      uuid.New(),
			BatchID:        batchID,
			InstructionRef: ref,
			Sequence:       jg.sequence,
			DebitAccount:   NewExternalAccountKey(SubTypeExternalWithdrawals, token),
			CreditAccount:  NewFeesAccountKey(token),
			Token:          token,
			Amount:         amt,
			JournalType:    JournalTypeFeeWithdrawal,
			Timestamp:      timestamp,
		}},
	}

	jg.sequence++
	return batch, nil
}
