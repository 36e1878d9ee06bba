package ingestion

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PredictionLedger/internal/instruction"
	"PredictionLedger/internal/keys"
)

// AdminInjector provides manual instruction injection for operators. It is
// for admin operations and backfills, not for high-throughput ingestion
// (use NATS for that). Injected instructions ride the same submission
// envelope and parse path as NATS deliveries.
type AdminInjector struct {
	instructionChan chan<- RawInstruction
	sourceSeq       func() int64
}

// NewAdminInjector creates an injector feeding the given channel. The
// sourceSeq callback supplies the next source sequence for the partition the
// instruction lands on; admin injection shares the producer's sequence space.
func NewAdminInjector(instructionChan chan<- RawInstruction, sourceSeq func() int64) *AdminInjector {
	return &AdminInjector{
		instructionChan: instructionChan,
		sourceSeq:       sourceSeq,
	}
}

// InjectDeposit manually credits a participant's balance.
func (a *AdminInjector) InjectDeposit(
	ctx context.Context,
	participant keys.Address,
	token instruction.Token,
	amount uint64,
) error {
	if amount == 0 {
		return fmt.Errorf("amount must be positive")
	}
	return a.inject(ctx, &instruction.Deposit{
		Caller: participant,
		Token:  token,
		Amount: amount,
	})
}

// InjectWithdrawFees manually drains accrued platform fees.
func (a *AdminInjector) InjectWithdrawFees(
	ctx context.Context,
	authority keys.Address,
	token instruction.Token,
	amount uint64,
) error {
	if amount == 0 {
		return fmt.Errorf("amount must be positive")
	}
	return a.inject(ctx, &instruction.WithdrawFees{
		Caller: authority,
		Token:  token,
		Amount: amount,
	})
}

func (a *AdminInjector) inject(ctx context.Context, inst instruction.Instruction) error {
	wire, err := instruction.Encode(inst)
	if err != nil {
		return fmt.Errorf("encode instruction: %w", err)
	}

	sub := submissionJSON{
		IdempotencyKey: uuid.NewString(),
		SourceSequence: a.sourceSeq(),
		TimestampUs:    time.Now().UnixMicro(),
		Data:           base64.StdEncoding.EncodeToString(wire),
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}

	raw := RawInstruction{
		Subject:   "admin",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}

	select {
	case a.instructionChan <- raw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
