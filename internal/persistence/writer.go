package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// InstructionLogWriter writes applied instructions and their transfers to
// Postgres using multi-row INSERT. COPY via pgx would be faster; multi-row
// INSERT keeps the driver surface on database/sql.
type InstructionLogWriter struct {
	db           *sql.DB
	batchSize    int
	flushTimeout time.Duration
}

// InstructionRow represents a row in instruction_log.instructions
type InstructionRow struct {
	Sequence       int64
	Kind           string
	IdempotencyKey string
	EventID        *int64
	Payload        []byte // JSON-encoded instruction payload
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// TransferRow represents a row in instruction_log.transfers
type TransferRow struct {
	JournalID      string
	BatchID        string
	InstructionRef string
	Sequence       int64
	DebitAccount   string
	CreditAccount  string
	Token          uint16
	Amount         int64
	JournalType    int32
	Timestamp      int64
}

func NewInstructionLogWriter(db *sql.DB, batchSize int, flushTimeout time.Duration) *InstructionLogWriter {
	return &InstructionLogWriter{
		db:           db,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
	}
}

// WriteInstructionBatch writes a batch of rows to instruction_log.instructions
// inside the caller's transaction.
func (w *InstructionLogWriter) WriteInstructionBatch(ctx context.Context, tx *sql.Tx, rows []InstructionRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO instruction_log.instructions
		(sequence, kind, idempotency_key, event_id, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*9)

	for i, r := range rows {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			r.Sequence, r.Kind, r.IdempotencyKey, r.EventID,
			r.Payload, r.StateHash, r.PrevHash, r.Timestamp, r.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteTransferBatch writes a batch of rows to instruction_log.transfers
// inside the caller's transaction.
func (w *InstructionLogWriter) WriteTransferBatch(ctx context.Context, tx *sql.Tx, rows []TransferRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO instruction_log.transfers
		(journal_id, batch_id, instruction_ref, sequence, debit_account, credit_account, token, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*10)

	for i, r := range rows {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			r.JournalID, r.BatchID, r.InstructionRef, r.Sequence,
			r.DebitAccount, r.CreditAccount, r.Token, r.Amount,
			r.JournalType, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// MarshalPayload JSON-encodes an instruction payload for the log.
func MarshalPayload(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("WARN: failed to marshal payload: %v", err)
		return []byte("{}")
	}
	return data
}
