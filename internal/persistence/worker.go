package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"PredictionLedger/internal/observability"
)

// PersistInput mirrors core.CoreOutput flattened into rows, to avoid an
// import cycle. The orchestrator (cmd/main.go) bridges between them.
type PersistInput struct {
	InstructionRow InstructionRow
	TransferRows   []TransferRow
}

// Worker drains the persist channel and batch-writes to Postgres. This
// goroutine runs independently from the deterministic core. The persist
// channel uses BLOCKING sends from the core, so if this worker falls
// behind, the core stalls — guaranteeing no applied instruction is lost.
type Worker struct {
	writer       *InstructionLogWriter
	inputChan    <-chan PersistInput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan PersistInput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewInstructionLogWriter(db, batchSize, flushTimeout),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Run starts the persistence worker loop. It batches incoming outputs and
// flushes either when the batch is full or the flush timeout expires.
// Blocks until ctx is cancelled.
func (pw *Worker) Run(ctx context.Context) error {
	instructionBatch := make([]InstructionRow, 0, pw.batchSize)
	transferBatch := make([]TransferRow, 0, pw.batchSize*3) // ~3 transfers per claim

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			if len(instructionBatch) > 0 {
				if err := pw.flush(context.Background(), instructionBatch, transferBatch); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case input, ok := <-pw.inputChan:
			if !ok {
				// Channel closed — flush and exit
				if len(instructionBatch) > 0 {
					if err := pw.flush(context.Background(), instructionBatch, transferBatch); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			instructionBatch = append(instructionBatch, input.InstructionRow)
			transferBatch = append(transferBatch, input.TransferRows...)

			// Flush if batch is full
			if len(instructionBatch) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, instructionBatch, transferBatch); err != nil {
					log.Printf("ERROR: batch flush failed after retries: %v", err)
				}
				instructionBatch = instructionBatch[:0]
				transferBatch = transferBatch[:0]
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			// Flush timeout — write whatever we have
			if len(instructionBatch) > 0 {
				if err := pw.flushWithRetry(ctx, instructionBatch, transferBatch); err != nil {
					log.Printf("ERROR: timeout flush failed after retries: %v", err)
				}
				instructionBatch = instructionBatch[:0]
				transferBatch = transferBatch[:0]
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry attempts to flush with exponential backoff. The worker
// NEVER drops rows — it retries indefinitely until the write succeeds or
// the context is cancelled (graceful shutdown).
func (pw *Worker) flushWithRetry(ctx context.Context, instructions []InstructionRow, transfers []TransferRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, instructions=%d)",
				attempt, backoff, len(instructions))
			select {
			case <-ctx.Done():
				// Graceful shutdown — attempt one final flush with background
				// context to avoid losing the batch.
				finalErr := pw.flush(context.Background(), instructions, transfers)
				if finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, instructions, transfers)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}

		if pw.metrics != nil {
			pw.metrics.PersistRetry.Inc()
		}
	}
}

func (pw *Worker) flush(ctx context.Context, instructions []InstructionRow, transfers []TransferRow) error {
	start := time.Now()

	// Write instructions and transfers in a single transaction
	tx, err := pw.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteInstructionBatch(ctx, tx, instructions); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_instructions").Inc()
		}
		return err
	}

	if err := pw.writer.WriteTransferBatch(ctx, tx, transfers); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_transfers").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	// Record metrics on success
	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(instructions)))
		pw.metrics.PersistInstructionsWritten.Add(float64(len(instructions)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(transfers)))
		if len(instructions) > 0 {
			pw.metrics.PersistLastSequence.Set(float64(instructions[len(instructions)-1].Sequence))
		}
	}

	return nil
}

// GetWriter returns the underlying writer.
func (pw *Worker) GetWriter() *InstructionLogWriter {
	return pw.writer
}
