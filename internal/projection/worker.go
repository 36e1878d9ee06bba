package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"PredictionLedger/internal/keys"
	"PredictionLedger/internal/state"
)

// ProjectionOutput mirrors the data projection workers need.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence  int64
	Kind      string
	EventID   *uint64
	Transfers []TransferEntry
	Accounts  []AccountImage
	Timestamp int64
}

// TransferEntry is a simplified journal leg for projection consumption.
type TransferEntry struct {
	DebitAccount  string
	CreditAccount string
	Token         uint16
	Amount        int64
	JournalType   int32
}

// AccountImage is a rewritten account record.
type AccountImage struct {
	Address keys.Address
	Kind    string // record name
	Data    []byte
}

// Worker updates projection tables from applied instructions. The
// projection channel is non-blocking with drop; if projections fall
// behind, they can be rebuilt from the instruction log.
type Worker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
}

func NewWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection worker loop.
func (pw *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the instruction log
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *Worker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Update balance projections from transfer legs
	for _, t := range output.Transfers {
		if err := pw.updateBalanceProjection(ctx, tx, t, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	// Update typed projections from rewritten account images
	for _, acc := range output.Accounts {
		if err := pw.updateAccountProjection(ctx, tx, acc, output.Sequence); err != nil {
			return fmt.Errorf("account projection (%s): %w", acc.Kind, err)
		}
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *Worker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, t TransferEntry, seq int64) error {
	// Debit account: decrease balance
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, token, balance, last_sequence)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path, token)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, t.DebitAccount, t.Token, t.Amount, seq); err != nil {
		return err
	}

	// Credit account: increase balance
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, token, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, token)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, t.CreditAccount, t.Token, t.Amount, seq); err != nil {
		return err
	}

	return nil
}

// updateAccountProjection maintains both the raw account-image table and the
// typed per-record tables the query service reads.
func (pw *Worker) updateAccountProjection(ctx context.Context, tx *sql.Tx, acc AccountImage, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.accounts (address, kind, data, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address)
		DO UPDATE SET kind = $2, data = $3, last_sequence = $4
	`, acc.Address[:], acc.Kind, acc.Data, seq); err != nil {
		return err
	}

	switch acc.Kind {
	case state.PlatformConfigRecord:
		return pw.upsertPlatform(ctx, tx, acc.Data, seq)
	case state.PredictionEventRecord:
		return pw.upsertEvent(ctx, tx, acc.Data, seq)
	case state.UserBetRecord:
		return pw.upsertBet(ctx, tx, acc.Address, acc.Data, seq)
	case state.UserStatsRecord:
		return pw.upsertStats(ctx, tx, acc.Data, seq)
	default:
		return fmt.Errorf("unknown account record kind: %s", acc.Kind)
	}
}

func (pw *Worker) upsertPlatform(ctx context.Context, tx *sql.Tx, data []byte, seq int64) error {
	p, err := state.UnmarshalPlatformConfig(data)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO projections.platform
			(id, authority, oracle, doom_mint, life_mint, fee_bps, paused,
			 total_doom_fees, total_life_fees, total_events, total_bets, last_sequence)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			authority = $1, oracle = $2, doom_mint = $3, life_mint = $4,
			fee_bps = $5, paused = $6, total_doom_fees = $7, total_life_fees = $8,
			total_events = $9, total_bets = $10, last_sequence = $11
	`, p.Authority[:], p.Oracle[:], p.DoomMint[:], p.LifeMint[:], p.FeeBps, p.Paused,
		int64(p.TotalDoomFees), int64(p.TotalLifeFees), int64(p.TotalEvents), int64(p.TotalBets), seq)
	return err
}

func (pw *Worker) upsertEvent(ctx context.Context, tx *sql.Tx, data []byte, seq int64) error {
	evt, err := state.UnmarshalPredictionEvent(data)
	if err != nil {
		return err
	}
	addr := evt.Address()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO projections.events
			(event_id, address, creator, title, description,
			 betting_deadline, event_deadline, resolution_deadline,
			 status, outcome_set, outcome, doom_pool, life_pool,
			 total_bettors, created_at, resolved_at, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (event_id) DO UPDATE SET
			status = $9, outcome_set = $10, outcome = $11,
			doom_pool = $12, life_pool = $13, total_bettors = $14,
			resolved_at = $16, last_sequence = $17
	`, int64(evt.EventID), addr[:], evt.Creator[:], evt.Title, evt.Description,
		evt.BettingDeadline, evt.EventDeadline, evt.ResolutionDeadline,
		int16(evt.Status), evt.OutcomeSet, int16(evt.Outcome),
		int64(evt.DoomPool), int64(evt.LifePool),
		int64(evt.TotalBettors), evt.CreatedAt, evt.ResolvedAt, seq)
	return err
}

func (pw *Worker) upsertBet(ctx context.Context, tx *sql.Tx, addr keys.Address, data []byte, seq int64) error {
	bet, err := state.UnmarshalUserBet(data)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO projections.bets
			(address, event_id, participant, side, amount, placed_at, claimed, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (address) DO UPDATE SET claimed = $7, last_sequence = $8
	`, addr[:], int64(bet.EventID), bet.Participant[:], int16(bet.Side),
		int64(bet.Amount), bet.PlacedAt, bet.Claimed, seq)
	return err
}

func (pw *Worker) upsertStats(ctx context.Context, tx *sql.Tx, data []byte, seq int64) error {
	st, err := state.UnmarshalUserStats(data)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO projections.user_stats
			(participant, total_bets, wins, losses, total_wagered, total_won, total_lost,
			 events_created, first_bet_at, last_bet_at,
			 current_streak, best_streak, worst_streak, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (participant) DO UPDATE SET
			total_bets = $2, wins = $3, losses = $4, total_wagered = $5,
			total_won = $6, total_lost = $7, events_created = $8,
			first_bet_at = $9, last_bet_at = $10, current_streak = $11,
			best_streak = $12, worst_streak = $13, last_sequence = $14
	`, st.Participant[:], int64(st.TotalBets), int64(st.Wins), int64(st.Losses),
		int64(st.TotalWagered), int64(st.TotalWon), int64(st.TotalLost),
		int64(st.EventsCreated), st.FirstBetAt, st.LastBetAt,
		st.CurrentStreak, int64(st.BestStreak), int64(st.WorstStreak), seq)
	return err
}

// RebuildProjections rebuilds the balance projection from the instruction
// log and clears the typed tables; the typed tables repopulate as the
// account images are replayed through the core.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.accounts`,
		`TRUNCATE projections.events`,
		`TRUNCATE projections.bets`,
		`TRUNCATE projections.user_stats`,
		`TRUNCATE projections.platform`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Rebuild balances from transfer legs
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, token, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			token,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM instruction_log.transfers
		GROUP BY credit_account, token
		ON CONFLICT (account_path, token) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	// Subtract debits
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, token, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			token,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM instruction_log.transfers
		GROUP BY debit_account, token
		ON CONFLICT (account_path, token) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
