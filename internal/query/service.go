package query

import (
	"context"
	"database/sql"
	"fmt"

	"PredictionLedger/internal/keys"
	"PredictionLedger/internal/math"
)

// Service provides read-only access to projection tables. Queries are
// served over HTTP/JSON, reading from PostgreSQL; hot reads go through an
// optional Redis cache. All responses include as_of_sequence for freshness
// semantics.
type Service struct {
	db    *sql.DB
	cache *Cache // nil disables caching
}

func NewService(db *sql.DB, cache *Cache) *Service {
	return &Service{db: db, cache: cache}
}

// GetPlatform returns the platform config singleton.
func (qs *Service) GetPlatform(ctx context.Context) (*PlatformResponse, error) {
	const cacheKey = "pred:platform"
	var cached PlatformResponse
	if qs.cache.Get(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var p PlatformResponse
	var authority, oracle, doomMint, lifeMint []byte
	err = qs.db.QueryRowContext(ctx, `
		SELECT authority, oracle, doom_mint, life_mint, fee_bps, paused,
		       total_doom_fees, total_life_fees, total_events, total_bets
		FROM projections.platform WHERE id = 1
	`).Scan(
		&authority, &oracle, &doomMint, &lifeMint, &p.FeeBps, &p.Paused,
		&p.TotalDoomFees, &p.TotalLifeFees, &p.TotalEvents, &p.TotalBets,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("platform not initialized")
	}
	if err != nil {
		return nil, err
	}

	copy(p.Authority[:], authority)
	copy(p.Oracle[:], oracle)
	copy(p.DoomMint[:], doomMint)
	copy(p.LifeMint[:], lifeMint)
	p.AsOfSequence = asOfSeq

	qs.cache.Set(ctx, cacheKey, &p)
	return &p, nil
}

// GetEvent returns a single prediction event.
func (qs *Service) GetEvent(ctx context.Context, eventID uint64) (*EventResponse, error) {
	cacheKey := fmt.Sprintf("pred:event:%d", eventID)
	var cached EventResponse
	if qs.cache.Get(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	row := qs.db.QueryRowContext(ctx, `
		SELECT event_id, address, creator, title, description,
		       betting_deadline, event_deadline, resolution_deadline,
		       status, outcome_set, outcome, doom_pool, life_pool,
		       total_bettors, created_at, resolved_at
		FROM projections.events WHERE event_id = $1
	`, int64(eventID))

	evt, err := scanEvent(row, asOfSeq)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event %d not found", eventID)
	}
	if err != nil {
		return nil, err
	}

	qs.cache.Set(ctx, cacheKey, evt)
	return evt, nil
}

// ListEvents returns events, optionally filtered by status, newest first.
// Supports cursor-based pagination on event_id.
func (qs *Service) ListEvents(ctx context.Context, status *int16, limit int, beforeID *uint64) ([]EventResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT event_id, address, creator, title, description,
		       betting_deadline, event_deadline, resolution_deadline,
		       status, outcome_set, outcome, doom_pool, life_pool,
		       total_bettors, created_at, resolved_at
		FROM projections.events
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *status)
		argIdx++
	}
	if beforeID != nil {
		query += fmt.Sprintf(" AND event_id < $%d", argIdx)
		args = append(args, int64(*beforeID))
		argIdx++
	}

	query += " ORDER BY event_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventResponse
	for rows.Next() {
		evt, err := scanEvent(rows, asOfSeq)
		if err != nil {
			return nil, err
		}
		events = append(events, *evt)
	}

	return events, rows.Err()
}

// GetBet returns a participant's bet on an event.
func (qs *Service) GetBet(ctx context.Context, eventID uint64, participant keys.Address) (*BetResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	betAddr := keys.UserBetAddress(keys.EventAddress(eventID), participant)

	var b BetResponse
	var addr, part []byte
	var eid int64
	err = qs.db.QueryRowContext(ctx, `
		SELECT address, event_id, participant, side, amount, placed_at, claimed
		FROM projections.bets WHERE address = $1
	`, betAddr[:]).Scan(&addr, &eid, &part, &b.Side, &b.Amount, &b.PlacedAt, &b.Claimed)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("bet not found")
	}
	if err != nil {
		return nil, err
	}

	copy(b.Address[:], addr)
	copy(b.Participant[:], part)
	b.EventID = uint64(eid)
	b.AsOfSequence = asOfSeq
	return &b, nil
}

// GetAccount returns the raw account image at a derived address.
func (qs *Service) GetAccount(ctx context.Context, address keys.Address) (*AccountResponse, error) {
	cacheKey := fmt.Sprintf("pred:account:%s", address)
	var cached AccountResponse
	if qs.cache.Get(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	var a AccountResponse
	err := qs.db.QueryRowContext(ctx, `
		SELECT kind, data, last_sequence
		FROM projections.accounts WHERE address = $1
	`, address[:]).Scan(&a.Kind, &a.Data, &a.AsOfSequence)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s not found", address)
	}
	if err != nil {
		return nil, err
	}
	a.Address = address

	qs.cache.Set(ctx, cacheKey, &a)
	return &a, nil
}

// ListEventBets returns all bets on an event, newest first.
func (qs *Service) ListEventBets(ctx context.Context, eventID uint64, limit int) ([]BetResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT address, event_id, participant, side, amount, placed_at, claimed
		FROM projections.bets
		WHERE event_id = $1
		ORDER BY placed_at DESC
		LIMIT $2
	`, int64(eventID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []BetResponse
	for rows.Next() {
		var b BetResponse
		var addr, part []byte
		var eid int64
		if err := rows.Scan(&addr, &eid, &part, &b.Side, &b.Amount, &b.PlacedAt, &b.Claimed); err != nil {
			return nil, err
		}
		copy(b.Address[:], addr)
		copy(b.Participant[:], part)
		b.EventID = uint64(eid)
		b.AsOfSequence = asOfSeq
		bets = append(bets, b)
	}

	return bets, rows.Err()
}

// GetUserStats returns a participant's lifetime stats.
func (qs *Service) GetUserStats(ctx context.Context, participant keys.Address) (*StatsResponse, error) {
	cacheKey := fmt.Sprintf("pred:stats:%s", participant)
	var cached StatsResponse
	if qs.cache.Get(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var s StatsResponse
	var part []byte
	err = qs.db.QueryRowContext(ctx, `
		SELECT participant, total_bets, wins, losses, total_wagered, total_won,
		       total_lost, events_created, first_bet_at, last_bet_at,
		       current_streak, best_streak, worst_streak
		FROM projections.user_stats WHERE participant = $1
	`, participant[:]).Scan(
		&part, &s.TotalBets, &s.Wins, &s.Losses, &s.TotalWagered, &s.TotalWon,
		&s.TotalLost, &s.EventsCreated, &s.FirstBetAt, &s.LastBetAt,
		&s.CurrentStreak, &s.BestStreak, &s.WorstStreak,
	)
	if err == sql.ErrNoRows {
		// A participant with no activity has empty stats, not an error.
		return &StatsResponse{Participant: participant, AsOfSequence: asOfSeq}, nil
	}
	if err != nil {
		return nil, err
	}

	copy(s.Participant[:], part)
	s.NetProfit = s.TotalWon - s.TotalLost
	s.AsOfSequence = asOfSeq

	qs.cache.Set(ctx, cacheKey, &s)
	return &s, nil
}

// GetUserBalances returns a participant's spendable balances in both tokens.
func (qs *Service) GetUserBalances(ctx context.Context, participant keys.Address) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	doom, err := qs.getProjectedBalance(ctx, fmt.Sprintf("user:%s:doom", participant))
	if err != nil {
		return nil, err
	}
	life, err := qs.getProjectedBalance(ctx, fmt.Sprintf("user:%s:life", participant))
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		Participant:  participant,
		DoomBalance:  doom,
		LifeBalance:  life,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetTransferHistory returns ledger legs touching a participant's accounts,
// newest first. Supports cursor-based pagination on sequence.
func (qs *Service) GetTransferHistory(
	ctx context.Context,
	participant keys.Address,
	limit int,
	beforeSequence *int64,
) ([]TransferHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", participant)

	query := `
		SELECT journal_id, batch_id, instruction_ref, sequence,
		       debit_account, credit_account, token, amount, journal_type, timestamp
		FROM instruction_log.transfers
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []TransferHistoryEntry
	for rows.Next() {
		var e TransferHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.InstructionRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Token, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain and global balance invariants.
func (qs *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT i1.sequence
		FROM instruction_log.instructions i1
		LEFT JOIN instruction_log.instructions i2 ON i2.sequence = i1.sequence - 1
		WHERE i1.sequence > 1 AND i1.prev_hash != COALESCE(i2.state_hash, i1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Global balance must sum to zero across all accounts per token
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT token, SUM(balance) as total
		FROM projections.balances
		GROUP BY token
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var token uint16
		var total int64
		if err := balanceRows.Scan(&token, &total); err != nil {
			return nil, err
		}
		report.UnbalancedTokens = append(report.UnbalancedTokens, UnbalancedToken{
			Token:     token,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedTokens) == 0
	return report, nil
}

// --- helpers ---

func (qs *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *Service) getProjectedBalance(ctx context.Context, accountPath string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(balance), 0) FROM projections.balances
		WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner, asOfSeq int64) (*EventResponse, error) {
	var e EventResponse
	var addr, creator []byte
	var eid int64
	if err := row.Scan(
		&eid, &addr, &creator, &e.Title, &e.Description,
		&e.BettingDeadline, &e.EventDeadline, &e.ResolutionDeadline,
		&e.Status, &e.OutcomeSet, &e.Outcome, &e.DoomPool, &e.LifePool,
		&e.TotalBettors, &e.CreatedAt, &e.ResolvedAt,
	); err != nil {
		return nil, err
	}
	copy(e.Address[:], addr)
	copy(e.Creator[:], creator)
	e.EventID = uint64(eid)
	e.DoomOddsBps, e.LifeOddsBps = math.OddsBps(uint64(e.DoomPool), uint64(e.LifePool))
	e.AsOfSequence = asOfSeq
	return &e, nil
}
