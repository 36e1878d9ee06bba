package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PredictionLedger/internal/core"
	"PredictionLedger/internal/instruction"
	"PredictionLedger/internal/keys"
	"PredictionLedger/internal/ledger"
	"PredictionLedger/internal/state"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// Snapshots contain balances, the platform singleton, events, bets, stats,
// idempotency keys, per-partition sequence counters, and the chain tip hash.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the JSON-serializable form of core.SnapshotState.
type SnapshotData struct {
	Sequence        int64                    `json:"sequence"`
	StateHash       []byte                   `json:"state_hash"`
	Balances        []BalanceSnap            `json:"balances"`
	Platform        *state.PlatformConfig    `json:"platform"`
	Events          []*state.PredictionEvent `json:"events"`
	Bets            []*state.UserBet         `json:"bets"`
	Stats           []*state.UserStats       `json:"stats"`
	SequenceState   map[string]int64         `json:"sequence_state"`   // partition -> next expected seq
	IdempotencyKeys []string                 `json:"idempotency_keys"` // Recent keys for LRU warming
	CreatedAt       time.Time                `json:"created_at"`
}

// BalanceSnap is one serializable ledger account balance.
type BalanceSnap struct {
	Scope   ledger.AccountScope   `json:"scope"`
	Entity  keys.Address          `json:"entity"`
	SubType ledger.AccountSubType `json:"sub_type"`
	Token   instruction.Token     `json:"token"`
	Balance int64                 `json:"balance"`
}

// FromCoreState converts the core's in-memory snapshot into its
// serializable form.
func FromCoreState(snap *core.SnapshotState) *SnapshotData {
	balances := make([]BalanceSnap, 0, len(snap.Balances))
	for key, balance := range snap.Balances {
		balances = append(balances, BalanceSnap{
			Scope:   key.Scope,
			Entity:  key.Entity,
			SubType: key.SubType,
			Token:   key.Token,
			Balance: balance,
		})
	}

	return &SnapshotData{
		Sequence:        snap.Sequence,
		StateHash:       snap.StateHash[:],
		Balances:        balances,
		Platform:        snap.Platform,
		Events:          snap.Events,
		Bets:            snap.Bets,
		Stats:           snap.Stats,
		SequenceState:   snap.SequenceState,
		IdempotencyKeys: snap.IdempotencyKeys,
		CreatedAt:       time.Now().UTC(),
	}
}

// ToCoreState converts a loaded snapshot back into the core's typed form.
func (d *SnapshotData) ToCoreState() *core.SnapshotState {
	balances := make(map[ledger.AccountKey]int64, len(d.Balances))
	for _, b := range d.Balances {
		balances[ledger.AccountKey{
			Scope:   b.Scope,
			Entity:  b.Entity,
			SubType: b.SubType,
			Token:   b.Token,
		}] = b.Balance
	}

	var stateHash [32]byte
	copy(stateHash[:], d.StateHash)

	return &core.SnapshotState{
		Sequence:        d.Sequence,
		StateHash:       stateHash,
		Balances:        balances,
		Platform:        d.Platform,
		Events:          d.Events,
		Bets:            d.Bets,
		Stats:           d.Stats,
		SequenceState:   d.SequenceState,
		IdempotencyKeys: d.IdempotencyKeys,
	}
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres and returns the encoded
// size in bytes. Snapshots are taken periodically and verified by
// replaying instructions from the snapshot sequence forward.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO instruction_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return sizeBytes, err
}

// LoadLatestSnapshot loads the most recent verified snapshot. On warm
// restart: load the snapshot, then replay instructions from Sequence+1.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM instruction_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No snapshot — cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE instruction_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadInstructionsFrom loads logged instructions from a given sequence for
// replay. Used for warm restart (replay from snapshot) and cold restart
// (replay all).
func (sm *SnapshotManager) LoadInstructionsFrom(ctx context.Context, fromSequence int64, limit int) ([]InstructionRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, kind, idempotency_key, event_id, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM instruction_log.instructions
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InstructionRow
	for rows.Next() {
		var r InstructionRow
		if err := rows.Scan(
			&r.Sequence, &r.Kind, &r.IdempotencyKey, &r.EventID,
			&r.Payload, &r.StateHash, &r.PrevHash, &r.Timestamp, &r.SourceSequence,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

// GetLatestSequence returns the highest sequence in the instruction log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM instruction_log.instructions
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty instruction log
	}
	return seq.Int64, nil
}
