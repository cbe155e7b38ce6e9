package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"StakeLedger/internal/core"
	"StakeLedger/internal/ledger"
	"StakeLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ErrSnapshotMismatch means a snapshot's hash disagrees with the event log.
var ErrSnapshotMismatch = errors.New("snapshot hash does not match event log")

// SnapshotManager handles creating and loading state snapshots for recovery.
// A snapshot holds balances, stake positions, the idempotency LRU, sequence
// counters and the chain tip.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
type SnapshotData struct {
	Sequence        int64              `json:"sequence"`
	StateHash       []byte             `json:"state_hash"`
	Balances        map[string]string  `json:"balances"`         // AccountPath -> signed decimal
	Positions       []PositionSnapshot `json:"positions"`        // sorted by user
	SequenceState   map[string]int64   `json:"sequence_state"`   // partition -> next expected seq
	IdempotencyKeys []string           `json:"idempotency_keys"` // recent keys for LRU warming
	CreatedAt       time.Time          `json:"created_at"`
}

// PositionSnapshot is a serializable stake position.
type PositionSnapshot struct {
	UserID       string `json:"user_id"`
	StakeBalance string `json:"stake_balance"`
	LastDeposit  uint64 `json:"last_deposit"`
	LastMint     uint64 `json:"last_mint"`
	TotalMinted  string `json:"total_minted"`
	Version      int64  `json:"version"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SnapshotFromCore converts core state into its stored form.
func SnapshotFromCore(cs *core.SnapshotState, createdAt time.Time) *SnapshotData {
	snap := &SnapshotData{
		Sequence:        cs.Sequence,
		StateHash:       append([]byte(nil), cs.StateHash[:]...),
		Balances:        make(map[string]string, len(cs.Balances)),
		Positions:       make([]PositionSnapshot, 0, len(cs.Positions)),
		SequenceState:   cs.SequenceState,
		IdempotencyKeys: cs.IdempotencyKeys,
		CreatedAt:       createdAt.UTC(),
	}

	for key, balance := range cs.Balances {
		snap.Balances[key.AccountPath()] = ledger.FormatSigned(balance)
	}

	for _, pos := range cs.Positions {
		snap.Positions = append(snap.Positions, PositionSnapshot{
			UserID:       pos.UserID.String(),
			StakeBalance: pos.StakeBalance.Dec(),
			LastDeposit:  pos.LastDeposit,
			LastMint:     pos.LastMint,
			TotalMinted:  pos.TotalMinted.Dec(),
			Version:      pos.Version,
		})
	}

	return snap
}

// ToCore converts a stored snapshot back into core state.
func (s *SnapshotData) ToCore() (*core.SnapshotState, error) {
	if len(s.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot %d: state hash has %d bytes", s.Sequence, len(s.StateHash))
	}

	cs := &core.SnapshotState{
		Sequence:        s.Sequence,
		Balances:        make(map[ledger.AccountKey]*uint256.Int, len(s.Balances)),
		Positions:       make([]*state.StakePosition, 0, len(s.Positions)),
		SequenceState:   s.SequenceState,
		IdempotencyKeys: s.IdempotencyKeys,
	}
	copy(cs.StateHash[:], s.StateHash)

	for path, raw := range s.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, err
		}
		balance, err := ledger.ParseSigned(raw)
		if err != nil {
			return nil, err
		}
		cs.Balances[key] = balance
	}

	for _, p := range s.Positions {
		userID, err := uuid.Parse(p.UserID)
		if err != nil {
			return nil, fmt.Errorf("position user id %q: %w", p.UserID, err)
		}
		stake, err := uint256.FromDecimal(p.StakeBalance)
		if err != nil {
			return nil, fmt.Errorf("position %s stake: %w", p.UserID, err)
		}
		minted, err := uint256.FromDecimal(p.TotalMinted)
		if err != nil {
			return nil, fmt.Errorf("position %s minted: %w", p.UserID, err)
		}
		cs.Positions = append(cs.Positions, &state.StakePosition{
			UserID:       userID,
			StakeBalance: stake,
			LastDeposit:  p.LastDeposit,
			LastMint:     p.LastMint,
			TotalMinted:  minted,
			Version:      p.Version,
		})
	}

	return cs, nil
}

// SaveSnapshot persists a snapshot and returns its encoded size.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	const formatVersion = 1 // JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, data, snap.StateHash, formatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return 0, err
	}

	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a cold start.
// Recovery replays events from snapshot.Sequence+1.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified. A snapshot is verified once its
// state hash matches the recorded event at the same sequence.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// VerifySnapshot compares a saved snapshot's hash against the event log and
// marks it verified when they agree. It reports false without an error while
// the sequence is not persisted yet.
func (sm *SnapshotManager) VerifySnapshot(ctx context.Context, snap *SnapshotData) (bool, error) {
	var recorded []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT state_hash FROM event_log.events WHERE sequence = $1
	`, snap.Sequence).Scan(&recorded)
	if errors.Is(err, sql.ErrNoRows) {
		// Not persisted yet; retried on the next snapshot tick
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if string(recorded) != string(snap.StateHash) {
		return false, fmt.Errorf("%w at sequence %d", ErrSnapshotMismatch, snap.Sequence)
	}
	return true, sm.MarkVerified(ctx, snap.Sequence)
}

// LoadEventsFrom loads events from a given sequence for replay.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, partition_key, payload,
		       state_hash, prev_hash, timestamp, source_sequence, rejection
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Partition, &e.Payload,
			&e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence, &e.Rejection,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or -1 when
// the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
