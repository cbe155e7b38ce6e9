package projection

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// RewardHistoryEntry is one realized reward: a deposit or withdrawal that
// minted a non-zero amount.
type RewardHistoryEntry struct {
	Sequence          int64
	UserID            uuid.UUID
	EventType         string
	Minted            string // decimal wad
	StakeBalanceAfter string // decimal wad
	Timestamp         int64
}

// rewardEntryFor extracts the reward history row for an output, if any.
func rewardEntryFor(output ProjectionOutput) (RewardHistoryEntry, bool) {
	if output.Position == nil || output.Minted == "" || output.Minted == "0" {
		return RewardHistoryEntry{}, false
	}

	return RewardHistoryEntry{
		Sequence:          output.Sequence,
		UserID:            output.Position.UserID,
		EventType:         output.EventType,
		Minted:            output.Minted,
		StakeBalanceAfter: output.Position.StakeBalance,
		Timestamp:         output.Timestamp,
	}, true
}

func insertRewardHistory(ctx context.Context, tx *sql.Tx, e RewardHistoryEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.reward_history
			(sequence, user_id, event_type, minted, stake_balance_after, timestamp)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6)
		ON CONFLICT (sequence) DO NOTHING
	`, e.Sequence, e.UserID.String(), e.EventType, e.Minted, e.StakeBalanceAfter, e.Timestamp)
	return err
}
