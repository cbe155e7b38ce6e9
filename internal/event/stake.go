// internal/event/stake.go
package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// StakeDepositRequested moves Amount from the user's wallet into stake.
type StakeDepositRequested struct {
	RequestID uuid.UUID
	UserID    uuid.UUID
	Amount    *uint256.Int // wad
	Sequence  int64
	Timestamp time.Time // authoritative, second precision
}

func (d *StakeDepositRequested) IdempotencyKey() string {
	return d.RequestID.String()
}

func (d *StakeDepositRequested) EventType() EventType {
	return EventTypeStakeDepositRequested
}

func (d *StakeDepositRequested) Partition() string {
	return PartitionStaking
}

func (d *StakeDepositRequested) SourceSequence() int64 {
	return d.Sequence
}

func (d *StakeDepositRequested) EventTime() time.Time {
	return d.Timestamp
}

// StakeWithdrawRequested moves Amount from stake back to the user's wallet.
type StakeWithdrawRequested struct {
	RequestID uuid.UUID
	UserID    uuid.UUID
	Amount    *uint256.Int // wad
	Sequence  int64
	Timestamp time.Time
}

func (w *StakeWithdrawRequested) IdempotencyKey() string {
	return w.RequestID.String()
}

func (w *StakeWithdrawRequested) EventType() EventType {
	return EventTypeStakeWithdrawRequested
}

func (w *StakeWithdrawRequested) Partition() string {
	return PartitionStaking
}

func (w *StakeWithdrawRequested) SourceSequence() int64 {
	return w.Sequence
}

func (w *StakeWithdrawRequested) EventTime() time.Time {
	return w.Timestamp
}
