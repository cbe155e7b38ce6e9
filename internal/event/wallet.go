// internal/event/wallet.go
package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// WalletFunded credits a user's wallet with staking tokens from outside the
// ledger. Stake deposits draw from this wallet.
type WalletFunded struct {
	FundingID uuid.UUID
	UserID    uuid.UUID
	Amount    *uint256.Int // wad
	Sequence  int64
	Timestamp time.Time
}

func (w *WalletFunded) IdempotencyKey() string {
	return w.FundingID.String()
}

func (w *WalletFunded) EventType() EventType {
	return EventTypeWalletFunded
}

func (w *WalletFunded) Partition() string {
	return PartitionCustody
}

func (w *WalletFunded) SourceSequence() int64 {
	return w.Sequence
}

func (w *WalletFunded) EventTime() time.Time {
	return w.Timestamp
}
