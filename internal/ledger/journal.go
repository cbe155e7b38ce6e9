package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeWalletFund JournalType = iota
	JournalTypeStakeLock
	JournalTypeStakeUnlock
	JournalTypeRewardMint
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeWalletFund:
		return "WalletFund"
	case JournalTypeStakeLock:
		return "StakeLock"
	case JournalTypeStakeUnlock:
		return "StakeUnlock"
	case JournalTypeRewardMint:
		return "RewardMint"
	default:
		return "Unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID    // Unique identifier
	BatchID       uuid.UUID    // Groups balanced entries
	EventRef      string       // Idempotency key of source event
	Sequence      int64        // Global event sequence
	DebitAccount  AccountKey   // Account receiving debit (balance increases)
	CreditAccount AccountKey   // Account receiving credit (balance decreases)
	AssetID       AssetID      // Asset being transferred
	Amount        *uint256.Int // wad amount (ALWAYS positive)
	JournalType   JournalType  // Entry type
	Timestamp     int64        // Versioned input timestamp (Unix seconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// batchNamespace seeds name-based batch IDs so replaying an event reproduces
// the same batch and journal IDs.
var batchNamespace = uuid.MustParse("6f1c2d0e-5b7a-4c3e-9a8d-2e4f6b1c9d70")

// BatchIDFor derives the batch ID for an event reference.
func BatchIDFor(eventRef string) uuid.UUID {
	return uuid.NewSHA1(batchNamespace, []byte(eventRef))
}

// JournalIDFor derives the ID of the n-th journal in a batch.
func JournalIDFor(batchID uuid.UUID, n int) uuid.UUID {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	return uuid.NewSHA1(batchID, buf[:])
}

// Validate ensures the batch is well-formed.
// Each journal moves a single positive amount from the credit account to the
// debit account, so every entry is balanced by construction.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.IsZero() {
			return fmt.Errorf("journal %s has non-positive amount", j.JournalID)
		}

		// A two's complement "negative" amount would silently reverse the entry
		if j.Amount.Sign() < 0 {
			return fmt.Errorf("journal %s amount out of range: %s", j.JournalID, j.Amount.Dec())
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}
