package projection

import (
	"testing"
	"time"

	"StakeLedger/internal/event"
	"StakeLedger/internal/ledger"
	"StakeLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

func testEnvelope(seq int64, et event.EventType) *event.EventEnvelope {
	return &event.EventEnvelope{
		Sequence:  seq,
		EventType: et,
		Timestamp: time.Unix(1_700_000_000, 0),
	}
}

func TestNewProjectionOutput_StakeWithReward(t *testing.T) {
	userID := uuid.New()
	batch := ledger.EmptyBatch("ref", 7, 1_700_000_000)
	batch.Journals = append(batch.Journals, ledger.Journal{
		DebitAccount:  ledger.NewUserAccountKey(userID, ledger.SubTypeWallet, ledger.StakeAssetID),
		CreditAccount: ledger.NewUserAccountKey(userID, ledger.SubTypeStaked, ledger.StakeAssetID),
		AssetID:       ledger.StakeAssetID,
		Amount:        uint256.NewInt(40),
	})

	pos := state.NewStakePosition(userID)
	pos.StakeBalance = uint256.NewInt(60)
	pos.TotalMinted = uint256.NewInt(5)
	pos.LastDeposit = 1
	pos.LastMint = 2

	out := NewProjectionOutput(testEnvelope(7, event.EventTypeStakeWithdrawRequested), batch, pos, uint256.NewInt(5))

	if out.Sequence != 7 || out.EventType != "StakeWithdrawRequested" || out.Timestamp != 1_700_000_000 {
		t.Errorf("header: %+v", out)
	}
	if len(out.JournalEntries) != 1 || out.JournalEntries[0].Amount != "40" {
		t.Errorf("journals: %+v", out.JournalEntries)
	}
	if out.Position == nil || out.Position.StakeBalance != "60" || out.Position.LastMint != 2 {
		t.Fatalf("position: %+v", out.Position)
	}

	entry, ok := rewardEntryFor(out)
	if !ok {
		t.Fatal("expected a reward history entry")
	}
	if entry.Minted != "5" || entry.StakeBalanceAfter != "60" || entry.UserID != userID {
		t.Errorf("entry: %+v", entry)
	}
}

func TestRewardEntryFor_NoReward(t *testing.T) {
	cases := []struct {
		name string
		out  ProjectionOutput
	}{
		{"wallet funding", NewProjectionOutput(testEnvelope(1, event.EventTypeWalletFunded), ledger.EmptyBatch("a", 1, 0), nil, nil)},
		{"zero mint", ProjectionOutput{Position: &PositionRow{}, Minted: "0"}},
		{"rejection", NewProjectionOutput(testEnvelope(2, event.EventTypeStakeDepositRequested), ledger.EmptyBatch("b", 2, 0), nil, new(uint256.Int))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := rewardEntryFor(tc.out); ok {
				t.Error("unexpected reward history entry")
			}
		})
	}
}
