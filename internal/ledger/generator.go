package ledger

import (
	"fmt"

	"StakeLedger/internal/event"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalGenerator creates balanced journal batches from events
type JournalGenerator struct {
	balanceTracker *BalanceTracker // for pre-checks
}

func NewJournalGenerator(tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		balanceTracker: tracker,
	}
}

// StakeMovement describes one stake deposit or withdrawal after the position
// transition has been computed.
type StakeMovement struct {
	UserID    uuid.UUID
	EventRef  string
	Amount    *uint256.Int // stake tokens moved
	Minted    *uint256.Int // reward realized by the transition, may be zero
	Timestamp int64
}

// EmptyBatch returns a journal-less batch for rejected events. Rejections still
// consume a sequence and are written to the event log.
func EmptyBatch(eventRef string, seq int64, timestamp int64) *Batch {
	return &Batch{
		BatchID:   BatchIDFor(eventRef),
		EventRef:  eventRef,
		Sequence:  seq,
		Timestamp: timestamp,
		Journals:  []Journal{},
	}
}

// GenerateWalletFund creates journals for tokens entering a user's wallet.
// Moves funds: external:deposits → user:wallet
func (jg *JournalGenerator) GenerateWalletFund(evt *event.WalletFunded, seq int64) (*Batch, error) {
	if evt.Amount == nil || evt.Amount.IsZero() {
		return nil, fmt.Errorf("wallet funding %s has zero amount", evt.FundingID)
	}

	ref := evt.IdempotencyKey()
	ts := evt.Timestamp.Unix()
	batch := EmptyBatch(ref, seq, ts)

	batch.Journals = append(batch.Journals, Journal{
		JournalID:     JournalIDFor(batch.BatchID, 0),
		BatchID:       batch.BatchID,
		EventRef:      ref,
		Sequence:      seq,
		DebitAccount:  NewUserAccountKey(evt.UserID, SubTypeWallet, StakeAssetID),
		CreditAccount: NewExternalAccountKey(SubTypeExternalDeposits, StakeAssetID),
		AssetID:       StakeAssetID,
		Amount:        new(uint256.Int).Set(evt.Amount),
		JournalType:   JournalTypeWalletFund,
		Timestamp:     ts,
	})

	if err := jg.balanceTracker.ValidateBatchRange(batch); err != nil {
		return nil, fmt.Errorf("wallet funding %s: %w", evt.FundingID, err)
	}
	return batch, nil
}

// GenerateStakeLock creates journals for a stake deposit.
// Pre-check: the wallet must cover the amount.
// Moves funds: user:wallet → user:staked, then mints any realized reward.
func (jg *JournalGenerator) GenerateStakeLock(m StakeMovement, seq int64) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientWallet(m.UserID, m.Amount); err != nil {
		return nil, fmt.Errorf("stake deposit pre-check failed: %w", err)
	}

	batch := EmptyBatch(m.EventRef, seq, m.Timestamp)
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     JournalIDFor(batch.BatchID, 0),
		BatchID:       batch.BatchID,
		EventRef:      m.EventRef,
		Sequence:      seq,
		DebitAccount:  NewUserAccountKey(m.UserID, SubTypeStaked, StakeAssetID),
		CreditAccount: NewUserAccountKey(m.UserID, SubTypeWallet, StakeAssetID),
		AssetID:       StakeAssetID,
		Amount:        new(uint256.Int).Set(m.Amount),
		JournalType:   JournalTypeStakeLock,
		Timestamp:     m.Timestamp,
	})

	jg.appendRewardMint(batch, m)
	if err := jg.balanceTracker.ValidateBatchRange(batch); err != nil {
		return nil, fmt.Errorf("stake movement %s: %w", m.EventRef, err)
	}
	return batch, nil
}

// GenerateStakeUnlock creates journals for a stake withdrawal.
// Moves funds: user:staked → user:wallet, then mints any realized reward.
func (jg *JournalGenerator) GenerateStakeUnlock(m StakeMovement, seq int64) (*Batch, error) {
	staked := jg.balanceTracker.GetUserStakedBalance(m.UserID)
	if staked.Lt(m.Amount) {
		return nil, fmt.Errorf("stake withdrawal pre-check failed: staked=%s, need=%s",
			staked.Dec(), m.Amount.Dec())
	}

	batch := EmptyBatch(m.EventRef, seq, m.Timestamp)
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     JournalIDFor(batch.BatchID, 0),
		BatchID:       batch.BatchID,
		EventRef:      m.EventRef,
		Sequence:      seq,
		DebitAccount:  NewUserAccountKey(m.UserID, SubTypeWallet, StakeAssetID),
		CreditAccount: NewUserAccountKey(m.UserID, SubTypeStaked, StakeAssetID),
		AssetID:       StakeAssetID,
		Amount:        new(uint256.Int).Set(m.Amount),
		JournalType:   JournalTypeStakeUnlock,
		Timestamp:     m.Timestamp,
	})

	jg.appendRewardMint(batch, m)
	if err := jg.balanceTracker.ValidateBatchRange(batch); err != nil {
		return nil, fmt.Errorf("stake movement %s: %w", m.EventRef, err)
	}
	return batch, nil
}

// appendRewardMint adds the reward leg: system:reward_issuance → user:reward.
// Zero rewards produce no journal.
func (jg *JournalGenerator) appendRewardMint(batch *Batch, m StakeMovement) {
	if m.Minted == nil || m.Minted.IsZero() {
		return
	}

	batch.Journals = append(batch.Journals, Journal{
		JournalID:     JournalIDFor(batch.BatchID, len(batch.Journals)),
		BatchID:       batch.BatchID,
		EventRef:      m.EventRef,
		Sequence:      batch.Sequence,
		DebitAccount:  NewUserAccountKey(m.UserID, SubTypeReward, RewardAssetID),
		CreditAccount: NewSystemAccountKey(SubTypeSystemRewardIssuance, RewardAssetID),
		AssetID:       RewardAssetID,
		Amount:        new(uint256.Int).Set(m.Minted),
		JournalType:   JournalTypeRewardMint,
		Timestamp:     m.Timestamp,
	})
}
