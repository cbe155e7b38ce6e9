package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientWalletBalance = errors.New("insufficient wallet balance")

	// ErrAmountOutOfRange means a journal would push a balance past the
	// signed 256-bit range.
	ErrAmountOutOfRange = errors.New("amount out of range")
)

// BalanceTracker maintains in-memory account balances.
// Balances are 256-bit two's complement: boundary accounts (external, system)
// go negative so that every asset sums to zero.
type BalanceTracker struct {
	balances map[AccountKey]*uint256.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*uint256.Int),
	}
}

func (bt *BalanceTracker) account(key AccountKey) *uint256.Int {
	b, ok := bt.balances[key]
	if !ok {
		b = new(uint256.Int)
		bt.balances[key] = b
	}
	return b
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	debit := bt.account(j.DebitAccount)
	debit.Add(debit, j.Amount)

	credit := bt.account(j.CreditAccount)
	credit.Sub(credit, j.Amount)
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns a copy of the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *uint256.Int {
	if b, ok := bt.balances[key]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

// SetBalance directly sets a balance (used for snapshot restore)
func (bt *BalanceTracker) SetBalance(key AccountKey, balance *uint256.Int) {
	bt.balances[key] = new(uint256.Int).Set(balance)
}

// === User Balance Queries ===

// GetUserWalletBalance returns the spendable stake-token balance
func (bt *BalanceTracker) GetUserWalletBalance(userID uuid.UUID) *uint256.Int {
	return bt.GetBalance(NewUserAccountKey(userID, SubTypeWallet, StakeAssetID))
}

// GetUserStakedBalance returns the stake-token balance locked in staking
func (bt *BalanceTracker) GetUserStakedBalance(userID uuid.UUID) *uint256.Int {
	return bt.GetBalance(NewUserAccountKey(userID, SubTypeStaked, StakeAssetID))
}

// GetUserRewardBalance returns realized (minted) reward tokens
func (bt *BalanceTracker) GetUserRewardBalance(userID uuid.UUID) *uint256.Int {
	return bt.GetBalance(NewUserAccountKey(userID, SubTypeReward, RewardAssetID))
}

// === Invariant Checks ===

// ValidateSufficientWallet checks the wallet can cover a stake deposit
func (bt *BalanceTracker) ValidateSufficientWallet(userID uuid.UUID, required *uint256.Int) error {
	available := bt.GetUserWalletBalance(userID)
	if available.Sign() < 0 || available.Lt(required) {
		return fmt.Errorf("%w: have=%s, need=%s",
			ErrInsufficientWalletBalance, available.Dec(), required.Dec())
	}
	return nil
}

// ValidateBatchRange checks that applying batch keeps every touched balance
// inside the signed range: debited accounts must not wrap past 2^255-1 and
// credited accounts must not wrap past -2^255.
func (bt *BalanceTracker) ValidateBatchRange(batch *Batch) error {
	after := make(map[AccountKey]*uint256.Int, 2*len(batch.Journals))
	balance := func(key AccountKey) *uint256.Int {
		if b, ok := after[key]; ok {
			return b
		}
		b := bt.GetBalance(key)
		after[key] = b
		return b
	}

	for _, j := range batch.Journals {
		if j.Amount == nil || j.Amount.Sign() < 0 {
			return fmt.Errorf("%w: journal %s", ErrAmountOutOfRange, j.JournalID)
		}

		debit := balance(j.DebitAccount)
		wasNonNegative := debit.Sign() >= 0
		debit.Add(debit, j.Amount)
		if wasNonNegative && debit.Sign() < 0 {
			return fmt.Errorf("%w: %s would exceed 2^255-1", ErrAmountOutOfRange, j.DebitAccount.AccountPath())
		}

		credit := balance(j.CreditAccount)
		wasNegative := credit.Sign() < 0
		credit.Sub(credit, j.Amount)
		if wasNegative && credit.Sign() >= 0 {
			return fmt.Errorf("%w: %s would exceed -2^255", ErrAmountOutOfRange, j.CreditAccount.AccountPath())
		}
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance.Sign() < 0 {
		return fmt.Errorf("account %s has negative balance: -%s",
			key.AccountPath(), new(uint256.Int).Neg(balance).Dec())
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]*uint256.Int {
	totals := make(map[AssetID]*uint256.Int)

	for key, balance := range bt.balances {
		t, ok := totals[key.AssetID]
		if !ok {
			t = new(uint256.Int)
			totals[key.AssetID] = t
		}
		t.Add(t, balance)
	}

	return totals
}

// Snapshot returns a copy of all balances (for snapshots)
func (bt *BalanceTracker) Snapshot() map[AccountKey]*uint256.Int {
	snapshot := make(map[AccountKey]*uint256.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = new(uint256.Int).Set(v)
	}
	return snapshot
}
