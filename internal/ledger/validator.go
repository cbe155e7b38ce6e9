package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateUserNonNegative checks every user account of userID is >= 0.
// Only boundary accounts may hold a negative balance.
func (v *InvariantValidator) ValidateUserNonNegative(userID uuid.UUID) error {
	keys := []AccountKey{
		NewUserAccountKey(userID, SubTypeWallet, StakeAssetID),
		NewUserAccountKey(userID, SubTypeStaked, StakeAssetID),
		NewUserAccountKey(userID, SubTypeReward, RewardAssetID),
	}
	for _, key := range keys {
		if err := v.tracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}
	return nil
}

// ValidateStakedMatches checks the ledger staked account equals the position
// stake balance kept by the state machine.
func (v *InvariantValidator) ValidateStakedMatches(userID uuid.UUID, positionBalance *uint256.Int) error {
	staked := v.tracker.GetUserStakedBalance(userID)
	if !staked.Eq(positionBalance) {
		return fmt.Errorf("staked account for %s is %s, position holds %s",
			userID, staked.Dec(), positionBalance.Dec())
	}
	return nil
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if !total.IsZero() {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %s", assetName, total.Dec())
		}
	}

	return nil
}
