package state

import (
	"fmt"

	fpmath "StakeLedger/internal/math"

	"github.com/holiman/uint256"
)

// Deposit returns the position after staking amount at now, together with the
// reward realized on the pre-deposit balance. The input position is not
// modified.
//
// Every deposit restarts the lock and resets the bonus: LastDeposit = now.
// LastMint is also set on an Unstaked position so the unstaked gap never
// accrues.
func Deposit(pos *StakePosition, amount *uint256.Int, now uint64) (*StakePosition, *uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, nil, ErrZeroAmount
	}
	if err := checkMonotonic(pos, now); err != nil {
		return nil, nil, err
	}

	minted, err := pos.PendingReward(now)
	if err != nil {
		return nil, nil, fmt.Errorf("realize reward: %w", err)
	}

	next := pos.Clone()
	if _, overflow := next.StakeBalance.AddOverflow(next.StakeBalance, amount); overflow {
		return nil, nil, fpmath.ErrOverflow
	}
	if _, overflow := next.TotalMinted.AddOverflow(next.TotalMinted, minted); overflow {
		return nil, nil, fpmath.ErrOverflow
	}
	next.LastMint = now
	next.LastDeposit = now
	next.Version++

	return next, minted, nil
}

// Withdraw returns the position after unstaking amount at now, together with
// the reward realized on the pre-withdrawal balance. The input position is
// not modified.
//
// The lock is checked before the amount, so a locked position reports
// ErrMinStakeDurationNotElapsed even for an oversized request. LastDeposit is
// left unchanged; a full withdrawal keeps both timestamps.
func Withdraw(pos *StakePosition, amount *uint256.Int, now uint64) (*StakePosition, *uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, nil, ErrZeroAmount
	}
	if !pos.IsStaked() {
		return nil, nil, fmt.Errorf("%w: position is unstaked", ErrInsufficientStakeBalance)
	}
	if err := checkMonotonic(pos, now); err != nil {
		return nil, nil, err
	}
	if staked := now - pos.LastDeposit; staked < fpmath.MinStakeDuration {
		return nil, nil, fmt.Errorf("%w: staked=%ds, required=%ds",
			ErrMinStakeDurationNotElapsed, staked, fpmath.MinStakeDuration)
	}
	if amount.Gt(pos.StakeBalance) {
		return nil, nil, fmt.Errorf("%w: have=%s, need=%s",
			ErrInsufficientStakeBalance, pos.StakeBalance.Dec(), amount.Dec())
	}

	minted, err := pos.PendingReward(now)
	if err != nil {
		return nil, nil, fmt.Errorf("realize reward: %w", err)
	}

	next := pos.Clone()
	next.StakeBalance.Sub(next.StakeBalance, amount)
	if _, overflow := next.TotalMinted.AddOverflow(next.TotalMinted, minted); overflow {
		return nil, nil, fpmath.ErrOverflow
	}
	next.LastMint = now
	next.Version++

	return next, minted, nil
}

func checkMonotonic(pos *StakePosition, now uint64) error {
	if now < pos.LastMint || now < pos.LastDeposit {
		return fmt.Errorf("%w: now=%d, last_deposit=%d, last_mint=%d",
			ErrTimestampRegression, now, pos.LastDeposit, pos.LastMint)
	}
	return nil
}
