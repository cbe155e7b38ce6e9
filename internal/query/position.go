package query

import (
	fpmath "StakeLedger/internal/math"
	"StakeLedger/internal/state"

	"github.com/holiman/uint256"
)

// ProjectPosition evaluates a stored position at now. rewardBalance is the
// realized reward account balance; it is added to the pending reward so
// that RewardBalance reads as if every accrual had been minted.
func ProjectPosition(pos *state.StakePosition, rewardBalance *uint256.Int, now uint64) (*StakePositionResponse, error) {
	if rewardBalance == nil {
		rewardBalance = new(uint256.Int)
	}

	pending, err := pos.PendingReward(now)
	if err != nil {
		return nil, err
	}

	reward, overflow := new(uint256.Int).AddOverflow(rewardBalance, pending)
	if overflow {
		return nil, fpmath.ErrOverflow
	}
	full, overflow := new(uint256.Int).AddOverflow(reward, pos.StakeBalance)
	if overflow {
		return nil, fpmath.ErrOverflow
	}

	rate, err := RateAt(pos, now)
	if err != nil {
		return nil, err
	}

	lockedUntil := pos.LastDeposit + fpmath.MinStakeDuration
	return &StakePositionResponse{
		UserID:        pos.UserID,
		Status:        pos.Status().String(),
		StakeBalance:  pos.StakeBalance.Dec(),
		LastDeposit:   pos.LastDeposit,
		LastMint:      pos.LastMint,
		TotalMinted:   pos.TotalMinted.Dec(),
		Version:       pos.Version,
		PendingReward: pending.Dec(),
		RewardBalance: reward.Dec(),
		FullBalance:   full.Dec(),
		RateWad:       rate.RateWad,
		RatePercent:   rate.RatePercent,
		LockedUntil:   lockedUntil,
		Withdrawable:  pos.IsStaked() && now >= lockedUntil,
		Now:           now,
	}, nil
}

// RateAt returns the generation rate of pos at now. An Unstaked position
// generates nothing, so its rate is zero whatever its LastDeposit history.
func RateAt(pos *state.StakePosition, now uint64) (*RateResponse, error) {
	raw := new(uint256.Int)
	if pos.IsStaked() {
		var err error
		if raw, err = fpmath.RawGenerationRate(pos.LastDeposit, now); err != nil {
			return nil, err
		}
	}
	return &RateResponse{
		UserID:      pos.UserID,
		LastDeposit: pos.LastDeposit,
		Now:         now,
		RawRate:     raw.Dec(),
		RateWad:     fpmath.GenerationRateWad(raw).Dec(),
		RatePercent: fpmath.GenerationRatePercent(raw),
	}, nil
}
