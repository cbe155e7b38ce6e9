// internal/state/position.go
package state

import (
	"encoding/binary"

	fpmath "StakeLedger/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// StakeStatus is derived from the stake balance; it is never stored.
type StakeStatus int32

const (
	StakeStatusUnstaked StakeStatus = iota
	StakeStatusStaked
)

func (s StakeStatus) String() string {
	switch s {
	case StakeStatusUnstaked:
		return "Unstaked"
	case StakeStatusStaked:
		return "Staked"
	default:
		return "Unknown"
	}
}

// StakePosition is one user's staking record.
//
// LastDeposit drives both the withdrawal lock and the rate bonus.
// LastMint is the start of the current unrealized accrual interval.
// Both are authoritative Unix seconds and survive a full withdrawal.
type StakePosition struct {
	UserID       uuid.UUID
	StakeBalance *uint256.Int // wad
	LastDeposit  uint64
	LastMint     uint64
	TotalMinted  *uint256.Int // wad, cumulative realized reward
	Version      int64
}

// NewStakePosition returns an empty Unstaked position.
func NewStakePosition(userID uuid.UUID) *StakePosition {
	return &StakePosition{
		UserID:       userID,
		StakeBalance: new(uint256.Int),
		TotalMinted:  new(uint256.Int),
	}
}

// Status reports Staked when the balance is non-zero.
func (p *StakePosition) Status() StakeStatus {
	if p.StakeBalance == nil || p.StakeBalance.IsZero() {
		return StakeStatusUnstaked
	}
	return StakeStatusStaked
}

func (p *StakePosition) IsStaked() bool {
	return p.Status() == StakeStatusStaked
}

// Clone returns a deep copy.
func (p *StakePosition) Clone() *StakePosition {
	c := *p
	c.StakeBalance = cloneOrZero(p.StakeBalance)
	c.TotalMinted = cloneOrZero(p.TotalMinted)
	return &c
}

// PendingReward is the reward accrued since LastMint, evaluated at now.
// Unstaked positions have no pending reward.
func (p *StakePosition) PendingReward(now uint64) (*uint256.Int, error) {
	if !p.IsStaked() {
		return new(uint256.Int), nil
	}
	return fpmath.CalculateTokenGeneration(p.StakeBalance, p.LastDeposit, p.LastMint, now)
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *StakePosition) CanonicalBytes() []byte {
	buf := make([]byte, 0, 16+32+8+8+32+8)

	buf = append(buf, p.UserID[:]...)

	balance := cloneOrZero(p.StakeBalance).Bytes32()
	buf = append(buf, balance[:]...)

	buf = binary.LittleEndian.AppendUint64(buf, p.LastDeposit)
	buf = binary.LittleEndian.AppendUint64(buf, p.LastMint)

	minted := cloneOrZero(p.TotalMinted).Bytes32()
	buf = append(buf, minted[:]...)

	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Version))

	return buf
}

func cloneOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
