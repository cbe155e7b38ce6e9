package state

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// StakeManager is the keyed store of stake positions owned by the core.
// Not thread-safe; only accessed from the single-threaded deterministic core.
type StakeManager struct {
	positions map[uuid.UUID]*StakePosition
}

func NewStakeManager() *StakeManager {
	return &StakeManager{
		positions: make(map[uuid.UUID]*StakePosition),
	}
}

// GetPosition returns the stored position or nil
func (sm *StakeManager) GetPosition(userID uuid.UUID) *StakePosition {
	return sm.positions[userID]
}

// GetOrEmpty returns the stored position, or a fresh Unstaked position that is
// not yet stored. Transitions are computed on the result and committed with
// Commit once the ledger batch has been applied.
func (sm *StakeManager) GetOrEmpty(userID uuid.UUID) *StakePosition {
	if pos := sm.positions[userID]; pos != nil {
		return pos
	}
	return NewStakePosition(userID)
}

// Commit stores the result of a transition.
func (sm *StakeManager) Commit(pos *StakePosition) {
	sm.positions[pos.UserID] = pos
}

// SetPosition directly sets a position (used for snapshot restore)
func (sm *StakeManager) SetPosition(pos *StakePosition) {
	sm.positions[pos.UserID] = pos
}

// PendingReward returns the unrealized reward for a user at now.
func (sm *StakeManager) PendingReward(userID uuid.UUID, now uint64) (*uint256.Int, error) {
	pos := sm.positions[userID]
	if pos == nil {
		return new(uint256.Int), nil
	}
	return pos.PendingReward(now)
}

// TotalStaked sums stake balances across all positions.
func (sm *StakeManager) TotalStaked() *uint256.Int {
	total := new(uint256.Int)
	for _, pos := range sm.positions {
		total.Add(total, pos.StakeBalance)
	}
	return total
}

// StakedCount returns the number of positions in Staked state.
func (sm *StakeManager) StakedCount() int {
	n := 0
	for _, pos := range sm.positions {
		if pos.IsStaked() {
			n++
		}
	}
	return n
}

// GetAllPositions returns all positions ordered by user ID (for snapshots and hashing)
func (sm *StakeManager) GetAllPositions() []*StakePosition {
	result := make([]*StakePosition, 0, len(sm.positions))
	for _, pos := range sm.positions {
		result = append(result, pos)
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].UserID[:], result[j].UserID[:]) < 0
	})
	return result
}
