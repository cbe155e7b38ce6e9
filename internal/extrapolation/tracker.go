// Package extrapolation projects unrealized staking rewards on the client
// side between authoritative snapshots.
package extrapolation

import (
	"sync"

	fpmath "StakeLedger/internal/math"

	"github.com/holiman/uint256"
)

const (
	// Offsets shown next to the current reward.
	Offset90Days  = 90 * fpmath.SecondsPerDay
	Offset10Years = 10 * fpmath.SecondsPerYear
)

// Snapshot holds the accrual inputs of one position as last read from the ledger.
type Snapshot struct {
	StakeBalance *uint256.Int
	LastDeposit  uint64
	LastMint     uint64
}

// Projection is the pending reward evaluated at the corrected local time.
// Amounts are wad; all fields are zero when nothing can accrue.
type Projection struct {
	Now                   uint64
	Current               *uint256.Int
	In90Days              *uint256.Int
	In10Years             *uint256.Int
	GenerationRate        *uint256.Int // wad
	GenerationRatePercent float64
}

// Tracker extrapolates a snapshot forward using the local clock corrected by
// the skew observed at the last refresh. Safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	snapshot Snapshot
	skew     int64 // authoritative - local, seconds
	hasData  bool
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Refresh stores a new snapshot. authoritativeNow is the ledger's time when
// the snapshot was read and localNowAtFetch the local clock at that moment.
func (t *Tracker) Refresh(snap Snapshot, authoritativeNow, localNowAtFetch uint64) {
	if snap.StakeBalance != nil {
		snap.StakeBalance = new(uint256.Int).Set(snap.StakeBalance)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot = snap
	t.skew = int64(authoritativeNow) - int64(localNowAtFetch)
	t.hasData = true
}

// Skew returns the last observed clock skew in seconds.
func (t *Tracker) Skew() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.skew
}

// Project evaluates the snapshot at localNow + skew. It never fails: a
// missing or empty stake, a corrected time before the epoch and engine
// errors all read as zero.
func (t *Tracker) Project(localNow uint64) Projection {
	t.mu.RLock()
	snap, skew, ok := t.snapshot, t.skew, t.hasData
	t.mu.RUnlock()

	now, valid := correct(localNow, skew)
	p := Projection{
		Now:            now,
		Current:        new(uint256.Int),
		In90Days:       new(uint256.Int),
		In10Years:      new(uint256.Int),
		GenerationRate: new(uint256.Int),
	}
	if !ok || !valid || snap.StakeBalance == nil || snap.StakeBalance.IsZero() {
		return p
	}

	p.Current = generated(snap, now)
	p.In90Days = generated(snap, now+Offset90Days)
	p.In10Years = generated(snap, now+Offset10Years)

	if raw, err := fpmath.RawGenerationRate(snap.LastDeposit, now); err == nil {
		p.GenerationRate = fpmath.GenerationRateWad(raw)
		p.GenerationRatePercent = fpmath.GenerationRatePercent(raw)
	}
	return p
}

func correct(localNow uint64, skew int64) (uint64, bool) {
	if skew >= 0 {
		return localNow + uint64(skew), true
	}
	back := uint64(-skew)
	if back > localNow {
		return 0, false
	}
	return localNow - back, true
}

func generated(snap Snapshot, at uint64) *uint256.Int {
	amount, err := fpmath.CalculateTokenGeneration(snap.StakeBalance, snap.LastDeposit, snap.LastMint, at)
	if err != nil {
		return new(uint256.Int)
	}
	return amount
}
