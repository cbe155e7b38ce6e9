package extrapolation

import (
	"context"
	"fmt"
	"time"

	"StakeLedger/internal/observability"
	"StakeLedger/internal/query"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

const DefaultPollInterval = time.Second

// SnapshotSource reads the extrapolation inputs of a user from the ledger.
type SnapshotSource interface {
	GetExtrapolationInfo(ctx context.Context, userID string) (*query.ExtrapolationInfo, error)
}

// Poller refreshes a Tracker from a SnapshotSource on a fixed interval and
// reports a projection after every tick. A failed fetch keeps the previous
// snapshot so the display keeps extrapolating.
type Poller struct {
	source   SnapshotSource
	tracker  *Tracker
	userID   string
	interval time.Duration
	clock    func() time.Time
	onUpdate func(Projection)
	logger   zerolog.Logger
}

func NewPoller(source SnapshotSource, tracker *Tracker, userID string, interval time.Duration, onUpdate func(Projection)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		source:   source,
		tracker:  tracker,
		userID:   userID,
		interval: interval,
		clock:    time.Now,
		onUpdate: onUpdate,
		logger:   observability.NewLogger("stakewatch"),
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if err := p.Poll(ctx); err != nil {
		p.logger.Warn().Err(err).Str("user_id", p.userID).Msg("refresh failed, extrapolating from last snapshot")
	}
	if p.onUpdate != nil {
		p.onUpdate(p.tracker.Project(unixSeconds(p.clock())))
	}
}

// Poll fetches one snapshot and refreshes the tracker.
func (p *Poller) Poll(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	info, err := p.source.GetExtrapolationInfo(fetchCtx, p.userID)
	if err != nil {
		return err
	}
	localNow := unixSeconds(p.clock())

	snap, err := SnapshotFromInfo(info)
	if err != nil {
		return err
	}
	p.tracker.Refresh(snap, info.Now, localNow)
	return nil
}

// SnapshotFromInfo converts the query response into a Snapshot.
func SnapshotFromInfo(info *query.ExtrapolationInfo) (Snapshot, error) {
	stake, err := uint256.FromDecimal(info.StakeBalance)
	if err != nil {
		return Snapshot{}, fmt.Errorf("stake balance %q: %w", info.StakeBalance, err)
	}
	return Snapshot{
		StakeBalance: stake,
		LastDeposit:  info.LastDeposit,
		LastMint:     info.LastMint,
	}, nil
}

func unixSeconds(t time.Time) uint64 {
	s := t.Unix()
	if s < 0 {
		return 0
	}
	return uint64(s)
}
