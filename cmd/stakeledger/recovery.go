package main

import (
	"context"
	"fmt"
	"time"

	"StakeLedger/internal/core"
	"StakeLedger/internal/observability"
	"StakeLedger/internal/persistence"

	"github.com/rs/zerolog"
)

const replayPageSize = 1000

// eventSource is the part of the snapshot manager recovery reads from.
type eventSource interface {
	LoadLatestSnapshot(ctx context.Context) (*persistence.SnapshotData, error)
	LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]persistence.EventRow, error)
}

// recoverCore restores the latest verified snapshot, if any, and replays the
// event log after it. Every replayed event must reproduce its recorded state
// hash; a mismatch aborts startup.
func recoverCore(ctx context.Context, c *core.DeterministicCore, src eventSource, metrics *observability.Metrics, logger zerolog.Logger) (int64, error) {
	start := time.Now()

	snap, err := src.LoadLatestSnapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}

	if snap != nil {
		state, err := snap.ToCore()
		if err != nil {
			return 0, fmt.Errorf("decode snapshot %d: %w", snap.Sequence, err)
		}
		c.RestoreFromSnapshot(state)
		logger.Info().Int64("sequence", snap.Sequence).Int("positions", len(snap.Positions)).Msg("restored snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	var replayed int64
	for from := c.GetSequence(); ; {
		rows, err := src.LoadEventsFrom(ctx, from, replayPageSize)
		if err != nil {
			return replayed, fmt.Errorf("load events from seq %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			env, err := row.Envelope()
			if err != nil {
				return replayed, err
			}
			if _, err := c.ReplayEvent(env); err != nil {
				return replayed, err
			}
			replayed++
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	if metrics != nil {
		metrics.ReplayEventsTotal.Add(float64(replayed))
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
		metrics.CoreSequence.Set(float64(c.GetSequence()))
	}
	return replayed, nil
}
