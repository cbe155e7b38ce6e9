package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"StakeLedger/internal/core"
	"StakeLedger/internal/observability"
	"StakeLedger/internal/persistence"
)

const rebuildPageSize = 1000

// RebuildProjections truncates every projection table and rebuilds it by
// replaying the event log through a fresh core. Stake positions and reward
// history are not derivable from journals alone, so the replay recomputes
// them and verifies the hash chain on the way. Run it before the live
// projection worker starts.
func RebuildProjections(ctx context.Context, db *sql.DB, metrics *observability.Metrics) (int64, error) {
	logger := observability.NewLogger("projection-rebuild")
	start := time.Now()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.stake_positions`,
		`TRUNCATE projections.reward_history`,
		`DELETE FROM projections.watermark WHERE projection_name = 'main'`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("truncate failed: %w", err)
		}
	}

	loader := persistence.NewSnapshotManager(db)
	replayer := core.NewDeterministicCore(0, nil, nil, nil, 1, nil)

	var total int64
	lastSeq := int64(-1)
	for from := int64(0); ; {
		rows, err := loader.LoadEventsFrom(ctx, from, rebuildPageSize)
		if err != nil {
			return total, fmt.Errorf("load events from seq %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			env, err := row.Envelope()
			if err != nil {
				return total, err
			}
			out, err := replayer.ReplayEvent(env)
			if err != nil {
				return total, err
			}
			if err := applyOutput(ctx, tx, NewProjectionOutput(out.Envelope, out.Batch, out.Position, out.Minted)); err != nil {
				return total, fmt.Errorf("seq %d: %w", row.Sequence, err)
			}
			lastSeq = row.Sequence
			total++
		}

		from = rows[len(rows)-1].Sequence + 1
	}

	if lastSeq >= 0 {
		if err := updateWatermark(ctx, tx, lastSeq); err != nil {
			return total, err
		}
	}

	if err := tx.Commit(); err != nil {
		return total, err
	}

	if metrics != nil {
		metrics.ProjectionRebuildDur.Set(time.Since(start).Seconds())
		metrics.ProjectionLastSeq.Set(float64(lastSeq))
	}
	logger.Info().Int64("events", total).Dur("took", time.Since(start)).Msg("projection rebuild complete")
	return total, nil
}
