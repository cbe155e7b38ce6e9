package main

import (
	"context"
	"errors"
	"time"

	"StakeLedger/internal/observability"
	"StakeLedger/internal/persistence"

	"github.com/rs/zerolog"
)

var errNothingToSnapshot = errors.New("no events processed yet")

type snapshotJob struct {
	data  *persistence.SnapshotData
	reply chan snapshotReply
}

// snapshotWriter saves captured snapshots and verifies them against the event
// log. A snapshot whose sequence is not persisted yet stays pending and is
// re-verified on every retry tick; only verified snapshots are used for recovery.
type snapshotWriter struct {
	mgr     *persistence.SnapshotManager
	jobs    <-chan snapshotJob
	retry   time.Duration
	pending []*persistence.SnapshotData
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func (w *snapshotWriter) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.retry)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case job := <-w.jobs:
			err := w.save(ctx, job.data)
			if job.reply != nil {
				job.reply <- snapshotReply{sequence: job.data.Sequence, err: err}
			}
			if err != nil {
				w.logger.Warn().Err(err).Int64("sequence", job.data.Sequence).Msg("snapshot save failed")
			}

		case <-ticker.C:
			w.verifyPending(ctx)
		}
	}
}

func (w *snapshotWriter) save(ctx context.Context, snap *persistence.SnapshotData) error {
	start := time.Now()

	size, err := w.mgr.SaveSnapshot(ctx, snap)
	if err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.SnapshotTaken.Inc()
		w.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		w.metrics.SnapshotSizeBytes.Set(float64(size))
		w.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	w.logger.Info().Int64("sequence", snap.Sequence).Int("bytes", size).Msg("snapshot saved")

	w.pending = append(w.pending, snap)
	w.verifyPending(ctx)
	return nil
}

func (w *snapshotWriter) verifyPending(ctx context.Context) {
	remaining := w.pending[:0]
	for _, snap := range w.pending {
		ok, err := w.mgr.VerifySnapshot(ctx, snap)
		if errors.Is(err, persistence.ErrSnapshotMismatch) {
			w.logger.Error().Err(err).Msg("discarding snapshot")
			continue
		}
		if err != nil {
			w.logger.Warn().Err(err).Int64("sequence", snap.Sequence).Msg("snapshot verification failed")
			remaining = append(remaining, snap)
			continue
		}
		if !ok {
			remaining = append(remaining, snap)
			continue
		}
		w.logger.Info().Int64("sequence", snap.Sequence).Msg("snapshot verified")
	}
	w.pending = remaining
}

// snapshotService serves admin snapshot requests through the core loop.
type snapshotService struct {
	requests chan<- snapshotRequest
}

func (s snapshotService) TakeSnapshot(ctx context.Context) (int64, error) {
	req := snapshotRequest{reply: make(chan snapshotReply, 1)}

	select {
	case s.requests <- req:
	case <-ctx.Done():
		return -1, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r.sequence, r.err
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}
