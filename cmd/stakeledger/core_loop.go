package main

import (
	"context"
	"errors"
	"time"

	"StakeLedger/internal/core"
	"StakeLedger/internal/event"
	"StakeLedger/internal/ingestion"
	"StakeLedger/internal/observability"
	"StakeLedger/internal/persistence"
	"StakeLedger/internal/projection"

	"github.com/rs/zerolog"
)

// coreLoop is the only goroutine that touches the deterministic core. NATS
// events, admin submissions and snapshot captures are serialized through it.
type coreLoop struct {
	core      *core.DeterministicCore
	raw       <-chan ingestion.RawEvent
	ingest    <-chan ingestion.IngestRequest
	snapshots chan snapshotRequest
	snapOut   chan<- snapshotJob
	subjects  []ingestion.SubjectConfig

	snapshotEvery int64
	checkInterval time.Duration
	lastSnapshot  int64

	metrics *observability.Metrics
	logger  zerolog.Logger
}

// snapshotRequest asks the core loop for an on-demand snapshot.
type snapshotRequest struct {
	reply chan snapshotReply
}

type snapshotReply struct {
	sequence int64
	err      error
}

func (l *coreLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw := <-l.raw:
			l.handleRaw(raw)

		case req := <-l.ingest:
			req.Result <- l.core.ProcessEvent(req.Event)

		case req := <-l.snapshots:
			seq, err := l.capture(ctx, req.reply)
			if err != nil {
				req.reply <- snapshotReply{sequence: seq, err: err}
			}

		case <-ticker.C:
			l.core.PublishGauges()
			if l.metrics != nil {
				l.metrics.SetChannelMetrics("inbound", len(l.raw), cap(l.raw))
			}
			if seq := l.core.GetSequence(); seq > 0 && seq-l.lastSnapshot >= l.snapshotEvery {
				if _, err := l.capture(ctx, nil); err != nil {
					l.logger.Warn().Err(err).Msg("periodic snapshot skipped")
				}
			}
		}
	}
}

// handleRaw parses and processes one NATS message, then settles it.
// Applied events, duplicates and domain rejections are acked; a sequence gap
// is nacked for redelivery; poison messages are terminated.
func (l *coreLoop) handleRaw(raw ingestion.RawEvent) {
	eventType := raw.EventType
	if eventType == "" {
		var ok bool
		if eventType, ok = ingestion.EventTypeForSubject(raw.Subject, l.subjects); !ok {
			l.logger.Warn().Str("subject", raw.Subject).Msg("unknown subject")
			l.record("unknown_subject")
			raw.Term()
			return
		}
	}

	evt, err := ingestion.ParseRawEvent(raw, eventType)
	if err != nil {
		l.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse event failed")
		l.record("parse_error")
		raw.Term()
		return
	}

	err = l.core.ProcessEvent(evt)
	switch {
	case err == nil:
		l.record("ok")
		raw.Ack()
	case errors.Is(err, core.ErrEventRejected):
		l.logger.Info().Str("type", eventType).Str("key", evt.IdempotencyKey()).Str("reason", core.RejectionReason(err)).Msg("event rejected")
		l.record("rejected")
		raw.Ack()
	case errors.Is(err, core.ErrSequenceGap):
		l.logger.Warn().Err(err).Str("key", evt.IdempotencyKey()).Msg("sequence gap, awaiting redelivery")
		l.record("sequence_gap")
		raw.Nak()
	case errors.Is(err, core.ErrOutOfOrder):
		l.logger.Warn().Err(err).Str("key", evt.IdempotencyKey()).Msg("out-of-order event dropped")
		l.record("out_of_order")
		raw.Term()
	default:
		l.logger.Error().Err(err).Str("type", eventType).Str("key", evt.IdempotencyKey()).Msg("core.ProcessEvent failed")
		l.record("error")
		raw.Nak()
	}
}

// capture snapshots core state and hands it to the snapshot writer. reply,
// when set, is answered by the writer once the snapshot is saved.
func (l *coreLoop) capture(ctx context.Context, reply chan snapshotReply) (int64, error) {
	if l.core.GetSequence() == 0 {
		return -1, errNothingToSnapshot
	}

	data := persistence.SnapshotFromCore(l.core.CreateSnapshotState(), time.Now())
	select {
	case l.snapOut <- snapshotJob{data: data, reply: reply}:
		l.lastSnapshot = l.core.GetSequence()
		return data.Sequence, nil
	case <-ctx.Done():
		return data.Sequence, ctx.Err()
	}
}

func (l *coreLoop) record(result string) {
	if l.metrics != nil {
		l.metrics.IngestMessages.WithLabelValues("nats", result).Inc()
	}
}

// bridgeCoreOutputs converts core outputs for the persistence worker, the
// projection worker and the outbound publisher. Persistence blocks; the
// projection and publish channels drop when full.
func bridgeCoreOutputs(
	ctx context.Context,
	persistIn <-chan core.CoreOutput,
	projectionIn <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
	projectionOut chan<- projection.ProjectionOutput,
	publishOut chan<- ingestion.PublishableEvent,
	metrics *observability.Metrics,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output := <-persistIn:
			select {
			case persistOut <- persistence.NewCoreOutput(output.Envelope, output.Batch, output.Rejection):
			case <-ctx.Done():
				return ctx.Err()
			}

			select {
			case publishOut <- ingestion.NewPublishableEvent(output, userOf(output)):
			default:
				if metrics != nil {
					metrics.PublishDrops.Inc()
				}
			}

			if metrics != nil {
				metrics.SetChannelMetrics("persist", len(persistIn), cap(persistIn))
			}

		case output := <-projectionIn:
			select {
			case projectionOut <- projection.NewProjectionOutput(output.Envelope, output.Batch, output.Position, output.Minted):
			default:
				// Projection will catch up via rebuild
				if metrics != nil {
					metrics.ProjectionDrops.WithLabelValues("bridge").Inc()
				}
			}
		}
	}
}

func userOf(output core.CoreOutput) string {
	if output.Position != nil {
		return output.Position.UserID.String()
	}
	evt, err := event.Decode(output.Envelope.EventType.String(), output.Envelope.Payload)
	if err != nil {
		return ""
	}
	return ingestion.UserOf(evt).String()
}
