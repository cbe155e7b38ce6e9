package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"StakeLedger/internal/core"
	"StakeLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	outboundStream     = "STAKE_LEDGER_EVENTS"
	eventsSubjectRoot  = "stake.ledger.events"
	rejectSubjectRoot  = "stake.ledger.rejections"
	outboundSubjectAll = "stake.ledger.>"
)

// OutboundPublisher publishes processed events to NATS for downstream consumers.
// Applied events go to stake.ledger.events.{event_type}; rejection notices go
// to stake.ledger.rejections.{event_type} so upstream producers can react.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	logger    zerolog.Logger
}

// PublishableEvent is a processed event ready for outbound publishing.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	UserID         string          `json:"user_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	Minted         string          `json:"minted"`
	Rejection      string          `json:"rejection,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// NewPublishableEvent converts a core output.
func NewPublishableEvent(out core.CoreOutput, userID string) PublishableEvent {
	pe := PublishableEvent{
		Sequence:       out.Envelope.Sequence,
		EventType:      out.Envelope.EventType.String(),
		IdempotencyKey: out.Envelope.IdempotencyKey,
		UserID:         userID,
		Payload:        json.RawMessage(out.Envelope.Payload),
		StateHash:      hex.EncodeToString(out.Envelope.StateHash[:]),
		Minted:         "0",
		Rejection:      out.Rejection,
		Reason:         out.Reason,
		Timestamp:      out.Envelope.Timestamp.UTC(),
	}
	if out.Minted != nil {
		pe.Minted = out.Minted.Dec()
	}
	return pe
}

// Subject returns the outbound subject for the event.
func (pe PublishableEvent) Subject() string {
	if pe.Rejection != "" {
		return fmt.Sprintf("%s.%s", rejectSubjectRoot, pe.EventType)
	}
	return fmt.Sprintf("%s.%s", eventsSubjectRoot, pe.EventType)
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    observability.NewLogger("publisher"),
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: downstream consumers can query the event log directly
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Dedup window on the stream uses the message ID
	_, err = op.js.Publish(ctx, evt.Subject(), data,
		jetstream.WithMsgID(fmt.Sprintf("seq-%d", evt.Sequence)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       outboundStream,
		Subjects:   []string{outboundSubjectAll},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger := observability.NewLogger("publisher")
	logger.Info().Str("stream", outboundStream).Msg("ensured outbound stream")
	return nil
}
