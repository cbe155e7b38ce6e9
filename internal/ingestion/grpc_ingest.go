package ingestion

import (
	"context"
	"errors"
	"fmt"

	"StakeLedger/internal/event"
	"StakeLedger/internal/observability"

	"golang.org/x/time/rate"
)

var (
	ErrRateLimited    = errors.New("ingest rate limit exceeded")
	ErrMalformedEvent = errors.New("malformed event")
)

// IngestRequest is an admin-submitted event waiting for the core loop.
// The loop replies on Result exactly once with the ProcessEvent error.
type IngestRequest struct {
	Event  event.Event
	Result chan error
}

// GRPCIngestService provides admin/manual event injection. It is for
// operators and tests, not for high-throughput ingestion (use NATS for that).
// Submissions are rate limited and wait for the core's verdict.
type GRPCIngestService struct {
	requests chan<- IngestRequest
	limiter  *rate.Limiter
	metrics  *observability.Metrics
}

// NewGRPCIngestService limits submissions to perSecond with the given burst.
// perSecond <= 0 disables limiting.
func NewGRPCIngestService(requests chan<- IngestRequest, perSecond float64, burst int, metrics *observability.Metrics) *GRPCIngestService {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &GRPCIngestService{
		requests: requests,
		limiter:  rate.NewLimiter(limit, burst),
		metrics:  metrics,
	}
}

// Submit decodes a wire payload and hands it to the core. The returned error
// is the core's result: nil when applied or a duplicate, an error wrapping
// core.ErrEventRejected for domain rejections, or a sequence error.
func (s *GRPCIngestService) Submit(ctx context.Context, eventType string, payload []byte) error {
	if !s.limiter.Allow() {
		if s.metrics != nil {
			s.metrics.IngestRateLimited.Inc()
		}
		return ErrRateLimited
	}

	evt, err := event.Decode(eventType, payload)
	if err != nil {
		s.record("parse_error")
		return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	return s.SubmitEvent(ctx, evt)
}

// SubmitEvent hands an already typed event to the core and waits for the result.
func (s *GRPCIngestService) SubmitEvent(ctx context.Context, evt event.Event) error {
	req := IngestRequest{Event: evt, Result: make(chan error, 1)}

	select {
	case s.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.Result:
		if err != nil {
			s.record("error")
		} else {
			s.record("ok")
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *GRPCIngestService) record(result string) {
	if s.metrics != nil {
		s.metrics.IngestMessages.WithLabelValues("grpc", result).Inc()
	}
}
