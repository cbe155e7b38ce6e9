package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"StakeLedger/internal/core"
	"StakeLedger/internal/event"
	"StakeLedger/internal/ingestion"
	"StakeLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseWalletFunded(t *testing.T) {
	payload := map[string]interface{}{
		"funding_id": "550e8400-e29b-41d4-a716-446655440000",
		"user_id":    "660e8400-e29b-41d4-a716-446655440001",
		"amount":     "100000000000000000000",
		"sequence":   int64(7),
		"timestamp":  int64(1700000000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "WalletFunded")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	wf, ok := evt.(*event.WalletFunded)
	if !ok {
		t.Fatalf("expected *event.WalletFunded, got %T", evt)
	}
	if wf.Amount.Dec() != "100000000000000000000" {
		t.Errorf("amount: got %s", wf.Amount.Dec())
	}
	if wf.Sequence != 7 {
		t.Errorf("sequence: got %d, want 7", wf.Sequence)
	}
	if wf.Partition() != event.PartitionCustody {
		t.Errorf("partition: got %s, want custody", wf.Partition())
	}
	if wf.Timestamp.Unix() != 1700000000 {
		t.Errorf("timestamp: got %d", wf.Timestamp.Unix())
	}
}

func TestParseStakeDeposit(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "550e8400-e29b-41d4-a716-446655440000",
		"user_id":    "660e8400-e29b-41d4-a716-446655440001",
		"amount":     "50000000000000000000",
		"sequence":   int64(3),
		"timestamp":  int64(1700000000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "StakeDepositRequested")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	sd, ok := evt.(*event.StakeDepositRequested)
	if !ok {
		t.Fatalf("expected *event.StakeDepositRequested, got %T", evt)
	}
	if sd.EventType() != event.EventTypeStakeDepositRequested {
		t.Errorf("event type: got %v", sd.EventType())
	}
	if sd.Partition() != event.PartitionStaking {
		t.Errorf("partition: got %s, want staking", sd.Partition())
	}
	if ingestion.UserOf(sd).String() != "660e8400-e29b-41d4-a716-446655440001" {
		t.Errorf("user: got %s", ingestion.UserOf(sd))
	}
}

func TestParseStakeWithdraw(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "550e8400-e29b-41d4-a716-446655440000",
		"user_id":    "660e8400-e29b-41d4-a716-446655440001",
		"amount":     "1",
		"sequence":   int64(0),
		"timestamp":  int64(1700000000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "StakeWithdrawRequested")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, ok := evt.(*event.StakeWithdrawRequested); !ok {
		t.Fatalf("expected *event.StakeWithdrawRequested, got %T", evt)
	}
}

func TestParseUnknownEventType_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{}`)}
	_, err := ingestion.ParseRawEvent(raw, "NonExistentType")
	if !errors.Is(err, event.ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{invalid json`)}
	if _, err := ingestion.ParseRawEvent(raw, "WalletFunded"); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseNegativeAmount_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "550e8400-e29b-41d4-a716-446655440000",
		"user_id":    "660e8400-e29b-41d4-a716-446655440001",
		"amount":     "-5",
		"sequence":   int64(0),
		"timestamp":  int64(1700000000),
	}
	if _, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "StakeDepositRequested"); err == nil {
		t.Fatal("expected error for negative amount")
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "not-a-uuid",
		"user_id":    "also-not-a-uuid",
		"amount":     "1",
		"sequence":   int64(0),
		"timestamp":  int64(0),
	}
	if _, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "StakeDepositRequested"); err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}

func TestEventTypeForSubject(t *testing.T) {
	subjects := ingestion.DefaultSubjects()

	cases := map[string]string{
		"stake.wallet.funded.eu":   "WalletFunded",
		"stake.deposits.user.42":   "StakeDepositRequested",
		"stake.withdrawals.batch1": "StakeWithdrawRequested",
	}
	for subject, want := range cases {
		got, ok := ingestion.EventTypeForSubject(subject, subjects)
		if !ok || got != want {
			t.Errorf("%s: got (%s, %v), want %s", subject, got, ok, want)
		}
	}

	if _, ok := ingestion.EventTypeForSubject("stake.ledger.events.WalletFunded", subjects); ok {
		t.Error("outbound subject must not map to an inbound event type")
	}
}

func TestRawEvent_NilCallbacksAreSafe(t *testing.T) {
	var raw ingestion.RawEvent
	raw.Ack()
	raw.Nak()
	raw.Term()
}

func TestPublishableEvent_Subjects(t *testing.T) {
	env := &event.EventEnvelope{
		Sequence:       12,
		IdempotencyKey: "stake-deposit-abc",
		EventType:      event.EventTypeStakeDepositRequested,
		Timestamp:      time.Unix(1700000000, 0),
		Payload:        []byte(`{"amount":"1"}`),
	}

	applied := ingestion.NewPublishableEvent(core.CoreOutput{
		Envelope: env,
		Batch:    &ledger.Batch{},
		Minted:   uint256.NewInt(42),
	}, "u1")
	if applied.Subject() != "stake.ledger.events.StakeDepositRequested" {
		t.Errorf("applied subject: %s", applied.Subject())
	}
	if applied.Minted != "42" || applied.Reason != "" {
		t.Errorf("applied: %+v", applied)
	}

	rejected := ingestion.NewPublishableEvent(core.CoreOutput{
		Envelope:  env,
		Rejection: "minimum stake duration not elapsed",
		Reason:    "min_stake_duration",
	}, "u1")
	if rejected.Subject() != "stake.ledger.rejections.StakeDepositRequested" {
		t.Errorf("rejection subject: %s", rejected.Subject())
	}
	if rejected.Minted != "0" || rejected.Reason != "min_stake_duration" {
		t.Errorf("rejected: %+v", rejected)
	}

	data, err := json.Marshal(rejected)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["payload"].(map[string]interface{})["amount"] != "1" {
		t.Errorf("payload should be embedded as JSON: %s", data)
	}
}

func TestGRPCIngest_SubmitWaitsForResult(t *testing.T) {
	requests := make(chan ingestion.IngestRequest, 1)
	svc := ingestion.NewGRPCIngestService(requests, 0, 1, nil)

	go func() {
		req := <-requests
		if _, ok := req.Event.(*event.WalletFunded); !ok {
			req.Result <- errors.New("unexpected event")
			return
		}
		req.Result <- nil
	}()

	payload, err := event.Encode(&event.WalletFunded{
		FundingID: uuid.New(),
		UserID:    uuid.New(),
		Amount:    uint256.NewInt(10),
		Timestamp: time.Unix(1700000000, 0),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Submit(ctx, "WalletFunded", payload); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestGRPCIngest_RateLimited(t *testing.T) {
	requests := make(chan ingestion.IngestRequest, 4)
	svc := ingestion.NewGRPCIngestService(requests, 0.001, 1, nil)

	// First call consumes the burst token and fails on decode
	if err := svc.Submit(context.Background(), "WalletFunded", []byte(`{`)); err == nil || errors.Is(err, ingestion.ErrRateLimited) {
		t.Fatalf("first call: want decode error, got %v", err)
	}
	if err := svc.Submit(context.Background(), "WalletFunded", []byte(`{`)); !errors.Is(err, ingestion.ErrRateLimited) {
		t.Fatalf("second call: want ErrRateLimited, got %v", err)
	}
}
