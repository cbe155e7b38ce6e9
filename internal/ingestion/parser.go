package ingestion

import (
	"fmt"
	"strings"

	"StakeLedger/internal/event"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent into a typed event.Event. eventType comes
// from the subject mapping; payloads use the same wire JSON as the event log.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	evt, err := event.Decode(eventType, raw.Data)
	if err != nil {
		return nil, fmt.Errorf("parse %s from %s: %w", eventType, raw.Subject, err)
	}
	return evt, nil
}

// EventTypeForSubject resolves a concrete subject against wildcard patterns
// of the form "a.b.>".
func EventTypeForSubject(subject string, subjects []SubjectConfig) (string, bool) {
	for _, cfg := range subjects {
		prefix := strings.TrimSuffix(cfg.Subject, ">")
		if prefix != cfg.Subject && strings.HasPrefix(subject, prefix) {
			return cfg.EventType, true
		}
		if subject == cfg.Subject {
			return cfg.EventType, true
		}
	}
	return "", false
}

// UserOf returns the user an event belongs to.
func UserOf(evt event.Event) uuid.UUID {
	switch e := evt.(type) {
	case *event.WalletFunded:
		return e.UserID
	case *event.StakeDepositRequested:
		return e.UserID
	case *event.StakeWithdrawRequested:
		return e.UserID
	default:
		return uuid.Nil
	}
}
