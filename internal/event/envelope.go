package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeWalletFunded
	EventTypeStakeDepositRequested
	EventTypeStakeWithdrawRequested
)

// Sequence partitions. Custody events and staking events come from
// different upstream producers, each with its own source sequence.
const (
	PartitionCustody = "custody"
	PartitionStaking = "staking"
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Source sequence partition
	Partition string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// Wire-encoded event data, decodable with Decode
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Partition returns the source sequence partition
	Partition() string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// EventTime returns the authoritative timestamp carried by the event
	EventTime() time.Time
}

func (et EventType) String() string {
	switch et {
	case EventTypeWalletFunded:
		return "WalletFunded"
	case EventTypeStakeDepositRequested:
		return "StakeDepositRequested"
	case EventTypeStakeWithdrawRequested:
		return "StakeWithdrawRequested"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) EventType {
	switch s {
	case "WalletFunded":
		return EventTypeWalletFunded
	case "StakeDepositRequested":
		return EventTypeStakeDepositRequested
	case "StakeWithdrawRequested":
		return EventTypeStakeWithdrawRequested
	default:
		return EventTypeUnknown
	}
}
