package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var ErrUnknownEventType = errors.New("unknown event type")

// --- JSON wire formats ---
// Shared by NATS ingestion, the admin ingest RPC and the event log payload.
// Amounts are base-10 wad strings; timestamps are Unix seconds.

type walletFundedJSON struct {
	FundingID string `json:"funding_id"`
	UserID    string `json:"user_id"`
	Amount    string `json:"amount"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

type stakeRequestJSON struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	Amount    string `json:"amount"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

// Encode returns the wire JSON for evt.
func Encode(evt Event) ([]byte, error) {
	switch e := evt.(type) {
	case *WalletFunded:
		return json.Marshal(walletFundedJSON{
			FundingID: e.FundingID.String(),
			UserID:    e.UserID.String(),
			Amount:    e.Amount.Dec(),
			Sequence:  e.Sequence,
			Timestamp: e.Timestamp.Unix(),
		})
	case *StakeDepositRequested:
		return json.Marshal(stakeRequestJSON{
			RequestID: e.RequestID.String(),
			UserID:    e.UserID.String(),
			Amount:    e.Amount.Dec(),
			Sequence:  e.Sequence,
			Timestamp: e.Timestamp.Unix(),
		})
	case *StakeWithdrawRequested:
		return json.Marshal(stakeRequestJSON{
			RequestID: e.RequestID.String(),
			UserID:    e.UserID.String(),
			Amount:    e.Amount.Dec(),
			Sequence:  e.Sequence,
			Timestamp: e.Timestamp.Unix(),
		})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEventType, evt)
	}
}

// Decode parses wire JSON into a typed event.
func Decode(eventType string, data []byte) (Event, error) {
	switch ParseEventType(eventType) {
	case EventTypeWalletFunded:
		return decodeWalletFunded(data)
	case EventTypeStakeDepositRequested:
		req, err := decodeStakeRequest(eventType, data)
		if err != nil {
			return nil, err
		}
		return &StakeDepositRequested{
			RequestID: req.id,
			UserID:    req.userID,
			Amount:    req.amount,
			Sequence:  req.sequence,
			Timestamp: req.timestamp,
		}, nil
	case EventTypeStakeWithdrawRequested:
		req, err := decodeStakeRequest(eventType, data)
		if err != nil {
			return nil, err
		}
		return &StakeWithdrawRequested{
			RequestID: req.id,
			UserID:    req.userID,
			Amount:    req.amount,
			Sequence:  req.sequence,
			Timestamp: req.timestamp,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
}

func decodeWalletFunded(data []byte) (*WalletFunded, error) {
	var j walletFundedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse WalletFunded: %w", err)
	}
	fundingID, err := uuid.Parse(j.FundingID)
	if err != nil {
		return nil, fmt.Errorf("parse funding_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	amount, err := parseAmount(j.Amount)
	if err != nil {
		return nil, err
	}
	return &WalletFunded{
		FundingID: fundingID,
		UserID:    userID,
		Amount:    amount,
		Sequence:  j.Sequence,
		Timestamp: time.Unix(j.Timestamp, 0).UTC(),
	}, nil
}

type stakeRequest struct {
	id        uuid.UUID
	userID    uuid.UUID
	amount    *uint256.Int
	sequence  int64
	timestamp time.Time
}

func decodeStakeRequest(eventType string, data []byte) (*stakeRequest, error) {
	var j stakeRequestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse %s: %w", eventType, err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	amount, err := parseAmount(j.Amount)
	if err != nil {
		return nil, err
	}
	if j.Timestamp < 0 {
		return nil, fmt.Errorf("parse timestamp: negative value %d", j.Timestamp)
	}
	return &stakeRequest{
		id:        requestID,
		userID:    userID,
		amount:    amount,
		sequence:  j.Sequence,
		timestamp: time.Unix(j.Timestamp, 0).UTC(),
	}, nil
}

func parseAmount(s string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	// Ledger balances are signed 256-bit; larger amounts cannot be booked
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("parse amount %q: exceeds 2^255-1", s)
	}
	return amount, nil
}
