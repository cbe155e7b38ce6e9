package query

import "github.com/google/uuid"

// Amounts are decimal strings in wad (18 decimals). Timestamps are Unix seconds.

// BalanceResponse is a user's ledger balances.
type BalanceResponse struct {
	UserID       uuid.UUID `json:"user_id"`
	Wallet       string    `json:"wallet"`        // ECO available to stake
	Staked       string    `json:"staked"`        // ECO locked in the position
	Reward       string    `json:"reward"`        // SPRT realized so far
	AsOfSequence int64     `json:"as_of_sequence"` // projection watermark
}

// StakePositionResponse is a stake position projected to Now. The derived
// fields are computed at query time and are not ledger balances.
type StakePositionResponse struct {
	UserID       uuid.UUID `json:"user_id"`
	Status       string    `json:"status"`
	StakeBalance string    `json:"stake_balance"`
	LastDeposit  uint64    `json:"last_deposit"`
	LastMint     uint64    `json:"last_mint"`
	TotalMinted  string    `json:"total_minted"`
	Version      int64     `json:"version"`

	// Derived at Now
	PendingReward string  `json:"pending_reward"`
	RewardBalance string  `json:"reward_balance"` // realized reward + pending
	FullBalance   string  `json:"full_balance"`   // reward balance + stake balance
	RateWad       string  `json:"rate_wad"`
	RatePercent   float64 `json:"rate_percent"`
	LockedUntil   uint64  `json:"locked_until"`
	Withdrawable  bool    `json:"withdrawable"`
	Now           uint64  `json:"now"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// ExtrapolationInfo is everything a display client needs to project rewards
// locally: the stored accrual inputs and the authoritative time they were read.
type ExtrapolationInfo struct {
	UserID       uuid.UUID `json:"user_id"`
	StakeBalance string    `json:"stake_balance"`
	LastDeposit  uint64    `json:"last_deposit"`
	LastMint     uint64    `json:"last_mint"`
	Now          uint64    `json:"now"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// RateResponse is the generation rate for a position at Now.
type RateResponse struct {
	UserID      uuid.UUID `json:"user_id"`
	LastDeposit uint64    `json:"last_deposit"`
	Now         uint64    `json:"now"`
	RawRate     string    `json:"raw_rate"` // ray
	RateWad     string    `json:"rate_wad"`
	RatePercent float64   `json:"rate_percent"`
}

// RewardHistoryResponse is one realized reward.
type RewardHistoryResponse struct {
	Sequence          int64     `json:"sequence"`
	UserID            uuid.UUID `json:"user_id"`
	EventType         string    `json:"event_type"`
	Minted            string    `json:"minted"`
	StakeBalanceAfter string    `json:"stake_balance_after"`
	Timestamp         int64     `json:"timestamp"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        string `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	GenesisMismatch  bool              `json:"genesis_mismatch,omitempty"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	LastSequence     int64             `json:"last_sequence"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	Asset     string `json:"asset"`
	Imbalance string `json:"imbalance"`
}
