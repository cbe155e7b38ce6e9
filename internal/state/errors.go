package state

import "errors"

var (
	// ErrMinStakeDurationNotElapsed rejects a withdrawal inside the lock period.
	ErrMinStakeDurationNotElapsed = errors.New("minimum stake duration not elapsed")

	// ErrInsufficientStakeBalance rejects a withdrawal larger than the stake,
	// including any withdrawal from an Unstaked position.
	ErrInsufficientStakeBalance = errors.New("insufficient stake balance")

	ErrZeroAmount = errors.New("amount must be positive")

	// ErrTimestampRegression rejects an event older than the position's
	// last recorded deposit or mint.
	ErrTimestampRegression = errors.New("timestamp precedes last position update")
)
