package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"StakeLedger/internal/core"
	"StakeLedger/internal/ledger"
	"StakeLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ErrInvalidCursor is returned for a negative pagination cursor.
var ErrInvalidCursor = errors.New("invalid cursor")

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// QueryService provides read-only access to projection tables and the event
// log. Responses carry as_of_sequence for freshness. Derived reward values
// are evaluated at the service clock, which stands in for the authoritative
// chain time.
type QueryService struct {
	db  *sql.DB
	now func() time.Time
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db, now: time.Now}
}

// Now returns the authoritative time in Unix seconds.
func (qs *QueryService) Now() uint64 {
	s := qs.now().Unix()
	if s < 0 {
		return 0
	}
	return uint64(s)
}

// GetBalance returns a user's wallet, staked and realized reward balances.
func (qs *QueryService) GetBalance(ctx context.Context, userID uuid.UUID) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	wallet, err := qs.getProjectedBalance(ctx, ledger.NewUserAccountKey(userID, ledger.SubTypeWallet, ledger.StakeAssetID))
	if err != nil {
		return nil, err
	}
	staked, err := qs.getProjectedBalance(ctx, ledger.NewUserAccountKey(userID, ledger.SubTypeStaked, ledger.StakeAssetID))
	if err != nil {
		return nil, err
	}
	reward, err := qs.getProjectedBalance(ctx, ledger.NewUserAccountKey(userID, ledger.SubTypeReward, ledger.RewardAssetID))
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		UserID:       userID,
		Wallet:       wallet.Dec(),
		Staked:       staked.Dec(),
		Reward:       reward.Dec(),
		AsOfSequence: asOfSeq,
	}, nil
}

// GetStakePosition returns the position projected to the current time.
// A user who never staked reads as an empty Unstaked position.
func (qs *QueryService) GetStakePosition(ctx context.Context, userID uuid.UUID) (*StakePositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	pos, err := qs.loadPosition(ctx, userID)
	if err != nil {
		return nil, err
	}

	reward, err := qs.getProjectedBalance(ctx, ledger.NewUserAccountKey(userID, ledger.SubTypeReward, ledger.RewardAssetID))
	if err != nil {
		return nil, err
	}

	resp, err := ProjectPosition(pos, reward, qs.Now())
	if err != nil {
		return nil, fmt.Errorf("project position %s: %w", userID, err)
	}
	resp.AsOfSequence = asOfSeq
	return resp, nil
}

// GetExtrapolationInfo returns the accrual inputs plus the authoritative time.
func (qs *QueryService) GetExtrapolationInfo(ctx context.Context, userID uuid.UUID) (*ExtrapolationInfo, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	pos, err := qs.loadPosition(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &ExtrapolationInfo{
		UserID:       userID,
		StakeBalance: pos.StakeBalance.Dec(),
		LastDeposit:  pos.LastDeposit,
		LastMint:     pos.LastMint,
		Now:          qs.Now(),
		AsOfSequence: asOfSeq,
	}, nil
}

// GetGenerationRate returns the user's current generation rate.
func (qs *QueryService) GetGenerationRate(ctx context.Context, userID uuid.UUID) (*RateResponse, error) {
	pos, err := qs.loadPosition(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp, err := RateAt(pos, qs.Now())
	if err != nil {
		return nil, err
	}
	resp.UserID = userID
	return resp, nil
}

// GetRewardHistory returns realized rewards, newest first. beforeSequence is
// an exclusive cursor.
func (qs *QueryService) GetRewardHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]RewardHistoryResponse, error) {
	if beforeSequence != nil && *beforeSequence < 0 {
		return nil, ErrInvalidCursor
	}

	query := `
		SELECT sequence, event_type, minted::text, stake_balance_after::text, timestamp
		FROM projections.reward_history
		WHERE user_id = $1
	`
	args := []interface{}{userID.String()}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, pageSize(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []RewardHistoryResponse
	for rows.Next() {
		h := RewardHistoryResponse{UserID: userID}
		if err := rows.Scan(&h.Sequence, &h.EventType, &h.Minted, &h.StakeBalanceAfter, &h.Timestamp); err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetJournalHistory returns journal entries touching a user, newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	if beforeSequence != nil && *beforeSequence < 0 {
		return nil, ErrInvalidCursor
	}

	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount::text, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, pageSize(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks that the log starts at genesis, that every
// prev_hash links to its predecessor, and that every asset sums to zero.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{LastSequence: -1}

	var first []byte
	err := qs.db.QueryRowContext(ctx, `
		SELECT prev_hash FROM event_log.events WHERE sequence = 0
	`).Scan(&first)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Empty log
	case err != nil:
		return nil, err
	default:
		genesis := core.GenesisHash()
		report.GenesisMismatch = string(first) != string(genesis[:])
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND (e2.sequence IS NULL OR e1.prev_hash <> e2.state_hash)
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset, SUM(balance)::text
		FROM projections.balances
		GROUP BY asset
		HAVING SUM(balance) <> 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedAsset
		if err := balanceRows.Scan(&u.Asset, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	var last sql.NullInt64
	if err := qs.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&last); err != nil {
		return nil, err
	}
	if last.Valid {
		report.LastSequence = last.Int64
	}

	report.IsHealthy = !report.GenesisMismatch &&
		len(report.HashChainBreaks) == 0 &&
		len(report.UnbalancedAssets) == 0
	return report, nil
}

// Ping checks database connectivity for readiness probes.
func (qs *QueryService) Ping(ctx context.Context) error {
	return qs.db.PingContext(ctx)
}

// --- helpers ---

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE projection_name = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

// getProjectedBalance reads a user account balance. User balances are never
// negative, so the NUMERIC text parses as an unsigned decimal.
func (qs *QueryService) getProjectedBalance(ctx context.Context, key ledger.AccountKey) (*uint256.Int, error) {
	var raw string
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance::text FROM projections.balances WHERE account_path = $1
	`, key.AccountPath()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}

	balance, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("balance %s: %w", key.AccountPath(), err)
	}
	return balance, nil
}

func (qs *QueryService) loadPosition(ctx context.Context, userID uuid.UUID) (*state.StakePosition, error) {
	var (
		stake, minted         string
		lastDeposit, lastMint int64
		version               int64
	)
	err := qs.db.QueryRowContext(ctx, `
		SELECT stake_balance::text, last_deposit, last_mint, total_minted::text, version
		FROM projections.stake_positions
		WHERE user_id = $1
	`, userID.String()).Scan(&stake, &lastDeposit, &lastMint, &minted, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return state.NewStakePosition(userID), nil
	}
	if err != nil {
		return nil, err
	}

	pos := &state.StakePosition{
		UserID:      userID,
		LastDeposit: uint64(lastDeposit),
		LastMint:    uint64(lastMint),
		Version:     version,
	}
	if pos.StakeBalance, err = uint256.FromDecimal(stake); err != nil {
		return nil, fmt.Errorf("stake balance %s: %w", userID, err)
	}
	if pos.TotalMinted, err = uint256.FromDecimal(minted); err != nil {
		return nil, fmt.Errorf("total minted %s: %w", userID, err)
	}
	return pos, nil
}
