package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"StakeLedger/internal/event"
	"StakeLedger/internal/ledger"
	"StakeLedger/internal/observability"
	"StakeLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

const watermarkName = "main"

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges core outputs into it with NewProjectionOutput.
type ProjectionOutput struct {
	Sequence       int64
	EventType      string
	JournalEntries []JournalEntry
	Position       *PositionRow // nil unless a stake event was applied
	Minted         string       // decimal wad, "0" when nothing was realized
	Timestamp      int64
}

// JournalEntry is a simplified journal for projection consumption.
type JournalEntry struct {
	Debit  ledger.AccountKey
	Credit ledger.AccountKey
	Amount string // decimal
}

// PositionRow is a stake position as stored in projections.stake_positions.
type PositionRow struct {
	UserID       uuid.UUID
	StakeBalance string
	LastDeposit  uint64
	LastMint     uint64
	TotalMinted  string
	Version      int64
}

// NewProjectionOutput converts one core output. Rejections carry no journals
// and no position, so they only advance the watermark.
func NewProjectionOutput(env *event.EventEnvelope, batch *ledger.Batch, pos *state.StakePosition, minted *uint256.Int) ProjectionOutput {
	out := ProjectionOutput{
		Sequence:  env.Sequence,
		EventType: env.EventType.String(),
		Minted:    "0",
		Timestamp: env.Timestamp.Unix(),
	}

	if batch != nil {
		out.JournalEntries = make([]JournalEntry, 0, len(batch.Journals))
		for _, j := range batch.Journals {
			out.JournalEntries = append(out.JournalEntries, JournalEntry{
				Debit:  j.DebitAccount,
				Credit: j.CreditAccount,
				Amount: j.Amount.Dec(),
			})
		}
	}

	if pos != nil {
		out.Position = &PositionRow{
			UserID:       pos.UserID,
			StakeBalance: pos.StakeBalance.Dec(),
			LastDeposit:  pos.LastDeposit,
			LastMint:     pos.LastMint,
			TotalMinted:  pos.TotalMinted.Dec(),
			Version:      pos.Version,
		}
	}

	if minted != nil {
		out.Minted = minted.Dec()
	}

	return out
}

// ProjectionWorker updates projection tables from processed events.
// The projection channel drops on overflow; a lagging projection is repaired
// with RebuildProjections.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		lastSeq:   -1,
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if output.Sequence <= pw.lastSeq {
				continue
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				// Projections are eventually consistent and can be rebuilt
				pw.logger.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
				continue
			}

			pw.lastSeq = output.Sequence
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("all").Observe(time.Since(start).Seconds())
				pw.metrics.ProjectionLastSeq.Set(float64(output.Sequence))
			}
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := applyOutput(ctx, tx, output); err != nil {
		return err
	}
	if err := updateWatermark(ctx, tx, output.Sequence); err != nil {
		return err
	}

	return tx.Commit()
}

// applyOutput writes one output to every projection table.
func applyOutput(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	for _, j := range output.JournalEntries {
		if err := updateBalanceProjection(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if output.Position != nil {
		if err := upsertStakePosition(ctx, tx, output.Position, output.Sequence); err != nil {
			return fmt.Errorf("stake position projection: %w", err)
		}
	}

	if entry, ok := rewardEntryFor(output); ok {
		if err := insertRewardHistory(ctx, tx, entry); err != nil {
			return fmt.Errorf("reward history projection: %w", err)
		}
	}

	return nil
}

func updateWatermark(ctx context.Context, tx *sql.Tx, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection_name, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection_name) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, watermarkName, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}

// updateBalanceProjection applies one journal: debit increases, credit decreases.
func updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry, seq int64) error {
	if err := adjustBalance(ctx, tx, j.Debit, j.Amount, seq); err != nil {
		return err
	}
	return adjustBalance(ctx, tx, j.Credit, "-"+j.Amount, seq)
}

func adjustBalance(ctx context.Context, tx *sql.Tx, key ledger.AccountKey, delta string, seq int64) error {
	var userID interface{}
	if uid, ok := key.UserID(); ok {
		userID = uid.String()
	}
	asset, _ := ledger.GetAssetName(key.AssetID)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, user_id, asset, balance, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, NOW())
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $4::numeric, last_sequence = $5, updated_at = NOW()
	`, key.AccountPath(), userID, asset, delta, seq)
	return err
}

func upsertStakePosition(ctx context.Context, tx *sql.Tx, p *PositionRow, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.stake_positions
			(user_id, stake_balance, last_deposit, last_mint, total_minted, version, last_sequence, updated_at)
		VALUES ($1, $2::numeric, $3, $4, $5::numeric, $6, $7, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			stake_balance = EXCLUDED.stake_balance,
			last_deposit  = EXCLUDED.last_deposit,
			last_mint     = EXCLUDED.last_mint,
			total_minted  = EXCLUDED.total_minted,
			version       = EXCLUDED.version,
			last_sequence = EXCLUDED.last_sequence,
			updated_at    = NOW()
	`, p.UserID.String(), p.StakeBalance, int64(p.LastDeposit), int64(p.LastMint), p.TotalMinted, p.Version, seq)
	return err
}
