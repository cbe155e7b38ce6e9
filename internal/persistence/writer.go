package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"StakeLedger/internal/event"
	"StakeLedger/internal/ledger"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventLogWriter writes events and journals to Postgres using multi-row INSERT.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Partition      string
	Payload        []byte // wire JSON of the event, decoded again on replay
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
	Rejection      sql.NullString
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        string // NUMERIC(78,0)
	JournalType   int32
	Timestamp     int64
}

// CoreOutput is the persistence view of one core output.
// The orchestrator bridges core outputs into it with NewCoreOutput.
type CoreOutput struct {
	EventRow    EventRow
	JournalRows []JournalRow
}

// NewCoreOutput converts an envelope and its batch into rows.
func NewCoreOutput(env *event.EventEnvelope, batch *ledger.Batch, rejection string) CoreOutput {
	row := EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Partition:      env.Partition,
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp.UTC(),
		SourceSequence: env.SourceSequence,
	}
	if rejection != "" {
		row.Rejection = sql.NullString{String: rejection, Valid: true}
	}

	var journals []JournalRow
	if batch != nil {
		journals = make([]JournalRow, 0, len(batch.Journals))
		for _, j := range batch.Journals {
			journals = append(journals, JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				EventRef:      j.EventRef,
				Sequence:      j.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				AssetID:       uint16(j.AssetID),
				Amount:        j.Amount.Dec(),
				JournalType:   int32(j.JournalType),
				Timestamp:     j.Timestamp,
			})
		}
	}

	return CoreOutput{EventRow: row, JournalRows: journals}
}

// Envelope rebuilds the envelope recorded in this row, for replay.
func (e EventRow) Envelope() (*event.EventEnvelope, error) {
	eventType := event.ParseEventType(e.EventType)
	if eventType == event.EventTypeUnknown {
		return nil, fmt.Errorf("event %d: %w: %s", e.Sequence, event.ErrUnknownEventType, e.EventType)
	}
	if len(e.StateHash) != 32 || len(e.PrevHash) != 32 {
		return nil, fmt.Errorf("event %d: malformed hash column", e.Sequence)
	}

	env := &event.EventEnvelope{
		Sequence:       e.Sequence,
		IdempotencyKey: e.IdempotencyKey,
		EventType:      eventType,
		Partition:      e.Partition,
		Timestamp:      e.Timestamp,
		SourceSequence: e.SourceSequence,
		Payload:        e.Payload,
	}
	copy(env.StateHash[:], e.StateHash)
	copy(env.PrevHash[:], e.PrevHash)
	return env, nil
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes a batch of events to event_log.events using multi-row INSERT.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, events []EventRow, ex execer) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, partition_key, payload, state_hash, prev_hash, timestamp, source_sequence, rejection)
		VALUES `

	const cols = 10
	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*cols)

	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Partition,
			string(e.Payload), e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence, e.Rejection,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, journals []JournalRow, ex execer) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset_id, amount, journal_type, timestamp)
		VALUES `

	const cols = 10
	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*cols)

	for i, j := range journals {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.AssetID, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for k := 1; k <= n; k++ {
		if k > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+k)
	}
	b.WriteByte(')')
	return b.String()
}
