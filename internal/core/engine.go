package core

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"StakeLedger/internal/event"
	"StakeLedger/internal/ledger"
	fpmath "StakeLedger/internal/math"
	"StakeLedger/internal/observability"
	"StakeLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	// ErrEventRejected wraps domain failures (lock period, balances,
	// timestamps, arithmetic overflow). Rejected events still consume a
	// sequence and are written to the log with an empty batch.
	ErrEventRejected = errors.New("event rejected")

	// ErrStateHashMismatch means replay diverged from the recorded chain.
	ErrStateHashMismatch = errors.New("state hash mismatch")

	ErrNegativeTimestamp = errors.New("negative event timestamp")
)

// DeterministicCore is the single-threaded event processor
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	stakeManager      *state.StakeManager
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte

	// Position after a stake event (a copy); nil for wallet events and rejections
	Position *state.StakePosition

	// Reward realized by this event; zero when nothing accrued
	Minted *uint256.Int

	// Rejection reason; empty for applied events
	Rejection string

	// Stable label for Rejection, see RejectionReason
	Reason string
}

// dispatchResult is what an event handler produces before it is applied.
type dispatchResult struct {
	batch    *ledger.Batch
	position *state.StakePosition
	minted   *uint256.Int
}

func NewDeterministicCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	lruCapacity int,
	metrics *observability.Metrics,
) *DeterministicCore {
	balanceTracker := ledger.NewBalanceTracker()

	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        ledger.NewJournalGenerator(balanceTracker),
		validator:         ledger.NewInvariantValidator(balanceTracker),
		stakeManager:      state.NewStakeManager(),
		idempotency:       NewIdempotencyChecker(lruCapacity, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessEvent is the main processing pipeline.
//
// Duplicates return nil without side effects. Sequence errors return an error
// and consume nothing. Domain rejections are logged and emitted like applied
// events, then reported as an error wrapping ErrEventRejected and the cause.
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate, tier := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation
	if err := c.sequenceValidator.ValidateSequence(evt.Partition(), evt.SourceSequence(), isDuplicate); err != nil {
		c.recordSequenceError(eventType, evt.Partition(), err)
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
			c.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
		}
		return nil
	}

	// Steps 3-8: dispatch, validate, apply, hash
	res, err := c.apply(evt)
	if err != nil {
		return err
	}
	output, rejected := res.output, res.rejected

	// Step 9: Emit outputs
	// Persist channel blocks (backpressure); projection channel drops when full.
	c.persistChan <- output

	select {
	case c.projectionChan <- output:
	default:
		// Projection will catch up via rebuild
		if c.metrics != nil {
			c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
		}
	}

	// Step 10: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	c.recordOutcome(eventType, output, rejected, start)

	if rejected != nil {
		return fmt.Errorf("%w: %w", ErrEventRejected, rejected)
	}
	return nil
}

// ReplayEvent re-applies a logged envelope during recovery and returns the
// recomputed output without emitting it. The recomputed state hash must match
// the recorded one.
func (c *DeterministicCore) ReplayEvent(env *event.EventEnvelope) (CoreOutput, error) {
	if env.Sequence != c.sequence {
		return CoreOutput{}, fmt.Errorf("replay out of order: expected sequence %d, got %d", c.sequence, env.Sequence)
	}

	evt, err := event.Decode(env.EventType.String(), env.Payload)
	if err != nil {
		return CoreOutput{}, fmt.Errorf("decode seq %d: %w", env.Sequence, err)
	}

	if err := c.sequenceValidator.ValidateSequence(evt.Partition(), evt.SourceSequence(), false); err != nil {
		return CoreOutput{}, fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}

	res, err := c.apply(evt)
	if err != nil {
		return CoreOutput{}, fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}

	if computed := res.output.Envelope.StateHash; computed != env.StateHash {
		return CoreOutput{}, fmt.Errorf("%w at sequence %d: recorded %x, computed %x",
			ErrStateHashMismatch, env.Sequence, env.StateHash, computed)
	}

	c.idempotency.MarkProcessed(evt.EventType().String(), evt.IdempotencyKey())
	return res.output, nil
}

// applied is the result of one pass through the pipeline. rejected holds the
// domain failure for rejected events.
type applied struct {
	output   CoreOutput
	rejected error
}

// apply runs dispatch through hashing and advances the sequence. A returned
// error is structural: nothing was consumed.
func (c *DeterministicCore) apply(evt event.Event) (applied, error) {
	seq := c.sequence
	idempotencyKey := evt.IdempotencyKey()
	timestamp := evt.EventTime()

	payload, err := event.Encode(evt)
	if err != nil {
		return applied{}, fmt.Errorf("encode payload: %w", err)
	}

	// Step 3: Event dispatch
	result, rejected := c.dispatchEvent(evt, seq)
	if rejected != nil {
		if errors.Is(rejected, event.ErrUnknownEventType) {
			return applied{}, fmt.Errorf("dispatch failed: %w", rejected)
		}
		result = &dispatchResult{
			batch: ledger.EmptyBatch(idempotencyKey, seq, timestamp.Unix()),
		}
	}

	batch := result.batch

	// Steps 4-5: Validate and apply. Rejections carry an empty batch.
	if len(batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}

		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			return applied{}, fmt.Errorf("apply batch failed: %w", err)
		}
	}

	if result.position != nil {
		c.stakeManager.Commit(result.position)
	}

	// Step 6: Post-checks
	if rejected == nil {
		if err := c.postCheckInvariants(evt); err != nil {
			panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
		}
	}

	// Steps 7-8: State digest and hash chain
	stateDigest := c.computeStateDigest(batch, result.position)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(seq, stateDigest)

	envelope := &event.EventEnvelope{
		Sequence:       seq,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Partition:      evt.Partition(),
		Timestamp:      timestamp,
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		StateDelta: stateDigest,
		Minted:     new(uint256.Int),
	}
	if result.position != nil {
		output.Position = result.position.Clone()
	}
	if result.minted != nil {
		output.Minted.Set(result.minted)
	}
	if rejected != nil {
		output.Rejection = rejected.Error()
		output.Reason = RejectionReason(rejected)
	}

	c.sequence++
	return applied{output: output, rejected: rejected}, nil
}

func (c *DeterministicCore) dispatchEvent(evt event.Event, seq int64) (*dispatchResult, error) {
	switch e := evt.(type) {
	case *event.WalletFunded:
		return c.handleWalletFunded(e, seq)
	case *event.StakeDepositRequested:
		return c.handleStakeDeposit(e, seq)
	case *event.StakeWithdrawRequested:
		return c.handleStakeWithdraw(e, seq)
	default:
		return nil, fmt.Errorf("%w: %T", event.ErrUnknownEventType, evt)
	}
}

func (c *DeterministicCore) handleWalletFunded(evt *event.WalletFunded, seq int64) (*dispatchResult, error) {
	batch, err := c.journalGen.GenerateWalletFund(evt, seq)
	if err != nil {
		return nil, err
	}
	return &dispatchResult{batch: batch}, nil
}

// handleStakeDeposit realizes pending reward, moves the stake and restarts the
// lock. The transition is computed first and committed only after the batch
// has been generated, so a failed wallet pre-check leaves the position intact.
func (c *DeterministicCore) handleStakeDeposit(evt *event.StakeDepositRequested, seq int64) (*dispatchResult, error) {
	now, err := eventSeconds(evt.Timestamp)
	if err != nil {
		return nil, err
	}

	pos := c.stakeManager.GetOrEmpty(evt.UserID)
	next, minted, err := state.Deposit(pos, evt.Amount, now)
	if err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateStakeLock(ledger.StakeMovement{
		UserID:    evt.UserID,
		EventRef:  evt.IdempotencyKey(),
		Amount:    evt.Amount,
		Minted:    minted,
		Timestamp: int64(now),
	}, seq)
	if err != nil {
		return nil, err
	}

	return &dispatchResult{batch: batch, position: next, minted: minted}, nil
}

func (c *DeterministicCore) handleStakeWithdraw(evt *event.StakeWithdrawRequested, seq int64) (*dispatchResult, error) {
	now, err := eventSeconds(evt.Timestamp)
	if err != nil {
		return nil, err
	}

	pos := c.stakeManager.GetOrEmpty(evt.UserID)
	next, minted, err := state.Withdraw(pos, evt.Amount, now)
	if err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateStakeUnlock(ledger.StakeMovement{
		UserID:    evt.UserID,
		EventRef:  evt.IdempotencyKey(),
		Amount:    evt.Amount,
		Minted:    minted,
		Timestamp: int64(now),
	}, seq)
	if err != nil {
		return nil, err
	}

	return &dispatchResult{batch: batch, position: next, minted: minted}, nil
}

// eventSeconds converts a versioned event timestamp to authoritative seconds.
// The core MUST NOT call time.Now().
func eventSeconds(t time.Time) (uint64, error) {
	s := t.Unix()
	if s < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeTimestamp, s)
	}
	return uint64(s), nil
}

// computeStateDigest creates canonical bytes for the state hash: every account
// touched by the batch with its new balance, then the stake position if one
// changed.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch, pos *state.StakePosition) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*96+128)

	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)

		balance := c.balanceTracker.GetBalance(key).Bytes32()
		digest = append(digest, balance[:]...)
	}

	if pos != nil {
		digest = append(digest, pos.CanonicalBytes()...)
	}

	return digest
}

// postCheckInvariants validates invariants after batch application
func (c *DeterministicCore) postCheckInvariants(evt event.Event) error {
	var userID uuid.UUID
	stakeEvent := false

	switch e := evt.(type) {
	case *event.WalletFunded:
		userID = e.UserID
	case *event.StakeDepositRequested:
		userID, stakeEvent = e.UserID, true
	case *event.StakeWithdrawRequested:
		userID, stakeEvent = e.UserID, true
	}

	if err := c.validator.ValidateUserNonNegative(userID); err != nil {
		return fmt.Errorf("post-check user balances: %w", err)
	}

	if stakeEvent {
		pos := c.stakeManager.GetOrEmpty(userID)
		if err := c.validator.ValidateStakedMatches(userID, pos.StakeBalance); err != nil {
			return fmt.Errorf("post-check stake: %w", err)
		}
	}

	// Periodic zero-sum check
	if c.sequence > 0 && c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("post-check global balance at seq %d: %w", c.sequence, err)
		}
	}

	return nil
}

func (c *DeterministicCore) recordSequenceError(eventType, partition string, err error) {
	if c.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, ErrSequenceGap):
		c.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, "sequence_gap").Inc()
	case errors.Is(err, ErrOutOfOrder):
		c.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, "out_of_order").Inc()
	}
}

func (c *DeterministicCore) recordOutcome(eventType string, output CoreOutput, rejected error, start time.Time) {
	if c.metrics == nil {
		return
	}

	if rejected != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, RejectionReason(rejected)).Inc()
	} else {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		for _, j := range output.Batch.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
		if !output.Minted.IsZero() {
			c.metrics.RewardsMinted.Add(fpmath.ToFloat(output.Minted, fpmath.Wad))
		}
	}

	c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	c.metrics.CoreSequence.Set(float64(c.sequence))
}

// RejectionReason maps a rejection cause to a stable metric/API label.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, state.ErrMinStakeDurationNotElapsed):
		return "min_stake_duration"
	case errors.Is(err, state.ErrInsufficientStakeBalance):
		return "insufficient_stake"
	case errors.Is(err, ledger.ErrInsufficientWalletBalance):
		return "insufficient_wallet"
	case errors.Is(err, state.ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, state.ErrTimestampRegression), errors.Is(err, ErrNegativeTimestamp):
		return "timestamp"
	case errors.Is(err, fpmath.ErrOverflow), errors.Is(err, fpmath.ErrDivisionByZero),
		errors.Is(err, ledger.ErrAmountOutOfRange):
		return "arithmetic"
	default:
		return "other"
	}
}

// PublishGauges refreshes gauges that need a scan of core state. Call it from
// the goroutine that owns the core.
func (c *DeterministicCore) PublishGauges() {
	if c.metrics == nil {
		return
	}
	c.metrics.StakedPositions.Set(float64(c.stakeManager.StakedCount()))
	c.metrics.TotalStaked.Set(fpmath.ToFloat(c.stakeManager.TotalStaked(), fpmath.Wad))
	c.metrics.DedupLRUSize.Set(float64(c.idempotency.lru.Size()))
	c.metrics.DedupLRUEvictions.Set(float64(c.idempotency.lru.Evictions()))
}

// --- Read accessors (owning goroutine only) ---

// GetPosition returns a copy of a user's stake position, or nil.
func (c *DeterministicCore) GetPosition(userID uuid.UUID) *state.StakePosition {
	pos := c.stakeManager.GetPosition(userID)
	if pos == nil {
		return nil
	}
	return pos.Clone()
}

// GetBalance returns the balance of a ledger account.
func (c *DeterministicCore) GetBalance(key ledger.AccountKey) *uint256.Int {
	return c.balanceTracker.GetBalance(key)
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64 // last processed sequence
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]*uint256.Int
	Positions       []*state.StakePosition
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// Events after snap.Sequence are replayed with ReplayEvent afterwards.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1

	c.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}

	for _, pos := range snap.Positions {
		c.stakeManager.SetPosition(pos.Clone())
	}

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}

	c.WarmLRU(snap.IdempotencyKeys)
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the next global sequence to assign.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	positions := c.stakeManager.GetAllPositions()
	copies := make([]*state.StakePosition, 0, len(positions))
	for _, pos := range positions {
		copies = append(copies, pos.Clone())
	}

	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		Positions:       copies,
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}
