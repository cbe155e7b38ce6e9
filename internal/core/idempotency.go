package core

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// IdempotencyChecker implements two-tier deduplication
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	// Metrics
	metrics *IdempotencyMetrics
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   NewIdempotencyMetrics(),
	}
}

func compositeKey(eventType, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s", eventType, idempotencyKey)
}

// Dedup tiers reported by IsDuplicate.
const (
	TierLRU      = "lru"
	TierPostgres = "postgres"
)

// IsDuplicate checks if event has been processed (two-tier lookup) and
// reports which tier matched.
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) (bool, string) {
	key := compositeKey(eventType, idempotencyKey)

	// Tier 1: LRU check (hot path)
	if ic.lru.Contains(key) {
		ic.metrics.RecordDuplicate(eventType, TierLRU)
		return true, TierLRU
	}

	// Tier 2: Postgres check (cold path)
	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
		if err != nil {
			// Assume not duplicate; a DB outage must not stall ingestion
			ic.metrics.RecordTier2Error()
			return false, ""
		}

		if isDup {
			ic.metrics.RecordDuplicate(eventType, TierPostgres)
			ic.lru.Add(key)
			return true, TierPostgres
		}
	}

	return false, ""
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	ic.lru.Add(compositeKey(eventType, idempotencyKey))
}

// GetMetrics returns metrics for monitoring
func (ic *IdempotencyChecker) GetMetrics() *IdempotencyMetrics {
	return ic.metrics
}

// --- LRU ---

// IdempotencyLRU is a bounded set of recently processed composite keys.
type IdempotencyLRU struct {
	cache     *lru.Cache
	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	l := &IdempotencyLRU{}
	cache, err := lru.NewWithEvict(capacity, func(key, value interface{}) {
		l.evictions++
	})
	if err != nil {
		panic(fmt.Sprintf("FATAL: create idempotency LRU: %v", err))
	}
	l.cache = cache
	return l
}

// Contains checks if key exists (promotes to most recently used)
func (l *IdempotencyLRU) Contains(key string) bool {
	_, ok := l.cache.Get(key)
	return ok
}

// Add inserts a key (or promotes if exists)
func (l *IdempotencyLRU) Add(key string) {
	l.cache.Add(key, struct{}{})
}

// WarmFromKeys loads a batch of composite keys into the LRU.
// On restart the keys come from the latest snapshot, so recently processed
// events never fall through to the Postgres tier.
func (l *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		if l.cache.Contains(key) {
			continue
		}
		l.cache.Add(key, struct{}{})
	}
}

// GetAllKeys returns keys from oldest to newest.
func (l *IdempotencyLRU) GetAllKeys() []string {
	raw := l.cache.Keys()
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k.(string))
	}
	return keys
}

// Size returns current number of entries
func (l *IdempotencyLRU) Size() int {
	return l.cache.Len()
}

// Evictions returns total evictions (for metrics)
func (l *IdempotencyLRU) Evictions() int64 {
	return l.evictions
}

// --- Metrics ---

// IdempotencyMetrics tracks dedup stats.
// Not thread-safe; only accessed from the single-threaded deterministic core.
type IdempotencyMetrics struct {
	duplicatesLRU      map[string]int64 // event_type -> count
	duplicatesPostgres map[string]int64
	tier2Errors        int64
}

func NewIdempotencyMetrics() *IdempotencyMetrics {
	return &IdempotencyMetrics{
		duplicatesLRU:      make(map[string]int64),
		duplicatesPostgres: make(map[string]int64),
	}
}

func (m *IdempotencyMetrics) RecordDuplicate(eventType string, tier string) {
	if tier == TierLRU {
		m.duplicatesLRU[eventType]++
	} else {
		m.duplicatesPostgres[eventType]++
	}
}

func (m *IdempotencyMetrics) RecordTier2Error() {
	m.tier2Errors++
}

func (m *IdempotencyMetrics) GetDuplicates(eventType string) (lru int64, postgres int64) {
	return m.duplicatesLRU[eventType], m.duplicatesPostgres[eventType]
}

func (m *IdempotencyMetrics) GetTier2Errors() int64 {
	return m.tier2Errors
}
